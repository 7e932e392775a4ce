package main

import (
	"context"
	"os/signal"
	"path/filepath"
	"sort"
	"sync/atomic"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/invoice-memory/internal/model"
)

var (
	batchDir        string
	batchOrdersPath string
	batchLimit      int
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Process a directory of invoice files",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, p, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		paths, err := invoicePaths(batchDir)
		if err != nil {
			return err
		}

		var orders []model.PurchaseOrder
		if batchOrdersPath != "" {
			orders, err = model.LoadPurchaseOrders(batchOrdersPath)
			if err != nil {
				return eris.Wrap(err, "load purchase orders")
			}
		}

		return processBatch(ctx, paths, batchLimit, cfg.Batch.MaxConcurrentInvoices, func(ctx context.Context, inv *model.Invoice) (*model.ProcessingResult, error) {
			return p.Process(ctx, inv, orders)
		})
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchDir, "dir", "", "directory of invoice YAML files (required)")
	batchCmd.Flags().StringVar(&batchOrdersPath, "orders", "", "purchase orders YAML file")
	batchCmd.Flags().IntVar(&batchLimit, "limit", 0, "max number of invoices to process (0 = all)")
	_ = batchCmd.MarkFlagRequired("dir")
	rootCmd.AddCommand(batchCmd)
}

func invoicePaths(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, eris.Wrap(err, "glob invoice dir")
	}
	more, err := filepath.Glob(filepath.Join(dir, "*.yml"))
	if err != nil {
		return nil, eris.Wrap(err, "glob invoice dir")
	}
	matches = append(matches, more...)
	sort.Strings(matches)
	return matches, nil
}

// processFunc is the callback signature for processing one invoice.
type processFunc func(ctx context.Context, inv *model.Invoice) (*model.ProcessingResult, error)

// processBatch applies limit, then processes invoices concurrently.
// Individual failures are logged and counted without aborting the batch.
func processBatch(ctx context.Context, paths []string, limit, concurrency int, process processFunc) error {
	if len(paths) == 0 {
		zap.L().Info("no invoice files found")
		return nil
	}

	if limit > 0 && len(paths) > limit {
		paths = paths[:limit]
	}

	zap.L().Info("processing batch",
		zap.Int("invoices", len(paths)),
		zap.Int("concurrency", concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var succeeded, failed, flaggedForReview atomic.Int64

	for _, path := range paths {
		path := path
		g.Go(func() error {
			log := zap.L().With(zap.String("file", path))

			inv, err := model.LoadInvoice(path)
			if err != nil {
				failed.Add(1)
				log.Error("load invoice failed", zap.Error(err))
				return nil
			}

			result, err := process(gctx, inv)
			if err != nil {
				failed.Add(1)
				log.Error("processing failed", zap.Error(err))
				return nil // don't abort batch on individual failure
			}

			succeeded.Add(1)
			if result.RequiresHumanReview {
				flaggedForReview.Add(1)
			}
			log.Info("processing complete",
				zap.String("invoice_id", result.InvoiceID),
				zap.Bool("requires_review", result.RequiresHumanReview),
				zap.Float64("confidence", result.Confidence),
			)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return eris.Wrap(err, "batch processing")
	}

	zap.L().Info("batch complete",
		zap.Int64("succeeded", succeeded.Load()),
		zap.Int64("failed", failed.Load()),
		zap.Int64("flagged_for_review", flaggedForReview.Load()),
	)
	return nil
}
