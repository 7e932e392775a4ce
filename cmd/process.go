package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/invoice-memory/internal/model"
)

var (
	processInvoicePath string
	processOrdersPath  string
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Process a single invoice through the pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, p, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		inv, err := model.LoadInvoice(processInvoicePath)
		if err != nil {
			return eris.Wrap(err, "load invoice")
		}

		var orders []model.PurchaseOrder
		if processOrdersPath != "" {
			orders, err = model.LoadPurchaseOrders(processOrdersPath)
			if err != nil {
				return eris.Wrap(err, "load purchase orders")
			}
		}

		result, err := p.Process(ctx, inv, orders)
		if err != nil {
			return eris.Wrap(err, "process invoice")
		}

		zap.L().Info("processing complete",
			zap.String("invoice_id", result.InvoiceID),
			zap.Bool("requires_review", result.RequiresHumanReview),
			zap.Float64("confidence", result.Confidence),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	processCmd.Flags().StringVar(&processInvoicePath, "invoice", "", "invoice YAML file (required)")
	processCmd.Flags().StringVar(&processOrdersPath, "orders", "", "purchase orders YAML file")
	_ = processCmd.MarkFlagRequired("invoice")
	rootCmd.AddCommand(processCmd)
}
