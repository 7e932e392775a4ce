package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/invoice-memory/internal/confidence"
	"github.com/sells-group/invoice-memory/internal/model"
	"github.com/sells-group/invoice-memory/internal/store"
)

var sweepDryRun bool

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Decay unused memories and deactivate the ones that fell too low",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		decayed, deactivated, err := sweepMemories(ctx, st, cfg.Confidence, time.Now().UTC(), sweepDryRun)
		if err != nil {
			return err
		}

		zap.L().Info("sweep complete",
			zap.Int("decayed", decayed),
			zap.Int("deactivated", deactivated),
			zap.Bool("dry_run", sweepDryRun),
		)
		return nil
	},
}

func init() {
	sweepCmd.Flags().BoolVar(&sweepDryRun, "dry-run", false, "report without writing")
	rootCmd.AddCommand(sweepCmd)
}

// sweepMemories applies time decay to every active memory based on how
// long it has gone unused, deactivating any that fall below the recall
// floor. Returns how many memories were decayed and deactivated.
func sweepMemories(ctx context.Context, st store.Store, params confidence.Params, now time.Time, dryRun bool) (decayed, deactivated int, err error) {
	vendor, err := st.ListVendorMemories(ctx, true)
	if err != nil {
		return 0, 0, eris.Wrap(err, "sweep: list vendor memories")
	}
	for _, m := range vendor {
		changed, dropped, err := sweepOne(ctx, params, m.MemoryMeta, now, dryRun, func(ctx context.Context, upd store.MemoryUpdate) error {
			return st.UpdateVendorMemory(ctx, m.ID, upd)
		})
		if err != nil {
			return decayed, deactivated, err
		}
		if changed {
			decayed++
		}
		if dropped {
			deactivated++
		}
	}

	corrections, err := st.ListCorrectionMemories(ctx, true)
	if err != nil {
		return decayed, deactivated, eris.Wrap(err, "sweep: list correction memories")
	}
	for _, m := range corrections {
		changed, dropped, err := sweepOne(ctx, params, m.MemoryMeta, now, dryRun, func(ctx context.Context, upd store.MemoryUpdate) error {
			return st.UpdateCorrectionMemory(ctx, m.ID, upd)
		})
		if err != nil {
			return decayed, deactivated, err
		}
		if changed {
			decayed++
		}
		if dropped {
			deactivated++
		}
	}

	return decayed, deactivated, nil
}

func sweepOne(ctx context.Context, params confidence.Params, meta model.MemoryMeta, now time.Time, dryRun bool, write func(context.Context, store.MemoryUpdate) error) (changed, dropped bool, err error) {
	lastUsed := meta.LastUsedAt
	if lastUsed.IsZero() {
		lastUsed = meta.CreatedAt
	}
	days := now.Sub(lastUsed).Hours() / 24
	if days <= 0 {
		return false, false, nil
	}

	newConf := params.Decay(meta.Confidence, days)
	if newConf == meta.Confidence {
		return false, false, nil
	}

	upd := store.MemoryUpdate{Confidence: &newConf}
	if newConf < params.MinimumConfidence {
		active := false
		upd.Active = &active
		dropped = true
	}
	if !dryRun {
		if err := write(ctx, upd); err != nil {
			return false, false, eris.Wrap(err, "sweep: update memory")
		}
	}
	return true, dropped, nil
}
