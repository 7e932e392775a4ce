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
	feedbackPath        string
	feedbackInvoicePath string
)

var feedbackCmd = &cobra.Command{
	Use:   "feedback",
	Short: "Apply human feedback to the memory store",
	Long:  "Runs the learn stage for one feedback event. The invoice file is required because feedback arrives in a separate invocation from processing.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, p, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		fb, err := model.LoadFeedback(feedbackPath)
		if err != nil {
			return eris.Wrap(err, "load feedback")
		}
		inv, err := model.LoadInvoice(feedbackInvoicePath)
		if err != nil {
			return eris.Wrap(err, "load invoice")
		}

		result, err := p.Feedback(ctx, fb, inv)
		if err != nil {
			return eris.Wrap(err, "apply feedback")
		}

		zap.L().Info("feedback applied",
			zap.String("invoice_id", fb.InvoiceID),
			zap.String("action", string(fb.Action)),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	feedbackCmd.Flags().StringVar(&feedbackPath, "feedback", "", "feedback YAML file (required)")
	feedbackCmd.Flags().StringVar(&feedbackInvoicePath, "invoice", "", "invoice YAML file (required)")
	_ = feedbackCmd.MarkFlagRequired("feedback")
	_ = feedbackCmd.MarkFlagRequired("invoice")
	rootCmd.AddCommand(feedbackCmd)
}
