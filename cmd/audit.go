package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var auditInvoiceID string

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show the audit trail for an invoice",
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

		trail, err := st.AuditTrail(ctx, auditInvoiceID)
		if err != nil {
			return eris.Wrap(err, "load audit trail")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(trail)
	},
}

func init() {
	auditCmd.Flags().StringVar(&auditInvoiceID, "invoice-id", "", "invoice ID (required)")
	_ = auditCmd.MarkFlagRequired("invoice-id")
	rootCmd.AddCommand(auditCmd)
}
