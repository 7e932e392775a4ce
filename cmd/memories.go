package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/invoice-memory/internal/model"
)

var memoriesAll bool

var memoriesCmd = &cobra.Command{
	Use:   "memories",
	Short: "List learned memories",
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

		vendor, err := st.ListVendorMemories(ctx, !memoriesAll)
		if err != nil {
			return eris.Wrap(err, "list vendor memories")
		}
		corrections, err := st.ListCorrectionMemories(ctx, !memoriesAll)
		if err != nil {
			return eris.Wrap(err, "list correction memories")
		}

		out := struct {
			VendorMemories     []model.VendorMemory     `json:"vendor_memories"`
			CorrectionMemories []model.CorrectionMemory `json:"correction_memories"`
		}{vendor, corrections}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	memoriesCmd.Flags().BoolVar(&memoriesAll, "all", false, "include deactivated memories")
	rootCmd.AddCommand(memoriesCmd)
}
