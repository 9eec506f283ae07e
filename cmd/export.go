package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/funnel-cli/internal/importer"
	"github.com/sells-group/funnel-cli/internal/store"
)

var (
	exportOutput     string
	exportActiveOnly bool
)

var exportCmd = &cobra.Command{
	Use:   "export <run-id>",
	Short: "Export a run's results to CSV",
	Long:  "Exports whatever the run has produced so far, including runs that were cancelled or halted mid-pipeline.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := store.NewSQLite(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		state, err := st.LoadSnapshot(ctx, args[0])
		if err != nil {
			return err
		}
		if state == nil {
			return eris.Errorf("no snapshot for run %s", args[0])
		}

		leads := state.Leads
		if exportActiveOnly {
			leads = importer.ActiveOnly(leads)
		}
		if err := importer.ExportCSV(exportOutput, leads); err != nil {
			return err
		}

		zap.L().Info("results exported",
			zap.String("run", state.RunID),
			zap.String("file", exportOutput),
			zap.Int("leads", len(leads)),
			zap.Bool("complete", state.ProcessingComplete),
		)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "results.csv", "output CSV path")
	exportCmd.Flags().BoolVar(&exportActiveOnly, "active-only", false, "export only leads that passed every filter")
	rootCmd.AddCommand(exportCmd)
}
