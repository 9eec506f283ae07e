package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/funnel-cli/internal/importer"
	"github.com/sells-group/funnel-cli/internal/model"
	"github.com/sells-group/funnel-cli/internal/pipeline"
)

var (
	runOutput string
	runStages string
	runSheet  string
)

var runCmd = &cobra.Command{
	Use:   "run <leads.csv|leads.xlsx>",
	Short: "Run the enrichment funnel over a lead list",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		leads, err := readLeads(args[0])
		if err != nil {
			return err
		}
		zap.L().Info("leads imported", zap.String("file", args[0]), zap.Int("count", len(leads)))

		env, err := initPipeline(ctx, runStages)
		if err != nil {
			return err
		}
		defer env.Close()

		runID, err := env.Engine.SetInitialData(ctx, leads)
		if err != nil {
			return err
		}
		zap.L().Info("run created", zap.String("run", runID))

		return driveRun(ctx, env, runOutput)
	},
}

// readLeads dispatches on file extension.
func readLeads(path string) ([]model.Lead, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return importer.ReadCSV(path)
	case ".xlsx":
		return importer.ReadXLSX(path, runSheet)
	}
	return nil, eris.Errorf("unsupported file type %q, expected .csv or .xlsx", filepath.Ext(path))
}

// driveRun processes stages until the run completes, fails, or is cancelled.
// The first interrupt requests a cooperative cancel; the run then stops at
// the next safe point and everything learned so far is still exported.
func driveRun(ctx context.Context, env *pipelineEnv, outputPath string) error {
	unsub := env.Broker.LogSink()
	defer unsub()

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-sigCtx.Done()
		if ctx.Err() == nil {
			zap.L().Info("interrupt received, cancelling after current stage")
			env.Engine.Cancel()
		}
	}()

	runErr := env.Engine.Run(ctx)
	switch {
	case runErr == nil:
	case eris.Is(runErr, pipeline.ErrCancelled):
		zap.L().Warn("run cancelled")
	default:
		zap.L().Error("run halted", zap.Error(runErr))
	}

	state := env.Engine.State()
	if state == nil {
		return runErr
	}

	summary := env.Aggregator.Run(env.Engine.Stages(), state.StageAnalytics)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return eris.Wrap(err, "encode summary")
	}

	if outputPath != "" {
		if err := importer.ExportCSV(outputPath, state.Leads); err != nil {
			return err
		}
		zap.L().Info("results exported",
			zap.String("file", outputPath),
			zap.Int("leads", len(state.Leads)),
		)
	}

	return runErr
}

func init() {
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "", "write results CSV to this path")
	runCmd.Flags().StringVar(&runStages, "stages", "", "YAML stage plan (subset/reorder stages)")
	runCmd.Flags().StringVar(&runSheet, "sheet", "", "XLSX sheet name (default first sheet)")
	rootCmd.AddCommand(runCmd)
}
