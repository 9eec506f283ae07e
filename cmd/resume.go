package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/funnel-cli/internal/model"
)

var (
	resumeOutput string
	resumeStages string
)

var resumeCmd = &cobra.Command{
	Use:   "resume <run-id>",
	Short: "Resume a persisted run from its last snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx, resumeStages)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Engine.Resume(ctx, args[0]); err != nil {
			return err
		}

		state := env.Engine.State()
		zap.L().Info("run resumed",
			zap.String("run", state.RunID),
			zap.Int("stage", state.CurrentStageIndex),
			zap.Int("leads", len(state.Leads)),
		)

		// A run halted on a stage failure or cancellation re-enters that stage.
		if state.FatalError != "" || stageHalted(state) {
			if err := env.Engine.RetryCurrentStage(ctx); err != nil {
				return err
			}
		}

		return driveRun(ctx, env, resumeOutput)
	},
}

func stageHalted(state *model.RunState) bool {
	if state.ProcessingComplete {
		return false
	}
	for _, status := range state.StageStatuses {
		if status.State == model.StageStateError || status.State == model.StageStateCancelled {
			return true
		}
	}
	return false
}

func init() {
	resumeCmd.Flags().StringVarP(&resumeOutput, "output", "o", "", "write results CSV to this path")
	resumeCmd.Flags().StringVar(&resumeStages, "stages", "", "YAML stage plan (must match the original run)")
	rootCmd.AddCommand(resumeCmd)
}
