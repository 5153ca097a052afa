package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/coaching-cli/internal/pipeline"
)

var (
	runDryRun    bool
	runVerbose   bool
	runSubjectID string
	runCallID    string
	runLimit     int

	runSkipMeasure   bool
	runSkipReward    bool
	runSkipAggregate bool
	runSkipCompose   bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the learning pipeline over unscored calls",
	Long:  "Measures unscored calls, scores them against resolved targets, refreshes subject profiles, and recomposes guidance prompts. Exit status is non-zero when any item failed.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		opts := pipeline.Options{
			DryRun:        runDryRun,
			Verbose:       runVerbose,
			SubjectID:     runSubjectID,
			CallID:        runCallID,
			Limit:         runLimit,
			SkipMeasure:   runSkipMeasure,
			SkipReward:    runSkipReward,
			SkipAggregate: runSkipAggregate,
			SkipCompose:   runSkipCompose,
		}

		report, err := env.Pipeline.Run(ctx, opts)
		if err != nil {
			return eris.Wrap(err, "pipeline run")
		}

		env.Oracle.Usage().LogCost(cfg.Anthropic.Model, "run")

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return eris.Wrap(err, "encode report")
		}
		if runVerbose {
			fmt.Fprint(os.Stderr, report.Summary())
		}

		if !report.OK() {
			return eris.Errorf("run finished with %d errors", len(report.Errors))
		}
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "report what would run without mutating the store")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "verbose stage output")
	runCmd.Flags().StringVar(&runSubjectID, "subject", "", "restrict the batch to one subject")
	runCmd.Flags().StringVar(&runCallID, "call", "", "process a single call")
	runCmd.Flags().IntVar(&runLimit, "limit", 0, "batch size limit (default from config)")
	runCmd.Flags().BoolVar(&runSkipMeasure, "skip-measure", false, "skip the measurement stage")
	runCmd.Flags().BoolVar(&runSkipReward, "skip-reward", false, "skip the reward stage")
	runCmd.Flags().BoolVar(&runSkipAggregate, "skip-aggregate", false, "skip profile aggregation")
	runCmd.Flags().BoolVar(&runSkipCompose, "skip-compose", false, "skip prompt composition")
	rootCmd.AddCommand(runCmd)
}
