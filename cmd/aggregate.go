package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var aggregateSubjectID string

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Rebuild a subject's decayed behavior profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		profile, err := env.Aggregator.Aggregate(ctx, aggregateSubjectID)
		if err != nil {
			return eris.Wrap(err, "aggregate profile")
		}
		if profile == nil {
			return eris.Errorf("subject %s has no observations and no prior profile", aggregateSubjectID)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(profile)
	},
}

func init() {
	aggregateCmd.Flags().StringVar(&aggregateSubjectID, "subject", "", "subject ID (required)")
	_ = aggregateCmd.MarkFlagRequired("subject")
	rootCmd.AddCommand(aggregateCmd)
}
