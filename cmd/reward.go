package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var rewardCallID string

var rewardCmd = &cobra.Command{
	Use:   "reward",
	Short: "Compute the reward score for a single call",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		score, err := env.Scorer.Score(ctx, rewardCallID)
		if err != nil {
			return eris.Wrap(err, "score call")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(score)
	},
}

func init() {
	rewardCmd.Flags().StringVar(&rewardCallID, "call", "", "call ID (required)")
	_ = rewardCmd.MarkFlagRequired("call")
	rootCmd.AddCommand(rewardCmd)
}
