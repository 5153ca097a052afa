package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/coaching-cli/internal/model"
)

var measureCallID string

var measureCmd = &cobra.Command{
	Use:   "measure",
	Short: "Record missing observations for a single call",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		call, err := env.Store.GetCall(ctx, measureCallID)
		if err != nil {
			return eris.Wrap(err, "load call")
		}
		if call == nil {
			return eris.Errorf("call %s not found", measureCallID)
		}

		params, err := env.Store.ListParameters(ctx)
		if err != nil {
			return eris.Wrap(err, "list parameters")
		}

		res, err := env.Recorder.RecordMissing(ctx, *call, params)
		if err != nil {
			return eris.Wrap(err, "record observations")
		}
		env.Oracle.Usage().LogCost(cfg.Anthropic.Model, "measure")

		if res.Skipped {
			zap.L().Warn("call skipped", zap.String("reason", res.SkipReason))
			return nil
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			CallID       string              `json:"call_id"`
			Observations []model.Observation `json:"observations"`
		}{CallID: call.ID, Observations: res.Observations})
	},
}

func init() {
	measureCmd.Flags().StringVar(&measureCallID, "call", "", "call ID (required)")
	_ = measureCmd.MarkFlagRequired("call")
	rootCmd.AddCommand(measureCmd)
}
