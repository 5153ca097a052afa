package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/coaching-cli/internal/model"
)

var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "Inspect and set behavior targets",
}

var targetsResolveSubject string

var targetsResolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Show the effective target set for a subject",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		subject, err := env.Store.GetSubject(ctx, targetsResolveSubject)
		if err != nil {
			return eris.Wrap(err, "load subject")
		}
		segmentID := ""
		if subject != nil {
			segmentID = subject.SegmentID
		}

		effective, err := env.Resolver.Resolve(ctx, targetsResolveSubject, segmentID)
		if err != nil {
			return eris.Wrap(err, "resolve targets")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(effective)
	},
}

var (
	targetSetParameter  string
	targetSetScope      string
	targetSetScopeKey   string
	targetSetValue      float64
	targetSetConfidence float64
	targetSetSource     string
)

var targetsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Create a behavior target, superseding the active one at the same scope",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		scope := model.TargetScope(targetSetScope)
		switch scope {
		case model.ScopeGlobal, model.ScopeSegment, model.ScopeSubject:
		default:
			return eris.Errorf("invalid scope %q (want global, segment, or subject)", targetSetScope)
		}
		if scope != model.ScopeGlobal && targetSetScopeKey == "" {
			return eris.Errorf("%s scope requires --scope-key", scope)
		}

		param, err := env.Store.GetParameter(ctx, targetSetParameter)
		if err != nil {
			return eris.Wrap(err, "load parameter")
		}
		if param == nil {
			return eris.Errorf("parameter %s not found", targetSetParameter)
		}

		created, err := env.Store.CreateTarget(ctx, model.BehaviorTarget{
			ParameterID:   targetSetParameter,
			Scope:         scope,
			ScopeKey:      targetSetScopeKey,
			Value:         model.Clamp01(targetSetValue),
			Confidence:    model.Clamp01(targetSetConfidence),
			Source:        targetSetSource,
			EffectiveFrom: time.Now().UTC(),
		})
		if err != nil {
			return eris.Wrap(err, "create target")
		}

		zap.L().Info("target set",
			zap.String("parameter", created.ParameterID),
			zap.String("scope", string(created.Scope)),
			zap.String("scope_key", created.ScopeKey),
			zap.Float64("value", created.Value))
		return nil
	},
}

func init() {
	targetsResolveCmd.Flags().StringVar(&targetsResolveSubject, "subject", "", "subject ID (required)")
	_ = targetsResolveCmd.MarkFlagRequired("subject")

	targetsSetCmd.Flags().StringVar(&targetSetParameter, "parameter", "", "parameter ID (required)")
	targetsSetCmd.Flags().StringVar(&targetSetScope, "scope", "global", "target scope: global, segment, or subject")
	targetsSetCmd.Flags().StringVar(&targetSetScopeKey, "scope-key", "", "segment or subject ID for non-global scopes")
	targetsSetCmd.Flags().Float64Var(&targetSetValue, "value", 0.5, "target value in [0,1]")
	targetsSetCmd.Flags().Float64Var(&targetSetConfidence, "confidence", 0.5, "target confidence in [0,1]")
	targetsSetCmd.Flags().StringVar(&targetSetSource, "source", "manual", "target provenance label")
	_ = targetsSetCmd.MarkFlagRequired("parameter")

	targetsCmd.AddCommand(targetsResolveCmd, targetsSetCmd)
	rootCmd.AddCommand(targetsCmd)
}
