// Package reward scores calls by comparing measured behavior against resolved
// targets and blending the result with call outcome signals.
package reward

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/coaching-cli/internal/config"
	"github.com/sells-group/coaching-cli/internal/model"
	"github.com/sells-group/coaching-cli/internal/store"
	"github.com/sells-group/coaching-cli/internal/targets"
)

// Scorer computes and persists per-call reward scores.
type Scorer struct {
	store     store.Store
	resolver  *targets.Resolver
	estimator SignalEstimator
	cfg       config.RewardConfig
}

// NewScorer wires the scorer. estimator may be nil, in which case calls
// without recorded outcome fields simply score on behavior alone.
func NewScorer(s store.Store, resolver *targets.Resolver, estimator SignalEstimator, cfg config.RewardConfig) *Scorer {
	return &Scorer{store: s, resolver: resolver, estimator: estimator, cfg: cfg}
}

// Score computes the reward for one call and replaces any prior score for it.
// The call must have at least one observation; zero overlap between targets
// and observations is valid and yields overall 0 with empty diffs.
func (s *Scorer) Score(ctx context.Context, callID string) (*model.RewardScore, error) {
	call, err := s.store.GetCall(ctx, callID)
	if err != nil {
		return nil, eris.Wrapf(err, "reward: load call %s", callID)
	}
	if call == nil {
		return nil, eris.Errorf("reward: call %s not found", callID)
	}

	subject, err := s.store.GetSubject(ctx, call.SubjectID)
	if err != nil {
		return nil, eris.Wrapf(err, "reward: load subject %s", call.SubjectID)
	}
	segmentID := ""
	if subject != nil {
		segmentID = subject.SegmentID
	}

	effective, err := s.resolver.Resolve(ctx, call.SubjectID, segmentID)
	if err != nil {
		return nil, eris.Wrapf(err, "reward: resolve targets for %s", call.SubjectID)
	}

	observations, err := s.store.ListObservationsByCall(ctx, callID)
	if err != nil {
		return nil, eris.Wrapf(err, "reward: list observations for call %s", callID)
	}
	if len(observations) == 0 {
		return nil, eris.Errorf("reward: call %s has no observations", callID)
	}

	diffs := computeDiffs(effective, observations, s.cfg.Tolerance)
	behavior := behaviorScore(diffs, effective)

	signals := callSignals(call)
	if signals.Empty() && s.estimator != nil {
		signals = s.estimator.Estimate(*call)
	}
	outcome := s.outcomeScore(signals)

	var overall float64
	switch {
	case len(diffs) == 0:
		// Nothing to reward yet.
		overall = 0
	case outcome == nil:
		overall = clampScore(round2(behavior * s.cfg.BehaviorWeight))
	default:
		overall = clampScore(round2(behavior*s.cfg.BehaviorWeight + *outcome*s.cfg.OutcomeWeight))
	}

	score := model.RewardScore{
		ID:            uuid.NewString(),
		CallID:        callID,
		SubjectID:     call.SubjectID,
		Overall:       overall,
		BehaviorScore: behavior,
		OutcomeScore:  outcome,
		Diffs:         diffs,
		Signals:       signals,
		ScoredAt:      time.Now().UTC(),
	}

	saved, err := s.store.ReplaceRewardScore(ctx, score)
	if err != nil {
		return nil, eris.Wrapf(err, "reward: persist score for call %s", callID)
	}

	zap.L().Info("call scored",
		zap.String("call", callID),
		zap.String("subject", call.SubjectID),
		zap.Float64("overall", saved.Overall),
		zap.Int("diffs", len(saved.Diffs)))
	return saved, nil
}

// computeDiffs pairs each observation with its resolved target. Parameters
// present in only one of the two sets are dropped.
func computeDiffs(effective map[string]model.EffectiveTarget, observations []model.Observation, tolerance float64) map[string]model.ParameterDiff {
	diffs := make(map[string]model.ParameterDiff)
	for _, obs := range observations {
		target, ok := effective[obs.ParameterID]
		if !ok {
			continue
		}
		diff := obs.Value - target.Value
		diffs[obs.ParameterID] = model.ParameterDiff{
			Target:          target.Value,
			Actual:          obs.Value,
			Diff:            diff,
			WithinTolerance: math.Abs(diff) <= tolerance,
		}
	}
	return diffs
}

// behaviorScore is the target-confidence-weighted mean of max(-1, 1-2|diff|).
// A zero diff scores 1; a diff of 0.5 or more scores at or below 0.
func behaviorScore(diffs map[string]model.ParameterDiff, effective map[string]model.EffectiveTarget) float64 {
	var weighted, weightSum float64
	for paramID, d := range diffs {
		w := effective[paramID].Confidence
		if w <= 0 {
			continue
		}
		weighted += w * math.Max(-1, 1-2*math.Abs(d.Diff))
		weightSum += w
	}
	if weightSum == 0 {
		// All targets carried zero confidence; fall back to an unweighted mean.
		if len(diffs) == 0 {
			return 0
		}
		var sum float64
		for _, d := range diffs {
			sum += math.Max(-1, 1-2*math.Abs(d.Diff))
		}
		return sum / float64(len(diffs))
	}
	return weighted / weightSum
}

// outcomeScore averages the available signals. Missing signals are excluded,
// never zero-valued; returns nil when no signal is present at all.
func (s *Scorer) outcomeScore(signals model.OutcomeSignals) *float64 {
	var sum float64
	var n int

	if signals.Resolved != nil {
		if *signals.Resolved {
			sum += s.cfg.ResolutionPositive
		} else {
			sum += s.cfg.ResolutionNegative
		}
		n++
	}
	if signals.SentimentDelta != nil {
		sum += clampTo(*signals.SentimentDelta, -0.5, 0.5)
		n++
	}
	if signals.Escalated != nil {
		if *signals.Escalated {
			sum += s.cfg.EscalationWeight
		}
		n++
	}

	if n == 0 {
		return nil
	}
	avg := sum / float64(n)
	return &avg
}

func callSignals(call *model.Call) model.OutcomeSignals {
	return model.OutcomeSignals{
		Resolved:       call.Resolved,
		SentimentDelta: call.SentimentDelta,
		Escalated:      call.Escalated,
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func clampScore(v float64) float64 {
	return clampTo(v, -1, 1)
}

func clampTo(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
