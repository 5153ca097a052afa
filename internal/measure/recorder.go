// Package measure records behavior observations for calls. It drives the
// scoring oracle per parameter, falls back to the deterministic heuristic when
// the oracle fails, and enforces the transcript quality gates.
package measure

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/coaching-cli/internal/config"
	"github.com/sells-group/coaching-cli/internal/model"
	"github.com/sells-group/coaching-cli/internal/oracle"
	"github.com/sells-group/coaching-cli/internal/store"
)

// Result reports what RecordMissing did for one call.
type Result struct {
	Observations []model.Observation
	// Skipped is set when the transcript fell below the absolute word floor
	// and nothing was recorded. Not an error: the call simply stays unscored.
	Skipped    bool
	SkipReason string
}

// Recorder measures calls against the parameter catalog.
type Recorder struct {
	store         store.Store
	primary       oracle.Oracle
	fallback      oracle.Oracle
	cfg           config.MeasureConfig
	maxConcurrent int
}

// NewRecorder wires the primary oracle and the heuristic fallback.
func NewRecorder(s store.Store, primary, fallback oracle.Oracle, cfg config.MeasureConfig, maxConcurrent int) *Recorder {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Recorder{store: s, primary: primary, fallback: fallback, cfg: cfg, maxConcurrent: maxConcurrent}
}

// RecordMissing scores every parameter that has no observation yet for the
// call and persists the results. Parameters already observed are left alone,
// so reprocessing a call is a no-op for them. Oracle calls for different
// parameters run concurrently; a failed parameter falls back to the heuristic
// rather than failing the call.
func (r *Recorder) RecordMissing(ctx context.Context, call model.Call, params []model.BehaviorParameter) (*Result, error) {
	words := oracle.WordCount(call.Transcript)
	if words < r.cfg.MinWords {
		zap.L().Info("transcript below word floor, skipping",
			zap.String("call", call.ID),
			zap.Int("words", words),
			zap.Int("min_words", r.cfg.MinWords))
		return &Result{Skipped: true, SkipReason: "transcript below minimum word count"}, nil
	}
	lowSignal := words < r.cfg.LowSignalWords

	existing, err := r.store.ListObservationsByCall(ctx, call.ID)
	if err != nil {
		return nil, eris.Wrapf(err, "measure: list observations for call %s", call.ID)
	}
	observed := make(map[string]bool, len(existing))
	for _, obs := range existing {
		observed[obs.ParameterID] = true
	}

	var missing []model.BehaviorParameter
	for _, p := range params {
		if !observed[p.ID] {
			missing = append(missing, p)
		}
	}
	if len(missing) == 0 {
		return &Result{}, nil
	}

	var mu sync.Mutex
	pending := make([]model.Observation, 0, len(missing))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.maxConcurrent)
	for _, param := range missing {
		g.Go(func() error {
			obs, err := r.scoreOne(gctx, call, param, lowSignal)
			if err != nil {
				return err
			}
			mu.Lock()
			pending = append(pending, obs)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &Result{Observations: make([]model.Observation, 0, len(pending))}
	for _, obs := range pending {
		created, err := r.store.CreateObservation(ctx, obs)
		if err != nil {
			return result, eris.Wrapf(err, "measure: persist observation %s/%s", call.ID, obs.ParameterID)
		}
		if created != nil {
			result.Observations = append(result.Observations, *created)
		}
	}

	zap.L().Info("call measured",
		zap.String("call", call.ID),
		zap.String("subject", call.SubjectID),
		zap.Int("recorded", len(result.Observations)),
		zap.Bool("low_signal", lowSignal))
	return result, nil
}

// scoreOne runs the primary oracle for one parameter and degrades to the
// heuristic on failure. Fallback confidence is capped, harder still when the
// transcript is low-signal.
func (r *Recorder) scoreOne(ctx context.Context, call model.Call, param model.BehaviorParameter, lowSignal bool) (model.Observation, error) {
	source := model.SourceOracle
	res, err := r.primary.Score(ctx, call.Transcript, param)
	if err != nil {
		if ctx.Err() != nil {
			return model.Observation{}, ctx.Err()
		}
		zap.L().Warn("oracle failed, using heuristic fallback",
			zap.String("call", call.ID),
			zap.String("parameter", param.ID),
			zap.Error(err))
		source = model.SourceHeuristic
		res, err = r.fallback.Score(ctx, call.Transcript, param)
		if err != nil {
			return model.Observation{}, eris.Wrapf(err, "measure: fallback score %s/%s", call.ID, param.ID)
		}
	}

	confidence := model.Clamp01(res.Confidence)
	if source == model.SourceHeuristic {
		limit := r.cfg.FallbackConfidenceCap
		if lowSignal {
			limit = r.cfg.LowSignalConfidenceCap
		}
		if confidence > limit {
			confidence = limit
		}
	} else if lowSignal && confidence > r.cfg.FallbackConfidenceCap {
		// A thin transcript cannot support high confidence no matter who
		// scored it.
		confidence = r.cfg.FallbackConfidenceCap
	}

	return model.Observation{
		ID:          uuid.NewString(),
		CallID:      call.ID,
		SubjectID:   call.SubjectID,
		ParameterID: param.ID,
		Value:       model.Clamp01(res.Value),
		Confidence:  confidence,
		Evidence:    res.Evidence,
		Source:      source,
		ObservedAt:  time.Now().UTC(),
	}, nil
}
