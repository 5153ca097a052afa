package reward

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/coaching-cli/internal/config"
	"github.com/sells-group/coaching-cli/internal/model"
	"github.com/sells-group/coaching-cli/internal/store"
	"github.com/sells-group/coaching-cli/internal/targets"
)

func testRewardConfig() config.RewardConfig {
	return config.RewardConfig{
		Tolerance:          0.15,
		BehaviorWeight:     0.4,
		OutcomeWeight:      0.6,
		ResolutionPositive: 0.5,
		ResolutionNegative: -0.5,
		EscalationWeight:   -0.6,
	}
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

type fixture struct {
	st     store.Store
	scorer *Scorer
}

func newFixture(t *testing.T, estimator SignalEstimator) *fixture {
	t.Helper()
	st := newTestStore(t)
	resolver := targets.NewResolver(st)
	return &fixture{st: st, scorer: NewScorer(st, resolver, estimator, testRewardConfig())}
}

func (f *fixture) seedCall(t *testing.T, call model.Call) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.st.UpsertSubject(ctx, model.Subject{ID: call.SubjectID, Name: "Dana"}))
	require.NoError(t, f.st.CreateCall(ctx, call))
}

func (f *fixture) seedTarget(t *testing.T, param string, value, confidence float64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.st.UpsertParameter(ctx, model.BehaviorParameter{ID: param, Name: param, Definition: "d"}))
	_, err := f.st.CreateTarget(ctx, model.BehaviorTarget{
		ParameterID: param, Scope: model.ScopeGlobal, Value: value, Confidence: confidence,
	})
	require.NoError(t, err)
}

func (f *fixture) seedObservation(t *testing.T, callID, subjectID, param string, value, confidence float64) {
	t.Helper()
	_, err := f.st.CreateObservation(context.Background(), model.Observation{
		CallID: callID, SubjectID: subjectID, ParameterID: param,
		Value: value, Confidence: confidence, Source: model.SourceOracle,
		ObservedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
}

func TestScore_ZeroDiffBehaviorIsOne(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.seedCall(t, model.Call{ID: "call-1", SubjectID: "subj-1", Transcript: "hello there", StartedAt: time.Now().UTC()})
	f.seedTarget(t, "empathy", 0.5, 0.9)
	f.seedObservation(t, "call-1", "subj-1", "empathy", 0.5, 0.9)

	score, err := f.scorer.Score(ctx, "call-1")
	require.NoError(t, err)

	assert.InDelta(t, 1.0, score.BehaviorScore, 1e-9)
	require.Contains(t, score.Diffs, "empathy")
	assert.InDelta(t, 0.0, score.Diffs["empathy"].Diff, 1e-9)
	assert.True(t, score.Diffs["empathy"].WithinTolerance)
	// No outcome signals: overall is the behavior term alone.
	assert.Nil(t, score.OutcomeScore)
	assert.InDelta(t, 0.4, score.Overall, 1e-9)
}

func TestScore_EmptyOverlapIsZeroNotError(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.seedCall(t, model.Call{ID: "call-1", SubjectID: "subj-1", Transcript: "hello there", StartedAt: time.Now().UTC()})
	// Target and observation cover different parameters.
	f.seedTarget(t, "formality", 0.6, 0.8)
	require.NoError(t, f.st.UpsertParameter(ctx, model.BehaviorParameter{ID: "empathy", Name: "empathy", Definition: "d"}))
	f.seedObservation(t, "call-1", "subj-1", "empathy", 0.5, 0.9)

	score, err := f.scorer.Score(ctx, "call-1")
	require.NoError(t, err)
	assert.Zero(t, score.Overall)
	assert.Empty(t, score.Diffs)
}

func TestScore_NoObservationsIsError(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.seedCall(t, model.Call{ID: "call-1", SubjectID: "subj-1", Transcript: "hello there", StartedAt: time.Now().UTC()})
	f.seedTarget(t, "empathy", 0.5, 0.9)

	_, err := f.scorer.Score(ctx, "call-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no observations")
}

func TestScore_OutcomeSignalsBlended(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	resolved := true
	f.seedCall(t, model.Call{
		ID: "call-1", SubjectID: "subj-1", Transcript: "hello there",
		StartedAt: time.Now().UTC(), Resolved: &resolved,
	})
	f.seedTarget(t, "empathy", 0.5, 0.9)
	f.seedObservation(t, "call-1", "subj-1", "empathy", 0.5, 0.9)

	score, err := f.scorer.Score(ctx, "call-1")
	require.NoError(t, err)
	require.NotNil(t, score.OutcomeScore)
	assert.InDelta(t, 0.5, *score.OutcomeScore, 1e-9)
	// 1.0*0.4 + 0.5*0.6 = 0.7
	assert.InDelta(t, 0.7, score.Overall, 1e-9)
}

func TestScore_MissingSignalsExcludedNotZero(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	delta := 0.4
	f.seedCall(t, model.Call{
		ID: "call-1", SubjectID: "subj-1", Transcript: "hello there",
		StartedAt: time.Now().UTC(), SentimentDelta: &delta,
	})
	f.seedTarget(t, "empathy", 0.5, 0.9)
	f.seedObservation(t, "call-1", "subj-1", "empathy", 0.5, 0.9)

	score, err := f.scorer.Score(ctx, "call-1")
	require.NoError(t, err)
	require.NotNil(t, score.OutcomeScore)
	// Only sentiment present: average over one signal, not three.
	assert.InDelta(t, 0.4, *score.OutcomeScore, 1e-9)
	assert.InDelta(t, 0.64, score.Overall, 1e-9)
}

func TestScore_EscalationPullsOutcomeDown(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	escalated := true
	resolved := false
	f.seedCall(t, model.Call{
		ID: "call-1", SubjectID: "subj-1", Transcript: "hello there",
		StartedAt: time.Now().UTC(), Escalated: &escalated, Resolved: &resolved,
	})
	f.seedTarget(t, "empathy", 0.5, 0.9)
	f.seedObservation(t, "call-1", "subj-1", "empathy", 1.0, 0.9)

	score, err := f.scorer.Score(ctx, "call-1")
	require.NoError(t, err)
	// diff 0.5 scores 0; outcome (-0.5 + -0.6)/2 = -0.55
	assert.InDelta(t, 0.0, score.BehaviorScore, 1e-9)
	require.NotNil(t, score.OutcomeScore)
	assert.InDelta(t, -0.55, *score.OutcomeScore, 1e-9)
	assert.InDelta(t, -0.33, score.Overall, 1e-9)
	assert.False(t, score.Diffs["empathy"].WithinTolerance)
	assert.GreaterOrEqual(t, score.Overall, -1.0)
	assert.LessOrEqual(t, score.Overall, 1.0)
}

func TestScore_RecomputeReplacesRow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.seedCall(t, model.Call{ID: "call-1", SubjectID: "subj-1", Transcript: "hello there", StartedAt: time.Now().UTC()})
	f.seedTarget(t, "empathy", 0.5, 0.9)
	f.seedObservation(t, "call-1", "subj-1", "empathy", 0.5, 0.9)

	first, err := f.scorer.Score(ctx, "call-1")
	require.NoError(t, err)
	second, err := f.scorer.Score(ctx, "call-1")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	stored, err := f.st.GetRewardByCall(ctx, "call-1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, second.ID, stored.ID)
}

type fixedEstimator struct{ signals model.OutcomeSignals }

func (f fixedEstimator) Estimate(model.Call) model.OutcomeSignals { return f.signals }

func TestScore_EstimatorUsedWhenSignalsAbsent(t *testing.T) {
	ctx := context.Background()
	resolved := true
	f := newFixture(t, fixedEstimator{signals: model.OutcomeSignals{Resolved: &resolved}})
	f.seedCall(t, model.Call{ID: "call-1", SubjectID: "subj-1", Transcript: "hello there", StartedAt: time.Now().UTC()})
	f.seedTarget(t, "empathy", 0.5, 0.9)
	f.seedObservation(t, "call-1", "subj-1", "empathy", 0.5, 0.9)

	score, err := f.scorer.Score(ctx, "call-1")
	require.NoError(t, err)
	require.NotNil(t, score.OutcomeScore)
	assert.InDelta(t, 0.5, *score.OutcomeScore, 1e-9)
	require.NotNil(t, score.Signals.Resolved)
	assert.True(t, *score.Signals.Resolved)
}

func TestBehaviorScore_WeightedByTargetConfidence(t *testing.T) {
	effective := map[string]model.EffectiveTarget{
		"a": {ParameterID: "a", Value: 0.5, Confidence: 0.9},
		"b": {ParameterID: "b", Value: 0.5, Confidence: 0.1},
	}
	diffs := map[string]model.ParameterDiff{
		"a": {Target: 0.5, Actual: 0.5, Diff: 0},
		"b": {Target: 0.5, Actual: 1.0, Diff: 0.5},
	}
	// a scores 1 at weight 0.9, b scores 0 at weight 0.1.
	got := behaviorScore(diffs, effective)
	assert.InDelta(t, 0.9, got, 1e-9)
}

func TestHeuristicEstimator(t *testing.T) {
	h := NewHeuristicEstimator()

	tests := []struct {
		name       string
		transcript string
		resolved   *bool
		escalated  *bool
	}{
		{
			name:       "resolution phrase",
			transcript: "Agent: glad I could help today. Customer: thanks!",
			resolved:   ptr(true),
		},
		{
			name:       "unresolved phrase",
			transcript: "Customer: it's still not working after all that.",
			resolved:   ptr(false),
		},
		{
			name:       "escalation phrase",
			transcript: "Customer: I want to speak to a manager right now.",
			escalated:  ptr(true),
		},
		{
			name:       "silent transcript leaves signals absent",
			transcript: "Agent: let me look into your account settings.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signals := h.Estimate(model.Call{Transcript: tt.transcript})
			assert.Equal(t, tt.resolved, signals.Resolved)
			assert.Equal(t, tt.escalated, signals.Escalated)
			assert.Nil(t, signals.SentimentDelta)
		})
	}
}

func ptr(b bool) *bool { return &b }
