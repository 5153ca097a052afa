package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/coaching-cli/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedSubjectAndCall(t *testing.T, st *SQLiteStore, subjectID, callID string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.UpsertSubject(ctx, model.Subject{ID: subjectID, Name: "Dana"}))
	require.NoError(t, st.CreateCall(ctx, model.Call{
		ID: callID, SubjectID: subjectID, Transcript: "hello there", StartedAt: time.Now().UTC(),
	}))
}

func TestParameterRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	p := model.BehaviorParameter{
		ID: "empathy", Name: "Empathy", Definition: "warmth in responses",
		HighMeaning: "acknowledges feelings", LowMeaning: "strictly factual",
		Calibration: []model.CalibrationExample{
			{Excerpt: "I completely understand", Score: 0.9, Rationale: "strong acknowledgment"},
		},
	}
	require.NoError(t, st.UpsertParameter(ctx, p))

	got, err := st.GetParameter(ctx, "empathy")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, p, *got)

	p.Definition = "updated"
	require.NoError(t, st.UpsertParameter(ctx, p))
	got, err = st.GetParameter(ctx, "empathy")
	require.NoError(t, err)
	assert.Equal(t, "updated", got.Definition)

	all, err := st.ListParameters(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestGetParameter_MissingIsNilNil(t *testing.T) {
	st := newTestStore(t)
	got, err := st.GetParameter(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCreateTarget_SupersedesPrior(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	require.NoError(t, st.UpsertParameter(ctx, model.BehaviorParameter{ID: "empathy", Name: "Empathy", Definition: "d"}))

	first, err := st.CreateTarget(ctx, model.BehaviorTarget{
		ParameterID: "empathy", Scope: model.ScopeGlobal, Value: 0.5, Confidence: 0.8, Source: "seed",
	})
	require.NoError(t, err)
	second, err := st.CreateTarget(ctx, model.BehaviorTarget{
		ParameterID: "empathy", Scope: model.ScopeGlobal, Value: 0.7, Confidence: 0.9, Source: "tuning",
	})
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	active, err := st.ListActiveTargets(ctx, model.ScopeGlobal, "")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, second.ID, active[0].ID)
	assert.InDelta(t, 0.7, active[0].Value, 1e-9)
	assert.True(t, active[0].Active())
}

func TestCreateTarget_ScopeKeysIsolated(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	require.NoError(t, st.UpsertParameter(ctx, model.BehaviorParameter{ID: "empathy", Name: "Empathy", Definition: "d"}))

	_, err := st.CreateTarget(ctx, model.BehaviorTarget{
		ParameterID: "empathy", Scope: model.ScopeSubject, ScopeKey: "subj-1", Value: 0.4, Confidence: 0.5,
	})
	require.NoError(t, err)
	_, err = st.CreateTarget(ctx, model.BehaviorTarget{
		ParameterID: "empathy", Scope: model.ScopeSubject, ScopeKey: "subj-2", Value: 0.9, Confidence: 0.5,
	})
	require.NoError(t, err)

	one, err := st.ListActiveTargets(ctx, model.ScopeSubject, "subj-1")
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.InDelta(t, 0.4, one[0].Value, 1e-9)
}

func TestCreateTarget_ClampsValues(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	require.NoError(t, st.UpsertParameter(ctx, model.BehaviorParameter{ID: "empathy", Name: "Empathy", Definition: "d"}))

	created, err := st.CreateTarget(ctx, model.BehaviorTarget{
		ParameterID: "empathy", Scope: model.ScopeGlobal, Value: 1.4, Confidence: -0.2,
	})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, created.Value, 1e-9)
	assert.InDelta(t, 0.0, created.Confidence, 1e-9)
}

func TestCallRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	require.NoError(t, st.UpsertSubject(ctx, model.Subject{ID: "subj-1", Name: "Dana"}))

	resolved := true
	sentiment := -0.3
	started := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, st.CreateCall(ctx, model.Call{
		ID: "call-1", SubjectID: "subj-1", Transcript: "hi",
		StartedAt: started, Resolved: &resolved, SentimentDelta: &sentiment,
	}))

	got, err := st.GetCall(ctx, "call-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.NotNil(t, got.Resolved)
	assert.True(t, *got.Resolved)
	require.NotNil(t, got.SentimentDelta)
	assert.InDelta(t, -0.3, *got.SentimentDelta, 1e-9)
	assert.Nil(t, got.Escalated)

	missing, err := st.GetCall(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestListUnscoredCalls_ExcludesScored(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	seedSubjectAndCall(t, st, "subj-1", "call-1")
	require.NoError(t, st.CreateCall(ctx, model.Call{
		ID: "call-2", SubjectID: "subj-1", Transcript: "hi", StartedAt: time.Now().UTC(),
	}))

	_, err := st.ReplaceRewardScore(ctx, model.RewardScore{
		CallID: "call-1", SubjectID: "subj-1", Overall: 0.5,
		Diffs: map[string]model.ParameterDiff{}, ScoredAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	unscored, err := st.ListUnscoredCalls(ctx, 10)
	require.NoError(t, err)
	require.Len(t, unscored, 1)
	assert.Equal(t, "call-2", unscored[0].ID)
}

func TestCreateObservation_DuplicateReturnsNil(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	seedSubjectAndCall(t, st, "subj-1", "call-1")

	obs := model.Observation{
		CallID: "call-1", SubjectID: "subj-1", ParameterID: "empathy",
		Value: 0.7, Confidence: 0.8, Evidence: []string{"quote"},
		Source: model.SourceOracle, ObservedAt: time.Now().UTC(),
	}
	created, err := st.CreateObservation(ctx, obs)
	require.NoError(t, err)
	require.NotNil(t, created)
	assert.NotEmpty(t, created.ID)

	dup, err := st.CreateObservation(ctx, obs)
	require.NoError(t, err)
	assert.Nil(t, dup)

	all, err := st.ListObservationsByCall(ctx, "call-1")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, []string{"quote"}, all[0].Evidence)
	assert.Equal(t, model.SourceOracle, all[0].Source)
}

func TestListObservationsBySubject(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	seedSubjectAndCall(t, st, "subj-1", "call-1")
	require.NoError(t, st.CreateCall(ctx, model.Call{
		ID: "call-2", SubjectID: "subj-1", Transcript: "hi", StartedAt: time.Now().UTC(),
	}))

	for _, callID := range []string{"call-1", "call-2"} {
		_, err := st.CreateObservation(ctx, model.Observation{
			CallID: callID, SubjectID: "subj-1", ParameterID: "empathy",
			Value: 0.5, Confidence: 0.5, Source: model.SourceOracle, ObservedAt: time.Now().UTC(),
		})
		require.NoError(t, err)
	}

	all, err := st.ListObservationsBySubject(ctx, "subj-1")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestProfileRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	got, err := st.GetProfile(ctx, "subj-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	p := model.AggregatedProfile{
		SubjectID:        "subj-1",
		Values:           map[string]float64{"empathy": 0.72},
		Confidence:       0.6,
		ObservationsUsed: 4,
		HalfLifeDays:     30,
		LastAggregatedAt: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, st.UpsertProfile(ctx, p))

	got, err = st.GetProfile(ctx, "subj-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.InDelta(t, 0.72, got.Values["empathy"], 1e-9)
	assert.Equal(t, 4, got.ObservationsUsed)

	p.Values["empathy"] = 0.5
	p.ObservationsUsed = 7
	require.NoError(t, st.UpsertProfile(ctx, p))
	got, err = st.GetProfile(ctx, "subj-1")
	require.NoError(t, err)
	assert.Equal(t, 7, got.ObservationsUsed)
}

func TestReplaceRewardScore_ReplacesWholesale(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	seedSubjectAndCall(t, st, "subj-1", "call-1")

	outcome := 0.5
	first, err := st.ReplaceRewardScore(ctx, model.RewardScore{
		CallID: "call-1", SubjectID: "subj-1", Overall: 0.7, BehaviorScore: 1.0, OutcomeScore: &outcome,
		Diffs: map[string]model.ParameterDiff{
			"empathy": {Target: 0.7, Actual: 0.7, Diff: 0, WithinTolerance: true},
		},
		Signals:  model.OutcomeSignals{Resolved: boolPtr(true)},
		ScoredAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	second, err := st.ReplaceRewardScore(ctx, model.RewardScore{
		CallID: "call-1", SubjectID: "subj-1", Overall: -0.2, BehaviorScore: -0.5,
		Diffs: map[string]model.ParameterDiff{
			"empathy": {Target: 0.7, Actual: 0.1, Diff: -0.6, WithinTolerance: false},
		},
		ScoredAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	got, err := st.GetRewardByCall(ctx, "call-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, second.ID, got.ID)
	assert.InDelta(t, -0.2, got.Overall, 1e-9)
	assert.Nil(t, got.OutcomeScore)
	assert.Equal(t, []string{"empathy"}, got.OutOfTolerance())
}

func TestGetRewardByCall_MissingIsNilNil(t *testing.T) {
	st := newTestStore(t)
	got, err := st.GetRewardByCall(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestListRecentRewards_NewestFirstLimited(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	require.NoError(t, st.UpsertSubject(ctx, model.Subject{ID: "subj-1", Name: "Dana"}))

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		callID := string(rune('a' + i))
		require.NoError(t, st.CreateCall(ctx, model.Call{
			ID: callID, SubjectID: "subj-1", Transcript: "hi", StartedAt: base,
		}))
		_, err := st.ReplaceRewardScore(ctx, model.RewardScore{
			CallID: callID, SubjectID: "subj-1", Overall: float64(i),
			Diffs:    map[string]model.ParameterDiff{},
			ScoredAt: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	recent, err := st.ListRecentRewards(ctx, "subj-1", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.InDelta(t, 2.0, recent[0].Overall, 1e-9)
	assert.InDelta(t, 1.0, recent[1].Overall, 1e-9)
}

func TestCreatePrompt_SupersedesActive(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	first, err := st.CreatePrompt(ctx, model.ComposedPrompt{
		SubjectID: "subj-1", Text: "first",
		Snapshot: model.PromptSnapshot{TargetCount: 1, ComposedAt: time.Now().UTC()},
	})
	require.NoError(t, err)
	second, err := st.CreatePrompt(ctx, model.ComposedPrompt{
		SubjectID: "subj-1", Text: "second",
		Snapshot: model.PromptSnapshot{TargetCount: 2, ComposedAt: time.Now().UTC()},
	})
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	active, err := st.GetActivePrompt(ctx, "subj-1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, second.ID, active.ID)
	assert.Equal(t, "second", active.Text)
	assert.Equal(t, 2, active.Snapshot.TargetCount)
}

func TestGetActivePrompt_MissingIsNilNil(t *testing.T) {
	st := newTestStore(t)
	got, err := st.GetActivePrompt(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryEntries_ActiveOnlyNewestFirst(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	base := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, st.CreateMemoryEntry(ctx, model.MemoryEntry{
		ID: "m1", SubjectID: "subj-1", Content: "old fact", CreatedAt: base,
	}))
	require.NoError(t, st.CreateMemoryEntry(ctx, model.MemoryEntry{
		ID: "m2", SubjectID: "subj-1", Content: "new fact", CreatedAt: base.Add(time.Minute),
	}))
	require.NoError(t, st.CreateMemoryEntry(ctx, model.MemoryEntry{
		ID: "m3", SubjectID: "subj-1", Content: "retracted", Status: model.MemorySuperseded, CreatedAt: base.Add(2 * time.Minute),
	}))

	entries, err := st.ListMemoryEntries(ctx, "subj-1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "new fact", entries[0].Content)
	assert.Equal(t, model.MemoryActive, entries[0].Status)
}

func TestTraits_UpsertAndClamp(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	require.NoError(t, st.UpsertTrait(ctx, model.TraitScore{SubjectID: "subj-1", Trait: "patience", Score: 0.4}))
	require.NoError(t, st.UpsertTrait(ctx, model.TraitScore{SubjectID: "subj-1", Trait: "patience", Score: 1.3}))

	traits, err := st.ListTraits(ctx, "subj-1")
	require.NoError(t, err)
	require.Len(t, traits, 1)
	assert.InDelta(t, 1.0, traits[0].Score, 1e-9)
}

func TestImportCalls(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	require.NoError(t, st.UpsertSubject(ctx, model.Subject{ID: "subj-1", Name: "Dana"}))

	n, err := st.ImportCalls(ctx, []model.Call{
		{ID: "c1", SubjectID: "subj-1", Transcript: "a", StartedAt: time.Now().UTC()},
		{ID: "c2", SubjectID: "subj-1", Transcript: "b", StartedAt: time.Now().UTC()},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func boolPtr(b bool) *bool { return &b }
