package composer

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/coaching-cli/internal/config"
	"github.com/sells-group/coaching-cli/internal/model"
	"github.com/sells-group/coaching-cli/internal/store"
	"github.com/sells-group/coaching-cli/internal/targets"
)

func testComposerConfig() config.ComposerConfig {
	return config.ComposerConfig{
		HighTrait:      0.7,
		LowTrait:       0.3,
		LowConfidence:  0.35,
		HighConfidence: 0.75,
		MemoryLimit:    10,
		RecentCalls:    5,
	}
}

type fixture struct {
	st       store.Store
	composer *Composer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	c, err := New(st, targets.NewResolver(st), testComposerConfig())
	require.NoError(t, err)
	return &fixture{st: st, composer: c}
}

func (f *fixture) seedSubject(t *testing.T, id, name, segmentID string) {
	t.Helper()
	require.NoError(t, f.st.UpsertSubject(context.Background(), model.Subject{ID: id, Name: name, SegmentID: segmentID}))
}

func (f *fixture) seedParam(t *testing.T, id, name string) {
	t.Helper()
	require.NoError(t, f.st.UpsertParameter(context.Background(), model.BehaviorParameter{ID: id, Name: name, Definition: "test"}))
}

func (f *fixture) seedTarget(t *testing.T, paramID string, scope model.TargetScope, key string, value, confidence float64) {
	t.Helper()
	_, err := f.st.CreateTarget(context.Background(), model.BehaviorTarget{
		ParameterID:   paramID,
		Scope:         scope,
		ScopeKey:      key,
		Value:         value,
		Confidence:    confidence,
		Source:        "test",
		EffectiveFrom: time.Now().UTC(),
	})
	require.NoError(t, err)
}

func TestCompose_FullPrompt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedSubject(t, "subj-1", "Dana", "")
	f.seedParam(t, "empathy", "Empathy")
	f.seedParam(t, "proactivity", "Proactivity")
	f.seedTarget(t, "empathy", model.ScopeGlobal, "", 0.9, 0.8)
	f.seedTarget(t, "proactivity", model.ScopeSubject, "subj-1", 0.1, 0.5)

	require.NoError(t, f.st.CreateMemoryEntry(ctx, model.MemoryEntry{
		ID: "mem-1", SubjectID: "subj-1", Content: "Prefers short answers.",
		Kind: "preference", Status: model.MemoryActive, CreatedAt: time.Now().UTC(),
	}))
	require.NoError(t, f.st.UpsertTrait(ctx, model.TraitScore{
		SubjectID: "subj-1", Trait: "impatience", Score: 0.9, UpdatedAt: time.Now().UTC(),
	}))

	prompt, err := f.composer.Compose(ctx, "subj-1")
	require.NoError(t, err)
	require.NotNil(t, prompt)

	assert.Equal(t, model.PromptActive, prompt.Status)
	assert.Equal(t, 2, prompt.Snapshot.TargetCount)
	assert.Equal(t, 1, prompt.Snapshot.MemoryCount)
	assert.Equal(t, 1, prompt.Snapshot.TraitCount)
	assert.Equal(t, 0, prompt.Snapshot.NegativeCalls)

	assert.Contains(t, prompt.Text, "## Subject context")
	assert.Contains(t, prompt.Text, "You are speaking with Dana.")
	assert.Contains(t, prompt.Text, "Prefers short answers.")
	assert.Contains(t, prompt.Text, "scores high on impatience")
	// empathy 0.9 -> high band; proactivity 0.1 -> low band.
	assert.Contains(t, prompt.Text, "Lead with empathy")
	assert.Contains(t, prompt.Text, "Hold back on proactivity")
	// Confidence qualifiers: 0.8 > 0.75 high; 0.5 is mid-range, no tag.
	assert.Contains(t, prompt.Text, "(well-established)")
	assert.NotContains(t, prompt.Text, "(still learning)")
}

func TestCompose_SupersedesPriorPrompt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedSubject(t, "subj-1", "Dana", "")
	f.seedParam(t, "empathy", "Empathy")
	f.seedTarget(t, "empathy", model.ScopeGlobal, "", 0.9, 0.8)

	first, err := f.composer.Compose(ctx, "subj-1")
	require.NoError(t, err)
	second, err := f.composer.Compose(ctx, "subj-1")
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	active, err := f.st.GetActivePrompt(ctx, "subj-1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, second.ID, active.ID)
}

func TestCompose_NoTargetsIsError(t *testing.T) {
	f := newFixture(t)
	f.seedSubject(t, "subj-1", "Dana", "")

	_, err := f.composer.Compose(context.Background(), "subj-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no resolvable targets")
}

func TestCompose_UnknownSubjectIsError(t *testing.T) {
	f := newFixture(t)

	_, err := f.composer.Compose(context.Background(), "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestCompose_LowConfidenceQualifier(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedSubject(t, "subj-1", "Dana", "")
	f.seedParam(t, "empathy", "Empathy")
	f.seedTarget(t, "empathy", model.ScopeGlobal, "", 0.9, 0.2)

	prompt, err := f.composer.Compose(ctx, "subj-1")
	require.NoError(t, err)
	assert.Contains(t, prompt.Text, "(still learning)")
}

func TestCompose_MidRangeTraitsOmitted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedSubject(t, "subj-1", "Dana", "")
	f.seedParam(t, "empathy", "Empathy")
	f.seedTarget(t, "empathy", model.ScopeGlobal, "", 0.9, 0.8)
	require.NoError(t, f.st.UpsertTrait(ctx, model.TraitScore{
		SubjectID: "subj-1", Trait: "openness", Score: 0.5, UpdatedAt: time.Now().UTC(),
	}))

	prompt, err := f.composer.Compose(ctx, "subj-1")
	require.NoError(t, err)
	assert.Equal(t, 0, prompt.Snapshot.TraitCount)
	assert.NotContains(t, prompt.Text, "openness")
}

func TestCompose_NegativeRewardSurfacesOffenders(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedSubject(t, "subj-1", "Dana", "")
	f.seedParam(t, "empathy", "Empathy")
	f.seedTarget(t, "empathy", model.ScopeGlobal, "", 0.9, 0.8)

	require.NoError(t, f.st.CreateCall(ctx, model.Call{
		ID: "call-1", SubjectID: "subj-1", Transcript: "t", StartedAt: time.Now().UTC(),
	}))
	_, err := f.st.ReplaceRewardScore(ctx, model.RewardScore{
		ID: "rw-1", CallID: "call-1", SubjectID: "subj-1",
		Overall: -0.4, BehaviorScore: -0.2,
		Diffs: map[string]model.ParameterDiff{
			"empathy": {Target: 0.9, Actual: 0.2, Diff: -0.7, WithinTolerance: false},
		},
		ScoredAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	prompt, err := f.composer.Compose(ctx, "subj-1")
	require.NoError(t, err)
	assert.Equal(t, 1, prompt.Snapshot.NegativeCalls)
	assert.Contains(t, prompt.Text, "## Recent interaction notes")
	assert.Contains(t, prompt.Text, "work on: empathy")
}

func TestRender_SkipsEmptySections(t *testing.T) {
	out := render([]section{
		{title: "Empty"},
		{title: "Full", instructions: []string{"do the thing"}},
	})
	assert.NotContains(t, out, "Empty")
	assert.Equal(t, 1, strings.Count(out, "## "))
}
