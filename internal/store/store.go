package store

import (
	"context"

	"github.com/sells-group/coaching-cli/internal/model"
)

// Store defines the persistence interface for the learning pipeline. The
// pipeline only needs keyed create/update/upsert and filtered range queries;
// nothing store-specific is essential. Get methods return (nil, nil) when the
// record does not exist; callers decide whether absence is an error.
type Store interface {
	// Behavior parameters (reference data)
	UpsertParameter(ctx context.Context, p model.BehaviorParameter) error
	GetParameter(ctx context.Context, id string) (*model.BehaviorParameter, error)
	ListParameters(ctx context.Context) ([]model.BehaviorParameter, error)

	// Behavior targets. CreateTarget closes any active target for the same
	// (parameter, scope, scope key) before inserting, so at most one target
	// is active per key at a time.
	CreateTarget(ctx context.Context, t model.BehaviorTarget) (*model.BehaviorTarget, error)
	ListActiveTargets(ctx context.Context, scope model.TargetScope, scopeKey string) ([]model.BehaviorTarget, error)

	// Subjects and calls
	UpsertSubject(ctx context.Context, s model.Subject) error
	GetSubject(ctx context.Context, id string) (*model.Subject, error)
	CreateCall(ctx context.Context, c model.Call) error
	ImportCalls(ctx context.Context, calls []model.Call) (int, error)
	GetCall(ctx context.Context, id string) (*model.Call, error)
	ListUnscoredCalls(ctx context.Context, limit int) ([]model.Call, error)

	// Observations (append-only). CreateObservation is idempotent per
	// (call, parameter); a duplicate insert is skipped and returns nil.
	CreateObservation(ctx context.Context, o model.Observation) (*model.Observation, error)
	ListObservationsByCall(ctx context.Context, callID string) ([]model.Observation, error)
	ListObservationsBySubject(ctx context.Context, subjectID string) ([]model.Observation, error)

	// Aggregated profiles (recomputable cache)
	GetProfile(ctx context.Context, subjectID string) (*model.AggregatedProfile, error)
	UpsertProfile(ctx context.Context, p model.AggregatedProfile) error

	// Reward scores. ReplaceRewardScore deletes any prior score for the call
	// and inserts the new one; diffs are never partially updated.
	ReplaceRewardScore(ctx context.Context, r model.RewardScore) (*model.RewardScore, error)
	GetRewardByCall(ctx context.Context, callID string) (*model.RewardScore, error)
	ListRecentRewards(ctx context.Context, subjectID string, limit int) ([]model.RewardScore, error)

	// Composed prompts. CreatePrompt supersedes the previous active prompt
	// for the subject in the same operation.
	GetActivePrompt(ctx context.Context, subjectID string) (*model.ComposedPrompt, error)
	CreatePrompt(ctx context.Context, p model.ComposedPrompt) (*model.ComposedPrompt, error)

	// Subject memory and traits
	CreateMemoryEntry(ctx context.Context, e model.MemoryEntry) error
	ListMemoryEntries(ctx context.Context, subjectID string, limit int) ([]model.MemoryEntry, error)
	UpsertTrait(ctx context.Context, t model.TraitScore) error
	ListTraits(ctx context.Context, subjectID string) ([]model.TraitScore, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
