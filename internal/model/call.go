package model

import "time"

// Subject is the caller whose behavior profile and targets are being tracked.
type Subject struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	SegmentID string    `json:"segment_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Call is one recorded conversation between the agent and a subject.
// Outcome fields are nullable: absence means the signal was never observed,
// which is distinct from a negative observation.
type Call struct {
	ID             string     `json:"id"`
	SubjectID      string     `json:"subject_id"`
	Transcript     string     `json:"transcript"`
	StartedAt      time.Time  `json:"started_at"`
	Resolved       *bool      `json:"resolved,omitempty"`
	SentimentDelta *float64   `json:"sentiment_delta,omitempty"`
	Escalated      *bool      `json:"escalated,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// OutcomeSignals carries the per-call outcome evidence the reward scorer
// blends with behavior diffs. Nil fields are excluded from the outcome
// average, never treated as zero.
type OutcomeSignals struct {
	Resolved       *bool    `json:"resolved,omitempty"`
	SentimentDelta *float64 `json:"sentiment_delta,omitempty"`
	Escalated      *bool    `json:"escalated,omitempty"`
}

// Empty reports whether no signal is present at all.
func (s OutcomeSignals) Empty() bool {
	return s.Resolved == nil && s.SentimentDelta == nil && s.Escalated == nil
}

// MemoryStatus tracks supersession of subject memory entries.
type MemoryStatus string

const (
	MemoryActive     MemoryStatus = "active"
	MemorySuperseded MemoryStatus = "superseded"
)

// MemoryEntry is a durable fact or preference remembered about a subject,
// surfaced in the composed prompt's subject-context section.
type MemoryEntry struct {
	ID        string       `json:"id"`
	SubjectID string       `json:"subject_id"`
	Content   string       `json:"content"`
	Kind      string       `json:"kind,omitempty"` // "fact" or "preference"
	Status    MemoryStatus `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
}

// TraitScore is a long-lived personality-trait estimate for a subject.
// Only traits crossing the composer's high/low thresholds are mentioned in
// prompts; mid-range traits are omitted.
type TraitScore struct {
	SubjectID string    `json:"subject_id"`
	Trait     string    `json:"trait"`
	Score     float64   `json:"score"`
	UpdatedAt time.Time `json:"updated_at"`
}
