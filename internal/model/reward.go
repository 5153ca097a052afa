package model

import (
	"sort"
	"time"
)

// ParameterDiff compares measured behavior against the resolved target for
// one parameter on one call.
type ParameterDiff struct {
	Target          float64 `json:"target"`
	Actual          float64 `json:"actual"`
	Diff            float64 `json:"diff"`
	WithinTolerance bool    `json:"within_tolerance"`
}

// RewardScore is the per-call reward: behavior-vs-target diffs blended with
// outcome signals. Immutable once written; a recompute replaces the row
// wholesale, never patches individual diffs.
type RewardScore struct {
	ID            string                   `json:"id"`
	CallID        string                   `json:"call_id"`
	SubjectID     string                   `json:"subject_id"`
	Overall       float64                  `json:"overall"`
	BehaviorScore float64                  `json:"behavior_score"`
	OutcomeScore  *float64                 `json:"outcome_score,omitempty"`
	Diffs         map[string]ParameterDiff `json:"diffs"`
	Signals       OutcomeSignals           `json:"signals"`
	ScoredAt      time.Time                `json:"scored_at"`
}

// OutOfTolerance returns the parameter IDs whose diff exceeded tolerance,
// sorted lexically for stable output.
func (r RewardScore) OutOfTolerance() []string {
	var out []string
	for id, d := range r.Diffs {
		if !d.WithinTolerance {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
