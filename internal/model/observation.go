package model

import "time"

// ObservationSource identifies which scorer produced an observation.
type ObservationSource string

const (
	SourceOracle    ObservationSource = "oracle"
	SourceHeuristic ObservationSource = "heuristic"
)

// Observation is a point-in-time measurement of one parameter on one call.
// Append-only: one row per (call, parameter), never mutated after creation.
type Observation struct {
	ID          string            `json:"id"`
	CallID      string            `json:"call_id"`
	SubjectID   string            `json:"subject_id"`
	ParameterID string            `json:"parameter_id"`
	Value       float64           `json:"value"`
	Confidence  float64           `json:"confidence"`
	Evidence    []string          `json:"evidence,omitempty"`
	Source      ObservationSource `json:"source"`
	ObservedAt  time.Time         `json:"observed_at"`
}

// AggregatedProfile is the decayed per-subject estimate of current behavior.
// Fully recomputable from Observations; a cache, not a source of truth.
type AggregatedProfile struct {
	SubjectID        string             `json:"subject_id"`
	Values           map[string]float64 `json:"values"`
	Confidence       float64            `json:"confidence"`
	ObservationsUsed int                `json:"observations_used"`
	HalfLifeDays     float64            `json:"half_life_days"`
	LastAggregatedAt time.Time          `json:"last_aggregated_at"`
}
