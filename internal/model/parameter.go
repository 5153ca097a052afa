package model

import "time"

// BehaviorParameter is a single measurable behavior dimension (e.g. empathy,
// formality, pace). Reference data: created by configuration import, never by
// the pipeline itself.
type BehaviorParameter struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Definition  string `json:"definition" yaml:"definition"`
	HighMeaning string `json:"high_meaning,omitempty" yaml:"high_meaning,omitempty"`
	LowMeaning  string `json:"low_meaning,omitempty" yaml:"low_meaning,omitempty"`

	// Calibration holds optional scored excerpts used to anchor the oracle.
	Calibration []CalibrationExample `json:"calibration,omitempty" yaml:"calibration,omitempty"`
}

// CalibrationExample is a scored transcript excerpt used to calibrate the
// scoring oracle for a parameter.
type CalibrationExample struct {
	Excerpt   string  `json:"excerpt" yaml:"excerpt"`
	Score     float64 `json:"score" yaml:"score"`
	Rationale string  `json:"rationale,omitempty" yaml:"rationale,omitempty"`
}

// TargetScope is the specificity level of a behavior target.
type TargetScope string

const (
	ScopeGlobal  TargetScope = "global"
	ScopeSegment TargetScope = "segment"
	ScopeSubject TargetScope = "subject"
)

// BehaviorTarget is a desired value for one parameter at one scope.
// EffectiveUntil == nil marks the currently active target; at most one target
// is active per (parameter, scope, scope key) at a time.
type BehaviorTarget struct {
	ID             string      `json:"id" yaml:"id,omitempty"`
	ParameterID    string      `json:"parameter_id" yaml:"parameter_id"`
	Scope          TargetScope `json:"scope" yaml:"scope"`
	ScopeKey       string      `json:"scope_key,omitempty" yaml:"scope_key,omitempty"`
	Value          float64     `json:"value" yaml:"value"`
	Confidence     float64     `json:"confidence" yaml:"confidence"`
	Source         string      `json:"source" yaml:"source,omitempty"`
	EffectiveFrom  time.Time   `json:"effective_from" yaml:"effective_from,omitempty"`
	EffectiveUntil *time.Time  `json:"effective_until,omitempty" yaml:"effective_until,omitempty"`
}

// Active reports whether the target is currently in effect.
func (t BehaviorTarget) Active() bool {
	return t.EffectiveUntil == nil
}

// EffectiveTarget is the result of resolving targets across scopes for one
// parameter: the most specific active target wins wholesale.
type EffectiveTarget struct {
	ParameterID string      `json:"parameter_id"`
	Value       float64     `json:"value"`
	Confidence  float64     `json:"confidence"`
	Source      string      `json:"source"`
	Scope       TargetScope `json:"scope"`
}

// Clamp01 bounds v to [0, 1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
