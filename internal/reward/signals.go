package reward

import (
	"strings"

	"github.com/sells-group/coaching-cli/internal/model"
	"github.com/sells-group/coaching-cli/internal/oracle"
)

// SignalEstimator derives outcome signals for a call when none were recorded.
// A replaceable strategy: the scoring math never depends on how signals were
// obtained.
type SignalEstimator interface {
	Estimate(call model.Call) model.OutcomeSignals
}

// HeuristicEstimator scans the transcript for resolution and escalation
// phrases. Deliberately conservative: when the transcript says nothing either
// way, the signal stays absent rather than defaulting to a value.
type HeuristicEstimator struct{}

// NewHeuristicEstimator returns the transcript-phrase estimator.
func NewHeuristicEstimator() *HeuristicEstimator { return &HeuristicEstimator{} }

var (
	resolvedPhrases = []string{
		"glad i could help", "that fixed it", "problem solved", "issue is resolved",
		"that worked", "all set now", "you're all set",
	}
	unresolvedPhrases = []string{
		"still not working", "didn't fix", "doesn't work", "i give up",
		"this is not resolved", "still broken",
	}
	escalationPhrases = []string{
		"speak to a manager", "speak to your manager", "escalate", "supervisor",
		"file a complaint", "transfer me",
	}
)

func (h *HeuristicEstimator) Estimate(call model.Call) model.OutcomeSignals {
	text := oracle.NormalizeTranscript(call.Transcript)
	var signals model.OutcomeSignals

	if containsAny(text, resolvedPhrases) {
		signals.Resolved = boolPtr(true)
	} else if containsAny(text, unresolvedPhrases) {
		signals.Resolved = boolPtr(false)
	}

	if containsAny(text, escalationPhrases) {
		signals.Escalated = boolPtr(true)
	}

	return signals
}

func containsAny(text string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}

func boolPtr(b bool) *bool { return &b }
