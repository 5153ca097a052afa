// Package oracle turns call transcripts into behavior-parameter scores.
//
// The primary oracle is an LLM call; a deterministic keyword heuristic serves
// as the fallback when the LLM is unavailable. Both implement the same
// interface so the measurement recorder composes them at the call site.
package oracle

import (
	"context"

	"github.com/sells-group/coaching-cli/internal/model"
)

// Result is a single scoring outcome for one (transcript, parameter) pair.
type Result struct {
	Value      float64  `json:"value"`
	Confidence float64  `json:"confidence"`
	Evidence   []string `json:"evidence,omitempty"`
}

// Oracle scores a transcript against one behavior parameter. Implementations
// may fail; callers are expected to hold a deterministic fallback.
type Oracle interface {
	Score(ctx context.Context, transcript string, param model.BehaviorParameter) (*Result, error)
}
