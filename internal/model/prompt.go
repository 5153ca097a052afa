package model

import "time"

// PromptStatus tracks supersession of composed prompts.
type PromptStatus string

const (
	PromptActive     PromptStatus = "active"
	PromptSuperseded PromptStatus = "superseded"
)

// PromptSnapshot records the inputs a prompt was composed from, for later
// audit and diffing.
type PromptSnapshot struct {
	TargetCount   int       `json:"target_count"`
	MemoryCount   int       `json:"memory_count"`
	TraitCount    int       `json:"trait_count"`
	NegativeCalls int       `json:"negative_calls"`
	ComposedAt    time.Time `json:"composed_at"`
}

// ComposedPrompt is the personalized guidance document steering the agent's
// next conversation with a subject. At most one active prompt per subject;
// composing a new one supersedes the previous.
type ComposedPrompt struct {
	ID         string         `json:"id"`
	SubjectID  string         `json:"subject_id"`
	Text       string         `json:"text"`
	Status     PromptStatus   `json:"status"`
	Snapshot   PromptSnapshot `json:"snapshot"`
	ComposedAt time.Time      `json:"composed_at"`
}
