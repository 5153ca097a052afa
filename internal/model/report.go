package model

import (
	"fmt"
	"strings"
	"time"
)

// StageReport summarizes one pipeline stage within a run.
type StageReport struct {
	Name      string   `json:"name"`
	Processed int      `json:"processed"`
	Created   int      `json:"created"`
	Skipped   int      `json:"skipped"`
	Errors    []string `json:"errors,omitempty"`
}

// RunReport is the structured result of a batch run. Item-level failures are
// collected here rather than aborting the batch; the run as a whole succeeded
// when Errors is empty.
type RunReport struct {
	DryRun     bool          `json:"dry_run"`
	Processed  int           `json:"processed"`
	Created    int           `json:"created"`
	Errors     []string      `json:"errors,omitempty"`
	Stages     []StageReport `json:"stages"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}

// OK reports whether the run completed without item-level errors.
func (r RunReport) OK() bool {
	return len(r.Errors) == 0
}

// AddStage appends a stage report and rolls its counts and errors up into
// the run totals.
func (r *RunReport) AddStage(s StageReport) {
	r.Stages = append(r.Stages, s)
	r.Processed += s.Processed
	r.Created += s.Created
	r.Errors = append(r.Errors, s.Errors...)
}

// Summary renders a short human-readable run summary.
func (r RunReport) Summary() string {
	var b strings.Builder
	mode := "run"
	if r.DryRun {
		mode = "dry-run"
	}
	fmt.Fprintf(&b, "%s: processed=%d created=%d errors=%d (%s)\n",
		mode, r.Processed, r.Created, len(r.Errors), r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	for _, s := range r.Stages {
		fmt.Fprintf(&b, "  %-10s processed=%d created=%d skipped=%d errors=%d\n",
			s.Name, s.Processed, s.Created, s.Skipped, len(s.Errors))
	}
	for _, e := range r.Errors {
		fmt.Fprintf(&b, "  error: %s\n", e)
	}
	return b.String()
}
