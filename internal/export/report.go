package export

import (
	"time"

	"picture-export/internal/identity"
	"picture-export/internal/naming"
)

// ItemResult is the outcome of one source.
type ItemResult struct {
	Index    int
	Source   string
	State    ItemState
	Identity identity.Identity
	// Durable is false when the identity will differ on the next run.
	Durable bool
	// Persisted is set when this run wrote the identity into the source.
	Persisted bool
	Target    naming.ExportTarget
	Err       *ItemError
	Warnings  []*ItemError
	// Reason explains a skip.
	Reason string
}

// Stats counts terminal states.
type Stats struct {
	Total    int
	Recorded int
	Failed   int
	Skipped  int
	// Planned counts dry-run items that were named but not written.
	Planned   int
	Warnings  int
	Generated int
	Persisted int
}

// Report is the result of a run.
type Report struct {
	RunID      string
	OutputDir  string
	DryRun     bool
	Cancelled  bool
	Items      []ItemResult
	Stats      Stats
	Aggregates []string
	// Problems lists run-level issues that did not fail any item, such as an
	// aggregate that could not be written.
	Problems []string
	ErrorLog string
	Started  time.Time
	Duration time.Duration
}

// Failures returns the failed items in source order.
func (r *Report) Failures() []ItemResult {
	var out []ItemResult
	for _, it := range r.Items {
		if it.State == StateFailed {
			out = append(out, it)
		}
	}
	return out
}

// Progress is reported after each item reaches a terminal state.
type Progress struct {
	Completed int
	Total     int
	Failed    int
	Source    string
	State     ItemState
}

// ProgressFunc receives progress updates. Calls are serialized.
type ProgressFunc func(Progress)
