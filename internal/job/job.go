// Package job runs the pipeline over batches of items as observable,
// pollable runs. One run processes its items strictly in order; separate
// runs may execute concurrently but never over the same item, enforced by
// the claim registry.
package job

import (
	"errors"
	"time"
)

// Kind selects which pipeline stage a run executes.
type Kind string

const (
	KindEnrichment Kind = "enrichment"
	KindValidation Kind = "validation"
)

// Status is the lifecycle of a run. Failed is reserved for
// infrastructure-level faults (e.g. the scope cannot be resolved);
// per-item errors never fail the run.
type Status string

const (
	StatusStarted    Status = "started"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// ItemStatus is one item's outcome within a run.
type ItemStatus string

const (
	ItemSuccess ItemStatus = "success"
	ItemFailed  ItemStatus = "failed"
	ItemSkipped ItemStatus = "skipped"
)

// ItemResult records one item's outcome. Error is set for failed items,
// Reason for skipped ones (e.g. already_in_progress).
type ItemResult struct {
	ItemID string     `json:"itemId"`
	Status ItemStatus `json:"status"`
	Error  string     `json:"error,omitempty"`
	Reason string     `json:"reason,omitempty"`
	Detail string     `json:"detail,omitempty"`
}

// Run is a batch execution snapshot. Counters cover processed items only;
// items skipped at submission (claim conflicts) appear in Results but not
// in Total.
type Run struct {
	ID          string       `json:"id"`
	Kind        Kind         `json:"kind"`
	Status      Status       `json:"status"`
	Total       int          `json:"total"`
	Completed   int          `json:"completed"`
	Succeeded   int          `json:"succeeded"`
	Failed      int          `json:"failed"`
	Results     []ItemResult `json:"results"`
	Error       string       `json:"error,omitempty"`
	StartedAt   time.Time    `json:"startedAt"`
	CompletedAt *time.Time   `json:"completedAt,omitempty"`
}

// Clone returns a deep copy safe to hand to pollers.
func (r *Run) Clone() *Run {
	if r == nil {
		return nil
	}
	out := *r
	out.Results = make([]ItemResult, len(r.Results))
	copy(out.Results, r.Results)
	if r.CompletedAt != nil {
		completed := *r.CompletedAt
		out.CompletedAt = &completed
	}
	return &out
}

// ErrJobNotFound is returned by Status queries for unknown run ids.
var ErrJobNotFound = errors.New("job not found")
