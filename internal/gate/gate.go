// Package gate runs the structural and semantic checkpoints a document
// must clear before it may be synchronized, and owns the bounded
// enrichment retry loop. The checks themselves are external collaborators;
// this package translates their output into typed verdicts.
package gate

import (
	"context"
	"fmt"
)

// Status is a single check outcome.
type Status string

const (
	StatusPass          Status = "pass"
	StatusFail          Status = "fail"
	StatusNotApplicable Status = "not_applicable"
	// StatusNotRun marks gates a run never reached, e.g. the semantic
	// verdict of an enrichment-only pass.
	StatusNotRun Status = "not_run"
)

// StructuralVerdict is the outcome of the schema check.
type StructuralVerdict struct {
	Status     Status   `json:"status"`
	Violations []string `json:"violations,omitempty"`
}

// CheckVerdict is one named semantic check's outcome.
type CheckVerdict struct {
	Status Status   `json:"status"`
	Issues []string `json:"issues,omitempty"`
}

// SemanticVerdict is the multi-check quality verdict. Overall is pass iff
// every individual check passed or was not applicable.
type SemanticVerdict struct {
	Overall Status                  `json:"overall"`
	Checks  map[string]CheckVerdict `json:"checks"`
}

// Enhancer produces an enriched candidate document. correctiveFeedback
// carries structural violations from a previous attempt, or nil on the
// first call.
type Enhancer interface {
	Enhance(ctx context.Context, document string, correctiveFeedback []string) (string, error)
}

// StructureChecker validates a document against the QTI schema.
type StructureChecker interface {
	CheckStructure(ctx context.Context, document string) (StructuralVerdict, error)
}

// SemanticChecker runs the quality checks against a document.
type SemanticChecker interface {
	CheckSemantics(ctx context.Context, document string) (SemanticVerdict, error)
}

// EnhancementError wraps a failed enrichment call. Each one consumes a
// retry attempt; it is not distinguished from a structural-failure retry
// for budgeting purposes.
type EnhancementError struct {
	Attempt int
	Err     error
}

func (e *EnhancementError) Error() string {
	return fmt.Sprintf("enhancement attempt %d failed: %v", e.Attempt, e.Err)
}

func (e *EnhancementError) Unwrap() error { return e.Err }

// OverallStatus computes the overall semantic status from per-check
// verdicts: pass iff every check is pass or not_applicable.
func OverallStatus(checks map[string]CheckVerdict) Status {
	for _, check := range checks {
		if check.Status != StatusPass && check.Status != StatusNotApplicable {
			return StatusFail
		}
	}
	return StatusPass
}
