package gate

import (
	"context"
	"fmt"
	"log"
)

// Metrics receives gate activity counts. Implemented by internal/metrics;
// nil-safe via the noop default.
type Metrics interface {
	EnhancementCall(outcome string)
	GateOutcome(gateName string, status Status)
}

type noopMetrics struct{}

func (noopMetrics) EnhancementCall(string)     {}
func (noopMetrics) GateOutcome(string, Status) {}

// Evaluator coordinates the collaborators behind the two gates.
type Evaluator struct {
	enhancer  Enhancer
	structure StructureChecker
	semantic  SemanticChecker
	metrics   Metrics
}

func NewEvaluator(enhancer Enhancer, structure StructureChecker, semantic SemanticChecker) *Evaluator {
	return &Evaluator{
		enhancer:  enhancer,
		structure: structure,
		semantic:  semantic,
		metrics:   noopMetrics{},
	}
}

// WithMetrics attaches a metrics sink and returns the evaluator.
func (e *Evaluator) WithMetrics(m Metrics) *Evaluator {
	if m != nil {
		e.metrics = m
	}
	return e
}

// RunStructural executes the schema check and translates the result.
// No retry here; retrying is EnrichWithRetry's job.
func (e *Evaluator) RunStructural(ctx context.Context, document string) (StructuralVerdict, error) {
	verdict, err := e.structure.CheckStructure(ctx, document)
	if err != nil {
		return StructuralVerdict{}, fmt.Errorf("structural check: %w", err)
	}
	e.metrics.GateOutcome("structural", verdict.Status)
	return verdict, nil
}

// RunSemantic executes the quality checks. Overall is recomputed from the
// individual checks so a collaborator cannot report a passing overall
// over failing checks.
func (e *Evaluator) RunSemantic(ctx context.Context, document string) (SemanticVerdict, error) {
	verdict, err := e.semantic.CheckSemantics(ctx, document)
	if err != nil {
		return SemanticVerdict{}, fmt.Errorf("semantic check: %w", err)
	}
	verdict.Overall = OverallStatus(verdict.Checks)
	e.metrics.GateOutcome("semantic", verdict.Overall)
	return verdict, nil
}

// EnrichResult is the outcome of the bounded enrichment loop.
type EnrichResult struct {
	// Document is the last candidate produced, valid or not. Empty when
	// every enhancement call errored before producing output.
	Document string
	// Attempts is the number of enhancement calls actually made.
	Attempts          int
	StructurallyValid bool
	// Violations holds the last structural violations when the loop ended
	// without a structural pass.
	Violations []string
}

// EnrichWithRetry calls the enhancement collaborator and then the
// structural gate, feeding violations back as corrective feedback on
// failure. It stops on the first structural pass or after maxAttempts
// enhancement calls, whichever comes first. Enhancement calls are billed
// per token, so the budget is a hard cap: a collaborator error consumes
// an attempt exactly like a structural failure does. The optional
// onStructuralCheck hook fires before each structural check, letting the
// caller surface the phase change on the item.
func (e *Evaluator) EnrichWithRetry(ctx context.Context, rawDocument string, maxAttempts int, onStructuralCheck func()) (EnrichResult, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	result := EnrichResult{}
	var feedback []string

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result.Attempts = attempt

		candidate, err := e.enhancer.Enhance(ctx, rawDocument, feedback)
		if err != nil {
			e.metrics.EnhancementCall("error")
			log.Printf("gate: enhancement attempt %d/%d failed: %v", attempt, maxAttempts, err)
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			// Consumes the attempt; carry the previous feedback forward.
			continue
		}
		e.metrics.EnhancementCall("ok")
		result.Document = candidate

		if onStructuralCheck != nil {
			onStructuralCheck()
		}
		verdict, err := e.RunStructural(ctx, candidate)
		if err != nil {
			return result, err
		}
		if verdict.Status == StatusPass {
			result.StructurallyValid = true
			result.Violations = nil
			return result, nil
		}
		result.Violations = verdict.Violations
		feedback = verdict.Violations
	}

	return result, nil
}
