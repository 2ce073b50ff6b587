// Package pipeline drives a single item through the enrichment and
// validation stage machine and persists the outcome of each pass.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"itemforge/api/internal/gate"
	"itemforge/api/internal/store"
)

// ItemStore is the persistence surface the orchestrator needs.
type ItemStore interface {
	GetItem(ctx context.Context, id string) (store.Item, error)
	UpdateItemStage(ctx context.Context, id string, stage store.Stage) error
	SaveEnrichedDocument(ctx context.Context, id, document string, stage store.Stage) error
	ReplaceValidationRecord(ctx context.Context, rec store.ValidationRecord) error
	GetValidationRecord(ctx context.Context, itemID string) (*store.ValidationRecord, error)
}

// Auditor records enriched documents into the per-item history. Audit
// failures are logged, not fatal: the pipeline's source of truth is the
// store, the history is for reviewers.
type Auditor interface {
	CommitDocument(itemID, document, message string) error
}

// GateFailure is a gate outcome that blocks the item. It is a modeled
// verdict, not an infrastructure fault, but jobs record it per item as a
// failure so operators see blocked items in the run report.
type GateFailure struct {
	Gate   string
	Detail string
}

func (e *GateFailure) Error() string {
	return fmt.Sprintf("%s gate failed: %s", e.Gate, e.Detail)
}

// NotReadyError marks an operation attempted out of stage order, e.g.
// semantic validation of an item that never passed the structural gate.
type NotReadyError struct {
	ItemID string
	Reason string
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("item %s not ready: %s", e.ItemID, e.Reason)
}

// Outcome is the per-item result of a pipeline run.
type Outcome struct {
	ItemID     string
	Detail     string
	Skipped    bool
	SkipReason string
}

type EnrichmentOptions struct {
	SkipAlreadyEnriched bool
}

type ValidationOptions struct {
	RevalidatePassed bool
}

type Orchestrator struct {
	store       ItemStore
	gates       *gate.Evaluator
	audit       Auditor
	maxAttempts int
}

func New(itemStore ItemStore, gates *gate.Evaluator, audit Auditor, maxAttempts int) *Orchestrator {
	if maxAttempts < 1 {
		maxAttempts = 2
	}
	return &Orchestrator{
		store:       itemStore,
		gates:       gates,
		audit:       audit,
		maxAttempts: maxAttempts,
	}
}

// RunEnrichment moves one item raw → enriched-and-structurally-valid, or
// to blocked when the retry budget runs out. Every completed pass replaces
// the item's validation record; the semantic side is marked not_run until
// a validation pass fills it in.
func (o *Orchestrator) RunEnrichment(ctx context.Context, itemID string, opts EnrichmentOptions) (Outcome, error) {
	item, err := o.store.GetItem(ctx, itemID)
	if err != nil {
		return Outcome{ItemID: itemID}, err
	}

	if opts.SkipAlreadyEnriched && item.EnrichedDocument != nil {
		return Outcome{ItemID: itemID, Skipped: true, SkipReason: "already_enriched"}, nil
	}

	if err := o.store.UpdateItemStage(ctx, itemID, store.StageEnriching); err != nil {
		return Outcome{ItemID: itemID}, err
	}

	marked := false
	result, err := o.gates.EnrichWithRetry(ctx, item.RawDocument, o.maxAttempts, func() {
		if marked {
			return
		}
		marked = true
		if stageErr := o.store.UpdateItemStage(ctx, itemID, store.StageStructurallyValidating); stageErr != nil {
			log.Printf("pipeline: mark %s structurally validating: %v", itemID, stageErr)
		}
	})
	if err != nil {
		// Infrastructure fault, not a verdict: return the item to raw so a
		// later run can pick it up again.
		if stageErr := o.store.UpdateItemStage(ctx, itemID, store.StageRaw); stageErr != nil {
			log.Printf("pipeline: reset %s to raw after error: %v", itemID, stageErr)
		}
		return Outcome{ItemID: itemID}, err
	}

	if result.StructurallyValid {
		if err := o.store.SaveEnrichedDocument(ctx, itemID, result.Document, store.StageSemanticallyValidating); err != nil {
			return Outcome{ItemID: itemID}, err
		}
		if o.audit != nil {
			message := fmt.Sprintf("Enrichment pass (%d attempt(s))", result.Attempts)
			if err := o.audit.CommitDocument(itemID, result.Document, message); err != nil {
				log.Printf("pipeline: audit commit for %s failed: %v", itemID, err)
			}
		}
		if err := o.writeRecord(ctx, itemID, gate.StructuralVerdict{Status: gate.StatusPass}, nil, false); err != nil {
			return Outcome{ItemID: itemID}, err
		}
		return Outcome{
			ItemID: itemID,
			Detail: fmt.Sprintf("structural gate passed after %d attempt(s)", result.Attempts),
		}, nil
	}

	// Budget exhausted. Keep the last candidate, if any, for inspection.
	if result.Document != "" {
		if err := o.store.SaveEnrichedDocument(ctx, itemID, result.Document, store.StageBlocked); err != nil {
			return Outcome{ItemID: itemID}, err
		}
	} else if err := o.store.UpdateItemStage(ctx, itemID, store.StageBlocked); err != nil {
		return Outcome{ItemID: itemID}, err
	}

	verdict := gate.StructuralVerdict{Status: gate.StatusFail, Violations: result.Violations}
	if err := o.writeRecord(ctx, itemID, verdict, nil, false); err != nil {
		return Outcome{ItemID: itemID}, err
	}

	detail := fmt.Sprintf("retry budget exhausted after %d attempt(s)", result.Attempts)
	if len(result.Violations) > 0 {
		detail += ": " + strings.Join(result.Violations, "; ")
	}
	return Outcome{ItemID: itemID}, &GateFailure{Gate: "structural", Detail: detail}
}

// RunValidation runs the semantic gate for an item that already cleared
// the structural gate. Pass moves the item to can_sync, fail to blocked;
// the validation record is replaced either way before the stage changes,
// so can_sync always has a passing record behind it.
func (o *Orchestrator) RunValidation(ctx context.Context, itemID string, opts ValidationOptions) (Outcome, error) {
	item, err := o.store.GetItem(ctx, itemID)
	if err != nil {
		return Outcome{ItemID: itemID}, err
	}

	if item.EnrichedDocument == nil {
		return Outcome{ItemID: itemID}, &NotReadyError{ItemID: itemID, Reason: "no enriched document"}
	}
	switch item.Stage {
	case store.StageRaw, store.StageEnriching, store.StageStructurallyValidating:
		return Outcome{ItemID: itemID}, &NotReadyError{ItemID: itemID, Reason: "structural gate not passed"}
	case store.StageCanSync:
		if !opts.RevalidatePassed {
			return Outcome{ItemID: itemID, Skipped: true, SkipReason: "already_validated"}, nil
		}
	}

	prior, err := o.store.GetValidationRecord(ctx, itemID)
	if err != nil {
		return Outcome{ItemID: itemID}, err
	}
	if prior == nil || prior.StructuralStatus != string(gate.StatusPass) {
		return Outcome{ItemID: itemID}, &NotReadyError{ItemID: itemID, Reason: "no passing structural record"}
	}

	if err := o.store.UpdateItemStage(ctx, itemID, store.StageSemanticallyValidating); err != nil {
		return Outcome{ItemID: itemID}, err
	}

	verdict, err := o.gates.RunSemantic(ctx, *item.EnrichedDocument)
	if err != nil {
		return Outcome{ItemID: itemID}, err
	}

	structural := gate.StructuralVerdict{
		Status:     gate.Status(prior.StructuralStatus),
		Violations: prior.StructuralViolations,
	}

	if verdict.Overall == gate.StatusPass {
		if err := o.writeRecord(ctx, itemID, structural, &verdict, true); err != nil {
			return Outcome{ItemID: itemID}, err
		}
		if err := o.store.UpdateItemStage(ctx, itemID, store.StageCanSync); err != nil {
			return Outcome{ItemID: itemID}, err
		}
		return Outcome{ItemID: itemID, Detail: "semantic gate passed"}, nil
	}

	if err := o.writeRecord(ctx, itemID, structural, &verdict, false); err != nil {
		return Outcome{ItemID: itemID}, err
	}
	if err := o.store.UpdateItemStage(ctx, itemID, store.StageBlocked); err != nil {
		return Outcome{ItemID: itemID}, err
	}
	return Outcome{ItemID: itemID}, &GateFailure{Gate: "semantic", Detail: describeFailedChecks(verdict)}
}

// writeRecord replaces the item's validation record in one call.
func (o *Orchestrator) writeRecord(ctx context.Context, itemID string, structural gate.StructuralVerdict, semantic *gate.SemanticVerdict, canSync bool) error {
	rec := store.ValidationRecord{
		ItemID:               itemID,
		StructuralStatus:     string(structural.Status),
		StructuralViolations: structural.Violations,
		SemanticOverall:      string(gate.StatusNotRun),
		SemanticChecks:       map[string]store.CheckResult{},
		CanSync:              canSync,
	}
	if semantic != nil {
		rec.SemanticOverall = string(semantic.Overall)
		for name, check := range semantic.Checks {
			rec.SemanticChecks[name] = store.CheckResult{
				Status: string(check.Status),
				Issues: check.Issues,
			}
		}
	}
	return o.store.ReplaceValidationRecord(ctx, rec)
}

func describeFailedChecks(verdict gate.SemanticVerdict) string {
	var failed []string
	for name, check := range verdict.Checks {
		if check.Status == gate.StatusFail {
			part := name
			if len(check.Issues) > 0 {
				part += " (" + strings.Join(check.Issues, "; ") + ")"
			}
			failed = append(failed, part)
		}
	}
	sort.Strings(failed)
	if len(failed) == 0 {
		return "semantic checks failed"
	}
	return "failed checks: " + strings.Join(failed, ", ")
}
