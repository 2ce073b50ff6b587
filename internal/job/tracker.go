package job

import (
	"context"
	"fmt"
	"log"
	"time"

	"itemforge/api/internal/pipeline"
	"itemforge/api/internal/util"
)

// Processor runs one pipeline stage for one item. Implemented by
// pipeline.Orchestrator.
type Processor interface {
	RunEnrichment(ctx context.Context, itemID string, opts pipeline.EnrichmentOptions) (pipeline.Outcome, error)
	RunValidation(ctx context.Context, itemID string, opts pipeline.ValidationOptions) (pipeline.Outcome, error)
}

// Scope selects the items a run covers. ItemIDs narrows the test's items
// when non-empty. Resolution happens once, at submission; items created
// afterwards are not picked up mid-run.
type Scope struct {
	TestID  string
	ItemIDs []string
}

// ScopeResolver turns a scope into the concrete item id list.
type ScopeResolver interface {
	Resolve(ctx context.Context, scope Scope) ([]string, error)
}

// Options carries the per-kind execution flags.
type Options struct {
	SkipAlreadyEnriched bool
	RevalidatePassed    bool
}

// Metrics receives per-item run outcomes. Nil-safe via noop default.
type Metrics interface {
	JobItem(kind Kind, status ItemStatus)
}

type noopMetrics struct{}

func (noopMetrics) JobItem(Kind, ItemStatus) {}

// Tracker submits and executes runs. Items within one run are processed
// strictly sequentially; enrichment and validation are rate- and
// cost-sensitive external calls, and one in-flight call per run keeps the
// load predictable. Concurrency comes from independent runs, which the
// claim registry keeps disjoint.
type Tracker struct {
	runs     RunStore
	claims   ClaimStore
	proc     Processor
	resolver ScopeResolver
	metrics  Metrics
}

func NewTracker(runs RunStore, claims ClaimStore, proc Processor, resolver ScopeResolver) *Tracker {
	return &Tracker{
		runs:     runs,
		claims:   claims,
		proc:     proc,
		resolver: resolver,
		metrics:  noopMetrics{},
	}
}

// WithMetrics attaches a metrics sink and returns the tracker.
func (t *Tracker) WithMetrics(m Metrics) *Tracker {
	if m != nil {
		t.metrics = m
	}
	return t
}

// Submit resolves the scope, claims its items, and starts the run in the
// background. It always returns a run id; scope-resolution faults surface
// through the polled status, not the submit call.
func (t *Tracker) Submit(ctx context.Context, kind Kind, scope Scope, opts Options) (string, error) {
	run := &Run{
		ID:        util.NewID("job"),
		Kind:      kind,
		Status:    StatusStarted,
		StartedAt: time.Now(),
		Results:   []ItemResult{},
	}

	ids, err := t.resolver.Resolve(ctx, scope)
	if err != nil {
		run.Status = StatusFailed
		run.Error = fmt.Sprintf("resolve scope: %v", err)
		now := time.Now()
		run.CompletedAt = &now
		if createErr := t.runs.Create(ctx, run); createErr != nil {
			return "", createErr
		}
		return run.ID, nil
	}

	// Claim conflicts are noted here but only recorded on the run once it
	// completes, after the processed results.
	var claimed []string
	var conflicts []ItemResult
	for _, id := range dedupe(ids) {
		acquired, err := t.claims.TryAcquire(ctx, id, run.ID)
		if err != nil {
			t.releaseAll(ctx, claimed)
			return "", fmt.Errorf("acquire claim for %s: %w", id, err)
		}
		if !acquired {
			conflicts = append(conflicts, ItemResult{
				ItemID: id,
				Status: ItemSkipped,
				Reason: "already_in_progress",
			})
			continue
		}
		claimed = append(claimed, id)
	}
	run.Total = len(claimed)

	if err := t.runs.Create(ctx, run); err != nil {
		t.releaseAll(ctx, claimed)
		return "", err
	}

	// The run outlives the submitting request.
	go t.execute(context.Background(), run, claimed, conflicts, opts)

	return run.ID, nil
}

// Status returns a read-only snapshot of the run.
func (t *Tracker) Status(ctx context.Context, id string) (*Run, error) {
	return t.runs.Get(ctx, id)
}

func (t *Tracker) execute(ctx context.Context, run *Run, itemIDs []string, conflicts []ItemResult, opts Options) {
	run.Status = StatusInProgress
	t.update(ctx, run)

	for _, itemID := range itemIDs {
		result := t.processOne(ctx, run.Kind, itemID, opts)

		if err := t.claims.Release(ctx, itemID); err != nil {
			log.Printf("job %s: release claim for %s: %v", run.ID, itemID, err)
		}

		run.Results = append(run.Results, result)
		run.Completed++
		switch result.Status {
		case ItemSuccess:
			run.Succeeded++
		case ItemFailed:
			run.Failed++
		}
		t.metrics.JobItem(run.Kind, result.Status)
		t.update(ctx, run)
	}

	for _, result := range conflicts {
		run.Results = append(run.Results, result)
		t.metrics.JobItem(run.Kind, result.Status)
	}

	run.Status = StatusCompleted
	now := time.Now()
	run.CompletedAt = &now
	t.update(ctx, run)
	log.Printf("job %s: completed kind=%s total=%d succeeded=%d failed=%d",
		run.ID, run.Kind, run.Total, run.Succeeded, run.Failed)
}

// processOne runs one item and converts every failure mode, panics
// included, into an ItemResult. A single item must never abort the batch.
func (t *Tracker) processOne(ctx context.Context, kind Kind, itemID string, opts Options) (result ItemResult) {
	result = ItemResult{ItemID: itemID}
	defer func() {
		if r := recover(); r != nil {
			result.Status = ItemFailed
			result.Error = fmt.Sprintf("panic: %v", r)
			log.Printf("job item %s: recovered panic: %v", itemID, r)
		}
	}()

	var outcome pipeline.Outcome
	var err error
	switch kind {
	case KindEnrichment:
		outcome, err = t.proc.RunEnrichment(ctx, itemID, pipeline.EnrichmentOptions{
			SkipAlreadyEnriched: opts.SkipAlreadyEnriched,
		})
	case KindValidation:
		outcome, err = t.proc.RunValidation(ctx, itemID, pipeline.ValidationOptions{
			RevalidatePassed: opts.RevalidatePassed,
		})
	default:
		err = fmt.Errorf("unknown job kind %q", kind)
	}

	if err != nil {
		result.Status = ItemFailed
		result.Error = err.Error()
		return result
	}
	if outcome.Skipped {
		result.Status = ItemSkipped
		result.Reason = outcome.SkipReason
		return result
	}
	result.Status = ItemSuccess
	result.Detail = outcome.Detail
	return result
}

func (t *Tracker) update(ctx context.Context, run *Run) {
	if err := t.runs.Update(ctx, run); err != nil {
		log.Printf("job %s: update run: %v", run.ID, err)
	}
}

func (t *Tracker) releaseAll(ctx context.Context, itemIDs []string) {
	for _, id := range itemIDs {
		if err := t.claims.Release(ctx, id); err != nil {
			log.Printf("job: release claim for %s: %v", id, err)
		}
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
