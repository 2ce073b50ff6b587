package pipeline

import (
	"context"
	"errors"
	"testing"

	"itemforge/api/internal/gate"
	"itemforge/api/internal/store"
)

type fakeItemStore struct {
	items   map[string]store.Item
	records map[string]store.ValidationRecord
	stages  []store.Stage
	commits int
}

func newFakeItemStore(items ...store.Item) *fakeItemStore {
	f := &fakeItemStore{
		items:   make(map[string]store.Item),
		records: make(map[string]store.ValidationRecord),
	}
	for _, item := range items {
		f.items[item.ID] = item
	}
	return f
}

func (f *fakeItemStore) GetItem(_ context.Context, id string) (store.Item, error) {
	item, ok := f.items[id]
	if !ok {
		return store.Item{}, store.ErrNotFound
	}
	return item, nil
}

func (f *fakeItemStore) UpdateItemStage(_ context.Context, id string, stage store.Stage) error {
	item := f.items[id]
	item.Stage = stage
	f.items[id] = item
	f.stages = append(f.stages, stage)
	return nil
}

func (f *fakeItemStore) SaveEnrichedDocument(_ context.Context, id, document string, stage store.Stage) error {
	item := f.items[id]
	item.EnrichedDocument = &document
	item.Stage = stage
	f.items[id] = item
	f.stages = append(f.stages, stage)
	return nil
}

func (f *fakeItemStore) ReplaceValidationRecord(_ context.Context, rec store.ValidationRecord) error {
	f.records[rec.ItemID] = rec
	return nil
}

func (f *fakeItemStore) GetValidationRecord(_ context.Context, itemID string) (*store.ValidationRecord, error) {
	rec, ok := f.records[itemID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (f *fakeItemStore) CommitDocument(itemID, document, message string) error {
	f.commits++
	return nil
}

type stubEnhancer struct {
	fn func(doc string, feedback []string) (string, error)
}

func (s *stubEnhancer) Enhance(_ context.Context, doc string, feedback []string) (string, error) {
	if s.fn != nil {
		return s.fn(doc, feedback)
	}
	return doc + "<modalFeedback/>", nil
}

type stubStructure struct {
	fn func(doc string) (gate.StructuralVerdict, error)
}

func (s *stubStructure) CheckStructure(_ context.Context, doc string) (gate.StructuralVerdict, error) {
	if s.fn != nil {
		return s.fn(doc)
	}
	return gate.StructuralVerdict{Status: gate.StatusPass}, nil
}

type stubSemantic struct {
	fn func(doc string) (gate.SemanticVerdict, error)
}

func (s *stubSemantic) CheckSemantics(_ context.Context, doc string) (gate.SemanticVerdict, error) {
	if s.fn != nil {
		return s.fn(doc)
	}
	return gate.SemanticVerdict{Checks: map[string]gate.CheckVerdict{
		"answer_key_correct": {Status: gate.StatusPass},
	}}, nil
}

func newOrchestrator(f *fakeItemStore, enhancer *stubEnhancer, structure *stubStructure, semantic *stubSemantic) *Orchestrator {
	return New(f, gate.NewEvaluator(enhancer, structure, semantic), f, 2)
}

func rawItem(id string) store.Item {
	return store.Item{ID: id, TestID: "test-1", RawDocument: "<assessmentItem/>", Stage: store.StageRaw}
}

func TestRunEnrichmentHappyPath(t *testing.T) {
	f := newFakeItemStore(rawItem("q1"))
	o := newOrchestrator(f, &stubEnhancer{}, &stubStructure{}, &stubSemantic{})

	outcome, err := o.RunEnrichment(context.Background(), "q1", EnrichmentOptions{})
	if err != nil {
		t.Fatalf("RunEnrichment: %v", err)
	}
	if outcome.Skipped {
		t.Fatal("unexpected skip")
	}

	item := f.items["q1"]
	if item.Stage != store.StageSemanticallyValidating {
		t.Fatalf("stage = %s, want %s", item.Stage, store.StageSemanticallyValidating)
	}
	wantStages := []store.Stage{store.StageEnriching, store.StageStructurallyValidating, store.StageSemanticallyValidating}
	if len(f.stages) != len(wantStages) {
		t.Fatalf("stage transitions = %v, want %v", f.stages, wantStages)
	}
	for i, stage := range wantStages {
		if f.stages[i] != stage {
			t.Fatalf("stage transitions = %v, want %v", f.stages, wantStages)
		}
	}
	if item.EnrichedDocument == nil {
		t.Fatal("enriched document not saved")
	}
	rec := f.records["q1"]
	if rec.StructuralStatus != "pass" || rec.CanSync {
		t.Fatalf("record = %+v, want structural pass, can_sync false before semantic gate", rec)
	}
	if rec.SemanticOverall != "not_run" {
		t.Fatalf("semantic overall = %s, want not_run", rec.SemanticOverall)
	}
	if f.commits != 1 {
		t.Fatalf("audit commits = %d, want 1", f.commits)
	}
}

func TestRunEnrichmentExhaustedBudgetBlocks(t *testing.T) {
	f := newFakeItemStore(rawItem("q3"))
	structure := &stubStructure{fn: func(string) (gate.StructuralVerdict, error) {
		return gate.StructuralVerdict{Status: gate.StatusFail, Violations: []string{"missing responseDeclaration"}}, nil
	}}
	o := newOrchestrator(f, &stubEnhancer{}, structure, &stubSemantic{})

	_, err := o.RunEnrichment(context.Background(), "q3", EnrichmentOptions{})
	var gateErr *GateFailure
	if !errors.As(err, &gateErr) || gateErr.Gate != "structural" {
		t.Fatalf("err = %v, want structural GateFailure", err)
	}
	if f.items["q3"].Stage != store.StageBlocked {
		t.Fatalf("stage = %s, want blocked", f.items["q3"].Stage)
	}
	rec := f.records["q3"]
	if rec.StructuralStatus != "fail" || rec.CanSync {
		t.Fatalf("record = %+v, want failing structural record", rec)
	}
	if len(rec.StructuralViolations) == 0 {
		t.Fatal("violations not recorded")
	}
}

func TestRunEnrichmentSkipAlreadyEnriched(t *testing.T) {
	enriched := "<assessmentItem><modalFeedback/></assessmentItem>"
	item := rawItem("q4")
	item.EnrichedDocument = &enriched
	item.Stage = store.StageSemanticallyValidating
	f := newFakeItemStore(item)
	enhancer := &stubEnhancer{fn: func(string, []string) (string, error) {
		t.Fatal("enhancer called for an already-enriched item")
		return "", nil
	}}
	o := newOrchestrator(f, enhancer, &stubStructure{}, &stubSemantic{})

	outcome, err := o.RunEnrichment(context.Background(), "q4", EnrichmentOptions{SkipAlreadyEnriched: true})
	if err != nil {
		t.Fatalf("RunEnrichment: %v", err)
	}
	if !outcome.Skipped || outcome.SkipReason != "already_enriched" {
		t.Fatalf("outcome = %+v, want already_enriched skip", outcome)
	}
}

func TestRunEnrichmentInfrastructureErrorResetsToRaw(t *testing.T) {
	f := newFakeItemStore(rawItem("q5"))
	structure := &stubStructure{fn: func(string) (gate.StructuralVerdict, error) {
		return gate.StructuralVerdict{}, errors.New("validator unreachable")
	}}
	o := newOrchestrator(f, &stubEnhancer{}, structure, &stubSemantic{})

	_, err := o.RunEnrichment(context.Background(), "q5", EnrichmentOptions{})
	if err == nil {
		t.Fatal("expected error")
	}
	var gateErr *GateFailure
	if errors.As(err, &gateErr) {
		t.Fatalf("infrastructure fault misreported as gate failure: %v", err)
	}
	if f.items["q5"].Stage != store.StageRaw {
		t.Fatalf("stage = %s, want raw after infrastructure error", f.items["q5"].Stage)
	}
}

func semanticallyValidatingItem(id string) (store.Item, store.ValidationRecord) {
	enriched := "<assessmentItem><modalFeedback/></assessmentItem>"
	item := rawItem(id)
	item.EnrichedDocument = &enriched
	item.Stage = store.StageSemanticallyValidating
	rec := store.ValidationRecord{
		ItemID:           id,
		StructuralStatus: "pass",
		SemanticOverall:  "not_run",
		SemanticChecks:   map[string]store.CheckResult{},
	}
	return item, rec
}

func TestRunValidationPassReachesCanSync(t *testing.T) {
	item, rec := semanticallyValidatingItem("q1")
	f := newFakeItemStore(item)
	f.records["q1"] = rec
	o := newOrchestrator(f, &stubEnhancer{}, &stubStructure{}, &stubSemantic{})

	outcome, err := o.RunValidation(context.Background(), "q1", ValidationOptions{})
	if err != nil {
		t.Fatalf("RunValidation: %v", err)
	}
	if outcome.Skipped {
		t.Fatal("unexpected skip")
	}
	if f.items["q1"].Stage != store.StageCanSync {
		t.Fatalf("stage = %s, want can_sync", f.items["q1"].Stage)
	}
	got := f.records["q1"]
	if !got.CanSync || got.StructuralStatus != "pass" || got.SemanticOverall != "pass" {
		t.Fatalf("record = %+v, want passing record with can_sync", got)
	}

	// The record write must precede the stage transition: replay the
	// recorded stage order and check can_sync came last.
	last := f.stages[len(f.stages)-1]
	if last != store.StageCanSync {
		t.Fatalf("last stage transition = %s, want can_sync", last)
	}
}

func TestRunValidationFailBlocks(t *testing.T) {
	item, rec := semanticallyValidatingItem("q2")
	f := newFakeItemStore(item)
	f.records["q2"] = rec
	semantic := &stubSemantic{fn: func(string) (gate.SemanticVerdict, error) {
		return gate.SemanticVerdict{Checks: map[string]gate.CheckVerdict{
			"answer_key_correct": {Status: gate.StatusFail, Issues: []string{"key marks a distractor correct"}},
			"language_clarity":   {Status: gate.StatusPass},
		}}, nil
	}}
	o := newOrchestrator(f, &stubEnhancer{}, &stubStructure{}, semantic)

	_, err := o.RunValidation(context.Background(), "q2", ValidationOptions{})
	var gateErr *GateFailure
	if !errors.As(err, &gateErr) || gateErr.Gate != "semantic" {
		t.Fatalf("err = %v, want semantic GateFailure", err)
	}
	if f.items["q2"].Stage != store.StageBlocked {
		t.Fatalf("stage = %s, want blocked", f.items["q2"].Stage)
	}
	got := f.records["q2"]
	if got.CanSync || got.SemanticOverall != "fail" {
		t.Fatalf("record = %+v, want failing semantic record", got)
	}
	if check := got.SemanticChecks["answer_key_correct"]; check.Status != "fail" || len(check.Issues) == 0 {
		t.Fatalf("check = %+v, want itemized failure", check)
	}
}

func TestRunValidationNotReadyWithoutStructuralPass(t *testing.T) {
	f := newFakeItemStore(rawItem("q6"))
	o := newOrchestrator(f, &stubEnhancer{}, &stubStructure{}, &stubSemantic{})

	_, err := o.RunValidation(context.Background(), "q6", ValidationOptions{})
	var notReady *NotReadyError
	if !errors.As(err, &notReady) {
		t.Fatalf("err = %v, want NotReadyError", err)
	}
}

func TestRunValidationNotReadyMidStructuralCheck(t *testing.T) {
	item, rec := semanticallyValidatingItem("q8")
	item.Stage = store.StageStructurallyValidating
	f := newFakeItemStore(item)
	f.records["q8"] = rec
	o := newOrchestrator(f, &stubEnhancer{}, &stubStructure{}, &stubSemantic{})

	_, err := o.RunValidation(context.Background(), "q8", ValidationOptions{})
	var notReady *NotReadyError
	if !errors.As(err, &notReady) {
		t.Fatalf("err = %v, want NotReadyError for an item still in the structural gate", err)
	}
}

func TestRunValidationSkipsAlreadyPassed(t *testing.T) {
	item, rec := semanticallyValidatingItem("q7")
	item.Stage = store.StageCanSync
	rec.SemanticOverall = "pass"
	rec.CanSync = true
	f := newFakeItemStore(item)
	f.records["q7"] = rec
	o := newOrchestrator(f, &stubEnhancer{}, &stubStructure{}, &stubSemantic{})

	outcome, err := o.RunValidation(context.Background(), "q7", ValidationOptions{})
	if err != nil {
		t.Fatalf("RunValidation: %v", err)
	}
	if !outcome.Skipped || outcome.SkipReason != "already_validated" {
		t.Fatalf("outcome = %+v, want already_validated skip", outcome)
	}

	// With RevalidatePassed the semantic gate runs again.
	outcome, err = o.RunValidation(context.Background(), "q7", ValidationOptions{RevalidatePassed: true})
	if err != nil {
		t.Fatalf("RunValidation revalidate: %v", err)
	}
	if outcome.Skipped {
		t.Fatal("revalidation should not skip")
	}
}
