package publish

import (
	"context"
	"errors"
	"testing"

	"itemforge/api/internal/store"
)

type fakeLocal struct {
	items   []store.Item
	records map[string]*store.ValidationRecord
	err     error
}

func (f *fakeLocal) ListItemsByTest(_ context.Context, testID string) ([]store.Item, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []store.Item
	for _, item := range f.items {
		if item.TestID == testID {
			out = append(out, item)
		}
	}
	return out, nil
}

func (f *fakeLocal) GetValidationRecord(_ context.Context, itemID string) (*store.ValidationRecord, error) {
	return f.records[itemID], nil
}

type fakeRemote struct {
	docs    map[string]RemoteDocument
	getErr  error
	upserts []RemoteDocument
	failIDs map[string]error
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{docs: make(map[string]RemoteDocument), failIDs: make(map[string]error)}
}

func (f *fakeRemote) Get(_ context.Context, id string) (*RemoteDocument, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	doc, ok := f.docs[id]
	if !ok {
		return nil, nil
	}
	return &doc, nil
}

func (f *fakeRemote) Upsert(_ context.Context, doc RemoteDocument) error {
	if err, ok := f.failIDs[doc.ID]; ok {
		return err
	}
	f.upserts = append(f.upserts, doc)
	f.docs[doc.ID] = doc
	return nil
}

func strptr(s string) *string { return &s }

func syncableItem(id, testID, doc string) store.Item {
	return store.Item{
		ID:               id,
		TestID:           testID,
		Title:            "Item " + id,
		RawDocument:      "<assessmentItem>raw</assessmentItem>",
		EnrichedDocument: strptr(doc),
		Stage:            store.StageCanSync,
	}
}

func TestPreviewClassifiesCreate(t *testing.T) {
	local := &fakeLocal{items: []store.Item{syncableItem("q1", "t1", "<assessmentItem>a</assessmentItem>")}}
	remote := newFakeRemote()
	d := NewDiffer(local, remote)

	entries, err := d.Preview(context.Background(), "t1", Options{})
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Classification != ClassCreate {
		t.Errorf("expected create, got %s", entries[0].Classification)
	}
}

func TestPreviewWhitespaceOnlyDifferenceIsUnchanged(t *testing.T) {
	local := &fakeLocal{items: []store.Item{
		syncableItem("q1", "t1", "<assessmentItem>\n  <itemBody>x</itemBody>\n</assessmentItem>"),
	}}
	remote := newFakeRemote()
	remote.docs["q1"] = RemoteDocument{
		ID:       "q1",
		Document: "<assessmentItem><itemBody>x</itemBody></assessmentItem>",
	}
	d := NewDiffer(local, remote)

	entries, err := d.Preview(context.Background(), "t1", Options{})
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if entries[0].Classification != ClassUnchanged {
		t.Errorf("expected unchanged, got %s", entries[0].Classification)
	}
}

func TestPreviewSkipsByStage(t *testing.T) {
	items := []store.Item{
		{ID: "q1", TestID: "t1", RawDocument: "<a/>", Stage: store.StageRaw},
		{ID: "q2", TestID: "t1", RawDocument: "<a/>", Stage: store.StageBlocked},
		{ID: "q3", TestID: "t1", RawDocument: "<a/>", Stage: store.StageEnriching},
		{ID: "q4", TestID: "t1", RawDocument: "<a/>", Stage: store.StageBlocked},
	}
	// q2 ran out of structural retries and never reached the semantic
	// gate; q4 completed validation with a failing semantic verdict.
	records := map[string]*store.ValidationRecord{
		"q2": {ItemID: "q2", StructuralStatus: "fail", SemanticOverall: "not_run"},
		"q4": {ItemID: "q4", StructuralStatus: "pass", SemanticOverall: "fail"},
	}
	d := NewDiffer(&fakeLocal{items: items, records: records}, newFakeRemote())

	entries, err := d.Preview(context.Background(), "t1", Options{})
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	want := map[string]string{
		"q1": ReasonNotValidated,
		"q2": ReasonNotValidated,
		"q3": ReasonNotValidated,
		"q4": ReasonValidationFailed,
	}
	for _, e := range entries {
		if e.Classification != ClassSkip {
			t.Errorf("%s: expected skip, got %s", e.ItemID, e.Classification)
		}
		if e.Reason != want[e.ItemID] {
			t.Errorf("%s: expected reason %s, got %s", e.ItemID, want[e.ItemID], e.Reason)
		}
	}
}

func TestPreviewBlockedWithoutRecordIsNotValidated(t *testing.T) {
	items := []store.Item{{ID: "q1", TestID: "t1", RawDocument: "<a/>", Stage: store.StageBlocked}}
	d := NewDiffer(&fakeLocal{items: items}, newFakeRemote())

	entries, err := d.Preview(context.Background(), "t1", Options{})
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if entries[0].Reason != ReasonNotValidated {
		t.Errorf("expected %s, got %s", ReasonNotValidated, entries[0].Reason)
	}
}

func TestPreviewVariantsExcludedByDefault(t *testing.T) {
	base := syncableItem("q1", "t1", "<a>1</a>")
	variant := syncableItem("q1-v2", "t1", "<a>2</a>")
	variant.IsVariant = true
	local := &fakeLocal{items: []store.Item{base, variant}}
	d := NewDiffer(local, newFakeRemote())

	entries, err := d.Preview(context.Background(), "t1", Options{})
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	byID := map[string]Entry{}
	for _, e := range entries {
		byID[e.ItemID] = e
	}
	if byID["q1"].Classification != ClassCreate {
		t.Errorf("base item: expected create, got %s", byID["q1"].Classification)
	}
	if byID["q1-v2"].Classification != ClassSkip || byID["q1-v2"].Reason != ReasonVariantExcluded {
		t.Errorf("variant: expected skip/%s, got %s/%s", ReasonVariantExcluded, byID["q1-v2"].Classification, byID["q1-v2"].Reason)
	}

	entries, err = d.Preview(context.Background(), "t1", Options{IncludeVariants: true})
	if err != nil {
		t.Fatalf("Preview with variants: %v", err)
	}
	for _, e := range entries {
		if e.Classification != ClassCreate {
			t.Errorf("%s: expected create with variants included, got %s", e.ItemID, e.Classification)
		}
	}
}

func TestPreviewUpdateSummarizesFeedback(t *testing.T) {
	withFeedback := "<assessmentItem><itemBody>x</itemBody><modalFeedback>hint</modalFeedback></assessmentItem>"
	withoutFeedback := "<assessmentItem><itemBody>x</itemBody></assessmentItem>"
	editedFeedback := "<assessmentItem><itemBody>x</itemBody><modalFeedback>better hint</modalFeedback></assessmentItem>"

	local := &fakeLocal{items: []store.Item{
		syncableItem("q1", "t1", withFeedback),
		syncableItem("q2", "t1", editedFeedback),
	}}
	remote := newFakeRemote()
	remote.docs["q1"] = RemoteDocument{ID: "q1", Document: withoutFeedback}
	remote.docs["q2"] = RemoteDocument{ID: "q2", Document: withFeedback}
	d := NewDiffer(local, remote)

	entries, err := d.Preview(context.Background(), "t1", Options{})
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	byID := map[string]Entry{}
	for _, e := range entries {
		byID[e.ItemID] = e
	}

	q1 := byID["q1"]
	if q1.Classification != ClassUpdate || q1.Change == nil {
		t.Fatalf("q1: expected update with change summary, got %+v", q1)
	}
	if !q1.Change.FeedbackAdded || q1.Change.FeedbackEdited {
		t.Errorf("q1: expected feedback added, got %+v", q1.Change)
	}

	q2 := byID["q2"]
	if q2.Classification != ClassUpdate || q2.Change == nil {
		t.Fatalf("q2: expected update with change summary, got %+v", q2)
	}
	if q2.Change.FeedbackAdded || !q2.Change.FeedbackEdited {
		t.Errorf("q2: expected feedback edited, got %+v", q2.Change)
	}
}

func TestPreviewIsIdempotent(t *testing.T) {
	local := &fakeLocal{items: []store.Item{
		syncableItem("q1", "t1", "<a>1</a>"),
		{ID: "q2", TestID: "t1", RawDocument: "<a/>", Stage: store.StageBlocked},
	}}
	remote := newFakeRemote()
	remote.docs["q1"] = RemoteDocument{ID: "q1", Document: "<a>old</a>"}
	d := NewDiffer(local, remote)

	first, err := d.Preview(context.Background(), "t1", Options{})
	if err != nil {
		t.Fatalf("first Preview: %v", err)
	}
	second, err := d.Preview(context.Background(), "t1", Options{})
	if err != nil {
		t.Fatalf("second Preview: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("entry counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Classification != second[i].Classification || first[i].Reason != second[i].Reason {
			t.Errorf("entry %d differs between previews: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestPreviewRemoteLookupFailure(t *testing.T) {
	local := &fakeLocal{items: []store.Item{syncableItem("q1", "t1", "<a/>")}}
	remote := newFakeRemote()
	remote.getErr = errors.New("connection refused")
	d := NewDiffer(local, remote)

	if _, err := d.Preview(context.Background(), "t1", Options{}); err == nil {
		t.Fatal("expected error when remote lookup fails")
	}
}

func TestSyncableDocumentFallsBackToRaw(t *testing.T) {
	item := store.Item{
		ID:          "q1",
		TestID:      "t1",
		RawDocument: "<assessmentItem>raw</assessmentItem>",
		Stage:       store.StageCanSync,
	}
	if got := syncableDocument(item); got != item.RawDocument {
		t.Errorf("expected raw document, got %q", got)
	}
	item.EnrichedDocument = strptr("<assessmentItem>enriched</assessmentItem>")
	if got := syncableDocument(item); got != *item.EnrichedDocument {
		t.Errorf("expected enriched document, got %q", got)
	}
}
