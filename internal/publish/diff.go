package publish

import (
	"context"
	"fmt"

	"itemforge/api/internal/gate"
	"itemforge/api/internal/qti"
	"itemforge/api/internal/store"
)

// LocalStore is the authoring-side read surface the differ needs.
type LocalStore interface {
	ListItemsByTest(ctx context.Context, testID string) ([]store.Item, error)
	GetValidationRecord(ctx context.Context, itemID string) (*store.ValidationRecord, error)
}

// Differ classifies authoring items against the delivery index.
type Differ struct {
	local  LocalStore
	remote RemoteStore
}

func NewDiffer(local LocalStore, remote RemoteStore) *Differ {
	return &Differ{local: local, remote: remote}
}

// Preview computes the diff for every item of a test. The result is a
// snapshot: nothing is written, and running it twice against unchanged
// state yields the same entries.
func (d *Differ) Preview(ctx context.Context, testID string, opts Options) ([]Entry, error) {
	entries, _, err := d.preview(ctx, testID, opts)
	return entries, err
}

// preview also returns the item snapshot the entries were derived from,
// so the executor writes exactly what was classified.
func (d *Differ) preview(ctx context.Context, testID string, opts Options) ([]Entry, map[string]store.Item, error) {
	items, err := d.local.ListItemsByTest(ctx, testID)
	if err != nil {
		return nil, nil, fmt.Errorf("list items for %s: %w", testID, err)
	}
	entries := make([]Entry, 0, len(items))
	byID := make(map[string]store.Item, len(items))
	for _, item := range items {
		byID[item.ID] = item
		if item.IsVariant && !opts.IncludeVariants {
			entries = append(entries, Entry{ItemID: item.ID, Classification: ClassSkip, Reason: ReasonVariantExcluded})
			continue
		}
		entry, err := d.classify(ctx, item)
		if err != nil {
			return nil, nil, err
		}
		entries = append(entries, entry)
	}
	return entries, byID, nil
}

func (d *Differ) classify(ctx context.Context, item store.Item) (Entry, error) {
	if item.Stage != store.StageCanSync {
		reason, err := d.skipReason(ctx, item)
		if err != nil {
			return Entry{}, err
		}
		return Entry{ItemID: item.ID, Classification: ClassSkip, Reason: reason}, nil
	}
	local := syncableDocument(item)
	remote, err := d.remote.Get(ctx, item.ID)
	if err != nil {
		return Entry{}, fmt.Errorf("remote lookup for %s: %w", item.ID, err)
	}
	if remote == nil {
		return Entry{ItemID: item.ID, Classification: ClassCreate}, nil
	}
	if qti.Equal(local, remote.Document) {
		return Entry{ItemID: item.ID, Classification: ClassUnchanged}, nil
	}
	return Entry{
		ItemID:         item.ID,
		Classification: ClassUpdate,
		Change:         summarizeChange(local, remote.Document),
	}, nil
}

// skipReason distinguishes items that never completed a full validation
// pass from items whose semantic verdict came back negative. A blocked
// item whose record still shows the semantic gate as not_run exhausted
// its structural retry budget and was never fully validated.
func (d *Differ) skipReason(ctx context.Context, item store.Item) (string, error) {
	if item.Stage != store.StageBlocked {
		return ReasonNotValidated, nil
	}
	rec, err := d.local.GetValidationRecord(ctx, item.ID)
	if err != nil {
		return "", fmt.Errorf("validation record for %s: %w", item.ID, err)
	}
	if rec == nil || rec.SemanticOverall == string(gate.StatusNotRun) {
		return ReasonNotValidated, nil
	}
	return ReasonValidationFailed, nil
}

// syncableDocument is the content a sync would deliver: the enriched
// document when one exists, the raw authoring document otherwise.
func syncableDocument(item store.Item) string {
	if item.EnrichedDocument != nil {
		return *item.EnrichedDocument
	}
	return item.RawDocument
}

func summarizeChange(local, remote string) *ChangeSummary {
	localFB := qti.HasFeedback(local)
	remoteFB := qti.HasFeedback(remote)
	return &ChangeSummary{
		FeedbackAdded:  localFB && !remoteFB,
		FeedbackEdited: localFB && remoteFB,
	}
}
