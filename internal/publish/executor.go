package publish

import (
	"context"
	"fmt"
	"log"
	"time"

	"itemforge/api/internal/store"
)

// AssetMirror copies an item's media from the authoring bucket to the
// delivery bucket. Implemented by the assets package; nil disables
// mirroring.
type AssetMirror interface {
	Mirror(ctx context.Context, prefix string) error
}

// Metrics receives one observation per attempted remote write.
type Metrics interface {
	SyncWrite(classification Classification, ok bool)
}

type noopMetrics struct{}

func (noopMetrics) SyncWrite(Classification, bool) {}

// Detail is the per-item outcome of an executed sync.
type Detail struct {
	ItemID         string         `json:"itemId"`
	Classification Classification `json:"classification"`
	Reason         string         `json:"reason,omitempty"`
	Error          string         `json:"error,omitempty"`
}

// Summary aggregates one sync execution.
type Summary struct {
	Created   int      `json:"created"`
	Updated   int      `json:"updated"`
	Unchanged int      `json:"unchanged"`
	Skipped   int      `json:"skipped"`
	Failed    int      `json:"failed"`
	Details   []Detail `json:"details"`
}

// Executor applies a sync. It never trusts a previously previewed diff:
// the classification is re-derived against current state at call time.
type Executor struct {
	differ  *Differ
	remote  RemoteStore
	assets  AssetMirror
	metrics Metrics
	now     func() time.Time
}

func NewExecutor(differ *Differ, remote RemoteStore) *Executor {
	return &Executor{
		differ:  differ,
		remote:  remote,
		metrics: noopMetrics{},
		now:     time.Now,
	}
}

// WithAssetMirror enables media mirroring alongside document writes.
func (e *Executor) WithAssetMirror(m AssetMirror) *Executor {
	e.assets = m
	return e
}

func (e *Executor) WithMetrics(m Metrics) *Executor {
	e.metrics = m
	return e
}

// Execute syncs a test. A failed write for one item is recorded and does
// not abort the rest; the error return is reserved for failures before
// any writes start (scope listing, remote lookups).
func (e *Executor) Execute(ctx context.Context, testID string, opts Options) (*Summary, error) {
	entries, items, err := e.differ.preview(ctx, testID, opts)
	if err != nil {
		return nil, err
	}

	summary := &Summary{Details: make([]Detail, 0, len(entries))}
	for _, entry := range entries {
		detail := Detail{ItemID: entry.ItemID, Classification: entry.Classification, Reason: entry.Reason}
		switch entry.Classification {
		case ClassSkip:
			summary.Skipped++
		case ClassUnchanged:
			summary.Unchanged++
		case ClassCreate, ClassUpdate:
			item, ok := items[entry.ItemID]
			if !ok {
				detail.Error = fmt.Sprintf("item %s missing from snapshot", entry.ItemID)
				summary.Failed++
				break
			}
			if err := e.write(ctx, item); err != nil {
				e.metrics.SyncWrite(entry.Classification, false)
				log.Printf("publish: %v", &SyncWriteError{ItemID: entry.ItemID, Err: err})
				detail.Error = err.Error()
				summary.Failed++
				break
			}
			e.metrics.SyncWrite(entry.Classification, true)
			if entry.Classification == ClassCreate {
				summary.Created++
			} else {
				summary.Updated++
			}
		}
		summary.Details = append(summary.Details, detail)
	}
	return summary, nil
}

func (e *Executor) write(ctx context.Context, item store.Item) error {
	if e.assets != nil && item.MediaPrefix != "" {
		if err := e.assets.Mirror(ctx, item.MediaPrefix); err != nil {
			return fmt.Errorf("mirror assets: %w", err)
		}
	}
	doc := RemoteDocument{
		ID:       item.ID,
		TestID:   item.TestID,
		Title:    item.Title,
		Document: syncableDocument(item),
		SyncedAt: e.now().UTC(),
	}
	return e.remote.Upsert(ctx, doc)
}
