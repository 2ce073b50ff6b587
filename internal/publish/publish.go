// Package publish decides what a sync to the delivery index would do and
// applies it. The diff side is a pure read over local and remote state;
// the executor re-derives the diff at call time and writes create/update
// entries with upsert semantics.
package publish

import (
	"context"
	"fmt"
	"time"
)

// RemoteDocument is an item as stored in the delivery index.
type RemoteDocument struct {
	ID       string    `json:"id"`
	TestID   string    `json:"testId"`
	Title    string    `json:"title"`
	Document string    `json:"document"`
	SyncedAt time.Time `json:"syncedAt"`
}

// RemoteStore is the delivery-side collaborator. Get returns nil when the
// item is absent remotely; Upsert is last-writer-wins.
type RemoteStore interface {
	Get(ctx context.Context, id string) (*RemoteDocument, error)
	Upsert(ctx context.Context, doc RemoteDocument) error
}

// Classification of one item relative to the remote store.
type Classification string

const (
	ClassCreate    Classification = "create"
	ClassUpdate    Classification = "update"
	ClassUnchanged Classification = "unchanged"
	ClassSkip      Classification = "skip"
)

// Skip reasons.
const (
	ReasonNotValidated     = "not_validated"
	ReasonValidationFailed = "validation_failed"
	ReasonVariantExcluded  = "variant_excluded"
)

// ChangeSummary describes what an update would change. FeedbackAdded
// means the local document carries feedback the remote copy lacks;
// FeedbackEdited means both carry feedback but the content differs.
type ChangeSummary struct {
	FeedbackAdded  bool `json:"feedbackAdded"`
	FeedbackEdited bool `json:"feedbackEdited"`
}

// Entry is the diff classification for one item. Derived, never
// persisted; recomputed on every preview.
type Entry struct {
	ItemID         string         `json:"itemId"`
	Classification Classification `json:"classification"`
	Reason         string         `json:"reason,omitempty"`
	Change         *ChangeSummary `json:"changeSummary,omitempty"`
}

// Options controls scope expansion for both preview and execute.
type Options struct {
	IncludeVariants bool
}

// SyncWriteError wraps a failed remote upsert for one item.
type SyncWriteError struct {
	ItemID string
	Err    error
}

func (e *SyncWriteError) Error() string {
	return fmt.Sprintf("sync write for %s failed: %v", e.ItemID, e.Err)
}

func (e *SyncWriteError) Unwrap() error { return e.Err }
