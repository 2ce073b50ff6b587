package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestCommitAndHistory(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir, "pipeline")

	if err := svc.CommitDocument("q1", "<assessmentItem>v1</assessmentItem>", "Enrichment pass (1 attempt(s))"); err != nil {
		t.Fatalf("CommitDocument() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "q1")); err != nil {
		t.Fatalf("repo directory missing: %v", err)
	}
	if err := svc.CommitDocument("q1", "<assessmentItem>v2</assessmentItem>", "Enrichment pass (2 attempt(s))"); err != nil {
		t.Fatalf("second CommitDocument() error = %v", err)
	}

	history, err := svc.History("q1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 commits, got %d", len(history))
	}
	if !strings.Contains(history[0].Message, "2 attempt") {
		t.Fatalf("expected newest first, got %q", history[0].Message)
	}
	if history[0].Author != "pipeline" {
		t.Fatalf("unexpected author %q", history[0].Author)
	}
}

func TestDocumentAtRevision(t *testing.T) {
	svc := New(t.TempDir(), "pipeline")

	if err := svc.CommitDocument("q1", "<a>old</a>", "first"); err != nil {
		t.Fatalf("CommitDocument() error = %v", err)
	}
	if err := svc.CommitDocument("q1", "<a>new</a>", "second"); err != nil {
		t.Fatalf("CommitDocument() error = %v", err)
	}

	history, err := svc.History("q1", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 commits, got %d", len(history))
	}

	doc, err := svc.DocumentAt("q1", history[1].Hash)
	if err != nil {
		t.Fatalf("DocumentAt() error = %v", err)
	}
	if doc != "<a>old</a>" {
		t.Fatalf("expected first revision content, got %q", doc)
	}
}

func TestHistoryOfUnknownItemIsEmpty(t *testing.T) {
	svc := New(t.TempDir(), "pipeline")
	history, err := svc.History("never-seen", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected empty history, got %d", len(history))
	}
}

func TestConcurrentCommitsSameItem(t *testing.T) {
	svc := New(t.TempDir(), "pipeline")

	const writers = 12
	var wg sync.WaitGroup
	errCh := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			doc := fmt.Sprintf("<assessmentItem>rev-%02d</assessmentItem>", idx)
			if err := svc.CommitDocument("q1", doc, fmt.Sprintf("Commit %02d", idx)); err != nil {
				errCh <- err
			}
		}(i)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			t.Fatalf("CommitDocument() concurrent error = %v", err)
		}
	}

	history, err := svc.History("q1", 100)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != writers {
		t.Fatalf("expected %d commits, got %d", writers, len(history))
	}
}
