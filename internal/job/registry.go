package job

import (
	"context"
	"fmt"
	"sync"
)

// RunStore persists run snapshots for polling. The in-memory
// implementation is the default; runs stored there do not survive a
// process restart, which is acceptable because the pipeline's source of
// truth is the persisted validation records, not the run log.
type RunStore interface {
	Create(ctx context.Context, run *Run) error
	Get(ctx context.Context, id string) (*Run, error)
	Update(ctx context.Context, run *Run) error
}

// ClaimStore provides atomic check-claim-and-insert over item ids. At
// most one active run holds the claim for a given item.
type ClaimStore interface {
	// TryAcquire claims the item for the run. Returns false when another
	// run already holds the claim.
	TryAcquire(ctx context.Context, itemID, runID string) (bool, error)
	Release(ctx context.Context, itemID string) error
}

// MemoryRunStore keeps run snapshots in a process-local map.
type MemoryRunStore struct {
	mu   sync.RWMutex
	runs map[string]*Run
}

func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{runs: make(map[string]*Run)}
}

func (s *MemoryRunStore) Create(_ context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	s.runs[run.ID] = run.Clone()
	return nil
}

func (s *MemoryRunStore) Get(_ context.Context, id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return run.Clone(), nil
}

func (s *MemoryRunStore) Update(_ context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; !ok {
		return ErrJobNotFound
	}
	s.runs[run.ID] = run.Clone()
	return nil
}

// MemoryClaimStore implements test-and-set claims with a mutex.
type MemoryClaimStore struct {
	mu     sync.Mutex
	claims map[string]string
}

func NewMemoryClaimStore() *MemoryClaimStore {
	return &MemoryClaimStore{claims: make(map[string]string)}
}

func (s *MemoryClaimStore) TryAcquire(_ context.Context, itemID, runID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, held := s.claims[itemID]; held {
		return false, nil
	}
	s.claims[itemID] = runID
	return true, nil
}

func (s *MemoryClaimStore) Release(_ context.Context, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claims, itemID)
	return nil
}
