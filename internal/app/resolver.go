package app

import (
	"context"
	"fmt"
	"net/http"

	"itemforge/api/internal/job"
	"itemforge/api/internal/store"
)

// ItemLister is the read surface scope resolution needs.
type ItemLister interface {
	ListItemsByTest(ctx context.Context, testID string) ([]store.Item, error)
}

type scopeResolver struct {
	items ItemLister
}

// NewScopeResolver builds the resolver the job tracker uses to expand a
// submission scope into concrete item ids.
func NewScopeResolver(items ItemLister) job.ScopeResolver {
	return &scopeResolver{items: items}
}

// Resolve expands the scope. Explicit item ids are checked against the
// test when one is named, so a typo fails the run instead of silently
// claiming a foreign item.
func (r *scopeResolver) Resolve(ctx context.Context, scope job.Scope) ([]string, error) {
	if scope.TestID == "" {
		if len(scope.ItemIDs) == 0 {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "testId or itemIds is required", nil)
		}
		return scope.ItemIDs, nil
	}

	items, err := r.items.ListItemsByTest(ctx, scope.TestID)
	if err != nil {
		return nil, fmt.Errorf("list items for %s: %w", scope.TestID, err)
	}

	if len(scope.ItemIDs) == 0 {
		ids := make([]string, 0, len(items))
		for _, item := range items {
			ids = append(ids, item.ID)
		}
		return ids, nil
	}

	known := make(map[string]bool, len(items))
	for _, item := range items {
		known[item.ID] = true
	}
	for _, id := range scope.ItemIDs {
		if !known[id] {
			return nil, fmt.Errorf("item %s does not belong to test %s", id, scope.TestID)
		}
	}
	return scope.ItemIDs, nil
}
