// Package app wires the pipeline, job tracker and sync engine behind the
// HTTP API.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"itemforge/api/internal/audit"
	"itemforge/api/internal/auth"
	"itemforge/api/internal/authpw"
	"itemforge/api/internal/export"
	"itemforge/api/internal/job"
	"itemforge/api/internal/publish"
	"itemforge/api/internal/store"
)

// Session is the authenticated caller extracted from a bearer token.
type Session struct {
	UserID   string
	UserName string
	Role     string
}

type dataStore interface {
	GetItem(ctx context.Context, id string) (store.Item, error)
	ListItemsByTest(ctx context.Context, testID string) ([]store.Item, error)
	GetValidationRecord(ctx context.Context, itemID string) (*store.ValidationRecord, error)
	ResetItem(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}

type jobTracker interface {
	Submit(ctx context.Context, kind job.Kind, scope job.Scope, opts job.Options) (string, error)
	Status(ctx context.Context, id string) (*job.Run, error)
}

type syncer interface {
	Preview(ctx context.Context, testID string, opts publish.Options) ([]publish.Entry, error)
	Execute(ctx context.Context, testID string, opts publish.Options) (*publish.Summary, error)
}

type historySource interface {
	History(itemID string, limit int) ([]audit.CommitInfo, error)
}

type reportRenderer interface {
	Report(ctx context.Context, testID string) (*export.Result, error)
}

type passwordAuth interface {
	SignIn(ctx context.Context, req authpw.SignInRequest) (store.User, error)
	EnsureUser(ctx context.Context, email, password, displayName, role string) error
}

type Service struct {
	data        dataStore
	jobs        jobTracker
	sync        syncer
	history     historySource
	reports     reportRenderer
	passwords   passwordAuth
	tokenSecret []byte
	accessTTL   time.Duration
}

func NewService(
	data dataStore,
	jobs jobTracker,
	sync syncer,
	history historySource,
	reports reportRenderer,
	passwords passwordAuth,
	tokenSecret string,
	accessTTL time.Duration,
) *Service {
	return &Service{
		data:        data,
		jobs:        jobs,
		sync:        sync,
		history:     history,
		reports:     reports,
		passwords:   passwords,
		tokenSecret: []byte(tokenSecret),
		accessTTL:   accessTTL,
	}
}

// Bootstrap seeds the admin account. Idempotent across restarts.
func (s *Service) Bootstrap(ctx context.Context, adminEmail, adminPassword string) error {
	return s.passwords.EnsureUser(ctx, adminEmail, adminPassword, "Admin", "admin")
}

func (s *Service) Ping(ctx context.Context) error {
	return s.data.Ping(ctx)
}

// SignIn authenticates and issues a bearer token.
func (s *Service) SignIn(ctx context.Context, email, password string) (map[string]any, error) {
	user, err := s.passwords.SignIn(ctx, authpw.SignInRequest{Email: email, Password: password})
	if err != nil {
		return nil, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
	}

	expiresAt := time.Now().Add(s.accessTTL)
	token, err := auth.IssueToken(s.tokenSecret, auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		Role: user.Role,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}

	return map[string]any{
		"accessToken": token,
		"userId":      user.ID,
		"userName":    user.DisplayName,
		"role":        user.Role,
		"expiresAt":   expiresAt.Unix(),
	}, nil
}

// SessionFromToken verifies a bearer token and returns the caller.
func (s *Service) SessionFromToken(token string) (Session, error) {
	claims, err := auth.ParseToken(s.tokenSecret, token)
	if err != nil {
		return Session{}, err
	}
	return Session{UserID: claims.Sub, UserName: claims.Name, Role: claims.Role}, nil
}

// ListItems returns a test's items with their validation state.
func (s *Service) ListItems(ctx context.Context, testID string) (map[string]any, error) {
	items, err := s.data.ListItemsByTest(ctx, testID)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	views := make([]map[string]any, 0, len(items))
	for _, item := range items {
		views = append(views, itemView(item, nil))
	}
	return map[string]any{"items": views}, nil
}

// GetItem returns one item with its full validation record.
func (s *Service) GetItem(ctx context.Context, itemID string) (map[string]any, error) {
	item, err := s.data.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	record, err := s.data.GetValidationRecord(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("validation record: %w", err)
	}
	view := itemView(item, record)
	view["rawDocument"] = item.RawDocument
	view["enrichedDocument"] = item.EnrichedDocument
	return map[string]any{"item": view}, nil
}

// ItemHistory returns the audited document revisions for an item.
func (s *Service) ItemHistory(ctx context.Context, itemID string, limit int) (map[string]any, error) {
	if _, err := s.data.GetItem(ctx, itemID); err != nil {
		return nil, err
	}
	commits, err := s.history.History(itemID, limit)
	if err != nil {
		return nil, fmt.Errorf("item history: %w", err)
	}
	return map[string]any{"history": commits}, nil
}

// RerunItem submits a single-item run of the given kind.
func (s *Service) RerunItem(ctx context.Context, itemID string, kind job.Kind) (map[string]any, error) {
	item, err := s.data.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	opts := job.Options{}
	switch kind {
	case job.KindEnrichment:
		// Explicit rerun starts the item over: back to raw, record discarded.
		if err := s.data.ResetItem(ctx, itemID); err != nil {
			return nil, fmt.Errorf("reset item: %w", err)
		}
	case job.KindValidation:
		opts.RevalidatePassed = true
	}
	jobID, err := s.jobs.Submit(ctx, kind, job.Scope{TestID: item.TestID, ItemIDs: []string{itemID}}, opts)
	if err != nil {
		return nil, fmt.Errorf("submit rerun: %w", err)
	}
	return map[string]any{"jobId": jobID}, nil
}

// SubmitJob starts an enrichment or validation run over a test scope.
func (s *Service) SubmitJob(ctx context.Context, kind job.Kind, scope job.Scope, opts job.Options) (map[string]any, error) {
	if scope.TestID == "" && len(scope.ItemIDs) == 0 {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "testId or itemIds is required", nil)
	}
	jobID, err := s.jobs.Submit(ctx, kind, scope, opts)
	if err != nil {
		return nil, fmt.Errorf("submit job: %w", err)
	}
	return map[string]any{"jobId": jobID}, nil
}

// JobStatus returns the current run snapshot.
func (s *Service) JobStatus(ctx context.Context, jobID string) (*job.Run, error) {
	return s.jobs.Status(ctx, jobID)
}

// SyncPreview computes the diff without writing.
func (s *Service) SyncPreview(ctx context.Context, testID string, includeVariants bool) (map[string]any, error) {
	entries, err := s.sync.Preview(ctx, testID, publish.Options{IncludeVariants: includeVariants})
	if err != nil {
		return nil, fmt.Errorf("sync preview: %w", err)
	}
	return map[string]any{"entries": entries}, nil
}

// SyncExecute applies the sync and returns the write summary.
func (s *Service) SyncExecute(ctx context.Context, testID string, includeVariants bool) (*publish.Summary, error) {
	summary, err := s.sync.Execute(ctx, testID, publish.Options{IncludeVariants: includeVariants})
	if err != nil {
		return nil, fmt.Errorf("sync execute: %w", err)
	}
	return summary, nil
}

// Report renders the test's validation report PDF.
func (s *Service) Report(ctx context.Context, testID string) (*export.Result, error) {
	return s.reports.Report(ctx, testID)
}

func itemView(item store.Item, record *store.ValidationRecord) map[string]any {
	view := map[string]any{
		"id":          item.ID,
		"testId":      item.TestID,
		"title":       item.Title,
		"stage":       item.Stage,
		"isVariant":   item.IsVariant,
		"hasEnriched": item.EnrichedDocument != nil,
		"updatedAt":   item.UpdatedAt,
	}
	if record != nil {
		view["validation"] = map[string]any{
			"structuralStatus":     record.StructuralStatus,
			"structuralViolations": record.StructuralViolations,
			"semanticOverall":      record.SemanticOverall,
			"semanticChecks":       record.SemanticChecks,
			"canSync":              record.CanSync,
			"createdAt":            record.CreatedAt,
		}
	}
	return view
}
