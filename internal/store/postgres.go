package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

const itemColumns = `id, test_id, title, raw_document, enriched_document, stage, is_variant, media_prefix, updated_at`

func scanItem(row interface{ Scan(...any) error }) (Item, error) {
	var item Item
	var enriched sql.NullString
	if err := row.Scan(&item.ID, &item.TestID, &item.Title, &item.RawDocument,
		&enriched, &item.Stage, &item.IsVariant, &item.MediaPrefix, &item.UpdatedAt); err != nil {
		return Item{}, err
	}
	if enriched.Valid {
		item.EnrichedDocument = &enriched.String
	}
	return item, nil
}

func (s *PostgresStore) GetItem(ctx context.Context, id string) (Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = $1`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, fmt.Errorf("item %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Item{}, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) ListItemsByTest(ctx context.Context, testID string) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+itemColumns+` FROM items WHERE test_id = $1 ORDER BY id
	`, testID)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) InsertItem(ctx context.Context, item Item) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO items (id, test_id, title, raw_document, stage, is_variant, media_prefix)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, item.ID, item.TestID, item.Title, item.RawDocument, StageRaw, item.IsVariant, item.MediaPrefix)
	if err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateItemStage(ctx context.Context, id string, stage Stage) error {
	if !ValidStage(string(stage)) {
		return fmt.Errorf("unknown stage %q", stage)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE items SET stage = $2, updated_at = NOW() WHERE id = $1
	`, id, stage)
	if err != nil {
		return fmt.Errorf("update stage: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("item %s: %w", id, ErrNotFound)
	}
	return nil
}

// SaveEnrichedDocument stores the latest enriched document and advances the
// stage in the same statement so a crash cannot leave the stage ahead of
// the document.
func (s *PostgresStore) SaveEnrichedDocument(ctx context.Context, id, document string, stage Stage) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE items SET enriched_document = $2, stage = $3, updated_at = NOW() WHERE id = $1
	`, id, document, stage)
	if err != nil {
		return fmt.Errorf("save enriched document: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("item %s: %w", id, ErrNotFound)
	}
	return nil
}

// ResetItem returns an item to the raw stage, discarding its enriched
// document and validation record. Only callers handling an explicit
// re-run request use this.
func (s *PostgresStore) ResetItem(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reset tx: %w", err)
	}
	result, err := tx.ExecContext(ctx, `
		UPDATE items SET stage = $2, enriched_document = NULL, updated_at = NOW() WHERE id = $1
	`, id, StageRaw)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("reset stage: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		_ = tx.Rollback()
		return fmt.Errorf("item %s: %w", id, ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM validation_records WHERE item_id = $1`, id); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("discard validation record: %w", err)
	}
	return tx.Commit()
}

// ReplaceValidationRecord overwrites the item's validation record in a
// single statement. There is at most one record per item; partial updates
// are not possible by construction.
func (s *PostgresStore) ReplaceValidationRecord(ctx context.Context, rec ValidationRecord) error {
	violations, err := json.Marshal(rec.StructuralViolations)
	if err != nil {
		return fmt.Errorf("marshal violations: %w", err)
	}
	checks, err := json.Marshal(rec.SemanticChecks)
	if err != nil {
		return fmt.Errorf("marshal checks: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO validation_records (item_id, structural_status, structural_violations, semantic_overall, semantic_checks, can_sync, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (item_id) DO UPDATE SET
			structural_status = EXCLUDED.structural_status,
			structural_violations = EXCLUDED.structural_violations,
			semantic_overall = EXCLUDED.semantic_overall,
			semantic_checks = EXCLUDED.semantic_checks,
			can_sync = EXCLUDED.can_sync,
			created_at = EXCLUDED.created_at
	`, rec.ItemID, rec.StructuralStatus, violations, rec.SemanticOverall, checks, rec.CanSync)
	if err != nil {
		return fmt.Errorf("replace validation record: %w", err)
	}
	return nil
}

// GetValidationRecord returns the item's record, or nil if none exists.
func (s *PostgresStore) GetValidationRecord(ctx context.Context, itemID string) (*ValidationRecord, error) {
	var rec ValidationRecord
	var violations, checks []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT item_id, structural_status, structural_violations, semantic_overall, semantic_checks, can_sync, created_at
		FROM validation_records WHERE item_id = $1
	`, itemID).Scan(&rec.ItemID, &rec.StructuralStatus, &violations, &rec.SemanticOverall, &checks, &rec.CanSync, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get validation record: %w", err)
	}
	if err := json.Unmarshal(violations, &rec.StructuralViolations); err != nil {
		return nil, fmt.Errorf("unmarshal violations: %w", err)
	}
	if err := json.Unmarshal(checks, &rec.SemanticChecks); err != nil {
		return nil, fmt.Errorf("unmarshal checks: %w", err)
	}
	return &rec, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, display_name, password_hash, role, created_at FROM users WHERE email = $1
	`, email).Scan(&user.ID, &user.Email, &user.DisplayName, &user.PasswordHash, &user.Role, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("user %s: %w", email, ErrNotFound)
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, display_name, password_hash, role)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (email) DO NOTHING
	`, user.ID, user.Email, user.DisplayName, user.PasswordHash, user.Role)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ErrNotFound marks lookups for rows that do not exist.
var ErrNotFound = errors.New("not found")
