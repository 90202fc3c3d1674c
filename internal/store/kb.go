package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrKBItemNotFound = errors.New("kb item not found")

const kbItemColumns = `id, type, title, summary, body, category, tags, created_by, created_at, updated_at`

func scanKBItem(row interface{ Scan(...any) error }) (KBItem, error) {
	var (
		item     KBItem
		tagsJSON []byte
	)
	err := row.Scan(&item.ID, &item.Type, &item.Title, &item.Summary, &item.Body,
		&item.Category, &tagsJSON, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return KBItem{}, err
	}
	if len(tagsJSON) > 0 {
		if err := json.Unmarshal(tagsJSON, &item.Tags); err != nil {
			return KBItem{}, fmt.Errorf("decode tags: %w", err)
		}
	}
	if item.Tags == nil {
		item.Tags = []string{}
	}
	return item, nil
}

// ListKBItems returns every item of one type tag, most recently updated
// first.
func (s *PostgresStore) ListKBItems(ctx context.Context, kbType string) ([]KBItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+kbItemColumns+`
		FROM kb_items
		WHERE type=$1
		ORDER BY updated_at DESC
	`, kbType)
	if err != nil {
		return nil, fmt.Errorf("list kb items: %w", err)
	}
	defer rows.Close()

	items := []KBItem{}
	for rows.Next() {
		item, err := scanKBItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan kb item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate kb items: %w", err)
	}
	return items, nil
}

// GetKBItem fetches one item and enforces that it carries the expected
// type tag. An existing item of another type is reported as not found,
// never returned under the wrong surface.
func (s *PostgresStore) GetKBItem(ctx context.Context, kbType, id string) (KBItem, error) {
	item, err := scanKBItem(s.db.QueryRowContext(ctx, `
		SELECT `+kbItemColumns+`
		FROM kb_items
		WHERE id=$1 AND type=$2
	`, id, kbType))
	if errors.Is(err, sql.ErrNoRows) {
		return KBItem{}, ErrKBItemNotFound
	}
	if err != nil {
		return KBItem{}, fmt.Errorf("get kb item: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) InsertKBItem(ctx context.Context, item KBItem) error {
	tagsJSON, err := json.Marshal(item.Tags)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO kb_items (id, type, title, summary, body, category, tags, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, item.ID, item.Type, item.Title, item.Summary, item.Body,
		item.Category, tagsJSON, item.CreatedBy, item.CreatedAt, item.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert kb item: %w", err)
	}
	return nil
}

// UpdateKBItem applies the non-nil patch fields and stamps updated_at.
func (s *PostgresStore) UpdateKBItem(ctx context.Context, kbType, id string, patch KBItemPatch) (KBItem, error) {
	sets := []string{"updated_at=NOW()"}
	args := []any{id, kbType}
	next := 3
	arg := func(v any) string {
		args = append(args, v)
		ph := fmt.Sprintf("$%d", next)
		next++
		return ph
	}
	if patch.Title != nil {
		sets = append(sets, "title="+arg(*patch.Title))
	}
	if patch.Summary != nil {
		sets = append(sets, "summary="+arg(*patch.Summary))
	}
	if patch.Body != nil {
		sets = append(sets, "body="+arg(*patch.Body))
	}
	if patch.Category != nil {
		sets = append(sets, "category="+arg(*patch.Category))
	}
	if patch.Tags != nil {
		tagsJSON, err := json.Marshal(patch.Tags)
		if err != nil {
			return KBItem{}, fmt.Errorf("encode tags: %w", err)
		}
		sets = append(sets, "tags="+arg(tagsJSON)+"::jsonb")
	}
	query := "UPDATE kb_items SET " + strings.Join(sets, ", ") +
		" WHERE id=$1 AND type=$2 RETURNING " + kbItemColumns
	item, err := scanKBItem(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return KBItem{}, ErrKBItemNotFound
	}
	if err != nil {
		return KBItem{}, fmt.Errorf("update kb item: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) DeleteKBItem(ctx context.Context, kbType, id string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM kb_items WHERE id=$1 AND type=$2
	`, id, kbType)
	if err != nil {
		return fmt.Errorf("delete kb item: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete kb item result: %w", err)
	}
	if affected == 0 {
		return ErrKBItemNotFound
	}
	return nil
}

// AllKBItems streams every item regardless of type, for search
// reindexing.
func (s *PostgresStore) AllKBItems(ctx context.Context) ([]KBItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+kbItemColumns+`
		FROM kb_items
		ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("all kb items: %w", err)
	}
	defer rows.Close()

	items := []KBItem{}
	for rows.Next() {
		item, err := scanKBItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan kb item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate kb items: %w", err)
	}
	return items, nil
}
