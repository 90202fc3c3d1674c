package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a
// fallback when Meilisearch is unavailable.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is
// down anyway.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search queries kb_items using plainto_tsquery and ts_rank, with
// ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	where := "k.fts @@ " + tsQuery
	if q.FilterType != "" {
		where += fmt.Sprintf(" AND k.type = $%d", argN)
		args = append(args, q.FilterType)
		argN++
	}
	if q.FilterCategory != "" {
		where += fmt.Sprintf(" AND k.category = $%d", argN)
		args = append(args, q.FilterCategory)
		argN++
	}

	countSQL := fmt.Sprintf(`SELECT count(*) FROM kb_items k WHERE %s`, where)

	dataSQL := fmt.Sprintf(`
		SELECT k.id, k.type, k.title,
			ts_headline('english', coalesce(NULLIF(k.summary, ''), k.body), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
			k.category
		FROM kb_items k
		WHERE %s
		ORDER BY ts_rank(k.fts, %s) DESC
		LIMIT %d OFFSET %d`, tsQuery, where, tsQuery, limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Type, &r.Title, &r.Snippet, &r.Category); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}

