package search

import (
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search runs plainto_tsquery over the documents table, restricted to
// documents whose allowed_users contains the caller.
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

	query := `
		SELECT d.id, d.filename, d.title,
			ts_headline('english', d.content, plainto_tsquery('english', $1),
				'MaxFragments=1,MaxWords=30,StartSel=<mark>,StopSel=</mark>') AS snippet,
			count(*) OVER () AS total
		FROM documents d
		WHERE d.fts @@ plainto_tsquery('english', $1)
			AND d.code = $2
			AND d.allowed_users @> to_jsonb(ARRAY[$3::text])
		ORDER BY ts_rank(d.fts, plainto_tsquery('english', $1)) DESC
		LIMIT $4 OFFSET $5`

	rows, err := p.db.Query(query, q.Text, q.Code, q.CallerEmail, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts search: %w", err)
	}
	defer rows.Close()

	var results []Result
	total := 0
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Filename, &r.Title, &r.Snippet, &total); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("pgfts rows: %w", err)
	}

	return results, total, nil
}
