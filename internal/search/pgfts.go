package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across documents and literature_refs
// using plainto_tsquery and ts_rank, with ts_headline for snippets.
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

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultDocument {
		docWhere := fmt.Sprintf("to_tsvector('english', d.title || ' ' || d.document_type) @@ %s", tsQuery)
		if q.FilterFolderID != "" {
			docWhere += fmt.Sprintf(" AND d.folder_id = $%d", argN)
			args = append(args, q.FilterFolderID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'document'::text AS type, d.id, d.title,
				ts_headline('english', d.document_type, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				coalesce(d.folder_id, '') AS folder_id, d.status,
				ts_rank(to_tsvector('english', d.title || ' ' || d.document_type), %s) AS rank
			FROM documents d
			WHERE %s`, tsQuery, tsQuery, docWhere))
	}

	if q.FilterType == "" || q.FilterType == ResultLiterature {
		litWhere := fmt.Sprintf("to_tsvector('english', l.title || ' ' || l.abstract) @@ %s", tsQuery)
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'literature'::text AS type, l.id, l.title,
				ts_headline('english', l.abstract, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				''::text AS folder_id, ''::text AS status,
				ts_rank(to_tsvector('english', l.title || ' ' || l.abstract), %s) AS rank
			FROM literature_refs l
			WHERE %s`, tsQuery, tsQuery, litWhere))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, folder_id, status
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

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
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.FolderID, &r.Status); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		if r.Type == ResultDocument {
			r.DocumentID = r.ID
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]DocumentRecord, []LiteratureRecord, error) {
	docRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, document_type, coalesce(folder_id, ''), status
		FROM documents
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load documents: %w", err)
	}
	defer docRows.Close()

	documents := make([]DocumentRecord, 0)
	for docRows.Next() {
		var d DocumentRecord
		if err := docRows.Scan(&d.ID, &d.Title, &d.DocumentType, &d.FolderID, &d.Status); err != nil {
			return nil, nil, fmt.Errorf("scan document: %w", err)
		}
		documents = append(documents, d)
	}
	if err := docRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate documents: %w", err)
	}

	litRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, journal, year, abstract
		FROM literature_refs
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load literature: %w", err)
	}
	defer litRows.Close()

	refs := make([]LiteratureRecord, 0)
	for litRows.Next() {
		var l LiteratureRecord
		if err := litRows.Scan(&l.ID, &l.Title, &l.Journal, &l.Year, &l.Abstract); err != nil {
			return nil, nil, fmt.Errorf("scan literature: %w", err)
		}
		refs = append(refs, l)
	}
	if err := litRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate literature: %w", err)
	}

	return documents, refs, nil
}
