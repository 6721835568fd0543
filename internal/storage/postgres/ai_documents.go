package postgres

import (
	"context"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/JakeFAU/ai-policy-docs/internal/document"
)

// OpenCommentsType is the pseudo document type selecting rows whose comment
// period has not closed yet.
const OpenCommentsType = "Open Comments"

// ListFilter narrows and pages the AI document listing.
type ListFilter struct {
	AgencyNames string
	Tags        string
	Type        string
	SortField   string
	SortDesc    bool
	Offset      uint64
	Limit       uint64
}

// ListAIDocuments returns one page of the AI table and the total number of
// rows matching the filter. Unknown sort fields fall back to
// publication_date.
func (s *DocumentStore) ListAIDocuments(ctx context.Context, f ListFilter) ([]document.Document, int64, error) {
	where := sq.And{}
	if v := strings.TrimSpace(f.AgencyNames); v != "" {
		where = append(where, sq.ILike{"agency_names": "%" + v + "%"})
	}
	if v := strings.TrimSpace(f.Tags); v != "" {
		where = append(where, sq.Expr("array_to_string(tags, ', ') ILIKE ?", "%"+v+"%"))
	}
	switch v := strings.TrimSpace(f.Type); {
	case v == OpenCommentsType:
		where = append(where, sq.Expr("comments_close_on > CURRENT_DATE"))
	case v != "":
		where = append(where, sq.Eq{"type": v})
	}

	countBuilder := s.sql.Select("COUNT(*)").From(s.tables[AIDocuments])
	listBuilder := s.sql.Select(append(selectContentColumns(), classificationColumns...)...).
		From(s.tables[AIDocuments])
	if len(where) > 0 {
		countBuilder = countBuilder.Where(where)
		listBuilder = listBuilder.Where(where)
	}

	countQuery, countArgs, err := countBuilder.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build count query: %w", err)
	}
	var total int64
	if err := s.pool.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count ai documents: %w", err)
	}

	sortField := f.SortField
	if !Sortable(sortField) {
		sortField = "publication_date"
	}
	direction := "ASC"
	if f.SortDesc {
		direction = "DESC"
	}
	listBuilder = listBuilder.
		OrderBy(sortField + " " + direction + " NULLS LAST").
		Offset(f.Offset)
	if f.Limit > 0 {
		listBuilder = listBuilder.Limit(f.Limit)
	}
	query, args, err := listBuilder.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build list query: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list ai documents: %w", err)
	}
	defer rows.Close()

	docs := make([]document.Document, 0, f.Limit)
	for rows.Next() {
		var sc scanned
		if err := rows.Scan(append(sc.contentTargets(), sc.classificationTargets()...)...); err != nil {
			return nil, 0, fmt.Errorf("scan ai document: %w", err)
		}
		docs = append(docs, sc.document())
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate ai documents: %w", err)
	}
	return docs, total, nil
}
