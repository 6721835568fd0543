package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/ai-policy-docs/internal/document"
	"github.com/JakeFAU/ai-policy-docs/internal/storage/postgres"
)

const (
	defaultStart = 0
	defaultEnd   = 10
	maxPageSize  = 1000
	defaultSort  = "publication_date:desc"
)

// ListResponse is the body of GET /api/ai_documents.
type ListResponse struct {
	Data     []document.Document `json:"data"`
	Total    int64               `json:"total"`
	Page     int                 `json:"page"`
	PageSize int                 `json:"pageSize"`
}

// listQuery is a parsed listing request. The page is derived from the
// _start/_end window: pageSize = _end - _start, page = _start/pageSize + 1.
type listQuery struct {
	filter   postgres.ListFilter
	page     int
	pageSize int
}

// listAIDocuments handles GET /api/ai_documents?agency_names=&tags=&type=
// &_start=&_end=&sort=field:dir. It returns 400 for a malformed window and
// 500 when the store fails.
func (s *Server) listAIDocuments(w http.ResponseWriter, r *http.Request) {
	q, err := parseListQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	docs, total, err := s.docs.ListAIDocuments(r.Context(), q.filter)
	if err != nil {
		s.logger.Error("list ai documents failed",
			zap.String("request_id", RequestID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "failed to list documents")
		return
	}
	if docs == nil {
		docs = []document.Document{}
	}
	writeJSON(w, http.StatusOK, ListResponse{
		Data:     docs,
		Total:    total,
		Page:     q.page,
		PageSize: q.pageSize,
	})
}

func parseListQuery(r *http.Request) (listQuery, error) {
	values := r.URL.Query()
	start, err := intParam(values.Get("_start"), defaultStart)
	if err != nil {
		return listQuery{}, fmt.Errorf("invalid _start: %w", err)
	}
	end, err := intParam(values.Get("_end"), defaultEnd)
	if err != nil {
		return listQuery{}, fmt.Errorf("invalid _end: %w", err)
	}
	if start < 0 || end <= start {
		return listQuery{}, fmt.Errorf("_end must be greater than _start")
	}
	pageSize := min(end-start, maxPageSize)
	page := start/pageSize + 1

	sort := values.Get("sort")
	if strings.TrimSpace(sort) == "" {
		sort = defaultSort
	}
	field, dir, _ := strings.Cut(sort, ":")

	return listQuery{
		filter: postgres.ListFilter{
			AgencyNames: values.Get("agency_names"),
			Tags:        values.Get("tags"),
			Type:        values.Get("type"),
			SortField:   strings.TrimSpace(field),
			SortDesc:    strings.EqualFold(strings.TrimSpace(dir), "desc"),
			Offset:      uint64((page - 1) * pageSize),
			Limit:       uint64(pageSize),
		},
		page:     page,
		pageSize: pageSize,
	}, nil
}

func intParam(raw string, def int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", raw, err)
	}
	return n, nil
}
