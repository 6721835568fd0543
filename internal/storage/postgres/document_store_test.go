package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ai-policy-docs/internal/document"
)

func anyArgs(n int) []any {
	out := make([]any, n)
	for i := range out {
		out[i] = pgxmock.AnyArg()
	}
	return out
}

func ptr[T any](v T) *T { return &v }

func newMockStore(t *testing.T, cfg DocumentStoreConfig) (*DocumentStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewDocumentStoreWithPool(mock, cfg)
	require.NoError(t, err)
	return store, mock
}

func docs(numbers ...string) []document.Document {
	out := make([]document.Document, len(numbers))
	for i, n := range numbers {
		out[i] = document.Normalize(document.Raw{"document_number": n, "title": "Title " + n})
	}
	return out
}

func set(numbers ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(numbers))
	for _, n := range numbers {
		out[n] = struct{}{}
	}
	return out
}

func TestNewDocumentStoreWithPoolValidatesTables(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewDocumentStoreWithPool(mock, DocumentStoreConfig{DocumentsTable: "fr_documents; DROP TABLE x"})
	require.Error(t, err)

	_, err = NewDocumentStoreWithPool(nil, DocumentStoreConfig{})
	require.Error(t, err)

	store, err := NewDocumentStoreWithPool(mock, DocumentStoreConfig{})
	require.NoError(t, err)
	assert.Equal(t, "fr_documents", store.TableName(Documents))
	assert.Equal(t, "ai_documents", store.TableName(AIDocuments))
}

func TestExistingNumbers(t *testing.T) {
	store, mock := newMockStore(t, DocumentStoreConfig{})

	mock.ExpectQuery("SELECT document_number FROM fr_documents").
		WillReturnRows(pgxmock.NewRows([]string{"document_number"}).AddRow("A").AddRow("B"))

	got, err := store.ExistingNumbers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, set("A", "B"), got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertNewSkipsExistingAndIsIdempotent(t *testing.T) {
	store, mock := newMockStore(t, DocumentStoreConfig{})
	ctx := context.Background()
	perRow := len(contentColumns)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO fr_documents").
		WithArgs(anyArgs(2 * perRow)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, err := store.InsertNew(ctx, docs("A", "C", "D"), set("A", "B"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = store.InsertNew(ctx, docs("A", "C", "D"), set("A", "B", "C", "D"))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertNewDropsRepeatsAndBlankNumbers(t *testing.T) {
	store, mock := newMockStore(t, DocumentStoreConfig{})
	perRow := len(contentColumns)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO fr_documents").
		WithArgs(anyArgs(2 * perRow)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, err := store.InsertNew(context.Background(), docs("C", "", "C", "D"), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertNewBatches(t *testing.T) {
	store, mock := newMockStore(t, DocumentStoreConfig{InsertBatchSize: 2})
	perRow := len(contentColumns)

	for _, rows := range []int{2, 1} {
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO fr_documents").
			WithArgs(anyArgs(rows * perRow)...).
			WillReturnResult(pgxmock.NewResult("INSERT", int64(rows)))
		mock.ExpectCommit()
	}

	n, err := store.InsertNew(context.Background(), docs("A", "B", "C"), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertNewRetriesAfterUniqueViolation(t *testing.T) {
	store, mock := newMockStore(t, DocumentStoreConfig{})
	perRow := len(contentColumns)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO fr_documents").
		WithArgs(anyArgs(2 * perRow)...).
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"})
	mock.ExpectRollback()
	mock.ExpectQuery("SELECT document_number FROM fr_documents WHERE document_number IN").
		WithArgs("C", "D").
		WillReturnRows(pgxmock.NewRows([]string{"document_number"}).AddRow("C"))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO fr_documents").
		WithArgs(anyArgs(perRow)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	n, err := store.InsertNew(context.Background(), docs("C", "D"), set("A"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertNewRepeatedViolationAborts(t *testing.T) {
	store, mock := newMockStore(t, DocumentStoreConfig{})
	perRow := len(contentColumns)
	dup := &pgconn.PgError{Code: "23505"}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO fr_documents").WithArgs(anyArgs(perRow)...).WillReturnError(dup)
	mock.ExpectRollback()
	mock.ExpectQuery("SELECT document_number FROM fr_documents WHERE document_number IN").
		WithArgs("C").
		WillReturnRows(pgxmock.NewRows([]string{"document_number"}))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO fr_documents").WithArgs(anyArgs(perRow)...).WillReturnError(dup)
	mock.ExpectRollback()

	_, err := store.InsertNew(context.Background(), docs("C"), nil)
	require.ErrorIs(t, err, ErrUniqueViolation)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertNewOtherErrorPropagates(t *testing.T) {
	store, mock := newMockStore(t, DocumentStoreConfig{})
	boom := errors.New("connection lost")

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO fr_documents").WithArgs(anyArgs(len(contentColumns))...).WillReturnError(boom)
	mock.ExpectRollback()

	_, err := store.InsertNew(context.Background(), docs("C"), nil)
	require.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrUniqueViolation)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertAIDocumentsOnlyRelated(t *testing.T) {
	store, mock := newMockStore(t, DocumentStoreConfig{})

	in := docs("A", "B", "C")
	document.Verdict{AIRelated: 1, Summary: "* a"}.Apply(&in[0])
	document.Verdict{AIRelated: 0, Summary: "* b"}.Apply(&in[1])
	document.Verdict{AIRelated: 1, Summary: "* c", Tags: []string{document.TagHealthcare}}.Apply(&in[2])

	perRow := len(contentColumns) + 3
	mock.ExpectQuery(`INSERT INTO ai_documents .* ON CONFLICT \(document_number\) DO NOTHING RETURNING document_number`).
		WithArgs(anyArgs(2 * perRow)...).
		WillReturnRows(pgxmock.NewRows([]string{"document_number"}).AddRow("C"))

	got, err := store.InsertAIDocuments(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, []string{"C"}, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertAIDocumentsNothingRelated(t *testing.T) {
	store, mock := newMockStore(t, DocumentStoreConfig{})

	got, err := store.InsertAIDocuments(context.Background(), docs("A"))
	require.NoError(t, err)
	assert.Empty(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

// contentRow returns scan values for contentColumns with the types the
// store scans into.
func contentRow(number string, pageViews *int64, published *time.Time) []any {
	row := make([]any, 0, len(contentColumns))
	for _, c := range contentColumns {
		switch c {
		case "document_number":
			row = append(row, number)
		case "agency_names":
			row = append(row, "Commerce Department, NIST")
		case "page_views_count":
			row = append(row, pageViews)
		case "publication_date":
			row = append(row, published)
		case "comments_close_on", "effective_on", "comments_count", "significant":
			row = append(row, nil)
		case "title":
			row = append(row, "Title "+number)
		default:
			row = append(row, "")
		}
	}
	return row
}

func TestUnclassified(t *testing.T) {
	store, mock := newMockStore(t, DocumentStoreConfig{})
	published := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("FROM fr_documents WHERE ai_related IS NULL LIMIT 999").
		WillReturnRows(pgxmock.NewRows(contentColumns).
			AddRow(contentRow("A", ptr(int64(7)), &published)...).
			AddRow(contentRow("B", nil, nil)...))

	got, err := store.Unclassified(context.Background(), 999)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "A", got[0].DocumentNumber)
	assert.Equal(t, []string{"Commerce Department", "NIST"}, got[0].AgencyNames)
	assert.Equal(t, []string{}, got[0].Topics)
	assert.EqualValues(t, 7, *got[0].PageViewsCount)
	assert.Equal(t, published, *got[0].PublicationDate)
	assert.False(t, got[0].Classified())

	assert.Nil(t, got[1].PageViewsCount)
	assert.Nil(t, got[1].PublicationDate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveClassifications(t *testing.T) {
	store, mock := newMockStore(t, DocumentStoreConfig{})

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE fr_documents SET ai_related = \$1, llm_summary = \$2, tags = \$3, created_at = COALESCE\(created_at, NOW\(\)\), last_modified = NOW\(\) WHERE document_number = \$4 AND ai_related IS NULL`).
		WithArgs(1, "* a", []string{document.TagHealthcare}, "A").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE fr_documents SET ai_related").
		WithArgs(0, "* b", []string{}, "B").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err := store.SaveClassifications(context.Background(), []document.Verdict{
		{DocumentNumber: "A", AIRelated: 1, Summary: "* a", Tags: []string{document.TagHealthcare}},
		{DocumentNumber: "B", AIRelated: 0, Summary: "* b"},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveClassificationsSkipsClassifiedRows(t *testing.T) {
	store, mock := newMockStore(t, DocumentStoreConfig{})

	mock.ExpectBegin()
	mock.ExpectExec(`WHERE document_number = \$4 AND ai_related IS NULL`).
		WithArgs(1, "* new", []string{}, "A").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectCommit()

	err := store.SaveClassifications(context.Background(), []document.Verdict{
		{DocumentNumber: "A", AIRelated: 1, Summary: "* new"},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveClassificationsRollsBackOnError(t *testing.T) {
	store, mock := newMockStore(t, DocumentStoreConfig{})

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE fr_documents").WithArgs(anyArgs(4)...).WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	err := store.SaveClassifications(context.Background(), []document.Verdict{{DocumentNumber: "A"}})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListMetrics(t *testing.T) {
	store, mock := newMockStore(t, DocumentStoreConfig{AIDocumentsTable: "ai_docs"})

	mock.ExpectQuery("SELECT document_number, page_views_count, comments_count FROM ai_docs").
		WillReturnRows(pgxmock.NewRows([]string{"document_number", "page_views_count", "comments_count"}).
			AddRow("A", ptr(int64(10)), nil).
			AddRow("B", nil, ptr(int64(3))))

	got, err := store.ListMetrics(context.Background(), AIDocuments)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.EqualValues(t, 10, *got[0].PageViewsCount)
	assert.Nil(t, got[0].CommentsCount)
	assert.Nil(t, got[1].PageViewsCount)
	assert.EqualValues(t, 3, *got[1].CommentsCount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateMetricsWritesOnlyGivenCounters(t *testing.T) {
	store, mock := newMockStore(t, DocumentStoreConfig{})

	mock.ExpectExec(`UPDATE fr_documents SET page_views_count = \$1, page_views_count_modified_at = NOW\(\) WHERE document_number = \$2`).
		WithArgs(int64(11), "A").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE fr_documents SET page_views_count = \$1, page_views_count_modified_at = NOW\(\), comments_count = \$2, comments_count_modified_at = NOW\(\) WHERE document_number = \$3`).
		WithArgs(int64(1), int64(2), "B").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	ctx := context.Background()
	wrote, err := store.UpdateMetrics(ctx, Documents, document.Metrics{DocumentNumber: "A", PageViewsCount: ptr(int64(11))})
	require.NoError(t, err)
	assert.True(t, wrote)

	wrote, err = store.UpdateMetrics(ctx, Documents, document.Metrics{DocumentNumber: "B", PageViewsCount: ptr(int64(1)), CommentsCount: ptr(int64(2))})
	require.NoError(t, err)
	assert.True(t, wrote)

	wrote, err = store.UpdateMetrics(ctx, Documents, document.Metrics{DocumentNumber: "C"})
	require.NoError(t, err)
	assert.False(t, wrote)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListAIDocuments(t *testing.T) {
	store, mock := newMockStore(t, DocumentStoreConfig{})
	modified := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	columns := append(append([]string{}, contentColumns...), classificationColumns...)
	row := append(contentRow("A", ptr(int64(5)), nil),
		&modified, nil, ptr(1), ptr("* a"), []string{document.TagPolicyStandards}, &modified, &modified)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM ai_documents WHERE \(agency_names ILIKE \$1 AND array_to_string\(tags, ', '\) ILIKE \$2 AND comments_close_on > CURRENT_DATE\)`).
		WithArgs("%NIST%", "%Policy%").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(11)))
	mock.ExpectQuery(`FROM ai_documents WHERE .* ORDER BY comments_close_on DESC NULLS LAST LIMIT 10 OFFSET 10`).
		WithArgs("%NIST%", "%Policy%").
		WillReturnRows(pgxmock.NewRows(columns).AddRow(row...))

	got, total, err := store.ListAIDocuments(context.Background(), ListFilter{
		AgencyNames: "NIST",
		Tags:        "Policy",
		Type:        OpenCommentsType,
		SortField:   "comments_close_on",
		SortDesc:    true,
		Offset:      10,
		Limit:       10,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 11, total)
	require.Len(t, got, 1)
	assert.True(t, got[0].IsAIRelated())
	assert.Equal(t, "* a", *got[0].LLMSummary)
	assert.Equal(t, []string{document.TagPolicyStandards}, got[0].Tags)
	assert.Equal(t, modified, *got[0].PageViewsCountModifiedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListAIDocumentsUnknownSortAndType(t *testing.T) {
	store, mock := newMockStore(t, DocumentStoreConfig{})

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM ai_documents WHERE \(type = \$1\)`).
		WithArgs("Rule").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(0)))
	mock.ExpectQuery(`ORDER BY publication_date ASC NULLS LAST`).
		WithArgs("Rule").
		WillReturnRows(pgxmock.NewRows(append(append([]string{}, contentColumns...), classificationColumns...)))

	got, total, err := store.ListAIDocuments(context.Background(), ListFilter{
		Type:      "Rule",
		SortField: "title; DROP TABLE ai_documents",
		Limit:     10,
	})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPing(t *testing.T) {
	store, mock := newMockStore(t, DocumentStoreConfig{})

	mock.ExpectPing()
	require.NoError(t, store.Ping(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
