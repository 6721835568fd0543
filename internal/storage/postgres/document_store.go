package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/ai-policy-docs/internal/document"
	"github.com/JakeFAU/ai-policy-docs/internal/metrics"
)

// ErrUniqueViolation is returned when a batch still collides on
// document_number after the duplicate-filtering retry.
var ErrUniqueViolation = errors.New("unique violation on document_number")

const uniqueViolationCode = "23505"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Table selects one of the two document tables.
type Table int

const (
	// Documents is the full corpus table.
	Documents Table = iota
	// AIDocuments is the AI-related subset.
	AIDocuments
)

func (t Table) String() string {
	if t == AIDocuments {
		return "ai_documents"
	}
	return "documents"
}

// DocumentStoreConfig controls the shared connection pool and table names.
type DocumentStoreConfig struct {
	DSN              string
	DocumentsTable   string
	AIDocumentsTable string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	InsertBatchSize  int
}

type pgxPool interface {
	Begin(context.Context) (pgx.Tx, error)
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// DocumentStore persists documents, verdicts and metrics in Postgres. All
// methods are safe for concurrent use; every statement checks a connection
// out of the shared pool.
type DocumentStore struct {
	pool      pgxPool
	tables    [2]string
	batchSize int
	sql       sq.StatementBuilderType
}

// NewDocumentStore connects a pool and returns a store.
func NewDocumentStore(ctx context.Context, cfg DocumentStoreConfig) (*DocumentStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("postgres dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewDocumentStoreWithPool(pool, cfg)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewDocumentStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewDocumentStoreWithPool(pool pgxPool, cfg DocumentStoreConfig) (*DocumentStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	documents := cfg.DocumentsTable
	if documents == "" {
		documents = "fr_documents"
	}
	ai := cfg.AIDocumentsTable
	if ai == "" {
		ai = "ai_documents"
	}
	for _, table := range []string{documents, ai} {
		if !validTableName.MatchString(table) {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
	}
	batch := cfg.InsertBatchSize
	if batch <= 0 {
		batch = 500
	}
	return &DocumentStore{
		pool:      pool,
		tables:    [2]string{documents, ai},
		batchSize: batch,
		sql:       sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}, nil
}

// TableName returns the configured name of t.
func (s *DocumentStore) TableName(t Table) string {
	return s.tables[t]
}

// Ping checks that the database is reachable.
func (s *DocumentStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *DocumentStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// ExistingNumbers loads every document number of the corpus table.
func (s *DocumentStore) ExistingNumbers(ctx context.Context) (map[string]struct{}, error) {
	query, args, err := s.sql.Select("document_number").From(s.tables[Documents]).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build existing numbers query: %w", err)
	}
	return s.queryNumbers(ctx, query, args...)
}

// InsertNew inserts the documents whose number is neither in existing nor
// repeated earlier in docs. Documents without a number are dropped. Batches
// that hit a duplicate key are rolled back, re-filtered against the table
// and retried once; a second violation aborts with ErrUniqueViolation.
// It returns the number of rows inserted.
func (s *DocumentStore) InsertNew(ctx context.Context, docs []document.Document, existing map[string]struct{}) (int, error) {
	fresh := make([]document.Document, 0, len(docs))
	seen := make(map[string]struct{}, len(docs))
	for _, d := range docs {
		if d.DocumentNumber == "" {
			continue
		}
		if _, ok := existing[d.DocumentNumber]; ok {
			continue
		}
		if _, ok := seen[d.DocumentNumber]; ok {
			continue
		}
		seen[d.DocumentNumber] = struct{}{}
		fresh = append(fresh, d)
	}

	inserted := 0
	for start := 0; start < len(fresh); start += s.batchSize {
		end := min(start+s.batchSize, len(fresh))
		n, err := s.insertBatch(ctx, fresh[start:end])
		inserted += n
		if err != nil {
			metrics.ObserveInserted(s.tables[Documents], inserted)
			return inserted, err
		}
	}
	metrics.ObserveInserted(s.tables[Documents], inserted)
	return inserted, nil
}

func (s *DocumentStore) insertBatch(ctx context.Context, batch []document.Document) (int, error) {
	err := s.insertContent(ctx, batch)
	if err == nil {
		return len(batch), nil
	}
	if !isUniqueViolation(err) {
		return 0, err
	}

	keys := make([]string, len(batch))
	for i, d := range batch {
		keys[i] = d.DocumentNumber
	}
	query, args, err := s.sql.Select("document_number").
		From(s.tables[Documents]).
		Where(sq.Eq{"document_number": keys}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build duplicate lookup: %w", err)
	}
	known, err := s.queryNumbers(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	remaining := make([]document.Document, 0, len(batch))
	for _, d := range batch {
		if _, ok := known[d.DocumentNumber]; !ok {
			remaining = append(remaining, d)
		}
	}
	if len(remaining) == 0 {
		return 0, nil
	}
	if err := s.insertContent(ctx, remaining); err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: %w", ErrUniqueViolation, err)
		}
		return 0, err
	}
	return len(remaining), nil
}

func (s *DocumentStore) insertContent(ctx context.Context, batch []document.Document) error {
	builder := s.sql.Insert(s.tables[Documents]).Columns(contentColumns...)
	for _, d := range batch {
		builder = builder.Values(contentValues(d)...)
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("insert documents: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit insert: %w", err)
	}
	return nil
}

// InsertAIDocuments copies the AI-related documents into the AI table.
// Rows already present are ignored. It returns the numbers actually inserted.
func (s *DocumentStore) InsertAIDocuments(ctx context.Context, docs []document.Document) ([]string, error) {
	related := make([]document.Document, 0, len(docs))
	for _, d := range docs {
		if d.IsAIRelated() && d.DocumentNumber != "" {
			related = append(related, d)
		}
	}

	var inserted []string
	for start := 0; start < len(related); start += s.batchSize {
		end := min(start+s.batchSize, len(related))
		builder := s.sql.Insert(s.tables[AIDocuments]).
			Columns(aiInsertColumns...).
			Suffix("ON CONFLICT (document_number) DO NOTHING RETURNING document_number")
		for _, d := range related[start:end] {
			builder = builder.Values(aiValues(d)...)
		}
		query, args, err := builder.ToSql()
		if err != nil {
			return inserted, fmt.Errorf("build ai insert: %w", err)
		}
		numbers, err := s.queryNumberList(ctx, query, args...)
		inserted = append(inserted, numbers...)
		if err != nil {
			return inserted, fmt.Errorf("insert ai documents: %w", err)
		}
	}
	metrics.ObserveInserted(s.tables[AIDocuments], len(inserted))
	return inserted, nil
}

// Unclassified returns up to limit corpus rows that have no verdict yet.
func (s *DocumentStore) Unclassified(ctx context.Context, limit int) ([]document.Document, error) {
	builder := s.sql.Select(selectContentColumns()...).
		From(s.tables[Documents]).
		Where(sq.Eq{"ai_related": nil})
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build unclassified query: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query unclassified: %w", err)
	}
	defer rows.Close()

	var docs []document.Document
	for rows.Next() {
		var sc scanned
		if err := rows.Scan(sc.contentTargets()...); err != nil {
			return nil, fmt.Errorf("scan unclassified: %w", err)
		}
		docs = append(docs, sc.document())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unclassified: %w", err)
	}
	return docs, nil
}

// SaveClassifications writes verdicts onto corpus rows in one transaction.
// Rows that already carry a verdict are left untouched.
func (s *DocumentStore) SaveClassifications(ctx context.Context, verdicts []document.Verdict) error {
	if len(verdicts) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin classification update: %w", err)
	}
	for _, v := range verdicts {
		query, args, err := s.sql.Update(s.tables[Documents]).
			Set("ai_related", v.AIRelated).
			Set("llm_summary", v.Summary).
			Set("tags", nonNilTags(v.Tags)).
			Set("created_at", sq.Expr("COALESCE(created_at, NOW())")).
			Set("last_modified", sq.Expr("NOW()")).
			Where(sq.Eq{"document_number": v.DocumentNumber}).
			Where(sq.Eq{"ai_related": nil}).
			ToSql()
		if err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("build classification update: %w", err)
		}
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("update classification %s: %w", v.DocumentNumber, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit classification update: %w", err)
	}
	return nil
}

// ListMetrics returns the stored counters of every row in t.
func (s *DocumentStore) ListMetrics(ctx context.Context, t Table) ([]document.Metrics, error) {
	query, args, err := s.sql.Select("document_number", "page_views_count", "comments_count").
		From(s.tables[t]).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build metrics query: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query metrics: %w", err)
	}
	defer rows.Close()

	var out []document.Metrics
	for rows.Next() {
		var m document.Metrics
		if err := rows.Scan(&m.DocumentNumber, &m.PageViewsCount, &m.CommentsCount); err != nil {
			return nil, fmt.Errorf("scan metrics: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate metrics: %w", err)
	}
	return out, nil
}

// UpdateMetrics writes the non-nil counters of change to one row of t and
// stamps each written counter's modified-at column. It reports whether a
// statement was issued.
func (s *DocumentStore) UpdateMetrics(ctx context.Context, t Table, change document.Metrics) (bool, error) {
	if change.Empty() {
		return false, nil
	}
	builder := s.sql.Update(s.tables[t])
	if change.PageViewsCount != nil {
		builder = builder.
			Set("page_views_count", *change.PageViewsCount).
			Set("page_views_count_modified_at", sq.Expr("NOW()"))
	}
	if change.CommentsCount != nil {
		builder = builder.
			Set("comments_count", *change.CommentsCount).
			Set("comments_count_modified_at", sq.Expr("NOW()"))
	}
	query, args, err := builder.Where(sq.Eq{"document_number": change.DocumentNumber}).ToSql()
	if err != nil {
		return false, fmt.Errorf("build metrics update: %w", err)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return false, fmt.Errorf("update metrics %s: %w", change.DocumentNumber, err)
	}
	return true, nil
}

func (s *DocumentStore) queryNumbers(ctx context.Context, query string, args ...any) (map[string]struct{}, error) {
	list, err := s.queryNumberList(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(list))
	for _, n := range list {
		out[n] = struct{}{}
	}
	return out, nil
}

func (s *DocumentStore) queryNumberList(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query document numbers: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan document number: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return out, fmt.Errorf("iterate document numbers: %w", err)
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}
