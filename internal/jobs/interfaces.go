// Package jobs implements the sync, classify and refresh batch jobs.
//
// Each job depends only on the narrow interfaces below so it can be driven by
// fakes in tests and by the Postgres store, Federal Register client and LLM
// classifier in production.
package jobs

import (
	"context"
	"io"
	"time"

	"github.com/JakeFAU/ai-policy-docs/internal/document"
	"github.com/JakeFAU/ai-policy-docs/internal/federalregister"
	"github.com/JakeFAU/ai-policy-docs/internal/storage/postgres"
)

// Clock supplies the current day in UTC.
type Clock interface {
	Today() time.Time
}

// Searcher walks Federal Register search result pages.
type Searcher interface {
	Search(ctx context.Context, params federalregister.SearchParams, visit func(federalregister.Page) error) error
}

// MetricsSource fetches the current engagement counters of one document.
type MetricsSource interface {
	Metrics(ctx context.Context, number string) (document.Metrics, error)
}

// CorpusStore persists newly discovered documents.
type CorpusStore interface {
	ExistingNumbers(ctx context.Context) (map[string]struct{}, error)
	InsertNew(ctx context.Context, docs []document.Document, existing map[string]struct{}) (int, error)
}

// ClassificationStore reads unclassified rows and writes verdicts back.
type ClassificationStore interface {
	Unclassified(ctx context.Context, limit int) ([]document.Document, error)
	SaveClassifications(ctx context.Context, verdicts []document.Verdict) error
	InsertAIDocuments(ctx context.Context, docs []document.Document) ([]string, error)
}

// MetricsStore lists and updates stored engagement counters.
type MetricsStore interface {
	TableName(t postgres.Table) string
	ListMetrics(ctx context.Context, t postgres.Table) ([]document.Metrics, error)
	UpdateMetrics(ctx context.Context, t postgres.Table, change document.Metrics) (bool, error)
}

// DocumentClassifier produces a verdict for one document.
type DocumentClassifier interface {
	Classify(ctx context.Context, doc document.Document) (document.Verdict, error)
}

// BlobStore archives raw payloads.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Publisher notifies downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, payload any) (string, error)
}
