package jobs

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/ai-policy-docs/internal/document"
	"github.com/JakeFAU/ai-policy-docs/internal/federalregister"
	"github.com/JakeFAU/ai-policy-docs/internal/storage/postgres"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Today() time.Time { return c.now.Truncate(24 * time.Hour) }

type fakeSearcher struct {
	pages  []federalregister.Page
	err    error
	params federalregister.SearchParams
}

func (f *fakeSearcher) Search(_ context.Context, params federalregister.SearchParams, visit func(federalregister.Page) error) error {
	f.params = params
	for _, p := range f.pages {
		if err := visit(p); err != nil {
			return err
		}
	}
	return f.err
}

// fakeDB keeps both tables in memory and mirrors the store's semantics:
// inserts skip known numbers and the AI table only accepts ai_related=1.
type fakeDB struct {
	mu        sync.Mutex
	corpus    map[string]document.Document
	ai        map[string]document.Document
	saved     []document.Verdict
	updates   []document.Metrics
	listErr   error
	insertErr error
}

func newFakeDB(numbers ...string) *fakeDB {
	db := &fakeDB{corpus: map[string]document.Document{}, ai: map[string]document.Document{}}
	for _, n := range numbers {
		db.corpus[n] = document.Document{DocumentNumber: n}
	}
	return db
}

func (f *fakeDB) ExistingNumbers(context.Context) (map[string]struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]struct{}, len(f.corpus))
	for n := range f.corpus {
		out[n] = struct{}{}
	}
	return out, nil
}

func (f *fakeDB) InsertNew(_ context.Context, docs []document.Document, existing map[string]struct{}) (int, error) {
	if f.insertErr != nil {
		return 0, f.insertErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, d := range docs {
		if _, ok := existing[d.DocumentNumber]; ok {
			continue
		}
		if _, ok := f.corpus[d.DocumentNumber]; ok {
			continue
		}
		f.corpus[d.DocumentNumber] = d
		n++
	}
	return n, nil
}

func (f *fakeDB) Unclassified(_ context.Context, limit int) ([]document.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []document.Document
	for _, d := range f.corpus {
		if !d.Classified() {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocumentNumber < out[j].DocumentNumber })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeDB) SaveClassifications(_ context.Context, verdicts []document.Verdict) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range verdicts {
		d := f.corpus[v.DocumentNumber]
		v.Apply(&d)
		f.corpus[v.DocumentNumber] = d
	}
	f.saved = append(f.saved, verdicts...)
	return nil
}

func (f *fakeDB) InsertAIDocuments(_ context.Context, docs []document.Document) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var inserted []string
	for _, d := range docs {
		if !d.IsAIRelated() {
			continue
		}
		if _, ok := f.ai[d.DocumentNumber]; ok {
			continue
		}
		f.ai[d.DocumentNumber] = d
		inserted = append(inserted, d.DocumentNumber)
	}
	return inserted, nil
}

func (f *fakeDB) TableName(t postgres.Table) string {
	if t == postgres.AIDocuments {
		return "ai_documents"
	}
	return "fr_documents"
}

func (f *fakeDB) table(t postgres.Table) map[string]document.Document {
	if t == postgres.AIDocuments {
		return f.ai
	}
	return f.corpus
}

func (f *fakeDB) ListMetrics(_ context.Context, t postgres.Table) ([]document.Metrics, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []document.Metrics
	for n, d := range f.table(t) {
		out = append(out, document.Metrics{
			DocumentNumber: n,
			PageViewsCount: d.PageViewsCount,
			CommentsCount:  d.CommentsCount,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocumentNumber < out[j].DocumentNumber })
	return out, nil
}

func (f *fakeDB) UpdateMetrics(_ context.Context, t postgres.Table, change document.Metrics) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rows := f.table(t)
	d, ok := rows[change.DocumentNumber]
	if !ok {
		return false, nil
	}
	if change.PageViewsCount != nil {
		d.PageViewsCount = change.PageViewsCount
	}
	if change.CommentsCount != nil {
		d.CommentsCount = change.CommentsCount
	}
	rows[change.DocumentNumber] = d
	f.updates = append(f.updates, change)
	return true, nil
}

type scriptedClassifier struct {
	mu       sync.Mutex
	verdicts map[string]document.Verdict
	errs     map[string]error
	calls    []string
}

func (s *scriptedClassifier) Classify(_ context.Context, doc document.Document) (document.Verdict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, doc.DocumentNumber)
	if err := s.errs[doc.DocumentNumber]; err != nil {
		return document.Verdict{}, err
	}
	v, ok := s.verdicts[doc.DocumentNumber]
	if !ok {
		v = document.Verdict{AIRelated: 0, Summary: "", Tags: []string{}}
	}
	v.DocumentNumber = doc.DocumentNumber
	return v, nil
}

type scriptedSource struct {
	mu      sync.Mutex
	metrics map[string]document.Metrics
	err     error
	calls   map[string]int
}

func (s *scriptedSource) Metrics(_ context.Context, number string) (document.Metrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = map[string]int{}
	}
	s.calls[number]++
	if s.err != nil {
		return document.Metrics{}, s.err
	}
	m, ok := s.metrics[number]
	if !ok {
		return document.Metrics{}, federalregister.ErrNotFound
	}
	m.DocumentNumber = number
	return m, nil
}

type failingBlobs struct{}

func (failingBlobs) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", errors.New("bucket unavailable")
}

func int64p(v int64) *int64 { return &v }
