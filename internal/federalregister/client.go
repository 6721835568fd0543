// Package federalregister is a small client for the Federal Register
// document API: incremental search and fetch-by-number.
package federalregister

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/ai-policy-docs/internal/document"
	"github.com/JakeFAU/ai-policy-docs/internal/policy/ratelimit"
)

// DefaultBaseURL is the public API root.
const DefaultBaseURL = "https://www.federalregister.gov/api/v1"

const maxBodyBytes = 64 << 20

// SearchFields are requested on every search so the normalizer sees every
// column it stores.
var SearchFields = []string{
	"abstract", "action", "agency_names", "body_html_url", "citation",
	"comment_url", "comments_close_on", "dates", "docket_ids",
	"document_number", "effective_on", "excerpts", "full_text_xml_url",
	"html_url", "json_url", "page_views", "publication_date", "raw_text_url",
	"regulations_dot_gov_info", "regulations_dot_gov_url", "significant",
	"subtype", "title", "toc_doc", "toc_subject", "topics", "type",
}

// MetricsFields are requested when refreshing engagement counters.
var MetricsFields = []string{"page_views", "regulations_dot_gov_info"}

var (
	// ErrTransient marks failures worth retrying: network errors, 429 and 5xx.
	ErrTransient = errors.New("transient source error")
	// ErrNotFound is returned for an unknown document number.
	ErrNotFound = errors.New("document not found")
)

// APIError describes a non-2xx response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("federal register api: status %d: %s", e.StatusCode, e.Body)
}

// Config configures the client.
type Config struct {
	BaseURL           string
	UserAgent         string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

// Client talks to the Federal Register API.
type Client struct {
	baseURL   string
	userAgent string
	http      *http.Client
	limiter   *ratelimit.Limiter
}

// New builds a Client. A nil httpClient gets a default one with cfg.Timeout.
func New(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	return &Client{
		baseURL:   base,
		userAgent: cfg.UserAgent,
		http:      httpClient,
		limiter:   ratelimit.New(ratelimit.Config{DefaultRPS: cfg.RequestsPerSecond, DefaultBurst: cfg.Burst}),
	}
}

// SearchParams selects documents by term and publication date.
type SearchParams struct {
	Terms    []string
	From     time.Time
	To       time.Time
	PerPage  int
	MaxPages int
}

// Page is one page of search results. Body holds the raw response.
type Page struct {
	Number      int
	Count       int
	TotalPages  int
	NextPageURL string
	Results     []document.Raw
	Body        []byte
}

// Search walks the result pages newest first, calling visit for each one.
// It stops after MaxPages pages when MaxPages is positive.
func (c *Client) Search(ctx context.Context, params SearchParams, visit func(Page) error) error {
	next := c.searchURL(params)
	for n := 1; next != ""; n++ {
		if params.MaxPages > 0 && n > params.MaxPages {
			return nil
		}
		page, err := c.searchPage(ctx, next)
		if err != nil {
			return fmt.Errorf("search page %d: %w", n, err)
		}
		page.Number = n
		if err := visit(page); err != nil {
			return err
		}
		next = page.NextPageURL
	}
	return nil
}

// Document fetches a single document restricted to the given fields.
func (c *Client) Document(ctx context.Context, number string, fields ...string) (document.Raw, error) {
	if strings.TrimSpace(number) == "" {
		return nil, fmt.Errorf("fetch document: empty document number")
	}
	q := url.Values{}
	for _, f := range fields {
		q.Add("fields[]", f)
	}
	endpoint := c.baseURL + "/documents/" + url.PathEscape(number) + ".json"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	body, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("fetch document %s: %w", number, err)
	}
	raw, err := decodeObject(body)
	if err != nil {
		return nil, fmt.Errorf("fetch document %s: %w", number, err)
	}
	return raw, nil
}

// Metrics fetches the engagement counters of one document.
func (c *Client) Metrics(ctx context.Context, number string) (document.Metrics, error) {
	raw, err := c.Document(ctx, number, MetricsFields...)
	if err != nil {
		return document.Metrics{}, err
	}
	return document.ExtractMetrics(number, raw), nil
}

func (c *Client) searchURL(p SearchParams) string {
	q := url.Values{}
	if terms := nonEmpty(p.Terms); len(terms) > 0 {
		q.Set("conditions[term]", strings.Join(terms, " | "))
	}
	if !p.From.IsZero() {
		q.Set("conditions[publication_date][gte]", p.From.Format("2006-01-02"))
	}
	if !p.To.IsZero() {
		q.Set("conditions[publication_date][lte]", p.To.Format("2006-01-02"))
	}
	if p.PerPage > 0 {
		q.Set("per_page", strconv.Itoa(p.PerPage))
	}
	q.Set("order", "newest")
	for _, f := range SearchFields {
		q.Add("fields[]", f)
	}
	return c.baseURL + "/documents.json?" + q.Encode()
}

func (c *Client) searchPage(ctx context.Context, pageURL string) (Page, error) {
	body, err := c.get(ctx, pageURL)
	if err != nil {
		return Page{}, err
	}
	raw, err := decodeObject(body)
	if err != nil {
		return Page{}, err
	}
	page := Page{
		Body:       body,
		Count:      intOf(raw["count"]),
		TotalPages: intOf(raw["total_pages"]),
	}
	page.NextPageURL, _ = raw["next_page_url"].(string)
	if results, ok := raw["results"].([]any); ok {
		page.Results = make([]document.Raw, 0, len(results))
		for _, item := range results {
			if obj, ok := item.(map[string]any); ok {
				page.Results = append(page.Results, document.Raw(obj))
			}
		}
	}
	return page, nil
}

func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	if err := c.limiter.Wait(ctx, endpoint); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("do request: %w", ctx.Err())
		}
		return nil, fmt.Errorf("%w: %w", ErrTransient, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrTransient, err)
	}
	if resp.StatusCode/100 == 2 {
		return body, nil
	}

	apiErr := &APIError{StatusCode: resp.StatusCode, Body: truncate(string(body), 512)}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: %w", ErrTransient, apiErr)
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %w", ErrNotFound, apiErr)
	default:
		return nil, apiErr
	}
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// decodeObject accepts a JSON object or a JSON string that itself encodes
// an object. Numbers are kept as json.Number.
func decodeObject(body []byte) (map[string]any, error) {
	var v any
	if err := decode(body, &v); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if s, ok := v.(string); ok {
		if err := decode([]byte(s), &v); err != nil {
			return nil, fmt.Errorf("decode string envelope: %w", err)
		}
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("decode response: expected object, got %T", v)
	}
	return obj, nil
}

func decode(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

func intOf(v any) int {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0
		}
		return int(i)
	case float64:
		return int(n)
	default:
		return 0
	}
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
