// Package document defines the regulatory document record and the pure
// normalization rules applied to raw Federal Register payloads.
package document

import (
	"strings"
	"time"
)

// Tag taxonomy used by the relevance classifier.
const (
	TagIPConsumerRights      = "IP & Consumer Rights"
	TagGeopoliticsDefense    = "Geopolitics & Defense"
	TagHealthcare            = "Healthcare"
	TagPolicyStandards       = "Policy & Standards"
	TagCapabilitiesResearch  = "Capabilities & Research"
	collectionDelimiter      = ", "
	regulationsDocumentRoute = "https://www.regulations.gov/document/"
)

// AllowedTags lists the fixed classifier taxonomy in prompt order.
var AllowedTags = []string{
	TagIPConsumerRights,
	TagGeopoliticsDefense,
	TagHealthcare,
	TagPolicyStandards,
	TagCapabilitiesResearch,
}

// RegulationsInfo mirrors the regulations_dot_gov_info sub-object.
type RegulationsInfo struct {
	DocketID      string `json:"docket_id"`
	DocumentID    string `json:"document_id"`
	Title         string `json:"title"`
	CommentsCount *int64 `json:"comments_count,omitempty"`
}

// Document is one Federal Register filing keyed by DocumentNumber.
//
// Content fields are written once by the sync job. Metrics fields are
// refreshed indefinitely. Classification fields stay nil until the
// classify job produces a verdict and are never revisited afterwards.
type Document struct {
	DocumentNumber string `json:"document_number"`

	Abstract             string     `json:"abstract"`
	Action               string     `json:"action"`
	AgencyNames          []string   `json:"agency_names"`
	HTMLURL              string     `json:"html_url"`
	BodyHTMLURL          string     `json:"body_html_url"`
	Citation             string     `json:"citation"`
	CommentURL           string     `json:"comment_url"`
	CommentsCloseOn      *time.Time `json:"comments_close_on"`
	Dates                string     `json:"dates"`
	DocketIDs            []string   `json:"docket_ids"`
	EffectiveOn          *time.Time `json:"effective_on"`
	Excerpts             string     `json:"excerpts"`
	FullTextXMLURL       string     `json:"full_text_xml_url"`
	JSONURL              string     `json:"json_url"`
	PublicationDate      *time.Time `json:"publication_date"`
	RawTextURL           string     `json:"raw_text_url"`
	RegulationsDotGovURL string     `json:"regulations_dot_gov_url"`
	Significant          *bool      `json:"significant"`
	Subtype              string     `json:"subtype"`
	Title                string     `json:"title"`
	TocDoc               string     `json:"toc_doc"`
	TocSubject           string     `json:"toc_subject"`
	Topics               []string   `json:"topics"`
	Type                 string     `json:"type"`

	Regulations            RegulationsInfo `json:"regulations_dot_gov_info"`
	RegulationsCommentsURL string          `json:"regulations_dot_gov_comments_url"`

	PageViewsCount           *int64     `json:"page_views_count"`
	PageViewsCountModifiedAt *time.Time `json:"page_views_count_modified_at,omitempty"`
	CommentsCount            *int64     `json:"comments_count"`
	CommentsCountModifiedAt  *time.Time `json:"comments_count_modified_at,omitempty"`

	AIRelated  *int     `json:"ai_related"`
	LLMSummary *string  `json:"llm_summary"`
	Tags       []string `json:"tags"`

	CreatedAt    *time.Time `json:"created_at,omitempty"`
	LastModified *time.Time `json:"last_modified,omitempty"`
}

// Classified reports whether the document already carries a verdict.
func (d Document) Classified() bool {
	return d.AIRelated != nil
}

// IsAIRelated reports whether the verdict marks the document as relevant.
func (d Document) IsAIRelated() bool {
	return d.AIRelated != nil && *d.AIRelated == 1
}

// Metrics holds the mutable engagement counters of a stored document.
type Metrics struct {
	DocumentNumber string
	PageViewsCount *int64
	CommentsCount  *int64
}

// Changes returns the counters of fetched that are non-nil and differ from
// the stored values in m. The result carries m's document number.
func (m Metrics) Changes(fetched Metrics) Metrics {
	out := Metrics{DocumentNumber: m.DocumentNumber}
	if changed(m.PageViewsCount, fetched.PageViewsCount) {
		out.PageViewsCount = fetched.PageViewsCount
	}
	if changed(m.CommentsCount, fetched.CommentsCount) {
		out.CommentsCount = fetched.CommentsCount
	}
	return out
}

// Empty reports whether no counter is set.
func (m Metrics) Empty() bool {
	return m.PageViewsCount == nil && m.CommentsCount == nil
}

func changed(stored, fetched *int64) bool {
	if fetched == nil {
		return false
	}
	return stored == nil || *stored != *fetched
}

// Verdict is the classifier outcome for a single document.
type Verdict struct {
	DocumentNumber string   `json:"document_number"`
	AIRelated      int      `json:"ai_related"`
	Summary        string   `json:"llm_summary"`
	Tags           []string `json:"tags"`
}

// Apply copies the verdict onto the document's classification fields.
func (v Verdict) Apply(doc *Document) {
	related := v.AIRelated
	summary := v.Summary
	doc.AIRelated = &related
	doc.LLMSummary = &summary
	doc.Tags = append([]string(nil), v.Tags...)
}

// JoinCollection renders a collection field in its denormalized column form.
func JoinCollection(values []string) string {
	return strings.Join(values, collectionDelimiter)
}

// SplitCollection reverses JoinCollection. Empty input yields an empty slice.
func SplitCollection(value string) []string {
	if strings.TrimSpace(value) == "" {
		return []string{}
	}
	return strings.Split(value, collectionDelimiter)
}
