package document

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Raw is a decoded Federal Register record with arbitrarily missing keys.
type Raw map[string]any

var (
	docketTokenPattern  = regexp.MustCompile(`\b[A-Z]{3}-\d{4}-[\w-]+`)
	canonicalDocPattern = regexp.MustCompile(`^https://www\.regulations\.gov/document/([A-Z]{3}-\d{4}-[\w-]+)`)
)

const firstDocumentSuffix = "-0001"

var dateLayouts = []string{"2006-01-02", time.RFC3339, "2006-01-02T15:04:05"}

// Normalize turns a raw record into a Document with every field defined.
// Missing or mistyped keys take their default: "" for text, an empty slice
// for collections and nil for optional scalars and dates.
func Normalize(raw Raw) Document {
	regs := raw.object("regulations_dot_gov_info")
	pageViews := raw.object("page_views")

	doc := Document{
		DocumentNumber:       raw.str("document_number"),
		Abstract:             raw.str("abstract"),
		Action:               raw.str("action"),
		AgencyNames:          raw.strings("agency_names"),
		HTMLURL:              raw.str("html_url"),
		BodyHTMLURL:          raw.str("body_html_url"),
		Citation:             raw.str("citation"),
		CommentURL:           raw.str("comment_url"),
		CommentsCloseOn:      raw.date("comments_close_on"),
		Dates:                raw.str("dates"),
		DocketIDs:            raw.strings("docket_ids"),
		EffectiveOn:          raw.date("effective_on"),
		Excerpts:             raw.str("excerpts"),
		FullTextXMLURL:       raw.str("full_text_xml_url"),
		JSONURL:              raw.str("json_url"),
		PublicationDate:      raw.date("publication_date"),
		RawTextURL:           raw.str("raw_text_url"),
		RegulationsDotGovURL: raw.str("regulations_dot_gov_url"),
		Significant:          raw.boolean("significant"),
		Subtype:              raw.str("subtype"),
		Title:                raw.str("title"),
		TocDoc:               raw.str("toc_doc"),
		TocSubject:           raw.str("toc_subject"),
		Topics:               raw.strings("topics"),
		Type:                 raw.str("type"),
		Regulations: RegulationsInfo{
			DocketID:      regs.str("docket_id"),
			DocumentID:    regs.str("document_id"),
			Title:         regs.str("title"),
			CommentsCount: regs.integer("comments_count"),
		},
		PageViewsCount: pageViews.integer("count"),
	}
	doc.CommentsCount = doc.Regulations.CommentsCount
	doc.RegulationsCommentsURL = TransformRegulationsURL(
		doc.Regulations.DocumentID,
		JoinCollection(doc.DocketIDs),
	)
	return doc
}

// ExtractMetrics reads the mutable counters from a fetch-by-id payload.
// Either counter is nil when its sub-object or key is absent.
func ExtractMetrics(documentNumber string, raw Raw) Metrics {
	return Metrics{
		DocumentNumber: documentNumber,
		PageViewsCount: raw.object("page_views").integer("count"),
		CommentsCount:  raw.object("regulations_dot_gov_info").integer("comments_count"),
	}
}

// TransformRegulationsURL derives the regulations.gov comment URL.
//
// A non-empty document id wins. Otherwise the first XXX-NNNN-rest token in
// docketIDs is promoted to its first document by appending -0001. Without a
// token the result is empty.
func TransformRegulationsURL(documentID, docketIDs string) string {
	if documentID != "" {
		return regulationsDocumentRoute + documentID
	}
	token := docketTokenPattern.FindString(docketIDs)
	if token == "" {
		return ""
	}
	candidate := regulationsDocumentRoute + token
	if m := canonicalDocPattern.FindStringSubmatch(candidate); m != nil {
		return regulationsDocumentRoute + m[1] + firstDocumentSuffix
	}
	return candidate
}

func (r Raw) str(key string) string {
	switch v := r[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

func (r Raw) strings(key string) []string {
	out := []string{}
	switch v := r[key].(type) {
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
	case []string:
		out = append(out, v...)
	}
	return out
}

func (r Raw) object(key string) Raw {
	switch v := r[key].(type) {
	case map[string]any:
		return Raw(v)
	case Raw:
		return v
	default:
		return Raw{}
	}
}

func (r Raw) integer(key string) *int64 {
	var n int64
	switch v := r[key].(type) {
	case json.Number:
		parsed, err := v.Int64()
		if err != nil {
			f, ferr := v.Float64()
			if ferr != nil {
				return nil
			}
			parsed = int64(math.Round(f))
		}
		n = parsed
	case float64:
		n = int64(math.Round(v))
	case int:
		n = int64(v)
	case int64:
		n = v
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return nil
		}
		n = parsed
	default:
		return nil
	}
	return &n
}

func (r Raw) boolean(key string) *bool {
	v, ok := r[key].(bool)
	if !ok {
		return nil
	}
	return &v
}

func (r Raw) date(key string) *time.Time {
	s := strings.TrimSpace(r.str(key))
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
