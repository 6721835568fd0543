package postgres

import (
	sq "github.com/Masterminds/squirrel"

	"github.com/JakeFAU/ai-policy-docs/internal/document"
)

// contentColumns are written once by the sync job, in insert order.
var contentColumns = []string{
	"document_number",
	"abstract",
	"action",
	"agency_names",
	"html_url",
	"body_html_url",
	"citation",
	"comment_url",
	"comments_close_on",
	"dates",
	"docket_ids",
	"effective_on",
	"excerpts",
	"full_text_xml_url",
	"json_url",
	"page_views_count",
	"comments_count",
	"publication_date",
	"raw_text_url",
	"regulations_dot_gov_comments_url",
	"regulations_dot_gov_docket_id",
	"regulations_dot_gov_document_id",
	"regulations_dot_gov_title",
	"regulations_dot_gov_url",
	"significant",
	"subtype",
	"title",
	"toc_doc",
	"toc_subject",
	"topics",
	"type",
}

// classificationColumns follow the content columns in AI table reads.
var classificationColumns = []string{
	"page_views_count_modified_at",
	"comments_count_modified_at",
	"ai_related",
	"llm_summary",
	"tags",
	"created_at",
	"last_modified",
}

var nonTextColumns = map[string]struct{}{
	"comments_close_on": {},
	"effective_on":      {},
	"publication_date":  {},
	"page_views_count":  {},
	"comments_count":    {},
	"significant":       {},
}

// selectContentColumns renders content columns with NULL text coalesced to "".
func selectContentColumns() []string {
	out := make([]string, len(contentColumns))
	for i, c := range contentColumns {
		if _, ok := nonTextColumns[c]; ok {
			out[i] = c
			continue
		}
		out[i] = "COALESCE(" + c + ", '') AS " + c
	}
	return out
}

func contentValues(d document.Document) []any {
	return []any{
		d.DocumentNumber,
		d.Abstract,
		d.Action,
		document.JoinCollection(d.AgencyNames),
		d.HTMLURL,
		d.BodyHTMLURL,
		d.Citation,
		d.CommentURL,
		d.CommentsCloseOn,
		d.Dates,
		document.JoinCollection(d.DocketIDs),
		d.EffectiveOn,
		d.Excerpts,
		d.FullTextXMLURL,
		d.JSONURL,
		d.PageViewsCount,
		d.CommentsCount,
		d.PublicationDate,
		d.RawTextURL,
		d.RegulationsCommentsURL,
		d.Regulations.DocketID,
		d.Regulations.DocumentID,
		d.Regulations.Title,
		d.RegulationsDotGovURL,
		d.Significant,
		d.Subtype,
		d.Title,
		d.TocDoc,
		d.TocSubject,
		document.JoinCollection(d.Topics),
		d.Type,
	}
}

// aiValues extends contentValues with the verdict and both timestamps.
func aiValues(d document.Document) []any {
	vals := contentValues(d)
	return append(vals,
		d.AIRelated,
		d.LLMSummary,
		nonNilTags(d.Tags),
		sq.Expr("NOW()"),
		sq.Expr("NOW()"),
	)
}

var aiInsertColumns = append(append([]string{}, contentColumns...),
	"ai_related", "llm_summary", "tags", "created_at", "last_modified")

// scanned holds the denormalized collection columns until they are split.
type scanned struct {
	doc         document.Document
	agencyNames string
	docketIDs   string
	topics      string
}

func (s *scanned) contentTargets() []any {
	d := &s.doc
	return []any{
		&d.DocumentNumber,
		&d.Abstract,
		&d.Action,
		&s.agencyNames,
		&d.HTMLURL,
		&d.BodyHTMLURL,
		&d.Citation,
		&d.CommentURL,
		&d.CommentsCloseOn,
		&d.Dates,
		&s.docketIDs,
		&d.EffectiveOn,
		&d.Excerpts,
		&d.FullTextXMLURL,
		&d.JSONURL,
		&d.PageViewsCount,
		&d.CommentsCount,
		&d.PublicationDate,
		&d.RawTextURL,
		&d.RegulationsCommentsURL,
		&d.Regulations.DocketID,
		&d.Regulations.DocumentID,
		&d.Regulations.Title,
		&d.RegulationsDotGovURL,
		&d.Significant,
		&d.Subtype,
		&d.Title,
		&d.TocDoc,
		&d.TocSubject,
		&s.topics,
		&d.Type,
	}
}

func (s *scanned) classificationTargets() []any {
	d := &s.doc
	return []any{
		&d.PageViewsCountModifiedAt,
		&d.CommentsCountModifiedAt,
		&d.AIRelated,
		&d.LLMSummary,
		&d.Tags,
		&d.CreatedAt,
		&d.LastModified,
	}
}

func (s *scanned) document() document.Document {
	d := s.doc
	d.AgencyNames = document.SplitCollection(s.agencyNames)
	d.DocketIDs = document.SplitCollection(s.docketIDs)
	d.Topics = document.SplitCollection(s.topics)
	d.Regulations.CommentsCount = d.CommentsCount
	if d.Tags == nil {
		d.Tags = []string{}
	}
	return d
}

func nonNilTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

// sortableColumns may appear in ORDER BY of the read API.
var sortableColumns = map[string]struct{}{
	"document_number":   {},
	"publication_date":  {},
	"comments_close_on": {},
	"effective_on":      {},
	"page_views_count":  {},
	"comments_count":    {},
	"title":             {},
	"agency_names":      {},
	"type":              {},
	"created_at":        {},
	"last_modified":     {},
}

// Sortable reports whether column may be used to order read API results.
func Sortable(column string) bool {
	_, ok := sortableColumns[column]
	return ok
}
