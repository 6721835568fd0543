package classifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/JakeFAU/ai-policy-docs/internal/document"
)

// ErrMalformedResponse wraps every failure to turn a model response into a verdict.
var ErrMalformedResponse = errors.New("malformed classifier response")

var allowedTagIndex = func() map[string]string {
	m := make(map[string]string, len(document.AllowedTags))
	for _, tag := range document.AllowedTags {
		m[strings.ToLower(tag)] = tag
	}
	return m
}()

// ParseVerdict decodes a model response. A strict JSON parse is tried first;
// if it fails the response goes through Repair and is parsed once more.
func ParseVerdict(documentNumber, text string) (document.Verdict, error) {
	fields, err := decodeFields(text)
	if err != nil {
		repaired, rerr := Repair(text)
		if rerr != nil {
			return document.Verdict{}, fmt.Errorf("%w: %w", ErrMalformedResponse, rerr)
		}
		fields, err = decodeFields(repaired)
		if err != nil {
			return document.Verdict{}, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
		}
	}

	verdict := document.Verdict{DocumentNumber: documentNumber}
	if verdict.AIRelated, err = parseAIRelated(fields["ai_related"]); err != nil {
		return document.Verdict{}, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	if verdict.Summary, err = parseSummary(fields["llm_summary"]); err != nil {
		return document.Verdict{}, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	if verdict.Tags, err = parseTags(fields["tags"]); err != nil {
		return document.Verdict{}, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	return verdict, nil
}

func decodeFields(text string) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &fields); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	if fields == nil {
		return nil, errors.New("decode json: null object")
	}
	return fields, nil
}

func parseAIRelated(raw json.RawMessage) (int, error) {
	if len(raw) == 0 {
		return 0, errors.New("missing ai_related")
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, fmt.Errorf("ai_related: %w", err)
	}
	switch x := v.(type) {
	case float64:
		if x == 0 || x == 1 {
			return int(x), nil
		}
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(x)); err == nil && (n == 0 || n == 1) {
			return n, nil
		}
	}
	return 0, fmt.Errorf("ai_related: unexpected value %s", string(raw))
}

func parseSummary(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", errors.New("missing llm_summary")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("llm_summary: %w", err)
	}
	return strings.Trim(s, "` \t\r\n"), nil
}

func parseTags(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, errors.New("missing tags")
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("tags: %w", err)
	}
	var candidates []string
	switch x := v.(type) {
	case nil:
	case []any:
		for _, item := range x {
			if s, ok := item.(string); ok {
				candidates = append(candidates, s)
			}
		}
	case string:
		candidates = strings.Split(x, ",")
	default:
		return nil, fmt.Errorf("tags: unexpected value %s", string(raw))
	}
	return filterTags(candidates), nil
}

// filterTags keeps taxonomy tags only, canonicalized, first occurrence wins.
func filterTags(candidates []string) []string {
	out := make([]string, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		tag, ok := allowedTagIndex[strings.ToLower(strings.TrimSpace(c))]
		if !ok {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}
