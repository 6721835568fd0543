package classifier

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrNoJSONFound is returned when a response contains no brace-delimited object.
var ErrNoJSONFound = errors.New("no JSON object found in response")

var (
	summaryKeyPattern  = regexp.MustCompile(`"llm_summary"\s*:\s*"`)
	nestedTagsPattern  = regexp.MustCompile(`("tags"\s*:\s*)\[\s*(\[[^\[\]]*\])\s*\]`)
	closingTailPattern = regexp.MustCompile(`^\s*[,}]`)
)

// Repair runs the lenient pipeline over a model response. Each step is a pure
// string transform.
func Repair(text string) (string, error) {
	obj, err := ExtractObject(text)
	if err != nil {
		return "", err
	}
	obj = ReescapeSummary(obj)
	obj = UnwrapNestedTags(obj)
	obj = StripTrailingCommas(obj)
	return obj, nil
}

// ExtractObject keeps the text from the first '{' to the last '}'.
func ExtractObject(text string) (string, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return "", ErrNoJSONFound
	}
	return text[start : end+1], nil
}

// ReescapeSummary rewrites the llm_summary string value so it is a valid JSON
// string: raw newlines and control characters are escaped, stray backslashes
// are doubled and inner quotes are escaped. The value ends at the first quote
// followed by a comma or closing brace. Input without a recognizable summary
// value is returned unchanged.
func ReescapeSummary(obj string) string {
	loc := summaryKeyPattern.FindStringIndex(obj)
	if loc == nil {
		return obj
	}
	start := loc[1]

	var sb strings.Builder
	sb.Grow(len(obj) + 16)
	sb.WriteString(obj[:start])

	for i := start; i < len(obj); i++ {
		c := obj[i]
		switch {
		case c == '\\':
			if i+1 < len(obj) && isJSONEscape(obj[i+1]) {
				sb.WriteByte(c)
				sb.WriteByte(obj[i+1])
				i++
				continue
			}
			sb.WriteString(`\\`)
		case c == '"':
			if closingTailPattern.MatchString(obj[i+1:]) {
				sb.WriteString(obj[i:])
				return sb.String()
			}
			sb.WriteString(`\"`)
		case c == '\n':
			sb.WriteString(`\n`)
		case c == '\r':
			sb.WriteString(`\r`)
		case c == '\t':
			sb.WriteString(`\t`)
		case c < 0x20:
			fmt.Fprintf(&sb, `\u%04x`, c)
		default:
			sb.WriteByte(c)
		}
	}
	// Unterminated value.
	return obj
}

// UnwrapNestedTags turns "tags": [[...]] into "tags": [...].
func UnwrapNestedTags(obj string) string {
	return nestedTagsPattern.ReplaceAllString(obj, "${1}${2}")
}

// StripTrailingCommas drops commas that directly precede a closing bracket or
// brace. Commas inside string literals are left alone.
func StripTrailingCommas(obj string) string {
	var sb strings.Builder
	sb.Grow(len(obj))
	inString := false
	for i := 0; i < len(obj); i++ {
		c := obj[i]
		if inString {
			sb.WriteByte(c)
			switch c {
			case '\\':
				if i+1 < len(obj) {
					sb.WriteByte(obj[i+1])
					i++
				}
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case ',':
			j := i + 1
			for j < len(obj) && isSpace(obj[j]) {
				j++
			}
			if j < len(obj) && (obj[j] == ']' || obj[j] == '}') {
				continue
			}
		}
		sb.WriteByte(c)
	}
	return sb.String()
}

func isJSONEscape(c byte) bool {
	return strings.IndexByte(`"\/bfnrtu`, c) >= 0
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\r' || c == '\t'
}
