package classifier

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractObject(t *testing.T) {
	got, err := ExtractObject("Here you go:\n{\"a\": {\"b\": 1}}\nHope that helps!")
	require.NoError(t, err)
	assert.Equal(t, `{"a": {"b": 1}}`, got)

	_, err = ExtractObject("I could not decide.")
	require.ErrorIs(t, err, ErrNoJSONFound)

	_, err = ExtractObject("} backwards {")
	require.ErrorIs(t, err, ErrNoJSONFound)
}

func TestReescapeSummary(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "raw newlines",
			in:   "{\"llm_summary\": \"* one\n* two\", \"tags\": []}",
			want: "* one\n* two",
		},
		{
			name: "inner quotes",
			in:   `{"llm_summary": "* the "Act" applies", "tags": []}`,
			want: `* the "Act" applies`,
		},
		{
			name: "stray backslash",
			in:   `{"llm_summary": "* path C:\data", "ai_related": 1}`,
			want: `* path C:\data`,
		},
		{
			name: "valid escapes kept",
			in:   `{"llm_summary": "* a\n* \"b\"\t"}`,
			want: "* a\n* \"b\"\t",
		},
		{
			name: "summary last key",
			in:   "{\"ai_related\": 0, \"llm_summary\": \"* tab\there\"\n}",
			want: "* tab\there",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := ReescapeSummary(tt.in)
			var decoded map[string]any
			require.NoError(t, json.Unmarshal([]byte(out), &decoded), out)
			assert.Equal(t, tt.want, decoded["llm_summary"])
		})
	}
}

func TestReescapeSummaryLeavesOtherInputAlone(t *testing.T) {
	in := `{"ai_related": 1, "tags": []}`
	assert.Equal(t, in, ReescapeSummary(in))

	unterminated := `{"llm_summary": "never closed`
	assert.Equal(t, unterminated, ReescapeSummary(unterminated))
}

func TestUnwrapNestedTags(t *testing.T) {
	in := `{"tags": [["Healthcare", "Policy & Standards"]], "ai_related": 1}`
	assert.Equal(t, `{"tags": ["Healthcare", "Policy & Standards"], "ai_related": 1}`, UnwrapNestedTags(in))

	flat := `{"tags": ["Healthcare"]}`
	assert.Equal(t, flat, UnwrapNestedTags(flat))
}

func TestStripTrailingCommas(t *testing.T) {
	in := `{"s": "x,}", "t": [1, 2, ], "u": "a, ]",}`
	assert.Equal(t, `{"s": "x,}", "t": [1, 2 ], "u": "a, ]"}`, StripTrailingCommas(in))

	escaped := `{"s": "quote \", ]",}`
	assert.Equal(t, `{"s": "quote \", ]"}`, StripTrailingCommas(escaped))
}

func TestRepairPipeline(t *testing.T) {
	in := "Sure! Here is the JSON:\n```\n{\n  \"ai_related\": 1,\n  \"llm_summary\": \"* NIST seeks comment\n* On \"AI\" risk\",\n  \"tags\": [[\"Policy & Standards\"]],\n}\n```"
	out, err := Repair(in)
	require.NoError(t, err)

	var decoded struct {
		AIRelated int      `json:"ai_related"`
		Summary   string   `json:"llm_summary"`
		Tags      []string `json:"tags"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &decoded), out)
	assert.Equal(t, 1, decoded.AIRelated)
	assert.Equal(t, "* NIST seeks comment\n* On \"AI\" risk", decoded.Summary)
	assert.Equal(t, []string{"Policy & Standards"}, decoded.Tags)
}
