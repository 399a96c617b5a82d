package perception

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"delphi/internal/delphi"
)

func TestSanitizeCitation(t *testing.T) {
	tests := []struct {
		name  string
		raw   interface{}
		index int
		want  delphi.Citation
	}{
		{
			name:  "bare_url_string",
			raw:   "https://example.org/paper",
			index: 0,
			want:  delphi.Citation{Title: "Source 1", URL: "https://example.org/paper"},
		},
		{
			name:  "index_drives_placeholder_number",
			raw:   "https://example.org/other",
			index: 4,
			want:  delphi.Citation{Title: "Source 5", URL: "https://example.org/other"},
		},
		{
			name: "full_object",
			raw: map[string]interface{}{
				"title":     "A Study",
				"url":       "https://example.org/study",
				"date":      "2025-01-15",
				"relevance": "high",
			},
			index: 0,
			want:  delphi.Citation{Title: "A Study", URL: "https://example.org/study", Date: "2025-01-15", Relevance: "high"},
		},
		{
			name: "object_missing_title_gets_placeholder",
			raw: map[string]interface{}{
				"url": "https://example.org/untitled",
			},
			index: 2,
			want:  delphi.Citation{Title: "Source 3", URL: "https://example.org/untitled"},
		},
		{
			name: "non_string_fields_ignored",
			raw: map[string]interface{}{
				"title":     42.0,
				"url":       "https://example.org/x",
				"relevance": 0.9,
			},
			index: 0,
			want:  delphi.Citation{Title: "Source 1", URL: "https://example.org/x"},
		},
		{
			name:  "unrecognized_shape",
			raw:   []interface{}{"https://example.org/listed"},
			index: 1,
			want:  delphi.Citation{Title: "Source 2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeCitation(tt.raw, tt.index))
		})
	}
}

func TestSanitizeCitations(t *testing.T) {
	got := SanitizeCitations([]interface{}{
		"https://example.org/1",
		map[string]interface{}{"title": "Named", "url": "https://example.org/2"},
	})
	assert.Equal(t, []delphi.Citation{
		{Title: "Source 1", URL: "https://example.org/1"},
		{Title: "Named", URL: "https://example.org/2"},
	}, got)

	assert.Nil(t, SanitizeCitations(nil))
	assert.Nil(t, SanitizeCitations([]interface{}{}))
}
