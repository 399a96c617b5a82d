package perception

import (
	"fmt"

	"delphi/internal/delphi"
)

// SanitizeCitation normalizes one raw citation entry from the search
// service. Upstream citation lists are heterogeneous: entries may be bare
// URL strings or partial objects. index is the zero-based position in the
// source list and drives the generated "Source N" title.
func SanitizeCitation(raw interface{}, index int) delphi.Citation {
	placeholder := fmt.Sprintf("Source %d", index+1)

	switch v := raw.(type) {
	case string:
		return delphi.Citation{Title: placeholder, URL: v}
	case map[string]interface{}:
		c := delphi.Citation{Title: placeholder}
		if title, ok := v["title"].(string); ok && title != "" {
			c.Title = title
		}
		if u, ok := v["url"].(string); ok {
			c.URL = u
		}
		if d, ok := v["date"].(string); ok {
			c.Date = d
		}
		if rel, ok := v["relevance"].(string); ok {
			c.Relevance = rel
		}
		return c
	default:
		return delphi.Citation{Title: placeholder}
	}
}

// SanitizeCitations normalizes a raw citation list. It must be applied to
// every externally-sourced citation list before it enters the data model.
func SanitizeCitations(raw []interface{}) []delphi.Citation {
	if len(raw) == 0 {
		return nil
	}
	out := make([]delphi.Citation, 0, len(raw))
	for i, r := range raw {
		out = append(out, SanitizeCitation(r, i))
	}
	return out
}
