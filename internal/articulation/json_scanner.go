// Package articulation turns raw model output into validated domain records.
// Generation services wrap JSON in prose, code fences, and apologies; this
// package extracts the JSON payload and enforces the strict response schemas.
package articulation

import "fmt"

// scanDelimited scans s for top-level candidates delimited by open/close,
// skipping delimiters that appear inside JSON strings. It handles nesting
// and string escaping to correctly identify boundaries.
//
// Note: it is safe to iterate bytes for ASCII delimiters ({, }, [, ], ", \)
// because UTF-8 guarantees ASCII bytes never appear inside a multi-byte
// sequence.
func scanDelimited(s string, open, close byte) []string {
	var candidates []string
	var depth int
	start := -1
	var inString bool
	var escape bool

	for i := 0; i < len(s); i++ {
		b := s[i]

		if escape {
			escape = false
			continue
		}

		if inString {
			if b == '\\' {
				escape = true
			} else if b == '"' {
				inString = false
			}
			continue
		}

		if b == '"' {
			// Quotes only delimit strings inside a candidate; prose outside
			// the payload may contain unbalanced quotes.
			if depth > 0 {
				inString = true
			}
			continue
		}

		if b == open {
			if depth == 0 {
				start = i
			}
			depth++
		} else if b == close {
			if depth > 0 {
				depth--
				if depth == 0 && start != -1 {
					candidates = append(candidates, s[start:i+1])
					start = -1
				}
			}
		}
	}

	return candidates
}

// FirstObject returns the first top-level brace-delimited JSON object
// substring in s, tolerating leading and trailing prose.
func FirstObject(s string) (string, error) {
	candidates := scanDelimited(s, '{', '}')
	if len(candidates) == 0 {
		return "", fmt.Errorf("no JSON object found in response text")
	}
	return candidates[0], nil
}

// FirstArray returns the first top-level bracket-delimited JSON array
// substring in s, tolerating leading and trailing prose.
func FirstArray(s string) (string, error) {
	candidates := scanDelimited(s, '[', ']')
	if len(candidates) == 0 {
		return "", fmt.Errorf("no JSON array found in response text")
	}
	return candidates[0], nil
}
