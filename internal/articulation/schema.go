package articulation

import (
	"fmt"
	"net/url"
	"unicode/utf8"

	"delphi/internal/delphi"
)

// ValidationError reports a single schema violation in a structured
// response. Field names the offending field; Reason states the check that
// failed.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// Minimum lengths enforced on expert and contrarian responses. Shorter
// content is almost always a truncated or evasive generation.
const (
	MinPositionLen  = 10
	MinReasoningLen = 50
	MinCritiqueLen  = 50
	MinFrameworkLen = 30
)

func fieldMinLen(field, value string, min int) error {
	if utf8.RuneCountInString(value) < min {
		return &ValidationError{Field: field, Reason: fmt.Sprintf("must be at least %d characters", min)}
	}
	return nil
}

func wellFormedURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// ValidateExpertResponse enforces the strict expert response schema:
// minimum string lengths, confidence in the inclusive [1,10] range, and a
// non-empty source list with well-formed URLs.
func ValidateExpertResponse(r *delphi.ExpertResponse) error {
	if err := fieldMinLen("position", r.Position, MinPositionLen); err != nil {
		return err
	}
	if err := fieldMinLen("reasoning", r.Reasoning, MinReasoningLen); err != nil {
		return err
	}
	if r.Confidence < 1 || r.Confidence > 10 {
		return &ValidationError{Field: "confidence", Reason: "must be between 1 and 10"}
	}
	if len(r.Sources) == 0 {
		return &ValidationError{Field: "sources", Reason: "must contain at least one citation"}
	}
	for i, c := range r.Sources {
		if !wellFormedURL(c.URL) {
			return &ValidationError{
				Field:  fmt.Sprintf("sources[%d].url", i),
				Reason: fmt.Sprintf("not a well-formed URL: %q", c.URL),
			}
		}
	}
	if r.ExpertiseArea == "" {
		return &ValidationError{Field: "expertise_area", Reason: "must not be empty"}
	}
	if r.AgentID == "" {
		return &ValidationError{Field: "agent_id", Reason: "must not be empty"}
	}
	return nil
}

// ValidateContrarianResponse enforces the strict contrarian response schema.
func ValidateContrarianResponse(r *delphi.ContrarianResponse) error {
	if err := fieldMinLen("critique", r.Critique, MinCritiqueLen); err != nil {
		return err
	}
	if err := fieldMinLen("alternative_framework", r.AlternativeFramework, MinFrameworkLen); err != nil {
		return err
	}
	if len(r.BlindSpots) == 0 {
		return &ValidationError{Field: "blind_spots", Reason: "must contain at least one entry"}
	}
	if r.AgentID == "" {
		return &ValidationError{Field: "agent_id", Reason: "must not be empty"}
	}
	return nil
}

// ValidatePersonaSpec checks that a generated persona carries the fields the
// expert agent configuration depends on. The biographical fields are allowed
// to be empty; role and expertise drive prompting and must be present.
func ValidatePersonaSpec(p *delphi.PersonaSpec) error {
	if p.Name == "" {
		return &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if p.Role == "" {
		return &ValidationError{Field: "role", Reason: "must not be empty"}
	}
	if p.DomainExpertise == "" {
		return &ValidationError{Field: "domain_expertise", Reason: "must not be empty"}
	}
	if p.Perspective == "" {
		return &ValidationError{Field: "perspective", Reason: "must not be empty"}
	}
	return nil
}
