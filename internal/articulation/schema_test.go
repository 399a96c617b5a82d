package articulation

import (
	"errors"
	"strings"
	"testing"

	"delphi/internal/delphi"
)

func validExpert() delphi.ExpertResponse {
	return delphi.ExpertResponse{
		Position:   "Adopt the proposal with phased rollout.",
		Reasoning:  strings.Repeat("Because the evidence points that way. ", 3),
		Confidence: 7,
		Sources: []delphi.Citation{
			{Title: "Study", URL: "https://example.org/study"},
		},
		ExpertiseArea: "economics",
		AgentID:       "expert-abc12345",
	}
}

func TestValidateExpertResponse(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*delphi.ExpertResponse)
		wantField string
	}{
		{name: "valid", mutate: func(r *delphi.ExpertResponse) {}},
		{
			name:      "position_one_short_of_minimum",
			mutate:    func(r *delphi.ExpertResponse) { r.Position = strings.Repeat("x", MinPositionLen-1) },
			wantField: "position",
		},
		{
			name:   "position_exactly_minimum",
			mutate: func(r *delphi.ExpertResponse) { r.Position = strings.Repeat("x", MinPositionLen) },
		},
		{
			name:      "reasoning_one_short_of_minimum",
			mutate:    func(r *delphi.ExpertResponse) { r.Reasoning = strings.Repeat("y", MinReasoningLen-1) },
			wantField: "reasoning",
		},
		{
			name:   "reasoning_exactly_minimum",
			mutate: func(r *delphi.ExpertResponse) { r.Reasoning = strings.Repeat("y", MinReasoningLen) },
		},
		{
			name:   "multibyte_runes_counted_not_bytes",
			mutate: func(r *delphi.ExpertResponse) { r.Position = strings.Repeat("é", MinPositionLen) },
		},
		{
			name:      "confidence_below_range",
			mutate:    func(r *delphi.ExpertResponse) { r.Confidence = 0.9 },
			wantField: "confidence",
		},
		{
			name:   "confidence_lower_bound_inclusive",
			mutate: func(r *delphi.ExpertResponse) { r.Confidence = 1 },
		},
		{
			name:   "confidence_upper_bound_inclusive",
			mutate: func(r *delphi.ExpertResponse) { r.Confidence = 10 },
		},
		{
			name:      "confidence_above_range",
			mutate:    func(r *delphi.ExpertResponse) { r.Confidence = 10.1 },
			wantField: "confidence",
		},
		{
			name:      "no_sources",
			mutate:    func(r *delphi.ExpertResponse) { r.Sources = nil },
			wantField: "sources",
		},
		{
			name: "malformed_source_url",
			mutate: func(r *delphi.ExpertResponse) {
				r.Sources = append(r.Sources, delphi.Citation{Title: "bad", URL: "not a url"})
			},
			wantField: "sources[1].url",
		},
		{
			name: "url_without_scheme",
			mutate: func(r *delphi.ExpertResponse) {
				r.Sources[0].URL = "example.org/study"
			},
			wantField: "sources[0].url",
		},
		{
			name:      "empty_expertise_area",
			mutate:    func(r *delphi.ExpertResponse) { r.ExpertiseArea = "" },
			wantField: "expertise_area",
		},
		{
			name:      "empty_agent_id",
			mutate:    func(r *delphi.ExpertResponse) { r.AgentID = "" },
			wantField: "agent_id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validExpert()
			tt.mutate(&r)
			err := ValidateExpertResponse(&r)
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("expected valid, got %v", err)
				}
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected *ValidationError, got %v", err)
			}
			if verr.Field != tt.wantField {
				t.Errorf("failed field = %q, want %q", verr.Field, tt.wantField)
			}
		})
	}
}

func TestValidateContrarianResponse(t *testing.T) {
	valid := func() delphi.ContrarianResponse {
		return delphi.ContrarianResponse{
			Critique:             strings.Repeat("The panel assumes too much about adoption. ", 2),
			AlternativeFramework: "Frame it as a risk allocation problem instead.",
			BlindSpots:           []string{"regulatory lag"},
			AgentID:              "contrarian-def67890",
		}
	}

	if err := ValidateContrarianResponse(&delphi.ContrarianResponse{
		Critique:             valid().Critique,
		AlternativeFramework: valid().AlternativeFramework,
		BlindSpots:           valid().BlindSpots,
		AgentID:              valid().AgentID,
	}); err != nil {
		t.Fatalf("valid contrarian rejected: %v", err)
	}

	short := valid()
	short.Critique = strings.Repeat("z", MinCritiqueLen-1)
	if err := ValidateContrarianResponse(&short); err == nil {
		t.Error("short critique accepted")
	}

	noSpots := valid()
	noSpots.BlindSpots = nil
	if err := ValidateContrarianResponse(&noSpots); err == nil {
		t.Error("missing blind spots accepted")
	}

	shortFramework := valid()
	shortFramework.AlternativeFramework = strings.Repeat("f", MinFrameworkLen-1)
	if err := ValidateContrarianResponse(&shortFramework); err == nil {
		t.Error("short alternative framework accepted")
	}
}

func TestValidatePersonaSpec(t *testing.T) {
	p := delphi.PersonaSpec{
		Name:            "Dr. Lin",
		Role:            "macroeconomist",
		DomainExpertise: "monetary policy",
		Perspective:     "market-oriented",
	}
	if err := ValidatePersonaSpec(&p); err != nil {
		t.Fatalf("valid persona rejected: %v", err)
	}

	// Biographical fields may be empty; the prompting fields may not.
	for _, clear := range []func(*delphi.PersonaSpec){
		func(p *delphi.PersonaSpec) { p.Name = "" },
		func(p *delphi.PersonaSpec) { p.Role = "" },
		func(p *delphi.PersonaSpec) { p.DomainExpertise = "" },
		func(p *delphi.PersonaSpec) { p.Perspective = "" },
	} {
		q := p
		clear(&q)
		if err := ValidatePersonaSpec(&q); err == nil {
			t.Errorf("persona %+v accepted with a required field cleared", q)
		}
	}
}
