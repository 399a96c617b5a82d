// Package report renders and persists the final Delphi report: a
// human-readable Markdown document and a JSON document carrying the full
// report structure verbatim.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"delphi/internal/delphi"
)

const slugMaxLen = 50

// Slug derives a filesystem-safe slug from the run question: lowercased,
// alphanumeric and spaces only, truncated to 50 characters, spaces to
// hyphens.
func Slug(question string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(question) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == ' ':
			b.WriteRune(r)
		}
	}
	s := b.String()
	if len(s) > slugMaxLen {
		s = s[:slugMaxLen]
	}
	return strings.Join(strings.Fields(s), "-")
}

// Writer persists report artifacts under a base directory. Both files of a
// run share a base name derived from a timestamp and the question slug.
type Writer struct {
	dir    string
	logger *zap.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewWriter creates a report writer rooted at dir.
func NewWriter(dir string, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{dir: dir, logger: logger, now: time.Now}
}

// Write persists the Markdown and JSON artifacts and returns their paths.
// Nothing is written on error; a failed run must leave no partial report.
func (w *Writer) Write(rep *delphi.Report) (mdPath, jsonPath string, err error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", "", fmt.Errorf("failed to create report directory: %w", err)
	}

	base := fmt.Sprintf("%s-%s", w.now().Format("2006-01-02-150405"), Slug(rep.Prompt.Question))
	mdPath = filepath.Join(w.dir, base+".md")
	jsonPath = filepath.Join(w.dir, base+".json")

	payload, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := os.WriteFile(jsonPath, payload, 0o644); err != nil {
		return "", "", fmt.Errorf("failed to write JSON report: %w", err)
	}
	if err := os.WriteFile(mdPath, []byte(RenderMarkdown(rep)), 0o644); err != nil {
		os.Remove(jsonPath)
		return "", "", fmt.Errorf("failed to write Markdown report: %w", err)
	}

	w.logger.Info("report written", zap.String("markdown", mdPath), zap.String("json", jsonPath))
	return mdPath, jsonPath, nil
}

// RenderMarkdown renders the report as a Markdown document.
func RenderMarkdown(rep *delphi.Report) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Delphi Report\n\n")
	fmt.Fprintf(&b, "**Question:** %s\n\n", rep.Prompt.Question)
	if rep.Prompt.Context != "" {
		fmt.Fprintf(&b, "**Context:** %s\n\n", rep.Prompt.Context)
	}
	fmt.Fprintf(&b, "Generated: %s\n\n", rep.GeneratedAt)

	b.WriteString("## Consensus Summary\n\n")
	b.WriteString(rep.ConsensusSummary)
	b.WriteString("\n\n")

	m := rep.ConvergenceAnalysis
	b.WriteString("## Convergence Metrics\n\n")
	fmt.Fprintf(&b, "| Metric | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Position stability | %.2f |\n", m.PositionStability)
	fmt.Fprintf(&b, "| Confidence spread | %.2f |\n", m.ConfidenceSpread)
	fmt.Fprintf(&b, "| Consensus clarity | %.2f |\n", m.ConsensusClarity)
	fmt.Fprintf(&b, "| Citation overlap | %.2f |\n", m.CitationOverlap)
	fmt.Fprintf(&b, "| Rounds completed | %d |\n", m.RoundsCompleted)
	fmt.Fprintf(&b, "| Termination | %s |\n\n", m.TerminationReason)

	b.WriteString("## Expert Positions (final round)\n\n")
	for _, e := range rep.ExpertPositions {
		fmt.Fprintf(&b, "### %s (%s)\n\n", e.AgentID, e.ExpertiseArea)
		fmt.Fprintf(&b, "**Position:** %s\n\n", e.Position)
		fmt.Fprintf(&b, "**Confidence:** %.1f/10\n\n", e.Confidence)
		fmt.Fprintf(&b, "%s\n\n", e.Reasoning)
		if len(e.Sources) > 0 {
			b.WriteString("Sources:\n\n")
			for _, s := range e.Sources {
				fmt.Fprintf(&b, "- [%s](%s)\n", s.Title, s.URL)
			}
			b.WriteString("\n")
		}
	}

	if len(rep.ContrarianObservations) > 0 {
		b.WriteString("## Contrarian Observations\n\n")
		for _, c := range rep.ContrarianObservations {
			fmt.Fprintf(&b, "### %s\n\n", c.AgentID)
			fmt.Fprintf(&b, "**Critique:** %s\n\n", c.Critique)
			fmt.Fprintf(&b, "**Alternative framework:** %s\n\n", c.AlternativeFramework)
			if len(c.BlindSpots) > 0 {
				b.WriteString("Blind spots:\n\n")
				for _, s := range c.BlindSpots {
					fmt.Fprintf(&b, "- %s\n", s)
				}
				b.WriteString("\n")
			}
			for _, ev := range c.CounterEvidence {
				fmt.Fprintf(&b, "- Counter-evidence: [%s](%s) — %s\n", ev.Title, ev.URL, ev.Summary)
			}
			b.WriteString("\n")
		}
	}

	if len(rep.DissentingViews) > 0 {
		b.WriteString("## Dissenting Views\n\n")
		for _, d := range rep.DissentingViews {
			fmt.Fprintf(&b, "- **%s** (confidence %.1f): %s\n", d.AgentID, d.Confidence, d.Position)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Round History\n\n")
	for _, r := range rep.RoundHistory {
		fmt.Fprintf(&b, "### Round %d\n\n", r.RoundNumber)
		fmt.Fprintf(&b, "%d participants, average confidence %.1f\n\n", r.ParticipationCount, r.AverageConfidence)
		for _, c := range r.Clusters {
			fmt.Fprintf(&b, "- **%s**: %d experts, confidence %.1f-%.1f\n",
				c.Theme, len(c.ExpertIDs), c.ConfidenceRange[0], c.ConfidenceRange[1])
		}
		if len(r.ConsensusAreas) > 0 {
			fmt.Fprintf(&b, "\nConsensus: %s\n", strings.Join(r.ConsensusAreas, "; "))
		}
		if len(r.DivergenceAreas) > 0 {
			fmt.Fprintf(&b, "\nDivergence: %s\n", strings.Join(r.DivergenceAreas, "; "))
		}
		b.WriteString("\n")
	}

	if len(rep.FailedExperts) > 0 {
		b.WriteString("## Failed Experts\n\n")
		for _, f := range rep.FailedExperts {
			fmt.Fprintf(&b, "- Round %d, %s: %s\n", f.Round, f.Role, f.Error)
		}
		b.WriteString("\n")
	}

	return b.String()
}
