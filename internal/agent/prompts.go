package agent

import (
	"fmt"
	"strings"

	"delphi/internal/delphi"
)

// Prompt rendering is done by parameterized functions rather than textual
// find-and-replace on loaded templates, so each variant (with or without
// shared research, with or without a prior round) is testable in isolation.

func renderExpertSystem(cfg Config, agentID string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a domain expert participating in a Delphi consensus panel.\n", cfg.Role)
	fmt.Fprintf(&b, "Your areas of expertise: %s.\n", strings.Join(cfg.ExpertiseAreas, ", "))
	fmt.Fprintf(&b, "Your perspective: %s\n", cfg.Perspective)
	if cfg.BiasInstructions != "" {
		fmt.Fprintf(&b, "Perspective guidance: %s\n", cfg.BiasInstructions)
	}
	fmt.Fprintf(&b, "Your agent id is %q.\n\n", agentID)
	b.WriteString(`Respond with a single JSON object with these fields:
"position" (string, your stated position),
"reasoning" (string, detailed reasoning),
"confidence" (number from 1 to 10),
"sources" (array of {"title","url","date","relevance"}, at least one),
"expertise_area" (string),
"agent_id" (string).
You may call the search_evidence tool to ground your position in current sources before answering. Return only the JSON object in your final answer.`)
	return b.String()
}

func renderExpertUser(p delphi.Prompt, sharedResearch, priorSynthesis string, round int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Round %d of the Delphi process.\n\n", round)
	fmt.Fprintf(&b, "Question: %s\n", p.Question)
	if p.Context != "" {
		fmt.Fprintf(&b, "\nContext: %s\n", p.Context)
	}
	if len(p.Constraints) > 0 {
		b.WriteString("\nConstraints:\n")
		for _, c := range p.Constraints {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}
	if sharedResearch != "" {
		b.WriteString("\nShared background research (already gathered for the whole panel; build on it rather than repeating it):\n")
		b.WriteString(sharedResearch)
		b.WriteString("\n")
	}
	if priorSynthesis != "" {
		b.WriteString("\nSynthesis of the previous round:\n")
		b.WriteString(priorSynthesis)
		b.WriteString("\nRefine your position in light of the panel's synthesis. Do not simply restate your previous answer; engage with the areas of divergence.\n")
	}
	return b.String()
}

func renderContrarianSystem(agentID string) string {
	return fmt.Sprintf(`You are a contrarian critic on a Delphi panel. Your mandate is to challenge the dominant positions, not to reach agreement. Your agent id is %q.

Respond with a single JSON object with these fields:
"critique" (string, a substantive critique of the dominant positions),
"alternative_framework" (string, a different way to frame the question),
"blind_spots" (array of strings, at least one),
"counter_evidence" (optional array of {"title","url","summary"}),
"agent_id" (string).
Return only the JSON object.`, agentID)
}

func renderContrarianDraftUser(synthesisDigest string, dominantThemes []string) string {
	var b strings.Builder
	b.WriteString("The panel has synthesized the following round:\n\n")
	b.WriteString(synthesisDigest)
	if len(dominantThemes) > 0 {
		b.WriteString("\nDominant position clusters to challenge:\n")
		for _, t := range dominantThemes {
			fmt.Fprintf(&b, "- %s\n", t)
		}
	}
	b.WriteString("\nDraft your critique now. Work from the panel's own claims; evidence gathering comes in the next step.")
	return b.String()
}

func renderContrarianFinalUser(draft string) string {
	return fmt.Sprintf(`Here is your draft critique:

%s

Strengthen it. If a specific claim would benefit from documented counter-evidence, call the find_counter_evidence tool; otherwise finalize the critique as is. Return the final JSON object.`, draft)
}

func renderOrchestratorSystem() string {
	return `You synthesize one round of a Delphi expert panel. Group expert positions into thematic clusters and identify agreement and disagreement.

Respond with a single JSON object with these fields:
"clusters" (array of {"theme": string, "expert_ids": array of strings}),
"consensus_areas" (array of strings),
"divergence_areas" (array of strings),
"key_insights" (array of strings).
Every expert_id must be copied verbatim from the responses given. Return only the JSON object.`
}

const reasoningTruncateLen = 300

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func renderOrchestratorUser(roundNumber int, question string, experts []delphi.ExpertResponse, contrarians []delphi.ContrarianResponse) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\nRound: %d\n\nExpert responses:\n", question, roundNumber)
	for _, e := range experts {
		fmt.Fprintf(&b, "\n[%s] (%s, confidence %.1f, %d sources)\nPosition: %s\nReasoning: %s\n",
			e.AgentID, e.ExpertiseArea, e.Confidence, len(e.Sources), e.Position, truncate(e.Reasoning, reasoningTruncateLen))
	}
	if len(contrarians) > 0 {
		b.WriteString("\nContrarian critiques from the previous round:\n")
		for _, c := range contrarians {
			fmt.Fprintf(&b, "\n[%s]\nCritique: %s\nAlternative framework: %s\nBlind spots: %s\n",
				c.AgentID, truncate(c.Critique, reasoningTruncateLen),
				truncate(c.AlternativeFramework, reasoningTruncateLen),
				strings.Join(c.BlindSpots, "; "))
		}
	}
	b.WriteString("\nCluster the expert positions and return the JSON object.")
	return b.String()
}
