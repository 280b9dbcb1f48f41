package models

import "strings"

// ContextBundle is the token-budgeted material assembled for one turn.
// Excerpts hold what survived packing; GroundingSet always reflects the
// full profile and fetched summaries, independent of truncation.
type ContextBundle struct {
	ProfileExcerpt  string   `json:"profile_excerpt,omitempty"`
	SummaryExcerpts []string `json:"summary_excerpts,omitempty"`
	RecentExcerpt   string   `json:"recent_excerpt,omitempty"`
	ToneGuidance    string   `json:"tone_guidance"`
	CurrentMessage  string   `json:"current_message"`
	GroundingSet    []string `json:"grounding_set"`
	TokenEstimate   int      `json:"token_estimate"`
}

// Render produces the prompt-ready text for the generation call.
// Packing order (recency first) is a budget concern; this layout is the
// presentation order the model reads.
func (b *ContextBundle) Render() string {
	var sb strings.Builder

	if b.ProfileExcerpt != "" {
		sb.WriteString(b.ProfileExcerpt)
		sb.WriteString("\n\n")
	}
	if len(b.SummaryExcerpts) > 0 {
		sb.WriteString("PAST CONVERSATIONS:\n")
		for _, s := range b.SummaryExcerpts {
			sb.WriteString(s)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	if b.RecentExcerpt != "" {
		sb.WriteString(b.RecentExcerpt)
		sb.WriteString("\n\n")
	}
	if b.ToneGuidance != "" {
		sb.WriteString(b.ToneGuidance)
		sb.WriteString("\n\n")
	}
	sb.WriteString("User: ")
	sb.WriteString(b.CurrentMessage)
	sb.WriteString("\nYou:")
	return sb.String()
}
