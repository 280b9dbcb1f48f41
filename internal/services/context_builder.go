package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"reverie/internal/apperrors"
	"reverie/internal/models"
)

// ToneGuide supplies the persona's style guidance for a detected tone.
type ToneGuide interface {
	GuidanceText(tone models.ToneResult) string
}

// BuildResult carries the assembled bundle plus the tier state it was
// built from, so the caller's write phase reuses the same reads
// instead of hitting the store twice.
type BuildResult struct {
	Bundle  *models.ContextBundle
	Profile *models.UserProfile    // nil for first-time users
	Session *models.SessionContext // fresh record when none existed

	// Degraded is set when any tier read was served from the fallback
	// cache or skipped because the store was unreachable.
	Degraded bool
}

// ContextBuilder assembles the prompt bundle for one turn: it loads
// the three memory tiers, renders them into excerpts, and packs the
// excerpts greedily against the token budget.
//
// The budget covers the variable memory excerpts. Fixed prompt
// scaffolding (section headers, the current message frame) is the
// caller's constant overhead and sits outside the estimate.
type ContextBuilder struct {
	store        MemoryStore
	guide        ToneGuide
	summaryFetch int
}

// NewContextBuilder creates an assembler over the tiered store.
func NewContextBuilder(store MemoryStore, guide ToneGuide, summaryFetch int) *ContextBuilder {
	return &ContextBuilder{store: store, guide: guide, summaryFetch: summaryFetch}
}

// Build assembles the context bundle for one turn.
//
// Packing runs in priority order: tone guidance (always included),
// recent exchanges, profile, then summaries. An overflowing recent or
// profile excerpt is truncated to exactly fill the remaining budget;
// an overflowing summary is dropped whole and later, smaller summaries
// are still considered. The returned bundle's TokenEstimate never
// exceeds budget.
//
// Store reads degrade instead of failing: an unreachable tier yields
// fresh-user behavior (plus the last-known-good profile when one is
// cached) and sets Degraded on the result.
func (b *ContextBuilder) Build(ctx context.Context, userID, sessionID, message string, tone models.ToneResult, budget int) (*BuildResult, error) {
	res := &BuildResult{}

	profile, err := b.store.GetProfile(ctx, userID)
	switch {
	case err == nil:
		res.Profile = profile
	case apperrors.IsRecordNotFound(err):
	case apperrors.IsStoreUnavailable(err):
		res.Degraded = true
		if cached, ok := b.store.FallbackProfile(userID); ok {
			res.Profile = cached
			logrus.Warnf("⚠️ [CONTEXT] Store unavailable, using last-known-good profile for user %s", userID)
		} else {
			logrus.Warnf("⚠️ [CONTEXT] Store unavailable and no cached profile for user %s, proceeding fresh", userID)
		}
	default:
		return nil, fmt.Errorf("profile read failed: %w", err)
	}

	session, err := b.store.GetSession(ctx, sessionID)
	switch {
	case err == nil:
		res.Session = session
	case apperrors.IsRecordNotFound(err):
		res.Session = models.NewSessionContext(sessionID, userID)
	case apperrors.IsStoreUnavailable(err):
		res.Degraded = true
		res.Session = models.NewSessionContext(sessionID, userID)
	default:
		return nil, fmt.Errorf("session read failed: %w", err)
	}

	summaries, err := b.store.ListSummaries(ctx, userID, b.summaryFetch)
	if err != nil {
		if !apperrors.IsStoreUnavailable(err) {
			return nil, fmt.Errorf("summaries read failed: %w", err)
		}
		res.Degraded = true
		summaries = nil
	}

	bundle := &models.ContextBundle{
		CurrentMessage: message,
		GroundingSet:   groundingFacts(res.Profile, summaries),
	}
	remaining := budget

	// Tone guidance is always included at fixed small cost. Budgets
	// below that fixed overhead still honor the estimate guarantee.
	guidance := b.guide.GuidanceText(tone)
	if EstimateTokens(guidance) > remaining {
		guidance = TruncateToTokens(guidance, remaining)
	}
	bundle.ToneGuidance = guidance
	remaining -= EstimateTokens(guidance)

	if recent := renderRecentExcerpt(res.Session); recent != "" {
		if EstimateTokens(recent) > remaining {
			recent = TruncateToTokens(recent, remaining)
		}
		bundle.RecentExcerpt = recent
		remaining -= EstimateTokens(recent)
	}

	if profileText := renderProfileExcerpt(res.Profile); profileText != "" {
		if EstimateTokens(profileText) > remaining {
			profileText = TruncateToTokens(profileText, remaining)
		}
		bundle.ProfileExcerpt = profileText
		remaining -= EstimateTokens(profileText)
	}

	for _, s := range summaries {
		candidate := renderSummaryExcerpt(len(bundle.SummaryExcerpts)+1, s)
		cost := EstimateTokens(candidate)
		if cost > remaining {
			continue
		}
		bundle.SummaryExcerpts = append(bundle.SummaryExcerpts, candidate)
		remaining -= cost
	}

	bundle.TokenEstimate = budget - remaining
	if bundle.TokenEstimate > budget {
		return nil, apperrors.NewBudgetExceeded(bundle.TokenEstimate, budget)
	}

	logrus.Debugf("🧩 [CONTEXT] Assembled bundle for user %s: %d/%d tokens, %d summaries, %d facts",
		userID, bundle.TokenEstimate, budget, len(bundle.SummaryExcerpts), len(bundle.GroundingSet))

	res.Bundle = bundle
	return res, nil
}

// renderProfileExcerpt formats the long-term tier. A nil profile still
// yields the first-conversation line so the persona knows not to
// pretend familiarity.
func renderProfileExcerpt(p *models.UserProfile) string {
	var b strings.Builder
	b.WriteString("USER CONTEXT:\n")
	if p == nil {
		b.WriteString("This is your first conversation with this user.")
		return b.String()
	}

	if p.DisplayName != "" {
		b.WriteString("Name: " + p.DisplayName + "\n")
	}
	if len(p.Interests) > 0 {
		interests := p.Interests
		if len(interests) > 5 {
			interests = interests[:5]
		}
		b.WriteString("Interests: " + strings.Join(interests, ", ") + "\n")
	}
	if len(p.Preferences) > 0 {
		tags := make([]string, 0, len(p.Preferences))
		for tag := range p.Preferences {
			tags = append(tags, tag)
		}
		sort.Strings(tags)
		pairs := make([]string, 0, len(tags))
		for _, tag := range tags {
			pairs = append(pairs, tag+": "+p.Preferences[tag])
		}
		b.WriteString("Preferences: " + strings.Join(pairs, "; ") + "\n")
	}
	if p.PersonalityNotes != "" {
		b.WriteString("Notes: " + p.PersonalityNotes + "\n")
	}

	switch {
	case p.InteractionCount == 0:
		b.WriteString("This is your first conversation with this user.")
	case p.InteractionCount == 1:
		b.WriteString("You have talked once before.")
	default:
		b.WriteString(fmt.Sprintf("You have talked %d times before.", p.InteractionCount))
	}
	return b.String()
}

// renderRecentExcerpt formats the working-memory tier, most recent
// exchange last. Empty sessions render nothing.
func renderRecentExcerpt(s *models.SessionContext) string {
	if s == nil || len(s.RecentExchanges) == 0 {
		return ""
	}

	var b strings.Builder
	switch {
	case s.CurrentTopic != "" && s.CurrentMood != "":
		b.WriteString(fmt.Sprintf("CURRENT SESSION (topic: %s, mood: %s):\n", s.CurrentTopic, s.CurrentMood))
	case s.CurrentTopic != "":
		b.WriteString(fmt.Sprintf("CURRENT SESSION (topic: %s):\n", s.CurrentTopic))
	case s.CurrentMood != "":
		b.WriteString(fmt.Sprintf("CURRENT SESSION (mood: %s):\n", s.CurrentMood))
	default:
		b.WriteString("CURRENT SESSION:\n")
	}

	for i, ex := range s.RecentExchanges {
		if i > 0 {
			b.WriteString("\n")
		}
		label := "User"
		if ex.Role == models.RoleAssistant {
			label = "You"
		}
		b.WriteString(label + ": " + ex.Text)
	}
	return b.String()
}

func renderSummaryExcerpt(n int, s *models.ConversationSummary) string {
	if len(s.KeyMoments) == 0 {
		return fmt.Sprintf("%d. %s", n, s.SummaryText)
	}
	return fmt.Sprintf("%d. %s | Key moments: %s", n, s.SummaryText, strings.Join(s.KeyMoments, "; "))
}

// groundingFacts flattens everything actually known about the user
// into lowercase atomic facts. Built from the full profile and every
// fetched summary regardless of what survived packing: grounding
// reflects what is known, not what fit.
func groundingFacts(profile *models.UserProfile, summaries []*models.ConversationSummary) []string {
	facts := []string{}
	if profile != nil {
		if profile.DisplayName != "" {
			facts = append(facts, "name: "+strings.ToLower(profile.DisplayName))
		}
		for _, interest := range profile.Interests {
			facts = append(facts, "interest: "+strings.ToLower(interest))
		}
		tags := make([]string, 0, len(profile.Preferences))
		for tag := range profile.Preferences {
			tags = append(tags, tag)
		}
		sort.Strings(tags)
		for _, tag := range tags {
			facts = append(facts, "preference "+strings.ToLower(tag)+": "+strings.ToLower(profile.Preferences[tag]))
		}
		if profile.PersonalityNotes != "" {
			facts = append(facts, "personality: "+strings.ToLower(profile.PersonalityNotes))
		}
		// A known user always contributes at least one fact, even when
		// nothing has been extracted yet, so downstream checks can tell
		// a returning user from a fresh one.
		facts = append(facts, fmt.Sprintf("interactions: %d", profile.InteractionCount))
	}
	for _, s := range summaries {
		for _, m := range s.KeyMoments {
			facts = append(facts, "moment: "+strings.ToLower(m))
		}
		for _, t := range s.TopicsDiscussed {
			facts = append(facts, "topic: "+strings.ToLower(t))
		}
	}
	return facts
}
