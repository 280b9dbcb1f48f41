package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"reverie/internal/models"
)

// stubGuide returns fixed guidance text regardless of tone.
type stubGuide struct {
	text string
}

func (g stubGuide) GuidanceText(models.ToneResult) string { return g.text }

func seedRichStore(store *stubStore) {
	profile := models.NewUserProfile("user-1")
	profile.Merge(models.ProfileDelta{
		DisplayName:      "Maya",
		Interests:        []string{"anime", "bouldering", "hiking", "pottery", "street photography", "synthesizers"},
		Preferences:      map[string]string{"favorite_color": "green", "location": "portland", "occupation": "nurse"},
		PersonalityNotes: "dry humor, opens up slowly, checks in late at night after long shifts",
		InteractionDelta: 12,
	})
	store.profiles["user-1"] = profile

	session := models.NewSessionContext("session-1", "user-1")
	session.CurrentTopic = "work"
	session.CurrentMood = "anxious"
	for i := 0; i < 4; i++ {
		session.AppendExchange(models.Exchange{Role: models.RoleUser, Text: "the night shift ran long again and the charge nurse called out", Tone: "anxious"}, 8)
		session.AppendExchange(models.Exchange{Role: models.RoleAssistant, Text: "That's a lot of hours back to back. Are you at least sleeping?"}, 8)
	}
	store.sessions["session-1"] = session

	store.summaries["user-1"] = []*models.ConversationSummary{
		{
			UserID: "user-1", SessionID: "old-1",
			SummaryText:     "Discussed work, health. \"i just got switched to nights\"",
			KeyMoments:      []string{"i just got switched to nights", "my manager finally approved the transfer"},
			TopicsDiscussed: []string{"work", "health"},
			BlockHash:       "hash-1", CreatedAt: time.Now().UTC(),
		},
		{
			UserID: "user-1", SessionID: "old-2",
			SummaryText:     "Discussed hobby. \"pottery class tomorrow\"",
			KeyMoments:      []string{"pottery class tomorrow"},
			TopicsDiscussed: []string{"hobby"},
			BlockHash:       "hash-2", CreatedAt: time.Now().UTC(),
		},
	}
}

func casualTone() models.ToneResult {
	return models.ToneResult{Primary: models.ToneCasual, Confidence: 0.5, Energy: models.EnergyMedium}
}

// TestBuildFreshUser tests assembly when no tier has any data
func TestBuildFreshUser(t *testing.T) {
	store := newStubStore()
	builder := NewContextBuilder(store, stubGuide{text: "TONE GUIDANCE:\nKeep it light."}, 3)

	res, err := builder.Build(context.Background(), "user-1", "session-1", "hey there", casualTone(), 500)
	if err != nil {
		t.Fatalf("Failed to build: %v", err)
	}

	if res.Degraded {
		t.Error("Expected no degradation for a fresh user")
	}
	if res.Profile != nil {
		t.Error("Expected nil profile for a fresh user")
	}
	if res.Session == nil || res.Session.SessionID != "session-1" {
		t.Fatalf("Expected a fresh session record, got %+v", res.Session)
	}
	if len(res.Session.RecentExchanges) != 0 {
		t.Errorf("Expected empty exchange window, got %d", len(res.Session.RecentExchanges))
	}

	bundle := res.Bundle
	if bundle.ToneGuidance != "TONE GUIDANCE:\nKeep it light." {
		t.Errorf("Expected guidance included, got %q", bundle.ToneGuidance)
	}
	if bundle.RecentExcerpt != "" {
		t.Errorf("Expected no recent excerpt, got %q", bundle.RecentExcerpt)
	}
	if !strings.Contains(bundle.ProfileExcerpt, "first conversation") {
		t.Errorf("Expected first-conversation note, got %q", bundle.ProfileExcerpt)
	}
	if len(bundle.SummaryExcerpts) != 0 {
		t.Errorf("Expected no summaries, got %v", bundle.SummaryExcerpts)
	}
	if len(bundle.GroundingSet) != 0 {
		t.Errorf("Expected empty grounding for a fresh user, got %v", bundle.GroundingSet)
	}
	if bundle.TokenEstimate > 500 {
		t.Errorf("Expected estimate within budget, got %d", bundle.TokenEstimate)
	}
}

// TestBuildFullInclusion tests that a generous budget includes every
// tier untruncated
func TestBuildFullInclusion(t *testing.T) {
	store := newStubStore()
	seedRichStore(store)
	builder := NewContextBuilder(store, stubGuide{text: "TONE GUIDANCE:\nMatch their energy."}, 3)

	res, err := builder.Build(context.Background(), "user-1", "session-1", "still at the hospital", casualTone(), 5000)
	if err != nil {
		t.Fatalf("Failed to build: %v", err)
	}

	bundle := res.Bundle
	if strings.Contains(bundle.ProfileExcerpt, TruncationMarker) {
		t.Error("Expected untruncated profile under a generous budget")
	}
	if !strings.Contains(bundle.ProfileExcerpt, "Name: Maya") {
		t.Errorf("Expected profile name rendered, got %q", bundle.ProfileExcerpt)
	}
	if !strings.Contains(bundle.RecentExcerpt, "night shift ran long") {
		t.Errorf("Expected recent exchanges rendered, got %q", bundle.RecentExcerpt)
	}
	if !strings.Contains(bundle.RecentExcerpt, "topic: work") {
		t.Errorf("Expected session topic in header, got %q", bundle.RecentExcerpt)
	}
	if len(bundle.SummaryExcerpts) != 2 {
		t.Fatalf("Expected both summaries included, got %d", len(bundle.SummaryExcerpts))
	}
	if !strings.HasPrefix(bundle.SummaryExcerpts[0], "1. ") || !strings.HasPrefix(bundle.SummaryExcerpts[1], "2. ") {
		t.Errorf("Expected numbered summary excerpts, got %v", bundle.SummaryExcerpts)
	}
	if bundle.TokenEstimate > 5000 {
		t.Errorf("Expected estimate within budget, got %d", bundle.TokenEstimate)
	}
}

// TestBuildBudgetSweep tests the hard budget guarantee across the
// entire budget range
func TestBuildBudgetSweep(t *testing.T) {
	store := newStubStore()
	seedRichStore(store)
	builder := NewContextBuilder(store, stubGuide{text: "TONE GUIDANCE:\nMatch their energy."}, 3)

	baseline, err := builder.Build(context.Background(), "user-1", "session-1", "hey", casualTone(), 5000)
	if err != nil {
		t.Fatalf("Failed baseline build: %v", err)
	}

	for budget := 0; budget <= 400; budget++ {
		res, err := builder.Build(context.Background(), "user-1", "session-1", "hey", casualTone(), budget)
		if err != nil {
			t.Fatalf("Budget %d failed: %v", budget, err)
		}
		if res.Bundle.TokenEstimate > budget {
			t.Fatalf("Budget %d violated: estimate %d", budget, res.Bundle.TokenEstimate)
		}
		// Grounding reflects what is known, not what fit.
		if len(res.Bundle.GroundingSet) != len(baseline.Bundle.GroundingSet) {
			t.Fatalf("Budget %d changed the grounding set: %d facts vs %d",
				budget, len(res.Bundle.GroundingSet), len(baseline.Bundle.GroundingSet))
		}
	}
}

// TestBuildPackingPriority tests that later-priority excerpts give way
// first: summaries drop whole while profile truncates
func TestBuildPackingPriority(t *testing.T) {
	store := newStubStore()
	seedRichStore(store)
	builder := NewContextBuilder(store, stubGuide{text: "TONE GUIDANCE:\nMatch their energy."}, 3)

	// Wide enough for guidance and the recent window, too tight for
	// the full profile, nothing left for summaries.
	res, err := builder.Build(context.Background(), "user-1", "session-1", "hey", casualTone(), 200)
	if err != nil {
		t.Fatalf("Failed to build: %v", err)
	}

	bundle := res.Bundle
	if strings.Contains(bundle.RecentExcerpt, TruncationMarker) {
		t.Errorf("Expected recent exchanges to fit whole, got %q", bundle.RecentExcerpt)
	}
	if !strings.HasSuffix(bundle.ProfileExcerpt, TruncationMarker) {
		t.Errorf("Expected profile truncated to the remaining budget, got %q", bundle.ProfileExcerpt)
	}
	if len(bundle.SummaryExcerpts) != 0 {
		t.Errorf("Expected summaries dropped, got %v", bundle.SummaryExcerpts)
	}
	if bundle.TokenEstimate > 200 {
		t.Errorf("Expected estimate within budget, got %d", bundle.TokenEstimate)
	}
}

// TestBuildSummariesDropWhole tests first-fit packing: an oversized
// summary is skipped but smaller later ones still pack
func TestBuildSummariesDropWhole(t *testing.T) {
	store := newStubStore()

	profile := models.NewUserProfile("user-1")
	store.profiles["user-1"] = profile

	huge := &models.ConversationSummary{
		UserID: "user-1", SessionID: "old-1",
		SummaryText: strings.Repeat("a very long recollection of past events ", 40),
		BlockHash:   "hash-big",
	}
	small := &models.ConversationSummary{
		UserID: "user-1", SessionID: "old-2",
		SummaryText: "Discussed hobby.",
		BlockHash:   "hash-small",
	}
	store.summaries["user-1"] = []*models.ConversationSummary{huge, small}

	builder := NewContextBuilder(store, stubGuide{text: "TONE GUIDANCE:\nKeep it light."}, 3)

	res, err := builder.Build(context.Background(), "user-1", "session-1", "hey", casualTone(), 60)
	if err != nil {
		t.Fatalf("Failed to build: %v", err)
	}

	bundle := res.Bundle
	if len(bundle.SummaryExcerpts) != 1 {
		t.Fatalf("Expected exactly the small summary packed, got %v", bundle.SummaryExcerpts)
	}
	if !strings.Contains(bundle.SummaryExcerpts[0], "Discussed hobby.") {
		t.Errorf("Expected the small summary, got %q", bundle.SummaryExcerpts[0])
	}
	if strings.Contains(bundle.SummaryExcerpts[0], "long recollection") {
		t.Error("Expected the oversized summary dropped whole, not truncated")
	}
	if bundle.TokenEstimate > 60 {
		t.Errorf("Expected estimate within budget, got %d", bundle.TokenEstimate)
	}
}

// TestBuildGroundingIndependentOfPacking tests that grounding facts
// survive even when their excerpts are truncated away
func TestBuildGroundingIndependentOfPacking(t *testing.T) {
	store := newStubStore()
	seedRichStore(store)
	builder := NewContextBuilder(store, stubGuide{text: "TONE GUIDANCE:\nMatch their energy."}, 3)

	res, err := builder.Build(context.Background(), "user-1", "session-1", "hey", casualTone(), 5)
	if err != nil {
		t.Fatalf("Failed to build: %v", err)
	}

	grounding := strings.Join(res.Bundle.GroundingSet, "\n")
	for _, want := range []string{
		"name: maya",
		"interest: hiking",
		"preference location: portland",
		"moment: pottery class tomorrow",
		"topic: health",
	} {
		if !strings.Contains(grounding, want) {
			t.Errorf("Expected grounding fact %q under a starved budget, got %v", want, res.Bundle.GroundingSet)
		}
	}
}

// TestBuildGroundingForKnownUserNeverEmpty tests that any stored
// profile contributes at least one fact
func TestBuildGroundingForKnownUserNeverEmpty(t *testing.T) {
	store := newStubStore()
	store.profiles["user-1"] = models.NewUserProfile("user-1") // nothing extracted yet
	builder := NewContextBuilder(store, stubGuide{text: "TONE GUIDANCE:\nKeep it light."}, 3)

	res, err := builder.Build(context.Background(), "user-1", "session-1", "hey", casualTone(), 500)
	if err != nil {
		t.Fatalf("Failed to build: %v", err)
	}

	if len(res.Bundle.GroundingSet) == 0 {
		t.Fatal("Expected non-empty grounding for a known user with a bare profile")
	}
	if !strings.Contains(strings.Join(res.Bundle.GroundingSet, "\n"), "interactions:") {
		t.Errorf("Expected the interaction-count fact, got %v", res.Bundle.GroundingSet)
	}
}

// TestBuildDegradedReads tests fallback behavior when the store is
// unreachable
func TestBuildDegradedReads(t *testing.T) {
	store := newStubStore()
	warm := models.NewUserProfile("user-1")
	warm.DisplayName = "Maya"
	store.fallbacks["user-1"] = warm
	store.failReads = true

	builder := NewContextBuilder(store, stubGuide{text: "TONE GUIDANCE:\nKeep it light."}, 3)

	res, err := builder.Build(context.Background(), "user-1", "session-1", "hey", casualTone(), 500)
	if err != nil {
		t.Fatalf("Expected degraded build to succeed, got %v", err)
	}

	if !res.Degraded {
		t.Error("Expected the result marked degraded")
	}
	if res.Profile == nil || res.Profile.DisplayName != "Maya" {
		t.Errorf("Expected the last-known-good profile, got %+v", res.Profile)
	}
	if !strings.Contains(res.Bundle.ProfileExcerpt, "Name: Maya") {
		t.Errorf("Expected cached profile rendered, got %q", res.Bundle.ProfileExcerpt)
	}
	if res.Session == nil || len(res.Session.RecentExchanges) != 0 {
		t.Errorf("Expected a fresh session substitute, got %+v", res.Session)
	}
	if len(res.Bundle.SummaryExcerpts) != 0 {
		t.Errorf("Expected no summaries when the store is down, got %v", res.Bundle.SummaryExcerpts)
	}
}

// TestBuildDegradedWithoutFallback tests fresh-user behavior when the
// store is down and nothing is cached
func TestBuildDegradedWithoutFallback(t *testing.T) {
	store := newStubStore()
	store.failReads = true

	builder := NewContextBuilder(store, stubGuide{text: "TONE GUIDANCE:\nKeep it light."}, 3)

	res, err := builder.Build(context.Background(), "user-1", "session-1", "hey", casualTone(), 500)
	if err != nil {
		t.Fatalf("Expected degraded build to succeed, got %v", err)
	}

	if !res.Degraded {
		t.Error("Expected the result marked degraded")
	}
	if res.Profile != nil {
		t.Errorf("Expected no profile without a cached copy, got %+v", res.Profile)
	}
	if !strings.Contains(res.Bundle.ProfileExcerpt, "first conversation") {
		t.Errorf("Expected fresh-user profile text, got %q", res.Bundle.ProfileExcerpt)
	}
}
