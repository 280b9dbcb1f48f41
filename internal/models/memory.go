package models

import (
	"sort"
	"time"
)

// Exchange roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// UserProfile holds the durable identity facts for one user.
// The snake_case JSON layout is the persisted contract that export and
// erase tooling depend on; field renames are breaking changes.
type UserProfile struct {
	UserID           string            `json:"user_id" bson:"user_id"`
	DisplayName      string            `json:"display_name,omitempty" bson:"display_name,omitempty"`
	Interests        []string          `json:"interests" bson:"interests"`
	Preferences      map[string]string `json:"preferences" bson:"preferences"`
	PersonalityNotes string            `json:"personality_notes,omitempty" bson:"personality_notes,omitempty"`
	InteractionCount int64             `json:"interaction_count" bson:"interaction_count"`
	FirstSeen        time.Time         `json:"first_seen" bson:"first_seen"`
	LastSeen         time.Time         `json:"last_seen" bson:"last_seen"`
}

// NewUserProfile creates an empty profile for a first-time user.
func NewUserProfile(userID string) *UserProfile {
	now := time.Now().UTC()
	return &UserProfile{
		UserID:      userID,
		Interests:   []string{},
		Preferences: map[string]string{},
		FirstSeen:   now,
		LastSeen:    now,
	}
}

// ProfileDelta is a partial profile update produced by one turn.
// Zero-valued fields leave the corresponding profile field untouched.
type ProfileDelta struct {
	DisplayName      string
	Interests        []string
	Preferences      map[string]string
	PersonalityNotes string
	InteractionDelta int64
	SeenAt           time.Time
}

// IsZero reports whether applying the delta would change nothing.
func (d ProfileDelta) IsZero() bool {
	return d.DisplayName == "" && len(d.Interests) == 0 && len(d.Preferences) == 0 &&
		d.PersonalityNotes == "" && d.InteractionDelta == 0 && d.SeenAt.IsZero()
}

// Merge applies a partial delta additively: interests are unioned,
// preferences are most-recent-wins per key, scalar fields are
// most-recent-wins when the delta carries a non-empty value, and
// interaction_count only ever grows. first_seen is preserved once set.
func (p *UserProfile) Merge(delta ProfileDelta) {
	if p.Preferences == nil {
		p.Preferences = map[string]string{}
	}
	if delta.DisplayName != "" {
		p.DisplayName = delta.DisplayName
	}
	if delta.PersonalityNotes != "" {
		p.PersonalityNotes = delta.PersonalityNotes
	}
	if len(delta.Interests) > 0 {
		p.Interests = unionSorted(p.Interests, delta.Interests)
	}
	for k, v := range delta.Preferences {
		if k != "" && v != "" {
			p.Preferences[k] = v
		}
	}
	if delta.InteractionDelta > 0 {
		p.InteractionCount += delta.InteractionDelta
	}
	seen := delta.SeenAt
	if seen.IsZero() {
		seen = time.Now().UTC()
	}
	if p.FirstSeen.IsZero() {
		p.FirstSeen = seen
	}
	if seen.After(p.LastSeen) {
		p.LastSeen = seen
	}
}

// unionSorted merges two interest lists into a deduplicated sorted set
// so repeated merges serialize identically.
func unionSorted(a, b []string) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	for _, s := range a {
		if s != "" {
			set[s] = struct{}{}
		}
	}
	for _, s := range b {
		if s != "" {
			set[s] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Exchange is one message within a session, tagged with the tone label
// detected when it was recorded.
type Exchange struct {
	Role      string    `json:"role" bson:"role"`
	Text      string    `json:"text" bson:"text"`
	Tone      string    `json:"tone,omitempty" bson:"tone,omitempty"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
}

// SessionContext is the short-lived working memory for one conversation.
// ExchangeCount counts every exchange ever appended this session, while
// RecentExchanges only retains the trailing window; the summarizer keys
// its trigger off the cumulative count.
type SessionContext struct {
	SessionID          string     `json:"session_id" bson:"session_id"`
	UserID             string     `json:"user_id" bson:"user_id"`
	CurrentTopic       string     `json:"current_topic,omitempty" bson:"current_topic,omitempty"`
	CurrentMood        string     `json:"current_mood,omitempty" bson:"current_mood,omitempty"`
	RecentExchanges    []Exchange `json:"recent_exchanges" bson:"recent_exchanges"`
	ExchangeCount      int64      `json:"exchange_count" bson:"exchange_count"`
	SummarizedThrough  int64      `json:"summarized_through" bson:"summarized_through"`
	StartedAt          time.Time  `json:"started_at" bson:"started_at"`
	LastActivity       time.Time  `json:"last_activity" bson:"last_activity"`
}

// NewSessionContext creates a fresh session for the first message.
func NewSessionContext(sessionID, userID string) *SessionContext {
	now := time.Now().UTC()
	return &SessionContext{
		SessionID:       sessionID,
		UserID:          userID,
		RecentExchanges: []Exchange{},
		StartedAt:       now,
		LastActivity:    now,
	}
}

// AppendExchange records one exchange, evicting the oldest entries
// strictly FIFO once the window exceeds bound.
func (s *SessionContext) AppendExchange(ex Exchange, bound int) {
	if ex.Timestamp.IsZero() {
		ex.Timestamp = time.Now().UTC()
	}
	s.RecentExchanges = append(s.RecentExchanges, ex)
	if bound > 0 && len(s.RecentExchanges) > bound {
		s.RecentExchanges = s.RecentExchanges[len(s.RecentExchanges)-bound:]
	}
	s.ExchangeCount++
	if ex.Timestamp.After(s.LastActivity) {
		s.LastActivity = ex.Timestamp
	}
}

// CompactTo keeps only the most recent n exchanges. Used after a block
// has been summarized so the window does not re-feed the summarizer.
func (s *SessionContext) CompactTo(n int) {
	if n >= 0 && len(s.RecentExchanges) > n {
		s.RecentExchanges = s.RecentExchanges[len(s.RecentExchanges)-n:]
	}
}

// UnsummarizedCount is the number of exchanges appended since the last
// stored summary for this session.
func (s *SessionContext) UnsummarizedCount() int64 {
	return s.ExchangeCount - s.SummarizedThrough
}

// ConversationSummary is an immutable compressed record of a block of
// exchanges. BlockHash identifies the source block so retries never
// persist duplicates.
type ConversationSummary struct {
	SessionID           string    `json:"session_id" bson:"session_id"`
	UserID              string    `json:"user_id" bson:"user_id"`
	SummaryText         string    `json:"summary_text" bson:"summary_text"`
	KeyMoments          []string  `json:"key_moments" bson:"key_moments"`
	EmotionalArc        []string  `json:"emotional_arc" bson:"emotional_arc"`
	TopicsDiscussed     []string  `json:"topics_discussed" bson:"topics_discussed"`
	SourceExchangeCount int       `json:"source_exchange_count" bson:"source_exchange_count"`
	TokensSaved         int       `json:"tokens_saved" bson:"tokens_saved"`
	BlockHash           string    `json:"block_hash" bson:"block_hash"`
	CreatedAt           time.Time `json:"created_at" bson:"created_at"`
}

// UserMemoryExport is the compliance export bundle for one user:
// everything the store knows, in the persisted field layout.
type UserMemoryExport struct {
	UserID            string                 `json:"user_id"`
	Profile           *UserProfile           `json:"profile,omitempty"`
	Sessions          []*SessionContext      `json:"sessions"`
	Summaries         []*ConversationSummary `json:"summaries"`
	ArchivedSummaries []*ConversationSummary `json:"archived_summaries,omitempty"`
	ExportedAt        time.Time              `json:"exported_at"`
}

// UserMemoryStats is the per-user memory footprint surfaced by the API.
type UserMemoryStats struct {
	UserID           string    `json:"user_id"`
	InteractionCount int64     `json:"interaction_count"`
	ActiveSessions   int       `json:"active_sessions"`
	SummaryCount     int       `json:"summary_count"`
	TokensSaved      int       `json:"tokens_saved"`
	FirstSeen        time.Time `json:"first_seen,omitempty"`
	LastSeen         time.Time `json:"last_seen,omitempty"`
}
