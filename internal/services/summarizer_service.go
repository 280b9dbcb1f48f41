package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"reverie/internal/models"
)

const (
	summaryMaxKeyMoments  = 5
	summaryMaxTopics      = 5
	summaryMomentMaxRunes = 100
	summaryLeadMaxRunes   = 80
)

// disclosurePatterns flag first-person statements of identity,
// preference, or life events. Exchanges matching one are key moments
// regardless of tone.
var disclosurePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bmy name is\b`),
	regexp.MustCompile(`(?i)\bi just\b`),
	regexp.MustCompile(`(?i)\bi finally\b`),
	regexp.MustCompile(`(?i)\bi realized\b`),
	regexp.MustCompile(`(?i)\bfound out\b`),
	regexp.MustCompile(`(?i)\bi (love|hate|prefer|enjoy)\b`),
	regexp.MustCompile(`(?i)\bi('m| am) (a|an|from)\b`),
	regexp.MustCompile(`(?i)\bi (got|lost|started|quit|moved|passed|failed)\b`),
}

// topicClasses map coarse life topics to the vocabulary that signals
// them. First-seen order is preserved in the summary.
var topicClasses = []struct {
	label   string
	pattern *regexp.Regexp
}{
	{"work", regexp.MustCompile(`(?i)\b(job|work|boss|career|office|interview|promotion|coworker|client|deadline|fired|laid off)\b`)},
	{"family", regexp.MustCompile(`(?i)\b(mom|dad|mother|father|sister|brother|parents|family|grandma|grandpa|son|daughter|kids?)\b`)},
	{"relationship", regexp.MustCompile(`(?i)\b(boyfriend|girlfriend|partner|husband|wife|dating|relationship|crush|ex|breakup|broke up)\b`)},
	{"health", regexp.MustCompile(`(?i)\b(doctor|sick|health|hospital|therapy|anxiety|depressed|sleep|gym|workout|diet)\b`)},
	{"education", regexp.MustCompile(`(?i)\b(school|college|university|class|exam|homework|study|studying|degree|professor)\b`)},
	{"hobby", regexp.MustCompile(`(?i)\b(game|gaming|music|guitar|piano|painting|drawing|reading|cooking|baking|hiking|photography)\b`)},
	{"travel", regexp.MustCompile(`(?i)\b(trip|travel|vacation|flight|visiting|abroad|beach|airport)\b`)},
	{"finance", regexp.MustCompile(`(?i)\b(money|rent|salary|budget|debt|savings?|bills?|loan|paycheck)\b`)},
}

// SummarizerService compresses exchange blocks into compact summaries.
// Extraction is rule-based and deterministic: the same block always
// yields the same summary text, key moments, and arc.
type SummarizerService struct {
	store      MemoryStore
	threshold  int64
	keepRecent int
}

// NewSummarizerService creates a summarizer bound to the given store.
func NewSummarizerService(store MemoryStore, threshold, keepRecent int) *SummarizerService {
	return &SummarizerService{
		store:      store,
		threshold:  int64(threshold),
		keepRecent: keepRecent,
	}
}

// ShouldSummarize reports whether enough unsummarized exchanges have
// accumulated on the session to roll them into a summary.
func (s *SummarizerService) ShouldSummarize(session *models.SessionContext) bool {
	return session.UnsummarizedCount() >= s.threshold && len(session.RecentExchanges) > 0
}

// Summarize condenses an exchange block. Pure function: no clock, no
// store, no randomness beyond the input.
func (s *SummarizerService) Summarize(userID, sessionID string, block []models.Exchange) *models.ConversationSummary {
	dominant := dominantTone(block)
	moments := keyMoments(block, dominant)
	arc := emotionalArc(block)
	topics := detectTopics(block)

	text := composeSummaryText(topics, moments)

	saved := EstimateTokens(renderBlock(block)) - EstimateTokens(text)
	if saved < 0 {
		saved = 0
	}

	return &models.ConversationSummary{
		SessionID:           sessionID,
		UserID:              userID,
		SummaryText:         text,
		KeyMoments:          moments,
		EmotionalArc:        arc,
		TopicsDiscussed:     topics,
		SourceExchangeCount: len(block),
		TokensSaved:         saved,
		BlockHash:           BlockHash(block),
		CreatedAt:           time.Now().UTC(),
	}
}

// SummarizeAndStore rolls the session's unsummarized exchanges into a
// stored summary when the threshold is met, then advances the watermark
// and compacts the window to the most recent exchanges. Re-invocation
// on a block that was already summarized skips the store but still
// advances the watermark, so a retried turn cannot persist a duplicate.
//
// The mutated session is NOT written back here; the caller owns the
// single session write for the turn. Returns the stored summary (nil
// when nothing was stored) and any summaries evicted past the
// retention cap, for archiving.
func (s *SummarizerService) SummarizeAndStore(ctx context.Context, session *models.SessionContext) (*models.ConversationSummary, []*models.ConversationSummary, error) {
	if !s.ShouldSummarize(session) {
		return nil, nil, nil
	}
	return s.rollup(ctx, session)
}

// SummarizeRemainder rolls up whatever unsummarized exchanges a session
// holds, regardless of the threshold. The idle-session sweep uses this
// to capture history before the session TTL discards it.
func (s *SummarizerService) SummarizeRemainder(ctx context.Context, session *models.SessionContext) (*models.ConversationSummary, []*models.ConversationSummary, error) {
	if session.UnsummarizedCount() <= 0 || len(session.RecentExchanges) == 0 {
		return nil, nil, nil
	}
	return s.rollup(ctx, session)
}

func (s *SummarizerService) rollup(ctx context.Context, session *models.SessionContext) (*models.ConversationSummary, []*models.ConversationSummary, error) {
	block := unsummarizedTail(session)
	hash := BlockHash(block)

	exists, err := s.store.HasSummaryForBlock(ctx, session.UserID, hash)
	if err != nil {
		return nil, nil, fmt.Errorf("summary idempotence check failed: %w", err)
	}

	var summary *models.ConversationSummary
	var evicted []*models.ConversationSummary
	if exists {
		logrus.Debugf("📝 [SUMMARIZER] Block %s already summarized for user %s, skipping store", hash[:12], session.UserID)
	} else {
		summary = s.Summarize(session.UserID, session.SessionID, block)
		evicted, err = s.store.AddSummary(ctx, summary)
		if err != nil {
			return nil, nil, fmt.Errorf("summary store failed: %w", err)
		}
		logrus.Infof("📝 [SUMMARIZER] Stored summary for user %s (%d exchanges, %d tokens saved)",
			session.UserID, summary.SourceExchangeCount, summary.TokensSaved)
	}

	session.SummarizedThrough = session.ExchangeCount
	session.CompactTo(s.keepRecent)
	return summary, evicted, nil
}

// unsummarizedTail is the slice of the window that sits past the
// watermark. Exchanges the FIFO bound already evicted are gone and
// cannot be summarized, so the tail is capped at the window length.
func unsummarizedTail(session *models.SessionContext) []models.Exchange {
	n := session.UnsummarizedCount()
	if max := int64(len(session.RecentExchanges)); n > max {
		n = max
	}
	if n <= 0 {
		return nil
	}
	return session.RecentExchanges[int64(len(session.RecentExchanges))-n:]
}

// BlockHash returns the deterministic identity of an exchange block:
// SHA-256 over the whitespace-normalized (role, text) sequence.
// Timestamps and tones are excluded so a replay of the same content
// hashes identically.
func BlockHash(block []models.Exchange) string {
	h := sha256.New()
	for _, ex := range block {
		h.Write([]byte(ex.Role))
		h.Write([]byte{0x1f})
		h.Write([]byte(strings.Join(strings.Fields(ex.Text), " ")))
		h.Write([]byte{0x1e})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func dominantTone(block []models.Exchange) string {
	counts := make(map[string]int)
	for _, ex := range block {
		if ex.Tone != "" {
			counts[ex.Tone]++
		}
	}
	best, bestCount := "", 0
	for label, n := range counts {
		if n > bestCount || (n == bestCount && label < best) {
			best, bestCount = label, n
		}
	}
	return best
}

// keyMoments picks emotional inflection points (tone differs from the
// block's dominant tone) and self-disclosures, in block order.
func keyMoments(block []models.Exchange, dominant string) []string {
	moments := make([]string, 0, summaryMaxKeyMoments)
	for _, ex := range block {
		if ex.Role != models.RoleUser {
			continue
		}
		if len(moments) >= summaryMaxKeyMoments {
			break
		}
		inflection := ex.Tone != "" && dominant != "" && ex.Tone != dominant
		if inflection || isDisclosure(ex.Text) {
			moments = append(moments, clipRunes(ex.Text, summaryMomentMaxRunes))
		}
	}

	// A block with no inflections or disclosures still gets one
	// anchor moment so the summary is never free-floating.
	if len(moments) == 0 {
		for _, ex := range block {
			if ex.Role == models.RoleUser {
				moments = append(moments, clipRunes(ex.Text, summaryMomentMaxRunes))
				break
			}
		}
	}
	return moments
}

func isDisclosure(text string) bool {
	for _, p := range disclosurePatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// emotionalArc lists the distinct tones in order, collapsing runs.
func emotionalArc(block []models.Exchange) []string {
	arc := []string{}
	for _, ex := range block {
		if ex.Tone == "" {
			continue
		}
		if len(arc) == 0 || arc[len(arc)-1] != ex.Tone {
			arc = append(arc, ex.Tone)
		}
	}
	return arc
}

func detectTopics(block []models.Exchange) []string {
	topics := []string{}
	seen := make(map[string]bool)
	for _, ex := range block {
		for _, tc := range topicClasses {
			if seen[tc.label] || !tc.pattern.MatchString(ex.Text) {
				continue
			}
			seen[tc.label] = true
			topics = append(topics, tc.label)
			if len(topics) >= summaryMaxTopics {
				return topics
			}
		}
	}
	return topics
}

func composeSummaryText(topics, moments []string) string {
	var b strings.Builder
	if len(topics) > 0 {
		b.WriteString("Discussed " + strings.Join(topics, ", ") + ".")
	} else {
		b.WriteString("Caught up on everyday conversation.")
	}
	if len(moments) > 0 {
		b.WriteString(" \"" + clipRunes(moments[0], summaryLeadMaxRunes) + "\"")
	}
	return b.String()
}

func renderBlock(block []models.Exchange) string {
	var b strings.Builder
	for _, ex := range block {
		b.WriteString(ex.Role)
		b.WriteString(": ")
		b.WriteString(ex.Text)
		b.WriteString("\n")
	}
	return b.String()
}

func clipRunes(text string, max int) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return strings.TrimSpace(string(runes[:max-3])) + "..."
}
