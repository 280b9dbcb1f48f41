package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"reverie/internal/apperrors"
	"reverie/internal/config"
	"reverie/internal/models"
)

// Redis key prefixes for the three memory tiers plus bookkeeping.
// These names are part of the persisted contract: export and erase
// tooling addresses records through them.
const (
	keyPrefixProfile       = "profile:"
	keyPrefixSession       = "session:"
	keyPrefixSummaries     = "summaries:"
	keyPrefixSummaryHashes = "summary_hashes:"
	keyPrefixUserSessions  = "user_sessions:"
	keyPrefixSessionLock   = "lock:session:"
)

// MemoryStore is the tiered store surface the engine, assembler, and
// jobs depend on. MemoryService implements it against Redis; tests use
// in-memory stubs.
type MemoryStore interface {
	GetProfile(ctx context.Context, userID string) (*models.UserProfile, error)
	FallbackProfile(userID string) (*models.UserProfile, bool)
	MergeProfile(ctx context.Context, userID string, delta models.ProfileDelta) (*models.UserProfile, error)
	GetSession(ctx context.Context, sessionID string) (*models.SessionContext, error)
	PutSession(ctx context.Context, session *models.SessionContext) error
	ListSummaries(ctx context.Context, userID string, limit int) ([]*models.ConversationSummary, error)
	AddSummary(ctx context.Context, summary *models.ConversationSummary) ([]*models.ConversationSummary, error)
	HasSummaryForBlock(ctx context.Context, userID, blockHash string) (bool, error)
	RegisterSession(ctx context.Context, userID, sessionID string) error
}

// MemoryService is the tiered memory store: profiles, sessions, and
// summaries live in independent Redis namespaces with independent
// lifetimes. Profile and session TTLs refresh on every write; summaries
// are immutable and capped by count instead.
type MemoryService struct {
	redis *RedisService
	cfg   *config.Config

	// fallback holds the last-known-good profile per user so reads
	// can degrade when Redis is unreachable.
	fallback *cache.Cache
}

// NewMemoryService creates the tiered store over a connected Redis.
func NewMemoryService(redisService *RedisService, cfg *config.Config) *MemoryService {
	return &MemoryService{
		redis:    redisService,
		cfg:      cfg,
		fallback: cache.New(cfg.SessionTTL, 10*time.Minute),
	}
}

// GetProfile loads a user's profile. RecordNotFound for first-time
// users; StoreUnavailable when the backend cannot answer. Successful
// reads refresh the degraded-read fallback copy.
func (m *MemoryService) GetProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	raw, err := m.redis.Get(ctx, keyPrefixProfile+userID)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperrors.NewRecordNotFound("profile")
		}
		return nil, apperrors.NewStoreUnavailable("profile read failed", err)
	}

	var profile models.UserProfile
	if err := json.Unmarshal([]byte(raw), &profile); err != nil {
		logrus.Warnf("⚠️ [MEMORY] Corrupt profile record for user %s, treating as new: %v", userID, err)
		return nil, apperrors.NewRecordNotFound("profile")
	}

	m.fallback.Set(userID, &profile, cache.DefaultExpiration)
	return &profile, nil
}

// FallbackProfile returns the last-known-good profile cached from a
// prior successful read. Only consulted when the store is unavailable.
func (m *MemoryService) FallbackProfile(userID string) (*models.UserProfile, bool) {
	v, ok := m.fallback.Get(userID)
	if !ok {
		return nil, false
	}
	profile, ok := v.(*models.UserProfile)
	return profile, ok
}

// MergeProfile applies a partial delta with additive merge semantics
// and writes the result back, refreshing the retention TTL.
func (m *MemoryService) MergeProfile(ctx context.Context, userID string, delta models.ProfileDelta) (*models.UserProfile, error) {
	profile, err := m.GetProfile(ctx, userID)
	switch {
	case err == nil:
	case apperrors.IsRecordNotFound(err):
		profile = models.NewUserProfile(userID)
	default:
		return nil, err
	}

	profile.Merge(delta)

	raw, err := json.Marshal(profile)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal profile: %w", err)
	}
	if err := m.redis.Set(ctx, keyPrefixProfile+userID, string(raw), m.cfg.ProfileTTL); err != nil {
		return nil, apperrors.NewStoreUnavailable("profile write failed", err)
	}

	m.fallback.Set(userID, profile, cache.DefaultExpiration)
	return profile, nil
}

// GetSession loads a session's working memory.
func (m *MemoryService) GetSession(ctx context.Context, sessionID string) (*models.SessionContext, error) {
	raw, err := m.redis.Get(ctx, keyPrefixSession+sessionID)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperrors.NewRecordNotFound("session")
		}
		return nil, apperrors.NewStoreUnavailable("session read failed", err)
	}

	var session models.SessionContext
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		logrus.Warnf("⚠️ [MEMORY] Corrupt session record %s, treating as new: %v", sessionID, err)
		return nil, apperrors.NewRecordNotFound("session")
	}
	return &session, nil
}

// PutSession writes a session back, refreshing its idle TTL.
func (m *MemoryService) PutSession(ctx context.Context, session *models.SessionContext) error {
	return m.PutSessionWithTTL(ctx, session, m.cfg.SessionTTL)
}

// PutSessionWithTTL writes a session back with an explicit TTL. The
// idle-session sweep uses this with the remaining TTL so compacting a
// dormant session does not extend its lifetime.
func (m *MemoryService) PutSessionWithTTL(ctx context.Context, session *models.SessionContext, ttl time.Duration) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := m.redis.Set(ctx, keyPrefixSession+session.SessionID, string(raw), ttl); err != nil {
		return apperrors.NewStoreUnavailable("session write failed", err)
	}
	return nil
}

// SessionTTL returns the remaining lifetime of a session record. Since
// every live-turn write resets the TTL to the configured idle window,
// the gap between the two is how long the session has sat untouched.
func (m *MemoryService) SessionTTL(ctx context.Context, sessionID string) (time.Duration, error) {
	ttl, err := m.redis.TTL(ctx, keyPrefixSession+sessionID)
	if err != nil {
		return 0, apperrors.NewStoreUnavailable("session ttl read failed", err)
	}
	return ttl, nil
}

// LockSession acquires the cross-instance lock for a session and
// returns the release token, or "" when another holder has it.
func (m *MemoryService) LockSession(ctx context.Context, sessionID string, ttl time.Duration) (string, error) {
	return m.redis.AcquireLock(ctx, keyPrefixSessionLock+sessionID, ttl)
}

// UnlockSession releases a session lock acquired by LockSession.
func (m *MemoryService) UnlockSession(ctx context.Context, sessionID, token string) error {
	return m.redis.ReleaseLock(ctx, keyPrefixSessionLock+sessionID, token)
}

// ListSummaries returns the most recent summaries for a user, newest
// first. limit <= 0 returns everything retained. An absent list is an
// empty result, not an error.
func (m *MemoryService) ListSummaries(ctx context.Context, userID string, limit int) ([]*models.ConversationSummary, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	rows, err := m.redis.LRange(ctx, keyPrefixSummaries+userID, 0, stop)
	if err != nil {
		return nil, apperrors.NewStoreUnavailable("summaries read failed", err)
	}

	summaries := make([]*models.ConversationSummary, 0, len(rows))
	for _, row := range rows {
		var s models.ConversationSummary
		if err := json.Unmarshal([]byte(row), &s); err != nil {
			logrus.Warnf("⚠️ [MEMORY] Skipping corrupt summary record for user %s: %v", userID, err)
			continue
		}
		summaries = append(summaries, &s)
	}
	return summaries, nil
}

// AddSummary appends an immutable summary, enforcing the per-user
// retention cap. Entries evicted past the cap are returned so the
// caller can archive them. The block hash is recorded for idempotence.
func (m *MemoryService) AddSummary(ctx context.Context, summary *models.ConversationSummary) ([]*models.ConversationSummary, error) {
	raw, err := json.Marshal(summary)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal summary: %w", err)
	}

	listKey := keyPrefixSummaries + summary.UserID
	if err := m.redis.LPush(ctx, listKey, string(raw)); err != nil {
		return nil, apperrors.NewStoreUnavailable("summary write failed", err)
	}

	evicted, err := m.trimSummariesToCap(ctx, listKey)
	if err != nil {
		return nil, err
	}

	hashKey := keyPrefixSummaryHashes + summary.UserID
	if err := m.redis.SAdd(ctx, hashKey, summary.BlockHash); err != nil {
		return nil, apperrors.NewStoreUnavailable("summary hash write failed", err)
	}
	if err := m.redis.Expire(ctx, hashKey, m.cfg.ProfileTTL); err != nil {
		return nil, apperrors.NewStoreUnavailable("summary hash expire failed", err)
	}

	return evicted, nil
}

// trimSummariesToCap collects the overflow past the retention cap
// before trimming so capped-out entries can be archived rather than
// silently dropped.
func (m *MemoryService) trimSummariesToCap(ctx context.Context, listKey string) ([]*models.ConversationSummary, error) {
	cap := int64(m.cfg.SummaryCap)
	if cap <= 0 {
		return nil, nil
	}

	rows, err := m.redis.LRange(ctx, listKey, cap, -1)
	if err != nil {
		return nil, apperrors.NewStoreUnavailable("summary trim read failed", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	evicted := make([]*models.ConversationSummary, 0, len(rows))
	for _, row := range rows {
		var s models.ConversationSummary
		if err := json.Unmarshal([]byte(row), &s); err != nil {
			continue
		}
		evicted = append(evicted, &s)
	}
	if err := m.redis.LTrim(ctx, listKey, 0, cap-1); err != nil {
		return nil, apperrors.NewStoreUnavailable("summary trim failed", err)
	}
	return evicted, nil
}

// TrimSummaries re-enforces the retention cap on a user's summary list
// and returns any overflow. The retention sweep calls this to repair
// lists that grew past the cap, for example after the cap was lowered.
func (m *MemoryService) TrimSummaries(ctx context.Context, userID string) ([]*models.ConversationSummary, error) {
	listKey := keyPrefixSummaries + userID
	length, err := m.redis.LLen(ctx, listKey)
	if err != nil {
		return nil, apperrors.NewStoreUnavailable("summary length read failed", err)
	}
	if m.cfg.SummaryCap <= 0 || length <= int64(m.cfg.SummaryCap) {
		return nil, nil
	}
	return m.trimSummariesToCap(ctx, listKey)
}

// PruneOrphanHashes deletes a user's summary-hash set when the summary
// list it guards no longer exists. Reports whether anything was pruned.
func (m *MemoryService) PruneOrphanHashes(ctx context.Context, userID string) (bool, error) {
	exists, err := m.redis.Exists(ctx, keyPrefixSummaries+userID)
	if err != nil {
		return false, apperrors.NewStoreUnavailable("summary probe failed", err)
	}
	if exists {
		return false, nil
	}
	deleted, err := m.redis.Delete(ctx, keyPrefixSummaryHashes+userID)
	if err != nil {
		return false, apperrors.NewStoreUnavailable("summary hash prune failed", err)
	}
	return deleted > 0, nil
}

// HasSummaryForBlock reports whether a summary for this exact exchange
// block was already stored. Keyed on the block content hash, this is
// what makes summarization idempotent under retries.
func (m *MemoryService) HasSummaryForBlock(ctx context.Context, userID, blockHash string) (bool, error) {
	ok, err := m.redis.SIsMember(ctx, keyPrefixSummaryHashes+userID, blockHash)
	if err != nil {
		return false, apperrors.NewStoreUnavailable("summary hash read failed", err)
	}
	return ok, nil
}

// RegisterSession records a session under its user so export, erase,
// and stats can find every session without scanning.
func (m *MemoryService) RegisterSession(ctx context.Context, userID, sessionID string) error {
	key := keyPrefixUserSessions + userID
	if err := m.redis.SAdd(ctx, key, sessionID); err != nil {
		return apperrors.NewStoreUnavailable("session registry write failed", err)
	}
	if err := m.redis.Expire(ctx, key, m.cfg.ProfileTTL); err != nil {
		return apperrors.NewStoreUnavailable("session registry expire failed", err)
	}
	return nil
}

// SessionIDs returns every registered session ID for a user, including
// ones whose session records have since expired.
func (m *MemoryService) SessionIDs(ctx context.Context, userID string) ([]string, error) {
	ids, err := m.redis.SMembers(ctx, keyPrefixUserSessions+userID)
	if err != nil {
		return nil, apperrors.NewStoreUnavailable("session registry read failed", err)
	}
	return ids, nil
}

// ScanSessionKeys streams every live session key to fn in batches.
// Used by the idle-session sweep.
func (m *MemoryService) ScanSessionKeys(ctx context.Context, fn func(sessionIDs []string) error) error {
	return m.scanOwners(ctx, keyPrefixSession, fn)
}

// ScanSummaryOwners streams the user IDs of every stored summary list.
func (m *MemoryService) ScanSummaryOwners(ctx context.Context, fn func(userIDs []string) error) error {
	return m.scanOwners(ctx, keyPrefixSummaries, fn)
}

// ScanHashOwners streams the user IDs of every summary-hash set.
func (m *MemoryService) ScanHashOwners(ctx context.Context, fn func(userIDs []string) error) error {
	return m.scanOwners(ctx, keyPrefixSummaryHashes, fn)
}

func (m *MemoryService) scanOwners(ctx context.Context, prefix string, fn func(ids []string) error) error {
	return m.redis.Scan(ctx, prefix+"*", func(keys []string) error {
		ids := make([]string, 0, len(keys))
		for _, k := range keys {
			ids = append(ids, k[len(prefix):])
		}
		return fn(ids)
	})
}

// Stats aggregates the per-user memory footprint.
func (m *MemoryService) Stats(ctx context.Context, userID string) (*models.UserMemoryStats, error) {
	stats := &models.UserMemoryStats{UserID: userID}

	profile, err := m.GetProfile(ctx, userID)
	switch {
	case err == nil:
		stats.InteractionCount = profile.InteractionCount
		stats.FirstSeen = profile.FirstSeen
		stats.LastSeen = profile.LastSeen
	case apperrors.IsRecordNotFound(err):
	default:
		return nil, err
	}

	summaries, err := m.ListSummaries(ctx, userID, 0)
	if err != nil {
		return nil, err
	}
	stats.SummaryCount = len(summaries)
	for _, s := range summaries {
		stats.TokensSaved += s.TokensSaved
	}

	ids, err := m.SessionIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		exists, err := m.redis.Exists(ctx, keyPrefixSession+id)
		if err != nil {
			return nil, apperrors.NewStoreUnavailable("session probe failed", err)
		}
		if exists {
			stats.ActiveSessions++
		}
	}
	return stats, nil
}

// Export collects everything the store holds for one user in the
// persisted field layout.
func (m *MemoryService) Export(ctx context.Context, userID string) (*models.UserMemoryExport, error) {
	out := &models.UserMemoryExport{
		UserID:     userID,
		Sessions:   []*models.SessionContext{},
		ExportedAt: time.Now().UTC(),
	}

	profile, err := m.GetProfile(ctx, userID)
	switch {
	case err == nil:
		out.Profile = profile
	case apperrors.IsRecordNotFound(err):
	default:
		return nil, err
	}

	ids, err := m.SessionIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		session, err := m.GetSession(ctx, id)
		if err != nil {
			if apperrors.IsRecordNotFound(err) {
				continue // expired since registration
			}
			return nil, err
		}
		out.Sessions = append(out.Sessions, session)
	}

	out.Summaries, err = m.ListSummaries(ctx, userID, 0)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteUserData erases every tier for a user and returns the number
// of keys removed. Summary archive deletion is the caller's concern.
func (m *MemoryService) DeleteUserData(ctx context.Context, userID string) (int64, error) {
	keys := []string{
		keyPrefixProfile + userID,
		keyPrefixSummaries + userID,
		keyPrefixSummaryHashes + userID,
		keyPrefixUserSessions + userID,
	}

	ids, err := m.SessionIDs(ctx, userID)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		keys = append(keys, keyPrefixSession+id)
	}

	deleted, err := m.redis.Delete(ctx, keys...)
	if err != nil {
		return 0, apperrors.NewStoreUnavailable("user data delete failed", err)
	}

	m.fallback.Delete(userID)
	logrus.Infof("🗑️ [MEMORY] Erased %d keys for user %s", deleted, userID)
	return deleted, nil
}
