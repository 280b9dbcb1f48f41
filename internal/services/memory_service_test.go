package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"reverie/internal/apperrors"
	"reverie/internal/config"
	"reverie/internal/models"
)

func newTestMemoryService(t *testing.T) (*MemoryService, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	redisService, err := NewRedisService("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("Failed to connect to test redis: %v", err)
	}
	t.Cleanup(func() { redisService.Close() })

	cfg := &config.Config{
		ProfileTTL: 90 * 24 * time.Hour,
		SessionTTL: 24 * time.Hour,
		SummaryCap: 3,
	}
	return NewMemoryService(redisService, cfg), mr
}

func testSummary(userID, sessionID, hash string) *models.ConversationSummary {
	return &models.ConversationSummary{
		UserID:      userID,
		SessionID:   sessionID,
		SummaryText: "Discussed work. \"the interview went well\"",
		BlockHash:   hash,
		CreatedAt:   time.Now().UTC(),
	}
}

// TestGetProfileNotFound tests that first-time users read as not found
func TestGetProfileNotFound(t *testing.T) {
	svc, _ := newTestMemoryService(t)

	_, err := svc.GetProfile(context.Background(), "user-1")
	if !apperrors.IsRecordNotFound(err) {
		t.Errorf("Expected record_not_found, got %v", err)
	}
}

// TestMergeProfileRoundTrip tests merge-on-write persistence and the
// retention TTL
func TestMergeProfileRoundTrip(t *testing.T) {
	svc, mr := newTestMemoryService(t)
	ctx := context.Background()

	merged, err := svc.MergeProfile(ctx, "user-1", models.ProfileDelta{
		DisplayName:      "Maya",
		Interests:        []string{"anime"},
		Preferences:      map[string]string{"occupation": "nurse"},
		InteractionDelta: 1,
	})
	if err != nil {
		t.Fatalf("Failed to merge profile: %v", err)
	}
	if merged.DisplayName != "Maya" || merged.InteractionCount != 1 {
		t.Errorf("Expected merged fields returned, got %+v", merged)
	}

	got, err := svc.GetProfile(ctx, "user-1")
	if err != nil {
		t.Fatalf("Failed to read profile back: %v", err)
	}
	if got.DisplayName != "Maya" || len(got.Interests) != 1 || got.Preferences["occupation"] != "nurse" {
		t.Errorf("Expected the persisted profile, got %+v", got)
	}

	if ttl := mr.TTL("profile:user-1"); ttl != 90*24*time.Hour {
		t.Errorf("Expected the retention TTL set, got %s", ttl)
	}
}

// TestMergeProfileAdditive tests that successive deltas accumulate and
// each write refreshes the retention window
func TestMergeProfileAdditive(t *testing.T) {
	svc, mr := newTestMemoryService(t)
	ctx := context.Background()

	if _, err := svc.MergeProfile(ctx, "user-1", models.ProfileDelta{Interests: []string{"anime"}, InteractionDelta: 1}); err != nil {
		t.Fatalf("Failed first merge: %v", err)
	}

	mr.FastForward(12 * time.Hour)

	got, err := svc.MergeProfile(ctx, "user-1", models.ProfileDelta{Interests: []string{"bouldering"}, InteractionDelta: 1})
	if err != nil {
		t.Fatalf("Failed second merge: %v", err)
	}
	if len(got.Interests) != 2 || got.InteractionCount != 2 {
		t.Errorf("Expected accumulated profile, got %+v", got)
	}

	if ttl := mr.TTL("profile:user-1"); ttl != 90*24*time.Hour {
		t.Errorf("Expected the TTL refreshed by the write, got %s", ttl)
	}
}

// TestProfileExpiry tests that an untouched profile ages out
func TestProfileExpiry(t *testing.T) {
	svc, mr := newTestMemoryService(t)
	ctx := context.Background()

	if _, err := svc.MergeProfile(ctx, "user-1", models.ProfileDelta{InteractionDelta: 1}); err != nil {
		t.Fatalf("Failed to merge profile: %v", err)
	}

	mr.FastForward(90*24*time.Hour + time.Minute)

	if _, err := svc.GetProfile(ctx, "user-1"); !apperrors.IsRecordNotFound(err) {
		t.Errorf("Expected the profile expired, got %v", err)
	}
}

// TestGetProfileCorrupt tests that an unreadable record is treated as
// absent rather than poisoning every turn
func TestGetProfileCorrupt(t *testing.T) {
	svc, mr := newTestMemoryService(t)

	if err := mr.Set("profile:user-1", "{not json"); err != nil {
		t.Fatalf("Failed to seed corrupt record: %v", err)
	}

	if _, err := svc.GetProfile(context.Background(), "user-1"); !apperrors.IsRecordNotFound(err) {
		t.Errorf("Expected corrupt record read as not found, got %v", err)
	}
}

// TestFallbackProfile tests the last-known-good copy served during an
// outage
func TestFallbackProfile(t *testing.T) {
	svc, mr := newTestMemoryService(t)
	ctx := context.Background()

	if _, err := svc.MergeProfile(ctx, "user-1", models.ProfileDelta{DisplayName: "Maya", InteractionDelta: 1}); err != nil {
		t.Fatalf("Failed to merge profile: %v", err)
	}

	mr.SetError("connection refused")
	defer mr.SetError("")

	if _, err := svc.GetProfile(ctx, "user-1"); !apperrors.IsStoreUnavailable(err) {
		t.Fatalf("Expected store_unavailable during outage, got %v", err)
	}

	cached, ok := svc.FallbackProfile("user-1")
	if !ok || cached.DisplayName != "Maya" {
		t.Errorf("Expected the cached profile, got %+v (ok=%v)", cached, ok)
	}

	if _, ok := svc.FallbackProfile("stranger"); ok {
		t.Error("Expected no fallback for a never-seen user")
	}
}

// TestSessionRoundTripAndExpiry tests session persistence, the idle
// TTL, and expiry
func TestSessionRoundTripAndExpiry(t *testing.T) {
	svc, mr := newTestMemoryService(t)
	ctx := context.Background()

	session := models.NewSessionContext("session-1", "user-1")
	session.AppendExchange(models.Exchange{Role: models.RoleUser, Text: "hello there", Tone: "casual"}, 8)
	session.AppendExchange(models.Exchange{Role: models.RoleAssistant, Text: "Hey! How's your day?"}, 8)
	session.CurrentTopic = "work"

	if err := svc.PutSession(ctx, session); err != nil {
		t.Fatalf("Failed to put session: %v", err)
	}
	if ttl := mr.TTL("session:session-1"); ttl != 24*time.Hour {
		t.Errorf("Expected the idle TTL set, got %s", ttl)
	}

	got, err := svc.GetSession(ctx, "session-1")
	if err != nil {
		t.Fatalf("Failed to read session back: %v", err)
	}
	if got.UserID != "user-1" || got.ExchangeCount != 2 || got.CurrentTopic != "work" {
		t.Errorf("Expected the persisted session, got %+v", got)
	}
	if len(got.RecentExchanges) != 2 || got.RecentExchanges[0].Text != "hello there" {
		t.Errorf("Expected the exchange window preserved, got %+v", got.RecentExchanges)
	}

	mr.FastForward(24*time.Hour + time.Minute)

	if _, err := svc.GetSession(ctx, "session-1"); !apperrors.IsRecordNotFound(err) {
		t.Errorf("Expected the session expired, got %v", err)
	}
}

// TestPutSessionWithTTL tests that an explicit TTL is honored, which is
// how the sweep avoids extending dormant sessions
func TestPutSessionWithTTL(t *testing.T) {
	svc, mr := newTestMemoryService(t)

	session := models.NewSessionContext("session-1", "user-1")
	if err := svc.PutSessionWithTTL(context.Background(), session, 10*time.Minute); err != nil {
		t.Fatalf("Failed to put session: %v", err)
	}

	if ttl := mr.TTL("session:session-1"); ttl != 10*time.Minute {
		t.Errorf("Expected the explicit TTL, got %s", ttl)
	}
}

// TestSessionTTLRemaining tests reading back how much idle window a
// session has left
func TestSessionTTLRemaining(t *testing.T) {
	svc, mr := newTestMemoryService(t)
	ctx := context.Background()

	if err := svc.PutSession(ctx, models.NewSessionContext("session-1", "user-1")); err != nil {
		t.Fatalf("Failed to put session: %v", err)
	}

	mr.FastForward(time.Hour)

	ttl, err := svc.SessionTTL(ctx, "session-1")
	if err != nil {
		t.Fatalf("Failed to read TTL: %v", err)
	}
	if ttl != 23*time.Hour {
		t.Errorf("Expected 23h remaining, got %s", ttl)
	}
}

// TestAddSummaryCapAndEviction tests the retention cap: newest first,
// overflow returned for archiving, hashes kept
func TestAddSummaryCapAndEviction(t *testing.T) {
	svc, _ := newTestMemoryService(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		evicted, err := svc.AddSummary(ctx, testSummary("user-1", fmt.Sprintf("session-%d", i), fmt.Sprintf("hash-%d", i)))
		if err != nil {
			t.Fatalf("Failed to add summary %d: %v", i, err)
		}
		if len(evicted) != 0 {
			t.Fatalf("Expected no eviction under the cap, got %d", len(evicted))
		}
	}

	evicted, err := svc.AddSummary(ctx, testSummary("user-1", "session-4", "hash-4"))
	if err != nil {
		t.Fatalf("Failed to add summary 4: %v", err)
	}
	if len(evicted) != 1 || evicted[0].BlockHash != "hash-1" {
		t.Fatalf("Expected the oldest summary evicted, got %+v", evicted)
	}

	summaries, err := svc.ListSummaries(ctx, "user-1", 0)
	if err != nil {
		t.Fatalf("Failed to list summaries: %v", err)
	}
	if len(summaries) != 3 {
		t.Fatalf("Expected the cap enforced, got %d", len(summaries))
	}
	for i, wantHash := range []string{"hash-4", "hash-3", "hash-2"} {
		if summaries[i].BlockHash != wantHash {
			t.Errorf("Position %d: expected %s, got %s", i, wantHash, summaries[i].BlockHash)
		}
	}

	limited, err := svc.ListSummaries(ctx, "user-1", 2)
	if err != nil {
		t.Fatalf("Failed to list limited summaries: %v", err)
	}
	if len(limited) != 2 || limited[0].BlockHash != "hash-4" {
		t.Errorf("Expected the two newest, got %+v", limited)
	}

	// Hashes survive eviction so a re-seen block is still skipped.
	seen, err := svc.HasSummaryForBlock(ctx, "user-1", "hash-1")
	if err != nil {
		t.Fatalf("Failed to check block hash: %v", err)
	}
	if !seen {
		t.Error("Expected the evicted block hash retained")
	}
}

// TestHasSummaryForBlock tests block-hash idempotence bookkeeping
func TestHasSummaryForBlock(t *testing.T) {
	svc, _ := newTestMemoryService(t)
	ctx := context.Background()

	seen, err := svc.HasSummaryForBlock(ctx, "user-1", "hash-1")
	if err != nil {
		t.Fatalf("Failed to check block hash: %v", err)
	}
	if seen {
		t.Error("Expected unseen hash before any summary")
	}

	if _, err := svc.AddSummary(ctx, testSummary("user-1", "session-1", "hash-1")); err != nil {
		t.Fatalf("Failed to add summary: %v", err)
	}

	seen, err = svc.HasSummaryForBlock(ctx, "user-1", "hash-1")
	if err != nil {
		t.Fatalf("Failed to check block hash: %v", err)
	}
	if !seen {
		t.Error("Expected the hash recorded with the summary")
	}
}

// TestListSummariesSkipsCorrupt tests that one bad record does not take
// down the whole list
func TestListSummariesSkipsCorrupt(t *testing.T) {
	svc, mr := newTestMemoryService(t)
	ctx := context.Background()

	if _, err := svc.AddSummary(ctx, testSummary("user-1", "session-1", "hash-1")); err != nil {
		t.Fatalf("Failed to add summary: %v", err)
	}
	if _, err := mr.Lpush("summaries:user-1", "{corrupt"); err != nil {
		t.Fatalf("Failed to seed corrupt record: %v", err)
	}

	summaries, err := svc.ListSummaries(ctx, "user-1", 0)
	if err != nil {
		t.Fatalf("Failed to list summaries: %v", err)
	}
	if len(summaries) != 1 || summaries[0].BlockHash != "hash-1" {
		t.Errorf("Expected the valid record only, got %+v", summaries)
	}
}

// TestTrimSummariesRepair tests re-enforcing the cap on a list that
// grew past it
func TestTrimSummariesRepair(t *testing.T) {
	svc, mr := newTestMemoryService(t)
	ctx := context.Background()

	// Seed five rows directly, bypassing AddSummary's own trim.
	for i := 1; i <= 5; i++ {
		raw, err := json.Marshal(testSummary("user-1", fmt.Sprintf("session-%d", i), fmt.Sprintf("hash-%d", i)))
		if err != nil {
			t.Fatalf("Failed to marshal summary: %v", err)
		}
		if _, err := mr.Lpush("summaries:user-1", string(raw)); err != nil {
			t.Fatalf("Failed to seed summary: %v", err)
		}
	}

	evicted, err := svc.TrimSummaries(ctx, "user-1")
	if err != nil {
		t.Fatalf("Failed to trim summaries: %v", err)
	}
	if len(evicted) != 2 {
		t.Fatalf("Expected two overflow entries, got %d", len(evicted))
	}
	if evicted[0].BlockHash != "hash-2" || evicted[1].BlockHash != "hash-1" {
		t.Errorf("Expected the oldest entries evicted, got %+v", evicted)
	}

	summaries, err := svc.ListSummaries(ctx, "user-1", 0)
	if err != nil {
		t.Fatalf("Failed to list summaries: %v", err)
	}
	if len(summaries) != 3 || summaries[0].BlockHash != "hash-5" {
		t.Errorf("Expected the newest three kept, got %+v", summaries)
	}

	// Under the cap, trim is a no-op.
	evicted, err = svc.TrimSummaries(ctx, "user-1")
	if err != nil {
		t.Fatalf("Failed second trim: %v", err)
	}
	if len(evicted) != 0 {
		t.Errorf("Expected nothing to trim, got %d", len(evicted))
	}
}

// TestPruneOrphanHashes tests deleting hash sets whose summary list is
// gone
func TestPruneOrphanHashes(t *testing.T) {
	svc, mr := newTestMemoryService(t)
	ctx := context.Background()

	if _, err := svc.AddSummary(ctx, testSummary("user-1", "session-1", "hash-1")); err != nil {
		t.Fatalf("Failed to add summary: %v", err)
	}

	pruned, err := svc.PruneOrphanHashes(ctx, "user-1")
	if err != nil {
		t.Fatalf("Failed to prune: %v", err)
	}
	if pruned {
		t.Error("Expected no pruning while the summary list exists")
	}

	mr.Del("summaries:user-1")

	pruned, err = svc.PruneOrphanHashes(ctx, "user-1")
	if err != nil {
		t.Fatalf("Failed to prune: %v", err)
	}
	if !pruned {
		t.Error("Expected the orphaned hash set pruned")
	}

	seen, err := svc.HasSummaryForBlock(ctx, "user-1", "hash-1")
	if err != nil {
		t.Fatalf("Failed to check block hash: %v", err)
	}
	if seen {
		t.Error("Expected the hash gone after pruning")
	}
}

// TestSessionLock tests cross-instance lock exclusion and token-guarded
// release
func TestSessionLock(t *testing.T) {
	svc, _ := newTestMemoryService(t)
	ctx := context.Background()

	token, err := svc.LockSession(ctx, "session-1", 30*time.Second)
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	if token == "" {
		t.Fatal("Expected a lock token")
	}

	second, err := svc.LockSession(ctx, "session-1", 30*time.Second)
	if err != nil {
		t.Fatalf("Failed second acquire attempt: %v", err)
	}
	if second != "" {
		t.Error("Expected the held lock to refuse a second holder")
	}

	// A stale or wrong token must not release someone else's lock.
	if err := svc.UnlockSession(ctx, "session-1", "wrong-token"); err != nil {
		t.Fatalf("Failed no-op release: %v", err)
	}
	if again, _ := svc.LockSession(ctx, "session-1", 30*time.Second); again != "" {
		t.Error("Expected the lock still held after a wrong-token release")
	}

	if err := svc.UnlockSession(ctx, "session-1", token); err != nil {
		t.Fatalf("Failed to release lock: %v", err)
	}
	reacquired, err := svc.LockSession(ctx, "session-1", 30*time.Second)
	if err != nil {
		t.Fatalf("Failed to reacquire lock: %v", err)
	}
	if reacquired == "" {
		t.Error("Expected the lock free after release")
	}
}

// TestSessionLockExpiry tests that an abandoned lock frees itself
func TestSessionLockExpiry(t *testing.T) {
	svc, mr := newTestMemoryService(t)
	ctx := context.Background()

	if token, _ := svc.LockSession(ctx, "session-1", 5*time.Second); token == "" {
		t.Fatal("Expected the lock acquired")
	}

	mr.FastForward(6 * time.Second)

	token, err := svc.LockSession(ctx, "session-1", 5*time.Second)
	if err != nil {
		t.Fatalf("Failed to acquire after expiry: %v", err)
	}
	if token == "" {
		t.Error("Expected the expired lock acquirable")
	}
}

// TestRegisterSessionIDs tests the per-user session registry
func TestRegisterSessionIDs(t *testing.T) {
	svc, _ := newTestMemoryService(t)
	ctx := context.Background()

	for _, id := range []string{"session-1", "session-2"} {
		if err := svc.RegisterSession(ctx, "user-1", id); err != nil {
			t.Fatalf("Failed to register %s: %v", id, err)
		}
	}
	// Re-registration is idempotent.
	if err := svc.RegisterSession(ctx, "user-1", "session-1"); err != nil {
		t.Fatalf("Failed to re-register: %v", err)
	}

	ids, err := svc.SessionIDs(ctx, "user-1")
	if err != nil {
		t.Fatalf("Failed to list session IDs: %v", err)
	}
	sort.Strings(ids)
	if len(ids) != 2 || ids[0] != "session-1" || ids[1] != "session-2" {
		t.Errorf("Expected both sessions registered once, got %v", ids)
	}
}

// TestScanSessionKeys tests that the sweep scan sees only session keys
func TestScanSessionKeys(t *testing.T) {
	svc, _ := newTestMemoryService(t)
	ctx := context.Background()

	for _, id := range []string{"session-a", "session-b", "session-c"} {
		if err := svc.PutSession(ctx, models.NewSessionContext(id, "user-1")); err != nil {
			t.Fatalf("Failed to put session %s: %v", id, err)
		}
	}
	if _, err := svc.MergeProfile(ctx, "user-1", models.ProfileDelta{InteractionDelta: 1}); err != nil {
		t.Fatalf("Failed to merge profile: %v", err)
	}

	var got []string
	err := svc.ScanSessionKeys(ctx, func(ids []string) error {
		got = append(got, ids...)
		return nil
	})
	if err != nil {
		t.Fatalf("Failed to scan: %v", err)
	}

	sort.Strings(got)
	want := []string{"session-a", "session-b", "session-c"}
	if len(got) != len(want) {
		t.Fatalf("Expected %d session IDs, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Position %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

// TestStats tests the aggregated per-user footprint
func TestStats(t *testing.T) {
	svc, _ := newTestMemoryService(t)
	ctx := context.Background()

	if _, err := svc.MergeProfile(ctx, "user-1", models.ProfileDelta{InteractionDelta: 2}); err != nil {
		t.Fatalf("Failed to merge profile: %v", err)
	}

	first := testSummary("user-1", "session-1", "hash-1")
	first.TokensSaved = 100
	second := testSummary("user-1", "session-2", "hash-2")
	second.TokensSaved = 50
	for _, s := range []*models.ConversationSummary{first, second} {
		if _, err := svc.AddSummary(ctx, s); err != nil {
			t.Fatalf("Failed to add summary: %v", err)
		}
	}

	// Two registered sessions, only one still live.
	for _, id := range []string{"session-1", "session-2"} {
		if err := svc.RegisterSession(ctx, "user-1", id); err != nil {
			t.Fatalf("Failed to register %s: %v", id, err)
		}
	}
	if err := svc.PutSession(ctx, models.NewSessionContext("session-2", "user-1")); err != nil {
		t.Fatalf("Failed to put session: %v", err)
	}

	stats, err := svc.Stats(ctx, "user-1")
	if err != nil {
		t.Fatalf("Failed to read stats: %v", err)
	}
	if stats.InteractionCount != 2 {
		t.Errorf("Expected 2 interactions, got %d", stats.InteractionCount)
	}
	if stats.SummaryCount != 2 {
		t.Errorf("Expected 2 summaries, got %d", stats.SummaryCount)
	}
	if stats.TokensSaved != 150 {
		t.Errorf("Expected 150 tokens saved, got %d", stats.TokensSaved)
	}
	if stats.ActiveSessions != 1 {
		t.Errorf("Expected 1 active session, got %d", stats.ActiveSessions)
	}
}

// TestExport tests the full-fidelity export across tiers
func TestExport(t *testing.T) {
	svc, _ := newTestMemoryService(t)
	ctx := context.Background()

	if _, err := svc.MergeProfile(ctx, "user-1", models.ProfileDelta{DisplayName: "Maya", InteractionDelta: 1}); err != nil {
		t.Fatalf("Failed to merge profile: %v", err)
	}
	if _, err := svc.AddSummary(ctx, testSummary("user-1", "session-old", "hash-1")); err != nil {
		t.Fatalf("Failed to add summary: %v", err)
	}

	// One live session, one registered but expired.
	if err := svc.PutSession(ctx, models.NewSessionContext("session-live", "user-1")); err != nil {
		t.Fatalf("Failed to put session: %v", err)
	}
	for _, id := range []string{"session-live", "session-gone"} {
		if err := svc.RegisterSession(ctx, "user-1", id); err != nil {
			t.Fatalf("Failed to register %s: %v", id, err)
		}
	}

	export, err := svc.Export(ctx, "user-1")
	if err != nil {
		t.Fatalf("Failed to export: %v", err)
	}
	if export.Profile == nil || export.Profile.DisplayName != "Maya" {
		t.Errorf("Expected the profile exported, got %+v", export.Profile)
	}
	if len(export.Sessions) != 1 || export.Sessions[0].SessionID != "session-live" {
		t.Errorf("Expected only the live session, got %+v", export.Sessions)
	}
	if len(export.Summaries) != 1 {
		t.Errorf("Expected the summary exported, got %d", len(export.Summaries))
	}
	if export.ExportedAt.IsZero() {
		t.Error("Expected the export timestamped")
	}
}

// TestDeleteUserData tests the erase path across every tier
func TestDeleteUserData(t *testing.T) {
	svc, _ := newTestMemoryService(t)
	ctx := context.Background()

	if _, err := svc.MergeProfile(ctx, "user-1", models.ProfileDelta{DisplayName: "Maya", InteractionDelta: 1}); err != nil {
		t.Fatalf("Failed to merge profile: %v", err)
	}
	if _, err := svc.AddSummary(ctx, testSummary("user-1", "session-1", "hash-1")); err != nil {
		t.Fatalf("Failed to add summary: %v", err)
	}
	for _, id := range []string{"session-1", "session-2"} {
		if err := svc.PutSession(ctx, models.NewSessionContext(id, "user-1")); err != nil {
			t.Fatalf("Failed to put session %s: %v", id, err)
		}
		if err := svc.RegisterSession(ctx, "user-1", id); err != nil {
			t.Fatalf("Failed to register %s: %v", id, err)
		}
	}

	deleted, err := svc.DeleteUserData(ctx, "user-1")
	if err != nil {
		t.Fatalf("Failed to delete user data: %v", err)
	}
	// profile + summaries + hashes + registry + two sessions
	if deleted != 6 {
		t.Errorf("Expected 6 keys deleted, got %d", deleted)
	}

	if _, err := svc.GetProfile(ctx, "user-1"); !apperrors.IsRecordNotFound(err) {
		t.Errorf("Expected the profile gone, got %v", err)
	}
	summaries, err := svc.ListSummaries(ctx, "user-1", 0)
	if err != nil || len(summaries) != 0 {
		t.Errorf("Expected no summaries, got %v (err %v)", summaries, err)
	}
	ids, err := svc.SessionIDs(ctx, "user-1")
	if err != nil || len(ids) != 0 {
		t.Errorf("Expected no registered sessions, got %v (err %v)", ids, err)
	}
	if _, ok := svc.FallbackProfile("user-1"); ok {
		t.Error("Expected the fallback copy cleared on erase")
	}
}

// TestStoreUnavailableKinds tests that a dead backend surfaces as
// store_unavailable on every operation
func TestStoreUnavailableKinds(t *testing.T) {
	svc, mr := newTestMemoryService(t)
	ctx := context.Background()

	mr.SetError("connection refused")
	defer mr.SetError("")

	tests := []struct {
		name string
		op   func() error
	}{
		{name: "GetProfile", op: func() error { _, err := svc.GetProfile(ctx, "u"); return err }},
		{name: "MergeProfile", op: func() error { _, err := svc.MergeProfile(ctx, "u", models.ProfileDelta{}); return err }},
		{name: "GetSession", op: func() error { _, err := svc.GetSession(ctx, "s"); return err }},
		{name: "PutSession", op: func() error { return svc.PutSession(ctx, models.NewSessionContext("s", "u")) }},
		{name: "ListSummaries", op: func() error { _, err := svc.ListSummaries(ctx, "u", 0); return err }},
		{name: "AddSummary", op: func() error { _, err := svc.AddSummary(ctx, testSummary("u", "s", "h")); return err }},
		{name: "HasSummaryForBlock", op: func() error { _, err := svc.HasSummaryForBlock(ctx, "u", "h"); return err }},
		{name: "RegisterSession", op: func() error { return svc.RegisterSession(ctx, "u", "s") }},
		{name: "SessionTTL", op: func() error { _, err := svc.SessionTTL(ctx, "s"); return err }},
		{name: "DeleteUserData", op: func() error { _, err := svc.DeleteUserData(ctx, "u"); return err }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.op(); !apperrors.IsStoreUnavailable(err) {
				t.Errorf("Expected store_unavailable, got %v", err)
			}
		})
	}
}
