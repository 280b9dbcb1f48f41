package services

import (
	"context"
	"sync"

	"reverie/internal/apperrors"
	"reverie/internal/models"
)

// stubStore is an in-memory MemoryStore for tests. It mirrors the real
// store's copy-on-read behavior, supports forced read/write failures,
// and counts calls per method so tests can assert on write activity.
type stubStore struct {
	mu        sync.Mutex
	profiles  map[string]*models.UserProfile
	sessions  map[string]*models.SessionContext
	summaries map[string][]*models.ConversationSummary
	hashes    map[string]map[string]bool
	registry  map[string]map[string]bool
	fallbacks map[string]*models.UserProfile

	failReads  bool
	failWrites bool

	calls map[string]int
}

var _ MemoryStore = (*stubStore)(nil)

func newStubStore() *stubStore {
	return &stubStore{
		profiles:  make(map[string]*models.UserProfile),
		sessions:  make(map[string]*models.SessionContext),
		summaries: make(map[string][]*models.ConversationSummary),
		hashes:    make(map[string]map[string]bool),
		registry:  make(map[string]map[string]bool),
		fallbacks: make(map[string]*models.UserProfile),
		calls:     make(map[string]int),
	}
}

func (s *stubStore) callCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

func (s *stubStore) writeCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls["MergeProfile"] + s.calls["PutSession"] + s.calls["AddSummary"] + s.calls["RegisterSession"]
}

func (s *stubStore) totalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.calls {
		total += n
	}
	return total
}

func (s *stubStore) GetProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["GetProfile"]++
	if s.failReads {
		return nil, apperrors.NewStoreUnavailable("profile read failed", nil)
	}
	p, ok := s.profiles[userID]
	if !ok {
		return nil, apperrors.NewRecordNotFound("profile")
	}
	return copyProfile(p), nil
}

func (s *stubStore) FallbackProfile(userID string) (*models.UserProfile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["FallbackProfile"]++
	p, ok := s.fallbacks[userID]
	if !ok {
		return nil, false
	}
	return copyProfile(p), true
}

func (s *stubStore) MergeProfile(ctx context.Context, userID string, delta models.ProfileDelta) (*models.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["MergeProfile"]++
	if s.failWrites {
		return nil, apperrors.NewStoreUnavailable("profile write failed", nil)
	}
	p, ok := s.profiles[userID]
	if !ok {
		p = models.NewUserProfile(userID)
	} else {
		p = copyProfile(p)
	}
	p.Merge(delta)
	s.profiles[userID] = p
	return copyProfile(p), nil
}

func (s *stubStore) GetSession(ctx context.Context, sessionID string) (*models.SessionContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["GetSession"]++
	if s.failReads {
		return nil, apperrors.NewStoreUnavailable("session read failed", nil)
	}
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, apperrors.NewRecordNotFound("session")
	}
	return copySession(sess), nil
}

func (s *stubStore) PutSession(ctx context.Context, session *models.SessionContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["PutSession"]++
	if s.failWrites {
		return apperrors.NewStoreUnavailable("session write failed", nil)
	}
	s.sessions[session.SessionID] = copySession(session)
	return nil
}

func (s *stubStore) ListSummaries(ctx context.Context, userID string, limit int) ([]*models.ConversationSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["ListSummaries"]++
	if s.failReads {
		return nil, apperrors.NewStoreUnavailable("summaries read failed", nil)
	}
	rows := s.summaries[userID]
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	out := make([]*models.ConversationSummary, len(rows))
	copy(out, rows)
	return out, nil
}

func (s *stubStore) AddSummary(ctx context.Context, summary *models.ConversationSummary) ([]*models.ConversationSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["AddSummary"]++
	if s.failWrites {
		return nil, apperrors.NewStoreUnavailable("summary write failed", nil)
	}
	s.summaries[summary.UserID] = append([]*models.ConversationSummary{summary}, s.summaries[summary.UserID]...)
	if s.hashes[summary.UserID] == nil {
		s.hashes[summary.UserID] = make(map[string]bool)
	}
	s.hashes[summary.UserID][summary.BlockHash] = true
	return nil, nil
}

func (s *stubStore) HasSummaryForBlock(ctx context.Context, userID, blockHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["HasSummaryForBlock"]++
	if s.failReads {
		return false, apperrors.NewStoreUnavailable("summary hash read failed", nil)
	}
	return s.hashes[userID][blockHash], nil
}

func (s *stubStore) RegisterSession(ctx context.Context, userID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["RegisterSession"]++
	if s.failWrites {
		return apperrors.NewStoreUnavailable("session registry write failed", nil)
	}
	if s.registry[userID] == nil {
		s.registry[userID] = make(map[string]bool)
	}
	s.registry[userID][sessionID] = true
	return nil
}

func copyProfile(p *models.UserProfile) *models.UserProfile {
	cp := *p
	cp.Interests = append([]string(nil), p.Interests...)
	cp.Preferences = make(map[string]string, len(p.Preferences))
	for k, v := range p.Preferences {
		cp.Preferences[k] = v
	}
	return &cp
}

func copySession(s *models.SessionContext) *models.SessionContext {
	cp := *s
	cp.RecentExchanges = append([]models.Exchange(nil), s.RecentExchanges...)
	return &cp
}
