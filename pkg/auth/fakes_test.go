package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/turnstile/pkg/apperr"
	"github.com/platinummonkey/turnstile/pkg/audit"
	"github.com/platinummonkey/turnstile/pkg/cache"
	"github.com/platinummonkey/turnstile/pkg/session"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type memRefreshStore struct {
	mu   sync.Mutex
	rows map[string]*RefreshToken
}

func newMemRefreshStore() *memRefreshStore {
	return &memRefreshStore{rows: make(map[string]*RefreshToken)}
}

func (s *memRefreshStore) Insert(_ context.Context, t *RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.rows[t.TokenHash] = &cp
	return nil
}

func (s *memRefreshStore) FindByHash(_ context.Context, hash string) (*RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.rows[hash]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (s *memRefreshStore) Rotate(_ context.Context, oldHash string, next *RefreshToken, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.rows[oldHash]
	if !ok || old.RevokedAt != nil {
		return false, nil
	}
	old.RevokedAt = &at
	old.RevokedReason = RevokeReasonRotated
	cp := *next
	s.rows[next.TokenHash] = &cp
	return true, nil
}

func (s *memRefreshStore) Revoke(_ context.Context, hash, reason string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.rows[hash]
	if !ok || t.RevokedAt != nil {
		return false, nil
	}
	t.RevokedAt, t.RevokedReason = &at, reason
	return true, nil
}

func (s *memRefreshStore) revokeWhere(match func(*RefreshToken) bool, reason string, at time.Time) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, t := range s.rows {
		if t.RevokedAt == nil && match(t) {
			t.RevokedAt, t.RevokedReason = &at, reason
			n++
		}
	}
	return n
}

func (s *memRefreshStore) RevokeSession(_ context.Context, sessionID, reason string, at time.Time) (int64, error) {
	return s.revokeWhere(func(t *RefreshToken) bool { return t.SessionID == sessionID }, reason, at), nil
}

func (s *memRefreshStore) RevokeAllForUser(_ context.Context, userID, reason string, at time.Time) (int64, error) {
	return s.revokeWhere(func(t *RefreshToken) bool { return t.UserID == userID }, reason, at), nil
}

func (s *memRefreshStore) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for h, t := range s.rows {
		if t.ExpiresAt.Before(before) {
			delete(s.rows, h)
			n++
		}
	}
	return n, nil
}

type memRevocationStore struct {
	mu      sync.Mutex
	entries map[string]*RevokedToken
}

func newMemRevocationStore() *memRevocationStore {
	return &memRevocationStore{entries: make(map[string]*RevokedToken)}
}

func (s *memRevocationStore) Insert(_ context.Context, e *RevokedToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.entries[e.TokenHash] = &cp
	return nil
}

func (s *memRevocationStore) IsRevoked(_ context.Context, hash string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[hash]
	return ok && e.ExpiresAt.After(at), nil
}

func (s *memRevocationStore) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for h, e := range s.entries {
		if !e.ExpiresAt.After(before) {
			delete(s.entries, h)
			n++
		}
	}
	return n, nil
}

type fakeSessions struct {
	mu       sync.Mutex
	clock    *testClock
	sessions map[string]*session.Session
	evicted  []string
}

func newFakeSessions(clock *testClock) *fakeSessions {
	return &fakeSessions{clock: clock, sessions: make(map[string]*session.Session)}
}

func (f *fakeSessions) CreateSession(_ context.Context, p session.CreateParams) (*session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.clock.Now()
	s := &session.Session{
		ID: p.ID, UserID: p.UserID, IPAddress: p.IPAddress, UserAgent: p.UserAgent,
		CreatedAt: now, LastActivityAt: now, ExpiresAt: now.Add(p.TTL),
	}
	f.sessions[p.ID] = s
	return s, nil
}

func (f *fakeSessions) ExtendSession(_ context.Context, userID, sessionID string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok || s.UserID != userID || s.RevokedAt != nil {
		return apperr.NotFound("session", sessionID)
	}
	if expiresAt.After(s.ExpiresAt) {
		s.ExpiresAt = expiresAt
	}
	return nil
}

func (f *fakeSessions) RevokeSession(_ context.Context, id, revokedBy string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return apperr.NotFound("session", id)
	}
	if s.RevokedAt == nil {
		now := f.clock.Now()
		s.RevokedAt, s.RevokedBy = &now, revokedBy
	}
	return nil
}

func (f *fakeSessions) RevokeAllUserSessions(_ context.Context, userID, exceptID, revokedBy string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	now := f.clock.Now()
	for _, s := range f.sessions {
		if s.UserID == userID && s.ID != exceptID && s.RevokedAt == nil {
			s.RevokedAt, s.RevokedBy = &now, revokedBy
			n++
		}
	}
	return n, nil
}

func (f *fakeSessions) EvictSession(_ context.Context, userID, sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evicted = append(f.evicted, userID+":"+sessionID)
}

func (f *fakeSessions) EvictUser(_ context.Context, userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evicted = append(f.evicted, userID+":*")
}

func (f *fakeSessions) get(id string) *session.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[id]
}

type memUsers struct {
	mu    sync.Mutex
	users map[string]*User
}

func (m *memUsers) add(u *User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

func (m *memUsers) GetUser(_ context.Context, id string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, apperr.NotFound("user", id)
}

func (m *memUsers) GetUserByEmail(_ context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == normalizeEmail(email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("user", email)
}

type recordingAudit struct {
	mu     sync.Mutex
	events []*audit.Event
}

func (r *recordingAudit) Log(_ context.Context, e *audit.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingAudit) Close() error { return nil }

func (r *recordingAudit) actions() []audit.Action {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]audit.Action, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Action)
	}
	return out
}

const testSecret = "0123456789abcdef0123456789abcdef"

type harness struct {
	issuer   *TokenIssuer
	registry *RevocationRegistry
	refresh  *memRefreshStore
	revoked  *memRevocationStore
	sessions *fakeSessions
	users    *memUsers
	audit    *recordingAudit
	clock    *testClock
	mr       *miniredis.Miniredis
	alice    *User
}

func newHarness(t testing.TB, configure ...func(*IssuerConfig)) *harness {
	t.Helper()

	h := &harness{
		refresh: newMemRefreshStore(),
		revoked: newMemRevocationStore(),
		users:   &memUsers{users: make(map[string]*User)},
		audit:   &recordingAudit{},
		clock:   &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		mr:      miniredis.RunT(t),
	}
	h.sessions = newFakeSessions(h.clock)

	rdb := redis.NewClient(&redis.Options{Addr: h.mr.Addr(), MaxRetries: -1})
	cc := cache.NewFromClient(rdb, "ts:")
	t.Cleanup(func() { cc.Close() })

	cfg := IssuerConfig{
		Secret:     []byte(testSecret),
		Issuer:     "turnstile",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
	}
	for _, fn := range configure {
		fn(&cfg)
	}

	h.registry = NewRevocationRegistry(h.revoked, cc, cfg.AccessTTL, nil, nil)
	h.issuer = NewTokenIssuer(cfg, h.refresh, h.sessions, h.registry, h.users,
		WithAuditLogger(h.audit),
		WithClock(h.clock.Now),
	)

	hash, err := HashPassword("correct horse", 4)
	if err != nil {
		t.Fatal(err)
	}
	h.alice = &User{
		ID: "user-alice", Email: "alice@example.com", PasswordHash: hash,
		Role: RoleSalesManager, AccessLevel: 3, Status: StatusActive,
	}
	h.users.add(h.alice)
	return h
}
