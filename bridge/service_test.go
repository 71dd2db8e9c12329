package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcportal/gamebridge/config"
	"github.com/lcportal/gamebridge/db"
	"github.com/lcportal/gamebridge/legacydb"
	"github.com/lcportal/gamebridge/legacyhash"
	"github.com/lcportal/gamebridge/ratelimit"
)

// mockLinkStore keeps links in memory and enforces the same uniqueness the
// real store's constraints enforce.
type mockLinkStore struct {
	mu           sync.Mutex
	byID         map[string]*db.GameAccountLink
	skipPreCheck bool // make GetLinkByServerUsername always miss, exposing the creation race
}

func newMockLinkStore() *mockLinkStore {
	return &mockLinkStore{byID: make(map[string]*db.GameAccountLink)}
}

func (m *mockLinkStore) CreateLink(ctx context.Context, link *db.GameAccountLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.byID {
		if existing.ServerID == link.ServerID && existing.LegacyUsername == link.LegacyUsername {
			return db.ErrDuplicateLink
		}
		if existing.UserID == link.UserID && existing.ServerID == link.ServerID {
			return db.ErrDuplicateLink
		}
	}
	copied := *link
	m.byID[link.ID] = &copied
	return nil
}

func (m *mockLinkStore) GetLinkByID(ctx context.Context, linkID string) (*db.GameAccountLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if link, ok := m.byID[linkID]; ok {
		copied := *link
		return &copied, nil
	}
	return nil, db.ErrLinkNotFound
}

func (m *mockLinkStore) GetLinkByServerUsername(ctx context.Context, serverID, legacyUsername string) (*db.GameAccountLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.skipPreCheck {
		return nil, db.ErrLinkNotFound
	}
	for _, link := range m.byID {
		if link.ServerID == serverID && link.LegacyUsername == legacyUsername {
			copied := *link
			return &copied, nil
		}
	}
	return nil, db.ErrLinkNotFound
}

func (m *mockLinkStore) ListLinksByUser(ctx context.Context, userID string) ([]*db.GameAccountLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var links []*db.GameAccountLink
	for _, link := range m.byID {
		if link.UserID == userID {
			copied := *link
			links = append(links, &copied)
		}
	}
	return links, nil
}

func (m *mockLinkStore) DeleteLink(ctx context.Context, linkID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[linkID]; !ok {
		return db.ErrLinkNotFound
	}
	delete(m.byID, linkID)
	return nil
}

type mockServerStore struct {
	servers map[string]*db.GameServer
}

func (m *mockServerStore) GetServer(ctx context.Context, serverID string) (*db.GameServer, error) {
	if server, ok := m.servers[serverID]; ok {
		return server, nil
	}
	return nil, db.ErrServerNotFound
}

// mockLegacy serves canned legacy user rows and counts pool/fetch traffic.
type mockLegacy struct {
	mu         sync.Mutex
	users      map[string]*legacydb.LegacyUserRecord // key: serverID + "/" + username
	poolErr    error
	fetchErr   error
	poolCalls  int
	fetchCalls int
}

func (m *mockLegacy) GetOrCreatePool(ctx context.Context, server config.LegacyServerConfig) (*legacydb.Entry, error) {
	m.mu.Lock()
	m.poolCalls++
	m.mu.Unlock()
	if m.poolErr != nil {
		return nil, m.poolErr
	}
	return &legacydb.Entry{Config: server}, nil
}

func (m *mockLegacy) FetchUser(ctx context.Context, serverID, username string) (*legacydb.LegacyUserRecord, error) {
	m.mu.Lock()
	m.fetchCalls++
	m.mu.Unlock()
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	if record, ok := m.users[serverID+"/"+username]; ok {
		return record, nil
	}
	return nil, legacydb.ErrUserNotFound
}

func (m *mockLegacy) counts() (pool, fetch int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.poolCalls, m.fetchCalls
}

// denyingLimiter rejects everything with a fixed reset time.
type denyingLimiter struct {
	resetAt time.Time
}

func (l *denyingLimiter) Check(ctx context.Context, identifier string, cfg ratelimit.Config) ratelimit.Result {
	return ratelimit.Result{Allowed: false, Remaining: 0, ResetAt: l.resetAt}
}

type allowingLimiter struct{}

func (allowingLimiter) Check(ctx context.Context, identifier string, cfg ratelimit.Config) ratelimit.Result {
	return ratelimit.Result{Allowed: true, Remaining: 2, ResetAt: time.Now().Add(10 * time.Minute)}
}

// recordingAudit captures emitted events.
type recordingAudit struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (r *recordingAudit) Record(ctx context.Context, event AuditEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingAudit) all() []AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]AuditEvent(nil), r.events...)
}

type fixture struct {
	service *Service
	links   *mockLinkStore
	legacy  *mockLegacy
	audit   *recordingAudit
}

func newFixture(t *testing.T, limiter RateLimiter) *fixture {
	t.Helper()
	links := newMockLinkStore()
	legacy := &mockLegacy{users: map[string]*legacydb.LegacyUserRecord{
		"srv-1/alice": {
			UserCode:     1042,
			Username:     "alice",
			PasswordHash: legacyhash.HashSHA256Salt("alice", "Secret123"),
			Activated:    true,
		},
	}}
	audit := &recordingAudit{}
	servers := &mockServerStore{servers: map[string]*db.GameServer{
		"srv-1": {ID: "srv-1", Name: "Asgard", Region: "EU", Host: "legacy.example.test", Port: 5432, Database: "game", ROUser: "ro", ROPasswordEncrypted: "x"},
	}}

	service := NewService(ServiceOptions{
		Links:   links,
		Servers: servers,
		Legacy:  legacy,
		Limiter: limiter,
		Audit:   audit,
	})
	return &fixture{service: service, links: links, legacy: legacy, audit: audit}
}

func linkRequest() LinkRequest {
	return LinkRequest{UserID: "u42", ServerID: "srv-1", LegacyUsername: "alice", Password: "Secret123"}
}

func TestLinkSuccess(t *testing.T) {
	f := newFixture(t, allowingLimiter{})

	result, err := f.service.Link(context.Background(), linkRequest())
	require.NoError(t, err)
	assert.Equal(t, legacyhash.AlgorithmSHA256Salt, result.Algorithm)
	assert.Equal(t, "sha256-salt", result.Link.Algorithm)
	assert.Equal(t, "u42", result.Link.UserID)
	assert.Equal(t, "Asgard", result.Server.Name)
	assert.NotEmpty(t, result.Link.ID)

	stored, err := f.links.GetLinkByID(context.Background(), result.Link.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", stored.LegacyUsername)

	events := f.audit.all()
	require.Len(t, events, 1)
	assert.Equal(t, ActionLinkAccount, events[0].Action)
	assert.Equal(t, "u42", events[0].ActorID)
	assert.Equal(t, "alice", events[0].Target)
}

func TestLinkRateLimitedBeforeAnyPoolAccess(t *testing.T) {
	resetAt := time.Now().Add(10 * time.Minute)
	f := newFixture(t, &denyingLimiter{resetAt: resetAt})

	_, err := f.service.Link(context.Background(), linkRequest())
	rle, ok := IsRateLimited(err)
	require.True(t, ok)
	assert.Equal(t, resetAt, rle.ResetAt)

	poolCalls, fetchCalls := f.legacy.counts()
	assert.Equal(t, 0, poolCalls, "rate limit must bound pool access")
	assert.Equal(t, 0, fetchCalls)

	events := f.audit.all()
	require.Len(t, events, 1)
	assert.Equal(t, ActionRateLimited, events[0].Action)
}

func TestLinkServerNotFound(t *testing.T) {
	f := newFixture(t, allowingLimiter{})
	req := linkRequest()
	req.ServerID = "srv-ghost"

	_, err := f.service.Link(context.Background(), req)
	assert.ErrorIs(t, err, ErrServerNotFound)

	events := f.audit.all()
	require.Len(t, events, 1)
	assert.Equal(t, "server_not_found", events[0].Metadata["reason"])
}

func TestLinkConflictSkipsVerification(t *testing.T) {
	f := newFixture(t, allowingLimiter{})

	_, err := f.service.Link(context.Background(), linkRequest())
	require.NoError(t, err)

	req := linkRequest()
	req.UserID = "u99"
	_, err = f.service.Link(context.Background(), req)
	assert.ErrorIs(t, err, ErrConflict)

	_, fetchCalls := f.legacy.counts()
	assert.Equal(t, 1, fetchCalls, "a known-duplicate attempt must not hit the legacy database")
}

func TestLinkUserNotFoundFlattened(t *testing.T) {
	f := newFixture(t, allowingLimiter{})
	req := linkRequest()
	req.LegacyUsername = "ghost"

	_, err := f.service.Link(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	events := f.audit.all()
	require.Len(t, events, 1)
	assert.Equal(t, ActionInvalidAttempt, events[0].Action)
	assert.Equal(t, "user_not_found", events[0].Metadata["reason"])
}

func TestLinkWrongPasswordFlattened(t *testing.T) {
	f := newFixture(t, allowingLimiter{})
	req := linkRequest()
	req.Password = "WrongPassword"

	_, err := f.service.Link(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	events := f.audit.all()
	require.Len(t, events, 1)
	assert.Equal(t, "invalid_password", events[0].Metadata["reason"])
}

func TestLinkInactiveAccount(t *testing.T) {
	f := newFixture(t, allowingLimiter{})
	f.legacy.users["srv-1/alice"].Activated = false

	_, err := f.service.Link(context.Background(), linkRequest())
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	events := f.audit.all()
	require.Len(t, events, 1)
	assert.Equal(t, "account_inactive", events[0].Metadata["reason"])
}

func TestLinkUpstreamTimeoutIsNotCredentialFailure(t *testing.T) {
	f := newFixture(t, allowingLimiter{})
	f.legacy.fetchErr = context.DeadlineExceeded

	_, err := f.service.Link(context.Background(), linkRequest())
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.NotErrorIs(t, err, ErrInvalidCredentials)

	events := f.audit.all()
	require.Len(t, events, 1)
	assert.Equal(t, "legacy_query_failed", events[0].Metadata["reason"])
}

func TestLinkPoolCreationFailure(t *testing.T) {
	f := newFixture(t, allowingLimiter{})
	f.legacy.poolErr = errors.New("connection refused")

	_, err := f.service.Link(context.Background(), linkRequest())
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
}

func TestLinkSecurityViolationEscalates(t *testing.T) {
	f := newFixture(t, allowingLimiter{})
	f.legacy.fetchErr = legacydb.ErrSecurityViolation

	_, err := f.service.Link(context.Background(), linkRequest())
	assert.ErrorIs(t, err, legacydb.ErrSecurityViolation)
	assert.NotErrorIs(t, err, ErrInvalidCredentials)
}

func TestLinkValidation(t *testing.T) {
	f := newFixture(t, allowingLimiter{})

	req := linkRequest()
	req.Password = ""
	_, err := f.service.Link(context.Background(), req)
	assert.ErrorIs(t, err, ErrValidation)

	req = linkRequest()
	req.UserID = ""
	_, err = f.service.Link(context.Background(), req)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	assert.Empty(t, f.audit.all(), "failures before the rate check carry no audit event")
}

func TestLinkConcurrentRaceOneWins(t *testing.T) {
	f := newFixture(t, allowingLimiter{})
	// Let both attempts pass the pre-check so the store's uniqueness
	// constraint has to arbitrate.
	f.links.skipPreCheck = true

	requests := []LinkRequest{linkRequest(), {UserID: "u99", ServerID: "srv-1", LegacyUsername: "alice", Password: "Secret123"}}

	errs := make([]error, len(requests))
	var wg sync.WaitGroup
	for i, req := range requests {
		wg.Add(1)
		go func(idx int, r LinkRequest) {
			defer wg.Done()
			_, errs[idx] = f.service.Link(context.Background(), r)
		}(i, req)
	}
	wg.Wait()

	var successes, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, successes, "exactly one concurrent attempt may create the link")
	assert.Equal(t, 1, conflicts)
}

func TestUnlinkByOwner(t *testing.T) {
	f := newFixture(t, allowingLimiter{})
	result, err := f.service.Link(context.Background(), linkRequest())
	require.NoError(t, err)

	err = f.service.Unlink(context.Background(), "u42", result.Link.ID)
	require.NoError(t, err)

	_, err = f.links.GetLinkByID(context.Background(), result.Link.ID)
	assert.ErrorIs(t, err, db.ErrLinkNotFound)

	events := f.audit.all()
	require.Len(t, events, 2) // link + unlink
	assert.Equal(t, ActionUnlinkAccount, events[1].Action)
}

func TestUnlinkByNonOwnerForbidden(t *testing.T) {
	f := newFixture(t, allowingLimiter{})
	result, err := f.service.Link(context.Background(), linkRequest())
	require.NoError(t, err)

	err = f.service.Unlink(context.Background(), "u99", result.Link.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	// The link must survive the attempt.
	_, err = f.links.GetLinkByID(context.Background(), result.Link.ID)
	assert.NoError(t, err)

	events := f.audit.all()
	require.Len(t, events, 2)
	assert.Equal(t, "unlink_ownership_violation", events[1].Metadata["reason"])
}

func TestUnlinkMissingLink(t *testing.T) {
	f := newFixture(t, allowingLimiter{})
	err := f.service.Unlink(context.Background(), "u42", "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, ErrLinkNotFound)
}

func TestListLinks(t *testing.T) {
	f := newFixture(t, allowingLimiter{})
	_, err := f.service.Link(context.Background(), linkRequest())
	require.NoError(t, err)

	links, err := f.service.ListLinks(context.Background(), "u42")
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "alice", links[0].LegacyUsername)

	links, err = f.service.ListLinks(context.Background(), "u99")
	require.NoError(t, err)
	assert.Empty(t, links)
}
