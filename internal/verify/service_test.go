package verify

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cdahabbo/rolesync/internal/habbo"
	"github.com/cdahabbo/rolesync/internal/jsonstore"
	"github.com/cdahabbo/rolesync/internal/policy"
	"github.com/cdahabbo/rolesync/internal/profiles"
	"github.com/cdahabbo/rolesync/internal/roles"
	"github.com/cdahabbo/rolesync/internal/rolesync"
	"github.com/cdahabbo/rolesync/internal/sessions"
)

type fakeHabbo struct {
	mu       sync.Mutex
	profiles map[string]*habbo.Profile
	groups   map[string][]string
}

func (f *fakeHabbo) setMotto(name, motto string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles[name].Motto = motto
}

func (f *fakeHabbo) FetchProfile(_ context.Context, name, _ string) (*habbo.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[name]
	if !ok {
		return nil, habbo.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeHabbo) FetchGroups(_ context.Context, id string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.groups[id], nil
}

type fakeGuild struct {
	mu      sync.Mutex
	names   map[string]string
	members map[string]map[string]bool
	nicks   map[string]string
}

func (g *fakeGuild) Available() bool { return true }

func (g *fakeGuild) MemberRoles(_ context.Context, userID string) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	m, ok := g.members[userID]
	if !ok {
		return nil, rolesync.ErrMemberNotFound
	}
	var out []string
	for id := range m {
		out = append(out, id)
	}
	return out, nil
}

func (g *fakeGuild) AddRole(_ context.Context, userID, roleID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.members[userID][roleID] = true
	return nil
}

func (g *fakeGuild) RemoveRole(_ context.Context, userID, roleID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.members[userID], roleID)
	return nil
}

func (g *fakeGuild) RoleName(roleID string) (string, bool) {
	n, ok := g.names[roleID]
	return n, ok
}

func (g *fakeGuild) SetNickname(_ context.Context, userID, nick string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nicks[userID] = nick
	return nil
}

func (g *fakeGuild) held(userID string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []string
	for id := range g.members[userID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

type fakeAnnouncer struct{ verified []string }

func (a *fakeAnnouncer) Verified(_ context.Context, userID, name string) error {
	a.verified = append(a.verified, userID+":"+name)
	return nil
}

type staticPolicy struct{ t *policy.Table }

func (s staticPolicy) Table() *policy.Table { return s.t }

type env struct {
	svc       *Service
	habbo     *fakeHabbo
	guild     *fakeGuild
	profiles  *profiles.Service
	tracker   *sessions.Tracker
	announcer *fakeAnnouncer
	now       time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	tbl, err := policy.Parse([]byte(`{"roles": {
	  "EmployeeRoles": [{"group_id": "10", "role_id": 501, "cdaemployee": "yes"}, {"group_id": "20", "role_id": 502}],
	  "DonatorRoles": [{"group_id": "30", "role_id": 601}],
	  "Misc": [{"group_id": "40", "role_id": 701}],
	  "SpecialUnits": []
	}}`))
	require.NoError(t, err)

	e := &env{now: time.Unix(1700000000, 0)}
	e.habbo = &fakeHabbo{
		profiles: map[string]*habbo.Profile{"Alice": {UniqueID: "hhus-alice", Name: "Alice", Motto: "hello"}},
		groups:   map[string][]string{"hhus-alice": {"20", "30"}},
	}
	e.guild = &fakeGuild{
		names: map[string]string{"501": "Senior", "502": "Junior", "601": "Donator", "701": "Misc",
			"800": "Verified", "801": "Awaiting", "900": "CDA Employee"},
		members: map[string]map[string]bool{"1": {"801": true, "701": true}},
		nicks:   map[string]string{},
	}
	e.profiles = profiles.NewService(profiles.NewFileRepository(jsonstore.Open(filepath.Join(dir, "server.json"))))
	e.tracker = sessions.NewTracker(
		sessions.NewFileRepository(jsonstore.Open(filepath.Join(dir, "verification_codes.json"))),
		sessions.DefaultTTL,
		sessions.WithClock(func() time.Time { return e.now }),
	)
	driver := rolesync.NewDriver(e.profiles, e.habbo, e.guild, staticPolicy{tbl}, nil, rolesync.Config{
		Umbrella: roles.Umbrella{CDAEmployeeRoleID: "900", ProtectionMarker: "cda"},
	})
	e.announcer = &fakeAnnouncer{}
	e.svc = NewService(e.profiles, e.tracker, e.habbo, driver, e.guild, e.announcer,
		Config{VerifiedRoleID: "800", AwaitingRoleID: "801"})
	return e
}

func TestVerifyEndToEnd(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	res, err := e.svc.Verify(ctx, "1", "Alice", false)
	require.NoError(t, err)
	require.Equal(t, StateStarted, res.State)
	code := res.Session.Code
	require.Len(t, code, 5)

	// motto does not contain the code yet
	res, err = e.svc.Verify(ctx, "1", "Alice", false)
	require.ErrorIs(t, err, ErrCodeNotFound)
	assert.Equal(t, StateCodeNotFound, res.State)
	assert.Equal(t, code, res.Session.Code)
	pending, err := e.tracker.Get(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, code, pending.Code)

	e.habbo.setMotto("Alice", "my code is "+code)
	res, err = e.svc.Verify(ctx, "1", "Alice", false)
	require.NoError(t, err)
	assert.Equal(t, StateVerified, res.State)

	p, err := e.profiles.Get(ctx, "1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "1", p.UserID)
	assert.Equal(t, "Alice", p.Habbo)

	_, err = e.tracker.Get(ctx, "1")
	require.ErrorIs(t, err, ErrNoSession)

	// onboarding plus the additive pass: Junior + Donator, Misc kept
	assert.Equal(t, "Alice", e.guild.nicks["1"])
	assert.Equal(t, []string{"502", "601", "701", "800"}, e.guild.held("1"))
	require.NotNil(t, res.Roles)
	assert.ElementsMatch(t, []string{"Junior", "Donator"}, res.Roles.Result.Added)
	assert.Equal(t, []string{"1:Alice"}, e.announcer.verified)
}

func TestVerifyWhenAlreadyVerified(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.profiles.Commit(ctx, "1", "Alice")
	require.NoError(t, err)

	res, err := e.svc.Verify(ctx, "1", "Someone", false)
	require.ErrorIs(t, err, ErrAlreadyVerified)
	assert.Equal(t, StateAlreadyVerified, res.State)
	assert.Equal(t, "Alice", res.Profile.Habbo)

	list, err := e.tracker.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestConfirmWithoutSession(t *testing.T) {
	e := newEnv(t)
	_, err := e.svc.Confirm(context.Background(), "1")
	require.ErrorIs(t, err, ErrNoSession)
}

func TestConfirmLookupFailureKeepsSession(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	s, created, err := e.svc.Start(ctx, "1", "Renamed")
	require.NoError(t, err)
	require.True(t, created)

	_, err = e.svc.Confirm(ctx, "1")
	require.ErrorIs(t, err, ErrProfileLookup)

	got, err := e.tracker.Get(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, s.Code, got.Code)
	assert.True(t, got.CreatedAt.Equal(s.CreatedAt))
}

func TestMismatchAndRestart(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.svc.Verify(ctx, "1", "Mallory", false)
	require.NoError(t, err)

	res, err := e.svc.Verify(ctx, "1", "Alice", false)
	require.ErrorIs(t, err, ErrUsernameMismatch)
	assert.Equal(t, "Mallory", res.Session.Habbo)

	res, err = e.svc.Verify(ctx, "1", "Alice", true)
	require.NoError(t, err)
	assert.Equal(t, StateStarted, res.State)
	assert.Equal(t, "Alice", res.Session.Habbo)
}

func TestSessionConfirmableUntilSwept(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	res, err := e.svc.Verify(ctx, "1", "Alice", false)
	require.NoError(t, err)
	e.habbo.setMotto("Alice", res.Session.Code)

	e.now = e.now.Add(599 * time.Second)
	n, err := e.tracker.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	res, err = e.svc.Confirm(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, StateVerified, res.State)
}

func TestExpiredSessionIsGone(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.svc.Verify(ctx, "1", "Alice", false)
	require.NoError(t, err)

	e.now = e.now.Add(600 * time.Second)
	_, err = e.tracker.Sweep(ctx)
	require.NoError(t, err)

	_, err = e.svc.Confirm(ctx, "1")
	require.ErrorIs(t, err, ErrNoSession)
}

func TestGetRolesRequiresLinkedName(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.svc.GetRoles(ctx, "1", "Alice", "com")
	require.ErrorIs(t, err, ErrNotVerified)

	_, err = e.profiles.Commit(ctx, "1", "Alice")
	require.NoError(t, err)

	_, err = e.svc.GetRoles(ctx, "1", "Bob", "com")
	require.ErrorIs(t, err, ErrNotLinked)

	out, err := e.svc.GetRoles(ctx, "1", "alice", "com")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Junior", "Donator"}, out.Result.Added)
	assert.Empty(t, out.Result.Removed)
}

func TestUnverifyRevertsRoles(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.profiles.Commit(ctx, "1", "Alice")
	require.NoError(t, err)
	e.guild.members["1"] = map[string]bool{"800": true}

	removed, err := e.svc.Unverify(ctx, "1")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, []string{"801"}, e.guild.held("1"))

	removed, err = e.svc.Unverify(ctx, "1")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestUnverifyDiscardsPendingSession(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.profiles.Commit(ctx, "1", "Alice")
	require.NoError(t, err)
	_, _, err = e.tracker.Start(ctx, "1", "Alice")
	require.NoError(t, err)
	e.guild.members["1"] = map[string]bool{"800": true, "501": true}

	removed, err := e.svc.Unverify(ctx, "1")
	require.NoError(t, err)
	assert.True(t, removed)

	_, err = e.tracker.Get(ctx, "1")
	require.ErrorIs(t, err, sessions.ErrNoSession)
	// policy roles stay until the member is verified again
	assert.Equal(t, []string{"501", "801"}, e.guild.held("1"))

	// a session alone is discarded too, but nothing was unverified
	_, _, err = e.tracker.Start(ctx, "2", "Bob")
	require.NoError(t, err)
	removed, err = e.svc.Unverify(ctx, "2")
	require.NoError(t, err)
	assert.False(t, removed)
	_, err = e.tracker.Get(ctx, "2")
	require.ErrorIs(t, err, sessions.ErrNoSession)
}

func TestMemberJoinedRunsFullPass(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	// unverified member: untouched
	require.NoError(t, e.svc.MemberJoined(ctx, "1"))
	assert.Equal(t, []string{"701", "801"}, e.guild.held("1"))

	_, err := e.profiles.Commit(ctx, "1", "Alice")
	require.NoError(t, err)
	require.NoError(t, e.svc.MemberJoined(ctx, "1"))

	// full mode drops Misc, which Alice's groups do not grant
	assert.Equal(t, []string{"502", "601", "800"}, e.guild.held("1"))
	assert.Equal(t, "Alice", e.guild.nicks["1"])
}
