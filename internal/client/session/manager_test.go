package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/projflow/internal/client/client"
	"github.com/dmitrijs2005/projflow/internal/client/identity"
	"github.com/dmitrijs2005/projflow/internal/client/services"
	"github.com/dmitrijs2005/projflow/internal/client/store"
	"github.com/dmitrijs2005/projflow/internal/common"
	"github.com/dmitrijs2005/projflow/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 3 * time.Second

// ---- fakes ----

type fakeProvider struct {
	mu     sync.Mutex
	user   *identity.User
	subs   map[int]func(*identity.User)
	nextID int

	signInErr error
	signUpErr error
	idpErr    error
	resetErr  error
	deleteErr error
	updateErr error

	signOuts   int
	deletes    int
	tokenCalls int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{subs: map[int]func(*identity.User){}}
}

func (p *fakeProvider) setUser(u *identity.User) {
	p.mu.Lock()
	p.user = u
	subs := make([]func(*identity.User), 0, len(p.subs))
	for _, fn := range p.subs {
		subs = append(subs, fn)
	}
	p.mu.Unlock()

	for _, fn := range subs {
		fn(copyUser(u))
	}
}

func copyUser(u *identity.User) *identity.User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

func (p *fakeProvider) signIn(u identity.User, err error) (*identity.Credential, error) {
	if err != nil {
		return nil, err
	}
	p.setUser(&u)
	return &identity.Credential{User: u, IDToken: "tok-" + u.UID}, nil
}

func (p *fakeProvider) SignIn(_ context.Context, email, _ string) (*identity.Credential, error) {
	return p.signIn(identity.User{UID: "fed-" + email, Email: email}, p.signInErr)
}

func (p *fakeProvider) SignUp(_ context.Context, email, _, name string) (*identity.Credential, error) {
	return p.signIn(identity.User{UID: "fed-" + email, Email: email, DisplayName: name}, p.signUpErr)
}

func (p *fakeProvider) SignInWithCredential(_ context.Context, token string) (*identity.Credential, error) {
	return p.signIn(identity.User{UID: "fed-g@b.com", Email: "g@b.com", EmailVerified: true}, p.idpErr)
}

func (p *fakeProvider) SignOut(context.Context) error {
	p.mu.Lock()
	p.signOuts++
	had := p.user != nil
	p.mu.Unlock()
	if had {
		p.setUser(nil)
	}
	return nil
}

func (p *fakeProvider) ResetPassword(context.Context, string) error { return p.resetErr }

func (p *fakeProvider) IDToken(context.Context, bool) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenCalls++
	if p.user == nil {
		return "", nil
	}
	return "tok-" + p.user.UID, nil
}

func (p *fakeProvider) OnAuthStateChanged(fn func(*identity.User)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.subs[id] = fn
	current := copyUser(p.user)
	p.mu.Unlock()

	fn(current)
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.subs, id)
	}
}

func (p *fakeProvider) UpdateProfile(context.Context, string, string) error { return p.updateErr }

func (p *fakeProvider) DeleteUser(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deletes++
	return p.deleteErr
}

func (p *fakeProvider) counts() (signOuts, deletes, tokens int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.signOuts, p.deletes, p.tokenCalls
}

type fakeSyncer struct {
	calls atomic.Int32
	fn    func(ctx context.Context, u identity.User) string
}

func (f *fakeSyncer) SyncUser(ctx context.Context, u identity.User) string {
	f.calls.Add(1)
	return f.fn(ctx, u)
}

func syncTo(localID string) *fakeSyncer {
	return &fakeSyncer{fn: func(context.Context, identity.User) string { return localID }}
}

type memStore struct {
	mu     sync.Mutex
	snap   *store.Snapshot
	saves  int
	clears int
	err    error
}

func (s *memStore) Save(_ context.Context, snap store.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.err != nil {
		return s.err
	}
	s.snap = &snap
	return nil
}

func (s *memStore) Load(context.Context) (*store.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if s.snap == nil {
		return nil, nil
	}
	c := *s.snap
	return &c, nil
}

func (s *memStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clears++
	s.snap = nil
	return s.err
}

func (s *memStore) current() (*store.Snapshot, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap, s.clears
}

type fakeBackend struct {
	mu        sync.Mutex
	deleteErr error
	deleted   []string
	profile   string
	gets      []string
}

func (b *fakeBackend) Do(ctx context.Context, method, path string, body, out any) error {
	if method == http.MethodDelete {
		return b.Delete(ctx, path, out)
	}
	return nil
}
func (b *fakeBackend) Get(_ context.Context, path string, out any) error {
	b.mu.Lock()
	b.gets = append(b.gets, path)
	profile := b.profile
	b.mu.Unlock()
	if profile == "" || out == nil {
		return nil
	}
	return json.Unmarshal([]byte(profile), out)
}

func (b *fakeBackend) Post(context.Context, string, any, any) error { return nil }
func (b *fakeBackend) Put(context.Context, string, any, any) error  { return nil }
func (b *fakeBackend) Delete(_ context.Context, path string, _ any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleted = append(b.deleted, path)
	return b.deleteErr
}

type fakePush struct {
	mu           sync.Mutex
	registered   []string
	deregistered []string
}

func (p *fakePush) Register(_ context.Context, userID, token string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.registered = append(p.registered, userID+"/"+token)
	return nil
}

func (p *fakePush) Deregister(_ context.Context, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deregistered = append(p.deregistered, userID)
	return nil
}

func (p *fakePush) calls() ([]string, []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.registered...), append([]string(nil), p.deregistered...)
}

type stateLog struct {
	mu     sync.Mutex
	states []State
}

func (l *stateLog) record(s State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, s)
}

func (l *stateLog) phases() []Phase {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Phase, 0, len(l.states))
	for _, s := range l.states {
		out = append(out, s.Phase)
	}
	return out
}

func (l *stateLog) loadingFlips() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	flips := 0
	for i := 1; i < len(l.states); i++ {
		if l.states[i-1].Loading && !l.states[i].Loading {
			flips++
		}
	}
	return flips
}

// ---- harness ----

type harness struct {
	m        *Manager
	provider *fakeProvider
	store    *memStore
	syncer   *fakeSyncer
	backend  *fakeBackend
	push     *fakePush
	log      *stateLog
}

func newHarness(t *testing.T, syncer *fakeSyncer, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		provider: newFakeProvider(),
		store:    &memStore{},
		syncer:   syncer,
		backend:  &fakeBackend{},
		push:     &fakePush{},
		log:      &stateLog{},
	}
	h.m = NewManager(h.provider, h.store, h.syncer, h.backend, append([]Option{WithPush(h.push, "device-1")}, opts...)...)
	t.Cleanup(h.m.Close)
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	h.m.Subscribe(h.log.record)
	require.NoError(t, h.m.Start(context.Background()))
}

func waitPhase(t *testing.T, m *Manager, phase Phase) State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	s, err := m.WaitFor(ctx, func(s State) bool { return s.Phase == phase })
	require.NoError(t, err, "waiting for %s, last phase %s", phase, s.Phase)
	return s
}

// ---- tests ----

func TestManager_StartSignedOut(t *testing.T) {
	h := newHarness(t, syncTo("local-1"))
	h.start(t)

	s := waitPhase(t, h.m, PhaseSignedOut)
	assert.False(t, s.IsAuthenticated)
	assert.False(t, s.Loading)
	assert.Nil(t, s.User)
	assert.Equal(t, []Phase{PhaseInitializing, PhaseSignedOut}, h.log.phases())
	assert.Zero(t, h.syncer.calls.Load())
}

func TestManager_LoginSyncs(t *testing.T) {
	h := newHarness(t, syncTo("local-1"))
	h.start(t)
	waitPhase(t, h.m, PhaseSignedOut)

	res := h.m.Login(context.Background(), "a@b.com", "secret1")
	require.Equal(t, Result{Success: true}, res)

	s := waitPhase(t, h.m, PhaseSignedInSynced)
	require.NotNil(t, s.User)
	assert.True(t, s.IsAuthenticated)
	assert.False(t, s.Loading)
	assert.Equal(t, "local-1", s.User.LocalUserID)
	assert.Equal(t, "fed-a@b.com", s.User.FederatedUserID)
	assert.Equal(t, "a@b.com", s.User.Email)
	assert.Equal(t, "local-1", s.User.ID())

	snap, _ := h.store.current()
	require.NotNil(t, snap)
	assert.Equal(t, "local-1", snap.LocalUserID)

	require.Eventually(t, func() bool {
		reg, _ := h.push.calls()
		return len(reg) == 1 && reg[0] == "local-1/device-1"
	}, waitTimeout, 10*time.Millisecond)
}

func TestManager_SingleTransitionPath(t *testing.T) {
	tests := []struct {
		name   string
		signIn func(m *Manager) Result
	}{
		{"login", func(m *Manager) Result { return m.Login(context.Background(), "a@b.com", "secret1") }},
		{"register", func(m *Manager) Result { return m.Register(context.Background(), "Ann", "a@b.com", "secret1") }},
		{"google", func(m *Manager) Result { return m.SignInWithGoogle(context.Background(), "google-token") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, syncTo("local-1"))
			h.start(t)
			waitPhase(t, h.m, PhaseSignedOut)

			require.True(t, tt.signIn(h.m).Success)
			waitPhase(t, h.m, PhaseSignedInSynced)

			assert.Equal(t, []Phase{
				PhaseInitializing,
				PhaseSignedOut,
				PhaseSignedInSyncing,
				PhaseSignedInSynced,
			}, h.log.phases())
		})
	}
}

func TestManager_DegradedIsNotFatal(t *testing.T) {
	h := newHarness(t, syncTo(""))
	h.start(t)
	waitPhase(t, h.m, PhaseSignedOut)

	res := h.m.Login(context.Background(), "a@b.com", "secret1")
	assert.True(t, res.Success)
	assert.Empty(t, res.Error)

	s := waitPhase(t, h.m, PhaseSignedInDegraded)
	assert.True(t, s.IsAuthenticated)
	require.NotNil(t, s.User)
	assert.Empty(t, s.User.LocalUserID)
	assert.Equal(t, "fed-a@b.com", s.User.ID())

	snap, _ := h.store.current()
	require.NotNil(t, snap)
	assert.Empty(t, snap.LocalUserID)

	reg, _ := h.push.calls()
	assert.Empty(t, reg)
}

func TestManager_StaleSyncDiscarded(t *testing.T) {
	gate := make(chan struct{})
	var returned atomic.Bool
	syncer := &fakeSyncer{fn: func(ctx context.Context, u identity.User) string {
		<-gate
		returned.Store(true)
		return "local-1"
	}}
	h := newHarness(t, syncer)
	h.start(t)
	waitPhase(t, h.m, PhaseSignedOut)

	require.True(t, h.m.Login(context.Background(), "a@b.com", "secret1").Success)
	waitPhase(t, h.m, PhaseSignedInSyncing)

	require.NoError(t, h.m.Logout(context.Background()))
	assert.Equal(t, PhaseSignedOut, h.m.State().Phase)

	close(gate)
	require.Eventually(t, returned.Load, waitTimeout, 5*time.Millisecond)

	assert.Never(t, func() bool {
		return h.m.State().User != nil
	}, 200*time.Millisecond, 10*time.Millisecond)

	s := h.m.State()
	assert.Equal(t, PhaseSignedOut, s.Phase)
	assert.False(t, s.IsAuthenticated)
	snap, _ := h.store.current()
	assert.Nil(t, snap)
}

func TestManager_LogoutIdempotent(t *testing.T) {
	h := newHarness(t, syncTo("local-1"))
	h.start(t)
	waitPhase(t, h.m, PhaseSignedOut)

	_, clearsBefore := h.store.current()

	require.NoError(t, h.m.Logout(context.Background()))
	require.NoError(t, h.m.Logout(context.Background()))

	s := h.m.State()
	assert.Equal(t, PhaseSignedOut, s.Phase)
	assert.False(t, s.IsAuthenticated)
	_, clears := h.store.current()
	assert.GreaterOrEqual(t, clears-clearsBefore, 2, "storage cleared on every logout")
	assert.Equal(t, 1, h.log.loadingFlips())
}

func TestManager_LogoutAfterSync(t *testing.T) {
	h := newHarness(t, syncTo("local-1"))
	h.start(t)
	waitPhase(t, h.m, PhaseSignedOut)
	require.True(t, h.m.Login(context.Background(), "a@b.com", "secret1").Success)
	waitPhase(t, h.m, PhaseSignedInSynced)

	require.NoError(t, h.m.Logout(context.Background()))

	s := h.m.State()
	assert.Equal(t, PhaseSignedOut, s.Phase)
	assert.Nil(t, s.User)
	snap, _ := h.store.current()
	assert.Nil(t, snap)

	signOuts, _, _ := h.provider.counts()
	assert.Equal(t, 1, signOuts)

	_, dereg := h.push.calls()
	assert.Equal(t, []string{"local-1"}, dereg, "released before Logout returns")
	assert.Equal(t, 1, h.log.loadingFlips())
}

// pushBackend records the Authorization header of every push-token call.
type pushBackend struct {
	srv *httptest.Server

	mu    sync.Mutex
	calls []string
}

func newPushBackend(t *testing.T) *pushBackend {
	t.Helper()
	b := &pushBackend{}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case services.DefaultPushPath, DefaultAccountPath:
			b.mu.Lock()
			b.calls = append(b.calls, r.Method+" "+r.URL.Path+" "+r.Header.Get(common.AuthorizationHeaderName))
			b.mu.Unlock()
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *pushBackend) recorded() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

func TestManager_PushReleasedWithCredentials(t *testing.T) {
	const bearer = "Bearer tok-fed-a@b.com"

	signedIn := func(t *testing.T) (*Manager, *pushBackend) {
		b := newPushBackend(t)
		provider := newFakeProvider()
		api := client.NewHTTPClient(b.srv.URL, provider, client.WithHTTPClient(b.srv.Client()))
		m := NewManager(provider, &memStore{}, syncTo("local-1"), api,
			WithPush(services.NewPushRegistrar(api, "cli", logging.Nop()), "device-1"))
		t.Cleanup(m.Close)
		require.NoError(t, m.Start(context.Background()))
		waitPhase(t, m, PhaseSignedOut)

		require.True(t, m.Login(context.Background(), "a@b.com", "secret1").Success)
		waitPhase(t, m, PhaseSignedInSynced)
		require.Eventually(t, func() bool { return len(b.recorded()) == 1 }, waitTimeout, 10*time.Millisecond)
		require.Equal(t, "POST "+services.DefaultPushPath+" "+bearer, b.recorded()[0])
		return m, b
	}

	t.Run("logout", func(t *testing.T) {
		m, b := signedIn(t)

		require.NoError(t, m.Logout(context.Background()))

		assert.Equal(t, []string{
			"POST " + services.DefaultPushPath + " " + bearer,
			"DELETE " + services.DefaultPushPath + " " + bearer,
		}, b.recorded())
		assert.Equal(t, PhaseSignedOut, m.State().Phase)
	})

	t.Run("delete account", func(t *testing.T) {
		m, b := signedIn(t)

		require.True(t, m.DeleteAccount(context.Background()).Success)

		assert.Equal(t, []string{
			"POST " + services.DefaultPushPath + " " + bearer,
			"DELETE " + DefaultAccountPath + " " + bearer,
			"DELETE " + services.DefaultPushPath + " " + bearer,
		}, b.recorded())
		assert.Equal(t, PhaseSignedOut, m.State().Phase)
	})
}

func TestManager_ProviderReportedSignOut(t *testing.T) {
	h := newHarness(t, syncTo("local-1"))
	h.start(t)
	waitPhase(t, h.m, PhaseSignedOut)
	require.True(t, h.m.Login(context.Background(), "a@b.com", "secret1").Success)
	waitPhase(t, h.m, PhaseSignedInSynced)

	h.provider.setUser(nil)

	s := waitPhase(t, h.m, PhaseSignedOut)
	assert.Nil(t, s.User)
	snap, _ := h.store.current()
	assert.Nil(t, snap)

	_, dereg := h.push.calls()
	assert.Empty(t, dereg, "no credentials left to release the token with")
}

func TestManager_LoginFailure(t *testing.T) {
	h := newHarness(t, syncTo("local-1"))
	h.provider.signInErr = identity.ErrInvalidCredentials
	h.start(t)
	waitPhase(t, h.m, PhaseSignedOut)

	res := h.m.Login(context.Background(), "a@b.com", "wrong")

	assert.Equal(t, Result{Error: "Invalid email or password."}, res)
	s := h.m.State()
	assert.Equal(t, PhaseSignedOut, s.Phase)
	assert.Nil(t, s.User)
	assert.Zero(t, h.syncer.calls.Load())
}

func TestManager_ActionErrors(t *testing.T) {
	h := newHarness(t, syncTo("local-1"))
	h.provider.signUpErr = identity.ErrEmailAlreadyInUse
	h.provider.idpErr = identity.ErrAccountExistsWithDifferentCredential
	h.provider.resetErr = identity.ErrUserNotFound
	h.start(t)
	waitPhase(t, h.m, PhaseSignedOut)
	ctx := context.Background()

	assert.Equal(t, "This email is already registered.", h.m.Register(ctx, "Ann", "a@b.com", "secret1").Error)
	assert.Equal(t,
		"An account already exists with this email using a different sign-in method.",
		h.m.SignInWithGoogle(ctx, "tok").Error)
	assert.Equal(t, "No account found with this email.", h.m.ResetPassword(ctx, "x@b.com").Error)

	h.provider.resetErr = errors.New("boom")
	assert.Equal(t, genericFailure, h.m.ResetPassword(ctx, "x@b.com").Error)

	h.provider.resetErr = nil
	assert.Equal(t, Result{Success: true}, h.m.ResetPassword(ctx, "x@b.com"))
	assert.Equal(t, PhaseSignedOut, h.m.State().Phase)
}

func TestManager_DeleteAccount(t *testing.T) {
	signedIn := func(t *testing.T) *harness {
		h := newHarness(t, syncTo("local-1"))
		h.start(t)
		waitPhase(t, h.m, PhaseSignedOut)
		require.True(t, h.m.Login(context.Background(), "a@b.com", "secret1").Success)
		waitPhase(t, h.m, PhaseSignedInSynced)
		return h
	}

	t.Run("backend failure changes nothing", func(t *testing.T) {
		h := signedIn(t)
		h.backend.deleteErr = &client.RequestError{Kind: client.ErrServer, Status: 500, Message: "Could not delete account"}

		res := h.m.DeleteAccount(context.Background())

		assert.Equal(t, Result{Error: "Could not delete account"}, res)
		assert.Equal(t, PhaseSignedInSynced, h.m.State().Phase)
		_, deletes, _ := h.provider.counts()
		assert.Zero(t, deletes)
	})

	t.Run("success", func(t *testing.T) {
		h := signedIn(t)

		res := h.m.DeleteAccount(context.Background())

		assert.True(t, res.Success)
		assert.Equal(t, PhaseSignedOut, h.m.State().Phase)
		assert.Equal(t, []string{DefaultAccountPath}, h.backend.deleted)
		_, deletes, _ := h.provider.counts()
		assert.Equal(t, 1, deletes)
	})

	t.Run("provider failure is not fatal", func(t *testing.T) {
		h := signedIn(t)
		h.provider.deleteErr = identity.ErrSessionExpired

		res := h.m.DeleteAccount(context.Background())

		assert.True(t, res.Success)
		s := h.m.State()
		assert.Equal(t, PhaseSignedOut, s.Phase)
		assert.Nil(t, s.User)
		snap, _ := h.store.current()
		assert.Nil(t, snap)
	})

	t.Run("custom account path", func(t *testing.T) {
		h := newHarness(t, syncTo("local-1"), WithAccountPath("/api/users/me"))
		h.start(t)
		waitPhase(t, h.m, PhaseSignedOut)
		require.True(t, h.m.Login(context.Background(), "a@b.com", "secret1").Success)
		waitPhase(t, h.m, PhaseSignedInSynced)

		require.True(t, h.m.DeleteAccount(context.Background()).Success)
		assert.Equal(t, []string{"/api/users/me"}, h.backend.deleted)
	})

	t.Run("signed out", func(t *testing.T) {
		h := newHarness(t, syncTo("local-1"))
		h.start(t)
		waitPhase(t, h.m, PhaseSignedOut)

		assert.Equal(t, Result{Error: notSignedIn}, h.m.DeleteAccount(context.Background()))
		assert.Empty(t, h.backend.deleted)
	})
}

func TestManager_SeedFromSnapshot(t *testing.T) {
	gate := make(chan string)
	syncer := &fakeSyncer{fn: func(ctx context.Context, u identity.User) string {
		return <-gate
	}}
	h := newHarness(t, syncer)
	h.store.snap = &store.Snapshot{LocalUserID: "local-old", FederatedUserID: "fed-a@b.com", Email: "a@b.com"}
	h.provider.user = &identity.User{UID: "fed-a@b.com", Email: "a@b.com"}

	h.start(t)

	s := waitPhase(t, h.m, PhaseSignedInSyncing)
	require.NotNil(t, s.User)
	assert.Equal(t, "local-old", s.User.LocalUserID, "known local id kept while syncing")

	gate <- "local-new"
	s = waitPhase(t, h.m, PhaseSignedInSynced)
	assert.Equal(t, "local-new", s.User.LocalUserID)
}

func TestManager_SeedIgnoredWhenProviderSignedOut(t *testing.T) {
	h := newHarness(t, syncTo("local-1"))
	h.store.snap = &store.Snapshot{LocalUserID: "local-old", FederatedUserID: "fed-x"}
	h.start(t)

	s := waitPhase(t, h.m, PhaseSignedOut)
	assert.Nil(t, s.User)
	snap, _ := h.store.current()
	assert.Nil(t, snap)
}

func TestManager_StoreFailuresAreSwallowed(t *testing.T) {
	h := newHarness(t, syncTo("local-1"))
	h.store.err = errors.New("disk full")
	h.start(t)
	waitPhase(t, h.m, PhaseSignedOut)

	require.True(t, h.m.Login(context.Background(), "a@b.com", "secret1").Success)
	s := waitPhase(t, h.m, PhaseSignedInSynced)
	assert.Equal(t, "local-1", s.User.LocalUserID)
	require.NoError(t, h.m.Logout(context.Background()))
}

func TestManager_Resync(t *testing.T) {
	var localID atomic.Value
	localID.Store("")
	syncer := &fakeSyncer{fn: func(context.Context, identity.User) string {
		return localID.Load().(string)
	}}
	h := newHarness(t, syncer)
	h.start(t)
	waitPhase(t, h.m, PhaseSignedOut)
	assert.False(t, h.m.Resync(context.Background()), "nothing to resync while signed out")

	require.True(t, h.m.Login(context.Background(), "a@b.com", "secret1").Success)
	waitPhase(t, h.m, PhaseSignedInDegraded)

	assert.True(t, h.m.Resync(context.Background()))
	assert.Never(t, func() bool { return h.m.State().Phase != PhaseSignedInDegraded }, 100*time.Millisecond, 10*time.Millisecond,
		"failed resync keeps degraded")

	localID.Store("local-9")
	assert.True(t, h.m.Resync(context.Background()))
	s := waitPhase(t, h.m, PhaseSignedInSynced)
	assert.Equal(t, "local-9", s.User.LocalUserID)
	snap, _ := h.store.current()
	require.NotNil(t, snap)
	assert.Equal(t, "local-9", snap.LocalUserID)

	calls := h.syncer.calls.Load()
	assert.False(t, h.m.Resync(context.Background()), "synced session is not resynced")
	assert.Equal(t, calls, h.syncer.calls.Load())
	require.Eventually(t, func() bool {
		reg, _ := h.push.calls()
		return len(reg) == 1 && reg[0] == "local-9/device-1"
	}, waitTimeout, 10*time.Millisecond)
}

func TestManager_ProfileRefreshedAfterSync(t *testing.T) {
	t.Run("backend profile applied", func(t *testing.T) {
		h := newHarness(t, syncTo("local-1"))
		h.backend.profile = `{"success":true,"user":{"name":"Ann Server","email":"a@b.com","profile_picture":"https://img/p.png"}}`
		h.start(t)
		waitPhase(t, h.m, PhaseSignedOut)
		require.True(t, h.m.Login(context.Background(), "a@b.com", "secret1").Success)

		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		s, err := h.m.WaitFor(ctx, func(s State) bool {
			return s.User != nil && s.User.PhotoURL == "https://img/p.png"
		})
		require.NoError(t, err)
		assert.Equal(t, "Ann Server", s.User.DisplayName)
		assert.Equal(t, PhaseSignedInSynced, s.Phase)
		assert.Equal(t, "local-1", s.User.LocalUserID)

		require.Eventually(t, func() bool {
			snap, _ := h.store.current()
			return snap != nil && snap.PhotoURL == "https://img/p.png"
		}, waitTimeout, 10*time.Millisecond)
		h.backend.mu.Lock()
		assert.Equal(t, []string{DefaultProfilePath}, h.backend.gets)
		h.backend.mu.Unlock()
	})

	t.Run("unsuccessful response ignored", func(t *testing.T) {
		h := newHarness(t, syncTo("local-1"), WithProfilePath("/api/me"))
		h.backend.profile = `{"success":false}`
		h.start(t)
		waitPhase(t, h.m, PhaseSignedOut)
		require.True(t, h.m.Login(context.Background(), "a@b.com", "secret1").Success)
		waitPhase(t, h.m, PhaseSignedInSynced)

		require.Eventually(t, func() bool {
			h.backend.mu.Lock()
			defer h.backend.mu.Unlock()
			return len(h.backend.gets) == 1 && h.backend.gets[0] == "/api/me"
		}, waitTimeout, 10*time.Millisecond)
		assert.Never(t, func() bool { return h.m.State().User.DisplayName != "" }, 100*time.Millisecond, 10*time.Millisecond)
	})

	t.Run("stale refresh discarded", func(t *testing.T) {
		h := newHarness(t, syncTo("local-1"))
		h.start(t)
		waitPhase(t, h.m, PhaseSignedOut)
		require.True(t, h.m.Login(context.Background(), "a@b.com", "secret1").Success)
		waitPhase(t, h.m, PhaseSignedInSynced)

		h.m.queue.push(profileRefreshed{federatedID: "fed-other", displayName: "Mallory"})
		require.True(t, h.m.UpdateProfile(context.Background(), "", "").Success)
		assert.Empty(t, h.m.State().User.DisplayName)
	})
}

func TestManager_UpdateProfile(t *testing.T) {
	h := newHarness(t, syncTo("local-1"))
	h.start(t)
	waitPhase(t, h.m, PhaseSignedOut)
	assert.Equal(t, notSignedIn, h.m.UpdateProfile(context.Background(), "Ann", "").Error)

	require.True(t, h.m.Login(context.Background(), "a@b.com", "secret1").Success)
	waitPhase(t, h.m, PhaseSignedInSynced)

	require.True(t, h.m.UpdateProfile(context.Background(), "Annie", "https://img/a.png").Success)
	s := h.m.State()
	assert.Equal(t, "Annie", s.User.DisplayName)
	assert.Equal(t, "https://img/a.png", s.User.PhotoURL)
	assert.Equal(t, PhaseSignedInSynced, s.Phase)
	snap, _ := h.store.current()
	assert.Equal(t, "Annie", snap.DisplayName)

	h.provider.updateErr = identity.ErrSessionExpired
	assert.Equal(t, "Your session has expired. Please sign in again.",
		h.m.UpdateProfile(context.Background(), "X", "").Error)
}

func TestManager_NotStarted(t *testing.T) {
	m := NewManager(newFakeProvider(), nil, syncTo(""), &fakeBackend{})
	defer m.Close()

	assert.ErrorIs(t, m.Logout(context.Background()), ErrNotStarted)
	assert.False(t, m.Resync(context.Background()))

	s := m.State()
	assert.True(t, s.Loading)
	assert.Equal(t, PhaseInitializing, s.Phase)

	require.NoError(t, m.Start(context.Background()))
	assert.ErrorIs(t, m.Start(context.Background()), ErrAlreadyStarted)
}

func TestManager_TokenFreshness(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	h := newHarness(t, syncTo("local-1"))
	h.start(t)
	require.True(t, h.m.Login(context.Background(), "a@b.com", "secret1").Success)
	waitPhase(t, h.m, PhaseSignedInSynced)

	_, _, before := h.provider.counts()
	api := client.NewHTTPClient(srv.URL, h.m, client.WithHTTPClient(srv.Client()))
	require.NoError(t, api.Get(context.Background(), "/api/projects", nil))
	require.NoError(t, api.Get(context.Background(), "/api/projects", nil))

	_, _, after := h.provider.counts()
	assert.Equal(t, 2, after-before)
}

// The backend is down for the first two sync calls and then answers; the
// session ends synced after one retry cycle.
func TestManager_LoginWhileBackendStarting(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != services.DefaultSyncPath {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"local_user_id":"local-77"}`))
	}))
	defer srv.Close()

	provider := newFakeProvider()
	api := client.NewHTTPClient(srv.URL, provider)
	syncer := services.NewUserSync(api, services.WithRetryDelays([]time.Duration{
		10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond,
	}))
	m := NewManager(provider, &memStore{}, syncer, api)
	defer m.Close()
	require.NoError(t, m.Start(context.Background()))

	start := time.Now()
	require.True(t, m.Login(context.Background(), "a@b.com", "secret1").Success)

	s := waitPhase(t, m, PhaseSignedInSynced)
	assert.Less(t, time.Since(start), waitTimeout)
	assert.True(t, s.IsAuthenticated)
	assert.False(t, s.Loading)
	assert.Equal(t, "a@b.com", s.User.Email)
	assert.Equal(t, "local-77", s.User.LocalUserID)
	assert.EqualValues(t, 3, calls.Load())
}

func TestPhase(t *testing.T) {
	tests := []struct {
		phase    Phase
		name     string
		signedIn bool
	}{
		{PhaseInitializing, "initializing", false},
		{PhaseSignedOut, "signed_out", false},
		{PhaseSignedInSyncing, "signed_in_syncing", true},
		{PhaseSignedInSynced, "signed_in_synced", true},
		{PhaseSignedInDegraded, "signed_in_degraded", true},
		{Phase(42), "unknown", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.name, tt.phase.String())
		assert.Equal(t, tt.signedIn, tt.phase.SignedIn(), tt.name)
	}
}
