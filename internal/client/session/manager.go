package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dmitrijs2005/projflow/internal/client/client"
	"github.com/dmitrijs2005/projflow/internal/client/identity"
	"github.com/dmitrijs2005/projflow/internal/client/store"
	"github.com/dmitrijs2005/projflow/internal/logging"
)

const (
	DefaultAccountPath       = "/api/account"
	DefaultProfilePath       = "/api/profile"
	DefaultBackgroundTimeout = 15 * time.Second

	genericFailure = "An error occurred."
	notSignedIn    = "You are not signed in."
)

var (
	ErrNotStarted     = errors.New("session manager not started")
	ErrAlreadyStarted = errors.New("session manager already started")
)

// Store persists the session snapshot.
type Store interface {
	Save(ctx context.Context, snap store.Snapshot) error
	Load(ctx context.Context) (*store.Snapshot, error)
	Clear(ctx context.Context) error
}

// Syncer resolves the backend's local user id; "" means it could not.
type Syncer interface {
	SyncUser(ctx context.Context, u identity.User) string
}

// PushRegistrar links the device push token to a local user.
type PushRegistrar interface {
	Register(ctx context.Context, userID, deviceToken string) error
	Deregister(ctx context.Context, userID string) error
}

type event interface{}

type authChanged struct {
	user *identity.User
}

type syncDone struct {
	seq         uint64
	federatedID string
	localID     string
}

type signOutRequest struct {
	ack chan struct{}
}

type resyncRequest struct {
	ack chan bool
}

type profileUpdated struct {
	displayName string
	photoURL    string
	ack         chan struct{}
}

type profileRefreshed struct {
	federatedID string
	displayName string
	photoURL    string
}

// profileResponse is the backend's view of the signed-in user.
type profileResponse struct {
	Success bool `json:"success"`
	User    *struct {
		Name           string `json:"name"`
		Email          string `json:"email"`
		ProfilePicture string `json:"profile_picture"`
	} `json:"user"`
}

type subscriber struct {
	id int
	fn func(State)
}

// Manager orchestrates provider sign-in, backend sync and persistence.
type Manager struct {
	provider identity.Provider
	store    Store
	syncer   Syncer
	backend  client.Client
	push     PushRegistrar
	log      logging.Logger

	deviceToken       string
	accountPath       string
	profilePath       string
	backgroundTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	queue  *queue
	done   chan struct{}
	wg     sync.WaitGroup

	lifecycleMu         sync.Mutex
	started             bool
	closed              bool
	unsubscribeProvider func()

	mu    sync.Mutex
	state State

	// syncSeq identifies the newest sync; touched only by the loop.
	syncSeq uint64

	// notifyMu serializes deliveries and guards subs.
	notifyMu  sync.Mutex
	subs      []subscriber
	nextSubID int
}

type Option func(*Manager)

func WithLogger(l logging.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithPush enables push token registration for deviceToken.
func WithPush(p PushRegistrar, deviceToken string) Option {
	return func(m *Manager) {
		m.push = p
		m.deviceToken = deviceToken
	}
}

func WithAccountPath(path string) Option {
	return func(m *Manager) { m.accountPath = path }
}

// WithProfilePath sets the backend route read after each successful sync to
// pick up profile changes made on other devices.
func WithProfilePath(path string) Option {
	return func(m *Manager) { m.profilePath = path }
}

// WithBackgroundTimeout bounds fire-and-forget calls such as push
// registration.
func WithBackgroundTimeout(d time.Duration) Option {
	return func(m *Manager) { m.backgroundTimeout = d }
}

func NewManager(provider identity.Provider, st Store, syncer Syncer, backend client.Client, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		provider:          provider,
		store:             st,
		syncer:            syncer,
		backend:           backend,
		log:               logging.Nop(),
		accountPath:       DefaultAccountPath,
		profilePath:       DefaultProfilePath,
		backgroundTimeout: DefaultBackgroundTimeout,
		ctx:               ctx,
		cancel:            cancel,
		queue:             newQueue(),
		done:              make(chan struct{}),
		state:             State{Loading: true, Phase: PhaseInitializing},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.store == nil {
		m.store = nopStore{}
	}
	m.log = m.log.With("component", "session")
	return m
}

// Start seeds the session from the stored snapshot, subscribes to the
// provider and starts the event loop. The seeded user stays
// unauthenticated until the provider confirms it.
func (m *Manager) Start(ctx context.Context) error {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()
	if m.started {
		return ErrAlreadyStarted
	}
	m.started = true

	snap, err := m.store.Load(ctx)
	if err != nil {
		m.log.Warn(ctx, "could not load session snapshot", "error", err)
	}
	if snap != nil {
		seed := sessionFromSnapshot(*snap)
		m.mu.Lock()
		m.state.User = &seed
		m.mu.Unlock()
		m.log.Debug(ctx, "session seeded from snapshot", "uid", seed.FederatedUserID)
	}

	m.wg.Add(1)
	go m.run()

	m.unsubscribeProvider = m.provider.OnAuthStateChanged(func(u *identity.User) {
		m.queue.push(authChanged{user: u})
	})
	return nil
}

// Close stops the loop and waits for background work.
func (m *Manager) Close() {
	m.lifecycleMu.Lock()
	if m.closed {
		m.lifecycleMu.Unlock()
		return
	}
	m.closed = true
	started := m.started
	unsubscribe := m.unsubscribeProvider
	m.lifecycleMu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	m.cancel()
	if started {
		close(m.done)
	}
	m.wg.Wait()
}

// State returns a copy of the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

// Subscribe registers fn and delivers the current state immediately. fn
// runs on the event loop and must not call blocking Manager methods.
func (m *Manager) Subscribe(fn func(State)) func() {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	id := m.nextSubID
	m.nextSubID++
	m.subs = append(m.subs, subscriber{id: id, fn: fn})
	fn(m.State())

	var once sync.Once
	return func() {
		once.Do(func() {
			m.notifyMu.Lock()
			defer m.notifyMu.Unlock()
			for i, s := range m.subs {
				if s.id == id {
					m.subs = append(m.subs[:i], m.subs[i+1:]...)
					break
				}
			}
		})
	}
}

// WaitFor blocks until the state satisfies pred or ctx is done.
func (m *Manager) WaitFor(ctx context.Context, pred func(State) bool) (State, error) {
	ch := make(chan State, 1)
	unsubscribe := m.Subscribe(func(s State) {
		if pred(s) {
			select {
			case ch <- s:
			default:
			}
		}
	})
	defer unsubscribe()

	select {
	case s := <-ch:
		return s, nil
	case <-ctx.Done():
		return m.State(), ctx.Err()
	}
}

func (m *Manager) Login(ctx context.Context, email, password string) Result {
	if _, err := m.provider.SignIn(ctx, email, password); err != nil {
		return m.failure(ctx, "login failed", err)
	}
	return Result{Success: true}
}

func (m *Manager) Register(ctx context.Context, name, email, password string) Result {
	if _, err := m.provider.SignUp(ctx, email, password, name); err != nil {
		return m.failure(ctx, "registration failed", err)
	}
	return Result{Success: true}
}

func (m *Manager) SignInWithGoogle(ctx context.Context, googleIDToken string) Result {
	if _, err := m.provider.SignInWithCredential(ctx, googleIDToken); err != nil {
		return m.failure(ctx, "google sign-in failed", err)
	}
	return Result{Success: true}
}

func (m *Manager) ResetPassword(ctx context.Context, email string) Result {
	if err := m.provider.ResetPassword(ctx, email); err != nil {
		return m.failure(ctx, "password reset failed", err)
	}
	return Result{Success: true}
}

// Logout releases the device push token, signs out of the provider and
// clears the session and its snapshot. Calling it while signed out is a
// no-op apart from clearing storage again.
func (m *Manager) Logout(ctx context.Context) error {
	m.releasePush(ctx)
	if err := m.provider.SignOut(ctx); err != nil {
		m.log.Warn(ctx, "provider sign-out failed", "error", err)
	}
	return m.signOutLocal(ctx)
}

// DeleteAccount deletes the backend account, then the provider account.
// Once the backend has deleted the user the local session is cleared even
// if the provider call fails.
func (m *Manager) DeleteAccount(ctx context.Context) Result {
	if !m.State().IsAuthenticated {
		return Result{Error: notSignedIn}
	}

	if err := m.backend.Delete(ctx, m.accountPath, nil); err != nil {
		return m.failure(ctx, "backend account deletion failed", err)
	}
	m.log.Info(ctx, "backend account deleted")

	m.releasePush(ctx)
	if err := m.provider.DeleteUser(ctx); err != nil {
		m.log.Warn(ctx, "provider account deletion failed", "error", err)
	}
	if err := m.provider.SignOut(ctx); err != nil {
		m.log.Warn(ctx, "provider sign-out failed", "error", err)
	}
	if err := m.signOutLocal(ctx); err != nil {
		m.log.Warn(ctx, "local sign-out did not complete", "error", err)
	}
	return Result{Success: true}
}

func (m *Manager) IDToken(ctx context.Context, forceRefresh bool) (string, error) {
	return m.provider.IDToken(ctx, forceRefresh)
}

// UpdateProfile changes the provider profile and mirrors it into the
// session and snapshot.
func (m *Manager) UpdateProfile(ctx context.Context, displayName, photoURL string) Result {
	if !m.State().IsAuthenticated {
		return Result{Error: notSignedIn}
	}
	if err := m.provider.UpdateProfile(ctx, displayName, photoURL); err != nil {
		return m.failure(ctx, "profile update failed", err)
	}

	ack := make(chan struct{})
	if err := m.send(ctx, profileUpdated{displayName: displayName, photoURL: photoURL, ack: ack}, ack); err != nil {
		return m.failure(ctx, "profile update not applied", err)
	}
	return Result{Success: true}
}

// Resync retries the backend sync for a degraded session. It reports
// whether a sync was started.
func (m *Manager) Resync(ctx context.Context) bool {
	if !m.running() {
		return false
	}
	ack := make(chan bool, 1)
	m.queue.push(resyncRequest{ack: ack})
	select {
	case started := <-ack:
		return started
	case <-ctx.Done():
		return false
	case <-m.done:
		return false
	}
}

// releasePush deregisters the device token while the provider can still
// authenticate the request. Failures are logged.
func (m *Manager) releasePush(ctx context.Context) {
	if m.push == nil || m.deviceToken == "" {
		return
	}
	cur := m.State()
	if !cur.Phase.SignedIn() || cur.User == nil || cur.User.LocalUserID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, m.backgroundTimeout)
	defer cancel()
	if err := m.push.Deregister(ctx, cur.User.LocalUserID); err != nil {
		m.log.Warn(ctx, "push deregistration failed", "local_user_id", cur.User.LocalUserID, "error", err)
	}
}

func (m *Manager) signOutLocal(ctx context.Context) error {
	ack := make(chan struct{})
	return m.send(ctx, signOutRequest{ack: ack}, ack)
}

// send enqueues ev and waits until the loop closes ack.
func (m *Manager) send(ctx context.Context, ev event, ack chan struct{}) error {
	if !m.running() {
		return ErrNotStarted
	}
	m.queue.push(ev)
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return ErrNotStarted
	}
}

func (m *Manager) running() bool {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()
	return m.started && !m.closed
}

func (m *Manager) failure(ctx context.Context, msg string, err error) Result {
	m.log.Warn(ctx, msg, "error", err)
	return Result{Error: userMessage(err)}
}

// userMessage picks the display text carried by err.
func userMessage(err error) string {
	var authErr *identity.AuthError
	if errors.As(err, &authErr) {
		return authErr.Error()
	}
	var reqErr *client.RequestError
	if errors.As(err, &reqErr) && reqErr.Message != "" {
		return reqErr.Message
	}
	return genericFailure
}

func (m *Manager) run() {
	defer m.wg.Done()
	for {
		select {
		case <-m.done:
			return
		case <-m.queue.signal:
		}
		for {
			ev, ok := m.queue.pop()
			if !ok {
				break
			}
			m.handle(ev)
		}
	}
}

func (m *Manager) handle(ev event) {
	switch e := ev.(type) {
	case authChanged:
		if e.user == nil {
			m.toSignedOut("provider reported sign-out")
			return
		}
		m.toSyncing(*e.user)
	case syncDone:
		m.applySync(e)
	case signOutRequest:
		m.toSignedOut("sign-out requested")
		close(e.ack)
	case resyncRequest:
		e.ack <- m.resync()
	case profileUpdated:
		m.applyProfile(e.displayName, e.photoURL)
		close(e.ack)
	case profileRefreshed:
		m.applyRefreshedProfile(e)
	}
}

func (m *Manager) toSyncing(u identity.User) {
	sess := sessionFromUser(u)
	prev := m.State()
	if prev.User != nil && prev.User.FederatedUserID == u.UID {
		sess.LocalUserID = prev.User.LocalUserID
	}

	m.setState(State{User: &sess, IsAuthenticated: true, Phase: PhaseSignedInSyncing})
	m.persist(sess)
	m.log.Info(m.ctx, "signed in, syncing with backend", "uid", u.UID)
	m.startSync(u)
}

func (m *Manager) startSync(u identity.User) {
	m.syncSeq++
	seq := m.syncSeq

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		localID := m.syncer.SyncUser(m.ctx, u)
		m.queue.push(syncDone{seq: seq, federatedID: u.UID, localID: localID})
	}()
}

func (m *Manager) applySync(e syncDone) {
	cur := m.State()
	if e.seq != m.syncSeq || cur.User == nil || cur.User.FederatedUserID != e.federatedID {
		m.log.Debug(m.ctx, "discarding stale sync result", "uid", e.federatedID)
		return
	}

	sess := *cur.User
	if e.localID == "" {
		if cur.Phase != PhaseSignedInSyncing {
			m.log.Info(m.ctx, "resync failed, keeping current state", "uid", e.federatedID, "phase", cur.Phase.String())
			return
		}
		sess.LocalUserID = ""
		m.setState(State{User: &sess, IsAuthenticated: true, Phase: PhaseSignedInDegraded})
		m.persist(sess)
		m.log.Warn(m.ctx, "backend sync unavailable, continuing in degraded mode", "uid", e.federatedID)
		return
	}

	sess.LocalUserID = e.localID
	m.setState(State{User: &sess, IsAuthenticated: true, Phase: PhaseSignedInSynced})
	m.persist(sess)
	m.log.Info(m.ctx, "session synced", "uid", e.federatedID, "local_user_id", e.localID)

	if cur.Phase != PhaseSignedInSynced || cur.User.LocalUserID != e.localID {
		m.registerPush(e.localID)
		m.refreshProfile(e.federatedID)
	}
}

// resync only leaves Degraded; a synced session already has its local id.
func (m *Manager) resync() bool {
	cur := m.State()
	if cur.User == nil || cur.Phase != PhaseSignedInDegraded {
		return false
	}
	m.log.Info(m.ctx, "resyncing session", "uid", cur.User.FederatedUserID, "phase", cur.Phase.String())
	m.startSync(identity.User{
		UID:           cur.User.FederatedUserID,
		Email:         cur.User.Email,
		DisplayName:   cur.User.DisplayName,
		PhotoURL:      cur.User.PhotoURL,
		EmailVerified: cur.User.EmailVerified,
	})
	return true
}

func (m *Manager) toSignedOut(reason string) {
	prev := m.State()

	// Invalidates any sync still in flight.
	m.syncSeq++

	m.setState(State{Phase: PhaseSignedOut})
	if err := m.store.Clear(m.ctx); err != nil {
		m.log.Warn(m.ctx, "could not clear session snapshot", "error", err)
	}

	if prev.User != nil {
		m.log.Info(m.ctx, "signed out", "uid", prev.User.FederatedUserID, "reason", reason)
	}
}

func (m *Manager) applyProfile(displayName, photoURL string) {
	cur := m.State()
	if cur.User == nil {
		return
	}
	sess := *cur.User
	if displayName != "" {
		sess.DisplayName = displayName
	}
	if photoURL != "" {
		sess.PhotoURL = photoURL
	}
	cur.User = &sess
	m.setState(cur)
	m.persist(sess)
}

// applyRefreshedProfile takes the backend's name and picture when they
// differ from the session.
func (m *Manager) applyRefreshedProfile(e profileRefreshed) {
	cur := m.State()
	if cur.User == nil || cur.User.FederatedUserID != e.federatedID {
		m.log.Debug(m.ctx, "discarding stale profile refresh", "uid", e.federatedID)
		return
	}
	sess := *cur.User
	if e.displayName != "" {
		sess.DisplayName = e.displayName
	}
	if e.photoURL != "" {
		sess.PhotoURL = e.photoURL
	}
	if sess == *cur.User {
		return
	}
	cur.User = &sess
	m.setState(cur)
	m.persist(sess)
	m.log.Info(m.ctx, "profile refreshed from backend", "uid", e.federatedID)
}

func (m *Manager) setState(next State) {
	m.mu.Lock()
	if m.state.equal(next) {
		m.mu.Unlock()
		return
	}
	m.state = next.clone()
	m.mu.Unlock()

	m.publish()
}

func (m *Manager) publish() {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	st := m.State()
	for _, s := range m.subs {
		s.fn(st.clone())
	}
}

func (m *Manager) persist(sess Session) {
	if err := m.store.Save(m.ctx, sess.snapshot()); err != nil {
		m.log.Warn(m.ctx, "could not persist session snapshot", "uid", sess.FederatedUserID, "error", err)
	}
}

func (m *Manager) registerPush(localID string) {
	if m.push == nil || m.deviceToken == "" {
		return
	}
	m.background("push registration", func(ctx context.Context) error {
		return m.push.Register(ctx, localID, m.deviceToken)
	})
}

func (m *Manager) refreshProfile(federatedID string) {
	if m.backend == nil || m.profilePath == "" {
		return
	}
	m.background("profile refresh", func(ctx context.Context) error {
		var resp profileResponse
		if err := m.backend.Get(ctx, m.profilePath, &resp); err != nil {
			return err
		}
		if !resp.Success || resp.User == nil {
			return nil
		}
		m.queue.push(profileRefreshed{
			federatedID: federatedID,
			displayName: resp.User.Name,
			photoURL:    resp.User.ProfilePicture,
		})
		return nil
	})
}

// background runs fn without blocking the loop; failures are only logged.
func (m *Manager) background(name string, fn func(ctx context.Context) error) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(m.ctx, m.backgroundTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			m.log.Warn(ctx, name+" failed", "error", err)
		}
	}()
}

type nopStore struct{}

func (nopStore) Save(context.Context, store.Snapshot) error    { return nil }
func (nopStore) Load(context.Context) (*store.Snapshot, error) { return nil, nil }
func (nopStore) Clear(context.Context) error                   { return nil }
