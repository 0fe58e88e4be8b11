package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/projflow/internal/common"
	"github.com/dmitrijs2005/projflow/internal/logging"
	"golang.org/x/oauth2"
)

const (
	DefaultIdentityBaseURL = "https://identitytoolkit.googleapis.com"
	DefaultSecureTokenURL  = "https://securetoken.googleapis.com/v1/token"

	defaultTokenLifetime = time.Hour
	verificationTimeout  = 15 * time.Second
)

// FirebaseConfig locates the Identity Toolkit and Secure Token endpoints.
type FirebaseConfig struct {
	APIKey          string
	IdentityBaseURL string
	SecureTokenURL  string
	Timeout         time.Duration
}

// FirebaseProvider implements Provider over the Identity Toolkit REST API.
// It is safe for concurrent use.
type FirebaseProvider struct {
	cfg   FirebaseConfig
	http  *http.Client
	oauth *oauth2.Config
	store CredentialStore
	log   logging.Logger

	mu           sync.Mutex
	user         *User
	refreshToken string
	lastIDToken  string
	tokens       oauth2.TokenSource

	// emitMu serializes deliveries and guards the subscriber list.
	emitMu    sync.Mutex
	subs      []subscriber
	nextSubID int
	emitted   bool
	lastUID   string

	// ctx bounds side requests that outlive the call that started them.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type subscriber struct {
	id int
	fn func(*User)
}

type Option func(*FirebaseProvider)

func WithHTTPClient(c *http.Client) Option {
	return func(p *FirebaseProvider) { p.http = c }
}

func WithLogger(l logging.Logger) Option {
	return func(p *FirebaseProvider) { p.log = l }
}

// NewFirebaseProvider builds a provider. A nil store disables persistence
// of the provider session.
func NewFirebaseProvider(cfg FirebaseConfig, store CredentialStore, opts ...Option) *FirebaseProvider {
	if cfg.IdentityBaseURL == "" {
		cfg.IdentityBaseURL = DefaultIdentityBaseURL
	}
	if cfg.SecureTokenURL == "" {
		cfg.SecureTokenURL = DefaultSecureTokenURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if store == nil {
		store = nopCredentialStore{}
	}

	p := &FirebaseProvider{
		cfg:   cfg,
		http:  &http.Client{Timeout: cfg.Timeout},
		store: store,
		log:   logging.Nop(),
		oauth: &oauth2.Config{
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.SecureTokenURL + "?key=" + url.QueryEscape(cfg.APIKey),
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.With("component", "identity")
	p.ctx, p.cancel = context.WithCancel(context.Background())
	return p
}

// Close cancels pending side requests such as the verification email and
// waits for them to finish.
func (p *FirebaseProvider) Close() error {
	p.cancel()
	p.wg.Wait()
	return nil
}

// authResponse covers the fields of every accounts:* response we read.
type authResponse struct {
	LocalID          string      `json:"localId"`
	Email            string      `json:"email"`
	DisplayName      string      `json:"displayName"`
	PhotoURL         string      `json:"photoUrl"`
	EmailVerified    bool        `json:"emailVerified"`
	IDToken          string      `json:"idToken"`
	RefreshToken     string      `json:"refreshToken"`
	ExpiresIn        json.Number `json:"expiresIn"`
	NeedConfirmation bool        `json:"needConfirmation"`
	ErrorMessage     string      `json:"errorMessage"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Restore re-hydrates a provider session saved by a previous run. The
// stored ID token is reused until it nears expiry; a refresh rejected by
// the provider later signs the user out.
func (p *FirebaseProvider) Restore(ctx context.Context) error {
	creds, err := p.store.LoadCredentials(ctx)
	if err != nil {
		return fmt.Errorf("load provider credentials: %w", err)
	}
	if creds == nil || creds.RefreshToken == "" {
		return nil
	}

	p.mu.Lock()
	p.setSessionLocked(creds.User, &oauth2.Token{
		AccessToken:  creds.IDToken,
		TokenType:    "Bearer",
		RefreshToken: creds.RefreshToken,
		Expiry:       creds.Expiry,
	})
	p.mu.Unlock()

	p.log.Info(ctx, "restored provider session", "uid", creds.User.UID)
	p.notify()
	return nil
}

func (p *FirebaseProvider) SignIn(ctx context.Context, email, password string) (*Credential, error) {
	var resp authResponse
	err := p.call(ctx, opSignIn, "signInWithPassword", map[string]any{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	}, &resp)
	if err != nil {
		return nil, err
	}

	return p.establish(ctx, resp, User{
		UID:         resp.LocalID,
		Email:       resp.Email,
		DisplayName: resp.DisplayName,
	}), nil
}

func (p *FirebaseProvider) SignUp(ctx context.Context, email, password, displayName string) (*Credential, error) {
	var created authResponse
	err := p.call(ctx, opSignUp, "signUp", map[string]any{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	}, &created)
	if err != nil {
		return nil, err
	}

	session := created
	if displayName != "" {
		var updated authResponse
		err := p.call(ctx, opAccount, "update", map[string]any{
			"idToken":           created.IDToken,
			"displayName":       displayName,
			"returnSecureToken": true,
		}, &updated)
		if err != nil {
			p.log.Warn(ctx, "could not set display name", "uid", created.LocalID, "error", err)
		} else if updated.IDToken != "" {
			session.IDToken = updated.IDToken
			session.RefreshToken = updated.RefreshToken
			session.ExpiresIn = updated.ExpiresIn
		}
	}

	cred := p.establish(ctx, session, User{
		UID:         created.LocalID,
		Email:       created.Email,
		DisplayName: displayName,
	})

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.sendVerification(session.IDToken, created.LocalID)
	}()

	return cred, nil
}

// sendVerification requests the verification email. Failure never affects
// sign-up.
func (p *FirebaseProvider) sendVerification(idToken, uid string) {
	ctx, cancel := context.WithTimeout(p.ctx, verificationTimeout)
	defer cancel()

	err := p.call(ctx, opAccount, "sendOobCode", map[string]any{
		"requestType": "VERIFY_EMAIL",
		"idToken":     idToken,
	}, nil)
	if err != nil {
		p.log.Warn(ctx, "could not send verification email", "uid", uid, "error", err)
	}
}

func (p *FirebaseProvider) SignInWithCredential(ctx context.Context, googleIDToken string) (*Credential, error) {
	var resp authResponse
	err := p.call(ctx, opFederated, "signInWithIdp", map[string]any{
		"postBody":            "id_token=" + url.QueryEscape(googleIDToken) + "&providerId=google.com",
		"requestUri":          "http://localhost",
		"returnIdpCredential": true,
		"returnSecureToken":   true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.NeedConfirmation {
		return nil, ErrAccountExistsWithDifferentCredential
	}
	if resp.ErrorMessage != "" {
		return nil, mapProviderError(opFederated, resp.ErrorMessage)
	}

	// Google only issues tokens for verified addresses.
	return p.establish(ctx, resp, User{
		UID:           resp.LocalID,
		Email:         resp.Email,
		DisplayName:   resp.DisplayName,
		PhotoURL:      resp.PhotoURL,
		EmailVerified: true,
	}), nil
}

// SignOut drops the local provider session. It is idempotent and always
// clears persisted credentials.
func (p *FirebaseProvider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	had := p.user != nil
	p.clearSessionLocked()
	p.mu.Unlock()

	if err := p.store.ClearCredentials(ctx); err != nil {
		p.log.Warn(ctx, "could not clear provider credentials", "error", err)
	}
	if had {
		p.notify()
	}
	return nil
}

func (p *FirebaseProvider) ResetPassword(ctx context.Context, email string) error {
	return p.call(ctx, opReset, "sendOobCode", map[string]any{
		"requestType": "PASSWORD_RESET",
		"email":       email,
	}, nil)
}

// IDToken returns "" with no error when signed out.
func (p *FirebaseProvider) IDToken(ctx context.Context, forceRefresh bool) (string, error) {
	p.mu.Lock()
	if p.tokens == nil {
		p.mu.Unlock()
		return "", nil
	}
	if forceRefresh {
		p.tokens = p.oauth.TokenSource(p.httpContext(), &oauth2.Token{RefreshToken: p.refreshToken})
	}
	src := p.tokens
	uid := p.user.UID
	p.mu.Unlock()

	tok, err := src.Token()
	if err != nil {
		authErr := refreshError(err)
		if IsSessionInvalid(authErr) {
			p.log.Warn(ctx, "provider rejected session, signing out", "uid", uid, "code", authErr.ProviderCode)
			p.dropSession(ctx, uid)
		}
		return "", authErr
	}

	idToken := idTokenOf(tok)

	p.mu.Lock()
	var snapshot *User
	if p.user != nil && p.user.UID == uid && idToken != p.lastIDToken {
		p.lastIDToken = idToken
		if tok.RefreshToken != "" {
			p.refreshToken = tok.RefreshToken
		}
		u := *p.user
		snapshot = &u
	}
	p.mu.Unlock()

	if snapshot != nil {
		p.log.Debug(ctx, "identity token refreshed", "uid", uid, "expiry", tok.Expiry)
		p.persist(ctx, *snapshot, tok)
	}
	return idToken, nil
}

// OnAuthStateChanged registers fn and immediately delivers the current
// user. fn must not call back into the subscription API.
func (p *FirebaseProvider) OnAuthStateChanged(fn func(*User)) func() {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	id := p.nextSubID
	p.nextSubID++
	p.subs = append(p.subs, subscriber{id: id, fn: fn})

	current := p.CurrentUser()
	if !p.emitted {
		p.emitted = true
		p.lastUID = uidOf(current)
	}
	fn(current)

	var once sync.Once
	return func() {
		once.Do(func() {
			p.emitMu.Lock()
			defer p.emitMu.Unlock()
			for i, s := range p.subs {
				if s.id == id {
					p.subs = append(p.subs[:i], p.subs[i+1:]...)
					break
				}
			}
		})
	}
}

func (p *FirebaseProvider) UpdateProfile(ctx context.Context, displayName, photoURL string) error {
	idToken, err := p.IDToken(ctx, false)
	if err != nil {
		return err
	}
	if idToken == "" {
		return common.ErrNotSignedIn
	}

	req := map[string]any{"idToken": idToken, "returnSecureToken": true}
	if displayName != "" {
		req["displayName"] = displayName
	}
	if photoURL != "" {
		req["photoUrl"] = photoURL
	}

	var resp authResponse
	if err := p.call(ctx, opAccount, "update", req, &resp); err != nil {
		return err
	}

	p.mu.Lock()
	if p.user == nil {
		p.mu.Unlock()
		return common.ErrNotSignedIn
	}
	if displayName != "" {
		p.user.DisplayName = displayName
	}
	if photoURL != "" {
		p.user.PhotoURL = photoURL
	}
	u := *p.user
	tok := &oauth2.Token{AccessToken: idToken, RefreshToken: p.refreshToken}
	if resp.IDToken != "" {
		tok = tokenFromResponse(resp)
		p.setSessionLocked(u, tok)
	}
	p.mu.Unlock()

	p.persist(ctx, u, tok)
	return nil
}

func (p *FirebaseProvider) DeleteUser(ctx context.Context) error {
	idToken, err := p.IDToken(ctx, false)
	if err != nil {
		return err
	}
	if idToken == "" {
		return common.ErrNotSignedIn
	}

	uid := uidOf(p.CurrentUser())
	if err := p.call(ctx, opAccount, "delete", map[string]any{"idToken": idToken}, nil); err != nil {
		return err
	}

	p.log.Info(ctx, "provider account deleted", "uid", uid)
	p.dropSession(ctx, uid)
	return nil
}

// CurrentUser returns a copy of the signed-in user or nil.
func (p *FirebaseProvider) CurrentUser() *User {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.user == nil {
		return nil
	}
	u := *p.user
	return &u
}

func (p *FirebaseProvider) establish(ctx context.Context, resp authResponse, u User) *Credential {
	tok := tokenFromResponse(resp)
	u = userFromToken(resp.IDToken, u)

	p.mu.Lock()
	p.setSessionLocked(u, tok)
	p.mu.Unlock()

	p.persist(ctx, u, tok)
	p.log.Info(ctx, "signed in", "uid", u.UID)
	p.notify()

	return &Credential{User: u, IDToken: resp.IDToken}
}

func (p *FirebaseProvider) setSessionLocked(u User, tok *oauth2.Token) {
	p.user = &u
	p.refreshToken = tok.RefreshToken
	p.lastIDToken = tok.AccessToken
	p.tokens = p.oauth.TokenSource(p.httpContext(), tok)
}

func (p *FirebaseProvider) clearSessionLocked() {
	p.user = nil
	p.refreshToken = ""
	p.lastIDToken = ""
	p.tokens = nil
}

// dropSession signs out locally if uid is still the current user.
func (p *FirebaseProvider) dropSession(ctx context.Context, uid string) {
	p.mu.Lock()
	if p.user == nil || p.user.UID != uid {
		p.mu.Unlock()
		return
	}
	p.clearSessionLocked()
	p.mu.Unlock()

	if err := p.store.ClearCredentials(ctx); err != nil {
		p.log.Warn(ctx, "could not clear provider credentials", "error", err)
	}
	p.notify()
}

func (p *FirebaseProvider) persist(ctx context.Context, u User, tok *oauth2.Token) {
	err := p.store.SaveCredentials(ctx, StoredCredentials{
		User:         u,
		RefreshToken: tok.RefreshToken,
		IDToken:      idTokenOf(tok),
		Expiry:       tok.Expiry,
	})
	if err != nil {
		p.log.Warn(ctx, "could not persist provider credentials", "uid", u.UID, "error", err)
	}
}

// notify delivers the current user to every subscriber if it differs from
// the last delivery.
func (p *FirebaseProvider) notify() {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	current := p.CurrentUser()
	uid := uidOf(current)
	if p.emitted && uid == p.lastUID {
		return
	}
	p.emitted = true
	p.lastUID = uid

	for _, s := range p.subs {
		var u *User
		if current != nil {
			c := *current
			u = &c
		}
		s.fn(u)
	}
}

func (p *FirebaseProvider) httpContext() context.Context {
	return context.WithValue(context.Background(), oauth2.HTTPClient, p.http)
}

func (p *FirebaseProvider) call(ctx context.Context, op operation, method string, req any, out any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/v1/accounts:%s?key=%s",
		strings.TrimRight(p.cfg.IdentityBaseURL, "/"), method, url.QueryEscape(p.cfg.APIKey))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", common.ContentTypeJSON)

	resp, err := p.http.Do(httpReq)
	if err != nil {
		return networkError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return networkError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e errorResponse
		if json.Unmarshal(data, &e) == nil && e.Error.Message != "" {
			return mapProviderError(op, e.Error.Message)
		}
		return &AuthError{Code: CodeUnknown, Message: genericMessage, ProviderCode: resp.Status}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode accounts:%s response: %w", method, err)
	}
	return nil
}

// refreshError classifies a Secure Token endpoint failure.
func refreshError(err error) *AuthError {
	var rErr *oauth2.RetrieveError
	if !errors.As(err, &rErr) {
		return networkError(err)
	}

	var e errorResponse
	if json.Unmarshal(rErr.Body, &e) == nil && e.Error.Message != "" {
		mapped := mapProviderError(opAccount, e.Error.Message)
		mapped.Err = err
		return mapped
	}
	if rErr.ErrorCode == "invalid_grant" {
		return &AuthError{Code: CodeSessionExpired, Message: ErrSessionExpired.Message, ProviderCode: rErr.ErrorCode, Err: err}
	}
	return &AuthError{Code: CodeUnknown, Message: genericMessage, Err: err}
}

func tokenFromResponse(resp authResponse) *oauth2.Token {
	lifetime := defaultTokenLifetime
	if secs, err := resp.ExpiresIn.Int64(); err == nil && secs > 0 {
		lifetime = time.Duration(secs) * time.Second
	}
	return &oauth2.Token{
		AccessToken:  resp.IDToken,
		TokenType:    "Bearer",
		RefreshToken: resp.RefreshToken,
		Expiry:       time.Now().Add(lifetime),
	}
}

// idTokenOf prefers the id_token field of a refresh response; the Secure
// Token endpoint mirrors it into access_token as well.
func idTokenOf(tok *oauth2.Token) string {
	if v, ok := tok.Extra("id_token").(string); ok && v != "" {
		return v
	}
	return tok.AccessToken
}

func uidOf(u *User) string {
	if u == nil {
		return ""
	}
	return u.UID
}

type nopCredentialStore struct{}

func (nopCredentialStore) SaveCredentials(context.Context, StoredCredentials) error { return nil }
func (nopCredentialStore) LoadCredentials(context.Context) (*StoredCredentials, error) {
	return nil, nil
}
func (nopCredentialStore) ClearCredentials(context.Context) error { return nil }
