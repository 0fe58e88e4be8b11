package identity

import (
	"context"
	"time"
)

// User is the provider's view of the signed-in account.
type User struct {
	UID           string `json:"uid"`
	Email         string `json:"email"`
	DisplayName   string `json:"display_name"`
	PhotoURL      string `json:"photo_url,omitempty"`
	EmailVerified bool   `json:"email_verified"`
}

// Credential is returned by the sign-in family of calls.
type Credential struct {
	User    User
	IDToken string
}

// StoredCredentials is the provider session persisted between runs.
type StoredCredentials struct {
	User         User      `json:"user"`
	RefreshToken string    `json:"refresh_token"`
	IDToken      string    `json:"id_token"`
	Expiry       time.Time `json:"expiry"`
}

// CredentialStore persists the provider session. LoadCredentials returns
// (nil, nil) when nothing is stored.
type CredentialStore interface {
	SaveCredentials(ctx context.Context, c StoredCredentials) error
	LoadCredentials(ctx context.Context) (*StoredCredentials, error)
	ClearCredentials(ctx context.Context) error
}

// Provider is the identity adapter contract.
type Provider interface {
	SignIn(ctx context.Context, email, password string) (*Credential, error)
	SignUp(ctx context.Context, email, password, displayName string) (*Credential, error)
	SignInWithCredential(ctx context.Context, googleIDToken string) (*Credential, error)
	SignOut(ctx context.Context) error
	ResetPassword(ctx context.Context, email string) error
	IDToken(ctx context.Context, forceRefresh bool) (string, error)
	OnAuthStateChanged(fn func(*User)) (unsubscribe func())
	UpdateProfile(ctx context.Context, displayName, photoURL string) error
	DeleteUser(ctx context.Context) error
}
