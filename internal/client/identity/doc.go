// Package identity is the client's only gateway to the federated identity
// backend.
//
// # Overview
//
// Provider is the adapter contract used by the session layer: email/password
// sign-in and sign-up, federated (Google) credential exchange, password
// reset, ID token retrieval with transparent refresh, account deletion and a
// push subscription to auth-state changes.
//
// FirebaseProvider implements Provider over the Identity Toolkit REST API.
// Refresh goes through golang.org/x/oauth2 token sources pointed at the
// Secure Token endpoint, so a token is reused until it is close to expiry.
// The provider session (refresh token and user) is persisted through a
// CredentialStore so a restarted process can restore the signed-in user.
//
// # Errors
//
// Every provider error code maps to exactly one *AuthError kind with a
// short user-facing message. Match kinds with errors.Is against the
// sentinels (ErrInvalidCredentials, ErrWeakPassword, ...).
//
// # Auth state
//
// OnAuthStateChanged delivers the current user (or nil) immediately and
// then on every sign-in and sign-out, including sign-outs caused by a
// rejected token refresh. Deliveries are ordered; callbacks run on the
// caller's goroutine and must not block.
package identity
