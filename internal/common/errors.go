// Package common defines shared constants and sentinel errors used across
// client layers of ProjFlow. Callers should use errors.Is to match these
// values.
package common

import "errors"

var (
	// Persistence errors.
	ErrorNotFound = errors.New("not found")

	// ErrInvalidToken marks an identity token that cannot be decoded.
	ErrInvalidToken = errors.New("invalid token")

	// ErrNotSignedIn is returned by operations that need a provider session.
	ErrNotSignedIn = errors.New("not signed in")
)
