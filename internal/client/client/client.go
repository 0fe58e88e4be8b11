package client

import (
	"context"
)

// Client is the backend transport contract.
type Client interface {
	Do(ctx context.Context, method, path string, body, out any) error
	Get(ctx context.Context, path string, out any) error
	Post(ctx context.Context, path string, body, out any) error
	Put(ctx context.Context, path string, body, out any) error
	Delete(ctx context.Context, path string, out any) error
}

// TokenSource yields the identity token attached to outbound requests. An
// empty token with a nil error means no user is signed in.
type TokenSource interface {
	IDToken(ctx context.Context, forceRefresh bool) (string, error)
}
