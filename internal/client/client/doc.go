// Package client contains the authenticated request pipeline used to talk
// to the ProjFlow backend.
//
// # Overview
//
// The package provides:
//  1. A transport contract (see the Client interface) with a single Do
//     method and Get/Post/Put/Delete helpers.
//  2. An HTTP implementation (see HTTPClient) that asks a TokenSource for a
//     fresh identity token before every request, tags each request with an
//     X-Request-ID, and classifies failures into sentinel kinds.
//
// # Error Handling
//
// Every failed call returns a *RequestError whose Kind is one of
// ErrUnauthorized, ErrNotFound, ErrServer, ErrNetwork or ErrValidation.
// Callers match it with errors.Is and read the backend message with
// errors.As. The pipeline never retries; retry policy belongs to callers.
//
// Concurrency & Contexts
//
// HTTPClient is safe for concurrent use. All operations accept
// context.Context and honor cancellation and deadlines.
package client
