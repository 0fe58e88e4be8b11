// Package common contains shared constants and sentinel errors used across
// ProjFlow client components.
package common

// AuthorizationHeaderName is the HTTP header carrying the bearer token on
// outbound backend requests.
const AuthorizationHeaderName = "Authorization"

// BearerPrefix precedes the identity token in the Authorization header.
const BearerPrefix = "Bearer "

// RequestIDHeaderName correlates a client request with backend logs.
const RequestIDHeaderName = "X-Request-ID"

// ContentTypeJSON is the media type of every backend request body.
const ContentTypeJSON = "application/json"
