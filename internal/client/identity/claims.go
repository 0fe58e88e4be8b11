package identity

import (
	"fmt"

	"github.com/dmitrijs2005/projflow/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// tokenClaims is the subset of Firebase ID token claims the client reads.
type tokenClaims struct {
	jwt.RegisteredClaims
	UserID        string `json:"user_id"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// parseClaims decodes an ID token without verifying its signature. The
// backend verifies every token it receives; the client only needs the
// profile claims and expiry.
func parseClaims(idToken string) (*tokenClaims, error) {
	claims := &tokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
	}
	return claims, nil
}

// userFromToken fills gaps in u from the token claims. Explicit fields in u
// win over claims.
func userFromToken(idToken string, u User) User {
	claims, err := parseClaims(idToken)
	if err != nil {
		return u
	}
	if u.UID == "" {
		u.UID = claims.UserID
		if u.UID == "" {
			u.UID = claims.Subject
		}
	}
	if u.Email == "" {
		u.Email = claims.Email
	}
	if u.DisplayName == "" {
		u.DisplayName = claims.Name
	}
	if u.PhotoURL == "" {
		u.PhotoURL = claims.Picture
	}
	u.EmailVerified = u.EmailVerified || claims.EmailVerified
	return u
}
