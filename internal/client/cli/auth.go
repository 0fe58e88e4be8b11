package cli

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/dmitrijs2005/projflow/internal/client/session"
	"github.com/dmitrijs2005/projflow/internal/common"
)

// getSimpleText and getPassword are swapped in tests.
var (
	getSimpleText = GetSimpleText
	getPassword   = GetPassword
)

var (
	errGoogleDisabled = errors.New("google sign-in is not configured")
	errNotConfirmed   = errors.New("not confirmed")
)

// report prints the outcome of a session action and converts a failure
// into an error.
func (a *App) report(res session.Result, success string) error {
	if !res.Success {
		fmt.Fprintln(a.out, "Error:", res.Error)
		return errors.New(res.Error)
	}
	fmt.Fprintln(a.out, success)
	return nil
}

func (a *App) credentials() (string, []byte, error) {
	email, err := getSimpleText(a.reader, "Enter email", a.out)
	if err != nil {
		return "", nil, err
	}
	password, err := getPassword(a.out)
	if err != nil {
		return "", nil, err
	}
	return email, password, nil
}

func (a *App) Register(ctx context.Context) error {
	name, err := getSimpleText(a.reader, "Enter display name", a.out)
	if err != nil {
		return err
	}
	email, password, err := a.credentials()
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	return a.report(a.session.Register(ctx, name, email, string(password)), "Account created.")
}

func (a *App) Login(ctx context.Context) error {
	email, password, err := a.credentials()
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	return a.report(a.session.Login(ctx, email, string(password)), "Signed in.")
}

// Google runs the browser flow: the user opens the consent URL and pastes
// back either the full redirect URL or just the code.
func (a *App) Google(ctx context.Context) error {
	if a.google == nil || !a.google.Configured() {
		fmt.Fprintln(a.out, "Google sign-in is not configured.")
		return errGoogleDisabled
	}

	authURL, wantState := a.google.AuthURL()
	fmt.Fprintln(a.out, "Open this URL in your browser and approve access:")
	fmt.Fprintln(a.out, authURL)

	input, err := getSimpleText(a.reader, "Paste the redirect URL (or the code)", a.out)
	if err != nil {
		return err
	}
	code, state := parseRedirect(input, wantState)

	idToken, err := a.google.Exchange(ctx, code, state, wantState)
	if err != nil {
		a.log.Warn(ctx, "google exchange failed", "error", err)
		fmt.Fprintln(a.out, "Error: Google sign-in failed.")
		return err
	}

	return a.report(a.session.SignInWithGoogle(ctx, idToken), "Signed in with Google.")
}

// parseRedirect pulls code and state out of a pasted redirect URL. A bare
// code is paired with the expected state.
func parseRedirect(input, wantState string) (code, state string) {
	if !strings.Contains(input, "code=") {
		return input, wantState
	}
	raw := input
	if i := strings.Index(raw, "?"); i >= 0 {
		raw = raw[i+1:]
	}
	q, err := url.ParseQuery(raw)
	if err != nil {
		return input, wantState
	}
	return q.Get("code"), q.Get("state")
}

func (a *App) Reset(ctx context.Context) error {
	email, err := getSimpleText(a.reader, "Enter email", a.out)
	if err != nil {
		return err
	}
	return a.report(a.session.ResetPassword(ctx, email), "Password reset email sent.")
}

func (a *App) Logout(ctx context.Context) error {
	if err := a.session.Logout(ctx); err != nil {
		fmt.Fprintln(a.out, "Error:", err)
		return err
	}
	fmt.Fprintln(a.out, "Signed out.")
	return nil
}

func (a *App) WhoAmI(context.Context) error {
	s := a.session.State()
	if s.User == nil {
		fmt.Fprintln(a.out, "Not signed in.")
		return nil
	}
	u := s.User
	fmt.Fprintf(a.out, "Email:        %s (verified: %t)\n", u.Email, u.EmailVerified)
	if u.DisplayName != "" {
		fmt.Fprintf(a.out, "Name:         %s\n", u.DisplayName)
	}
	fmt.Fprintf(a.out, "Identity id:  %s\n", u.FederatedUserID)
	if u.LocalUserID != "" {
		fmt.Fprintf(a.out, "User id:      %s\n", u.LocalUserID)
	} else {
		fmt.Fprintln(a.out, "User id:      (not synced)")
	}
	fmt.Fprintf(a.out, "State:        %s\n", s.Phase)
	return nil
}

func (a *App) DeleteAccount(ctx context.Context) error {
	answer, err := getSimpleText(a.reader, "This permanently deletes your account. Type 'yes' to continue", a.out)
	if err != nil {
		return err
	}
	if answer != "yes" {
		fmt.Fprintln(a.out, "Cancelled.")
		return errNotConfirmed
	}
	return a.report(a.session.DeleteAccount(ctx), "Account deleted.")
}

func (a *App) Resync(ctx context.Context) error {
	if !a.session.Resync(ctx) {
		fmt.Fprintln(a.out, "Nothing to resync.")
		return nil
	}
	fmt.Fprintln(a.out, "Resync started.")
	return nil
}
