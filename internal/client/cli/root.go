package cli

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/projflow/internal/client/session"
)

func (a *App) getStatus() string {
	s := a.session.State()
	if s.User == nil {
		return fmt.Sprintf("(%s)", s.Phase)
	}
	return fmt.Sprintf("(%s %s)", s.User.Email, s.Phase)
}

func (a *App) isLoggedIn() bool {
	return a.session.State().IsAuthenticated
}

// Root runs the REPL until the user exits.
func (a *App) Root(ctx context.Context) {
	fmt.Fprintln(a.out, "Welcome to projflow CLI (type 'help' for commands)")
	runREPL(ctx, a, a.getStatus, a.reader)
}

// printState reports session transitions. It runs on the session loop and
// only writes.
func (a *App) printState(s session.State) {
	switch s.Phase {
	case session.PhaseInitializing:
		return
	case session.PhaseSignedOut:
		fmt.Fprintln(a.out, "[session] signed out")
	case session.PhaseSignedInSyncing:
		fmt.Fprintf(a.out, "[session] signed in as %s, syncing with backend...\n", s.User.Email)
	case session.PhaseSignedInSynced:
		fmt.Fprintf(a.out, "[session] synced, user id %s\n", s.User.LocalUserID)
	case session.PhaseSignedInDegraded:
		fmt.Fprintln(a.out, "[session] backend unavailable, working in degraded mode (use 'resync' to retry)")
	}
}
