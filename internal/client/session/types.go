package session

import (
	"github.com/dmitrijs2005/projflow/internal/client/identity"
	"github.com/dmitrijs2005/projflow/internal/client/store"
)

type Phase int

const (
	PhaseInitializing Phase = iota
	PhaseSignedOut
	PhaseSignedInSyncing
	PhaseSignedInSynced
	PhaseSignedInDegraded
)

func (p Phase) String() string {
	switch p {
	case PhaseInitializing:
		return "initializing"
	case PhaseSignedOut:
		return "signed_out"
	case PhaseSignedInSyncing:
		return "signed_in_syncing"
	case PhaseSignedInSynced:
		return "signed_in_synced"
	case PhaseSignedInDegraded:
		return "signed_in_degraded"
	default:
		return "unknown"
	}
}

// SignedIn reports whether p is one of the signed-in phases.
func (p Phase) SignedIn() bool {
	return p == PhaseSignedInSyncing || p == PhaseSignedInSynced || p == PhaseSignedInDegraded
}

// Session is the in-memory user. LocalUserID is empty until the backend
// has confirmed the user.
type Session struct {
	LocalUserID     string
	FederatedUserID string
	DisplayName     string
	Email           string
	EmailVerified   bool
	PhotoURL        string
}

// ID returns the identifier to use for backend calls: the local id once
// synced, the federated id as a stand-in before that.
func (s Session) ID() string {
	if s.LocalUserID != "" {
		return s.LocalUserID
	}
	return s.FederatedUserID
}

// State is what observers see.
type State struct {
	User            *Session
	IsAuthenticated bool
	Loading         bool
	Phase           Phase
}

func (s State) clone() State {
	if s.User != nil {
		u := *s.User
		s.User = &u
	}
	return s
}

func (s State) equal(o State) bool {
	if s.IsAuthenticated != o.IsAuthenticated || s.Loading != o.Loading || s.Phase != o.Phase {
		return false
	}
	if s.User == nil || o.User == nil {
		return s.User == nil && o.User == nil
	}
	return *s.User == *o.User
}

// Result is returned by user-initiated actions. Error is a message fit for
// display.
type Result struct {
	Success bool
	Error   string
}

func sessionFromUser(u identity.User) Session {
	return Session{
		FederatedUserID: u.UID,
		DisplayName:     u.DisplayName,
		Email:           u.Email,
		EmailVerified:   u.EmailVerified,
		PhotoURL:        u.PhotoURL,
	}
}

func (s Session) snapshot() store.Snapshot {
	return store.Snapshot{
		LocalUserID:     s.LocalUserID,
		FederatedUserID: s.FederatedUserID,
		DisplayName:     s.DisplayName,
		Email:           s.Email,
		EmailVerified:   s.EmailVerified,
		PhotoURL:        s.PhotoURL,
	}
}

func sessionFromSnapshot(snap store.Snapshot) Session {
	return Session{
		LocalUserID:     snap.LocalUserID,
		FederatedUserID: snap.FederatedUserID,
		DisplayName:     snap.DisplayName,
		Email:           snap.Email,
		EmailVerified:   snap.EmailVerified,
		PhotoURL:        snap.PhotoURL,
	}
}
