// Package store persists the session snapshot and the identity provider's
// credentials in the local sqlite database, sealed with a device secret.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/projflow/internal/client/identity"
	"github.com/dmitrijs2005/projflow/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/projflow/internal/common"
	"github.com/dmitrijs2005/projflow/internal/cryptox"
)

const (
	sessionKey     = "session"
	credentialsKey = "provider_credentials"
)

// Snapshot is the persisted form of a session. LocalUserID is empty until
// the backend has confirmed the user.
type Snapshot struct {
	LocalUserID     string `json:"local_user_id,omitempty"`
	FederatedUserID string `json:"federated_user_id"`
	DisplayName     string `json:"display_name"`
	Email           string `json:"email"`
	EmailVerified   bool   `json:"email_verified"`
	PhotoURL        string `json:"photo_url,omitempty"`
}

// SQLiteStore seals records under keys derived from one device secret.
type SQLiteStore struct {
	repo           metadata.Repository
	sessionKey     []byte
	credentialsKey []byte
}

func New(repo metadata.Repository, secret []byte) (*SQLiteStore, error) {
	if len(secret) == 0 {
		return nil, errors.New("store secret is empty")
	}
	sk, err := cryptox.DeriveKey(secret, sessionKey)
	if err != nil {
		return nil, fmt.Errorf("derive session key: %w", err)
	}
	ck, err := cryptox.DeriveKey(secret, credentialsKey)
	if err != nil {
		return nil, fmt.Errorf("derive credentials key: %w", err)
	}
	return &SQLiteStore{repo: repo, sessionKey: sk, credentialsKey: ck}, nil
}

// Save overwrites the stored snapshot.
func (s *SQLiteStore) Save(ctx context.Context, snap Snapshot) error {
	return s.put(ctx, sessionKey, s.sessionKey, snap)
}

// Load returns (nil, nil) when no snapshot is stored.
func (s *SQLiteStore) Load(ctx context.Context) (*Snapshot, error) {
	var snap Snapshot
	found, err := s.get(ctx, sessionKey, s.sessionKey, &snap)
	if err != nil || !found {
		return nil, err
	}
	return &snap, nil
}

// Clear removes the snapshot. Clearing an empty store is not an error.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	return s.repo.Delete(ctx, sessionKey)
}

func (s *SQLiteStore) SaveCredentials(ctx context.Context, c identity.StoredCredentials) error {
	return s.put(ctx, credentialsKey, s.credentialsKey, c)
}

func (s *SQLiteStore) LoadCredentials(ctx context.Context) (*identity.StoredCredentials, error) {
	var c identity.StoredCredentials
	found, err := s.get(ctx, credentialsKey, s.credentialsKey, &c)
	if err != nil || !found {
		return nil, err
	}
	return &c, nil
}

func (s *SQLiteStore) ClearCredentials(ctx context.Context) error {
	return s.repo.Delete(ctx, credentialsKey)
}

func (s *SQLiteStore) put(ctx context.Context, name string, key []byte, v any) error {
	plain, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	defer common.WipeByteArray(plain)

	sealed, err := cryptox.Seal(key, plain)
	if err != nil {
		return fmt.Errorf("seal %s: %w", name, err)
	}
	return s.repo.Set(ctx, name, sealed)
}

func (s *SQLiteStore) get(ctx context.Context, name string, key []byte, v any) (bool, error) {
	sealed, err := s.repo.Get(ctx, name)
	if errors.Is(err, common.ErrorNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	plain, err := cryptox.Open(key, sealed)
	if err != nil {
		return false, fmt.Errorf("open %s: %w", name, err)
	}
	defer common.WipeByteArray(plain)

	if err := json.Unmarshal(plain, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", name, err)
	}
	return true, nil
}

var _ identity.CredentialStore = (*SQLiteStore)(nil)
