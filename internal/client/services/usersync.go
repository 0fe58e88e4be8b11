package services

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/projflow/internal/client/client"
	"github.com/dmitrijs2005/projflow/internal/client/identity"
	"github.com/dmitrijs2005/projflow/internal/logging"
)

const DefaultSyncPath = "/api/auth/sync"

// DefaultSyncDelays is the wait before each retry. Its length bounds the
// number of retries.
var DefaultSyncDelays = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// UserSync maps a federated identity onto the backend's local user id.
type UserSync struct {
	client client.Client
	path   string
	delays []time.Duration
	sleep  SleepFunc
	log    logging.Logger
}

type SyncOption func(*UserSync)

func WithSyncPath(path string) SyncOption {
	return func(s *UserSync) { s.path = path }
}

func WithRetryDelays(delays []time.Duration) SyncOption {
	return func(s *UserSync) { s.delays = append([]time.Duration(nil), delays...) }
}

func WithSleep(fn SleepFunc) SyncOption {
	return func(s *UserSync) { s.sleep = fn }
}

func WithSyncLogger(l logging.Logger) SyncOption {
	return func(s *UserSync) { s.log = l }
}

func NewUserSync(c client.Client, opts ...SyncOption) *UserSync {
	s := &UserSync{
		client: c,
		path:   DefaultSyncPath,
		delays: DefaultSyncDelays,
		sleep:  sleepContext,
		log:    logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "user_sync")
	return s
}

type syncRequest struct {
	FederatedID string `json:"federated_id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

type syncResponse struct {
	LocalUserID string `json:"local_user_id"`
}

// SyncUser returns the local user id, or "" when the backend could not be
// reached after all retries or rejected the request. It never fails.
func (s *UserSync) SyncUser(ctx context.Context, u identity.User) string {
	req := syncRequest{
		FederatedID: u.UID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
	}

	for attempt := 0; ; attempt++ {
		var resp syncResponse
		err := s.client.Post(ctx, s.path, req, &resp)
		if err == nil {
			if resp.LocalUserID == "" {
				s.log.Warn(ctx, "sync response has no local user id", "uid", u.UID)
			}
			return resp.LocalUserID
		}

		if !retryable(err) {
			s.log.Warn(ctx, "backend rejected user sync", "uid", u.UID, "error", err)
			return ""
		}
		if attempt >= len(s.delays) {
			s.log.Warn(ctx, "user sync retries exhausted", "uid", u.UID, "attempts", attempt+1, "error", err)
			return ""
		}

		delay := s.delays[attempt]
		s.log.Info(ctx, "user sync failed, retrying", "uid", u.UID, "attempt", attempt+1, "delay", delay, "error", err)
		if err := s.sleep(ctx, delay); err != nil {
			return ""
		}
	}
}

// retryable reports whether err looks like the backend was unreachable
// rather than a deliberate rejection. A 5xx without a JSON error body is a
// gateway answering for a backend that is still starting.
func retryable(err error) bool {
	if errors.Is(err, client.ErrNetwork) {
		return true
	}
	var reqErr *client.RequestError
	if errors.As(err, &reqErr) {
		return errors.Is(reqErr.Kind, client.ErrServer) && !reqErr.Structured
	}
	return false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
