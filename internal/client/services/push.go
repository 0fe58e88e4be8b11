package services

import (
	"context"
	"fmt"
	"net/http"

	"github.com/dmitrijs2005/projflow/internal/client/client"
	"github.com/dmitrijs2005/projflow/internal/logging"
)

const DefaultPushPath = "/api/push-token"

// PushRegistrar records this device's push token against a local user.
type PushRegistrar struct {
	client   client.Client
	path     string
	platform string
	log      logging.Logger
}

func NewPushRegistrar(c client.Client, platform string, log logging.Logger) *PushRegistrar {
	if log == nil {
		log = logging.Nop()
	}
	return &PushRegistrar{
		client:   c,
		path:     DefaultPushPath,
		platform: platform,
		log:      log.With("component", "push"),
	}
}

type pushRegistration struct {
	UserID   string `json:"userId"`
	Token    string `json:"token"`
	Platform string `json:"platform"`
}

func (p *PushRegistrar) Register(ctx context.Context, userID, deviceToken string) error {
	err := p.client.Post(ctx, p.path, pushRegistration{
		UserID:   userID,
		Token:    deviceToken,
		Platform: p.platform,
	}, nil)
	if err != nil {
		return fmt.Errorf("register push token: %w", err)
	}
	p.log.Debug(ctx, "push token registered", "user_id", userID)
	return nil
}

func (p *PushRegistrar) Deregister(ctx context.Context, userID string) error {
	body := struct {
		UserID string `json:"userId"`
	}{UserID: userID}
	if err := p.client.Do(ctx, http.MethodDelete, p.path, body, nil); err != nil {
		return fmt.Errorf("deregister push token: %w", err)
	}
	p.log.Debug(ctx, "push token deregistered", "user_id", userID)
	return nil
}
