package health

import (
	"context"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/projflow/internal/client/client"
)

const DefaultHealthPath = "/health"

// HTTPProber checks the backend's JSON health route through the regular API
// client.
type HTTPProber struct {
	client client.Client
	path   string
}

func NewHTTPProber(c client.Client, path string) *HTTPProber {
	if path == "" {
		path = DefaultHealthPath
	}
	return &HTTPProber{client: c, path: path}
}

type healthResponse struct {
	Status string `json:"status"`
}

// Probe treats any successful response as online unless the body names a
// status other than healthy or ok.
func (p *HTTPProber) Probe(ctx context.Context) error {
	var resp healthResponse
	if err := p.client.Get(ctx, p.path, &resp); err != nil {
		return err
	}
	switch strings.ToLower(resp.Status) {
	case "", "healthy", "ok", "serving":
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrNotServing, resp.Status)
	}
}
