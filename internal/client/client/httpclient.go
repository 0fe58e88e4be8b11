package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/dmitrijs2005/projflow/internal/common"
	"github.com/dmitrijs2005/projflow/internal/logging"
	"github.com/google/uuid"
)

const DefaultTimeout = 15 * time.Second

// HTTPClient sends JSON requests to the backend with the current identity
// token attached.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	log     logging.Logger
}

type Option func(*HTTPClient)

func WithHTTPClient(c *http.Client) Option {
	return func(h *HTTPClient) { h.http = c }
}

func WithTimeout(d time.Duration) Option {
	return func(h *HTTPClient) { h.http.Timeout = d }
}

func WithLogger(l logging.Logger) Option {
	return func(h *HTTPClient) { h.log = l }
}

func NewHTTPClient(baseURL string, tokens TokenSource, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: DefaultTimeout},
		tokens:  tokens,
		log:     logging.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("component", "http_client")
	return c
}

func (c *HTTPClient) Get(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodGet, path, nil, out)
}

func (c *HTTPClient) Post(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPost, path, body, out)
}

func (c *HTTPClient) Put(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPut, path, body, out)
}

func (c *HTTPClient) Delete(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodDelete, path, nil, out)
}

// Do sends one request. The token is fetched right before sending so a
// refresh done by the provider is always picked up.
func (c *HTTPClient) Do(ctx context.Context, method, path string, body, out any) error {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path), payload)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	requestID := uuid.NewString()
	req.Header.Set(common.RequestIDHeaderName, requestID)
	req.Header.Set("Accept", common.ContentTypeJSON)
	if body != nil {
		req.Header.Set("Content-Type", common.ContentTypeJSON)
	}

	if c.tokens != nil {
		token, err := c.tokens.IDToken(ctx, false)
		if err != nil {
			c.log.Warn(ctx, "could not get identity token, sending unauthenticated", "request_id", requestID, "error", err)
		}
		if token != "" {
			req.Header.Set(common.AuthorizationHeaderName, common.BearerPrefix+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn(ctx, "no response from backend", "method", method, "path", path, "request_id", requestID, "error", err)
		return &RequestError{Kind: ErrNetwork, Message: genericMessage(ErrNetwork), Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &RequestError{Kind: ErrNetwork, Status: resp.StatusCode, Message: genericMessage(ErrNetwork), Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		reqErr := responseError(resp.StatusCode, data)
		c.log.Debug(ctx, "backend rejected request",
			"method", method, "path", path, "status", resp.StatusCode, "request_id", requestID, "message", reqErr.Message)
		return reqErr
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

func (c *HTTPClient) url(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}

type errorBody struct {
	Message string                     `json:"message"`
	Error   json.RawMessage            `json:"error"`
	Errors  map[string]json.RawMessage `json:"errors"`
}

// responseError builds the error for a non-2xx response, surfacing the
// backend's own message and field errors when it sent any.
func responseError(status int, data []byte) *RequestError {
	kind := kindForStatus(status)
	reqErr := &RequestError{Kind: kind, Status: status, Message: genericMessage(kind)}

	var body errorBody
	if err := json.Unmarshal(data, &body); err != nil {
		return reqErr
	}

	msg := body.Message
	if msg == "" && len(body.Error) > 0 {
		var s string
		if json.Unmarshal(body.Error, &s) == nil {
			msg = s
		}
	}
	if msg == "" && len(body.Errors) == 0 {
		return reqErr
	}

	reqErr.Structured = true
	if msg != "" {
		reqErr.Message = msg
	}
	if len(body.Errors) > 0 {
		reqErr.Fields = make(map[string]string, len(body.Errors))
		for field, raw := range body.Errors {
			reqErr.Fields[field] = fieldMessage(raw)
		}
	}
	return reqErr
}

// fieldMessage flattens a field error given as a string or list of strings.
func fieldMessage(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var list []string
	if json.Unmarshal(raw, &list) == nil {
		return strings.Join(list, "; ")
	}
	var obj map[string]any
	if json.Unmarshal(raw, &obj) == nil {
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s: %v", k, obj[k]))
		}
		return strings.Join(parts, "; ")
	}
	return string(raw)
}
