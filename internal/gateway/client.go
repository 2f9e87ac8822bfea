// Package gateway implements backend.Store against the memorylane gateway:
// documents over HTTP and live views over websockets.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"memorylane/internal/auth"
	"memorylane/internal/backend"
)

// StatusError is a non-2xx gateway response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway: %d %s", e.Code, e.Message)
}

// Client talks to the gateway with the bearer token returned by token.
type Client struct {
	baseURL string
	token   func() string
	http    *http.Client
	dialer  *websocket.Dialer
}

var _ backend.Store = (*Client)(nil)

// New constructs a Client. token is called for every request.
func New(baseURL string, token func() string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// ReadDocument implements backend.Store.
func (c *Client) ReadDocument(ctx context.Context, collection, id string) (json.RawMessage, error) {
	body, err := c.do(ctx, http.MethodGet, documentPath(collection, id), nil, c.token())
	if err != nil {
		return nil, notFound(err)
	}
	return body, nil
}

// WriteDocument implements backend.Store.
func (c *Client) WriteDocument(ctx context.Context, collection, id string, patch backend.Patch) error {
	patch = patch.Clean()
	if patch.IsEmpty() {
		return nil
	}
	payload, err := json.Marshal(patch)
	if err != nil {
		return err
	}
	_, err = c.do(ctx, http.MethodPatch, documentPath(collection, id), payload, c.token())
	return err
}

// DeleteDocument implements backend.Store.
func (c *Client) DeleteDocument(ctx context.Context, collection, id string) error {
	_, err := c.do(ctx, http.MethodDelete, documentPath(collection, id), nil, c.token())
	return notFound(err)
}

// Validate resolves token through GET /v1/me. It satisfies auth.Validator.
func (c *Client) Validate(ctx context.Context, token string) (auth.Identity, error) {
	body, err := c.do(ctx, http.MethodGet, "/v1/me", nil, token)
	var status *StatusError
	if errors.As(err, &status) && status.Code == http.StatusUnauthorized {
		return auth.Identity{}, auth.ErrInvalidToken
	}
	if err != nil {
		return auth.Identity{}, err
	}
	var id auth.Identity
	if err := json.Unmarshal(body, &id); err != nil {
		return auth.Identity{}, fmt.Errorf("decode identity: %w", err)
	}
	if id.UID == "" {
		return auth.Identity{}, auth.ErrInvalidToken
	}
	return id, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte, token string) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(data, &e)
		return nil, &StatusError{Code: resp.StatusCode, Message: e.Error}
	}
	return data, nil
}

func (c *Client) wsURL(kind, filter string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/" + url.PathEscape(kind)
	u.RawQuery = url.Values{"filter": {filter}}.Encode()
	return u.String(), nil
}

func documentPath(collection, id string) string {
	return "/v1/documents/" + url.PathEscape(collection) + "/" + url.PathEscape(id)
}

func notFound(err error) error {
	var status *StatusError
	if errors.As(err, &status) && status.Code == http.StatusNotFound {
		return backend.ErrNotFound
	}
	return err
}
