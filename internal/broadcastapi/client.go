// SPDX-License-Identifier: MIT

// Package broadcastapi is a client for a broadcast provider's REST control
// plane: creating a live event, fetching its ingest URL, ending it, and
// listing past events for retention sweeps.
//
// Reference: internal/mediamtx's REST client shape, generalized from
// MediaMTX's path-management API to broadcast-event management, and
// storage/youtube.py's create/bind/transition broadcast life-cycle from the
// original implementation.
package broadcastapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// requestIDHeader carries a per-request correlation ID so provider-side logs
// can be joined against the pipeline/supervisor log that issued the call.
const requestIDHeader = "X-Request-ID"

// DefaultTimeout is the default HTTP request timeout.
const DefaultTimeout = 5 * time.Second

// Client talks to a broadcast provider's HTTP control plane.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Broadcast is a single live event: created at the start of a recording
// segment sequence, torn down when the camera stops recording to this
// backend.
type Broadcast struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Status    string `json:"status"` // "ready", "live", "complete", "revoked"
	IngestURL string `json:"ingestUrl"`
	StartedAt string `json:"startedAt,omitempty"`
	EndedAt   string `json:"endedAt,omitempty"`
}

// BroadcastList is the response from the list-broadcasts endpoint.
type BroadcastList struct {
	Items         []Broadcast `json:"items"`
	NextPageToken string      `json:"nextPageToken,omitempty"`
}

// ClientOption is a functional option for configuring the client.
type ClientOption func(*Client)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = httpClient }
}

// NewClient creates a client against baseURL, authenticating with token as
// a bearer credential.
func NewClient(baseURL, token string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set(requestIDHeader, uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		b, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("API returned status %d (failed to read body: %v)", resp.StatusCode, readErr)
		}
		return fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(b))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// CreateBroadcast starts a new live event titled title and returns it,
// including the ingest URL the caller should stream bytes to.
//
// Reference: storage/youtube.py's _create_broadcast, collapsed from three
// separate API calls (insert broadcast, insert stream, bind) into one REST
// call against a provider-agnostic control plane.
func (c *Client) CreateBroadcast(ctx context.Context, title string) (*Broadcast, error) {
	reqBody, err := json.Marshal(map[string]string{"title": title})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	var b Broadcast
	if err := c.do(ctx, http.MethodPost, "/v1/broadcasts", bytes.NewReader(reqBody), &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// EndBroadcast transitions a broadcast to "complete". Ending an
// already-complete broadcast is a no-op on the provider side.
//
// Reference: storage/youtube.py's _end_broadcast.
func (c *Client) EndBroadcast(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/v1/broadcasts/%s/end", id), nil, nil)
}

// GetBroadcast fetches a single broadcast by ID.
func (c *Client) GetBroadcast(ctx context.Context, id string) (*Broadcast, error) {
	var b Broadcast
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/broadcasts/%s", id), nil, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// ListBroadcasts lists completed broadcasts, paginating via pageToken, for
// the retention sweep to decide what has aged out.
//
// Reference: storage/youtube.py's list_expired, which paginates
// liveBroadcasts().list with broadcastStatus='completed'.
func (c *Client) ListBroadcasts(ctx context.Context, pageToken string) (*BroadcastList, error) {
	path := "/v1/broadcasts?status=complete"
	if pageToken != "" {
		path += "&pageToken=" + pageToken
	}
	var list BroadcastList
	if err := c.do(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// DeleteBroadcast permanently removes a completed broadcast's recording
// from the provider, used by the retention sweep.
func (c *Client) DeleteBroadcast(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/v1/broadcasts/%s", id), nil, nil)
}

// Ping checks whether the control plane is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/v1/broadcasts?status=complete&limit=1", nil, nil)
}

