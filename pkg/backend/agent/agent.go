// Package agent is the client for the remote agent service that backs the pet.
//
// The service exposes three endpoints:
//
//	POST /chat     {message, stream, auto_run} -> {response, pending_code?, mode}
//	POST /execute  {language, code}            -> {output}
//	GET  /context                              -> {success, app?, title?}
//
// [Client] implements [backend.Backend] through /chat and [backend.Executor]
// through /execute. /context is exposed as [Client.Activity] for the activity
// poller.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/iopet/pkg/backend"
)

const (
	// DefaultBaseURL is where the agent service listens by default.
	DefaultBaseURL = "http://localhost:8000"

	// DefaultExecuteTimeout bounds a confirmed execution.
	DefaultExecuteTimeout = 120 * time.Second

	// DefaultContextTimeout bounds a single /context poll.
	DefaultContextTimeout = time.Second

	// maxErrorBody caps how much of an error response body is kept.
	maxErrorBody = 512
)

var (
	_ backend.Backend  = (*Client)(nil)
	_ backend.Executor = (*Client)(nil)
)

// Client talks to the agent service. It is safe for concurrent use.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	executeTimeout time.Duration
	contextTimeout time.Duration
}

// Option configures a [Client].
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithExecuteTimeout overrides [DefaultExecuteTimeout].
func WithExecuteTimeout(d time.Duration) Option {
	return func(cl *Client) {
		if d > 0 {
			cl.executeTimeout = d
		}
	}
}

// WithContextTimeout overrides [DefaultContextTimeout].
func WithContextTimeout(d time.Duration) Option {
	return func(cl *Client) {
		if d > 0 {
			cl.contextTimeout = d
		}
	}
}

// New returns a Client for baseURL. An empty baseURL selects [DefaultBaseURL].
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		httpClient:     &http.Client{},
		executeTimeout: DefaultExecuteTimeout,
		contextTimeout: DefaultContextTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// BaseURL returns the service root the client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// Name implements [backend.Backend].
func (c *Client) Name() string { return "agent" }

type chatRequest struct {
	Message string `json:"message"`
	Stream  bool   `json:"stream"`
	AutoRun bool   `json:"auto_run"`
}

type chatResponse struct {
	Response    string                 `json:"response"`
	PendingCode *backend.PendingAction `json:"pending_code"`
	Mode        string                 `json:"mode"`
}

// Ask implements [backend.Backend] via POST /chat. The deadline is taken from
// ctx. The reply mode is "agent" or "chat" as reported by the service; a
// missing mode is chat.
func (c *Client) Ask(ctx context.Context, p backend.Prompt) (backend.Reply, error) {
	var resp chatResponse
	err := c.do(ctx, http.MethodPost, "/chat", chatRequest{Message: p.Combined()}, &resp)
	if err != nil {
		return backend.Reply{}, fmt.Errorf("agent: chat: %w", err)
	}
	if strings.TrimSpace(resp.Response) == "" {
		return backend.Reply{}, fmt.Errorf("agent: chat: %w", backend.ErrEmptyReply)
	}
	return backend.Reply{
		Text:   resp.Response,
		Mode:   backend.ParseMode(resp.Mode),
		Action: resp.PendingCode,
	}, nil
}

type executeResponse struct {
	Output *string `json:"output"`
}

// NoOutput is returned by [Client.Execute] when the service reports success
// without an output field.
const NoOutput = "(no output)"

// Execute implements [backend.Executor] via POST /execute.
func (c *Client) Execute(ctx context.Context, a backend.PendingAction) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.executeTimeout)
	defer cancel()

	var resp executeResponse
	if err := c.do(ctx, http.MethodPost, "/execute", a, &resp); err != nil {
		return "", fmt.Errorf("agent: execute: %w", err)
	}
	if resp.Output == nil {
		return NoOutput, nil
	}
	return *resp.Output, nil
}

// Activity is the user's foreground activity as reported by /context.
type Activity struct {
	App   string
	Title string
}

type contextResponse struct {
	Success bool   `json:"success"`
	App     string `json:"app"`
	Title   string `json:"title"`
}

// ErrNoActivity is returned by [Client.Activity] when the service answers
// with success set to false.
var ErrNoActivity = errors.New("agent: context: service reported no activity")

// Activity fetches the current foreground activity via GET /context.
func (c *Client) Activity(ctx context.Context) (Activity, error) {
	ctx, cancel := context.WithTimeout(ctx, c.contextTimeout)
	defer cancel()

	var resp contextResponse
	if err := c.do(ctx, http.MethodGet, "/context", nil, &resp); err != nil {
		return Activity{}, fmt.Errorf("agent: context: %w", err)
	}
	if !resp.Success {
		return Activity{}, ErrNoActivity
	}
	return Activity{App: resp.App, Title: resp.Title}, nil
}

// Ping reports whether the service answers /context at all. It is used as a
// readiness check.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Activity(ctx)
	if errors.Is(err, ErrNoActivity) {
		return nil
	}
	return err
}

// do issues a JSON request and decodes a JSON response into out. Non-2xx
// responses become *backend.StatusError.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &backend.StatusError{
			Backend:    "agent",
			Op:         strings.TrimPrefix(path, "/"),
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
