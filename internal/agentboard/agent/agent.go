// Package agent is a typed client for the external agent-execution
// service: it starts remote sessions and reports their progress.
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

	"agentboard/internal/agentboard/retry"
)

// RemoteState is the closed set of states the agent service can report
// for a session, normalized from the service's free-form status_enum.
type RemoteState string

const (
	StateRunning   RemoteState = "running"
	StateCompleted RemoteState = "completed"
	StateBlocked   RemoteState = "blocked"
	StateFailed    RemoteState = "failed"
)

// SessionStatus is the result of one status fetch for a remote session.
type SessionStatus struct {
	State      RemoteState
	ActionPlan string
	// ConfidenceScore is nil when the agent did not report one.
	ConfidenceScore *int
}

// Error is the classified failure of an agent API call. Transient
// failures (network, timeouts, 5xx, rate limits) should be retried on
// a later cycle; permanent ones (auth, unknown session, malformed
// response) should not.
type Error struct {
	Op        string
	Transient bool
	Err       error
}

func (e *Error) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// IsTransient reports whether err is an agent Error classified as
// transient. Non-agent errors are treated as transient so unexpected
// failures default to retry rather than terminal state.
func IsTransient(err error) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Transient
	}
	return true
}

// Client talks JSON-over-HTTP to the agent-execution API.
type Client struct {
	apiKey       string
	httpClient   *http.Client
	endpoint     string
	retryBackoff []time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithEndpoint overrides the agent API base URL (useful for testing).
func WithEndpoint(url string) Option {
	return func(c *Client) { c.endpoint = strings.TrimSuffix(url, "/") }
}

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetryBackoff overrides the default retry backoff delays.
func WithRetryBackoff(delays ...time.Duration) Option {
	return func(c *Client) { c.retryBackoff = delays }
}

// New creates a new agent API client.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		endpoint:   "https://api.devin.ai/v1",
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type createSessionRequest struct {
	Prompt string `json:"prompt"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

type sessionDetailsResponse struct {
	SessionID  string    `json:"session_id"`
	StatusEnum string    `json:"status_enum"`
	Messages   []message `json:"messages"`
}

type message struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// StartSession creates a remote agent session seeded with prompt and
// returns its identifier.
func (c *Client) StartSession(ctx context.Context, prompt string) (string, error) {
	body, err := c.do(ctx, http.MethodPost, c.endpoint+"/sessions", createSessionRequest{Prompt: prompt})
	if err != nil {
		return "", c.classify("starting agent session", err)
	}

	var resp createSessionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", &Error{Op: "starting agent session", Err: fmt.Errorf("decoding response: %w", err)}
	}
	if resp.SessionID == "" {
		return "", &Error{Op: "starting agent session", Err: errors.New("no session id in response")}
	}
	return resp.SessionID, nil
}

// FetchStatus returns the current state of the remote session, including
// the action plan and confidence score once the agent has reported them.
// An unrecognized remote status is a permanent error, never a silent
// no-op.
func (c *Client) FetchStatus(ctx context.Context, remoteSessionID string) (SessionStatus, error) {
	body, err := c.do(ctx, http.MethodGet, c.endpoint+"/session/"+remoteSessionID, nil)
	if err != nil {
		return SessionStatus{}, c.classify("fetching agent session", err)
	}

	var resp sessionDetailsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return SessionStatus{}, &Error{Op: "fetching agent session", Err: fmt.Errorf("decoding response: %w", err)}
	}

	state, err := mapRemoteState(resp.StatusEnum)
	if err != nil {
		return SessionStatus{}, &Error{Op: "fetching agent session", Err: err}
	}

	status := SessionStatus{State: state}
	if state == StateCompleted || state == StateBlocked {
		status.ActionPlan, status.ConfidenceScore = extractPlanAndConfidence(resp.Messages)
	}
	return status, nil
}

// mapRemoteState normalizes the service's status_enum into the closed
// RemoteState set.
func mapRemoteState(statusEnum string) (RemoteState, error) {
	switch strings.ToLower(statusEnum) {
	case "working", "running", "resumed", "resume_requested", "suspended":
		return StateRunning, nil
	case "finished":
		return StateCompleted, nil
	case "blocked":
		return StateBlocked, nil
	case "expired", "failed", "stopped":
		return StateFailed, nil
	default:
		return "", fmt.Errorf("unrecognized remote session state %q", statusEnum)
	}
}

// do executes one HTTP call with retries on transient failures.
// 5xx responses and network errors are retried; other non-200 responses
// and malformed payloads are permanent.
func (c *Client) do(ctx context.Context, method, url string, payload any) ([]byte, error) {
	var opts []retry.Option
	if len(c.retryBackoff) > 0 {
		opts = append(opts, retry.WithBackoff(c.retryBackoff...))
	}
	return retry.DoVal(ctx, func() ([]byte, error) {
		return c.doOnce(ctx, method, url, payload)
	}, opts...)
}

func (c *Client) doOnce(ctx context.Context, method, url string, payload any) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, retry.Permanent(fmt.Errorf("marshaling request: %w", err))
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("agent API returned HTTP %d: %s", resp.StatusCode, truncate(string(body), 200))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, retry.Permanent(fmt.Errorf("agent API returned HTTP %d: %s", resp.StatusCode, truncate(string(body), 200)))
	}
	return body, nil
}

// classify wraps the final error from a retried call into an agent Error
// carrying the transient/permanent distinction.
func (c *Client) classify(op string, err error) error {
	return &Error{Op: op, Transient: !retry.IsPermanent(err), Err: err}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
