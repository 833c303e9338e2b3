// Package nexus provides a small Go client for the lab assistant REST API.
package nexus

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
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 30 * time.Second

// Client wraps the HTTP interactions with the lab assistant REST API.
type Client struct {
	baseURL    *url.URL
	apiKey     string
	httpClient *http.Client
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithAPIKey sets the X-API-Key header on every request.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = strings.TrimSpace(key)
	}
}

// NewClient creates a client for the given base URL, e.g. "http://localhost:8080".
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(baseURL)
	if trimmed == "" {
		return nil, errors.New("base URL is required")
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	c := &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: DefaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// TurnReply is the response of one chat turn. MaxIterationsExceeded marks
// a degraded turn: the reply is a best-effort partial answer produced after
// the reasoning loop hit its bound.
type TurnReply struct {
	ConversationID        string   `json:"conversation_id"`
	Reply                 string   `json:"reply"`
	AgentID               string   `json:"agent_id"`
	AgentName             string   `json:"agent_name"`
	Intent                string   `json:"intent"`
	Fallback              bool     `json:"fallback"`
	Iterations            int      `json:"iterations"`
	ToolsUsed             []string `json:"tools_used"`
	MaxIterationsExceeded bool     `json:"max_iterations_exceeded,omitempty"`
	Error                 string   `json:"error,omitempty"`
}

// Chat sends one user message in the given conversation and returns the
// assistant reply.
func (c *Client) Chat(ctx context.Context, conversationID, message string) (*TurnReply, error) {
	return c.chat(ctx, conversationID, message, "")
}

// ChatWithAgent sends one user message directly to the named agent,
// bypassing intent routing on the server.
func (c *Client) ChatWithAgent(ctx context.Context, conversationID, agentID, message string) (*TurnReply, error) {
	return c.chat(ctx, conversationID, message, agentID)
}

func (c *Client) chat(ctx context.Context, conversationID, message, agentOverride string) (*TurnReply, error) {
	body := map[string]string{
		"conversation_id": conversationID,
		"message":         message,
	}
	if agentOverride != "" {
		body["agent_override"] = agentOverride
	}
	var reply TurnReply
	if err := c.post(ctx, "/api/chat", body, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// NotarizeAsync enqueues a provenance job for the experiment and returns the
// job id.
func (c *Client) NotarizeAsync(ctx context.Context, experimentID string) (string, error) {
	body := map[string]string{"experiment_id": experimentID}
	var out struct {
		JobID string `json:"job_id"`
	}
	if err := c.post(ctx, "/api/provenance/jobs", body, &out); err != nil {
		return "", err
	}
	return out.JobID, nil
}

// LedgerStatus describes ledger connectivity as reported by the service.
type LedgerStatus struct {
	Connected bool   `json:"connected"`
	NetworkID string `json:"network_id"`
	Account   string `json:"account"`
	Balance   string `json:"balance"`
}

// GetLedgerStatus reports ledger connectivity, account and balance.
func (c *Client) GetLedgerStatus(ctx context.Context) (*LedgerStatus, error) {
	var status LedgerStatus
	if err := c.get(ctx, "/api/ledger/status", &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *Client) post(ctx context.Context, path string, body, target any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.resolve(path), bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, target)
}

func (c *Client) get(ctx context.Context, path string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolve(path), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return c.do(req, target)
}

func (c *Client) do(req *http.Request, target any) error {
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("api error %s: %s", apiErr.Error, apiErr.Message)
		}
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if target == nil {
		return nil
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) resolve(path string) string {
	ref := *c.baseURL
	ref.Path = strings.TrimRight(ref.Path, "/") + path
	return ref.String()
}
