// Package registry implements the HTTP client for the agent manager:
// role configuration lookups and the global tool list.
//
// Responses are cached opportunistically. A TTL-fresh entry is served
// from memory without touching the network; when a refresh fails, any
// stale entry is served instead so a registry outage does not stop
// agents that have run before.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hivegrid/colony"
)

const defaultTTL = 5 * time.Minute

// Option configures a Client.
type Option func(*Client)

// WithLogger sets a structured logger for the client.
// If not set, no logs are emitted.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithTTL sets how long a cached entry counts as fresh.
func WithTTL(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// Client resolves agent roles and lists the global tool registry over the
// agent-manager HTTP API. It implements colony.RoleSource and
// colony.ToolSource and is safe for concurrent use.
type Client struct {
	baseURL string
	client  *http.Client
	ttl     time.Duration
	logger  *slog.Logger

	mu    sync.Mutex
	roles map[string]roleEntry
	tools *toolsEntry
}

var _ colony.RoleSource = (*Client)(nil)
var _ colony.ToolSource = (*Client)(nil)

type roleEntry struct {
	cfg     colony.RoleConfig
	fetched time.Time
}

type toolsEntry struct {
	specs   []colony.ToolSpec
	fetched time.Time
}

// NewClient creates a registry client for the API at baseURL
// (e.g. "http://agent-manager:8080"). Paths are appended automatically.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 15 * time.Second},
		ttl:     defaultTTL,
		logger:  nopLogger,
		roles:   map[string]roleEntry{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Role returns the configuration for one agent role from
// GET /api/agents/{role}.
func (c *Client) Role(ctx context.Context, role string) (colony.RoleConfig, error) {
	if role == "" {
		return colony.RoleConfig{}, &colony.ErrValidation{Field: "agent_role", Reason: "must not be empty"}
	}

	c.mu.Lock()
	entry, cached := c.roles[role]
	c.mu.Unlock()
	if cached && time.Since(entry.fetched) < c.ttl {
		return entry.cfg, nil
	}

	var cfg colony.RoleConfig
	if err := c.getJSON(ctx, "/api/agents/"+url.PathEscape(role), &cfg); err != nil {
		if cached {
			c.logger.Warn("registry: role fetch failed, serving stale", "role", role, "error", err)
			return entry.cfg, nil
		}
		c.logger.Error("registry: role fetch failed", "role", role, "error", err)
		return colony.RoleConfig{}, fmt.Errorf("fetch role %s: %w", role, err)
	}
	if cfg.Role == "" {
		cfg.Role = role
	}

	c.mu.Lock()
	c.roles[role] = roleEntry{cfg: cfg, fetched: time.Now()}
	c.mu.Unlock()
	c.logger.Debug("registry: role refreshed", "role", role, "model", cfg.Model, "tools", len(cfg.AllowedTools))
	return cfg, nil
}

// Tools returns the global tool registry from GET /api/tools.
func (c *Client) Tools(ctx context.Context) ([]colony.ToolSpec, error) {
	c.mu.Lock()
	entry := c.tools
	c.mu.Unlock()
	if entry != nil && time.Since(entry.fetched) < c.ttl {
		return entry.specs, nil
	}

	var specs []colony.ToolSpec
	if err := c.getJSON(ctx, "/api/tools", &specs); err != nil {
		if entry != nil {
			c.logger.Warn("registry: tools fetch failed, serving stale", "error", err)
			return entry.specs, nil
		}
		c.logger.Error("registry: tools fetch failed", "error", err)
		return nil, fmt.Errorf("fetch tools: %w", err)
	}

	c.mu.Lock()
	c.tools = &toolsEntry{specs: specs, fetched: time.Now()}
	c.mu.Unlock()
	c.logger.Debug("registry: tools refreshed", "count", len(specs))
	return specs, nil
}

// getJSON fetches one API path and decodes the 200 body into out.
// Non-200 responses surface as *colony.ErrHTTP for retry middleware.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &colony.ErrHTTP{
			Status:     resp.StatusCode,
			Body:       string(body),
			RetryAfter: colony.ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// nopLogger is a logger that discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
