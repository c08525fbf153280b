// Package refresher keeps the snapshot store current. A background loop
// fetches the full configuration document from the control plane at a
// jittered interval, validates it into a candidate snapshot and installs it
// atomically. Request handling never waits on any of this.
package refresher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"admission-gateway/internal/circuitbreaker"
	"admission-gateway/internal/common/errors"
	"admission-gateway/internal/snapshot"
)

// SecretHeader authenticates the gateway to the control plane.
const SecretHeader = "x-worker-secret"

// configPath is the control-plane endpoint serving the full config document.
const configPath = "/internal/worker/config"

// configDocument is the wire format of the control plane's config response.
type configDocument struct {
	Projects []projectDocument `json:"projects"`
}

type projectDocument struct {
	ID          string        `json:"id"`
	UpstreamURL string        `json:"upstream_url"`
	APIKeys     []string      `json:"api_keys"`
	RateLimit   *rateLimitDoc `json:"rate_limit,omitempty"`
}

type rateLimitDoc struct {
	RequestsPerWindow int `json:"requests_per_window"`
	WindowSeconds     int `json:"window_seconds"`
	Burst             int `json:"burst"`
}

// ClientConfig holds control plane client settings.
type ClientConfig struct {
	BaseURL string
	Secret  string
	Timeout time.Duration
}

// Client fetches configuration documents from the control plane over an
// authenticated channel.
type Client struct {
	config  ClientConfig
	http    *http.Client
	breaker *circuitbreaker.Breaker
}

// NewClient creates a control plane client. The breaker is optional; when
// present, fetches against a dead control plane fail fast instead of eating
// the full timeout every cycle.
func NewClient(config ClientConfig, breaker *circuitbreaker.Breaker) *Client {
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}

	return &Client{
		config:  config,
		http:    &http.Client{Timeout: config.Timeout},
		breaker: breaker,
	}
}

// Fetch retrieves and parses the config document. Any non-200 response,
// transport failure or parse failure is a fetch failure; the caller keeps
// the previous snapshot.
func (c *Client) Fetch(ctx context.Context) ([]*snapshot.ProjectEntry, error) {
	var entries []*snapshot.ProjectEntry

	fetch := func() error {
		doc, err := c.fetchDocument(ctx)
		if err != nil {
			return err
		}
		entries, err = parseDocument(doc)
		return err
	}

	if c.breaker != nil {
		if err := c.breaker.Execute(ctx, fetch); err != nil {
			return nil, err
		}
		return entries, nil
	}

	if err := fetch(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (c *Client) fetchDocument(ctx context.Context) (*configDocument, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+configPath, nil)
	if err != nil {
		return nil, errors.ConfigFetchError("failed to build config request", err)
	}
	req.Header.Set(SecretHeader, c.config.Secret)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.ConfigFetchError("config fetch failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errors.ConfigFetchError(
			fmt.Sprintf("control plane returned status %d: %s", resp.StatusCode, string(body)), nil)
	}

	var doc configDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, errors.ConfigFetchError("failed to parse config document", err)
	}

	return &doc, nil
}

// parseDocument converts the wire document into snapshot entries. Structural
// problems surface here; semantic validation happens in snapshot.Build.
func parseDocument(doc *configDocument) ([]*snapshot.ProjectEntry, error) {
	if len(doc.Projects) == 0 {
		return nil, errors.ValidationError("config document contains no projects")
	}

	entries := make([]*snapshot.ProjectEntry, 0, len(doc.Projects))
	for _, p := range doc.Projects {
		entry := &snapshot.ProjectEntry{
			ProjectID:        p.ID,
			UpstreamBaseURL:  p.UpstreamURL,
			AllowedKeyHashes: p.APIKeys,
		}

		if p.RateLimit != nil {
			entry.RateLimitPolicy = &snapshot.RateLimitPolicy{
				RequestsPerWindow: p.RateLimit.RequestsPerWindow,
				Window:            time.Duration(p.RateLimit.WindowSeconds) * time.Second,
				Burst:             p.RateLimit.Burst,
			}
		}

		entries = append(entries, entry)
	}

	return entries, nil
}
