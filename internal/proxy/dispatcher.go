// Package proxy forwards admitted requests to their project's upstream and
// streams the response back. Dispatch happens strictly after an ALLOW
// verdict; nothing here can turn into an admission decision.
package proxy

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"admission-gateway/internal/apikey"
	"admission-gateway/internal/common/errors"
	"admission-gateway/internal/common/logging"
)

// hopByHopHeaders are connection-scoped headers that must not be forwarded
// in either direction (RFC 7230 section 6.1).
var hopByHopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailers":            {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

// Config holds dispatcher settings.
type Config struct {
	// Timeout bounds one upstream request, connect through last body byte.
	Timeout time.Duration
	// MaxIdleConnsPerHost sizes the shared connection pool per upstream.
	MaxIdleConnsPerHost int
}

// DefaultConfig returns the dispatcher defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:             30 * time.Second,
		MaxIdleConnsPerHost: 10,
	}
}

// Dispatcher owns a single shared HTTP client for all upstream traffic.
type Dispatcher struct {
	client *http.Client
	logger logging.Logger
}

func NewDispatcher(config Config, logger logging.Logger) *Dispatcher {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxIdleConnsPerHost <= 0 {
		config.MaxIdleConnsPerHost = 10
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: config.MaxIdleConnsPerHost,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Dispatcher{
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
			// The gateway is transparent: redirects belong to the client.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: logger.WithFields(logging.Field{Key: "component", Value: "dispatcher"}),
	}
}

// Forward sends the original request to upstreamBaseURL joined with the
// request path and streams the upstream response back without buffering the
// body. Upstream failures are written as 502 (or 504 on deadline) and
// returned so the caller can log them as UPSTREAM_ERROR. The returned status
// is always the one written to the client, so per-request records match the
// response.
func (d *Dispatcher) Forward(w http.ResponseWriter, r *http.Request, upstreamBaseURL string) (int, error) {
	target, err := buildTargetURL(upstreamBaseURL, r.URL)
	if err != nil {
		http.Error(w, "Bad gateway", http.StatusBadGateway)
		return http.StatusBadGateway, errors.UpstreamError("invalid upstream URL", err)
	}

	upstreamReq, err := http.NewRequestWithContext(r.Context(), r.Method, target, r.Body)
	if err != nil {
		http.Error(w, "Bad gateway", http.StatusBadGateway)
		return http.StatusBadGateway, errors.UpstreamError("failed to build upstream request", err)
	}

	copyRequestHeaders(upstreamReq.Header, r.Header)

	resp, err := d.client.Do(upstreamReq)
	if err != nil {
		status := http.StatusBadGateway
		if isTimeout(err) {
			status = http.StatusGatewayTimeout
		}
		http.Error(w, "Upstream service unreachable", status)
		return status, errors.UpstreamError("upstream request failed", err)
	}
	defer resp.Body.Close()

	copyResponseHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)

	if _, err := io.Copy(w, resp.Body); err != nil {
		// Headers are already gone; all we can do is record the broken stream.
		return resp.StatusCode, errors.UpstreamError("upstream response stream interrupted", err)
	}

	return resp.StatusCode, nil
}

// buildTargetURL joins the upstream base with the request path and query.
func buildTargetURL(base string, reqURL *url.URL) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}

	target := *baseURL
	target.Path = strings.TrimRight(baseURL.Path, "/") + reqURL.Path
	target.RawQuery = reqURL.RawQuery

	return target.String(), nil
}

// copyRequestHeaders forwards client headers minus hop-by-hop headers and
// the gateway's own auth header, which must never reach the upstream.
func copyRequestHeaders(dst, src http.Header) {
	for name, values := range src {
		if _, hop := hopByHopHeaders[http.CanonicalHeaderKey(name)]; hop {
			continue
		}
		if strings.EqualFold(name, apikey.Header) {
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}

// copyResponseHeaders passes upstream headers through unmodified except for
// hop-by-hop headers. Nothing the gateway adds may shadow an upstream header.
func copyResponseHeaders(dst, src http.Header) {
	for name, values := range src {
		if _, hop := hopByHopHeaders[http.CanonicalHeaderKey(name)]; hop {
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if ne, ok := err.(interface{ Timeout() bool }); ok && ne.Timeout() {
		return true
	}
	return err == context.DeadlineExceeded || strings.Contains(err.Error(), "context deadline exceeded")
}
