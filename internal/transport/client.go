// Confatlas - Multi-Tenant Video Conferencing Control Plane
// Copyright 2026 Confatlas Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/confatlas/confatlas

// Package transport is the uniform HTTPS layer under every backend
// adapter: authenticated requests with session refresh on 401, bounded
// 503 retries, circuit breaking per provider, and trace/error logging.
// Transport outcomes are always mapped to the typed errors in this
// package; raw network errors never bubble to adapters.
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"

	"github.com/confatlas/confatlas/internal/logging"
	"github.com/confatlas/confatlas/internal/metrics"
	"github.com/confatlas/confatlas/internal/models"
)

const (
	// defaultConnectTimeout / defaultReadTimeout are the standing
	// request bounds. Backends can take minutes on bulk listings.
	defaultConnectTimeout = 6 * time.Second
	defaultReadTimeout    = 20 * time.Minute

	// shortConnectTimeout applies when the caller asks for a quick
	// request (read timeout under 10s).
	shortConnectTimeout   = 3 * time.Second
	shortTimeoutThreshold = 10 * time.Second

	// unavailableRetries bounds 503 retries, spaced by unavailableDelay.
	unavailableRetries = 5
	unavailableDelay   = 200 * time.Millisecond

	// maxBodySize caps how much of a response is read into memory.
	maxBodySize = 16 << 20 // 16MB
)

// Response is the uniform result of a transport request.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// JSON unmarshals the response body.
func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// Location returns the Location header, typically carrying the id of a
// created object.
func (r *Response) Location() string {
	return r.Headers.Get("Location")
}

// Opts are per-request options.
type Opts struct {
	// Params are appended to the request URL.
	Params url.Values

	// Timeout overrides the read timeout. Values under 10s also
	// shorten the connect timeout to 3s.
	Timeout time.Duration

	ContentType string
	Headers     map[string]string

	// NoRetry disables the 503 retry loop, for requests that must not
	// be replayed.
	NoRetry bool
}

// AuthMode selects how requests are authenticated.
type AuthMode int

const (
	// AuthNone sends no credentials (login endpoints).
	AuthNone AuthMode = iota
	// AuthBasic sends basic auth on every request.
	AuthBasic
	// AuthSession sends the provider's session cookie, refreshed on
	// demand through the LoginFunc.
	AuthSession
)

// LoginFunc performs a family-specific login against the provider,
// updating its session state. Called with force before a replay.
type LoginFunc func(ctx context.Context, c *Client, force bool) error

// SessionStore persists refreshed provider sessions so peers share them.
type SessionStore interface {
	SaveSession(ctx context.Context, providerID int64, sessionID string, expires time.Time) error
}

// Tracer receives request snapshots and backend failures. The database
// implementation filters traces to the active (customer, cluster,
// provider) scope and caps table sizes.
type Tracer interface {
	Trace(ctx context.Context, entry models.TraceLog)
	LogError(ctx context.Context, entry models.ErrorLog)
}

// CookieName is the session cookie the call-bridge family issues.
const CookieName = "Authentication-Token"

// Client is the authenticated transport for one backend provider.
// Safe for concurrent use.
type Client struct {
	Provider   *models.Provider
	CustomerID int64

	authMode AuthMode
	login    LoginFunc
	sessions SessionStore
	tracer   Tracer

	breaker *gobreaker.CircuitBreaker[*http.Response]

	// standard and short clients differ only in connect timeout.
	standard *http.Client
	short    *http.Client

	baseURL string
	loginMu sync.Mutex
}

// Config configures a transport client.
type Config struct {
	AuthMode AuthMode
	Login    LoginFunc
	Sessions SessionStore
	Tracer   Tracer

	// CustomerID scopes trace logging.
	CustomerID int64

	// BaseURL overrides the https://host:port root derived from the
	// provider. Used by tests.
	BaseURL string
}

// NewClient builds a transport client for the given provider.
func NewClient(provider *models.Provider, cfg Config) *Client {
	breaker := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        fmt.Sprintf("backend-%d", provider.ID),
		MaxRequests: 1,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &Client{
		Provider:   provider,
		CustomerID: cfg.CustomerID,
		authMode:   cfg.AuthMode,
		login:      cfg.Login,
		sessions:   cfg.Sessions,
		tracer:     cfg.Tracer,
		breaker:    breaker,
		standard:   newHTTPClient(provider, defaultConnectTimeout),
		short:      newHTTPClient(provider, shortConnectTimeout),
		baseURL:    cfg.BaseURL,
	}
}

func newHTTPClient(provider *models.Provider, connectTimeout time.Duration) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout: connectTimeout,
			}).DialContext,
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: !provider.VerifyTLS, //nolint:gosec // operator-controlled per provider
			},
			TLSHandshakeTimeout: connectTimeout,
			MaxIdleConnsPerHost: 4,
		},
	}
}

// BaseURL returns the provider's API root.
func (c *Client) BaseURL() string {
	if c.baseURL != "" {
		return c.baseURL
	}
	host := c.Provider.APIHostname()
	if c.Provider.Port != 0 && c.Provider.Port != 443 {
		host = fmt.Sprintf("%s:%d", host, c.Provider.Port)
	}
	return "https://" + host
}

// Get performs an authenticated GET.
func (c *Client) Get(ctx context.Context, path string, opts *Opts) (*Response, error) {
	return c.Request(ctx, http.MethodGet, path, nil, opts)
}

// Post performs an authenticated POST.
func (c *Client) Post(ctx context.Context, path string, body []byte, opts *Opts) (*Response, error) {
	return c.Request(ctx, http.MethodPost, path, body, opts)
}

// Put performs an authenticated PUT.
func (c *Client) Put(ctx context.Context, path string, body []byte, opts *Opts) (*Response, error) {
	return c.Request(ctx, http.MethodPut, path, body, opts)
}

// Patch performs an authenticated PATCH.
func (c *Client) Patch(ctx context.Context, path string, body []byte, opts *Opts) (*Response, error) {
	return c.Request(ctx, http.MethodPatch, path, body, opts)
}

// Delete performs an authenticated DELETE.
func (c *Client) Delete(ctx context.Context, path string, opts *Opts) (*Response, error) {
	return c.Request(ctx, http.MethodDelete, path, nil, opts)
}

// Request performs one authenticated request with the full failure
// policy: 503 retries with backoff, one re-login and replay on an
// authentication failure, typed errors for everything else.
func (c *Client) Request(ctx context.Context, method, path string, body []byte, opts *Opts) (*Response, error) {
	resp, err := c.do(ctx, method, path, body, opts)

	if err != nil && IsAuthentication(err) && c.login != nil {
		if loginErr := c.relogin(ctx); loginErr != nil {
			c.traceError(ctx, method, path, loginErr)
			return nil, loginErr
		}
		resp, err = c.do(ctx, method, path, body, opts)
	}

	if err != nil {
		c.traceError(ctx, method, path, err)
		return nil, err
	}
	return resp, nil
}

// relogin serializes session refresh so concurrent 401s produce one
// login, not a stampede.
func (c *Client) relogin(ctx context.Context) error {
	c.loginMu.Lock()
	defer c.loginMu.Unlock()
	return c.login(ctx, c, true)
}

// SaveSession records a refreshed session on the provider and persists
// it when a store is configured.
func (c *Client) SaveSession(ctx context.Context, sessionID string, expires time.Time) error {
	c.Provider.SessionID = sessionID
	c.Provider.SessionExpires = expires
	if c.sessions == nil {
		return nil
	}
	return c.sessions.SaveSession(ctx, c.Provider.ID, sessionID, expires)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, opts *Opts) (*Response, error) {
	fullURL := c.BaseURL() + path
	if opts != nil && len(opts.Params) > 0 {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		fullURL += sep + opts.Params.Encode()
	}

	readTimeout := defaultReadTimeout
	httpClient := c.standard
	if opts != nil && opts.Timeout > 0 {
		readTimeout = opts.Timeout
		if opts.Timeout < shortTimeoutThreshold {
			httpClient = c.short
		}
	}

	retries := unavailableRetries
	if opts != nil && opts.NoRetry {
		retries = 0
	}

	start := time.Now()
	var resp *Response
	var err error
	for attempt := 0; ; attempt++ {
		resp, err = c.doOnce(ctx, httpClient, method, fullURL, body, opts, readTimeout)
		if err != nil {
			return nil, err
		}
		if resp.Status != http.StatusServiceUnavailable || attempt >= retries {
			break
		}
		logging.Debug().
			Int64("provider", c.Provider.ID).
			Int("attempt", attempt+1).
			Str("url", fullURL).
			Msg("backend unavailable, retrying")
		select {
		case <-ctx.Done():
			return nil, &ResponseTimeoutError{URL: fullURL, Err: ctx.Err()}
		case <-time.After(unavailableDelay):
		}
	}

	metrics.ObserveBackend(string(c.Provider.Family), resp.Status, time.Since(start))
	c.trace(ctx, method, fullURL, body, resp)
	return c.classify(fullURL, resp)
}

func (c *Client) doOnce(ctx context.Context, httpClient *http.Client, method, fullURL string, body []byte, opts *Opts, readTimeout time.Duration) (*Response, error) {
	reqCtx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, fullURL, reader)
	if err != nil {
		return nil, &ResponseError{URL: fullURL, Body: err.Error()}
	}

	c.applyAuth(req)
	if opts != nil {
		if opts.ContentType != "" {
			req.Header.Set("Content-Type", opts.ContentType)
		}
		for k, v := range opts.Headers {
			req.Header.Set(k, v)
		}
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	httpResp, err := c.breaker.Execute(func() (*http.Response, error) {
		return httpClient.Do(req)
	})
	if err != nil {
		return nil, mapNetworkError(fullURL, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodySize))
	if err != nil {
		return nil, mapNetworkError(fullURL, err)
	}

	return &Response{Status: httpResp.StatusCode, Headers: httpResp.Header, Body: respBody}, nil
}

func (c *Client) applyAuth(req *http.Request) {
	switch c.authMode {
	case AuthBasic:
		req.SetBasicAuth(c.Provider.Username, c.Provider.Password)
	case AuthSession:
		if c.Provider.SessionID != "" {
			req.AddCookie(&http.Cookie{Name: CookieName, Value: c.Provider.SessionID})
		}
	}
}

// classify maps an HTTP response to (Response, nil) or a typed error.
func (c *Client) classify(fullURL string, resp *Response) (*Response, error) {
	switch {
	case resp.Status < 400:
		return resp, nil

	case resp.Status == http.StatusUnauthorized || resp.Status == http.StatusForbidden:
		return nil, &AuthenticationError{URL: fullURL, Status: resp.Status}

	case resp.Status == http.StatusNotFound:
		return nil, &NotFoundError{URL: fullURL, Body: string(resp.Body)}

	case resp.Status == http.StatusBadRequest:
		body := string(resp.Body)
		if strings.Contains(strings.ToLower(body), "already exists") {
			return nil, &DuplicateError{URL: fullURL, Body: body, Fields: duplicateFields(body)}
		}
		if fields := parseFieldErrors(resp.Body); len(fields) > 0 {
			return nil, &MessageResponseError{URL: fullURL, Fields: fields}
		}
		return nil, &ResponseError{URL: fullURL, Status: resp.Status, Body: body}

	case resp.Status == http.StatusServiceUnavailable:
		return nil, &ResponseConnectionError{URL: fullURL, Err: errors.New("service unavailable after retries")}

	default:
		if strings.Contains(string(resp.Body), "Failed to find") {
			return nil, &NotFoundError{URL: fullURL, Body: string(resp.Body)}
		}
		return nil, &ResponseError{URL: fullURL, Status: resp.Status, Body: string(resp.Body)}
	}
}

// duplicateFields extracts the colliding identifier keys the backends
// name in their duplicate responses.
func duplicateFields(body string) []string {
	var fields []string
	lower := strings.ToLower(body)
	for _, key := range []string{"uri", "call_id", "callid", "alias", "name", "secondaryuri"} {
		if strings.Contains(lower, strings.ToLower(key)) {
			fields = append(fields, key)
		}
	}
	return fields
}

// parseFieldErrors decodes a {field: [message, ...]} validation body.
func parseFieldErrors(body []byte) map[string][]string {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil || len(raw) == 0 {
		return nil
	}
	fields := make(map[string][]string, len(raw))
	for key, val := range raw {
		switch v := val.(type) {
		case []any:
			msgs := make([]string, 0, len(v))
			for _, m := range v {
				if s, ok := m.(string); ok {
					msgs = append(msgs, s)
				}
			}
			if len(msgs) > 0 {
				fields[key] = msgs
			}
		case string:
			fields[key] = []string{v}
		}
	}
	if len(fields) == 0 {
		return nil
	}
	return fields
}

func mapNetworkError(fullURL string, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ResponseTimeoutError{URL: fullURL, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ResponseTimeoutError{URL: fullURL, Err: err}
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &ResponseConnectionError{URL: fullURL, Err: err}
	}
	return &ResponseConnectionError{URL: fullURL, Err: err}
}

func (c *Client) trace(ctx context.Context, method, fullURL string, body []byte, resp *Response) {
	if c.tracer == nil {
		return
	}
	headers := make([]string, 0, len(resp.Headers))
	for k := range resp.Headers {
		headers = append(headers, k+": "+resp.Headers.Get(k))
	}
	c.tracer.Trace(ctx, models.TraceLog{
		CustomerID:      c.CustomerID,
		ClusterID:       c.Provider.ClusterID,
		ProviderID:      c.Provider.ID,
		Method:          method,
		URL:             fullURL,
		RequestBody:     string(body),
		ResponseStatus:  resp.Status,
		ResponseBody:    string(resp.Body),
		ResponseHeaders: strings.Join(headers, "\n"),
	})
}

func (c *Client) traceError(ctx context.Context, method, path string, err error) {
	logging.Err(err).
		Int64("provider", c.Provider.ID).
		Str("method", method).
		Str("path", path).
		Msg("backend request failed")
	if c.tracer == nil {
		return
	}
	c.tracer.LogError(ctx, models.ErrorLog{
		CustomerID: c.CustomerID,
		ClusterID:  c.Provider.ClusterID,
		ProviderID: c.Provider.ID,
		Origin:     method + " " + path,
		URL:        c.BaseURL() + path,
		Message:    err.Error(),
	})
}
