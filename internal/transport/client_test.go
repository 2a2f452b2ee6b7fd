// Confatlas - Multi-Tenant Video Conferencing Control Plane
// Copyright 2026 Confatlas Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/confatlas/confatlas

package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confatlas/confatlas/internal/models"
)

func testProvider() *models.Provider {
	return &models.Provider{
		ID:        1,
		ClusterID: 1,
		Username:  "api",
		Password:  "secret",
		Enabled:   true,
	}
}

func testClient(t *testing.T, handler http.Handler, cfg Config) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg.BaseURL = srv.URL
	return NewClient(testProvider(), cfg), srv
}

func TestClientBasicAuth(t *testing.T) {
	t.Parallel()

	var gotUser, gotPass string
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, gotPass, _ = r.BasicAuth()
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}), Config{AuthMode: AuthBasic})

	resp, err := c.Get(context.Background(), "/api/status", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "api", gotUser)
	assert.Equal(t, "secret", gotPass)
}

func TestClientSessionCookie(t *testing.T) {
	t.Parallel()

	var gotCookie string
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cookie, err := r.Cookie(CookieName); err == nil {
			gotCookie = cookie.Value
		}
		w.WriteHeader(http.StatusOK)
	}), Config{AuthMode: AuthSession})
	c.Provider.SessionID = "sess-123"

	_, err := c.Get(context.Background(), "/api/v1/system/status", nil)
	require.NoError(t, err)
	assert.Equal(t, "sess-123", gotCookie)
}

func TestClientRetriesOn503(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}), Config{AuthMode: AuthBasic})

	resp, err := c.Get(context.Background(), "/flaky", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClientGivesUpAfter503Budget(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}), Config{AuthMode: AuthBasic})

	_, err := c.Get(context.Background(), "/down", nil)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Equal(t, int32(unavailableRetries+1), calls.Load())
}

func TestClientReloginAndReplayOn401(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	loggedIn := false
	loginCalls := 0

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		ok := loggedIn
		mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("authorized"))
	})

	login := func(ctx context.Context, c *Client, force bool) error {
		mu.Lock()
		defer mu.Unlock()
		loginCalls++
		loggedIn = true
		return c.SaveSession(ctx, "fresh-session", time.Now().Add(10*time.Hour))
	}

	c, _ := testClient(t, handler, Config{AuthMode: AuthSession, Login: login})

	resp, err := c.Get(context.Background(), "/protected", nil)
	require.NoError(t, err)
	assert.Equal(t, "authorized", string(resp.Body))
	assert.Equal(t, 1, loginCalls)
	assert.Equal(t, "fresh-session", c.Provider.SessionID)
}

func TestClientSecondAuthFailureSurfaces(t *testing.T) {
	t.Parallel()

	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}), Config{
		AuthMode: AuthSession,
		Login: func(ctx context.Context, c *Client, force bool) error {
			return nil // login "succeeds" but backend still rejects
		},
	})

	_, err := c.Get(context.Background(), "/protected", nil)
	require.Error(t, err)
	assert.True(t, IsAuthentication(err))
}

func TestClientErrorClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "404 is NotFound",
			status: http.StatusNotFound,
			body:   "missing",
			check:  func(t *testing.T, err error) { assert.True(t, IsNotFound(err)) },
		},
		{
			name:   "400 already exists is Duplicate",
			status: http.StatusBadRequest,
			body:   `<failureDetails><duplicateCoSpaceUri uri="team"/>already exists</failureDetails>`,
			check: func(t *testing.T, err error) {
				assert.True(t, IsDuplicate(err))
				var dup *DuplicateError
				require.ErrorAs(t, err, &dup)
				assert.Contains(t, dup.Fields, "uri")
			},
		},
		{
			name:   "400 field map is MessageResponseError",
			status: http.StatusBadRequest,
			body:   `{"aliases": ["alias already taken"], "name": ["too long"]}`,
			check: func(t *testing.T, err error) {
				var msgErr *MessageResponseError
				require.ErrorAs(t, err, &msgErr)
				assert.Equal(t, []string{"alias already taken"}, msgErr.Fields["aliases"])
			},
		},
		{
			name:   "500 is ResponseError",
			status: http.StatusInternalServerError,
			body:   "boom",
			check: func(t *testing.T, err error) {
				var respErr *ResponseError
				require.ErrorAs(t, err, &respErr)
				assert.Equal(t, http.StatusInternalServerError, respErr.Status)
			},
		},
		{
			name:   "backend failed-to-find marker is NotFound",
			status: http.StatusOK + 420, // unusual status with marker body
			body:   `<failureDetails>Failed to find coSpace</failureDetails>`,
			check:  func(t *testing.T, err error) { assert.True(t, IsNotFound(err)) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}), Config{AuthMode: AuthBasic})

			_, err := c.Get(context.Background(), "/x", nil)
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestClientTimeout(t *testing.T) {
	t.Parallel()

	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}), Config{AuthMode: AuthBasic})

	_, err := c.Get(context.Background(), "/slow", &Opts{Timeout: 50 * time.Millisecond})
	require.Error(t, err)
	var timeoutErr *ResponseTimeoutError
	assert.ErrorAs(t, err, &timeoutErr)
}

type recordingTracer struct {
	mu     sync.Mutex
	traces []models.TraceLog
	errors []models.ErrorLog
}

func (r *recordingTracer) Trace(_ context.Context, entry models.TraceLog) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.traces = append(r.traces, entry)
}

func (r *recordingTracer) LogError(_ context.Context, entry models.ErrorLog) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, entry)
}

func TestClientTracing(t *testing.T) {
	t.Parallel()

	tracer := &recordingTracer{}
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("traced"))
	}), Config{AuthMode: AuthBasic, Tracer: tracer, CustomerID: 7})

	_, err := c.Post(context.Background(), "/api/thing", []byte(`{"a":1}`), nil)
	require.NoError(t, err)

	require.Len(t, tracer.traces, 1)
	trace := tracer.traces[0]
	assert.Equal(t, int64(7), trace.CustomerID)
	assert.Equal(t, http.MethodPost, trace.Method)
	assert.Equal(t, `{"a":1}`, trace.RequestBody)
	assert.Equal(t, "traced", trace.ResponseBody)
}

func TestClientErrorsAreLogged(t *testing.T) {
	t.Parallel()

	tracer := &recordingTracer{}
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}), Config{AuthMode: AuthBasic, Tracer: tracer})

	_, err := c.Get(context.Background(), "/broken", nil)
	require.Error(t, err)

	require.Len(t, tracer.errors, 1)
	assert.Contains(t, tracer.errors[0].Origin, "/broken")
}
