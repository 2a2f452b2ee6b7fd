// Confatlas - Multi-Tenant Video Conferencing Control Plane
// Copyright 2026 Confatlas Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/confatlas/confatlas

package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confatlas/confatlas/internal/backends"
	"github.com/confatlas/confatlas/internal/cluster"
	"github.com/confatlas/confatlas/internal/config"
	"github.com/confatlas/confatlas/internal/database"
	"github.com/confatlas/confatlas/internal/models"
	"github.com/confatlas/confatlas/internal/provision"
	"github.com/confatlas/confatlas/internal/stats"
	"github.com/confatlas/confatlas/internal/tasks"
	"github.com/confatlas/confatlas/internal/tenantmatch"
)

// confSim fakes the conference-server endpoints the API exercises.
type confSim struct {
	mu sync.Mutex

	confSeq     int
	conferences map[string]map[string]any
	aliases     []map[string]any
	deleted     []string
	eventSinks  []string
}

func newConfSim() *confSim {
	return &confSim{conferences: map[string]map[string]any{}}
}

func (b *confSim) handler(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	path := strings.TrimSuffix(r.URL.Path, "/")
	switch {
	case path == "/api/admin/status/v1/system" && r.Method == http.MethodGet:
		fmt.Fprint(w, `{"version": "29.1", "uptime": 7200}`)

	case path == "/api/admin/status/v1/licensing" && r.Method == http.MethodGet:
		fmt.Fprint(w, `{"objects": [{"license_type": "ports", "status": "active", "expiration_date": "2027-01-01"}]}`)

	case path == "/api/admin/status/v1/alarm" && r.Method == http.MethodGet:
		fmt.Fprint(w, `{"objects": [{"id": 7, "name": "licenses_expiring", "time_raised": "2026-08-01T00:00:00.000000"}]}`)

	case path == "/api/admin/configuration/v1/event_sink" && r.Method == http.MethodPost:
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		url, _ := body["url"].(string)
		b.eventSinks = append(b.eventSinks, url)
		w.Header().Set("Location", "/api/admin/configuration/v1/event_sink/1/")
		w.WriteHeader(http.StatusCreated)

	case path == "/api/admin/configuration/v1/conference" && r.Method == http.MethodPost:
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		b.confSeq++
		id := fmt.Sprintf("%d", 100+b.confSeq)
		b.conferences[id] = body
		w.Header().Set("Location", "/api/admin/configuration/v1/conference/"+id+"/")
		w.WriteHeader(http.StatusOK)

	case strings.HasPrefix(path, "/api/admin/configuration/v1/conference/"):
		id := strings.TrimPrefix(path, "/api/admin/configuration/v1/conference/")
		c, ok := b.conferences[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		switch r.Method {
		case http.MethodGet:
			out := map[string]any{"id": id}
			for k, v := range c {
				out[k] = v
			}
			_ = json.NewEncoder(w).Encode(out)
		case http.MethodPatch:
			var patch map[string]any
			_ = json.NewDecoder(r.Body).Decode(&patch)
			for k, v := range patch {
				c[k] = v
			}
			w.WriteHeader(http.StatusAccepted)
		case http.MethodDelete:
			delete(b.conferences, id)
			b.deleted = append(b.deleted, id)
			w.WriteHeader(http.StatusNoContent)
		}

	case path == "/api/admin/configuration/v1/conference_alias" && r.Method == http.MethodPost:
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		b.aliases = append(b.aliases, body)
		w.Header().Set("Location", fmt.Sprintf("/api/admin/configuration/v1/conference_alias/%d/", len(b.aliases)))
		w.WriteHeader(http.StatusOK)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type apiFixture struct {
	srv     *Server
	ts      *httptest.Server
	db      *database.DB
	sim     *confSim
	cluster *models.Cluster

	customer *models.Customer
	other    *models.Customer

	fullKey    string
	limitedKey string
	otherKey   string
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	ctx := context.Background()

	db, err := database.New(&config.DatabaseConfig{Path: ":memory:", Threads: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	sim := newConfSim()
	backend := httptest.NewServer(http.HandlerFunc(sim.handler))
	t.Cleanup(backend.Close)

	c := &models.Cluster{Title: "main", Family: models.FamilyConfServer,
		InternalDomain: "sip.acme.example"}
	require.NoError(t, db.CreateCluster(ctx, c))
	p := &models.Provider{ClusterID: c.ID, Family: c.Family,
		Hostname: "node1.acme.example", Port: 443,
		Username: "api", Password: "secret", Enabled: true}
	require.NoError(t, db.CreateProvider(ctx, p))

	f := &apiFixture{db: db, sim: sim, cluster: c,
		fullKey: "full-key-0001", limitedKey: "limited-key-01", otherKey: "other-key-0001"}

	f.customer = &models.Customer{Title: "Acme", ClusterID: c.ID, TenantIDA: "tenant-a"}
	require.NoError(t, db.CreateCustomer(ctx, f.customer))
	f.other = &models.Customer{Title: "Globex", ClusterID: c.ID, TenantIDA: "tenant-b"}
	require.NoError(t, db.CreateCustomer(ctx, f.other))

	for _, k := range []*models.CustomerKey{
		{CustomerID: f.customer.ID, Key: f.fullKey, Title: "main", Active: true},
		{CustomerID: f.customer.ID, Key: f.limitedKey, Title: "scoped", Active: true, LimitAPI: true},
		{CustomerID: f.other.ID, Key: f.otherKey, Title: "other", Active: true},
	} {
		require.NoError(t, db.CreateCustomerKey(ctx, k))
	}

	deps := backends.Deps{BaseURL: backend.URL}
	clusters := cluster.New(db)
	runner := tasks.New(db, config.TasksConfig{Workers: 1, MaxRetries: 3, RetryDelay: time.Second})
	prov := provision.New(db, clusters, runner, deps)
	prov.RegisterHandlers(runner, 10)

	ing := stats.New(db, clusters, tenantmatch.New(db), deps, config.StatsConfig{})
	pipeline := stats.NewPipeline(ing, config.EventsConfig{})

	f.srv = New(config.HTTPConfig{Port: 8080}, db, clusters, prov, pipeline, deps)
	f.ts = httptest.NewServer(f.srv.Handler())
	t.Cleanup(f.ts.Close)
	return f
}

// do issues a request against the fixture server. An empty key sends
// no credentials.
func (f *apiFixture) do(t *testing.T, method, path, key string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequest(method, f.ts.URL+path, rd)
	require.NoError(t, err)
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = resp.Body.Close()
	return resp, out
}

func (f *apiFixture) booking(title string) map[string]any {
	now := time.Now().UTC().Truncate(time.Second)
	return map[string]any{
		"title":            title,
		"creator":          "alice@acme.example",
		"ts_start":         now.Add(time.Hour),
		"ts_stop":          now.Add(2 * time.Hour),
		"internal_clients": 5,
		"external_clients": 2,
		"password":         "271828",
	}
}

func TestAuthentication(t *testing.T) {
	f := newAPIFixture(t)

	resp, _ := f.do(t, http.MethodGet, "/api/v1/clusters", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/api/v1/clusters", "no-such-key", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/api/v1/clusters", f.fullKey, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Extended comma-separated keys resolve through the grouping
	// candidates down to the matching singleton.
	resp, _ = f.do(t, http.MethodGet, "/api/v1/clusters", "stale-parent,"+f.fullKey, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, f.ts.URL+"/api/v1/clusters", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+f.fullKey)
	bearerResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = bearerResp.Body.Close()
	assert.Equal(t, http.StatusOK, bearerResp.StatusCode)
}

func TestLimitedKeyScope(t *testing.T) {
	f := newAPIFixture(t)

	resp, _ := f.do(t, http.MethodGet, "/api/v1/clusters", f.limitedKey, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Booking routes stay open to limited keys.
	resp, body := f.do(t, http.MethodPost, "/api/v1/meetings", f.limitedKey, f.booking("Scoped Standup"))
	assert.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
}

func TestBookingLifecycle(t *testing.T) {
	f := newAPIFixture(t)

	resp, body := f.do(t, http.MethodPost, "/api/v1/meetings", f.fullKey, f.booking("Quarterly Review"))
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var created meetingResponse
	require.NoError(t, json.Unmarshal(body, &created))
	assert.Equal(t, "Quarterly Review", created.Title)
	assert.NotEmpty(t, created.Key)
	assert.NotEmpty(t, created.CallID)
	assert.False(t, created.Cancelled)

	resp, body = f.do(t, http.MethodGet, "/api/v1/meetings/"+created.Key, f.fullKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var fetched meetingResponse
	require.NoError(t, json.Unmarshal(body, &fetched))
	assert.Equal(t, created.Key, fetched.Key)

	update := f.booking("Quarterly Review (moved)")
	resp, body = f.do(t, http.MethodPut, "/api/v1/meetings/"+created.Key, f.fullKey, update)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var rebooked meetingResponse
	require.NoError(t, json.Unmarshal(body, &rebooked))
	assert.Equal(t, "Quarterly Review (moved)", rebooked.Title)

	resp, _ = f.do(t, http.MethodDelete, "/api/v1/meetings/"+rebooked.Key, f.fullKey, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = f.do(t, http.MethodGet, "/api/v1/meetings/"+rebooked.Key, f.fullKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var gone meetingResponse
	require.NoError(t, json.Unmarshal(body, &gone))
	assert.True(t, gone.Cancelled)
	assert.False(t, gone.BackendActive)
}

func TestBookingValidation(t *testing.T) {
	f := newAPIFixture(t)

	bad := f.booking("Backwards")
	bad["ts_stop"] = bad["ts_start"]
	resp, body := f.do(t, http.MethodPost, "/api/v1/meetings", f.fullKey, bad)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "ts_stop")

	resp, _ = f.do(t, http.MethodPost, "/api/v1/meetings", f.fullKey, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMeetingOwnershipHidden(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()

	m := &models.Meeting{
		CustomerID: f.other.ID, ClusterID: f.cluster.ID,
		SecretKey: models.NewSecretKey(12), Title: "Private Sync",
		TSStart: time.Now().UTC().Add(time.Hour),
		TSStop:  time.Now().UTC().Add(2 * time.Hour),
	}
	require.NoError(t, f.db.CreateMeeting(ctx, m))

	resp, _ := f.do(t, http.MethodGet, "/api/v1/meetings/"+m.IDKey(), f.fullKey, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/api/v1/meetings/"+m.IDKey(), f.otherKey, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// A wrong secret reads the same as a missing row.
	resp, _ = f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/meetings/%d-wrongsecret", m.ID), f.otherKey, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestClusterStatusAndCDRHook(t *testing.T) {
	f := newAPIFixture(t)

	resp, body := f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/clusters/%d/status", f.cluster.ID), f.fullKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var st statusResponse
	require.NoError(t, json.Unmarshal(body, &st))
	assert.Equal(t, "29.1", st.Version)
	assert.Equal(t, int64(7200), st.Uptime)
	require.Len(t, st.Licenses, 1)
	assert.Equal(t, "ports", st.Licenses[0].Feature)
	require.Len(t, st.Alarms, 1)
	assert.Equal(t, "licenses_expiring", st.Alarms[0].Type)

	receiver := "https://atlas.acme.example/webhooks/events/1"
	resp, body = f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/clusters/%d/cdr-hook", f.cluster.ID),
		f.fullKey, map[string]string{"receiver_url": receiver})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var cr clusterResponse
	require.NoError(t, json.Unmarshal(body, &cr))
	assert.True(t, cr.CDRActive)

	f.sim.mu.Lock()
	sinks := append([]string(nil), f.sim.eventSinks...)
	f.sim.mu.Unlock()
	assert.Contains(t, sinks, receiver)

	stored, err := f.db.GetCluster(context.Background(), f.cluster.ID)
	require.NoError(t, err)
	assert.True(t, stored.CDRActive)

	resp, _ = f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/clusters/%d/cdr-hook", f.cluster.ID),
		f.fullKey, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEventWebhookIngests(t *testing.T) {
	f := newAPIFixture(t)

	started := time.Now().UTC().Add(-10 * time.Minute)
	payload := map[string]any{
		"event": "conference_started",
		"node":  "node1.acme.example",
		"time":  float64(started.Unix()),
		"data": map[string]any{
			"guid":       "conf-guid-1",
			"name":       "standup@sip.acme.example",
			"start_time": float64(started.Unix()),
		},
	}
	resp, body := f.do(t, http.MethodPost,
		fmt.Sprintf("/webhooks/events/%d", f.cluster.ID), "", payload)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	call, err := f.db.GetCallByGUID(context.Background(), f.cluster.ID, "conf-guid-1")
	require.NoError(t, err)
	assert.Equal(t, "standup@sip.acme.example", call.Name)
	assert.True(t, call.TSStop.IsZero())

	resp, _ = f.do(t, http.MethodPost, "/webhooks/events/notanumber", "", payload)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthEndpoints(t *testing.T) {
	f := newAPIFixture(t)

	resp, body := f.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"ok"`)

	resp, body = f.do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"worker":"unknown"`)

	require.NoError(t, f.db.Heartbeat(context.Background(), tasks.WorkerName, 0))
	resp, body = f.do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"worker":"alive"`)
}
