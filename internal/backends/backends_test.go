// Confatlas - Multi-Tenant Video Conferencing Control Plane
// Copyright 2026 Confatlas Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/confatlas/confatlas

package backends

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confatlas/confatlas/internal/models"
	"github.com/confatlas/confatlas/internal/transport"
)

func testProvider(family models.Family) *models.Provider {
	return &models.Provider{
		ID: 1, ClusterID: 1, Family: family,
		Hostname: "backend.test", Port: 443,
		Username: "api", Password: "secret",
	}
}

func TestCallBridgeLoginStoresSession(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v1/authTokens", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "api", user)
		require.Equal(t, "secret", pass)
		w.Header().Set(transport.CookieName, "tok-123")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := testProvider(models.FamilyCallBridge)
	a, err := New(p, Deps{BaseURL: srv.URL})
	require.NoError(t, err)

	require.NoError(t, a.Login(context.Background(), true))
	assert.Equal(t, "tok-123", p.SessionID)
	assert.True(t, p.SessionExpires.After(time.Now().Add(9*time.Hour)))
}

func TestCallBridgeAddSpaceParsesLocation(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/spaces", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "Weekly Standup", r.PostForm.Get("name"))
		assert.Equal(t, "weekly.standup", r.PostForm.Get("uri"))
		w.Header().Set("Location", "/api/v1/spaces/11aa22bb/")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a, err := New(testProvider(models.FamilyCallBridge), Deps{BaseURL: srv.URL})
	require.NoError(t, err)

	id, err := a.AddSpace(context.Background(), &models.Space{
		Name: "Weekly Standup", URI: "weekly.standup",
	})
	require.NoError(t, err)
	assert.Equal(t, "11aa22bb", id)
}

func TestCallBridgeFindSpaces(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "week", r.URL.Query().Get("filter"))
		w.Write([]byte(`<spaces total="2">
			<space id="s1"><name>Weekly</name><uri>weekly</uri><callId>1001</callId></space>
			<space id="s2"><name>Midweek</name><uri>midweek</uri></space>
		</spaces>`))
	}))
	defer srv.Close()

	a, err := New(testProvider(models.FamilyCallBridge), Deps{BaseURL: srv.URL})
	require.NoError(t, err)

	spaces, total, err := a.FindSpaces(context.Background(), SpaceQuery{Query: "week"})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, spaces, 2)
	assert.Equal(t, "s1", spaces[0].ExternalID)
	assert.Equal(t, "1001", spaces[0].CallID)
}

func TestConfServerFindSpacesParsesTag(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _, ok := r.BasicAuth()
		require.True(t, ok)
		w.Write([]byte(`{"meta":{"total_count":1},"objects":[
			{"id":42,"name":"Board Room","pin":"1234","allow_guests":true,
			 "tag":"t=tenant-9&c=3","service_type":"conference"}
		]}`))
	}))
	defer srv.Close()

	a, err := New(testProvider(models.FamilyConfServer), Deps{BaseURL: srv.URL})
	require.NoError(t, err)

	spaces, total, err := a.FindSpaces(context.Background(), SpaceQuery{Query: "board"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, spaces, 1)
	assert.Equal(t, "42", spaces[0].ExternalID)
	assert.Equal(t, "tenant-9", spaces[0].TenantID)
	assert.True(t, spaces[0].AllowGuests)
}

func TestConfServerHistoryCursor(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "end_time", q.Get("order_by"))
		assert.NotEmpty(t, q.Get("end_time__gte"))
		w.Write([]byte(`{"meta":{"total_count":2},"objects":[
			{"id":"g1","name":"a","start_time":"2026-08-01T10:00:00","end_time":"2026-08-01T11:00:00"},
			{"id":"g2","name":"b","start_time":"2026-08-01T10:30:00","end_time":"2026-08-01T12:15:00"}
		]}`))
	}))
	defer srv.Close()

	a, err := New(testProvider(models.FamilyConfServer), Deps{BaseURL: srv.URL})
	require.NoError(t, err)

	page, err := a.HistoryConferences(context.Background(), time.Now().Add(-5*time.Hour), 0, 0)
	require.NoError(t, err)
	require.Len(t, page.Calls, 2)
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, time.Date(2026, 8, 1, 12, 15, 0, 0, time.UTC), page.MaxEnd)
}

func TestCallControlIsReadOnly(t *testing.T) {
	t.Parallel()
	a, err := New(testProvider(models.FamilyCallControl), Deps{})
	require.NoError(t, err)

	_, err = a.AddSpace(context.Background(), &models.Space{Name: "x"})
	assert.ErrorIs(t, err, transport.ErrNotImplemented)

	err = a.HangupCall(context.Background(), "guid")
	assert.ErrorIs(t, err, transport.ErrNotImplemented)
}

func TestCallControlRecords(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v2/status/calls", r.URL.Path)
		w.Write([]byte(`{"calls":[
			{"call_guid":"c1","source_alias":"alice@a.org","destination_alias":"room@b.org",
			 "protocol":"SIP","start_time":"2026-08-01T10:00:00","end_time":""}
		]}`))
	}))
	defer srv.Close()

	a, err := New(testProvider(models.FamilyCallControl), Deps{BaseURL: srv.URL})
	require.NoError(t, err)

	legs, err := a.Participants(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, legs, 1)
	assert.Equal(t, "sip", legs[0].Protocol)
	assert.Equal(t, "alice@a.org", legs[0].RemoteAlias)
	assert.True(t, legs[0].Active())
}

func TestFindFreeNumberIncrements(t *testing.T) {
	t.Parallel()
	attempts := 0
	id, err := FindFreeNumber(context.Background(),
		map[string]string{"uri": "room.1000", "call_id": "1000"},
		func(_ context.Context, fields map[string]string) (string, error) {
			attempts++
			if fields["uri"] != "room.1003" {
				return "", &transport.DuplicateError{Fields: []string{"uri", "call_id"}}
			}
			assert.Equal(t, "1003", fields["call_id"])
			return "created-id", nil
		})
	require.NoError(t, err)
	assert.Equal(t, "created-id", id)
	assert.Equal(t, 4, attempts)
}

func TestFindFreeNumberGivesUp(t *testing.T) {
	t.Parallel()
	attempts := 0
	_, err := FindFreeNumber(context.Background(),
		map[string]string{"uri": "room.1"},
		func(context.Context, map[string]string) (string, error) {
			attempts++
			return "", &transport.DuplicateError{Fields: []string{"uri"}}
		})
	assert.True(t, transport.IsDuplicate(err))
	assert.Equal(t, maxFreeNumberAttempts, attempts)
}

func TestIncrementNumericTail(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"1000":          "1001",
		"room.0099":     "room.0100",
		"room.9@x.org":  "room.10@x.org",
		"noDigitsHere":  "noDigitsHere2",
		"a1b":           "a2b",
	}
	for in, want := range cases {
		assert.Equal(t, want, incrementNumericTail(in), in)
	}
}

func TestConfServerUpdateSpacePatchesOnlySetFields(t *testing.T) {
	t.Parallel()
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPatch, r.Method)
		require.Equal(t, "/api/admin/configuration/v1/conference/42/", r.URL.Path)
		received = map[string]any{}
		require.NoError(t, jsonDecode(r, &received))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	a, err := New(testProvider(models.FamilyConfServer), Deps{BaseURL: srv.URL})
	require.NoError(t, err)

	err = a.UpdateSpace(context.Background(), "42", SpacePatch{
		PIN: ptr("4321"), Tag: ptr("t=ten&m=5"),
	})
	require.NoError(t, err)
	assert.Equal(t, "4321", received["pin"])
	assert.Equal(t, "t=ten&m=5", received["tag"])
	assert.NotContains(t, received, "name")
	assert.NotContains(t, received, "guest_pin")
}

func TestCallBridgeDuplicateBecomesTypedError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("uri already exists"))
	}))
	defer srv.Close()

	a, err := New(testProvider(models.FamilyCallBridge), Deps{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = a.AddSpace(context.Background(), &models.Space{Name: "x", URI: "taken"})
	assert.True(t, transport.IsDuplicate(err))
}

func jsonDecode(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
