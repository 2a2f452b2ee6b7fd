// Confatlas - Multi-Tenant Video Conferencing Control Plane
// Copyright 2026 Confatlas Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/confatlas/confatlas

package backends

import (
	"context"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/confatlas/confatlas/internal/models"
	"github.com/confatlas/confatlas/internal/transport"
)

// sessionLifetime is how long a freshly issued call-bridge auth token
// is trusted before a proactive re-login.
const sessionLifetime = 10 * time.Hour

// CallBridge is the adapter for the call-bridge family: XML responses,
// form-encoded writes, ids carried in Location headers, cookie-based
// sessions.
type CallBridge struct {
	base
}

func newCallBridge(provider *models.Provider, deps Deps) *CallBridge {
	cb := &CallBridge{}
	cb.provider = provider
	cb.client = transport.NewClient(provider, transport.Config{
		AuthMode:   transport.AuthSession,
		Login:      cb.loginFunc,
		Sessions:   deps.Sessions,
		Tracer:     deps.Tracer,
		CustomerID: deps.CustomerID,
		BaseURL:    deps.BaseURL,
	})
	return cb
}

// Login obtains a session token. Unless forced, a still-valid stored
// session is reused.
func (cb *CallBridge) Login(ctx context.Context, force bool) error {
	if !force && cb.provider.SessionValid(time.Now()) {
		return nil
	}
	return cb.loginFunc(ctx, cb.client, force)
}

func (cb *CallBridge) loginFunc(ctx context.Context, c *transport.Client, _ bool) error {
	creds := base64.StdEncoding.EncodeToString(
		[]byte(cb.provider.Username + ":" + cb.provider.Password))
	resp, err := c.Post(ctx, "/api/v1/authTokens", nil, &transport.Opts{
		Headers: map[string]string{"Authorization": "Basic " + creds},
		Timeout: 30 * time.Second,
		NoRetry: true,
	})
	if err != nil {
		return err
	}
	token := resp.Headers.Get(transport.CookieName)
	if token == "" {
		return &transport.AuthenticationError{URL: c.BaseURL() + "/api/v1/authTokens", Status: resp.Status}
	}
	return c.SaveSession(ctx, token, time.Now().Add(sessionLifetime))
}

// xmlSpace is the wire shape of one space object.
type xmlSpace struct {
	ID           string `xml:"id,attr"`
	Name         string `xml:"name"`
	URI          string `xml:"uri"`
	SecondaryURI string `xml:"secondaryUri"`
	CallID       string `xml:"callId"`
	Passcode     string `xml:"passcode"`
	Secret       string `xml:"secret"`
	Tenant       string `xml:"tenant"`
	AutoRemove   string `xml:"tsAutoRemove"`
}

func (x *xmlSpace) toModel(providerID int64) *models.Space {
	s := &models.Space{
		ExternalID: x.ID,
		MirrorRow:  models.MirrorRow{ProviderID: providerID, IsActive: true},
		Name:       x.Name,
		URI:        x.URI,
		CallID:     x.CallID,
		SecondaryURI: x.SecondaryURI,
		Passcode:     x.Passcode,
		Secret:       x.Secret,
		TenantID:     x.Tenant,
	}
	if ts, err := time.Parse(time.RFC3339, x.AutoRemove); err == nil {
		s.TSAutoRemove = ts
	}
	return s
}

func (cb *CallBridge) FindSpaces(ctx context.Context, q SpaceQuery) ([]*models.Space, int, error) {
	params := url.Values{}
	if q.Query != "" {
		params.Set("filter", q.Query)
	}
	if q.Tenant != nil && *q.Tenant != "" {
		params.Set("tenantFilter", *q.Tenant)
	}
	params.Set("offset", strconv.Itoa(q.Offset))
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	resp, err := cb.client.Get(ctx, "/api/v1/spaces", &transport.Opts{Params: params})
	if err != nil {
		return nil, 0, err
	}
	var list struct {
		Total  int        `xml:"total,attr"`
		Spaces []xmlSpace `xml:"space"`
	}
	if err := xml.Unmarshal(resp.Body, &list); err != nil {
		return nil, 0, &transport.ResponseError{URL: "/api/v1/spaces", Body: err.Error()}
	}
	out := make([]*models.Space, 0, len(list.Spaces))
	for i := range list.Spaces {
		out = append(out, list.Spaces[i].toModel(cb.provider.ID))
	}
	return out, list.Total, nil
}

func (cb *CallBridge) GetSpace(ctx context.Context, externalID string) (*models.Space, error) {
	resp, err := cb.client.Get(ctx, "/api/v1/spaces/"+externalID, nil)
	if err != nil {
		return nil, err
	}
	var x xmlSpace
	if err := xml.Unmarshal(resp.Body, &x); err != nil {
		return nil, &transport.ResponseError{URL: "/api/v1/spaces/" + externalID, Body: err.Error()}
	}
	if x.ID == "" {
		x.ID = externalID
	}
	return x.toModel(cb.provider.ID), nil
}

func spaceForm(s *models.Space) url.Values {
	form := url.Values{}
	setIf := func(key, val string) {
		if val != "" {
			form.Set(key, val)
		}
	}
	setIf("name", s.Name)
	setIf("uri", s.URI)
	setIf("secondaryUri", s.SecondaryURI)
	setIf("callId", s.CallID)
	setIf("passcode", s.Passcode)
	setIf("tenant", s.TenantID)
	return form
}

func (cb *CallBridge) AddSpace(ctx context.Context, space *models.Space) (string, error) {
	resp, err := cb.postForm(ctx, "/api/v1/spaces", spaceForm(space))
	if err != nil {
		return "", err
	}
	id := locationID(resp)
	if id == "" {
		return "", &transport.ResponseError{URL: "/api/v1/spaces", Body: "create response carried no id"}
	}
	return id, nil
}

func (cb *CallBridge) UpdateSpace(ctx context.Context, externalID string, patch SpacePatch) error {
	form := url.Values{}
	setIfPtr(form, "name", patch.Name)
	setIfPtr(form, "uri", patch.URI)
	setIfPtr(form, "secondaryUri", patch.SecondaryURI)
	setIfPtr(form, "callId", patch.CallID)
	setIfPtr(form, "passcode", patch.Passcode)
	setIfPtr(form, "defaultLayout", patch.Layout)
	if len(form) == 0 {
		return nil
	}
	_, err := cb.putForm(ctx, "/api/v1/spaces/"+externalID, form)
	return err
}

func (cb *CallBridge) DeleteSpace(ctx context.Context, externalID string) error {
	_, err := cb.client.Delete(ctx, "/api/v1/spaces/"+externalID, nil)
	return err
}

// xmlMember is the wire shape of one space member.
type xmlMember struct {
	ID             string `xml:"id,attr"`
	UserJID        string `xml:"userJid"`
	CallLegProfile string `xml:"callLegProfile"`
}

func (cb *CallBridge) Members(ctx context.Context, spaceExternalID string) ([]Member, error) {
	resp, err := cb.client.Get(ctx, "/api/v1/spaces/"+spaceExternalID+"/members", nil)
	if err != nil {
		return nil, err
	}
	var list struct {
		Members []xmlMember `xml:"member"`
	}
	if err := xml.Unmarshal(resp.Body, &list); err != nil {
		return nil, &transport.ResponseError{URL: "members", Body: err.Error()}
	}
	out := make([]Member, 0, len(list.Members))
	for _, m := range list.Members {
		out = append(out, Member{
			ExternalID: m.ID,
			Email:      m.UserJID,
			Moderator:  m.CallLegProfile != "",
		})
	}
	return out, nil
}

func (cb *CallBridge) AddMember(ctx context.Context, spaceExternalID string, m Member) (string, error) {
	form := url.Values{}
	form.Set("userJid", m.Email)
	if m.Moderator {
		form.Set("canDestroy", "true")
	}
	resp, err := cb.postForm(ctx, "/api/v1/spaces/"+spaceExternalID+"/members", form)
	if err != nil {
		return "", err
	}
	return locationID(resp), nil
}

func (cb *CallBridge) UpdateMember(ctx context.Context, spaceExternalID string, m Member) error {
	form := url.Values{}
	form.Set("userJid", m.Email)
	form.Set("canDestroy", strconv.FormatBool(m.Moderator))
	_, err := cb.putForm(ctx, "/api/v1/spaces/"+spaceExternalID+"/members/"+m.ExternalID, form)
	return err
}

func (cb *CallBridge) RemoveMember(ctx context.Context, spaceExternalID, memberExternalID string) error {
	_, err := cb.client.Delete(ctx, "/api/v1/spaces/"+spaceExternalID+"/members/"+memberExternalID, nil)
	return err
}

// xmlCall / xmlLeg are the live-state wire shapes.
type xmlCall struct {
	ID          string `xml:"id,attr"`
	Name        string `xml:"name"`
	Space       string `xml:"coSpace"`
	CallActive  string `xml:"callActive"`
	NumLegs     int    `xml:"numCallLegs"`
	Initiated   string `xml:"tsInitiated"`
	Tenant      string `xml:"tenant"`
}

type xmlLeg struct {
	ID          string `xml:"id,attr"`
	Call        string `xml:"call"`
	Name        string `xml:"name"`
	RemoteParty string `xml:"remoteParty"`
	LocalAddr   string `xml:"localAddress"`
	Direction   string `xml:"direction"`
	Type        string `xml:"type"`
	Connected   string `xml:"tsConnected"`
}

func (cb *CallBridge) Calls(ctx context.Context) ([]*models.Call, error) {
	resp, err := cb.client.Get(ctx, "/api/v1/calls", &transport.Opts{Timeout: 30 * time.Second})
	if err != nil {
		return nil, err
	}
	var list struct {
		Calls []xmlCall `xml:"call"`
	}
	if err := xml.Unmarshal(resp.Body, &list); err != nil {
		return nil, &transport.ResponseError{URL: "/api/v1/calls", Body: err.Error()}
	}
	out := make([]*models.Call, 0, len(list.Calls))
	for _, c := range list.Calls {
		call := &models.Call{
			GUID:      c.ID,
			ClusterID: cb.provider.ClusterID,
			SpaceID:   c.Space,
			Name:      c.Name,
			TenantID:  c.Tenant,
			LegCount:  c.NumLegs,
		}
		if ts, err := time.Parse(time.RFC3339, c.Initiated); err == nil {
			call.TSStart = ts
		}
		out = append(out, call)
	}
	return out, nil
}

func (cb *CallBridge) Participants(ctx context.Context, callGUID string) ([]*models.Leg, error) {
	resp, err := cb.client.Get(ctx, "/api/v1/calls/"+callGUID+"/callLegs",
		&transport.Opts{Timeout: 30 * time.Second})
	if err != nil {
		return nil, err
	}
	var list struct {
		Legs []xmlLeg `xml:"callLeg"`
	}
	if err := xml.Unmarshal(resp.Body, &list); err != nil {
		return nil, &transport.ResponseError{URL: "callLegs", Body: err.Error()}
	}
	out := make([]*models.Leg, 0, len(list.Legs))
	for _, l := range list.Legs {
		out = append(out, legFromXML(l, cb.provider.ClusterID, callGUID))
	}
	return out, nil
}

func legFromXML(l xmlLeg, clusterID int64, callGUID string) *models.Leg {
	leg := &models.Leg{
		GUID:        l.ID,
		ClusterID:   clusterID,
		CallGUID:    callGUID,
		LocalAlias:  l.LocalAddr,
		RemoteAlias: l.RemoteParty,
		DisplayName: l.Name,
		Direction:   strings.ToLower(l.Direction),
		Protocol:    strings.ToLower(l.Type),
	}
	if leg.CallGUID == "" {
		leg.CallGUID = l.Call
	}
	if ts, err := time.Parse(time.RFC3339, l.Connected); err == nil {
		leg.TSStart = ts
	}
	return leg
}

func (cb *CallBridge) CallLeg(ctx context.Context, legGUID string) (*models.Leg, error) {
	resp, err := cb.client.Get(ctx, "/api/v1/callLegs/"+legGUID,
		&transport.Opts{Timeout: 30 * time.Second})
	if err != nil {
		return nil, err
	}
	var l xmlLeg
	if err := xml.Unmarshal(resp.Body, &l); err != nil {
		return nil, &transport.ResponseError{URL: "callLegs", Body: err.Error()}
	}
	if l.ID == "" {
		l.ID = legGUID
	}
	return legFromXML(l, cb.provider.ClusterID, l.Call), nil
}

// Dial adds an outbound leg. When no live call exists yet one is
// started on the target space first.
func (cb *CallBridge) Dial(ctx context.Context, req DialRequest) (string, error) {
	callGUID := req.CallGUID
	if callGUID == "" {
		if req.SpaceExternalID == "" {
			return "", fmt.Errorf("backends: dial needs a call or a space")
		}
		form := url.Values{}
		form.Set("coSpace", req.SpaceExternalID)
		resp, err := cb.postForm(ctx, "/api/v1/calls", form)
		if err != nil {
			return "", err
		}
		callGUID = locationID(resp)
	}
	form := url.Values{}
	form.Set("remoteParty", req.Remote)
	if req.RemoteName != "" {
		form.Set("name", req.RemoteName)
	}
	resp, err := cb.postForm(ctx, "/api/v1/calls/"+callGUID+"/callLegs", form)
	if err != nil {
		return "", err
	}
	return locationID(resp), nil
}

func (cb *CallBridge) HangupCall(ctx context.Context, callGUID string) error {
	_, err := cb.client.Delete(ctx, "/api/v1/calls/"+callGUID, nil)
	return err
}

func (cb *CallBridge) HangupParticipant(ctx context.Context, legGUID string) error {
	_, err := cb.client.Delete(ctx, "/api/v1/callLegs/"+legGUID, nil)
	return err
}

func (cb *CallBridge) SetMute(ctx context.Context, legGUID string, muted bool) error {
	form := url.Values{}
	form.Set("rxAudioMute", strconv.FormatBool(muted))
	_, err := cb.putForm(ctx, "/api/v1/callLegs/"+legGUID, form)
	return err
}

func (cb *CallBridge) SetModerator(ctx context.Context, legGUID string, moderator bool) error {
	form := url.Values{}
	form.Set("canDestroy", strconv.FormatBool(moderator))
	form.Set("changeLayoutAllowed", strconv.FormatBool(moderator))
	_, err := cb.putForm(ctx, "/api/v1/callLegs/"+legGUID, form)
	return err
}

func (cb *CallBridge) SetLock(ctx context.Context, callGUID string, locked bool) error {
	form := url.Values{}
	form.Set("locked", strconv.FormatBool(locked))
	_, err := cb.putForm(ctx, "/api/v1/calls/"+callGUID, form)
	return err
}

func (cb *CallBridge) Version(ctx context.Context) (string, error) {
	status, err := cb.Status(ctx)
	if err != nil {
		return "", err
	}
	return status.Version, nil
}

func (cb *CallBridge) Status(ctx context.Context) (*NodeStatus, error) {
	resp, err := cb.client.Get(ctx, "/api/v1/system/status", &transport.Opts{Timeout: 30 * time.Second})
	if err != nil {
		return nil, err
	}
	var x struct {
		SoftwareVersion string `xml:"softwareVersion"`
		Uptime          int64  `xml:"uptimeSeconds"`
		CallLegsActive  int    `xml:"callLegsActive"`
		CallsActive     int    `xml:"callsActive"`
	}
	if err := xml.Unmarshal(resp.Body, &x); err != nil {
		return nil, &transport.ResponseError{URL: "system/status", Body: err.Error()}
	}
	return &NodeStatus{
		Version:   x.SoftwareVersion,
		Uptime:    time.Duration(x.Uptime) * time.Second,
		CallCount: x.CallsActive,
		LegCount:  x.CallLegsActive,
	}, nil
}

func (cb *CallBridge) Licenses(ctx context.Context) ([]License, error) {
	resp, err := cb.client.Get(ctx, "/api/v1/system/licensing", &transport.Opts{Timeout: 30 * time.Second})
	if err != nil {
		return nil, err
	}
	var x struct {
		Features []struct {
			Name    string `xml:"name"`
			Status  string `xml:"status"`
			Expires string `xml:"expiry"`
		} `xml:"features>feature"`
	}
	if err := xml.Unmarshal(resp.Body, &x); err != nil {
		return nil, &transport.ResponseError{URL: "system/licensing", Body: err.Error()}
	}
	out := make([]License, 0, len(x.Features))
	for _, f := range x.Features {
		lic := License{Feature: f.Name, Status: f.Status}
		if ts, err := time.Parse("2006-01-02", f.Expires); err == nil {
			lic.Expires = ts
		}
		out = append(out, lic)
	}
	return out, nil
}

func (cb *CallBridge) Alarms(ctx context.Context) ([]Alarm, error) {
	resp, err := cb.client.Get(ctx, "/api/v1/system/alarms", &transport.Opts{Timeout: 30 * time.Second})
	if err != nil {
		return nil, err
	}
	var x struct {
		Alarms []struct {
			ID    string `xml:"id,attr"`
			Type  string `xml:"type"`
			Since string `xml:"activeSince"`
		} `xml:"alarm"`
	}
	if err := xml.Unmarshal(resp.Body, &x); err != nil {
		return nil, &transport.ResponseError{URL: "system/alarms", Body: err.Error()}
	}
	out := make([]Alarm, 0, len(x.Alarms))
	for _, a := range x.Alarms {
		alarm := Alarm{ExternalID: a.ID, Type: a.Type}
		if ts, err := time.Parse(time.RFC3339, a.Since); err == nil {
			alarm.Since = ts
		}
		out = append(out, alarm)
	}
	return out, nil
}

// RegisterCDRReceiver points the node's CDR stream at our webhook.
func (cb *CallBridge) RegisterCDRReceiver(ctx context.Context, receiverURL string) error {
	form := url.Values{}
	form.Set("uri", receiverURL)
	_, err := cb.postForm(ctx, "/api/v1/system/cdrReceivers", form)
	return err
}

func (cb *CallBridge) SyncLDAP(ctx context.Context) error {
	_, err := cb.postForm(ctx, "/api/v1/ldapSyncs", url.Values{})
	return err
}

// EnsureCallLegProfile creates a leg profile with the given toggles and
// returns its id. The provisioner layers these onto spaces and members
// for lobby and encryption semantics.
func (cb *CallBridge) EnsureCallLegProfile(ctx context.Context, needsActivation, forceEncryption, disableChat bool) (string, error) {
	form := url.Values{}
	form.Set("needsActivation", strconv.FormatBool(needsActivation))
	if forceEncryption {
		form.Set("sipMediaEncryption", "required")
	}
	if disableChat {
		form.Set("chatContribution", "disallowed")
	}
	resp, err := cb.postForm(ctx, "/api/v1/callLegProfiles", form)
	if err != nil {
		return "", err
	}
	return locationID(resp), nil
}

// EnsureCallProfile creates a call profile carrying the default layout.
func (cb *CallBridge) EnsureCallProfile(ctx context.Context, layout string) (string, error) {
	form := url.Values{}
	if layout != "" {
		form.Set("defaultLayout", layout)
	}
	resp, err := cb.postForm(ctx, "/api/v1/callProfiles", form)
	if err != nil {
		return "", err
	}
	return locationID(resp), nil
}

// AttachProfiles binds call and leg profiles to a space.
func (cb *CallBridge) AttachProfiles(ctx context.Context, spaceExternalID, callProfile, callLegProfile string) error {
	form := url.Values{}
	if callProfile != "" {
		form.Set("callProfile", callProfile)
	}
	if callLegProfile != "" {
		form.Set("callLegProfile", callLegProfile)
	}
	if len(form) == 0 {
		return nil
	}
	_, err := cb.putForm(ctx, "/api/v1/spaces/"+spaceExternalID, form)
	return err
}

// AddAccessMethod creates a secondary way into a space. Dialling it
// activates the lobby for moderator semantics.
func (cb *CallBridge) AddAccessMethod(ctx context.Context, spaceExternalID, uri, passcode, callLegProfile string) (string, error) {
	form := url.Values{}
	form.Set("uri", uri)
	if passcode != "" {
		form.Set("passcode", passcode)
	}
	if callLegProfile != "" {
		form.Set("callLegProfile", callLegProfile)
	}
	resp, err := cb.postForm(ctx, "/api/v1/spaces/"+spaceExternalID+"/accessMethods", form)
	if err != nil {
		return "", err
	}
	return locationID(resp), nil
}

const formContentType = "application/x-www-form-urlencoded"

func (cb *CallBridge) postForm(ctx context.Context, path string, form url.Values) (*transport.Response, error) {
	return cb.client.Post(ctx, path, []byte(form.Encode()),
		&transport.Opts{ContentType: formContentType})
}

func (cb *CallBridge) putForm(ctx context.Context, path string, form url.Values) (*transport.Response, error) {
	return cb.client.Put(ctx, path, []byte(form.Encode()),
		&transport.Opts{ContentType: formContentType})
}

// locationID extracts the object id a create response carries in its
// Location header.
func locationID(resp *transport.Response) string {
	loc := resp.Location()
	if loc == "" {
		return ""
	}
	loc = strings.TrimRight(loc, "/")
	if i := strings.LastIndexByte(loc, '/'); i >= 0 {
		return loc[i+1:]
	}
	return loc
}

func setIfPtr(form url.Values, key string, val *string) {
	if val != nil {
		form.Set(key, *val)
	}
}
