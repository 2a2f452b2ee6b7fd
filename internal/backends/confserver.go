// Confatlas - Multi-Tenant Video Conferencing Control Plane
// Copyright 2026 Confatlas Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/confatlas/confatlas

package backends

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/confatlas/confatlas/internal/models"
	"github.com/confatlas/confatlas/internal/transport"
)

// historyPageSize is the fixed page size for history pulls.
const historyPageSize = 1000

// wireTime is the conference-server timestamp layout.
const wireTime = "2006-01-02T15:04:05.999999"

// ConfServer is the adapter for the conference-server family: JSON REST
// with basic auth, flat participants, aliases and auto-participants as
// separate resources, and a paged history API.
type ConfServer struct {
	base
}

func newConfServer(provider *models.Provider, deps Deps) *ConfServer {
	cs := &ConfServer{}
	cs.provider = provider
	cs.client = transport.NewClient(provider, transport.Config{
		AuthMode:   transport.AuthBasic,
		Sessions:   deps.Sessions,
		Tracer:     deps.Tracer,
		CustomerID: deps.CustomerID,
		BaseURL:    deps.BaseURL,
	})
	return cs
}

// Login probes the API with the configured basic-auth credentials.
// Credentials travel on every request, so there is no session to keep.
func (cs *ConfServer) Login(ctx context.Context, _ bool) error {
	_, err := cs.Version(ctx)
	return err
}

// listMeta is the envelope every list response carries.
type listMeta struct {
	TotalCount int    `json:"total_count"`
	Next       string `json:"next"`
}

type wireConference struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	PIN         string `json:"pin"`
	GuestPIN    string `json:"guest_pin"`
	AllowGuests bool   `json:"allow_guests"`
	ServiceType string `json:"service_type"`
	Tag         string `json:"tag"`
	Theme       string `json:"ivr_theme"`
	OwnerEmail  string `json:"primary_owner_email_address"`
}

func (w *wireConference) toModel(providerID int64) *models.Space {
	s := &models.Space{
		ExternalID:  strconv.FormatInt(w.ID, 10),
		MirrorRow:   models.MirrorRow{ProviderID: providerID, IsActive: true},
		Name:        w.Name,
		PIN:         w.PIN,
		GuestPIN:    w.GuestPIN,
		AllowGuests: w.AllowGuests,
		ServiceType: w.ServiceType,
		Tag:         w.Tag,
		Theme:       resourceID(w.Theme),
		OwnerEmail:  w.OwnerEmail,
	}
	if tag, ok := models.ParseServiceTag(w.Tag); ok {
		s.TenantID = tag.TenantID
	}
	return s
}

const confPath = "/api/admin/configuration/v1/conference/"

func (cs *ConfServer) FindSpaces(ctx context.Context, q SpaceQuery) ([]*models.Space, int, error) {
	params := url.Values{}
	if q.Query != "" {
		params.Set("name__icontains", q.Query)
	}
	if q.Tenant != nil && *q.Tenant != "" {
		params.Set("tag__contains", "t="+*q.Tenant)
	}
	if !q.Since.IsZero() {
		params.Set("creation_time__gte", q.Since.UTC().Format(wireTime))
	}
	params.Set("offset", strconv.Itoa(q.Offset))
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	params.Set("limit", strconv.Itoa(limit))
	resp, err := cs.client.Get(ctx, confPath, &transport.Opts{Params: params})
	if err != nil {
		return nil, 0, err
	}
	var list struct {
		Meta    listMeta         `json:"meta"`
		Objects []wireConference `json:"objects"`
	}
	if err := resp.JSON(&list); err != nil {
		return nil, 0, &transport.ResponseError{URL: confPath, Body: err.Error()}
	}
	out := make([]*models.Space, 0, len(list.Objects))
	for i := range list.Objects {
		out = append(out, list.Objects[i].toModel(cs.provider.ID))
	}
	return out, list.Meta.TotalCount, nil
}

func (cs *ConfServer) GetSpace(ctx context.Context, externalID string) (*models.Space, error) {
	resp, err := cs.client.Get(ctx, confPath+externalID+"/", nil)
	if err != nil {
		return nil, err
	}
	var w wireConference
	if err := resp.JSON(&w); err != nil {
		return nil, &transport.ResponseError{URL: confPath + externalID, Body: err.Error()}
	}
	return w.toModel(cs.provider.ID), nil
}

func (cs *ConfServer) AddSpace(ctx context.Context, space *models.Space) (string, error) {
	body, err := json.Marshal(map[string]any{
		"name":                        space.Name,
		"pin":                         space.PIN,
		"guest_pin":                   space.GuestPIN,
		"allow_guests":                space.AllowGuests,
		"service_type":                defaultStr(space.ServiceType, "conference"),
		"tag":                         space.Tag,
		"primary_owner_email_address": space.OwnerEmail,
	})
	if err != nil {
		return "", err
	}
	resp, err := cs.client.Post(ctx, confPath, body, nil)
	if err != nil {
		return "", err
	}
	id := locationID(resp)
	if id == "" {
		return "", &transport.ResponseError{URL: confPath, Body: "create response carried no id"}
	}
	return id, nil
}

func (cs *ConfServer) UpdateSpace(ctx context.Context, externalID string, patch SpacePatch) error {
	fields := map[string]any{}
	putIf := func(key string, val *string) {
		if val != nil {
			fields[key] = *val
		}
	}
	putIf("name", patch.Name)
	putIf("pin", patch.PIN)
	putIf("guest_pin", patch.GuestPIN)
	putIf("service_type", patch.ServiceType)
	putIf("tag", patch.Tag)
	putIf("ivr_theme", patch.Theme)
	if patch.AllowGuests != nil {
		fields["allow_guests"] = *patch.AllowGuests
	}
	if len(fields) == 0 {
		return nil
	}
	body, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	_, err = cs.client.Patch(ctx, confPath+externalID+"/", body, nil)
	return err
}

func (cs *ConfServer) DeleteSpace(ctx context.Context, externalID string) error {
	_, err := cs.client.Delete(ctx, confPath+externalID+"/", nil)
	return err
}

const aliasPath = "/api/admin/configuration/v1/conference_alias/"

type wireAlias struct {
	ID          int64  `json:"id"`
	Alias       string `json:"alias"`
	Description string `json:"description"`
	Conference  string `json:"conference"`
}

func (cs *ConfServer) ListAliases(ctx context.Context, spaceExternalID string) ([]*models.SpaceAlias, error) {
	params := url.Values{}
	if spaceExternalID != "" {
		params.Set("conference", spaceExternalID)
	}
	params.Set("limit", strconv.Itoa(historyPageSize))
	resp, err := cs.client.Get(ctx, aliasPath, &transport.Opts{Params: params})
	if err != nil {
		return nil, err
	}
	var list struct {
		Objects []wireAlias `json:"objects"`
	}
	if err := resp.JSON(&list); err != nil {
		return nil, &transport.ResponseError{URL: aliasPath, Body: err.Error()}
	}
	out := make([]*models.SpaceAlias, 0, len(list.Objects))
	for _, a := range list.Objects {
		out = append(out, &models.SpaceAlias{
			ExternalID: strconv.FormatInt(a.ID, 10),
			MirrorRow:  models.MirrorRow{ProviderID: cs.provider.ID, IsActive: true},
			Alias:      a.Alias,
			Descriptor: a.Description,
		})
	}
	return out, nil
}

func (cs *ConfServer) AddAlias(ctx context.Context, spaceExternalID, alias, descriptor string) (string, error) {
	body, err := json.Marshal(map[string]any{
		"alias":       alias,
		"description": descriptor,
		"conference":  confPath + spaceExternalID + "/",
	})
	if err != nil {
		return "", err
	}
	resp, err := cs.client.Post(ctx, aliasPath, body, nil)
	if err != nil {
		return "", err
	}
	return locationID(resp), nil
}

func (cs *ConfServer) DeleteAlias(ctx context.Context, _, aliasExternalID string) error {
	_, err := cs.client.Delete(ctx, aliasPath+aliasExternalID+"/", nil)
	return err
}

const autoParticipantPath = "/api/admin/configuration/v1/automatic_participant/"

func (cs *ConfServer) ListAutoParticipants(ctx context.Context, spaceExternalID string) ([]*models.AutoParticipant, error) {
	params := url.Values{}
	if spaceExternalID != "" {
		params.Set("conference", spaceExternalID)
	}
	params.Set("limit", strconv.Itoa(historyPageSize))
	resp, err := cs.client.Get(ctx, autoParticipantPath, &transport.Opts{Params: params})
	if err != nil {
		return nil, err
	}
	var list struct {
		Objects []struct {
			ID         int64  `json:"id"`
			Alias      string `json:"alias"`
			Protocol   string `json:"protocol"`
			Role       string `json:"role"`
			KeepAlive  bool   `json:"keep_conference_alive"`
			Streaming  bool   `json:"streaming"`
			DTMFSeq    string `json:"dtmf_sequence"`
			RemoteName string `json:"remote_display_name"`
		} `json:"objects"`
	}
	if err := resp.JSON(&list); err != nil {
		return nil, &transport.ResponseError{URL: autoParticipantPath, Body: err.Error()}
	}
	out := make([]*models.AutoParticipant, 0, len(list.Objects))
	for _, p := range list.Objects {
		out = append(out, &models.AutoParticipant{
			ExternalID: strconv.FormatInt(p.ID, 10),
			MirrorRow:  models.MirrorRow{ProviderID: cs.provider.ID, IsActive: true},
			Alias:      p.Alias,
			Protocol:   p.Protocol,
			Role:       p.Role,
			KeepAlive:  p.KeepAlive,
			Streaming:  p.Streaming,
			DTMFSeq:    p.DTMFSeq,
			RemoteName: p.RemoteName,
		})
	}
	return out, nil
}

func (cs *ConfServer) Themes(ctx context.Context) ([]*models.Theme, error) {
	resp, err := cs.client.Get(ctx, "/api/admin/configuration/v1/ivr_theme/",
		&transport.Opts{Params: url.Values{"limit": {strconv.Itoa(historyPageSize)}}})
	if err != nil {
		return nil, err
	}
	var list struct {
		Objects []struct {
			ID          int64  `json:"id"`
			Name        string `json:"name"`
			ResourceURI string `json:"resource_uri"`
			UUID        string `json:"uuid"`
		} `json:"objects"`
	}
	if err := resp.JSON(&list); err != nil {
		return nil, &transport.ResponseError{URL: "ivr_theme", Body: err.Error()}
	}
	out := make([]*models.Theme, 0, len(list.Objects))
	for _, t := range list.Objects {
		out = append(out, &models.Theme{
			ExternalID:  strconv.FormatInt(t.ID, 10),
			MirrorRow:   models.MirrorRow{ProviderID: cs.provider.ID, IsActive: true},
			Name:        t.Name,
			ResourceURI: t.ResourceURI,
			UUID:        t.UUID,
		})
	}
	return out, nil
}

func (cs *ConfServer) GatewayRules(ctx context.Context) ([]GatewayRule, error) {
	resp, err := cs.client.Get(ctx, "/api/admin/configuration/v1/gateway_routing_rule/",
		&transport.Opts{Params: url.Values{"limit": {strconv.Itoa(historyPageSize)}}})
	if err != nil {
		return nil, err
	}
	var list struct {
		Objects []struct {
			ID        int64  `json:"id"`
			Name      string `json:"name"`
			Priority  int    `json:"priority"`
			MatchStr  string `json:"match_string"`
			Transform string `json:"replace_string"`
		} `json:"objects"`
	}
	if err := resp.JSON(&list); err != nil {
		return nil, &transport.ResponseError{URL: "gateway_routing_rule", Body: err.Error()}
	}
	out := make([]GatewayRule, 0, len(list.Objects))
	for _, r := range list.Objects {
		out = append(out, GatewayRule{
			ExternalID: strconv.FormatInt(r.ID, 10),
			Name:       r.Name,
			Priority:   r.Priority,
			MatchStr:   r.MatchStr,
			Transform:  r.Transform,
		})
	}
	return out, nil
}

type wireUser struct {
	ID      int64  `json:"id"`
	Email   string `json:"primary_email_address"`
	Name    string `json:"display_name"`
	Tag     string `json:"sync_tag"`
	OU      string `json:"department"`
}

func (w *wireUser) toModel(providerID int64) *models.User {
	return &models.User{
		ExternalID:       strconv.FormatInt(w.ID, 10),
		MirrorRow:        models.MirrorRow{ProviderID: providerID, IsActive: true},
		Email:            w.Email,
		Name:             w.Name,
		OrganizationUnit: w.OU,
		SyncTag:          w.Tag,
	}
}

const userPath = "/api/admin/configuration/v1/end_user/"

func (cs *ConfServer) FindUsers(ctx context.Context, q UserQuery) ([]*models.User, int, error) {
	params := url.Values{}
	if q.Query != "" {
		params.Set("primary_email_address__icontains", q.Query)
	}
	params.Set("offset", strconv.Itoa(q.Offset))
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	params.Set("limit", strconv.Itoa(limit))
	resp, err := cs.client.Get(ctx, userPath, &transport.Opts{Params: params})
	if err != nil {
		return nil, 0, err
	}
	var list struct {
		Meta    listMeta   `json:"meta"`
		Objects []wireUser `json:"objects"`
	}
	if err := resp.JSON(&list); err != nil {
		return nil, 0, &transport.ResponseError{URL: userPath, Body: err.Error()}
	}
	out := make([]*models.User, 0, len(list.Objects))
	for i := range list.Objects {
		out = append(out, list.Objects[i].toModel(cs.provider.ID))
	}
	return out, list.Meta.TotalCount, nil
}

func (cs *ConfServer) GetUser(ctx context.Context, externalID string) (*models.User, error) {
	resp, err := cs.client.Get(ctx, userPath+externalID+"/", nil)
	if err != nil {
		return nil, err
	}
	var w wireUser
	if err := resp.JSON(&w); err != nil {
		return nil, &transport.ResponseError{URL: userPath, Body: err.Error()}
	}
	return w.toModel(cs.provider.ID), nil
}

func (cs *ConfServer) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	resp, err := cs.client.Get(ctx, userPath, &transport.Opts{
		Params: url.Values{"primary_email_address": {email}, "limit": {"1"}},
	})
	if err != nil {
		return nil, err
	}
	var list struct {
		Objects []wireUser `json:"objects"`
	}
	if err := resp.JSON(&list); err != nil {
		return nil, &transport.ResponseError{URL: userPath, Body: err.Error()}
	}
	if len(list.Objects) == 0 {
		return nil, &transport.NotFoundError{URL: userPath, Body: "no user with email " + email}
	}
	return list.Objects[0].toModel(cs.provider.ID), nil
}

type wireParticipant struct {
	ID           string `json:"id"`
	Conversation string `json:"conversation_id"`
	LocalAlias   string `json:"local_alias"`
	RemoteAlias  string `json:"remote_alias"`
	DisplayName  string `json:"display_name"`
	Direction    string `json:"call_direction"`
	Protocol     string `json:"protocol"`
	StartTime    string `json:"start_time"`
	EndTime      string `json:"end_time"`
}

func (w *wireParticipant) toLeg(clusterID int64) *models.Leg {
	leg := &models.Leg{
		GUID:        w.ID,
		ClusterID:   clusterID,
		CallGUID:    w.Conversation,
		LocalAlias:  w.LocalAlias,
		RemoteAlias: w.RemoteAlias,
		DisplayName: w.DisplayName,
		Direction:   strings.ToLower(w.Direction),
		Protocol:    strings.ToLower(w.Protocol),
	}
	leg.TSStart = parseWireTime(w.StartTime)
	leg.TSStop = parseWireTime(w.EndTime)
	return leg
}

func parseWireTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{wireTime, time.RFC3339} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC()
		}
	}
	return time.Time{}
}

func (cs *ConfServer) Calls(ctx context.Context) ([]*models.Call, error) {
	resp, err := cs.client.Get(ctx, "/api/admin/status/v1/conference/",
		&transport.Opts{Timeout: 30 * time.Second})
	if err != nil {
		return nil, err
	}
	var list struct {
		Objects []struct {
			ID        string `json:"id"`
			Name      string `json:"name"`
			Tag       string `json:"tag"`
			StartTime string `json:"start_time"`
		} `json:"objects"`
	}
	if err := resp.JSON(&list); err != nil {
		return nil, &transport.ResponseError{URL: "status/conference", Body: err.Error()}
	}
	out := make([]*models.Call, 0, len(list.Objects))
	for _, c := range list.Objects {
		call := &models.Call{
			GUID:      c.ID,
			ClusterID: cs.provider.ClusterID,
			Name:      c.Name,
			TSStart:   parseWireTime(c.StartTime),
		}
		if tag, ok := models.ParseServiceTag(c.Tag); ok {
			call.TenantID = tag.TenantID
		}
		out = append(out, call)
	}
	return out, nil
}

func (cs *ConfServer) Participants(ctx context.Context, callGUID string) ([]*models.Leg, error) {
	params := url.Values{}
	if callGUID != "" {
		params.Set("conference", callGUID)
	}
	resp, err := cs.client.Get(ctx, "/api/admin/status/v1/participant/",
		&transport.Opts{Params: params, Timeout: 30 * time.Second})
	if err != nil {
		return nil, err
	}
	var list struct {
		Objects []wireParticipant `json:"objects"`
	}
	if err := resp.JSON(&list); err != nil {
		return nil, &transport.ResponseError{URL: "status/participant", Body: err.Error()}
	}
	out := make([]*models.Leg, 0, len(list.Objects))
	for i := range list.Objects {
		out = append(out, list.Objects[i].toLeg(cs.provider.ClusterID))
	}
	return out, nil
}

// Dial starts an automatic dial-out through the command API.
func (cs *ConfServer) Dial(ctx context.Context, req DialRequest) (string, error) {
	body, err := json.Marshal(map[string]any{
		"conference_alias": req.Local,
		"destination":      req.Remote,
		"protocol":         defaultStr(req.Protocol, "sip"),
		"role":             defaultStr(req.Role, "guest"),
		"remote_display_name": req.RemoteName,
		"keep_conference_alive": boolWord(req.KeepAlive, "keep_conference_alive", "dont_keep_conference_alive"),
	})
	if err != nil {
		return "", err
	}
	resp, err := cs.client.Post(ctx, "/api/admin/command/v1/participant/dial/", body, nil)
	if err != nil {
		return "", err
	}
	var result struct {
		Data struct {
			ParticipantID string `json:"participant_id"`
		} `json:"data"`
	}
	if err := resp.JSON(&result); err != nil {
		return "", &transport.ResponseError{URL: "participant/dial", Body: err.Error()}
	}
	return result.Data.ParticipantID, nil
}

func (cs *ConfServer) HangupCall(ctx context.Context, callGUID string) error {
	return cs.command(ctx, "/api/admin/command/v1/conference/disconnect/",
		map[string]any{"conference_id": callGUID})
}

func (cs *ConfServer) HangupParticipant(ctx context.Context, legGUID string) error {
	return cs.command(ctx, "/api/admin/command/v1/participant/disconnect/",
		map[string]any{"participant_id": legGUID})
}

func (cs *ConfServer) SetMute(ctx context.Context, legGUID string, muted bool) error {
	path := "/api/admin/command/v1/participant/unmute/"
	if muted {
		path = "/api/admin/command/v1/participant/mute/"
	}
	return cs.command(ctx, path, map[string]any{"participant_id": legGUID})
}

func (cs *ConfServer) SetModerator(ctx context.Context, legGUID string, moderator bool) error {
	role := "guest"
	if moderator {
		role = "chair"
	}
	return cs.command(ctx, "/api/admin/command/v1/participant/role/",
		map[string]any{"participant_id": legGUID, "role": role})
}

func (cs *ConfServer) SetLock(ctx context.Context, callGUID string, locked bool) error {
	path := "/api/admin/command/v1/conference/unlock/"
	if locked {
		path = "/api/admin/command/v1/conference/lock/"
	}
	return cs.command(ctx, path, map[string]any{"conference_id": callGUID})
}

func (cs *ConfServer) command(ctx context.Context, path string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = cs.client.Post(ctx, path, body, nil)
	return err
}

func (cs *ConfServer) Version(ctx context.Context) (string, error) {
	status, err := cs.Status(ctx)
	if err != nil {
		return "", err
	}
	return status.Version, nil
}

func (cs *ConfServer) Status(ctx context.Context) (*NodeStatus, error) {
	resp, err := cs.client.Get(ctx, "/api/admin/status/v1/system/",
		&transport.Opts{Timeout: 30 * time.Second})
	if err != nil {
		return nil, err
	}
	var x struct {
		Version string `json:"version"`
		Uptime  int64  `json:"uptime"`
	}
	if err := resp.JSON(&x); err != nil {
		return nil, &transport.ResponseError{URL: "status/system", Body: err.Error()}
	}
	return &NodeStatus{Version: x.Version, Uptime: time.Duration(x.Uptime) * time.Second}, nil
}

func (cs *ConfServer) Licenses(ctx context.Context) ([]License, error) {
	resp, err := cs.client.Get(ctx, "/api/admin/status/v1/licensing/",
		&transport.Opts{Timeout: 30 * time.Second})
	if err != nil {
		return nil, err
	}
	var x struct {
		Objects []struct {
			Feature string `json:"license_type"`
			Status  string `json:"status"`
			Expires string `json:"expiration_date"`
		} `json:"objects"`
	}
	if err := resp.JSON(&x); err != nil {
		return nil, &transport.ResponseError{URL: "status/licensing", Body: err.Error()}
	}
	out := make([]License, 0, len(x.Objects))
	for _, l := range x.Objects {
		lic := License{Feature: l.Feature, Status: l.Status}
		if ts, err := time.Parse("2006-01-02", l.Expires); err == nil {
			lic.Expires = ts
		}
		out = append(out, lic)
	}
	return out, nil
}

func (cs *ConfServer) Alarms(ctx context.Context) ([]Alarm, error) {
	resp, err := cs.client.Get(ctx, "/api/admin/status/v1/alarm/",
		&transport.Opts{Timeout: 30 * time.Second})
	if err != nil {
		return nil, err
	}
	var x struct {
		Objects []struct {
			ID     int64  `json:"id"`
			Name   string `json:"name"`
			Raised string `json:"time_raised"`
		} `json:"objects"`
	}
	if err := resp.JSON(&x); err != nil {
		return nil, &transport.ResponseError{URL: "status/alarm", Body: err.Error()}
	}
	out := make([]Alarm, 0, len(x.Objects))
	for _, a := range x.Objects {
		out = append(out, Alarm{
			ExternalID: strconv.FormatInt(a.ID, 10),
			Type:       a.Name,
			Since:      parseWireTime(a.Raised),
		})
	}
	return out, nil
}

// RegisterCDRReceiver writes the event-sink policy pointing at our
// webhook receiver.
func (cs *ConfServer) RegisterCDRReceiver(ctx context.Context, receiverURL string) error {
	body, err := json.Marshal(map[string]any{
		"name":    "confatlas event sink",
		"url":     receiverURL,
		"version": 1,
	})
	if err != nil {
		return err
	}
	_, err = cs.client.Post(ctx, "/api/admin/configuration/v1/event_sink/", body, nil)
	if transport.IsDuplicate(err) {
		return nil
	}
	return err
}

func (cs *ConfServer) historyPage(ctx context.Context, path string, since time.Time, offset, limit int) (*transport.Response, error) {
	if limit <= 0 {
		limit = historyPageSize
	}
	params := url.Values{}
	params.Set("end_time__gte", since.UTC().Format(wireTime))
	params.Set("order_by", "end_time")
	params.Set("offset", strconv.Itoa(offset))
	params.Set("limit", strconv.Itoa(limit))
	return cs.client.Get(ctx, path, &transport.Opts{Params: params})
}

func (cs *ConfServer) HistoryConferences(ctx context.Context, since time.Time, offset, limit int) (*HistoryPage, error) {
	resp, err := cs.historyPage(ctx, "/api/admin/history/v1/conference/", since, offset, limit)
	if err != nil {
		return nil, err
	}
	var list struct {
		Meta    listMeta `json:"meta"`
		Objects []struct {
			ID        string `json:"id"`
			Name      string `json:"name"`
			Tag       string `json:"tag"`
			StartTime string `json:"start_time"`
			EndTime   string `json:"end_time"`
			Count     int    `json:"participant_count"`
		} `json:"objects"`
	}
	if err := resp.JSON(&list); err != nil {
		return nil, &transport.ResponseError{URL: "history/conference", Body: err.Error()}
	}
	page := &HistoryPage{Total: list.Meta.TotalCount}
	for _, c := range list.Objects {
		call := &models.Call{
			GUID:      c.ID,
			ClusterID: cs.provider.ClusterID,
			Name:      c.Name,
			LegCount:  c.Count,
			TSStart:   parseWireTime(c.StartTime),
			TSStop:    parseWireTime(c.EndTime),
		}
		if tag, ok := models.ParseServiceTag(c.Tag); ok {
			call.TenantID = tag.TenantID
		}
		if call.TSStop.After(page.MaxEnd) {
			page.MaxEnd = call.TSStop
		}
		page.Calls = append(page.Calls, call)
	}
	return page, nil
}

func (cs *ConfServer) HistoryParticipants(ctx context.Context, since time.Time, offset, limit int) (*HistoryPage, error) {
	resp, err := cs.historyPage(ctx, "/api/admin/history/v1/participant/", since, offset, limit)
	if err != nil {
		return nil, err
	}
	var list struct {
		Meta    listMeta          `json:"meta"`
		Objects []wireParticipant `json:"objects"`
	}
	if err := resp.JSON(&list); err != nil {
		return nil, &transport.ResponseError{URL: "history/participant", Body: err.Error()}
	}
	page := &HistoryPage{Total: list.Meta.TotalCount}
	for i := range list.Objects {
		leg := list.Objects[i].toLeg(cs.provider.ClusterID)
		if leg.TSStop.After(page.MaxEnd) {
			page.MaxEnd = leg.TSStop
		}
		page.Legs = append(page.Legs, leg)
	}
	return page, nil
}

// resourceID extracts the trailing id of a resource URI reference.
func resourceID(uri string) string {
	uri = strings.TrimRight(uri, "/")
	if i := strings.LastIndexByte(uri, '/'); i >= 0 {
		return uri[i+1:]
	}
	return uri
}

func defaultStr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func boolWord(v bool, yes, no string) string {
	if v {
		return yes
	}
	return no
}
