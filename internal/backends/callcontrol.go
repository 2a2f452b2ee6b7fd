// Confatlas - Multi-Tenant Video Conferencing Control Plane
// Copyright 2026 Confatlas Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/confatlas/confatlas

package backends

import (
	"context"
	"strings"
	"time"

	"github.com/confatlas/confatlas/internal/models"
	"github.com/confatlas/confatlas/internal/transport"
)

// CallControl is the adapter for call-control nodes. These expose call
// records for statistics only; nothing is provisioned on them.
type CallControl struct {
	base
}

func newCallControl(provider *models.Provider, deps Deps) *CallControl {
	cc := &CallControl{}
	cc.provider = provider
	cc.client = transport.NewClient(provider, transport.Config{
		AuthMode:   transport.AuthBasic,
		Sessions:   deps.Sessions,
		Tracer:     deps.Tracer,
		CustomerID: deps.CustomerID,
		BaseURL:    deps.BaseURL,
	})
	return cc
}

func (cc *CallControl) Login(ctx context.Context, _ bool) error {
	_, err := cc.Version(ctx)
	return err
}

func (cc *CallControl) Version(ctx context.Context) (string, error) {
	resp, err := cc.client.Get(ctx, "/api/v2/status/system",
		&transport.Opts{Timeout: 30 * time.Second})
	if err != nil {
		return "", err
	}
	var x struct {
		Version string `json:"software_version"`
	}
	if err := resp.JSON(&x); err != nil {
		return "", &transport.ResponseError{URL: "status/system", Body: err.Error()}
	}
	return x.Version, nil
}

// wireRecord is one scraped call record. The node mixes live and
// completed records in one listing.
type wireRecord struct {
	GUID        string `json:"call_guid"`
	Source      string `json:"source_alias"`
	Destination string `json:"destination_alias"`
	DisplayName string `json:"display_name"`
	Protocol    string `json:"protocol"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
}

// Calls lists the node's call records as single-leg calls keyed by the
// scraped GUID.
func (cc *CallControl) Calls(ctx context.Context) ([]*models.Call, error) {
	records, err := cc.records(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Call, 0, len(records))
	for _, r := range records {
		out = append(out, &models.Call{
			GUID:      r.GUID,
			ClusterID: cc.provider.ClusterID,
			Name:      r.Destination,
			TSStart:   parseWireTime(r.StartTime),
			TSStop:    parseWireTime(r.EndTime),
			LegCount:  1,
		})
	}
	return out, nil
}

// Participants returns every record's leg; callGUID filters to one call.
func (cc *CallControl) Participants(ctx context.Context, callGUID string) ([]*models.Leg, error) {
	records, err := cc.records(ctx)
	if err != nil {
		return nil, err
	}
	var out []*models.Leg
	for _, r := range records {
		if callGUID != "" && r.GUID != callGUID {
			continue
		}
		out = append(out, &models.Leg{
			GUID:        r.GUID,
			ClusterID:   cc.provider.ClusterID,
			CallGUID:    r.GUID,
			LocalAlias:  r.Destination,
			RemoteAlias: r.Source,
			DisplayName: r.DisplayName,
			Protocol:    strings.ToLower(r.Protocol),
			Direction:   "in",
			TSStart:     parseWireTime(r.StartTime),
			TSStop:      parseWireTime(r.EndTime),
		})
	}
	return out, nil
}

func (cc *CallControl) records(ctx context.Context) ([]wireRecord, error) {
	resp, err := cc.client.Get(ctx, "/api/v2/status/calls",
		&transport.Opts{Timeout: 30 * time.Second})
	if err != nil {
		return nil, err
	}
	var list struct {
		Calls []wireRecord `json:"calls"`
	}
	if err := resp.JSON(&list); err != nil {
		return nil, &transport.ResponseError{URL: "status/calls", Body: err.Error()}
	}
	return list.Calls, nil
}
