// Confatlas - Multi-Tenant Video Conferencing Control Plane
// Copyright 2026 Confatlas Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/confatlas/confatlas

// Package backends wraps the vendor APIs of the three supported product
// families behind one capability set. The call-bridge family speaks
// XML-ish REST with form-encoded writes, the conference-server family
// JSON REST with basic auth, and the call-control family exposes
// read-only call records. A capability a family lacks returns
// transport.ErrNotImplemented.
package backends

import (
	"context"
	"fmt"
	"time"

	"github.com/confatlas/confatlas/internal/models"
	"github.com/confatlas/confatlas/internal/transport"
)

// SpaceQuery filters a space search.
type SpaceQuery struct {
	Query string

	// Tenant nil means any tenant, empty string means untenanted.
	Tenant *string

	OrgUnit string
	Offset  int
	Limit   int

	// Since restricts to objects created after the given time, for
	// incremental sync. Zero means no restriction.
	Since time.Time

	// AllowCached lets cluster-bound callers answer from the mirror.
	// Per-provider adapters ignore it.
	AllowCached bool
}

// SpacePatch is a partial space update. Nil fields are left untouched.
type SpacePatch struct {
	Name         *string
	URI          *string
	CallID       *string
	PIN          *string
	GuestPIN     *string
	AllowGuests  *bool
	SecondaryURI *string
	Passcode     *string
	ServiceType  *string
	Theme        *string
	Tag          *string
	Layout       *string
}

func ptr[T any](v T) *T { return &v }

// Member is one configured member of a call-bridge space.
type Member struct {
	ExternalID string
	UserID     string
	Email      string

	// Moderator members get the activation-capable leg profile when
	// the space has a lobby.
	Moderator bool
}

// DialRequest asks a backend to dial out from a conference.
type DialRequest struct {
	// CallGUID targets a live call; SpaceExternalID cold-starts the
	// conference instead.
	CallGUID        string
	SpaceExternalID string

	Remote     string
	Local      string
	Protocol   string
	Role       string
	RemoteName string
	KeepAlive  bool
	Streaming  bool
	DTMFSeq    string
}

// NodeStatus is the probed state of one backend node.
type NodeStatus struct {
	Version   string
	Uptime    time.Duration
	CallCount int
	LegCount  int
}

// License is one backend license entry.
type License struct {
	Feature string
	Status  string
	Expires time.Time
}

// Alarm is one active backend alarm.
type Alarm struct {
	ExternalID string
	Type       string
	Since      time.Time
}

// GatewayRule is one conference-server outbound dial rule.
type GatewayRule struct {
	ExternalID string
	Name       string
	Priority   int
	MatchStr   string
	Transform  string
}

// UserQuery filters a directory search.
type UserQuery struct {
	Query  string
	Tenant *string
	Offset int
	Limit  int
}

// HistoryPage is one page of completed-conference records pulled from
// the conference-server history API, ordered by end time ascending.
type HistoryPage struct {
	Calls []*models.Call
	Legs  []*models.Leg
	Total int

	// MaxEnd is the newest end_time on the page, used to advance the
	// ingest cursor.
	MaxEnd time.Time
}

// Adapter is the capability set a backend family exposes. Families
// implement the subset their product supports; everything else answers
// transport.ErrNotImplemented.
type Adapter interface {
	Provider() *models.Provider
	Family() models.Family

	// Login authenticates against the node. force skips the stored
	// session and always performs a fresh login.
	Login(ctx context.Context, force bool) error
	Version(ctx context.Context) (string, error)
	Status(ctx context.Context) (*NodeStatus, error)
	Licenses(ctx context.Context) ([]License, error)
	Alarms(ctx context.Context) ([]Alarm, error)

	// RegisterCDRReceiver points the backend's CDR / event-sink stream
	// at the given receiver URL.
	RegisterCDRReceiver(ctx context.Context, receiverURL string) error
	SyncLDAP(ctx context.Context) error

	FindSpaces(ctx context.Context, q SpaceQuery) ([]*models.Space, int, error)
	GetSpace(ctx context.Context, externalID string) (*models.Space, error)
	AddSpace(ctx context.Context, space *models.Space) (string, error)
	UpdateSpace(ctx context.Context, externalID string, patch SpacePatch) error
	DeleteSpace(ctx context.Context, externalID string) error

	ListAliases(ctx context.Context, spaceExternalID string) ([]*models.SpaceAlias, error)
	AddAlias(ctx context.Context, spaceExternalID, alias, descriptor string) (string, error)
	DeleteAlias(ctx context.Context, spaceExternalID, aliasExternalID string) error
	ListAutoParticipants(ctx context.Context, spaceExternalID string) ([]*models.AutoParticipant, error)
	Themes(ctx context.Context) ([]*models.Theme, error)
	GatewayRules(ctx context.Context) ([]GatewayRule, error)

	FindUsers(ctx context.Context, q UserQuery) ([]*models.User, int, error)
	GetUser(ctx context.Context, externalID string) (*models.User, error)
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)

	Members(ctx context.Context, spaceExternalID string) ([]Member, error)
	AddMember(ctx context.Context, spaceExternalID string, m Member) (string, error)
	UpdateMember(ctx context.Context, spaceExternalID string, m Member) error
	RemoveMember(ctx context.Context, spaceExternalID, memberExternalID string) error

	Calls(ctx context.Context) ([]*models.Call, error)
	Participants(ctx context.Context, callGUID string) ([]*models.Leg, error)
	CallLeg(ctx context.Context, legGUID string) (*models.Leg, error)
	Dial(ctx context.Context, req DialRequest) (string, error)
	HangupCall(ctx context.Context, callGUID string) error
	HangupParticipant(ctx context.Context, legGUID string) error
	SetMute(ctx context.Context, legGUID string, muted bool) error
	SetModerator(ctx context.Context, legGUID string, moderator bool) error
	SetLock(ctx context.Context, callGUID string, locked bool) error

	HistoryConferences(ctx context.Context, since time.Time, offset, limit int) (*HistoryPage, error)
	HistoryParticipants(ctx context.Context, since time.Time, offset, limit int) (*HistoryPage, error)
}

// Deps carries the shared plumbing adapters need.
type Deps struct {
	Sessions transport.SessionStore
	Tracer   transport.Tracer

	// CustomerID scopes trace logging when the adapter acts on behalf
	// of one customer.
	CustomerID int64

	// BaseURL overrides the provider-derived API root. Tests point it
	// at an httptest server.
	BaseURL string
}

// New builds the adapter for the provider's family.
func New(provider *models.Provider, deps Deps) (Adapter, error) {
	switch provider.Family {
	case models.FamilyCallBridge:
		return newCallBridge(provider, deps), nil
	case models.FamilyConfServer:
		return newConfServer(provider, deps), nil
	case models.FamilyCallControl:
		return newCallControl(provider, deps), nil
	default:
		return nil, fmt.Errorf("backends: unknown family %q", provider.Family)
	}
}

// base carries the provider and transport client and answers
// ErrNotImplemented for every capability. Family adapters embed it and
// override what their product supports.
type base struct {
	provider *models.Provider
	client   *transport.Client
}

func (b *base) Provider() *models.Provider { return b.provider }
func (b *base) Family() models.Family      { return b.provider.Family }

func (b *base) Login(context.Context, bool) error         { return nil }
func (b *base) Version(context.Context) (string, error)   { return "", transport.ErrNotImplemented }
func (b *base) Status(context.Context) (*NodeStatus, error) {
	return nil, transport.ErrNotImplemented
}
func (b *base) Licenses(context.Context) ([]License, error) {
	return nil, transport.ErrNotImplemented
}
func (b *base) Alarms(context.Context) ([]Alarm, error) { return nil, transport.ErrNotImplemented }
func (b *base) RegisterCDRReceiver(context.Context, string) error {
	return transport.ErrNotImplemented
}
func (b *base) SyncLDAP(context.Context) error { return transport.ErrNotImplemented }

func (b *base) FindSpaces(context.Context, SpaceQuery) ([]*models.Space, int, error) {
	return nil, 0, transport.ErrNotImplemented
}
func (b *base) GetSpace(context.Context, string) (*models.Space, error) {
	return nil, transport.ErrNotImplemented
}
func (b *base) AddSpace(context.Context, *models.Space) (string, error) {
	return "", transport.ErrNotImplemented
}
func (b *base) UpdateSpace(context.Context, string, SpacePatch) error {
	return transport.ErrNotImplemented
}
func (b *base) DeleteSpace(context.Context, string) error { return transport.ErrNotImplemented }

func (b *base) ListAliases(context.Context, string) ([]*models.SpaceAlias, error) {
	return nil, transport.ErrNotImplemented
}
func (b *base) AddAlias(context.Context, string, string, string) (string, error) {
	return "", transport.ErrNotImplemented
}
func (b *base) DeleteAlias(context.Context, string, string) error {
	return transport.ErrNotImplemented
}
func (b *base) ListAutoParticipants(context.Context, string) ([]*models.AutoParticipant, error) {
	return nil, transport.ErrNotImplemented
}
func (b *base) Themes(context.Context) ([]*models.Theme, error) {
	return nil, transport.ErrNotImplemented
}
func (b *base) GatewayRules(context.Context) ([]GatewayRule, error) {
	return nil, transport.ErrNotImplemented
}

func (b *base) FindUsers(context.Context, UserQuery) ([]*models.User, int, error) {
	return nil, 0, transport.ErrNotImplemented
}
func (b *base) GetUser(context.Context, string) (*models.User, error) {
	return nil, transport.ErrNotImplemented
}
func (b *base) FindUserByEmail(context.Context, string) (*models.User, error) {
	return nil, transport.ErrNotImplemented
}

func (b *base) Members(context.Context, string) ([]Member, error) {
	return nil, transport.ErrNotImplemented
}
func (b *base) AddMember(context.Context, string, Member) (string, error) {
	return "", transport.ErrNotImplemented
}
func (b *base) UpdateMember(context.Context, string, Member) error {
	return transport.ErrNotImplemented
}
func (b *base) RemoveMember(context.Context, string, string) error {
	return transport.ErrNotImplemented
}

func (b *base) Calls(context.Context) ([]*models.Call, error) {
	return nil, transport.ErrNotImplemented
}
func (b *base) Participants(context.Context, string) ([]*models.Leg, error) {
	return nil, transport.ErrNotImplemented
}
func (b *base) CallLeg(context.Context, string) (*models.Leg, error) {
	return nil, transport.ErrNotImplemented
}
func (b *base) Dial(context.Context, DialRequest) (string, error) {
	return "", transport.ErrNotImplemented
}
func (b *base) HangupCall(context.Context, string) error        { return transport.ErrNotImplemented }
func (b *base) HangupParticipant(context.Context, string) error { return transport.ErrNotImplemented }
func (b *base) SetMute(context.Context, string, bool) error     { return transport.ErrNotImplemented }
func (b *base) SetModerator(context.Context, string, bool) error {
	return transport.ErrNotImplemented
}
func (b *base) SetLock(context.Context, string, bool) error { return transport.ErrNotImplemented }

func (b *base) HistoryConferences(context.Context, time.Time, int, int) (*HistoryPage, error) {
	return nil, transport.ErrNotImplemented
}
func (b *base) HistoryParticipants(context.Context, time.Time, int, int) (*HistoryPage, error) {
	return nil, transport.ErrNotImplemented
}
