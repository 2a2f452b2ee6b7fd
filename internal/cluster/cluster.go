// Confatlas - Multi-Tenant Video Conferencing Control Plane
// Copyright 2026 Confatlas Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/confatlas/confatlas

// Package cluster resolves per-cluster provisioning settings, picks
// backend nodes for reads and writes, and allocates numeric call-ids
// from the cluster's number ranges.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/confatlas/confatlas/internal/cache"
	"github.com/confatlas/confatlas/internal/database"
	"github.com/confatlas/confatlas/internal/logging"
	"github.com/confatlas/confatlas/internal/models"
)

const (
	settingsTTL       = 10 * time.Second
	settingsCacheSize = 100

	// defaultRangeSpan sizes lazily created number ranges.
	defaultRangeStart = 100000
	defaultRangeStop  = 999999
)

// ErrNoProvider is returned when a cluster has no usable node.
var ErrNoProvider = errors.New("cluster: no enabled provider")

// Service answers settings and node-selection questions about clusters.
// Settings lookups are memoized for a few seconds; any settings or
// number-range write flushes the memo.
type Service struct {
	db       *database.DB
	settings *cache.FIFO[string, *models.ClusterSettings]
	pick     func(n int) int
}

func New(db *database.DB) *Service {
	return &Service{
		db:       db,
		settings: cache.NewFIFO[string, *models.ClusterSettings](settingsCacheSize, settingsTTL),
		pick:     rand.IntN,
	}
}

// Invalidate drops all memoized settings.
func (s *Service) Invalidate() {
	s.settings.Clear()
}

// Settings resolves the effective settings for a (cluster, customer)
// pair. Customer overrides fall back field by field to the cluster
// default row, and finally to values derived from the cluster itself.
// customerID 0 resolves the cluster default directly.
func (s *Service) Settings(ctx context.Context, c *models.Cluster, customerID int64) (*models.ClusterSettings, error) {
	key := fmt.Sprintf("%d:%d", c.ID, customerID)
	return s.settings.GetOrLoad(key, func() (*models.ClusterSettings, error) {
		return s.loadSettings(ctx, c, customerID)
	})
}

func (s *Service) loadSettings(ctx context.Context, c *models.Cluster, customerID int64) (*models.ClusterSettings, error) {
	var override *models.ClusterSettings
	if customerID > 0 {
		row, err := s.db.GetClusterSettings(ctx, c.ID, customerID)
		if err != nil && !errors.Is(err, database.ErrNotFound) {
			return nil, err
		}
		override = row
	}
	def, err := s.db.GetClusterSettings(ctx, c.ID, 0)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return nil, err
	}

	merged := mergeSettings(override, def)
	merged.ClusterID = c.ID
	merged.CustomerID = customerID
	if merged.MainDomain == "" {
		merged.MainDomain = c.InternalDomain
	}
	if merged.WebDomain == "" {
		merged.WebDomain = c.WebHost
	}
	if merged.PhoneIVR == "" {
		merged.PhoneIVR = c.PhoneIVR
	}
	return merged, nil
}

// mergeSettings overlays the customer row on the cluster default. Either
// argument may be nil.
func mergeSettings(override, def *models.ClusterSettings) *models.ClusterSettings {
	merged := &models.ClusterSettings{}
	if def != nil {
		*merged = *def
	}
	if override == nil {
		return merged
	}
	merged.ID = override.ID
	if override.MainDomain != "" {
		merged.MainDomain = override.MainDomain
	}
	if override.AdditionalDomains != "" {
		merged.AdditionalDomains = override.AdditionalDomains
	}
	if override.WebDomain != "" {
		merged.WebDomain = override.WebDomain
	}
	if override.PhoneIVR != "" {
		merged.PhoneIVR = override.PhoneIVR
	}
	if override.DialOutLocation != "" {
		merged.DialOutLocation = override.DialOutLocation
	}
	if override.ThemeProfile != "" {
		merged.ThemeProfile = override.ThemeProfile
	}
	if override.ScheduledRoomNumberRangeID != 0 {
		merged.ScheduledRoomNumberRangeID = override.ScheduledRoomNumberRangeID
	}
	if override.StaticRoomNumberRangeID != 0 {
		merged.StaticRoomNumberRangeID = override.StaticRoomNumberRangeID
	}
	if override.RemoveExpiredRooms != 0 {
		merged.RemoveExpiredRooms = override.RemoveExpiredRooms
	}
	if override.SetCallIDAsURI {
		merged.SetCallIDAsURI = true
	}
	if override.UseLocalDatabase {
		merged.UseLocalDatabase = true
	}
	return merged
}

// SaveSettings writes a settings row and flushes the memo.
func (s *Service) SaveSettings(ctx context.Context, row *models.ClusterSettings) error {
	if err := s.db.UpsertClusterSettings(ctx, row); err != nil {
		return err
	}
	s.Invalidate()
	return nil
}

// Members returns the cluster's conferencing nodes, service nodes
// excluded.
func (s *Service) Members(ctx context.Context, clusterID int64) ([]*models.Provider, error) {
	return s.db.ListProviders(ctx, clusterID)
}

// Clustered returns the peers of a node for fan-out operations.
// onlyConferencing drops recorders and other service nodes.
func (s *Service) Clustered(ctx context.Context, self *models.Provider, includeSelf, onlyConferencing bool) ([]*models.Provider, error) {
	var (
		nodes []*models.Provider
		err   error
	)
	if onlyConferencing {
		nodes, err = s.db.ListProviders(ctx, self.ClusterID)
	} else {
		nodes, err = s.db.ListClusterNodes(ctx, self.ClusterID)
	}
	if err != nil {
		return nil, err
	}
	out := nodes[:0]
	for _, n := range nodes {
		if n.ID == self.ID && !includeSelf {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

// Writer picks the node a mutating API call should target. Enabled
// nodes are chosen at random to spread load; a disabled node is used
// only when nothing else is left.
func (s *Service) Writer(ctx context.Context, clusterID int64) (*models.Provider, error) {
	members, err := s.Members(ctx, clusterID)
	if err != nil {
		return nil, err
	}
	var enabled []*models.Provider
	for _, m := range members {
		if m.Enabled {
			enabled = append(enabled, m)
		}
	}
	if len(enabled) > 0 {
		return enabled[s.pick(len(enabled))], nil
	}
	if len(members) > 0 {
		logging.Warn().Int64("cluster", clusterID).
			Msg("no enabled provider, falling back to disabled node")
		return members[0], nil
	}
	return nil, ErrNoProvider
}

// Reader picks a node for read traffic. Same policy as Writer; state
// replicates across the cluster so any node serves.
func (s *Service) Reader(ctx context.Context, clusterID int64) (*models.Provider, error) {
	return s.Writer(ctx, clusterID)
}

// ScheduledNumberRange returns the range scheduled meetings allocate
// call-ids from, creating it on first use.
func (s *Service) ScheduledNumberRange(ctx context.Context, c *models.Cluster, customerID int64) (*models.NumberRange, error) {
	return s.ensureRange(ctx, c, customerID, "scheduled")
}

// StaticNumberRange returns the range static rooms allocate from,
// creating it on first use.
func (s *Service) StaticNumberRange(ctx context.Context, c *models.Cluster, customerID int64) (*models.NumberRange, error) {
	return s.ensureRange(ctx, c, customerID, "static")
}

func (s *Service) ensureRange(ctx context.Context, c *models.Cluster, customerID int64, kind string) (*models.NumberRange, error) {
	settings, err := s.Settings(ctx, c, customerID)
	if err != nil {
		return nil, err
	}
	id := settings.StaticRoomNumberRangeID
	if kind == "scheduled" {
		id = settings.ScheduledRoomNumberRangeID
	}
	if id != 0 {
		return s.db.GetNumberRange(ctx, id)
	}

	// Lazy creation races with concurrent bookings; the settings row
	// lock in UpsertClusterSettings serializes writers, and a re-read
	// after the write catches a range another goroutine just stored.
	r := &models.NumberRange{
		ClusterID: c.ID,
		Title:     fmt.Sprintf("%s rooms (%s)", kind, c.Title),
		Start:     defaultRangeStart,
		Stop:      defaultRangeStop,
	}
	if err := s.db.CreateNumberRange(ctx, r); err != nil {
		return nil, err
	}
	row, err := s.db.GetClusterSettings(ctx, c.ID, 0)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return nil, err
	}
	if row == nil {
		row = &models.ClusterSettings{ClusterID: c.ID}
	}
	if kind == "scheduled" {
		if row.ScheduledRoomNumberRangeID != 0 {
			return s.db.GetNumberRange(ctx, row.ScheduledRoomNumberRangeID)
		}
		row.ScheduledRoomNumberRangeID = r.ID
	} else {
		if row.StaticRoomNumberRangeID != 0 {
			return s.db.GetNumberRange(ctx, row.StaticRoomNumberRangeID)
		}
		row.StaticRoomNumberRangeID = r.ID
	}
	if err := s.SaveSettings(ctx, row); err != nil {
		return nil, err
	}
	return r, nil
}

// AllocateNumber takes the next free number from the range, skipping
// anything already present as a mirrored alias, URI or call-id on the
// cluster's providers.
func (s *Service) AllocateNumber(ctx context.Context, r *models.NumberRange, providerIDs []int64) (string, error) {
	number, err := s.db.UseNumberRange(ctx, r.ID, func(candidate string) bool {
		exists, err := s.db.AliasExists(ctx, providerIDs, candidate)
		if err != nil {
			logging.Error().Err(err).Str("candidate", candidate).
				Msg("alias collision check failed, skipping number")
			return true
		}
		return exists
	})
	if err != nil {
		return "", err
	}
	return number, nil
}
