// Confatlas - Multi-Tenant Video Conferencing Control Plane
// Copyright 2026 Confatlas Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/confatlas/confatlas

// Package models defines the persistent entities of the control plane:
// customers and their API keys, clusters and backend providers, match
// rules, the mirrored backend objects (spaces, users, aliases, themes),
// meetings with their recurrence and side-car records, and the live
// call/leg view built from statistics ingest.
//
// Types here are plain data with small pure methods. Persistence lives
// in internal/database; matching policy in internal/tenantmatch.
package models
