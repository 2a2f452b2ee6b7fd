// Confatlas - Multi-Tenant Video Conferencing Control Plane
// Copyright 2026 Confatlas Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/confatlas/confatlas

package models

import (
	"net/url"
	"strconv"
	"strings"
)

// ServiceTag is the correlation tag written onto conference-server
// spaces and parsed back out of CDR records. Wire format is a URL query
// string `t=<tenant>&c=<customer>&i=<guid>&m=<meeting>` with empty
// fields omitted.
type ServiceTag struct {
	TenantID   string
	CustomerID int64
	GUID       string
	MeetingID  int64
}

// Encode renders the tag in canonical field order.
func (t ServiceTag) Encode() string {
	var b strings.Builder
	appendField := func(key, value string) {
		if value == "" {
			return
		}
		if b.Len() > 0 {
			b.WriteByte('&')
		}
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(value))
	}

	appendField("t", t.TenantID)
	if t.CustomerID != 0 {
		appendField("c", strconv.FormatInt(t.CustomerID, 10))
	}
	appendField("i", t.GUID)
	if t.MeetingID != 0 {
		appendField("m", strconv.FormatInt(t.MeetingID, 10))
	}
	return b.String()
}

// ParseServiceTag decodes a tag string. Unknown keys are ignored so tags
// written by other systems still resolve their tenant. A tag with no
// recognized fields yields the zero value and ok=false.
func ParseServiceTag(s string) (ServiceTag, bool) {
	values, err := url.ParseQuery(s)
	if err != nil {
		return ServiceTag{}, false
	}

	var tag ServiceTag
	ok := false
	if v := values.Get("t"); v != "" {
		tag.TenantID = v
		ok = true
	}
	if v := values.Get("c"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			tag.CustomerID = id
			ok = true
		}
	}
	if v := values.Get("i"); v != "" {
		tag.GUID = v
		ok = true
	}
	if v := values.Get("m"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			tag.MeetingID = id
			ok = true
		}
	}
	return tag, ok
}
