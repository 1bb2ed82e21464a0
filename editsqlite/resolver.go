// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package editsqlite

import "github.com/iius-rcox/ai-assistant-sub001/overedit"

// ConflictReport describes a rejected write field by field.
type ConflictReport struct {
	RecordID string

	BaselineValues overedit.Values
	ClientValues   overedit.Values
	ClientVersion  int64
	ServerValues   overedit.Values
	ServerVersion  int64

	ConflictingFields []string
	MergeableFields   []string

	// Merged is the three-way merge proposal. Conflicting fields keep the
	// server value until a choice is made.
	Merged         overedit.Values
	CanAutoResolve bool
}

// Resolve classifies every field in fields against the three versions.
//
// A field nobody touched is in neither list. Otherwise: server unchanged means
// the client wins; client unchanged means the server wins; both changed to the
// same value is mergeable; both changed to different values conflicts.
func Resolve(fields []string, baseline, client, server overedit.Values) *ConflictReport {
	r := &ConflictReport{
		BaselineValues: baseline.Clone(),
		ClientValues:   client.Clone(),
		ServerValues:   server.Clone(),
		Merged:         server.Clone(),
	}
	for _, f := range fields {
		b, c, s := baseline[f], client[f], server[f]
		switch {
		case c == b && s == b:
			// untouched
		case s == b:
			r.MergeableFields = append(r.MergeableFields, f)
			r.Merged[f] = c
		case c == b:
			r.MergeableFields = append(r.MergeableFields, f)
		case c == s:
			r.MergeableFields = append(r.MergeableFields, f)
		default:
			r.ConflictingFields = append(r.ConflictingFields, f)
		}
	}
	r.CanAutoResolve = len(r.ConflictingFields) == 0
	return r
}

// clone returns an independent copy of the report.
func (r *ConflictReport) clone() *ConflictReport {
	if r == nil {
		return nil
	}
	out := *r
	out.BaselineValues = r.BaselineValues.Clone()
	out.ClientValues = r.ClientValues.Clone()
	out.ServerValues = r.ServerValues.Clone()
	out.Merged = r.Merged.Clone()
	out.ConflictingFields = append([]string(nil), r.ConflictingFields...)
	out.MergeableFields = append([]string(nil), r.MergeableFields...)
	return &out
}

// diffValues returns the entries of target (restricted to fields) that differ from base.
func diffValues(fields []string, base, target overedit.Values) overedit.Values {
	out := overedit.Values{}
	for _, f := range fields {
		v, ok := target[f]
		if !ok {
			continue
		}
		if bv, ok := base[f]; !ok || bv != v {
			out[f] = v
		}
	}
	return out
}

// dirtyFields lists the fields whose current value differs from baseline, in schema order.
func dirtyFields(fields []string, baseline, current overedit.Values) []string {
	var dirty []string
	for _, f := range fields {
		if current[f] != baseline[f] {
			dirty = append(dirty, f)
		}
	}
	return dirty
}
