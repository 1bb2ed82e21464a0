// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package overedit

import (
	"sort"
	"time"
)

// Values maps editable field names to their enumerated values.
type Values map[string]string

// Clone returns an independent copy. A nil receiver yields an empty map.
func (v Values) Clone() Values {
	out := make(Values, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// Equal reports whether both maps hold the same keys and values.
func (v Values) Equal(other Values) bool {
	if len(v) != len(other) {
		return false
	}
	for k, val := range v {
		if o, ok := other[k]; !ok || o != val {
			return false
		}
	}
	return true
}

// With returns a copy of v with updates applied on top.
func (v Values) With(updates Values) Values {
	out := v.Clone()
	for k, val := range updates {
		out[k] = val
	}
	return out
}

// Keys returns the field names in sorted order.
func (v Values) Keys() []string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Record is one editable row as held by the remote store.
type Record struct {
	ID        string
	Values    Values
	Display   map[string]string // read-only: subject, sender, received_at
	Version   int64
	UpdatedAt time.Time
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.Values = r.Values.Clone()
	if r.Display != nil {
		out.Display = make(map[string]string, len(r.Display))
		for k, v := range r.Display {
			out.Display[k] = v
		}
	}
	return &out
}
