// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package editsqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/iius-rcox/ai-assistant-sub001/overedit"
)

// Draft is the locally persisted snapshot of an unsaved edit.
type Draft struct {
	RecordID        string          `json:"-"`
	CurrentValues   overedit.Values `json:"currentValues"`
	BaselineValues  overedit.Values `json:"baselineValues"`
	BaselineVersion int64           `json:"baselineVersion"`
	DirtyFields     []string        `json:"dirtyFields"`
	SavedAt         time.Time       `json:"savedAt"`
}

// Stale reports whether the draft is older than ttl at now.
func (d *Draft) Stale(now time.Time, ttl time.Duration) bool {
	return now.Sub(d.SavedAt) > ttl
}

func (d *Draft) clone() *Draft {
	if d == nil {
		return nil
	}
	out := *d
	out.CurrentValues = d.CurrentValues.Clone()
	out.BaselineValues = d.BaselineValues.Clone()
	out.DirtyFields = append([]string(nil), d.DirtyFields...)
	return &out
}

// DraftStore persists drafts under "{namespace}:{schemaVersion}:draft:{recordId}".
type DraftStore struct {
	kv            *kvStore
	namespace     string
	schemaVersion int
	ttl           time.Duration
	now           func() time.Time
	logger        *slog.Logger
}

func newDraftStore(kv *kvStore, config *Config, logger *slog.Logger) *DraftStore {
	return &DraftStore{
		kv:            kv,
		namespace:     config.Namespace,
		schemaVersion: config.SchemaVersion,
		ttl:           config.DraftTTL,
		now:           time.Now,
		logger:        logger,
	}
}

// Save writes d, overwriting any draft for the same record. SavedAt is set to now.
func (s *DraftStore) Save(ctx context.Context, d *Draft) error {
	if d == nil || d.RecordID == "" {
		return fmt.Errorf("draft record id is required")
	}
	stored := d.clone()
	stored.SavedAt = s.now().UTC()
	if stored.DirtyFields == nil {
		stored.DirtyFields = []string{}
	}
	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to marshal draft: %w", err)
	}
	if err := s.kv.put(ctx, draftKey(s.namespace, s.schemaVersion, d.RecordID), data); err != nil {
		return fmt.Errorf("failed to save draft for record %s: %w", d.RecordID, err)
	}
	d.SavedAt = stored.SavedAt
	return nil
}

// Load returns the draft for recordID, or nil if there is none. Stale or
// unreadable drafts are deleted and reported as absent.
func (s *DraftStore) Load(ctx context.Context, recordID string) (*Draft, error) {
	key := draftKey(s.namespace, s.schemaVersion, recordID)
	data, ok, err := s.kv.get(ctx, key)
	if err != nil || !ok {
		return nil, err
	}
	d, err := decodeDraft(recordID, data)
	if err != nil {
		s.logger.Warn("Discarding unreadable draft", "record_id", recordID, "error", err)
		return nil, s.kv.delete(ctx, key)
	}
	if d.Stale(s.now(), s.ttl) {
		s.logger.Info("Discarding stale draft", "record_id", recordID, "saved_at", d.SavedAt)
		return nil, s.kv.delete(ctx, key)
	}
	return d, nil
}

// Delete removes the draft for recordID. Deleting a missing draft is not an error.
func (s *DraftStore) Delete(ctx context.Context, recordID string) error {
	if err := s.kv.delete(ctx, draftKey(s.namespace, s.schemaVersion, recordID)); err != nil {
		return fmt.Errorf("failed to delete draft for record %s: %w", recordID, err)
	}
	return nil
}

// List returns all live drafts of the current schema version, ordered by record id.
func (s *DraftStore) List(ctx context.Context) ([]*Draft, error) {
	entries, err := s.kv.scanPrefix(ctx, namespacePrefix(s.namespace))
	if err != nil {
		return nil, err
	}
	now := s.now()
	var out []*Draft
	for _, e := range entries {
		pk, ok := parseKey(e.Key)
		if !ok || pk.kind != kindDraft || pk.schemaVersion != s.schemaVersion {
			continue
		}
		d, err := decodeDraft(pk.recordID, e.Value)
		if err != nil || d.Stale(now, s.ttl) {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecordID < out[j].RecordID })
	return out, nil
}

// Cleanup removes drafts that are stale, unreadable, or written under another
// schema version. It returns the number of drafts removed.
func (s *DraftStore) Cleanup(ctx context.Context) (int, error) {
	entries, err := s.kv.scanPrefix(ctx, namespacePrefix(s.namespace))
	if err != nil {
		return 0, err
	}
	now := s.now()
	removed := 0
	for _, e := range entries {
		pk, ok := parseKey(e.Key)
		if !ok {
			continue
		}
		if pk.kind == kindPending {
			// Queues are parked by the client, never dropped here.
			continue
		}
		drop := pk.schemaVersion != s.schemaVersion
		if !drop {
			d, err := decodeDraft(pk.recordID, e.Value)
			drop = err != nil || d.Stale(now, s.ttl)
		}
		if !drop {
			continue
		}
		if err := s.kv.delete(ctx, e.Key); err != nil {
			return removed, err
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info("Removed outdated drafts", "count", removed)
	}
	return removed, nil
}

func decodeDraft(recordID string, data []byte) (*Draft, error) {
	var d Draft
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	d.RecordID = recordID
	if d.CurrentValues == nil {
		d.CurrentValues = overedit.Values{}
	}
	if d.BaselineValues == nil {
		d.BaselineValues = overedit.Values{}
	}
	return &d, nil
}
