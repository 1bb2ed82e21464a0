// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package overedit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrRecordNotFound is returned when the record id is unknown to the store
var ErrRecordNotFound = errors.New("record not found")

// WriteResult is the outcome of a conditional update. When Accepted is false,
// Record holds the current server row so the caller can resolve the conflict.
type WriteResult struct {
	Accepted bool
	Record   *Record
}

// RecordStore is the remote store contract: a conditional update equivalent to
//
//	UPDATE record SET fields = ... WHERE id = ? AND version = ?
//
// Implementations increment version by exactly one and refresh updated_at on
// every accepted write.
type RecordStore interface {
	GetRecord(ctx context.Context, id string) (*Record, error)
	ConditionalUpdate(ctx context.Context, id string, updates Values, expectedVersion int64) (WriteResult, error)
	// PutRecord inserts a record at version 1, or overwrites display fields and
	// merges values into an existing one (bumping its version). Used by the
	// classification pipeline, which is an authoritative writer.
	PutRecord(ctx context.Context, rec *Record) (*Record, error)
}

// MemoryStore is an in-process RecordStore.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
		now:     time.Now,
	}
}

func (m *MemoryStore) GetRecord(_ context.Context, id string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	return rec.Clone(), nil
}

func (m *MemoryStore) ConditionalUpdate(_ context.Context, id string, updates Values, expectedVersion int64) (WriteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return WriteResult{}, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	if rec.Version != expectedVersion {
		return WriteResult{Accepted: false, Record: rec.Clone()}, nil
	}
	rec.Values = rec.Values.With(updates)
	rec.Version++
	rec.UpdatedAt = m.now().UTC()
	return WriteResult{Accepted: true, Record: rec.Clone()}, nil
}

func (m *MemoryStore) PutRecord(_ context.Context, in *Record) (*Record, error) {
	if in == nil || in.ID == "" {
		return nil, fmt.Errorf("record id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	rec, ok := m.records[in.ID]
	if !ok {
		rec = in.Clone()
		rec.Version = 1
		rec.UpdatedAt = now
		if rec.Values == nil {
			rec.Values = Values{}
		}
		m.records[in.ID] = rec
		return rec.Clone(), nil
	}
	rec.Values = rec.Values.With(in.Values)
	if in.Display != nil {
		rec.Display = in.Clone().Display
	}
	rec.Version++
	rec.UpdatedAt = now
	return rec.Clone(), nil
}

// Len returns the number of stored records.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}
