// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package editsqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/iius-rcox/ai-assistant-sub001/overedit"
)

// QueuedSubmission is a write that could not reach the store.
type QueuedSubmission struct {
	QueueID         string          `json:"queueId"`
	RecordID        string          `json:"recordId"`
	ExpectedVersion int64           `json:"expectedVersion"`
	FieldUpdates    overedit.Values `json:"fieldUpdates"`
	BaseValues      overedit.Values `json:"baseValues,omitempty"`
	QueuedAt        time.Time       `json:"queuedAt"`
	Attempts        int             `json:"attempts"`
	LastError       string          `json:"lastError,omitempty"`
}

// PendingQueue is the durable, ordered list of queued submissions stored as a
// single JSON array under "{namespace}:{schemaVersion}:pending".
type PendingQueue struct {
	kv     *kvStore
	key    string
	now    func() time.Time
	logger *slog.Logger

	// replayMu serializes replay passes.
	replayMu sync.Mutex
}

func newPendingQueue(kv *kvStore, config *Config, logger *slog.Logger) *PendingQueue {
	return &PendingQueue{
		kv:     kv,
		key:    pendingKey(config.Namespace, config.SchemaVersion),
		now:    time.Now,
		logger: logger,
	}
}

func decodeQueue(data []byte) ([]QueuedSubmission, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var items []QueuedSubmission
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("failed to decode pending queue: %w", err)
	}
	return items, nil
}

func encodeQueue(items []QueuedSubmission) ([]byte, error) {
	if len(items) == 0 {
		return nil, nil
	}
	return json.Marshal(items)
}

// mutate applies fn to the stored list in one transaction.
func (q *PendingQueue) mutate(ctx context.Context, fn func(items []QueuedSubmission) ([]QueuedSubmission, error)) error {
	return q.kv.update(ctx, q.key, func(old []byte) ([]byte, error) {
		items, err := decodeQueue(old)
		if err != nil {
			return nil, err
		}
		next, err := fn(items)
		if err != nil {
			return nil, err
		}
		return encodeQueue(next)
	})
}

// Enqueue appends sub. A submission whose QueueID is already queued is not
// added twice. The stored submission is returned.
func (q *PendingQueue) Enqueue(ctx context.Context, sub QueuedSubmission) (QueuedSubmission, error) {
	if sub.RecordID == "" {
		return QueuedSubmission{}, fmt.Errorf("queued submission requires a record id")
	}
	if sub.QueueID == "" {
		sub.QueueID = uuid.NewString()
	}
	if sub.QueuedAt.IsZero() {
		sub.QueuedAt = q.now().UTC()
	}
	sub.FieldUpdates = sub.FieldUpdates.Clone()
	if sub.BaseValues != nil {
		sub.BaseValues = sub.BaseValues.Clone()
	}

	stored := sub
	err := q.mutate(ctx, func(items []QueuedSubmission) ([]QueuedSubmission, error) {
		for _, it := range items {
			if it.QueueID == sub.QueueID {
				stored = it
				return items, nil
			}
		}
		return append(items, sub), nil
	})
	if err != nil {
		return QueuedSubmission{}, fmt.Errorf("failed to enqueue submission for record %s: %w", sub.RecordID, err)
	}
	q.logger.Debug("Queued submission", "queue_id", stored.QueueID, "record_id", stored.RecordID,
		"expected_version", stored.ExpectedVersion)
	return stored, nil
}

// List returns the queued submissions in order.
func (q *PendingQueue) List(ctx context.Context) ([]QueuedSubmission, error) {
	data, _, err := q.kv.get(ctx, q.key)
	if err != nil {
		return nil, err
	}
	return decodeQueue(data)
}

// Len returns the number of queued submissions.
func (q *PendingQueue) Len(ctx context.Context) (int, error) {
	items, err := q.List(ctx)
	return len(items), err
}

// ForRecord returns the queued submissions for recordID in order.
func (q *PendingQueue) ForRecord(ctx context.Context, recordID string) ([]QueuedSubmission, error) {
	items, err := q.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []QueuedSubmission
	for _, it := range items {
		if it.RecordID == recordID {
			out = append(out, it)
		}
	}
	return out, nil
}

// HasRecord reports whether any submission for recordID is queued.
func (q *PendingQueue) HasRecord(ctx context.Context, recordID string) (bool, error) {
	items, err := q.ForRecord(ctx, recordID)
	return len(items) > 0, err
}

// RecordIDs returns the distinct record ids with queued submissions, in queue order.
func (q *PendingQueue) RecordIDs(ctx context.Context) ([]string, error) {
	items, err := q.List(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var ids []string
	for _, it := range items {
		if !seen[it.RecordID] {
			seen[it.RecordID] = true
			ids = append(ids, it.RecordID)
		}
	}
	return ids, nil
}

// find returns the stored submission with queueID.
func (q *PendingQueue) find(ctx context.Context, queueID string) (QueuedSubmission, bool, error) {
	items, err := q.List(ctx)
	if err != nil {
		return QueuedSubmission{}, false, err
	}
	for _, it := range items {
		if it.QueueID == queueID {
			return it, true, nil
		}
	}
	return QueuedSubmission{}, false, nil
}

// complete removes queueID after a definitive outcome and rewrites every
// remaining submission for the same record to expect newVersion.
func (q *PendingQueue) complete(ctx context.Context, queueID, recordID string, newVersion int64, serverValues overedit.Values) error {
	return q.mutate(ctx, func(items []QueuedSubmission) ([]QueuedSubmission, error) {
		out := items[:0]
		for _, it := range items {
			if it.QueueID == queueID {
				continue
			}
			if it.RecordID == recordID {
				it.ExpectedVersion = newVersion
				if serverValues != nil {
					it.BaseValues = serverValues.Clone()
				}
			}
			out = append(out, it)
		}
		return out, nil
	})
}

// rebase rewrites the expected version (and base values) of every queued
// submission for recordID.
func (q *PendingQueue) rebase(ctx context.Context, recordID string, version int64, base overedit.Values) error {
	return q.mutate(ctx, func(items []QueuedSubmission) ([]QueuedSubmission, error) {
		for i := range items {
			if items[i].RecordID == recordID {
				items[i].ExpectedVersion = version
				if base != nil {
					items[i].BaseValues = base.Clone()
				}
			}
		}
		return items, nil
	})
}

// replace swaps the stored submission that has sub.QueueID for sub.
func (q *PendingQueue) replace(ctx context.Context, sub QueuedSubmission) error {
	return q.mutate(ctx, func(items []QueuedSubmission) ([]QueuedSubmission, error) {
		for i := range items {
			if items[i].QueueID == sub.QueueID {
				items[i] = sub
			}
		}
		return items, nil
	})
}

// recordFailure bumps the attempt counter of queueID and returns the new count.
func (q *PendingQueue) recordFailure(ctx context.Context, queueID string, cause error) (int, error) {
	attempts := 0
	err := q.mutate(ctx, func(items []QueuedSubmission) ([]QueuedSubmission, error) {
		for i := range items {
			if items[i].QueueID == queueID {
				items[i].Attempts++
				if cause != nil {
					items[i].LastError = cause.Error()
				}
				attempts = items[i].Attempts
			}
		}
		return items, nil
	})
	return attempts, err
}

// removeRecord removes and returns every submission for recordID.
func (q *PendingQueue) removeRecord(ctx context.Context, recordID string) ([]QueuedSubmission, error) {
	var removed []QueuedSubmission
	err := q.mutate(ctx, func(items []QueuedSubmission) ([]QueuedSubmission, error) {
		out := items[:0]
		for _, it := range items {
			if it.RecordID == recordID {
				removed = append(removed, it)
				continue
			}
			out = append(out, it)
		}
		return out, nil
	})
	return removed, err
}
