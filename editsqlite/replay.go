// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package editsqlite

import (
	"context"
	"fmt"

	"github.com/iius-rcox/ai-assistant-sub001/overedit"
)

// ReplayEventKind classifies what happened to a queued submission.
type ReplayEventKind string

const (
	ReplayAccepted   ReplayEventKind = "accepted"
	ReplayAutoMerged ReplayEventKind = "auto_merged"
	ReplayConflict   ReplayEventKind = "conflict"
	ReplayExhausted  ReplayEventKind = "exhausted"
	ReplayFailed     ReplayEventKind = "failed"
	ReplayDeferred   ReplayEventKind = "deferred"
)

// ReplayEvent reports the outcome of one replayed submission.
type ReplayEvent struct {
	Kind       ReplayEventKind
	RecordID   string
	Submission QueuedSubmission
	Record     *overedit.Record // server record for accepted, merged and conflict outcomes
	Report     *ConflictReport  // set for auto_merged and conflict
	Err        error            // set for exhausted, failed and deferred
	Remaining  int              // submissions still queued for the record
}

// ReplayStats summarizes one replay pass.
type ReplayStats struct {
	Attempted  int
	Accepted   int
	AutoMerged int
	Parked     int // true conflicts folded into drafts
	Failed     int // fatal or exhausted, folded into drafts
	Deferred   int // retryable failures left queued
}

// ReplayPending attempts every queued submission in order. Submissions for
// the same record are strictly sequential: a record whose submission could not
// be settled is skipped for the rest of the pass. A network failure ends the
// pass early.
func (c *Client) ReplayPending(ctx context.Context) (ReplayStats, error) {
	c.Queue.replayMu.Lock()
	defer c.Queue.replayMu.Unlock()

	var stats ReplayStats
	items, err := c.Queue.List(ctx)
	if err != nil {
		return stats, err
	}
	if len(items) == 0 {
		return stats, nil
	}
	c.logger.Debug("Replaying pending submissions", "count", len(items))

	blocked := make(map[string]bool)
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if blocked[item.RecordID] {
			continue
		}
		// Reload: an earlier acceptance may have rewritten expectedVersion.
		sub, ok, err := c.Queue.find(ctx, item.QueueID)
		if err != nil {
			return stats, err
		}
		if !ok {
			continue
		}

		ev, stop, err := c.replayOne(ctx, sub, &stats)
		if err != nil {
			return stats, err
		}
		if ev.Kind != ReplayAccepted && ev.Kind != ReplayAutoMerged {
			blocked[sub.RecordID] = true
		}
		if remaining, err := c.Queue.ForRecord(ctx, sub.RecordID); err == nil {
			ev.Remaining = len(remaining)
		}
		c.publish(ctx, ev)
		if stop {
			break
		}
	}
	return stats, nil
}

// replayOne settles a single submission. stop reports a network failure.
func (c *Client) replayOne(ctx context.Context, sub QueuedSubmission, stats *ReplayStats) (ev ReplayEvent, stop bool, err error) {
	stats.Attempted++
	ev = ReplayEvent{RecordID: sub.RecordID, Submission: sub}
	out := c.Adapter.Write(ctx, sub.RecordID, sub.FieldUpdates, sub.ExpectedVersion, WriteOptions{SubmissionID: sub.QueueID})

	switch out.Kind {
	case OutcomeAccepted:
		c.Connectivity.MarkOnline()
		if err := c.Queue.complete(ctx, sub.QueueID, sub.RecordID, out.Record.Version, out.Record.Values); err != nil {
			return ev, false, err
		}
		stats.Accepted++
		ev.Kind = ReplayAccepted
		ev.Record = out.Record
		return ev, false, nil

	case OutcomeRejected:
		c.Connectivity.MarkOnline()
		return c.replayRejected(ctx, sub, out.Record, stats, 0)

	default:
		return c.replayFailed(ctx, sub, out.Err, stats)
	}
}

// maxAutoMerges bounds silent merge-and-retry rounds for one submission
// under sustained contention.
const maxAutoMerges = 3

func (c *Client) replayRejected(ctx context.Context, sub QueuedSubmission, server *overedit.Record, stats *ReplayStats, merges int) (ReplayEvent, bool, error) {
	ev := ReplayEvent{RecordID: sub.RecordID, Submission: sub, Record: server}
	fields := c.config.Fields.Names()
	report := Resolve(fields, sub.BaseValues, sub.BaseValues.With(sub.FieldUpdates), server.Values)
	report.RecordID = sub.RecordID
	report.ClientVersion = sub.ExpectedVersion
	report.ServerVersion = server.Version
	ev.Report = report

	if report.CanAutoResolve && c.config.AutoMerge && merges < maxAutoMerges {
		updates := diffValues(fields, server.Values, report.Merged)
		if len(updates) == 0 {
			// The store already holds these values, e.g. an earlier attempt
			// landed but its response was lost.
			if err := c.Queue.complete(ctx, sub.QueueID, sub.RecordID, server.Version, server.Values); err != nil {
				return ev, false, err
			}
			stats.Accepted++
			ev.Kind = ReplayAccepted
			c.logger.Debug("Queued submission already applied", "queue_id", sub.QueueID, "record_id", sub.RecordID)
			return ev, false, nil
		}

		merged := sub
		merged.ExpectedVersion = server.Version
		merged.FieldUpdates = updates
		merged.BaseValues = server.Values.Clone()
		second := c.Adapter.Write(ctx, sub.RecordID, updates, server.Version, WriteOptions{SubmissionID: sub.QueueID})
		switch second.Kind {
		case OutcomeAccepted:
			if err := c.Queue.complete(ctx, sub.QueueID, sub.RecordID, second.Record.Version, second.Record.Values); err != nil {
				return ev, false, err
			}
			stats.AutoMerged++
			ev.Kind = ReplayAutoMerged
			ev.Record = second.Record
			c.logger.Info("Merged queued submission", "queue_id", sub.QueueID, "record_id", sub.RecordID,
				"version", second.Record.Version, "fields", report.MergeableFields)
			return ev, false, nil
		case OutcomeRejected:
			// The record moved again; classify against the newest row.
			return c.replayRejected(ctx, merged, second.Record, stats, merges+1)
		default:
			if err := c.Queue.replace(ctx, merged); err != nil {
				return ev, false, err
			}
			return c.replayFailed(ctx, merged, second.Err, stats)
		}
	}

	if err := c.park(ctx, sub.RecordID); err != nil {
		return ev, false, err
	}
	stats.Parked++
	ev.Kind = ReplayConflict
	c.logger.Warn("Queued submission conflicts with the store", "queue_id", sub.QueueID, "record_id", sub.RecordID,
		"conflicting_fields", report.ConflictingFields)
	return ev, false, nil
}

func (c *Client) replayFailed(ctx context.Context, sub QueuedSubmission, terr *TransportError, stats *ReplayStats) (ReplayEvent, bool, error) {
	ev := ReplayEvent{RecordID: sub.RecordID, Submission: sub, Err: terr}
	if !terr.Retryable {
		if err := c.park(ctx, sub.RecordID); err != nil {
			return ev, false, err
		}
		stats.Failed++
		ev.Kind = ReplayFailed
		c.logger.Error("Queued submission failed", "queue_id", sub.QueueID, "record_id", sub.RecordID, "error", terr)
		return ev, false, nil
	}

	attempts, err := c.Queue.recordFailure(ctx, sub.QueueID, terr)
	if err != nil {
		return ev, false, err
	}
	networkDown := terr.StatusCode == 0
	if networkDown {
		c.Connectivity.MarkOffline()
	}
	if attempts >= c.config.RetryBudget {
		if err := c.park(ctx, sub.RecordID); err != nil {
			return ev, false, err
		}
		stats.Failed++
		ev.Kind = ReplayExhausted
		ev.Err = &PersistenceExhaustedError{RecordID: sub.RecordID, QueueID: sub.QueueID, Attempts: attempts, Err: terr}
		c.logger.Error("Queued submission exhausted its retry budget", "queue_id", sub.QueueID,
			"record_id", sub.RecordID, "attempts", attempts)
		return ev, networkDown, nil
	}
	stats.Deferred++
	ev.Kind = ReplayDeferred
	return ev, networkDown, nil
}

// park removes every queued submission for recordID and folds them into the
// record's draft so nothing is lost. An existing draft already reflects the
// session that produced the submissions and is kept as is.
func (c *Client) park(ctx context.Context, recordID string) error {
	subs, err := c.Queue.ForRecord(ctx, recordID)
	if err != nil {
		return err
	}
	if err := c.foldIntoDraft(ctx, recordID, subs); err != nil {
		return err
	}
	if _, err := c.Queue.removeRecord(ctx, recordID); err != nil {
		return fmt.Errorf("failed to remove queued submissions for record %s: %w", recordID, err)
	}
	return nil
}

func (c *Client) foldIntoDraft(ctx context.Context, recordID string, subs []QueuedSubmission) error {
	if len(subs) == 0 {
		return nil
	}
	existing, err := c.Drafts.Load(ctx, recordID)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	base := subs[0].BaseValues.Clone()
	current := base.Clone()
	for _, s := range subs {
		current = current.With(s.FieldUpdates)
	}
	dirty := dirtyFields(c.config.Fields.Names(), base, current)
	if len(dirty) == 0 {
		return nil
	}
	d := &Draft{
		RecordID:        recordID,
		CurrentValues:   current,
		BaselineValues:  base,
		BaselineVersion: subs[0].ExpectedVersion,
		DirtyFields:     dirty,
	}
	if err := c.Drafts.Save(ctx, d); err != nil {
		return fmt.Errorf("failed to fold queued submissions into draft: %w", err)
	}
	return nil
}

// parkOutdatedQueues folds pending queues written under another schema
// version into drafts of the current one, then removes them. A queue that
// cannot be decoded is kept for inspection. It returns the number of
// submissions parked.
func (c *Client) parkOutdatedQueues(ctx context.Context, kv *kvStore) (int, error) {
	entries, err := kv.scanPrefix(ctx, namespacePrefix(c.config.Namespace))
	if err != nil {
		return 0, err
	}
	parked := 0
	for _, e := range entries {
		pk, ok := parseKey(e.Key)
		if !ok || pk.kind != kindPending || pk.schemaVersion == c.config.SchemaVersion {
			continue
		}
		items, err := decodeQueue(e.Value)
		if err != nil {
			c.logger.Error("Outdated pending queue is unreadable, keeping it", "key", e.Key, "error", err)
			continue
		}
		var order []string
		byRecord := make(map[string][]QueuedSubmission)
		for _, it := range items {
			if it.RecordID == "" {
				continue
			}
			if _, seen := byRecord[it.RecordID]; !seen {
				order = append(order, it.RecordID)
			}
			byRecord[it.RecordID] = append(byRecord[it.RecordID], it)
		}
		for _, id := range order {
			if err := c.foldIntoDraft(ctx, id, byRecord[id]); err != nil {
				return parked, err
			}
			parked += len(byRecord[id])
		}
		if err := kv.delete(ctx, e.Key); err != nil {
			return parked, err
		}
		c.logger.Warn("Parked pending queue from another schema version into drafts",
			"key", e.Key, "submissions", len(items), "records", len(order))
	}
	return parked, nil
}
