package editsqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/iius-rcox/ai-assistant-sub001/overedit"
	"github.com/stretchr/testify/require"
)

func TestPendingQueue_OrderAndDedup(t *testing.T) {
	client := newTestClient(t, newFakeAdapter(t), nil)
	ctx := context.Background()
	q := client.Queue

	a, err := q.Enqueue(ctx, QueuedSubmission{RecordID: "msg-1", ExpectedVersion: 5, FieldUpdates: overedit.Values{"urgency": "HIGH"}})
	require.NoError(t, err)
	require.NotEmpty(t, a.QueueID)
	require.False(t, a.QueuedAt.IsZero())

	_, err = q.Enqueue(ctx, QueuedSubmission{RecordID: "msg-2", ExpectedVersion: 1, FieldUpdates: overedit.Values{"action": "REPLY"}})
	require.NoError(t, err)
	b, err := q.Enqueue(ctx, QueuedSubmission{QueueID: "fixed", RecordID: "msg-1", ExpectedVersion: 5, FieldUpdates: overedit.Values{"category": "HOME"}})
	require.NoError(t, err)
	require.Equal(t, "fixed", b.QueueID)

	again, err := q.Enqueue(ctx, QueuedSubmission{QueueID: "fixed", RecordID: "msg-1", ExpectedVersion: 9, FieldUpdates: overedit.Values{"category": "OTHER"}})
	require.NoError(t, err)
	require.Equal(t, int64(5), again.ExpectedVersion, "a duplicate returns the stored submission")

	n, err := q.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	ids, err := q.RecordIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"msg-1", "msg-2"}, ids)

	forRecord, err := q.ForRecord(ctx, "msg-1")
	require.NoError(t, err)
	require.Len(t, forRecord, 2)
	require.Equal(t, a.QueueID, forRecord[0].QueueID)
	require.Equal(t, "fixed", forRecord[1].QueueID)

	_, err = q.Enqueue(ctx, QueuedSubmission{ExpectedVersion: 1})
	require.Error(t, err)
}

func TestPendingQueue_CompleteRewritesLaterSubmissions(t *testing.T) {
	client := newTestClient(t, newFakeAdapter(t), nil)
	ctx := context.Background()
	q := client.Queue

	a, err := q.Enqueue(ctx, QueuedSubmission{RecordID: "msg-1", ExpectedVersion: 5, FieldUpdates: overedit.Values{"urgency": "HIGH"}})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, QueuedSubmission{RecordID: "msg-2", ExpectedVersion: 3, FieldUpdates: overedit.Values{"urgency": "LOW"}})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, QueuedSubmission{RecordID: "msg-1", ExpectedVersion: 5, FieldUpdates: overedit.Values{"action": "ARCHIVE"}})
	require.NoError(t, err)

	server := overedit.Values{"category": "WORK", "urgency": "HIGH", "action": "NONE"}
	require.NoError(t, q.complete(ctx, a.QueueID, "msg-1", 6, server))

	items, err := q.List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, "msg-2", items[0].RecordID)
	require.Equal(t, int64(3), items[0].ExpectedVersion, "other records are untouched")
	require.Equal(t, "msg-1", items[1].RecordID)
	require.Equal(t, int64(6), items[1].ExpectedVersion)
	require.Equal(t, server, items[1].BaseValues)
}

func TestPendingQueue_FailureAndRemoval(t *testing.T) {
	client := newTestClient(t, newFakeAdapter(t), nil)
	ctx := context.Background()
	q := client.Queue

	a, err := q.Enqueue(ctx, QueuedSubmission{RecordID: "msg-1", ExpectedVersion: 1, FieldUpdates: overedit.Values{"urgency": "HIGH"}})
	require.NoError(t, err)

	attempts, err := q.recordFailure(ctx, a.QueueID, errors.New("timeout"))
	require.NoError(t, err)
	require.Equal(t, 1, attempts)
	attempts, err = q.recordFailure(ctx, a.QueueID, errors.New("timeout again"))
	require.NoError(t, err)
	require.Equal(t, 2, attempts)

	stored, ok, err := q.find(ctx, a.QueueID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "timeout again", stored.LastError)

	removed, err := q.removeRecord(ctx, "msg-1")
	require.NoError(t, err)
	require.Len(t, removed, 1)

	has, err := q.HasRecord(ctx, "msg-1")
	require.NoError(t, err)
	require.False(t, has)
	_, ok, err = client.Drafts.kv.get(ctx, pendingKey("triage", 1))
	require.NoError(t, err)
	require.False(t, ok, "an empty queue removes its key")
}

func TestPendingQueue_SurvivesReopen(t *testing.T) {
	adapter := newFakeAdapter(t)
	path := t.TempDir() + "/edits.db"
	ctx := context.Background()

	db, err := OpenDB(path)
	require.NoError(t, err)
	client, err := NewClient(db, adapter, testConfig(), testLogger())
	require.NoError(t, err)
	_, err = client.Queue.Enqueue(ctx, QueuedSubmission{RecordID: "msg-1", ExpectedVersion: 1, FieldUpdates: overedit.Values{"urgency": "HIGH"}})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = OpenDB(path)
	require.NoError(t, err)
	defer db.Close()
	client, err = NewClient(db, adapter, testConfig(), testLogger())
	require.NoError(t, err)
	items, err := client.Queue.List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, overedit.Values{"urgency": "HIGH"}, items[0].FieldUpdates)
}
