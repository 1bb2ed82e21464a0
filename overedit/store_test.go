package overedit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func seedStore(t *testing.T) *MemoryStore {
	t.Helper()
	store := NewMemoryStore()
	fixed := time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)
	store.now = func() time.Time { return fixed }
	_, err := store.PutRecord(context.Background(), &Record{
		ID:      "msg-1",
		Values:  Values{"category": "WORK", "urgency": "LOW", "action": "NONE"},
		Display: map[string]string{DisplaySubject: "Quarterly report"},
	})
	require.NoError(t, err)
	return store
}

func TestMemoryStore_PutRecordStartsAtVersionOne(t *testing.T) {
	store := seedStore(t)
	rec, err := store.GetRecord(context.Background(), "msg-1")
	require.NoError(t, err)
	require.Equal(t, int64(1), rec.Version)
	require.Equal(t, "WORK", rec.Values["category"])
	require.Equal(t, "Quarterly report", rec.Display[DisplaySubject])
	require.Equal(t, 1, store.Len())
}

func TestMemoryStore_ConditionalUpdateAccepted(t *testing.T) {
	store := seedStore(t)
	ctx := context.Background()

	res, err := store.ConditionalUpdate(ctx, "msg-1", Values{"urgency": "HIGH"}, 1)
	require.NoError(t, err)
	require.True(t, res.Accepted)
	require.Equal(t, int64(2), res.Record.Version)
	require.Equal(t, "HIGH", res.Record.Values["urgency"])
	require.Equal(t, "WORK", res.Record.Values["category"], "untouched fields keep their value")
}

func TestMemoryStore_ConditionalUpdateRejectedReturnsCurrent(t *testing.T) {
	store := seedStore(t)
	ctx := context.Background()

	_, err := store.ConditionalUpdate(ctx, "msg-1", Values{"urgency": "HIGH"}, 1)
	require.NoError(t, err)

	res, err := store.ConditionalUpdate(ctx, "msg-1", Values{"category": "HOME"}, 1)
	require.NoError(t, err)
	require.False(t, res.Accepted)
	require.Equal(t, int64(2), res.Record.Version)
	require.Equal(t, "WORK", res.Record.Values["category"], "rejected write must not apply")
}

func TestMemoryStore_UnknownRecord(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.GetRecord(context.Background(), "missing")
	require.ErrorIs(t, err, ErrRecordNotFound)
	_, err = store.ConditionalUpdate(context.Background(), "missing", Values{"urgency": "LOW"}, 1)
	require.ErrorIs(t, err, ErrRecordNotFound)
}

func TestMemoryStore_ReturnedRecordsAreCopies(t *testing.T) {
	store := seedStore(t)
	rec, err := store.GetRecord(context.Background(), "msg-1")
	require.NoError(t, err)
	rec.Values["category"] = "HOME"

	again, err := store.GetRecord(context.Background(), "msg-1")
	require.NoError(t, err)
	require.Equal(t, "WORK", again.Values["category"])
}

func TestMemoryStore_PipelinePutBumpsVersion(t *testing.T) {
	store := seedStore(t)
	rec, err := store.PutRecord(context.Background(), &Record{ID: "msg-1", Values: Values{"category": "FINANCE"}})
	require.NoError(t, err)
	require.Equal(t, int64(2), rec.Version)
	require.Equal(t, "FINANCE", rec.Values["category"])
	require.Equal(t, "LOW", rec.Values["urgency"])
	require.Equal(t, "Quarterly report", rec.Display[DisplaySubject], "nil display keeps the existing one")
}

// Concurrent writers at the same expected version: exactly one wins and the
// version only ever moves forward by one per accepted write.
func TestMemoryStore_ConcurrentWritersSingleWinner(t *testing.T) {
	store := seedStore(t)
	ctx := context.Background()

	const writers = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := store.ConditionalUpdate(ctx, "msg-1", Values{"urgency": "MEDIUM"}, 1)
			require.NoError(t, err)
			if res.Accepted {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, accepted)
	rec, err := store.GetRecord(ctx, "msg-1")
	require.NoError(t, err)
	require.Equal(t, int64(2), rec.Version)
}
