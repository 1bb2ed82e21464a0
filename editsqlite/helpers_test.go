package editsqlite

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/iius-rcox/ai-assistant-sub001/overedit"
	"github.com/stretchr/testify/require"
)

var errNetworkDown = errors.New("dial tcp: connection refused")

type writeCall struct {
	RecordID     string
	Updates      overedit.Values
	Expected     int64
	SubmissionID string
}

// fakeAdapter serves writes from an in-memory store and can simulate an
// unreachable store, lost responses and HTTP failures.
type fakeAdapter struct {
	store *overedit.MemoryStore

	mu           sync.Mutex
	offline      bool
	loseResponse bool          // apply the write, then report a network failure
	failStatus   int           // fail every write with this HTTP status
	gate         chan struct{} // when set, writes wait for it to close
	beforeWrite  func()        // runs before each write reaches the store
	calls        []writeCall
}

func newFakeAdapter(t *testing.T) *fakeAdapter {
	t.Helper()
	store := overedit.NewMemoryStore()
	_, err := store.PutRecord(context.Background(), &overedit.Record{
		ID:      "msg-1",
		Values:  overedit.Values{"category": "WORK", "urgency": "LOW", "action": "NONE"},
		Display: map[string]string{overedit.DisplaySubject: "Flight change", overedit.DisplaySender: "ops@example.com"},
	})
	require.NoError(t, err)
	return &fakeAdapter{store: store}
}

func (f *fakeAdapter) setOffline(v bool) {
	f.mu.Lock()
	f.offline = v
	f.mu.Unlock()
}

func (f *fakeAdapter) setLoseResponse(v bool) {
	f.mu.Lock()
	f.loseResponse = v
	f.mu.Unlock()
}

func (f *fakeAdapter) setFailStatus(code int) {
	f.mu.Lock()
	f.failStatus = code
	f.mu.Unlock()
}

func (f *fakeAdapter) hold() chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = make(chan struct{})
	return f.gate
}

func (f *fakeAdapter) onWrite(fn func()) {
	f.mu.Lock()
	f.beforeWrite = fn
	f.mu.Unlock()
}

func (f *fakeAdapter) writes() []writeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]writeCall(nil), f.calls...)
}

// otherUser applies a competing write directly to the store.
func (f *fakeAdapter) otherUser(t *testing.T, updates overedit.Values) *overedit.Record {
	t.Helper()
	rec, err := f.store.GetRecord(context.Background(), "msg-1")
	require.NoError(t, err)
	res, err := f.store.ConditionalUpdate(context.Background(), "msg-1", updates, rec.Version)
	require.NoError(t, err)
	require.True(t, res.Accepted)
	return res.Record
}

func (f *fakeAdapter) record(t *testing.T) *overedit.Record {
	t.Helper()
	rec, err := f.store.GetRecord(context.Background(), "msg-1")
	require.NoError(t, err)
	return rec
}

func (f *fakeAdapter) Write(ctx context.Context, id string, updates overedit.Values, expectedVersion int64, opts WriteOptions) WriteOutcome {
	f.mu.Lock()
	f.calls = append(f.calls, writeCall{RecordID: id, Updates: updates.Clone(), Expected: expectedVersion, SubmissionID: opts.SubmissionID})
	offline, lose, status, gate, hook := f.offline, f.loseResponse, f.failStatus, f.gate, f.beforeWrite
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if hook != nil {
		hook()
	}
	if offline {
		return transportFailure(true, 0, errNetworkDown)
	}
	if status != 0 {
		err := fmt.Errorf("server returned status %d", status)
		if status == 401 {
			err = fmt.Errorf("%w: %w", ErrSessionExpired, err)
		}
		return transportFailure(isRetryableStatus(status), status, err)
	}
	res, err := f.store.ConditionalUpdate(ctx, id, updates, expectedVersion)
	if err != nil {
		if errors.Is(err, overedit.ErrRecordNotFound) {
			return transportFailure(false, 404, err)
		}
		return transportFailure(true, 500, err)
	}
	if lose {
		return transportFailure(true, 0, errors.New("read: connection reset by peer"))
	}
	if res.Accepted {
		return accepted(res.Record)
	}
	return rejected(res.Record)
}

func (f *fakeAdapter) Fetch(ctx context.Context, id string) (*overedit.Record, error) {
	f.mu.Lock()
	offline := f.offline
	f.mu.Unlock()
	if offline {
		return nil, &TransportError{Retryable: true, Err: errNetworkDown}
	}
	rec, err := f.store.GetRecord(ctx, id)
	if err != nil {
		return nil, &TransportError{StatusCode: 404, Err: err}
	}
	return rec, nil
}

func (f *fakeAdapter) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offline {
		return errNetworkDown
	}
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *Config {
	cfg := DefaultConfig("triage", overedit.TriageFieldSchema())
	cfg.DebounceInterval = 0
	cfg.SuccessDisplay = time.Hour
	cfg.BackoffMin = 5 * time.Millisecond
	cfg.BackoffMax = 20 * time.Millisecond
	cfg.RetryBudget = 3
	return cfg
}

func newTestClient(t *testing.T, adapter RecordStoreAdapter, configure func(*Config)) *Client {
	t.Helper()
	db, err := OpenDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cfg := testConfig()
	if configure != nil {
		configure(cfg)
	}
	client, err := NewClient(db, adapter, cfg, testLogger())
	require.NoError(t, err)
	return client
}

// statusRecorder collects every published status in order.
type statusRecorder struct {
	mu       sync.Mutex
	statuses []Status
}

func (r *statusRecorder) observe(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n := len(r.statuses); n > 0 && r.statuses[n-1] == s.Status {
		return
	}
	r.statuses = append(r.statuses, s.Status)
}

func (r *statusRecorder) list() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Status(nil), r.statuses...)
}
