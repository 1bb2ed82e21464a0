package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/iius-rcox/ai-assistant-sub001/editsqlite"
	"github.com/iius-rcox/ai-assistant-sub001/overedit"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T) *TestServer {
	t.Helper()
	ts, err := NewTestServer(&ServerConfig{
		JWTSecret: "e2e-secret",
		Logger:    discardLogger(),
		Metrics:   true,
		Seed: []*overedit.Record{{
			ID:      "msg-1",
			Values:  overedit.Values{"category": "WORK", "urgency": "LOW", "action": "NONE"},
			Display: map[string]string{overedit.DisplaySubject: "Invoice overdue"},
		}},
	})
	require.NoError(t, err)
	t.Cleanup(ts.Close)
	return ts
}

func signin(t *testing.T, ts *TestServer, user string) string {
	t.Helper()
	resp, err := http.Post(ts.URL()+"/dummy-signin", "application/json", bytes.NewBufferString(`{"user":"`+user+`","password":"x"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Token     string `json:"token"`
		ExpiresIn int64  `json:"expires_in"`
		SessionID string `json:"session_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, int64(1800), body.ExpiresIn)
	require.NotEmpty(t, body.SessionID)
	return body.Token
}

func newEditClient(t *testing.T, ts *TestServer, token string) *editsqlite.Client {
	t.Helper()
	db, err := editsqlite.OpenDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	adapter := editsqlite.NewHTTPAdapter(ts.URL(), func(context.Context) (string, error) { return token, nil }, nil, discardLogger())
	cfg := editsqlite.DefaultConfig("triage", overedit.TriageFieldSchema())
	cfg.DebounceInterval = 0
	client, err := editsqlite.NewClient(db, adapter, cfg, discardLogger())
	require.NoError(t, err)
	return client
}

func TestEndToEnd_TwoEditorsMerge(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	alice := newEditClient(t, ts, signin(t, ts, "alice")).NewController()
	bob := newEditClient(t, ts, signin(t, ts, "bob")).NewController()

	_, err := alice.BeginEdit(ctx, "msg-1")
	require.NoError(t, err)
	_, err = bob.BeginEdit(ctx, "msg-1")
	require.NoError(t, err)
	require.Equal(t, "Invoice overdue", alice.Snapshot().Display[overedit.DisplaySubject])

	require.NoError(t, alice.SetField("category", "FINANCE"))
	require.NoError(t, alice.Save(ctx))
	alice.Wait()
	require.Equal(t, editsqlite.StatusSuccess, alice.Status())

	require.NoError(t, bob.SetField("urgency", "HIGH"))
	require.NoError(t, bob.Save(ctx))
	bob.Wait()

	snap := bob.Snapshot()
	require.Equal(t, editsqlite.StatusSuccess, snap.Status)
	require.Equal(t, int64(3), snap.BaselineVersion)
	require.Equal(t, "FINANCE", snap.CurrentValues["category"])
	require.Equal(t, "HIGH", snap.CurrentValues["urgency"])

	rec, err := ts.Service.GetRecord(ctx, "msg-1")
	require.NoError(t, err)
	require.Equal(t, int64(3), rec.Version)
}

func TestEndToEnd_PipelineReclassifyConflicts(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	token := signin(t, ts, "alice")
	ctrl := newEditClient(t, ts, token).NewController()

	_, err := ctrl.BeginEdit(ctx, "msg-1")
	require.NoError(t, err)
	require.NoError(t, ctrl.SetField("category", "HOME"))

	req, err := http.NewRequest(http.MethodPut, ts.URL()+"/pipeline/records/msg-1",
		bytes.NewBufferString(`{"values":{"category":"PROMOTIONS","urgency":"LOW","action":"NONE"}}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, ctrl.Save(ctx))
	ctrl.Wait()

	snap := ctrl.Snapshot()
	require.Equal(t, editsqlite.StatusConflict, snap.Status)
	require.NotNil(t, snap.Conflict)
	require.Equal(t, []string{"category"}, snap.Conflict.ConflictingFields)
	require.Equal(t, int64(2), snap.Conflict.ServerVersion)
}

func TestServerRoutes(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL() + "/records/msg-1")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = http.Post(ts.URL()+"/dummy-signin", "application/json", bytes.NewBufferString(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	token, err := ts.GenerateToken("carol", "s-1", time.Minute)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, ts.URL()+"/records/msg-1/write",
		bytes.NewBufferString(`{"expected_version":1,"field_updates":{"action":"ARCHIVE"}}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `overedit_writes_total{outcome="accepted"} 1`)
}

func TestSetupServer_BadDatabaseURL(t *testing.T) {
	_, err := SetupServer(context.Background(), &ServerConfig{DatabaseURL: "postgres://user@localhost:notaport/db", Logger: discardLogger()})
	require.Error(t, err)
}
