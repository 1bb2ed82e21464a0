package overedit

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder_CountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	recorder, err := NewPrometheusRecorder(reg)
	require.NoError(t, err)

	svc := newTestService(t, recorder)
	ctx := context.Background()

	_, err = svc.ProcessWrite(ctx, "u", "msg-1", &WriteRequest{ExpectedVersion: 1, FieldUpdates: Values{"urgency": "HIGH"}})
	require.NoError(t, err)
	_, err = svc.ProcessWrite(ctx, "u", "msg-1", &WriteRequest{ExpectedVersion: 1, FieldUpdates: Values{"urgency": "LOW"}})
	require.NoError(t, err)
	_, err = svc.ProcessWrite(ctx, "u", "msg-1", &WriteRequest{ExpectedVersion: 2, FieldUpdates: Values{"urgency": "SOON"}})
	require.ErrorIs(t, err, ErrBadPayload)

	require.Equal(t, 1.0, testutil.ToFloat64(recorder.writes.WithLabelValues(OutcomeAccepted)))
	require.Equal(t, 1.0, testutil.ToFloat64(recorder.writes.WithLabelValues(OutcomeRejected)))
	require.Equal(t, 1.0, testutil.ToFloat64(recorder.writes.WithLabelValues(OutcomeInvalid)))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	require.True(t, names["overedit_stage_duration_seconds"])
	require.True(t, names["overedit_writes_total"])
}

func TestPrometheusRecorder_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewPrometheusRecorder(reg)
	require.NoError(t, err)
	_, err = NewPrometheusRecorder(reg)
	require.Error(t, err)
}
