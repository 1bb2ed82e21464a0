// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package overedit

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for the writes counter
const (
	OutcomeAccepted = StAccepted
	OutcomeRejected = StRejected
	OutcomeInvalid  = "invalid"
	OutcomeError    = "error"
)

// PrometheusRecorder exports stage timings and write outcomes.
type PrometheusRecorder struct {
	stageDuration *prometheus.HistogramVec
	writes        *prometheus.CounterVec
}

// NewPrometheusRecorder creates the collectors and registers them with reg.
// A nil reg registers with the default registry.
func NewPrometheusRecorder(reg prometheus.Registerer) (*PrometheusRecorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r := &PrometheusRecorder{
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "overedit",
			Name:      "stage_duration_seconds",
			Help:      "Duration of record service stages",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op", "stage", "error"}),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "overedit",
			Name:      "writes_total",
			Help:      "Conditional writes by outcome",
		}, []string{"outcome"}),
	}
	for _, c := range []prometheus.Collector{r.stageDuration, r.writes} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *PrometheusRecorder) ObserveStage(_ context.Context, timing StageTiming) {
	errLabel := "false"
	if timing.Error {
		errLabel = "true"
	}
	r.stageDuration.WithLabelValues(timing.Operation, timing.Stage, errLabel).Observe(timing.Duration.Seconds())
}

func (r *PrometheusRecorder) ObserveWriteOutcome(_ context.Context, outcome string) {
	r.writes.WithLabelValues(outcome).Inc()
}
