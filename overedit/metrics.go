// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package overedit

import (
	"context"
	"time"
)

const (
	MetricsOpWrite = "write"
	MetricsOpRead  = "read"

	MetricsStageTotal = "total"

	// Write stages.
	MetricsStageValidate = "validate"
	MetricsStageUpdate   = "conditional_update"

	// Read stages.
	MetricsStageFetch = "fetch"
)

type StageTiming struct {
	Operation string
	Stage     string
	Duration  time.Duration
	Count     int
	Error     bool
}

type StageMetricsRecorder interface {
	ObserveStage(ctx context.Context, timing StageTiming)
}

type StageMetricsRecorderFunc func(ctx context.Context, timing StageTiming)

func (f StageMetricsRecorderFunc) ObserveStage(ctx context.Context, timing StageTiming) {
	f(ctx, timing)
}

// WriteOutcomeRecorder is optionally implemented by a StageMetricsRecorder
// that also counts write outcomes (accepted, rejected, invalid, error).
type WriteOutcomeRecorder interface {
	ObserveWriteOutcome(ctx context.Context, outcome string)
}

func (s *RecordService) stageTimingEnabled() bool {
	if s == nil || s.config == nil {
		return false
	}
	return s.config.StageMetrics != nil || s.config.LogStageTimings
}

func (s *RecordService) stageStart() time.Time {
	if !s.stageTimingEnabled() {
		return time.Time{}
	}
	return time.Now()
}

func (s *RecordService) observeStage(ctx context.Context, op, stage string, start time.Time, count int, hadError bool) {
	if start.IsZero() || s == nil || s.config == nil {
		return
	}

	timing := StageTiming{
		Operation: op,
		Stage:     stage,
		Duration:  time.Since(start),
		Count:     count,
		Error:     hadError,
	}

	if s.config.StageMetrics != nil {
		s.config.StageMetrics.ObserveStage(ctx, timing)
	}
	if s.config.LogStageTimings && s.logger != nil {
		s.logger.Debug("Stage timing",
			"op", timing.Operation,
			"stage", timing.Stage,
			"duration", timing.Duration,
			"count", timing.Count,
			"error", timing.Error,
		)
	}
}

func (s *RecordService) observeOutcome(ctx context.Context, outcome string) {
	if s == nil || s.config == nil || s.config.StageMetrics == nil {
		return
	}
	if rec, ok := s.config.StageMetrics.(WriteOutcomeRecorder); ok {
		rec.ObserveWriteOutcome(ctx, outcome)
	}
}
