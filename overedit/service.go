// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package overedit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/iius-rcox/ai-assistant-sub001/internal/auth"
)

var (
	// ErrBadPayload marks a write request the service refuses to apply
	ErrBadPayload = errors.New("bad payload")
	// ErrServiceClosed is returned after Close
	ErrServiceClosed = errors.New("record service is closed")
)

// RecordService applies conditional writes against a RecordStore
type RecordService struct {
	store  RecordStore
	logger *slog.Logger
	config *ServiceConfig

	mu     sync.RWMutex
	closed bool
}

// ServiceConfig holds configuration for the record service
type ServiceConfig struct {
	AppName string       // Application name for logs
	Fields  *FieldSchema // Editable fields (defaults to TriageFieldSchema)

	MaxFieldUpdates int // Maximum fields in one write (0 = unlimited)

	StageMetrics    StageMetricsRecorder // Optional stage timing sink
	LogStageTimings bool                 // Log stage timings at debug level
}

// NewRecordService creates a new record service over store
func NewRecordService(store RecordStore, config *ServiceConfig, logger *slog.Logger) (*RecordService, error) {
	if store == nil {
		return nil, fmt.Errorf("record store is required")
	}
	if config == nil {
		config = &ServiceConfig{AppName: "overedit"}
	}
	if config.Fields == nil {
		config.Fields = TriageFieldSchema()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RecordService{
		store:  store,
		logger: logger,
		config: config,
	}, nil
}

// Fields returns the editable field schema
func (s *RecordService) Fields() *FieldSchema {
	return s.config.Fields
}

// Close marks the service closed; later calls fail with ErrServiceClosed
func (s *RecordService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *RecordService) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// GetRecord returns the current record
func (s *RecordService) GetRecord(ctx context.Context, id string) (*Record, error) {
	if s.isClosed() {
		return nil, ErrServiceClosed
	}
	start := s.stageStart()
	rec, err := s.store.GetRecord(ctx, id)
	s.observeStage(ctx, MetricsOpRead, MetricsStageFetch, start, 1, err != nil && !errors.Is(err, ErrRecordNotFound))
	return rec, err
}

// ProcessWrite validates req and applies it as a conditional update. A version
// mismatch is not an error: the response carries status "rejected" and the
// current record.
func (s *RecordService) ProcessWrite(ctx context.Context, userID, id string, req *WriteRequest) (*WriteResponse, error) {
	if s.isClosed() {
		return nil, ErrServiceClosed
	}
	if req == nil {
		return nil, fmt.Errorf("%w: empty request", ErrBadPayload)
	}
	totalStart := s.stageStart()

	validateStart := s.stageStart()
	err := s.validateWrite(req)
	s.observeStage(ctx, MetricsOpWrite, MetricsStageValidate, validateStart, len(req.FieldUpdates), err != nil)
	if err != nil {
		s.observeOutcome(ctx, OutcomeInvalid)
		return nil, err
	}

	updateStart := s.stageStart()
	result, err := s.store.ConditionalUpdate(ctx, id, req.FieldUpdates, req.ExpectedVersion)
	s.observeStage(ctx, MetricsOpWrite, MetricsStageUpdate, updateStart, len(req.FieldUpdates), err != nil)
	if err != nil {
		if !errors.Is(err, ErrRecordNotFound) {
			s.observeOutcome(ctx, OutcomeError)
		}
		return nil, err
	}

	resp := &WriteResponse{Record: ToRecordResponse(result.Record)}
	if result.Accepted {
		resp.Status = StAccepted
		s.logger.Debug("Write accepted",
			"user_id", userID, "session_id", auth.SessionID(ctx), "record_id", id,
			"version", result.Record.Version, "submission_id", req.SubmissionID)
	} else {
		resp.Status = StRejected
		s.logger.Info("Write rejected on version mismatch",
			"user_id", userID, "session_id", auth.SessionID(ctx), "record_id", id,
			"expected_version", req.ExpectedVersion, "current_version", result.Record.Version,
			"submission_id", req.SubmissionID)
	}
	s.observeOutcome(ctx, resp.Status)
	s.observeStage(ctx, MetricsOpWrite, MetricsStageTotal, totalStart, 1, false)
	return resp, nil
}

// PutRecord upserts a record on behalf of the classification pipeline
func (s *RecordService) PutRecord(ctx context.Context, rec *Record) (*Record, error) {
	if s.isClosed() {
		return nil, ErrServiceClosed
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: record is required", ErrBadPayload)
	}
	if len(rec.Values) > 0 {
		if err := s.config.Fields.CheckAll(rec.Values); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
		}
	}
	return s.store.PutRecord(ctx, rec)
}

func (s *RecordService) validateWrite(req *WriteRequest) error {
	if req == nil {
		return fmt.Errorf("%w: empty request", ErrBadPayload)
	}
	if req.ExpectedVersion < 1 {
		return fmt.Errorf("%w: expected_version must be >= 1", ErrBadPayload)
	}
	if s.config.MaxFieldUpdates > 0 && len(req.FieldUpdates) > s.config.MaxFieldUpdates {
		return fmt.Errorf("%w: too many field updates (%d > %d)", ErrBadPayload, len(req.FieldUpdates), s.config.MaxFieldUpdates)
	}
	if err := s.config.Fields.ValidateUpdates(req.FieldUpdates); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return nil
}
