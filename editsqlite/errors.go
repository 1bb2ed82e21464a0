// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package editsqlite

import (
	"errors"
	"fmt"
	"strings"

	"github.com/iius-rcox/ai-assistant-sub001/overedit"
)

var (
	// ErrSessionDirty is returned by BeginEdit while another session holds unsaved edits
	ErrSessionDirty = errors.New("another edit session has unsaved changes")
	// ErrSessionBusy is returned while a save is in flight
	ErrSessionBusy = errors.New("edit session is saving")
	// ErrNoSession is returned when an operation needs an open session
	ErrNoSession = errors.New("no edit session")
	// ErrNoChanges is returned by Save when no field is dirty
	ErrNoChanges = errors.New("no changes to save")
	// ErrNotInConflict is returned by ResolveConflict outside the conflict state
	ErrNotInConflict = errors.New("edit session is not in conflict")
	// ErrConflictPending is returned by SetField and Save until the conflict is resolved
	ErrConflictPending = errors.New("conflict must be resolved first")
	// ErrSessionExpired marks an authentication failure; the session is suspended
	ErrSessionExpired = errors.New("authenticated session expired")
	// ErrRecordNotFound mirrors the store's not-found
	ErrRecordNotFound = overedit.ErrRecordNotFound
	// ErrNoDraft is returned by RestoreDraft when nothing is on offer
	ErrNoDraft = errors.New("no draft to restore")
	// ErrDisposed is returned after Controller.Dispose
	ErrDisposed = errors.New("controller disposed")
)

// ConflictError is the recoverable error surfaced when the store rejects a
// write because the record moved on.
type ConflictError struct {
	Report *ConflictReport
}

func (e *ConflictError) Error() string {
	if e.Report == nil {
		return "write conflict"
	}
	return fmt.Sprintf("write conflict on record %s (client v%d, server v%d): conflicting fields [%s]",
		e.Report.RecordID, e.Report.ClientVersion, e.Report.ServerVersion,
		strings.Join(e.Report.ConflictingFields, ", "))
}

// ValidationError reports a field value outside its domain. It is raised
// before any network call.
type ValidationError struct {
	Field string
	Value string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid value %q for field %q: %v", e.Value, e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// TransportError is a failed exchange with the store. Retryable failures are
// absorbed by the pending queue; fatal ones surface with edits retained.
type TransportError struct {
	Retryable  bool
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *TransportError) Error() string {
	kind := "fatal"
	if e.Retryable {
		kind = "retryable"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s transport failure (status %d): %v", kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s transport failure: %v", kind, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a retryable TransportError.
func IsRetryable(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Retryable
}

// PersistenceExhaustedError is raised when a queued submission spends its
// retry budget. Its values have been folded into a Draft.
type PersistenceExhaustedError struct {
	RecordID string
	QueueID  string
	Attempts int
	Err      error
}

func (e *PersistenceExhaustedError) Error() string {
	return fmt.Sprintf("giving up on record %s after %d attempts (queue id %s): %v",
		e.RecordID, e.Attempts, e.QueueID, e.Err)
}

func (e *PersistenceExhaustedError) Unwrap() error { return e.Err }
