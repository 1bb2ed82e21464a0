// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package overedit

import "time"

// WriteRequest is the body of POST /records/{id}/write
type WriteRequest struct {
	ExpectedVersion int64  `json:"expected_version"`
	FieldUpdates    Values `json:"field_updates"`
	SubmissionID    string `json:"submission_id,omitempty"` // client queue id, logged for tracing
}

// WriteResponse is returned for both accepted (200) and rejected (409) writes
type WriteResponse struct {
	Status string          `json:"status"` // "accepted" | "rejected"
	Record *RecordResponse `json:"record"`
}

// RecordResponse is the wire form of a Record
type RecordResponse struct {
	ID        string            `json:"id"`
	Values    Values            `json:"values"`
	Display   map[string]string `json:"display,omitempty"`
	Version   int64             `json:"version"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is returned by GET /healthz
type HealthResponse struct {
	Status string `json:"status"`
}

// ToRecordResponse converts a Record to its wire form.
func ToRecordResponse(r *Record) *RecordResponse {
	if r == nil {
		return nil
	}
	c := r.Clone()
	return &RecordResponse{
		ID:        c.ID,
		Values:    c.Values,
		Display:   c.Display,
		Version:   c.Version,
		UpdatedAt: c.UpdatedAt,
	}
}

// ToRecord converts the wire form back to a Record.
func (r *RecordResponse) ToRecord() *Record {
	if r == nil {
		return nil
	}
	rec := &Record{
		ID:        r.ID,
		Values:    r.Values,
		Display:   r.Display,
		Version:   r.Version,
		UpdatedAt: r.UpdatedAt,
	}
	return rec.Clone()
}
