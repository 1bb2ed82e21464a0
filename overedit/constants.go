// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package overedit

// Status constants for conditional write outcomes
const (
	StAccepted = "accepted"
	StRejected = "rejected"
)

// Error reason constants returned in ErrorResponse.Error
const (
	ReasonBadPayload       = "bad_payload"
	ReasonInvalidRequest   = "invalid_request"
	ReasonNotFound         = "not_found"
	ReasonForbidden        = "forbidden"
	ReasonInternalError    = "internal_error"
	ReasonAuthFailed       = "authentication_failed"
	ReasonMethodNotAllowed = "method_not_allowed"
)

// Display field names carried next to the editable fields.
const (
	DisplaySubject    = "subject"
	DisplaySender     = "sender"
	DisplayReceivedAt = "received_at"
)
