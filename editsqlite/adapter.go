// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package editsqlite

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/iius-rcox/ai-assistant-sub001/overedit"
)

// OutcomeKind is the result class of a conditional write.
type OutcomeKind int

const (
	OutcomeAccepted OutcomeKind = iota + 1
	OutcomeRejected
	OutcomeTransportFailure
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeRejected:
		return "rejected"
	case OutcomeTransportFailure:
		return "transport_failure"
	default:
		return "unknown"
	}
}

// WriteOutcome is Accepted(newRecord), Rejected(currentRecord) or
// TransportFailure(err).
type WriteOutcome struct {
	Kind   OutcomeKind
	Record *overedit.Record
	Err    *TransportError
}

func accepted(rec *overedit.Record) WriteOutcome {
	return WriteOutcome{Kind: OutcomeAccepted, Record: rec}
}

func rejected(rec *overedit.Record) WriteOutcome {
	return WriteOutcome{Kind: OutcomeRejected, Record: rec}
}

func transportFailure(retryable bool, status int, err error) WriteOutcome {
	return WriteOutcome{Kind: OutcomeTransportFailure, Err: &TransportError{Retryable: retryable, StatusCode: status, Err: err}}
}

// WriteOptions carries optional per-call metadata.
type WriteOptions struct {
	SubmissionID string
}

// RecordStoreAdapter wraps the remote store's conditional update. It has no
// side effects beyond the network call.
type RecordStoreAdapter interface {
	Write(ctx context.Context, id string, updates overedit.Values, expectedVersion int64, opts WriteOptions) WriteOutcome
	Fetch(ctx context.Context, id string) (*overedit.Record, error)
}

// Pinger is implemented by adapters that can probe reachability cheaply.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HTTPAdapter talks to the record API served by overedit.HTTPHandlers.
type HTTPAdapter struct {
	BaseURL string
	Token   func(context.Context) (string, error) // returns JWT
	HTTP    *http.Client
	logger  *slog.Logger
}

// NewHTTPAdapter creates an adapter for baseURL. A nil httpClient gets a 30s timeout.
func NewHTTPAdapter(baseURL string, tok func(context.Context) (string, error), httpClient *http.Client, logger *slog.Logger) *HTTPAdapter {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPAdapter{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   tok,
		HTTP:    httpClient,
		logger:  logger,
	}
}

func (a *HTTPAdapter) recordURL(id string, suffix string) string {
	return a.BaseURL + "/records/" + url.PathEscape(id) + suffix
}

func (a *HTTPAdapter) newRequest(ctx context.Context, method, u string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	if a.Token != nil {
		token, err := a.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get auth token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (a *HTTPAdapter) Write(ctx context.Context, id string, updates overedit.Values, expectedVersion int64, opts WriteOptions) WriteOutcome {
	body, err := json.Marshal(overedit.WriteRequest{
		ExpectedVersion: expectedVersion,
		FieldUpdates:    updates,
		SubmissionID:    opts.SubmissionID,
	})
	if err != nil {
		return transportFailure(false, 0, fmt.Errorf("failed to marshal write request: %w", err))
	}
	req, err := a.newRequest(ctx, http.MethodPost, a.recordURL(id, "/write"), bytes.NewReader(body))
	if err != nil {
		return transportFailure(false, 0, err)
	}

	resp, err := a.HTTP.Do(req)
	if err != nil {
		// No response means no definitive answer; expectedVersion makes the retry safe.
		return transportFailure(true, 0, fmt.Errorf("failed to send HTTP request: %w", err))
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusConflict:
		var wr overedit.WriteResponse
		if err := json.NewDecoder(resp.Body).Decode(&wr); err != nil || wr.Record == nil {
			if err == nil {
				err = errors.New("response has no record")
			}
			return transportFailure(true, resp.StatusCode, fmt.Errorf("failed to decode write response: %w", err))
		}
		if resp.StatusCode == http.StatusOK {
			return accepted(wr.Record.ToRecord())
		}
		return rejected(wr.Record.ToRecord())
	default:
		err := statusError(resp)
		retryable := isRetryableStatus(resp.StatusCode)
		a.logger.Debug("Write failed", "record_id", id, "status", resp.StatusCode, "retryable", retryable, "error", err)
		return transportFailure(retryable, resp.StatusCode, err)
	}
}

func (a *HTTPAdapter) Fetch(ctx context.Context, id string) (*overedit.Record, error) {
	req, err := a.newRequest(ctx, http.MethodGet, a.recordURL(id, ""), nil)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	resp, err := a.HTTP.Do(req)
	if err != nil {
		return nil, &TransportError{Retryable: true, Err: fmt.Errorf("failed to send HTTP request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &TransportError{
			Retryable:  isRetryableStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Err:        statusError(resp),
		}
	}
	var rr overedit.RecordResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return nil, &TransportError{Retryable: true, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode record: %w", err)}
	}
	return rr.ToRecord(), nil
}

// Ping probes GET /healthz.
func (a *HTTPAdapter) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.BaseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := a.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// isRetryableStatus classifies HTTP failures. Client errors are fatal
// (malformed request, 401, 403, 404) except timeouts and throttling; server
// errors may be retried.
func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return code < 400 || code >= 500
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	var er overedit.ErrorResponse
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &er) == nil && er.Error != "" {
		msg = er.Error
		if er.Message != "" {
			msg += ": " + er.Message
		}
	}
	err := fmt.Errorf("server returned status %d: %s", resp.StatusCode, msg)
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %w", ErrSessionExpired, err)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %w", ErrRecordNotFound, err)
	}
	return err
}
