// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package editsqlite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/iius-rcox/ai-assistant-sub001/overedit"
)

// Status is the edit session state shown to the user.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusEditing  Status = "editing"
	StatusSaving   Status = "saving"
	StatusSuccess  Status = "success"
	StatusError    Status = "error"
	StatusConflict Status = "conflict"
	StatusOffline  Status = "offline"
)

// DisplayMode is presentation only and never affects state.
type DisplayMode string

const (
	DisplayInline  DisplayMode = "inline"
	DisplayOverlay DisplayMode = "overlay"
)

// ChoiceKind names a conflict resolution.
type ChoiceKind string

const (
	ChoiceKeepMine  ChoiceKind = "keep-mine"
	ChoiceUseServer ChoiceKind = "use-server"
	ChoiceMerge     ChoiceKind = "merge"
)

// Choice is the user's answer to a conflict. Picks is required for every
// conflicting field when Kind is ChoiceMerge.
type Choice struct {
	Kind  ChoiceKind
	Picks overedit.Values
}

// Snapshot is a copy of the controller state for rendering.
type Snapshot struct {
	RecordID        string
	Status          Status
	Display         map[string]string
	BaselineValues  overedit.Values
	BaselineVersion int64
	CurrentValues   overedit.Values
	DirtyFields     []string
	Conflict        *ConflictReport
	Err             error
	Offline         bool
	DraftOffer      *Draft
	AutoMerged      []string // fields taken from the server by the last silent merge
	Suspended       bool     // the last session was drafted and closed by the guard or an expired login
	DisplayMode     DisplayMode
}

type writeAttempt struct {
	submissionID string
	updates      overedit.Values
	expected     int64
	baseline     overedit.Values
	target       overedit.Values
}

type editSession struct {
	recordID        string
	display         map[string]string
	baseline        overedit.Values
	baselineVersion int64
	current         overedit.Values
	dirty           []string
	status          Status
	conflict        *ConflictReport
	lastErr         error
	offline         bool
	offer           *Draft
	autoMerged      []string
	merges          int // silent merges since the last Save or resolution

	writing   bool // own adapter call in flight
	replaying bool // waiting on a queue replay pass
	cancelled bool
	suspended bool
}

func (s *editSession) draft() *Draft {
	return &Draft{
		RecordID:        s.recordID,
		CurrentValues:   s.current.Clone(),
		BaselineValues:  s.baseline.Clone(),
		BaselineVersion: s.baselineVersion,
		DirtyFields:     append([]string(nil), s.dirty...),
	}
}

// Controller owns the single edit session of one UI surface. All transitions
// except the adapter call run synchronously under its mutex.
type Controller struct {
	client *Client
	fields []string
	logger *slog.Logger

	mu           sync.Mutex
	session      *editSession
	suspended    bool
	disposed     bool
	displayMode  DisplayMode
	successTimer *time.Timer
	debounce     *debouncer
	guard        *NavigationGuard

	// cancelledWrites holds sessions cancelled while their write was in
	// flight, by record. Their drafts are never offered.
	cancelledWrites map[string]*editSession

	subscribers map[int]func(Snapshot)
	nextSub     int

	inflight sync.WaitGroup
}

func newController(client *Client) *Controller {
	c := &Controller{
		client:      client,
		fields:      client.config.Fields.Names(),
		logger:      client.logger,
		displayMode: DisplayInline,
		debounce:    newDebouncer(client.config.DebounceInterval),
		subscribers: make(map[int]func(Snapshot)),

		cancelledWrites: make(map[string]*editSession),
	}
	c.guard = newNavigationGuard(c, client.logger)
	return c
}

// Guard returns the navigation guard bound to this controller.
func (c *Controller) Guard() *NavigationGuard { return c.guard }

// Subscribe registers fn for state changes. fn may be called from a
// background goroutine and must not call back into the controller synchronously.
func (c *Controller) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	c.subscribers[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subscribers, id)
	}
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Status returns the session status, idle when there is no session.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return StatusIdle
	}
	return c.session.status
}

// DirtyFields returns the fields whose current value differs from the baseline.
func (c *Controller) DirtyFields() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	return append([]string(nil), c.session.dirty...)
}

// ConflictReport returns the pending conflict, or nil.
func (c *Controller) ConflictReport() *ConflictReport {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	return c.session.conflict.clone()
}

// SetViewportWidth picks inline or overlay presentation.
func (c *Controller) SetViewportWidth(px int) {
	c.mu.Lock()
	if px < c.client.config.OverlayBreakpoint {
		c.displayMode = DisplayOverlay
	} else {
		c.displayMode = DisplayInline
	}
	c.unlockAndNotify()
}

// Wait blocks until in-flight saves have been applied.
func (c *Controller) Wait() {
	c.inflight.Wait()
}

// BeginEdit fetches the record and opens a session on it. If the store is
// unreachable and a draft exists, the session opens from the draft baseline.
// A non-nil Draft is offered for RestoreDraft or DiscardDraft.
func (c *Controller) BeginEdit(ctx context.Context, id string) (*Draft, error) {
	c.mu.Lock()
	err := c.checkCanBeginLocked()
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	rec, err := c.client.Adapter.Fetch(ctx, id)
	if err != nil {
		if !IsRetryable(err) {
			return nil, fmt.Errorf("failed to load record %s: %w", id, err)
		}
		c.client.Connectivity.MarkOffline()
		draft, derr := c.client.Drafts.Load(ctx, id)
		if derr != nil || draft == nil || c.hasCancelledWrite(id) {
			return nil, fmt.Errorf("failed to load record %s: %w", id, err)
		}
		rec = &overedit.Record{ID: id, Values: draft.BaselineValues.Clone(), Version: draft.BaselineVersion}
	}
	return c.BeginEditRecord(ctx, rec)
}

// BeginEditRecord opens a session on a record the caller already holds.
func (c *Controller) BeginEditRecord(ctx context.Context, rec *overedit.Record) (*Draft, error) {
	if rec == nil || rec.ID == "" {
		return nil, fmt.Errorf("record is required")
	}
	c.mu.Lock()
	if err := c.checkCanBeginLocked(); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	if c.session != nil {
		c.closeSessionLocked()
	}

	var draft *Draft
	if _, pending := c.cancelledWrites[rec.ID]; !pending {
		d, err := c.client.Drafts.Load(ctx, rec.ID)
		if err != nil {
			c.logger.Warn("Failed to load draft", "record_id", rec.ID, "error", err)
		}
		draft = d
	}
	queued, err := c.client.Queue.HasRecord(ctx, rec.ID)
	if err != nil {
		c.logger.Warn("Failed to read pending queue", "record_id", rec.ID, "error", err)
	}

	rc := rec.Clone()
	sess := &editSession{
		recordID:        rc.ID,
		display:         rc.Display,
		baseline:        rc.Values.Clone(),
		baselineVersion: rc.Version,
		current:         rc.Values.Clone(),
		status:          StatusEditing,
		offer:           draft,
		offline:         queued || !c.client.Connectivity.Online(),
	}
	c.session = sess
	c.suspended = false
	c.guard.arm()
	c.logger.Debug("Edit session opened", "record_id", sess.recordID, "version", sess.baselineVersion, "draft", draft != nil)
	c.unlockAndNotify()
	return draft.clone(), nil
}

func (c *Controller) hasCancelledWrite(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.cancelledWrites[id]
	return ok
}

func (c *Controller) checkCanBeginLocked() error {
	if c.disposed {
		return ErrDisposed
	}
	sess := c.session
	if sess == nil {
		return nil
	}
	switch {
	case sess.status == StatusSaving:
		return ErrSessionBusy
	case len(sess.dirty) > 0 || sess.status == StatusConflict:
		return ErrSessionDirty
	}
	return nil
}

// RestoreDraft replaces the session state with the offered draft.
func (c *Controller) RestoreDraft() error {
	c.mu.Lock()
	sess := c.session
	switch {
	case sess == nil:
		c.mu.Unlock()
		return ErrNoSession
	case sess.offer == nil:
		c.mu.Unlock()
		return ErrNoDraft
	case sess.status == StatusSaving:
		c.mu.Unlock()
		return ErrSessionBusy
	}
	d := sess.offer
	sess.offer = nil
	sess.baseline = d.BaselineValues.Clone()
	sess.baselineVersion = d.BaselineVersion
	sess.current = d.BaselineValues.With(d.CurrentValues)
	sess.dirty = dirtyFields(c.fields, sess.baseline, sess.current)
	sess.conflict = nil
	if sess.status != StatusOffline {
		sess.status = StatusEditing
	}
	c.unlockAndNotify()
	return nil
}

// DiscardDraft deletes the offered draft and keeps the fresh session.
func (c *Controller) DiscardDraft(ctx context.Context) error {
	c.mu.Lock()
	sess := c.session
	if sess == nil {
		c.mu.Unlock()
		return ErrNoSession
	}
	if sess.offer == nil {
		c.mu.Unlock()
		return ErrNoDraft
	}
	sess.offer = nil
	err := c.client.Drafts.Delete(ctx, sess.recordID)
	c.unlockAndNotify()
	return err
}

// SetField updates one field and schedules a debounced draft write.
func (c *Controller) SetField(name, value string) error {
	c.mu.Lock()
	sess := c.session
	if sess == nil {
		c.mu.Unlock()
		return ErrNoSession
	}
	switch sess.status {
	case StatusSaving:
		c.mu.Unlock()
		return ErrSessionBusy
	case StatusConflict:
		c.mu.Unlock()
		return ErrConflictPending
	}
	if err := c.client.config.Fields.Check(name, value); err != nil {
		c.mu.Unlock()
		return &ValidationError{Field: name, Value: value, Err: err}
	}

	sess.current[name] = value
	sess.dirty = dirtyFields(c.fields, sess.baseline, sess.current)
	if sess.status != StatusOffline {
		sess.status = StatusEditing
		sess.lastErr = nil
	}
	c.stopSuccessTimerLocked()
	c.scheduleDraftLocked(sess)
	c.unlockAndNotify()
	return nil
}

// Save submits the dirty fields. The adapter call runs on a goroutine; ctx
// bounds that call.
func (c *Controller) Save(ctx context.Context) error {
	c.mu.Lock()
	sess := c.session
	if sess == nil {
		c.mu.Unlock()
		return ErrNoSession
	}
	switch sess.status {
	case StatusSaving:
		c.mu.Unlock()
		return ErrSessionBusy
	case StatusConflict:
		c.mu.Unlock()
		return ErrConflictPending
	}
	if len(sess.dirty) == 0 {
		c.mu.Unlock()
		return ErrNoChanges
	}
	for _, f := range sess.dirty {
		if err := c.client.config.Fields.Check(f, sess.current[f]); err != nil {
			c.mu.Unlock()
			return &ValidationError{Field: f, Value: sess.current[f], Err: err}
		}
	}
	if err := c.persistDraftLocked(ctx, sess); err != nil {
		c.logger.Error("Failed to persist draft before save", "record_id", sess.recordID, "error", err)
	}

	updates := overedit.Values{}
	for _, f := range sess.dirty {
		updates[f] = sess.current[f]
	}

	queued, err := c.client.Queue.HasRecord(ctx, sess.recordID)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("failed to read pending queue: %w", err)
	}
	if queued {
		// Earlier submissions for this record are still queued; keep order.
		if _, err := c.client.Queue.Enqueue(ctx, QueuedSubmission{
			RecordID:        sess.recordID,
			ExpectedVersion: sess.baselineVersion,
			FieldUpdates:    updates,
			BaseValues:      sess.baseline,
		}); err != nil {
			c.mu.Unlock()
			return err
		}
		if c.client.Connectivity.Online() {
			sess.status = StatusSaving
			sess.replaying = true
			c.client.replayAsync(context.WithoutCancel(ctx))
		} else {
			sess.status = StatusOffline
			sess.offline = true
		}
		c.unlockAndNotify()
		return nil
	}

	sess.status = StatusSaving
	sess.lastErr = nil
	sess.autoMerged = nil
	sess.merges = 0
	c.startWriteLocked(ctx, sess, updates)
	c.unlockAndNotify()
	return nil
}

// Cancel discards the session and its draft. While a save is in flight the
// session is detached instead; its draft is cleared once the outcome arrives.
func (c *Controller) Cancel(ctx context.Context) error {
	c.mu.Lock()
	sess := c.session
	if sess == nil {
		c.mu.Unlock()
		return ErrNoSession
	}
	sess.cancelled = true
	c.closeSessionLocked()
	var err error
	if sess.writing {
		c.cancelledWrites[sess.recordID] = sess
	} else {
		err = c.client.Drafts.Delete(ctx, sess.recordID)
	}
	c.unlockAndNotify()
	return err
}

// ResolveConflict applies the user's choice to the pending conflict.
func (c *Controller) ResolveConflict(ctx context.Context, choice Choice) error {
	c.mu.Lock()
	sess := c.session
	if sess == nil {
		c.mu.Unlock()
		return ErrNoSession
	}
	if sess.status != StatusConflict || sess.conflict == nil {
		c.mu.Unlock()
		return ErrNotInConflict
	}
	rep := sess.conflict
	server := rep.ServerValues.Clone()

	var target overedit.Values
	switch choice.Kind {
	case ChoiceUseServer:
		if _, err := c.client.Queue.removeRecord(ctx, sess.recordID); err != nil {
			c.logger.Error("Failed to drop queued submissions", "record_id", sess.recordID, "error", err)
		}
		c.debounce.Cancel()
		if err := c.client.Drafts.Delete(ctx, sess.recordID); err != nil {
			c.logger.Error("Failed to delete draft", "record_id", sess.recordID, "error", err)
		}
		c.closeSessionLocked()
		c.unlockAndNotify()
		return nil
	case ChoiceKeepMine:
		// Only the fields this session edited override the server.
		target = rebaseValues(c.fields, sess.baseline, sess.current, server)
	case ChoiceMerge:
		target = rep.Merged.Clone()
		for _, f := range rep.ConflictingFields {
			if _, ok := choice.Picks[f]; !ok {
				c.mu.Unlock()
				return &ValidationError{Field: f, Err: errors.New("no choice for conflicting field")}
			}
		}
		for _, f := range choice.Picks.Keys() {
			v := choice.Picks[f]
			if err := c.client.config.Fields.Check(f, v); err != nil {
				c.mu.Unlock()
				return &ValidationError{Field: f, Value: v, Err: err}
			}
			target[f] = v
		}
	default:
		c.mu.Unlock()
		return fmt.Errorf("unknown conflict choice %q", choice.Kind)
	}

	sess.baseline = server
	sess.baselineVersion = rep.ServerVersion
	sess.current = target
	sess.dirty = dirtyFields(c.fields, sess.baseline, sess.current)
	sess.conflict = nil
	sess.lastErr = nil
	sess.merges = 0
	if err := c.client.Queue.rebase(ctx, sess.recordID, rep.ServerVersion, server); err != nil {
		c.logger.Error("Failed to rebase queued submissions", "record_id", sess.recordID, "error", err)
	}

	if len(sess.dirty) == 0 {
		c.adoptLocked(ctx, sess, &overedit.Record{ID: sess.recordID, Values: server, Display: sess.display, Version: rep.ServerVersion})
		c.unlockAndNotify()
		return nil
	}
	if err := c.persistDraftLocked(ctx, sess); err != nil {
		c.logger.Error("Failed to persist draft", "record_id", sess.recordID, "error", err)
	}
	updates := overedit.Values{}
	for _, f := range sess.dirty {
		updates[f] = sess.current[f]
	}
	sess.status = StatusSaving
	c.startWriteLocked(ctx, sess, updates)
	c.unlockAndNotify()
	return nil
}

// SessionExpired drafts the open session and closes it. The user resumes it
// from the draft after signing in again.
func (c *Controller) SessionExpired(ctx context.Context) error {
	return c.suspend(ctx, "session_expired")
}

// Dispose drafts any unsaved session and detaches the controller from its client.
func (c *Controller) Dispose(ctx context.Context) error {
	err := c.suspend(ctx, "dispose")
	c.mu.Lock()
	c.disposed = true
	c.mu.Unlock()
	c.client.removeController(c)
	return err
}

// suspend writes the draft synchronously, then closes the session. If the
// draft cannot be written the session stays open.
func (c *Controller) suspend(ctx context.Context, reason string) error {
	c.mu.Lock()
	sess := c.session
	if sess == nil {
		c.mu.Unlock()
		return nil
	}
	if err := c.persistDraftLocked(ctx, sess); err != nil {
		sess.status = StatusError
		sess.lastErr = err
		c.unlockAndNotify()
		return err
	}
	hadEdits := len(sess.dirty) > 0
	sess.suspended = true
	c.closeSessionLocked()
	c.suspended = hadEdits
	c.logger.Info("Edit session suspended", "record_id", sess.recordID, "reason", reason, "drafted", hadEdits)
	c.unlockAndNotify()
	return nil
}

// flushDraft forces a draft write and reports whether the session holds unsaved edits.
func (c *Controller) flushDraft(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sess := c.session
	if sess == nil {
		return false, nil
	}
	dirty := len(sess.dirty) > 0
	if !dirty {
		return false, nil
	}
	return true, c.persistDraftLocked(ctx, sess)
}

func (c *Controller) startWriteLocked(ctx context.Context, sess *editSession, updates overedit.Values) {
	w := writeAttempt{
		submissionID: uuid.NewString(),
		updates:      updates.Clone(),
		expected:     sess.baselineVersion,
		baseline:     sess.baseline.Clone(),
		target:       sess.current.Clone(),
	}
	sess.writing = true
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		out := c.client.Adapter.Write(ctx, sess.recordID, w.updates, w.expected, WriteOptions{SubmissionID: w.submissionID})
		c.applyOutcome(context.WithoutCancel(ctx), sess, w, out)
	}()
}

func (c *Controller) applyOutcome(ctx context.Context, sess *editSession, w writeAttempt, out WriteOutcome) {
	c.mu.Lock()
	sess.writing = false
	if c.session != sess {
		c.settleDetachedLocked(ctx, sess, w, out)
		c.mu.Unlock()
		return
	}

	switch out.Kind {
	case OutcomeAccepted:
		c.client.Connectivity.MarkOnline()
		c.adoptLocked(ctx, sess, out.Record)

	case OutcomeRejected:
		c.client.Connectivity.MarkOnline()
		rec := out.Record
		report := Resolve(c.fields, w.baseline, w.target, rec.Values)
		report.RecordID = sess.recordID
		report.ClientVersion = w.expected
		report.ServerVersion = rec.Version
		sess.display = rec.Display

		if report.CanAutoResolve && c.client.config.AutoMerge && sess.merges < maxAutoMerges {
			sess.merges++
			sess.baseline = rec.Values.Clone()
			sess.baselineVersion = rec.Version
			sess.current = report.Merged.Clone()
			sess.dirty = dirtyFields(c.fields, sess.baseline, sess.current)
			sess.autoMerged = append([]string(nil), report.MergeableFields...)
			c.logger.Info("Merged concurrent change", "record_id", sess.recordID,
				"server_version", rec.Version, "fields", report.MergeableFields)
			if len(sess.dirty) == 0 {
				c.adoptLocked(ctx, sess, rec)
				break
			}
			updates := overedit.Values{}
			for _, f := range sess.dirty {
				updates[f] = sess.current[f]
			}
			c.startWriteLocked(ctx, sess, updates)
			break
		}

		sess.status = StatusConflict
		sess.conflict = report
		sess.lastErr = &ConflictError{Report: report.clone()}
		if err := c.persistDraftLocked(ctx, sess); err != nil {
			c.logger.Error("Failed to persist draft on conflict", "record_id", sess.recordID, "error", err)
		}

	case OutcomeTransportFailure:
		terr := out.Err
		switch {
		case terr.Retryable:
			c.client.Connectivity.MarkOffline()
			_, err := c.client.Queue.Enqueue(ctx, QueuedSubmission{
				QueueID:         w.submissionID,
				RecordID:        sess.recordID,
				ExpectedVersion: w.expected,
				FieldUpdates:    w.updates,
				BaseValues:      w.baseline,
			})
			if err != nil {
				sess.status = StatusError
				sess.lastErr = err
			} else {
				sess.status = StatusOffline
				sess.offline = true
				sess.lastErr = terr
			}
			if err := c.persistDraftLocked(ctx, sess); err != nil {
				c.logger.Error("Failed to persist draft while offline", "record_id", sess.recordID, "error", err)
			}
		case errors.Is(terr, ErrSessionExpired):
			if err := c.persistDraftLocked(ctx, sess); err != nil {
				sess.status = StatusError
				sess.lastErr = err
				break
			}
			sess.suspended = true
			c.closeSessionLocked()
			c.suspended = true
			c.logger.Info("Edit session suspended", "record_id", sess.recordID, "reason", "session_expired")
		default:
			sess.status = StatusError
			sess.lastErr = terr
			if err := c.persistDraftLocked(ctx, sess); err != nil {
				c.logger.Error("Failed to persist draft after error", "record_id", sess.recordID, "error", err)
			}
		}
	}
	c.unlockAndNotify()
}

// settleDetachedLocked handles the outcome of a write whose session was
// cancelled or suspended while it was in flight.
func (c *Controller) settleDetachedLocked(ctx context.Context, sess *editSession, w writeAttempt, out WriteOutcome) {
	owned := c.session != nil && c.session.recordID == sess.recordID
	if sess.cancelled {
		if c.cancelledWrites[sess.recordID] == sess {
			delete(c.cancelledWrites, sess.recordID)
		}
		// A newer session with edits of its own has replaced the draft.
		if owned && len(c.session.dirty) > 0 {
			return
		}
		if err := c.client.Drafts.Delete(ctx, sess.recordID); err != nil {
			c.logger.Error("Failed to delete draft of cancelled session", "record_id", sess.recordID, "error", err)
		}
		return
	}
	if owned {
		return
	}
	if out.Kind != OutcomeAccepted {
		return
	}
	// Suspended while saving: the draft now trails the server.
	d, err := c.client.Drafts.Load(ctx, sess.recordID)
	if err != nil || d == nil {
		return
	}
	rebased := rebaseValues(c.fields, d.BaselineValues, d.CurrentValues, out.Record.Values)
	dirty := dirtyFields(c.fields, out.Record.Values, rebased)
	if len(dirty) == 0 {
		err = c.client.Drafts.Delete(ctx, sess.recordID)
	} else {
		err = c.client.Drafts.Save(ctx, &Draft{
			RecordID:        sess.recordID,
			CurrentValues:   rebased,
			BaselineValues:  out.Record.Values.Clone(),
			BaselineVersion: out.Record.Version,
			DirtyFields:     dirty,
		})
	}
	if err != nil {
		c.logger.Error("Failed to update draft after detached save", "record_id", sess.recordID, "error", err)
	}
}

// adoptLocked moves the session to success on rec.
func (c *Controller) adoptLocked(ctx context.Context, sess *editSession, rec *overedit.Record) {
	sess.baseline = rec.Values.Clone()
	sess.baselineVersion = rec.Version
	sess.current = rec.Values.Clone()
	if rec.Display != nil {
		sess.display = rec.Display
	}
	sess.dirty = nil
	sess.conflict = nil
	sess.lastErr = nil
	sess.offline = false
	sess.replaying = false
	sess.status = StatusSuccess
	c.debounce.Cancel()
	if err := c.client.Drafts.Delete(ctx, sess.recordID); err != nil {
		c.logger.Error("Failed to delete draft after save", "record_id", sess.recordID, "error", err)
	}
	c.logger.Debug("Record saved", "record_id", sess.recordID, "version", rec.Version)

	c.stopSuccessTimerLocked()
	if c.client.config.SuccessDisplay <= 0 {
		c.closeSessionLocked()
		return
	}
	c.successTimer = time.AfterFunc(c.client.config.SuccessDisplay, func() {
		c.mu.Lock()
		if c.session == sess && sess.status == StatusSuccess {
			c.closeSessionLocked()
		}
		c.unlockAndNotify()
	})
}

// rebaseValues carries client edits (current vs baseline) onto server values.
func rebaseValues(fields []string, baseline, current, server overedit.Values) overedit.Values {
	out := server.Clone()
	for _, f := range fields {
		if v, ok := current[f]; ok && v != baseline[f] {
			out[f] = v
		}
	}
	return out
}

func (c *Controller) scheduleDraftLocked(sess *editSession) {
	drafts := c.client.Drafts
	logger := c.logger
	if len(sess.dirty) == 0 {
		id := sess.recordID
		c.debounce.Schedule(func() {
			if err := drafts.Delete(context.Background(), id); err != nil {
				logger.Error("Failed to delete draft", "record_id", id, "error", err)
			}
		})
		return
	}
	d := sess.draft()
	c.debounce.Schedule(func() {
		if err := drafts.Save(context.Background(), d); err != nil {
			logger.Error("Failed to save draft", "record_id", d.RecordID, "error", err)
		}
	})
}

// persistDraftLocked writes the draft now, replacing any debounced write.
func (c *Controller) persistDraftLocked(ctx context.Context, sess *editSession) error {
	c.debounce.Cancel()
	if len(sess.dirty) == 0 {
		return nil
	}
	return c.client.Drafts.Save(ctx, sess.draft())
}

func (c *Controller) stopSuccessTimerLocked() {
	if c.successTimer != nil {
		c.successTimer.Stop()
		c.successTimer = nil
	}
}

func (c *Controller) closeSessionLocked() {
	c.stopSuccessTimerLocked()
	c.debounce.Cancel()
	c.guard.disarm()
	c.session = nil
}

// beginReplay moves an offline session whose record is about to be replayed to saving.
func (c *Controller) beginReplay(recordIDs []string) {
	c.mu.Lock()
	sess := c.session
	if sess == nil || sess.writing || sess.status != StatusOffline {
		c.mu.Unlock()
		return
	}
	for _, id := range recordIDs {
		if id == sess.recordID {
			sess.status = StatusSaving
			sess.replaying = true
			break
		}
	}
	c.unlockAndNotify()
}

// afterReplay returns a session left in saving by an interrupted pass to offline.
func (c *Controller) afterReplay(ctx context.Context) {
	c.mu.Lock()
	sess := c.session
	if sess == nil || !sess.replaying {
		c.mu.Unlock()
		return
	}
	sess.replaying = false
	if sess.status == StatusSaving && !sess.writing {
		if queued, err := c.client.Queue.HasRecord(ctx, sess.recordID); err == nil && queued {
			sess.status = StatusOffline
			sess.offline = true
		}
	}
	c.unlockAndNotify()
}

// onReplayEvent folds a replay outcome for the open record into the session.
func (c *Controller) onReplayEvent(ctx context.Context, ev ReplayEvent) {
	c.mu.Lock()
	sess := c.session
	if sess == nil || sess.recordID != ev.RecordID || sess.writing {
		c.mu.Unlock()
		return
	}

	switch ev.Kind {
	case ReplayAccepted, ReplayAutoMerged:
		rec := ev.Record
		sess.current = rebaseValues(c.fields, sess.baseline, sess.current, rec.Values)
		sess.baseline = rec.Values.Clone()
		sess.baselineVersion = rec.Version
		if rec.Display != nil {
			sess.display = rec.Display
		}
		sess.dirty = dirtyFields(c.fields, sess.baseline, sess.current)
		if ev.Kind == ReplayAutoMerged && ev.Report != nil {
			sess.autoMerged = append([]string(nil), ev.Report.MergeableFields...)
		}
		wasSaving := sess.status == StatusSaving
		switch {
		case ev.Remaining > 0:
			// later submissions for this record are still queued
		case wasSaving && len(sess.dirty) == 0:
			c.adoptLocked(ctx, sess, rec)
		default:
			if wasSaving || sess.status == StatusOffline {
				sess.status = StatusEditing
			}
			sess.offline = false
			sess.replaying = false
			var err error
			if len(sess.dirty) == 0 {
				c.debounce.Cancel()
				err = c.client.Drafts.Delete(ctx, sess.recordID)
			} else {
				err = c.persistDraftLocked(ctx, sess)
			}
			if err != nil {
				c.logger.Error("Failed to update draft after replay", "record_id", sess.recordID, "error", err)
			}
		}

	case ReplayConflict:
		rec := ev.Record
		report := Resolve(c.fields, sess.baseline, sess.current, rec.Values)
		report.RecordID = sess.recordID
		report.ClientVersion = sess.baselineVersion
		report.ServerVersion = rec.Version
		sess.status = StatusConflict
		sess.conflict = report
		sess.lastErr = &ConflictError{Report: report.clone()}
		sess.offline = false
		sess.replaying = false
		if err := c.persistDraftLocked(ctx, sess); err != nil {
			c.logger.Error("Failed to persist draft on replay conflict", "record_id", sess.recordID, "error", err)
		}

	case ReplayExhausted, ReplayFailed:
		sess.status = StatusError
		sess.lastErr = ev.Err
		sess.offline = !c.client.Connectivity.Online()
		sess.replaying = false
		if err := c.persistDraftLocked(ctx, sess); err != nil {
			c.logger.Error("Failed to persist draft after replay failure", "record_id", sess.recordID, "error", err)
		}

	case ReplayDeferred:
		sess.status = StatusOffline
		sess.offline = true
		sess.lastErr = ev.Err
		sess.replaying = false
	}
	c.unlockAndNotify()
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{
		Status:      StatusIdle,
		Suspended:   c.suspended,
		DisplayMode: c.displayMode,
	}
	sess := c.session
	if sess == nil {
		return snap
	}
	snap.RecordID = sess.recordID
	snap.Status = sess.status
	if sess.display != nil {
		snap.Display = make(map[string]string, len(sess.display))
		for k, v := range sess.display {
			snap.Display[k] = v
		}
	}
	snap.BaselineValues = sess.baseline.Clone()
	snap.BaselineVersion = sess.baselineVersion
	snap.CurrentValues = sess.current.Clone()
	snap.DirtyFields = append([]string(nil), sess.dirty...)
	snap.Conflict = sess.conflict.clone()
	snap.Err = sess.lastErr
	snap.Offline = sess.offline
	snap.DraftOffer = sess.offer.clone()
	snap.AutoMerged = append([]string(nil), sess.autoMerged...)
	return snap
}

// unlockAndNotify releases c.mu and publishes the state it held.
func (c *Controller) unlockAndNotify() {
	snap := c.snapshotLocked()
	subs := make([]func(Snapshot), 0, len(c.subscribers))
	for _, fn := range c.subscribers {
		subs = append(subs, fn)
	}
	c.mu.Unlock()
	for _, fn := range subs {
		fn(snap)
	}
}
