// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package editsqlite

import (
	"sync"
	"time"
)

// debouncer runs the most recently scheduled function after a quiet period.
// Pending work runs under the lock, so a flush never races a timer write.
type debouncer struct {
	mu       sync.Mutex
	interval time.Duration
	timer    *time.Timer
	pending  func()
}

func newDebouncer(interval time.Duration) *debouncer {
	return &debouncer{interval: interval}
}

// Schedule replaces any pending function with fn and restarts the quiet period.
func (d *debouncer) Schedule(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = fn
	if d.interval <= 0 {
		d.runLocked()
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.interval, d.fire)
}

func (d *debouncer) fire() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.runLocked()
}

// Flush runs the pending function now, if any.
func (d *debouncer) Flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.runLocked()
}

// Cancel drops the pending function. It waits for a running one to finish.
func (d *debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.pending = nil
}

// Pending reports whether a function is waiting to run.
func (d *debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending != nil
}

func (d *debouncer) runLocked() {
	fn := d.pending
	d.pending = nil
	if fn != nil {
		fn()
	}
}
