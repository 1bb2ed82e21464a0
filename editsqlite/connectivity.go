// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package editsqlite

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Connectivity tracks whether the record store is reachable. It is marked
// offline by retryable transport failures and probes its way back online.
type Connectivity struct {
	online     atomic.Bool
	probe      func(ctx context.Context) error
	backoffMin time.Duration
	backoffMax time.Duration
	logger     *slog.Logger

	mu        sync.Mutex
	listeners map[int]func()
	nextID    int
	wake      chan struct{}
}

func newConnectivity(probe func(ctx context.Context) error, backoffMin, backoffMax time.Duration, logger *slog.Logger) *Connectivity {
	c := &Connectivity{
		probe:      probe,
		backoffMin: backoffMin,
		backoffMax: backoffMax,
		logger:     logger,
		listeners:  make(map[int]func()),
		wake:       make(chan struct{}, 1),
	}
	c.online.Store(true)
	return c
}

// Online reports the last known state.
func (c *Connectivity) Online() bool { return c.online.Load() }

// MarkOffline records that the store was unreachable.
func (c *Connectivity) MarkOffline() {
	if c.online.Swap(false) {
		c.logger.Info("Record store unreachable, working offline")
	}
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// MarkOnline records that the store answered. Restored listeners fire on the
// offline to online transition only.
func (c *Connectivity) MarkOnline() {
	if c.online.Swap(true) {
		return
	}
	c.logger.Info("Record store reachable again")
	c.mu.Lock()
	fns := make([]func(), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// OnRestored registers fn for offline to online transitions. The returned
// function unregisters it.
func (c *Connectivity) OnRestored(fn func()) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

// Run probes the store with exponential backoff while offline until ctx is done.
func (c *Connectivity) Run(ctx context.Context) {
	backoff := c.backoffMin
	for {
		if c.Online() {
			backoff = c.backoffMin
			select {
			case <-ctx.Done():
				return
			case <-c.wake:
			}
			continue
		}

		if err := c.probe(ctx); err != nil {
			c.logger.Debug("Connectivity probe failed", "error", err, "backoff", backoff)
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			backoff = backoff * 2
			if backoff > c.backoffMax {
				backoff = c.backoffMax
			}
			continue
		}
		c.MarkOnline()
	}
}
