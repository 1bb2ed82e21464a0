// Package editsqlite provides the client side of inline record editing: an
// edit session state machine with SQLite-backed drafts and an offline
// submission queue that replays against an overedit record store.
//
// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package editsqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Client wires the durable stores, the record store adapter and the
// controllers of one process together.
type Client struct {
	DB           *sql.DB
	Adapter      RecordStoreAdapter
	Drafts       *DraftStore
	Queue        *PendingQueue
	Connectivity *Connectivity
	config       *Config
	logger       *slog.Logger

	mu           sync.Mutex
	controllers  map[*Controller]struct{}
	listeners    map[int]func(ReplayEvent)
	nextListener int
	cancel       context.CancelFunc
	stopRestored func()
	wg           sync.WaitGroup

	// retryKick is signalled when a pass leaves retryable failures queued
	// while the store still answers.
	retryKick chan struct{}
}

// NewClient creates the client tables, drops outdated drafts, and returns a
// client ready to hand out controllers. Call Start to enable background replay.
func NewClient(db *sql.DB, adapter RecordStoreAdapter, config *Config, logger *slog.Logger) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	if adapter == nil {
		return nil, fmt.Errorf("record store adapter is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := initializeDatabase(db); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	kv := &kvStore{db: db}
	c := &Client{
		DB:          db,
		Adapter:     adapter,
		Drafts:      newDraftStore(kv, config, logger),
		Queue:       newPendingQueue(kv, config, logger),
		config:      config,
		logger:      logger,
		controllers: make(map[*Controller]struct{}),
		listeners:   make(map[int]func(ReplayEvent)),
		retryKick:   make(chan struct{}, 1),
	}

	probe := func(ctx context.Context) error {
		if p, ok := adapter.(Pinger); ok {
			return p.Ping(ctx)
		}
		return nil
	}
	c.Connectivity = newConnectivity(probe, config.BackoffMin, config.BackoffMax, logger)

	if _, err := c.Drafts.Cleanup(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to clean up drafts: %w", err)
	}
	if _, err := c.parkOutdatedQueues(context.Background(), kv); err != nil {
		return nil, fmt.Errorf("failed to park outdated pending queues: %w", err)
	}
	return c, nil
}

// Config returns the client configuration.
func (c *Client) Config() *Config { return c.config }

// NewController returns a controller for one UI surface.
func (c *Client) NewController() *Controller {
	ctrl := newController(c)
	c.mu.Lock()
	c.controllers[ctrl] = struct{}{}
	c.mu.Unlock()
	return ctrl
}

func (c *Client) removeController(ctrl *Controller) {
	c.mu.Lock()
	delete(c.controllers, ctrl)
	c.mu.Unlock()
}

func (c *Client) controllerList() []*Controller {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Controller, 0, len(c.controllers))
	for ctrl := range c.controllers {
		out = append(out, ctrl)
	}
	return out
}

// OnReplayEvent registers fn for replay outcomes, including records no
// controller has open. The returned function unregisters it.
func (c *Client) OnReplayEvent(fn func(ReplayEvent)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextListener
	c.nextListener++
	c.listeners[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

func (c *Client) publish(ctx context.Context, ev ReplayEvent) {
	for _, ctrl := range c.controllerList() {
		ctrl.onReplayEvent(ctx, ev)
	}
	c.mu.Lock()
	fns := make([]func(ReplayEvent), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// SyncPending replays the queue on behalf of every open session: offline
// sessions with queued submissions show saving until their outcome arrives.
func (c *Client) SyncPending(ctx context.Context) (ReplayStats, error) {
	ids, err := c.Queue.RecordIDs(ctx)
	if err != nil {
		return ReplayStats{}, err
	}
	if len(ids) == 0 {
		return ReplayStats{}, nil
	}
	ctrls := c.controllerList()
	for _, ctrl := range ctrls {
		ctrl.beginReplay(ids)
	}
	stats, err := c.ReplayPending(ctx)
	for _, ctrl := range ctrls {
		ctrl.afterReplay(ctx)
	}
	if err == nil && stats.Deferred > 0 && c.Connectivity.Online() {
		c.kickRetry()
	}
	if err != nil {
		c.logger.Error("Replay failed", "error", err)
	} else {
		c.logger.Info("Replay finished",
			"attempted", stats.Attempted, "accepted", stats.Accepted, "auto_merged", stats.AutoMerged,
			"parked", stats.Parked, "failed", stats.Failed, "deferred", stats.Deferred)
	}
	return stats, err
}

func (c *Client) replayAsync(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		_, _ = c.SyncPending(ctx)
	}()
}

// Start runs the connectivity monitor and replays the queue whenever the
// store becomes reachable again. Queued submissions from a previous run are
// replayed right away.
func (c *Client) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	c.stopRestored = c.Connectivity.OnRestored(func() {
		if ctx.Err() == nil {
			c.replayAsync(ctx)
		}
	})
	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.Connectivity.Run(ctx)
	}()
	go func() {
		defer c.wg.Done()
		c.retryDeferred(ctx)
	}()
	c.replayAsync(ctx)
}

func (c *Client) kickRetry() {
	select {
	case c.retryKick <- struct{}{}:
	default:
	}
}

// retryDeferred re-drives the queue with exponential backoff after a pass
// deferred submissions on a store that is reachable but failing (5xx, 408,
// 429). Unreachable stores are left to the connectivity probe.
func (c *Client) retryDeferred(ctx context.Context) {
	backoff := c.config.BackoffMin
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.retryKick:
		}
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if !c.Connectivity.Online() {
			backoff = c.config.BackoffMin
			continue
		}
		c.logger.Debug("Retrying deferred submissions", "backoff", backoff)
		stats, err := c.SyncPending(ctx)
		if err != nil || stats.Deferred == 0 {
			backoff = c.config.BackoffMin
			continue
		}
		backoff = min(backoff*2, c.config.BackoffMax)
	}
}

// Wait blocks until background replay passes have finished.
func (c *Client) Wait() {
	c.wg.Wait()
}

// Stop ends background work started by Start.
func (c *Client) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	if c.stopRestored != nil {
		c.stopRestored()
	}
	cancel()
	c.wg.Wait()
}
