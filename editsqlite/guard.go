// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package editsqlite

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// Confirmer asks the user whether to leave a session with unsaved edits. It
// blocks until answered; true means leave.
type Confirmer func(snap Snapshot) bool

// NavigationGuard protects an open session from being lost to a route change
// or process exit. Both paths write the draft synchronously and never touch
// the network.
type NavigationGuard struct {
	ctrl   *Controller
	logger *slog.Logger

	mu      sync.Mutex
	armed   bool
	confirm Confirmer
}

func newNavigationGuard(ctrl *Controller, logger *slog.Logger) *NavigationGuard {
	return &NavigationGuard{ctrl: ctrl, logger: logger}
}

func (g *NavigationGuard) arm() {
	g.mu.Lock()
	g.armed = true
	g.mu.Unlock()
}

func (g *NavigationGuard) disarm() {
	g.mu.Lock()
	g.armed = false
	g.mu.Unlock()
}

// Armed reports whether a session is attached.
func (g *NavigationGuard) Armed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.armed
}

// SetConfirmer installs the blocking confirmation used by BeforeRouteChange.
// Without one, a route change proceeds once the draft is written.
func (g *NavigationGuard) SetConfirmer(fn Confirmer) {
	g.mu.Lock()
	g.confirm = fn
	g.mu.Unlock()
}

// BeforeRouteChange is called by the host router before leaving the view. It
// returns false when navigation must be cancelled.
func (g *NavigationGuard) BeforeRouteChange(ctx context.Context) bool {
	g.mu.Lock()
	armed, confirm := g.armed, g.confirm
	g.mu.Unlock()
	if !armed {
		return true
	}

	dirty, err := g.ctrl.flushDraft(ctx)
	if err != nil {
		g.logger.Error("Failed to write draft before navigation", "error", err)
		if confirm == nil {
			return false
		}
	}
	if !dirty {
		_ = g.ctrl.suspend(ctx, "route_change")
		return true
	}
	if confirm != nil && !confirm(g.ctrl.Snapshot()) {
		return false
	}
	if err := g.ctrl.suspend(ctx, "route_change"); err != nil {
		g.logger.Error("Failed to suspend session before navigation", "error", err)
		return false
	}
	return true
}

// BeforeExit drafts and closes the session. Hosts call it from their
// shutdown path; WatchSignals calls it on SIGINT and SIGTERM.
func (g *NavigationGuard) BeforeExit(ctx context.Context) error {
	if !g.Armed() {
		return nil
	}
	return g.ctrl.suspend(ctx, "exit")
}

// WatchSignals runs BeforeExit and then onExit when the process is asked to
// stop. The returned function stops watching.
func (g *NavigationGuard) WatchSignals(ctx context.Context, onExit func()) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		defer close(done)
		select {
		case <-ctx.Done():
			return
		case sig := <-ch:
			g.logger.Info("Exit requested, drafting open session", "signal", sig.String())
			if err := g.BeforeExit(context.WithoutCancel(ctx)); err != nil {
				g.logger.Error("Failed to draft session on exit", "error", err)
			}
			if onExit != nil {
				onExit()
			}
		}
	}()
	return func() {
		signal.Stop(ch)
		cancel()
		<-done
	}
}
