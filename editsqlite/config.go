// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package editsqlite

import (
	"fmt"
	"time"

	"github.com/iius-rcox/ai-assistant-sub001/overedit"
)

// Config holds configuration for the inline-edit client
type Config struct {
	Namespace     string               // key prefix, e.g. "triage"
	SchemaVersion int                  // bump when the draft/queue format changes, e.g. 1
	Fields        *overedit.FieldSchema // editable fields and their domains

	DraftTTL         time.Duration // 24h; older drafts are stale
	DebounceInterval time.Duration // 500ms of inactivity before a draft write
	SuccessDisplay   time.Duration // 2s in success before returning to idle
	RetryBudget      int           // 5 attempts per queued submission
	BackoffMin       time.Duration // 1s
	BackoffMax       time.Duration // 60s
	AutoMerge        bool          // apply conflict-free merges without asking

	OverlayBreakpoint int // viewport width (px) below which the overlay mode is used; 768
}

// DefaultConfig returns a default configuration for the given namespace and fields.
func DefaultConfig(namespace string, fields *overedit.FieldSchema) *Config {
	return &Config{
		Namespace:         namespace,
		SchemaVersion:     1,
		Fields:            fields,
		DraftTTL:          24 * time.Hour,
		DebounceInterval:  500 * time.Millisecond,
		SuccessDisplay:    2 * time.Second,
		RetryBudget:       5,
		BackoffMin:        1 * time.Second,
		BackoffMax:        60 * time.Second,
		AutoMerge:         true,
		OverlayBreakpoint: 768,
	}
}

func (c *Config) validate() error {
	if c.Namespace == "" {
		return fmt.Errorf("config.Namespace must be provided")
	}
	if c.SchemaVersion < 1 {
		return fmt.Errorf("config.SchemaVersion must be >= 1")
	}
	if c.Fields == nil {
		return fmt.Errorf("config.Fields must be provided")
	}
	if c.DraftTTL <= 0 {
		return fmt.Errorf("config.DraftTTL must be positive")
	}
	if c.RetryBudget < 1 {
		return fmt.Errorf("config.RetryBudget must be >= 1")
	}
	if c.BackoffMin <= 0 || c.BackoffMax < c.BackoffMin {
		return fmt.Errorf("config backoff bounds are invalid")
	}
	return nil
}
