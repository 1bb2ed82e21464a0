// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package overedit

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	maxPGRetries    = 3
	pgRetryBaseWait = 20 * time.Millisecond
)

func isRetryablePGError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.SQLState() {
	case "40001", // serialization_failure
		"40P01", // deadlock_detected
		"55P03": // lock_not_available (incl. lock_timeout)
		return true
	default:
		return false
	}
}

// withPGRetry runs fn until it succeeds, fails with a non-retryable error,
// or the attempt limit is reached.
func withPGRetry(ctx context.Context, fn func(attempt int) error) error {
	var err error
	for attempt := 1; attempt <= maxPGRetries; attempt++ {
		err = fn(attempt)
		if err == nil || !isRetryablePGError(err) {
			return err
		}
		if sleepErr := sleepWithContext(ctx, time.Duration(attempt)*pgRetryBaseWait); sleepErr != nil {
			return sleepErr
		}
	}
	return err
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
