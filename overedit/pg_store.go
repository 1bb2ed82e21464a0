// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package overedit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore is a RecordStore backed by PostgreSQL (table edit.records).
type PGStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPGStore creates the store and makes sure its schema exists.
func NewPGStore(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) (*PGStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		return initializeSchemaInTx(ctx, tx)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize record schema: %w", err)
	}
	logger.Debug("Record schema initialized")
	return &PGStore{pool: pool, logger: logger}, nil
}

const selectRecordColumns = `id, fields, display, version, updated_at`

func (s *PGStore) GetRecord(ctx context.Context, id string) (*Record, error) {
	row := s.pool.QueryRow(ctx,
		/*language=postgresql*/ `SELECT `+selectRecordColumns+` FROM edit.records WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load record %s: %w", id, err)
	}
	return rec, nil
}

func (s *PGStore) ConditionalUpdate(ctx context.Context, id string, updates Values, expectedVersion int64) (WriteResult, error) {
	patch, err := json.Marshal(updates)
	if err != nil {
		return WriteResult{}, fmt.Errorf("failed to marshal field updates: %w", err)
	}

	var rec *Record
	err = withPGRetry(ctx, func(attempt int) error {
		row := s.pool.QueryRow(ctx,
			/*language=postgresql*/ `UPDATE edit.records
			SET fields = fields || $3::jsonb,
			    version = version + 1,
			    updated_at = now()
			WHERE id = $1 AND version = $2
			RETURNING `+selectRecordColumns, id, expectedVersion, patch)
		var scanErr error
		rec, scanErr = scanRecord(row)
		if scanErr != nil && !errors.Is(scanErr, pgx.ErrNoRows) && attempt > 1 {
			s.logger.Debug("Retrying conditional update", "record_id", id, "attempt", attempt, "error", scanErr)
		}
		return scanErr
	})
	switch {
	case err == nil:
		return WriteResult{Accepted: true, Record: rec}, nil
	case errors.Is(err, pgx.ErrNoRows):
		// Zero rows: either the version moved or the record does not exist.
		current, getErr := s.GetRecord(ctx, id)
		if getErr != nil {
			return WriteResult{}, getErr
		}
		return WriteResult{Accepted: false, Record: current}, nil
	default:
		return WriteResult{}, fmt.Errorf("failed to update record %s: %w", id, err)
	}
}

func (s *PGStore) PutRecord(ctx context.Context, in *Record) (*Record, error) {
	if in == nil || in.ID == "" {
		return nil, fmt.Errorf("record id is required")
	}
	values := in.Values
	if values == nil {
		values = Values{}
	}
	fields, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal fields: %w", err)
	}
	display := in.Display
	if display == nil {
		display = map[string]string{}
	}
	displayJSON, err := json.Marshal(display)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal display fields: %w", err)
	}

	var rec *Record
	err = withPGRetry(ctx, func(int) error {
		row := s.pool.QueryRow(ctx,
			/*language=postgresql*/ `INSERT INTO edit.records (id, fields, display, version, updated_at)
			VALUES ($1, $2::jsonb, $3::jsonb, 1, now())
			ON CONFLICT (id) DO UPDATE
			SET fields = edit.records.fields || EXCLUDED.fields,
			    display = CASE WHEN EXCLUDED.display = '{}'::jsonb THEN edit.records.display ELSE EXCLUDED.display END,
			    version = edit.records.version + 1,
			    updated_at = now()
			RETURNING `+selectRecordColumns, in.ID, fields, displayJSON)
		var scanErr error
		rec, scanErr = scanRecord(row)
		return scanErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to put record %s: %w", in.ID, err)
	}
	return rec, nil
}

func scanRecord(row pgx.Row) (*Record, error) {
	var (
		rec         Record
		fields      []byte
		displayJSON []byte
	)
	if err := row.Scan(&rec.ID, &fields, &displayJSON, &rec.Version, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.Values = Values{}
	if err := json.Unmarshal(fields, &rec.Values); err != nil {
		return nil, fmt.Errorf("failed to decode fields: %w", err)
	}
	if len(displayJSON) > 0 {
		if err := json.Unmarshal(displayJSON, &rec.Display); err != nil {
			return nil, fmt.Errorf("failed to decode display fields: %w", err)
		}
		if len(rec.Display) == 0 {
			rec.Display = nil
		}
	}
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return &rec, nil
}
