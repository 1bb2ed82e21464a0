// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package overedit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// initializeSchemaInTx creates the record table within an existing transaction
func initializeSchemaInTx(ctx context.Context, tx pgx.Tx) error {
	migrations := []string{
		/*language=postgresql*/ `CREATE SCHEMA IF NOT EXISTS edit`,

		// Editable records with their optimistic-concurrency version
		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS edit.records (
			id          TEXT        PRIMARY KEY,
			fields      JSONB       NOT NULL DEFAULT '{}'::jsonb,
			display     JSONB       NOT NULL DEFAULT '{}'::jsonb,
			version     BIGINT      NOT NULL DEFAULT 1 CHECK (version >= 1),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,

		/*language=postgresql*/ `CREATE INDEX IF NOT EXISTS records_updated_at_idx ON edit.records (updated_at)`,
	}

	for _, migration := range migrations {
		if _, err := tx.Exec(ctx, migration); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}
	return nil
}
