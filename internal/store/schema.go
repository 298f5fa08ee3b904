package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	_ "embed"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is bumped whenever schema.sql changes shape.
const schemaVersion = 1

// migrate applies schema.sql and reconciles the stored schema_version in a
// single transaction. Databases written by a newer build are rejected rather
// than modified.
func migrate(ctx context.Context, db *sql.DB) error {
	if ctx == nil {
		ctx = context.Background()
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	var stored string
	err = tx.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = 'schema_version'").Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO metadata(key, value) VALUES('schema_version', ?)",
			strconv.Itoa(schemaVersion)); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
		return tx.Commit()
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	}

	version, err := strconv.Atoi(stored)
	if err != nil {
		return fmt.Errorf("schema version %q is not a number: %w", stored, err)
	}
	if version > schemaVersion {
		return fmt.Errorf("database written by a newer build (schema %d, supported %d)", version, schemaVersion)
	}
	if version < schemaVersion {
		if _, err := tx.ExecContext(ctx,
			"UPDATE metadata SET value = ? WHERE key = 'schema_version'",
			strconv.Itoa(schemaVersion)); err != nil {
			return fmt.Errorf("bump schema version: %w", err)
		}
	}

	return tx.Commit()
}
