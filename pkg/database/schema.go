package database

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jmoiron/sqlx"
)

var identPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

const approvalRequestsDDL = `CREATE TABLE IF NOT EXISTS approval_requests (
	id            UUID PRIMARY KEY,
	request_type  TEXT NOT NULL,
	table_name    TEXT NOT NULL,
	record_id     BIGINT,
	department_id TEXT,
	old_data      JSONB,
	new_data      JSONB,
	requester_id  BIGINT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'PENDING',
	reviewer_id   BIGINT,
	note          TEXT,
	requested_at  TIMESTAMPTZ NOT NULL,
	reviewed_at   TIMESTAMPTZ,
	applied_at    TIMESTAMPTZ,
	apply_error   TEXT
)`

const approvalPendingIndexDDL = `CREATE INDEX IF NOT EXISTS idx_approval_requests_pending
	ON approval_requests (requested_at, id) WHERE status = 'PENDING'`

const auditLogsDDL = `CREATE TABLE IF NOT EXISTS audit_logs (
	id          UUID PRIMARY KEY,
	user_id     BIGINT,
	action      TEXT NOT NULL,
	resource    TEXT NOT NULL,
	resource_id TEXT,
	old_values  JSONB,
	new_values  JSONB,
	request_id  TEXT,
	created_at  TIMESTAMPTZ NOT NULL
)`

const recordTableDDL = `CREATE TABLE IF NOT EXISTS %s (
	id            BIGSERIAL PRIMARY KEY,
	department_id TEXT,
	data          JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL
)`

// SchemaStatements returns the idempotent DDL for the workflow tables and one
// record table per name. Names must be lower snake case identifiers.
func SchemaStatements(recordTables []string) ([]string, error) {
	stmts := []string{approvalRequestsDDL, approvalPendingIndexDDL, auditLogsDDL}
	for _, table := range recordTables {
		if !identPattern.MatchString(table) {
			return nil, fmt.Errorf("invalid record table name %q", table)
		}
		stmts = append(stmts, fmt.Sprintf(recordTableDDL, table))
	}
	return stmts, nil
}

// EnsureSchema creates any missing tables inside a single transaction.
func EnsureSchema(ctx context.Context, db *sqlx.DB, recordTables []string) error {
	stmts, err := SchemaStatements(recordTables)
	if err != nil {
		return err
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}
