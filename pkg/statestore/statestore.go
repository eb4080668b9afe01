/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package statestore is the sqlite-backed access layer for PartitionState
// records: the control plane's record of what the latest validated run of
// each logical partition is, and whether it succeeded.
package statestore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	pipelineerrors "github.com/jordigilh/gads-etl/internal/errors"
	"github.com/jordigilh/gads-etl/internal/migrations"
)

// Status is the three-valued lifecycle of a partition's latest attempt.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// PartitionState is one row of the partition_state table: the control
// plane's durable record of the authoritative run for a logical partition.
type PartitionState struct {
	Source        string    `db:"source"`
	CustomerID    string    `db:"customer_id"`
	QueryName     string    `db:"query_name"`
	LogicalDate   string    `db:"logical_date"`
	Status        Status    `db:"status"`
	CurrentRunID  *string   `db:"current_run_id"`
	SchemaVersion *string   `db:"schema_version"`
	RecordCount   *int64    `db:"record_count"`
	UpdatedAt     time.Time `db:"updated_at"`
	ErrorMessage  *string   `db:"error_message"`
	AttemptCount  *int      `db:"attempt_count"`
}

// ListFilter narrows a ListPartitionStates call. Zero-valued fields are
// ignored, matching the Python CLI's optional filter semantics.
type ListFilter struct {
	Status     Status
	CustomerID string
	QueryName  string
	Since      string // YYYY-MM-DD, inclusive
	Until      string // YYYY-MM-DD, inclusive
	Limit      int
}

// Repository is the DAO for the partition state table.
type Repository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// Open opens (creating if necessary) the SQLite database at path and
// applies the embedded schema migrations.
func Open(path string, logger *zap.Logger) (*Repository, error) {
	db, err := sqlx.Connect("sqlite3", fmt.Sprintf("file:%s?_foreign_keys=on", path))
	if err != nil {
		return nil, pipelineerrors.NewTransportError("open state store", err)
	}
	if err := migrations.ApplyStateStore(db.DB); err != nil {
		db.Close()
		return nil, err
	}
	return &Repository{db: db, logger: logger}, nil
}

// Close releases the underlying database handle.
func (r *Repository) Close() error {
	return r.db.Close()
}

// GetPartitionState fetches the current row for a logical partition, or
// nil if none exists yet.
func (r *Repository) GetPartitionState(ctx context.Context, source, customerID, queryName, logicalDate string) (*PartitionState, error) {
	var state PartitionState
	err := r.db.GetContext(ctx, &state, `
		SELECT source, customer_id, query_name, logical_date, status,
		       current_run_id, schema_version, record_count, updated_at,
		       error_message, attempt_count
		  FROM partition_state
		 WHERE source = ? AND customer_id = ? AND query_name = ? AND logical_date = ?
	`, source, customerID, queryName, logicalDate)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, pipelineerrors.NewTransportError("get partition state", err)
	}
	return &state, nil
}

// ListPartitionStates returns rows matching filter, newest first.
func (r *Repository) ListPartitionStates(ctx context.Context, filter ListFilter) ([]PartitionState, error) {
	var clauses []string
	var args []any

	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.CustomerID != "" {
		clauses = append(clauses, "customer_id = ?")
		args = append(args, filter.CustomerID)
	}
	if filter.QueryName != "" {
		clauses = append(clauses, "query_name = ?")
		args = append(args, filter.QueryName)
	}
	if filter.Since != "" {
		clauses = append(clauses, "logical_date >= ?")
		args = append(args, filter.Since)
	}
	if filter.Until != "" {
		clauses = append(clauses, "logical_date <= ?")
		args = append(args, filter.Until)
	}

	query := `
		SELECT source, customer_id, query_name, logical_date, status,
		       current_run_id, schema_version, record_count, updated_at,
		       error_message, attempt_count
		  FROM partition_state`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY updated_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	var states []PartitionState
	if err := r.db.SelectContext(ctx, &states, query, args...); err != nil {
		return nil, pipelineerrors.NewTransportError("list partition states", err)
	}
	return states, nil
}

// UpsertPartitionState inserts or replaces the row for state's key.
func (r *Repository) UpsertPartitionState(ctx context.Context, state PartitionState) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO partition_state (
			source, customer_id, query_name, logical_date, status,
			current_run_id, schema_version, record_count, updated_at,
			error_message, attempt_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source, customer_id, query_name, logical_date) DO UPDATE SET
			status=excluded.status,
			current_run_id=excluded.current_run_id,
			schema_version=excluded.schema_version,
			record_count=excluded.record_count,
			updated_at=excluded.updated_at,
			error_message=excluded.error_message,
			attempt_count=excluded.attempt_count
	`,
		state.Source, state.CustomerID, state.QueryName, state.LogicalDate, string(state.Status),
		state.CurrentRunID, state.SchemaVersion, state.RecordCount, state.UpdatedAt,
		state.ErrorMessage, state.AttemptCount,
	)
	if err != nil {
		return pipelineerrors.NewTransportError("upsert partition state", err)
	}
	return nil
}
