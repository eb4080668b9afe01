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

// Package warehouse implements the read side of the curated data layer:
// the pointer store that records which run backs each published logical
// partition, the reconciler that diffs it against partition state, and the
// interface for staging curated rows.
package warehouse

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	pipelineerrors "github.com/jordigilh/gads-etl/internal/errors"
	"github.com/jordigilh/gads-etl/internal/migrations"
)

// Pointer records the run that backs a currently-published logical
// partition in the warehouse.
type Pointer struct {
	Source        string `db:"source"`
	CustomerID    string `db:"customer_id"`
	QueryName     string `db:"query_name"`
	LogicalDate   string `db:"logical_date"`
	RunID         string `db:"run_id"`
	SchemaVersion string `db:"schema_version"`
	LoadedAt      string `db:"loaded_at"`
}

// PointerStore is the DAO for the warehouse_pointers table.
type PointerStore struct {
	db *sqlx.DB
}

// OpenPointerStore opens (creating if necessary) the SQLite database at
// path and applies the embedded schema migrations.
func OpenPointerStore(path string) (*PointerStore, error) {
	db, err := sqlx.Connect("sqlite3", fmt.Sprintf("file:%s?_foreign_keys=on", path))
	if err != nil {
		return nil, pipelineerrors.NewTransportError("open pointer store", err)
	}
	if err := migrations.ApplyWarehouse(db.DB); err != nil {
		db.Close()
		return nil, err
	}
	return &PointerStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *PointerStore) Close() error {
	return s.db.Close()
}

// GetPointer fetches the pointer for a logical partition, or nil if none.
func (s *PointerStore) GetPointer(ctx context.Context, source, customerID, queryName, logicalDate string) (*Pointer, error) {
	var p Pointer
	err := s.db.GetContext(ctx, &p, `
		SELECT source, customer_id, query_name, logical_date, run_id, schema_version, loaded_at
		  FROM warehouse_pointers
		 WHERE source = ? AND customer_id = ? AND query_name = ? AND logical_date = ?
	`, source, customerID, queryName, logicalDate)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, pipelineerrors.NewTransportError("get warehouse pointer", err)
	}
	return &p, nil
}

// UpsertPointer inserts or replaces the pointer for p's key.
func (s *PointerStore) UpsertPointer(ctx context.Context, p Pointer) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO warehouse_pointers (
			source, customer_id, query_name, logical_date, run_id, schema_version, loaded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source, customer_id, query_name, logical_date) DO UPDATE SET
			run_id = excluded.run_id,
			schema_version = excluded.schema_version,
			loaded_at = excluded.loaded_at
	`, p.Source, p.CustomerID, p.QueryName, p.LogicalDate, p.RunID, p.SchemaVersion, p.LoadedAt)
	if err != nil {
		return pipelineerrors.NewTransportError("upsert warehouse pointer", err)
	}
	return nil
}

// DeletePointer removes the pointer for the given logical partition, if any.
func (s *PointerStore) DeletePointer(ctx context.Context, source, customerID, queryName, logicalDate string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM warehouse_pointers
		 WHERE source = ? AND customer_id = ? AND query_name = ? AND logical_date = ?
	`, source, customerID, queryName, logicalDate)
	if err != nil {
		return pipelineerrors.NewTransportError("delete warehouse pointer", err)
	}
	return nil
}

// ListPointers returns every pointer currently on record.
func (s *PointerStore) ListPointers(ctx context.Context) ([]Pointer, error) {
	var pointers []Pointer
	err := s.db.SelectContext(ctx, &pointers, `
		SELECT source, customer_id, query_name, logical_date, run_id, schema_version, loaded_at
		  FROM warehouse_pointers
	`)
	if err != nil {
		return nil, pipelineerrors.NewTransportError("list warehouse pointers", err)
	}
	return pointers, nil
}
