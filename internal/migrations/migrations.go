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

// Package migrations embeds the schema migrations for both of the
// pipeline's embedded SQLite databases (partition state, warehouse
// pointers) and applies them idempotently via goose.
package migrations

import (
	"database/sql"
	"embed"

	"github.com/pressly/goose/v3"

	pipelineerrors "github.com/jordigilh/gads-etl/internal/errors"
)

//go:embed state/*.sql
var stateFS embed.FS

//go:embed warehouse/*.sql
var warehouseFS embed.FS

// ApplyStateStore runs every pending migration against the partition state
// database. It is safe to call on every process start: goose tracks the
// applied version in its own bookkeeping table.
func ApplyStateStore(db *sql.DB) error {
	return apply(db, stateFS, "state")
}

// ApplyWarehouse runs every pending migration against the warehouse
// pointer database.
func ApplyWarehouse(db *sql.DB) error {
	return apply(db, warehouseFS, "warehouse")
}

func apply(db *sql.DB, fs embed.FS, dir string) error {
	goose.SetBaseFS(fs)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return pipelineerrors.NewConfigError("unsupported migration dialect").WithDetailsf("%v", err)
	}
	if err := goose.Up(db, dir); err != nil {
		return pipelineerrors.NewConsistencyError("schema migration failed").WithDetailsf("%v", err)
	}
	return nil
}
