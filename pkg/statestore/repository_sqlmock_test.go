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

package statestore

import (
	"context"
	"database/sql"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
)

// These specs assert the exact SQL the Repository issues and its error
// translation, independent of sqlite's actual semantics (covered by the
// real-database specs in statestore_test.go). A mismatched query or argument list fails
// the mock's expectation, not a logic assertion on returned rows.
var _ = Describe("Repository SQL behavior", func() {
	var (
		ctx  context.Context
		repo *Repository
		mock sqlmock.Sqlmock
	)

	BeforeEach(func() {
		ctx = context.Background()
		mockDB, mockSQL, err := sqlmock.New()
		Expect(err).NotTo(HaveOccurred())
		mock = mockSQL
		repo = &Repository{db: sqlx.NewDb(mockDB, "sqlmock"), logger: zap.NewNop()}
	})

	AfterEach(func() {
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})

	Describe("GetPartitionState", func() {
		It("returns nil without an error when no row matches", func() {
			mock.ExpectQuery("SELECT source, customer_id, query_name, logical_date, status").
				WithArgs("google_ads", "123-456-7890", "campaign_performance", "2026-07-01").
				WillReturnError(sql.ErrNoRows)

			state, err := repo.GetPartitionState(ctx, "google_ads", "123-456-7890", "campaign_performance", "2026-07-01")
			Expect(err).NotTo(HaveOccurred())
			Expect(state).To(BeNil())
		})

		It("wraps a non-ErrNoRows failure as a transport error", func() {
			mock.ExpectQuery("SELECT source, customer_id, query_name, logical_date, status").
				WithArgs("google_ads", "123-456-7890", "campaign_performance", "2026-07-01").
				WillReturnError(sql.ErrConnDone)

			_, err := repo.GetPartitionState(ctx, "google_ads", "123-456-7890", "campaign_performance", "2026-07-01")
			Expect(err).To(HaveOccurred())
		})

		It("scans a matching row into a PartitionState", func() {
			updatedAt := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
			rows := sqlmock.NewRows([]string{
				"source", "customer_id", "query_name", "logical_date", "status",
				"current_run_id", "schema_version", "record_count", "updated_at",
				"error_message", "attempt_count",
			}).AddRow(
				"google_ads", "123-456-7890", "campaign_performance", "2026-07-01", "success",
				"run-1", "v1", int64(42), updatedAt, nil, 1,
			)
			mock.ExpectQuery("SELECT source, customer_id, query_name, logical_date, status").
				WithArgs("google_ads", "123-456-7890", "campaign_performance", "2026-07-01").
				WillReturnRows(rows)

			state, err := repo.GetPartitionState(ctx, "google_ads", "123-456-7890", "campaign_performance", "2026-07-01")
			Expect(err).NotTo(HaveOccurred())
			Expect(state).NotTo(BeNil())
			Expect(state.Status).To(Equal(StatusSuccess))
			Expect(*state.CurrentRunID).To(Equal("run-1"))
		})
	})

	Describe("ListPartitionStates", func() {
		It("appends WHERE clauses only for the filter fields that are set", func() {
			rows := sqlmock.NewRows([]string{
				"source", "customer_id", "query_name", "logical_date", "status",
				"current_run_id", "schema_version", "record_count", "updated_at",
				"error_message", "attempt_count",
			})
			mock.ExpectQuery("(?s)SELECT source, customer_id, query_name, logical_date, status.*WHERE status = \\? AND query_name = \\?.*ORDER BY updated_at DESC").
				WithArgs("failed", "campaign_performance").
				WillReturnRows(rows)

			states, err := repo.ListPartitionStates(ctx, ListFilter{Status: StatusFailed, QueryName: "campaign_performance"})
			Expect(err).NotTo(HaveOccurred())
			Expect(states).To(BeEmpty())
		})

		It("emits no WHERE clause for an empty filter", func() {
			rows := sqlmock.NewRows([]string{
				"source", "customer_id", "query_name", "logical_date", "status",
				"current_run_id", "schema_version", "record_count", "updated_at",
				"error_message", "attempt_count",
			})
			mock.ExpectQuery("(?s)SELECT source, customer_id, query_name, logical_date, status.*FROM partition_state\\s+ORDER BY updated_at DESC").
				WillReturnRows(rows)

			_, err := repo.ListPartitionStates(ctx, ListFilter{})
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("UpsertPartitionState", func() {
		It("executes an upsert with all eleven columns in order", func() {
			updatedAt := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
			runID := "run-1"
			schemaVersion := "v1"
			recordCount := int64(10)
			attempt := 1

			mock.ExpectExec("INSERT INTO partition_state").
				WithArgs("google_ads", "123-456-7890", "campaign_performance", "2026-07-01", "success",
					runID, schemaVersion, recordCount, updatedAt, nil, attempt).
				WillReturnResult(sqlmock.NewResult(0, 1))

			err := repo.UpsertPartitionState(ctx, PartitionState{
				Source:        "google_ads",
				CustomerID:    "123-456-7890",
				QueryName:     "campaign_performance",
				LogicalDate:   "2026-07-01",
				Status:        StatusSuccess,
				CurrentRunID:  &runID,
				SchemaVersion: &schemaVersion,
				RecordCount:   &recordCount,
				UpdatedAt:     updatedAt,
				AttemptCount:  &attempt,
			})
			Expect(err).NotTo(HaveOccurred())
		})

		It("wraps an execution failure as a transport error", func() {
			updatedAt := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
			mock.ExpectExec("INSERT INTO partition_state").
				WillReturnError(sql.ErrTxDone)

			err := repo.UpsertPartitionState(ctx, PartitionState{
				Source: "google_ads", CustomerID: "123-456-7890", QueryName: "campaign_performance",
				LogicalDate: "2026-07-01", Status: StatusFailed, UpdatedAt: updatedAt,
			})
			Expect(err).To(HaveOccurred())
		})
	})
})
