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

package validator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/jordigilh/gads-etl/pkg/partition"
	"github.com/jordigilh/gads-etl/pkg/rawsink"
	"github.com/jordigilh/gads-etl/pkg/statestore"
)

func TestValidator(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Validator Suite")
}

var _ = Describe("Validator", func() {
	var (
		tempDir string
		sink    *rawsink.LocalSink
		states  *statestore.Repository
		val     *Validator
		key     partition.Key
		ctx     context.Context
	)

	writeRun := func(runID partition.RunID, rows []rawsink.Row, recordCount int) {
		writer, err := sink.WritePartition(ctx, key, runID)
		Expect(err).NotTo(HaveOccurred())
		for _, row := range rows {
			Expect(writer.WritePayloadRow(ctx, row)).To(Succeed())
		}
		Expect(writer.Finalize(ctx, rawsink.Metadata{"record_count": float64(recordCount)})).To(Succeed())
	}

	BeforeEach(func() {
		var err error
		tempDir, err = os.MkdirTemp("", "validator-test")
		Expect(err).NotTo(HaveOccurred())

		sink, err = rawsink.NewLocalSink(filepath.Join(tempDir, "raw"))
		Expect(err).NotTo(HaveOccurred())

		states, err = statestore.Open(filepath.Join(tempDir, "state.db"), zap.NewNop())
		Expect(err).NotTo(HaveOccurred())

		val = New(sink, states, zap.NewNop())
		key = partition.Key{Source: "google_ads", CustomerID: "123", QueryName: "campaign_performance", LogicalDate: "2026-07-01"}
		ctx = context.Background()
	})

	AfterEach(func() {
		Expect(states.Close()).To(Succeed())
		os.RemoveAll(tempDir)
	})

	It("should record success when the declared and actual record counts match", func() {
		runID := partition.NewRunID(time.Date(2026, 7, 2, 1, 0, 0, 0, time.UTC))
		writeRun(runID, []rawsink.Row{{"a": float64(1)}, {"a": float64(2)}}, 2)

		state, err := val.ValidatePartition(ctx, key, runID)
		Expect(err).NotTo(HaveOccurred())
		Expect(state.Status).To(Equal(statestore.StatusSuccess))
		Expect(*state.CurrentRunID).To(Equal(string(runID)))
		Expect(*state.RecordCount).To(Equal(int64(2)))
		Expect(*state.SchemaVersion).To(Equal("v1"))
	})

	It("should record failure on a record count mismatch without returning an error", func() {
		runID := partition.NewRunID(time.Date(2026, 7, 2, 1, 0, 0, 0, time.UTC))
		writeRun(runID, []rawsink.Row{{"a": float64(1)}}, 5)

		state, err := val.ValidatePartition(ctx, key, runID)
		Expect(err).NotTo(HaveOccurred())
		Expect(state.Status).To(Equal(statestore.StatusFailed))
		Expect(*state.ErrorMessage).To(ContainSubstring("Record count mismatch"))
	})

	It("should record failure for a run that was never finalized", func() {
		unfinalized := partition.NewRunID(time.Date(2026, 7, 2, 1, 0, 0, 0, time.UTC))

		state, err := val.ValidatePartition(ctx, key, unfinalized)
		Expect(err).NotTo(HaveOccurred())
		Expect(state.Status).To(Equal(statestore.StatusFailed))
	})

	Describe("authority rule", func() {
		It("should keep a newer run authoritative over an older late-finishing run", func() {
			older := partition.NewRunID(time.Date(2026, 7, 2, 1, 0, 0, 0, time.UTC))
			newer := partition.NewRunID(time.Date(2026, 7, 2, 2, 0, 0, 0, time.UTC))

			writeRun(newer, []rawsink.Row{{"a": float64(1)}}, 1)
			_, err := val.ValidatePartition(ctx, key, newer)
			Expect(err).NotTo(HaveOccurred())

			writeRun(older, []rawsink.Row{{"a": float64(1)}, {"a": float64(2)}}, 2)
			state, err := val.ValidatePartition(ctx, key, older)
			Expect(err).NotTo(HaveOccurred())

			Expect(state.Status).To(Equal(statestore.StatusSuccess))
			Expect(*state.CurrentRunID).To(Equal(string(newer)), "the older run must not steal authority from the newer one")
			Expect(*state.RecordCount).To(Equal(int64(1)))
		})

		It("should hand authority to a newer run that validates after an older one", func() {
			older := partition.NewRunID(time.Date(2026, 7, 2, 1, 0, 0, 0, time.UTC))
			newer := partition.NewRunID(time.Date(2026, 7, 2, 2, 0, 0, 0, time.UTC))

			writeRun(older, []rawsink.Row{{"a": float64(1)}}, 1)
			_, err := val.ValidatePartition(ctx, key, older)
			Expect(err).NotTo(HaveOccurred())

			writeRun(newer, []rawsink.Row{{"a": float64(1)}, {"a": float64(2)}}, 2)
			state, err := val.ValidatePartition(ctx, key, newer)
			Expect(err).NotTo(HaveOccurred())

			Expect(*state.CurrentRunID).To(Equal(string(newer)))
			Expect(*state.RecordCount).To(Equal(int64(2)))
		})

		It("should increment attempt_count on every outcome", func() {
			runID := partition.NewRunID(time.Date(2026, 7, 2, 1, 0, 0, 0, time.UTC))
			writeRun(runID, []rawsink.Row{{"a": float64(1)}}, 1)

			first, err := val.ValidatePartition(ctx, key, runID)
			Expect(err).NotTo(HaveOccurred())
			Expect(*first.AttemptCount).To(Equal(1))

			second, err := val.ValidatePartition(ctx, key, runID)
			Expect(err).NotTo(HaveOccurred())
			Expect(*second.AttemptCount).To(Equal(2))
		})

		It("should not clear a lingering error_message on a later success", func() {
			badRunID := partition.NewRunID(time.Date(2026, 7, 2, 1, 0, 0, 0, time.UTC))
			writeRun(badRunID, []rawsink.Row{{"a": float64(1)}}, 5)
			failed, err := val.ValidatePartition(ctx, key, badRunID)
			Expect(err).NotTo(HaveOccurred())
			Expect(failed.Status).To(Equal(statestore.StatusFailed))

			goodRunID := partition.NewRunID(time.Date(2026, 7, 2, 2, 0, 0, 0, time.UTC))
			writeRun(goodRunID, []rawsink.Row{{"a": float64(1)}}, 1)
			success, err := val.ValidatePartition(ctx, key, goodRunID)
			Expect(err).NotTo(HaveOccurred())

			Expect(success.Status).To(Equal(statestore.StatusSuccess))
			Expect(success.ErrorMessage).NotTo(BeNil())
			Expect(*success.ErrorMessage).To(ContainSubstring("Record count mismatch"))
		})
	})
})
