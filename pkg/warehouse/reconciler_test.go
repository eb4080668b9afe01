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

package warehouse

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/jordigilh/gads-etl/pkg/statestore"
)

func TestWarehouse(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Warehouse Suite")
}

func strPtr(s string) *string { return &s }

var _ = Describe("Reconciler", func() {
	var (
		tempDir  string
		states   *statestore.Repository
		pointers *PointerStore
		recon    *Reconciler
	)

	BeforeEach(func() {
		var err error
		tempDir, err = os.MkdirTemp("", "reconciler-test")
		Expect(err).NotTo(HaveOccurred())

		states, err = statestore.Open(filepath.Join(tempDir, "state.db"), zap.NewNop())
		Expect(err).NotTo(HaveOccurred())

		pointers, err = OpenPointerStore(filepath.Join(tempDir, "pointers.db"))
		Expect(err).NotTo(HaveOccurred())

		recon = NewReconciler(states, pointers, zap.NewNop())
	})

	AfterEach(func() {
		Expect(states.Close()).To(Succeed())
		Expect(pointers.Close()).To(Succeed())
		os.RemoveAll(tempDir)
	})

	It("should load a pointer for a successful partition with no existing pointer", func() {
		ctx := context.Background()
		Expect(states.UpsertPartitionState(ctx, statestore.PartitionState{
			Source: "google_ads", CustomerID: "123", QueryName: "campaign_performance",
			LogicalDate: "2026-07-01", Status: statestore.StatusSuccess,
			CurrentRunID: strPtr("2026-07-02T01:00:00.000Z"), SchemaVersion: strPtr("v1"),
			UpdatedAt: time.Now().UTC(),
		})).To(Succeed())

		plan, err := recon.Run(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(plan.Load).To(HaveLen(1))
		Expect(plan.Replace).To(BeEmpty())
		Expect(plan.Demote).To(BeEmpty())

		pointer, err := pointers.GetPointer(ctx, "google_ads", "123", "campaign_performance", "2026-07-01")
		Expect(err).NotTo(HaveOccurred())
		Expect(pointer).NotTo(BeNil())
		Expect(pointer.RunID).To(Equal("2026-07-02T01:00:00.000Z"))
	})

	It("should replace a pointer whose run_id changed", func() {
		ctx := context.Background()
		Expect(pointers.UpsertPointer(ctx, Pointer{
			Source: "google_ads", CustomerID: "123", QueryName: "campaign_performance",
			LogicalDate: "2026-07-01", RunID: "2026-07-01T01:00:00.000Z", SchemaVersion: "v1", LoadedAt: "2026-07-01T02:00:00Z",
		})).To(Succeed())
		Expect(states.UpsertPartitionState(ctx, statestore.PartitionState{
			Source: "google_ads", CustomerID: "123", QueryName: "campaign_performance",
			LogicalDate: "2026-07-01", Status: statestore.StatusSuccess,
			CurrentRunID: strPtr("2026-07-02T01:00:00.000Z"), SchemaVersion: strPtr("v1"),
			UpdatedAt: time.Now().UTC(),
		})).To(Succeed())

		plan, err := recon.Run(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(plan.Replace).To(HaveLen(1))
		Expect(plan.Load).To(BeEmpty())

		pointer, err := pointers.GetPointer(ctx, "google_ads", "123", "campaign_performance", "2026-07-01")
		Expect(err).NotTo(HaveOccurred())
		Expect(pointer.RunID).To(Equal("2026-07-02T01:00:00.000Z"))
	})

	It("should demote a pointer whose partition is no longer successful", func() {
		ctx := context.Background()
		Expect(pointers.UpsertPointer(ctx, Pointer{
			Source: "google_ads", CustomerID: "123", QueryName: "campaign_performance",
			LogicalDate: "2026-07-01", RunID: "2026-07-01T01:00:00.000Z", SchemaVersion: "v1", LoadedAt: "2026-07-01T02:00:00Z",
		})).To(Succeed())

		plan, err := recon.Run(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(plan.Demote).To(HaveLen(1))

		pointer, err := pointers.GetPointer(ctx, "google_ads", "123", "campaign_performance", "2026-07-01")
		Expect(err).NotTo(HaveOccurred())
		Expect(pointer).To(BeNil())
	})

	It("should leave an up-to-date pointer untouched", func() {
		ctx := context.Background()
		Expect(states.UpsertPartitionState(ctx, statestore.PartitionState{
			Source: "google_ads", CustomerID: "123", QueryName: "campaign_performance",
			LogicalDate: "2026-07-01", Status: statestore.StatusSuccess,
			CurrentRunID: strPtr("2026-07-01T01:00:00.000Z"), SchemaVersion: strPtr("v1"),
			UpdatedAt: time.Now().UTC(),
		})).To(Succeed())
		Expect(pointers.UpsertPointer(ctx, Pointer{
			Source: "google_ads", CustomerID: "123", QueryName: "campaign_performance",
			LogicalDate: "2026-07-01", RunID: "2026-07-01T01:00:00.000Z", SchemaVersion: "v1", LoadedAt: "2026-07-01T02:00:00Z",
		})).To(Succeed())

		plan, err := recon.Run(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(plan.Load).To(BeEmpty())
		Expect(plan.Replace).To(BeEmpty())
		Expect(plan.Demote).To(BeEmpty())
	})
})
