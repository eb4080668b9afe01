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
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/jordigilh/gads-etl/pkg/partition"
	"github.com/jordigilh/gads-etl/pkg/rawsink"
)

var _ = Describe("FilesystemCuratedSink", func() {
	var (
		tempDir string
		sink    *FilesystemCuratedSink
		key     partition.Key
		runID   partition.RunID
		ctx     context.Context
	)

	BeforeEach(func() {
		var err error
		tempDir, err = os.MkdirTemp("", "curated-sink-test")
		Expect(err).NotTo(HaveOccurred())

		sink, err = NewFilesystemCuratedSink(tempDir)
		Expect(err).NotTo(HaveOccurred())

		key = partition.Key{Source: "google_ads", CustomerID: "123", QueryName: "campaign_performance", LogicalDate: "2026-07-01"}
		runID = partition.NewRunID(time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC))
		ctx = context.Background()
	})

	AfterEach(func() {
		os.RemoveAll(tempDir)
	})

	It("should create the curated root under <root>/curated", func() {
		info, err := os.Stat(filepath.Join(tempDir, "curated"))
		Expect(err).NotTo(HaveOccurred())
		Expect(info.IsDir()).To(BeTrue())
	})

	It("should stage data.jsonl then metadata.json for a partition", func() {
		rows := []rawsink.Row{
			{"campaign_id": float64(1), "clicks": float64(10)},
			{"campaign_id": float64(2), "clicks": float64(20)},
		}
		Expect(sink.StagePartition(ctx, key, runID, rows, "v1", 2, "2026-07-01T12:00:00Z")).To(Succeed())

		runDir := filepath.Join(tempDir, "curated",
			"source=google_ads", "customer_id=123", "query_name=campaign_performance",
			"logical_date=2026-07-01", "run_id="+string(runID))

		data, err := os.ReadFile(filepath.Join(runDir, "data.jsonl"))
		Expect(err).NotTo(HaveOccurred())
		var decoded []map[string]any
		scanner := bufio.NewScanner(bytes.NewReader(data))
		for scanner.Scan() {
			if len(scanner.Bytes()) == 0 {
				continue
			}
			var row map[string]any
			Expect(json.Unmarshal(scanner.Bytes(), &row)).To(Succeed())
			decoded = append(decoded, row)
		}
		Expect(decoded).To(HaveLen(2))
		Expect(decoded[0]["campaign_id"]).To(BeNumerically("==", 1))
		Expect(decoded[1]["campaign_id"]).To(BeNumerically("==", 2))

		metadataBytes, err := os.ReadFile(filepath.Join(runDir, "metadata.json"))
		Expect(err).NotTo(HaveOccurred())
		var metadata map[string]any
		Expect(json.Unmarshal(metadataBytes, &metadata)).To(Succeed())
		Expect(metadata["record_count"]).To(BeNumerically("==", 2))
		Expect(metadata["schema_version"]).To(Equal("v1"))
	})

	It("should refuse to restage an already-finalized curated partition", func() {
		rows := []rawsink.Row{{"campaign_id": float64(1)}}
		Expect(sink.StagePartition(ctx, key, runID, rows, "v1", 1, "2026-07-01T12:00:00Z")).To(Succeed())

		err := sink.StagePartition(ctx, key, runID, rows, "v1", 1, "2026-07-01T13:00:00Z")
		Expect(err).To(HaveOccurred())
		Expect(stderrors.Is(err, rawsink.ErrAlreadyFinalized)).To(BeTrue())
	})

	It("should stage distinct run ids under separate directories", func() {
		later := partition.NewRunID(time.Date(2026, 7, 1, 13, 0, 0, 0, time.UTC))
		rows := []rawsink.Row{{"campaign_id": float64(1)}}

		Expect(sink.StagePartition(ctx, key, runID, rows, "v1", 1, "2026-07-01T12:00:00Z")).To(Succeed())
		Expect(sink.StagePartition(ctx, key, later, rows, "v1", 1, "2026-07-01T13:00:00Z")).To(Succeed())

		firstDir := filepath.Join(tempDir, "curated",
			"source=google_ads", "customer_id=123", "query_name=campaign_performance",
			"logical_date=2026-07-01", "run_id="+string(runID))
		secondDir := filepath.Join(tempDir, "curated",
			"source=google_ads", "customer_id=123", "query_name=campaign_performance",
			"logical_date=2026-07-01", "run_id="+string(later))

		Expect(firstDir).NotTo(Equal(secondDir))
		_, err := os.Stat(filepath.Join(firstDir, "metadata.json"))
		Expect(err).NotTo(HaveOccurred())
		_, err = os.Stat(filepath.Join(secondDir, "metadata.json"))
		Expect(err).NotTo(HaveOccurred())
	})
})
