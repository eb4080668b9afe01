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

package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/jordigilh/gads-etl/internal/config"
	"github.com/jordigilh/gads-etl/pkg/extractor"
	"github.com/jordigilh/gads-etl/pkg/rawsink"
	"github.com/jordigilh/gads-etl/pkg/runctx"
	"github.com/jordigilh/gads-etl/pkg/statestore"
	"github.com/jordigilh/gads-etl/pkg/validator"
)

func TestPipeline(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Pipeline Suite")
}

type fakeReportClient struct {
	fail bool
}

func (c *fakeReportClient) StreamReport(ctx context.Context, customerID, gaqlQuery string, fn func(extractor.ReportRow) error) error {
	if c.fail {
		return errClientFailed
	}
	return fn(extractor.ReportRow{"campaign": map[string]any{"id": float64(1)}, "metrics": map[string]any{"clicks": float64(5)}})
}

var errClientFailed = &clientFailedError{}

type clientFailedError struct{}

func (*clientFailedError) Error() string { return "client failed" }

func newTestConfig() *config.PipelineConfig {
	return &config.PipelineConfig{
		Metadata: config.MetadataConfig{LookbackDaysDaily: 2, CatchUpWindowDays: 30},
		Extractors: config.ExtractorsConfig{
			GoogleAds: config.GoogleAdsConfig{
				APIVersion:  "v17",
				CustomerIDs: []string{"123", "456"},
				AdsResourceQueries: []config.QueryDefinition{
					{Name: "campaign_performance", Entity: "campaign", DateColumn: "segments.date", Fields: []string{"campaign.id", "metrics.clicks"}},
				},
			},
		},
	}
}

var _ = Describe("Runner", func() {
	var (
		tempDir string
		states  *statestore.Repository
		sink    *rawsink.LocalSink
		ctx     context.Context
	)

	BeforeEach(func() {
		var err error
		tempDir, err = os.MkdirTemp("", "pipeline-test")
		Expect(err).NotTo(HaveOccurred())

		sink, err = rawsink.NewLocalSink(filepath.Join(tempDir, "raw"))
		Expect(err).NotTo(HaveOccurred())

		states, err = statestore.Open(filepath.Join(tempDir, "state.db"), zap.NewNop())
		Expect(err).NotTo(HaveOccurred())

		ctx = context.Background()
	})

	AfterEach(func() {
		Expect(states.Close()).To(Succeed())
		os.RemoveAll(tempDir)
	})

	It("should extract and validate every (query, customer) partition for the target date", func() {
		ext := extractor.New(&fakeReportClient{}, sink, "v17", zap.NewNop())
		val := validator.New(sink, states, zap.NewNop())
		runner := New(newTestConfig(), ext, val, zap.NewNop(), 4)

		run := runctx.Create()
		targetDate := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)

		result, err := runner.SyncDaily(ctx, run, targetDate, 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Attempted).To(Equal(2))
		Expect(result.Failed).To(Equal(0))

		state, err := states.GetPartitionState(ctx, extractor.SourceName, "123", "campaign_performance", "2026-07-30")
		Expect(err).NotTo(HaveOccurred())
		Expect(state).NotTo(BeNil())
		Expect(state.Status).To(Equal(statestore.StatusSuccess))
	})

	It("should count extraction failures without aborting the remaining jobs", func() {
		ext := extractor.New(&fakeReportClient{fail: true}, sink, "v17", zap.NewNop())
		val := validator.New(sink, states, zap.NewNop())
		runner := New(newTestConfig(), ext, val, zap.NewNop(), 4)

		run := runctx.Create()
		targetDate := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)

		result, err := runner.SyncDaily(ctx, run, targetDate, 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Attempted).To(Equal(2))
		Expect(result.Failed).To(Equal(2))
		Expect(result.Errors).To(HaveLen(2))
	})

	It("should fall back to the configured lookback and catch-up windows", func() {
		ext := extractor.New(&fakeReportClient{}, sink, "v17", zap.NewNop())
		val := validator.New(sink, states, zap.NewNop())
		runner := New(newTestConfig(), ext, val, zap.NewNop(), 4)

		run := runctx.Create()
		result, err := runner.HistoricalCatchUp(ctx, run, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Attempted).To(Equal(2))
	})
})
