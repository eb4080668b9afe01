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

// Package pipeline drives the daily and catch-up extraction sweeps: the
// cross product of configured queries and customer IDs for one logical
// date, fanned out with bounded parallelism, followed by validation of
// every partition it wrote.
package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/jordigilh/gads-etl/internal/config"
	"github.com/jordigilh/gads-etl/pkg/extractor"
	"github.com/jordigilh/gads-etl/pkg/partition"
	"github.com/jordigilh/gads-etl/pkg/runctx"
	"github.com/jordigilh/gads-etl/pkg/validator"
)

// DefaultMaxConcurrency bounds how many (query, customer) extractions run
// at once, independent of how large the cross product is.
const DefaultMaxConcurrency = 8

// Runner coordinates extraction and validation for one invocation of the
// pipeline.
type Runner struct {
	cfg         *config.PipelineConfig
	extractor   *extractor.Extractor
	validator   *validator.Validator
	logger      *zap.Logger
	maxParallel int64
	now         func() time.Time
}

// New constructs a Runner. maxParallel <= 0 falls back to
// DefaultMaxConcurrency.
func New(cfg *config.PipelineConfig, ext *extractor.Extractor, val *validator.Validator, logger *zap.Logger, maxParallel int64) *Runner {
	if maxParallel <= 0 {
		maxParallel = DefaultMaxConcurrency
	}
	return &Runner{cfg: cfg, extractor: ext, validator: val, logger: logger, maxParallel: maxParallel, now: time.Now}
}

// partitionJob is one (query, customer) extraction to perform for one
// logical date window.
type partitionJob struct {
	query       config.QueryDefinition
	customerID  string
	logicalDate string
	start       time.Time
	end         time.Time
}

// RunResult tallies successes and failures across one sweep. A failure
// here means the extraction or validation call itself errored (a
// transport or config failure) — a validated-but-failed partition (a
// record count mismatch) is not a Runner failure, since the validator
// recorded that outcome in partition state as designed.
type RunResult struct {
	Attempted int
	Failed    int
	Errors    []error
}

// SyncDaily extracts and validates every (query, customer) partition for
// targetDate (default: today), looking back lookbackDays (default:
// cfg.Metadata.LookbackDaysDaily) from targetDate.
func (r *Runner) SyncDaily(ctx context.Context, run runctx.RunContext, targetDate time.Time, lookbackDays int) (*RunResult, error) {
	if targetDate.IsZero() {
		targetDate = r.now().UTC()
	}
	if lookbackDays <= 0 {
		lookbackDays = r.cfg.Metadata.LookbackDaysDaily
	}
	start := targetDate.AddDate(0, 0, -lookbackDays)
	logicalDate := targetDate.Format("2006-01-02")

	var jobs []partitionJob
	for _, query := range r.cfg.Extractors.GoogleAds.AdsResourceQueries {
		for _, customerID := range r.cfg.Extractors.GoogleAds.CustomerIDs {
			jobs = append(jobs, partitionJob{
				query:       query,
				customerID:  customerID,
				logicalDate: logicalDate,
				start:       start,
				end:         targetDate,
			})
		}
	}

	if r.logger != nil {
		r.logger.Info("running daily sync",
			zap.String("run_id", string(run.RunID)),
			zap.String("trace_id", run.TraceID),
			zap.Time("start", start),
			zap.Time("end", targetDate),
			zap.Int("job_count", len(jobs)),
		)
	}

	return r.runJobs(ctx, run, jobs)
}

// HistoricalCatchUp runs SyncDaily anchored at today, with a lookback of
// windowDays (default: cfg.Metadata.CatchUpWindowDays). Each logical
// partition written still carries today's date: the catch-up widens the
// query's date range, it does not enumerate one partition per missed day.
// Operators needing per-day backfill use the backfill enqueue path instead.
func (r *Runner) HistoricalCatchUp(ctx context.Context, run runctx.RunContext, windowDays int) (*RunResult, error) {
	if windowDays <= 0 {
		windowDays = r.cfg.Metadata.CatchUpWindowDays
	}
	return r.SyncDaily(ctx, run, r.now().UTC(), windowDays)
}

func (r *Runner) runJobs(ctx context.Context, run runctx.RunContext, jobs []partitionJob) (*RunResult, error) {
	sem := semaphore.NewWeighted(r.maxParallel)
	result := &RunResult{}
	errCh := make(chan error, len(jobs))

	for _, job := range jobs {
		if err := sem.Acquire(ctx, 1); err != nil {
			return result, err
		}
		go func(job partitionJob) {
			defer sem.Release(1)
			errCh <- r.runOne(ctx, run, job)
		}(job)
	}

	if err := sem.Acquire(ctx, r.maxParallel); err != nil {
		return result, err
	}
	sem.Release(r.maxParallel)
	close(errCh)

	for err := range errCh {
		result.Attempted++
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, err)
		}
	}
	return result, nil
}

func (r *Runner) runOne(ctx context.Context, run runctx.RunContext, job partitionJob) error {
	key := partition.Key{
		Source:      extractor.SourceName,
		CustomerID:  job.customerID,
		QueryName:   job.query.Name,
		LogicalDate: job.logicalDate,
	}

	if err := r.extractor.ExtractPartition(ctx, job.query, job.customerID, job.logicalDate, job.start, job.end, run.RunID, r.now().UTC()); err != nil {
		if r.logger != nil {
			r.logger.Error("extraction failed", zap.String("partition", key.String()), zap.Error(err))
		}
		return err
	}

	if _, err := r.validator.ValidatePartition(ctx, key, run.RunID); err != nil {
		if r.logger != nil {
			r.logger.Error("validation failed", zap.String("partition", key.String()), zap.Error(err))
		}
		return err
	}
	return nil
}
