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

// Package controlplane implements the operator-facing mutations and
// read-only reports over partition state: retrying failed partitions,
// marking them terminal, enqueueing a historical backfill, and summarizing
// state, freshness, and retry patterns.
package controlplane

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	pipelineerrors "github.com/jordigilh/gads-etl/internal/errors"
	"github.com/jordigilh/gads-etl/pkg/statestore"
)

// RetryThreshold is the number of matched partitions above which Retry and
// MarkTerminal require --force (an operator confirmation in the CLI) to
// proceed.
const RetryThreshold = 20

// BackfillThreshold is the number of logical dates above which Backfill
// requires --force.
const BackfillThreshold = 100

const terminalMarker = "[terminal]"

// ControlPlane exposes the mutating and read-only operator operations over
// a partition state repository.
type ControlPlane struct {
	states *statestore.Repository
	logger *zap.Logger
	now    func() time.Time
}

// New constructs a ControlPlane.
func New(states *statestore.Repository, logger *zap.Logger) *ControlPlane {
	return &ControlPlane{states: states, logger: logger, now: time.Now}
}

// RetryFilter narrows which failed partitions Retry and MarkTerminal act on.
type RetryFilter struct {
	CustomerID string
	QueryName  string
	Since      string
	Until      string
	Force      bool
}

func (f RetryFilter) unfiltered() bool {
	return f.CustomerID == "" && f.QueryName == "" && f.Since == "" && f.Until == ""
}

// RetryResult reports what Retry did.
type RetryResult struct {
	Retried         []statestore.PartitionState
	TerminalBlocked []statestore.PartitionState
	Failures        int
}

// Retry requeues failed logical partitions by setting their status back to
// pending. Partitions carrying a [terminal] error_message are skipped
// unless clearTerminal is set. Unless filter.Force is set, Retry refuses an
// unfiltered selection of any size, and any selection larger than
// RetryThreshold; dryRun computes and returns the selection without
// mutating anything.
func (cp *ControlPlane) Retry(ctx context.Context, filter RetryFilter, clearTerminal, dryRun bool) (*RetryResult, error) {
	states, err := cp.states.ListPartitionStates(ctx, statestore.ListFilter{
		Status:     statestore.StatusFailed,
		CustomerID: filter.CustomerID,
		QueryName:  filter.QueryName,
		Since:      filter.Since,
		Until:      filter.Until,
	})
	if err != nil {
		return nil, err
	}
	if len(states) == 0 {
		return &RetryResult{}, nil
	}

	if filter.unfiltered() && !filter.Force {
		return nil, pipelineerrors.NewOperatorGuardError(
			"Refusing to retry everything without --force. Provide filters or use --force.",
		)
	}
	if len(states) > RetryThreshold && !filter.Force {
		return nil, pipelineerrors.NewOperatorGuardError(
			"retry selection exceeds threshold",
		).WithDetailsf("matched=%d threshold=%d; confirm or pass --force", len(states), RetryThreshold)
	}

	result := &RetryResult{}
	for _, state := range states {
		if state.ErrorMessage != nil && strings.Contains(*state.ErrorMessage, terminalMarker) && !clearTerminal {
			result.TerminalBlocked = append(result.TerminalBlocked, state)
			continue
		}
		result.Retried = append(result.Retried, state)
	}
	if len(result.Retried) == 0 || dryRun {
		return result, nil
	}

	for _, state := range result.Retried {
		next := state
		next.Status = statestore.StatusPending
		next.UpdatedAt = cp.now().UTC()
		if clearTerminal {
			next.ErrorMessage = nil
		}
		if err := cp.states.UpsertPartitionState(ctx, next); err != nil {
			result.Failures++
		}
	}
	return result, nil
}

// MarkTerminalResult reports what MarkTerminal did.
type MarkTerminalResult struct {
	Marked          []statestore.PartitionState
	AlreadyTerminal []statestore.PartitionState
	Failures        int
}

// MarkTerminal marks matched failed partitions as terminal, prefixing a
// [terminal] marker to their error_message so future Retry calls skip them
// by default. Subject to the same unfiltered/threshold guard as Retry.
func (cp *ControlPlane) MarkTerminal(ctx context.Context, filter RetryFilter, dryRun bool) (*MarkTerminalResult, error) {
	states, err := cp.states.ListPartitionStates(ctx, statestore.ListFilter{
		Status:     statestore.StatusFailed,
		CustomerID: filter.CustomerID,
		QueryName:  filter.QueryName,
		Since:      filter.Since,
		Until:      filter.Until,
	})
	if err != nil {
		return nil, err
	}
	if len(states) == 0 {
		return &MarkTerminalResult{}, nil
	}

	if filter.unfiltered() && !filter.Force {
		return nil, pipelineerrors.NewOperatorGuardError(
			"Refusing to mark all partitions terminal without --force. Provide filters or use --force.",
		)
	}
	if len(states) > RetryThreshold && !filter.Force {
		return nil, pipelineerrors.NewOperatorGuardError(
			"mark-terminal selection exceeds threshold",
		).WithDetailsf("matched=%d threshold=%d; confirm or pass --force", len(states), RetryThreshold)
	}

	result := &MarkTerminalResult{}
	for _, state := range states {
		if state.ErrorMessage != nil && strings.Contains(*state.ErrorMessage, terminalMarker) {
			result.AlreadyTerminal = append(result.AlreadyTerminal, state)
			continue
		}
		result.Marked = append(result.Marked, state)
	}
	if len(result.Marked) == 0 || dryRun {
		return result, nil
	}

	for _, state := range result.Marked {
		next := state
		next.Status = statestore.StatusFailed
		next.UpdatedAt = cp.now().UTC()
		msg := terminalMessage(state.ErrorMessage)
		next.ErrorMessage = &msg
		if err := cp.states.UpsertPartitionState(ctx, next); err != nil {
			result.Failures++
		}
	}
	return result, nil
}

func terminalMessage(previous *string) string {
	base := ""
	if previous != nil {
		base = *previous
	}
	if strings.Contains(base, terminalMarker) {
		return base
	}
	if base != "" {
		return terminalMarker + " " + base
	}
	return terminalMarker
}

// BackfillRequest enqueues every logical date in [Since, Until] for one
// (customer, query) pair as pending, unless a state row already exists and
// ForcePending is not set.
type BackfillRequest struct {
	Source       string
	CustomerID   string
	QueryName    string
	Since        string // YYYY-MM-DD
	Until        string // YYYY-MM-DD
	ForcePending bool
	Force        bool
}

// BackfillResult reports the outcome of one Backfill call.
type BackfillResult struct {
	Enqueued int
	Skipped  int
	Failures int
	Dates    []string
}

// Backfill enqueues historical logical partitions as pending. It refuses to
// proceed over a date range exceeding BackfillThreshold unless req.Force is
// set. Existing state rows are left untouched unless req.ForcePending.
func (cp *ControlPlane) Backfill(ctx context.Context, req BackfillRequest, dryRun bool) (*BackfillResult, error) {
	since, err := time.Parse("2006-01-02", req.Since)
	if err != nil {
		return nil, pipelineerrors.NewConfigError("invalid since date").WithDetails(err.Error())
	}
	until, err := time.Parse("2006-01-02", req.Until)
	if err != nil {
		return nil, pipelineerrors.NewConfigError("invalid until date").WithDetails(err.Error())
	}
	if since.After(until) {
		return nil, pipelineerrors.NewConfigError("since must be <= until")
	}

	var dates []string
	for d := since; !d.After(until); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d.Format("2006-01-02"))
	}

	if len(dates) > BackfillThreshold && !req.Force {
		return nil, pipelineerrors.NewOperatorGuardError(
			"backfill date range exceeds threshold",
		).WithDetailsf("count=%d threshold=%d; confirm or pass --force", len(dates), BackfillThreshold)
	}

	result := &BackfillResult{}
	for _, logicalDate := range dates {
		existing, err := cp.states.GetPartitionState(ctx, req.Source, req.CustomerID, req.QueryName, logicalDate)
		if err != nil {
			return nil, err
		}
		if existing != nil && !req.ForcePending {
			result.Skipped++
			continue
		}

		result.Enqueued++
		result.Dates = append(result.Dates, logicalDate)
		if dryRun {
			continue
		}

		state := statestore.PartitionState{
			Source:      req.Source,
			CustomerID:  req.CustomerID,
			QueryName:   req.QueryName,
			LogicalDate: logicalDate,
			Status:      statestore.StatusPending,
			UpdatedAt:   cp.now().UTC(),
		}
		if existing != nil {
			state.SchemaVersion = existing.SchemaVersion
			state.RecordCount = existing.RecordCount
			state.AttemptCount = existing.AttemptCount
			if req.ForcePending {
				state.CurrentRunID = existing.CurrentRunID
			}
		} else {
			zero := 0
			state.AttemptCount = &zero
		}
		if err := cp.states.UpsertPartitionState(ctx, state); err != nil {
			result.Failures++
		}
	}
	return result, nil
}

// StateSummary reports aggregate counts over every known partition.
type StateSummary struct {
	Total        int
	StatusCounts map[statestore.Status]int
	// DateRangesByQuery maps dateRangeKey(source, query_name) to [min, max]
	// logical dates. Keyed by a composed string, not [2]string, so the
	// summary stays JSON-marshalable end to end (encoding/json refuses map
	// keys that aren't strings, integers, or TextMarshalers).
	DateRangesByQuery map[string][2]string
	AttemptMin        int
	AttemptMax        int
	AttemptAvg        float64
	TopFailed         []statestore.PartitionState
	OldestFailed      *statestore.PartitionState
}

// dateRangeKey composes the DateRangesByQuery map key for a (source,
// query_name) pair.
func dateRangeKey(source, queryName string) string {
	return source + "|" + queryName
}

// ObserveState summarizes status counts, per-query date ranges, attempt
// statistics, and the topFailed most-retried failed partitions.
func (cp *ControlPlane) ObserveState(ctx context.Context, topFailed int) (*StateSummary, error) {
	states, err := cp.states.ListPartitionStates(ctx, statestore.ListFilter{})
	if err != nil {
		return nil, err
	}

	summary := &StateSummary{
		StatusCounts:      map[statestore.Status]int{statestore.StatusPending: 0, statestore.StatusSuccess: 0, statestore.StatusFailed: 0},
		DateRangesByQuery: map[string][2]string{},
		Total:             len(states),
	}
	if len(states) == 0 {
		return summary, nil
	}

	var attempts []int
	var failed []statestore.PartitionState
	for _, state := range states {
		summary.StatusCounts[state.Status]++
		key := dateRangeKey(state.Source, state.QueryName)
		rng, ok := summary.DateRangesByQuery[key]
		if !ok {
			rng = [2]string{state.LogicalDate, state.LogicalDate}
		} else {
			if state.LogicalDate < rng[0] {
				rng[0] = state.LogicalDate
			}
			if state.LogicalDate > rng[1] {
				rng[1] = state.LogicalDate
			}
		}
		summary.DateRangesByQuery[key] = rng

		attempt := 0
		if state.AttemptCount != nil {
			attempt = *state.AttemptCount
		}
		attempts = append(attempts, attempt)

		if state.Status == statestore.StatusFailed {
			failed = append(failed, state)
		}
	}

	summary.AttemptMin, summary.AttemptMax, summary.AttemptAvg = attemptStats(attempts)

	sort.Slice(failed, func(i, j int) bool {
		ai, aj := attemptOf(failed[i]), attemptOf(failed[j])
		if ai != aj {
			return ai > aj
		}
		if failed[i].CustomerID != failed[j].CustomerID {
			return failed[i].CustomerID < failed[j].CustomerID
		}
		if failed[i].QueryName != failed[j].QueryName {
			return failed[i].QueryName < failed[j].QueryName
		}
		return failed[i].LogicalDate < failed[j].LogicalDate
	})
	if topFailed > len(failed) {
		topFailed = len(failed)
	}
	summary.TopFailed = failed[:topFailed]

	if len(failed) > 0 {
		oldest := failed[0]
		for _, f := range failed[1:] {
			if f.UpdatedAt.Before(oldest.UpdatedAt) {
				oldest = f
			}
		}
		summary.OldestFailed = &oldest
	}
	return summary, nil
}

// FreshnessReport summarizes the logical date coverage and gaps for
// successful partitions of one (source, query_name) pair.
type FreshnessReport struct {
	Source          string
	QueryName       string
	Earliest        string
	Latest          string
	LagDays         int
	TotalSuccessful int
	Gaps            [][2]string
}

// ObserveFreshness reports, for every (source, query_name) with at least
// one successful partition, the earliest/latest logical date, lag against
// now, and any gaps in the otherwise-contiguous date coverage.
func (cp *ControlPlane) ObserveFreshness(ctx context.Context) ([]FreshnessReport, error) {
	states, err := cp.states.ListPartitionStates(ctx, statestore.ListFilter{Status: statestore.StatusSuccess})
	if err != nil {
		return nil, err
	}
	if len(states) == 0 {
		return nil, nil
	}

	grouped := map[[2]string]map[string]struct{}{}
	for _, state := range states {
		key := [2]string{state.Source, state.QueryName}
		set, ok := grouped[key]
		if !ok {
			set = map[string]struct{}{}
			grouped[key] = set
		}
		set[state.LogicalDate] = struct{}{}
	}

	keys := make([][2]string, 0, len(grouped))
	for key := range grouped {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i][0] != keys[j][0] {
			return keys[i][0] < keys[j][0]
		}
		return keys[i][1] < keys[j][1]
	})

	today := cp.now().UTC()
	var reports []FreshnessReport
	for _, key := range keys {
		dates := make([]string, 0, len(grouped[key]))
		for d := range grouped[key] {
			dates = append(dates, d)
		}
		sort.Strings(dates)

		earliest, latest := dates[0], dates[len(dates)-1]
		latestTime, _ := time.Parse("2006-01-02", latest)
		lagDays := int(today.Sub(latestTime).Hours() / 24)

		reports = append(reports, FreshnessReport{
			Source:          key[0],
			QueryName:       key[1],
			Earliest:        earliest,
			Latest:          latest,
			LagDays:         lagDays,
			TotalSuccessful: len(dates),
			Gaps:            findDateGaps(dates),
		})
	}
	return reports, nil
}

// findDateGaps returns the contiguous missing-date ranges between the
// first and last entry of sortedDates (which must be sorted and unique,
// formatted YYYY-MM-DD).
func findDateGaps(sortedDates []string) [][2]string {
	if len(sortedDates) < 2 {
		return nil
	}
	present := make(map[string]struct{}, len(sortedDates))
	for _, d := range sortedDates {
		present[d] = struct{}{}
	}

	current, _ := time.Parse("2006-01-02", sortedDates[0])
	end, _ := time.Parse("2006-01-02", sortedDates[len(sortedDates)-1])

	var gaps [][2]string
	for !current.After(end) {
		key := current.Format("2006-01-02")
		if _, ok := present[key]; ok {
			current = current.AddDate(0, 0, 1)
			continue
		}
		gapStart := current
		for !current.After(end) {
			if _, ok := present[current.Format("2006-01-02")]; ok {
				break
			}
			current = current.AddDate(0, 0, 1)
		}
		gapEnd := current.AddDate(0, 0, -1)
		gaps = append(gaps, [2]string{gapStart.Format("2006-01-02"), gapEnd.Format("2006-01-02")})
	}
	return gaps
}

// RetryReport summarizes retry/failure patterns across every partition.
type RetryReport struct {
	Total           int
	Failed          int
	Terminal        int
	RetryableFailed int
	AttemptMin      int
	AttemptMax      int
	AttemptAvg      float64
	Histogram       map[string]int
	TopPartitions   []statestore.PartitionState
	OldestFailed    *statestore.PartitionState
	NewestFailed    *statestore.PartitionState
}

// ObserveRetries summarizes retry and failure patterns: terminal vs.
// retryable failure counts, an attempt-count histogram, and the
// topPartitions most-retried partitions regardless of status.
func (cp *ControlPlane) ObserveRetries(ctx context.Context, topPartitions int) (*RetryReport, error) {
	states, err := cp.states.ListPartitionStates(ctx, statestore.ListFilter{})
	if err != nil {
		return nil, err
	}
	report := &RetryReport{
		Histogram: map[string]int{"1-2": 0, "3-5": 0, "6-10": 0, "10+": 0},
	}
	if len(states) == 0 {
		return report, nil
	}
	report.Total = len(states)

	var failed []statestore.PartitionState
	var terminal []statestore.PartitionState
	var attempts []int
	for _, state := range states {
		attempts = append(attempts, attemptOf(state))
		if state.Status == statestore.StatusFailed {
			failed = append(failed, state)
			if state.ErrorMessage != nil && strings.Contains(*state.ErrorMessage, terminalMarker) {
				terminal = append(terminal, state)
			}
		}
		bucketAttemptHistogram(report.Histogram, attemptOf(state))
	}
	report.Failed = len(failed)
	report.Terminal = len(terminal)
	report.RetryableFailed = len(failed) - len(terminal)
	report.AttemptMin, report.AttemptMax, report.AttemptAvg = attemptStats(attempts)

	sorted := append([]statestore.PartitionState{}, states...)
	sort.Slice(sorted, func(i, j int) bool {
		ai, aj := attemptOf(sorted[i]), attemptOf(sorted[j])
		if ai != aj {
			return ai > aj
		}
		iFailed := sorted[i].Status == statestore.StatusFailed
		jFailed := sorted[j].Status == statestore.StatusFailed
		if iFailed != jFailed {
			return iFailed
		}
		if sorted[i].CustomerID != sorted[j].CustomerID {
			return sorted[i].CustomerID < sorted[j].CustomerID
		}
		if sorted[i].QueryName != sorted[j].QueryName {
			return sorted[i].QueryName < sorted[j].QueryName
		}
		return sorted[i].LogicalDate < sorted[j].LogicalDate
	})
	if topPartitions > len(sorted) {
		topPartitions = len(sorted)
	}
	report.TopPartitions = sorted[:topPartitions]

	if len(failed) > 0 {
		oldest, newest := failed[0], failed[0]
		for _, f := range failed[1:] {
			if f.UpdatedAt.Before(oldest.UpdatedAt) {
				oldest = f
			}
			if f.UpdatedAt.After(newest.UpdatedAt) {
				newest = f
			}
		}
		report.OldestFailed = &oldest
		report.NewestFailed = &newest
	}
	return report, nil
}

func attemptOf(s statestore.PartitionState) int {
	if s.AttemptCount == nil {
		return 0
	}
	return *s.AttemptCount
}

func attemptStats(attempts []int) (min, max int, avg float64) {
	if len(attempts) == 0 {
		return 0, 0, 0
	}
	min, max = attempts[0], attempts[0]
	sum := 0
	for _, a := range attempts {
		if a < min {
			min = a
		}
		if a > max {
			max = a
		}
		sum += a
	}
	return min, max, float64(sum) / float64(len(attempts))
}

func bucketAttemptHistogram(histogram map[string]int, attempts int) {
	switch {
	case attempts <= 2:
		histogram["1-2"]++
	case attempts <= 5:
		histogram["3-5"]++
	case attempts <= 10:
		histogram["6-10"]++
	default:
		histogram["10+"]++
	}
}
