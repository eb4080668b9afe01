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

package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jordigilh/gads-etl/internal/cache"
	"github.com/jordigilh/gads-etl/pkg/controlplane"
	"github.com/jordigilh/gads-etl/pkg/statestore"
)

// observeCacheTTL is how long a cached observability report stays valid.
// These reports are read-only summaries, not authority: staleness only
// ever affects what an operator sees, never pipeline or control-plane
// behavior, so a short TTL is fine.
const observeCacheTTL = 30 * time.Second

func newObserveCommand(newLogger loggerFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "observe",
		Short: "Observability commands",
	}
	cmd.AddCommand(
		newObserveStateCommand(newLogger),
		newObserveFreshnessCommand(newLogger),
		newObserveRetriesCommand(newLogger),
	)
	return cmd
}

func newObserveStateCommand(newLogger loggerFactory) *cobra.Command {
	var dbPath string
	var topFailed int
	var cacheAddr string

	cmd := &cobra.Command{
		Use:   "state",
		Short: "Summarize pipeline state without mutating anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger()
			if err != nil {
				return err
			}
			defer logger.Close()

			states, err := statestore.Open(dbPath, logger.Logger)
			if err != nil {
				return err
			}
			defer states.Close()

			c := cache.New(cacheAddr, observeCacheTTL, logger.Logger)
			defer c.Close()

			cp := controlplane.New(states, logger.Logger)
			summary, err := cache.GetOrCompute(cmd.Context(), c, fmt.Sprintf("observe:state:%d", topFailed),
				func(ctx context.Context) (*controlplane.StateSummary, error) {
					return cp.ObserveState(ctx, topFailed)
				})
			if err != nil {
				return err
			}
			if summary.Total == 0 {
				fmt.Println("No partition state records found.")
				return nil
			}

			fmt.Printf("Total logical partitions: %d\n", summary.Total)
			fmt.Println("Status counts:")
			for _, status := range []statestore.Status{statestore.StatusPending, statestore.StatusSuccess, statestore.StatusFailed} {
				fmt.Printf("  %s: %d\n", status, summary.StatusCounts[status])
			}

			fmt.Println("Date ranges by (source, query_name):")
			keys := make([]string, 0, len(summary.DateRangesByQuery))
			for k := range summary.DateRangesByQuery {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				rng := summary.DateRangesByQuery[k]
				source, queryName, _ := strings.Cut(k, "|")
				fmt.Printf("  %s / %s :: %s -> %s\n", source, queryName, rng[0], rng[1])
			}

			fmt.Printf("Attempt counts: min=%d max=%d avg=%.2f\n", summary.AttemptMin, summary.AttemptMax, summary.AttemptAvg)

			fmt.Printf("Top %d failed partitions:\n", len(summary.TopFailed))
			if len(summary.TopFailed) == 0 {
				fmt.Println("  (none)")
			}
			for _, s := range summary.TopFailed {
				fmt.Printf("  %s %s %s attempts=%s updated_at=%s\n",
					s.CustomerID, s.QueryName, s.LogicalDate, formatOptionalInt(s.AttemptCount), s.UpdatedAt.Format("2006-01-02T15:04:05Z"))
			}

			if summary.OldestFailed != nil {
				f := summary.OldestFailed
				fmt.Printf("Oldest failed partition: %s %s %s updated_at=%s\n", f.CustomerID, f.QueryName, f.LogicalDate, f.UpdatedAt.Format("2006-01-02T15:04:05Z"))
			} else {
				fmt.Println("Oldest failed partition: (none)")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db-path", "data/state_store.db", "path to the partition state database")
	cmd.Flags().IntVar(&topFailed, "top-failed", 10, "top N failed partitions by attempts")
	cmd.Flags().StringVar(&cacheAddr, "cache-addr", "", "redis address caching this report (disabled when empty)")
	return cmd
}

func newObserveFreshnessCommand(newLogger loggerFactory) *cobra.Command {
	var dbPath string
	var cacheAddr string

	cmd := &cobra.Command{
		Use:   "freshness",
		Short: "Report freshness and gaps for successful partitions",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger()
			if err != nil {
				return err
			}
			defer logger.Close()

			states, err := statestore.Open(dbPath, logger.Logger)
			if err != nil {
				return err
			}
			defer states.Close()

			c := cache.New(cacheAddr, observeCacheTTL, logger.Logger)
			defer c.Close()

			cp := controlplane.New(states, logger.Logger)
			reports, err := cache.GetOrCompute(cmd.Context(), c, "observe:freshness",
				func(ctx context.Context) ([]controlplane.FreshnessReport, error) {
					return cp.ObserveFreshness(ctx)
				})
			if err != nil {
				return err
			}
			if len(reports) == 0 {
				fmt.Println("No successful partitions found.")
				return nil
			}

			for _, r := range reports {
				fmt.Printf("%s / %s\n", r.Source, r.QueryName)
				fmt.Printf("  earliest: %s\n", r.Earliest)
				fmt.Printf("  latest: %s (lag_days=%d)\n", r.Latest, r.LagDays)
				fmt.Printf("  total_successful_partitions: %d\n", r.TotalSuccessful)
				if len(r.Gaps) == 0 {
					fmt.Println("  gaps: none")
					continue
				}
				fmt.Println("  gaps:")
				for _, g := range r.Gaps {
					if g[0] == g[1] {
						fmt.Printf("    %s\n", g[0])
					} else {
						fmt.Printf("    %s -> %s\n", g[0], g[1])
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db-path", "data/state_store.db", "path to the partition state database")
	cmd.Flags().StringVar(&cacheAddr, "cache-addr", "", "redis address caching this report (disabled when empty)")
	return cmd
}

func newObserveRetriesCommand(newLogger loggerFactory) *cobra.Command {
	var dbPath string
	var topPartitions int
	var cacheAddr string

	cmd := &cobra.Command{
		Use:   "retries",
		Short: "Summarize retry and failure patterns without mutating state",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger()
			if err != nil {
				return err
			}
			defer logger.Close()

			states, err := statestore.Open(dbPath, logger.Logger)
			if err != nil {
				return err
			}
			defer states.Close()

			c := cache.New(cacheAddr, observeCacheTTL, logger.Logger)
			defer c.Close()

			cp := controlplane.New(states, logger.Logger)
			report, err := cache.GetOrCompute(cmd.Context(), c, fmt.Sprintf("observe:retries:%d", topPartitions),
				func(ctx context.Context) (*controlplane.RetryReport, error) {
					return cp.ObserveRetries(ctx, topPartitions)
				})
			if err != nil {
				return err
			}
			if report.Total == 0 {
				fmt.Println("No partition state records found.")
				return nil
			}

			fmt.Println("Retry overview")
			fmt.Printf("  total partitions: %d\n", report.Total)
			fmt.Printf("  failed partitions: %d\n", report.Failed)
			fmt.Printf("  terminal partitions: %d\n", report.Terminal)
			fmt.Printf("  retryable failed partitions: %d\n", report.RetryableFailed)
			fmt.Printf("  attempt counts: min=%d max=%d avg=%.2f\n", report.AttemptMin, report.AttemptMax, report.AttemptAvg)

			fmt.Println("  attempt histogram:")
			for _, label := range []string{"1-2", "3-5", "6-10", "10+"} {
				fmt.Printf("    %s: %d\n", label, report.Histogram[label])
			}

			fmt.Printf("Top %d partitions by attempts:\n", len(report.TopPartitions))
			for _, s := range report.TopPartitions {
				fmt.Printf("  %s %s %s attempts=%s status=%s updated_at=%s\n",
					s.CustomerID, s.QueryName, s.LogicalDate, formatOptionalInt(s.AttemptCount), s.Status, s.UpdatedAt.Format("2006-01-02T15:04:05Z"))
			}

			if report.OldestFailed != nil {
				f := report.OldestFailed
				fmt.Printf("Oldest failed partition: %s %s %s updated_at=%s\n", f.CustomerID, f.QueryName, f.LogicalDate, f.UpdatedAt.Format("2006-01-02T15:04:05Z"))
				n := report.NewestFailed
				fmt.Printf("Newest failed partition: %s %s %s updated_at=%s\n", n.CustomerID, n.QueryName, n.LogicalDate, n.UpdatedAt.Format("2006-01-02T15:04:05Z"))
			} else {
				fmt.Println("No failed partitions present.")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db-path", "data/state_store.db", "path to the partition state database")
	cmd.Flags().IntVar(&topPartitions, "top", 10, "top N partitions by attempt count")
	cmd.Flags().StringVar(&cacheAddr, "cache-addr", "", "redis address caching this report (disabled when empty)")
	return cmd
}
