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
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jordigilh/gads-etl/internal/config"
	"github.com/jordigilh/gads-etl/internal/googleads"
	"github.com/jordigilh/gads-etl/pkg/extractor"
	"github.com/jordigilh/gads-etl/pkg/pipeline"
	"github.com/jordigilh/gads-etl/pkg/rawsink"
	"github.com/jordigilh/gads-etl/pkg/runctx"
	"github.com/jordigilh/gads-etl/pkg/statestore"
	"github.com/jordigilh/gads-etl/pkg/validator"
)

func newDailyCommand(newLogger loggerFactory) *cobra.Command {
	var configPath string
	var stateDBPath string
	var rawSinkRoot string
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "daily",
		Short: "Run the daily incremental sync",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger()
			if err != nil {
				return err
			}
			defer logger.Close()

			run := runctx.Create()
			logger.Info("starting daily run", zap.String("run_id", string(run.RunID)))

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return runSweep(cmd.Context(), cfg, run, stateDBPath, rawSinkRoot, metricsAddr, logger.Logger, func(runner *pipeline.Runner) (*pipeline.RunResult, error) {
				return runner.SyncDaily(cmd.Context(), run, zeroTime(), 0)
			})
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to pipeline configuration YAML")
	cmd.Flags().StringVar(&stateDBPath, "db-path", "data/state_store.db", "path to the partition state database")
	cmd.Flags().StringVar(&rawSinkRoot, "raw-root", "data/raw", "root directory for the local raw sink")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve /healthz and /metrics on for this run (disabled when empty)")
	return cmd
}

func newCatchUpCommand(newLogger loggerFactory) *cobra.Command {
	var configPath string
	var stateDBPath string
	var rawSinkRoot string
	var days int
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "catch-up",
		Short: "Backfill a range of dates",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger()
			if err != nil {
				return err
			}
			defer logger.Close()

			run := runctx.Create()
			logger.Info("starting catch-up run", zap.String("run_id", string(run.RunID)), zap.Int("days", days))

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return runSweep(cmd.Context(), cfg, run, stateDBPath, rawSinkRoot, metricsAddr, logger.Logger, func(runner *pipeline.Runner) (*pipeline.RunResult, error) {
				return runner.HistoricalCatchUp(cmd.Context(), run, days)
			})
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to pipeline configuration YAML")
	cmd.Flags().StringVar(&stateDBPath, "db-path", "data/state_store.db", "path to the partition state database")
	cmd.Flags().StringVar(&rawSinkRoot, "raw-root", "data/raw", "root directory for the local raw sink")
	cmd.Flags().IntVar(&days, "days", 0, "override the default catch-up window (defaults to configuration)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve /healthz and /metrics on for this run (disabled when empty)")
	return cmd
}

func runSweep(ctx context.Context, cfg *config.PipelineConfig, run runctx.RunContext, stateDBPath, rawSinkRoot, metricsAddr string, logger *zap.Logger, invoke func(*pipeline.Runner) (*pipeline.RunResult, error)) error {
	states, err := statestore.Open(stateDBPath, logger)
	if err != nil {
		return err
	}
	defer states.Close()

	sink, err := rawsink.NewLocalSink(rawSinkRoot)
	if err != nil {
		return err
	}
	val := validator.New(sink, states, logger)

	creds, err := googleads.Load(ctx, "GOOGLE_ADS")
	if err != nil {
		return err
	}
	client := &unimplementedReportClient{credentials: creds}
	ext := extractor.New(client, sink, cfg.Extractors.GoogleAds.APIVersion, logger)

	observability := startObservability(metricsAddr, logger)
	defer observability.Close()
	ext.SetMetrics(observability.Metrics)
	val.SetMetrics(observability.Metrics)

	runner := pipeline.New(cfg, ext, val, logger, pipeline.DefaultMaxConcurrency)
	result, err := invoke(runner)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "Sweep complete | attempted=%d failed=%d\n", result.Attempted, result.Failed)
	if result.Failed > 0 {
		return fmt.Errorf("%d of %d partitions failed", result.Failed, result.Attempted)
	}
	return nil
}
