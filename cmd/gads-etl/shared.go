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
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	pipelineerrors "github.com/jordigilh/gads-etl/internal/errors"
	"github.com/jordigilh/gads-etl/internal/httpapi"
	"github.com/jordigilh/gads-etl/internal/metrics"
	"github.com/jordigilh/gads-etl/pkg/statestore"
)

// loggerFactory builds the root logger, deferred until a command actually
// runs so --log-level/--log-format are resolved from parsed flags.
type loggerFactory func() (*zapLoggerCloser, error)

type zapLoggerCloser struct {
	*zap.Logger
}

func (z *zapLoggerCloser) Close() error {
	return z.Sync()
}

// observabilityServer bundles the per-run metrics registry with the
// background /healthz + /metrics listener that optionally serves it.
type observabilityServer struct {
	Metrics *metrics.Registry
	stop    func(context.Context) error
}

// Close shuts down the background HTTP listener, if one was started. Safe
// to call on a server that never started one.
func (o *observabilityServer) Close() error {
	if o.stop == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return o.stop(ctx)
}

// startObservability builds a metrics registry for this invocation and, if
// addr is non-empty, serves it (alongside /healthz) over HTTP until Close is
// called. An empty addr still returns a working registry; it just isn't
// exposed over HTTP, matching "no business endpoints, metrics scraping is
// opt-in per run".
func startObservability(addr string, logger *zap.Logger) *observabilityServer {
	reg := prometheus.NewRegistry()
	mreg := metrics.NewRegistry(reg)
	srv := &observabilityServer{Metrics: mreg}
	if addr == "" {
		return srv
	}

	server := &http.Server{Addr: addr, Handler: httpapi.NewServer(reg)}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("observability server exited", zap.Error(err))
		}
	}()
	srv.stop = server.Shutdown
	return srv
}

// stateNotInitialized reports the CLI's standard message for a command
// that requires an existing state store database.
func stateNotInitialized() string {
	return "State store not initialized; no records found."
}

func dbExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// errSilentExit signals a non-zero exit for a failure whose message was
// already echoed to stdout by the command itself (an operator-guard
// refusal, matching the Python CLI's plain typer.echo + Exit(1)). main
// skips its usual stderr error print for it.
type errSilentExit struct{}

func (errSilentExit) Error() string { return "" }

// reportOperatorGuard prints an operator-guard refusal's message to stdout
// verbatim, matching the Python CLI's echo, and returns errSilentExit so
// cobra's own "Error:" line is suppressed (via cmd.SilenceErrors) while the
// process still exits non-zero.
func reportOperatorGuard(cmd *cobra.Command, pe *pipelineerrors.PipelineError) error {
	fmt.Println(pe.Message)
	cmd.SilenceErrors = true
	return errSilentExit{}
}

// printJSON marshals v with two-space indentation, matching the CLI's
// --format json output across every command.
func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// newTableWriter returns a tabwriter configured for the CLI's plain-table
// output, flushed by the caller after every row has been written.
func newTableWriter() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
}

func formatOptionalString(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}

func formatOptionalInt64(n *int64) string {
	if n == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *n)
}

func printStateTable(states []statestore.PartitionState) {
	w := newTableWriter()
	fmt.Fprintln(w, "source\tcustomer_id\tquery_name\tlogical_date\tstatus\tcurrent_run_id\trecord_count\tupdated_at")
	for _, s := range states {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			s.Source, s.CustomerID, s.QueryName, s.LogicalDate, s.Status,
			formatOptionalString(s.CurrentRunID), formatOptionalInt64(s.RecordCount),
			s.UpdatedAt.Format("2006-01-02T15:04:05Z"),
		)
	}
	w.Flush()
}

type stateJSONRow struct {
	Source        string  `json:"source"`
	CustomerID    string  `json:"customer_id"`
	QueryName     string  `json:"query_name"`
	LogicalDate   string  `json:"logical_date"`
	Status        string  `json:"status"`
	CurrentRunID  *string `json:"current_run_id"`
	SchemaVersion *string `json:"schema_version"`
	RecordCount   *int64  `json:"record_count"`
	UpdatedAt     string  `json:"updated_at"`
	ErrorMessage  *string `json:"error_message"`
	AttemptCount  *int    `json:"attempt_count"`
}

func printStateJSON(states []statestore.PartitionState) error {
	rows := make([]stateJSONRow, 0, len(states))
	for _, s := range states {
		rows = append(rows, stateJSONRow{
			Source: s.Source, CustomerID: s.CustomerID, QueryName: s.QueryName, LogicalDate: s.LogicalDate,
			Status: string(s.Status), CurrentRunID: s.CurrentRunID, SchemaVersion: s.SchemaVersion,
			RecordCount: s.RecordCount, UpdatedAt: s.UpdatedAt.Format("2006-01-02T15:04:05Z"),
			ErrorMessage: s.ErrorMessage, AttemptCount: s.AttemptCount,
		})
	}
	return printJSON(rows)
}
