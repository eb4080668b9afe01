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
	stderrors "errors"
	"fmt"

	"github.com/spf13/cobra"

	pipelineerrors "github.com/jordigilh/gads-etl/internal/errors"
	"github.com/jordigilh/gads-etl/pkg/controlplane"
	"github.com/jordigilh/gads-etl/pkg/statestore"
)

func newStateCommand(newLogger loggerFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "State commands",
	}
	cmd.AddCommand(
		newStateInspectCommand(newLogger),
		newStateRetryCommand(newLogger),
		newStateMarkTerminalCommand(newLogger),
		newStateBackfillCommand(newLogger),
	)
	return cmd
}

type stateFilterFlags struct {
	status     string
	customerID string
	queryName  string
	since      string
	until      string
}

func (f *stateFilterFlags) register(cmd *cobra.Command, includeStatus bool) *stateFilterFlags {
	if includeStatus {
		cmd.Flags().StringVar(&f.status, "status", "", "filter by status (pending, success, failed)")
	}
	cmd.Flags().StringVar(&f.customerID, "customer-id", "", "filter by customer id")
	cmd.Flags().StringVar(&f.queryName, "query-name", "", "filter by query name")
	cmd.Flags().StringVar(&f.since, "since", "", "filter by logical date >= (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.until, "until", "", "filter by logical date <= (YYYY-MM-DD)")
	return f
}

func newStateInspectCommand(newLogger loggerFactory) *cobra.Command {
	var filters stateFilterFlags
	var limit int
	var format string
	var dbPath string

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Inspect current partition state without mutating anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !dbExists(dbPath) {
				fmt.Println(stateNotInitialized())
				return nil
			}
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

			rows, err := states.ListPartitionStates(cmd.Context(), statestore.ListFilter{
				Status: statestore.Status(filters.status), CustomerID: filters.customerID,
				QueryName: filters.queryName, Since: filters.since, Until: filters.until, Limit: limit,
			})
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				fmt.Println("No partition state records found.")
				return nil
			}
			if format == "json" {
				return printStateJSON(rows)
			}
			printStateTable(rows)
			return nil
		},
	}
	filters.register(cmd, true)
	cmd.Flags().IntVar(&limit, "limit", 0, "limit the number of rows returned")
	cmd.Flags().StringVar(&format, "format", "table", "output format: table or json")
	cmd.Flags().StringVar(&dbPath, "db-path", "data/state_store.db", "path to the partition state database")
	return cmd
}

func newStateRetryCommand(newLogger loggerFactory) *cobra.Command {
	var filters stateFilterFlags
	var dryRun, force, clearTerminal bool
	var dbPath string

	cmd := &cobra.Command{
		Use:   "retry",
		Short: "Requeue failed logical partitions by setting status to pending",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !dbExists(dbPath) {
				fmt.Println(stateNotInitialized())
				return nil
			}
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

			cp := controlplane.New(states, logger.Logger)
			result, err := cp.Retry(cmd.Context(), controlplane.RetryFilter{
				CustomerID: filters.customerID, QueryName: filters.queryName,
				Since: filters.since, Until: filters.until, Force: force,
			}, clearTerminal, dryRun)
			if err != nil {
				var pe *pipelineerrors.PipelineError
				if stderrors.As(err, &pe) && pe.Type == pipelineerrors.ErrorTypeOperatorGuard && pe.Details == "" {
					return reportOperatorGuard(cmd, pe)
				}
				return err
			}
			if len(result.Retried) == 0 && len(result.TerminalBlocked) == 0 {
				fmt.Println("No failed partitions match the provided filters.")
				return nil
			}
			if len(result.Retried) == 0 {
				fmt.Println("No eligible partitions to retry (terminal or already pending).")
				return nil
			}

			action := "Executing"
			if dryRun {
				action = "Dry-run"
			}
			fmt.Printf("%s retry for %d partition(s) [filters: customer=%s, query=%s, since=%s, until=%s, force=%v, clear_terminal=%v]\n",
				action, len(result.Retried), filters.customerID, filters.queryName, filters.since, filters.until, force, clearTerminal)
			for _, s := range result.Retried {
				fmt.Printf("%s %s %s attempt_count=%s\n", s.CustomerID, s.QueryName, s.LogicalDate, formatOptionalInt(s.AttemptCount))
			}
			if len(result.TerminalBlocked) > 0 && !clearTerminal {
				fmt.Printf("%d partition(s) blocked due to terminal state. Use --clear-terminal to override.\n", len(result.TerminalBlocked))
			}
			if result.Failures > 0 {
				return fmt.Errorf("%d partition(s) failed to update", result.Failures)
			}
			return nil
		},
	}
	filters.register(cmd, false)
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would change without mutating anything")
	cmd.Flags().BoolVar(&force, "force", false, "bypass the unfiltered/threshold confirmation guard")
	cmd.Flags().BoolVar(&clearTerminal, "clear-terminal", false, "also retry partitions previously marked terminal, clearing the marker")
	cmd.Flags().StringVar(&dbPath, "db-path", "data/state_store.db", "path to the partition state database")
	return cmd
}

func newStateMarkTerminalCommand(newLogger loggerFactory) *cobra.Command {
	var filters stateFilterFlags
	var dryRun, force bool
	var dbPath string

	cmd := &cobra.Command{
		Use:   "mark-terminal",
		Short: "Mark failed logical partitions as terminal (no automatic retries)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !dbExists(dbPath) {
				fmt.Println(stateNotInitialized())
				return nil
			}
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

			cp := controlplane.New(states, logger.Logger)
			result, err := cp.MarkTerminal(cmd.Context(), controlplane.RetryFilter{
				CustomerID: filters.customerID, QueryName: filters.queryName,
				Since: filters.since, Until: filters.until, Force: force,
			}, dryRun)
			if err != nil {
				var pe *pipelineerrors.PipelineError
				if stderrors.As(err, &pe) && pe.Type == pipelineerrors.ErrorTypeOperatorGuard && pe.Details == "" {
					return reportOperatorGuard(cmd, pe)
				}
				return err
			}
			if len(result.Marked) == 0 && len(result.AlreadyTerminal) == 0 {
				fmt.Println("No failed partitions match the provided filters.")
				return nil
			}
			if len(result.Marked) == 0 {
				fmt.Println("All selected partitions are already terminal.")
				return nil
			}

			action := "Executing"
			if dryRun {
				action = "Dry-run"
			}
			fmt.Printf("%s mark-terminal for %d partition(s) [filters: customer=%s, query=%s, since=%s, until=%s, force=%v]\n",
				action, len(result.Marked), filters.customerID, filters.queryName, filters.since, filters.until, force)
			for _, s := range result.Marked {
				fmt.Printf("%s %s %s attempt_count=%s\n", s.CustomerID, s.QueryName, s.LogicalDate, formatOptionalInt(s.AttemptCount))
			}
			if result.Failures > 0 {
				return fmt.Errorf("%d partition(s) failed to update", result.Failures)
			}
			return nil
		},
	}
	filters.register(cmd, false)
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would change without mutating anything")
	cmd.Flags().BoolVar(&force, "force", false, "bypass the unfiltered/threshold confirmation guard")
	cmd.Flags().StringVar(&dbPath, "db-path", "data/state_store.db", "path to the partition state database")
	return cmd
}

func newStateBackfillCommand(newLogger loggerFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Backfill control-plane commands",
	}
	cmd.AddCommand(newStateBackfillEnqueueCommand(newLogger))
	return cmd
}

func newStateBackfillEnqueueCommand(newLogger loggerFactory) *cobra.Command {
	var customerID, queryName, since, until string
	var dryRun, forcePending, force bool
	var dbPath string

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Enqueue historical logical partitions as pending",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !dbExists(dbPath) {
				fmt.Println(stateNotInitialized())
				return nil
			}
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

			cp := controlplane.New(states, logger.Logger)
			result, err := cp.Backfill(cmd.Context(), controlplane.BackfillRequest{
				Source: "google_ads", CustomerID: customerID, QueryName: queryName,
				Since: since, Until: until, ForcePending: forcePending, Force: force,
			}, dryRun)
			if err != nil {
				return err
			}

			verb := "Enqueueing"
			if dryRun {
				verb = "Dry-run"
			}
			fmt.Printf("%s backfill for customer=%s query=%s dates=%s..%s count=%d force_pending=%v\n",
				verb, customerID, queryName, since, until, len(result.Dates)+result.Skipped, forcePending)
			for _, date := range result.Dates {
				action := "Enqueueing"
				if dryRun {
					action = "Would enqueue"
				}
				fmt.Printf("%s %s %s %s\n", action, customerID, queryName, date)
			}
			fmt.Printf("Enqueued=%d skipped=%d failures=%d\n", result.Enqueued, result.Skipped, result.Failures)
			if result.Failures > 0 {
				return fmt.Errorf("%d partition(s) failed to enqueue", result.Failures)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&customerID, "customer-id", "", "customer id to backfill")
	cmd.Flags().StringVar(&queryName, "query-name", "", "query name to backfill")
	cmd.Flags().StringVar(&since, "since", "", "first logical date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&until, "until", "", "last logical date (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be enqueued without mutating anything")
	cmd.Flags().BoolVar(&forcePending, "force-pending", false, "overwrite existing state rows back to pending")
	cmd.Flags().BoolVar(&force, "force", false, "bypass the date-range threshold confirmation guard")
	_ = cmd.MarkFlagRequired("customer-id")
	_ = cmd.MarkFlagRequired("query-name")
	_ = cmd.MarkFlagRequired("since")
	_ = cmd.MarkFlagRequired("until")
	cmd.Flags().StringVar(&dbPath, "db-path", "data/state_store.db", "path to the partition state database")
	return cmd
}

func formatOptionalInt(n *int) string {
	if n == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *n)
}
