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

	"github.com/spf13/cobra"

	"github.com/jordigilh/gads-etl/pkg/partition"
	"github.com/jordigilh/gads-etl/pkg/rawsink"
	"github.com/jordigilh/gads-etl/pkg/statestore"
)

func newConsumeCommand(newLogger loggerFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "consume",
		Short: "Read-only consumer helpers",
	}
	cmd.AddCommand(newConsumePreviewCommand(newLogger))
	return cmd
}

type partitionPreview struct {
	Source      string        `json:"source"`
	CustomerID  string        `json:"customer_id"`
	QueryName   string        `json:"query_name"`
	LogicalDate string        `json:"logical_date"`
	RunID       string        `json:"run_id"`
	RecordCount int64         `json:"record_count"`
	SampleRows  []rawsink.Row `json:"sample_rows"`
}

func newConsumePreviewCommand(newLogger loggerFactory) *cobra.Command {
	var customerID, queryName, since, until string
	var limitPartitions, sampleRows int
	var format string
	var dbPath, sinkRoot string

	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Preview authoritative partitions without writing anywhere",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !dbExists(dbPath) {
				fmt.Println(stateNotInitialized())
				return fmt.Errorf("state store not initialized")
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
				Status: statestore.StatusSuccess, CustomerID: customerID, QueryName: queryName,
				Since: since, Until: until, Limit: limitPartitions,
			})
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				fmt.Println("No authoritative partitions found.")
				return nil
			}

			sink, err := rawsink.NewLocalSink(sinkRoot)
			if err != nil {
				return err
			}

			previews, err := collectPreviews(cmd.Context(), sink, rows, sampleRows)
			if err != nil {
				return err
			}
			if format == "json" {
				return printJSON(previews)
			}
			printPreviewTable(previews)
			return nil
		},
	}
	cmd.Flags().StringVar(&customerID, "customer-id", "", "filter by customer id")
	cmd.Flags().StringVar(&queryName, "query-name", "", "filter by query name")
	cmd.Flags().StringVar(&since, "since", "", "filter by logical date >= (YYYY-MM-DD)")
	cmd.Flags().StringVar(&until, "until", "", "filter by logical date <= (YYYY-MM-DD)")
	cmd.Flags().IntVar(&limitPartitions, "limit-partitions", 0, "limit the number of partitions previewed")
	cmd.Flags().IntVar(&sampleRows, "sample-rows", 5, "number of payload rows to sample per partition")
	cmd.Flags().StringVar(&format, "format", "table", "output format: table or json")
	cmd.Flags().StringVar(&dbPath, "db-path", "data/state_store.db", "path to the partition state database")
	cmd.Flags().StringVar(&sinkRoot, "raw-root", "data/raw", "root directory for the local raw sink")
	return cmd
}

func collectPreviews(ctx context.Context, sink *rawsink.LocalSink, states []statestore.PartitionState, sampleRows int) ([]partitionPreview, error) {
	var previews []partitionPreview
	for _, state := range states {
		if state.CurrentRunID == nil {
			continue
		}
		key := partition.Key{
			Source:      state.Source,
			CustomerID:  state.CustomerID,
			QueryName:   state.QueryName,
			LogicalDate: state.LogicalDate,
		}
		reader, err := sink.OpenPartition(ctx, key, partition.RunID(*state.CurrentRunID))
		if err != nil {
			return nil, err
		}

		var rows []rawsink.Row
		err = reader.IterPayloadRows(ctx, func(row rawsink.Row) error {
			if len(rows) >= sampleRows {
				return errSampleLimitReached
			}
			rows = append(rows, row)
			return nil
		})
		if err != nil && err != errSampleLimitReached {
			return nil, err
		}

		recordCount := int64(len(rows))
		if state.RecordCount != nil {
			recordCount = *state.RecordCount
		}
		previews = append(previews, partitionPreview{
			Source: key.Source, CustomerID: key.CustomerID, QueryName: key.QueryName, LogicalDate: key.LogicalDate,
			RunID: *state.CurrentRunID, RecordCount: recordCount, SampleRows: rows,
		})
	}
	return previews, nil
}

var errSampleLimitReached = fmt.Errorf("sample limit reached")

func printPreviewTable(previews []partitionPreview) {
	w := newTableWriter()
	fmt.Fprintln(w, "source\tcustomer_id\tquery_name\tlogical_date\trun_id\trecord_count\tsample_rows")
	for _, p := range previews {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\n",
			p.Source, p.CustomerID, p.QueryName, p.LogicalDate, p.RunID, p.RecordCount, len(p.SampleRows))
	}
	w.Flush()
}
