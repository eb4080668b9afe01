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

// Package extractor pulls one logical partition's worth of report rows
// from an upstream report source, flattens them against a query's declared
// field list, and writes them through a raw sink.
package extractor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/itchyny/gojq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/jordigilh/gads-etl/internal/config"
	pipelineerrors "github.com/jordigilh/gads-etl/internal/errors"
	"github.com/jordigilh/gads-etl/internal/metrics"
	"github.com/jordigilh/gads-etl/pkg/partition"
	"github.com/jordigilh/gads-etl/pkg/rawsink"
)

var tracer = otel.Tracer("github.com/jordigilh/gads-etl/pkg/extractor")

// ReportRow is one row as handed back by a ReportClient: a nested
// structure (maps/slices/scalars) mirroring the upstream API's response
// shape before field-path flattening.
type ReportRow map[string]any

// ReportClient is the upstream report source. It is the one external
// collaborator this package depends on; its implementation (an actual
// Google Ads API client) lives outside this module.
type ReportClient interface {
	// StreamReport executes gaqlQuery for customerID and invokes fn once per
	// result row, in arrival order. fn's error aborts the stream.
	StreamReport(ctx context.Context, customerID, gaqlQuery string, fn func(ReportRow) error) error
}

// BuildGAQL renders the GAQL SELECT ... WHERE ... BETWEEN statement for a
// query definition over [start, end] (inclusive, formatted YYYY-MM-DD).
func BuildGAQL(query config.QueryDefinition, start, end time.Time) string {
	fields := strings.Join(query.Fields, ", ")
	return fmt.Sprintf(
		"SELECT %s FROM %s WHERE %s BETWEEN '%s' AND '%s'",
		fields, query.Entity, query.DateColumn,
		start.Format("2006-01-02"), end.Format("2006-01-02"),
	)
}

// fieldPath compiles a dotted query field ("metrics.clicks") into a gojq
// program that extracts it from a ReportRow, and the flattened column name
// ("metrics_clicks") it's written under.
type fieldPath struct {
	column string
	code   *gojq.Code
}

func compileFieldPaths(fields []string) ([]fieldPath, error) {
	paths := make([]fieldPath, 0, len(fields))
	for _, field := range fields {
		query, err := gojq.Parse("." + field)
		if err != nil {
			return nil, pipelineerrors.NewConfigError("invalid query field path").WithDetailsf("field=%s: %s", field, err)
		}
		code, err := gojq.Compile(query)
		if err != nil {
			return nil, pipelineerrors.NewConfigError("invalid query field path").WithDetailsf("field=%s: %s", field, err)
		}
		paths = append(paths, fieldPath{column: strings.ReplaceAll(field, ".", "_"), code: code})
	}
	return paths, nil
}

// flattenRow projects row onto query's declared fields, turning each
// dotted field path into a flat column ("metrics.clicks" ->
// "metrics_clicks"), matching the nested-attribute flattening the report
// API's client library otherwise does implicitly.
func flattenRow(paths []fieldPath, queryName string, row ReportRow) (rawsink.Row, error) {
	out := rawsink.Row{"__query_name": queryName}
	for _, p := range paths {
		iter := p.code.Run(map[string]any(row))
		v, ok := iter.Next()
		if !ok {
			out[p.column] = nil
			continue
		}
		if err, isErr := v.(error); isErr {
			return nil, pipelineerrors.NewValidationErrorf("field path extraction failed: %s", err)
		}
		out[p.column] = v
	}
	return out, nil
}

// Extractor pulls one logical partition at a time from client, flattens
// rows against a query definition, and commits them through sink using the
// write-payload-then-finalize protocol.
type Extractor struct {
	client     ReportClient
	sink       rawsink.Sink
	apiVersion string
	logger     *zap.Logger
	metrics    *metrics.Registry
}

const SourceName = "google_ads"

// New constructs an Extractor.
func New(client ReportClient, sink rawsink.Sink, apiVersion string, logger *zap.Logger) *Extractor {
	return &Extractor{client: client, sink: sink, apiVersion: apiVersion, logger: logger}
}

// SetMetrics attaches a metrics registry the Extractor reports extraction
// counts and durations to. Optional: a nil registry (the default) simply
// skips instrumentation.
func (e *Extractor) SetMetrics(reg *metrics.Registry) {
	e.metrics = reg
}

// ExtractPartition runs query for customerID over [start, end], writing
// every flattened row to the raw sink under (SourceName, customerID,
// query.Name, logicalDate) at runID, then finalizes the partition with its
// record count and query signature.
func (e *Extractor) ExtractPartition(ctx context.Context, query config.QueryDefinition, customerID, logicalDate string, start, end time.Time, runID partition.RunID, extractedAt time.Time) (err error) {
	ctx, span := tracer.Start(ctx, "extractor.ExtractPartition")
	defer span.End()

	key := partition.Key{Source: SourceName, CustomerID: customerID, QueryName: query.Name, LogicalDate: logicalDate}
	span.SetAttributes(
		attribute.String("gads_etl.partition.key", key.String()),
		attribute.String("gads_etl.partition.run_id", string(runID)),
	)

	startedAt := time.Now()
	defer func() {
		if e.metrics == nil {
			return
		}
		outcome := "success"
		if err != nil {
			outcome = "failure"
		}
		e.metrics.PartitionsExtracted.WithLabelValues(query.Name, outcome).Inc()
		e.metrics.ExtractionDuration.WithLabelValues(query.Name).Observe(time.Since(startedAt).Seconds())
	}()

	gaqlQuery := BuildGAQL(query, start, end)

	paths, err := compileFieldPaths(query.Fields)
	if err != nil {
		return err
	}

	writer, err := e.sink.WritePartition(ctx, key, runID)
	if err != nil {
		return err
	}

	if e.logger != nil {
		e.logger.Info("executing report query",
			zap.String("query_name", query.Name),
			zap.String("customer_id", customerID),
			zap.String("run_id", string(runID)),
		)
	}

	recordCount := 0
	streamErr := e.client.StreamReport(ctx, customerID, gaqlQuery, func(raw ReportRow) error {
		flat, err := flattenRow(paths, query.Name, raw)
		if err != nil {
			return err
		}
		if err := writer.WritePayloadRow(ctx, flat); err != nil {
			return err
		}
		recordCount++
		return nil
	})
	if streamErr != nil {
		return pipelineerrors.NewTransportError("stream report rows", streamErr)
	}

	metadata := rawsink.Metadata{
		"source":          key.Source,
		"customer_id":     key.CustomerID,
		"query_name":      key.QueryName,
		"logical_date":    key.LogicalDate,
		"run_id":          string(runID),
		"extracted_at":    string(partition.NewRunID(extractedAt)),
		"schema_version":  "v1",
		"record_count":    float64(recordCount),
		"api_version":     e.apiVersion,
		"query_signature": gaqlQuery,
	}
	return writer.Finalize(ctx, metadata)
}
