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

// Package validator assigns authority to raw partitions: it reads a
// finalized run back, checks its metadata against its payload, and decides
// whether it becomes (or remains) the partition's authoritative run.
package validator

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	pipelineerrors "github.com/jordigilh/gads-etl/internal/errors"
	"github.com/jordigilh/gads-etl/internal/metrics"
	"github.com/jordigilh/gads-etl/pkg/partition"
	"github.com/jordigilh/gads-etl/pkg/rawsink"
	"github.com/jordigilh/gads-etl/pkg/statestore"
)

var tracer = otel.Tracer("github.com/jordigilh/gads-etl/pkg/validator")

// Validator validates raw partitions and records the outcome in the
// partition state store.
type Validator struct {
	sink    rawsink.Sink
	states  *statestore.Repository
	logger  *zap.Logger
	now     func() time.Time
	metrics *metrics.Registry
}

// New constructs a Validator. now defaults to time.Now; tests may override
// it to pin the updated_at timestamp.
func New(sink rawsink.Sink, states *statestore.Repository, logger *zap.Logger) *Validator {
	return &Validator{sink: sink, states: states, logger: logger, now: time.Now}
}

// SetMetrics attaches a metrics registry the Validator reports outcome
// counts to. Optional: a nil registry (the default) skips instrumentation.
func (v *Validator) SetMetrics(reg *metrics.Registry) {
	v.metrics = reg
}

// ValidatePartition reads back the raw partition at (key, runID), checks
// its record count against its declared metadata, and upserts the
// partition's state row accordingly. It never returns an error for an
// invalid partition: a failed validation is a successful validator run that
// records a "failed" status.
func (v *Validator) ValidatePartition(ctx context.Context, key partition.Key, runID partition.RunID) (state *statestore.PartitionState, err error) {
	ctx, span := tracer.Start(ctx, "validator.ValidatePartition")
	defer span.End()
	span.SetAttributes(
		attribute.String("gads_etl.partition.key", key.String()),
		attribute.String("gads_etl.partition.run_id", string(runID)),
	)

	defer func() {
		if v.metrics == nil || state == nil {
			return
		}
		v.metrics.PartitionsValidated.WithLabelValues(key.QueryName, string(state.Status)).Inc()
	}()

	reader, err := v.sink.OpenPartition(ctx, key, runID)
	if err != nil {
		return v.recordFailure(ctx, key, "Partition not found: "+err.Error())
	}

	metadata, err := reader.ReadMetadata(ctx)
	if err != nil {
		return v.recordFailure(ctx, key, "Metadata read failed: "+err.Error())
	}

	var rowCount int
	if err := reader.IterPayloadRows(ctx, func(rawsink.Row) error {
		rowCount++
		return nil
	}); err != nil {
		return v.recordFailure(ctx, key, "Payload read failed: "+err.Error())
	}

	declaredCount := declaredRecordCount(metadata, rowCount)
	if declaredCount != rowCount {
		return v.recordFailure(ctx, key, pipelineerrors.NewValidationErrorf(
			"Record count mismatch: metadata=%d actual=%d", declaredCount, rowCount,
		).Message)
	}

	return v.recordSuccess(ctx, key, runID, int64(declaredCount))
}

func declaredRecordCount(metadata rawsink.Metadata, fallback int) int {
	raw, ok := metadata["record_count"]
	if !ok {
		return fallback
	}
	switch n := raw.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	case string:
		if parsed, err := strconv.Atoi(n); err == nil {
			return parsed
		}
	}
	return fallback
}

// compareRunIDs replicates the Python source's explicit three-way compare
// rather than relying on RunID.Before/After directly, so the authority
// branch below reads the same as the component it's grounded on.
func compareRunIDs(candidate, existing partition.RunID) int {
	switch {
	case candidate < existing:
		return -1
	case candidate > existing:
		return 1
	default:
		return 0
	}
}

func (v *Validator) recordSuccess(ctx context.Context, key partition.Key, runID partition.RunID, recordCount int64) (*statestore.PartitionState, error) {
	previous, err := v.fetchState(ctx, key)
	if err != nil {
		return nil, err
	}

	selectedRunID := runID
	selectedCount := recordCount
	schemaVersion := "v1"

	if previous != nil && previous.CurrentRunID != nil {
		if compareRunIDs(runID, partition.RunID(*previous.CurrentRunID)) < 0 {
			// Older run finished after a newer one; retain existing authority.
			selectedRunID = partition.RunID(*previous.CurrentRunID)
			if previous.RecordCount != nil {
				selectedCount = *previous.RecordCount
			}
			if previous.SchemaVersion != nil {
				schemaVersion = *previous.SchemaVersion
			}
		}
	}

	attempt := 1
	if previous != nil && previous.AttemptCount != nil {
		attempt = *previous.AttemptCount + 1
	}

	// error_message is intentionally not cleared here: a partition that
	// flips from failed to success keeps its last error text lingering on
	// the now-success row. This matches the behavior of the source this
	// was derived from; do not "fix" it by nil-ing error_message.
	var lingering *string
	if previous != nil {
		lingering = previous.ErrorMessage
	}

	runIDStr := string(selectedRunID)
	state := statestore.PartitionState{
		Source:        key.Source,
		CustomerID:    key.CustomerID,
		QueryName:     key.QueryName,
		LogicalDate:   key.LogicalDate,
		Status:        statestore.StatusSuccess,
		CurrentRunID:  &runIDStr,
		SchemaVersion: &schemaVersion,
		RecordCount:   &selectedCount,
		UpdatedAt:     v.now().UTC(),
		ErrorMessage:  lingering,
		AttemptCount:  &attempt,
	}
	if err := v.states.UpsertPartitionState(ctx, state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (v *Validator) recordFailure(ctx context.Context, key partition.Key, message string) (*statestore.PartitionState, error) {
	previous, err := v.fetchState(ctx, key)
	if err != nil {
		return nil, err
	}

	attempt := 1
	if previous != nil && previous.AttemptCount != nil {
		attempt = *previous.AttemptCount + 1
	}

	state := statestore.PartitionState{
		Source:       key.Source,
		CustomerID:   key.CustomerID,
		QueryName:    key.QueryName,
		LogicalDate:  key.LogicalDate,
		Status:       statestore.StatusFailed,
		UpdatedAt:    v.now().UTC(),
		ErrorMessage: &message,
		AttemptCount: &attempt,
	}
	if previous != nil {
		state.CurrentRunID = previous.CurrentRunID
		state.SchemaVersion = previous.SchemaVersion
		state.RecordCount = previous.RecordCount
	}
	if err := v.states.UpsertPartitionState(ctx, state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (v *Validator) fetchState(ctx context.Context, key partition.Key) (*statestore.PartitionState, error) {
	return v.states.GetPartitionState(ctx, key.Source, key.CustomerID, key.QueryName, key.LogicalDate)
}
