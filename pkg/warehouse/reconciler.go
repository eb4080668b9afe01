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

package warehouse

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/jordigilh/gads-etl/internal/metrics"
	"github.com/jordigilh/gads-etl/pkg/statestore"
)

var tracer = otel.Tracer("github.com/jordigilh/gads-etl/pkg/warehouse")

// LogicalTarget is a logical partition that the reconciler has decided
// needs a warehouse pointer load or replace.
type LogicalTarget struct {
	Source        string
	CustomerID    string
	QueryName     string
	LogicalDate   string
	RunID         string
	SchemaVersion string
}

// ReconciliationPlan is the immutable outcome of diffing partition state
// against warehouse pointers.
type ReconciliationPlan struct {
	Load    []LogicalTarget
	Replace []LogicalTarget
	Demote  []Pointer
}

// Reconciler diffs PartitionState(status=success) against WarehousePointer
// rows and publishes/demotes pointers accordingly. The pointer flip is the
// commit: there is no separate curated-data commit step in this plan.
type Reconciler struct {
	states   *statestore.Repository
	pointers *PointerStore
	logger   *zap.Logger
	now      func() time.Time
	metrics  *metrics.Registry
}

// NewReconciler constructs a Reconciler.
func NewReconciler(states *statestore.Repository, pointers *PointerStore, logger *zap.Logger) *Reconciler {
	return &Reconciler{states: states, pointers: pointers, logger: logger, now: time.Now}
}

// SetMetrics attaches a metrics registry the Reconciler reports plan sizes
// to. Optional: a nil registry (the default) skips instrumentation.
func (r *Reconciler) SetMetrics(reg *metrics.Registry) {
	r.metrics = reg
}

// Run computes a reconciliation plan, publishes loads/replaces, demotes
// stale pointers, and returns the plan that was executed.
func (r *Reconciler) Run(ctx context.Context) (*ReconciliationPlan, error) {
	ctx, span := tracer.Start(ctx, "warehouse.Reconciler.Run")
	defer span.End()

	plan, err := r.reconcile(ctx)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("gads_etl.reconciler.load_count", len(plan.Load)),
		attribute.Int("gads_etl.reconciler.replace_count", len(plan.Replace)),
		attribute.Int("gads_etl.reconciler.demote_count", len(plan.Demote)),
	)
	if r.metrics != nil {
		r.metrics.ReconciliationPlans.WithLabelValues("load").Add(float64(len(plan.Load)))
		r.metrics.ReconciliationPlans.WithLabelValues("replace").Add(float64(len(plan.Replace)))
		r.metrics.ReconciliationPlans.WithLabelValues("demote").Add(float64(len(plan.Demote)))
	}

	if err := r.publish(ctx, plan); err != nil {
		return nil, err
	}
	if err := r.demote(ctx, plan); err != nil {
		return nil, err
	}
	return plan, nil
}

func (r *Reconciler) reconcile(ctx context.Context) (*ReconciliationPlan, error) {
	states, err := r.states.ListPartitionStates(ctx, statestore.ListFilter{Status: statestore.StatusSuccess})
	if err != nil {
		return nil, err
	}

	plan := &ReconciliationPlan{}
	successKeys := map[string]struct{}{}

	for _, state := range states {
		if state.CurrentRunID == nil {
			continue
		}
		key := state.Source + "|" + state.CustomerID + "|" + state.QueryName + "|" + state.LogicalDate
		successKeys[key] = struct{}{}

		pointer, err := r.pointers.GetPointer(ctx, state.Source, state.CustomerID, state.QueryName, state.LogicalDate)
		if err != nil {
			return nil, err
		}

		schemaVersion := ""
		if state.SchemaVersion != nil {
			schemaVersion = *state.SchemaVersion
		}
		target := LogicalTarget{
			Source:        state.Source,
			CustomerID:    state.CustomerID,
			QueryName:     state.QueryName,
			LogicalDate:   state.LogicalDate,
			RunID:         *state.CurrentRunID,
			SchemaVersion: schemaVersion,
		}

		switch {
		case pointer == nil:
			plan.Load = append(plan.Load, target)
		case pointer.RunID != target.RunID:
			plan.Replace = append(plan.Replace, target)
		}
	}

	pointers, err := r.pointers.ListPointers(ctx)
	if err != nil {
		return nil, err
	}
	for _, pointer := range pointers {
		key := pointer.Source + "|" + pointer.CustomerID + "|" + pointer.QueryName + "|" + pointer.LogicalDate
		if _, ok := successKeys[key]; !ok {
			plan.Demote = append(plan.Demote, pointer)
		}
	}

	return plan, nil
}

func (r *Reconciler) publish(ctx context.Context, plan *ReconciliationPlan) error {
	loadedAt := r.now().UTC().Format(time.RFC3339)
	targets := append(append([]LogicalTarget{}, plan.Load...), plan.Replace...)
	for _, target := range targets {
		if err := r.pointers.UpsertPointer(ctx, Pointer{
			Source:        target.Source,
			CustomerID:    target.CustomerID,
			QueryName:     target.QueryName,
			LogicalDate:   target.LogicalDate,
			RunID:         target.RunID,
			SchemaVersion: target.SchemaVersion,
			LoadedAt:      loadedAt,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reconciler) demote(ctx context.Context, plan *ReconciliationPlan) error {
	for _, pointer := range plan.Demote {
		if err := r.pointers.DeletePointer(ctx, pointer.Source, pointer.CustomerID, pointer.QueryName, pointer.LogicalDate); err != nil {
			return err
		}
	}
	return nil
}
