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

// Package metrics exposes the pipeline's Prometheus counters and
// histograms: partition extraction/validation outcomes and reconciliation
// results, registered once per process and updated by the extractor,
// validator and reconciler.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry groups every metric this module emits, constructed once and
// passed down to the components that update it.
type Registry struct {
	PartitionsExtracted *prometheus.CounterVec
	PartitionsValidated *prometheus.CounterVec
	ExtractionDuration  *prometheus.HistogramVec
	ReconciliationPlans *prometheus.CounterVec
}

// NewRegistry builds and registers every metric against reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		PartitionsExtracted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gads_etl",
			Name:      "partitions_extracted_total",
			Help:      "Count of raw partition extraction attempts by outcome.",
		}, []string{"query_name", "outcome"}),
		PartitionsValidated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gads_etl",
			Name:      "partitions_validated_total",
			Help:      "Count of validator outcomes by status.",
		}, []string{"query_name", "status"}),
		ExtractionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gads_etl",
			Name:      "extraction_duration_seconds",
			Help:      "Time to extract and finalize one partition.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"query_name"}),
		ReconciliationPlans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gads_etl",
			Name:      "warehouse_reconciliation_total",
			Help:      "Count of warehouse pointer actions by kind (load, replace, demote).",
		}, []string{"action"}),
	}

	reg.MustRegister(
		r.PartitionsExtracted,
		r.PartitionsValidated,
		r.ExtractionDuration,
		r.ReconciliationPlans,
	)
	return r
}
