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

// Package runctx carries the identifiers for a single pipeline execution
// attempt: the run_id minted for raw partition writes, and a separate
// trace_id used to correlate log lines and spans across one invocation.
package runctx

import (
	"time"

	"github.com/google/uuid"

	"github.com/jordigilh/gads-etl/pkg/partition"
)

// RunContext carries the identifiers for one pipeline execution attempt.
// RunID is the sortable identifier written into raw partition metadata;
// TraceID is a per-invocation correlation id for logs and spans and plays
// no role in partition authority.
type RunContext struct {
	RunID   partition.RunID
	TraceID string
}

// Create instantiates a new context with a freshly generated run_id and
// trace_id.
func Create() RunContext {
	return RunContext{
		RunID:   partition.NewRunID(time.Now()),
		TraceID: uuid.NewString(),
	}
}
