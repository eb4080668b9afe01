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

// Package partition holds the identity types shared by every component in
// the pipeline: the coordinates that name a unit of work (PartitionKey) and
// the identifier that names a single attempt at producing it (RunID).
package partition

import (
	"fmt"
	"time"
)

// Key identifies a logical unit of extraction: one report query, for one
// customer, for one logical date, from one source system. Every raw run,
// state row, and warehouse pointer is keyed by this tuple.
type Key struct {
	Source      string
	CustomerID  string
	QueryName   string
	LogicalDate string // YYYY-MM-DD
}

// String renders the key the way it appears in log lines and directory
// layouts: source/customer_id/query_name/logical_date.
func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", k.Source, k.CustomerID, k.QueryName, k.LogicalDate)
}

// RunID is a millisecond-precision UTC timestamp formatted as
// 2006-01-02T15:04:05.000Z. Two run IDs compare correctly both
// lexicographically and chronologically, which is the property the
// validator's authority rule depends on: never replace this with a
// content hash or a UUID, as either would break that agreement.
type RunID string

// NewRunID mints a RunID from t, truncating to millisecond precision and
// rendering it in UTC with a literal trailing Z.
func NewRunID(t time.Time) RunID {
	return RunID(t.UTC().Format("2006-01-02T15:04:05.000Z"))
}

// Before reports whether r sorts lexicographically (and therefore
// chronologically) before other.
func (r RunID) Before(other RunID) bool {
	return string(r) < string(other)
}

// After reports whether r sorts lexicographically (and therefore
// chronologically) after other.
func (r RunID) After(other RunID) bool {
	return string(r) > string(other)
}
