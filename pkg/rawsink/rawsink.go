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

// Package rawsink defines the vendor-neutral write-once raw partition
// storage protocol and its filesystem and S3-compatible implementations.
package rawsink

import (
	"context"
	stderrors "errors"

	"github.com/jordigilh/gads-etl/pkg/partition"
)

// ErrAlreadyFinalized is returned (wrapped in a ConsistencyError) when a
// caller tries to write to or restage a partition that has already
// committed its metadata. It is always fatal for the caller attempting the
// write, but callers further up the stack (e.g. the reconciler deciding
// whether to fail a whole pipeline run over it) can distinguish it from
// other consistency violations with errors.Is.
var ErrAlreadyFinalized = stderrors.New("partition already finalized")

// Row is one extracted record, ready to be serialized to a payload line.
type Row map[string]any

// Metadata is the finalization record written last; its presence is what
// makes a partition immutable and discoverable.
type Metadata map[string]any

// Writer is the mutable handle for producing exactly one raw partition.
// Implementations must reject any write after Finalize has succeeded.
type Writer interface {
	// WritePayloadRow appends one row to the partition's payload stream.
	WritePayloadRow(ctx context.Context, row Row) error
	// Finalize persists metadata and marks the partition immutable. It is
	// the single commit point: a partition with a payload but no metadata
	// is not yet visible to readers.
	Finalize(ctx context.Context, metadata Metadata) error
}

// Reader is the read-only handle for an already-finalized partition.
type Reader interface {
	// IterPayloadRows streams payload rows in storage order, invoking fn
	// for each. It stops and returns fn's error if fn returns one.
	IterPayloadRows(ctx context.Context, fn func(Row) error) error
	// ReadMetadata returns the partition's metadata.json contents.
	ReadMetadata(ctx context.Context) (Metadata, error)
}

// Sink is the backend interface the extractor and validator use to
// interact with raw storage, independent of whether it is backed by the
// local filesystem or an S3-compatible object store.
type Sink interface {
	// WritePartition returns a writer scoped to (key, runID). Implementations
	// must refuse to return a writer for a run that is already finalized.
	WritePartition(ctx context.Context, key partition.Key, runID partition.RunID) (Writer, error)
	// OpenPartition returns a reader for an existing, finalized partition.
	// It must fail if the partition does not exist or is not finalized.
	OpenPartition(ctx context.Context, key partition.Key, runID partition.RunID) (Reader, error)
	// ListPartitions returns the run IDs available under key, sorted
	// lexicographically (equivalently, chronologically).
	ListPartitions(ctx context.Context, key partition.Key) ([]partition.RunID, error)
}
