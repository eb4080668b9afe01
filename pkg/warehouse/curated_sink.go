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
	"bufio"
	"context"
	"os"
	"path/filepath"

	"github.com/go-faster/jx"

	pipelineerrors "github.com/jordigilh/gads-etl/internal/errors"
	"github.com/jordigilh/gads-etl/pkg/partition"
	"github.com/jordigilh/gads-etl/pkg/rawsink"
)

// CuratedSink stages warehouse-ready rows for a logical partition. It is
// not wired into the reconciler: the pointer flip in PointerStore is the
// one commit the reconciliation plan makes. CuratedSink exists as a
// separate, independently-testable staging surface for a future
// materialization step.
type CuratedSink interface {
	StagePartition(ctx context.Context, key partition.Key, runID partition.RunID, rows []rawsink.Row, schemaVersion string, recordCount int, loadedAt string) error
}

// FilesystemCuratedSink stages curated partitions under root/curated using
// the same metadata-last commit protocol as the raw sink.
type FilesystemCuratedSink struct {
	curatedRoot string
}

// NewFilesystemCuratedSink creates a FilesystemCuratedSink rooted at
// <root>/curated, creating the directory if needed.
func NewFilesystemCuratedSink(root string) (*FilesystemCuratedSink, error) {
	curatedRoot := filepath.Join(root, "curated")
	if err := os.MkdirAll(curatedRoot, 0o755); err != nil {
		return nil, pipelineerrors.NewTransportError("create curated sink root", err)
	}
	return &FilesystemCuratedSink{curatedRoot: curatedRoot}, nil
}

func (s *FilesystemCuratedSink) partitionRunDir(key partition.Key, runID partition.RunID) string {
	return filepath.Join(
		s.curatedRoot,
		"source="+key.Source,
		"customer_id="+key.CustomerID,
		"query_name="+key.QueryName,
		"logical_date="+key.LogicalDate,
		"run_id="+string(runID),
	)
}

// StagePartition writes data.jsonl then metadata.json, refusing to
// overwrite an already-finalized curated partition.
func (s *FilesystemCuratedSink) StagePartition(ctx context.Context, key partition.Key, runID partition.RunID, rows []rawsink.Row, schemaVersion string, recordCount int, loadedAt string) error {
	runDir := s.partitionRunDir(key, runID)
	metadataPath := filepath.Join(runDir, "metadata.json")
	if _, err := os.Stat(metadataPath); err == nil {
		return pipelineerrors.Wrap(rawsink.ErrAlreadyFinalized, pipelineerrors.ErrorTypeConsistency, "curated partition already finalized").WithDetailsf("path=%s", metadataPath)
	}

	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return pipelineerrors.NewTransportError("create curated partition directory", err)
	}

	dataPath := filepath.Join(runDir, "data.jsonl")
	if err := writeCuratedRows(dataPath, rows); err != nil {
		return err
	}

	metadata := rawsink.Metadata{
		"source":         key.Source,
		"customer_id":    key.CustomerID,
		"query_name":     key.QueryName,
		"logical_date":   key.LogicalDate,
		"run_id":         string(runID),
		"schema_version": schemaVersion,
		"record_count":   float64(recordCount),
		"loaded_at":      loadedAt,
	}
	return writeCuratedMetadata(metadataPath, metadata)
}

func writeCuratedRows(path string, rows []rawsink.Row) error {
	f, err := os.Create(path)
	if err != nil {
		return pipelineerrors.NewTransportError("write curated data", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, row := range rows {
		e := jx.GetEncoder()
		rawsink.EncodeRow(e, row)
		if _, err := w.Write(e.Bytes()); err != nil {
			jx.PutEncoder(e)
			return pipelineerrors.NewTransportError("write curated data", err)
		}
		jx.PutEncoder(e)
		if err := w.WriteByte('\n'); err != nil {
			return pipelineerrors.NewTransportError("write curated data", err)
		}
	}
	return w.Flush()
}

func writeCuratedMetadata(path string, metadata rawsink.Metadata) error {
	f, err := os.Create(path)
	if err != nil {
		return pipelineerrors.NewTransportError("write curated metadata", err)
	}
	defer f.Close()

	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	rawsink.EncodeRow(e, rawsink.Row(metadata))
	if _, err := f.Write(e.Bytes()); err != nil {
		return pipelineerrors.NewTransportError("write curated metadata", err)
	}
	_, err = f.WriteString("\n")
	return err
}
