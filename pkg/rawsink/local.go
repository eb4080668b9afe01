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

package rawsink

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-faster/jx"

	pipelineerrors "github.com/jordigilh/gads-etl/internal/errors"
	"github.com/jordigilh/gads-etl/pkg/partition"
)

const (
	payloadFileName  = "payload.jsonl"
	metadataFileName = "metadata.json"
)

func logicalDir(root string, key partition.Key) string {
	return filepath.Join(
		root,
		key.Source,
		"customer_id="+key.CustomerID,
		"query_name="+key.QueryName,
		"logical_date="+key.LogicalDate,
	)
}

func partitionDir(root string, key partition.Key, runID partition.RunID) string {
	return filepath.Join(logicalDir(root, key), "run_id="+string(runID))
}

// LocalSink persists partitions under the canonical directory layout on a
// local (or network-mounted) filesystem.
type LocalSink struct {
	root string
}

// NewLocalSink creates a LocalSink rooted at root, creating it if absent.
func NewLocalSink(root string) (*LocalSink, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, pipelineerrors.NewTransportError("create raw sink root", err)
	}
	return &LocalSink{root: root}, nil
}

func (s *LocalSink) WritePartition(ctx context.Context, key partition.Key, runID partition.RunID) (Writer, error) {
	dir := partitionDir(s.root, key, runID)
	metadataPath := filepath.Join(dir, metadataFileName)
	if _, err := os.Stat(metadataPath); err == nil {
		return nil, pipelineerrors.Wrap(ErrAlreadyFinalized, pipelineerrors.ErrorTypeConsistency, "partition already finalized; cannot write").WithDetailsf("run_id=%s", runID)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, pipelineerrors.NewTransportError("create partition directory", err)
	}
	return &localWriter{
		payloadPath:  filepath.Join(dir, payloadFileName),
		metadataPath: metadataPath,
	}, nil
}

func (s *LocalSink) OpenPartition(ctx context.Context, key partition.Key, runID partition.RunID) (Reader, error) {
	dir := partitionDir(s.root, key, runID)
	payloadPath := filepath.Join(dir, payloadFileName)
	metadataPath := filepath.Join(dir, metadataFileName)
	if _, err := os.Stat(payloadPath); err != nil {
		return nil, pipelineerrors.NewTransportError("open partition", err).WithDetailsf("partition not found: %s", dir)
	}
	if _, err := os.Stat(metadataPath); err != nil {
		return nil, pipelineerrors.NewTransportError("open partition", err).WithDetailsf("partition not found: %s", dir)
	}
	return &localReader{payloadPath: payloadPath, metadataPath: metadataPath}, nil
}

func (s *LocalSink) ListPartitions(ctx context.Context, key partition.Key) ([]partition.RunID, error) {
	dir := logicalDir(s.root, key)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, pipelineerrors.NewTransportError("list partitions", err)
	}
	var runIDs []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if name, ok := strings.CutPrefix(entry.Name(), "run_id="); ok {
			runIDs = append(runIDs, name)
		}
	}
	sort.Strings(runIDs)
	out := make([]partition.RunID, len(runIDs))
	for i, r := range runIDs {
		out[i] = partition.RunID(r)
	}
	return out, nil
}

type localWriter struct {
	payloadPath  string
	metadataPath string
	finalized    bool
}

func (w *localWriter) WritePayloadRow(ctx context.Context, row Row) error {
	if w.finalized {
		return pipelineerrors.Wrap(ErrAlreadyFinalized, pipelineerrors.ErrorTypeConsistency, "partition already finalized; cannot write")
	}
	f, err := os.OpenFile(w.payloadPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return pipelineerrors.NewTransportError("open payload file", err)
	}
	defer f.Close()

	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	encodeRow(e, row)
	if _, err := f.Write(e.Bytes()); err != nil {
		return pipelineerrors.NewTransportError("write payload row", err)
	}
	if _, err := f.WriteString("\n"); err != nil {
		return pipelineerrors.NewTransportError("write payload row", err)
	}
	return nil
}

func (w *localWriter) Finalize(ctx context.Context, metadata Metadata) error {
	if w.finalized {
		return pipelineerrors.Wrap(ErrAlreadyFinalized, pipelineerrors.ErrorTypeConsistency, "partition already finalized; cannot write")
	}
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	encodeRow(e, Row(metadata))

	f, err := os.Create(w.metadataPath)
	if err != nil {
		return pipelineerrors.NewTransportError("create metadata file", err)
	}
	defer f.Close()
	if _, err := f.Write(e.Bytes()); err != nil {
		return pipelineerrors.NewTransportError("write metadata", err)
	}
	w.finalized = true
	return nil
}

type localReader struct {
	payloadPath  string
	metadataPath string
}

func (r *localReader) IterPayloadRows(ctx context.Context, fn func(Row) error) error {
	f, err := os.Open(r.payloadPath)
	if err != nil {
		return pipelineerrors.NewTransportError("read payload", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		row, err := decodeRow([]byte(line))
		if err != nil {
			return pipelineerrors.NewTransportError("decode payload row", err)
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return pipelineerrors.NewTransportError("read payload", err)
	}
	return nil
}

func (r *localReader) ReadMetadata(ctx context.Context) (Metadata, error) {
	data, err := os.ReadFile(r.metadataPath)
	if err != nil {
		return nil, pipelineerrors.NewTransportError("read metadata", err)
	}
	row, err := decodeRow(data)
	if err != nil {
		return nil, pipelineerrors.NewTransportError("decode metadata", err)
	}
	return Metadata(row), nil
}
