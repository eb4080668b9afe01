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
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/go-faster/jx"

	pipelineerrors "github.com/jordigilh/gads-etl/internal/errors"
	"github.com/jordigilh/gads-etl/pkg/partition"
)

// S3API is the subset of the S3 client the sink needs; satisfied by
// *s3.Client and by test doubles.
type S3API interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// ObjectSink persists partitions to an S3-compatible bucket, keeping the
// same commit protocol as LocalSink: payload uploads first, metadata last.
type ObjectSink struct {
	client S3API
	bucket string
	prefix string
}

// NewObjectSink creates an ObjectSink for bucket, rooted under prefix.
func NewObjectSink(client S3API, bucket, prefix string) *ObjectSink {
	return &ObjectSink{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

func partitionPrefix(prefix string, key partition.Key) string {
	parts := []string{
		strings.TrimSuffix(prefix, "/"),
		key.Source,
		"customer_id=" + key.CustomerID,
		"query_name=" + key.QueryName,
		"logical_date=" + key.LogicalDate,
	}
	return strings.Trim(strings.Join(parts, "/"), "/")
}

func objectKey(prefix string, runID partition.RunID, filename string) string {
	return fmt.Sprintf("%s/run_id=%s/%s", prefix, runID, filename)
}

func (s *ObjectSink) objectExists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if err == nil {
		return true, nil
	}
	var notFound *types.NotFound
	var apiErr smithy.APIError
	if stderrors.As(err, &notFound) {
		return false, nil
	}
	if stderrors.As(err, &apiErr) && (apiErr.ErrorCode() == "NotFound" || apiErr.ErrorCode() == "404") {
		return false, nil
	}
	return false, err
}

func (s *ObjectSink) WritePartition(ctx context.Context, key partition.Key, runID partition.RunID) (Writer, error) {
	prefix := partitionPrefix(s.prefix, key)
	metadataKey := objectKey(prefix, runID, metadataFileName)
	exists, err := s.objectExists(ctx, metadataKey)
	if err != nil {
		return nil, pipelineerrors.NewTransportError("check partition existence", err)
	}
	if exists {
		return nil, pipelineerrors.Wrap(ErrAlreadyFinalized, pipelineerrors.ErrorTypeConsistency, "partition already finalized; metadata exists").WithDetailsf("key=%s", metadataKey)
	}

	tmp, err := os.CreateTemp("", "gads-etl-payload-*.jsonl")
	if err != nil {
		return nil, pipelineerrors.NewTransportError("create scratch file", err)
	}
	return &objectWriter{
		sink:        s,
		payloadKey:  objectKey(prefix, runID, payloadFileName),
		metadataKey: metadataKey,
		scratch:     tmp,
		writer:      bufio.NewWriter(tmp),
	}, nil
}

func (s *ObjectSink) OpenPartition(ctx context.Context, key partition.Key, runID partition.RunID) (Reader, error) {
	prefix := partitionPrefix(s.prefix, key)
	metadataKey := objectKey(prefix, runID, metadataFileName)
	exists, err := s.objectExists(ctx, metadataKey)
	if err != nil {
		return nil, pipelineerrors.NewTransportError("check partition existence", err)
	}
	if !exists {
		return nil, pipelineerrors.NewTransportError("open partition", pipelineerrors.NewConsistencyError("metadata missing (not finalized)"))
	}
	return &objectReader{
		client:      s.client,
		bucket:      s.bucket,
		payloadKey:  objectKey(prefix, runID, payloadFileName),
		metadataKey: metadataKey,
	}, nil
}

func (s *ObjectSink) ListPartitions(ctx context.Context, key partition.Key) ([]partition.RunID, error) {
	logicalPrefix := partitionPrefix(s.prefix, key) + "/"
	seen := map[string]struct{}{}
	var token *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(logicalPrefix),
			Delimiter:         aws.String("/"),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, pipelineerrors.NewTransportError("list partitions", err)
		}
		for _, cp := range out.CommonPrefixes {
			p := strings.TrimSuffix(aws.ToString(cp.Prefix), "/")
			if idx := strings.Index(p, "run_id="); idx >= 0 {
				seen[p[idx+len("run_id="):]] = struct{}{}
			}
		}
		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		token = out.NextContinuationToken
	}
	runIDs := make([]string, 0, len(seen))
	for id := range seen {
		runIDs = append(runIDs, id)
	}
	sort.Strings(runIDs)
	out := make([]partition.RunID, len(runIDs))
	for i, id := range runIDs {
		out[i] = partition.RunID(id)
	}
	return out, nil
}

type objectWriter struct {
	sink        *ObjectSink
	payloadKey  string
	metadataKey string
	scratch     *os.File
	writer      *bufio.Writer
	finalized   bool
}

func (w *objectWriter) WritePayloadRow(ctx context.Context, row Row) error {
	if w.finalized {
		return pipelineerrors.Wrap(ErrAlreadyFinalized, pipelineerrors.ErrorTypeConsistency, "partition already finalized")
	}
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	encodeRow(e, row)
	if _, err := w.writer.Write(e.Bytes()); err != nil {
		return pipelineerrors.NewTransportError("buffer payload row", err)
	}
	return w.writer.WriteByte('\n')
}

func (w *objectWriter) Finalize(ctx context.Context, metadata Metadata) error {
	if w.finalized {
		return pipelineerrors.Wrap(ErrAlreadyFinalized, pipelineerrors.ErrorTypeConsistency, "partition already finalized")
	}
	defer os.Remove(w.scratch.Name())

	if err := w.writer.Flush(); err != nil {
		return pipelineerrors.NewTransportError("flush scratch file", err)
	}
	if err := w.scratch.Sync(); err != nil {
		return pipelineerrors.NewTransportError("fsync scratch file", err)
	}
	if _, err := w.scratch.Seek(0, io.SeekStart); err != nil {
		return pipelineerrors.NewTransportError("rewind scratch file", err)
	}

	exists, err := w.sink.objectExists(ctx, w.metadataKey)
	if err != nil {
		return pipelineerrors.NewTransportError("check partition existence", err)
	}
	if exists {
		return pipelineerrors.Wrap(ErrAlreadyFinalized, pipelineerrors.ErrorTypeConsistency, "partition already finalized; metadata exists")
	}

	if _, err := w.sink.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(w.sink.bucket),
		Key:    aws.String(w.payloadKey),
		Body:   w.scratch,
	}); err != nil {
		return pipelineerrors.NewTransportError("upload payload", err)
	}

	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	encodeRow(e, Row(metadata))
	if _, err := w.sink.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.sink.bucket),
		Key:         aws.String(w.metadataKey),
		Body:        bytes.NewReader(e.Bytes()),
		ContentType: aws.String("application/json"),
	}); err != nil {
		return pipelineerrors.NewTransportError("commit metadata", err)
	}
	w.finalized = true
	return nil
}

type objectReader struct {
	client      S3API
	bucket      string
	payloadKey  string
	metadataKey string
}

func (r *objectReader) IterPayloadRows(ctx context.Context, fn func(Row) error) error {
	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(r.bucket), Key: aws.String(r.payloadKey)})
	if err != nil {
		return pipelineerrors.NewTransportError("read payload", err)
	}
	defer out.Body.Close()

	scanner := bufio.NewScanner(out.Body)
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
	return scanner.Err()
}

func (r *objectReader) ReadMetadata(ctx context.Context) (Metadata, error) {
	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(r.bucket), Key: aws.String(r.metadataKey)})
	if err != nil {
		return nil, pipelineerrors.NewTransportError("read metadata", err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, pipelineerrors.NewTransportError("read metadata", err)
	}
	row, err := decodeRow(data)
	if err != nil {
		return nil, pipelineerrors.NewTransportError("decode metadata", err)
	}
	return Metadata(row), nil
}
