package storage

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/aluiziolira/go-scrape-films/models"
	"github.com/minio/minio-go/v7"
)

// ErrStorageUnavailable wraps snapshot reads and writes that failed for any
// reason other than the object not existing.
var ErrStorageUnavailable = errors.New("storage unavailable")

// SnapshotStore keeps one CSV object per playlist in a bucket.
type SnapshotStore struct {
	client Client
	bucket string
}

// NewSnapshotStore returns a store writing to bucket.
func NewSnapshotStore(client Client, bucket string) *SnapshotStore {
	return &SnapshotStore{client: client, bucket: bucket}
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *SnapshotStore) EnsureBucket(ctx context.Context, region string) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("%w: check bucket %s: %w", ErrStorageUnavailable, s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("%w: create bucket %s: %w", ErrStorageUnavailable, s.bucket, err)
	}
	slog.Info("bucket created", slog.String("bucket", s.bucket))
	return nil
}

// Load reads the snapshot at key. A missing object yields present=false and
// no error; any other failure is ErrStorageUnavailable.
func (s *SnapshotStore) Load(ctx context.Context, key string) (models.Table, bool, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: get %s: %w", ErrStorageUnavailable, key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if isNotFound(err) {
			slog.Info("no snapshot stored", slog.String("key", key))
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: read %s: %w", ErrStorageUnavailable, key, err)
	}

	table, err := DecodeTable(bytes.NewReader(data))
	if err != nil {
		return nil, false, fmt.Errorf("%w: decode %s: %w", ErrStorageUnavailable, key, err)
	}
	slog.Info("snapshot loaded", slog.String("key", key), slog.Int("rows", len(table)))
	return table, true, nil
}

// Save replaces the object at key with table.
func (s *SnapshotStore) Save(ctx context.Context, key string, table models.Table) error {
	var buf bytes.Buffer
	if err := EncodeTable(&buf, table); err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}

	_, err := s.client.PutObject(ctx, s.bucket, key, &buf, int64(buf.Len()), minio.PutObjectOptions{
		ContentType: "text/csv",
	})
	if err != nil {
		return fmt.Errorf("%w: put %s: %w", ErrStorageUnavailable, key, err)
	}
	return nil
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
}

// EncodeTable writes the header and one record per row.
func EncodeTable(w io.Writer, table models.Table) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(models.TableHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range table {
		if err := writer.Write(row.Record()); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// DecodeTable parses a table written by EncodeTable. An empty object is an
// empty table. Rows repeating an id keep the first occurrence.
func DecodeTable(r io.Reader) (models.Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return models.Table{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	if !slices.Equal(header, models.TableHeader) {
		return nil, fmt.Errorf("unexpected csv header %v", header)
	}

	table := models.Table{}
	seen := make(map[int64]struct{})
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}
		row, err := models.RowFromRecord(record)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if _, dup := seen[row.ID]; dup {
			slog.Warn("duplicate snapshot row dropped", slog.Int64("id", row.ID), slog.Int("line", line))
			continue
		}
		seen[row.ID] = struct{}{}
		table = append(table, row)
	}
	return table, nil
}
