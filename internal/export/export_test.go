package export

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/parquet-go/parquet-go"

	"github.com/nlquery/nlquery/internal/query"
	"github.com/nlquery/nlquery/internal/storage"
)

func TestEncodeResultSetWritesOneCellPerValue(t *testing.T) {
	day := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	rs := query.ResultSet{
		Columns: []string{"created_at", "total"},
		Rows: [][]any{
			{day, "200.50"},
			{day.Add(24 * time.Hour), nil},
		},
	}

	encoded, err := EncodeResultSet(rs)
	if err != nil {
		t.Fatalf("EncodeResultSet() error = %v", err)
	}
	if encoded.RowCount != 2 || encoded.Cells != 4 {
		t.Fatalf("RowCount/Cells = %d/%d", encoded.RowCount, encoded.Cells)
	}

	got := readCells(t, encoded.Data, 4)
	want := []cell{
		{RowIndex: 0, ColumnIndex: 0, Column: "created_at", Value: "2024-02-01T00:00:00Z"},
		{RowIndex: 0, ColumnIndex: 1, Column: "total", Value: "200.50"},
		{RowIndex: 1, ColumnIndex: 0, Column: "created_at", Value: "2024-02-02T00:00:00Z"},
		{RowIndex: 1, ColumnIndex: 1, Column: "total", IsNull: true},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("cells mismatch (-want +got):\n%s", diff)
	}
}

func TestEncodeResultSetRejectsRaggedRows(t *testing.T) {
	_, err := EncodeResultSet(query.ResultSet{Columns: []string{"a", "b"}, Rows: [][]any{{1}}})
	if err == nil {
		t.Fatal("expected error for a row with missing values")
	}
}

func TestEncodeResultSetAllowsZeroRows(t *testing.T) {
	encoded, err := EncodeResultSet(query.ResultSet{Columns: []string{"id"}, Rows: [][]any{}})
	if err != nil {
		t.Fatalf("EncodeResultSet() error = %v", err)
	}
	if len(encoded.Data) == 0 {
		t.Fatal("expected a valid parquet file even without rows")
	}
}

func TestExportUploadsUnderDatePartition(t *testing.T) {
	store := &memoryStore{}
	exporter := NewExporter(store)
	exporter.Now = func() time.Time { return time.Date(2026, 2, 19, 8, 0, 0, 0, time.UTC) }

	info, err := exporter.Export(context.Background(), "q-123", query.ResultSet{
		Columns: []string{"region", "total"},
		Rows:    [][]any{{"north", int64(430)}},
	})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if info.Key != "exports/date=2026-02-19/q-123.parquet" {
		t.Fatalf("Key = %q", info.Key)
	}
	if store.key != info.Key {
		t.Fatalf("stored key = %q", store.key)
	}
	if store.opts.ContentType != contentType {
		t.Fatalf("ContentType = %q", store.opts.ContentType)
	}
	if store.opts.Metadata["row-count"] != "1" {
		t.Fatalf("Metadata = %v", store.opts.Metadata)
	}

	cells := readCells(t, store.data, 2)
	if cells[1].Value != "430" {
		t.Fatalf("cells = %+v", cells)
	}
}

func TestExportReportsUploadFailure(t *testing.T) {
	exporter := NewExporter(&memoryStore{putErr: errors.New("bucket unavailable")})
	_, err := exporter.Export(context.Background(), "q-1", query.ResultSet{Columns: []string{"a"}, Rows: [][]any{{1}}})
	if err == nil {
		t.Fatal("expected upload error")
	}
}

func TestExportWithoutStore(t *testing.T) {
	if _, err := (&Exporter{}).Export(context.Background(), "q-1", query.ResultSet{Columns: []string{"a"}}); err == nil {
		t.Fatal("expected error without an object store")
	}
}

func readCells(t *testing.T, data []byte, n int) []cell {
	t.Helper()
	reader := parquet.NewGenericReader[cell](bytes.NewReader(data))
	defer func() { _ = reader.Close() }()
	cells := make([]cell, n)
	count, err := reader.Read(cells)
	if err != nil && !errors.Is(err, io.EOF) {
		t.Fatalf("reader.Read() error = %v", err)
	}
	if count != n {
		t.Fatalf("read cells = %d, want %d", count, n)
	}
	return cells
}

type memoryStore struct {
	key    string
	data   []byte
	opts   storage.PutOptions
	putErr error
}

func (m *memoryStore) Put(_ context.Context, key string, body io.Reader, size int64, opts storage.PutOptions) (storage.ObjectInfo, error) {
	if m.putErr != nil {
		return storage.ObjectInfo{}, m.putErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	m.key, m.data, m.opts = key, data, opts
	return storage.ObjectInfo{Key: key, Size: size}, nil
}

func (m *memoryStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	if key != m.key {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(m.data)), nil
}

func (m *memoryStore) Stat(_ context.Context, key string) (storage.ObjectInfo, error) {
	if key != m.key {
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return storage.ObjectInfo{Key: key, Size: int64(len(m.data))}, nil
}
