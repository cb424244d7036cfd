package export

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/nlquery/nlquery/internal/observability"
	"github.com/nlquery/nlquery/internal/query"
	"github.com/nlquery/nlquery/internal/storage"
)

const contentType = "application/vnd.apache.parquet"

type Exporter struct {
	Store storage.ObjectStore
	Now   func() time.Time
}

func NewExporter(store storage.ObjectStore) *Exporter {
	return &Exporter{Store: store, Now: time.Now}
}

// Export writes rs as parquet to exports/date=YYYY-MM-DD/<queryID>.parquet.
func (e *Exporter) Export(ctx context.Context, queryID string, rs query.ResultSet) (storage.ObjectInfo, error) {
	info, err := e.export(ctx, queryID, rs)
	observability.IncrementExport(err == nil)
	return info, err
}

func (e *Exporter) export(ctx context.Context, queryID string, rs query.ResultSet) (storage.ObjectInfo, error) {
	if e.Store == nil {
		return storage.ObjectInfo{}, fmt.Errorf("object store is not configured")
	}
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	key, err := storage.ExportKey(queryID, now())
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	encoded, err := EncodeResultSet(rs)
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("encode result set: %w", err)
	}

	info, err := e.Store.Put(ctx, key, bytes.NewReader(encoded.Data), int64(len(encoded.Data)), storage.PutOptions{
		ContentType: contentType,
		Metadata: map[string]string{
			"row-count":    strconv.Itoa(encoded.RowCount),
			"column-count": strconv.Itoa(len(rs.Columns)),
			"truncated":    strconv.FormatBool(rs.Truncated),
		},
	})
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("upload export: %w", err)
	}
	info.Key = key
	return info, nil
}
