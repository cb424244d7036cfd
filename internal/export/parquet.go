package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/nlquery/nlquery/internal/query"
)

// cell is one value of a result set. Result sets have arbitrary shapes, so
// they are stored long-form: one parquet row per cell, in row then column
// order.
type cell struct {
	RowIndex    int64  `parquet:"row_index"`
	ColumnIndex int32  `parquet:"column_index"`
	Column      string `parquet:"column"`
	Value       string `parquet:"value"`
	IsNull      bool   `parquet:"is_null"`
}

type Encoded struct {
	Data     []byte
	RowCount int
	Cells    int
}

func EncodeResultSet(rs query.ResultSet) (Encoded, error) {
	if len(rs.Columns) == 0 {
		return Encoded{}, fmt.Errorf("result set has no columns")
	}

	cells := make([]cell, 0, len(rs.Rows)*len(rs.Columns))
	for r, row := range rs.Rows {
		if len(row) != len(rs.Columns) {
			return Encoded{}, fmt.Errorf("row %d has %d values, want %d", r, len(row), len(rs.Columns))
		}
		for c, value := range row {
			text, isNull := formatValue(value)
			cells = append(cells, cell{
				RowIndex:    int64(r),
				ColumnIndex: int32(c),
				Column:      rs.Columns[c],
				Value:       text,
				IsNull:      isNull,
			})
		}
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[cell](buf)
	if len(cells) > 0 {
		if _, err := writer.Write(cells); err != nil {
			return Encoded{}, fmt.Errorf("write parquet cells: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return Encoded{}, fmt.Errorf("close parquet writer: %w", err)
	}
	return Encoded{Data: buf.Bytes(), RowCount: len(rs.Rows), Cells: len(cells)}, nil
}

func formatValue(value any) (string, bool) {
	switch typed := value.(type) {
	case nil:
		return "", true
	case string:
		return typed, false
	case []byte:
		return string(typed), false
	case time.Time:
		return typed.UTC().Format(time.RFC3339Nano), false
	default:
		return fmt.Sprint(typed), false
	}
}
