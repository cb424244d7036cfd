package storage

import (
	"fmt"
	"path"
	"regexp"
	"time"
)

const exportRoot = "exports"

var componentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// ExportKey returns exports/date=YYYY-MM-DD/<query_id>.parquet for the UTC
// day of at.
func ExportKey(queryID string, at time.Time) (string, error) {
	return ExportKeyForDate(queryID, at.UTC().Format(time.DateOnly))
}

func ExportKeyForDate(queryID, date string) (string, error) {
	if !componentPattern.MatchString(queryID) {
		return "", fmt.Errorf("invalid query id: %q", queryID)
	}
	if _, err := time.Parse(time.DateOnly, date); err != nil {
		return "", fmt.Errorf("invalid export date %q: %w", date, err)
	}
	return path.Join(exportRoot, "date="+date, queryID+".parquet"), nil
}
