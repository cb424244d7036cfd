package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/nlquery/nlquery/internal/storage"
)

func handleExportDownload(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Exports == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "EXPORT_NOT_CONFIGURED", "result export is not enabled", false, nil)
		return
	}

	queryID := r.PathValue("query_id")
	key, err := storage.ExportKeyForDate(queryID, r.PathValue("date"))
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_EXPORT_PATH", err.Error(), false, nil)
		return
	}

	info, err := deps.Exports.Stat(r.Context(), key)
	if err != nil {
		writeExportLookupError(w, r, key, err)
		return
	}
	body, err := deps.Exports.Get(r.Context(), key)
	if err != nil {
		writeExportLookupError(w, r, key, err)
		return
	}
	defer func() { _ = body.Close() }()

	w.Header().Set("Content-Type", "application/vnd.apache.parquet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+queryID+`.parquet"`)
	if info.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil && deps.Logger != nil {
		deps.Logger.WarnContext(r.Context(), "export download interrupted", "key", key, "error", err)
	}
}

func writeExportLookupError(w http.ResponseWriter, r *http.Request, key string, err error) {
	if errors.Is(err, storage.ErrObjectNotFound) {
		writeError(r.Context(), w, http.StatusNotFound, "EXPORT_NOT_FOUND", "export was not found", false, map[string]any{"key": key})
		return
	}
	writeError(r.Context(), w, http.StatusBadGateway, "OBJECT_STORE_ERROR", "failed to read export", true, map[string]any{"details": err.Error()})
}
