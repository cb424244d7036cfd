package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"strings"

	"github.com/nlquery/nlquery/internal/chart"
	"github.com/nlquery/nlquery/internal/nl2sql"
	"github.com/nlquery/nlquery/internal/pipeline"
	"github.com/nlquery/nlquery/internal/prompt"
	"github.com/nlquery/nlquery/internal/query"
	"github.com/nlquery/nlquery/internal/schema"
	"github.com/nlquery/nlquery/internal/storage"
)

const maxQuestionBodyBytes = 64 << 10

type questionRequest struct {
	Question string `json:"question"`
	Export   bool   `json:"export"`
}

type promptResponse struct {
	Question      string `json:"question"`
	Prompt        string `json:"prompt"`
	PromptVersion string `json:"prompt_version"`
}

type chartResponse struct {
	chart.Spec
	Title string `json:"title"`
}

type exportResponse struct {
	storage.ObjectInfo
	DownloadPath string `json:"download_path"`
}

type askResponse struct {
	QueryID       string          `json:"query_id"`
	Question      string          `json:"question"`
	SQL           string          `json:"sql"`
	Columns       []string        `json:"columns"`
	Rows          [][]any         `json:"rows"`
	RowCount      int             `json:"row_count"`
	Truncated     bool            `json:"truncated"`
	Chart         chartResponse   `json:"chart"`
	PromptVersion string          `json:"prompt_version"`
	Model         string          `json:"model,omitempty"`
	Stats         map[string]any  `json:"stats"`
	Export        *exportResponse `json:"export,omitempty"`
	ExportError   string          `json:"export_error,omitempty"`
}

func handleSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Schema == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "schema dependency is not configured", false, nil)
		return
	}
	desc, err := deps.Schema.Introspect(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "SCHEMA_ACCESS_FAILED", "failed to read database schema", true, map[string]any{"details": err.Error()})
		return
	}
	tables := desc.Tables
	if tables == nil {
		tables = []schema.Table{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tables": tables,
		"text":   desc.String(),
	})
}

func handlePrompt(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Pipeline == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "PIPELINE_NOT_CONFIGURED", "question pipeline is not configured", false, nil)
		return
	}
	request, ok := decodeQuestion(w, r)
	if !ok {
		return
	}
	preview, err := deps.Pipeline.Prompt(r.Context(), request.Question)
	if err != nil {
		writePipelineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, promptResponse{
		Question:      preview.Question,
		Prompt:        preview.Prompt,
		PromptVersion: preview.PromptVersion,
	})
}

func handleAsk(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Pipeline == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "PIPELINE_NOT_CONFIGURED", "question pipeline is not configured", false, nil)
		return
	}
	request, ok := decodeQuestion(w, r)
	if !ok {
		return
	}
	answer, err := deps.Pipeline.Ask(r.Context(), request.Question)
	if err != nil {
		writePipelineError(w, r, err)
		return
	}

	rows := answer.Result.Rows
	if rows == nil {
		rows = [][]any{}
	}
	response := askResponse{
		QueryID:       deps.NewQueryID(),
		Question:      answer.Question,
		SQL:           answer.SQL,
		Columns:       answer.Result.Columns,
		Rows:          rows,
		RowCount:      len(rows),
		Truncated:     answer.Result.Truncated,
		Chart:         chartResponse{Spec: answer.Chart, Title: answer.Chart.Title()},
		PromptVersion: answer.PromptVersion,
		Model:         answer.Model,
		Stats: map[string]any{
			"schema_ms":   answer.Timings.Schema.Milliseconds(),
			"generate_ms": answer.Timings.Generate.Milliseconds(),
			"execute_ms":  answer.Timings.Execute.Milliseconds(),
			"total_ms":    answer.Timings.Total.Milliseconds(),
		},
	}

	if request.Export {
		if deps.Exporter == nil {
			response.ExportError = "result export is not enabled"
		} else if info, err := deps.Exporter.Export(r.Context(), response.QueryID, answer.Result); err != nil {
			if deps.Logger != nil {
				deps.Logger.WarnContext(r.Context(), "result export failed",
					"query_id", response.QueryID,
					"error", err,
				)
			}
			response.ExportError = err.Error()
		} else {
			response.Export = &exportResponse{ObjectInfo: info, DownloadPath: downloadPath(info.Key)}
		}
	}

	writeJSON(w, http.StatusOK, response)
}

func decodeQuestion(w http.ResponseWriter, r *http.Request) (questionRequest, bool) {
	var request questionRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxQuestionBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid question request body", false, map[string]any{"details": err.Error()})
		return questionRequest{}, false
	}
	return request, true
}

// writePipelineError maps a stage-tagged pipeline failure onto the error
// envelope. The stage is always reported in the context.
func writePipelineError(w http.ResponseWriter, r *http.Request, err error) {
	stage := "unknown"
	var stageErr *pipeline.StageError
	if errors.As(err, &stageErr) {
		stage = string(stageErr.Stage)
	}
	extra := map[string]any{"stage": stage, "details": err.Error()}
	ctx := r.Context()

	var (
		schemaErr   *schema.AccessError
		templateErr *prompt.TemplateError
		genErr      *nl2sql.GenerationError
		noStmtErr   *nl2sql.NoStatementFoundError
		execErr     *query.ExecutionError
	)
	switch {
	case errors.Is(err, pipeline.ErrEmptyQuestion):
		writeError(ctx, w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, extra)
	case errors.As(err, &schemaErr):
		writeError(ctx, w, http.StatusServiceUnavailable, "SCHEMA_ACCESS_FAILED", "failed to read database schema", true, extra)
	case errors.As(err, &templateErr):
		writeError(ctx, w, http.StatusInternalServerError, "TEMPLATE_INVALID", "prompt template is invalid", false, extra)
	case errors.As(err, &noStmtErr):
		extra["completion"] = noStmtErr.Completion
		writeError(ctx, w, http.StatusUnprocessableEntity, "NO_STATEMENT_FOUND", "the model did not return a SQL statement", true, extra)
	case errors.As(err, &genErr):
		if genErr.Timeout() {
			writeError(ctx, w, http.StatusGatewayTimeout, "GENERATION_TIMEOUT", "sql generation timed out", true, extra)
			return
		}
		extra["reason"] = genErr.Reason
		if genErr.StatusCode != 0 {
			extra["upstream_status"] = genErr.StatusCode
		}
		writeError(ctx, w, http.StatusBadGateway, "GENERATION_FAILED", "sql generation failed", true, extra)
	case errors.Is(err, query.ErrStatementNotAllowed):
		if errors.As(err, &execErr) {
			extra["sql"] = execErr.Statement
		}
		writeError(ctx, w, http.StatusBadRequest, "SQL_NOT_ALLOWED", "only read-only SELECT/WITH queries are allowed", false, extra)
	case errors.As(err, &execErr):
		extra["sql"] = execErr.Statement
		writeError(ctx, w, http.StatusBadRequest, "QUERY_EXECUTION_FAILED", "query execution failed", false, extra)
	default:
		writeError(ctx, w, http.StatusInternalServerError, "PIPELINE_FAILED", "question could not be answered", false, extra)
	}
}

// downloadPath turns exports/date=D/<id>.parquet into /v1/exports/D/<id>.
func downloadPath(key string) string {
	date := strings.TrimPrefix(path.Base(path.Dir(key)), "date=")
	queryID := strings.TrimSuffix(path.Base(key), ".parquet")
	return "/v1/exports/" + date + "/" + queryID
}
