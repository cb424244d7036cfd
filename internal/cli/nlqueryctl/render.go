package nlqueryctl

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
)

type chartView struct {
	Kind  string `json:"kind"`
	X     string `json:"x"`
	Y     string `json:"y"`
	Color string `json:"color"`
	Title string `json:"title"`
}

type exportView struct {
	Key          string `json:"key"`
	DownloadPath string `json:"download_path"`
}

type answerView struct {
	SQL         string      `json:"sql"`
	Columns     []string    `json:"columns"`
	Rows        [][]any     `json:"rows"`
	RowCount    int         `json:"row_count"`
	Truncated   bool        `json:"truncated"`
	Chart       chartView   `json:"chart"`
	Export      *exportView `json:"export"`
	ExportError string      `json:"export_error"`
}

func renderAnswer(w io.Writer, raw []byte) error {
	var answer answerView
	if err := json.Unmarshal(raw, &answer); err != nil {
		return err
	}

	_, _ = fmt.Fprintf(w, "SQL:\n%s\n\n", answer.SQL)
	if answer.RowCount == 0 {
		_, _ = fmt.Fprintln(w, "No data returned")
	} else {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, strings.Join(answer.Columns, "\t"))
		for _, row := range answer.Rows {
			cells := make([]string, len(row))
			for i, value := range row {
				cells[i] = formatCell(value)
			}
			_, _ = fmt.Fprintln(tw, strings.Join(cells, "\t"))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		suffix := ""
		if answer.Truncated {
			suffix = ", truncated"
		}
		_, _ = fmt.Fprintf(w, "\n(%d rows%s)\n", answer.RowCount, suffix)
	}

	_, _ = fmt.Fprintf(w, "\nChart: %s\n", answer.Chart.Title)
	if axes := chartAxes(answer.Chart.X, answer.Chart.Y, answer.Chart.Color); axes != "" {
		_, _ = fmt.Fprintf(w, "  %s\n", axes)
	}
	switch {
	case answer.Export != nil:
		_, _ = fmt.Fprintf(w, "\nExported to %s (download: %s)\n", answer.Export.Key, answer.Export.DownloadPath)
	case answer.ExportError != "":
		_, _ = fmt.Fprintf(w, "\nExport failed: %s\n", answer.ExportError)
	}
	return nil
}

func renderSchema(w io.Writer, raw []byte) error {
	var payload struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return err
	}
	if payload.Text == "" {
		_, _ = fmt.Fprintln(w, "No tables found")
		return nil
	}
	_, _ = fmt.Fprintln(w, payload.Text)
	return nil
}

func renderPrompt(w io.Writer, raw []byte) error {
	var payload struct {
		Prompt        string `json:"prompt"`
		PromptVersion string `json:"prompt_version"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(w, "# template %s\n%s\n", payload.PromptVersion, payload.Prompt)
	return nil
}

// describeError renders the API error envelope as "CODE: message (stage)".
func describeError(raw []byte) (string, bool) {
	var envelope struct {
		ErrorCode string         `json:"error_code"`
		Message   string         `json:"message"`
		Context   map[string]any `json:"context"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope.ErrorCode == "" {
		return "", false
	}
	message := envelope.ErrorCode + ": " + envelope.Message
	if stage, ok := envelope.Context["stage"].(string); ok && stage != "" {
		message += " (stage " + stage + ")"
	}
	if details, ok := envelope.Context["details"].(string); ok && details != "" {
		message += "\n  " + details
	}
	return message, true
}

func chartAxes(x, y, color string) string {
	parts := make([]string, 0, 3)
	if x != "" {
		parts = append(parts, "x="+x)
	}
	if y != "" {
		parts = append(parts, "y="+y)
	}
	if color != "" {
		parts = append(parts, "color="+color)
	}
	return strings.Join(parts, " ")
}

func formatCell(value any) string {
	switch v := value.(type) {
	case nil:
		return "NULL"
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}
