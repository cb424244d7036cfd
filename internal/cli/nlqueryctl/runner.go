package nlqueryctl

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	formatJSON  = "json"
	formatTable = "table"
)

type Options struct {
	BaseURL    string
	Format     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("nlqueryctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "nlquery API base URL")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 60*time.Second), "HTTP timeout (e.g. 60s)")
	format := fs.String("format", firstNonEmpty(defaults.Format, formatTable), "output format: json or table")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}
	if *format != formatJSON && *format != formatTable {
		_, _ = fmt.Fprintf(stderr, "unknown format %q\n", *format)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}

	command := strings.TrimSpace(fs.Arg(0))
	rest := fs.Args()[1:]
	var (
		method  string
		path    string
		payload any
		render  func(io.Writer, []byte) error
	)
	switch command {
	case "health":
		method, path = http.MethodGet, "/v1/health"
	case "ready":
		method, path = http.MethodGet, "/v1/ready"
	case "schema":
		method, path, render = http.MethodGet, "/v1/schema", renderSchema
	case "prompt":
		question := strings.Join(rest, " ")
		if strings.TrimSpace(question) == "" {
			_, _ = fmt.Fprintln(stderr, "prompt requires a question")
			return 2
		}
		method, path, render = http.MethodPost, "/v1/prompt", renderPrompt
		payload = map[string]any{"question": question}
	case "ask":
		askFlags := flag.NewFlagSet("ask", flag.ContinueOnError)
		askFlags.SetOutput(stderr)
		export := askFlags.Bool("export", false, "export the result as parquet to the object store")
		if err := askFlags.Parse(rest); err != nil {
			return 2
		}
		question := strings.Join(askFlags.Args(), " ")
		if strings.TrimSpace(question) == "" {
			_, _ = fmt.Fprintln(stderr, "ask requires a question")
			return 2
		}
		method, path, render = http.MethodPost, "/v1/ask", renderAnswer
		payload = map[string]any{"question": question, "export": *export}
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", command)
		writeUsage(stderr)
		return 2
	}

	endpoint := strings.TrimRight(*baseURL, "/") + path
	code, responseBody, err := doRequest(ctx, client, method, endpoint, payload)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}

	if code >= 400 {
		if *format == formatTable {
			if message, ok := describeError(responseBody); ok {
				_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, message)
				return 1
			}
		}
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, strings.TrimSpace(string(responseBody)))
		return 1
	}

	if *format == formatTable && render != nil {
		if err := render(stdout, responseBody); err != nil {
			_, _ = fmt.Fprintf(stderr, "render response: %v\n", err)
			return 1
		}
		return 0
	}
	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return 0
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(stdout, string(responseBody))
	}
	return 0
}

func doRequest(ctx context.Context, client *http.Client, method, url string, payload any) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, responseBody, nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: nlqueryctl [flags] <command> [args]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health                       GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready                        GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  schema                       GET /v1/schema")
	_, _ = fmt.Fprintln(w, "  prompt <question...>         POST /v1/prompt")
	_, _ = fmt.Fprintln(w, "  ask [-export] <question...>  POST /v1/ask")
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
