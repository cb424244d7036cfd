package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nlquery_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nlquery_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	pipelineStageDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nlquery_pipeline_stage_duration_seconds",
			Help:    "Time spent in each question pipeline stage.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"stage"},
	)
	pipelineFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nlquery_pipeline_failures_total",
			Help: "Questions that failed, by the stage that failed.",
		},
		[]string{"stage"},
	)
	pipelineQuestionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nlquery_pipeline_questions_total",
			Help: "Questions processed, by outcome.",
		},
		[]string{"outcome"},
	)
	chartSelectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nlquery_chart_selections_total",
			Help: "Chart kinds chosen for answered questions.",
		},
		[]string{"kind"},
	)
	resultRows = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nlquery_result_rows",
			Help:    "Rows returned per answered question.",
			Buckets: []float64{0, 1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
		},
	)
	generationAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nlquery_generation_attempts_total",
			Help: "Calls to the SQL generation service, by outcome.",
		},
		[]string{"outcome"},
	)
	exportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nlquery_exports_total",
			Help: "Result set exports to object storage, by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDurationSeconds,
		pipelineStageDurationSeconds,
		pipelineFailuresTotal,
		pipelineQuestionsTotal,
		chartSelectionsTotal,
		resultRows,
		generationAttemptsTotal,
		exportsTotal,
	)
}

func ObservePipelineStage(stage string, elapsed time.Duration) {
	pipelineStageDurationSeconds.WithLabelValues(stage).Observe(elapsed.Seconds())
}

func IncrementPipelineFailure(stage string) {
	pipelineFailuresTotal.WithLabelValues(stage).Inc()
	pipelineQuestionsTotal.WithLabelValues("failed").Inc()
}

func ObserveAnswer(chartKind string, rows int) {
	pipelineQuestionsTotal.WithLabelValues("answered").Inc()
	chartSelectionsTotal.WithLabelValues(chartKind).Inc()
	if rows < 0 {
		rows = 0
	}
	resultRows.Observe(float64(rows))
}

// IncrementGenerationAttempt records one call to the generation service.
// outcome is "ok", "error" or "timeout".
func IncrementGenerationAttempt(outcome string) {
	generationAttemptsTotal.WithLabelValues(outcome).Inc()
}

func IncrementExport(ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	exportsTotal.WithLabelValues(outcome).Inc()
}
