// prometheus.go - Prometheus text exporter for analysis and blob store metrics
package server

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"binwalk-web/internal/blobstore"
)

// PrometheusExporter converts internal metrics to Prometheus format
type PrometheusExporter struct {
	store   *blobstore.MemoryStore
	version string
}

// NewPrometheusExporter creates a new Prometheus exporter. store may be nil.
func NewPrometheusExporter(store *blobstore.MemoryStore, version string) *PrometheusExporter {
	if version == "" {
		version = "dev"
	}
	return &PrometheusExporter{store: store, version: version}
}

func writeMetric(b *strings.Builder, name, kind, help string, value any) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s %s\n", name, kind)
	fmt.Fprintf(b, "%s %v\n\n", name, value)
}

// Handler returns an HTTP handler for the /metrics endpoint
func (p *PrometheusExporter) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snapshot := GetMetrics().Snapshot()

		var output strings.Builder

		output.WriteString("# HELP bw_info Application version info\n")
		output.WriteString("# TYPE bw_info gauge\n")
		fmt.Fprintf(&output, "bw_info{version=\"%s\"} 1\n\n", prometheusLabel(p.version))

		writeMetric(&output, "bw_requests_total", "counter", "Total number of HTTP requests", snapshot.RequestsTotal)
		writeMetric(&output, "bw_request_errors_4xx_total", "counter", "HTTP responses with a 4xx status", snapshot.RequestErrors4xx)
		writeMetric(&output, "bw_request_errors_5xx_total", "counter", "HTTP responses with a 5xx status", snapshot.RequestErrors5xx)

		// Analyses
		writeMetric(&output, "bw_analyses_total", "counter", "Completed analyses", snapshot.AnalysesTotal)
		writeMetric(&output, "bw_analysis_input_bytes_total", "counter", "Bytes of uploaded input analysed", snapshot.AnalysisBytesTotal)
		output.WriteString("# HELP bw_analysis_failures_total Analyses that did not complete, by reason\n")
		output.WriteString("# TYPE bw_analysis_failures_total counter\n")
		fmt.Fprintf(&output, "bw_analysis_failures_total{reason=\"rejected\"} %d\n", snapshot.AnalysisRejectedTotal)
		fmt.Fprintf(&output, "bw_analysis_failures_total{reason=\"engine\"} %d\n", snapshot.AnalysisErrorsTotal)
		fmt.Fprintf(&output, "bw_analysis_failures_total{reason=\"abandoned\"} %d\n\n", snapshot.AnalysisAbandoned)

		p50, p95, p99 := GetRequestDurationPercentiles("analyze")
		output.WriteString("# HELP bw_analysis_duration_ms Analysis latency percentiles over recent requests\n")
		output.WriteString("# TYPE bw_analysis_duration_ms summary\n")
		fmt.Fprintf(&output, "bw_analysis_duration_ms{quantile=\"0.5\"} %.0f\n", p50)
		fmt.Fprintf(&output, "bw_analysis_duration_ms{quantile=\"0.95\"} %.0f\n", p95)
		fmt.Fprintf(&output, "bw_analysis_duration_ms{quantile=\"0.99\"} %.0f\n\n", p99)

		// Artifacts
		writeMetric(&output, "bw_artifacts_total", "counter", "Extracted files registered for download", snapshot.ArtifactsTotal)
		writeMetric(&output, "bw_artifact_bytes_total", "counter", "Bytes of extracted files registered", snapshot.ArtifactBytesTotal)
		writeMetric(&output, "bw_harvest_skips_total", "counter", "Extraction directories or files skipped during harvest", snapshot.HarvestSkipsTotal)
		output.WriteString("# HELP bw_mirror_uploads_total Artifact mirror attempts, by result\n")
		output.WriteString("# TYPE bw_mirror_uploads_total counter\n")
		fmt.Fprintf(&output, "bw_mirror_uploads_total{result=\"ok\"} %d\n", snapshot.MirrorUploadsTotal)
		fmt.Fprintf(&output, "bw_mirror_uploads_total{result=\"error\"} %d\n\n", snapshot.MirrorFailuresTotal)

		// Downloads
		writeMetric(&output, "bw_downloads_total", "counter", "Artifacts served", snapshot.DownloadsTotal)
		writeMetric(&output, "bw_download_bytes_total", "counter", "Bytes of artifacts served", snapshot.DownloadBytesTotal)
		writeMetric(&output, "bw_download_misses_total", "counter", "Downloads for unknown tokens", snapshot.DownloadMissesTotal)

		// Blob store
		if p.store != nil {
			st := p.store.Stats()
			writeMetric(&output, "bw_blob_entries", "gauge", "Artifacts currently held in memory", st.Entries)
			writeMetric(&output, "bw_blob_bytes", "gauge", "Bytes currently held in memory", st.Bytes)
			writeMetric(&output, "bw_blob_evicted_total", "counter", "Artifacts evicted by the size bound or age sweep", st.Evicted)
		}

		uptime := time.Since(serverStartTime).Seconds()
		writeMetric(&output, "bw_uptime_seconds", "counter", "Application uptime in seconds", fmt.Sprintf("%.0f", uptime))

		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(output.String()))
	}
}

// PrometheusMetricsHandler creates a handler that exports metrics in Prometheus format
func PrometheusMetricsHandler(store *blobstore.MemoryStore, version string) http.Handler {
	return NewPrometheusExporter(store, version).Handler()
}

// Helper function to format label safely for Prometheus
func prometheusLabel(value string) string {
	value = strings.ReplaceAll(value, "\\", "\\\\")
	value = strings.ReplaceAll(value, "\"", "\\\"")
	return value
}

// MetricsSummary keeps recent request durations per endpoint
type MetricsSummary struct {
	mu               sync.RWMutex
	requestDurations map[string][]float64 // endpoint -> durations in ms
}

var (
	metricsSummary = &MetricsSummary{
		requestDurations: make(map[string][]float64),
	}
	serverStartTime = time.Now()
)

// RecordRequestDuration records the duration of a request for percentile metrics
func RecordRequestDuration(endpoint string, durationMs float64) {
	metricsSummary.mu.Lock()
	defer metricsSummary.mu.Unlock()

	if metricsSummary.requestDurations[endpoint] == nil {
		metricsSummary.requestDurations[endpoint] = make([]float64, 0, 1000)
	}

	durations := metricsSummary.requestDurations[endpoint]
	durations = append(durations, durationMs)

	// Keep only last 1000 samples per endpoint
	if len(durations) > 1000 {
		durations = durations[len(durations)-1000:]
	}

	metricsSummary.requestDurations[endpoint] = durations
}

// GetRequestDurationPercentiles returns percentile data for request durations
func GetRequestDurationPercentiles(endpoint string) (p50, p95, p99 float64) {
	metricsSummary.mu.RLock()
	defer metricsSummary.mu.RUnlock()

	durations := metricsSummary.requestDurations[endpoint]
	if len(durations) == 0 {
		return 0, 0, 0
	}

	sorted := make([]float64, len(durations))
	copy(sorted, durations)
	sort.Float64s(sorted)

	p50 = sorted[len(sorted)*50/100]
	p95 = sorted[len(sorted)*95/100]
	p99 = sorted[len(sorted)*99/100]

	return
}
