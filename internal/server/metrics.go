package server

import (
	"sync"
	"time"
)

// Metrics holds application metrics
type Metrics struct {
	mu sync.RWMutex

	// Analysis metrics
	analysesTotal         int64
	analysisBytesTotal    int64
	analysisRejectedTotal int64
	analysisErrorsTotal   int64
	analysisAbandoned     int64
	analysisDurationTotal time.Duration

	// Artifact metrics
	artifactsTotal      int64
	artifactBytesTotal  int64
	harvestSkipsTotal   int64
	mirrorUploadsTotal  int64
	mirrorFailuresTotal int64

	// Download metrics
	downloadsTotal        int64
	downloadBytesTotal    int64
	downloadMissesTotal   int64
	downloadDurationTotal time.Duration

	// System metrics
	requestsTotal    int64
	requestErrors5xx int64
	requestErrors4xx int64
}

var globalMetrics = &Metrics{}

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	return globalMetrics
}

// RecordAnalysis records a completed analysis
func (m *Metrics) RecordAnalysis(inputBytes, artifacts, artifactBytes int64, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.analysesTotal++
	m.analysisBytesTotal += inputBytes
	m.analysisDurationTotal += duration
	m.artifactsTotal += artifacts
	m.artifactBytesTotal += artifactBytes
}

// RecordAnalysisRejected records an upload refused before the engine ran
func (m *Metrics) RecordAnalysisRejected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.analysisRejectedTotal++
}

// RecordAnalysisError records an engine failure
func (m *Metrics) RecordAnalysisError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.analysisErrorsTotal++
}

func (m *Metrics) RecordAnalysisAbandoned() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.analysisAbandoned++
}

func (m *Metrics) RecordHarvestSkip() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.harvestSkipsTotal++
}

// RecordMirror records one artifact mirror attempt
func (m *Metrics) RecordMirror(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ok {
		m.mirrorUploadsTotal++
	} else {
		m.mirrorFailuresTotal++
	}
}

// RecordDownload records a successful download
func (m *Metrics) RecordDownload(bytes int64, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.downloadsTotal++
	m.downloadBytesTotal += bytes
	m.downloadDurationTotal += duration
}

// RecordDownloadMiss records a download for an unknown token
func (m *Metrics) RecordDownloadMiss() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.downloadMissesTotal++
}

// RecordRequest records an HTTP request
func (m *Metrics) RecordRequest(statusCode int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestsTotal++

	if statusCode >= 500 {
		m.requestErrors5xx++
	} else if statusCode >= 400 {
		m.requestErrors4xx++
	}
}

// Snapshot returns a snapshot of current metrics
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return MetricsSnapshot{
		AnalysesTotal:         m.analysesTotal,
		AnalysisBytesTotal:    m.analysisBytesTotal,
		AnalysisRejectedTotal: m.analysisRejectedTotal,
		AnalysisErrorsTotal:   m.analysisErrorsTotal,
		AnalysisAbandoned:     m.analysisAbandoned,
		AnalysisAvgDurationMs: avgDuration(m.analysisDurationTotal, m.analysesTotal),
		ArtifactsTotal:        m.artifactsTotal,
		ArtifactBytesTotal:    m.artifactBytesTotal,
		HarvestSkipsTotal:     m.harvestSkipsTotal,
		MirrorUploadsTotal:    m.mirrorUploadsTotal,
		MirrorFailuresTotal:   m.mirrorFailuresTotal,
		DownloadsTotal:        m.downloadsTotal,
		DownloadBytesTotal:    m.downloadBytesTotal,
		DownloadMissesTotal:   m.downloadMissesTotal,
		DownloadAvgDurationMs: avgDuration(m.downloadDurationTotal, m.downloadsTotal),
		RequestsTotal:         m.requestsTotal,
		RequestErrors5xx:      m.requestErrors5xx,
		RequestErrors4xx:      m.requestErrors4xx,
	}
}

// MetricsSnapshot represents a point-in-time snapshot of metrics
type MetricsSnapshot struct {
	// Analysis metrics
	AnalysesTotal         int64   `json:"analyses_total"`
	AnalysisBytesTotal    int64   `json:"analysis_bytes_total"`
	AnalysisRejectedTotal int64   `json:"analysis_rejected_total"`
	AnalysisErrorsTotal   int64   `json:"analysis_errors_total"`
	AnalysisAbandoned     int64   `json:"analysis_abandoned_total"`
	AnalysisAvgDurationMs float64 `json:"analysis_avg_duration_ms"`

	// Artifact metrics
	ArtifactsTotal      int64 `json:"artifacts_total"`
	ArtifactBytesTotal  int64 `json:"artifact_bytes_total"`
	HarvestSkipsTotal   int64 `json:"harvest_skips_total"`
	MirrorUploadsTotal  int64 `json:"mirror_uploads_total"`
	MirrorFailuresTotal int64 `json:"mirror_failures_total"`

	// Download metrics
	DownloadsTotal        int64   `json:"downloads_total"`
	DownloadBytesTotal    int64   `json:"download_bytes_total"`
	DownloadMissesTotal   int64   `json:"download_misses_total"`
	DownloadAvgDurationMs float64 `json:"download_avg_duration_ms"`

	// System metrics
	RequestsTotal    int64 `json:"requests_total"`
	RequestErrors5xx int64 `json:"request_errors_5xx"`
	RequestErrors4xx int64 `json:"request_errors_4xx"`
}

func avgDuration(total time.Duration, count int64) float64 {
	if count == 0 {
		return 0
	}
	return float64(total.Milliseconds()) / float64(count)
}
