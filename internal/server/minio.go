package server

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MirrorConfig locates the optional S3/MinIO bucket that receives a copy
// of every harvested artifact. Downloads never read from it.
type MirrorConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
}

// Enabled reports whether any mirror setting was given.
func (c MirrorConfig) Enabled() bool {
	return c.Endpoint != "" || c.AccessKey != "" || c.SecretKey != "" || c.Bucket != ""
}

// Complete reports whether every mirror setting was given.
func (c MirrorConfig) Complete() bool {
	return c.Endpoint != "" && c.AccessKey != "" && c.SecretKey != "" && c.Bucket != ""
}

func normaliseEndpoint(raw string) (endpoint string, secure bool, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, fmt.Errorf("empty endpoint")
	}

	// Accept either "minio:9000" or "http://minio:9000" / "https://minio:9000".
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", false, err
		}
		if u.Host == "" {
			return "", false, fmt.Errorf("invalid endpoint")
		}
		if u.Path != "" && u.Path != "/" {
			return "", false, fmt.Errorf("endpoint must not contain a path")
		}
		secure = (u.Scheme == "https")
		return u.Host, secure, nil
	}

	// No scheme provided, treat as host:port (insecure by default for local MinIO).
	return raw, false, nil
}

// ArtifactMirror copies artifacts to a bucket behind a circuit breaker so
// an unreachable MinIO costs one fast failure per artifact, not a timeout.
type ArtifactMirror struct {
	client  *minio.Client
	bucket  string
	breaker *CircuitBreaker

	put func(ctx context.Context, key string, data []byte) error
}

// NewArtifactMirror connects to the bucket and checks that it exists.
func NewArtifactMirror(cfg MirrorConfig) (*ArtifactMirror, error) {
	if !cfg.Complete() {
		return nil, fmt.Errorf("minio configuration incomplete")
	}

	endpoint, secure, err := normaliseEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, err
	}

	// Sanity check: bucket must exist.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("minio bucket does not exist: %s", cfg.Bucket)
	}

	m := &ArtifactMirror{
		client:  client,
		bucket:  cfg.Bucket,
		breaker: NewCircuitBreaker(5, 30*time.Second),
	}
	m.put = m.putObject
	return m, nil
}

func (m *ArtifactMirror) putObject(ctx context.Context, key string, data []byte) error {
	_, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	return err
}

// objectKey is <analysis-id>/<extraction-id>/<file name>.
func objectKey(analysisID string, a registeredArtifact) string {
	return path.Join(analysisID, a.ExtractionID, a.Name)
}

// Upload stores one artifact.
func (m *ArtifactMirror) Upload(ctx context.Context, analysisID string, a registeredArtifact) error {
	return m.breaker.Execute(func() error {
		return m.put(ctx, objectKey(analysisID, a), a.Data)
	})
}

// Health reports bucket reachability and breaker state.
func (m *ArtifactMirror) Health(ctx context.Context) ComponentHealth {
	start := time.Now()
	stats := m.breaker.GetStats()

	if m.client == nil {
		return ComponentHealth{Status: ComponentStatusUp, Message: "mirror configured", Details: stats}
	}

	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return ComponentHealth{
			Status:  ComponentStatusDown,
			Message: "minio connection failed: " + err.Error(),
			Details: stats,
		}
	}
	if !exists {
		return ComponentHealth{
			Status:  ComponentStatusDown,
			Message: "bucket does not exist: " + m.bucket,
			Details: stats,
		}
	}

	latency := time.Since(start).Milliseconds()
	status, message := ComponentStatusUp, "minio healthy"
	if latency > 2000 {
		status, message = ComponentStatusDegraded, "minio latency high"
	}
	if stats.State != StateClosed.String() {
		status, message = ComponentStatusDegraded, "mirror circuit "+stats.State
	}

	return ComponentHealth{
		Status:    status,
		Message:   message,
		LatencyMs: float64(latency),
		Details:   stats,
	}
}

// mirrorArtifacts copies one analysis's artifacts in the background.
// Mirror failures are logged and counted; they never reach the client.
func (s *Server) mirrorArtifacts(analysisID string, artifacts []registeredArtifact) {
	if s.mirror == nil || len(artifacts) == 0 {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		for _, a := range artifacts {
			err := s.mirror.Upload(ctx, analysisID, a)
			GetMetrics().RecordMirror(err == nil)
			if err != nil {
				Warn("mirror_upload_failed", map[string]any{
					"analysis_id":   analysisID,
					"extraction_id": a.ExtractionID,
					"token":         a.Token,
					"error":         err.Error(),
				})
			}
		}
	}()
}
