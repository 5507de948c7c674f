package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// HealthStatus represents the overall health of the system
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// ComponentStatus represents the health of an individual component
type ComponentStatus string

const (
	ComponentStatusUp       ComponentStatus = "up"
	ComponentStatusDown     ComponentStatus = "down"
	ComponentStatusDegraded ComponentStatus = "degraded"
)

// Health represents the complete health check response
type Health struct {
	Status     HealthStatus               `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents the health of a single system component
type ComponentHealth struct {
	Status    ComponentStatus `json:"status"`
	Message   string          `json:"message,omitempty"`
	LatencyMs float64         `json:"latency_ms,omitempty"`
	Details   interface{}     `json:"details,omitempty"`
}

// pathChecker is implemented by engines backed by an external binary.
type pathChecker interface {
	LookPath() (string, error)
}

// HandleHealth provides a detailed health check endpoint
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.checkHealth(r.Context())

	statusCode := http.StatusOK // degraded still answers 200
	if health.Status == HealthStatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, health)
}

// HandleLive provides a liveness probe (is the process running?)
func (s *Server) HandleLive(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status": "alive",
	})
}

// checkHealth checks every configured component. Optional components
// (database, minio) only appear when configured.
func (s *Server) checkHealth(ctx context.Context) Health {
	health := Health{
		Timestamp:  time.Now(),
		Version:    s.version,
		Components: make(map[string]ComponentHealth),
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	health.Components["blob_store"] = s.checkBlobStoreHealth()
	health.Components["engine"] = s.checkEngineHealth()
	health.Components["engine_pool"] = s.checkPoolHealth()
	if s.db != nil {
		health.Components["database"] = s.checkDatabaseHealth(ctx)
	}
	if s.mirror != nil {
		health.Components["minio"] = s.mirror.Health(ctx)
	}

	health.Status = determineOverallHealth(health.Components)
	return health
}

func (s *Server) checkBlobStoreHealth() ComponentHealth {
	st := s.store.Stats()
	return ComponentHealth{
		Status:  ComponentStatusUp,
		Message: "in-memory store",
		Details: st,
	}
}

// checkEngineHealth verifies that the engine binary can be found. Engines
// that are not backed by a binary are always up.
func (s *Server) checkEngineHealth() ComponentHealth {
	pc, ok := s.engine.(pathChecker)
	if !ok {
		return ComponentHealth{Status: ComponentStatusUp, Message: "engine ready"}
	}
	path, err := pc.LookPath()
	if err != nil {
		return ComponentHealth{
			Status:  ComponentStatusDown,
			Message: "engine binary not found: " + err.Error(),
		}
	}
	return ComponentHealth{
		Status:  ComponentStatusUp,
		Message: "engine ready",
		Details: map[string]string{"path": path},
	}
}

// checkPoolHealth reports degraded while requests are queued for a slot.
func (s *Server) checkPoolHealth() ComponentHealth {
	st := s.pool.stats()
	h := ComponentHealth{Status: ComponentStatusUp, Message: "workers available", Details: st}
	if st.Waiting > 0 {
		h.Status = ComponentStatusDegraded
		h.Message = "analyses queued for a worker"
	}
	return h
}

// checkDatabaseHealth checks PostgreSQL connectivity and the audit table
func (s *Server) checkDatabaseHealth(ctx context.Context) ComponentHealth {
	start := time.Now()

	if err := s.db.PingContext(ctx); err != nil {
		return ComponentHealth{
			Status:  ComponentStatusDown,
			Message: "database ping failed: " + err.Error(),
		}
	}

	var analyses int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM analyses").Scan(&analyses); err != nil {
		return ComponentHealth{
			Status:  ComponentStatusDegraded,
			Message: "database query failed: " + err.Error(),
		}
	}

	latency := time.Since(start).Milliseconds()

	stats := s.db.Stats()
	details := map[string]interface{}{
		"analyses":         analyses,
		"open_connections": stats.OpenConnections,
		"in_use":           stats.InUse,
		"idle":             stats.Idle,
		"wait_count":       stats.WaitCount,
		"wait_duration_ms": stats.WaitDuration.Milliseconds(),
	}

	status := ComponentStatusUp
	message := "database healthy"
	if latency > 1000 {
		status = ComponentStatusDegraded
		message = "database latency high"
	}

	return ComponentHealth{
		Status:    status,
		Message:   message,
		LatencyMs: float64(latency),
		Details:   details,
	}
}

// determineOverallHealth calculates overall health from component statuses
func determineOverallHealth(components map[string]ComponentHealth) HealthStatus {
	var (
		downCount     int
		degradedCount int
	)

	for _, component := range components {
		switch component.Status {
		case ComponentStatusDown:
			downCount++
		case ComponentStatusDegraded:
			degradedCount++
		}
	}

	if downCount > 0 {
		return HealthStatusUnhealthy
	}
	if degradedCount > 0 {
		return HealthStatusDegraded
	}
	return HealthStatusHealthy
}
