package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

// Analysis outcomes as stored in analyses.outcome.
const (
	OutcomeOK            = "ok"
	OutcomeEngineFailure = "engine_failure"
	OutcomeAbandoned     = "abandoned"
)

// AnalysisRecord is one row of the analyses audit table. It describes an
// analysis; artifact bytes are never persisted.
type AnalysisRecord struct {
	ID           string         `json:"id"`
	CreatedAt    time.Time      `json:"created_at"`
	RequestID    string         `json:"request_id,omitempty"`
	Filename     string         `json:"filename"`
	SizeBytes    int64          `json:"size_bytes"`
	Blake3Hex    string         `json:"blake3"`
	Options      AnalyzeOptions `json:"options"`
	Signatures   int            `json:"signatures"`
	Extractions  int            `json:"extractions"`
	Artifacts    int            `json:"artifacts"`
	DurationMs   int64          `json:"duration_ms"`
	Outcome      string         `json:"outcome"`
	ErrorMessage string         `json:"error_message,omitempty"`
}

func (r AnalysisRecord) finish(outcome string, start time.Time, err error) AnalysisRecord {
	r.CreatedAt = start.UTC()
	r.DurationMs = time.Since(start).Milliseconds()
	r.Outcome = outcome
	if err != nil {
		r.ErrorMessage = err.Error()
	}
	return r
}

// AuditStore persists analysis records in PostgreSQL.
type AuditStore struct {
	db *sql.DB
}

func NewAuditStore(db *sql.DB) *AuditStore {
	return &AuditStore{db: db}
}

// Record inserts one analysis record.
func (a *AuditStore) Record(ctx context.Context, rec AnalysisRecord) error {
	optionsJSON, err := json.Marshal(rec.Options)
	if err != nil {
		return err
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err = a.db.ExecContext(ctx, `
		INSERT INTO analyses (
			id, created_at, request_id, filename, size_bytes, blake3_hex,
			options, signatures, extractions, artifacts, duration_ms,
			outcome, error_message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		rec.ID,
		rec.CreatedAt,
		nullString(rec.RequestID),
		rec.Filename,
		rec.SizeBytes,
		rec.Blake3Hex,
		string(optionsJSON),
		rec.Signatures,
		rec.Extractions,
		rec.Artifacts,
		rec.DurationMs,
		rec.Outcome,
		nullString(rec.ErrorMessage),
	)
	return err
}

// Recent returns up to limit records, newest first.
func (a *AuditStore) Recent(ctx context.Context, limit int) ([]AnalysisRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := a.db.QueryContext(ctx, `
		SELECT id, created_at, request_id, filename, size_bytes, blake3_hex,
		       options, signatures, extractions, artifacts, duration_ms,
		       outcome, error_message
		FROM analyses
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []AnalysisRecord{}
	for rows.Next() {
		var (
			rec         AnalysisRecord
			optionsJSON []byte
			requestID   sql.NullString
			errMsg      sql.NullString
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.CreatedAt,
			&requestID,
			&rec.Filename,
			&rec.SizeBytes,
			&rec.Blake3Hex,
			&optionsJSON,
			&rec.Signatures,
			&rec.Extractions,
			&rec.Artifacts,
			&rec.DurationMs,
			&rec.Outcome,
			&errMsg,
		); err != nil {
			return nil, err
		}
		rec.RequestID = requestID.String
		rec.ErrorMessage = errMsg.String
		if len(optionsJSON) > 0 {
			// Stored by Record, so a decode failure only loses the options.
			_ = json.Unmarshal(optionsJSON, &rec.Options)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// recordAudit writes rec in the background. Audit failures are logged and
// never affect the response.
func (s *Server) recordAudit(rec AnalysisRecord) {
	if s.audit == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.audit.Record(ctx, rec); err != nil {
			Warn("audit_record_failed", map[string]any{
				"analysis_id": rec.ID,
				"error":       err.Error(),
			})
		}
	}()
}

func nullString(s string) sql.NullString {
	return sql.NullString{
		String: s,
		Valid:  s != "",
	}
}
