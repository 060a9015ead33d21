package invalidation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"encore.dev/storage/sqldb"
)

// AuditLog is one admin invalidation.
type AuditLog struct {
	ID          int64     `json:"id"`
	Family      string    `json:"family"`
	Selector    string    `json:"selector"` // what was selected, e.g. "bed-info:bed-json:서울*"
	Keys        []string  `json:"keys"`
	Pattern     string    `json:"pattern"`
	All         bool      `json:"all"`
	TriggeredBy string    `json:"triggered_by"`
	Timestamp   time.Time `json:"timestamp"`
	RequestID   string    `json:"request_id"`
	Latency     int64     `json:"latency_ms"`
}

// AuditStore persists invalidations.
type AuditStore interface {
	Insert(ctx context.Context, log AuditLog) error
	GetRecent(ctx context.Context, limit, offset int, family string) ([]AuditLog, error)
	GetCount(ctx context.Context, family string) (int, error)
	GetByRequestID(ctx context.Context, requestID string) ([]AuditLog, error)
}

// AuditLogger is the Postgres AuditStore. The table is append-only and
// request_id is unique, so redelivered inserts are dropped.
type AuditLogger struct {
	db *sqldb.Database
}

// NewAuditLogger wraps db. The schema comes from ./migrations.
func NewAuditLogger(db *sqldb.Database) *AuditLogger {
	return &AuditLogger{db: db}
}

const auditColumns = `id, family, selector, keys, pattern, all_families, triggered_by, timestamp, request_id, latency_ms`

// Insert appends a log entry.
func (al *AuditLogger) Insert(ctx context.Context, log AuditLog) error {
	keysJSON, err := json.Marshal(log.Keys)
	if err != nil {
		return fmt.Errorf("failed to marshal keys: %w", err)
	}

	_, err = al.db.Exec(ctx, `
		INSERT INTO cache_invalidation_audit
		(family, selector, keys, pattern, all_families, triggered_by, timestamp, request_id, latency_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (request_id) DO NOTHING
	`,
		log.Family,
		log.Selector,
		keysJSON,
		log.Pattern,
		log.All,
		log.TriggeredBy,
		log.Timestamp,
		log.RequestID,
		log.Latency,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

// GetRecent returns logs newest first, optionally for one family.
func (al *AuditLogger) GetRecent(ctx context.Context, limit, offset int, family string) ([]AuditLog, error) {
	var (
		rows *sqldb.Rows
		err  error
	)
	if family != "" {
		rows, err = al.db.Query(ctx, `
			SELECT `+auditColumns+`
			FROM cache_invalidation_audit
			WHERE family = $1
			ORDER BY timestamp DESC
			LIMIT $2 OFFSET $3
		`, family, limit, offset)
	} else {
		rows, err = al.db.Query(ctx, `
			SELECT `+auditColumns+`
			FROM cache_invalidation_audit
			ORDER BY timestamp DESC
			LIMIT $1 OFFSET $2
		`, limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	return scanLogs(rows, limit)
}

// GetCount returns the number of logs, optionally for one family.
func (al *AuditLogger) GetCount(ctx context.Context, family string) (int, error) {
	var count int
	var err error
	if family != "" {
		err = al.db.QueryRow(ctx, `SELECT COUNT(*) FROM cache_invalidation_audit WHERE family = $1`, family).Scan(&count)
	} else {
		err = al.db.QueryRow(ctx, `SELECT COUNT(*) FROM cache_invalidation_audit`).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count audit logs: %w", err)
	}
	return count, nil
}

// GetByRequestID returns the logs for one request.
func (al *AuditLogger) GetByRequestID(ctx context.Context, requestID string) ([]AuditLog, error) {
	rows, err := al.db.Query(ctx, `
		SELECT `+auditColumns+`
		FROM cache_invalidation_audit
		WHERE request_id = $1
	`, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs by request ID: %w", err)
	}
	return scanLogs(rows, 1)
}

// Cleanup removes logs older than olderThan.
func (al *AuditLogger) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	result, err := al.db.Exec(ctx, `DELETE FROM cache_invalidation_audit WHERE timestamp < $1`, time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup audit logs: %w", err)
	}
	return result.RowsAffected(), nil
}

func scanLogs(rows *sqldb.Rows, capacity int) ([]AuditLog, error) {
	defer rows.Close()

	logs := make([]AuditLog, 0, capacity)
	for rows.Next() {
		var (
			log      AuditLog
			keysJSON []byte
		)
		if err := rows.Scan(
			&log.ID,
			&log.Family,
			&log.Selector,
			&keysJSON,
			&log.Pattern,
			&log.All,
			&log.TriggeredBy,
			&log.Timestamp,
			&log.RequestID,
			&log.Latency,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		if len(keysJSON) > 0 {
			if err := json.Unmarshal(keysJSON, &log.Keys); err != nil {
				log.Keys = []string{}
			}
		}
		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit logs: %w", err)
	}
	return logs, nil
}
