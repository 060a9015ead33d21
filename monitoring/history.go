package monitoring

import (
	"context"
	"fmt"
	"time"

	"encore.dev/storage/sqldb"

	"github.com/erboard/erboard/pkg/pubsub"
)

// HistoryStore persists health transitions.
type HistoryStore interface {
	Record(ctx context.Context, event *pubsub.HealthEvent) (bool, error)
	Recent(ctx context.Context, api string, limit int) ([]*pubsub.HealthEvent, error)
	Cleanup(ctx context.Context, olderThan time.Time) (int64, error)
}

// History is the Postgres HistoryStore. Rows are keyed by event ID, so a
// redelivered event is stored once.
type History struct {
	db *sqldb.Database
}

// NewHistory wraps db. The schema comes from ./migrations.
func NewHistory(db *sqldb.Database) *History {
	return &History{db: db}
}

// Record stores event and reports whether it was new.
func (h *History) Record(ctx context.Context, event *pubsub.HealthEvent) (bool, error) {
	res, err := h.db.Exec(ctx, `
		INSERT INTO upstream_health_events
		(id, api_name, state, detail, region, item_count, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`,
		event.ID,
		event.APIName,
		string(event.State),
		event.Detail,
		event.Region,
		event.ItemCount,
		event.Timestamp,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert health event: %w", err)
	}
	return res.RowsAffected() > 0, nil
}

// Recent returns events newest first, optionally for one API.
func (h *History) Recent(ctx context.Context, api string, limit int) ([]*pubsub.HealthEvent, error) {
	var (
		rows *sqldb.Rows
		err  error
	)
	if api != "" {
		rows, err = h.db.Query(ctx, `
			SELECT id, api_name, state, detail, region, item_count, occurred_at
			FROM upstream_health_events
			WHERE api_name = $1
			ORDER BY occurred_at DESC
			LIMIT $2
		`, api, limit)
	} else {
		rows, err = h.db.Query(ctx, `
			SELECT id, api_name, state, detail, region, item_count, occurred_at
			FROM upstream_health_events
			ORDER BY occurred_at DESC
			LIMIT $1
		`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query health events: %w", err)
	}
	defer rows.Close()

	events := make([]*pubsub.HealthEvent, 0, limit)
	for rows.Next() {
		var (
			ev    = &pubsub.HealthEvent{Version: pubsub.EventVersion1}
			state string
		)
		if err := rows.Scan(&ev.ID, &ev.APIName, &state, &ev.Detail, &ev.Region, &ev.ItemCount, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan health event: %w", err)
		}
		ev.State = pubsub.HealthState(state)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating health events: %w", err)
	}
	return events, nil
}

// Cleanup removes events older than olderThan.
func (h *History) Cleanup(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := h.db.Exec(ctx, `DELETE FROM upstream_health_events WHERE occurred_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup health events: %w", err)
	}
	return res.RowsAffected(), nil
}
