package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/schmacka/printernizer-sub001/repository"
)

// UsageStatisticsRepository backs Component J's append-only usage-event
// recorder. Writes go through the same write semaphore as every other
// table; the usage package is expected to call InsertEvent
// fire-and-forget so it never blocks a foreground path.
type UsageStatisticsRepository struct {
	db *DB
}

func NewUsageStatisticsRepository(db *DB) *UsageStatisticsRepository {
	return &UsageStatisticsRepository{db: db}
}

func (r *UsageStatisticsRepository) InsertEvent(ctx context.Context, event repository.UsageEvent) error {
	return r.db.withWrite(ctx, func() error {
		payloadJSON, err := encodeJSON(event.Payload)
		if err != nil {
			return err
		}
		_, err = r.db.sql.ExecContext(ctx, `
			INSERT INTO usage_events (event_type, payload, submitted) VALUES ($1,$2,$3)`,
			event.EventType, payloadJSON, boolToInt(event.Submitted))
		return err
	})
}

func (r *UsageStatisticsRepository) GetEvents(ctx context.Context, filter repository.UsageEventFilter) ([]repository.UsageEvent, error) {
	clauses := ""
	var args []any
	var conditions []string
	if filter.EventType != "" {
		conditions = append(conditions, "event_type = ?")
		args = append(args, filter.EventType)
	}
	if filter.From != nil {
		conditions = append(conditions, "at >= ?")
		args = append(args, filter.From.Unix())
	}
	if filter.To != nil {
		conditions = append(conditions, "at <= ?")
		args = append(args, filter.To.Unix())
	}
	if filter.Submitted != nil {
		conditions = append(conditions, "submitted = ?")
		args = append(args, boolToInt(*filter.Submitted))
	}
	for i, c := range conditions {
		if i == 0 {
			clauses = " WHERE " + c
		} else {
			clauses += " AND " + c
		}
	}

	rows, err := r.db.sql.QueryContext(ctx, `
		SELECT id, event_type, payload, at, submitted FROM usage_events`+clauses+` ORDER BY at ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []repository.UsageEvent
	for rows.Next() {
		var e repository.UsageEvent
		var payloadJSON sql.NullString
		var at int64
		var submitted int
		if err := rows.Scan(&e.ID, &e.EventType, &payloadJSON, &at, &submitted); err != nil {
			return nil, err
		}
		e.At = time.Unix(at, 0).UTC()
		e.Submitted = submitted != 0
		if payloadJSON.Valid && payloadJSON.String != "" {
			var m map[string]any
			if err := json.Unmarshal([]byte(payloadJSON.String), &m); err == nil {
				e.Payload = m
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *UsageStatisticsRepository) GetEventCountsByType(ctx context.Context, from, to int64) (map[string]int, error) {
	rows, err := r.db.sql.QueryContext(ctx, `
		SELECT event_type, COUNT(*) FROM usage_events WHERE at BETWEEN $1 AND $2 GROUP BY event_type`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var eventType string
		var count int
		if err := rows.Scan(&eventType, &count); err != nil {
			return nil, err
		}
		out[eventType] = count
	}
	return out, rows.Err()
}

func (r *UsageStatisticsRepository) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.db.sql.QueryRowContext(ctx, "SELECT value FROM usage_settings WHERE key = $1", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (r *UsageStatisticsRepository) SetSetting(ctx context.Context, key, value string) error {
	return r.db.withWrite(ctx, func() error {
		_, err := r.db.sql.ExecContext(ctx, `
			INSERT INTO usage_settings (key, value) VALUES ($1,$2)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
		return err
	})
}

func (r *UsageStatisticsRepository) MarkEventsSubmitted(ctx context.Context, from, to int64) error {
	return r.db.withWrite(ctx, func() error {
		_, err := r.db.sql.ExecContext(ctx,
			"UPDATE usage_events SET submitted = 1 WHERE at BETWEEN $1 AND $2", from, to)
		return err
	})
}
