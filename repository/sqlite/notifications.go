package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/schmacka/printernizer-sub001/repository"
	"github.com/schmacka/printernizer-sub001/supervisor/errs"
)

type NotificationRepository struct {
	db *DB
}

func NewNotificationRepository(db *DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

const channelSelectColumns = `SELECT id, name, type, webhook_url, topic, is_enabled, subscriptions`

func scanChannel(row scanner) (repository.NotificationChannel, error) {
	var c repository.NotificationChannel
	var topic sql.NullString
	var isEnabled int
	var subsJSON string

	err := row.Scan(&c.ID, &c.Name, &c.Type, &c.WebhookURL, &topic, &isEnabled, &subsJSON)
	if err != nil {
		return repository.NotificationChannel{}, err
	}
	c.Topic = topic.String
	c.IsEnabled = isEnabled != 0
	_ = json.Unmarshal([]byte(subsJSON), &c.Subscriptions)
	return c, nil
}

func (r *NotificationRepository) CreateChannel(ctx context.Context, channel repository.NotificationChannel) (repository.NotificationChannel, error) {
	err := r.db.withWrite(ctx, func() error {
		subsJSON, err := json.Marshal(channel.Subscriptions)
		if err != nil {
			return err
		}
		_, err = r.db.sql.ExecContext(ctx, `
			INSERT INTO notification_channels (id, name, type, webhook_url, topic, is_enabled, subscriptions)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			channel.ID, channel.Name, channel.Type, channel.WebhookURL, nullString(channel.Topic),
			boolToInt(channel.IsEnabled), string(subsJSON))
		return err
	})
	if err != nil {
		return repository.NotificationChannel{}, err
	}
	return r.GetChannel(ctx, channel.ID)
}

func (r *NotificationRepository) GetChannel(ctx context.Context, id string) (repository.NotificationChannel, error) {
	c, err := scanChannel(r.db.sql.QueryRowContext(ctx, channelSelectColumns+" FROM notification_channels WHERE id = $1", id))
	if err == sql.ErrNoRows {
		return repository.NotificationChannel{}, errs.NotFound("notification channel", id)
	}
	return c, err
}

func (r *NotificationRepository) ListChannels(ctx context.Context) ([]repository.NotificationChannel, error) {
	rows, err := r.db.sql.QueryContext(ctx, channelSelectColumns+" FROM notification_channels ORDER BY name ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []repository.NotificationChannel
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *NotificationRepository) UpdateChannel(ctx context.Context, id string, patch repository.NotificationChannelPatch) (repository.NotificationChannel, error) {
	err := r.db.withWrite(ctx, func() error {
		current, err := r.GetChannel(ctx, id)
		if err != nil {
			return err
		}
		if patch.Name != nil {
			current.Name = *patch.Name
		}
		if patch.WebhookURL != nil {
			current.WebhookURL = *patch.WebhookURL
		}
		if patch.Topic != nil {
			current.Topic = *patch.Topic
		}
		if patch.IsEnabled != nil {
			current.IsEnabled = *patch.IsEnabled
		}
		if patch.Subscriptions != nil {
			current.Subscriptions = patch.Subscriptions
		}

		subsJSON, err := json.Marshal(current.Subscriptions)
		if err != nil {
			return err
		}
		_, err = r.db.sql.ExecContext(ctx, `
			UPDATE notification_channels SET name=$1, webhook_url=$2, topic=$3, is_enabled=$4, subscriptions=$5
			WHERE id=$6`,
			current.Name, current.WebhookURL, nullString(current.Topic), boolToInt(current.IsEnabled), string(subsJSON), id)
		return err
	})
	if err != nil {
		return repository.NotificationChannel{}, err
	}
	return r.GetChannel(ctx, id)
}

func (r *NotificationRepository) DeleteChannel(ctx context.Context, id string) error {
	return r.db.withWrite(ctx, func() error {
		_, err := r.db.sql.ExecContext(ctx, "DELETE FROM notification_channels WHERE id = $1", id)
		return err
	})
}

// ChannelsSubscribedTo returns every enabled channel whose subscriptions
// list names eventType. Subscriptions are stored JSON-encoded, so this
// filters in Go rather than in SQL.
func (r *NotificationRepository) ChannelsSubscribedTo(ctx context.Context, eventType string) ([]repository.NotificationChannel, error) {
	all, err := r.ListChannels(ctx)
	if err != nil {
		return nil, err
	}
	var out []repository.NotificationChannel
	for _, c := range all {
		if !c.IsEnabled {
			continue
		}
		for _, s := range c.Subscriptions {
			if s == eventType {
				out = append(out, c)
				break
			}
		}
	}
	return out, nil
}

func (r *NotificationRepository) Record(ctx context.Context, channelID, eventType string, eventData map[string]any, status repository.NotificationStatus, errMsg string) error {
	return r.db.withWrite(ctx, func() error {
		dataJSON, err := encodeJSON(eventData)
		if err != nil {
			return err
		}
		_, err = r.db.sql.ExecContext(ctx, `
			INSERT INTO notification_history (channel_id, event_type, event_data, status, error)
			VALUES ($1,$2,$3,$4,$5)`,
			channelID, eventType, dataJSON, status, nullString(errMsg))
		return err
	})
}

func (r *NotificationRepository) History(ctx context.Context, channelID string, limit, offset int) ([]repository.NotificationHistory, error) {
	rows, err := r.db.sql.QueryContext(ctx, `
		SELECT id, channel_id, event_type, event_data, status, error, at
		FROM notification_history WHERE channel_id = $1 ORDER BY at DESC, id DESC LIMIT ? OFFSET ?`, channelID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []repository.NotificationHistory
	for rows.Next() {
		var h repository.NotificationHistory
		var dataJSON, errMsg sql.NullString
		var at int64
		if err := rows.Scan(&h.ID, &h.ChannelID, &h.EventType, &dataJSON, &h.Status, &errMsg, &at); err != nil {
			return nil, err
		}
		h.Error = errMsg.String
		h.At = time.Unix(at, 0).UTC()
		if dataJSON.Valid && dataJSON.String != "" {
			var m map[string]any
			if err := json.Unmarshal([]byte(dataJSON.String), &m); err == nil {
				h.EventData = m
			}
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (r *NotificationRepository) CountHistory(ctx context.Context, channelID string) (int, error) {
	var count int
	err := r.db.sql.QueryRowContext(ctx, "SELECT COUNT(*) FROM notification_history WHERE channel_id = $1", channelID).Scan(&count)
	return count, err
}

// Cleanup deletes history rows older than olderThanDays, the retention
// policy §4.6 asks for.
func (r *NotificationRepository) Cleanup(ctx context.Context, olderThanDays int) (int, error) {
	var affected int64
	err := r.db.withWrite(ctx, func() error {
		cutoff := time.Now().AddDate(0, 0, -olderThanDays).Unix()
		res, err := r.db.sql.ExecContext(ctx, "DELETE FROM notification_history WHERE at < $1", cutoff)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	return int(affected), err
}
