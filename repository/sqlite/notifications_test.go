package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/schmacka/printernizer-sub001/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testChannel(id string) repository.NotificationChannel {
	return repository.NotificationChannel{
		ID:            id,
		Name:          "Discord alerts",
		Type:          repository.NotificationChannelDiscord,
		WebhookURL:    "https://discord.com/api/webhooks/123/abc",
		IsEnabled:     true,
		Subscriptions: []string{"job_started", "job_completed"},
	}
}

func TestNotificationCreateChannelAndGet(t *testing.T) {
	db := newTestDB(t)
	repo := NewNotificationRepository(db)
	ctx := context.Background()

	created, err := repo.CreateChannel(ctx, testChannel("ch-1"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"job_started", "job_completed"}, created.Subscriptions)

	fetched, err := repo.GetChannel(ctx, "ch-1")
	require.NoError(t, err)
	assert.Equal(t, created.WebhookURL, fetched.WebhookURL)
}

func TestNotificationChannelsSubscribedTo(t *testing.T) {
	db := newTestDB(t)
	repo := NewNotificationRepository(db)
	ctx := context.Background()

	_, err := repo.CreateChannel(ctx, testChannel("ch-1"))
	require.NoError(t, err)

	other := testChannel("ch-2")
	other.Subscriptions = []string{"printer_disconnected"}
	_, err = repo.CreateChannel(ctx, other)
	require.NoError(t, err)

	subscribed, err := repo.ChannelsSubscribedTo(ctx, "job_started")
	require.NoError(t, err)
	require.Len(t, subscribed, 1)
	assert.Equal(t, "ch-1", subscribed[0].ID)
}

func TestNotificationChannelsSubscribedToSkipsDisabled(t *testing.T) {
	db := newTestDB(t)
	repo := NewNotificationRepository(db)
	ctx := context.Background()

	disabled := testChannel("ch-1")
	disabled.IsEnabled = false
	_, err := repo.CreateChannel(ctx, disabled)
	require.NoError(t, err)

	subscribed, err := repo.ChannelsSubscribedTo(ctx, "job_started")
	require.NoError(t, err)
	assert.Empty(t, subscribed)
}

func TestNotificationRecordAndHistory(t *testing.T) {
	db := newTestDB(t)
	repo := NewNotificationRepository(db)
	ctx := context.Background()

	_, err := repo.CreateChannel(ctx, testChannel("ch-1"))
	require.NoError(t, err)

	require.NoError(t, repo.Record(ctx, "ch-1", "job_started", map[string]any{"job_id": "j-1"}, repository.NotificationStatusSent, ""))
	require.NoError(t, repo.Record(ctx, "ch-1", "job_failed", nil, repository.NotificationStatusFailed, "webhook timeout"))

	history, err := repo.History(ctx, "ch-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "job_failed", history[0].EventType)
	assert.Equal(t, "webhook timeout", history[0].Error)

	count, err := repo.CountHistory(ctx, "ch-1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestNotificationCleanupDeletesOldHistory(t *testing.T) {
	db := newTestDB(t)
	repo := NewNotificationRepository(db)
	ctx := context.Background()

	_, err := repo.CreateChannel(ctx, testChannel("ch-1"))
	require.NoError(t, err)
	require.NoError(t, repo.Record(ctx, "ch-1", "job_started", nil, repository.NotificationStatusSent, ""))

	old := time.Now().AddDate(0, 0, -40).Unix()
	_, err = db.sql.ExecContext(ctx, "UPDATE notification_history SET at = $1", old)
	require.NoError(t, err)

	deleted, err := repo.Cleanup(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	count, err := repo.CountHistory(ctx, "ch-1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
