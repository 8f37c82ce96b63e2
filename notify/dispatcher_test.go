package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/schmacka/printernizer-sub001/bus"
	"github.com/schmacka/printernizer-sub001/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	SetAllowTestWebhooks(true)
	retryDelay = time.Millisecond
}

type fakeNotificationRepo struct {
	mu       sync.Mutex
	channels []repository.NotificationChannel
	records  []recordedCall
}

type recordedCall struct {
	channelID string
	eventType string
	status    repository.NotificationStatus
	errMsg    string
}

func (r *fakeNotificationRepo) CreateChannel(ctx context.Context, c repository.NotificationChannel) (repository.NotificationChannel, error) {
	r.channels = append(r.channels, c)
	return c, nil
}
func (r *fakeNotificationRepo) GetChannel(ctx context.Context, id string) (repository.NotificationChannel, error) {
	for _, c := range r.channels {
		if c.ID == id {
			return c, nil
		}
	}
	return repository.NotificationChannel{}, assert.AnError
}
func (r *fakeNotificationRepo) ListChannels(ctx context.Context) ([]repository.NotificationChannel, error) {
	return r.channels, nil
}
func (r *fakeNotificationRepo) UpdateChannel(ctx context.Context, id string, patch repository.NotificationChannelPatch) (repository.NotificationChannel, error) {
	return repository.NotificationChannel{}, nil
}
func (r *fakeNotificationRepo) DeleteChannel(ctx context.Context, id string) error { return nil }

func (r *fakeNotificationRepo) ChannelsSubscribedTo(ctx context.Context, eventType string) ([]repository.NotificationChannel, error) {
	var out []repository.NotificationChannel
	for _, c := range r.channels {
		for _, s := range c.Subscriptions {
			if s == eventType {
				out = append(out, c)
				break
			}
		}
	}
	return out, nil
}

func (r *fakeNotificationRepo) Record(ctx context.Context, channelID, eventType string, eventData map[string]any, status repository.NotificationStatus, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, recordedCall{channelID: channelID, eventType: eventType, status: status, errMsg: errMsg})
	return nil
}
func (r *fakeNotificationRepo) History(ctx context.Context, channelID string, limit, offset int) ([]repository.NotificationHistory, error) {
	return nil, nil
}
func (r *fakeNotificationRepo) CountHistory(ctx context.Context, channelID string) (int, error) {
	return 0, nil
}
func (r *fakeNotificationRepo) Cleanup(ctx context.Context, olderThanDays int) (int, error) {
	return 0, nil
}

func (r *fakeNotificationRepo) recordsFor(channelID string) []recordedCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recordedCall
	for _, rec := range r.records {
		if rec.channelID == channelID {
			out = append(out, rec)
		}
	}
	return out
}

func TestDispatcherDeliversToSubscribedEnabledChannel(t *testing.T) {
	received := make(chan map[string]any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(req.Body).Decode(&body)
		received <- body
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	repo := &fakeNotificationRepo{channels: []repository.NotificationChannel{
		{ID: "c1", Type: repository.NotificationChannelDiscord, WebhookURL: srv.URL, IsEnabled: true, Subscriptions: []string{bus.EventJobStarted}},
		{ID: "c2", Type: repository.NotificationChannelSlack, WebhookURL: srv.URL, IsEnabled: false, Subscriptions: []string{bus.EventJobStarted}},
	}}
	b := bus.New(8)
	d := NewDispatcher(repo, b)
	d.Start()
	defer d.Stop(context.Background())

	b.Publish(bus.Event{Type: bus.EventJobStarted, Payload: map[string]any{"job_id": "j1"}})

	select {
	case body := <-received:
		embeds, ok := body["embeds"].([]any)
		require.True(t, ok)
		require.Len(t, embeds, 1)
		embed := embeds[0].(map[string]any)
		assert.Equal(t, "Print job started", embed["title"])
	case <-time.After(time.Second):
		t.Fatal("expected webhook delivery")
	}

	require.Eventually(t, func() bool {
		return len(repo.recordsFor("c1")) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, repository.NotificationStatusSent, repo.recordsFor("c1")[0].status)

	// Disabled channel c2 must never be dispatched to.
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, repo.recordsFor("c2"))
}

func TestDispatcherFiltersJobStatusChangedToFailedOrPausedOnly(t *testing.T) {
	received := make(chan struct{}, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		received <- struct{}{}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	repo := &fakeNotificationRepo{channels: []repository.NotificationChannel{
		{ID: "c1", Type: repository.NotificationChannelDiscord, WebhookURL: srv.URL, IsEnabled: true, Subscriptions: []string{bus.EventJobStatusChanged}},
	}}
	b := bus.New(8)
	d := NewDispatcher(repo, b)
	d.Start()
	defer d.Stop(context.Background())

	b.Publish(bus.Event{Type: bus.EventJobStatusChanged, Payload: map[string]any{"new_status": "running"}})
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, received)

	b.Publish(bus.Event{Type: bus.EventJobStatusChanged, Payload: map[string]any{"new_status": "failed"}})
	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("expected delivery for failed transition")
	}
}

func TestDispatcherRecordsFailureStatusOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	repo := &fakeNotificationRepo{channels: []repository.NotificationChannel{
		{ID: "c1", Type: repository.NotificationChannelNtfy, WebhookURL: srv.URL, IsEnabled: true, Subscriptions: []string{bus.EventPrinterConnected}},
	}}
	b := bus.New(8)
	d := NewDispatcher(repo, b)
	d.Start()
	defer d.Stop(context.Background())

	b.Publish(bus.Event{Type: bus.EventPrinterConnected, Payload: map[string]any{"printer_id": "p1"}})

	require.Eventually(t, func() bool {
		return len(repo.recordsFor("c1")) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, repository.NotificationStatusFailed, repo.recordsFor("c1")[0].status)
	assert.NotEmpty(t, repo.recordsFor("c1")[0].errMsg)
}

func TestSendTestDoesNotRecordHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	repo := &fakeNotificationRepo{}
	b := bus.New(8)
	d := NewDispatcher(repo, b)

	ok, msg := d.SendTest(context.Background(), repository.NotificationChannel{ID: "c1", Type: repository.NotificationChannelDiscord, WebhookURL: srv.URL})
	assert.True(t, ok)
	assert.Equal(t, "ok", msg)
	assert.Empty(t, repo.records)
}
