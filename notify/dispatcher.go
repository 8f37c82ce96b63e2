// Package notify is the notification dispatcher (§4.6): it subscribes to
// every notification-worthy bus event, resolves which channels are
// subscribed to each one, and fans delivery out to those channels
// without letting one slow or failing channel affect another. The
// webhook-queue shape (one Sender func per target, retried deliveries,
// recorded outcomes) generalizes from a single Discord target to the
// channel/adapter model §3 describes.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/schmacka/printernizer-sub001/bus"
	"github.com/schmacka/printernizer-sub001/repository"
)

// notifiableEvents is the exact event catalog §4.6 names as
// notification-worthy. job_status_changed is filtered further in
// handle: only transitions into failed or paused are notification-worthy,
// since "status changed" alone fires on every transition.
var notifiableEvents = []string{
	bus.EventJobStarted,
	bus.EventJobCompleted,
	bus.EventJobStatusChanged,
	bus.EventPrinterConnected,
	bus.EventPrinterDisconnected,
	bus.EventMaterialLowStock,
	bus.EventFileDownloadComplete,
}

// notifiableStatuses is the subset of job_status_changed transitions
// that are notification-worthy; job_started/job_completed already have
// their own dedicated events, so this only needs the failure paths.
var notifiableStatuses = map[string]bool{
	string(repository.JobStatusFailed): true,
	string(repository.JobStatusPaused): true,
}

// Dispatcher subscribes to the bus and delivers matching events to every
// enabled, subscribed NotificationChannel. It never blocks the bus: each
// channel delivery runs in its own goroutine (fire-and-forget), matching
// §5's "a slow or unreachable notification channel must never delay or
// block other channels, or job/printer processing" guarantee.
type Dispatcher struct {
	repo repository.NotificationRepository
	b    *bus.Bus
	subs []bus.SubscriptionID

	wg sync.WaitGroup
}

// NewDispatcher wires a Dispatcher against repo and b but does not
// subscribe; call Start to begin listening.
func NewDispatcher(repo repository.NotificationRepository, b *bus.Bus) *Dispatcher {
	return &Dispatcher{repo: repo, b: b}
}

// Start subscribes to every notifiable event type.
func (d *Dispatcher) Start() {
	for _, eventType := range notifiableEvents {
		et := eventType
		sub := d.b.Subscribe(et, func(ctx context.Context, event bus.Event) {
			d.handle(ctx, event)
		})
		d.subs = append(d.subs, sub)
	}
}

// Stop unsubscribes from the bus and waits for in-flight channel
// deliveries to finish, bounded by ctx's deadline.
func (d *Dispatcher) Stop(ctx context.Context) {
	for _, sub := range d.subs {
		d.b.Unsubscribe(sub)
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("notify: dispatcher stop timed out waiting for in-flight deliveries")
	}
}

func (d *Dispatcher) handle(ctx context.Context, event bus.Event) {
	if event.Type == bus.EventJobStatusChanged {
		status, _ := event.Payload["new_status"].(string)
		if !notifiableStatuses[status] {
			return
		}
	}

	channels, err := d.repo.ChannelsSubscribedTo(ctx, event.Type)
	if err != nil {
		slog.Error("notify: listing subscribed channels", "event_type", event.Type, "error", err)
		return
	}

	for _, ch := range channels {
		if !ch.IsEnabled {
			continue
		}
		ch := ch
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.deliver(context.Background(), ch, event)
		}()
	}
}

func (d *Dispatcher) deliver(ctx context.Context, ch repository.NotificationChannel, event bus.Event) {
	adapter, ok := AdapterFor(ch.Type)
	if !ok {
		slog.Error("notify: no adapter for channel type", "channel_id", ch.ID, "type", ch.Type)
		return
	}

	deliverCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	ok2, msg := adapter(deliverCtx, ch, event)
	status := repository.NotificationStatusFailed
	errMsg := msg
	if ok2 {
		status = repository.NotificationStatusSent
		errMsg = ""
	}

	if err := d.repo.Record(ctx, ch.ID, event.Type, event.Payload, status, errMsg); err != nil {
		slog.Error("notify: recording delivery history", "channel_id", ch.ID, "error", err)
	}
}

// SendTest delivers a synthetic test event to channel, for the admin
// "send test message" operation (§4.6). It returns the adapter's own
// success/message pair and does not record history, since a test send is
// not a real notification-worthy event.
func (d *Dispatcher) SendTest(ctx context.Context, channel repository.NotificationChannel) (bool, string) {
	adapter, ok := AdapterFor(channel.Type)
	if !ok {
		return false, "unsupported channel type"
	}
	event := bus.Event{
		Type:    "test",
		At:      time.Now(),
		Payload: map[string]any{"message": "this is a test notification"},
	}
	return adapter(ctx, channel, event)
}

// CleanupHistory deletes NotificationHistory rows older than
// olderThanDays, delegating to the repository's own retention query.
func (d *Dispatcher) CleanupHistory(ctx context.Context, olderThanDays int) (int, error) {
	return d.repo.Cleanup(ctx, olderThanDays)
}

// RunRetentionLoop periodically calls CleanupHistory until ctx is
// cancelled, matching the ticker-loop background-task idiom used
// elsewhere in this module (fleetsupervisor.runPeriodic).
func (d *Dispatcher) RunRetentionLoop(ctx context.Context, interval time.Duration, retentionDays int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := d.CleanupHistory(ctx, retentionDays); err != nil {
				slog.Error("notify: history cleanup failed", "error", err)
			} else if n > 0 {
				slog.Info("notify: history cleanup removed rows", "count", n)
			}
		}
	}
}
