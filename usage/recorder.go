// Package usage is the append-only usage-event recorder (Component J):
// a thin wrapper over repository.UsageStatisticsRepository that never
// lets a slow or failing insert affect the foreground path recording
// it. Grounded on bus.Bus's own bounded-mailbox, drop-oldest discipline
// (bus/bus.go), generalized from "one mailbox per subscriber" to "one
// mailbox for the whole recorder" since there is a single sink (the
// repository), not many.
package usage

import (
	"context"
	"log/slog"
	"sync"

	"github.com/schmacka/printernizer-sub001/repository"
)

const defaultQueueSize = 256

// Recorder buffers UsageEvents in memory and drains them to repo on a
// background goroutine. Record never blocks: a full buffer drops the
// oldest queued event, matching §4.3's event-bus backpressure policy
// applied to this package's single internal sink.
type Recorder struct {
	repo    repository.UsageStatisticsRepository
	queue   chan repository.UsageEvent
	dropped int

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewRecorder builds a Recorder against repo with a bounded internal
// queue. Call Start to begin draining.
func NewRecorder(repo repository.UsageStatisticsRepository) *Recorder {
	return &Recorder{
		repo:  repo,
		queue: make(chan repository.UsageEvent, defaultQueueSize),
	}
}

// Start launches the drain goroutine. Calling Start twice is a no-op.
func (r *Recorder) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}
	drainCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.drain(drainCtx)
}

// Stop cancels the drain goroutine and waits for it to exit, flushing
// whatever is already queued.
func (r *Recorder) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	done := r.done
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Record enqueues event for background insertion. It never blocks the
// caller: if the queue is full, the oldest queued event is dropped to
// make room, since a dropped usage sample is acceptable but a blocked
// foreground path is not.
func (r *Recorder) Record(eventType string, payload map[string]any) {
	event := repository.UsageEvent{EventType: eventType, Payload: payload}

	select {
	case r.queue <- event:
		return
	default:
	}

	select {
	case <-r.queue:
		r.dropped++
		slog.Warn("usage: queue full, dropping oldest event", "total_dropped", r.dropped)
	default:
	}
	select {
	case r.queue <- event:
	default:
		slog.Warn("usage: queue full after eviction, dropping newest event", "event_type", eventType)
	}
}

func (r *Recorder) drain(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			r.flushRemaining()
			return
		case event := <-r.queue:
			r.insert(ctx, event)
		}
	}
}

// flushRemaining best-effort inserts whatever is left in the queue once
// the drain loop is asked to stop, using a background context since
// ctx is already cancelled.
func (r *Recorder) flushRemaining() {
	for {
		select {
		case event := <-r.queue:
			r.insert(context.Background(), event)
		default:
			return
		}
	}
}

func (r *Recorder) insert(ctx context.Context, event repository.UsageEvent) {
	if err := r.repo.InsertEvent(ctx, event); err != nil {
		slog.Error("usage: insert event failed", "event_type", event.EventType, "error", err)
	}
}
