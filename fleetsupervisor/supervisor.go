// Package fleetsupervisor owns the driver set and runs the three §4.3
// background tasks (printer status fan-out, job tracking, file
// discovery), multiplexing per-printer monitor output into the event
// bus and the repositories. Follows the Module-struct convention of
// owning a resource set, running background polling goroutines, and
// exposing a force-refresh method for tests/admin use.
package fleetsupervisor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/schmacka/printernizer-sub001/bus"
	"github.com/schmacka/printernizer-sub001/clock"
	"github.com/schmacka/printernizer-sub001/driver"
	"github.com/schmacka/printernizer-sub001/job"
	"github.com/schmacka/printernizer-sub001/library"
	"github.com/schmacka/printernizer-sub001/model"
	"github.com/schmacka/printernizer-sub001/monitor"
	"github.com/schmacka/printernizer-sub001/repository"
)

// Config carries the three tasks' intervals and the file-discovery
// failure backoff, sourced from config.Config.
type Config struct {
	PrinterStatusInterval  time.Duration
	JobStatusInterval      time.Duration
	FileDiscoveryInterval  time.Duration
	FileDiscoveryBackoff   time.Duration
	JobAutoCreateEnabled   bool
	WatchFolders           []string
	DownloadStagingDir     string

	// MaxConcurrentDownloads bounds how many printer file downloads
	// DiscoverFiles runs at once and starts per second (§6's max_concurrent_downloads,
	// §4.5's library download parallelism). <= 0 means unlimited.
	MaxConcurrentDownloads int
}

// printerEntry pairs a driver with its monitor for one fleet member.
type printerEntry struct {
	driver  driver.Driver
	monitor *monitor.Monitor
}

// Supervisor is the fleet-wide coordinator (Component F). It owns no
// driver directly — each driver belongs to exactly one monitor (§5) —
// but starts and stops every monitor alongside its own three tasks.
type Supervisor struct {
	cfg Config
	clk clock.Clock

	printerRepo repository.PrinterRepository
	jobs        *job.Service
	lib         *library.Service
	bus         *bus.Bus

	mu       sync.RWMutex
	printers map[string]*printerEntry
	lastSeen map[string]model.Phase

	jobTrackMu sync.Mutex
	jobTrack   map[string]trackedJob

	downloadLimiter *rate.Limiter

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type trackedJob struct {
	status   repository.JobStatus
	progress int
}

func New(cfg Config, printerRepo repository.PrinterRepository, jobs *job.Service, lib *library.Service, b *bus.Bus, clk clock.Clock) *Supervisor {
	if clk == nil {
		clk = clock.Real
	}

	limit := rate.Inf
	burst := 0
	if cfg.MaxConcurrentDownloads > 0 {
		limit = rate.Limit(cfg.MaxConcurrentDownloads)
		burst = cfg.MaxConcurrentDownloads
	}

	return &Supervisor{
		cfg:             cfg,
		clk:             clk,
		printerRepo:     printerRepo,
		jobs:            jobs,
		lib:             lib,
		bus:             b,
		printers:        make(map[string]*printerEntry),
		lastSeen:        make(map[string]model.Phase),
		jobTrack:        make(map[string]trackedJob),
		downloadLimiter: rate.NewLimiter(limit, burst),
	}
}

// AddPrinter registers a driver for printerID and starts its monitor.
// Called during wiring (Component K) once per configured printer.
func (s *Supervisor) AddPrinter(printerID string, drv driver.Driver, monCfg monitor.Config) {
	m := monitor.New(printerID, drv, s.bus, monCfg, s.clk)

	s.mu.Lock()
	s.printers[printerID] = &printerEntry{driver: drv, monitor: m}
	s.mu.Unlock()

	m.Start(context.Background())
}

// Start launches the three background tasks. It does not block.
func (s *Supervisor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(3)
	go s.runPeriodic(ctx, s.cfg.PrinterStatusInterval, s.runPrinterStatusTask)
	go s.runPeriodic(ctx, s.cfg.JobStatusInterval, s.runJobTrackingTask)
	go s.runFileDiscoveryTask(ctx)
}

// Stop cancels all three tasks and every monitor, in the §5 shutdown
// order: supervisor tasks first, then monitors (drivers are disconnected
// by whoever owns the wiring lifecycle, one layer up).
func (s *Supervisor) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, entry := range s.printers {
		entry.monitor.Stop()
	}
}

// runPeriodic is the shared ticker-with-cancel shape used by Tasks 1 and
// 2, grounded on monitor.Monitor's own cancel-signal-wins select.
func (s *Supervisor) runPeriodic(ctx context.Context, interval time.Duration, fn func(ctx context.Context)) {
	defer s.wg.Done()
	for {
		timer := s.clk.After(interval)
		select {
		case <-ctx.Done():
			return
		case <-timer:
		}
		fn(ctx)
	}
}

func (s *Supervisor) monitorFor(printerID string) *monitor.Monitor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.printers[printerID]
	if !ok {
		return nil
	}
	return entry.monitor
}

func (s *Supervisor) driverFor(printerID string) driver.Driver {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.printers[printerID]
	if !ok {
		return nil
	}
	return entry.driver
}

func (s *Supervisor) publish(eventType string, payload map[string]any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Event{Type: eventType, Payload: payload})
}

func logError(msg string, printerID string, err error) {
	slog.Error(msg, "printer_id", printerID, "error", err)
}
