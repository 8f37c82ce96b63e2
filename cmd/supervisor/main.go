// Command supervisor wires and runs the printer fleet supervisor core
// (Component K): it loads configuration, opens the database, builds one
// driver per configured printer, and runs until asked to stop, then
// unwinds in the exact order §5 specifies. Startup follows an
// env-config-load, exit-on-fatal-startup-error shape, with background
// workers run to completion on shutdown rather than abandoned;
// signal-driven cancellation uses the standard signal.NotifyContext
// idiom for command-line entrypoints.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/schmacka/printernizer-sub001/bus"
	"github.com/schmacka/printernizer-sub001/clock"
	"github.com/schmacka/printernizer-sub001/config"
	"github.com/schmacka/printernizer-sub001/driver"
	"github.com/schmacka/printernizer-sub001/driver/bambu"
	"github.com/schmacka/printernizer-sub001/driver/octoprint"
	"github.com/schmacka/printernizer-sub001/fleetsupervisor"
	"github.com/schmacka/printernizer-sub001/job"
	"github.com/schmacka/printernizer-sub001/library"
	"github.com/schmacka/printernizer-sub001/model"
	"github.com/schmacka/printernizer-sub001/monitor"
	"github.com/schmacka/printernizer-sub001/notify"
	"github.com/schmacka/printernizer-sub001/repository"
	"github.com/schmacka/printernizer-sub001/repository/sqlite"
	"github.com/schmacka/printernizer-sub001/usage"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	conf, err := config.Load()
	if err != nil {
		slog.Error("loading configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(conf)
	if err != nil {
		slog.Error("starting up", "error", err)
		os.Exit(1)
	}

	app.run(ctx)
}

// app holds every long-lived resource main needs to shut down in order.
type app struct {
	db            *sqlite.DB
	drivers       []driver.Driver
	supervisor    *fleetsupervisor.Supervisor
	dispatcher    *notify.Dispatcher
	recorder      *usage.Recorder
	retentionDays int
}

func newApp(conf config.Config) (*app, error) {
	db, err := sqlite.Open(conf.DBPath)
	if err != nil {
		return nil, err
	}
	db.AutoMigrate()

	printerRepo := sqlite.NewPrinterRepository(db)
	jobRepo := sqlite.NewJobRepository(db)
	libRepo := sqlite.NewLibraryRepository(db)
	notifyRepo := sqlite.NewNotificationRepository(db)
	usageRepo := sqlite.NewUsageStatisticsRepository(db)

	b := bus.New(0)
	jobSvc := job.NewService(jobRepo, b)
	libSvc := library.NewService(libRepo, conf.LibraryPath)

	supCfg := fleetsupervisor.Config{
		PrinterStatusInterval:   conf.PrinterStatusCheckInterval,
		JobStatusInterval:       conf.JobStatusCheckInterval,
		FileDiscoveryInterval:   conf.FileDiscoveryCheckInterval,
		FileDiscoveryBackoff:    conf.FileDiscoveryFailureBackoff,
		JobAutoCreateEnabled:    conf.JobCreationAutoCreate,
		WatchFolders:            conf.WatchFolderPaths(),
		DownloadStagingDir:      conf.LibraryPath + "/.staging",
		MaxConcurrentDownloads:  conf.MaxConcurrentDownloads,
	}
	supervisor := fleetsupervisor.New(supCfg, printerRepo, jobSvc, libSvc, b, clock.Real)

	printers, err := conf.ParsePrinters()
	if err != nil {
		return nil, err
	}

	monCfg := monitor.Config{
		BaseInterval:  conf.PrinterPollingInterval,
		MinInterval:   conf.PrinterPollingInterval,
		BackoffFactor: conf.MonitorBackoffFactor,
		MaxInterval:   conf.MonitorMaxInterval,
	}

	var drivers []driver.Driver
	for _, p := range printers {
		if _, err := printerRepo.Create(context.Background(), p); err != nil {
			slog.Error("registering printer", "printer_id", p.ID, "error", err)
			continue
		}

		drv := newDriver(p)
		connectCtx, cancel := context.WithTimeout(context.Background(), conf.ConnectionTimeout)
		err := drv.Connect(connectCtx)
		cancel()
		if err != nil {
			slog.Error("connecting to printer, will retry via monitor backoff", "printer_id", p.ID, "error", err)
		}

		drivers = append(drivers, drv)
		supervisor.AddPrinter(p.ID, drv, monCfg)
	}

	dispatcher := notify.NewDispatcher(notifyRepo, b)
	seedNotificationChannels(context.Background(), notifyRepo, conf)

	recorder := usage.NewRecorder(usageRepo)

	return &app{
		db:            db,
		drivers:       drivers,
		supervisor:    supervisor,
		dispatcher:    dispatcher,
		recorder:      recorder,
		retentionDays: conf.NotificationHistoryRetentionDays,
	}, nil
}

func newDriver(p model.Printer) driver.Driver {
	switch p.Type {
	case model.PrinterTypeBambuLab:
		return bambu.New(p.ID, p.Endpoint)
	default:
		// Prusa speaks the same REST/SockJS shape as OctoPrint (§1).
		return octoprint.New(p.ID, p.Endpoint)
	}
}

// seedNotificationChannels creates one NotificationChannel per
// statically configured webhook env var, if not already present. This
// supports a "single webhook URL from an env var" quick-start mode
// while still letting the admin surface add further channels through
// the repository directly.
func seedNotificationChannels(ctx context.Context, repo repository.NotificationRepository, conf config.Config) {
	type seed struct {
		name string
		typ  repository.NotificationChannelType
		url  string
	}
	seeds := []seed{
		{"default-discord", repository.NotificationChannelDiscord, conf.DiscordWebhookURL},
		{"default-slack", repository.NotificationChannelSlack, conf.SlackWebhookURL},
		{"default-ntfy", repository.NotificationChannelNtfy, conf.NtfyTopicURL},
	}

	existing, err := repo.ListChannels(ctx)
	if err != nil {
		slog.Error("listing notification channels", "error", err)
		return
	}
	have := make(map[string]bool, len(existing))
	for _, c := range existing {
		have[c.Name] = true
	}

	for _, s := range seeds {
		if s.url == "" || have[s.name] {
			continue
		}
		_, err := repo.CreateChannel(ctx, repository.NotificationChannel{
			Name:       s.name,
			Type:       s.typ,
			WebhookURL: s.url,
			IsEnabled:  true,
			Subscriptions: []string{
				bus.EventJobStarted, bus.EventJobCompleted, bus.EventJobStatusChanged,
				bus.EventPrinterConnected, bus.EventPrinterDisconnected,
				bus.EventMaterialLowStock, bus.EventFileDownloadComplete,
			},
		})
		if err != nil {
			slog.Error("seeding notification channel", "name", s.name, "error", err)
		}
	}
}

// run starts every background component and blocks until ctx is
// cancelled (SIGINT/SIGTERM), then unwinds in §5's shutdown order:
// supervisor tasks, then monitors (both inside supervisor.Stop), then
// drivers, then the notification dispatcher (bounded wait), then usage
// recorder, then repositories.
func (a *app) run(ctx context.Context) {
	a.supervisor.Start(ctx)
	a.dispatcher.Start()
	a.recorder.Start(ctx)

	retentionCtx, cancelRetention := context.WithCancel(ctx)
	go a.dispatcher.RunRetentionLoop(retentionCtx, 24*time.Hour, a.retentionDays)

	healthCtx, cancelHealth := context.WithCancel(ctx)
	go a.runHealthChecks(healthCtx)

	<-ctx.Done()
	slog.Info("shutting down")

	a.supervisor.Stop()

	for _, drv := range a.drivers {
		drv.Disconnect()
	}

	cancelRetention()
	cancelHealth()
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.dispatcher.Stop(stopCtx)

	a.recorder.Stop()

	if err := a.db.Close(); err != nil {
		slog.Error("closing database", "error", err)
	}
}

// runHealthChecks is §K's "health checks" responsibility: periodically
// confirm the database can still accept a transaction, logging loudly
// when it can't so an operator watching logs (or a process supervisor
// restarting on repeated errors) notices a wedged store before it shows
// up as mysterious job/printer update failures elsewhere.
func (a *app) runHealthChecks(ctx context.Context) {
	const interval = 30 * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.db.Healthy(ctx); err != nil {
				slog.Error("database health check failed", "error", err)
			}
		}
	}
}
