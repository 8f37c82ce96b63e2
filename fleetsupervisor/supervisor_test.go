package fleetsupervisor

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/schmacka/printernizer-sub001/bus"
	"github.com/schmacka/printernizer-sub001/clock"
	"github.com/schmacka/printernizer-sub001/job"
	"github.com/schmacka/printernizer-sub001/library"
	"github.com/schmacka/printernizer-sub001/model"
	"github.com/schmacka/printernizer-sub001/monitor"
	"github.com/schmacka/printernizer-sub001/repository"
	"github.com/schmacka/printernizer-sub001/repository/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "db.sqlite3"))
	require.NoError(t, err)
	db.AutoMigrate()
	t.Cleanup(func() { db.Close() })
	return db
}

type stubDriver struct {
	mu     sync.Mutex
	status model.StatusUpdate
	files  []model.PrinterFile
}

func (d *stubDriver) setStatus(s model.StatusUpdate) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status = s
}

func (d *stubDriver) Connect(ctx context.Context) error { return nil }
func (d *stubDriver) Disconnect()                       {}
func (d *stubDriver) GetStatus(ctx context.Context) (model.StatusUpdate, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status, nil
}
func (d *stubDriver) GetJob(ctx context.Context) (*model.JobInfo, error)         { return nil, nil }
func (d *stubDriver) ListFiles(ctx context.Context) ([]model.PrinterFile, error) { return d.files, nil }
func (d *stubDriver) DownloadFile(ctx context.Context, remote, local string) error {
	return os.WriteFile(local, []byte("contents of "+remote), 0o644)
}
func (d *stubDriver) Pause(ctx context.Context) error              { return nil }
func (d *stubDriver) Resume(ctx context.Context) error              { return nil }
func (d *stubDriver) Stop(ctx context.Context) error                { return nil }
func (d *stubDriver) HasCamera() bool                               { return false }
func (d *stubDriver) Snapshot(ctx context.Context) ([]byte, error) { return nil, nil }

func testMonitorConfig() monitor.Config {
	return monitor.Config{
		BaseInterval:  time.Hour, // monitor loop itself is irrelevant; tests drive LastStatus via setStatus + manual poll
		MinInterval:   time.Hour,
		BackoffFactor: 2,
		MaxInterval:   time.Hour,
	}
}

func newTestSupervisor(t *testing.T) (*Supervisor, *sqlite.DB, *bus.Bus) {
	db := newTestDB(t)
	b := bus.New(32)
	printerRepo := sqlite.NewPrinterRepository(db)
	jobRepo := sqlite.NewJobRepository(db)
	libRepo := sqlite.NewLibraryRepository(db)

	jobSvc := job.NewService(jobRepo, b)
	libSvc := library.NewService(libRepo, t.TempDir())

	cfg := Config{
		PrinterStatusInterval: time.Hour,
		JobStatusInterval:     time.Hour,
		FileDiscoveryInterval: time.Hour,
		FileDiscoveryBackoff:  time.Hour,
		JobAutoCreateEnabled:  true,
		DownloadStagingDir:    t.TempDir(),
	}
	s := New(cfg, printerRepo, jobSvc, libSvc, b, clock.NewFake(time.Now()))
	return s, db, b
}

func TestPrinterStatusTaskWritesBackStatusAndEmitsConnected(t *testing.T) {
	s, db, b := newTestSupervisor(t)
	ctx := context.Background()

	printerRepo := sqlite.NewPrinterRepository(db)
	_, err := printerRepo.Create(ctx, model.Printer{ID: "p1", Type: model.PrinterTypeOctoPrint, IsActive: true})
	require.NoError(t, err)

	connected := make(chan bus.Event, 1)
	b.Subscribe(bus.EventPrinterConnected, func(ctx context.Context, e bus.Event) {
		select {
		case connected <- e:
		default:
		}
	})

	drv := &stubDriver{status: model.StatusUpdate{Phase: model.PhaseOnline}}
	s.AddPrinter("p1", drv, testMonitorConfig())
	defer s.monitorFor("p1").Stop()

	// Force a poll instead of waiting on the monitor's own (1h) interval.
	require.Eventually(t, func() bool {
		status, _ := s.monitorFor("p1").LastStatus()
		return status.Phase == model.PhaseOnline
	}, time.Second, time.Millisecond)

	s.runPrinterStatusTask(ctx)

	select {
	case <-connected:
	case <-time.After(time.Second):
		t.Fatal("expected printer_connected event")
	}

	updated, err := printerRepo.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, model.PhaseOnline, updated.LastStatus)
}

func TestPrinterStatusTaskAutoCreatesJobWhenPrinting(t *testing.T) {
	s, db, _ := newTestSupervisor(t)
	ctx := context.Background()

	printerRepo := sqlite.NewPrinterRepository(db)
	_, err := printerRepo.Create(ctx, model.Printer{ID: "p1", Type: model.PrinterTypeBambuLab, IsActive: true})
	require.NoError(t, err)

	started := time.Now().Add(-time.Minute)
	drv := &stubDriver{status: model.StatusUpdate{
		Phase:           model.PhasePrinting,
		CurrentJobName:  "calibration_cube.3mf",
		ProgressPercent: 12,
		StartedAt:       &started,
	}}
	s.AddPrinter("p1", drv, testMonitorConfig())
	defer s.monitorFor("p1").Stop()

	require.Eventually(t, func() bool {
		status, _ := s.monitorFor("p1").LastStatus()
		return status.Phase == model.PhasePrinting
	}, time.Second, time.Millisecond)

	s.runPrinterStatusTask(ctx)

	jobRepo := sqlite.NewJobRepository(db)
	jobs, err := jobRepo.List(ctx, repository.JobFilter{PrinterID: "p1"}, 10, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "calibration_cube.3mf", jobs[0].JobName)
	assert.Equal(t, repository.JobStatusPrinting, jobs[0].Status)
	assert.Equal(t, 12, jobs[0].Progress)

	// A second tick with the same observation must not create a duplicate.
	s.runPrinterStatusTask(ctx)
	jobs, err = jobRepo.List(ctx, repository.JobFilter{PrinterID: "p1"}, 10, 0)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestJobTrackingTaskEmitsJobUpdateOnLargeDeltaAndCompletesOnFinish(t *testing.T) {
	s, db, b := newTestSupervisor(t)
	ctx := context.Background()

	printerRepo := sqlite.NewPrinterRepository(db)
	_, err := printerRepo.Create(ctx, model.Printer{ID: "p1", Type: model.PrinterTypeBambuLab, IsActive: true})
	require.NoError(t, err)

	started := time.Now().Add(-time.Minute)
	drv := &stubDriver{status: model.StatusUpdate{
		Phase: model.PhasePrinting, CurrentJobName: "cube.3mf", ProgressPercent: 12, StartedAt: &started,
	}}
	s.AddPrinter("p1", drv, testMonitorConfig())
	defer s.monitorFor("p1").Stop()

	require.Eventually(t, func() bool {
		status, _ := s.monitorFor("p1").LastStatus()
		return status.Phase == model.PhasePrinting
	}, time.Second, time.Millisecond)
	s.runPrinterStatusTask(ctx) // auto-creates the job at progress 12

	jobUpdates := make(chan bus.Event, 4)
	b.Subscribe(bus.EventJobUpdate, func(ctx context.Context, e bus.Event) { jobUpdates <- e })
	completed := make(chan bus.Event, 1)
	b.Subscribe(bus.EventJobCompleted, func(ctx context.Context, e bus.Event) { completed <- e })

	drv.setStatus(model.StatusUpdate{Phase: model.PhasePrinting, CurrentJobName: "cube.3mf", ProgressPercent: 22, StartedAt: &started})
	require.Eventually(t, func() bool {
		status, _ := s.monitorFor("p1").LastStatus()
		return status.ProgressPercent == 22
	}, time.Second, time.Millisecond)

	s.runJobTrackingTask(ctx)

	select {
	case e := <-jobUpdates:
		assert.EqualValues(t, 12, e.Payload["old_progress"])
		assert.EqualValues(t, 22, e.Payload["new_progress"])
	case <-time.After(time.Second):
		t.Fatal("expected job_update event")
	}

	drv.setStatus(model.StatusUpdate{Phase: model.PhaseOnline, CurrentJobName: "cube.3mf", ProgressPercent: 100, StartedAt: &started})
	require.Eventually(t, func() bool {
		status, _ := s.monitorFor("p1").LastStatus()
		return status.Phase == model.PhaseOnline
	}, time.Second, time.Millisecond)

	s.runJobTrackingTask(ctx)

	select {
	case <-completed:
	case <-time.After(time.Second):
		t.Fatal("expected job_completed event")
	}

	jobRepo := sqlite.NewJobRepository(db)
	jobs, err := jobRepo.List(ctx, repository.JobFilter{PrinterID: "p1"}, 10, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, repository.JobStatusCompleted, jobs[0].Status)
	require.NotNil(t, jobs[0].EndedAt)
}

func TestDiscoverFilesIngestsPrinterFilesAndEmitsEvents(t *testing.T) {
	s, db, b := newTestSupervisor(t)
	ctx := context.Background()

	printerRepo := sqlite.NewPrinterRepository(db)
	_, err := printerRepo.Create(ctx, model.Printer{ID: "p1", Type: model.PrinterTypeOctoPrint, IsActive: true})
	require.NoError(t, err)

	drv := &stubDriver{files: []model.PrinterFile{{Name: "a.gcode", Path: "local/a.gcode", SizeBytes: 10}}}
	s.AddPrinter("p1", drv, testMonitorConfig())
	defer s.monitorFor("p1").Stop()

	discovered := make(chan bus.Event, 1)
	b.Subscribe(bus.EventFilesDiscovered, func(ctx context.Context, e bus.Event) { discovered <- e })
	newFound := make(chan bus.Event, 1)
	b.Subscribe(bus.EventNewFilesFound, func(ctx context.Context, e bus.Event) { newFound <- e })

	require.NoError(t, s.DiscoverFiles(ctx))

	select {
	case e := <-discovered:
		assert.EqualValues(t, 1, e.Payload["total"])
	case <-time.After(time.Second):
		t.Fatal("expected files_discovered")
	}
	select {
	case <-newFound:
	case <-time.After(time.Second):
		t.Fatal("expected new_files_found")
	}
}

// concurrencyTrackingDriver counts how many DownloadFile calls are in
// flight at once, recording the high-water mark.
type concurrencyTrackingDriver struct {
	stubDriver

	mu      sync.Mutex
	active  int
	maxSeen int
}

func (d *concurrencyTrackingDriver) DownloadFile(ctx context.Context, remote, local string) error {
	d.mu.Lock()
	d.active++
	if d.active > d.maxSeen {
		d.maxSeen = d.active
	}
	d.mu.Unlock()

	time.Sleep(20 * time.Millisecond)
	err := os.WriteFile(local, []byte("contents of "+remote), 0o644)

	d.mu.Lock()
	d.active--
	d.mu.Unlock()
	return err
}

func TestDiscoverFilesBoundsConcurrentDownloads(t *testing.T) {
	db := newTestDB(t)
	b := bus.New(32)
	printerRepo := sqlite.NewPrinterRepository(db)
	jobRepo := sqlite.NewJobRepository(db)
	libRepo := sqlite.NewLibraryRepository(db)
	jobSvc := job.NewService(jobRepo, b)
	libSvc := library.NewService(libRepo, t.TempDir())

	cfg := Config{
		PrinterStatusInterval:  time.Hour,
		JobStatusInterval:      time.Hour,
		FileDiscoveryInterval:  time.Hour,
		FileDiscoveryBackoff:   time.Hour,
		JobAutoCreateEnabled:   true,
		DownloadStagingDir:     t.TempDir(),
		MaxConcurrentDownloads: 2,
	}
	s := New(cfg, printerRepo, jobSvc, libSvc, b, clock.NewFake(time.Now()))
	ctx := context.Background()

	_, err := printerRepo.Create(ctx, model.Printer{ID: "p1", Type: model.PrinterTypeOctoPrint, IsActive: true})
	require.NoError(t, err)

	var files []model.PrinterFile
	for i := 0; i < 6; i++ {
		files = append(files, model.PrinterFile{
			Name: filepath.Base(filepath.Join("local", "f.gcode")),
			Path: filepath.Join("local", "f"+string(rune('a'+i))+".gcode"),
		})
	}
	drv := &concurrencyTrackingDriver{stubDriver: stubDriver{files: files}}
	s.AddPrinter("p1", drv, testMonitorConfig())
	defer s.monitorFor("p1").Stop()

	require.NoError(t, s.DiscoverFiles(ctx))

	drv.mu.Lock()
	defer drv.mu.Unlock()
	assert.LessOrEqual(t, drv.maxSeen, cfg.MaxConcurrentDownloads)
	assert.Greater(t, drv.maxSeen, 0)
}
