package fleetsupervisor

import (
	"context"
	"time"

	"github.com/schmacka/printernizer-sub001/bus"
	"github.com/schmacka/printernizer-sub001/model"
)

// runPrinterStatusTask is Task 1 (§4.3): fan out each printer's cached
// monitor status, detect online/offline edges, and write the phase/
// last-seen back through the printer repository. It reads the monitor's
// cache rather than re-invoking the driver, per §4.3 step 2.
func (s *Supervisor) runPrinterStatusTask(ctx context.Context) {
	printers, err := s.printerRepo.List(ctx, true)
	if err != nil {
		logError("fleetsupervisor: listing active printers", "", err)
		return
	}

	for _, p := range printers {
		mon := s.monitorFor(p.ID)
		if mon == nil {
			continue
		}
		status, at := mon.LastStatus()

		s.mu.Lock()
		previous, known := s.lastSeen[p.ID]
		s.lastSeen[p.ID] = status.Phase
		s.mu.Unlock()

		wasOnline := known && previous != model.PhaseOffline && previous != model.PhaseUnknown
		isOnline := status.Phase != model.PhaseOffline && status.Phase != model.PhaseUnknown

		if isOnline && !wasOnline {
			s.publish(bus.EventPrinterConnected, map[string]any{"printer_id": p.ID})
		} else if !isOnline && wasOnline {
			s.publish(bus.EventPrinterDisconnected, map[string]any{"printer_id": p.ID})
		}

		s.publish(bus.EventPrinterStatus, map[string]any{
			"printer_id": p.ID,
			"phase":      string(status.Phase),
			"status":     status,
		})

		lastSeenUnix := at.Unix()
		if !known && at.IsZero() {
			lastSeenUnix = 0
		}
		if err := s.printerRepo.UpdateStatus(ctx, p.ID, status.Phase, lastSeenUnix); err != nil {
			logError("fleetsupervisor: writing printer status", p.ID, err)
		}

		if s.cfg.JobAutoCreateEnabled && status.Phase == model.PhasePrinting && status.CurrentJobName != "" {
			s.maybeAutoCreateJob(ctx, p, status)
		}
	}
}

// maybeAutoCreateJob synthesizes a Job the first time a printer reports
// a named job the job service hasn't seen, per §4.4's "Auto" creation
// path. Dedup against restarts is the job service's concern (the
// (printer_id, filename, started_at) unique index).
func (s *Supervisor) maybeAutoCreateJob(ctx context.Context, p model.Printer, status model.StatusUpdate) {
	startedAt := status.StartedAt
	if startedAt == nil {
		now := status.At
		if now.IsZero() {
			now = time.Now()
		}
		startedAt = &now
	}
	filename := status.CurrentJobName
	_, _, err := s.jobs.EnsureAutoCreated(ctx, p.ID, string(p.Type), status.CurrentJobName, filename, *startedAt, status.ProgressPercent)
	if err != nil {
		logError("fleetsupervisor: auto-creating job", p.ID, err)
	}
}
