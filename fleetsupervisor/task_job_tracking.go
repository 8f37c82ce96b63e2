package fleetsupervisor

import (
	"context"

	"github.com/schmacka/printernizer-sub001/bus"
	"github.com/schmacka/printernizer-sub001/model"
	"github.com/schmacka/printernizer-sub001/repository"
)

// runJobTrackingTask is Task 2 (§4.3): compares each active job against
// its tracked (status, progress) pair and drives the job service's
// transition/progress operations from the owning printer's cached
// status. Terminal jobs are dropped from the tracking map once seen.
func (s *Supervisor) runJobTrackingTask(ctx context.Context) {
	active, err := s.jobs.ActiveJobs(ctx, "")
	if err != nil {
		logError("fleetsupervisor: listing active jobs", "", err)
		return
	}

	seen := make(map[string]bool, len(active))
	for _, j := range active {
		seen[j.ID] = true
		s.trackOneJob(ctx, j)
	}

	s.jobTrackMu.Lock()
	for id := range s.jobTrack {
		if !seen[id] {
			delete(s.jobTrack, id)
		}
	}
	s.jobTrackMu.Unlock()
}

func (s *Supervisor) trackOneJob(ctx context.Context, j repository.Job) {
	mon := s.monitorFor(j.PrinterID)
	if mon == nil {
		return
	}
	status, _ := mon.LastStatus()

	target, ok := jobStatusForPhase(status.Phase)
	if !ok {
		return
	}
	// A printer reporting "online" (idle) only means the job finished if
	// the job had actually started; a still-pending/queued job with an
	// idle printer is not evidence of completion.
	if target == repository.JobStatusCompleted && !jobHasStarted(j.Status) {
		return
	}

	if target != j.Status {
		updated, err := s.jobs.Transition(ctx, j.ID, target, false, "")
		if err != nil {
			logError("fleetsupervisor: transitioning job", j.PrinterID, err)
		} else {
			j = updated
		}
	}

	s.jobTrackMu.Lock()
	prev, tracked := s.jobTrack[j.ID]
	if !tracked {
		prev = trackedJob{status: j.Status, progress: j.Progress}
	}
	s.jobTrackMu.Unlock()

	delta := status.ProgressPercent - prev.progress
	if delta < 0 {
		delta = -delta
	}
	if delta >= 10 {
		oldProgress := j.Progress
		updated, err := s.jobs.UpdateProgress(ctx, j.ID, float64(status.ProgressPercent))
		if err != nil {
			logError("fleetsupervisor: updating job progress", j.PrinterID, err)
		} else {
			j = updated
			s.publish(bus.EventJobUpdate, map[string]any{
				"job_id":       j.ID,
				"printer_id":   j.PrinterID,
				"old_progress": oldProgress,
				"new_progress": j.Progress,
			})
		}
	}

	s.jobTrackMu.Lock()
	s.jobTrack[j.ID] = trackedJob{status: j.Status, progress: j.Progress}
	s.jobTrackMu.Unlock()
}

// jobStatusForPhase maps a printer's observed phase to the job status it
// implies. PhaseOffline/PhaseUnknown carry no reliable signal about the
// job so the caller leaves the job status untouched.
func jobStatusForPhase(phase model.Phase) (repository.JobStatus, bool) {
	switch phase {
	case model.PhasePrinting:
		return repository.JobStatusPrinting, true
	case model.PhasePaused:
		return repository.JobStatusPaused, true
	case model.PhaseError:
		return repository.JobStatusFailed, true
	case model.PhaseOnline:
		return repository.JobStatusCompleted, true
	default:
		return "", false
	}
}

func jobHasStarted(status repository.JobStatus) bool {
	switch status {
	case repository.JobStatusRunning, repository.JobStatusPrinting, repository.JobStatusPaused:
		return true
	default:
		return false
	}
}
