package job

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/schmacka/printernizer-sub001/bus"
	"github.com/schmacka/printernizer-sub001/repository"
	"github.com/schmacka/printernizer-sub001/supervisor/errs"
)

// activeJobStatuses is Task 2's tracked set: pending/running/printing/paused.
var activeJobStatuses = []repository.JobStatus{
	repository.JobStatusPending, repository.JobStatusRunning,
	repository.JobStatusPrinting, repository.JobStatusPaused,
}

// Service implements the §4.4 job transition engine on top of a
// JobRepository, publishing the job_* events Component F and the
// notification dispatcher subscribe to. Per-job-id locking serializes
// concurrent read-modify-write calls for the same job, grounded on the
// teacher's sync.Map-keyed lastNotifiedState in modules/machines/module.go
// (here a sync.Mutex per id rather than a notified-state cache, since
// the lock here guards the repository round-trip itself).
type Service struct {
	repo repository.JobRepository
	bus  *bus.Bus

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func NewService(repo repository.JobRepository, b *bus.Bus) *Service {
	return &Service{repo: repo, bus: b, locks: make(map[string]*sync.Mutex)}
}

func (s *Service) lockFor(id string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// CreateManual validates and inserts an API-originated job. Business
// mode requires customer_info.customer_name per §4.4's update rules,
// enforced identically at creation time.
func (s *Service) CreateManual(ctx context.Context, j repository.Job) (repository.Job, error) {
	if j.IsBusiness {
		if err := requireCustomerName(j.CustomerInfo); err != nil {
			return repository.Job{}, err
		}
	}
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.Status == "" {
		j.Status = repository.JobStatusPending
	}

	result, created, err := s.repo.Create(ctx, j)
	if err != nil {
		return repository.Job{}, err
	}
	if result == repository.Created {
		s.publish(bus.EventJobCreated, created)
	}
	return created, nil
}

// EnsureAutoCreated is Task 1's auto-creation path (§4.4 "Auto"): the
// fleet supervisor calls this when a driver reports a named job the
// service has not seen. It carries the printer's started_at so the
// dedup index can catch restart-after-crash double-inserts, which
// EnsureAutoCreated reports back as a non-error "already exists" result
// via the returned bool.
func (s *Service) EnsureAutoCreated(ctx context.Context, printerID, printerType, jobName, filename string, startedAt time.Time, progress int) (repository.Job, bool, error) {
	j := repository.Job{
		ID:          uuid.NewString(),
		PrinterID:   printerID,
		PrinterType: printerType,
		JobName:     jobName,
		Filename:    filename,
		Status:      repository.JobStatusPrinting,
		StartedAt:   &startedAt,
		Progress:    clampProgressInt(progress),
	}
	result, row, err := s.repo.Create(ctx, j)
	if err != nil {
		return repository.Job{}, false, err
	}
	created := result == repository.Created
	if created {
		s.publish(bus.EventJobCreated, row)
		s.publish(bus.EventJobStarted, row)
	}
	return row, created, nil
}

// Transition applies a status change through the §4.4 graph. force
// bypasses the graph for admin recovery. completionNote, if non-empty,
// is appended to notes as "[timestamp] Status changed: old -> new: text".
func (s *Service) Transition(ctx context.Context, id string, to repository.JobStatus, force bool, completionNote string) (repository.Job, error) {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return repository.Job{}, err
	}

	if !force && !allowedTransition(current.Status, to) {
		return repository.Job{}, errs.InvalidTransition(string(current.Status), string(to), allowedTargets(current.Status))
	}

	patch := repository.JobPatch{Status: &to}
	now := time.Now()

	if entersRunning(to) && current.StartedAt == nil {
		patch.StartedAt = &now
	}
	if isTerminal(to) && current.Status != to {
		patch.EndedAt = &now
	}
	if completionNote != "" {
		note := fmt.Sprintf("[%s] Status changed: %s -> %s: %s", now.UTC().Format(time.RFC3339), current.Status, to, completionNote)
		patch.AppendNote = &note
	}

	updated, err := s.repo.Update(ctx, id, patch)
	if err != nil {
		return repository.Job{}, err
	}

	s.publish(bus.EventJobStatusChanged, updated)
	if entersRunning(to) && !entersRunning(current.Status) {
		s.publish(bus.EventJobStarted, updated)
	}
	if isTerminal(to) && current.Status != to {
		s.publish(bus.EventJobCompleted, updated)
	}
	return updated, nil
}

// UpdateProgress clamps raw to [0, 100] with half-to-even rounding and
// writes it if changed, emitting job_progress_updated.
func (s *Service) UpdateProgress(ctx context.Context, id string, raw float64) (repository.Job, error) {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return repository.Job{}, err
	}

	progress := clampProgress(raw)
	if progress == current.Progress {
		return current, nil
	}

	updated, err := s.repo.Update(ctx, id, repository.JobPatch{Progress: &progress})
	if err != nil {
		return repository.Job{}, err
	}

	s.publish(bus.EventJobProgressUpdated, updated, map[string]any{
		"old_progress": current.Progress,
		"new_progress": progress,
	})
	return updated, nil
}

// Update applies a general patch, enforcing the immutable-field and
// business-mode rules from §4.4's "Update rules".
func (s *Service) Update(ctx context.Context, id string, patch repository.JobPatch) (repository.Job, error) {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	if patch.IsBusiness != nil && *patch.IsBusiness {
		customerInfo := patch.CustomerInfo
		if customerInfo == nil {
			current, err := s.repo.Get(ctx, id)
			if err != nil {
				return repository.Job{}, err
			}
			customerInfo = current.CustomerInfo
		}
		if err := requireCustomerName(customerInfo); err != nil {
			return repository.Job{}, err
		}
	}
	return s.repo.Update(ctx, id, patch)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	if s.bus != nil {
		s.bus.Publish(bus.Event{Type: bus.EventJobDeleted, Payload: map[string]any{"job_id": id}})
	}
	return nil
}

// ActiveJobs returns jobs in a status Task 2 tracks.
func (s *Service) ActiveJobs(ctx context.Context, printerID string) ([]repository.Job, error) {
	return s.repo.List(ctx, repository.JobFilter{PrinterID: printerID, Statuses: activeJobStatuses}, 1000, 0)
}

func (s *Service) publish(eventType string, j repository.Job, extra ...map[string]any) {
	if s.bus == nil {
		return
	}
	payload := map[string]any{
		"job_id":     j.ID,
		"printer_id": j.PrinterID,
		"status":     string(j.Status),
		"progress":   j.Progress,
	}
	for _, m := range extra {
		for k, v := range m {
			payload[k] = v
		}
	}
	s.bus.Publish(bus.Event{Type: eventType, Payload: payload})
}

func requireCustomerName(info map[string]any) error {
	name, ok := info["customer_name"]
	if !ok || name == "" {
		return errs.New(errs.KindInvalidTransition, "business jobs require customer_info.customer_name")
	}
	return nil
}

func clampProgress(raw float64) int {
	if raw < 0 {
		raw = 0
	}
	if raw > 100 {
		raw = 100
	}
	return int(math.RoundToEven(raw))
}

func clampProgressInt(raw int) int {
	return clampProgress(float64(raw))
}
