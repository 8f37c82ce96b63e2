package job

import (
	"context"
	"sync"
	"time"

	"github.com/schmacka/printernizer-sub001/repository"
	"github.com/schmacka/printernizer-sub001/supervisor/errs"
)

// fakeJobRepo is a minimal in-memory repository.JobRepository for
// job.Service tests, a hand-built fake rather than a mocking framework.
type fakeJobRepo struct {
	mu   sync.Mutex
	rows map[string]repository.Job
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{rows: make(map[string]repository.Job)}
}

func (f *fakeJobRepo) Create(ctx context.Context, j repository.Job) (repository.CreateResult, repository.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.rows {
		if existing.PrinterID == j.PrinterID && existing.Filename == j.Filename &&
			existing.StartedAt != nil && j.StartedAt != nil && existing.StartedAt.Equal(*j.StartedAt) {
			return repository.Duplicate, existing, nil
		}
	}
	now := time.Now()
	j.CreatedAt = now
	j.UpdatedAt = now
	f.rows[j.ID] = j
	return repository.Created, j, nil
}

func (f *fakeJobRepo) Get(ctx context.Context, id string) (repository.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.rows[id]
	if !ok {
		return repository.Job{}, errs.NotFound("job", id)
	}
	return j, nil
}

func (f *fakeJobRepo) List(ctx context.Context, filter repository.JobFilter, limit, offset int) ([]repository.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []repository.Job
	for _, j := range f.rows {
		if filter.PrinterID != "" && j.PrinterID != filter.PrinterID {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, j.Status) {
			continue
		}
		out = append(out, j)
	}
	return out, nil
}

func containsStatus(statuses []repository.JobStatus, s repository.JobStatus) bool {
	for _, st := range statuses {
		if st == s {
			return true
		}
	}
	return false
}

func (f *fakeJobRepo) Count(ctx context.Context, filter repository.JobFilter) (int, error) {
	rows, err := f.List(ctx, filter, 0, 0)
	return len(rows), err
}

func (f *fakeJobRepo) Update(ctx context.Context, id string, patch repository.JobPatch) (repository.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.rows[id]
	if !ok {
		return repository.Job{}, errs.NotFound("job", id)
	}
	if patch.Status != nil {
		j.Status = *patch.Status
	}
	if patch.StartedAt != nil {
		j.StartedAt = patch.StartedAt
	}
	if patch.EndedAt != nil {
		j.EndedAt = patch.EndedAt
	}
	if patch.Progress != nil {
		j.Progress = *patch.Progress
	}
	if patch.CustomerInfo != nil {
		j.CustomerInfo = patch.CustomerInfo
	}
	if patch.AppendNote != nil {
		if j.Notes != "" {
			j.Notes += "\n"
		}
		j.Notes += *patch.AppendNote
	}
	j.UpdatedAt = time.Now()
	f.rows[id] = j
	return j, nil
}

func (f *fakeJobRepo) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows, id)
	return nil
}

func (f *fakeJobRepo) GetByDateRange(ctx context.Context, from, to int64, filter repository.JobFilter) ([]repository.Job, error) {
	return f.List(ctx, filter, 0, 0)
}

func (f *fakeJobRepo) GetStatistics(ctx context.Context) (repository.JobStatistics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var stats repository.JobStatistics
	for _, j := range f.rows {
		stats.TotalJobs++
		if j.Status == repository.JobStatusCompleted {
			stats.CompletedJobs++
		}
		if j.Status == repository.JobStatusFailed {
			stats.FailedJobs++
		}
	}
	return stats, nil
}
