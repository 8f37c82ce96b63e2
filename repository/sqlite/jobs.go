package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/schmacka/printernizer-sub001/repository"
	"github.com/schmacka/printernizer-sub001/supervisor/errs"
)

type JobRepository struct {
	db *DB
}

func NewJobRepository(db *DB) *JobRepository {
	return &JobRepository{db: db}
}

func (r *JobRepository) Create(ctx context.Context, job repository.Job) (repository.CreateResult, repository.Job, error) {
	var result repository.CreateResult
	var out repository.Job

	err := r.db.withWrite(ctx, func() error {
		customerJSON, err := encodeJSON(job.CustomerInfo)
		if err != nil {
			return err
		}

		_, err = r.db.sql.ExecContext(ctx, `
			INSERT INTO jobs (id, printer_id, printer_type, job_name, filename, status,
				started_at, ended_at, estimated_duration_s, actual_duration_s, progress,
				material_used_g, material_cost, power_cost, is_business, customer_info, notes)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
			job.ID, job.PrinterID, job.PrinterType, job.JobName, nullString(job.Filename), job.Status,
			unixPtr(job.StartedAt), unixPtr(job.EndedAt), job.EstimatedDurationS, job.ActualDurationS, job.Progress,
			job.MaterialUsedG, job.MaterialCost, job.PowerCost, boolToInt(job.IsBusiness), customerJSON, job.Notes)

		if isUniqueConstraintErr(err) {
			result = repository.Duplicate
			existing, getErr := r.getTx(ctx, job.PrinterID, job.Filename, job.StartedAt)
			if getErr != nil {
				return getErr
			}
			out = existing
			return nil
		}
		if err != nil {
			return err
		}
		result = repository.Created
		out, err = r.getByID(ctx, job.ID)
		return err
	})
	return result, out, err
}

// getTx resolves the existing row for a (printer_id, filename,
// started_at) dedup-key collision so Create can return it alongside
// the Duplicate signal.
func (r *JobRepository) getTx(ctx context.Context, printerID, filename string, startedAt *time.Time) (repository.Job, error) {
	row := r.db.sql.QueryRowContext(ctx, `
		SELECT id FROM jobs WHERE printer_id = $1 AND filename = $2 AND started_at = $3`,
		printerID, filename, unixPtr(startedAt))
	var id string
	if err := row.Scan(&id); err != nil {
		return repository.Job{}, err
	}
	return r.getByID(ctx, id)
}

func (r *JobRepository) Get(ctx context.Context, id string) (repository.Job, error) {
	job, err := r.getByID(ctx, id)
	if err == sql.ErrNoRows {
		return repository.Job{}, errs.NotFound("job", id)
	}
	return job, err
}

func (r *JobRepository) getByID(ctx context.Context, id string) (repository.Job, error) {
	return scanJob(r.db.sql.QueryRowContext(ctx, jobSelectColumns+" FROM jobs WHERE id = $1", id))
}

const jobSelectColumns = `SELECT id, printer_id, printer_type, job_name, filename, status,
	started_at, ended_at, estimated_duration_s, actual_duration_s, progress,
	material_used_g, material_cost, power_cost, is_business, customer_info,
	created_at, updated_at, notes`

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (repository.Job, error) {
	var j repository.Job
	var filename, customerJSON sql.NullString
	var startedAt, endedAt sql.NullInt64
	var estDur, actDur sql.NullInt64
	var matG, matCost, powerCost sql.NullFloat64
	var isBusiness int
	var createdAt, updatedAt int64

	err := row.Scan(&j.ID, &j.PrinterID, &j.PrinterType, &j.JobName, &filename, &j.Status,
		&startedAt, &endedAt, &estDur, &actDur, &j.Progress,
		&matG, &matCost, &powerCost, &isBusiness, &customerJSON,
		&createdAt, &updatedAt, &j.Notes)
	if err != nil {
		return repository.Job{}, err
	}

	j.Filename = filename.String
	j.IsBusiness = isBusiness != 0
	j.StartedAt = unixNullable(startedAt)
	j.EndedAt = unixNullable(endedAt)
	j.CreatedAt = time.Unix(createdAt, 0).UTC()
	j.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	if estDur.Valid {
		v := int(estDur.Int64)
		j.EstimatedDurationS = &v
	}
	if actDur.Valid {
		v := int(actDur.Int64)
		j.ActualDurationS = &v
	}
	if matG.Valid {
		j.MaterialUsedG = &matG.Float64
	}
	if matCost.Valid {
		j.MaterialCost = &matCost.Float64
	}
	if powerCost.Valid {
		j.PowerCost = &powerCost.Float64
	}
	if customerJSON.Valid && customerJSON.String != "" {
		var m map[string]any
		if err := json.Unmarshal([]byte(customerJSON.String), &m); err == nil {
			j.CustomerInfo = m
		}
	}
	return j, nil
}

func (r *JobRepository) List(ctx context.Context, filter repository.JobFilter, limit, offset int) ([]repository.Job, error) {
	where, args := buildJobWhere(filter)
	query := jobSelectColumns + " FROM jobs" + where + " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := r.db.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []repository.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (r *JobRepository) Count(ctx context.Context, filter repository.JobFilter) (int, error) {
	where, args := buildJobWhere(filter)
	var count int
	err := r.db.sql.QueryRowContext(ctx, "SELECT COUNT(*) FROM jobs"+where, args...).Scan(&count)
	return count, err
}

func (r *JobRepository) GetByDateRange(ctx context.Context, from, to int64, filter repository.JobFilter) ([]repository.Job, error) {
	where, args := buildJobWhere(filter)
	clause := " WHERE created_at BETWEEN ? AND ?"
	if where != "" {
		clause = where + " AND created_at BETWEEN ? AND ?"
	}
	args = append(args, from, to)
	rows, err := r.db.sql.QueryContext(ctx, jobSelectColumns+" FROM jobs"+clause+" ORDER BY created_at DESC", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []repository.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func buildJobWhere(filter repository.JobFilter) (string, []any) {
	var clauses []string
	var args []any
	if filter.PrinterID != "" {
		clauses = append(clauses, "printer_id = ?")
		args = append(args, filter.PrinterID)
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, s)
		}
		clauses = append(clauses, "status IN ("+strings.Join(placeholders, ",")+")")
	}
	if filter.IsBusiness != nil {
		clauses = append(clauses, "is_business = ?")
		args = append(args, boolToInt(*filter.IsBusiness))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// Update applies patch to job id's mutable fields under the shared
// write semaphore. completion_notes formatting and started_at/ended_at
// auto-set live in the job transition engine (job package), which is
// the only caller expected to build non-trivial patches; this method
// applies whatever patch it's given without re-validating transitions.
func (r *JobRepository) Update(ctx context.Context, id string, patch repository.JobPatch) (repository.Job, error) {
	var out repository.Job
	err := r.db.withWrite(ctx, func() error {
		current, err := r.getByID(ctx, id)
		if err == sql.ErrNoRows {
			return errs.NotFound("job", id)
		}
		if err != nil {
			return err
		}

		if patch.Status != nil {
			current.Status = *patch.Status
		}
		if patch.JobName != nil {
			current.JobName = *patch.JobName
		}
		if patch.Filename != nil {
			current.Filename = *patch.Filename
		}
		if patch.StartedAt != nil {
			current.StartedAt = patch.StartedAt
		}
		if patch.EndedAt != nil {
			current.EndedAt = patch.EndedAt
		}
		if patch.EstimatedDurationS != nil {
			current.EstimatedDurationS = patch.EstimatedDurationS
		}
		if patch.ActualDurationS != nil {
			current.ActualDurationS = patch.ActualDurationS
		}
		if patch.Progress != nil {
			current.Progress = *patch.Progress
		}
		if patch.MaterialUsedG != nil {
			current.MaterialUsedG = patch.MaterialUsedG
		}
		if patch.MaterialCost != nil {
			current.MaterialCost = patch.MaterialCost
		}
		if patch.PowerCost != nil {
			current.PowerCost = patch.PowerCost
		}
		if patch.IsBusiness != nil {
			current.IsBusiness = *patch.IsBusiness
		}
		if patch.CustomerInfo != nil {
			current.CustomerInfo = patch.CustomerInfo
		}
		if patch.AppendNote != nil && *patch.AppendNote != "" {
			if current.Notes != "" {
				current.Notes += "\n"
			}
			current.Notes += *patch.AppendNote
		}

		customerJSON, err := encodeJSON(current.CustomerInfo)
		if err != nil {
			return err
		}

		_, err = r.db.sql.ExecContext(ctx, `
			UPDATE jobs SET status=$1, job_name=$2, filename=$3, started_at=$4, ended_at=$5,
				estimated_duration_s=$6, actual_duration_s=$7, progress=$8, material_used_g=$9,
				material_cost=$10, power_cost=$11, is_business=$12, customer_info=$13,
				notes=$14, updated_at=strftime('%s','now')
			WHERE id=$15`,
			current.Status, current.JobName, nullString(current.Filename), unixPtr(current.StartedAt), unixPtr(current.EndedAt),
			current.EstimatedDurationS, current.ActualDurationS, current.Progress, current.MaterialUsedG,
			current.MaterialCost, current.PowerCost, boolToInt(current.IsBusiness), customerJSON,
			current.Notes, id)
		if err != nil {
			return err
		}
		out, err = r.getByID(ctx, id)
		return err
	})
	return out, err
}

func (r *JobRepository) Delete(ctx context.Context, id string) error {
	return r.db.withWrite(ctx, func() error {
		_, err := r.db.sql.ExecContext(ctx, "DELETE FROM jobs WHERE id = $1", id)
		return err
	})
}

func (r *JobRepository) GetStatistics(ctx context.Context) (repository.JobStatistics, error) {
	var stats repository.JobStatistics
	err := r.db.sql.QueryRowContext(ctx, `
		SELECT COUNT(*),
			SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END),
			COALESCE(SUM(actual_duration_s), 0),
			COALESCE(SUM(material_used_g), 0)
		FROM jobs`).Scan(&stats.TotalJobs, &stats.CompletedJobs, &stats.FailedJobs,
		&stats.TotalPrintTimeS, &stats.TotalMaterialG)
	return stats, err
}

func encodeJSON(v map[string]any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding json column: %w", err)
	}
	return string(b), nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func unixPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func unixNullable(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueConstraintErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
