package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/schmacka/printernizer-sub001/repository"
	"github.com/schmacka/printernizer-sub001/supervisor/errs"
)

type SnapshotRepository struct {
	db *DB
}

func NewSnapshotRepository(db *DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

const snapshotSelectColumns = `SELECT id, printer_id, job_id, captured_at, data, valid, validation_error`

func scanSnapshot(row scanner) (repository.Snapshot, error) {
	var s repository.Snapshot
	var jobID, validationErr sql.NullString
	var capturedAt int64
	var valid int

	err := row.Scan(&s.ID, &s.PrinterID, &jobID, &capturedAt, &s.Data, &valid, &validationErr)
	if err != nil {
		return repository.Snapshot{}, err
	}
	s.JobID = jobID.String
	s.CapturedAt = time.Unix(capturedAt, 0).UTC()
	s.Valid = valid != 0
	s.ValidationError = validationErr.String
	return s, nil
}

func (r *SnapshotRepository) Create(ctx context.Context, snapshot repository.Snapshot) (repository.Snapshot, error) {
	err := r.db.withWrite(ctx, func() error {
		_, err := r.db.sql.ExecContext(ctx, `
			INSERT INTO snapshots (id, printer_id, job_id, data, valid, validation_error)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			snapshot.ID, snapshot.PrinterID, nullString(snapshot.JobID), snapshot.Data,
			boolToInt(snapshot.Valid), nullString(snapshot.ValidationError))
		return err
	})
	if err != nil {
		return repository.Snapshot{}, err
	}
	return r.Get(ctx, snapshot.ID)
}

func (r *SnapshotRepository) Get(ctx context.Context, id string) (repository.Snapshot, error) {
	s, err := scanSnapshot(r.db.sql.QueryRowContext(ctx, snapshotSelectColumns+" FROM snapshots WHERE id = $1", id))
	if err == sql.ErrNoRows {
		return repository.Snapshot{}, errs.NotFound("snapshot", id)
	}
	return s, err
}

func (r *SnapshotRepository) List(ctx context.Context, filter repository.SnapshotFilter, page, limit int) ([]repository.Snapshot, error) {
	var clauses []string
	var args []any
	if filter.PrinterID != "" {
		clauses = append(clauses, "printer_id = ?")
		args = append(args, filter.PrinterID)
	}
	if filter.JobID != "" {
		clauses = append(clauses, "job_id = ?")
		args = append(args, filter.JobID)
	}

	where := ""
	for i, c := range clauses {
		if i == 0 {
			where = " WHERE " + c
		} else {
			where += " AND " + c
		}
	}

	offset := (page - 1) * limit
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit, offset)

	rows, err := r.db.sql.QueryContext(ctx, snapshotSelectColumns+" FROM snapshots"+where+" ORDER BY captured_at DESC LIMIT ? OFFSET ?", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []repository.Snapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *SnapshotRepository) Delete(ctx context.Context, id string) error {
	return r.db.withWrite(ctx, func() error {
		_, err := r.db.sql.ExecContext(ctx, "DELETE FROM snapshots WHERE id = $1", id)
		return err
	})
}

func (r *SnapshotRepository) UpdateValidation(ctx context.Context, id string, valid bool, validationErr string) error {
	return r.db.withWrite(ctx, func() error {
		_, err := r.db.sql.ExecContext(ctx,
			"UPDATE snapshots SET valid = $1, validation_error = $2 WHERE id = $3",
			boolToInt(valid), nullString(validationErr), id)
		return err
	})
}
