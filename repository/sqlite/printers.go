package sqlite

import (
	"context"
	"database/sql"

	"github.com/schmacka/printernizer-sub001/model"
	"github.com/schmacka/printernizer-sub001/repository"
	"github.com/schmacka/printernizer-sub001/supervisor/errs"
)

type PrinterRepository struct {
	db *DB
}

func NewPrinterRepository(db *DB) *PrinterRepository {
	return &PrinterRepository{db: db}
}

func (r *PrinterRepository) Create(ctx context.Context, printer model.Printer) (model.Printer, error) {
	err := r.db.withWrite(ctx, func() error {
		_, err := r.db.sql.ExecContext(ctx, `
			INSERT INTO printers (id, type, host, port, api_key, access_code, serial, is_active, last_status, last_seen_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			printer.ID, printer.Type, printer.Endpoint.Host, printer.Endpoint.Port,
			nullString(printer.Endpoint.APIKey), nullString(printer.Endpoint.AccessCode), nullString(printer.Endpoint.Serial),
			boolToInt(printer.IsActive), string(model.PhaseUnknown), unixPtr(printer.LastSeenAt))
		return err
	})
	if err != nil {
		return model.Printer{}, err
	}
	return r.Get(ctx, printer.ID)
}

func (r *PrinterRepository) Get(ctx context.Context, id string) (model.Printer, error) {
	p, err := scanPrinter(r.db.sql.QueryRowContext(ctx, printerSelectColumns+" FROM printers WHERE id = $1", id))
	if err == sql.ErrNoRows {
		return model.Printer{}, errs.NotFound("printer", id)
	}
	return p, err
}

const printerSelectColumns = `SELECT id, type, host, port, api_key, access_code, serial, is_active, last_status, last_seen_at`

func scanPrinter(row scanner) (model.Printer, error) {
	var p model.Printer
	var apiKey, accessCode, serial, lastStatus sql.NullString
	var lastSeenAt sql.NullInt64
	var isActive int

	err := row.Scan(&p.ID, &p.Type, &p.Endpoint.Host, &p.Endpoint.Port, &apiKey, &accessCode, &serial,
		&isActive, &lastStatus, &lastSeenAt)
	if err != nil {
		return model.Printer{}, err
	}
	p.Endpoint.APIKey = apiKey.String
	p.Endpoint.AccessCode = accessCode.String
	p.Endpoint.Serial = serial.String
	p.IsActive = isActive != 0
	if lastStatus.Valid {
		p.LastStatus = model.Phase(lastStatus.String)
	} else {
		p.LastStatus = model.PhaseUnknown
	}
	p.LastSeenAt = unixNullable(lastSeenAt)
	return p, nil
}

func (r *PrinterRepository) List(ctx context.Context, activeOnly bool) ([]model.Printer, error) {
	query := printerSelectColumns + " FROM printers"
	if activeOnly {
		query += " WHERE is_active = 1"
	}
	rows, err := r.db.sql.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Printer
	for rows.Next() {
		p, err := scanPrinter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *PrinterRepository) Update(ctx context.Context, id string, patch repository.PrinterPatch) (model.Printer, error) {
	err := r.db.withWrite(ctx, func() error {
		current, err := r.Get(ctx, id)
		if err != nil {
			return err
		}
		if patch.IsActive != nil {
			current.IsActive = *patch.IsActive
		}
		if patch.Endpoint != nil {
			current.Endpoint = *patch.Endpoint
		}
		_, err = r.db.sql.ExecContext(ctx, `
			UPDATE printers SET host=$1, port=$2, api_key=$3, access_code=$4, serial=$5, is_active=$6
			WHERE id=$7`,
			current.Endpoint.Host, current.Endpoint.Port, nullString(current.Endpoint.APIKey),
			nullString(current.Endpoint.AccessCode), nullString(current.Endpoint.Serial),
			boolToInt(current.IsActive), id)
		return err
	})
	if err != nil {
		return model.Printer{}, err
	}
	return r.Get(ctx, id)
}

// UpdateStatus is the fleet supervisor's §4.3 Task 1 write path: it
// touches only last_status/last_seen_at, never the printer's own config
// fields, matching the PrinterRepository interface's config/status split.
func (r *PrinterRepository) UpdateStatus(ctx context.Context, id string, phase model.Phase, lastSeenUnix int64) error {
	return r.db.withWrite(ctx, func() error {
		_, err := r.db.sql.ExecContext(ctx,
			"UPDATE printers SET last_status=$1, last_seen_at=$2 WHERE id=$3",
			string(phase), lastSeenUnix, id)
		return err
	})
}

func (r *PrinterRepository) Delete(ctx context.Context, id string) error {
	return r.db.withWrite(ctx, func() error {
		_, err := r.db.sql.ExecContext(ctx, "DELETE FROM printers WHERE id = $1", id)
		return err
	})
}

func (r *PrinterRepository) Exists(ctx context.Context, id string) (bool, error) {
	var count int
	err := r.db.sql.QueryRowContext(ctx, "SELECT COUNT(*) FROM printers WHERE id = $1", id).Scan(&count)
	return count > 0, err
}
