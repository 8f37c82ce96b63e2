package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/schmacka/printernizer-sub001/repository"
	"github.com/schmacka/printernizer-sub001/supervisor/errs"
)

type LibraryRepository struct {
	db *DB
}

func NewLibraryRepository(db *DB) *LibraryRepository {
	return &LibraryRepository{db: db}
}

const libraryFileSelectColumns = `SELECT checksum, filename, display_name, library_path, size_bytes, file_type,
	status, added_at, last_modified, last_analyzed, is_duplicate, duplicate_of_checksum,
	thumbnail, thumbnail_width, thumbnail_height, metadata`

// libraryFileSelectColumnsQualified is the same projection as
// libraryFileSelectColumns, qualified and deduplicated for use against the
// library_files/library_file_sources join that filtering by
// source_type/manufacturer/printer_model requires.
const libraryFileSelectColumnsQualified = `SELECT DISTINCT lf.checksum, lf.filename, lf.display_name, lf.library_path, lf.size_bytes, lf.file_type,
	lf.status, lf.added_at, lf.last_modified, lf.last_analyzed, lf.is_duplicate, lf.duplicate_of_checksum,
	lf.thumbnail, lf.thumbnail_width, lf.thumbnail_height, lf.metadata`

func scanLibraryFile(row scanner) (repository.LibraryFile, error) {
	var f repository.LibraryFile
	var displayName, dupOf, metadataJSON sql.NullString
	var lastModified, lastAnalyzed sql.NullInt64
	var addedAt int64
	var isDup int
	var thumbW, thumbH sql.NullInt64

	err := row.Scan(&f.Checksum, &f.Filename, &displayName, &f.LibraryPath, &f.SizeBytes, &f.FileType,
		&f.Status, &addedAt, &lastModified, &lastAnalyzed, &isDup, &dupOf,
		&f.Thumbnail, &thumbW, &thumbH, &metadataJSON)
	if err != nil {
		return repository.LibraryFile{}, err
	}
	f.DisplayName = displayName.String
	f.DuplicateOfChecksum = dupOf.String
	f.IsDuplicate = isDup != 0
	f.AddedAt = time.Unix(addedAt, 0).UTC()
	f.LastModified = unixNullable(lastModified)
	f.LastAnalyzed = unixNullable(lastAnalyzed)
	if thumbW.Valid {
		f.ThumbnailWidth = int(thumbW.Int64)
	}
	if thumbH.Valid {
		f.ThumbnailHeight = int(thumbH.Int64)
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		var m map[string]any
		if err := json.Unmarshal([]byte(metadataJSON.String), &m); err == nil {
			f.Metadata = m
		}
	}
	return f, nil
}

func (r *LibraryRepository) CreateFile(ctx context.Context, file repository.LibraryFile) (repository.LibraryFile, error) {
	err := r.db.withWrite(ctx, func() error {
		metadataJSON, err := encodeJSON(file.Metadata)
		if err != nil {
			return err
		}
		searchIdx := strings.ToLower(file.Filename + " " + file.DisplayName)
		_, err = r.db.sql.ExecContext(ctx, `
			INSERT INTO library_files (checksum, filename, display_name, library_path, size_bytes, file_type,
				status, last_modified, is_duplicate, duplicate_of_checksum, thumbnail, thumbnail_width,
				thumbnail_height, metadata, search_index)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
			file.Checksum, file.Filename, nullString(file.DisplayName), file.LibraryPath, file.SizeBytes, file.FileType,
			file.Status, unixPtr(file.LastModified), boolToInt(file.IsDuplicate), nullString(file.DuplicateOfChecksum),
			file.Thumbnail, nullZero(file.ThumbnailWidth), nullZero(file.ThumbnailHeight), metadataJSON, searchIdx)
		return err
	})
	if err != nil {
		return repository.LibraryFile{}, err
	}
	return r.GetFileByChecksum(ctx, file.Checksum)
}

func (r *LibraryRepository) GetFileByChecksum(ctx context.Context, checksum string) (repository.LibraryFile, error) {
	f, err := scanLibraryFile(r.db.sql.QueryRowContext(ctx, libraryFileSelectColumns+" FROM library_files WHERE checksum = $1", checksum))
	if err == sql.ErrNoRows {
		return repository.LibraryFile{}, errs.NotFound("library file", checksum)
	}
	return f, err
}

func (r *LibraryRepository) UpdateFile(ctx context.Context, checksum string, patch repository.LibraryFilePatch) (repository.LibraryFile, error) {
	err := r.db.withWrite(ctx, func() error {
		current, err := r.GetFileByChecksum(ctx, checksum)
		if err != nil {
			return err
		}
		if patch.DisplayName != nil {
			current.DisplayName = *patch.DisplayName
		}
		if patch.Status != nil {
			current.Status = *patch.Status
		}
		if patch.LastAnalyzed != nil {
			current.LastAnalyzed = patch.LastAnalyzed
		}
		if patch.IsDuplicate != nil {
			current.IsDuplicate = *patch.IsDuplicate
		}
		if patch.DuplicateOfChecksum != nil {
			current.DuplicateOfChecksum = *patch.DuplicateOfChecksum
		}
		if patch.Thumbnail != nil {
			current.Thumbnail = patch.Thumbnail
		}
		if patch.Metadata != nil {
			current.Metadata = patch.Metadata
		}

		metadataJSON, err := encodeJSON(current.Metadata)
		if err != nil {
			return err
		}
		searchIdx := strings.ToLower(current.Filename + " " + current.DisplayName)
		_, err = r.db.sql.ExecContext(ctx, `
			UPDATE library_files SET display_name=$1, status=$2, last_analyzed=$3, is_duplicate=$4,
				duplicate_of_checksum=$5, thumbnail=$6, metadata=$7, search_index=$8
			WHERE checksum=$9`,
			nullString(current.DisplayName), current.Status, unixPtr(current.LastAnalyzed), boolToInt(current.IsDuplicate),
			nullString(current.DuplicateOfChecksum), current.Thumbnail, metadataJSON, searchIdx, checksum)
		return err
	})
	if err != nil {
		return repository.LibraryFile{}, err
	}
	return r.GetFileByChecksum(ctx, checksum)
}

// DeleteFile removes the library_files row; library_file_sources rows
// cascade via the schema's ON DELETE CASCADE foreign key. Removing the
// on-disk blob is the library service's responsibility, not this
// repository's.
func (r *LibraryRepository) DeleteFile(ctx context.Context, checksum string) error {
	return r.db.withWrite(ctx, func() error {
		_, err := r.db.sql.ExecContext(ctx, "DELETE FROM library_files WHERE checksum = $1", checksum)
		return err
	})
}

func (r *LibraryRepository) ListFiles(ctx context.Context, filter repository.LibraryFilter, page, limit int) ([]repository.LibraryFile, repository.Pagination, error) {
	where, args := buildLibraryWhere(filter)
	joinSources := filter.Manufacturer != "" || filter.PrinterModel != "" || filter.SourceType != ""

	from := "library_files lf"
	if joinSources {
		from = "library_files lf JOIN library_file_sources s ON s.checksum = lf.checksum"
	}

	countQuery := "SELECT COUNT(DISTINCT lf.checksum) FROM " + from + where
	var total int
	if err := r.db.sql.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, repository.Pagination{}, err
	}

	orderBy := librarySortColumn(filter.SortKey)
	offset := (page - 1) * limit
	if offset < 0 {
		offset = 0
	}

	query := libraryFileSelectColumnsQualified + " FROM " + from + where + " ORDER BY " + orderBy + " LIMIT ? OFFSET ?"
	queryArgs := append(append([]any{}, args...), limit, offset)

	rows, err := r.db.sql.QueryContext(ctx, query, queryArgs...)
	if err != nil {
		return nil, repository.Pagination{}, err
	}
	defer rows.Close()

	var out []repository.LibraryFile
	for rows.Next() {
		f, err := scanLibraryFile(rows)
		if err != nil {
			return nil, repository.Pagination{}, err
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, repository.Pagination{}, err
	}

	return out, repository.Pagination{Page: page, PageSize: limit, Total: total}, nil
}

func librarySortColumn(key string) string {
	switch key {
	case "filename":
		return "lf.filename ASC"
	case "file_size":
		return "lf.size_bytes DESC"
	case "last_modified":
		return "lf.last_modified DESC"
	default:
		return "lf.added_at DESC"
	}
}

func buildLibraryWhere(filter repository.LibraryFilter) (string, []any) {
	var clauses []string
	var args []any

	if filter.FileType != "" {
		clauses = append(clauses, "lf.file_type = ?")
		args = append(args, filter.FileType)
	}
	if filter.Status != "" {
		clauses = append(clauses, "lf.status = ?")
		args = append(args, filter.Status)
	}
	if filter.Search != "" {
		clauses = append(clauses, "lf.search_index LIKE ?")
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}
	if filter.HasThumbnail != nil {
		if *filter.HasThumbnail {
			clauses = append(clauses, "lf.thumbnail IS NOT NULL")
		} else {
			clauses = append(clauses, "lf.thumbnail IS NULL")
		}
	}
	if filter.HasMetadata != nil {
		if *filter.HasMetadata {
			clauses = append(clauses, "lf.metadata IS NOT NULL")
		} else {
			clauses = append(clauses, "lf.metadata IS NULL")
		}
	}
	if filter.OnlyDuplicates {
		clauses = append(clauses, "lf.is_duplicate = 1")
	} else if !filter.ShowDuplicates {
		clauses = append(clauses, "lf.is_duplicate = 0")
	}
	if filter.SourceType != "" {
		clauses = append(clauses, "s.source_type = ?")
		args = append(args, filter.SourceType)
	}
	if filter.Manufacturer != "" {
		clauses = append(clauses, "s.manufacturer = ?")
		args = append(args, filter.Manufacturer)
	}
	if filter.PrinterModel != "" {
		clauses = append(clauses, "s.printer_model = ?")
		args = append(args, filter.PrinterModel)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// CreateFileSource upserts a (checksum, source_type, source_id,
// original_path) row. Re-discovering the same file from the same source
// is a no-op, not an error, per §8's idempotence law.
func (r *LibraryRepository) CreateFileSource(ctx context.Context, source repository.LibraryFileSource) (repository.CreateResult, error) {
	var result repository.CreateResult
	err := r.db.withWrite(ctx, func() error {
		_, err := r.db.sql.ExecContext(ctx, `
			INSERT INTO library_file_sources (checksum, source_type, source_id, original_path, source_name, manufacturer, printer_model)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			source.Checksum, source.SourceType, source.SourceID, source.OriginalPath,
			nullString(source.SourceName), nullString(source.Manufacturer), nullString(source.PrinterModel))
		if isUniqueConstraintErr(err) {
			result = repository.Duplicate
			return nil
		}
		if err != nil {
			return err
		}
		result = repository.Created
		return nil
	})
	return result, err
}

func (r *LibraryRepository) DeleteFileSources(ctx context.Context, checksum string) error {
	return r.db.withWrite(ctx, func() error {
		_, err := r.db.sql.ExecContext(ctx, "DELETE FROM library_file_sources WHERE checksum = $1", checksum)
		return err
	})
}

func (r *LibraryRepository) ListFileSources(ctx context.Context, checksum string) ([]repository.LibraryFileSource, error) {
	rows, err := r.db.sql.QueryContext(ctx, `
		SELECT checksum, source_type, source_id, original_path, source_name, manufacturer, printer_model, discovered_at
		FROM library_file_sources WHERE checksum = $1 ORDER BY discovered_at ASC`, checksum)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []repository.LibraryFileSource
	for rows.Next() {
		var s repository.LibraryFileSource
		var sourceName, manufacturer, printerModel sql.NullString
		var discoveredAt int64
		if err := rows.Scan(&s.Checksum, &s.SourceType, &s.SourceID, &s.OriginalPath,
			&sourceName, &manufacturer, &printerModel, &discoveredAt); err != nil {
			return nil, err
		}
		s.SourceName = sourceName.String
		s.Manufacturer = manufacturer.String
		s.PrinterModel = printerModel.String
		s.DiscoveredAt = time.Unix(discoveredAt, 0).UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *LibraryRepository) GetStats(ctx context.Context) (repository.LibraryStats, error) {
	var stats repository.LibraryStats
	err := r.db.sql.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(size_bytes), 0), SUM(CASE WHEN is_duplicate = 1 THEN 1 ELSE 0 END)
		FROM library_files`).Scan(&stats.TotalFiles, &stats.TotalSizeBytes, &stats.DuplicateFiles)
	return stats, err
}

func nullZero(n int) any {
	if n == 0 {
		return nil
	}
	return n
}
