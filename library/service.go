// Package library implements the content-addressed file store: ingest
// by SHA-256 checksum, multi-source tracking, search/listing, and
// cascade-on-delete of both the database rows and the on-disk file.
package library

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/schmacka/printernizer-sub001/model"
	"github.com/schmacka/printernizer-sub001/repository"
	"github.com/schmacka/printernizer-sub001/supervisor/errs"
)

// Service implements §4.5 on top of repository.LibraryRepository. Root
// is the library's on-disk storage directory; ingested files are copied
// under root/<checksum[:2]>/<checksum>.<ext>.
type Service struct {
	repo repository.LibraryRepository
	root string

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func NewService(repo repository.LibraryRepository, root string) *Service {
	return &Service{repo: repo, root: root, locks: make(map[string]*sync.Mutex)}
}

// lockFor serializes ingest for one checksum, a per-resource sync.Mutex
// cache generalized per-checksum as §5 requires ("a per-checksum lock
// for the duration of ingest; reads require no lock").
func (s *Service) lockFor(checksum string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[checksum]
	if !ok {
		l = &sync.Mutex{}
		s.locks[checksum] = l
	}
	return l
}

// Source describes where an observed file came from, for the
// LibraryFileSource row the ingest protocol creates or reuses.
type Source struct {
	Type         repository.LibrarySourceType
	ID           string
	OriginalPath string
	Name         string
	Manufacturer string
	PrinterModel string
}

// Ingest runs the §4.5 protocol for one observed local path: hash it,
// look up or create the LibraryFile, and attach a source row. Returns
// the file and whether this call created a new LibraryFile (false means
// an existing file gained a new or refreshed source).
func (s *Service) Ingest(ctx context.Context, localPath string, src Source) (repository.LibraryFile, bool, error) {
	checksum, size, err := hashFile(localPath)
	if err != nil {
		return repository.LibraryFile{}, false, fmt.Errorf("hashing %s: %w", localPath, err)
	}

	lock := s.lockFor(checksum)
	lock.Lock()
	defer lock.Unlock()

	existing, err := s.repo.GetFileByChecksum(ctx, checksum)
	if err == nil {
		if _, err := s.repo.CreateFileSource(ctx, repository.LibraryFileSource{
			Checksum:     checksum,
			SourceType:   src.Type,
			SourceID:     src.ID,
			OriginalPath: src.OriginalPath,
			SourceName:   src.Name,
			Manufacturer: src.Manufacturer,
			PrinterModel: src.PrinterModel,
		}); err != nil {
			return repository.LibraryFile{}, false, err
		}
		return existing, false, nil
	}
	if !isNotFound(err) {
		return repository.LibraryFile{}, false, err
	}

	libraryPath, err := s.store(localPath, checksum)
	if err != nil {
		return repository.LibraryFile{}, false, err
	}

	fileType := repository.FileType(model.FileTypeFromName(localPath))
	created, err := s.repo.CreateFile(ctx, repository.LibraryFile{
		Checksum:    checksum,
		Filename:    filepath.Base(localPath),
		DisplayName: filepath.Base(localPath),
		LibraryPath: libraryPath,
		SizeBytes:   size,
		FileType:    fileType,
		Status:      repository.LibraryFileStatusAvailable,
	})
	if err != nil {
		return repository.LibraryFile{}, false, err
	}

	if _, err := s.repo.CreateFileSource(ctx, repository.LibraryFileSource{
		Checksum:     checksum,
		SourceType:   src.Type,
		SourceID:     src.ID,
		OriginalPath: src.OriginalPath,
		SourceName:   src.Name,
		Manufacturer: src.Manufacturer,
		PrinterModel: src.PrinterModel,
	}); err != nil {
		return repository.LibraryFile{}, false, err
	}

	return created, true, nil
}

// store copies localPath into the library root under a checksum-derived
// path and returns that path. Preserves the original on disk; nothing in
// §4.5 requires moving it, and the watch-folder source may still need it.
func (s *Service) store(localPath, checksum string) (string, error) {
	ext := filepath.Ext(localPath)
	dir := filepath.Join(s.root, checksum[:2])
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating library directory: %w", err)
	}
	dest := filepath.Join(dir, checksum+ext)

	in, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("opening source file: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("creating library file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return "", fmt.Errorf("copying into library: %w", err)
	}
	return dest, nil
}

// Get returns a LibraryFile by checksum.
func (s *Service) Get(ctx context.Context, checksum string) (repository.LibraryFile, error) {
	return s.repo.GetFileByChecksum(ctx, checksum)
}

// List supports the §4.5 filter/sort set; repository/sqlite handles the
// SQL-level JOIN+DISTINCT and LIKE-on-search_index details.
func (s *Service) List(ctx context.Context, filter repository.LibraryFilter, page, limit int) ([]repository.LibraryFile, repository.Pagination, error) {
	return s.repo.ListFiles(ctx, filter, page, limit)
}

// MarkDuplicate flags checksum as a duplicate of canonical, per §4.5's
// true-duplicate semantics (distinct from the normal multi-source case).
func (s *Service) MarkDuplicate(ctx context.Context, checksum, canonical string) (repository.LibraryFile, error) {
	isDup := true
	return s.repo.UpdateFile(ctx, checksum, repository.LibraryFilePatch{
		IsDuplicate:         &isDup,
		DuplicateOfChecksum: &canonical,
	})
}

// Update applies a general patch (thumbnail, metadata, display name, ...).
func (s *Service) Update(ctx context.Context, checksum string, patch repository.LibraryFilePatch) (repository.LibraryFile, error) {
	return s.repo.UpdateFile(ctx, checksum, patch)
}

// RemoveSource deletes every source row recorded for checksum; there is
// no removal of a single source. The LibraryFile row and the on-disk
// file stay in place.
func (s *Service) RemoveSource(ctx context.Context, checksum string) error {
	return s.repo.DeleteFileSources(ctx, checksum)
}

// Delete removes a LibraryFile: its source rows (cascaded at the schema
// level), then the on-disk file itself, which the repository layer
// intentionally does not touch.
func (s *Service) Delete(ctx context.Context, checksum string) error {
	lock := s.lockFor(checksum)
	lock.Lock()
	defer lock.Unlock()

	file, err := s.repo.GetFileByChecksum(ctx, checksum)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteFile(ctx, checksum); err != nil {
		return err
	}
	if file.LibraryPath == "" {
		return nil
	}
	if err := os.Remove(file.LibraryPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing library file on disk: %w", err)
	}
	return nil
}

func (s *Service) Stats(ctx context.Context) (repository.LibraryStats, error) {
	return s.repo.GetStats(ctx)
}

func hashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}

func isNotFound(err error) bool {
	return errs.Is(err, errs.KindNotFound)
}
