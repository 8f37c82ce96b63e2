package library

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/schmacka/printernizer-sub001/repository"
	"github.com/schmacka/printernizer-sub001/supervisor/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLibraryRepo is a minimal in-memory repository.LibraryRepository,
// matching the hand-built-fake idiom used in job/fakerepo_test.go.
type fakeLibraryRepo struct {
	files   map[string]repository.LibraryFile
	sources map[string][]repository.LibraryFileSource
}

func newFakeLibraryRepo() *fakeLibraryRepo {
	return &fakeLibraryRepo{
		files:   make(map[string]repository.LibraryFile),
		sources: make(map[string][]repository.LibraryFileSource),
	}
}

func (f *fakeLibraryRepo) CreateFile(ctx context.Context, file repository.LibraryFile) (repository.LibraryFile, error) {
	f.files[file.Checksum] = file
	return file, nil
}

func (f *fakeLibraryRepo) GetFileByChecksum(ctx context.Context, checksum string) (repository.LibraryFile, error) {
	file, ok := f.files[checksum]
	if !ok {
		return repository.LibraryFile{}, errs.NotFound("library file", checksum)
	}
	return file, nil
}

func (f *fakeLibraryRepo) UpdateFile(ctx context.Context, checksum string, patch repository.LibraryFilePatch) (repository.LibraryFile, error) {
	file, ok := f.files[checksum]
	if !ok {
		return repository.LibraryFile{}, errs.NotFound("library file", checksum)
	}
	if patch.DisplayName != nil {
		file.DisplayName = *patch.DisplayName
	}
	if patch.Status != nil {
		file.Status = *patch.Status
	}
	if patch.IsDuplicate != nil {
		file.IsDuplicate = *patch.IsDuplicate
	}
	if patch.DuplicateOfChecksum != nil {
		file.DuplicateOfChecksum = *patch.DuplicateOfChecksum
	}
	f.files[checksum] = file
	return file, nil
}

func (f *fakeLibraryRepo) DeleteFile(ctx context.Context, checksum string) error {
	if _, ok := f.files[checksum]; !ok {
		return errs.NotFound("library file", checksum)
	}
	delete(f.files, checksum)
	delete(f.sources, checksum)
	return nil
}

func (f *fakeLibraryRepo) ListFiles(ctx context.Context, filter repository.LibraryFilter, page, limit int) ([]repository.LibraryFile, repository.Pagination, error) {
	var out []repository.LibraryFile
	for _, file := range f.files {
		out = append(out, file)
	}
	return out, repository.Pagination{Page: page, PageSize: limit, Total: len(out)}, nil
}

func (f *fakeLibraryRepo) CreateFileSource(ctx context.Context, source repository.LibraryFileSource) (repository.CreateResult, error) {
	for _, existing := range f.sources[source.Checksum] {
		if existing.SourceType == source.SourceType && existing.SourceID == source.SourceID && existing.OriginalPath == source.OriginalPath {
			return repository.Duplicate, nil
		}
	}
	f.sources[source.Checksum] = append(f.sources[source.Checksum], source)
	return repository.Created, nil
}

func (f *fakeLibraryRepo) DeleteFileSources(ctx context.Context, checksum string) error {
	delete(f.sources, checksum)
	return nil
}

func (f *fakeLibraryRepo) ListFileSources(ctx context.Context, checksum string) ([]repository.LibraryFileSource, error) {
	return f.sources[checksum], nil
}

func (f *fakeLibraryRepo) GetStats(ctx context.Context) (repository.LibraryStats, error) {
	var stats repository.LibraryStats
	for _, file := range f.files {
		stats.TotalFiles++
		stats.TotalSizeBytes += file.SizeBytes
		if file.IsDuplicate {
			stats.DuplicateFiles++
		}
	}
	return stats, nil
}

func writeTempFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestIngestNewFileCreatesLibraryFileAndSource(t *testing.T) {
	repo := newFakeLibraryRepo()
	root := t.TempDir()
	srcDir := t.TempDir()
	s := NewService(repo, root)

	path := writeTempFile(t, srcDir, "part.3mf", "model-bytes")
	file, created, err := s.Ingest(context.Background(), path, Source{
		Type: repository.LibrarySourceTypePrinter, ID: "p1", OriginalPath: path,
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, file.Checksum)
	assert.Equal(t, repository.FileType3MF, file.FileType)
	assert.FileExists(t, file.LibraryPath)

	sources, err := repo.ListFileSources(context.Background(), file.Checksum)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, repository.LibrarySourceTypePrinter, sources[0].SourceType)
}

func TestIngestSameContentFromSecondSourceAddsSourceNotFile(t *testing.T) {
	repo := newFakeLibraryRepo()
	root := t.TempDir()
	dirA, dirB := t.TempDir(), t.TempDir()
	s := NewService(repo, root)

	pathA := writeTempFile(t, dirA, "a.3mf", "identical-bytes")
	pathB := writeTempFile(t, dirB, "a.3mf", "identical-bytes")

	first, created1, err := s.Ingest(context.Background(), pathA, Source{
		Type: repository.LibrarySourceTypePrinter, ID: "p1", OriginalPath: pathA,
	})
	require.NoError(t, err)
	assert.True(t, created1)

	second, created2, err := s.Ingest(context.Background(), pathB, Source{
		Type: repository.LibrarySourceTypeWatchFolder, ID: "w1", OriginalPath: pathB,
	})
	require.NoError(t, err)
	assert.False(t, created2)
	assert.Equal(t, first.Checksum, second.Checksum)

	sources, err := repo.ListFileSources(context.Background(), first.Checksum)
	require.NoError(t, err)
	assert.Len(t, sources, 2)
	assert.Len(t, repo.files, 1)
}

func TestDeleteRemovesFileSourcesAndOnDiskFile(t *testing.T) {
	repo := newFakeLibraryRepo()
	root := t.TempDir()
	srcDir := t.TempDir()
	s := NewService(repo, root)

	path := writeTempFile(t, srcDir, "a.gcode", "gcode-bytes")
	file, _, err := s.Ingest(context.Background(), path, Source{
		Type: repository.LibrarySourceTypePrinter, ID: "p1", OriginalPath: path,
	})
	require.NoError(t, err)

	require.NoError(t, s.Delete(context.Background(), file.Checksum))

	_, err = repo.GetFileByChecksum(context.Background(), file.Checksum)
	assert.True(t, errs.Is(err, errs.KindNotFound))
	assert.NoFileExists(t, file.LibraryPath)

	sources, err := repo.ListFileSources(context.Background(), file.Checksum)
	require.NoError(t, err)
	assert.Empty(t, sources)
}

func TestMarkDuplicateSetsFlagAndCanonical(t *testing.T) {
	repo := newFakeLibraryRepo()
	s := NewService(repo, t.TempDir())

	repo.files["c1"] = repository.LibraryFile{Checksum: "c1"}
	repo.files["c2"] = repository.LibraryFile{Checksum: "c2"}

	updated, err := s.MarkDuplicate(context.Background(), "c2", "c1")
	require.NoError(t, err)
	assert.True(t, updated.IsDuplicate)
	assert.Equal(t, "c1", updated.DuplicateOfChecksum)
}
