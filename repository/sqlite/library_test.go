package sqlite

import (
	"context"
	"testing"

	"github.com/schmacka/printernizer-sub001/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLibraryFile(checksum, filename string) repository.LibraryFile {
	return repository.LibraryFile{
		Checksum:    checksum,
		Filename:    filename,
		LibraryPath: "/library/" + checksum[:2] + "/" + checksum + ".3mf",
		SizeBytes:   1024,
		FileType:    repository.FileType3MF,
		Status:      repository.LibraryFileStatusAvailable,
	}
}

func TestLibraryCreateFileAndGet(t *testing.T) {
	db := newTestDB(t)
	repo := NewLibraryRepository(db)
	ctx := context.Background()

	created, err := repo.CreateFile(ctx, testLibraryFile("abc123", "benchy.3mf"))
	require.NoError(t, err)
	assert.Equal(t, "benchy.3mf", created.Filename)

	fetched, err := repo.GetFileByChecksum(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, created.LibraryPath, fetched.LibraryPath)
}

func TestLibraryCreateFileSourceDedupIsNoop(t *testing.T) {
	db := newTestDB(t)
	repo := NewLibraryRepository(db)
	ctx := context.Background()

	_, err := repo.CreateFile(ctx, testLibraryFile("abc123", "benchy.3mf"))
	require.NoError(t, err)

	source := repository.LibraryFileSource{
		Checksum:     "abc123",
		SourceType:   repository.LibrarySourceTypePrinter,
		SourceID:     "printer-1",
		OriginalPath: "/cache/benchy.3mf",
		Manufacturer: "bambu_lab",
	}
	result, err := repo.CreateFileSource(ctx, source)
	require.NoError(t, err)
	assert.Equal(t, repository.Created, result)

	result, err = repo.CreateFileSource(ctx, source)
	require.NoError(t, err)
	assert.Equal(t, repository.Duplicate, result)

	sources, err := repo.ListFileSources(ctx, "abc123")
	require.NoError(t, err)
	assert.Len(t, sources, 1)
}

func TestLibraryListFilesFiltersByManufacturer(t *testing.T) {
	db := newTestDB(t)
	repo := NewLibraryRepository(db)
	ctx := context.Background()

	_, err := repo.CreateFile(ctx, testLibraryFile("abc123", "benchy.3mf"))
	require.NoError(t, err)
	_, err = repo.CreateFile(ctx, testLibraryFile("def456", "other.stl"))
	require.NoError(t, err)

	_, err = repo.CreateFileSource(ctx, repository.LibraryFileSource{
		Checksum: "abc123", SourceType: repository.LibrarySourceTypePrinter,
		SourceID: "printer-1", OriginalPath: "/cache/benchy.3mf", Manufacturer: "bambu_lab",
	})
	require.NoError(t, err)
	_, err = repo.CreateFileSource(ctx, repository.LibraryFileSource{
		Checksum: "def456", SourceType: repository.LibrarySourceTypePrinter,
		SourceID: "printer-2", OriginalPath: "/files/other.stl", Manufacturer: "prusa",
	})
	require.NoError(t, err)

	files, pg, err := repo.ListFiles(ctx, repository.LibraryFilter{Manufacturer: "bambu_lab"}, 1, 10)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "benchy.3mf", files[0].Filename)
	assert.Equal(t, 1, pg.Total)
}

func TestLibraryListFilesExcludesDuplicatesByDefault(t *testing.T) {
	db := newTestDB(t)
	repo := NewLibraryRepository(db)
	ctx := context.Background()

	_, err := repo.CreateFile(ctx, testLibraryFile("abc123", "benchy.3mf"))
	require.NoError(t, err)
	dup := testLibraryFile("def456", "benchy-copy.3mf")
	dup.IsDuplicate = true
	dup.DuplicateOfChecksum = "abc123"
	_, err = repo.CreateFile(ctx, dup)
	require.NoError(t, err)

	files, _, err := repo.ListFiles(ctx, repository.LibraryFilter{}, 1, 10)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "benchy.3mf", files[0].Filename)

	withDups, _, err := repo.ListFiles(ctx, repository.LibraryFilter{ShowDuplicates: true}, 1, 10)
	require.NoError(t, err)
	assert.Len(t, withDups, 2)
}

func TestLibraryUpdateFilePatch(t *testing.T) {
	db := newTestDB(t)
	repo := NewLibraryRepository(db)
	ctx := context.Background()

	_, err := repo.CreateFile(ctx, testLibraryFile("abc123", "benchy.3mf"))
	require.NoError(t, err)

	name := "Benchy (calibration)"
	updated, err := repo.UpdateFile(ctx, "abc123", repository.LibraryFilePatch{DisplayName: &name})
	require.NoError(t, err)
	assert.Equal(t, name, updated.DisplayName)
}

func TestLibraryDeleteFileCascadesSources(t *testing.T) {
	db := newTestDB(t)
	repo := NewLibraryRepository(db)
	ctx := context.Background()

	_, err := repo.CreateFile(ctx, testLibraryFile("abc123", "benchy.3mf"))
	require.NoError(t, err)
	_, err = repo.CreateFileSource(ctx, repository.LibraryFileSource{
		Checksum: "abc123", SourceType: repository.LibrarySourceTypePrinter,
		SourceID: "printer-1", OriginalPath: "/cache/benchy.3mf",
	})
	require.NoError(t, err)

	require.NoError(t, repo.DeleteFile(ctx, "abc123"))

	sources, err := repo.ListFileSources(ctx, "abc123")
	require.NoError(t, err)
	assert.Empty(t, sources)
}

func TestLibraryGetStats(t *testing.T) {
	db := newTestDB(t)
	repo := NewLibraryRepository(db)
	ctx := context.Background()

	_, err := repo.CreateFile(ctx, testLibraryFile("abc123", "benchy.3mf"))
	require.NoError(t, err)

	stats, err := repo.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalFiles)
	assert.EqualValues(t, 1024, stats.TotalSizeBytes)
}
