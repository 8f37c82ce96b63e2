package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/schmacka/printernizer-sub001/model"
	"github.com/schmacka/printernizer-sub001/repository"
	"github.com/schmacka/printernizer-sub001/supervisor/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPrinter(id string) model.Printer {
	return model.Printer{
		ID:       id,
		Type:     model.PrinterTypeBambuLab,
		IsActive: true,
		Endpoint: model.Endpoint{Host: "10.0.0.5", AccessCode: "12345678", Serial: "01S00A000000000"},
	}
}

func TestPrinterCreateAndGet(t *testing.T) {
	db := newTestDB(t)
	repo := NewPrinterRepository(db)
	ctx := context.Background()

	created, err := repo.Create(ctx, testPrinter("printer-1"))
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", created.Endpoint.Host)
	assert.Equal(t, model.PhaseUnknown, created.LastStatus)

	fetched, err := repo.Get(ctx, "printer-1")
	require.NoError(t, err)
	assert.Equal(t, created.Endpoint, fetched.Endpoint)
}

func TestPrinterGetMissingReturnsNotFound(t *testing.T) {
	db := newTestDB(t)
	repo := NewPrinterRepository(db)
	_, err := repo.Get(context.Background(), "nope")
	assert.True(t, errs.Is(err, errs.KindNotFound))
}

func TestPrinterListActiveOnly(t *testing.T) {
	db := newTestDB(t)
	repo := NewPrinterRepository(db)
	ctx := context.Background()

	_, err := repo.Create(ctx, testPrinter("printer-1"))
	require.NoError(t, err)

	inactive := testPrinter("printer-2")
	inactive.IsActive = false
	_, err = repo.Create(ctx, inactive)
	require.NoError(t, err)

	all, err := repo.List(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	active, err := repo.List(ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "printer-1", active[0].ID)
}

func TestPrinterUpdateStatus(t *testing.T) {
	db := newTestDB(t)
	repo := NewPrinterRepository(db)
	ctx := context.Background()

	_, err := repo.Create(ctx, testPrinter("printer-1"))
	require.NoError(t, err)

	now := time.Now().Unix()
	require.NoError(t, repo.UpdateStatus(ctx, "printer-1", model.PhasePrinting, now))

	fetched, err := repo.Get(ctx, "printer-1")
	require.NoError(t, err)
	assert.Equal(t, model.PhasePrinting, fetched.LastStatus)
	require.NotNil(t, fetched.LastSeenAt)
	assert.Equal(t, now, fetched.LastSeenAt.Unix())
}

func TestPrinterUpdatePatch(t *testing.T) {
	db := newTestDB(t)
	repo := NewPrinterRepository(db)
	ctx := context.Background()

	_, err := repo.Create(ctx, testPrinter("printer-1"))
	require.NoError(t, err)

	newEndpoint := model.Endpoint{Host: "10.0.0.9", AccessCode: "87654321", Serial: "01S00A000000000"}
	updated, err := repo.Update(ctx, "printer-1", repository.PrinterPatch{Endpoint: &newEndpoint})
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.9", updated.Endpoint.Host)
}

func TestPrinterExistsAndDelete(t *testing.T) {
	db := newTestDB(t)
	repo := NewPrinterRepository(db)
	ctx := context.Background()

	_, err := repo.Create(ctx, testPrinter("printer-1"))
	require.NoError(t, err)

	exists, err := repo.Exists(ctx, "printer-1")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, repo.Delete(ctx, "printer-1"))

	exists, err = repo.Exists(ctx, "printer-1")
	require.NoError(t, err)
	assert.False(t, exists)
}
