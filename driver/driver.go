package driver

import (
	"context"
	"errors"

	"github.com/schmacka/printernizer-sub001/model"
)

// Driver wraps a specific vendor protocol behind a uniform capability set
// (§4.1). The core never inspects raw MQTT/HTTP directly; it only calls
// through this interface.
type Driver interface {
	// Connect is idempotent: calling it on an already-connected driver
	// returns nil without side effects.
	Connect(ctx context.Context) error

	// Disconnect suppresses auto-reconnect and releases resources on all
	// exit paths. It is a no-op on an already-disconnected driver.
	Disconnect()

	// GetStatus never blocks longer than ctx's deadline; it returns the
	// last-known state if a refresh is already in flight.
	GetStatus(ctx context.Context) (model.StatusUpdate, error)

	// GetJob returns the printer's current job as it reports it, or nil.
	GetJob(ctx context.Context) (*model.JobInfo, error)

	// ListFiles tries strategies in priority order; first success wins.
	ListFiles(ctx context.Context) ([]model.PrinterFile, error)

	// DownloadFile follows the same fallback strategy chain as ListFiles.
	DownloadFile(ctx context.Context, remoteName, localPath string) error

	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Stop(ctx context.Context) error

	HasCamera() bool
	Snapshot(ctx context.Context) ([]byte, error)
}

// Strategy is one named attempt at producing a T (file listing, download,
// status fetch). A driver's ordered strategy chain tries each in turn.
type Strategy[T any] struct {
	Name string
	Try  func(ctx context.Context) (T, error)
}

// RunChain tries each strategy in order; the first success wins. If every
// strategy fails, their errors are aggregated into one via errors.Join.
func RunChain[T any](ctx context.Context, strategies []Strategy[T]) (T, error) {
	var zero T
	var errs []error
	for _, s := range strategies {
		v, err := s.Try(ctx)
		if err == nil {
			return v, nil
		}
		errs = append(errs, errStrategy{name: s.Name, err: err})
	}
	return zero, errors.Join(errs...)
}

type errStrategy struct {
	name string
	err  error
}

func (e errStrategy) Error() string { return e.name + ": " + e.err.Error() }
func (e errStrategy) Unwrap() error { return e.err }
