package repository

import (
	"context"

	"github.com/schmacka/printernizer-sub001/model"
)

// CreateResult distinguishes a fresh insert from a deduplicated no-op,
// per §4.4's "duplicate is a distinct signal, not an error" rule.
type CreateResult int

const (
	Created CreateResult = iota
	Duplicate
)

type JobRepository interface {
	Create(ctx context.Context, job Job) (CreateResult, Job, error)
	Get(ctx context.Context, id string) (Job, error)
	List(ctx context.Context, filter JobFilter, limit, offset int) ([]Job, error)
	Count(ctx context.Context, filter JobFilter) (int, error)
	Update(ctx context.Context, id string, patch JobPatch) (Job, error)
	Delete(ctx context.Context, id string) error
	GetByDateRange(ctx context.Context, from, to int64, filter JobFilter) ([]Job, error)
	GetStatistics(ctx context.Context) (JobStatistics, error)
}

type LibraryRepository interface {
	CreateFile(ctx context.Context, file LibraryFile) (LibraryFile, error)
	GetFileByChecksum(ctx context.Context, checksum string) (LibraryFile, error)
	UpdateFile(ctx context.Context, checksum string, patch LibraryFilePatch) (LibraryFile, error)
	DeleteFile(ctx context.Context, checksum string) error
	ListFiles(ctx context.Context, filter LibraryFilter, page, limit int) ([]LibraryFile, Pagination, error)

	CreateFileSource(ctx context.Context, source LibraryFileSource) (CreateResult, error)
	DeleteFileSources(ctx context.Context, checksum string) error
	ListFileSources(ctx context.Context, checksum string) ([]LibraryFileSource, error)

	GetStats(ctx context.Context) (LibraryStats, error)
}

type PrinterRepository interface {
	Create(ctx context.Context, printer model.Printer) (model.Printer, error)
	Get(ctx context.Context, id string) (model.Printer, error)
	List(ctx context.Context, activeOnly bool) ([]model.Printer, error)
	Update(ctx context.Context, id string, patch PrinterPatch) (model.Printer, error)
	UpdateStatus(ctx context.Context, id string, phase model.Phase, lastSeenUnix int64) error
	Delete(ctx context.Context, id string) error
	Exists(ctx context.Context, id string) (bool, error)
}

// PrinterPatch is a partial update to a printer's config; status
// updates go through UpdateStatus instead, matching §6's split.
type PrinterPatch struct {
	IsActive *bool
	Endpoint *model.Endpoint
}

type NotificationRepository interface {
	CreateChannel(ctx context.Context, channel NotificationChannel) (NotificationChannel, error)
	GetChannel(ctx context.Context, id string) (NotificationChannel, error)
	ListChannels(ctx context.Context) ([]NotificationChannel, error)
	UpdateChannel(ctx context.Context, id string, patch NotificationChannelPatch) (NotificationChannel, error)
	DeleteChannel(ctx context.Context, id string) error

	ChannelsSubscribedTo(ctx context.Context, eventType string) ([]NotificationChannel, error)

	Record(ctx context.Context, channelID, eventType string, eventData map[string]any, status NotificationStatus, errMsg string) error
	History(ctx context.Context, channelID string, limit, offset int) ([]NotificationHistory, error)
	CountHistory(ctx context.Context, channelID string) (int, error)
	Cleanup(ctx context.Context, olderThanDays int) (int, error)
}

type NotificationChannelPatch struct {
	Name          *string
	WebhookURL    *string
	Topic         *string
	IsEnabled     *bool
	Subscriptions []string
}

type UsageStatisticsRepository interface {
	InsertEvent(ctx context.Context, event UsageEvent) error
	GetEvents(ctx context.Context, filter UsageEventFilter) ([]UsageEvent, error)
	GetEventCountsByType(ctx context.Context, from, to int64) (map[string]int, error)
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
	MarkEventsSubmitted(ctx context.Context, from, to int64) error
}

type SnapshotRepository interface {
	Create(ctx context.Context, snapshot Snapshot) (Snapshot, error)
	Get(ctx context.Context, id string) (Snapshot, error)
	List(ctx context.Context, filter SnapshotFilter, page, limit int) ([]Snapshot, error)
	Delete(ctx context.Context, id string) error
	UpdateValidation(ctx context.Context, id string, valid bool, validationErr string) error
}
