// Package repository declares the persistence contracts the supervisor
// core requires (§6) and the entity shapes they operate on (§3). The
// core depends only on these interfaces; repository/sqlite provides the
// one concrete implementation.
package repository

import "time"

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusQueued    JobStatus = "queued"
	JobStatusPreparing JobStatus = "preparing"
	JobStatusRunning   JobStatus = "running"
	JobStatusPrinting  JobStatus = "printing"
	JobStatusPaused    JobStatus = "paused"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
	JobStatusUnknown   JobStatus = "unknown"
)

// Job is the persisted §3 Job entity.
type Job struct {
	ID          string
	PrinterID   string
	PrinterType string
	JobName     string
	Filename    string
	Status      JobStatus

	StartedAt *time.Time
	EndedAt   *time.Time

	EstimatedDurationS *int
	ActualDurationS    *int
	Progress           int

	MaterialUsedG *float64
	MaterialCost  *float64
	PowerCost     *float64

	IsBusiness   bool
	CustomerInfo map[string]any

	CreatedAt time.Time
	UpdatedAt time.Time
	Notes     string
}

// JobFilter narrows JobRepository.list/count/get_by_date_range.
type JobFilter struct {
	PrinterID string
	Statuses  []JobStatus
	IsBusiness *bool
}

// JobPatch carries only the fields being changed; nil means "leave
// unchanged". Immutable fields (id, created_at, printer_id,
// printer_type) are never part of a patch.
type JobPatch struct {
	Status             *JobStatus
	JobName            *string
	Filename           *string
	StartedAt          *time.Time
	EndedAt            *time.Time
	EstimatedDurationS *int
	ActualDurationS    *int
	Progress           *int
	MaterialUsedG      *float64
	MaterialCost       *float64
	PowerCost          *float64
	IsBusiness         *bool
	CustomerInfo       map[string]any
	AppendNote         *string
}

// JobStatistics aggregates job counts/durations for reporting.
type JobStatistics struct {
	TotalJobs     int
	CompletedJobs int
	FailedJobs    int
	TotalPrintTimeS int64
	TotalMaterialG  float64
}

type FileType string

const (
	FileType3MF    FileType = "3mf"
	FileTypeSTL    FileType = "stl"
	FileTypeGCode  FileType = "gcode"
	FileTypeBGCode FileType = "bgcode"
	FileTypeOBJ    FileType = "obj"
	FileTypePLY    FileType = "ply"
	FileTypeOther  FileType = "other"
)

type LibraryFileStatus string

const (
	LibraryFileStatusAvailable  LibraryFileStatus = "available"
	LibraryFileStatusProcessing LibraryFileStatus = "processing"
	LibraryFileStatusError      LibraryFileStatus = "error"
	LibraryFileStatusDeleted    LibraryFileStatus = "deleted"
)

// LibraryFile is the persisted §3 LibraryFile entity.
type LibraryFile struct {
	Checksum          string
	Filename          string
	DisplayName       string
	LibraryPath       string
	SizeBytes         int64
	FileType          FileType
	Status            LibraryFileStatus
	AddedAt           time.Time
	LastModified      *time.Time
	LastAnalyzed      *time.Time
	IsDuplicate       bool
	DuplicateOfChecksum string
	Thumbnail         []byte
	ThumbnailWidth    int
	ThumbnailHeight   int
	Metadata          map[string]any
}

type LibrarySourceType string

const (
	LibrarySourceTypePrinter     LibrarySourceType = "printer"
	LibrarySourceTypeWatchFolder LibrarySourceType = "watch_folder"
	LibrarySourceTypeUpload      LibrarySourceType = "upload"
	LibrarySourceTypeURL         LibrarySourceType = "url"
)

// LibraryFileSource is the persisted §3 LibraryFileSource entity.
type LibraryFileSource struct {
	Checksum     string
	SourceType   LibrarySourceType
	SourceID     string
	OriginalPath string
	SourceName   string
	Manufacturer string
	PrinterModel string
	DiscoveredAt time.Time
}

// LibraryFilter narrows LibraryRepository.list_files.
type LibraryFilter struct {
	SourceType      LibrarySourceType
	FileType        FileType
	Status          LibraryFileStatus
	Search          string
	HasThumbnail    *bool
	HasMetadata     *bool
	Manufacturer    string
	PrinterModel    string
	ShowDuplicates  bool
	OnlyDuplicates  bool
	SortKey         string // created_at (default), filename, file_size, last_modified
}

type LibraryFilePatch struct {
	DisplayName  *string
	Status       *LibraryFileStatus
	LastAnalyzed *time.Time
	IsDuplicate  *bool
	DuplicateOfChecksum *string
	Thumbnail    []byte
	Metadata     map[string]any
}

type Pagination struct {
	Page     int
	PageSize int
	Total    int
}

type LibraryStats struct {
	TotalFiles      int
	TotalSizeBytes  int64
	DuplicateFiles  int
}

type NotificationChannelType string

const (
	NotificationChannelDiscord NotificationChannelType = "discord"
	NotificationChannelSlack   NotificationChannelType = "slack"
	NotificationChannelNtfy    NotificationChannelType = "ntfy"
)

// NotificationChannel is the persisted §3 NotificationChannel entity.
type NotificationChannel struct {
	ID            string
	Name          string
	Type          NotificationChannelType
	WebhookURL    string
	Topic         string
	IsEnabled     bool
	Subscriptions []string
}

type NotificationStatus string

const (
	NotificationStatusSent    NotificationStatus = "sent"
	NotificationStatusFailed  NotificationStatus = "failed"
	NotificationStatusPending NotificationStatus = "pending"
)

// NotificationHistory is the persisted §3 NotificationHistory entity.
type NotificationHistory struct {
	ID        int64
	ChannelID string
	EventType string
	EventData map[string]any
	Status    NotificationStatus
	Error     string
	At        time.Time
}

// UsageEvent is an append-only usage-telemetry record (Component J).
type UsageEvent struct {
	ID         int64
	EventType  string
	Payload    map[string]any
	At         time.Time
	Submitted  bool
}

type UsageEventFilter struct {
	EventType string
	From      *time.Time
	To        *time.Time
	Submitted *bool
}

// Snapshot is a camera/thumbnail capture tied to a printer and
// optionally a job, used for the UI's print-history gallery.
type Snapshot struct {
	ID          string
	PrinterID   string
	JobID       string
	CapturedAt  time.Time
	Data        []byte
	Valid       bool
	ValidationError string
}

type SnapshotFilter struct {
	PrinterID string
	JobID     string
}
