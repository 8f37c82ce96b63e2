// Package model holds the §3 data-model types shared across the
// supervisor's components. None of these are persisted directly by this
// package — persistence is the repository layer's concern (§6).
package model

import "time"

type PrinterType string

const (
	PrinterTypeBambuLab  PrinterType = "bambu_lab"
	PrinterTypePrusa     PrinterType = "prusa"
	PrinterTypeOctoPrint PrinterType = "octoprint"
)

// Printer is config plus last-known-liveness.
type Printer struct {
	ID         string
	Type       PrinterType
	Endpoint   Endpoint
	IsActive   bool
	LastStatus Phase
	LastSeenAt *time.Time
}

// Endpoint bundles the connection details a driver needs. Not every
// field applies to every printer type.
type Endpoint struct {
	Host       string
	Port       int
	APIKey     string // OctoPrint
	AccessCode string // Bambu Lab
	Serial     string // Bambu Lab
}

type Phase string

const (
	PhaseOffline  Phase = "offline"
	PhaseOnline   Phase = "online"
	PhasePrinting Phase = "printing"
	PhasePaused   Phase = "paused"
	PhaseError    Phase = "error"
	PhaseUnknown  Phase = "unknown"
)

type Temperatures struct {
	Nozzle  *float64
	Bed     *float64
	Chamber *float64
}

// ExternalSpoolSlot is the conventional Bambu AMS slot index for a
// filament bypassing the AMS entirely.
const ExternalSpoolSlot = 254

type Filament struct {
	Slot         int
	Color        *string
	MaterialType *string
	IsActive     bool
}

// StatusUpdate is a transient value produced by a driver; it is never
// persisted directly (§3).
type StatusUpdate struct {
	PrinterID       string
	At              time.Time
	Phase           Phase
	Message         string
	Temperatures    Temperatures
	ProgressPercent int
	CurrentJobName  string
	RemainingMin    *int
	ElapsedMin      *int
	StartedAt       *time.Time
	EstimatedEndAt  *time.Time
	Filaments       []Filament
	Raw             map[string]any
}

// JobInfo is the printer's own view of its current job, as reported by
// the driver (may be nil when nothing is printing).
type JobInfo struct {
	Name     string
	Filename string
	Progress int
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

// PrinterFile is a single file discovered on a printer (§4.1 list_files).
type PrinterFile struct {
	Name         string
	Path         string
	SizeBytes    int64
	ModifiedAt   *time.Time
	Manufacturer string
	PrinterModel string
}

func FileTypeFromName(name string) FileType {
	ext := ""
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			ext = name[i+1:]
			break
		}
	}
	switch FileType(toLower(ext)) {
	case FileType3MF, FileTypeSTL, FileTypeGCode, FileTypeBGCode, FileTypeOBJ, FileTypePLY:
		return FileType(toLower(ext))
	default:
		return FileTypeOther
	}
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
