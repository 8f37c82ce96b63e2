package bambu

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/schmacka/printernizer-sub001/model"
)

// Temperature thresholds used to infer the printing phase when the
// vendor's own state string is ambiguous or absent. Named constants
// rather than left as magic numbers.
const (
	NozzleTempPrintingThresholdC = 150.0
	BedTempPrintingThresholdC    = 45.0
)

// mqttPayload mirrors the subset of Bambu's device/{serial}/report JSON
// this driver understands.
type mqttPayload struct {
	Print struct {
		GcodeState      string          `json:"gcode_state"`
		GcodeFile       string          `json:"gcode_file"`
		SubtaskName     string          `json:"subtask_name"`
		NozzleTemper    json.Number     `json:"nozzle_temper"`
		BedTemper       json.Number     `json:"bed_temper"`
		ChamberTemper   json.Number     `json:"chamber_temper"`
		McPercent       json.Number     `json:"mc_percent"`
		PrintPercent    json.Number     `json:"print_percent"`
		Percent         json.Number     `json:"percent"`
		Progress        json.Number     `json:"progress"`
		McRemainingTime json.Number     `json:"mc_remaining_time"`
		RemainingTime   json.Number     `json:"remaining_time"`
		PrintTimeLeft   json.Number     `json:"print_time_left"`
		TimeLeft        json.Number     `json:"time_left"`
		McPrintTime     json.Number     `json:"mc_print_time"`
		PrintTime       json.Number     `json:"print_time"`
		ElapsedTime     json.Number     `json:"elapsed_time"`
		GcodeStartTime  json.Number     `json:"gcode_start_time"`
		StartTime       json.Number     `json:"start_time"`
		AMS             amsStatus       `json:"ams"`
		VTTray          *vtTray         `json:"vt_tray"`
	} `json:"print"`
}

type amsStatus struct {
	AMS    []amsUnit `json:"ams"`
	TrayNow string   `json:"tray_now"` // "0".."3" per AMS slot, or "254" for external spool
}

type amsUnit struct {
	Tray []amsTray `json:"tray"`
}

type amsTray struct {
	ID       json.Number `json:"id"`
	TrayType string      `json:"tray_type"`
	TrayColor string     `json:"tray_color"`
}

type vtTray struct {
	TrayType  string `json:"tray_type"`
	TrayColor string `json:"tray_color"`
}

// firstNonEmptyNumber returns the first field in fields that has a
// non-empty numeric value, following an ordered field-priority probe
// (mc_percent -> print_percent -> ...) since firmware versions populate
// different subsets of these fields.
func firstNonEmptyNumber(fields ...json.Number) (float64, bool) {
	for _, f := range fields {
		if f == "" {
			continue
		}
		v, err := f.Float64()
		if err == nil {
			return v, true
		}
	}
	return 0, false
}

// parseStatus maps a raw Bambu MQTT payload into the normalized
// StatusUpdate (§4.1).
func parseStatus(printerID string, raw []byte, now time.Time) (model.StatusUpdate, error) {
	var payload mqttPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return model.StatusUpdate{}, err
	}

	su := model.StatusUpdate{
		PrinterID: printerID,
		At:        now,
		Raw:       rawMap(raw),
	}

	if payload.Print.BedTemper != "" {
		if v, err := payload.Print.BedTemper.Float64(); err == nil {
			su.Temperatures.Bed = &v
		}
	}
	if payload.Print.NozzleTemper != "" {
		if v, err := payload.Print.NozzleTemper.Float64(); err == nil {
			su.Temperatures.Nozzle = &v
		}
	}
	if payload.Print.ChamberTemper != "" {
		if v, err := payload.Print.ChamberTemper.Float64(); err == nil {
			su.Temperatures.Chamber = &v
		}
	}

	progress, hasProgress := firstNonEmptyNumber(
		payload.Print.McPercent, payload.Print.PrintPercent,
		payload.Print.Percent, payload.Print.Progress,
	)
	if hasProgress {
		su.ProgressPercent = clampProgress(progress)
	}

	if remaining, ok := firstNonEmptyNumber(
		payload.Print.McRemainingTime, payload.Print.RemainingTime,
		payload.Print.PrintTimeLeft, payload.Print.TimeLeft,
	); ok {
		m := int(remaining)
		su.RemainingMin = &m
	}

	if elapsed, ok := firstNonEmptyNumber(
		payload.Print.McPrintTime, payload.Print.PrintTime, payload.Print.ElapsedTime,
	); ok {
		m := int(elapsed / 60)
		su.ElapsedMin = &m
	}

	if startEpoch, ok := firstNonEmptyNumber(payload.Print.GcodeStartTime, payload.Print.StartTime); ok && startEpoch > 0 {
		t := time.Unix(int64(startEpoch), 0).UTC()
		su.StartedAt = &t
	}

	su.CurrentJobName = firstNonEmpty(payload.Print.SubtaskName, payload.Print.GcodeFile)
	su.Phase = inferPhase(payload.Print.GcodeState, su.ProgressPercent, su.Temperatures)
	su.Filaments = extractFilaments(payload)

	return su, nil
}

func rawMap(raw []byte) map[string]any {
	var m map[string]any
	_ = json.Unmarshal(raw, &m)
	return m
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// clampProgress clamps to [0, 100] and rounds half-to-even (DESIGN.md
// Open Question #1).
func clampProgress(p float64) int {
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	return int(math.RoundToEven(p))
}

// inferPhase trusts the vendor's own state string when progress is
// strictly between 0 and 100; otherwise falls back to a temperature
// heuristic (§4.1).
func inferPhase(gcodeState string, progress int, temps model.Temperatures) model.Phase {
	state := strings.ToUpper(strings.TrimSpace(gcodeState))
	switch state {
	case "RUNNING", "PRINTING":
		if progress > 0 && progress < 100 {
			return model.PhasePrinting
		}
	case "PAUSE", "PAUSED":
		return model.PhasePaused
	case "FAILED":
		return model.PhaseError
	case "FINISH", "FINISHED", "IDLE":
		return model.PhaseOnline
	}

	if temps.Nozzle != nil && temps.Bed != nil &&
		*temps.Nozzle > NozzleTempPrintingThresholdC && *temps.Bed > BedTempPrintingThresholdC {
		return model.PhasePrinting
	}
	if state == "" {
		return model.PhaseUnknown
	}
	return model.PhaseOnline
}

// extractFilaments derives the filament list from AMS trays (slot = 4*i+j)
// and the root vt_tray (external spool, slot 254), per §4.1 and the
// Open Question #3 resolution in DESIGN.md.
func extractFilaments(payload mqttPayload) []model.Filament {
	var filaments []model.Filament

	activeTrayID := payload.Print.AMS.TrayNow
	for i, unit := range payload.Print.AMS.AMS {
		for j, tray := range unit.Tray {
			slot := 4*i + j
			ftype := strings.ToUpper(tray.TrayType)
			color := collapseColor(tray.TrayColor)
			if ftype == "" && color == nil {
				continue
			}
			var typePtr *string
			if ftype != "" {
				typePtr = &ftype
			}
			filaments = append(filaments, model.Filament{
				Slot:         slot,
				Color:        color,
				MaterialType: typePtr,
				IsActive:     activeTrayID == strconv.Itoa(slot),
			})
		}
	}

	if payload.Print.VTTray != nil {
		vt := payload.Print.VTTray
		ftype := strings.ToUpper(vt.TrayType)
		color := collapseColor(vt.TrayColor)
		if ftype != "" || color != nil {
			var typePtr *string
			if ftype != "" {
				typePtr = &ftype
			}
			filaments = append(filaments, model.Filament{
				Slot:         model.ExternalSpoolSlot,
				Color:        color,
				MaterialType: typePtr,
				IsActive:     activeTrayID == strconv.Itoa(model.ExternalSpoolSlot),
			})
		}
	} else if activeTrayID == strconv.Itoa(model.ExternalSpoolSlot) {
		// No vt_tray payload at all but the active tray is the external
		// spool: emit a bare generic entry rather than no filament info.
		ext := "External"
		filaments = append(filaments, model.Filament{
			Slot:         model.ExternalSpoolSlot,
			MaterialType: &ext,
			IsActive:     true,
		})
	}

	return filaments
}

// collapseColor converts an RRGGBBAA hex string to #RRGGBB, returning nil
// for an absent or all-zero color (Open Question #3).
func collapseColor(raw string) *string {
	if len(raw) < 6 {
		return nil
	}
	rgb := raw[:6]
	if strings.EqualFold(rgb, "000000") {
		return nil
	}
	s := "#" + strings.ToUpper(rgb)
	return &s
}
