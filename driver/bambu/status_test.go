package bambu

import (
	"testing"
	"time"

	"github.com/schmacka/printernizer-sub001/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatusHappyPath(t *testing.T) {
	// S1 seed scenario payload shape.
	raw := []byte(`{
		"print": {
			"gcode_state": "RUNNING",
			"subtask_name": "calibration_cube.3mf",
			"mc_percent": 12,
			"gcode_start_time": 1700000000,
			"nozzle_temper": 210.5,
			"bed_temper": 60.0
		}
	}`)

	su, err := parseStatus("printer-1", raw, time.Now())
	require.NoError(t, err)

	assert.Equal(t, model.PhasePrinting, su.Phase)
	assert.Equal(t, "calibration_cube.3mf", su.CurrentJobName)
	assert.Equal(t, 12, su.ProgressPercent)
	require.NotNil(t, su.StartedAt)
	assert.Equal(t, int64(1700000000), su.StartedAt.Unix())
	require.NotNil(t, su.Temperatures.Nozzle)
	assert.Equal(t, 210.5, *su.Temperatures.Nozzle)
}

func TestParseStatusFieldPriorityFallback(t *testing.T) {
	raw := []byte(`{"print": {"gcode_state": "RUNNING", "print_percent": 55, "remaining_time": 42}}`)
	su, err := parseStatus("p", raw, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 55, su.ProgressPercent)
	require.NotNil(t, su.RemainingMin)
	assert.Equal(t, 42, *su.RemainingMin)
}

func TestProgressClampedAndRoundedHalfToEven(t *testing.T) {
	assert.Equal(t, 100, clampProgress(142))
	assert.Equal(t, 0, clampProgress(-5))
	assert.Equal(t, 12, clampProgress(12.5)) // half-to-even: rounds to nearest even
	assert.Equal(t, 14, clampProgress(13.5))
}

func TestPhaseInferenceFallsBackToTemperature(t *testing.T) {
	raw := []byte(`{"print": {"gcode_state": "", "nozzle_temper": 210, "bed_temper": 60}}`)
	su, err := parseStatus("p", raw, time.Now())
	require.NoError(t, err)
	assert.Equal(t, model.PhasePrinting, su.Phase)
}

func TestPhaseUnknownWhenNoSignal(t *testing.T) {
	raw := []byte(`{"print": {"gcode_state": "", "nozzle_temper": 20, "bed_temper": 20}}`)
	su, err := parseStatus("p", raw, time.Now())
	require.NoError(t, err)
	assert.Equal(t, model.PhaseUnknown, su.Phase)
}

func TestExtractFilamentsAMSSlotFormula(t *testing.T) {
	raw := []byte(`{
		"print": {
			"ams": {
				"tray_now": "5",
				"ams": [
					{"tray": [{"tray_type": "PLA", "tray_color": "FF0000FF"}, {"tray_type": "PETG", "tray_color": "00FF00FF"}]},
					{"tray": [{"tray_type": "", "tray_color": ""}, {"tray_type": "ABS", "tray_color": "0000FFFF"}]}
				]
			}
		}
	}`)
	su, err := parseStatus("p", raw, time.Now())
	require.NoError(t, err)
	require.Len(t, su.Filaments, 3)
	assert.Equal(t, 0, su.Filaments[0].Slot)
	assert.Equal(t, 1, su.Filaments[1].Slot)
	assert.Equal(t, 5, su.Filaments[2].Slot) // AMS unit 1, tray 1 => 4*1+1=5
	assert.True(t, su.Filaments[2].IsActive)
	require.NotNil(t, su.Filaments[0].Color)
	assert.Equal(t, "#FF0000", *su.Filaments[0].Color)
}

func TestExternalSpoolAllZeroColorOmitted(t *testing.T) {
	raw := []byte(`{"print": {"vt_tray": {"tray_type": "", "tray_color": "00000000"}}}`)
	su, err := parseStatus("p", raw, time.Now())
	require.NoError(t, err)
	assert.Empty(t, su.Filaments)
}

func TestExternalSpoolActiveWithoutVTTrayPayload(t *testing.T) {
	raw := []byte(`{"print": {"ams": {"tray_now": "254"}}}`)
	su, err := parseStatus("p", raw, time.Now())
	require.NoError(t, err)
	require.Len(t, su.Filaments, 1)
	assert.Equal(t, model.ExternalSpoolSlot, su.Filaments[0].Slot)
	require.NotNil(t, su.Filaments[0].MaterialType)
	assert.Equal(t, "External", *su.Filaments[0].MaterialType)
	assert.True(t, su.Filaments[0].IsActive)
}

func TestExternalSpoolWithColorEmitted(t *testing.T) {
	raw := []byte(`{"print": {"ams": {"tray_now": "254"}, "vt_tray": {"tray_type": "PLA", "tray_color": "112233FF"}}}`)
	su, err := parseStatus("p", raw, time.Now())
	require.NoError(t, err)
	require.Len(t, su.Filaments, 1)
	assert.Equal(t, model.ExternalSpoolSlot, su.Filaments[0].Slot)
	assert.True(t, su.Filaments[0].IsActive)
	require.NotNil(t, su.Filaments[0].Color)
	assert.Equal(t, "#112233", *su.Filaments[0].Color)
}
