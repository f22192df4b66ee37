package entities

import "github.com/jake-scott/ojmicroline-bridge/internal/pkg/ojapi"

const (
	PresetHome            = "home"
	PresetComfort         = "comfort"
	PresetNone            = "none"
	PresetVacation        = "Vacation"
	PresetFrostProtection = "Frost Protection"
	PresetBoost           = "boost"
	PresetEco             = "eco"
)

var vendorToPreset = map[ojapi.RegulationMode]string{
	ojapi.RegulationSchedule:        PresetHome,
	ojapi.RegulationComfort:         PresetComfort,
	ojapi.RegulationManual:          PresetNone,
	ojapi.RegulationVacation:        PresetVacation,
	ojapi.RegulationFrostProtection: PresetFrostProtection,
	ojapi.RegulationBoost:           PresetBoost,
	ojapi.RegulationEco:             PresetEco,
}

var presetToVendor = make(map[string]ojapi.RegulationMode, len(vendorToPreset))

func init() {
	for mode, preset := range vendorToPreset {
		if _, dup := presetToVendor[preset]; dup {
			panic("entities: preset " + preset + " mapped twice")
		}
		presetToVendor[preset] = mode
	}
}

// PresetFor maps a vendor regulation mode to its display preset
func PresetFor(mode ojapi.RegulationMode) (string, bool) {
	p, ok := vendorToPreset[mode]
	return p, ok
}

// RegulationModeFor is the inverse of PresetFor
func RegulationModeFor(preset string) (ojapi.RegulationMode, bool) {
	m, ok := presetToVendor[preset]
	return m, ok
}

var sensorModeDisplay = map[ojapi.SensorMode]string{
	ojapi.SensorFloor:     "Floor",
	ojapi.SensorRoom:      "Room",
	ojapi.SensorRoomFloor: "Room/Floor",
}

func SensorModeDisplay(mode ojapi.SensorMode) (string, bool) {
	s, ok := sensorModeDisplay[mode]
	return s, ok
}
