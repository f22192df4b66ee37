package ojapi

import (
	"fmt"
	"time"
)

/*
 *   Vendor regulation modes
 */

type RegulationMode int

const (
	RegulationSchedule RegulationMode = iota + 1
	RegulationComfort
	RegulationManual
	RegulationVacation
	RegulationFrostProtection
	RegulationBoost
	RegulationEco
)

var regulationModeNames = map[RegulationMode]string{
	RegulationSchedule:        "schedule",
	RegulationComfort:         "comfort",
	RegulationManual:          "manual",
	RegulationVacation:        "vacation",
	RegulationFrostProtection: "frost_protection",
	RegulationBoost:           "boost",
	RegulationEco:             "eco",
}

// AllRegulationModes lists every mode the vendor reports, in vendor order
var AllRegulationModes = []RegulationMode{
	RegulationSchedule,
	RegulationComfort,
	RegulationManual,
	RegulationVacation,
	RegulationFrostProtection,
	RegulationBoost,
	RegulationEco,
}

func (m RegulationMode) String() string {
	if name, ok := regulationModeNames[m]; ok {
		return name
	}

	return fmt.Sprintf("unknown (id: %d)", int(m))
}

type SensorMode int

const (
	SensorFloor SensorMode = iota + 1
	SensorRoom
	SensorRoomFloor
)

func (m SensorMode) String() string {
	switch m {
	case SensorFloor:
		return "floor"
	case SensorRoom:
		return "room"
	case SensorRoomFloor:
		return "room_floor"
	}

	return fmt.Sprintf("unknown (id: %d)", int(m))
}

// Thermostat is one device as returned by the vendor.  All temperatures are
// integer hundredths of a degree Celsius.  Pointer fields are absent on
// device families that do not report them.
type Thermostat struct {
	SerialNumber    string
	Name            string
	Model           string
	SoftwareVersion string
	Online          bool
	Heating         bool

	MinTemperature      int
	MaxTemperature      int
	SetPointTemperature int
	TemperatureFloor    *int
	TemperatureRoom     *int
	ModeTemperatures    map[RegulationMode]int

	RegulationMode           RegulationMode
	SupportedRegulationModes []RegulationMode
	SensorMode               *SensorMode
	AdaptiveMode             *bool
	OpenWindowDetection      *bool

	BoostEndTime      *time.Time
	ComfortEndTime    *time.Time
	VacationBeginTime *time.Time
	VacationEndTime   *time.Time
}

// CurrentTemperature picks the reading the thermostat regulates on
func (t Thermostat) CurrentTemperature() int {
	if t.SensorMode != nil && *t.SensorMode == SensorFloor && t.TemperatureFloor != nil {
		return *t.TemperatureFloor
	}

	switch {
	case t.TemperatureRoom != nil:
		return *t.TemperatureRoom
	case t.TemperatureFloor != nil:
		return *t.TemperatureFloor
	}

	return 0
}

// TargetTemperature is the setpoint of the active regulation mode
func (t Thermostat) TargetTemperature() int {
	if temp, ok := t.ModeTemperatures[t.RegulationMode]; ok {
		return temp
	}

	return t.SetPointTemperature
}
