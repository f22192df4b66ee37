package entities

import (
	"fmt"
	"time"

	"github.com/go-openapi/strfmt"

	"github.com/jake-scott/ojmicroline-bridge/internal/pkg/ojapi"
)

// SensorDescription describes one sensor exposed per thermostat.  Exactly one
// of the accessors is set and decides how the value is formatted.
type SensorDescription struct {
	Key         string
	Name        string
	Icon        string
	DeviceClass string
	Unit        string
	StateClass  string

	Temperature func(ojapi.Thermostat) *int
	Mode        func(ojapi.Thermostat) *ojapi.SensorMode
	Timestamp   func(ojapi.Thermostat) *time.Time
}

func temperatureSensor(key, name, icon string, get func(ojapi.Thermostat) *int) SensorDescription {
	return SensorDescription{
		Key:         key,
		Name:        name,
		Icon:        icon,
		DeviceClass: "temperature",
		Unit:        "°C",
		StateClass:  "measurement",
		Temperature: get,
	}
}

func timestampSensor(key, name string, get func(ojapi.Thermostat) *time.Time) SensorDescription {
	return SensorDescription{
		Key:         key,
		Name:        name,
		DeviceClass: "timestamp",
		Timestamp:   get,
	}
}

func intRef(v int) *int { return &v }

// SensorTypes is every sensor a thermostat can expose
var SensorTypes = []SensorDescription{
	temperatureSensor("temperature_room", "Temperature Room", "mdi:home-thermometer",
		func(t ojapi.Thermostat) *int { return t.TemperatureRoom }),
	temperatureSensor("temperature_floor", "Temperature Floor", "mdi:heating-coil",
		func(t ojapi.Thermostat) *int { return t.TemperatureFloor }),
	temperatureSensor("min_temperature", "Temperature Range Min", "mdi:thermometer-chevron-down",
		func(t ojapi.Thermostat) *int { return intRef(t.MinTemperature) }),
	temperatureSensor("max_temperature", "Temperature Range Max", "mdi:thermometer-chevron-up",
		func(t ojapi.Thermostat) *int { return intRef(t.MaxTemperature) }),
	temperatureSensor("temperature_set_point", "Temperature Set Point", "",
		func(t ojapi.Thermostat) *int { return intRef(t.TargetTemperature()) }),
	{
		Key:  "sensor_mode",
		Name: "Sensor Mode",
		Icon: "mdi:thermometer-lines",
		Mode: func(t ojapi.Thermostat) *ojapi.SensorMode { return t.SensorMode },
	},
	timestampSensor("boost_end_time", "Boost End Time",
		func(t ojapi.Thermostat) *time.Time { return t.BoostEndTime }),
	timestampSensor("comfort_end_time", "Comfort End Time",
		func(t ojapi.Thermostat) *time.Time { return t.ComfortEndTime }),
	timestampSensor("vacation_begin_time", "Vacation Begin Time",
		func(t ojapi.Thermostat) *time.Time { return t.VacationBeginTime }),
	timestampSensor("vacation_end_time", "Vacation End Time",
		func(t ojapi.Thermostat) *time.Time { return t.VacationEndTime }),
}

// Present reports whether the thermostat carries the raw field at all
func (d SensorDescription) Present(t ojapi.Thermostat) bool {
	switch {
	case d.Temperature != nil:
		return d.Temperature(t) != nil
	case d.Mode != nil:
		return d.Mode(t) != nil
	case d.Timestamp != nil:
		return d.Timestamp(t) != nil
	}

	return false
}

// Value formats the raw field.  Timestamps already in the past read as nil.
func (d SensorDescription) Value(t ojapi.Thermostat, now time.Time) interface{} {
	switch {
	case d.Temperature != nil:
		if v := d.Temperature(t); v != nil {
			return celsius(*v)
		}
	case d.Mode != nil:
		if v := d.Mode(t); v != nil {
			if s, ok := SensorModeDisplay(*v); ok {
				return s
			}
		}
	case d.Timestamp != nil:
		if v := d.Timestamp(t); v != nil && !now.After(*v) {
			return strfmt.DateTime(*v)
		}
	}

	return nil
}

type Sensor struct {
	base
	desc SensorDescription
}

func NewSensor(src Source, serial string, desc SensorDescription, now func() time.Time) *Sensor {
	return &Sensor{
		base: base{src: src, serial: serial, now: now},
		desc: desc,
	}
}

func (s *Sensor) UniqueID() string {
	return fmt.Sprintf("%s_%s", s.serial, s.desc.Key)
}

func (s *Sensor) Name() string {
	t, ok := s.thermostat()
	return fmt.Sprintf("%s %s", s.deviceName(t, ok), s.desc.Name)
}

func (s *Sensor) Platform() Platform {
	return PlatformSensor
}

func (s *Sensor) Description() SensorDescription {
	return s.desc
}

func (s *Sensor) Available() bool {
	t, ok := s.thermostat()
	return s.available(t, ok)
}

func (s *Sensor) available(t ojapi.Thermostat, ok bool) bool {
	return ok && s.src.LastUpdateSuccess() && t.Online
}

// NativeValue reads and formats the current value, nil when unknown
func (s *Sensor) NativeValue() interface{} {
	t, ok := s.thermostat()
	if !ok {
		return nil
	}

	return s.desc.Value(t, s.now())
}

func (s *Sensor) State() State {
	t, ok := s.thermostat()

	st := State{
		UniqueID:    s.UniqueID(),
		Platform:    s.Platform(),
		Name:        fmt.Sprintf("%s %s", s.deviceName(t, ok), s.desc.Name),
		Available:   s.available(t, ok),
		LastUpdated: s.stamp(),
		Attributes:  map[string]interface{}{},
	}
	if ok {
		st.State = s.desc.Value(t, s.now())
	}

	if s.desc.DeviceClass != "" {
		st.Attributes["device_class"] = s.desc.DeviceClass
	}
	if s.desc.Unit != "" {
		st.Attributes["unit_of_measurement"] = s.desc.Unit
	}
	if s.desc.StateClass != "" {
		st.Attributes["state_class"] = s.desc.StateClass
	}
	if s.desc.Icon != "" {
		st.Attributes["icon"] = s.desc.Icon
	}

	return st
}
