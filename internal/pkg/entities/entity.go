package entities

import (
	"context"
	"time"

	"github.com/go-openapi/strfmt"

	"github.com/jake-scott/ojmicroline-bridge/internal/pkg/coordinator"
	"github.com/jake-scott/ojmicroline-bridge/internal/pkg/ojapi"
)

const Manufacturer = "OJ Electronics"

type Platform string

const (
	PlatformClimate      Platform = "climate"
	PlatformSensor       Platform = "sensor"
	PlatformBinarySensor Platform = "binary_sensor"
)

// Source is the part of the coordinator entities read from and write through
type Source interface {
	Data() coordinator.Snapshot
	LastUpdateSuccess() bool
	API() ojapi.API
	RequestDelayedRefresh(ctx context.Context) error
}

// Entity is the read contract every view implements
type Entity interface {
	UniqueID() string
	Name() string
	Platform() Platform
	Serial() string
	Available() bool
	State() State
}

type DeviceInfo struct {
	Identifier   string `json:"identifier"`
	Manufacturer string `json:"manufacturer"`
	Name         string `json:"name"`
	Model        string `json:"model,omitempty"`
	SWVersion    string `json:"sw_version,omitempty"`
}

// State is the serialisable view of an entity at one point in time
type State struct {
	UniqueID    string                 `json:"unique_id"`
	Platform    Platform               `json:"platform"`
	Name        string                 `json:"name"`
	Available   bool                   `json:"available"`
	State       interface{}            `json:"state"`
	Attributes  map[string]interface{} `json:"attributes,omitempty"`
	Device      *DeviceInfo            `json:"device,omitempty"`
	LastUpdated strfmt.DateTime        `json:"last_updated"`
}

type base struct {
	src    Source
	serial string
	now    func() time.Time
}

func (b base) Serial() string {
	return b.serial
}

func (b base) thermostat() (ojapi.Thermostat, bool) {
	t, ok := b.src.Data()[b.serial]
	return t, ok
}

func (b base) Available() bool {
	if !b.src.LastUpdateSuccess() {
		return false
	}

	_, ok := b.thermostat()
	return ok
}

// DeviceInfo describes the physical thermostat the entity belongs to
func (b base) DeviceInfo() DeviceInfo {
	t, ok := b.thermostat()
	return b.deviceInfo(t, ok)
}

func (b base) deviceInfo(t ojapi.Thermostat, ok bool) DeviceInfo {
	info := DeviceInfo{
		Identifier:   b.serial,
		Manufacturer: Manufacturer,
	}

	if ok {
		info.Name = t.Name
		info.Model = t.Model
		info.SWVersion = t.SoftwareVersion
	}

	return info
}

// deviceName falls back to the serial while the thermostat is missing
func (b base) deviceName(t ojapi.Thermostat, ok bool) string {
	if ok && t.Name != "" {
		return t.Name
	}
	return b.serial
}

func (b base) stamp() strfmt.DateTime {
	return strfmt.DateTime(b.now().UTC())
}

func celsius(hundredths int) float64 {
	return float64(hundredths) / 100
}
