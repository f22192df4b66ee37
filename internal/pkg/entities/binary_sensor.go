package entities

import (
	"fmt"
	"time"

	"github.com/go-openapi/swag"

	"github.com/jake-scott/ojmicroline-bridge/internal/pkg/ojapi"
)

type BinarySensorDescription struct {
	Key         string
	Name        string
	Icon        string
	DeviceClass string
	Value       func(ojapi.Thermostat) *bool
}

var BinarySensorTypes = []BinarySensorDescription{
	{
		Key:         "online",
		Name:        "Online",
		DeviceClass: "connectivity",
		Value:       func(t ojapi.Thermostat) *bool { return swag.Bool(t.Online) },
	},
	{
		Key:   "heating",
		Name:  "Heating",
		Icon:  "mdi:fire",
		Value: func(t ojapi.Thermostat) *bool { return swag.Bool(t.Heating) },
	},
	{
		Key:   "adaptive_mode",
		Name:  "Adaptive Mode",
		Icon:  "mdi:brain",
		Value: func(t ojapi.Thermostat) *bool { return t.AdaptiveMode },
	},
	{
		Key:   "open_window_detection",
		Name:  "Open Window Detection",
		Icon:  "mdi:window-open",
		Value: func(t ojapi.Thermostat) *bool { return t.OpenWindowDetection },
	},
}

type BinarySensor struct {
	base
	desc BinarySensorDescription
}

func NewBinarySensor(src Source, serial string, desc BinarySensorDescription, now func() time.Time) *BinarySensor {
	return &BinarySensor{
		base: base{src: src, serial: serial, now: now},
		desc: desc,
	}
}

func (b *BinarySensor) UniqueID() string {
	return fmt.Sprintf("%s_%s", b.serial, b.desc.Key)
}

func (b *BinarySensor) Name() string {
	t, ok := b.thermostat()
	return fmt.Sprintf("%s %s", b.deviceName(t, ok), b.desc.Name)
}

func (b *BinarySensor) Platform() Platform {
	return PlatformBinarySensor
}

// IsOn is nil when the thermostat or the field is missing
func (b *BinarySensor) IsOn() *bool {
	t, ok := b.thermostat()
	if !ok {
		return nil
	}

	return b.desc.Value(t)
}

func (b *BinarySensor) State() State {
	t, ok := b.thermostat()

	st := State{
		UniqueID:    b.UniqueID(),
		Platform:    b.Platform(),
		Name:        fmt.Sprintf("%s %s", b.deviceName(t, ok), b.desc.Name),
		Available:   ok && b.src.LastUpdateSuccess(),
		LastUpdated: b.stamp(),
		Attributes:  map[string]interface{}{},
	}

	var on *bool
	if ok {
		on = b.desc.Value(t)
	}
	if on != nil {
		if swag.BoolValue(on) {
			st.State = "on"
		} else {
			st.State = "off"
		}
	}

	if b.desc.DeviceClass != "" {
		st.Attributes["device_class"] = b.desc.DeviceClass
	}
	if b.desc.Icon != "" {
		st.Attributes["icon"] = b.desc.Icon
	}

	return st
}
