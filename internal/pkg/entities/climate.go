package entities

import (
	"context"
	"math"
	"time"

	"github.com/go-openapi/swag"
	"github.com/pkg/errors"

	"github.com/jake-scott/ojmicroline-bridge/internal/pkg/configentry"
	"github.com/jake-scott/ojmicroline-bridge/internal/pkg/logging"
	"github.com/jake-scott/ojmicroline-bridge/internal/pkg/ojapi"
)

type HVACMode string

const (
	HVACModeHeat HVACMode = "heat"
	HVACModeAuto HVACMode = "auto"
)

var hvacModes = []HVACMode{HVACModeHeat, HVACModeAuto}

var (
	ErrUnknownPreset   = errors.New("unknown preset mode")
	ErrUnknownHVACMode = errors.New("unknown hvac mode")
	ErrUnavailable     = errors.New("thermostat not in the latest snapshot")
)

// Climate is the thermostat itself.  The heating state cannot be controlled
// directly so the HVAC mode only reports whether the floor is heating.
type Climate struct {
	base
	options configentry.Options
}

func NewClimate(src Source, serial string, options configentry.Options, now func() time.Time) *Climate {
	return &Climate{
		base:    base{src: src, serial: serial, now: now},
		options: options,
	}
}

func (c *Climate) UniqueID() string {
	return c.serial
}

func (c *Climate) Name() string {
	t, ok := c.thermostat()
	return c.deviceName(t, ok)
}

func (c *Climate) Platform() Platform {
	return PlatformClimate
}

func (c *Climate) HVACModes() []HVACMode {
	return append([]HVACMode(nil), hvacModes...)
}

func (c *Climate) HVACMode() HVACMode {
	t, ok := c.thermostat()
	return hvacModeOf(t, ok)
}

func hvacModeOf(t ojapi.Thermostat, ok bool) HVACMode {
	if ok && t.Heating {
		return HVACModeHeat
	}
	return HVACModeAuto
}

// PresetModes lists the presets for the modes the thermostat supports
func (c *Climate) PresetModes() []string {
	t, ok := c.thermostat()
	if !ok {
		return nil
	}
	return presetModesOf(t)
}

func presetModesOf(t ojapi.Thermostat) []string {
	out := make([]string, 0, len(t.SupportedRegulationModes))
	for _, m := range t.SupportedRegulationModes {
		if p, ok := PresetFor(m); ok {
			out = append(out, p)
		}
	}
	return out
}

// PresetMode is absent when the vendor reports a mode without a preset
func (c *Climate) PresetMode() (string, bool) {
	t, ok := c.thermostat()
	if !ok {
		return "", false
	}
	return PresetFor(t.RegulationMode)
}

func (c *Climate) CurrentTemperature() float64 {
	t, _ := c.thermostat()
	return celsius(t.CurrentTemperature())
}

func (c *Climate) TargetTemperature() float64 {
	t, _ := c.thermostat()
	return celsius(t.TargetTemperature())
}

func (c *Climate) TargetTemperatureHigh() float64 {
	t, _ := c.thermostat()
	return celsius(t.MaxTemperature)
}

func (c *Climate) TargetTemperatureLow() float64 {
	t, _ := c.thermostat()
	return celsius(t.MinTemperature)
}

// State projects every attribute from a single snapshot read
func (c *Climate) State() State {
	t, ok := c.thermostat()

	st := State{
		UniqueID:    c.UniqueID(),
		Platform:    c.Platform(),
		Name:        c.deviceName(t, ok),
		Available:   ok && c.src.LastUpdateSuccess(),
		LastUpdated: c.stamp(),
	}

	info := c.deviceInfo(t, ok)
	st.Device = &info

	if !ok {
		return st
	}

	st.State = hvacModeOf(t, ok)
	st.Attributes = map[string]interface{}{
		"hvac_modes":          c.HVACModes(),
		"preset_modes":        presetModesOf(t),
		"current_temperature": celsius(t.CurrentTemperature()),
		"temperature":         celsius(t.TargetTemperature()),
		"target_temp_high":    celsius(t.MaxTemperature),
		"target_temp_low":     celsius(t.MinTemperature),
		"unit_of_measurement": "°C",
	}
	if preset, ok := PresetFor(t.RegulationMode); ok {
		st.Attributes["preset_mode"] = preset
	}

	return st
}

// SetPresetMode switches the regulation mode.  Unknown presets are the
// caller's fault; vendor failures are logged and otherwise ignored.
func (c *Climate) SetPresetMode(ctx context.Context, preset string) error {
	mode, ok := RegulationModeFor(preset)
	if !ok {
		return errors.Wrapf(ErrUnknownPreset, "%q", preset)
	}

	return c.write(ctx, ojapi.SetModeParams{Mode: mode}, "preset mode "+preset)
}

// SetTemperature sets a manual temperature, or a comfort temperature for the
// configured duration when the entry uses comfort mode
func (c *Climate) SetTemperature(ctx context.Context, temperature float64) error {
	params := ojapi.SetModeParams{
		Mode:        ojapi.RegulationManual,
		Temperature: swag.Int(int(math.Round(temperature * 100))),
	}

	if c.options.UseComfortMode {
		params.Mode = ojapi.RegulationComfort
		params.Duration = time.Duration(c.options.DurationMinutes()) * time.Minute
	}

	return c.write(ctx, params, "temperature")
}

// SetHVACMode always returns the thermostat to its schedule
func (c *Climate) SetHVACMode(ctx context.Context, mode HVACMode) error {
	known := false
	for _, m := range hvacModes {
		if m == mode {
			known = true
		}
	}
	if !known {
		return errors.Wrapf(ErrUnknownHVACMode, "%q", mode)
	}

	return c.SetPresetMode(ctx, PresetHome)
}

func (c *Climate) write(ctx context.Context, params ojapi.SetModeParams, what string) error {
	t, ok := c.thermostat()
	if !ok {
		return errors.Wrapf(ErrUnavailable, "%s", c.serial)
	}

	if err := c.src.API().SetRegulationMode(ctx, t, params); err != nil {
		logging.Logger(ctx).WithError(err).Errorf("Failed setting %s on %s (%s)", what, t.Name, c.serial)
		return nil
	}

	if err := c.src.RequestDelayedRefresh(ctx); err != nil {
		logging.Logger(ctx).WithError(err).Warnf("Refresh after setting %s on %s failed", what, t.Name)
	}

	return nil
}
