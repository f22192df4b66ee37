package ojapi

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/jake-scott/ojmicroline-bridge/internal/pkg/logging"
)

// SimulatorDriverName is the name of the built-in in-memory backend
const SimulatorDriverName = "simulator"

// ----------- Simulation constants -----------
const (
	defaultPropagationLag = 1500 * time.Millisecond
	driftPerMinute        = 50 // hundredths of a degree per minute
	driftStep             = time.Minute / driftPerMinute
	defaultComfortPeriod  = 4 * time.Hour
	defaultBoostPeriod    = time.Hour
)

type simulatorDriver struct {
	mu       sync.Mutex
	lag      time.Duration
	accounts map[string]*Simulator
}

var simDriver = &simulatorDriver{
	lag:      defaultPropagationLag,
	accounts: make(map[string]*Simulator),
}

func init() {
	Register(SimulatorDriverName, simDriver)
}

// ConfigureSimulator sets the write propagation lag used for accounts opened
// after the call.  The lag mimics the vendor backend returning stale data for
// a short while after a write.
func ConfigureSimulator(lag time.Duration) {
	simDriver.mu.Lock()
	defer simDriver.mu.Unlock()

	simDriver.lag = lag
}

// Open returns the simulated account for the host/username pair, creating it
// on first use.  The first password seen becomes the account password.
func (d *simulatorDriver) Open(cfg Config) (API, error) {
	if cfg.Username == "" {
		return nil, errors.New("simulator: username is required")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	key := fmt.Sprintf("%s|%s|%s", cfg.Model, cfg.Host, cfg.Username)
	sim, ok := d.accounts[key]
	if !ok {
		sim = NewSimulator(cfg, d.lag, time.Now)
		d.accounts[key] = sim
	}

	return &simulatorSession{sim: sim, cfg: cfg}, nil
}

type pendingWrite struct {
	serial    string
	visibleAt time.Time
	params    SetModeParams
}

// Simulator is an in-memory vendor account holding a handful of thermostats
type Simulator struct {
	mu       sync.Mutex
	account  Config
	lag      time.Duration
	now      func() time.Time
	devices  map[string]*Thermostat
	lastTick time.Time
	pending  []pendingWrite
}

func NewSimulator(account Config, lag time.Duration, now func() time.Time) *Simulator {
	s := &Simulator{
		account:  account,
		lag:      lag,
		now:      now,
		devices:  make(map[string]*Thermostat),
		lastTick: now(),
	}

	for _, t := range seedThermostats(account.Model) {
		t := t
		s.devices[t.SerialNumber] = &t
	}

	return s
}

func seedThermostats(model Model) []Thermostat {
	floor := SensorFloor
	roomFloor := SensorRoomFloor

	modeTemps := func() map[RegulationMode]int {
		return map[RegulationMode]int{
			RegulationComfort:         2300,
			RegulationManual:          2150,
			RegulationVacation:        1200,
			RegulationFrostProtection: 500,
			RegulationBoost:           3500,
			RegulationEco:             1900,
		}
	}

	switch model {
	case ModelWG4:
		return []Thermostat{
			{
				SerialNumber:             "SIM-WG4-0001",
				Name:                     "Bathroom",
				Model:                    "OWD5-WG4",
				SoftwareVersion:          "1.4.2",
				Online:                   true,
				MinTemperature:           500,
				MaxTemperature:           4000,
				SetPointTemperature:      2200,
				TemperatureFloor:         intPtr(2410),
				TemperatureRoom:          intPtr(2230),
				ModeTemperatures:         modeTemps(),
				RegulationMode:           RegulationSchedule,
				SupportedRegulationModes: []RegulationMode{RegulationSchedule, RegulationComfort, RegulationManual, RegulationVacation, RegulationFrostProtection, RegulationBoost},
				SensorMode:               &floor,
			},
		}
	}

	return []Thermostat{
		{
			SerialNumber:             "SIM-WD5-0001",
			Name:                     "Kitchen",
			Model:                    "OWD5",
			SoftwareVersion:          "1060",
			Online:                   true,
			MinTemperature:           500,
			MaxTemperature:           4000,
			SetPointTemperature:      2100,
			TemperatureFloor:         intPtr(2350),
			TemperatureRoom:          intPtr(2120),
			ModeTemperatures:         modeTemps(),
			RegulationMode:           RegulationSchedule,
			SupportedRegulationModes: append([]RegulationMode(nil), AllRegulationModes...),
			SensorMode:               &roomFloor,
			AdaptiveMode:             boolPtr(true),
			OpenWindowDetection:      boolPtr(false),
		},
		{
			SerialNumber:             "SIM-WD5-0002",
			Name:                     "Hallway",
			Model:                    "OWD5",
			SoftwareVersion:          "1060",
			Online:                   true,
			MinTemperature:           500,
			MaxTemperature:           4000,
			SetPointTemperature:      1900,
			TemperatureFloor:         intPtr(1980),
			ModeTemperatures:         modeTemps(),
			RegulationMode:           RegulationManual,
			SupportedRegulationModes: append([]RegulationMode(nil), AllRegulationModes...),
			SensorMode:               &floor,
			AdaptiveMode:             boolPtr(false),
			OpenWindowDetection:      boolPtr(true),
		},
	}
}

func (s *Simulator) authenticate(cfg Config) error {
	if cfg.Password == "" || cfg.Password != s.account.Password {
		return NewError(KindAuth, "login", errors.New("invalid username or password"))
	}
	if cfg.Model == ModelWD5 && (cfg.APIKey == "" || cfg.APIKey != s.account.APIKey) {
		return NewError(KindAuth, "login", errors.New("invalid api key"))
	}
	if cfg.Model == ModelWD5 && cfg.CustomerID != s.account.CustomerID {
		return NewError(KindAuth, "login", errors.Errorf("unknown customer id %d", cfg.CustomerID))
	}

	return nil
}

// advance applies visible writes and drifts temperatures toward their setpoints
func (s *Simulator) advance() {
	now := s.now()

	remaining := s.pending[:0]
	for _, w := range s.pending {
		if now.Before(w.visibleAt) {
			remaining = append(remaining, w)
			continue
		}
		if t, ok := s.devices[w.serial]; ok {
			s.applyWrite(t, w.params, w.visibleAt)
		}
	}
	s.pending = remaining

	elapsed := now.Sub(s.lastTick)
	if elapsed <= 0 {
		return
	}

	// Only whole drift steps consume clock time so frequent polls still drift
	step := int(elapsed / driftStep)
	if step > 0 {
		s.lastTick = s.lastTick.Add(time.Duration(step) * driftStep)
	}

	for _, t := range s.devices {
		s.expireTimedModes(t, now)

		target := t.TargetTemperature()
		if step > 0 {
			if t.TemperatureFloor != nil {
				*t.TemperatureFloor = driftToward(*t.TemperatureFloor, target, step)
			}
			if t.TemperatureRoom != nil {
				*t.TemperatureRoom = driftToward(*t.TemperatureRoom, target, step)
			}
		}
		t.Heating = t.CurrentTemperature() < target
	}
}

func (s *Simulator) applyWrite(t *Thermostat, p SetModeParams, at time.Time) {
	t.RegulationMode = p.Mode
	if p.Temperature != nil {
		if t.ModeTemperatures == nil {
			t.ModeTemperatures = make(map[RegulationMode]int)
		}
		t.ModeTemperatures[p.Mode] = *p.Temperature
	}

	switch p.Mode {
	case RegulationComfort:
		d := p.Duration
		if d <= 0 {
			d = defaultComfortPeriod
		}
		end := at.Add(d)
		t.ComfortEndTime = &end
	case RegulationBoost:
		end := at.Add(defaultBoostPeriod)
		t.BoostEndTime = &end
	case RegulationVacation:
		begin := at
		end := at.Add(7 * 24 * time.Hour)
		t.VacationBeginTime = &begin
		t.VacationEndTime = &end
	}
}

// Timed modes fall back to the schedule once they run out; the end time
// itself is left in place like the real backend does.
func (s *Simulator) expireTimedModes(t *Thermostat, now time.Time) {
	var end *time.Time
	switch t.RegulationMode {
	case RegulationComfort:
		end = t.ComfortEndTime
	case RegulationBoost:
		end = t.BoostEndTime
	case RegulationVacation:
		end = t.VacationEndTime
	}

	if end != nil && now.After(*end) {
		t.RegulationMode = RegulationSchedule
	}
}

func driftToward(current, target, step int) int {
	switch {
	case current < target:
		if current+step > target {
			return target
		}
		return current + step
	case current > target:
		if current-step < target {
			return target
		}
		return current - step
	}

	return current
}

func (s *Simulator) snapshot() []Thermostat {
	serials := make([]string, 0, len(s.devices))
	for serial := range s.devices {
		serials = append(serials, serial)
	}
	sort.Strings(serials)

	out := make([]Thermostat, 0, len(serials))
	for _, serial := range serials {
		out = append(out, cloneThermostat(*s.devices[serial]))
	}

	return out
}

func (s *Simulator) setMode(serial string, p SetModeParams) error {
	t, ok := s.devices[serial]
	if !ok {
		return NewError(KindGeneric, "set regulation mode", errors.Errorf("unknown thermostat %s", serial))
	}

	supported := false
	for _, m := range t.SupportedRegulationModes {
		if m == p.Mode {
			supported = true
			break
		}
	}
	if !supported {
		return NewError(KindGeneric, "set regulation mode", errors.Errorf("mode %s not supported by %s", p.Mode, serial))
	}

	if p.Temperature != nil && (*p.Temperature < t.MinTemperature || *p.Temperature > t.MaxTemperature) {
		return NewError(KindGeneric, "set regulation mode",
			errors.Errorf("temperature %d outside [%d, %d]", *p.Temperature, t.MinTemperature, t.MaxTemperature))
	}

	s.pending = append(s.pending, pendingWrite{
		serial:    serial,
		visibleAt: s.now().Add(s.lag),
		params:    p,
	})

	return nil
}

// simulatorSession is one client's view of a simulated account
type simulatorSession struct {
	sim      *Simulator
	cfg      Config
	mu       sync.Mutex
	loggedIn bool
}

// Session returns a client bound to the simulated account using the
// account's own credentials.
func (s *Simulator) Session() API {
	return &simulatorSession{sim: s, cfg: s.account}
}

func (c *simulatorSession) Login(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return NewError(KindTimeout, "login", err)
	}

	c.sim.mu.Lock()
	err := c.sim.authenticate(c.cfg)
	c.sim.mu.Unlock()
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.loggedIn = true
	c.mu.Unlock()

	logging.Logger(ctx).Debugf("simulator: logged in as %s on %s", c.cfg.Username, c.cfg.Host)
	return nil
}

func (c *simulatorSession) ensureLogin(ctx context.Context) error {
	c.mu.Lock()
	loggedIn := c.loggedIn
	c.mu.Unlock()

	if loggedIn {
		return nil
	}

	return c.Login(ctx)
}

func (c *simulatorSession) GetThermostats(ctx context.Context) ([]Thermostat, error) {
	if err := c.ensureLogin(ctx); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, NewError(KindTimeout, "get thermostats", err)
	}

	c.sim.mu.Lock()
	defer c.sim.mu.Unlock()

	c.sim.advance()
	return c.sim.snapshot(), nil
}

func (c *simulatorSession) SetRegulationMode(ctx context.Context, thermostat Thermostat, params SetModeParams) error {
	if err := c.ensureLogin(ctx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return NewError(KindTimeout, "set regulation mode", err)
	}

	logging.Logger(ctx).Debugf("simulator: set %s to %s (temperature %v, duration %s)",
		thermostat.SerialNumber, params.Mode, params.Temperature, params.Duration)

	c.sim.mu.Lock()
	defer c.sim.mu.Unlock()

	c.sim.advance()
	return c.sim.setMode(thermostat.SerialNumber, params)
}

func (c *simulatorSession) Close() error {
	c.mu.Lock()
	c.loggedIn = false
	c.mu.Unlock()

	return nil
}

func cloneThermostat(t Thermostat) Thermostat {
	out := t

	out.TemperatureFloor = cloneInt(t.TemperatureFloor)
	out.TemperatureRoom = cloneInt(t.TemperatureRoom)
	out.AdaptiveMode = cloneBool(t.AdaptiveMode)
	out.OpenWindowDetection = cloneBool(t.OpenWindowDetection)
	out.BoostEndTime = cloneTime(t.BoostEndTime)
	out.ComfortEndTime = cloneTime(t.ComfortEndTime)
	out.VacationBeginTime = cloneTime(t.VacationBeginTime)
	out.VacationEndTime = cloneTime(t.VacationEndTime)

	if t.SensorMode != nil {
		m := *t.SensorMode
		out.SensorMode = &m
	}

	if t.ModeTemperatures != nil {
		out.ModeTemperatures = make(map[RegulationMode]int, len(t.ModeTemperatures))
		for k, v := range t.ModeTemperatures {
			out.ModeTemperatures[k] = v
		}
	}

	out.SupportedRegulationModes = append([]RegulationMode(nil), t.SupportedRegulationModes...)
	return out
}

func intPtr(v int) *int    { return &v }
func boolPtr(v bool) *bool { return &v }

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	return intPtr(*v)
}

func cloneBool(v *bool) *bool {
	if v == nil {
		return nil
	}
	return boolPtr(*v)
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	t := *v
	return &t
}
