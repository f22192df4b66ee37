package ojapi

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Model identifies the thermostat hardware/API generation
type Model string

const (
	ModelWD5 Model = "WD5"
	ModelWG4 Model = "WG4"
)

// Config carries everything a driver needs to reach one vendor account.
// CustomerID is only meaningful for the WD5 family.
type Config struct {
	Model      Model
	Host       string
	APIKey     string
	Username   string
	Password   string
	CustomerID int
}

// SetModeParams describes a regulation mode change.  Temperature is in
// hundredths of a degree; a zero Duration leaves the vendor default in place.
type SetModeParams struct {
	Mode        RegulationMode
	Temperature *int
	Duration    time.Duration
}

type API interface {
	Login(ctx context.Context) error
	GetThermostats(ctx context.Context) ([]Thermostat, error)
	SetRegulationMode(ctx context.Context, thermostat Thermostat, params SetModeParams) error
	Close() error
}

// Driver opens API clients, database/sql style
type Driver interface {
	Open(cfg Config) (API, error)
}

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]Driver)
)

// Register makes a driver available by name.  It panics on duplicate names.
func Register(name string, driver Driver) {
	driversMu.Lock()
	defer driversMu.Unlock()

	if driver == nil {
		panic("ojapi: Register driver is nil")
	}
	if _, dup := drivers[name]; dup {
		panic("ojapi: Register called twice for driver " + name)
	}
	drivers[name] = driver
}

func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()

	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

func Open(driverName string, cfg Config) (API, error) {
	driversMu.RLock()
	driver, ok := drivers[driverName]
	driversMu.RUnlock()

	if !ok {
		return nil, errors.Errorf("unknown vendor driver %q (forgotten import?)", driverName)
	}

	api, err := driver.Open(cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s client for %s", driverName, cfg.Model)
	}

	return api, nil
}
