package hub

import (
	"time"

	"github.com/jake-scott/ojmicroline-bridge/internal/pkg/coordinator"
	"github.com/jake-scott/ojmicroline-bridge/internal/pkg/ojapi"
)

const (
	DefaultMaxConcurrentSetups = 4
	DefaultSetupRetryInterval  = 30 * time.Second
)

// Settings configures how entries are loaded
type Settings struct {
	driver         string
	updateInterval time.Duration
	apiTimeout     time.Duration
	refreshDelay   time.Duration
	maxConcurrent  int
	retryInterval  time.Duration
	metrics        *coordinator.Metrics
	now            func() time.Time
}

func NewSettings() Settings {
	return Settings{
		driver:         ojapi.SimulatorDriverName,
		updateInterval: coordinator.DefaultUpdateInterval,
		apiTimeout:     coordinator.DefaultAPITimeout,
		refreshDelay:   coordinator.DefaultRefreshDelay,
		maxConcurrent:  DefaultMaxConcurrentSetups,
		retryInterval:  DefaultSetupRetryInterval,
		now:            time.Now,
	}
}

func (s Settings) WithDriver(name string) Settings {
	if name != "" {
		s.driver = name
	}
	return s
}

func (s Settings) WithUpdateInterval(d time.Duration) Settings {
	s.updateInterval = d
	return s
}

func (s Settings) WithAPITimeout(d time.Duration) Settings {
	s.apiTimeout = d
	return s
}

func (s Settings) WithRefreshDelay(d time.Duration) Settings {
	s.refreshDelay = d
	return s
}

func (s Settings) WithMaxConcurrentSetups(n int) Settings {
	if n > 0 {
		s.maxConcurrent = n
	}
	return s
}

// WithSetupRetryInterval sets the wait before retrying a not-ready entry.
// Zero disables retries.
func (s Settings) WithSetupRetryInterval(d time.Duration) Settings {
	s.retryInterval = d
	return s
}

func (s Settings) WithMetrics(m *coordinator.Metrics) Settings {
	s.metrics = m
	return s
}

func (s Settings) WithClock(now func() time.Time) Settings {
	if now != nil {
		s.now = now
	}
	return s
}

func (s Settings) Driver() string { return s.driver }

func (s Settings) coordinatorSettings(entryID string) coordinator.Settings {
	return coordinator.NewSettings(entryID).
		WithUpdateInterval(s.updateInterval).
		WithAPITimeout(s.apiTimeout).
		WithRefreshDelay(s.refreshDelay).
		WithMetrics(s.metrics)
}
