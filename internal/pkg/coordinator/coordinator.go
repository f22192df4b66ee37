package coordinator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/jake-scott/ojmicroline-bridge/internal/pkg/logging"
	"github.com/jake-scott/ojmicroline-bridge/internal/pkg/ojapi"
)

const (
	DefaultUpdateInterval = 60 * time.Second
	DefaultAPITimeout     = 30 * time.Second

	// DefaultRefreshDelay is how long a write waits before re-reading.  The
	// vendor backend serves stale data for a moment after a write; one second
	// has proven too short.
	DefaultRefreshDelay = 2 * time.Second
)

// Snapshot is the latest thermostat data keyed by serial number.  A published
// snapshot is never modified.
type Snapshot map[string]ojapi.Thermostat

// Settings holds the coordinator timings
type Settings struct {
	name           string
	updateInterval time.Duration
	apiTimeout     time.Duration
	refreshDelay   time.Duration
	metrics        *Metrics
}

func NewSettings(name string) Settings {
	return Settings{
		name:           name,
		updateInterval: DefaultUpdateInterval,
		apiTimeout:     DefaultAPITimeout,
		refreshDelay:   DefaultRefreshDelay,
	}
}

func (s Settings) WithUpdateInterval(d time.Duration) Settings {
	if d > 0 {
		s.updateInterval = d
	}
	return s
}

func (s Settings) WithAPITimeout(d time.Duration) Settings {
	if d > 0 {
		s.apiTimeout = d
	}
	return s
}

func (s Settings) WithRefreshDelay(d time.Duration) Settings {
	if d >= 0 {
		s.refreshDelay = d
	}
	return s
}

func (s Settings) WithMetrics(m *Metrics) Settings {
	s.metrics = m
	return s
}

func (s Settings) Name() string { return s.name }

type refreshCall struct {
	done chan struct{}
	err  error
}

type status struct {
	success bool
	err     error
	at      time.Time
}

// Coordinator polls one vendor account and publishes snapshots
type Coordinator struct {
	settings Settings
	api      ojapi.API

	data   atomic.Value // Snapshot
	status atomic.Value // status

	mu        sync.Mutex
	inflight  *refreshCall
	listeners map[int]func()
	nextID    int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

func New(api ojapi.API, settings Settings) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())

	c := &Coordinator{
		settings:  settings,
		api:       api,
		listeners: make(map[int]func()),
		ctx:       ctx,
		cancel:    cancel,
	}
	c.data.Store(Snapshot{})
	c.status.Store(status{})

	return c
}

// Data returns the last published snapshot without blocking
func (c *Coordinator) Data() Snapshot {
	return c.data.Load().(Snapshot)
}

// API is the vendor client writes go through
func (c *Coordinator) API() ojapi.API {
	return c.api
}

func (c *Coordinator) Name() string {
	return c.settings.name
}

func (c *Coordinator) LastUpdateSuccess() bool {
	return c.status.Load().(status).success
}

func (c *Coordinator) LastError() error {
	return c.status.Load().(status).err
}

func (c *Coordinator) LastUpdate() time.Time {
	return c.status.Load().(status).at
}

// AddListener registers fn to run after every refresh attempt.  The returned
// function removes it.
func (c *Coordinator) AddListener(fn func()) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	c.listeners[id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

func (c *Coordinator) notify() {
	c.mu.Lock()
	fns := make([]func(), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// FirstRefresh performs the setup fetch.  Auth failures come back as
// ErrReauthRequired, anything else as ErrNotReady.
func (c *Coordinator) FirstRefresh(ctx context.Context) error {
	err := c.RequestRefresh(ctx)
	if err == nil {
		return nil
	}

	if errors.Is(err, ErrReauthRequired) {
		return err
	}

	return errors.Wrap(ErrNotReady, err.Error())
}

// RequestRefresh fetches now.  Callers arriving while a fetch is running wait
// for that fetch and share its result.
func (c *Coordinator) RequestRefresh(ctx context.Context) error {
	c.mu.Lock()
	if call := c.inflight; call != nil {
		c.mu.Unlock()

		select {
		case <-call.done:
			return call.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	call := &refreshCall{done: make(chan struct{})}
	c.inflight = call
	c.mu.Unlock()

	call.err = c.refresh(ctx)

	c.mu.Lock()
	c.inflight = nil
	c.mu.Unlock()
	close(call.done)

	c.notify()

	return call.err
}

// RefreshAfter waits delay then requests one refresh.  A negative delay uses
// the configured refresh delay.  Both the wait and the fetch belong to the
// coordinator: cancelling ctx does not abandon them, only Stop does.
func (c *Coordinator) RefreshAfter(ctx context.Context, delay time.Duration) error {
	if delay < 0 {
		delay = c.settings.refreshDelay
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-c.ctx.Done():
		logging.Logger(ctx).Debugf("[%s] delayed refresh abandoned, coordinator stopped", c.settings.name)
		return c.ctx.Err()
	}

	return c.RequestRefresh(c.ctx)
}

// RequestDelayedRefresh is RefreshAfter with the configured delay
func (c *Coordinator) RequestDelayedRefresh(ctx context.Context) error {
	return c.RefreshAfter(ctx, -1)
}

func (c *Coordinator) fetchContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.settings.apiTimeout > 0 {
		return context.WithTimeout(ctx, c.settings.apiTimeout)
	}

	return context.WithCancel(ctx)
}

func (c *Coordinator) refresh(ctx context.Context) error {
	fctx, cancel := c.fetchContext(ctx)
	defer cancel()

	start := time.Now()
	thermostats, err := c.api.GetThermostats(fctx)
	took := time.Since(start)

	if err != nil {
		var mapped error
		result := resultFailed

		if ojapi.IsAuthError(err) {
			mapped = &ReauthRequiredError{Err: err}
			result = resultAuth
		} else {
			mapped = &UpdateFailedError{Err: err}
		}

		c.settings.metrics.observe(c.settings.name, result, took)
		c.status.Store(status{success: false, err: mapped, at: time.Now()})

		logging.Logger(ctx).WithError(err).Warnf("[%s] refresh failed after %s", c.settings.name, took)
		return mapped
	}

	snap := make(Snapshot, len(thermostats))
	for _, t := range thermostats {
		snap[t.SerialNumber] = t
	}

	now := time.Now()
	c.data.Store(snap)
	c.status.Store(status{success: true, at: now})

	c.settings.metrics.observe(c.settings.name, resultSuccess, took)
	c.settings.metrics.published(c.settings.name, len(snap), now)

	logging.Logger(ctx).Debugf("[%s] fetched %d thermostats in %s", c.settings.name, len(snap), took)
	return nil
}

// Start runs the polling loop until Stop
func (c *Coordinator) Start() {
	c.wg.Add(1)

	go func() {
		defer c.wg.Done()

		ticker := time.NewTicker(c.settings.updateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-c.ctx.Done():
				return
			case <-ticker.C:
				// errors are recorded in the status and logged by refresh
				_ = c.RequestRefresh(c.ctx)
			}
		}
	}()
}

// Stop cancels the loop and any pending delayed refresh, then waits for the
// loop to exit
func (c *Coordinator) Stop() {
	c.once.Do(func() {
		c.cancel()
		c.wg.Wait()
		logging.Logger(nil).Debugf("[%s] coordinator stopped", c.settings.name)
	})
}
