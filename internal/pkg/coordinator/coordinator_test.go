package coordinator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/jake-scott/ojmicroline-bridge/internal/pkg/ojapi"
)

// ---- Test doubles ----

type fakeAPI struct {
	mu      sync.Mutex
	results [][]ojapi.Thermostat
	err     error
	gate    chan struct{}
	started chan struct{}
	calls   int32
}

func (f *fakeAPI) Login(ctx context.Context) error { return nil }

func (f *fakeAPI) GetThermostats(ctx context.Context) ([]ojapi.Thermostat, error) {
	atomic.AddInt32(&f.calls, 1)

	if f.started != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
	}

	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}

	if len(f.results) == 0 {
		return nil, nil
	}
	out := f.results[0]
	if len(f.results) > 1 {
		f.results = f.results[1:]
	}

	return out, nil
}

func (f *fakeAPI) SetRegulationMode(ctx context.Context, t ojapi.Thermostat, p ojapi.SetModeParams) error {
	return nil
}

func (f *fakeAPI) Close() error { return nil }

func (f *fakeAPI) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeAPI) callCount() int {
	return int(atomic.LoadInt32(&f.calls))
}

func thermostats(serials ...string) []ojapi.Thermostat {
	out := make([]ojapi.Thermostat, 0, len(serials))
	for _, s := range serials {
		out = append(out, ojapi.Thermostat{SerialNumber: s, Name: "t-" + s})
	}
	return out
}

func newTestCoordinator(api ojapi.API) *Coordinator {
	return New(api, NewSettings("entry").
		WithAPITimeout(time.Second).
		WithRefreshDelay(10*time.Millisecond))
}

// ---- Tests ----

func TestRefreshPublishesFreshSnapshot(t *testing.T) {
	api := &fakeAPI{results: [][]ojapi.Thermostat{thermostats("A", "B"), thermostats("A")}}
	c := newTestCoordinator(api)
	defer c.Stop()

	if len(c.Data()) != 0 || c.LastUpdateSuccess() {
		t.Fatalf("expected empty snapshot before the first refresh")
	}

	if err := c.FirstRefresh(context.Background()); err != nil {
		t.Fatalf("FirstRefresh: %v", err)
	}
	first := c.Data()
	if len(first) != 2 || first["B"].Name != "t-B" {
		t.Fatalf("unexpected snapshot %+v", first)
	}

	if err := c.RequestRefresh(context.Background()); err != nil {
		t.Fatalf("RequestRefresh: %v", err)
	}
	second := c.Data()

	if len(second) != 1 {
		t.Fatalf("second snapshot = %+v", second)
	}
	if len(first) != 2 {
		t.Fatalf("published snapshot was mutated")
	}
	if !c.LastUpdateSuccess() || c.LastError() != nil {
		t.Fatalf("status not successful")
	}
}

func TestAuthErrorRequiresReauthAndKeepsData(t *testing.T) {
	api := &fakeAPI{results: [][]ojapi.Thermostat{thermostats("A")}}
	c := newTestCoordinator(api)
	defer c.Stop()

	if err := c.RequestRefresh(context.Background()); err != nil {
		t.Fatalf("RequestRefresh: %v", err)
	}

	api.setErr(ojapi.NewError(ojapi.KindAuth, "get thermostats", errors.New("401")))
	err := c.RequestRefresh(context.Background())
	if !errors.Is(err, ErrReauthRequired) {
		t.Fatalf("expected ErrReauthRequired, got %v", err)
	}

	if c.LastUpdateSuccess() {
		t.Fatalf("status should be unsuccessful")
	}
	if _, ok := c.Data()["A"]; !ok {
		t.Fatalf("last known data dropped")
	}
}

func TestUpdateFailedKeepsData(t *testing.T) {
	api := &fakeAPI{results: [][]ojapi.Thermostat{thermostats("A")}}
	c := newTestCoordinator(api)
	defer c.Stop()

	_ = c.RequestRefresh(context.Background())

	api.setErr(ojapi.NewError(ojapi.KindConnection, "get thermostats", errors.New("refused")))
	err := c.RequestRefresh(context.Background())

	var failed *UpdateFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("expected UpdateFailedError, got %v", err)
	}
	if errors.Is(err, ErrReauthRequired) {
		t.Fatalf("connection failure must not require reauth")
	}
	if len(c.Data()) != 1 {
		t.Fatalf("last known data dropped")
	}
}

func TestFirstRefreshErrors(t *testing.T) {
	api := &fakeAPI{err: ojapi.NewError(ojapi.KindAuth, "login", nil)}
	c := newTestCoordinator(api)
	if err := c.FirstRefresh(context.Background()); !errors.Is(err, ErrReauthRequired) {
		t.Fatalf("expected reauth, got %v", err)
	}
	c.Stop()

	api = &fakeAPI{err: ojapi.NewError(ojapi.KindTimeout, "get thermostats", nil)}
	c = newTestCoordinator(api)
	if err := c.FirstRefresh(context.Background()); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected not ready, got %v", err)
	}
	c.Stop()
}

func TestFetchTimeout(t *testing.T) {
	api := &fakeAPI{gate: make(chan struct{})}
	c := New(api, NewSettings("entry").WithAPITimeout(20*time.Millisecond))
	defer c.Stop()

	err := c.RequestRefresh(context.Background())

	var failed *UpdateFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("expected UpdateFailedError, got %v", err)
	}
	if ojapi.KindOf(err) != ojapi.KindTimeout {
		t.Fatalf("kind = %s, want timeout", ojapi.KindOf(err))
	}
}

func TestConcurrentRequestsShareOneFetch(t *testing.T) {
	api := &fakeAPI{
		results: [][]ojapi.Thermostat{thermostats("A")},
		gate:    make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	c := newTestCoordinator(api)
	defer c.Stop()

	var wg sync.WaitGroup
	errs := make(chan error, 6)

	wg.Add(1)
	go func() {
		defer wg.Done()
		errs <- c.RequestRefresh(context.Background())
	}()
	<-api.started

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- c.RequestRefresh(context.Background())
		}()
	}

	// let the joiners reach the wait
	time.Sleep(50 * time.Millisecond)
	close(api.gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("RequestRefresh: %v", err)
		}
	}
	if n := api.callCount(); n != 1 {
		t.Fatalf("fetches = %d, want 1", n)
	}
}

func TestRefreshAfterIssuesExactlyOneRefresh(t *testing.T) {
	api := &fakeAPI{results: [][]ojapi.Thermostat{thermostats("A")}}
	c := newTestCoordinator(api)
	defer c.Stop()

	start := time.Now()
	if err := c.RequestDelayedRefresh(context.Background()); err != nil {
		t.Fatalf("RequestDelayedRefresh: %v", err)
	}

	if time.Since(start) < 10*time.Millisecond {
		t.Fatalf("refresh did not wait for the delay")
	}
	if n := api.callCount(); n != 1 {
		t.Fatalf("fetches = %d, want 1", n)
	}
}

func TestRefreshAfterOutlivesCaller(t *testing.T) {
	api := &fakeAPI{results: [][]ojapi.Thermostat{thermostats("A")}}
	c := New(api, NewSettings("entry").WithRefreshDelay(50*time.Millisecond))
	defer c.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- c.RequestDelayedRefresh(ctx)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RequestDelayedRefresh: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("delayed refresh never finished")
	}

	if n := api.callCount(); n != 1 {
		t.Fatalf("fetches = %d, want 1", n)
	}
	if _, ok := c.Data()["A"]; !ok {
		t.Error("snapshot not published after the caller went away")
	}
}

func TestStopCancelsDelayedRefresh(t *testing.T) {
	api := &fakeAPI{}
	c := newTestCoordinator(api)

	done := make(chan error, 1)
	go func() {
		done <- c.RefreshAfter(context.Background(), time.Hour)
	}()

	time.Sleep(10 * time.Millisecond)
	c.Stop()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected cancellation, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("delayed refresh survived Stop")
	}

	if n := api.callCount(); n != 0 {
		t.Fatalf("fetches = %d, want 0", n)
	}
}

func TestLoopPollsUntilStopped(t *testing.T) {
	api := &fakeAPI{results: [][]ojapi.Thermostat{thermostats("A")}}
	c := New(api, NewSettings("entry").WithUpdateInterval(5*time.Millisecond))

	c.Start()
	deadline := time.Now().Add(time.Second)
	for api.callCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	c.Stop()

	if api.callCount() < 2 {
		t.Fatalf("loop did not poll")
	}

	after := api.callCount()
	time.Sleep(30 * time.Millisecond)
	if api.callCount() != after {
		t.Fatalf("loop still polling after Stop")
	}
}

func TestListeners(t *testing.T) {
	api := &fakeAPI{results: [][]ojapi.Thermostat{thermostats("A")}}
	c := newTestCoordinator(api)
	defer c.Stop()

	var n int32
	remove := c.AddListener(func() { atomic.AddInt32(&n, 1) })

	_ = c.RequestRefresh(context.Background())
	api.setErr(errors.New("boom"))
	_ = c.RequestRefresh(context.Background())

	if got := atomic.LoadInt32(&n); got != 2 {
		t.Fatalf("listener calls = %d, want 2 (success and failure)", got)
	}

	remove()
	_ = c.RequestRefresh(context.Background())
	if got := atomic.LoadInt32(&n); got != 2 {
		t.Fatalf("removed listener still called")
	}
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	api := &fakeAPI{results: [][]ojapi.Thermostat{thermostats("A", "B")}}
	c := New(api, NewSettings("e1").WithMetrics(m))
	defer c.Stop()

	_ = c.RequestRefresh(context.Background())
	api.setErr(ojapi.NewError(ojapi.KindAuth, "get", nil))
	_ = c.RequestRefresh(context.Background())

	if got := testutil.ToFloat64(m.refreshTotal.WithLabelValues("e1", resultSuccess)); got != 1 {
		t.Fatalf("success count = %v", got)
	}
	if got := testutil.ToFloat64(m.refreshTotal.WithLabelValues("e1", resultAuth)); got != 1 {
		t.Fatalf("auth error count = %v", got)
	}
	if got := testutil.ToFloat64(m.thermostats.WithLabelValues("e1")); got != 2 {
		t.Fatalf("thermostat gauge = %v", got)
	}

	m.Forget("e1")
	if n := testutil.CollectAndCount(m.thermostats); n != 0 {
		t.Fatalf("series left after Forget: %d", n)
	}
}
