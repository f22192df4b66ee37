package hub

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-openapi/swag"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/jake-scott/ojmicroline-bridge/internal/pkg/configentry"
	"github.com/jake-scott/ojmicroline-bridge/internal/pkg/entities"
	"github.com/jake-scott/ojmicroline-bridge/internal/pkg/ojapi"
)

// ---- Test doubles ----

const flakyDriverName = "hub-flaky"

type flakyDriver struct {
	mu  sync.Mutex
	err error
}

func (d *flakyDriver) setErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

func (d *flakyDriver) Open(cfg ojapi.Config) (ojapi.API, error) {
	return &flakyAPI{driver: d}, nil
}

type flakyAPI struct {
	driver *flakyDriver
}

func (a *flakyAPI) Login(ctx context.Context) error { return nil }

func (a *flakyAPI) GetThermostats(ctx context.Context) ([]ojapi.Thermostat, error) {
	a.driver.mu.Lock()
	defer a.driver.mu.Unlock()

	if a.driver.err != nil {
		return nil, a.driver.err
	}
	return []ojapi.Thermostat{{SerialNumber: "F1", Name: "Flaky", Online: true}}, nil
}

func (a *flakyAPI) SetRegulationMode(ctx context.Context, t ojapi.Thermostat, p ojapi.SetModeParams) error {
	return nil
}

func (a *flakyAPI) Close() error { return nil }

var flaky = &flakyDriver{}

func init() {
	ojapi.Register(flakyDriverName, flaky)
}

func testSettings() Settings {
	return NewSettings().
		WithUpdateInterval(time.Hour).
		WithRefreshDelay(0).
		WithSetupRetryInterval(0)
}

// unique usernames keep simulator accounts apart between tests
func wd5Entry(version int) configentry.Entry {
	user := "user-" + uuid.New().String()
	return configentry.Entry{
		ID:      uuid.New().String(),
		Version: version,
		Title:   "wd5 " + user,
		Data: configentry.Data{
			APIKey:     "key",
			Username:   user,
			Password:   "secret",
			CustomerID: swag.Int(99),
		},
		Options: configentry.DefaultOptions(),
	}
}

func wg4Entry() configentry.Entry {
	user := "user-" + uuid.New().String()
	return configentry.Entry{
		ID:      uuid.New().String(),
		Version: configentry.CurrentVersion,
		Title:   "wg4 " + user,
		Data: configentry.Data{
			Model:    ojapi.ModelWG4,
			Username: user,
			Password: "secret",
		},
	}
}

func stateOf(t *testing.T, h *Hub, id string) EntryView {
	t.Helper()

	v, err := h.Entry(context.Background(), id)
	if err != nil {
		t.Fatalf("Entry(%s): %v", id, err)
	}
	return v
}

// ---- Tests ----

func TestSetupAllLoadsAndMigrates(t *testing.T) {
	v1 := wd5Entry(1)
	wg4 := wg4Entry()
	store := configentry.NewMemoryStore(v1, wg4)

	h := New(store, testSettings().WithMaxConcurrentSetups(2))
	defer h.Close(context.Background())

	if err := h.SetupAll(context.Background()); err != nil {
		t.Fatalf("SetupAll: %v", err)
	}

	for _, id := range []string{v1.ID, wg4.ID} {
		if v := stateOf(t, h, id); v.State != StateLoaded || v.Entities == 0 {
			t.Fatalf("entry %s: %+v", id, v)
		}
	}

	migrated, _ := store.Get(context.Background(), v1.ID)
	if migrated.Version != configentry.CurrentVersion || migrated.Data.Model != ojapi.ModelWD5 {
		t.Fatalf("migration not persisted: %+v", migrated)
	}

	if _, err := h.Entity("SIM-WG4-0001"); err != nil {
		t.Fatalf("WG4 climate missing: %v", err)
	}
	if _, err := h.Entity("SIM-WG4-0001_adaptive_mode"); !errors.Is(err, ErrEntityNotFound) {
		t.Fatalf("WG4 adaptive mode sensor should not exist, got %v", err)
	}

	// entries view never leaks secrets
	views, _ := h.Entries(context.Background())
	for _, v := range views {
		if v.Data.Password == "secret" {
			t.Fatalf("password leaked in entry view")
		}
	}
}

func TestSetupReauthRequired(t *testing.T) {
	e := wd5Entry(configentry.CurrentVersion)
	e.Data.Model = ojapi.ModelWD5
	e.Data.Password = ""

	h := New(configentry.NewMemoryStore(e), testSettings())
	defer h.Close(context.Background())

	err := h.SetupEntry(context.Background(), e.ID)
	if err == nil {
		t.Fatalf("expected setup failure")
	}
	if v := stateOf(t, h, e.ID); v.State != StateReauthRequired {
		t.Fatalf("state = %s, want reauth_required", v.State)
	}
	if len(h.Entities()) != 0 {
		t.Fatalf("entities registered for failed entry")
	}
}

func TestSetupFutureVersion(t *testing.T) {
	e := wd5Entry(configentry.CurrentVersion + 1)
	h := New(configentry.NewMemoryStore(e), testSettings())

	if err := h.SetupEntry(context.Background(), e.ID); !errors.Is(err, configentry.ErrFutureVersion) {
		t.Fatalf("expected ErrFutureVersion, got %v", err)
	}
	if v := stateOf(t, h, e.ID); v.State != StateMigrationError {
		t.Fatalf("state = %s, want migration_error", v.State)
	}
}

func TestSetupRetriesWhenNotReady(t *testing.T) {
	flaky.setErr(ojapi.NewError(ojapi.KindConnection, "get", errors.New("refused")))
	defer flaky.setErr(nil)

	e := wg4Entry()
	h := New(configentry.NewMemoryStore(e), testSettings().
		WithDriver(flakyDriverName).
		WithSetupRetryInterval(20*time.Millisecond))
	defer h.Close(context.Background())

	if err := h.SetupEntry(context.Background(), e.ID); err == nil {
		t.Fatalf("expected not ready")
	}
	if v := stateOf(t, h, e.ID); v.State != StateSetupRetry {
		t.Fatalf("state = %s, want setup_retry", v.State)
	}

	flaky.setErr(nil)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if stateOf(t, h, e.ID).State == StateLoaded {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("entry never recovered, state %s", stateOf(t, h, e.ID).State)
}

func TestRuntimeAuthFailureFlagsEntry(t *testing.T) {
	e := wg4Entry()
	h := New(configentry.NewMemoryStore(e), testSettings().WithDriver(flakyDriverName))
	defer h.Close(context.Background())

	if err := h.SetupEntry(context.Background(), e.ID); err != nil {
		t.Fatalf("SetupEntry: %v", err)
	}

	flaky.setErr(ojapi.NewError(ojapi.KindAuth, "get", nil))
	defer flaky.setErr(nil)

	h.mu.RLock()
	coord := h.loaded[e.ID].coordinator
	h.mu.RUnlock()
	_ = coord.RequestRefresh(context.Background())

	if v := stateOf(t, h, e.ID); v.State != StateReauthRequired {
		t.Fatalf("state = %s, want reauth_required", v.State)
	}

	// last known data stays readable, marked unavailable
	ent, err := h.Entity("F1")
	if err != nil {
		t.Fatalf("Entity: %v", err)
	}
	if ent.Available() {
		t.Fatalf("entity available after auth failure")
	}
}

func TestUnloadReloadAndOptions(t *testing.T) {
	e := wg4Entry()
	store := configentry.NewMemoryStore(e)
	h := New(store, testSettings())
	defer h.Close(context.Background())
	ctx := context.Background()

	if err := h.SetupEntry(ctx, e.ID); err != nil {
		t.Fatalf("SetupEntry: %v", err)
	}

	if err := h.UnloadEntry(ctx, e.ID); err != nil {
		t.Fatalf("UnloadEntry: %v", err)
	}
	if v := stateOf(t, h, e.ID); v.State != StateNotLoaded || len(h.Entities()) != 0 {
		t.Fatalf("entry still loaded: %+v", v)
	}
	if err := h.UnloadEntry(ctx, e.ID); !errors.Is(err, ErrEntryNotLoaded) {
		t.Fatalf("expected ErrEntryNotLoaded, got %v", err)
	}

	if err := h.ReloadEntry(ctx, e.ID); err != nil {
		t.Fatalf("ReloadEntry: %v", err)
	}
	if stateOf(t, h, e.ID).State != StateLoaded {
		t.Fatalf("reload did not load")
	}

	bad := configentry.Options{ComfortModeDuration: swag.Int64(0)}
	if err := h.UpdateOptions(ctx, e.ID, bad); err == nil {
		t.Fatalf("invalid options accepted")
	}

	good := configentry.Options{UseComfortMode: true, ComfortModeDuration: swag.Int64(15)}
	if err := h.UpdateOptions(ctx, e.ID, good); err != nil {
		t.Fatalf("UpdateOptions: %v", err)
	}
	saved, _ := store.Get(ctx, e.ID)
	if !saved.Options.UseComfortMode || saved.Options.DurationMinutes() != 15 {
		t.Fatalf("options not saved: %+v", saved.Options)
	}
	if stateOf(t, h, e.ID).State != StateLoaded {
		t.Fatalf("entry not reloaded after options update")
	}
}

func TestSubscribeReceivesStates(t *testing.T) {
	e := wg4Entry()
	h := New(configentry.NewMemoryStore(e), testSettings())
	defer h.Close(context.Background())

	var mu sync.Mutex
	var got []entities.State
	unsubscribe := h.Subscribe(func(entryID string, states []entities.State) {
		mu.Lock()
		defer mu.Unlock()
		if entryID == e.ID {
			got = states
		}
	})
	defer unsubscribe()

	if err := h.SetupEntry(context.Background(), e.ID); err != nil {
		t.Fatalf("SetupEntry: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) == 0 {
		t.Fatalf("no states published on setup")
	}
}

func TestCreateAndRemoveEntry(t *testing.T) {
	store := configentry.NewMemoryStore()
	h := New(store, testSettings())
	defer h.Close(context.Background())
	ctx := context.Background()

	data := configentry.Data{
		Model:    ojapi.ModelWG4,
		Username: "user-" + uuid.New().String(),
		Password: "secret",
	}

	res, err := h.CreateEntry(ctx, data, nil)
	if err != nil {
		t.Fatalf("CreateEntry: %v", err)
	}
	if res.Type != configentry.ResultCreateEntry {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Entry.Data.Password == "secret" {
		t.Fatalf("flow result leaks the password")
	}
	if stateOf(t, h, res.Entry.ID).State != StateLoaded {
		t.Fatalf("created entry not loaded")
	}

	res2, err := h.CreateEntry(ctx, data, nil)
	if err != nil || res2.Reason != configentry.AbortAlreadyConfigured {
		t.Fatalf("duplicate entry: %+v, %v", res2, err)
	}

	if err := h.RemoveEntry(ctx, res.Entry.ID); err != nil {
		t.Fatalf("RemoveEntry: %v", err)
	}
	if _, err := store.Get(ctx, res.Entry.ID); !errors.Is(err, configentry.ErrNotFound) {
		t.Fatalf("entry still stored")
	}
	if len(h.Entities()) != 0 {
		t.Fatalf("entities left after removal")
	}
}
