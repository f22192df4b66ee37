package hub

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/korovkin/limiter"
	"github.com/pkg/errors"

	"github.com/jake-scott/ojmicroline-bridge/internal/pkg/configentry"
	"github.com/jake-scott/ojmicroline-bridge/internal/pkg/coordinator"
	"github.com/jake-scott/ojmicroline-bridge/internal/pkg/entities"
	"github.com/jake-scott/ojmicroline-bridge/internal/pkg/logging"
)

var (
	ErrEntryNotLoaded = errors.New("config entry not loaded")
	ErrEntityNotFound = errors.New("entity not found")
)

// StateListener receives the entity states of an entry after every refresh
type StateListener func(entryID string, states []entities.State)

// Hub owns every loaded config entry, keyed by entry id
type Hub struct {
	store    configentry.Store
	settings Settings
	flow     *configentry.Flow

	mu       sync.RWMutex
	loaded   map[string]*loadedEntry
	statuses map[string]entryStatus
	retries  map[string]*time.Timer

	listenMu  sync.RWMutex
	listeners map[int]StateListener
	nextID    int
}

func New(store configentry.Store, settings Settings) *Hub {
	return &Hub{
		store:     store,
		settings:  settings,
		flow:      configentry.NewFlow(store, settings.driver, settings.apiTimeout),
		loaded:    make(map[string]*loadedEntry),
		statuses:  make(map[string]entryStatus),
		retries:   make(map[string]*time.Timer),
		listeners: make(map[int]StateListener),
	}
}

// Subscribe registers fn for state fan-out.  The returned function removes it.
func (h *Hub) Subscribe(fn StateListener) func() {
	h.listenMu.Lock()
	defer h.listenMu.Unlock()

	id := h.nextID
	h.nextID++
	h.listeners[id] = fn

	return func() {
		h.listenMu.Lock()
		defer h.listenMu.Unlock()
		delete(h.listeners, id)
	}
}

func (h *Hub) publish(entryID string, states []entities.State) {
	h.listenMu.RLock()
	fns := make([]StateListener, 0, len(h.listeners))
	for _, fn := range h.listeners {
		fns = append(fns, fn)
	}
	h.listenMu.RUnlock()

	for _, fn := range fns {
		fn(entryID, states)
	}
}

func (h *Hub) setStatus(id string, state EntryState, reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.statuses[id] = entryStatus{state: state, reason: reason}
}

// SetupAll loads every stored entry, a few at a time
func (h *Hub) SetupAll(ctx context.Context) error {
	entries, err := h.store.List(ctx)
	if err != nil {
		return errors.Wrap(err, "listing config entries")
	}

	limit := limiter.NewConcurrencyLimiter(h.settings.maxConcurrent)
	for _, e := range entries {
		id := e.ID
		limit.ExecuteWithTicket(func(ticket int) {
			logging.Logger(ctx).Debugf("setup-goroutine %d: loading entry %s", ticket, id)
			if err := h.SetupEntry(ctx, id); err != nil {
				logging.Logger(ctx).WithError(err).Warnf("setup-goroutine %d: entry %s not loaded", ticket, id)
			}
		})
	}
	limit.Wait()

	return nil
}

// SetupEntry migrates the entry, connects, performs the first refresh,
// discovers entities and starts polling
func (h *Hub) SetupEntry(ctx context.Context, id string) error {
	h.mu.RLock()
	_, already := h.loaded[id]
	h.mu.RUnlock()
	if already {
		return errors.Errorf("entry %s already loaded", id)
	}

	h.cancelRetry(id)

	entry, err := h.store.Get(ctx, id)
	if err != nil {
		return err
	}

	if err := configentry.MigrateAndSave(ctx, h.store, &entry); err != nil {
		h.setStatus(id, StateMigrationError, err.Error())
		return errors.Wrap(err, "migrating entry")
	}

	api, err := configentry.NewClient(h.settings.driver, entry.Data)
	if err != nil {
		h.setStatus(id, StateSetupError, err.Error())
		return errors.Wrap(err, "building vendor client")
	}

	coord := coordinator.New(api, h.settings.coordinatorSettings(id))
	if err := coord.FirstRefresh(ctx); err != nil {
		coord.Stop()
		_ = api.Close()

		if errors.Is(err, coordinator.ErrReauthRequired) {
			h.setStatus(id, StateReauthRequired, err.Error())
		} else {
			h.setStatus(id, StateSetupRetry, err.Error())
			h.scheduleRetry(id)
		}
		return err
	}

	le := &loadedEntry{
		entry:       entry,
		coordinator: coord,
		entities:    entities.Discover(coord, entry.Options, h.settings.now),
	}
	le.unlisten = coord.AddListener(func() {
		h.trackRuntimeAuth(id, coord)
		h.publish(id, le.states())
	})

	h.mu.Lock()
	if _, raced := h.loaded[id]; raced {
		h.mu.Unlock()
		le.unlisten()
		coord.Stop()
		_ = api.Close()
		return errors.Errorf("entry %s already loaded", id)
	}
	h.loaded[id] = le
	h.statuses[id] = entryStatus{state: StateLoaded}
	h.mu.Unlock()

	coord.Start()

	logging.ForEntry(ctx, id).Infof("Loaded %s with %d thermostats and %d entities",
		entry.Title, len(coord.Data()), len(le.entities))

	h.publish(id, le.states())
	return nil
}

// trackRuntimeAuth flags a loaded entry whose credentials stopped working.
// The entry keeps polling and recovers once the vendor accepts them again.
func (h *Hub) trackRuntimeAuth(id string, coord *coordinator.Coordinator) {
	state := StateLoaded
	reason := ""
	if err := coord.LastError(); err != nil && errors.Is(err, coordinator.ErrReauthRequired) {
		state = StateReauthRequired
		reason = err.Error()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.loaded[id]; ok {
		h.statuses[id] = entryStatus{state: state, reason: reason}
	}
}

func (h *Hub) scheduleRetry(id string) {
	if h.settings.retryInterval <= 0 {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if t, ok := h.retries[id]; ok {
		t.Stop()
	}
	h.retries[id] = time.AfterFunc(h.settings.retryInterval, func() {
		h.mu.Lock()
		delete(h.retries, id)
		h.mu.Unlock()

		logging.Logger(nil).Infof("Retrying setup of entry %s", id)
		if err := h.SetupEntry(context.Background(), id); err != nil {
			logging.Logger(nil).WithError(err).Warnf("Retry of entry %s failed", id)
		}
	})
}

func (h *Hub) cancelRetry(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if t, ok := h.retries[id]; ok {
		t.Stop()
		delete(h.retries, id)
	}
}

// UnloadEntry stops polling and drops the entry's entities
func (h *Hub) UnloadEntry(ctx context.Context, id string) error {
	h.cancelRetry(id)

	h.mu.Lock()
	le, ok := h.loaded[id]
	if ok {
		delete(h.loaded, id)
		h.statuses[id] = entryStatus{state: StateNotLoaded}
	}
	h.mu.Unlock()

	if !ok {
		return errors.Wrapf(ErrEntryNotLoaded, "entry %s", id)
	}

	le.unlisten()
	le.coordinator.Stop()
	if err := le.coordinator.API().Close(); err != nil {
		logging.Logger(ctx).WithError(err).Warnf("closing client of entry %s", id)
	}
	h.settings.metrics.Forget(id)

	logging.ForEntry(ctx, id).Info("Unloaded entry")
	return nil
}

// ReloadEntry unloads the entry if loaded and sets it up again
func (h *Hub) ReloadEntry(ctx context.Context, id string) error {
	if err := h.UnloadEntry(ctx, id); err != nil && !errors.Is(err, ErrEntryNotLoaded) {
		return err
	}

	return h.SetupEntry(ctx, id)
}

// UpdateOptions validates and stores new options, then reloads the entry so
// the entities pick them up
func (h *Hub) UpdateOptions(ctx context.Context, id string, options configentry.Options) error {
	if err := options.Validate(strfmt.Default); err != nil {
		return err
	}

	entry, err := h.store.Get(ctx, id)
	if err != nil {
		return err
	}

	entry.Options = options
	if err := h.store.Update(ctx, entry); err != nil {
		return err
	}

	return h.ReloadEntry(ctx, id)
}

// CreateEntry runs the user config flow and loads the new entry
func (h *Hub) CreateEntry(ctx context.Context, data configentry.Data, options *configentry.Options) (configentry.FlowResult, error) {
	res, err := h.flow.StepUser(ctx, data, options)
	if err != nil || res.Type != configentry.ResultCreateEntry {
		return res, err
	}

	if err := h.SetupEntry(ctx, res.Entry.ID); err != nil {
		logging.Logger(ctx).WithError(err).Warnf("New entry %s created but not loaded", res.Entry.ID)
	}

	redacted := res.Entry.Redacted()
	res.Entry = &redacted
	return res, nil
}

// RemoveEntry unloads and deletes the entry
func (h *Hub) RemoveEntry(ctx context.Context, id string) error {
	if err := h.UnloadEntry(ctx, id); err != nil && !errors.Is(err, ErrEntryNotLoaded) {
		return err
	}

	if err := h.store.Delete(ctx, id); err != nil {
		return err
	}

	h.mu.Lock()
	delete(h.statuses, id)
	h.mu.Unlock()

	return nil
}

func (h *Hub) view(e configentry.Entry) EntryView {
	v := EntryView{Entry: e.Redacted(), State: StateNotLoaded}

	if st, ok := h.statuses[e.ID]; ok {
		v.State = st.state
		v.Reason = st.reason
	}
	if le, ok := h.loaded[e.ID]; ok {
		v.Entities = len(le.entities)
	}

	return v
}

// Entries lists stored entries with their runtime state
func (h *Hub) Entries(ctx context.Context) ([]EntryView, error) {
	entries, err := h.store.List(ctx)
	if err != nil {
		return nil, err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]EntryView, 0, len(entries))
	for _, e := range entries {
		out = append(out, h.view(e))
	}
	return out, nil
}

func (h *Hub) Entry(ctx context.Context, id string) (EntryView, error) {
	e, err := h.store.Get(ctx, id)
	if err != nil {
		return EntryView{}, err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.view(e), nil
}

// Entities returns the entities of every loaded entry, ordered by unique id
func (h *Hub) Entities() []entities.Entity {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []entities.Entity
	for _, le := range h.loaded {
		out = append(out, le.entities...)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UniqueID() < out[j].UniqueID()
	})

	return out
}

func (h *Hub) Entity(uniqueID string) (entities.Entity, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, le := range h.loaded {
		for _, e := range le.entities {
			if e.UniqueID() == uniqueID {
				return e, nil
			}
		}
	}

	return nil, errors.Wrapf(ErrEntityNotFound, "%s", uniqueID)
}

// Close unloads every entry
func (h *Hub) Close(ctx context.Context) {
	h.mu.RLock()
	ids := make([]string, 0, len(h.loaded)+len(h.retries))
	for id := range h.loaded {
		ids = append(ids, id)
	}
	for id := range h.retries {
		ids = append(ids, id)
	}
	h.mu.RUnlock()

	for _, id := range ids {
		if err := h.UnloadEntry(ctx, id); err != nil && !errors.Is(err, ErrEntryNotLoaded) {
			logging.Logger(ctx).WithError(err).Warnf("unloading entry %s", id)
		}
	}
}
