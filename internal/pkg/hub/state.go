package hub

import (
	"github.com/jake-scott/ojmicroline-bridge/internal/pkg/configentry"
	"github.com/jake-scott/ojmicroline-bridge/internal/pkg/coordinator"
	"github.com/jake-scott/ojmicroline-bridge/internal/pkg/entities"
)

type EntryState string

const (
	StateNotLoaded      EntryState = "not_loaded"
	StateLoaded         EntryState = "loaded"
	StateSetupError     EntryState = "setup_error"
	StateSetupRetry     EntryState = "setup_retry"
	StateReauthRequired EntryState = "reauth_required"
	StateMigrationError EntryState = "migration_error"
)

type entryStatus struct {
	state  EntryState
	reason string
}

// EntryView is an entry as shown to API clients, secrets redacted
type EntryView struct {
	configentry.Entry `yaml:",inline"`
	State             EntryState `json:"state"`
	Reason            string     `json:"reason,omitempty"`
	Entities          int        `json:"entities"`
}

// loadedEntry is everything a running entry owns
type loadedEntry struct {
	entry       configentry.Entry
	coordinator *coordinator.Coordinator
	entities    []entities.Entity
	unlisten    func()
}

func (l *loadedEntry) states() []entities.State {
	out := make([]entities.State, 0, len(l.entities))
	for _, e := range l.entities {
		out = append(out, e.State())
	}
	return out
}
