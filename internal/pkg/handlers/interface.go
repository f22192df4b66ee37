package handlers

import (
	"context"

	"github.com/jake-scott/ojmicroline-bridge/internal/pkg/configentry"
	"github.com/jake-scott/ojmicroline-bridge/internal/pkg/entities"
	"github.com/jake-scott/ojmicroline-bridge/internal/pkg/hub"
)

// Runtime is the part of the hub the HTTP API drives
type Runtime interface {
	Entries(ctx context.Context) ([]hub.EntryView, error)
	Entry(ctx context.Context, id string) (hub.EntryView, error)
	CreateEntry(ctx context.Context, data configentry.Data, options *configentry.Options) (configentry.FlowResult, error)
	RemoveEntry(ctx context.Context, id string) error
	ReloadEntry(ctx context.Context, id string) error
	UpdateOptions(ctx context.Context, id string, options configentry.Options) error
	Entities() []entities.Entity
	Entity(uniqueID string) (entities.Entity, error)
	Subscribe(fn hub.StateListener) func()
}
