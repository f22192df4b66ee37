package configentry

import (
	"context"

	"github.com/pkg/errors"

	"github.com/jake-scott/ojmicroline-bridge/internal/pkg/logging"
	"github.com/jake-scott/ojmicroline-bridge/internal/pkg/ojapi"
)

// ErrFutureVersion is returned when an entry was written by a newer release
var ErrFutureVersion = errors.New("config entry written by a newer version")

// Migrate brings an entry up to CurrentVersion in place.  Version 1 entries
// predate WG4 support and get model WD5 unless they already carry a model.
// It reports whether the entry changed and needs persisting.
func Migrate(ctx context.Context, entry *Entry) (bool, error) {
	if entry.Version > CurrentVersion {
		return false, errors.Wrapf(ErrFutureVersion, "entry %s has version %d, max supported %d",
			entry.ID, entry.Version, CurrentVersion)
	}

	if entry.Version == CurrentVersion {
		return false, nil
	}

	// Unversioned rows come from the first release
	if entry.Version < 1 {
		entry.Version = 1
	}

	if entry.Version == 1 {
		if entry.Data.Model == "" {
			entry.Data.Model = ojapi.ModelWD5
		}
		entry.Version = 2

		logging.Logger(ctx).Infof("Migrated config entry %s to version %d", entry.ID, entry.Version)
	}

	return true, nil
}

// MigrateAndSave migrates the entry and persists it when it changed
func MigrateAndSave(ctx context.Context, store Store, entry *Entry) error {
	changed, err := Migrate(ctx, entry)
	if err != nil {
		return err
	}

	if changed {
		if err := store.Update(ctx, *entry); err != nil {
			return errors.Wrapf(err, "saving migrated entry %s", entry.ID)
		}
	}

	return nil
}
