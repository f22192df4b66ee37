package coordinator

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrReauthRequired means the vendor rejected the stored credentials
var ErrReauthRequired = errors.New("reauthentication required")

// ErrNotReady is returned by FirstRefresh for failures worth retrying later
var ErrNotReady = errors.New("coordinator not ready")

type ReauthRequiredError struct {
	Err error
}

func (e *ReauthRequiredError) Error() string {
	return fmt.Sprintf("%s: %s", ErrReauthRequired, e.Err)
}

func (e *ReauthRequiredError) Unwrap() error { return e.Err }

func (e *ReauthRequiredError) Is(target error) bool {
	return target == ErrReauthRequired
}

// UpdateFailedError wraps any non-auth fetch failure.  The previous snapshot
// stays published when this is returned.
type UpdateFailedError struct {
	Err error
}

func (e *UpdateFailedError) Error() string {
	return fmt.Sprintf("error fetching thermostats: %s", e.Err)
}

func (e *UpdateFailedError) Unwrap() error { return e.Err }
