package configentry

import (
	"context"
	"fmt"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/jake-scott/ojmicroline-bridge/internal/pkg/logging"
	"github.com/jake-scott/ojmicroline-bridge/internal/pkg/ojapi"
)

type FlowResultType string

const (
	ResultForm        FlowResultType = "form"
	ResultCreateEntry FlowResultType = "create_entry"
	ResultAbort       FlowResultType = "abort"
)

// Form error codes shown against the "base" field
const (
	ErrCodeInvalidAuth      = "invalid_auth"
	ErrCodeTimeout          = "timeout"
	ErrCodeConnectionFailed = "connection_failed"
	ErrCodeUnknown          = "unknown"

	AbortAlreadyConfigured = "already_configured"
)

type FlowResult struct {
	Type   FlowResultType    `json:"type"`
	StepID string            `json:"step_id,omitempty"`
	Errors map[string]string `json:"errors,omitempty"`
	Reason string            `json:"reason,omitempty"`
	Entry  *Entry            `json:"entry,omitempty"`
}

// Flow runs the user step of the config flow: dedupe against existing
// entries, try a login, then create the entry
type Flow struct {
	store   Store
	driver  string
	timeout time.Duration
	formats strfmt.Registry
	now     func() time.Time
}

func NewFlow(store Store, driver string, timeout time.Duration) *Flow {
	return &Flow{
		store:   store,
		driver:  driver,
		timeout: timeout,
		formats: strfmt.NewFormats(),
		now:     time.Now,
	}
}

// StepUser handles submitted user input.  Schema violations are returned as
// an error; vendor failures come back as a form with an error code.
func (f *Flow) StepUser(ctx context.Context, input Data, options *Options) (FlowResult, error) {
	if err := input.Validate(f.formats); err != nil {
		return FlowResult{}, err
	}

	opts := DefaultOptions()
	if options != nil {
		if err := options.Validate(f.formats); err != nil {
			return FlowResult{}, err
		}
		opts = *options
	}

	existing, err := FindMatching(ctx, f.store, input)
	if err != nil {
		return FlowResult{}, errors.Wrap(err, "checking existing entries")
	}
	if existing != nil {
		logging.Logger(ctx).Infof("Config flow aborted: %s already configured as entry %s", input.Username, existing.ID)
		return FlowResult{Type: ResultAbort, Reason: AbortAlreadyConfigured}, nil
	}

	if code := f.tryLogin(ctx, input); code != "" {
		return FlowResult{
			Type:   ResultForm,
			StepID: "user",
			Errors: map[string]string{"base": code},
		}, nil
	}

	entry := Entry{
		ID:        uuid.New().String(),
		Version:   CurrentVersion,
		Title:     fmt.Sprintf("%s (%s)", IntegrationName, input.Username),
		Data:      input,
		Options:   opts,
		CreatedAt: strfmt.DateTime(f.now().UTC()),
	}

	if err := f.store.Create(ctx, entry); err != nil {
		return FlowResult{}, errors.Wrap(err, "saving new entry")
	}

	logging.Logger(ctx).Infof("Created config entry %s for %s", entry.ID, input.Username)
	return FlowResult{Type: ResultCreateEntry, Entry: &entry}, nil
}

func (f *Flow) tryLogin(ctx context.Context, input Data) string {
	api, err := NewClient(f.driver, input)
	if err != nil {
		logging.Logger(ctx).WithError(err).Error("Config flow: building client")
		return ErrCodeUnknown
	}
	defer api.Close()

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	if err := api.Login(ctx); err != nil {
		logging.Logger(ctx).WithError(err).Warn("Config flow: login failed")
		return FormErrorCode(err)
	}

	return ""
}

// FormErrorCode maps a vendor error onto a config flow form error code
func FormErrorCode(err error) string {
	switch ojapi.KindOf(err) {
	case ojapi.KindAuth:
		return ErrCodeInvalidAuth
	case ojapi.KindTimeout:
		return ErrCodeTimeout
	case ojapi.KindConnection:
		return ErrCodeConnectionFailed
	}

	return ErrCodeUnknown
}
