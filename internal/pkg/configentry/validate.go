package configentry

import (
	"github.com/go-openapi/errors"
	"github.com/go-openapi/strfmt"
	"github.com/go-openapi/validate"

	"github.com/jake-scott/ojmicroline-bridge/internal/pkg/ojapi"
)

var modelEnum = []interface{}{string(ojapi.ModelWD5), string(ojapi.ModelWG4)}

// Validate checks the connection data against the entry schema
func (m *Data) Validate(formats strfmt.Registry) error {
	var res []error

	if err := m.validateModel(formats); err != nil {
		res = append(res, err)
	}

	if err := validate.RequiredString("username", "body", m.Username); err != nil {
		res = append(res, err)
	}

	if err := validate.RequiredString("password", "body", m.Password); err != nil {
		res = append(res, err)
	}

	if err := m.validateFamilyFields(formats); err != nil {
		res = append(res, err)
	}

	if len(res) > 0 {
		return errors.CompositeValidationError(res...)
	}
	return nil
}

func (m *Data) validateModel(formats strfmt.Registry) error {
	if err := validate.RequiredString("model", "body", string(m.Model)); err != nil {
		return err
	}

	if err := validate.Enum("model", "body", string(m.Model), modelEnum); err != nil {
		return err
	}

	return nil
}

func (m *Data) validateFamilyFields(formats strfmt.Registry) error {
	if m.Model != ojapi.ModelWD5 {
		return nil
	}

	if err := validate.RequiredString("api_key", "body", m.APIKey); err != nil {
		return err
	}

	if m.CustomerID != nil {
		if err := validate.MinimumInt("customer_id", "body", int64(*m.CustomerID), 0, false); err != nil {
			return err
		}
	}

	return nil
}

// Validate checks the entry options
func (m *Options) Validate(formats strfmt.Registry) error {
	var res []error

	if m.ComfortModeDuration != nil {
		if err := validate.MinimumInt("comfort_mode_duration", "body", *m.ComfortModeDuration, 1, false); err != nil {
			res = append(res, err)
		}
	}

	if len(res) > 0 {
		return errors.CompositeValidationError(res...)
	}
	return nil
}
