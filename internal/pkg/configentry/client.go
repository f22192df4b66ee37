package configentry

import (
	"github.com/pkg/errors"

	"github.com/jake-scott/ojmicroline-bridge/internal/pkg/ojapi"
)

// ClientConfig turns entry data into the vendor connection settings for the
// device family.  WD5 accounts fall back to customer id 99; WG4 accounts
// never carry a customer id or api key.
func ClientConfig(data Data) (ojapi.Config, error) {
	cfg := ojapi.Config{
		Model:    data.Model,
		Host:     data.host(),
		Username: data.Username,
		Password: data.Password,
	}

	switch data.Model {
	case ojapi.ModelWD5:
		cfg.APIKey = data.APIKey
		cfg.CustomerID = data.EffectiveCustomerID()
	case ojapi.ModelWG4:
	default:
		return ojapi.Config{}, errors.Errorf("unknown model %q", data.Model)
	}

	return cfg, nil
}

// NewClient builds a vendor client for the entry data using the named driver
func NewClient(driver string, data Data) (ojapi.API, error) {
	cfg, err := ClientConfig(data)
	if err != nil {
		return nil, err
	}

	return ojapi.Open(driver, cfg)
}
