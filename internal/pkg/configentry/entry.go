package configentry

import (
	"github.com/go-openapi/strfmt"
	"github.com/go-openapi/swag"

	"github.com/jake-scott/ojmicroline-bridge/internal/pkg/ojapi"
)

const (
	// CurrentVersion is the schema version written by the config flow
	CurrentVersion = 2

	IntegrationName = "OJ Microline Thermostat"

	DefaultHostWD5             = "ocd5.azurewebsites.net"
	DefaultHostWG4             = "mythermostat.info"
	DefaultCustomerID          = 99
	DefaultComfortModeDuration = 60
)

// Data is the connection part of a config entry.  CustomerID only applies to
// the WD5 family and is omitted for WG4 accounts.
type Data struct {
	Model      ojapi.Model `json:"model,omitempty" yaml:"model,omitempty"`
	Host       string      `json:"host,omitempty" yaml:"host,omitempty"`
	APIKey     string      `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	Username   string      `json:"username" yaml:"username"`
	Password   string      `json:"password" yaml:"password"`
	CustomerID *int        `json:"customer_id,omitempty" yaml:"customer_id,omitempty"`
}

// Options are the user tunables of an entry
type Options struct {
	UseComfortMode      bool   `json:"use_comfort_mode" yaml:"use_comfort_mode"`
	ComfortModeDuration *int64 `json:"comfort_mode_duration,omitempty" yaml:"comfort_mode_duration,omitempty"`
}

// DurationMinutes returns the comfort mode duration with the default applied
func (o Options) DurationMinutes() int64 {
	if o.ComfortModeDuration == nil {
		return DefaultComfortModeDuration
	}

	return swag.Int64Value(o.ComfortModeDuration)
}

func DefaultOptions() Options {
	return Options{
		ComfortModeDuration: swag.Int64(DefaultComfortModeDuration),
	}
}

type Entry struct {
	ID        string          `json:"entry_id" yaml:"entry_id"`
	Version   int             `json:"version" yaml:"version"`
	Title     string          `json:"title" yaml:"title"`
	Data      Data            `json:"data" yaml:"data"`
	Options   Options         `json:"options" yaml:"options"`
	CreatedAt strfmt.DateTime `json:"created_at" yaml:"created_at"`
}

// Redacted returns a copy safe to show to users
func (e Entry) Redacted() Entry {
	out := e
	if out.Data.Password != "" {
		out.Data.Password = "**REDACTED**"
	}
	if out.Data.APIKey != "" {
		out.Data.APIKey = "**REDACTED**"
	}

	return out
}

// DefaultHost is the vendor host for a device family
func DefaultHost(model ojapi.Model) string {
	if model == ojapi.ModelWG4 {
		return DefaultHostWG4
	}

	return DefaultHostWD5
}

// EffectiveCustomerID is the customer id sent to WD5 accounts
func (d Data) EffectiveCustomerID() int {
	if d.CustomerID == nil {
		return DefaultCustomerID
	}

	return *d.CustomerID
}

// matches reports whether two entries point at the same account
func (d Data) matches(o Data) bool {
	if d.Username != o.Username || d.host() != o.host() {
		return false
	}

	if d.Model == ojapi.ModelWG4 || o.Model == ojapi.ModelWG4 {
		return d.Model == o.Model
	}

	return d.EffectiveCustomerID() == o.EffectiveCustomerID()
}

func (d Data) host() string {
	if d.Host != "" {
		return d.Host
	}

	return DefaultHost(d.Model)
}
