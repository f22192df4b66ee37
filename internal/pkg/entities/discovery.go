package entities

import (
	"sort"
	"time"

	"github.com/jake-scott/ojmicroline-bridge/internal/pkg/configentry"
)

// Discover materialises the entities for the current snapshot: one climate
// per thermostat plus a sensor for every field the thermostat reports.  It
// runs once at setup; thermostats appearing later need a reload.
func Discover(src Source, options configentry.Options, now func() time.Time) []Entity {
	if now == nil {
		now = time.Now
	}

	snap := src.Data()
	serials := make([]string, 0, len(snap))
	for serial := range snap {
		serials = append(serials, serial)
	}
	sort.Strings(serials)

	var out []Entity
	for _, serial := range serials {
		t := snap[serial]

		out = append(out, NewClimate(src, serial, options, now))

		for _, desc := range SensorTypes {
			if desc.Present(t) {
				out = append(out, NewSensor(src, serial, desc, now))
			}
		}

		for _, desc := range BinarySensorTypes {
			if desc.Value(t) != nil {
				out = append(out, NewBinarySensor(src, serial, desc, now))
			}
		}
	}

	return out
}
