package ports

import "github.com/adaptiveheat/zoneheat/internal/zone"

// ZoneService is the control-plane port used by controllers (HTTP/MQTT/etc).
type ZoneService interface {
	ID() string
	Name() string
	Status() zone.Status
	SetTarget(float64) error
	SetMode(zone.HVACMode) error
	SetPreset(string) error
	Calibrate() error
}
