package zone

import "errors"

var (
	ErrInvalidTarget      = errors.New("target temperature out of range")
	ErrInvalidMode        = errors.New("invalid hvac mode")
	ErrUnknownPreset      = errors.New("unknown or disabled preset")
	ErrInsufficientData   = errors.New("not enough samples for calibration")
	ErrControllerStopped  = errors.New("zone controller stopped")
	ErrMissingSensors     = errors.New("sensor source is required")
	ErrMissingScheduler   = errors.New("scheduler is required")
	ErrInvalidZoneID      = errors.New("zone id must not be empty")
	ErrInvalidAutoOnOff   = errors.New("auto off threshold must exceed auto on threshold")
)
