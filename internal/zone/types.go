package zone

import "fmt"

// HVACMode is an integer enum.
type HVACMode int

const (
	ModeUnknown HVACMode = iota
	ModeOff
	ModeHeat
)

func (m HVACMode) Valid() bool {
	return m == ModeOff || m == ModeHeat
}

func (m HVACMode) String() string {
	switch m {
	case ModeOff:
		return "off"
	case ModeHeat:
		return "heat"
	default:
		return "unknown"
	}
}

// ParseMode is optional but handy for env vars / API payloads.
func ParseMode(s string) (HVACMode, error) {
	switch s {
	case "off":
		return ModeOff, nil
	case "heat":
		return ModeHeat, nil
	default:
		return ModeUnknown, fmt.Errorf("invalid mode: %q", s)
	}
}

// Action is the observable state of the zone, derived rather than stored.
type Action int

const (
	ActionOff Action = iota
	ActionIdle
	ActionHeating
)

func (a Action) String() string {
	switch a {
	case ActionOff:
		return "off"
	case ActionIdle:
		return "idle"
	case ActionHeating:
		return "heating"
	default:
		return "unknown"
	}
}

// Preset names understood by SetPreset.
const (
	PresetSleep = "sleep"
	PresetHome  = "home"
	PresetAway  = "away"
)

// Presets maps preset names to target temperatures. Zero entries are
// disabled.
type Presets struct {
	Sleep float64
	Home  float64
	Away  float64
}

func (p Presets) lookup(name string) (float64, bool) {
	switch name {
	case PresetSleep:
		return p.Sleep, p.Sleep > 0
	case PresetHome:
		return p.Home, p.Home > 0
	case PresetAway:
		return p.Away, p.Away > 0
	default:
		return 0, false
	}
}
