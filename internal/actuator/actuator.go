// Package actuator models the closed set of actuator kinds a zone can drive
// and the on/off command verbs each kind speaks.
package actuator

import "fmt"

// Kind is an integer enum over the supported actuator families.
type Kind int

const (
	KindUnknown Kind = iota
	KindSwitch
	KindValve
	KindClimate
)

func (k Kind) Valid() bool {
	return k == KindSwitch || k == KindValve || k == KindClimate
}

func (k Kind) String() string {
	switch k {
	case KindSwitch:
		return "switch"
	case KindValve:
		return "valve"
	case KindClimate:
		return "climate"
	default:
		return "unknown"
	}
}

func ParseKind(s string) (Kind, error) {
	switch s {
	case "switch":
		return KindSwitch, nil
	case "valve":
		return KindValve, nil
	case "climate":
		return KindClimate, nil
	default:
		return KindUnknown, fmt.Errorf("invalid actuator kind: %q", s)
	}
}

// Command returns the verb for switching the kind on or off. Valves speak
// open/close; switches and climate devices speak turn_on/turn_off.
func (k Kind) Command(on bool) string {
	if k == KindValve {
		if on {
			return "open_valve"
		}
		return "close_valve"
	}
	if on {
		return "turn_on"
	}
	return "turn_off"
}

// Target identifies one addressable actuator.
type Target struct {
	ID   string
	Kind Kind
}

func (t Target) Valid() bool { return t.ID != "" && t.Kind.Valid() }
