package thermal

import "errors"

var (
	ErrInvalidTimeConstants = errors.New("radiator time constant must be positive and smaller than the room time constant")
	ErrInvalidGain          = errors.New("gain must be positive")
	ErrInvalidExponent      = errors.New("exponent must not be negative")
	ErrInvalidLearnRate     = errors.New("learn rate must be within [0, 1]")
	ErrInvalidDeadband      = errors.New("deadband must not be negative")
)
