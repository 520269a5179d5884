package window

import (
	"fmt"
	"time"
)

// State of the draft detector for one zone.
type State int

const (
	StateClosed State = iota
	StateCandidate
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateCandidate:
		return "candidate"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Config tunes the detector. Zero values fall back to the defaults below.
type Config struct {
	// SlopeThreshold in °C/h; cooling faster than this starts a candidate.
	SlopeThreshold float64
	// Confirmation is how long a candidate must keep cooling before it is
	// promoted without the drop criterion.
	Confirmation time.Duration
	// ConfirmationDrop in °C promotes a candidate immediately.
	ConfirmationDrop float64
	// CandidateReset ages out an unconfirmed candidate.
	CandidateReset time.Duration
	// FalsePositiveTolerance in °C clears an open alert whose total drop
	// stayed under it.
	FalsePositiveTolerance float64
	// AutoClear ends a stale alert with no further cooling.
	AutoClear time.Duration
}

const (
	DefaultSlopeThreshold = 2.0 // °C/h
	MinSlopeThreshold     = 0.5

	defaultConfirmation     = 120 * time.Second
	defaultConfirmationDrop = 0.15
	defaultCandidateReset   = 240 * time.Second
	defaultFalsePositive    = 0.1
	defaultAutoClear        = 900 * time.Second
)

func (c Config) withDefaults() Config {
	if c.SlopeThreshold < MinSlopeThreshold {
		if c.SlopeThreshold <= 0 {
			c.SlopeThreshold = DefaultSlopeThreshold
		} else {
			c.SlopeThreshold = MinSlopeThreshold
		}
	}
	if c.Confirmation <= 0 {
		c.Confirmation = defaultConfirmation
	}
	if c.ConfirmationDrop <= 0 {
		c.ConfirmationDrop = defaultConfirmationDrop
	}
	if c.CandidateReset <= 0 {
		c.CandidateReset = defaultCandidateReset
	}
	if c.FalsePositiveTolerance <= 0 {
		c.FalsePositiveTolerance = defaultFalsePositive
	}
	if c.AutoClear <= 0 {
		c.AutoClear = defaultAutoClear
	}
	return c
}

// Input is one detector evaluation: the current slope plus optional sensor
// context. Nil pointers mean "unavailable this tick".
type Input struct {
	Now             time.Time
	SlopePerHour    float64
	Temp            *float64
	PrevTemp        *float64
	MeasurementTime time.Time
	DoorWindowOpen  *bool
}

// Transition reports a boundary crossing the zone must act on.
type Transition struct {
	Opened bool
	// EnforceRecovery is set on a close that needs the quiesce period; a
	// false-positive clear skips it.
	EnforceRecovery bool
	Reason          string
}

type candidate struct {
	startTS         time.Time
	startTemp       *float64
	lastTemp        *float64
	lastMeasurement time.Time
	sampleCount     int
}

// Detector is the window/draft state machine. The state trace is a pure
// function of the input sequence.
type Detector struct {
	cfg Config

	state        State
	cand         *candidate
	baselineTemp *float64
	lastEventTS  time.Time
	alert        string
}

func NewDetector(cfg Config) *Detector {
	return &Detector{cfg: cfg.withDefaults()}
}

func (d *Detector) State() State {
	if d.cand != nil {
		return StateCandidate
	}
	return d.state
}

func (d *Detector) Open() bool { return d.state == StateOpen }

// Alert is the human-readable reason for the current open state, empty when
// closed.
func (d *Detector) Alert() string { return d.alert }

func (d *Detector) LastEvent() time.Time { return d.lastEventTS }

// Reset drops all detection state, used when detection is disabled.
func (d *Detector) Reset(now time.Time) *Transition {
	d.cand = nil
	if d.state == StateOpen {
		d.state = StateClosed
		d.alert = ""
		d.lastEventTS = now
		return &Transition{Opened: false, EnforceRecovery: false, Reason: "detection disabled"}
	}
	d.state = StateClosed
	return nil
}

// Process evaluates one tick and returns a transition when the open state
// changes.
func (d *Detector) Process(in Input) *Transition {
	// A wired sensor overrides slope heuristics outright.
	if in.DoorWindowOpen != nil && *in.DoorWindowOpen {
		d.cand = nil
		if d.state != StateOpen {
			d.state = StateOpen
			d.baselineTemp = copyTemp(in.Temp)
			d.alert = "Door/window sensor reported open"
			d.lastEventTS = in.Now
			return &Transition{Opened: true, Reason: d.alert}
		}
		return nil
	}

	// Count a new measurement against the live candidate.
	if d.cand != nil && !in.MeasurementTime.IsZero() && !in.MeasurementTime.Equal(d.cand.lastMeasurement) {
		d.cand.lastMeasurement = in.MeasurementTime
		d.cand.sampleCount++
		if in.Temp != nil {
			d.cand.lastTemp = copyTemp(in.Temp)
		}
	}

	threshold := d.cfg.SlopeThreshold
	slope := in.SlopePerHour

	if d.state != StateOpen && slope <= -threshold {
		if d.cand == nil {
			start := copyTemp(in.PrevTemp)
			if start == nil {
				start = copyTemp(in.Temp)
			}
			d.cand = &candidate{
				startTS:         in.Now,
				startTemp:       start,
				lastTemp:        copyTemp(in.Temp),
				lastMeasurement: in.MeasurementTime,
				sampleCount:     1,
			}
		} else if in.Temp != nil {
			d.cand.lastTemp = copyTemp(in.Temp)
		}

		var drop *float64
		if d.cand.startTemp != nil && d.cand.lastTemp != nil {
			v := *d.cand.startTemp - *d.cand.lastTemp
			drop = &v
		}
		confirmDrop := drop != nil && *drop >= d.cfg.ConfirmationDrop
		confirmDuration := d.cand.sampleCount >= 2 &&
			in.Now.Sub(d.cand.startTS) >= d.cfg.Confirmation &&
			slope <= -threshold*0.5

		if confirmDrop || confirmDuration {
			baseline := d.cand.startTemp
			if baseline == nil {
				baseline = d.cand.lastTemp
			}
			d.state = StateOpen
			d.baselineTemp = baseline
			d.alert = fmt.Sprintf("Open window detected (drop %.2f°C/h)", -slope)
			d.lastEventTS = in.Now
			d.cand = nil
			return &Transition{Opened: true, Reason: d.alert}
		}
		if d.cand.sampleCount < 2 && in.Now.Sub(d.cand.startTS) >= d.cfg.CandidateReset {
			d.cand = nil
		}
	} else if d.cand != nil {
		elapsed := in.Now.Sub(d.cand.startTS)
		if slope > -threshold*0.2 || elapsed >= d.cfg.CandidateReset {
			d.cand = nil
		}
	}

	if d.state == StateOpen {
		falsePositive := d.baselineTemp != nil && in.Temp != nil &&
			*d.baselineTemp-*in.Temp < d.cfg.FalsePositiveTolerance &&
			!d.lastEventTS.IsZero() &&
			in.Now.Sub(d.lastEventTS) >= d.cfg.Confirmation
		stale := !d.lastEventTS.IsZero() &&
			in.Now.Sub(d.lastEventTS) >= d.cfg.AutoClear &&
			slope > -threshold

		if slope >= -threshold*0.4 || falsePositive || stale {
			d.state = StateClosed
			d.alert = ""
			d.lastEventTS = in.Now
			d.baselineTemp = nil

			reason := "cooling resolved"
			switch {
			case falsePositive:
				reason = "no sustained drop"
			case stale:
				reason = "alert timed out without further cooling"
			}
			return &Transition{Opened: false, EnforceRecovery: !falsePositive, Reason: reason}
		}
	}

	return nil
}

func copyTemp(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
