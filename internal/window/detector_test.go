package window

import (
	"testing"
	"time"
)

type detectorDriver struct {
	d   *Detector
	now time.Time
}

func newDriver(cfg Config) *detectorDriver {
	return &detectorDriver{
		d:   NewDetector(cfg),
		now: time.Date(2024, 1, 15, 6, 0, 0, 0, time.UTC),
	}
}

// feed advances the clock and evaluates one tick with the given slope and
// temperature.
func (dr *detectorDriver) feed(advance time.Duration, slopePerHour, temp float64) *Transition {
	dr.now = dr.now.Add(advance)
	return dr.d.Process(Input{
		Now:             dr.now,
		SlopePerHour:    slopePerHour,
		Temp:            &temp,
		PrevTemp:        &temp,
		MeasurementTime: dr.now,
	})
}

func TestSustainedDropOpensWithinConfirmation(t *testing.T) {
	dr := newDriver(Config{SlopeThreshold: 2.0})
	temp := 21.0

	// Mild cooling first: stays closed.
	for elapsed := 0; elapsed <= 200; elapsed += 30 {
		if tr := dr.feed(30*time.Second, -0.5, temp); tr != nil {
			t.Fatalf("unexpected transition during mild cooling: %+v", tr)
		}
		temp -= 0.5 * 30 / 3600
	}
	if got := dr.d.State(); got != StateClosed {
		t.Fatalf("state = %v, want closed", got)
	}

	// Sharp sustained cooling: candidate, then open within the confirmation
	// duration.
	var opened *Transition
	var sawCandidate bool
	for elapsed := 0; elapsed <= 150 && opened == nil; elapsed += 30 {
		opened = dr.feed(30*time.Second, -2.5, temp)
		if dr.d.State() == StateCandidate {
			sawCandidate = true
		}
		temp -= 2.5 * 30 / 3600
	}

	if !sawCandidate {
		t.Error("never passed through the candidate state")
	}
	if opened == nil || !opened.Opened {
		t.Fatalf("expected an open transition, got %+v", opened)
	}
	if dr.d.State() != StateOpen {
		t.Errorf("state = %v, want open", dr.d.State())
	}
	if dr.d.Alert() == "" {
		t.Error("open state carries no alert text")
	}
}

func TestLargeDropConfirmsImmediately(t *testing.T) {
	dr := newDriver(Config{SlopeThreshold: 2.0})

	if tr := dr.feed(30*time.Second, -3.0, 21.0); tr != nil {
		t.Fatalf("candidate tick must not open yet: %+v", tr)
	}
	// Next sample shows a 0.2°C drop, past the confirmation delta.
	tr := dr.feed(30*time.Second, -3.0, 20.8)
	if tr == nil || !tr.Opened {
		t.Fatalf("expected immediate confirmation, got %+v", tr)
	}
}

func TestCandidateClearsOnRecovery(t *testing.T) {
	dr := newDriver(Config{SlopeThreshold: 2.0})

	dr.feed(30*time.Second, -2.5, 21.0)
	if dr.d.State() != StateCandidate {
		t.Fatalf("state = %v, want candidate", dr.d.State())
	}

	// Slope recovers above -0.2x threshold: candidate dropped.
	if tr := dr.feed(30*time.Second, -0.1, 21.0); tr != nil {
		t.Fatalf("unexpected transition: %+v", tr)
	}
	if dr.d.State() != StateClosed {
		t.Errorf("state = %v, want closed", dr.d.State())
	}
}

func TestCandidateAgesOutWithoutSamples(t *testing.T) {
	dr := newDriver(Config{SlopeThreshold: 2.0})

	now := dr.now.Add(30 * time.Second)
	dr.now = now
	temp := 21.0
	dr.d.Process(Input{Now: now, SlopePerHour: -2.5, Temp: &temp, MeasurementTime: now})
	if dr.d.State() != StateCandidate {
		t.Fatalf("state = %v, want candidate", dr.d.State())
	}

	// Same measurement timestamp repeated: no second sample, candidate must
	// reset after the ageout period.
	dr.now = now.Add(241 * time.Second)
	dr.d.Process(Input{Now: dr.now, SlopePerHour: -2.5, Temp: &temp, MeasurementTime: now})
	if dr.d.State() != StateClosed {
		t.Errorf("state = %v, want closed after ageout", dr.d.State())
	}
}

func TestDoorSensorOpensImmediately(t *testing.T) {
	dr := newDriver(Config{SlopeThreshold: 2.0})
	open := true
	temp := 21.0

	tr := dr.d.Process(Input{Now: dr.now, SlopePerHour: 0, Temp: &temp, DoorWindowOpen: &open})
	if tr == nil || !tr.Opened {
		t.Fatalf("expected open transition, got %+v", tr)
	}
	if dr.d.State() != StateOpen {
		t.Errorf("state = %v, want open", dr.d.State())
	}

	// Repeated open reports produce no further transitions.
	if tr := dr.d.Process(Input{Now: dr.now.Add(time.Minute), SlopePerHour: 0, Temp: &temp, DoorWindowOpen: &open}); tr != nil {
		t.Errorf("unexpected transition on repeated open: %+v", tr)
	}
}

func TestOpenClearsOnSlopeRecovery(t *testing.T) {
	dr := newDriver(Config{SlopeThreshold: 2.0})
	dr.feed(30*time.Second, -3.0, 21.0)
	dr.feed(30*time.Second, -3.0, 20.7)
	if dr.d.State() != StateOpen {
		t.Fatalf("state = %v, want open", dr.d.State())
	}

	tr := dr.feed(5*time.Minute, -0.5, 20.6)
	if tr == nil || tr.Opened {
		t.Fatalf("expected close transition, got %+v", tr)
	}
	if !tr.EnforceRecovery {
		t.Error("slope recovery close must enforce the quiesce period")
	}
	if dr.d.Alert() != "" {
		t.Errorf("alert = %q, want cleared", dr.d.Alert())
	}
}

func TestOpenClearsAsFalsePositive(t *testing.T) {
	dr := newDriver(Config{SlopeThreshold: 2.0})
	dr.feed(30*time.Second, -3.0, 21.0)
	dr.feed(30*time.Second, -3.0, 20.7)
	if dr.d.State() != StateOpen {
		t.Fatalf("state = %v, want open", dr.d.State())
	}

	// Temperature back near the baseline, slope still mildly negative so the
	// recovery clause does not apply; after the grace period this clears as a
	// false positive without a recovery quiesce.
	tr := dr.feed(3*time.Minute, -1.0, 20.95)
	if tr == nil || tr.Opened {
		t.Fatalf("expected close transition, got %+v", tr)
	}
	if tr.EnforceRecovery {
		t.Error("false-positive clear must skip the recovery quiesce")
	}
}

func TestOpenClearsWhenStale(t *testing.T) {
	dr := newDriver(Config{SlopeThreshold: 2.0})
	dr.feed(30*time.Second, -3.0, 21.0)
	dr.feed(30*time.Second, -3.0, 20.7)
	if dr.d.State() != StateOpen {
		t.Fatalf("state = %v, want open", dr.d.State())
	}

	tr := dr.feed(16*time.Minute, -1.5, 20.2)
	if tr == nil || tr.Opened {
		t.Fatalf("expected stale close transition, got %+v", tr)
	}
	if !tr.EnforceRecovery {
		t.Error("stale close must enforce the quiesce period")
	}
}

func TestStateTraceIsDeterministic(t *testing.T) {
	run := func() []State {
		dr := newDriver(Config{SlopeThreshold: 2.0})
		var trace []State
		slopes := []float64{-0.5, -2.5, -2.5, -2.5, -2.5, -2.5, -0.5, -0.5}
		temp := 21.0
		for _, slope := range slopes {
			dr.feed(30*time.Second, slope, temp)
			trace = append(trace, dr.d.State())
			temp += slope * 30 / 3600
		}
		return trace
	}

	a, b := run(), run()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("trace diverged at step %d: %v vs %v", i, a, b)
		}
	}
}
