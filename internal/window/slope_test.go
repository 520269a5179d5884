package window

import (
	"testing"
	"time"
)

func TestSlopeTrackerInstantSlope(t *testing.T) {
	var s SlopeTracker
	base := time.Date(2024, 1, 15, 6, 0, 0, 0, time.UTC)

	s.Observe(base, 20.0)
	if got := s.InstantPerHour(); got != 0 {
		t.Errorf("slope after one sample = %v, want 0", got)
	}

	// 0.05°C over 60s = 3°C/h.
	s.Observe(base.Add(time.Minute), 20.05)
	if got := s.InstantPerHour(); !almostEqual(got, 3.0, 1e-6) {
		t.Errorf("slope = %v, want 3.0", got)
	}
}

func TestSlopeTrackerHoldsThroughQuantizationNoise(t *testing.T) {
	var s SlopeTracker
	base := time.Date(2024, 1, 15, 6, 0, 0, 0, time.UTC)

	s.Observe(base, 20.0)
	s.Observe(base.Add(time.Minute), 20.05)
	want := s.InstantPerHour()

	// Sub-epsilon change keeps the previous slope.
	s.Observe(base.Add(2*time.Minute), 20.0504)
	if got := s.InstantPerHour(); got != want {
		t.Errorf("slope = %v, want held at %v", got, want)
	}
}

func TestSlopeTrackerHourlySlope(t *testing.T) {
	var s SlopeTracker
	base := time.Date(2024, 1, 15, 6, 0, 0, 0, time.UTC)

	// Steady -1°C/h for 90 minutes; the rolling slope uses the one-hour
	// reference point.
	for i := 0; i <= 90; i++ {
		ts := base.Add(time.Duration(i) * time.Minute)
		s.Observe(ts, 21.0-float64(i)/60.0)
	}
	if got := s.HourlyPerHour(); !almostEqual(got, -1.0, 0.05) {
		t.Errorf("hourly slope = %v, want -1.0", got)
	}
}

func TestSlopeTrackerPrunesHistory(t *testing.T) {
	var s SlopeTracker
	base := time.Date(2024, 1, 15, 6, 0, 0, 0, time.UTC)

	for i := 0; i <= 300; i++ {
		s.Observe(base.Add(time.Duration(i)*time.Minute), 20.0)
	}
	oldest := s.history[0].ts
	if s.LastMeasurement().Sub(oldest) > hourlyHistoryBuffer {
		t.Errorf("history retains samples older than the buffer: %v", s.LastMeasurement().Sub(oldest))
	}
}

func TestSlopeTrackerPrevTemp(t *testing.T) {
	var s SlopeTracker
	base := time.Date(2024, 1, 15, 6, 0, 0, 0, time.UTC)

	s.Observe(base, 20.0)
	if s.PrevTemp() != nil {
		t.Error("prev temp should be nil after one sample")
	}
	s.Observe(base.Add(time.Minute), 19.9)
	if got := s.PrevTemp(); got == nil || *got != 20.0 {
		t.Errorf("prev temp = %v, want 20.0", got)
	}
}

func almostEqual(a, b, tolerance float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= tolerance
}
