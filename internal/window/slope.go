package window

import "time"

const (
	// slopeChangeEpsilon is the minimum °C change treated as a new slope
	// sample; smaller deltas keep the previous slope to ride out sensor
	// quantization.
	slopeChangeEpsilon = 0.001

	hourlySlopeWindow   = 3600 * time.Second
	hourlyHistoryBuffer = 4200 * time.Second
)

type sample struct {
	ts   time.Time
	temp float64
}

// SlopeTracker derives instantaneous and rolling hourly temperature slopes
// from raw sensor samples. Owned by one zone; not safe for concurrent use.
type SlopeTracker struct {
	lastTS    time.Time
	lastTemp  *float64
	prevTemp  *float64
	rawSlope  float64 // °C/s
	hourly    float64 // °C/h
	history   []sample
}

// Observe feeds one temperature measurement stamped at ts.
func (s *SlopeTracker) Observe(ts time.Time, temp float64) {
	dt := ts.Sub(s.lastTS).Seconds()
	if s.lastTS.IsZero() || dt <= 0 {
		dt = 1e-6
	}

	if s.lastTemp != nil {
		delta := temp - *s.lastTemp
		if delta >= slopeChangeEpsilon || delta <= -slopeChangeEpsilon {
			s.rawSlope = delta / dt
		}
	}

	s.prevTemp = s.lastTemp
	v := temp
	s.lastTemp = &v
	s.lastTS = ts
	s.updateHourly(ts, temp)
}

func (s *SlopeTracker) updateHourly(ts time.Time, temp float64) {
	if n := len(s.history); n > 0 && !ts.After(s.history[n-1].ts) {
		s.history[n-1] = sample{ts: ts, temp: temp}
	} else {
		s.history = append(s.history, sample{ts: ts, temp: temp})
	}

	pruneBefore := ts.Add(-hourlyHistoryBuffer)
	i := 0
	for i < len(s.history) && s.history[i].ts.Before(pruneBefore) {
		i++
	}
	s.history = s.history[i:]

	if len(s.history) == 0 {
		s.hourly = 0
		return
	}

	cutoff := ts.Add(-hourlySlopeWindow)
	ref := s.history[0]
	for _, h := range s.history {
		if !h.ts.Before(cutoff) {
			ref = h
			break
		}
	}

	dt := ts.Sub(ref.ts).Seconds()
	if dt <= 0 {
		s.hourly = 0
		return
	}
	s.hourly = (temp - ref.temp) / dt * 3600.0
}

// InstantPerHour is the latest sample-to-sample slope in °C/h.
func (s *SlopeTracker) InstantPerHour() float64 { return s.rawSlope * 3600.0 }

// HourlyPerHour is the rolling one-hour slope in °C/h; diagnostics only.
func (s *SlopeTracker) HourlyPerHour() float64 { return s.hourly }

// LastMeasurement returns the timestamp of the newest sample, or zero before
// the first one.
func (s *SlopeTracker) LastMeasurement() time.Time { return s.lastTS }

// LastTemp returns the newest observed temperature.
func (s *SlopeTracker) LastTemp() *float64 { return s.lastTemp }

// PrevTemp returns the temperature before the newest sample; the window
// detector prefers it as a candidate baseline so the triggering drop itself
// is counted.
func (s *SlopeTracker) PrevTemp() *float64 { return s.prevTemp }
