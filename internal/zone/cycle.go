package zone

import (
	"time"

	"github.com/google/uuid"
)

const (
	// coolingConfirmation is how long the temperature must fall after the
	// heater went off before the peak is considered passed.
	coolingConfirmation = 60 * time.Second
	// evalTimeoutFloor bounds how long a cycle evaluation may wait for a
	// peak.
	evalTimeoutFloor = 180 * time.Second
	// runHistorySize bounds the in-memory cycle log.
	runHistorySize = 64
)

// activeCycle tracks a heater-on phase from ignition to cutoff.
type activeCycle struct {
	id        string
	startTS   time.Time
	startTemp float64
	target    float64
	plannedOn time.Duration
}

func newActiveCycle(now time.Time, startTemp, target float64, plannedOn time.Duration) *activeCycle {
	return &activeCycle{
		id:        uuid.NewString(),
		startTS:   now,
		startTemp: startTemp,
		target:    target,
		plannedOn: plannedOn,
	}
}

// pendingEval follows the room after cutoff until the thermal peak is found
// or the wait times out.
type pendingEval struct {
	id         string
	startTS    time.Time
	startTemp  float64
	target     float64
	offTS      time.Time
	cutTemp    float64
	onDuration time.Duration

	peakTemp     float64
	peakTS       time.Time
	coolingSince time.Time
}

func (c *activeCycle) cutoff(now time.Time, cutTemp float64) *pendingEval {
	return &pendingEval{
		id:         c.id,
		startTS:    c.startTS,
		startTemp:  c.startTemp,
		target:     c.target,
		offTS:      now,
		cutTemp:    cutTemp,
		onDuration: now.Sub(c.startTS),
		peakTemp:   cutTemp,
		peakTS:     now,
	}
}

// observe feeds one post-cutoff temperature and returns a finalize reason
// once the peak is settled, or "" to keep waiting.
func (e *pendingEval) observe(now time.Time, temp float64, target, deadband float64) string {
	if temp > e.peakTemp {
		e.peakTemp = temp
		e.peakTS = now
		e.coolingSince = time.Time{}
	} else if temp < e.peakTemp {
		if e.coolingSince.IsZero() {
			e.coolingSince = now
		} else if now.Sub(e.coolingSince) >= coolingConfirmation {
			return "peak"
		}
	}

	if temp < target-deadband && now.Sub(e.offTS) >= coolingConfirmation {
		return "below_target"
	}

	timeout := evalTimeoutFloor
	if e.onDuration > timeout {
		timeout = e.onDuration
	}
	if now.Sub(e.offTS) >= timeout {
		return "timeout"
	}
	return ""
}

// runHistory is a bounded FIFO of finished cycles.
type runHistory struct {
	records []RunRecord
}

func (h *runHistory) add(r RunRecord) {
	h.records = append(h.records, r)
	if len(h.records) > runHistorySize {
		h.records = append(h.records[:0], h.records[len(h.records)-runHistorySize:]...)
	}
}

// list returns newest first.
func (h *runHistory) list() []RunRecord {
	out := make([]RunRecord, len(h.records))
	for i, r := range h.records {
		out[len(h.records)-1-i] = r
	}
	return out
}
