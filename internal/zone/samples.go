package zone

import "time"

// sampleRetention bounds the in-memory training sample window.
const sampleRetention = 6 * time.Hour

// Sample is one raw sensor observation kept for calibration.
type Sample struct {
	TS       time.Time
	Temp     float64
	Outdoor  *float64
	HeaterOn bool
}

// sampleBuffer is an append-only window of recent samples. Owned by one zone
// under its lock.
type sampleBuffer struct {
	samples []Sample
}

func (b *sampleBuffer) add(s Sample) {
	b.samples = append(b.samples, s)
	cutoff := s.TS.Add(-sampleRetention)
	i := 0
	for i < len(b.samples) && b.samples[i].TS.Before(cutoff) {
		i++
	}
	if i > 0 {
		b.samples = append(b.samples[:0], b.samples[i:]...)
	}
}

// purgeSince drops every sample at or after ts. Used when a window opening
// poisons the trailing data.
func (b *sampleBuffer) purgeSince(ts time.Time) {
	n := 0
	for _, s := range b.samples {
		if s.TS.Before(ts) {
			b.samples[n] = s
			n++
		}
	}
	b.samples = b.samples[:n]
}

func (b *sampleBuffer) len() int { return len(b.samples) }

// since returns the samples at or after ts, oldest first.
func (b *sampleBuffer) since(ts time.Time) []Sample {
	var out []Sample
	for _, s := range b.samples {
		if !s.TS.Before(ts) {
			out = append(out, s)
		}
	}
	return out
}
