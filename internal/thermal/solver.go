package thermal

import (
	"math"
	"time"
)

const (
	solverIterations   = 40
	solverResidual     = 1e-3 // °C
	bracketGrowth      = 1.6
	bracketAttempts    = 8
	holdPWMIterations  = 30
	minSeedOnS         = 60.0
	coldSeedFloorS     = 120.0
	coldSeedPerDegreeS = 8 * 60.0
)

// ProposeOnTime inverts the model: it returns the ON duration whose predicted
// residual peak hits target, found by bisection over [0, MaxOnTime]. The
// bracket is warm-started from the last good solution scaled by the ratio of
// the current to the previous (target - outdoor) deltas. Returns 0 when the
// model already predicts overshoot at zero duration. Side effect: records the
// solution and the outdoor operating point for the next warm start.
func (c *Controller) ProposeOnTime(tempIn, target float64) time.Duration {
	maxOnS := MaxOnTime.Seconds()
	tempOut := c.Outdoor(0)

	deltaTarget := math.Max(0, target-tempOut)
	var tauLow, tauHigh float64
	if c.lastGoodOn != nil && c.refOutdoor != nil {
		deltaRef := math.Max(0, target-*c.refOutdoor)
		scale := 1.0
		if deltaRef > 1e-6 {
			scale = deltaTarget / deltaRef
		}
		tauHigh = clip(*c.lastGoodOn*clip(scale*1.5, 0.25, 4.0), minSeedOnS, maxOnS)
	} else {
		tauHigh = clip(coldSeedPerDegreeS*(deltaTarget/math.Max(0.5, 1.0)), coldSeedFloorS, maxOnS)
	}

	residual := func(tau float64) float64 {
		return c.params.predictedPeak(tempIn, tau) - target
	}

	fLow := residual(tauLow)
	fHigh := residual(tauHigh)
	for attempts := 0; fHigh < 0 && tauHigh < maxOnS && attempts < bracketAttempts; attempts++ {
		tauHigh *= bracketGrowth
		fHigh = residual(tauHigh)
	}

	if fLow > 0 {
		// Already overshooting with no heat at all.
		return 0
	}

	for i := 0; i < solverIterations; i++ {
		mid := 0.5 * (tauLow + tauHigh)
		fMid := residual(mid)
		if math.Abs(fMid) < solverResidual {
			tauHigh = mid
			break
		}
		if fMid > 0 {
			tauHigh = mid
		} else {
			tauLow = mid
		}
	}

	tauOn := clip(tauHigh, 0, maxOnS)
	c.lastGoodOn = &tauOn
	if c.emaOutdoor != nil {
		ref := *c.emaOutdoor
		c.refOutdoor = &ref
	}
	return secondsToDuration(tauOn)
}

// HoldPWM returns the (on, off) split of one PWM window for hold mode: duty
// sized from the steady-state gain, then trimmed by bisection so the predicted
// peak stays inside the upper deadband.
func (c *Controller) HoldPWM(tempIn, target float64) (time.Duration, time.Duration) {
	tempOut := c.Outdoor(0)

	if tempIn >= target+c.deadband {
		return 0, secondsToDuration(math.Max(c.minOff, c.window))
	}

	if tempIn <= target-c.deadband {
		duty := clip((target-tempOut)/math.Max(1e-6, c.params.K), 0, 1)
		tOn := clip(duty*c.window, c.minOn, c.window-c.minOff)

		overshoot := func(tau float64) float64 {
			return c.params.predictedPeak(tempIn, tau) - (target + c.deadband)
		}
		if overshoot(tOn) > 0 {
			low, high := 0.0, tOn
			for i := 0; i < holdPWMIterations; i++ {
				mid := 0.5 * (low + high)
				if overshoot(mid) > 0 {
					high = mid
				} else {
					low = mid
				}
			}
			tOn = clip(high, 0, tOn)
		}

		tOn = math.Floor(tOn)
		return secondsToDuration(tOn), secondsToDuration(c.window - tOn)
	}

	// Inside the deadband: coast.
	return 0, secondsToDuration(c.window)
}
