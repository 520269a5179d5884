package thermal

import (
	"math"
	"time"
)

const (
	maxTauThS    = 6 * 3600.0
	minRatio     = 0.25
	maxRatio     = 3.5
	minGain      = 0.2
	maxGain      = 20.0
	ratioHighBand = 1.05
	ratioLowBand  = 0.95
)

// CycleResult is one observed heating burst, from ignition to the post-off
// peak.
type CycleResult struct {
	StartTemp  float64
	PeakTemp   float64
	OnDuration time.Duration
	Target     float64

	// CutTemp is the temperature at shutoff, when observed.
	CutTemp *float64
	// TailPeakDelay is the observed time between shutoff and the peak; zero
	// means unobserved.
	TailPeakDelay time.Duration
}

// Diagnostics reports how a cycle compared against the model's prediction.
// Informational only; no control decision reads it.
type Diagnostics struct {
	PredictedPeak      float64
	ActualPeak         float64
	StartTemp          float64
	TargetTemp         float64
	OnDuration         time.Duration
	Ratio              float64
	Overshoot          float64
	Undershoot         float64
	PredictedOvershoot float64
	PredictedTailDelta float64
	PredictedTailDelay time.Duration
	ObservedTailDelay  time.Duration
	ActualOnDelta      *float64
}

// RegisterCycleResult corrects the model from an observed cycle: the ratio of
// actual to predicted rise rescales K through a learning-rate blend, an
// observed tail delay rescales both time constants, and the next solver seed
// is nudged inversely to the ratio. Numerically degenerate input (near-zero
// predicted rise) yields no update rather than an error.
func (c *Controller) RegisterCycleResult(res CycleResult) (Diagnostics, bool) {
	tauOn := math.Max(0, res.OnDuration.Seconds())
	if tauOn <= 0 {
		return Diagnostics{}, false
	}

	predictedPeak := c.params.predictedPeak(res.StartTemp, tauOn)
	predictedDelta := math.Max(0, predictedPeak-res.StartTemp)
	if predictedDelta <= 1e-6 {
		return Diagnostics{}, false
	}

	actualDelta := math.Max(0, res.PeakTemp-res.StartTemp)
	ratio := clip(actualDelta/predictedDelta, minRatio, maxRatio)
	lr := clip(c.learnRate, 0, 1)
	desiredK := clip(c.params.K*ratio, minGain, maxGain)

	actualOvershoot := math.Max(0, res.PeakTemp-res.Target)
	predictedOvershoot := math.Max(0, predictedPeak-res.Target)
	predictedTailDelta := math.Max(0, c.params.deltaTailPeak(tauOn))
	predictedTailDelay := math.Max(1e-3, c.params.timeToPeak())

	var actualOnDelta *float64
	if res.CutTemp != nil {
		d := math.Max(0, *res.CutTemp-res.StartTemp)
		actualOnDelta = &d
	}

	tauLR := math.Min(0.25, 0.5*lr)
	newTauR := c.params.TauR
	newTauTh := c.params.TauTh

	if observed := res.TailPeakDelay.Seconds(); observed > 0 {
		delayRatio := clip(observed/predictedTailDelay, 0.25, 3.0)
		tauThTarget := clip(c.params.TauTh*delayRatio, c.params.TauR+2, maxTauThS)
		tauRTarget := clip(c.params.TauR*delayRatio, 60, tauThTarget-1)
		newTauR = (1-tauLR)*newTauR + tauLR*tauRTarget
		newTauTh = (1-tauLR)*newTauTh + tauLR*tauThTarget
	}

	if predictedTailDelta > 1e-6 && actualOvershoot > 0 {
		overshootRatio := clip(actualOvershoot/math.Max(predictedTailDelta, 1e-6), 0.25, 3.0)
		blend := math.Min(0.2, 0.4*lr+0.05)
		tauThTarget := clip(newTauTh*overshootRatio, newTauR+2, maxTauThS)
		newTauTh = (1-blend)*newTauTh + blend*tauThTarget
		newTauR = math.Min(newTauR, newTauTh-1)
	}

	newParams := Params{
		TauR:  newTauR,
		TauTh: newTauTh,
		K:     (1-lr)*c.params.K + lr*desiredK,
		P:     c.params.P,
	}
	changed := math.Abs(newParams.K-c.params.K) > 1e-6 ||
		math.Abs(newParams.TauR-c.params.TauR) > 1e-3 ||
		math.Abs(newParams.TauTh-c.params.TauTh) > 1e-3
	if changed && finiteParams(newParams) {
		c.params = newParams
		c.applyAdaptiveTimings()
	}

	// Move the solver seed toward the true optimum for the next warm start.
	var seed float64
	switch {
	case ratio > ratioHighBand:
		shrink := clip(1.0/ratio, 0.3, 1.0)
		seed = math.Max(c.minOn, tauOn*shrink)
	case ratio < ratioLowBand:
		boost := clip(1.0/math.Max(ratio, 1e-3), 1.0, 3.0)
		seed = clip(tauOn*boost, c.minOn, MaxOnTime.Seconds())
	default:
		seed = tauOn
	}
	c.lastGoodOn = &seed

	return Diagnostics{
		PredictedPeak:      predictedPeak,
		ActualPeak:         res.PeakTemp,
		StartTemp:          res.StartTemp,
		TargetTemp:         res.Target,
		OnDuration:         res.OnDuration,
		Ratio:              ratio,
		Overshoot:          actualOvershoot,
		Undershoot:         math.Max(0, res.Target-res.PeakTemp),
		PredictedOvershoot: predictedOvershoot,
		PredictedTailDelta: predictedTailDelta,
		PredictedTailDelay: secondsToDuration(predictedTailDelay),
		ObservedTailDelay:  res.TailPeakDelay,
		ActualOnDelta:      actualOnDelta,
	}, true
}

// DecaySample is one off-period observation used by cold-start calibration.
type DecaySample struct {
	Elapsed     time.Duration
	RoomTemp    float64
	OutdoorTemp float64
}

// ColdStartCycle captures an early, typically overshooting, heating cycle
// with enough context to regress the model from scratch.
type ColdStartCycle struct {
	StartTemp  float64
	CutTemp    float64
	PeakTemp   float64
	OnDuration time.Duration
	TimeToPeak time.Duration // delay between cut and observed peak

	OutdoorSamples []float64
	OffDecay       []DecaySample
}

// ColdStartCalibrate regresses the room time constant from the off-period
// decay via log-linear least squares, solves the radiator time constant from
// the observed time-to-peak, derives K from the total rise, then blends the
// estimate into the running parameters at the configured learning rate.
func (c *Controller) ColdStartCalibrate(obs ColdStartCycle) Params {
	old := c.params

	var tauThEst float64
	if len(obs.OffDecay) >= 3 {
		var n, sx, sy, sxx, sxy float64
		for _, s := range obs.OffDecay {
			theta := math.Max(1e-6, s.RoomTemp-s.OutdoorTemp)
			x := s.Elapsed.Seconds()
			y := math.Log(theta)
			n++
			sx += x
			sy += y
			sxx += x * x
			sxy += x * y
		}
		denom := n*sxx - sx*sx
		if math.Abs(denom) > 1e-9 {
			slope := (n*sxy - sx*sy) / denom
			if slope < 0 {
				tauThEst = -1.0 / math.Min(-1e-6, slope)
			}
		}
	}

	tauTh := old.TauTh
	if tauThEst > 60 {
		tauTh = tauThEst
	}

	// Solve x = tau_r/tau_th from the time-to-peak closed form.
	tPeakObserved := obs.TimeToPeak.Seconds()
	ratioResidual := func(x float64) float64 {
		if x <= 0 || x >= 1 {
			return 1e9
		}
		return tauTh*(x/(1-x))*math.Log(1.0/x) - tPeakObserved
	}
	low, high := 1e-3, 0.99
	for i := 0; i < 60; i++ {
		mid := 0.5 * (low + high)
		if ratioResidual(mid) > 0 {
			high = mid
		} else {
			low = mid
		}
	}
	tauR := clip(high*tauTh, 10, tauTh-1)

	// Unit-gain response of the fitted lags; K scales it to the observed rise.
	unit := Params{TauR: tauR, TauTh: tauTh, K: 1, P: old.P}
	denomGain := unit.deltaOn(obs.OnDuration.Seconds()) + unit.deltaTailPeak(obs.OnDuration.Seconds())
	kEst := old.K
	if denomGain >= 1e-6 {
		kEst = clip((obs.PeakTemp-obs.StartTemp)/denomGain, 0.1, 15)
	}

	if len(obs.OutdoorSamples) > 0 {
		var sum float64
		for _, v := range obs.OutdoorSamples {
			sum += v
		}
		avg := sum / float64(len(obs.OutdoorSamples))
		c.refOutdoor = &avg
	}

	lr := clip(c.learnRate, 0, 1)
	newParams := Params{
		TauR:  (1-lr)*old.TauR + lr*tauR,
		TauTh: (1-lr)*old.TauTh + lr*tauTh,
		K:     (1-lr)*old.K + lr*kEst,
		P:     old.P,
	}
	newParams.TauR = clip(newParams.TauR, 60, newParams.TauTh-1)
	newParams.TauTh = clip(newParams.TauTh, newParams.TauR+1, maxTauThS)
	newParams.K = clip(newParams.K, minGain, maxGain)

	if finiteParams(newParams) {
		c.params = newParams
		c.applyAdaptiveTimings()
	}
	return c.params
}

func finiteParams(p Params) bool {
	for _, v := range []float64{p.TauR, p.TauTh, p.K, p.P} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
