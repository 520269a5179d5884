package thermal

import "math"

// Params holds the grey-box model parameters. The plant is modeled as two
// cascaded first-order lags: the radiator (TauR) drives a heat flow into the
// room (TauTh), with steady-state gain K at 100% duty and a nonlinearity
// exponent P on the residual radiator energy.
type Params struct {
	TauR  float64 `json:"tau_r"`  // seconds, radiator time constant
	TauTh float64 `json:"tau_th"` // seconds, room time constant
	K     float64 `json:"K"`      // °C rise at 100% duty
	P     float64 `json:"p"`      // exponent on residual radiator energy
}

// DefaultParams is the cold-start operating point before any calibration.
var DefaultParams = Params{
	TauR:  12 * 60,
	TauTh: 35 * 60,
	K:     2.0,
	P:     1.0,
}

func (p Params) Validate() error {
	if p.TauR <= 0 || p.TauTh <= p.TauR {
		return ErrInvalidTimeConstants
	}
	if p.K <= 0 {
		return ErrInvalidGain
	}
	if p.P < 0 {
		return ErrInvalidExponent
	}
	return nil
}

func clip(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// timeToPeak returns the delay between heat cut and the crest of the residual
// tail. Closed form, independent of the ON duration.
func (p Params) timeToPeak() float64 {
	tauR := math.Max(1e-3, p.TauR)
	tauTh := math.Max(tauR+1e-3, p.TauTh)
	return (tauR * tauTh / (tauTh - tauR)) * math.Log(tauTh/tauR)
}

// deltaOn returns the temperature rise accumulated while the heater is ON for
// tauOn seconds: the two-pole step response scaled by K.
func (p Params) deltaOn(tauOn float64) float64 {
	if tauOn <= 0 {
		return 0
	}
	denom := p.TauTh - p.TauR
	if denom == 0 {
		denom = 1e-6
	}
	term := 1.0 - (p.TauTh*math.Exp(-tauOn/p.TauR)-p.TauR*math.Exp(-tauOn/p.TauTh))/denom
	return p.K * term
}

// deltaTailPeak returns the additional rise after cut, evaluated at the
// residual peak. E_cut is the energy still stored in the radiator at cutoff.
func (p Params) deltaTailPeak(tauOn float64) float64 {
	eCut := 1.0 - math.Exp(-tauOn/math.Max(1e-6, p.TauR))
	tPeak := p.timeToPeak()
	denom := p.TauTh - p.TauR
	if denom == 0 {
		denom = 1e-6
	}
	factor := p.K * math.Pow(eCut, p.P) * (p.TauTh / denom)
	shape := math.Exp(-tPeak/p.TauR) - math.Exp(-tPeak/p.TauTh)
	return factor * shape
}

// predictedPeak returns the absolute peak temperature for a heating burst of
// tauOn seconds starting from startTemp. Monotonically non-decreasing in tauOn.
func (p Params) predictedPeak(startTemp, tauOn float64) float64 {
	return startTemp + p.deltaOn(tauOn) + p.deltaTailPeak(tauOn)
}
