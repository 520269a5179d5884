package thermal

import "time"

// Plant is a two-lag zone simulator used by tests and the solver sweep
// script. It integrates the same structural model the controller assumes:
// radiator energy chases the duty input with TauR, the room rise above its
// resting temperature chases K times the radiator energy with TauTh.
type Plant struct {
	params   Params
	baseTemp float64

	radiator float64 // 0..1, stored radiator energy
	rise     float64 // °C above baseTemp
}

func NewPlant(params Params, startTemp float64) (*Plant, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Plant{params: params, baseTemp: startTemp}, nil
}

// Step advances the plant by dt with the heater on or off and returns the new
// room temperature. Forward Euler; callers keep dt well under TauR.
func (p *Plant) Step(dt time.Duration, heaterOn bool) float64 {
	dtS := dt.Seconds()
	u := 0.0
	if heaterOn {
		u = 1.0
	}
	p.radiator += (u - p.radiator) / p.params.TauR * dtS
	p.rise += (p.params.K*p.radiator - p.rise) / p.params.TauTh * dtS
	return p.Temperature()
}

func (p *Plant) Temperature() float64 {
	return p.baseTemp + p.rise
}
