package thermal

import (
	"math"
	"time"
)

const (
	// MaxOnTime caps any single heating burst.
	MaxOnTime = 45 * time.Minute

	defaultDeadband        = 0.1
	defaultLearnRate       = 0.25
	defaultOutdoorHalfLife = 15 * time.Minute
)

// Config parameterizes a zone's thermal controller. Zero values fall back to
// the defaults above; InitParams nil means DefaultParams.
type Config struct {
	Target          float64
	Deadband        float64
	OutdoorHalfLife time.Duration
	LearnRate       float64
	InitParams      *Params
}

// Controller is the self-calibrating grey-box controller for one zone. It is
// not safe for concurrent use; the zone serializes access on its own lock.
type Controller struct {
	target    float64
	deadband  float64
	learnRate float64

	params Params

	// Adaptive timings derived from params, in seconds.
	minOn  float64
	minOff float64
	window float64

	emaAlpha   float64
	emaOutdoor *float64
	refOutdoor *float64
	lastGoodOn *float64
}

func NewController(cfg Config) (*Controller, error) {
	if cfg.Deadband < 0 {
		return nil, ErrInvalidDeadband
	}
	if cfg.LearnRate < 0 || cfg.LearnRate > 1 {
		return nil, ErrInvalidLearnRate
	}
	params := DefaultParams
	if cfg.InitParams != nil {
		params = *cfg.InitParams
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	deadband := cfg.Deadband
	if deadband == 0 {
		deadband = defaultDeadband
	}
	learnRate := cfg.LearnRate
	if learnRate == 0 {
		learnRate = defaultLearnRate
	}
	halfLife := cfg.OutdoorHalfLife
	if halfLife <= 0 {
		halfLife = defaultOutdoorHalfLife
	}

	c := &Controller{
		target:    cfg.Target,
		deadband:  deadband,
		learnRate: learnRate,
		params:    params,
		emaAlpha:  halfLifeToAlpha(halfLife.Seconds(), 1.0),
	}
	c.applyAdaptiveTimings()
	return c, nil
}

func (c *Controller) Target() float64      { return c.target }
func (c *Controller) SetTarget(t float64)  { c.target = t }
func (c *Controller) Deadband() float64    { return c.deadband }
func (c *Controller) CurrentParams() Params { return c.params }

// SetParams replaces the model parameters and re-derives the timing guards.
func (c *Controller) SetParams(p Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	c.params = p
	c.applyAdaptiveTimings()
	return nil
}

// MinOn is the shortest burst worth firing the radiator for.
func (c *Controller) MinOn() time.Duration { return secondsToDuration(c.minOn) }

// MinOff is the rest period between bursts.
func (c *Controller) MinOff() time.Duration { return secondsToDuration(c.minOff) }

// Window is the hold-mode PWM period.
func (c *Controller) Window() time.Duration { return secondsToDuration(c.window) }

// ResidualPeakDelay is the time between heater off and the crest of the
// residual tail.
func (c *Controller) ResidualPeakDelay() time.Duration {
	return secondsToDuration(math.Max(0, c.params.timeToPeak()))
}

// PredictPeak returns the model's peak temperature for a burst of the given
// length starting at startTemp.
func (c *Controller) PredictPeak(startTemp float64, on time.Duration) float64 {
	return c.params.predictedPeak(startTemp, on.Seconds())
}

// applyAdaptiveTimings derives min on/off times and the PWM window from the
// current parameters: a burst shorter than a quarter radiator lag barely moves
// heat, and the window must fit one on/off pair.
func (c *Controller) applyAdaptiveTimings() {
	minOn := clip(c.params.TauR*0.25, 60, c.params.TauR*0.85)
	minOff := clip(c.params.TauTh*0.2, minOn, c.params.TauTh)
	window := clip(c.params.TauTh*1.1, 480, 5400)
	window = math.Max(window, minOn+minOff+30)

	c.minOn = math.Floor(minOn)
	c.minOff = math.Floor(minOff)
	c.window = math.Floor(window)
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
