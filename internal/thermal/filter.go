package thermal

import "math"

// halfLifeToAlpha converts an EMA half-life to the per-sample smoothing
// factor for samples dt seconds apart.
func halfLifeToAlpha(halfLifeS, dtS float64) float64 {
	if halfLifeS <= 0 {
		return 1.0
	}
	return 1.0 - math.Exp(-math.Ln2*dtS/halfLifeS)
}

// UpdateOutdoor feeds a new outdoor temperature sample into the filter. The
// first sample initializes both the filtered value and the solver's reference
// operating point without smoothing.
func (c *Controller) UpdateOutdoor(tempOut float64) {
	if c.emaOutdoor == nil {
		v, ref := tempOut, tempOut
		c.emaOutdoor = &v
		c.refOutdoor = &ref
		return
	}
	*c.emaOutdoor = (1.0-c.emaAlpha)*(*c.emaOutdoor) + c.emaAlpha*tempOut
}

// Outdoor returns the filtered outdoor temperature, or fallback before the
// first sample.
func (c *Controller) Outdoor(fallback float64) float64 {
	if c.emaOutdoor == nil {
		return fallback
	}
	return *c.emaOutdoor
}
