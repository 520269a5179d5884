package thermal

// RuntimeState is the JSON-serializable snapshot of the learned model and the
// solver's warm-start operating point.
type RuntimeState struct {
	Params     Params   `json:"params"`
	EMAOutdoor *float64 `json:"ema_outdoor"`
	RefOutdoor *float64 `json:"ref_outdoor"`
	LastGoodOn *float64 `json:"last_good_on"` // seconds
}

func (c *Controller) RuntimeState() RuntimeState {
	return RuntimeState{
		Params:     c.params,
		EMAOutdoor: copyFloat(c.emaOutdoor),
		RefOutdoor: copyFloat(c.refOutdoor),
		LastGoodOn: copyFloat(c.lastGoodOn),
	}
}

// RestoreRuntimeState applies a persisted snapshot. Invalid or non-finite
// parameters are skipped, keeping the current ones.
func (c *Controller) RestoreRuntimeState(s RuntimeState) {
	if s.Params.Validate() == nil && finiteParams(s.Params) {
		c.params = s.Params
		c.applyAdaptiveTimings()
	}
	c.emaOutdoor = copyFloat(s.EMAOutdoor)
	c.refOutdoor = copyFloat(s.RefOutdoor)
	c.lastGoodOn = copyFloat(s.LastGoodOn)
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
