package thermal

import (
	"math"
	"testing"
	"time"
)

func TestRegisterCycleResultRescalesGain(t *testing.T) {
	tests := []struct {
		name       string
		actualRise float64 // relative to predicted rise
		wantGainUp bool
	}{
		{"room warmed more than predicted", 1.5, true},
		{"room warmed less than predicted", 0.5, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := scenarioController(t)
			before := c.CurrentParams()

			onDuration := 10 * time.Minute
			predicted := c.PredictPeak(19.0, onDuration)
			actualPeak := 19.0 + (predicted-19.0)*tt.actualRise

			diag, ok := c.RegisterCycleResult(CycleResult{
				StartTemp:  19.0,
				PeakTemp:   actualPeak,
				OnDuration: onDuration,
				Target:     20.0,
			})
			if !ok {
				t.Fatal("expected an update")
			}
			if !almostEqual(diag.Ratio, tt.actualRise, 1e-6) {
				t.Errorf("ratio = %v, want %v", diag.Ratio, tt.actualRise)
			}

			after := c.CurrentParams()
			if tt.wantGainUp && after.K <= before.K {
				t.Errorf("K = %v, want > %v", after.K, before.K)
			}
			if !tt.wantGainUp && after.K >= before.K {
				t.Errorf("K = %v, want < %v", after.K, before.K)
			}
			if after.TauR >= after.TauTh {
				t.Errorf("time constant order violated: %v >= %v", after.TauR, after.TauTh)
			}
		})
	}
}

func TestRegisterCycleResultClampsRatio(t *testing.T) {
	c := scenarioController(t)
	onDuration := 10 * time.Minute
	predicted := c.PredictPeak(19.0, onDuration)

	diag, ok := c.RegisterCycleResult(CycleResult{
		StartTemp:  19.0,
		PeakTemp:   19.0 + (predicted-19.0)*10, // wildly above prediction
		OnDuration: onDuration,
		Target:     20.0,
	})
	if !ok {
		t.Fatal("expected an update")
	}
	if diag.Ratio != maxRatio {
		t.Errorf("ratio = %v, want clamp at %v", diag.Ratio, maxRatio)
	}
}

func TestRegisterCycleResultDegenerateInput(t *testing.T) {
	c := scenarioController(t)

	if _, ok := c.RegisterCycleResult(CycleResult{StartTemp: 19, PeakTemp: 20}); ok {
		t.Error("zero on duration must not update the model")
	}
	if _, ok := c.RegisterCycleResult(CycleResult{StartTemp: 19, PeakTemp: 20, OnDuration: -time.Minute}); ok {
		t.Error("negative on duration must not update the model")
	}
}

func TestRegisterCycleResultTailDelayRescalesTaus(t *testing.T) {
	c := scenarioController(t)
	before := c.CurrentParams()
	onDuration := 10 * time.Minute
	predicted := c.PredictPeak(19.0, onDuration)

	_, ok := c.RegisterCycleResult(CycleResult{
		StartTemp:     19.0,
		PeakTemp:      predicted,
		OnDuration:    onDuration,
		Target:        20.0,
		TailPeakDelay: 2 * c.ResidualPeakDelay(),
	})
	if !ok {
		t.Fatal("expected an update")
	}

	after := c.CurrentParams()
	if after.TauR <= before.TauR || after.TauTh <= before.TauTh {
		t.Errorf("time constants did not grow: %+v -> %+v", before, after)
	}
	if after.TauR >= after.TauTh {
		t.Errorf("time constant order violated: %v >= %v", after.TauR, after.TauTh)
	}
}

func TestRegisterCycleResultAdjustsSolverSeed(t *testing.T) {
	c := scenarioController(t)
	onDuration := c.ProposeOnTime(19.0, 20.0)
	predicted := c.PredictPeak(19.0, onDuration)

	// Overshot: next seed must shrink below the burst just used.
	_, ok := c.RegisterCycleResult(CycleResult{
		StartTemp:  19.0,
		PeakTemp:   19.0 + (predicted-19.0)*1.5,
		OnDuration: onDuration,
		Target:     20.0,
	})
	if !ok {
		t.Fatal("expected an update")
	}
	state := c.RuntimeState()
	if state.LastGoodOn == nil {
		t.Fatal("last_good_on missing")
	}
	if *state.LastGoodOn >= onDuration.Seconds() {
		t.Errorf("seed = %vs, want < %vs after overshoot", *state.LastGoodOn, onDuration.Seconds())
	}
}

func TestColdStartCalibrateRegressesRoomLag(t *testing.T) {
	trueParams := Params{TauR: 600, TauTh: 3000, K: 3.0, P: 1.0}
	c := testController(t, Config{Target: 20})
	before := c.CurrentParams()

	// Synthesize an exponential off-period decay with the true room lag.
	var decay []DecaySample
	theta0 := 14.0
	for elapsed := 0.0; elapsed <= 3600; elapsed += 300 {
		decay = append(decay, DecaySample{
			Elapsed:     time.Duration(elapsed) * time.Second,
			RoomTemp:    5.0 + theta0*math.Exp(-elapsed/trueParams.TauTh),
			OutdoorTemp: 5.0,
		})
	}

	got := c.ColdStartCalibrate(ColdStartCycle{
		StartTemp:      18.0,
		CutTemp:        19.5,
		PeakTemp:       20.2,
		OnDuration:     15 * time.Minute,
		TimeToPeak:     secondsToDuration(trueParams.timeToPeak()),
		OutdoorSamples: []float64{5.0, 5.2, 4.8},
		OffDecay:       decay,
	})

	if got.TauTh <= before.TauTh {
		t.Errorf("tau_th = %v, want pulled above %v toward %v", got.TauTh, before.TauTh, trueParams.TauTh)
	}
	if got.TauR >= got.TauTh {
		t.Errorf("time constant order violated: %v >= %v", got.TauR, got.TauTh)
	}
	if got.Validate() != nil {
		t.Errorf("calibrated params invalid: %+v", got)
	}

	state := c.RuntimeState()
	if state.RefOutdoor == nil || !almostEqual(*state.RefOutdoor, 5.0, 0.1) {
		t.Errorf("ref_outdoor = %v, want near 5.0", state.RefOutdoor)
	}
}

func TestClosedLoopLearningConverges(t *testing.T) {
	// Model starts with the default gain while the plant is stronger. A few
	// observed cycles must pull K toward the plant's gain.
	truth := Params{TauR: 720, TauTh: 2100, K: 3.5, P: 1.0}
	c := scenarioController(t)
	startK := c.CurrentParams().K

	for cycle := 0; cycle < 6; cycle++ {
		startTemp := 19.0
		tauOn := c.ProposeOnTime(startTemp, 20.0)
		if tauOn <= 0 {
			t.Fatalf("cycle %d: solver returned %v", cycle, tauOn)
		}

		plant, err := NewPlant(truth, startTemp)
		if err != nil {
			t.Fatal(err)
		}
		step := 5 * time.Second
		peak := startTemp
		for elapsed := time.Duration(0); elapsed < tauOn; elapsed += step {
			if temp := plant.Step(step, true); temp > peak {
				peak = temp
			}
		}
		for elapsed := time.Duration(0); elapsed < 2*c.ResidualPeakDelay(); elapsed += step {
			if temp := plant.Step(step, false); temp > peak {
				peak = temp
			}
		}

		c.RegisterCycleResult(CycleResult{
			StartTemp:  startTemp,
			PeakTemp:   peak,
			OnDuration: tauOn,
			Target:     20.0,
		})
	}

	endK := c.CurrentParams().K
	if endK <= startK {
		t.Errorf("K did not move toward the plant gain: %v -> %v (truth %v)", startK, endK, truth.K)
	}
}
