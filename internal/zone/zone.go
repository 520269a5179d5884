// Package zone runs the predictive heating control loop for one room: it
// turns sensor samples into solver-sized heater pulses, follows each pulse to
// its thermal peak so the model can learn, and gates everything behind the
// window detector.
package zone

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adaptiveheat/zoneheat/internal/actuator"
	"github.com/adaptiveheat/zoneheat/internal/central"
	"github.com/adaptiveheat/zoneheat/internal/observability"
	"github.com/adaptiveheat/zoneheat/internal/scheduler"
	"github.com/adaptiveheat/zoneheat/internal/thermal"
	"github.com/adaptiveheat/zoneheat/internal/window"
)

const (
	// ControlTick is the cadence the host should call Tick at.
	ControlTick = 30 * time.Second

	// recoveryBuffer quiesces learning and heating after a confirmed window
	// event, and bounds how much trailing data a window opening poisons.
	recoveryBuffer = 600 * time.Second

	postWindowDampenCycles = 1
	postWindowDampenScale  = 0.6

	// autoHysteresis is the minimum gap between the auto-on and auto-off
	// outdoor thresholds.
	autoHysteresis = 0.5

	minTargetTemp = 5.0
	maxTargetTemp = 30.0

	// calibration needs this much clean decay data before it will run.
	calibrationMinSamples = 5
	calibrationMinSpan    = 300 * time.Second
)

// SensorSource supplies the zone's inputs. The ok result is false while a
// reading is unavailable; the zone degrades rather than errors.
type SensorSource interface {
	Temperature() (value float64, measuredAt time.Time, ok bool)
	Humidity() (float64, bool)
	Outdoor() (float64, bool)
	DoorWindowOpen() (bool, bool)
}

// Scheduler defers the planned heater-off and the persistence flush.
type Scheduler interface {
	ScheduleOnce(delay time.Duration, fn func()) scheduler.Token
}

// StateStore persists zone snapshots across restarts. Load returns (nil, nil)
// for a key never saved.
type StateStore interface {
	Load(key string) ([]byte, error)
	Save(key string, data []byte) error
}

// Config describes one zone.
type Config struct {
	ID   string
	Name string

	Valves  []actuator.Target
	Central central.Config

	Thermal thermal.Config

	WindowDetection bool
	Window          window.Config

	Presets Presets

	// AutoOnOff switches the mode from the smoothed outdoor temperature:
	// heat below AutoOnBelow, off at or above AutoOffAbove. A manual mode
	// change suspends it until the next preset selection.
	AutoOnOff    bool
	AutoOnBelow  float64
	AutoOffAbove float64

	InitialMode HVACMode
}

// Deps are the runtime collaborators of a zone.
type Deps struct {
	Sensors   SensorSource
	Scheduler Scheduler
	Commander central.Commander
	Directory central.Directory
	Store     StateStore
	Metrics   *observability.Metrics
	Logger    *slog.Logger
}

// Controller is one zone's state machine. All mutable state sits behind mu;
// Status copies it out. WantsHeat is atomic so sibling zones can read it
// without touching the lock.
type Controller struct {
	cfg     Config
	log     *slog.Logger
	sensors SensorSource
	sched   Scheduler
	store   StateStore
	metrics *observability.Metrics

	thermal  *thermal.Controller
	detector *window.Detector
	coord    *central.Coordinator

	nowFn func() time.Time

	mu    sync.Mutex
	slope window.SlopeTracker

	mode           HVACMode
	preset         string
	manualOverride bool

	heaterOn        bool
	wantsHeat       atomic.Bool
	lastCommandTS   time.Time
	plannedOffAt    *time.Time
	plannedOn       time.Duration
	plannedOffToken scheduler.Token

	currentTemp *float64
	humidity    *float64
	outdoor     *float64

	dataReenableAt  *time.Time
	heatReenableAt  *time.Time
	dampenRemaining int

	cycle        *activeCycle
	eval         *pendingEval
	lastFinished *pendingEval
	lastDiag     *CycleDiagnostics
	history      runHistory
	samples      sampleBuffer

	dirty     bool
	saveToken scheduler.Token
	stopped   bool
}

func New(cfg Config, deps Deps) (*Controller, error) {
	if cfg.ID == "" {
		return nil, ErrInvalidZoneID
	}
	if deps.Sensors == nil {
		return nil, ErrMissingSensors
	}
	if deps.Scheduler == nil {
		return nil, ErrMissingScheduler
	}
	if cfg.AutoOnOff && cfg.AutoOffAbove < cfg.AutoOnBelow+autoHysteresis {
		return nil, ErrInvalidAutoOnOff
	}

	th, err := thermal.NewController(cfg.Thermal)
	if err != nil {
		return nil, err
	}

	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("zone", cfg.ID)

	c := &Controller{
		cfg:      cfg,
		log:      log,
		sensors:  deps.Sensors,
		sched:    deps.Scheduler,
		store:    deps.Store,
		metrics:  deps.Metrics,
		thermal:  th,
		detector: window.NewDetector(cfg.Window),
		nowFn:    time.Now,
		mode:     ModeHeat,
	}
	if cfg.InitialMode.Valid() {
		c.mode = cfg.InitialMode
	}

	c.coord = central.NewCoordinator(cfg.ID, cfg.Valves, cfg.Central,
		deps.Commander, deps.Scheduler, deps.Directory,
		c.wantsHeat.Load, log)

	wasHeating := c.restore()
	if wasHeating {
		// A snapshot never resumes an open valve: command everything off
		// and let the next tick re-decide from scratch.
		c.log.Info("snapshot had the heater on, forcing actuators off")
		c.coord.ZoneOff()
	}
	c.metrics.SetTarget(cfg.ID, c.thermal.Target())

	return c, nil
}

func (c *Controller) ID() string   { return c.cfg.ID }
func (c *Controller) Name() string { return c.cfg.Name }

// CentralHeaterID is empty for a standalone zone. Immutable.
func (c *Controller) CentralHeaterID() string { return c.cfg.Central.Heater.ID }

// WantsHeat reports whether the zone currently calls for heat. Lock-free so
// the coordinator of a sibling zone can read it mid-transition.
func (c *Controller) WantsHeat() bool { return c.wantsHeat.Load() }

// Tick runs one control pass. The host calls it every ControlTick.
func (c *Controller) Tick(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}

	c.readSensorsLocked(now)
	c.runWindowDetectionLocked(now)
	c.expireRecoveryLocked(now)
	c.autoOnOffLocked(now)

	if c.mode != ModeHeat {
		if c.heaterOn {
			c.turnHeaterOffLocked(now, "mode off")
		}
		return
	}
	if c.currentTemp == nil {
		return
	}
	c.controlHeatingLocked(now, *c.currentTemp)
}

func (c *Controller) readSensorsLocked(now time.Time) {
	if temp, measuredAt, ok := c.sensors.Temperature(); ok {
		v := temp
		c.currentTemp = &v
		if measuredAt.IsZero() {
			measuredAt = now
		}
		c.slope.Observe(measuredAt, temp)
		c.metrics.SetTemperature(c.cfg.ID, temp)

		clean := !c.detector.Open() &&
			(c.dataReenableAt == nil || !now.Before(*c.dataReenableAt))
		if clean {
			c.samples.add(Sample{TS: measuredAt, Temp: temp, Outdoor: c.outdoor, HeaterOn: c.heaterOn})
		}
	}

	if h, ok := c.sensors.Humidity(); ok {
		v := h
		c.humidity = &v
	}

	if out, ok := c.sensors.Outdoor(); ok {
		v := out
		c.outdoor = &v
		c.thermal.UpdateOutdoor(out)
		c.metrics.SetOutdoor(c.cfg.ID, c.thermal.Outdoor(out))
	}
}

func (c *Controller) runWindowDetectionLocked(now time.Time) {
	if !c.cfg.WindowDetection {
		if tr := c.detector.Reset(now); tr != nil {
			c.handleWindowClosedLocked(now, tr)
		}
		return
	}

	in := window.Input{
		Now:             now,
		SlopePerHour:    c.slope.InstantPerHour(),
		Temp:            c.slope.LastTemp(),
		PrevTemp:        c.slope.PrevTemp(),
		MeasurementTime: c.slope.LastMeasurement(),
	}
	if open, ok := c.sensors.DoorWindowOpen(); ok {
		v := open
		in.DoorWindowOpen = &v
	}

	tr := c.detector.Process(in)
	if tr == nil {
		return
	}
	if tr.Opened {
		c.handleWindowOpenedLocked(now, tr)
	} else {
		c.handleWindowClosedLocked(now, tr)
	}
}

func (c *Controller) handleWindowOpenedLocked(now time.Time, tr *window.Transition) {
	c.log.Warn("window open detected", "reason", tr.Reason)
	c.metrics.WindowEvent(c.cfg.ID, "opened")
	c.metrics.SetWindowOpen(c.cfg.ID, true)

	// The trailing samples led up to the event and would poison learning.
	c.samples.purgeSince(now.Add(-recoveryBuffer))
	if c.eval != nil {
		c.finalizeEvalLocked(now, "window_open")
	}
	if c.heaterOn {
		c.turnHeaterOffLocked(now, "window open")
	}
}

func (c *Controller) handleWindowClosedLocked(now time.Time, tr *window.Transition) {
	c.log.Info("window alert cleared", "reason", tr.Reason, "enforce_recovery", tr.EnforceRecovery)
	c.metrics.WindowEvent(c.cfg.ID, "closed")
	c.metrics.SetWindowOpen(c.cfg.ID, false)

	if tr.EnforceRecovery {
		until := now.Add(recoveryBuffer)
		c.dataReenableAt = &until
		c.heatReenableAt = &until
		c.dampenRemaining = postWindowDampenCycles
	} else {
		c.dataReenableAt = nil
		c.heatReenableAt = nil
	}
}

func (c *Controller) expireRecoveryLocked(now time.Time) {
	if c.dataReenableAt != nil && !now.Before(*c.dataReenableAt) {
		c.dataReenableAt = nil
	}
	if c.heatReenableAt != nil && !now.Before(*c.heatReenableAt) {
		c.heatReenableAt = nil
	}
}

func (c *Controller) autoOnOffLocked(now time.Time) {
	if !c.cfg.AutoOnOff || c.manualOverride || c.outdoor == nil {
		return
	}
	out := c.thermal.Outdoor(*c.outdoor)

	switch {
	case c.mode == ModeHeat && out >= c.cfg.AutoOffAbove:
		c.log.Info("auto heating off", "outdoor", out, "threshold", c.cfg.AutoOffAbove)
		c.applyModeLocked(now, ModeOff)
	case c.mode == ModeOff && out <= c.cfg.AutoOnBelow:
		c.log.Info("auto heating on", "outdoor", out, "threshold", c.cfg.AutoOnBelow)
		c.applyModeLocked(now, ModeHeat)
	}
}

func (c *Controller) controlHeatingLocked(now time.Time, temp float64) {
	target := c.thermal.Target()
	deadband := c.thermal.Deadband()

	if c.eval != nil {
		if reason := c.eval.observe(now, temp, target, deadband); reason != "" {
			c.finalizeEvalLocked(now, reason)
		}
	}

	if c.detector.Open() {
		if c.heaterOn {
			c.turnHeaterOffLocked(now, "window open")
		}
		return
	}

	if c.heaterOn {
		minOnSatisfied := now.Sub(c.lastCommandTS) >= c.thermal.MinOn()
		switch {
		case c.plannedOffAt != nil && !now.Before(*c.plannedOffAt) && minOnSatisfied:
			c.turnHeaterOffLocked(now, "planned")
		case temp >= target+deadband && minOnSatisfied:
			c.log.Warn("failsafe shutoff above band", "temp", temp, "target", target)
			c.turnHeaterOffLocked(now, "failsafe")
		}
		return
	}

	if c.heatReenableAt != nil && now.Before(*c.heatReenableAt) {
		return
	}
	if !c.lastCommandTS.IsZero() && now.Sub(c.lastCommandTS) < c.thermal.MinOff() {
		return
	}
	if temp > target-deadband {
		return
	}

	tauOn := c.thermal.ProposeOnTime(temp, target)
	if tauOn <= 0 {
		return
	}
	if minOn := c.thermal.MinOn(); tauOn < minOn {
		tauOn = minOn
	}
	if c.dampenRemaining > 0 {
		damped := time.Duration(float64(tauOn) * postWindowDampenScale)
		if minOn := c.thermal.MinOn(); damped < minOn {
			damped = minOn
		}
		c.log.Info("dampening first post-window cycle", "full", tauOn, "damped", damped)
		tauOn = damped
		c.dampenRemaining--
	}

	c.turnHeaterOnLocked(now, temp, target, tauOn)
}

func (c *Controller) turnHeaterOnLocked(now time.Time, temp, target float64, tauOn time.Duration) {
	if c.eval != nil {
		c.finalizeEvalLocked(now, "reignition")
	}

	c.heaterOn = true
	c.wantsHeat.Store(true)
	c.lastCommandTS = now
	c.coord.ZoneOn()

	c.cycle = newActiveCycle(now, temp, target, tauOn)
	offAt := now.Add(tauOn)
	c.plannedOffAt = &offAt
	c.plannedOn = tauOn
	c.cancelPlannedOffLocked()
	c.plannedOffToken = c.sched.ScheduleOnce(tauOn, c.handlePlannedOff)

	c.metrics.SetHeaterOn(c.cfg.ID, true)
	c.metrics.ObserveProposedOn(c.cfg.ID, tauOn.Seconds())
	c.log.Info("heater on", "temp", temp, "target", target,
		"on_for", tauOn, "peak_eta", tauOn+c.thermal.ResidualPeakDelay())
	c.markDirtyLocked()
}

// handlePlannedOff fires from the scheduler when the solver's on-time
// elapses.
func (c *Controller) handlePlannedOff() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.plannedOffToken = nil
	if c.stopped || !c.heaterOn {
		return
	}
	c.turnHeaterOffLocked(c.nowFn(), "planned")
}

func (c *Controller) turnHeaterOffLocked(now time.Time, reason string) {
	c.cancelPlannedOffLocked()
	c.plannedOffAt = nil
	c.plannedOn = 0
	if !c.heaterOn {
		return
	}

	c.heaterOn = false
	c.wantsHeat.Store(false)
	c.lastCommandTS = now
	c.coord.ZoneOff()

	if c.cycle != nil {
		cut := c.cycle.startTemp
		if c.currentTemp != nil {
			cut = *c.currentTemp
		}
		c.eval = c.cycle.cutoff(now, cut)
		c.cycle = nil
	}

	c.metrics.SetHeaterOn(c.cfg.ID, false)
	c.log.Info("heater off", "reason", reason)
	c.markDirtyLocked()
}

func (c *Controller) cancelPlannedOffLocked() {
	if c.plannedOffToken != nil {
		c.plannedOffToken.Cancel()
		c.plannedOffToken = nil
	}
}

func (c *Controller) finalizeEvalLocked(now time.Time, reason string) {
	e := c.eval
	c.eval = nil
	c.lastFinished = e

	c.history.add(RunRecord{
		ID:         e.id,
		StartTS:    e.startTS,
		EndTS:      now,
		OnDuration: e.onDuration.Seconds(),
		StartTemp:  e.startTemp,
		PeakTemp:   e.peakTemp,
		Target:     e.target,
		Outcome:    reason,
	})
	c.metrics.CycleFinished(c.cfg.ID, reason, e.peakTemp-e.target)

	if c.detector.Open() || (c.dataReenableAt != nil && now.Before(*c.dataReenableAt)) {
		c.log.Debug("skipping model update, window recovery active", "cycle", e.id)
		return
	}

	cut := e.cutTemp
	diag, ok := c.thermal.RegisterCycleResult(thermal.CycleResult{
		StartTemp:     e.startTemp,
		PeakTemp:      e.peakTemp,
		OnDuration:    e.onDuration,
		Target:        e.target,
		CutTemp:       &cut,
		TailPeakDelay: e.peakTS.Sub(e.offTS),
	})
	if !ok {
		c.log.Debug("cycle too degenerate to learn from", "cycle", e.id)
		return
	}
	c.lastDiag = flattenDiagnostics(diag)
	c.log.Info("cycle evaluated",
		"cycle", e.id, "outcome", reason,
		"ratio", diag.Ratio, "overshoot", diag.Overshoot,
		"predicted_peak", diag.PredictedPeak, "actual_peak", diag.ActualPeak)
	c.markDirtyLocked()
}

func flattenDiagnostics(d thermal.Diagnostics) *CycleDiagnostics {
	out := &CycleDiagnostics{
		PredictedPeak: d.PredictedPeak,
		ActualPeak:    d.ActualPeak,
		StartTemp:     d.StartTemp,
		TargetTemp:    d.TargetTemp,
		OnDuration:    d.OnDuration.Seconds(),
		Ratio:         d.Ratio,
		Overshoot:     d.Overshoot,
		Undershoot:    d.Undershoot,
	}
	po := d.PredictedOvershoot
	out.PredictedOvershoot = &po
	if d.PredictedTailDelay > 0 {
		v := d.PredictedTailDelay.Seconds()
		out.PredictedTailDelay = &v
	}
	if d.ObservedTailDelay > 0 {
		v := d.ObservedTailDelay.Seconds()
		out.ObservedTailDelay = &v
	}
	return out
}

// SetTarget changes the target temperature and drops any active preset.
func (c *Controller) SetTarget(v float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return ErrControllerStopped
	}
	if v < minTargetTemp || v > maxTargetTemp {
		return ErrInvalidTarget
	}
	c.thermal.SetTarget(v)
	c.preset = ""
	c.metrics.SetTarget(c.cfg.ID, v)
	c.log.Info("target changed", "target", v)
	c.markDirtyLocked()
	return nil
}

// SetMode applies a user mode change, which also suspends auto on/off.
func (c *Controller) SetMode(m HVACMode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return ErrControllerStopped
	}
	if !m.Valid() {
		return ErrInvalidMode
	}
	c.manualOverride = true
	c.applyModeLocked(c.nowFn(), m)
	return nil
}

func (c *Controller) applyModeLocked(now time.Time, m HVACMode) {
	if m == c.mode {
		c.markDirtyLocked()
		return
	}
	c.mode = m
	c.log.Info("mode changed", "mode", m.String())
	if m == ModeOff && c.heaterOn {
		c.turnHeaterOffLocked(now, "mode off")
	}
	c.markDirtyLocked()
}

// SetPreset selects a named preset, which re-enables auto on/off.
func (c *Controller) SetPreset(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return ErrControllerStopped
	}
	target, ok := c.cfg.Presets.lookup(name)
	if !ok {
		return ErrUnknownPreset
	}
	c.preset = name
	c.manualOverride = false
	c.thermal.SetTarget(target)
	c.metrics.SetTarget(c.cfg.ID, target)
	c.log.Info("preset selected", "preset", name, "target", target)
	c.markDirtyLocked()
	return nil
}

// Calibrate runs cold-start calibration from the decay tail of the last
// finished cycle. It needs a finished cycle plus enough clean off-period
// samples after its peak.
func (c *Controller) Calibrate() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return ErrControllerStopped
	}
	e := c.lastFinished
	if e == nil || c.outdoor == nil {
		return ErrInsufficientData
	}

	var decay []thermal.DecaySample
	var outdoorSamples []float64
	for _, s := range c.samples.since(e.peakTS) {
		if s.HeaterOn {
			break
		}
		out := c.thermal.Outdoor(*c.outdoor)
		if s.Outdoor != nil {
			out = c.thermal.Outdoor(*s.Outdoor)
			outdoorSamples = append(outdoorSamples, *s.Outdoor)
		}
		decay = append(decay, thermal.DecaySample{
			Elapsed:     s.TS.Sub(e.peakTS),
			RoomTemp:    s.Temp,
			OutdoorTemp: out,
		})
	}
	if len(decay) < calibrationMinSamples ||
		decay[len(decay)-1].Elapsed < calibrationMinSpan {
		return ErrInsufficientData
	}

	params := c.thermal.ColdStartCalibrate(thermal.ColdStartCycle{
		StartTemp:      e.startTemp,
		CutTemp:        e.cutTemp,
		PeakTemp:       e.peakTemp,
		OnDuration:     e.onDuration,
		TimeToPeak:     e.peakTS.Sub(e.offTS),
		OutdoorSamples: outdoorSamples,
		OffDecay:       decay,
	})
	c.log.Info("cold-start calibration applied",
		"tau_r", params.TauR, "tau_th", params.TauTh, "k", params.K)
	c.markDirtyLocked()
	return nil
}

// Status returns a point-in-time copy of the zone.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	action := ActionOff
	if c.mode == ModeHeat {
		action = ActionIdle
		if c.heaterOn {
			action = ActionHeating
		}
	}

	s := Status{
		ID:                     c.cfg.ID,
		Name:                   c.cfg.Name,
		Mode:                   c.mode,
		ModeName:               c.mode.String(),
		Action:                 action.String(),
		Target:                 c.thermal.Target(),
		Preset:                 c.preset,
		ManualOverride:         c.manualOverride,
		CurrentTemperature:     copyFloat(c.currentTemp),
		Humidity:               copyFloat(c.humidity),
		OutdoorTemperature:     copyFloat(c.outdoor),
		HeaterOn:               c.heaterOn,
		SlopeInstant:           c.slope.InstantPerHour(),
		SlopeHourly:            c.slope.HourlyPerHour(),
		WindowOpen:             c.detector.Open(),
		WindowCandidate:        c.detector.State() == window.StateCandidate,
		WindowAlert:            c.detector.Alert(),
		PostWindowDampenCycles: c.dampenRemaining,
		Params:                 c.thermal.CurrentParams(),
		MinOnSeconds:           c.thermal.MinOn().Seconds(),
		MinOffSeconds:          c.thermal.MinOff().Seconds(),
		ResidualPeakDelay:      c.thermal.ResidualPeakDelay().Seconds(),
		SamplesCached:          c.samples.len(),
		RunHistory:             c.history.list(),
	}
	if c.plannedOffAt != nil {
		t := *c.plannedOffAt
		s.PlannedOffAt = &t
		d := c.plannedOn.Seconds()
		s.PlannedOnDuration = &d
	}
	if c.heatReenableAt != nil {
		t := *c.heatReenableAt
		s.WindowRecoveryUntil = &t
	}
	if c.lastDiag != nil {
		d := *c.lastDiag
		s.LastCycle = &d
	}
	return s
}

// Close stops the controller: pending timers are cancelled and a dirty
// snapshot is flushed synchronously. Actuators are left as commanded.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.stopped = true
	c.cancelPlannedOffLocked()
	if c.saveToken != nil {
		c.saveToken.Cancel()
		c.saveToken = nil
	}
	c.coord.Teardown()
	c.flushLocked()
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
