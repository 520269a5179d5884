// Package central coordinates a shared heat source across the zones that feed
// from it. Valves open before the boiler fires and the boiler stops before
// the last valve closes, so the pump never runs against a closed loop.
package central

import (
	"log/slog"
	"sync"
	"time"

	"github.com/adaptiveheat/zoneheat/internal/actuator"
	"github.com/adaptiveheat/zoneheat/internal/scheduler"
)

// Commander delivers on/off commands to actuators.
type Commander interface {
	TurnOn(t actuator.Target) error
	TurnOff(t actuator.Target) error
}

// Scheduler defers the heater-on and valve-close steps.
type Scheduler interface {
	ScheduleOnce(delay time.Duration, fn func()) scheduler.Token
}

// Directory answers whether any sibling zone on the same heat source still
// wants heat. Implementations read a snapshot; brief staleness is tolerated.
type Directory interface {
	SiblingWantsHeat(heaterID, excludeZoneID string) bool
}

// Config describes the shared heat source of one zone. A zero Heater means
// the zone runs its valves standalone.
type Config struct {
	Heater actuator.Target
	// TurnOnDelay gives valves time to open before the heater fires.
	TurnOnDelay time.Duration
	// TurnOffDelay keeps valves open after the heater stops so the pump can
	// dissipate residual heat.
	TurnOffDelay time.Duration
}

// Coordinator sequences one zone's valves against the shared heater. All
// pending deferred steps are cancelled whenever the zone changes state again.
type Coordinator struct {
	zoneID string
	valves []actuator.Target
	cfg    Config
	cmd    Commander
	sched  Scheduler
	dir    Directory
	log    *slog.Logger

	// zoneStillOn re-checks the zone's intent when a deferred heater-on
	// finally fires.
	zoneStillOn func() bool

	mu            sync.Mutex
	heaterOnToken scheduler.Token
	valveOffToken scheduler.Token
}

func NewCoordinator(zoneID string, valves []actuator.Target, cfg Config, cmd Commander, sched Scheduler, dir Directory, zoneStillOn func() bool, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	if zoneStillOn == nil {
		zoneStillOn = func() bool { return true }
	}
	return &Coordinator{
		zoneID:      zoneID,
		valves:      valves,
		cfg:         cfg,
		cmd:         cmd,
		sched:       sched,
		dir:         dir,
		zoneStillOn: zoneStillOn,
		log:         log.With("zone", zoneID),
	}
}

func (c *Coordinator) hasHeater() bool { return c.cfg.Heater.Valid() }

// ZoneOn opens the zone's valves immediately and brings the shared heater up
// after the configured delay. A pending delayed valve close is cancelled
// first so a quick off/on flip never strands a closing valve.
func (c *Coordinator) ZoneOn() {
	c.mu.Lock()
	c.cancelValveOffLocked()
	c.cancelHeaterOnLocked()
	c.mu.Unlock()

	c.openValves()

	if !c.hasHeater() {
		return
	}
	if c.cfg.TurnOnDelay <= 0 {
		c.heaterOn()
		return
	}

	c.mu.Lock()
	c.heaterOnToken = c.sched.ScheduleOnce(c.cfg.TurnOnDelay, func() {
		c.mu.Lock()
		c.heaterOnToken = nil
		c.mu.Unlock()
		if c.zoneStillOn() {
			c.heaterOn()
		} else {
			c.log.Debug("skipping delayed heater start, zone no longer wants heat")
		}
	})
	c.mu.Unlock()
}

// ZoneOff closes the zone's valves and, when no sibling still wants heat,
// shuts the shared heater down. The heater stops immediately; this zone's
// valves stay open for TurnOffDelay when it was the last consumer.
func (c *Coordinator) ZoneOff() {
	c.mu.Lock()
	c.cancelValveOffLocked()
	c.cancelHeaterOnLocked()
	c.mu.Unlock()

	othersNeedHeat := false
	if c.hasHeater() && c.dir != nil {
		othersNeedHeat = c.dir.SiblingWantsHeat(c.cfg.Heater.ID, c.zoneID)
	}

	if othersNeedHeat || c.cfg.TurnOffDelay <= 0 {
		c.closeValves()
	} else {
		c.mu.Lock()
		c.valveOffToken = c.sched.ScheduleOnce(c.cfg.TurnOffDelay, func() {
			c.mu.Lock()
			c.valveOffToken = nil
			c.mu.Unlock()
			c.closeValves()
		})
		c.mu.Unlock()
	}

	if !c.hasHeater() {
		return
	}
	if othersNeedHeat {
		c.log.Debug("keeping shared heater on for sibling zones", "heater", c.cfg.Heater.ID)
		return
	}
	if err := c.cmd.TurnOff(c.cfg.Heater); err != nil {
		c.log.Error("failed to turn off shared heater", "heater", c.cfg.Heater.ID, "error", err)
	}
}

// Teardown cancels every pending deferred step.
func (c *Coordinator) Teardown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelValveOffLocked()
	c.cancelHeaterOnLocked()
}

func (c *Coordinator) cancelHeaterOnLocked() {
	if c.heaterOnToken != nil {
		c.heaterOnToken.Cancel()
		c.heaterOnToken = nil
	}
}

func (c *Coordinator) cancelValveOffLocked() {
	if c.valveOffToken != nil {
		c.valveOffToken.Cancel()
		c.valveOffToken = nil
	}
}

func (c *Coordinator) openValves() {
	for _, v := range c.valves {
		if err := c.cmd.TurnOn(v); err != nil {
			c.log.Error("failed to open valve", "valve", v.ID, "error", err)
		}
	}
}

func (c *Coordinator) closeValves() {
	for _, v := range c.valves {
		if err := c.cmd.TurnOff(v); err != nil {
			c.log.Error("failed to close valve", "valve", v.ID, "error", err)
		}
	}
}

func (c *Coordinator) heaterOn() {
	if err := c.cmd.TurnOn(c.cfg.Heater); err != nil {
		c.log.Error("failed to turn on shared heater", "heater", c.cfg.Heater.ID, "error", err)
	}
}
