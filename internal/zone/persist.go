package zone

import (
	"encoding/json"
	"time"

	"github.com/adaptiveheat/zoneheat/internal/thermal"
)

// saveDebounce coalesces the frequent small state changes of a control tick
// into one write.
const saveDebounce = 2 * time.Second

type persistedState struct {
	HVACMode          string               `json:"hvac_mode"`
	TargetTemperature float64              `json:"target_temperature"`
	Preset            string               `json:"preset,omitempty"`
	ManualOverride    bool                 `json:"manual_override"`
	ZoneHeaterOn      bool                 `json:"zone_heater_on"`
	ThermalState      thermal.RuntimeState `json:"thermal_state"`
}

func (c *Controller) storageKey() string { return "zones/" + c.cfg.ID }

// markDirtyLocked schedules a debounced flush. Repeated calls inside the
// debounce window coalesce into one save.
func (c *Controller) markDirtyLocked() {
	if c.stopped || c.store == nil {
		return
	}
	c.dirty = true
	if c.saveToken == nil {
		c.saveToken = c.sched.ScheduleOnce(saveDebounce, c.flushDebounced)
	}
}

func (c *Controller) flushDebounced() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.saveToken = nil
	if c.stopped {
		return
	}
	c.flushLocked()
}

func (c *Controller) flushLocked() {
	if !c.dirty || c.store == nil {
		return
	}
	c.dirty = false

	data, err := json.Marshal(persistedState{
		HVACMode:          c.mode.String(),
		TargetTemperature: c.thermal.Target(),
		Preset:            c.preset,
		ManualOverride:    c.manualOverride,
		ZoneHeaterOn:      c.heaterOn,
		ThermalState:      c.thermal.RuntimeState(),
	})
	if err != nil {
		c.log.Error("failed to serialize zone snapshot", "error", err)
		return
	}
	if err := c.store.Save(c.storageKey(), data); err != nil {
		c.log.Error("failed to persist zone snapshot", "error", err)
	}
}

// restore loads the persisted snapshot during construction and reports
// whether it recorded the heater as on.
func (c *Controller) restore() bool {
	if c.store == nil {
		return false
	}
	data, err := c.store.Load(c.storageKey())
	if err != nil {
		c.log.Error("failed to load zone snapshot", "error", err)
		return false
	}
	if data == nil {
		return false
	}

	var st persistedState
	if err := json.Unmarshal(data, &st); err != nil {
		c.log.Warn("discarding unreadable zone snapshot", "error", err)
		return false
	}

	if m, err := ParseMode(st.HVACMode); err == nil {
		c.mode = m
	}
	if st.TargetTemperature >= minTargetTemp && st.TargetTemperature <= maxTargetTemp {
		c.thermal.SetTarget(st.TargetTemperature)
	}
	if _, ok := c.cfg.Presets.lookup(st.Preset); ok {
		c.preset = st.Preset
	}
	c.manualOverride = st.ManualOverride
	c.thermal.RestoreRuntimeState(st.ThermalState)

	c.log.Info("zone snapshot restored",
		"mode", c.mode.String(), "target", c.thermal.Target(), "preset", c.preset)
	return st.ZoneHeaterOn
}
