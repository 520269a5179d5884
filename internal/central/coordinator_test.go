package central

import (
	"testing"
	"time"

	"github.com/adaptiveheat/zoneheat/internal/actuator"
	"github.com/adaptiveheat/zoneheat/internal/scheduler"
)

type command struct {
	target actuator.Target
	on     bool
}

type fakeCommander struct {
	commands []command
}

func (f *fakeCommander) TurnOn(t actuator.Target) error {
	f.commands = append(f.commands, command{target: t, on: true})
	return nil
}

func (f *fakeCommander) TurnOff(t actuator.Target) error {
	f.commands = append(f.commands, command{target: t, on: false})
	return nil
}

func (f *fakeCommander) last() command {
	return f.commands[len(f.commands)-1]
}

type fakeTask struct {
	delay     time.Duration
	fn        func()
	cancelled bool
}

func (t *fakeTask) Cancel() { t.cancelled = true }

// fakeScheduler collects deferred tasks; tests fire them explicitly.
type fakeScheduler struct {
	tasks []*fakeTask
}

func (s *fakeScheduler) ScheduleOnce(delay time.Duration, fn func()) scheduler.Token {
	t := &fakeTask{delay: delay, fn: fn}
	s.tasks = append(s.tasks, t)
	return t
}

func (s *fakeScheduler) firePending() {
	for _, t := range s.tasks {
		if !t.cancelled && t.fn != nil {
			fn := t.fn
			t.fn = nil
			fn()
		}
	}
}

type fakeDirectory struct {
	wantsHeat bool
}

func (d *fakeDirectory) SiblingWantsHeat(heaterID, excludeZoneID string) bool {
	return d.wantsHeat
}

var (
	testValve  = actuator.Target{ID: "valve_living", Kind: actuator.KindValve}
	testHeater = actuator.Target{ID: "boiler", Kind: actuator.KindSwitch}
)

func newTestCoordinator(cmd *fakeCommander, sched *fakeScheduler, dir *fakeDirectory, zoneOn func() bool) *Coordinator {
	cfg := Config{
		Heater:       testHeater,
		TurnOnDelay:  30 * time.Second,
		TurnOffDelay: 60 * time.Second,
	}
	return NewCoordinator("living", []actuator.Target{testValve}, cfg, cmd, sched, dir, zoneOn, nil)
}

func TestZoneOnOpensValveThenHeater(t *testing.T) {
	cmd := &fakeCommander{}
	sched := &fakeScheduler{}
	c := newTestCoordinator(cmd, sched, &fakeDirectory{}, func() bool { return true })

	c.ZoneOn()

	if len(cmd.commands) != 1 || cmd.commands[0].target != testValve || !cmd.commands[0].on {
		t.Fatalf("expected only the valve open, got %+v", cmd.commands)
	}
	if len(sched.tasks) != 1 || sched.tasks[0].delay != 30*time.Second {
		t.Fatalf("expected one heater task at 30s, got %+v", sched.tasks)
	}

	sched.firePending()
	if got := cmd.last(); got.target != testHeater || !got.on {
		t.Errorf("expected heater on after delay, got %+v", got)
	}
}

func TestDelayedHeaterStartSkipsWhenZoneTurnedOff(t *testing.T) {
	cmd := &fakeCommander{}
	sched := &fakeScheduler{}
	on := true
	c := newTestCoordinator(cmd, sched, &fakeDirectory{}, func() bool { return on })

	c.ZoneOn()
	on = false
	sched.firePending()

	for _, cc := range cmd.commands {
		if cc.target == testHeater {
			t.Fatalf("heater must not fire for a zone that turned off: %+v", cmd.commands)
		}
	}
}

func TestZoneOffLastConsumerStopsHeaterFirst(t *testing.T) {
	cmd := &fakeCommander{}
	sched := &fakeScheduler{}
	c := newTestCoordinator(cmd, sched, &fakeDirectory{wantsHeat: false}, func() bool { return true })

	c.ZoneOff()

	// Heater off is immediate; the valve close is deferred for the pump.
	if len(cmd.commands) != 1 || cmd.commands[0].target != testHeater || cmd.commands[0].on {
		t.Fatalf("expected only heater off, got %+v", cmd.commands)
	}
	if len(sched.tasks) != 1 || sched.tasks[0].delay != 60*time.Second {
		t.Fatalf("expected valve close task at 60s, got %+v", sched.tasks)
	}

	sched.firePending()
	if got := cmd.last(); got.target != testValve || got.on {
		t.Errorf("expected valve close after delay, got %+v", got)
	}
}

func TestZoneOffKeepsHeaterForSiblings(t *testing.T) {
	cmd := &fakeCommander{}
	sched := &fakeScheduler{}
	c := newTestCoordinator(cmd, sched, &fakeDirectory{wantsHeat: true}, func() bool { return true })

	c.ZoneOff()

	// Only this zone's valve closes, immediately; the heater stays on.
	if len(cmd.commands) != 1 || cmd.commands[0].target != testValve || cmd.commands[0].on {
		t.Fatalf("expected only valve close, got %+v", cmd.commands)
	}
	if len(sched.tasks) != 0 {
		t.Errorf("no deferred steps expected, got %+v", sched.tasks)
	}
}

func TestQuickFlipCancelsPendingValveClose(t *testing.T) {
	cmd := &fakeCommander{}
	sched := &fakeScheduler{}
	c := newTestCoordinator(cmd, sched, &fakeDirectory{}, func() bool { return true })

	c.ZoneOff()
	c.ZoneOn()
	sched.firePending()

	// The deferred valve close from the off must have been cancelled; the
	// valve's final commanded state is open.
	var lastValve *command
	for i := range cmd.commands {
		if cmd.commands[i].target == testValve {
			lastValve = &cmd.commands[i]
		}
	}
	if lastValve == nil || !lastValve.on {
		t.Fatalf("valve must end open after off->on flip, got %+v", cmd.commands)
	}
}

func TestStandaloneZoneSkipsHeaterCoordination(t *testing.T) {
	cmd := &fakeCommander{}
	sched := &fakeScheduler{}
	cfg := Config{TurnOffDelay: 60 * time.Second}
	c := NewCoordinator("living", []actuator.Target{testValve}, cfg, cmd, sched, &fakeDirectory{}, nil, nil)

	c.ZoneOn()
	if len(cmd.commands) != 1 || cmd.commands[0].target != testValve {
		t.Fatalf("expected only the valve open, got %+v", cmd.commands)
	}

	c.ZoneOff()
	sched.firePending()
	for _, cc := range cmd.commands {
		if cc.target == testHeater {
			t.Fatalf("standalone zone must never command a heater: %+v", cmd.commands)
		}
	}
	if got := cmd.last(); got.target != testValve || got.on {
		t.Errorf("expected valve close, got %+v", got)
	}
}

func TestTeardownCancelsPendingSteps(t *testing.T) {
	cmd := &fakeCommander{}
	sched := &fakeScheduler{}
	c := newTestCoordinator(cmd, sched, &fakeDirectory{}, func() bool { return true })

	c.ZoneOn()
	c.Teardown()
	sched.firePending()

	for _, cc := range cmd.commands {
		if cc.target == testHeater {
			t.Fatalf("heater task must be cancelled by teardown: %+v", cmd.commands)
		}
	}
}
