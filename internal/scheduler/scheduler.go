// Package scheduler wraps the runtime timers behind a small interface so the
// zone controller's deferred actions stay testable.
package scheduler

import (
	"sync"
	"time"
)

// Token cancels a scheduled callback. Cancel is idempotent and safe to call
// from the callback itself.
type Token interface {
	Cancel()
}

// Scheduler fires callbacks on real wall-clock timers.
type Scheduler struct{}

func New() *Scheduler { return &Scheduler{} }

// ScheduleOnce runs fn once after delay unless cancelled first.
func (s *Scheduler) ScheduleOnce(delay time.Duration, fn func()) Token {
	if delay < 0 {
		delay = 0
	}
	return &onceToken{t: time.AfterFunc(delay, fn)}
}

// SchedulePeriodic runs fn every interval until cancelled. The first run
// happens one interval from now.
func (s *Scheduler) SchedulePeriodic(interval time.Duration, fn func()) Token {
	tk := &periodicToken{stop: make(chan struct{})}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				fn()
			case <-tk.stop:
				return
			}
		}
	}()
	return tk
}

type onceToken struct {
	t *time.Timer
}

func (t *onceToken) Cancel() { t.t.Stop() }

type periodicToken struct {
	once sync.Once
	stop chan struct{}
}

func (t *periodicToken) Cancel() {
	t.once.Do(func() { close(t.stop) })
}
