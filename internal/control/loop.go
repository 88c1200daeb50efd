package control

import (
	"context"
	"fmt"
	"time"

	"github.com/pigeon9001/pigeon/internal/cache"
	"github.com/pigeon9001/pigeon/internal/monitoring"
	"github.com/pigeon9001/pigeon/internal/timeutil"
)

// Source supplies one consistent view of the live state per cycle.
type Source interface {
	Snapshot() cache.Snapshot
}

// Valves is the actuator surface the loop drives. *actuator.Valves
// satisfies it.
type Valves interface {
	Engage() error
	Release() error
}

// Loop runs the control law on a fixed period. It is the only writer of the
// valves and owns the control state.
type Loop struct {
	law    Law
	source Source
	valves Valves
	clock  timeutil.Clock

	state    State
	cycles   uint64
	overruns uint64
}

// NewLoop validates params and returns a loop ready to Run. A nil clock
// means real time.
func NewLoop(params Params, source Source, valves Valves, clock timeutil.Clock) (*Loop, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Loop{
		law:    Law{Params: params},
		source: source,
		valves: valves,
		clock:  clock,
	}, nil
}

// Run executes control cycles until ctx is cancelled or a valve write fails.
// A failed write is returned and must stop the process: the valves are in
// an unknown state.
func (l *Loop) Run(ctx context.Context) error {
	task := &timeutil.Periodic{
		Clock:  l.clock,
		Period: l.law.Params.Period,
		OnOverrun: func(cycle uint64, elapsed time.Duration) {
			l.overruns++
			monitoring.Warnf("control cycle %d overran: took %s, period %s", cycle, elapsed, l.law.Params.Period)
		},
	}
	monitoring.Logf("control loop started: period %s, trigger above %.2f m, commit at %.2f m",
		l.law.Params.Period, l.law.Params.TriggerAltitude(), l.law.Params.CommitAltitude())
	err := task.Run(ctx, l.cycle)
	l.cycles = task.Cycles()
	return err
}

func (l *Loop) cycle(ctx context.Context) error {
	now := l.clock.Now()
	in := InputsFrom(l.source.Snapshot(), l.law.Params.AltitudeKind)

	next, cmd := l.law.Step(l.state, in, now)
	l.logTransition(l.state, next, in)

	switch cmd {
	case Engage:
		if err := l.valves.Engage(); err != nil {
			return fmt.Errorf("engage valves: %w", err)
		}
	case Release:
		if err := l.valves.Release(); err != nil {
			return fmt.Errorf("release valves: %w", err)
		}
	}
	l.state = next
	return nil
}

func (l *Loop) logTransition(prev, next State, in Inputs) {
	if prev.FallingSince == nil && next.FallingSince != nil {
		monitoring.Logf("fall detected at %.2f m", in.Altitude)
	}
	if !prev.Boosting && next.Boosting {
		monitoring.Logf("valves engaged at %.2f m, velocity %.2f m/s", in.Altitude, next.LastVelocity)
	}
	if prev.Boosting && !next.Boosting {
		monitoring.Logf("valves released at %.2f m", in.Altitude)
	}
}

// State returns the control state after the last completed cycle. Call it
// only once Run has returned.
func (l *Loop) State() State {
	return l.state
}

// Stats returns how many cycles ran and how many of them overran. Call it
// only once Run has returned.
func (l *Loop) Stats() (cycles, overruns uint64) {
	return l.cycles, l.overruns
}
