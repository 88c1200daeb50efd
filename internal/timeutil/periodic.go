package timeutil

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidPeriod is returned by Periodic.Run when Period is not positive.
var ErrInvalidPeriod = errors.New("period must be positive")

// Periodic runs a step function on a fixed period. Each cycle measures how
// long the step took: a step that finishes early is followed by a sleep for
// the rest of the period, a step that overruns is reported through OnOverrun
// and the next cycle starts immediately. Overruns are never corrected by
// skipping cycles.
type Periodic struct {
	Clock  Clock
	Period time.Duration

	// OnOverrun, if set, is called after any cycle whose step took longer
	// than Period. cycle counts from zero.
	OnOverrun func(cycle uint64, elapsed time.Duration)

	cycles uint64
}

// Run executes step until ctx is cancelled or step returns an error. The
// context is checked between cycles only; a step in progress always runs to
// completion.
func (p *Periodic) Run(ctx context.Context, step func(ctx context.Context) error) error {
	if p.Period <= 0 {
		return ErrInvalidPeriod
	}
	clock := p.Clock
	if clock == nil {
		clock = RealClock{}
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		start := clock.Now()
		if err := step(ctx); err != nil {
			return err
		}
		cycle := p.cycles
		p.cycles++

		elapsed := clock.Since(start)
		if elapsed > p.Period {
			if p.OnOverrun != nil {
				p.OnOverrun(cycle, elapsed)
			}
			continue
		}
		clock.Sleep(p.Period - elapsed)
	}
}

// Cycles returns the number of completed cycles. It is only meaningful once
// Run has returned or from within the step function.
func (p *Periodic) Cycles() uint64 {
	return p.cycles
}
