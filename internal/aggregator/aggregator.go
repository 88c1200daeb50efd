// Package aggregator folds the bus stream into the live-state cache and
// passes every frame on to downstream observers.
package aggregator

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/pigeon9001/pigeon/internal/bus"
	"github.com/pigeon9001/pigeon/internal/cache"
	"github.com/pigeon9001/pigeon/internal/monitoring"
	"github.com/pigeon9001/pigeon/internal/timeutil"
	"github.com/pigeon9001/pigeon/internal/wire"
)

// Receiver yields one frame per call and blocks until it has one.
// *bus.Subscriber satisfies it.
type Receiver interface {
	Receive() ([]byte, error)
}

// Aggregator is the sole writer of a cache.
type Aggregator struct {
	recv  Receiver
	cache *cache.LiveState
	fwd   bus.Forwarder
	clock timeutil.Clock

	// Verbose logs every decoded frame.
	Verbose bool

	frames atomic.Uint64
}

// New returns an aggregator reading from recv into c. fwd may be nil when
// nothing observes the stream downstream; a nil clock means real time.
func New(recv Receiver, c *cache.LiveState, fwd bus.Forwarder, clock timeutil.Clock) *Aggregator {
	if fwd == nil {
		fwd = bus.Tee()
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Aggregator{recv: recv, cache: c, fwd: fwd, clock: clock}
}

type received struct {
	frame []byte
	err   error
}

// Run reads, decodes, stores and forwards frames until ctx is cancelled or
// the stream fails. A receive or decode error is returned as fatal: the bus
// only carries frames from trusted local producers, so a bad frame means a
// protocol mismatch rather than a transient fault.
//
// Cancelling ctx does not interrupt a pending Receive; close the receiver
// to release the reader goroutine.
func (a *Aggregator) Run(ctx context.Context) error {
	frames := make(chan received)

	// the blocking Receive runs on its own goroutine so the loop below can
	// also watch for cancellation
	go func() {
		for {
			frame, err := a.recv.Receive()
			select {
			case frames <- received{frame, err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case r := <-frames:
			if r.err != nil {
				return fmt.Errorf("aggregator receive: %w", r.err)
			}
			if err := a.handle(r.frame); err != nil {
				return err
			}
		}
	}
}

func (a *Aggregator) handle(frame []byte) error {
	m, err := wire.Decode(frame)
	if err != nil {
		return fmt.Errorf("aggregator decode % x: %w", frame, err)
	}
	if err := a.cache.Apply(m, a.clock.Now()); err != nil {
		return err
	}
	a.frames.Add(1)
	if a.Verbose {
		monitoring.Logf("bus: %s integral=%d decimal=%g", m.Kind, m.Integral, m.Decimal)
	}
	a.fwd.TryPublish(frame)
	return nil
}

// Frames returns the number of frames stored so far.
func (a *Aggregator) Frames() uint64 {
	return a.frames.Load()
}
