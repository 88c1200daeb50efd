// Package control implements the landing control law and the fixed-period
// loop that applies it to the boost and brake valves.
package control

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/pigeon9001/pigeon/internal/cache"
	"github.com/pigeon9001/pigeon/internal/wire"
)

// ErrInvalidParams is wrapped by every Params.Validate failure.
var ErrInvalidParams = errors.New("invalid control parameters")

// Params are the constants of the control law. They are fixed for the
// lifetime of a loop.
type Params struct {
	// TargetAltitude is where the vehicle should come to rest, in metres.
	TargetAltitude float64
	// Tolerance is the half-width of the acceptable band around the target.
	Tolerance float64
	// TriggerMargin widens the band above which fall tracking starts.
	TriggerMargin float64
	// CommitMargin is the narrower band the predicted halt altitude is
	// checked against before the valves open.
	CommitMargin float64
	// ExpDeceleration is the deceleration expected once the valves are
	// open, in m/s².
	ExpDeceleration float64
	// HaltCorrection is the empirical constant K added to the speed in the
	// halt altitude prediction.
	HaltCorrection float64
	// Period is the control cycle length.
	Period time.Duration
	// AltitudeKind selects the measurement read as altitude.
	AltitudeKind wire.Kind
}

// DefaultParams returns the constants the vehicle was flown with.
func DefaultParams() Params {
	return Params{
		TargetAltitude:  8,
		Tolerance:       5,
		TriggerMargin:   5,
		CommitMargin:    2,
		ExpDeceleration: 500,
		HaltCorrection:  10,
		Period:          10 * time.Millisecond,
		AltitudeKind:    wire.LongDistanceSensor,
	}
}

// Validate checks that the parameters describe a usable control law.
func (p Params) Validate() error {
	switch {
	case p.Period <= 0:
		return fmt.Errorf("%w: period must be positive, got %s", ErrInvalidParams, p.Period)
	case p.ExpDeceleration <= 0:
		return fmt.Errorf("%w: exp_deceleration must be positive, got %g", ErrInvalidParams, p.ExpDeceleration)
	case p.Tolerance < 0:
		return fmt.Errorf("%w: tolerance must not be negative, got %g", ErrInvalidParams, p.Tolerance)
	case p.TriggerMargin < 0 || p.CommitMargin < 0:
		return fmt.Errorf("%w: margins must not be negative", ErrInvalidParams)
	case p.CommitMargin > p.TriggerMargin:
		return fmt.Errorf("%w: commit_margin %g exceeds trigger_margin %g", ErrInvalidParams, p.CommitMargin, p.TriggerMargin)
	case p.HaltCorrection < 0:
		return fmt.Errorf("%w: halt_correction must not be negative, got %g", ErrInvalidParams, p.HaltCorrection)
	case !p.AltitudeKind.Valid():
		return fmt.Errorf("%w: %w: altitude kind %d", ErrInvalidParams, wire.ErrUnknownKind, uint32(p.AltitudeKind))
	}
	return nil
}

// TriggerAltitude is the altitude above which fall tracking is active.
func (p Params) TriggerAltitude() float64 {
	return p.TargetAltitude + p.Tolerance + p.TriggerMargin
}

// CommitAltitude is the lowest predicted halt altitude that still leaves
// the valves closed.
func (p Params) CommitAltitude() float64 {
	return p.TargetAltitude + p.Tolerance + p.CommitMargin
}

// Command is the valve action decided for one cycle.
type Command uint8

const (
	// Hold leaves the valves as they are.
	Hold Command = iota
	// Engage opens both valves.
	Engage
	// Release closes both valves.
	Release
)

func (c Command) String() string {
	switch c {
	case Hold:
		return "hold"
	case Engage:
		return "engage"
	case Release:
		return "release"
	default:
		return fmt.Sprintf("Command(%d)", uint8(c))
	}
}

// State is carried by the loop from one cycle to the next.
type State struct {
	LastAltitude float64
	// LastVelocity is in m/s, negative when descending.
	LastVelocity float64
	// FallingSince is when the current fall was first seen above the
	// trigger band, nil outside a fall.
	FallingSince *time.Time
	Boosting     bool
	// Primed is set once an altitude reading has seeded LastAltitude.
	Primed bool
}

// Inputs are the readings one cycle works from.
type Inputs struct {
	Altitude float64
	// HaveAltitude is false until the altitude kind has been received once.
	HaveAltitude bool
	Falling      bool
}

// InputsFrom reads the control inputs out of a cache snapshot.
func InputsFrom(snap cache.Snapshot, altitude wire.Kind) Inputs {
	alt := snap.Get(altitude)
	return Inputs{
		Altitude:     float64(alt.Decimal),
		HaveAltitude: snap.Fresh(altitude),
		Falling:      snap.Get(wire.IsFalling).Integral != 0,
	}
}

// HaltAltitude predicts where a vehicle at alt moving at velocity comes to
// rest once decelerating at decel, with k added to the speed.
func HaltAltitude(alt, velocity, k, decel float64) float64 {
	speed := math.Abs(velocity) + k
	return alt - speed*speed/(2*decel)
}

// Law evaluates one control cycle. It has no side effects.
type Law struct {
	Params Params
}

// Step computes the next state and the valve command for one cycle.
func (l Law) Step(s State, in Inputs, now time.Time) (State, Command) {
	p := l.Params
	alt := in.Altitude

	switch {
	case !s.Primed:
		// no previous reading to differentiate against
		s.LastVelocity = 0
		s.Primed = in.HaveAltitude
	case alt != s.LastAltitude:
		s.LastVelocity = (alt - s.LastAltitude) * (float64(time.Second) / float64(p.Period))
	}
	s.LastAltitude = alt

	if alt <= p.TriggerAltitude() {
		s.FallingSince = nil
		s.Boosting = false
		return s, Release
	}

	if !in.Falling {
		s.FallingSince = nil
		return s, Hold
	}
	if s.FallingSince == nil {
		t := now
		s.FallingSince = &t
	}
	if HaltAltitude(alt, s.LastVelocity, p.HaltCorrection, p.ExpDeceleration) <= p.CommitAltitude() {
		s.Boosting = true
		return s, Engage
	}
	return s, Hold
}
