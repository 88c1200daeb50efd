package control

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pigeon9001/pigeon/internal/cache"
	"github.com/pigeon9001/pigeon/internal/wire"
)

var epoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func above(alt float64) Inputs {
	return Inputs{Altitude: alt, HaveAltitude: true}
}

func falling(alt float64) Inputs {
	return Inputs{Altitude: alt, HaveAltitude: true, Falling: true}
}

func TestStep_VelocityHoldsOnUnchangedAltitude(t *testing.T) {
	law := Law{Params: DefaultParams()}

	var s State
	var velocities []float64
	for _, alt := range []float64{100, 100, 90} {
		s, _ = law.Step(s, above(alt), epoch)
		velocities = append(velocities, s.LastVelocity)
	}

	assert.Equal(t, velocities[0], velocities[1], "unchanged altitude keeps the previous estimate")
	assert.Less(t, velocities[2], 0.0)
	// 10 m in one 10 ms period
	assert.InDelta(t, -1000.0, velocities[2], 1e-9)
	assert.Equal(t, 90.0, s.LastAltitude)
}

func TestStep_FirstReadingPrimes(t *testing.T) {
	law := Law{Params: DefaultParams()}

	s, _ := law.Step(State{}, Inputs{}, epoch)
	assert.False(t, s.Primed, "no altitude received yet")

	s, _ = law.Step(s, above(300), epoch)
	assert.True(t, s.Primed)
	assert.Zero(t, s.LastVelocity, "no velocity spike from the neutral default")

	s, _ = law.Step(s, above(299), epoch)
	assert.InDelta(t, -100.0, s.LastVelocity, 1e-9)
}

func TestStep_BelowTriggerBandIsOff(t *testing.T) {
	p := DefaultParams()
	p.TargetAltitude = 8
	p.Tolerance = 5
	law := Law{Params: p}

	s, cmd := law.Step(State{}, above(8), epoch)
	assert.Equal(t, Release, cmd)
	assert.False(t, s.Boosting)
	assert.Nil(t, s.FallingSince)

	// the band edge itself counts as inside
	_, cmd = law.Step(s, falling(p.TriggerAltitude()), epoch)
	assert.Equal(t, Release, cmd)
}

func TestStep_EngagesInTheSameCycle(t *testing.T) {
	p := DefaultParams()
	p.ExpDeceleration = 10 // halt = 50 - (20+10)^2/20 = 5
	law := Law{Params: p}

	s := State{LastAltitude: 50, LastVelocity: -20, Primed: true}
	require.Less(t, HaltAltitude(50, -20, p.HaltCorrection, p.ExpDeceleration), p.CommitAltitude())

	next, cmd := law.Step(s, falling(50), epoch)
	assert.Equal(t, Engage, cmd)
	assert.True(t, next.Boosting)
	require.NotNil(t, next.FallingSince)
	assert.Equal(t, epoch, *next.FallingSince)
	assert.Equal(t, -20.0, next.LastVelocity)
}

func TestStep_HoldsWhileDecelerationSuffices(t *testing.T) {
	law := Law{Params: DefaultParams()}

	s := State{LastAltitude: 50, LastVelocity: -20, Primed: true}
	next, cmd := law.Step(s, falling(50), epoch)
	assert.Equal(t, Hold, cmd)
	assert.False(t, next.Boosting)
	require.NotNil(t, next.FallingSince, "tracking starts before actuation")

	// the fall start is not moved by later cycles
	later := epoch.Add(time.Second)
	next, _ = law.Step(next, falling(50), later)
	assert.Equal(t, epoch, *next.FallingSince)
}

func TestStep_NotFallingAboveBandHolds(t *testing.T) {
	law := Law{Params: DefaultParams()}

	since := epoch
	s := State{LastAltitude: 60, Primed: true, FallingSince: &since, Boosting: true}
	next, cmd := law.Step(s, above(60), epoch.Add(time.Second))
	assert.Equal(t, Hold, cmd)
	assert.Nil(t, next.FallingSince, "a new fall gets a new start time")
	assert.True(t, next.Boosting, "valves are only released below the band")
}

func TestStep_DescendingBelowBandClearsState(t *testing.T) {
	p := DefaultParams()
	p.ExpDeceleration = 10
	law := Law{Params: p}

	s := State{LastAltitude: 50, LastVelocity: -20, Primed: true}
	s, cmd := law.Step(s, falling(50), epoch)
	require.Equal(t, Engage, cmd)

	for _, alt := range []float64{30, 20, 12} {
		s, cmd = law.Step(s, falling(alt), epoch)
	}
	assert.Equal(t, Release, cmd)

	want := State{LastAltitude: 12, LastVelocity: s.LastVelocity, Primed: true}
	if diff := cmp.Diff(want, s); diff != "" {
		t.Errorf("state mismatch (-want +got):\n%s", diff)
	}
}

func TestHaltAltitude(t *testing.T) {
	assert.InDelta(t, 5.0, HaltAltitude(50, -20, 10, 10), 1e-9)
	assert.InDelta(t, 5.0, HaltAltitude(50, 20, 10, 10), 1e-9, "direction does not matter")
	assert.InDelta(t, 100.0, HaltAltitude(100, 0, 0, 500), 1e-9)
}

func TestParams_Validate(t *testing.T) {
	require.NoError(t, DefaultParams().Validate())

	tests := []struct {
		name   string
		modify func(*Params)
	}{
		{"zero period", func(p *Params) { p.Period = 0 }},
		{"zero deceleration", func(p *Params) { p.ExpDeceleration = 0 }},
		{"negative tolerance", func(p *Params) { p.Tolerance = -1 }},
		{"negative margin", func(p *Params) { p.TriggerMargin = -1 }},
		{"commit wider than trigger", func(p *Params) { p.CommitMargin = p.TriggerMargin + 1 }},
		{"negative correction", func(p *Params) { p.HaltCorrection = -1 }},
		{"unknown altitude kind", func(p *Params) { p.AltitudeKind = wire.Kind(42) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			tt.modify(&p)
			assert.ErrorIs(t, p.Validate(), ErrInvalidParams)
		})
	}
}

func TestInputsFrom(t *testing.T) {
	c := cache.New()
	in := InputsFrom(c.Snapshot(), wire.LongDistanceSensor)
	assert.Equal(t, Inputs{}, in)

	require.NoError(t, c.Apply(wire.FillDecimal(wire.Message{Kind: wire.LongDistanceSensor}, 42.5), epoch))
	require.NoError(t, c.Apply(wire.FillIntegral(wire.Message{Kind: wire.IsFalling}, 1), epoch))

	in = InputsFrom(c.Snapshot(), wire.LongDistanceSensor)
	assert.Equal(t, Inputs{Altitude: 42.5, HaveAltitude: true, Falling: true}, in)

	in = InputsFrom(c.Snapshot(), wire.PressureSensorPressure)
	assert.False(t, in.HaveAltitude)
}

func TestCommand_String(t *testing.T) {
	assert.Equal(t, "hold", Hold.String())
	assert.Equal(t, "engage", Engage.String())
	assert.Equal(t, "release", Release.String())
	assert.Equal(t, "Command(9)", Command(9).String())
}
