// Package producer contains the sensor side of the bus: samplers that turn a
// reading into a wire message and the loop that publishes them.
package producer

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/pigeon9001/pigeon/internal/monitoring"
	"github.com/pigeon9001/pigeon/internal/timeutil"
	"github.com/pigeon9001/pigeon/internal/wire"
)

// Sampler produces the next message to publish.
type Sampler interface {
	Sample() (wire.Message, error)
}

// SamplerFunc adapts a function to Sampler.
type SamplerFunc func() (wire.Message, error)

// Sample calls f.
func (f SamplerFunc) Sample() (wire.Message, error) { return f() }

// Uniform draws decimal values uniformly from [Min, Max) for one kind. It
// stands in for a sensor on a bench without hardware.
type Uniform struct {
	kind wire.Kind
	dist distuv.Uniform
}

// NewUniform returns a sampler for kind over [min, max). seed fixes the
// sequence; two samplers with the same seed produce the same values.
func NewUniform(kind wire.Kind, min, max float64, seed uint64) (*Uniform, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("uniform sampler: %w: %d", wire.ErrUnknownKind, uint32(kind))
	}
	if !(min < max) {
		return nil, fmt.Errorf("uniform sampler: empty range [%g, %g)", min, max)
	}
	return &Uniform{
		kind: kind,
		dist: distuv.Uniform{Min: min, Max: max, Src: rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)},
	}, nil
}

// Sample returns the next random value.
func (u *Uniform) Sample() (wire.Message, error) {
	return wire.FillDecimal(wire.Message{Kind: u.kind}, float32(u.dist.Rand())), nil
}

const (
	// SmootherWindow is how many raw readings the smoother keeps.
	SmootherWindow = 25
	// smootherTrim readings are dropped from each end before averaging.
	smootherTrim = SmootherWindow / 5
)

// Smoother wraps a noisy sampler and publishes the mean of the middle three
// fifths of its last SmootherWindow readings. The window starts filled with
// zeros, so the output ramps up over the first readings.
type Smoother struct {
	src Sampler

	mu     sync.Mutex
	window [SmootherWindow]float64
	next   int
	sorted []float64
}

// NewSmoother smooths the decimal values of src.
func NewSmoother(src Sampler) *Smoother {
	return &Smoother{src: src, sorted: make([]float64, SmootherWindow)}
}

// Sample reads src once and returns the trimmed mean of the window.
func (s *Smoother) Sample() (wire.Message, error) {
	raw, err := s.src.Sample()
	if err != nil {
		return wire.Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.window[s.next] = float64(raw.Decimal)
	s.next = (s.next + 1) % SmootherWindow

	copy(s.sorted, s.window[:])
	sort.Float64s(s.sorted)
	mean := stat.Mean(s.sorted[smootherTrim:SmootherWindow-smootherTrim], nil)

	return wire.FillDecimal(wire.Message{Kind: raw.Kind}, float32(mean)), nil
}

// FallingThreshold is the vertical acceleration in m/s² below which the
// vehicle is considered to be falling.
const FallingThreshold = 6.0

// FallingFromAccel derives the IsFalling message from a vertical
// acceleration reading: 1 while in free fall, 0 otherwise.
func FallingFromAccel(z float64) wire.Message {
	var v int16
	if z < FallingThreshold {
		v = 1
	}
	return wire.FillIntegral(wire.Message{Kind: wire.IsFalling}, v)
}

// Publisher sends one message. *bus.Publisher satisfies it.
type Publisher interface {
	PublishMessage(m wire.Message) error
}

// Run samples and publishes once per period until ctx is cancelled. A
// sampling or publishing failure is returned and ends the producer. A nil
// clock means real time.
func Run(ctx context.Context, pub Publisher, s Sampler, clock timeutil.Clock, period time.Duration) error {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	task := &timeutil.Periodic{
		Clock:  clock,
		Period: period,
		OnOverrun: func(cycle uint64, elapsed time.Duration) {
			monitoring.Logf("producer sample %d took %s, period %s", cycle, elapsed, period)
		},
	}
	return task.Run(ctx, func(ctx context.Context) error {
		m, err := s.Sample()
		if err != nil {
			return fmt.Errorf("sample: %w", err)
		}
		if err := pub.PublishMessage(m); err != nil {
			return err
		}
		return nil
	})
}
