// Package actuator drives the digital outputs behind the boost and brake
// valves.
//
// Drivers only need to implement Driver: a synchronous, non-retrying
// Set(pin, level). A failed Set is fatal to the caller.
//
// A duty-cycle driver (a pin toggled high for fraction × cycle and low for
// the rest, fed by a shared fraction from another goroutine) fits behind the
// same interface by owning its own toggling goroutine and treating High/Low
// as fraction 1/0. None ships here because the control law only ever needs
// fully open or fully closed valves.
package actuator

import (
	"fmt"
	"sync"
)

// Level is the electrical level of a digital output.
type Level uint8

const (
	Low Level = iota
	High
)

func (l Level) String() string {
	switch l {
	case Low:
		return "low"
	case High:
		return "high"
	default:
		return fmt.Sprintf("Level(%d)", uint8(l))
	}
}

// Pin identifies a digital output on the driver.
type Pin uint8

// Driver sets digital outputs.
type Driver interface {
	Set(pin Pin, level Level) error
}

// Valves is the pair of outputs the control loop commands together.
// Writes that would not change a pin's level are skipped; the first write
// to each pin is always sent so the hardware starts from a known state.
type Valves struct {
	driver Driver
	boost  Pin
	brake  Pin

	mu    sync.Mutex
	known map[Pin]Level
}

// NewValves wraps driver. boost and brake must be different pins.
func NewValves(driver Driver, boost, brake Pin) (*Valves, error) {
	if boost == brake {
		return nil, fmt.Errorf("boost and brake valves share pin %d", boost)
	}
	return &Valves{
		driver: driver,
		boost:  boost,
		brake:  brake,
		known:  make(map[Pin]Level, 2),
	}, nil
}

// Engage drives both valves high.
func (v *Valves) Engage() error {
	return v.setBoth(High)
}

// Release drives both valves low.
func (v *Valves) Release() error {
	return v.setBoth(Low)
}

func (v *Valves) setBoth(level Level) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, pin := range []Pin{v.boost, v.brake} {
		if cur, ok := v.known[pin]; ok && cur == level {
			continue
		}
		if err := v.driver.Set(pin, level); err != nil {
			// the pin may be in either state now
			delete(v.known, pin)
			return fmt.Errorf("set pin %d %s: %w", pin, level, err)
		}
		v.known[pin] = level
	}
	return nil
}

// Levels reports the last level successfully written to each valve. ok is
// false until both pins have been written.
func (v *Valves) Levels() (boost, brake Level, ok bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	boost, okBoost := v.known[v.boost]
	brake, okBrake := v.known[v.brake]
	return boost, brake, okBoost && okBrake
}
