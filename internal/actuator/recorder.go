package actuator

import (
	"sync"

	"github.com/pigeon9001/pigeon/internal/monitoring"
)

// Write is one call observed by a Recorder.
type Write struct {
	Pin   Pin
	Level Level
}

// Recorder is an in-memory Driver. It keeps every write in order, which makes
// it the driver of choice for tests and dry runs.
type Recorder struct {
	mu     sync.Mutex
	writes []Write
	levels map[Pin]Level

	// FailWith, if set, is returned by every Set instead of recording it.
	FailWith error
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{levels: make(map[Pin]Level)}
}

// Set records the write.
func (r *Recorder) Set(pin Pin, level Level) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailWith != nil {
		return r.FailWith
	}
	r.writes = append(r.writes, Write{Pin: pin, Level: level})
	r.levels[pin] = level
	return nil
}

// Writes returns a copy of all recorded writes.
func (r *Recorder) Writes() []Write {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Write, len(r.writes))
	copy(out, r.writes)
	return out
}

// Level returns the last level written to pin, Low if it was never written.
func (r *Recorder) Level(pin Pin) Level {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.levels[pin]
}

// Disabled is a Driver for bench runs without valve hardware. It logs every
// write and never fails.
type Disabled struct{}

// Set logs the write.
func (Disabled) Set(pin Pin, level Level) error {
	monitoring.Logf("actuator disabled: pin %d -> %s", pin, level)
	return nil
}
