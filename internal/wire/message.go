package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// FrameSize is the exact length of an encoded Message:
//
//	offset 0  u32 kind      little endian
//	offset 4  i16 integral  little endian
//	offset 6  f32 decimal   little endian IEEE 754
//
// The layout matches the fixed-int bincode encoding used by the first
// generation of producers, so both can share a bus.
const FrameSize = 10

var (
	// ErrFrameSize is returned by Decode for input that is not exactly one frame.
	ErrFrameSize = errors.New("frame has wrong length")
	// ErrShortBuffer is returned by EncodeTo when dst cannot hold a frame.
	ErrShortBuffer = errors.New("buffer too small for frame")
	// ErrMalformed is returned for a payload whose decimal is NaN or infinite.
	ErrMalformed = errors.New("malformed numeric payload")
)

// Message is one sample of one measurement kind. Integral is the coarse
// representation of Decimal; producers keep the two consistent with
// FillDecimal and FillIntegral.
type Message struct {
	Kind     Kind    `json:"kind"`
	Integral int16   `json:"integral"`
	Decimal  float32 `json:"decimal"`
}

// FillDecimal sets the decimal value and truncates it towards zero into the
// integral field, saturating at the int16 range.
func FillDecimal(m Message, decimal float32) Message {
	m.Decimal = decimal
	m.Integral = truncInt16(decimal)
	return m
}

// FillIntegral sets the integral value and mirrors it exactly into the
// decimal field.
func FillIntegral(m Message, integral int16) Message {
	m.Integral = integral
	m.Decimal = float32(integral)
	return m
}

func truncInt16(v float32) int16 {
	switch {
	case math.IsNaN(float64(v)):
		return 0
	case v >= math.MaxInt16:
		return math.MaxInt16
	case v <= math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}

func checkPayload(m Message) error {
	if !m.Kind.Valid() {
		return fmt.Errorf("%w: tag %d", ErrUnknownKind, uint32(m.Kind))
	}
	d := float64(m.Decimal)
	if math.IsNaN(d) || math.IsInf(d, 0) {
		return fmt.Errorf("%w: decimal %v", ErrMalformed, m.Decimal)
	}
	return nil
}

// EncodeTo writes m into dst and returns the number of bytes written, which
// is always FrameSize on success. Nothing is written on error.
func EncodeTo(dst []byte, m Message) (int, error) {
	if len(dst) < FrameSize {
		return 0, fmt.Errorf("%w: have %d bytes, need %d", ErrShortBuffer, len(dst), FrameSize)
	}
	if err := checkPayload(m); err != nil {
		return 0, err
	}
	binary.LittleEndian.PutUint32(dst[0:4], uint32(m.Kind))
	binary.LittleEndian.PutUint16(dst[4:6], uint16(m.Integral))
	binary.LittleEndian.PutUint32(dst[6:10], math.Float32bits(m.Decimal))
	return FrameSize, nil
}

// Encode returns a freshly allocated frame for m.
func Encode(m Message) ([]byte, error) {
	buf := make([]byte, FrameSize)
	if _, err := EncodeTo(buf, m); err != nil {
		return nil, err
	}
	return buf, nil
}

// Decode parses exactly one frame. On error the zero Message is returned.
func Decode(b []byte) (Message, error) {
	if len(b) != FrameSize {
		return Message{}, fmt.Errorf("%w: got %d bytes, want %d", ErrFrameSize, len(b), FrameSize)
	}
	m := Message{
		Kind:     Kind(binary.LittleEndian.Uint32(b[0:4])),
		Integral: int16(binary.LittleEndian.Uint16(b[4:6])),
		Decimal:  math.Float32frombits(binary.LittleEndian.Uint32(b[6:10])),
	}
	if err := checkPayload(m); err != nil {
		return Message{}, err
	}
	return m, nil
}
