// Package wire defines the measurement kinds carried on the bus and the
// fixed-size binary frame every producer and consumer agrees on.
package wire

import (
	"errors"
	"fmt"
)

// ErrUnknownKind is returned for a kind tag or name outside the enumeration.
var ErrUnknownKind = errors.New("unknown measurement kind")

// Kind identifies the physical quantity a Message carries. The ordinal is the
// value written on the wire, so the order below must never change.
type Kind uint32

const (
	PressureSensorTemperature Kind = iota
	PressureSensorPressure
	LongDistanceSensor
	AccelerometerZ
	GyroscopeX
	GyroscopeY
	IsFalling
	PowerButton
)

// NumKinds is the size of the enumeration. Tables indexed by Kind use it as
// their fixed length.
const NumKinds = int(PowerButton) + 1

var kindNames = [NumKinds]string{
	PressureSensorTemperature: "PressureSensorTemperature",
	PressureSensorPressure:    "PressureSensorPressure",
	LongDistanceSensor:        "LongDistanceSensor",
	AccelerometerZ:            "AccelerometerZ",
	GyroscopeX:                "GyroscopeX",
	GyroscopeY:                "GyroscopeY",
	IsFalling:                 "IsFalling",
	PowerButton:               "PowerButton",
}

// Kinds returns every kind in ordinal order.
func Kinds() []Kind {
	kinds := make([]Kind, NumKinds)
	for i := range kinds {
		kinds[i] = Kind(i)
	}
	return kinds
}

// Valid reports whether k is part of the enumeration.
func (k Kind) Valid() bool {
	return int(k) < NumKinds
}

func (k Kind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("Kind(%d)", uint32(k))
	}
	return kindNames[k]
}

// ParseKind maps a canonical kind name such as "LongDistanceSensor" to its
// Kind. Matching is exact.
func ParseKind(name string) (Kind, error) {
	for i, n := range kindNames {
		if n == name {
			return Kind(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, name)
}

// MarshalText encodes the kind by name so JSON and YAML carry readable values.
func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, uint32(k))
	}
	return []byte(kindNames[k]), nil
}

// UnmarshalText is the inverse of MarshalText.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
