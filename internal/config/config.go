// Package config loads the station configuration file.
//
// Every field is optional. Fields are pointers so that an omitted field can
// be told apart from an explicit zero; the Get* methods supply defaults for
// anything left out, which keeps partial configs safe.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pigeon9001/pigeon/internal/actuator"
	"github.com/pigeon9001/pigeon/internal/control"
	"github.com/pigeon9001/pigeon/internal/wire"
)

// maxFileSize caps the config file at 1MB.
const maxFileSize = 1 * 1024 * 1024

const (
	DefaultAddress   = "ipc:///tmp/9001d.ipc"
	DefaultListen    = ":3000"
	DefaultMQTTTopic = "pigeon/frames"
	DefaultClientID  = "pigeon-station"
)

// Actuator driver names.
const (
	DriverRecorder = "recorder"
	DriverSerial   = "serial"
	DriverDisabled = "disabled"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the root of the station configuration.
type Config struct {
	// Address is where the station re-publishes every frame it receives.
	Address *string `json:"address,omitempty" yaml:"address,omitempty"`
	// Publishers are the producer addresses the station subscribes to.
	Publishers []string `json:"publishers,omitempty" yaml:"publishers,omitempty"`
	// Listen is the HTTP address of the query API.
	Listen  *string `json:"listen,omitempty" yaml:"listen,omitempty"`
	Verbose *bool   `json:"verbose,omitempty" yaml:"verbose,omitempty"`

	Control  ControlConfig  `json:"control" yaml:"control"`
	Actuator ActuatorConfig `json:"actuator" yaml:"actuator"`
	// MQTT is optional; when absent no MQTT mirror runs.
	MQTT *MQTTConfig `json:"mqtt,omitempty" yaml:"mqtt,omitempty"`
}

// ControlConfig holds the control law constants.
type ControlConfig struct {
	TargetAltitude  *float64 `json:"target_altitude,omitempty" yaml:"target_altitude,omitempty"`
	Tolerance       *float64 `json:"tolerance,omitempty" yaml:"tolerance,omitempty"`
	TriggerMargin   *float64 `json:"trigger_margin,omitempty" yaml:"trigger_margin,omitempty"`
	CommitMargin    *float64 `json:"commit_margin,omitempty" yaml:"commit_margin,omitempty"`
	ExpDeceleration *float64 `json:"exp_deceleration,omitempty" yaml:"exp_deceleration,omitempty"`
	HaltCorrection  *float64 `json:"halt_correction,omitempty" yaml:"halt_correction,omitempty"`
	Period          *string  `json:"period,omitempty" yaml:"period,omitempty"` // duration string like "10ms"
	AltitudeKind    *string  `json:"altitude_kind,omitempty" yaml:"altitude_kind,omitempty"`
}

// ActuatorConfig selects and configures the valve driver.
type ActuatorConfig struct {
	Driver   *string `json:"driver,omitempty" yaml:"driver,omitempty"`
	BoostPin *int    `json:"boost_pin,omitempty" yaml:"boost_pin,omitempty"`
	BrakePin *int    `json:"brake_pin,omitempty" yaml:"brake_pin,omitempty"`
	// Port is the serial device of the relay board, for the serial driver.
	Port   string               `json:"port,omitempty" yaml:"port,omitempty"`
	Serial actuator.PortOptions `json:"serial" yaml:"serial"`
}

// MQTTConfig configures the MQTT mirror.
type MQTTConfig struct {
	Broker   string  `json:"broker" yaml:"broker"`
	Topic    *string `json:"topic,omitempty" yaml:"topic,omitempty"`
	ClientID *string `json:"client_id,omitempty" yaml:"client_id,omitempty"`
}

// Load reads a JSON (.json) or YAML (.yaml, .yml) config file and validates
// it.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", ext, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the whole configuration, including that it yields a valid
// control law.
func (c *Config) Validate() error {
	addr := c.GetAddress()
	if addr == "" {
		return fmt.Errorf("%w: address must not be empty", ErrInvalid)
	}
	if slices.Contains(c.Publishers, addr) {
		return fmt.Errorf("%w: re-publish address %s is also listed as a publisher", ErrInvalid, addr)
	}
	for i, p := range c.Publishers {
		if p == "" {
			return fmt.Errorf("%w: publishers[%d] is empty", ErrInvalid, i)
		}
	}

	if _, err := c.Control.Params(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	if err := c.Actuator.validate(); err != nil {
		return err
	}

	if c.MQTT != nil && c.MQTT.Broker == "" {
		return fmt.Errorf("%w: mqtt.broker must be set when mqtt is configured", ErrInvalid)
	}
	return nil
}

// GetAddress returns the re-publish address or the default.
func (c *Config) GetAddress() string {
	if c.Address == nil {
		return DefaultAddress
	}
	return *c.Address
}

// GetListen returns the HTTP listen address or the default.
func (c *Config) GetListen() string {
	if c.Listen == nil {
		return DefaultListen
	}
	return *c.Listen
}

// GetVerbose returns the verbose flag or false.
func (c *Config) GetVerbose() bool {
	if c.Verbose == nil {
		return false
	}
	return *c.Verbose
}

// GetPeriod parses and returns the control period.
func (c ControlConfig) GetPeriod() (time.Duration, error) {
	if c.Period == nil || *c.Period == "" {
		return control.DefaultParams().Period, nil
	}
	d, err := time.ParseDuration(*c.Period)
	if err != nil {
		return 0, fmt.Errorf("invalid period %q: %w", *c.Period, err)
	}
	return d, nil
}

// GetAltitudeKind returns the kind read as altitude or the default.
func (c ControlConfig) GetAltitudeKind() (wire.Kind, error) {
	if c.AltitudeKind == nil {
		return control.DefaultParams().AltitudeKind, nil
	}
	return wire.ParseKind(*c.AltitudeKind)
}

// Params builds and validates the control law parameters.
func (c ControlConfig) Params() (control.Params, error) {
	p := control.DefaultParams()
	set := func(dst *float64, src *float64) {
		if src != nil {
			*dst = *src
		}
	}
	set(&p.TargetAltitude, c.TargetAltitude)
	set(&p.Tolerance, c.Tolerance)
	set(&p.TriggerMargin, c.TriggerMargin)
	set(&p.CommitMargin, c.CommitMargin)
	set(&p.ExpDeceleration, c.ExpDeceleration)
	set(&p.HaltCorrection, c.HaltCorrection)

	var err error
	if p.Period, err = c.GetPeriod(); err != nil {
		return control.Params{}, err
	}
	if p.AltitudeKind, err = c.GetAltitudeKind(); err != nil {
		return control.Params{}, err
	}
	if err := p.Validate(); err != nil {
		return control.Params{}, err
	}
	return p, nil
}

// GetDriver returns the driver name, disabled when unset. Driving real
// valves, or recording writes, has to be asked for.
func (a ActuatorConfig) GetDriver() string {
	if a.Driver == nil {
		return DriverDisabled
	}
	return *a.Driver
}

// GetBoostPin returns the boost valve pin, 0 when unset.
func (a ActuatorConfig) GetBoostPin() actuator.Pin {
	if a.BoostPin == nil {
		return 0
	}
	return actuator.Pin(*a.BoostPin)
}

// GetBrakePin returns the brake valve pin, 1 when unset.
func (a ActuatorConfig) GetBrakePin() actuator.Pin {
	if a.BrakePin == nil {
		return 1
	}
	return actuator.Pin(*a.BrakePin)
}

func (a ActuatorConfig) validate() error {
	switch a.GetDriver() {
	case DriverRecorder, DriverDisabled:
	case DriverSerial:
		if a.Port == "" {
			return fmt.Errorf("%w: actuator.port is required for the serial driver", ErrInvalid)
		}
		if _, err := a.Serial.Normalize(); err != nil {
			return fmt.Errorf("%w: actuator.serial: %w", ErrInvalid, err)
		}
	default:
		return fmt.Errorf("%w: unknown actuator driver %q", ErrInvalid, a.GetDriver())
	}
	for name, pin := range map[string]*int{"boost_pin": a.BoostPin, "brake_pin": a.BrakePin} {
		if pin != nil && (*pin < 0 || *pin > 255) {
			return fmt.Errorf("%w: actuator.%s %d out of range", ErrInvalid, name, *pin)
		}
	}
	if a.GetBoostPin() == a.GetBrakePin() {
		return fmt.Errorf("%w: boost and brake valves share pin %d", ErrInvalid, a.GetBoostPin())
	}
	return nil
}

// GetTopic returns the MQTT topic or the default.
func (m *MQTTConfig) GetTopic() string {
	if m.Topic == nil {
		return DefaultMQTTTopic
	}
	return *m.Topic
}

// GetClientID returns the MQTT client ID or the default.
func (m *MQTTConfig) GetClientID() string {
	if m.ClientID == nil {
		return DefaultClientID
	}
	return *m.ClientID
}
