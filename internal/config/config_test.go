package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pigeon9001/pigeon/internal/actuator"
	"github.com/pigeon9001/pigeon/internal/control"
	"github.com/pigeon9001/pigeon/internal/wire"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func ptr[T any](v T) *T { return &v }

func TestEmptyConfigDefaults(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DefaultAddress, cfg.GetAddress())
	assert.Equal(t, DefaultListen, cfg.GetListen())
	assert.False(t, cfg.GetVerbose())
	assert.Equal(t, DriverDisabled, cfg.Actuator.GetDriver(), "no driver configured means logged writes only")
	assert.Equal(t, actuator.Pin(0), cfg.Actuator.GetBoostPin())
	assert.Equal(t, actuator.Pin(1), cfg.Actuator.GetBrakePin())

	p, err := cfg.Control.Params()
	require.NoError(t, err)
	if diff := cmp.Diff(control.DefaultParams(), p); diff != "" {
		t.Errorf("params mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadJSON(t *testing.T) {
	path := writeConfig(t, "station.json", `{
  "address": "ipc:///tmp/pigeon-out.ipc",
  "publishers": ["ipc:///tmp/gp2d12.ipc", "ipc:///tmp/lsm9ds0.ipc"],
  "listen": "127.0.0.1:8080",
  "verbose": true,
  "control": {
    "target_altitude": 10,
    "exp_deceleration": 250,
    "period": "20ms",
    "altitude_kind": "PressureSensorPressure"
  },
  "actuator": {"driver": "recorder", "boost_pin": 17, "brake_pin": 27},
  "mqtt": {"broker": "tcp://localhost:1883"}
}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "ipc:///tmp/pigeon-out.ipc", cfg.GetAddress())
	assert.Equal(t, []string{"ipc:///tmp/gp2d12.ipc", "ipc:///tmp/lsm9ds0.ipc"}, cfg.Publishers)
	assert.Equal(t, "127.0.0.1:8080", cfg.GetListen())
	assert.True(t, cfg.GetVerbose())
	assert.Equal(t, DriverRecorder, cfg.Actuator.GetDriver())
	assert.Equal(t, actuator.Pin(17), cfg.Actuator.GetBoostPin())
	assert.Equal(t, actuator.Pin(27), cfg.Actuator.GetBrakePin())

	require.NotNil(t, cfg.MQTT)
	assert.Equal(t, DefaultMQTTTopic, cfg.MQTT.GetTopic())
	assert.Equal(t, DefaultClientID, cfg.MQTT.GetClientID())

	p, err := cfg.Control.Params()
	require.NoError(t, err)
	want := control.DefaultParams()
	want.TargetAltitude = 10
	want.ExpDeceleration = 250
	want.Period = 20 * time.Millisecond
	want.AltitudeKind = wire.PressureSensorPressure
	assert.Equal(t, want, p)
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "station.yaml", `
address: tcp://127.0.0.1:9001
publishers:
  - tcp://127.0.0.1:9101
control:
  tolerance: 3
  halt_correction: 4.5
actuator:
  driver: serial
  port: /dev/ttyUSB0
  serial:
    baud_rate: 115200
    parity: even
mqtt:
  broker: tcp://broker:1883
  topic: vehicle/7
  client_id: pad-7
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "tcp://127.0.0.1:9001", cfg.GetAddress())
	assert.Equal(t, DriverSerial, cfg.Actuator.GetDriver())
	assert.Equal(t, "/dev/ttyUSB0", cfg.Actuator.Port)
	assert.Equal(t, actuator.PortOptions{BaudRate: 115200, Parity: "even"}, cfg.Actuator.Serial)
	assert.Equal(t, "vehicle/7", cfg.MQTT.GetTopic())
	assert.Equal(t, "pad-7", cfg.MQTT.GetClientID())

	p, err := cfg.Control.Params()
	require.NoError(t, err)
	assert.Equal(t, 3.0, p.Tolerance)
	assert.Equal(t, 4.5, p.HaltCorrection)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		body    string
		wantErr string
	}{
		{"wrong extension", "station.toml", `address = "x"`, "extension"},
		{"bad json", "station.json", `{"address": `, "failed to parse"},
		{"bad yaml", "station.yml", "publishers: [unterminated", "failed to parse"},
		{"republish among publishers", "station.json",
			`{"address": "ipc:///tmp/a.ipc", "publishers": ["ipc:///tmp/a.ipc"]}`, "also listed as a publisher"},
		{"empty publisher", "station.json", `{"publishers": [""]}`, "publishers[0]"},
		{"bad period", "station.json", `{"control": {"period": "fast"}}`, "invalid period"},
		{"negative period", "station.json", `{"control": {"period": "-10ms"}}`, "period must be positive"},
		{"zero deceleration", "station.json", `{"control": {"exp_deceleration": 0}}`, "exp_deceleration"},
		{"unknown altitude kind", "station.json", `{"control": {"altitude_kind": "Barometer"}}`, "unknown measurement kind"},
		{"shared pins", "station.json", `{"actuator": {"boost_pin": 4, "brake_pin": 4}}`, "share pin 4"},
		{"pin out of range", "station.json", `{"actuator": {"boost_pin": 300}}`, "out of range"},
		{"unknown driver", "station.json", `{"actuator": {"driver": "pwm"}}`, "unknown actuator driver"},
		{"serial without port", "station.json", `{"actuator": {"driver": "serial"}}`, "actuator.port"},
		{"bad serial parity", "station.json",
			`{"actuator": {"driver": "serial", "port": "/dev/ttyS0", "serial": {"parity": "M"}}}`, "parity"},
		{"mqtt without broker", "station.json", `{"mqtt": {"topic": "x"}}`, "mqtt.broker"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.file, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadValidationWrapsErrInvalid(t *testing.T) {
	_, err := Load(writeConfig(t, "station.json", `{"control": {"commit_margin": 9}}`))
	assert.ErrorIs(t, err, ErrInvalid)
	assert.ErrorIs(t, err, control.ErrInvalidParams)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadTooLarge(t *testing.T) {
	body := `{"publishers": ["` + strings.Repeat("x", maxFileSize) + `"]}`
	_, err := Load(writeConfig(t, "big.json", body))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestExplicitZeroOverridesDefault(t *testing.T) {
	cfg := &Config{Control: ControlConfig{HaltCorrection: ptr(0.0), TargetAltitude: ptr(0.0)}}
	p, err := cfg.Control.Params()
	require.NoError(t, err)
	assert.Zero(t, p.HaltCorrection)
	assert.Zero(t, p.TargetAltitude)
}
