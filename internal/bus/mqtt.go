package bus

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const mqttConnectTimeout = 5 * time.Second

// MQTTMirror copies raw frames onto an MQTT topic for dashboards that speak
// MQTT rather than nanomsg. Publishing is QoS 0 and nothing waits on the
// broker, so a slow or absent broker never stalls the caller.
type MQTTMirror struct {
	client mqtt.Client
	topic  string
}

// ConnectMQTT connects a client to broker (for example tcp://localhost:1883).
func ConnectMQTT(broker, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true)
	c := mqtt.NewClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, fmt.Errorf("connect mqtt broker %s: timed out after %s", broker, mqttConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect mqtt broker %s: %w", broker, err)
	}
	return c, nil
}

// NewMQTTMirror mirrors frames to topic through client.
func NewMQTTMirror(client mqtt.Client, topic string) *MQTTMirror {
	return &MQTTMirror{client: client, topic: topic}
}

// TryPublish queues frame for the broker without waiting for delivery.
func (m *MQTTMirror) TryPublish(frame []byte) {
	if !m.client.IsConnectionOpen() {
		return
	}
	m.client.Publish(m.topic, 0, false, frame)
}

// Close disconnects from the broker, allowing a short drain.
func (m *MQTTMirror) Close() error {
	m.client.Disconnect(250)
	return nil
}
