package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"
)

const (
	mqttQoS         = 1
	publishWait     = 2 * time.Second
	disconnectQuiet = 250
)

// MQTTSink publishes notifications as JSON to a topic.
type MQTTSink struct {
	client mqtt.Client
	topic  string
}

type mqttPayload struct {
	ID               string `json:"id"`
	Prayer           string `json:"prayer"`
	Title            string `json:"title"`
	Body             string `json:"body"`
	ScheduledDelayMs int64  `json:"scheduledDelayMs"`
}

// NewMQTTSink connects to brokerURL and returns a sink publishing to topic.
func NewMQTTSink(brokerURL, clientID, topic string) (*MQTTSink, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		log.Info().Str("broker", brokerURL).Msg("mqtt: connected")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Str("broker", brokerURL).Msg("mqtt: connection lost")
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return NewMQTTSinkWithClient(client, topic), nil
}

// NewMQTTSinkWithClient wraps an already configured client.
func NewMQTTSinkWithClient(client mqtt.Client, topic string) *MQTTSink {
	return &MQTTSink{client: client, topic: topic}
}

func (s *MQTTSink) Send(ctx context.Context, n Notification) error {
	body, err := json.Marshal(mqttPayload{
		ID:               n.ID,
		Prayer:           n.Prayer,
		Title:            n.Title,
		Body:             n.Body,
		ScheduledDelayMs: n.ScheduledDelayMs(),
	})
	if err != nil {
		return err
	}

	token := s.client.Publish(s.topic, mqttQoS, false, body)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(publishWait):
		// The broker will still get it once the client reconnects.
		log.Warn().Str("topic", s.topic).Str("id", n.ID).Msg("mqtt: publish not acknowledged in time")
		return nil
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish to %s: %w", s.topic, err)
	}
	return nil
}

// Close disconnects the client.
func (s *MQTTSink) Close() {
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(disconnectQuiet)
	}
}
