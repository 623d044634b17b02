// v2
// internal/transport/mqtt.go
package transport

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTOptions carries the broker settings both binaries share.
type MQTTOptions struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
}

// MQTT adapts a paho client to the Transport interface. Subscriptions
// are re-established on reconnect by the paho session itself
// (CleanSession false is deliberately not used; OnConnect resubscribes).
type MQTT struct {
	client  mqtt.Client
	log     *slog.Logger
	mu      sync.Mutex
	subs    []subscription
	subsSet bool
}

type subscription struct {
	filter  string
	handler Handler
}

const (
	mqttConnectTimeout = 10 * time.Second
	mqttQoS            = 0
)

// ConnectMQTT dials the broker and blocks until the session is up or
// the connect timeout passes.
func ConnectMQTT(opts MQTTOptions, log *slog.Logger) (*MQTT, error) {
	m := &MQTT{log: log}

	o := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(mqttConnectTimeout)
	if opts.Username != "" {
		o.SetUsername(opts.Username)
		o.SetPassword(opts.Password)
	}
	o.SetOnConnectHandler(func(c mqtt.Client) {
		log.Info("mqtt_connected", slog.String("broker", opts.BrokerURL))
		m.resubscribe(c)
	})
	o.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn("mqtt_connection_lost", slog.Any("err", err))
	})

	client := mqtt.NewClient(o)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, fmt.Errorf("connect to %s: timeout", opts.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", opts.BrokerURL, err)
	}
	m.client = client
	return m, nil
}

// Publish sends one message at QoS 0. Delivery is fire-and-forget by
// contract; the dispatch layer owns confirmation.
func (m *MQTT) Publish(topic, payload string) error {
	token := m.client.Publish(topic, mqttQoS, false, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe registers a handler. The paho callback runs on the
// client's delivery goroutine; handlers must only enqueue.
func (m *MQTT) Subscribe(filter string, h Handler) error {
	m.mu.Lock()
	m.subs = append(m.subs, subscription{filter: filter, handler: h})
	m.mu.Unlock()
	token := m.client.Subscribe(filter, mqttQoS, func(_ mqtt.Client, msg mqtt.Message) {
		h(msg.Topic(), string(msg.Payload()))
	})
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", filter, err)
	}
	return nil
}

// resubscribe replays the recorded subscriptions after a reconnect.
func (m *MQTT) resubscribe(c mqtt.Client) {
	m.mu.Lock()
	if !m.subsSet {
		m.subsSet = true
		m.mu.Unlock()
		return
	}
	subs := make([]subscription, len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()
	for _, s := range subs {
		s := s
		token := c.Subscribe(s.filter, mqttQoS, func(_ mqtt.Client, msg mqtt.Message) {
			s.handler(msg.Topic(), string(msg.Payload()))
		})
		token.Wait()
		if err := token.Error(); err != nil {
			m.log.Error("mqtt_resubscribe_failed", slog.String("filter", s.filter), slog.Any("err", err))
		}
	}
}

// Close disconnects, allowing in-flight work a short drain.
func (m *MQTT) Close() {
	m.client.Disconnect(250)
}
