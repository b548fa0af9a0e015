// Package emitter publishes lighting commands and forecast records over MQTT.
package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/candela/beatlight/internal/config"
	"github.com/candela/beatlight/internal/lighting"
)

// commandQoS gives lighting commands at-least-once delivery; forecast
// records are observational and go out fire-and-forget.
const (
	commandQoS  byte = 1
	forecastQoS byte = 0
)

// MQTTEmitter publishes lighting commands and forecast records to the broker.
type MQTTEmitter struct {
	cfg      *config.MQTTConfig
	clientID string
	Client   mqtt.Client // Exported for control plane

	timebase Timebase

	mu        sync.RWMutex
	published map[string]uint64 // count per topic
	errors    uint64
	connected bool
}

// NewMQTTEmitter creates a new MQTT emitter. The run id is appended to the
// configured client id so concurrent runs never evict each other from the
// broker. The wall-clock baseline is captured here, before the pipeline
// starts producing timestamps.
func NewMQTTEmitter(cfg *config.MQTTConfig, runID string) *MQTTEmitter {
	clientID := cfg.ClientID
	if len(runID) >= 8 {
		clientID = fmt.Sprintf("%s_%s", cfg.ClientID, runID[:8])
	}
	return &MQTTEmitter{
		cfg:       cfg,
		clientID:  clientID,
		timebase:  NewTimebase(time.Now()),
		published: make(map[string]uint64),
	}
}

// Connect establishes connection to the MQTT broker
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(e.cfg.BrokerURI)
	opts.SetClientID(e.clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.mu.Lock()
		e.connected = true
		e.mu.Unlock()
		slog.Info("mqtt connection established",
			"broker", e.cfg.BrokerURI,
			"client_id", e.clientID,
			"auto_reconnect", "enabled")
	}

	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.mu.Lock()
		e.connected = false
		e.mu.Unlock()
		slog.Warn("mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", e.cfg.BrokerURI)
	}

	e.Client = mqtt.NewClient(opts)

	slog.Info("connecting to mqtt broker", "broker", e.cfg.BrokerURI)

	token := e.Client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	e.mu.Lock()
	e.connected = true
	e.mu.Unlock()

	return nil
}

// PublishCommand composes the wall-clock target for one lighting command and
// publishes it at QoS 1. It never waits on the broker; delivery errors are
// logged from the token callback.
func (e *MQTTEmitter) PublishCommand(cmd lighting.Command) error {
	sec, usec := e.timebase.Compose(cmd.TPred)
	payload, err := json.Marshal(commandPayload{
		UnixTime:     sec,
		Microseconds: usec,
		Confidence:   cmd.Confidence,
		R:            cmd.R,
		G:            cmd.G,
		B:            cmd.B,
		EventID:      cmd.EventID,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal command: %w", err)
	}
	return e.publish(e.cfg.Topic, commandQoS, payload)
}

// PublishForecast publishes one frame's forecast record at QoS 0.
func (e *MQTTEmitter) PublishForecast(rec ForecastRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal forecast: %w", err)
	}
	return e.publish(e.cfg.ForecastTopic, forecastQoS, payload)
}

func (e *MQTTEmitter) publish(topic string, qos byte, payload []byte) error {
	if !e.isConnected() {
		e.mu.Lock()
		e.errors++
		e.mu.Unlock()
		return fmt.Errorf("mqtt not connected")
	}

	token := e.Client.Publish(topic, qos, false, payload)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			e.mu.Lock()
			e.errors++
			e.mu.Unlock()
			slog.Warn("mqtt publish failed", "topic", topic, "error", err)
			return
		}
		e.mu.Lock()
		e.published[topic]++
		e.mu.Unlock()
	}()

	return nil
}

// Disconnect closes the MQTT connection
func (e *MQTTEmitter) Disconnect() error {
	if e.Client != nil && e.Client.IsConnected() {
		e.Client.Disconnect(250) // 250ms grace period
		slog.Info("mqtt disconnected")
	}

	e.mu.Lock()
	e.connected = false
	e.mu.Unlock()

	return nil
}

// Stats returns emitter statistics
func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	published := make(map[string]uint64)
	for k, v := range e.published {
		published[k] = v
	}

	return Stats{
		Connected: e.connected,
		Published: published,
		Errors:    e.errors,
	}
}

// Stats contains emitter statistics
type Stats struct {
	Connected bool
	Published map[string]uint64
	Errors    uint64
}

func (e *MQTTEmitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}
