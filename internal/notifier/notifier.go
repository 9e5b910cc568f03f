// Package notifier fans confirmed price changes out to an MQTT bus for
// home-automation consumption. Delivery is at-most-once; failures are
// reported to the caller, who logs and moves on.
package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"fuelwatcher/internal/model"
)

// Notifier publishes one message per written change. Invoked only after the
// point was durably stored.
type Notifier interface {
	PublishChange(ctx context.Context, point model.PricePoint, trend model.Trend) error
	Close()
}

// Options parameterise the MQTT notifier.
type Options struct {
	Broker          string
	Username        string
	Password        string
	ClientID        string
	TopicPrefix     string
	DiscoveryPrefix string
	ConnectTimeout  time.Duration
	PublishTimeout  time.Duration
}

// MQTTNotifier publishes price states and Home Assistant discovery messages.
type MQTTNotifier struct {
	opts       Options
	client     mqtt.Client
	logger     zerolog.Logger
	discovered map[model.Key]struct{}
}

// NewMQTT constructs and connects the MQTT notifier.
func NewMQTT(opts Options, logger zerolog.Logger) (*MQTTNotifier, error) {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 5 * time.Second
	}
	if opts.TopicPrefix == "" {
		opts.TopicPrefix = "fuelwatcher"
	}
	if opts.DiscoveryPrefix == "" {
		opts.DiscoveryPrefix = "homeassistant"
	}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetConnectTimeout(opts.ConnectTimeout).
		SetAutoReconnect(true)
	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
		clientOpts.SetPassword(opts.Password)
	}

	client := mqtt.NewClient(clientOpts)
	token := client.Connect()
	if !token.WaitTimeout(opts.ConnectTimeout) {
		return nil, fmt.Errorf("mqtt connect to %s timed out", opts.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", opts.Broker, err)
	}

	return &MQTTNotifier{
		opts:       opts,
		client:     client,
		logger:     logger.With().Str("component", "notifier").Logger(),
		discovered: make(map[model.Key]struct{}),
	}, nil
}

type statePayload struct {
	Price     string `json:"price"`
	Trend     string `json:"trend"`
	Timestamp string `json:"timestamp"`
}

// PublishChange sends the retained state message for a key, preceded by an
// idempotent Home Assistant discovery config the first time a key is seen.
func (n *MQTTNotifier) PublishChange(ctx context.Context, point model.PricePoint, trend model.Trend) error {
	if _, ok := n.discovered[point.Key]; !ok {
		if err := n.publishDiscovery(point); err != nil {
			n.logger.Warn().Err(err).Str("key", point.Key.String()).Msg("discovery publish failed")
		} else {
			n.discovered[point.Key] = struct{}{}
		}
	}

	payload, err := json.Marshal(statePayload{
		Price:     point.Price.String(),
		Trend:     string(trend),
		Timestamp: point.ObservedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshal state payload: %w", err)
	}

	topic := n.stateTopic(point.Key)
	if err := n.publish(ctx, topic, payload); err != nil {
		return fmt.Errorf("publish state %s: %w", topic, err)
	}

	n.logger.Debug().
		Str("topic", topic).
		Str("price", point.Price.String()).
		Msg("state published")
	return nil
}

func (n *MQTTNotifier) publishDiscovery(point model.PricePoint) error {
	uniqueID := fmt.Sprintf("%s_%d_%s", n.opts.TopicPrefix, int(point.Key.Station), point.Key.Fuel)
	topic := fmt.Sprintf("%s/sensor/%s/%s/config", n.opts.DiscoveryPrefix, n.opts.TopicPrefix, uniqueID)

	safeName := strings.NewReplacer(`"`, "", "'", "").Replace(point.StationName)
	payload, err := json.Marshal(map[string]any{
		"name":                fmt.Sprintf("%s Price", point.Key.Fuel),
		"unique_id":           uniqueID,
		"state_topic":         n.stateTopic(point.Key),
		"value_template":      "{{ value_json.price }}",
		"unit_of_measurement": "¢",
		"device_class":        "monetary",
		"icon":                "mdi:gas-station",
		"device": map[string]any{
			"identifiers":  []string{fmt.Sprintf("%s_%d", n.opts.TopicPrefix, int(point.Key.Station))},
			"name":         safeName,
			"manufacturer": "NSW FuelCheck",
			"model":        "Fuel Station Monitor",
		},
	})
	if err != nil {
		return fmt.Errorf("marshal discovery payload: %w", err)
	}

	return n.publish(context.Background(), topic, payload)
}

func (n *MQTTNotifier) stateTopic(key model.Key) string {
	return fmt.Sprintf("%s/sensor/%d/%s/state", n.opts.TopicPrefix, int(key.Station), key.Fuel)
}

func (n *MQTTNotifier) publish(ctx context.Context, topic string, payload []byte) error {
	token := n.client.Publish(topic, 0, true, payload)

	timeout := n.opts.PublishTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); until < timeout {
			timeout = until
		}
	}
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("publish timed out after %s", timeout)
	}
	return token.Error()
}

// Close disconnects from the broker, allowing in-flight messages to flush.
func (n *MQTTNotifier) Close() {
	n.client.Disconnect(250)
}

var _ Notifier = (*MQTTNotifier)(nil)
