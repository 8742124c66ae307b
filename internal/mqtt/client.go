// Package mqtt connects the engine to the broker: the external tracker
// feed and command topics come in, retained state and domain events go
// out.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"gate-sentinel/internal/config"
	"gate-sentinel/internal/domain/gate"
)

const publishTimeout = 10 * time.Second

// Handlers are the inbound entry points the client dispatches into.
// Unset handlers drop their messages.
type Handlers struct {
	TrackEvent  func(ctx context.Context, payload gate.TrackEventPayload)
	GateCommand func(ctx context.Context, closed bool, updatedBy string)
}

// Client wraps the paho connection. It doubles as the engine's event
// publisher: publish failures are logged and never propagated into the
// processing path.
type Client struct {
	cfg      *config.MQTTConfig
	log      zerolog.Logger
	handlers Handlers

	mu       sync.Mutex
	internal paho.Client
}

func NewClient(cfg *config.MQTTConfig, log zerolog.Logger) *Client {
	return &Client{cfg: cfg, log: log}
}

// Bind installs the inbound handlers. Must be called before Connect.
func (c *Client) Bind(handlers Handlers) {
	c.handlers = handlers
}

func (c *Client) Connect(ctx context.Context) error {
	opts := paho.NewClientOptions()
	opts.AddBroker(c.cfg.Broker)
	opts.SetClientID(c.cfg.ClientID)
	if c.cfg.Username != "" {
		opts.SetUsername(c.cfg.Username)
		opts.SetPassword(c.cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetMaxReconnectInterval(5 * time.Minute)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)

	c.mu.Lock()
	c.internal = paho.NewClient(opts)
	client := c.internal
	c.mu.Unlock()

	token := client.Connect()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-token.Done():
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect to %s: %w", c.cfg.Broker, err)
	}
	return nil
}

func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.internal != nil && c.internal.IsConnected() {
		c.internal.Disconnect(250)
	}
}

// onConnect installs subscriptions. Running here instead of after
// Connect means they survive broker-side reconnects.
func (c *Client) onConnect(client paho.Client) {
	c.log.Info().Str("broker", c.cfg.Broker).Msg("mqtt connected")

	subscribe := func(topic string, handler paho.MessageHandler) {
		if topic == "" {
			return
		}
		if token := client.Subscribe(topic, 0, handler); token.WaitTimeout(publishTimeout) && token.Error() != nil {
			c.log.Error().Err(token.Error()).Str("topic", topic).Msg("mqtt subscribe failed")
		}
	}

	subscribe(c.cfg.FeedTopic, c.onTrackMessage)
	subscribe(c.topic("cmd/gate_open"), c.onGateCommand(false))
	subscribe(c.topic("cmd/gate_closed"), c.onGateCommand(true))
	if c.cfg.DoorHintTopic != "" {
		subscribe(c.cfg.DoorHintTopic, c.onDoorHint)
	}
}

func (c *Client) onConnectionLost(_ paho.Client, err error) {
	c.log.Warn().Err(err).Str("broker", c.cfg.Broker).Msg("mqtt connection lost")
}

func (c *Client) topic(suffix string) string {
	prefix := strings.TrimSuffix(c.cfg.TopicPrefix, "/")
	if prefix == "" {
		return suffix
	}
	return prefix + "/" + suffix
}

func (c *Client) onTrackMessage(_ paho.Client, msg paho.Message) {
	payload, err := decodeTrackPayload(msg.Payload())
	if err != nil {
		if errors.Is(err, errTrackEnded) {
			return
		}
		c.log.Warn().Err(err).Str("topic", msg.Topic()).Msg("unparseable track message")
		return
	}
	if c.handlers.TrackEvent == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	c.handlers.TrackEvent(ctx, payload)
}

func (c *Client) onGateCommand(closed bool) paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		if c.handlers.GateCommand == nil {
			return
		}
		c.log.Info().Str("topic", msg.Topic()).Bool("gate_closed", closed).Msg("gate command received")
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		c.handlers.GateCommand(ctx, closed, gate.UpdatedByUserCommand)
	}
}

// onDoorHint feeds an external door-state inference into the gate. The
// payload may be a bare token ("open"/"closed") or JSON with a
// gate_closed / closed boolean.
func (c *Client) onDoorHint(_ paho.Client, msg paho.Message) {
	closed, ok := decodeDoorHint(msg.Payload())
	if !ok {
		c.log.Warn().Str("topic", msg.Topic()).Msg("unparseable door hint")
		return
	}
	if c.handlers.GateCommand == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	c.handlers.GateCommand(ctx, closed, gate.UpdatedBySystem)
}

func decodeDoorHint(data []byte) (closed, ok bool) {
	switch strings.ToLower(strings.TrimSpace(string(data))) {
	case "open", "opened", "false", "0":
		return false, true
	case "closed", "close", "true", "1":
		return true, true
	}
	var hint struct {
		GateClosed *bool `json:"gate_closed"`
		Closed     *bool `json:"closed"`
	}
	if err := json.Unmarshal(data, &hint); err != nil {
		return false, false
	}
	if hint.GateClosed != nil {
		return *hint.GateClosed, true
	}
	if hint.Closed != nil {
		return *hint.Closed, true
	}
	return false, false
}

// PublishDomainEvent sends one committed event on events/<type>.
func (c *Client) PublishDomainEvent(eventType string, payload interface{}) {
	body := map[string]interface{}{
		"event_type": eventType,
		"payload":    payload,
	}
	c.publish(c.topic("events/"+strings.ToLower(eventType)), body, false)
}

// PublishState refreshes the retained state topics so late subscribers
// see current values immediately.
func (c *Client) PublishState(peopleCount, vehicleCount int, gateClosed bool) {
	c.publishRaw(c.topic("state/people_count"), fmt.Sprintf("%d", peopleCount), true)
	c.publishRaw(c.topic("state/vehicle_count"), fmt.Sprintf("%d", vehicleCount), true)
	c.publishRaw(c.topic("state/gate_closed"), fmt.Sprintf("%t", gateClosed), true)
}

func (c *Client) PublishShiftActive(active bool) {
	c.publishRaw(c.topic("state/camera_shift_active"), fmt.Sprintf("%t", active), true)
}

func (c *Client) publish(topic string, payload interface{}, retained bool) {
	data, err := json.Marshal(payload)
	if err != nil {
		c.log.Error().Err(err).Str("topic", topic).Msg("mqtt payload marshal failed")
		return
	}
	c.publishRaw(topic, string(data), retained)
}

func (c *Client) publishRaw(topic, payload string, retained bool) {
	c.mu.Lock()
	client := c.internal
	c.mu.Unlock()
	if client == nil || !client.IsConnected() {
		c.log.Debug().Str("topic", topic).Msg("mqtt publish skipped: not connected")
		return
	}
	token := client.Publish(topic, 0, retained, payload)
	if token.WaitTimeout(publishTimeout) && token.Error() != nil {
		c.log.Warn().Err(token.Error()).Str("topic", topic).Msg("mqtt publish failed")
	}
}
