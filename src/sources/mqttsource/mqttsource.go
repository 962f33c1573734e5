// Package mqttsource receives device uplinks from an MQTT broker such as the
// TTN handler.
package mqttsource

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/sandrolain/uplink-bridge/src/message"
	"github.com/sandrolain/uplink-bridge/src/sources"
)

const disconnectQuiesceMs = 250

type MQTTSource struct {
	config    *sources.SourceMQTTConfig
	slog      *slog.Logger
	c         chan *message.SourceMessage
	client    mqtt.Client
	ready     chan error
	stopCh    chan struct{}
	closeOnce sync.Once
}

var _ sources.Source = (*MQTTSource)(nil)

func New(cfg *sources.SourceMQTTConfig) (*MQTTSource, error) {
	if cfg == nil {
		return nil, fmt.Errorf("mqtt source config cannot be nil")
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("mqtt address cannot be empty")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("mqtt topic cannot be empty")
	}
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("invalid mqtt qos %d", cfg.QoS)
	}
	return &MQTTSource{
		config: cfg,
		slog:   slog.Default().With("context", "MQTT"),
		ready:  make(chan error, 1),
		stopCh: make(chan struct{}),
	}, nil
}

// BrokerURL returns the broker address with a scheme, defaulting to tcp://
// (ssl:// when TLS is enabled).
func BrokerURL(cfg *sources.SourceMQTTConfig) string {
	if strings.Contains(cfg.Address, "://") {
		return cfg.Address
	}
	if cfg.TLS != nil && cfg.TLS.Enabled {
		return "ssl://" + cfg.Address
	}
	return "tcp://" + cfg.Address
}

// SubscriptionTopic returns the topic to subscribe, as a shared subscription
// when a consumer group is configured.
func SubscriptionTopic(cfg *sources.SourceMQTTConfig) string {
	if cfg.ConsumerGroup != "" {
		return fmt.Sprintf("$share/%s/%s", cfg.ConsumerGroup, cfg.Topic)
	}
	return cfg.Topic
}

func (s *MQTTSource) clientOptions() (*mqtt.ClientOptions, error) {
	opts := mqtt.NewClientOptions().AddBroker(BrokerURL(s.config))

	clientID := s.config.ClientID
	if clientID == "" {
		clientID = "uplink-bridge-" + uuid.NewString()
	}
	opts.SetClientID(clientID)
	if s.config.Username != "" {
		opts.SetUsername(s.config.Username)
	}
	if s.config.Password != "" {
		opts.SetPassword(s.config.Password)
	}

	tlsCfg, err := BuildTLSConfig(s.config.TLS)
	if err != nil {
		return nil, err
	}
	if tlsCfg != nil {
		opts.SetTLSConfig(tlsCfg)
	}

	connectTimeout := s.config.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	opts.SetConnectTimeout(connectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetOrderMatters(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.slog.Warn("connection lost", "error", err)
	})
	opts.SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		s.slog.Info("reconnecting")
	})
	// resubscribe after every (re)connection, the session is not persistent
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		err := s.subscribe(c)
		if err != nil {
			s.slog.Error("failed to subscribe to topic", "error", err)
		}
		select {
		case s.ready <- err:
		default:
		}
	})
	return opts, nil
}

func (s *MQTTSource) subscribe(c mqtt.Client) error {
	topic := SubscriptionTopic(s.config)
	s.slog.Info("subscribing to topic", "topic", topic)
	if token := c.Subscribe(topic, s.config.QoS, s.handle); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, token.Error())
	}
	return nil
}

// Produce connects to the broker and returns the channel of received
// messages. Messages are delivered one at a time: the next one is handed
// over only after the previous is acked, nacked or AckTimeout expires.
func (s *MQTTSource) Produce(buffer int) (<-chan *message.SourceMessage, error) {
	s.c = make(chan *message.SourceMessage, buffer)

	s.slog.Info("starting MQTT source", "address", BrokerURL(s.config), "topic", s.config.Topic, "consumerGroup", s.config.ConsumerGroup)

	opts, err := s.clientOptions()
	if err != nil {
		return nil, err
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(opts.ConnectTimeout) {
		return nil, fmt.Errorf("failed to connect to MQTT broker: timeout after %s", opts.ConnectTimeout)
	}
	if token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	s.client = client

	select {
	case err := <-s.ready:
		if err != nil {
			client.Disconnect(disconnectQuiesceMs)
			return nil, err
		}
	case <-time.After(opts.ConnectTimeout):
		client.Disconnect(disconnectQuiesceMs)
		return nil, fmt.Errorf("failed to subscribe: timeout after %s", opts.ConnectTimeout)
	}

	return s.c, nil
}

func (s *MQTTSource) handle(_ mqtt.Client, msg mqtt.Message) {
	done := make(chan message.ResponseStatus, 1)
	m := message.NewSourceMessage(msg.Topic(), msg.Payload(), time.Now(), done)

	select {
	case s.c <- m:
	case <-s.stopCh:
		return
	}

	ackTimeout := s.config.AckTimeout
	if ackTimeout <= 0 {
		ackTimeout = 10 * time.Second
	}
	select {
	case <-done:
	case <-time.After(ackTimeout):
		s.slog.Warn("message not acknowledged in time", "topic", msg.Topic(), "timeout", ackTimeout)
	case <-s.stopCh:
	}
}

func (s *MQTTSource) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopCh)
		if s.client != nil && s.client.IsConnected() {
			s.client.Disconnect(disconnectQuiesceMs)
		}
	})
	return nil
}
