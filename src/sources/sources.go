package sources

import (
	"time"

	"github.com/sandrolain/uplink-bridge/src/message"
)

// DefaultUplinkTopic matches the uplinks of every device of every application
// on a TTN v2 handler.
const DefaultUplinkTopic = "+/devices/+/up"

type Source interface {
	Produce(int) (<-chan *message.SourceMessage, error)
	Close() error
}

type SourceMQTTConfig struct {
	Address        string        `yaml:"address" json:"address" default:"eu.thethings.network:1883" validate:"required"`
	Topic          string        `yaml:"topic" json:"topic" default:"+/devices/+/up" validate:"required"`
	ClientID       string        `yaml:"client_id" json:"client_id"`
	ConsumerGroup  string        `yaml:"consumer_group" json:"consumer_group"`
	Username       string        `yaml:"username" json:"username"`
	Password       string        `yaml:"password" json:"password"`
	QoS            byte          `yaml:"qos" json:"qos" validate:"max=2"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout" default:"10s"`
	AckTimeout     time.Duration `yaml:"ack_timeout" json:"ack_timeout" default:"10s"`
	TLS            *TLSConfig    `yaml:"tls" json:"tls"`
}

// TLSConfig holds TLS settings for the broker connection.
type TLSConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// CACertFile verifies the broker. System roots are used when empty.
	CACertFile string `yaml:"ca_cert_file" json:"ca_cert_file"`

	// ClientCertFile and ClientKeyFile enable mutual TLS and must be set together.
	ClientCertFile string `yaml:"client_cert_file" json:"client_cert_file"`
	ClientKeyFile  string `yaml:"client_key_file" json:"client_key_file"`

	// InsecureSkipVerify must only be used for testing.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify" json:"insecure_skip_verify"`

	// MinVersion is one of "1.0", "1.1", "1.2", "1.3". Default "1.2".
	MinVersion string `yaml:"min_version" json:"min_version" default:"1.2" validate:"omitempty,oneof=1.0 1.1 1.2 1.3"`

	ServerName string `yaml:"server_name" json:"server_name"`
}
