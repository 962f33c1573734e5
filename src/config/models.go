package config

import (
	"github.com/sandrolain/uplink-bridge/src/sources"
	"github.com/sandrolain/uplink-bridge/src/targets"
)

const DefaultConfigFilePath = "uplink-bridge.yaml"

type EnvConfig struct {
	ConfigFilePath string `env:"UB_CONFIG_FILE_PATH" default:"uplink-bridge.yaml" validate:"omitempty,filepath"`
	// Optional: raw configuration content (YAML or JSON). If set, it takes precedence over ConfigFilePath.
	ConfigContent string `env:"UB_CONFIG_CONTENT" validate:"omitempty"`
	// Optional: explicit config format when using ConfigContent. One of: yaml, yml, json.
	ConfigFormat string `env:"UB_CONFIG_FORMAT" validate:"omitempty,oneof=yaml yml json"`
}

type Config struct {
	MQTT        sources.SourceMQTTConfig `yaml:"mqtt" json:"mqtt"`
	Credentials CredentialsConfig        `yaml:"credentials" json:"credentials"`
	Routing     RoutingConfig            `yaml:"routing" json:"routing"`
	Router      RouterConfig             `yaml:"router" json:"router"`
	HTTP        targets.TargetHTTPConfig `yaml:"http" json:"http"`
	RawLog      RawLogConfig             `yaml:"rawlog" json:"rawlog"`
	Metrics     MetricsConfig            `yaml:"metrics" json:"metrics"`
	Filter      FilterConfig             `yaml:"filter" json:"filter"`
	Log         LogConfig                `yaml:"log" json:"log"`
}

// CredentialsConfig points at the JSON file holding app_id and app_key.
type CredentialsConfig struct {
	File string `yaml:"file" json:"file" default:"ttn.secrets" validate:"required"`
}

// RoutingConfig points at the device -> sensor -> URL table.
type RoutingConfig struct {
	File string `yaml:"file" json:"file" default:"datastreams.json" validate:"required"`
}

type RouterConfig struct {
	// Routines bounds the concurrent deliveries of a single uplink.
	Routines int `yaml:"routines" json:"routines" default:"4" validate:"min=1"`
}

// RawLogConfig enables the daily raw uplink log when Dir is set.
type RawLogConfig struct {
	Dir string `yaml:"dir" json:"dir"`
}

// MetricsConfig enables the Prometheus endpoint when Address is set.
type MetricsConfig struct {
	Address string `yaml:"address" json:"address" validate:"omitempty,hostname_port"`
	Path    string `yaml:"path" json:"path" default:"/metrics" validate:"startswith=/"`
}

type FilterConfig struct {
	Expr string `yaml:"expr" json:"expr"`
}

type LogConfig struct {
	Level  string `yaml:"level" json:"level" default:"info" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" json:"format" default:"tint" validate:"oneof=tint json text"`
}
