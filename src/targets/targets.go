package targets

import (
	"context"
	"time"
)

const DefaultTimeout = 5 * time.Second

// Target posts a JSON body to a collector URL and returns the response status.
type Target interface {
	Send(ctx context.Context, url string, body []byte) (int, error)
	Close() error
}

type TargetHTTPConfig struct {
	Timeout         time.Duration     `yaml:"timeout" json:"timeout" default:"5s" validate:"min=0"`
	Headers         map[string]string `yaml:"headers" json:"headers"`
	MaxConnsPerHost int               `yaml:"max_conns_per_host" json:"max_conns_per_host" default:"16" validate:"min=1"`
	UserAgent       string            `yaml:"user_agent" json:"user_agent" default:"uplink-bridge"`
}
