package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

const redactedValue = "***"

// Redacted returns a copy of c safe to print.
func (c Config) Redacted() Config {
	if c.MQTT.Password != "" {
		c.MQTT.Password = redactedValue
	}
	if len(c.HTTP.Headers) > 0 {
		headers := make(map[string]string, len(c.HTTP.Headers))
		for k := range c.HTTP.Headers {
			headers[k] = redactedValue
		}
		c.HTTP.Headers = headers
	}
	return c
}

// Dump renders the redacted configuration as YAML, in the same shape it is
// loaded from.
func Dump(c *Config) ([]byte, error) {
	out, err := yaml.Marshal(c.Redacted())
	if err != nil {
		return nil, fmt.Errorf("error marshalling config: %w", err)
	}
	return out, nil
}
