// Package secrets resolves secret values and loads the application
// credentials used to authenticate against the uplink broker.
package secrets

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/bytedance/sonic"
)

var ErrMissingCredentials = errors.New("missing credentials")

// Resolve resolves a secret value supporting multiple formats:
// - "env:NAME" reads from environment variable NAME
// - "file:/absolute/path" reads the contents of a file
// - Any other value is returned as-is
//
// Empty or whitespace-only values return empty string without error.
func Resolve(value string) (string, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return "", nil
	}

	if strings.HasPrefix(v, "env:") {
		return os.Getenv(strings.TrimPrefix(v, "env:")), nil
	}

	if strings.HasPrefix(v, "file:") {
		path := strings.TrimPrefix(v, "file:")
		if !strings.HasPrefix(path, "/") {
			return "", fmt.Errorf("file secret path must be absolute, got: %s", path)
		}
		// #nosec G304 - path is provided by configuration and must be absolute
		content, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read secret file %s: %w", path, err)
		}
		return strings.TrimSpace(string(content)), nil
	}

	return v, nil
}

// Credentials identify the application on the uplink broker.
type Credentials struct {
	AppID  string `json:"app_id"`
	AppKey string `json:"app_key"`
}

// Redacted returns the key with all but its last 4 characters masked.
func (c Credentials) Redacted() string {
	if len(c.AppKey) <= 4 {
		return strings.Repeat("*", len(c.AppKey))
	}
	return strings.Repeat("*", len(c.AppKey)-4) + c.AppKey[len(c.AppKey)-4:]
}

// LoadCredentialsFile reads a JSON credentials file:
//
//	{"app_id": "my-app", "app_key": "ttn-account-v2.xxxx"}
//
// Both values may use the env:/file: forms accepted by Resolve.
func LoadCredentialsFile(path string) (*Credentials, error) {
	// #nosec G304 - path comes from configuration
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: cannot find file with app id and key: %s", ErrMissingCredentials, path)
		}
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}

	c := &Credentials{}
	if err := sonic.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file: %w", err)
	}

	if c.AppID, err = Resolve(c.AppID); err != nil {
		return nil, err
	}
	if c.AppKey, err = Resolve(c.AppKey); err != nil {
		return nil, err
	}
	if c.AppID == "" || c.AppKey == "" {
		return nil, fmt.Errorf("%w: app_id and app_key are required in %s", ErrMissingCredentials, path)
	}
	return c, nil
}
