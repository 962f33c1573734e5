package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	cenv "github.com/caarlos0/env/v11"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	kjson "github.com/knadh/koanf/parsers/json"
	kyaml "github.com/knadh/koanf/parsers/yaml"
	kenv "github.com/knadh/koanf/providers/env"
	kfile "github.com/knadh/koanf/providers/file"
	kraw "github.com/knadh/koanf/providers/rawbytes"
	kfn "github.com/knadh/koanf/v2"
	"github.com/sandrolain/uplink-bridge/src/common/secrets"
)

const envPrefix = "UB_"

// LoadEnvConfig reads the bootstrap variables that locate the main configuration.
func LoadEnvConfig() (*EnvConfig, error) {
	envCfg := &EnvConfig{}
	if err := defaults.Set(envCfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment defaults: %w", err)
	}
	if err := cenv.Parse(envCfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment configuration: %w", err)
	}
	if envCfg.ConfigFilePath == "" {
		envCfg.ConfigFilePath = DefaultConfigFilePath
	}
	return envCfg, nil
}

// LoadConfig loads the configuration located by envCfg. Content takes
// precedence over the file. A missing file at the default path is not an
// error: defaults and UB_ environment overrides apply.
func LoadConfig(envCfg *EnvConfig) (cfg *Config, err error) {
	if err = validator.New().Struct(envCfg); err != nil {
		return nil, fmt.Errorf("failed to load environment configuration: %w", err)
	}

	if envCfg.ConfigContent != "" {
		slog.Info("loading configuration from content", "format", envCfg.ConfigFormat)
		return loadConfigContent(envCfg.ConfigContent, envCfg.ConfigFormat)
	}

	if envCfg.ConfigFilePath == DefaultConfigFilePath {
		if _, e := os.Stat(envCfg.ConfigFilePath); errors.Is(e, os.ErrNotExist) {
			slog.Info("no configuration file found, using defaults and environment", "path", envCfg.ConfigFilePath)
			return loadKoanf(kfn.New("."))
		}
	}

	slog.Info("loading configuration file", "path", envCfg.ConfigFilePath)
	return loadConfigFile(envCfg.ConfigFilePath)
}

// loadConfigFile loads configuration from a file (YAML or JSON) and merges environment overrides.
func loadConfigFile(path string) (cfg *Config, err error) {
	absPath, e := filepath.Abs(path)
	if e != nil {
		return nil, e
	}

	if _, e = os.Stat(absPath); e != nil {
		return nil, fmt.Errorf("error opening config file: %w", e)
	}

	ext := strings.ToLower(filepath.Ext(absPath))
	var parser kfn.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = kyaml.Parser()
	case ".json":
		parser = kjson.Parser()
	default:
		return nil, &UnsupportedExtensionError{Extension: ext}
	}

	k := kfn.New(".")
	if e = k.Load(kfile.Provider(absPath), parser); e != nil {
		return nil, fmt.Errorf("error loading config file: %w", e)
	}
	return loadKoanf(k)
}

// loadConfigContent loads configuration from raw YAML/JSON content.
// If format is empty, JSON is assumed when the trimmed content starts with '{'.
func loadConfigContent(content string, format string) (cfg *Config, err error) {
	trimmed := strings.TrimSpace(content)
	f := strings.ToLower(strings.TrimSpace(format))
	var parser kfn.Parser
	switch f {
	case "yaml", "yml":
		parser = kyaml.Parser()
	case "json":
		parser = kjson.Parser()
	case "":
		if strings.HasPrefix(trimmed, "{") {
			parser = kjson.Parser()
		} else {
			parser = kyaml.Parser()
		}
	default:
		return nil, &UnsupportedExtensionError{Extension: f}
	}

	k := kfn.New(".")
	if err = k.Load(kraw.Provider([]byte(content)), parser); err != nil {
		return nil, fmt.Errorf("error loading config content: %w", err)
	}
	return loadKoanf(k)
}

// loadKoanf merges UB_ environment overrides into k and decodes the result
// over the defaults.
func loadKoanf(k *kfn.Koanf) (*Config, error) {
	loadEnv(k)

	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}

	err := k.UnmarshalWithConf("", cfg, kfn.UnmarshalConf{
		Tag: "yaml",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
			Result:           cfg,
			WeaklyTypedInput: true,
			TagName:          "yaml",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, err
	}
	if err := resolveSecrets(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolveSecrets expands env: and file: references in secret values.
func resolveSecrets(cfg *Config) error {
	password, err := secrets.Resolve(cfg.MQTT.Password)
	if err != nil {
		return fmt.Errorf("failed to resolve mqtt.password: %w", err)
	}
	cfg.MQTT.Password = password

	for k, v := range cfg.HTTP.Headers {
		resolved, err := secrets.Resolve(v)
		if err != nil {
			return fmt.Errorf("failed to resolve http.headers.%s: %w", k, err)
		}
		cfg.HTTP.Headers[k] = resolved
	}
	return nil
}

// loadEnv maps UB_FOO__BAR=x to foo.bar. Bootstrap variables are skipped.
func loadEnv(k *kfn.Koanf) {
	_ = k.Load(kenv.Provider(envPrefix, ".", func(s string) string {
		if strings.HasPrefix(s, envPrefix+"CONFIG_") {
			return ""
		}
		noPrefix := strings.TrimPrefix(s, envPrefix)
		noPrefix = strings.ToLower(noPrefix)
		return strings.ReplaceAll(noPrefix, "__", ".")
	}), nil)
}

type UnsupportedExtensionError struct {
	Extension string
}

func (e *UnsupportedExtensionError) Error() string {
	return "unsupported config file extension: " + e.Extension
}
