package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sandrolain/uplink-bridge/src/bridge"
	"github.com/sandrolain/uplink-bridge/src/common/expreval"
	"github.com/sandrolain/uplink-bridge/src/common/secrets"
	"github.com/sandrolain/uplink-bridge/src/config"
	"github.com/sandrolain/uplink-bridge/src/metrics"
	"github.com/sandrolain/uplink-bridge/src/rawlog"
	"github.com/sandrolain/uplink-bridge/src/routing"
	"github.com/sandrolain/uplink-bridge/src/sources/mqttsource"
	"github.com/sandrolain/uplink-bridge/src/targets/httptarget"
	"github.com/spf13/cobra"
)

func main() {
	slog.SetDefault(newLogger(os.Stdout, "debug", "tint"))

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configFilePath string
		configContent  string
		configFormat   string
	)

	// flags take precedence over the environment
	envConfig := func(cmd *cobra.Command) (*config.EnvConfig, error) {
		envCfg, err := config.LoadEnvConfig()
		if err != nil {
			slog.Error("failed to load environment configuration", "error", err)
			return nil, err
		}
		if cmd.Flags().Changed("config-file-path") {
			envCfg.ConfigFilePath = configFilePath
		}
		if cmd.Flags().Changed("config-content") {
			envCfg.ConfigContent = configContent
		}
		if cmd.Flags().Changed("config-format") {
			envCfg.ConfigFormat = configFormat
		}
		return envCfg, nil
	}

	run := func(cmd *cobra.Command, _ []string) error {
		envCfg, err := envConfig(cmd)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := runBridge(ctx, envCfg); err != nil {
			slog.Error("bridge stopped", "error", err)
			return err
		}
		return nil
	}

	root := &cobra.Command{
		Use:          "uplink-bridge",
		Short:        "Forward decoded LoRaWAN weather uplinks to HTTP collectors",
		SilenceUsage: true,
		RunE:         run,
	}
	root.PersistentFlags().StringVar(&configFilePath, "config-file-path", "", "Configuration file (YAML or JSON), overrides UB_CONFIG_FILE_PATH")
	root.PersistentFlags().StringVar(&configContent, "config-content", "", "Inline configuration content, overrides UB_CONFIG_CONTENT")
	root.PersistentFlags().StringVar(&configFormat, "config-format", "", "Inline configuration format (yaml, json), overrides UB_CONFIG_FORMAT")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Subscribe to uplinks and dispatch measurements (default)",
		Args:  cobra.NoArgs,
		RunE:  run,
	}

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML, secrets redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			envCfg, err := envConfig(cmd)
			if err != nil {
				return err
			}
			cfg, err := config.LoadConfig(envCfg)
			if err != nil {
				return err
			}
			out, err := config.Dump(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}

	root.AddCommand(runCmd, configCmd, newDecodeCmd())
	return root
}

func runBridge(ctx context.Context, envCfg *config.EnvConfig) error {
	cfg, err := config.LoadConfig(envCfg)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	slog.SetDefault(newLogger(os.Stdout, cfg.Log.Level, cfg.Log.Format))

	creds, err := secrets.LoadCredentialsFile(cfg.Credentials.File)
	if err != nil {
		return err
	}
	slog.Info("credentials loaded", "app_id", creds.AppID, "app_key", creds.Redacted())

	table, err := loadTable(cfg.Routing.File)
	if err != nil {
		return err
	}

	target, err := httptarget.New(&cfg.HTTP)
	if err != nil {
		return fmt.Errorf("failed to create http target: %w", err)
	}

	router, err := routing.NewRouter(table, target,
		routing.WithRoutines(cfg.Router.Routines),
		routing.WithLogger(slog.Default().With("context", "Router")),
	)
	if err != nil {
		return fmt.Errorf("failed to create router: %w", err)
	}

	mqttCfg := cfg.MQTT
	if mqttCfg.Username == "" {
		mqttCfg.Username = creds.AppID
	}
	if mqttCfg.Password == "" {
		mqttCfg.Password = creds.AppKey
	}
	source, err := mqttsource.New(&mqttCfg)
	if err != nil {
		return fmt.Errorf("failed to create mqtt source: %w", err)
	}

	filter, err := expreval.NewExprEvaluator(cfg.Filter.Expr)
	if err != nil {
		return fmt.Errorf("invalid filter expression: %w", err)
	}

	opts := []bridge.Option{
		bridge.WithSource(source),
		bridge.WithFilter(filter),
		bridge.WithCloser("http target", target.Close),
	}

	if cfg.RawLog.Dir != "" {
		w, err := rawlog.New(cfg.RawLog.Dir)
		if err != nil {
			return err
		}
		slog.Info("raw uplink log enabled", "dir", cfg.RawLog.Dir)
		opts = append(opts, bridge.WithRawLog(w), bridge.WithCloser("raw log", w.Close))
	}

	if cfg.Metrics.Address != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		m, err := metrics.New(reg)
		if err != nil {
			return err
		}
		srv := metrics.NewServer(reg, cfg.Metrics.Path)
		if err := srv.Start(cfg.Metrics.Address); err != nil {
			return err
		}
		opts = append(opts, bridge.WithMetrics(m), bridge.WithCloser("metrics server", srv.Close))
	}

	b, err := bridge.New(router, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			slog.Error("failed to close bridge", "error", err)
		}
	}()

	return b.Run(ctx)
}

// loadTable reads the routing table. A missing file yields an empty table.
func loadTable(path string) (routing.Table, error) {
	table, err := routing.LoadTableFile(path)
	switch {
	case errors.Is(err, routing.ErrTableNotFound):
		slog.Warn("routing table not found, every device will be reported as invalid", "path", path)
	case err != nil:
		return nil, fmt.Errorf("failed to load routing table: %w", err)
	}

	for _, p := range table.Problems() {
		slog.Warn("routing table entry will always fail", "error", p)
	}

	dump, err := sonic.Marshal(table)
	if err != nil {
		return nil, fmt.Errorf("failed to encode routing table: %w", err)
	}
	slog.Info("routing table loaded", "path", path, "devices", len(table), "urls", string(dump))
	return table, nil
}
