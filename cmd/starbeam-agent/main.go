package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"time"

	// Automatically set GOMEMLIMIT based on cgroup memory limits (container
	// or systemd MemoryMax=). If no cgroup limit is detected, GOMEMLIMIT is
	// left at the Go default.
	"github.com/KimMachineGun/automemlimit/memlimit"
	"github.com/spf13/cobra"

	"github.com/starbeam-relay/agent/internal/agent"
	"github.com/starbeam-relay/agent/internal/config"
	"github.com/starbeam-relay/agent/internal/metrics"
)

var version = "dev"

func init() {
	_, _ = memlimit.SetGoMemLimitWithOpts(memlimit.WithLogger(nil))
}

func main() {
	rootCmd := &cobra.Command{
		Use:          "starbeam-agent",
		Short:        "Relay-edge agent for a game-streaming host",
		Long:         "Maintains the control channel to the relay server and forwards HTTP/RTSP/UDP traffic to the local streaming host.",
		SilenceUsage: true,
		RunE:         runAgent,
	}

	rootCmd.Flags().String("config", "", "path to an optional YAML config file")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error); overrides the config file")
	rootCmd.PersistentFlags().String("metrics-addr", "", "address for Prometheus metrics server (e.g. :9090); overrides the config file; disabled if both are empty")

	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}

func runAgent(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}
	logger := newLogger(cfg.LogLevel)

	if !cfg.Enabled {
		logger.Info("agent disabled in configuration, exiting")
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	if metricsAddr == "" {
		metricsAddr = cfg.MetricsAddr
	}
	m, err := resolveMetrics(ctx, metricsAddr, logger)
	if err != nil {
		return err
	}

	a := agent.New(agent.Config{
		ServerURL:              cfg.ServerURL,
		AuthKey:                cfg.AuthKey,
		HostID:                 cfg.HostID,
		ReconnectInterval:      time.Duration(cfg.ReconnectIntervalSeconds) * time.Second,
		StreamingHostBasePort:  uint16(cfg.StreamingHostBasePort),
		StreamingHostHTTPSPort: uint16(cfg.StreamingHostHTTPSPort),
		StreamingHostRTSPPort:  uint16(cfg.StreamingHostRTSPPort),
		Hostname:               cfg.Hostname,
		UniqueID:               cfg.UniqueID,
		TLSInsecureSkipVerify:  cfg.TLSInsecureSkipVerify,
		Logger:                 logger,
		Metrics:                m,
	})

	if err := a.Start(ctx); err != nil {
		return fmt.Errorf("start agent: %w", err)
	}
	logger.Info("starbeam-agent started", "version", version, "server_url", cfg.ServerURL)

	<-ctx.Done()
	logger.Info("shutting down")
	a.Stop()
	return nil
}

// resolveMetrics creates a Metrics instance and starts the HTTP server if
// addr is non-empty. Returns nil if metrics are disabled. The provided
// context controls the server's lifetime — when cancelled the server shuts
// down gracefully.
func resolveMetrics(ctx context.Context, addr string, logger *slog.Logger) (*metrics.Metrics, error) {
	if addr == "" {
		return nil, nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listen on %s: %w", addr, err)
	}
	m := metrics.New()
	go func() {
		if err := m.Serve(ctx, ln, logger); err != nil {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	return m, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
