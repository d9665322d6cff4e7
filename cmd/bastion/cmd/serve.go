package cmd

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	bastionhttp "github.com/bastion-core/bastion/internal/adapter/inbound/http"
	"github.com/bastion-core/bastion/internal/adapter/outbound/alertfile"
	"github.com/bastion-core/bastion/internal/adapter/outbound/sqlite"
	"github.com/bastion-core/bastion/internal/config"
	"github.com/bastion-core/bastion/internal/service"
)

var policyBundlePath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the engine with the observability server",
	Long: `Start the security engine: background session sweeps, throttle
cleanup, periodic compliance audits, and the observability HTTP listener
(health, metrics, recent events).`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&policyBundlePath, "policies", "", "path to a YAML policy bundle to seed")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Server.LogLevel)
	if used := config.ConfigFileUsed(); used != "" {
		logger.Info("loaded configuration", "file", used)
	}

	secret, err := deploymentSecret(cfg, logger)
	if err != nil {
		return err
	}

	fw, err := service.NewFramework(service.FrameworkConfig{
		DeploymentSecret:          secret,
		EventCapacity:             cfg.Framework.EventCapacity,
		AuditInterval:             cfg.Framework.AuditInterval,
		FactorTimeout:             cfg.Framework.FactorTimeout,
		ThrottleFailuresPerMinute: cfg.Framework.ThrottleFailuresPerMinute,
		ThrottleBurst:             cfg.Framework.ThrottleBurst,
		SweepInterval:             cfg.Framework.SweepInterval,
	}, logger)
	if err != nil {
		return fmt.Errorf("build framework: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := seedPolicies(ctx, fw, cfg); err != nil {
		return err
	}

	srv := bastionhttp.NewServer(fw,
		bastionhttp.WithAddr(cfg.Server.HTTPAddr),
		bastionhttp.WithLogger(logger),
	)

	if cfg.Events.SQLitePath != "" {
		store, err := sqlite.NewEventStore(cfg.Events.SQLitePath, logger,
			sqlite.WithBatchSize(cfg.Events.BatchSize),
			sqlite.WithFlushInterval(cfg.Events.FlushInterval),
		)
		if err != nil {
			return fmt.Errorf("open durable event sink: %w", err)
		}
		defer store.Close()
		store.Start(ctx)
		fw.Subscribe(store)
		logger.Info("durable event sink enabled", "path", cfg.Events.SQLitePath)
	}

	if cfg.Events.AlertDir != "" {
		alerts, err := alertfile.NewSink(alertfile.Config{Dir: cfg.Events.AlertDir}, logger)
		if err != nil {
			return fmt.Errorf("open alert sink: %w", err)
		}
		defer alerts.Close()
		fw.SubscribeAlerts(alerts)
		logger.Info("critical alert sink enabled", "dir", cfg.Events.AlertDir)
	}

	fw.Start(ctx)
	defer fw.Stop()

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("observability server: %w", err)
	}
	return nil
}

// newLogger builds the process logger at the configured level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
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

// deploymentSecret resolves the configured secret, accepting hex or raw
// text. Dev mode without a secret generates an ephemeral one.
func deploymentSecret(cfg *config.Config, logger *slog.Logger) ([]byte, error) {
	raw := cfg.Framework.DeploymentSecret
	if raw == "" {
		if !cfg.DevMode {
			return nil, fmt.Errorf("framework.deployment_secret is required")
		}
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generate dev secret: %w", err)
		}
		logger.Warn("dev mode: using an ephemeral deployment secret; sessions and templates will not survive restart")
		return secret, nil
	}
	if decoded, err := hex.DecodeString(raw); err == nil && len(decoded) >= 16 {
		return decoded, nil
	}
	return []byte(raw), nil
}

// seedPolicies loads policies from the config and the optional bundle.
func seedPolicies(ctx context.Context, fw *service.Framework, cfg *config.Config) error {
	seeded := cfg.Policies
	if policyBundlePath != "" {
		bundle, err := config.LoadPolicyBundle(policyBundlePath)
		if err != nil {
			return err
		}
		seeded = append(seeded, bundle.Policies...)
	}
	for _, pc := range seeded {
		p := pc.ToPolicy()
		if err := fw.SavePolicy(ctx, &p); err != nil {
			return fmt.Errorf("seed policy %q: %w", pc.Name, err)
		}
	}
	return nil
}
