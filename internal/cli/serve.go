package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vigil-ai/vigil/internal/analytics"
	"github.com/vigil-ai/vigil/internal/config"
	"github.com/vigil-ai/vigil/internal/correlate"
	"github.com/vigil-ai/vigil/internal/diag"
	"github.com/vigil-ai/vigil/internal/ingest"
	"github.com/vigil-ai/vigil/internal/pricing"
	"github.com/vigil-ai/vigil/internal/record"
	"github.com/vigil-ai/vigil/internal/server"
	"github.com/vigil-ai/vigil/internal/store"
)

var serveConfigPath string

func init() {
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "", "path to YAML config (defaults apply when omitted)")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the telemetry ingestion and metrics server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(serveConfigPath)
		if err != nil {
			return err
		}
		logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: cfg.SlogLevel(),
		}))
		slog.SetDefault(logger)

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		return serve(ctx, cfg, logger)
	},
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	table := pricing.Default(logger)
	if cfg.PricingPath != "" {
		table, err = pricing.Load(cfg.PricingPath, logger)
		if err != nil {
			return err
		}
		go func() {
			if err := table.Watch(ctx); err != nil {
				logger.Error("pricing watcher stopped", "err", err)
			}
		}()
	}

	metrics := diag.New()
	engine := correlate.New(st, metrics, logger, cfg.PairWindow.Std())
	builder := record.New(st, logger)
	processor, err := ingest.New(engine, builder, metrics, logger)
	if err != nil {
		return err
	}
	evaluator := analytics.New(st, table, logger)

	srv := server.New(server.Config{
		Listen: cfg.Listen,
		RPS:    cfg.RateLimit.RPS,
		Burst:  cfg.RateLimit.Burst,
	}, processor, evaluator, metrics, logger)

	logger.Info("vigil starting",
		"version", version,
		"db", cfg.DBPath,
		"pair_window", cfg.PairWindow.Std(),
	)
	return srv.Run(ctx)
}
