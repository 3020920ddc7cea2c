// Command auditor persists moderation outcomes published by verdictd into
// PostgreSQL.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/sethvargo/go-retry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/whisper/verdict-app/internal/audit"
	"github.com/whisper/verdict-app/internal/config"
	"github.com/whisper/verdict-app/internal/logging"
	"github.com/whisper/verdict-app/internal/messaging"
	"github.com/whisper/verdict-app/internal/metrics"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		cfgPath     string
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:          "auditor",
		Short:        "Store moderation outcomes from NATS in PostgreSQL",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadDotEnv(".env"); err != nil {
				return err
			}
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if cfg.Database.URL == "" || cfg.NATS.URL == "" {
				return errors.New("auditor: DATABASE_URL and NATS_URL are required")
			}

			logger, err := logging.New("auditor", cfg.Log.Level)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := run(ctx, cfg, metricsAddr, logger); err != nil {
				logger.Error("auditor stopped", zap.Error(err))
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", "", "path to a YAML config file")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9091", "address for the Prometheus endpoint")
	return cmd
}

func run(ctx context.Context, cfg *config.Config, metricsAddr string, logger *zap.Logger) error {
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	b := retry.WithMaxRetries(5, retry.NewFibonacci(1*time.Second))
	if err := retry.Do(ctx, b, func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			logger.Warn("postgres not ready, retrying", zap.Error(err))
			return retry.RetryableError(err)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	if err := audit.Migrate(db); err != nil {
		return err
	}

	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.URL = cfg.NATS.URL
	natsConfig.Name = "verdict-auditor"
	nc, err := messaging.NewNATSClient(natsConfig, logger)
	if err != nil {
		return err
	}
	defer nc.Close()

	recorder := audit.NewRecorder(audit.NewStore(db), 5*time.Second, logger)
	if err := nc.SubscribeModerationOutcome(func(data []byte) {
		if err := recorder.Handle(context.Background(), data); err != nil {
			logger.Warn("dropped moderation outcome", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	metricsServer := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	logger.Info("auditor running",
		zap.String("subject", messaging.SubjectModerationOutcome),
		zap.String("metrics_addr", metricsAddr))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
