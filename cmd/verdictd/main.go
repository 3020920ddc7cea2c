// Command verdictd serves the emoji verdict API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/whisper/verdict-app/internal/api"
	"github.com/whisper/verdict-app/internal/config"
	"github.com/whisper/verdict-app/internal/language"
	"github.com/whisper/verdict-app/internal/llm"
	"github.com/whisper/verdict-app/internal/logging"
	"github.com/whisper/verdict-app/internal/messaging"
	"github.com/whisper/verdict-app/internal/metrics"
	"github.com/whisper/verdict-app/internal/moderation"
	"github.com/whisper/verdict-app/internal/ratelimit"
	"github.com/whisper/verdict-app/internal/share"
	"github.com/whisper/verdict-app/internal/stream"
	"github.com/whisper/verdict-app/internal/verdict"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		cfgPath string
		listen  string
	)
	cmd := &cobra.Command{
		Use:          "verdictd",
		Short:        "Serve emoji verdicts as an NDJSON event stream",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadDotEnv(".env"); err != nil {
				return err
			}
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Server.ListenAddr = listen
			}

			logger, err := logging.New("verdictd", cfg.Log.Level)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := run(ctx, cfg, logger); err != nil {
				logger.Error("verdictd stopped", zap.Error(err))
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", "", "path to a YAML config file")
	cmd.Flags().StringVar(&listen, "listen", "", "listen address, overrides the config")
	return cmd
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	g, gctx := errgroup.WithContext(ctx)

	// Rate limit store: shared Redis when configured, else process memory.
	var store ratelimit.Store
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		defer rdb.Close()
		if err := connectWithRetry(ctx, logger, "redis", func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}); err != nil {
			return err
		}
		store = ratelimit.NewRedisStore(rdb, nil)
	} else {
		mem := ratelimit.NewMemoryStore(nil)
		g.Go(func() error {
			mem.StartSweeper(gctx, time.Minute)
			return nil
		})
		store = mem
	}
	rule := ratelimit.Rule{Key: ratelimit.RuleVerdict.Key, Limit: cfg.RateLimit.Limit, Window: cfg.RateLimit.Window}
	limiter := ratelimit.NewLimiter(store, rule, ratelimit.WithLogger(logger))

	// Event fan-out is optional.
	var publisher stream.Publisher
	if cfg.NATS.URL != "" {
		natsConfig := messaging.DefaultNATSConfig()
		natsConfig.URL = cfg.NATS.URL
		var nc *messaging.NATSClient
		if err := connectWithRetry(ctx, logger, "nats", func(context.Context) error {
			var err error
			nc, err = messaging.NewNATSClient(natsConfig, logger)
			return err
		}); err != nil {
			return err
		}
		defer nc.Close()
		publisher = nc
	}

	client := llm.NewClient(llm.Config{
		BaseURL: cfg.Upstream.BaseURL,
		APIKey:  cfg.Upstream.APIKey,
		Model:   cfg.Upstream.Model,
		Timeout: cfg.Upstream.Timeout,
		RPS:     cfg.Upstream.RPS,
		Burst:   cfg.Upstream.Burst,
	}, logger)
	backend := llm.NewNegotiator(client, logger, llm.DropUnsupportedTemperature)
	backend.OnRetry = func(rule string) {
		metrics.NegotiationRetries.WithLabelValues(rule).Inc()
	}

	moderator := moderation.NewModerator(moderation.NewFilter(), backend, moderation.Config{
		Model:    cfg.ModerationModel(),
		FailOpen: cfg.Moderation.FailOpen,
	}, logger)
	normalizer := language.NewNormalizer(backend, language.Config{
		Model:    cfg.LanguageModel(),
		Target:   cfg.Language.Target,
		FailOpen: cfg.Language.FailOpen,
	}, logger)
	generator := verdict.NewGenerator(backend, cfg.Upstream.Model, logger)
	linker := share.NewLinker(share.LinkerConfig{
		Endpoint: cfg.Share.ShortlinkURL,
		Token:    cfg.Share.ShortlinkToken,
		BaseURL:  cfg.Share.PublicBaseURL,
		Timeout:  cfg.Upstream.Timeout,
	}, logger)

	orchestrator := stream.NewOrchestrator(moderator, normalizer, generator, linker, publisher, logger)

	trusted, err := api.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		return err
	}

	serverConfig := api.DefaultServerConfig()
	serverConfig.ListenAddr = cfg.Server.ListenAddr
	serverConfig.WriteTimeout = cfg.Server.WriteTimeout
	serverConfig.ShutdownTimeout = cfg.Server.ShutdownTimeout
	serverConfig.TrustedProxies = trusted
	srv := api.NewServer(serverConfig, limiter, orchestrator, logger)

	logger.Info("verdictd starting",
		zap.String("listen_addr", cfg.Server.ListenAddr),
		zap.Bool("redis", cfg.Redis.Addr != ""),
		zap.Bool("nats", cfg.NATS.URL != ""),
		zap.String("model", cfg.Upstream.Model),
		zap.Int("rate_limit", cfg.RateLimit.Limit),
		zap.Duration("rate_window", cfg.RateLimit.Window))

	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// connectWithRetry retries fn with Fibonacci backoff before giving up.
func connectWithRetry(ctx context.Context, logger *zap.Logger, name string, fn func(context.Context) error) error {
	b := retry.WithMaxRetries(5, retry.NewFibonacci(1*time.Second))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := fn(attemptCtx); err != nil {
			logger.Warn("connect failed, retrying", zap.String("target", name), zap.Error(err))
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("connect %s: %w", name, err)
	}
	return nil
}
