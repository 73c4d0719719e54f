package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/edm/edm/internal/api"
	"github.com/edm/edm/internal/config"
	"github.com/edm/edm/internal/pipeline"
	"github.com/edm/edm/internal/platform/auth"
	"github.com/edm/edm/internal/platform/db"
	"github.com/edm/edm/internal/platform/logging"
	"github.com/edm/edm/internal/platform/middleware"
	"github.com/edm/edm/internal/platform/telemetry"
	"github.com/edm/edm/internal/sink"
	"github.com/edm/edm/internal/transform"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "edm",
		Short:         "Event data model codec, pipeline and API server",
		SilenceUsage:  true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(processCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(migrateCmd())
	return rootCmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the event API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")

			ctx := cmd.Context()
			pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, db.Migrations(), schema)
			fmt.Fprintf(cmd.OutOrStdout(), "Running migrations on schema: %s\n", schema)

			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", "public", "Target schema for migrations")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")

			ctx := cmd.Context()
			pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, db.Migrations(), schema).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Migration status for schema: %s\n", schema)
			printStatus(out, statuses)
			return nil
		},
	}
	statusCmd.Flags().String("schema", "public", "Target schema for migrations")
	cmd.AddCommand(statusCmd)

	return cmd
}

func printStatus(out io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(out, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func connect(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}
	return db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
}

// buildProcessor wires the transform rules, dedup window and metrics from
// cfg into a Processor.
func buildProcessor(cfg *config.Config, logger zerolog.Logger, metrics *telemetry.Provider) (*pipeline.Processor, error) {
	tf := transform.Func(transform.Identity)
	if cfg.RulesFile != "" {
		rules, err := transform.LoadRules(cfg.RulesFile)
		if err != nil {
			return nil, err
		}
		tf = rules.Func()
		logger.Info().Str("file", cfg.RulesFile).Int("rules", len(rules.Rules)).Msg("loaded transform rules")
	}
	return pipeline.New(pipeline.Options{
		Workers:       cfg.Workers,
		PreserveOrder: cfg.PreserveOrder,
		Transform:     tf,
		Dedup:         pipeline.NewDeduper(cfg.DedupCapacity, cfg.DedupTTL),
		Metrics:       metrics,
		Logger:        logger,
	}), nil
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.New(cfg.LogLevel, cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()
	metrics := telemetry.New()

	// Database
	var pool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		pool, err = db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		logger.Info().Msg("connected to database")
		go reportPool(ctx, pool, metrics)
	}

	proc, err := buildProcessor(cfg, logger, metrics)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build pipeline")
	}

	opts := api.Options{Processor: proc}
	switch cfg.Sink {
	case "postgres":
		pg := sink.NewPostgres(pool, uuid.New(), sink.DefaultBatchSize)
		opts.Ingest, opts.Rejects = pg, pg
	case "redis":
		client, err := sink.DialRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer client.Close()
		opts.Ingest = sink.NewRedisStream(client, cfg.RedisStream, 0)
	default:
		opts.Ingest = sink.NewNDJSON(os.Stdout)
	}
	logger.Info().Str("sink", cfg.Sink).Int("workers", cfg.Workers).Msg("ingest sink ready")

	e := api.NewServer(api.ServerConfig{
		Logger:  logger,
		Metrics: metrics,
		Handler: api.NewHandler(opts),
		Pool:    pool,
		DevAuth: cfg.IsDev() && cfg.AuthSigningKey == "",
		Auth: auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
		},
		SingleBodyLimit: "1M",
		BatchBodyLimit:  cfg.BodyLimit,
		RequestTimeout:  cfg.RequestTimeout,
		RateLimit: middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimitRPS,
			BurstSize:         cfg.RateLimitBurst,
		},
	})

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

func reportPool(ctx context.Context, pool *pgxpool.Pool, metrics *telemetry.Provider) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		s := db.GetPoolStats(pool)
		metrics.SetPoolConnections(s.IdleConns, s.AcquiredConns, s.MaxConns)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
