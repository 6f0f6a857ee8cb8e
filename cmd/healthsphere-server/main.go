package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/healthsphere/healthsphere/internal/config"
	"github.com/healthsphere/healthsphere/internal/domain/identity"
	"github.com/healthsphere/healthsphere/internal/domain/telehealth"
	"github.com/healthsphere/healthsphere/internal/platform/auth"
	"github.com/healthsphere/healthsphere/internal/platform/db"
	"github.com/healthsphere/healthsphere/internal/platform/middleware"
	"github.com/healthsphere/healthsphere/internal/platform/telemetry"
	"github.com/healthsphere/healthsphere/migrations"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "0.1.0"

const (
	devDefaultSubject = "dev-doctor"
	shutdownTimeout   = 10 * time.Second
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "healthsphere-server",
		Short: "HealthSphere telehealth signaling server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the signaling API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx)
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			target, _ := cmd.Flags().GetInt("target")
			migrator, closePool, err := openMigrator(cmd)
			if err != nil {
				return err
			}
			defer closePool()

			n, err := migrator.UpTo(cmd.Context(), target)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s)\n", n)
			return nil
		},
	}
	upCmd.Flags().Int("target", 0, "Stop after this version (0 applies all)")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			migrator, closePool, err := openMigrator(cmd)
			if err != nil {
				return err
			}
			defer closePool()

			statuses, err := migrator.Status(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, s := range statuses {
				state := "pending"
				if s.Applied && s.AppliedAt != nil {
					state = "applied " + s.AppliedAt.Format(time.RFC3339)
				}
				fmt.Fprintf(out, "%03d  %-32s %s\n", s.Version, s.Name, state)
			}
			return nil
		},
	}

	for _, c := range []*cobra.Command{upCmd, statusCmd} {
		c.Flags().String("schema", "public", "Target schema for migrations")
		c.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
		cmd.AddCommand(c)
	}
	return cmd
}

func openMigrator(cmd *cobra.Command) (*db.Migrator, func(), error) {
	schema, _ := cmd.Flags().GetString("schema")
	dir, _ := cmd.Flags().GetString("dir")

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, nil, errors.New("DATABASE_URL is required to run migrations")
	}

	pool, err := db.NewPool(cmd.Context(), db.PoolConfig{
		URL:             cfg.DatabaseURL,
		MaxConns:        2,
		ApplicationName: "healthsphere-migrate",
	})
	if err != nil {
		return nil, nil, err
	}
	return db.NewMigrator(pool, migrationFiles(dir), schema), pool.Close, nil
}

func migrationFiles(dir string) fs.FS {
	if dir != "" {
		return os.DirFS(dir)
	}
	return migrations.FS
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

// app holds the wired components shared by the HTTP server and the
// background sweeper.
type app struct {
	cfg        *config.Config
	logger     zerolog.Logger
	pool       *pgxpool.Pool
	telemetry  *telemetry.TelemetryProvider
	registry   *telehealth.Registry
	signaling  *telehealth.Service
	identity   *identity.Service
	iceServers []webrtc.ICEServer
}

func runServer(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}
	if cfg.IsDev() {
		logger.Warn().
			Str("default_user", devDefaultSubject).
			Msg("DEVELOPMENT mode: requests are authenticated from the X-Dev-User header; do not use in production")
	}

	var pool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		pool, err = db.NewPool(ctx, db.PoolConfig{
			URL:             cfg.DatabaseURL,
			MaxConns:        cfg.DBMaxConns,
			MinConns:        cfg.DBMinConns,
			ApplicationName: "healthsphere-server",
		})
		if err != nil {
			logger.Error().Err(err).Msg("failed to connect to database")
			return err
		}
		defer pool.Close()
		logger.Info().Msg("connected to database")

		if cfg.IsDev() {
			if err := prepareDevDatabase(ctx, pool); err != nil {
				return err
			}
		}
	}

	var directory identity.Directory
	if pool != nil {
		directory = identity.NewDirectoryPG(pool)
	} else {
		directory = identity.NewDevDirectory()
		logger.Warn().Msg("no DATABASE_URL: using the in-memory development directory")
	}

	a, err := newApp(cfg, logger, pool, directory)
	if err != nil {
		return err
	}
	e := a.newServer()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("version", version).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	if cfg.SessionTTL > 0 {
		sweeper := telehealth.NewSweeper(a.registry, cfg.SweepInterval, logger)
		g.Go(func() error { return sweeper.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server stopped with error")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

// prepareDevDatabase applies the embedded migrations and seeds the
// development users so DevAuth subjects resolve against Postgres too.
func prepareDevDatabase(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := db.NewMigrator(pool, migrations.FS, "public").Up(ctx); err != nil {
		return fmt.Errorf("dev migrations: %w", err)
	}
	if err := identity.EnsureDevUsers(ctx, pool); err != nil {
		return fmt.Errorf("dev seed: %w", err)
	}
	return nil
}

func newApp(cfg *config.Config, logger zerolog.Logger, pool *pgxpool.Pool, directory identity.Directory) (*app, error) {
	iceServers, err := cfg.ICEServers()
	if err != nil {
		return nil, fmt.Errorf("ICE servers: %w", err)
	}

	tp := telemetry.NewTelemetryProvider(telemetry.TelemetryConfig{
		ServiceName:       "healthsphere-server",
		ServiceVersion:    version,
		Environment:       cfg.Env,
		RuntimeCollectors: true,
	})
	metrics := tp.Signaling()

	registry := telehealth.NewRegistry(
		telehealth.WithIdleTimeout(cfg.SessionTTL),
		telehealth.WithExpireHook(func(id string) {
			metrics.SessionExpired()
			logger.Debug().Str("session_id", id).Msg("signaling session expired")
		}),
	)

	opts := []telehealth.ServiceOption{
		telehealth.WithMetrics(metrics),
		telehealth.WithLogger(logger),
	}
	if cfg.ValidatePayloads {
		opts = append(opts, telehealth.WithPayloadValidator(telehealth.SDPValidator{}))
	}

	identitySvc := identity.NewService(directory)
	return &app{
		cfg:        cfg,
		logger:     logger,
		pool:       pool,
		telemetry:  tp,
		registry:   registry,
		signaling:  telehealth.NewService(registry, identitySvc, opts...),
		identity:   identitySvc,
		iceServers: iceServers,
	}, nil
}

func (a *app) newServer() *echo.Echo {
	cfg := a.cfg

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	e.Use(middleware.SecurityHeaders(cfg.IsProduction()))

	allowHeaders := []string{echo.HeaderAuthorization, echo.HeaderContentType, middleware.RequestIDHeader}
	if cfg.IsDev() {
		allowHeaders = append(allowHeaders, auth.DevUserHeader, auth.DevRolesHeader)
	}
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: allowHeaders,
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(a.telemetry.MetricsMiddleware())

	// Auth middleware
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware(devDefaultSubject, auth.AuthSkipper))
	} else {
		signingKey, _ := cfg.SigningKey()
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: signingKey,
			Skipper:    auth.AuthSkipper,
		}))
	}

	// Health and metrics
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(a.pool))
	e.GET("/metrics", a.telemetry.PrometheusHandler())

	// API
	api := e.Group("/api")
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		IdleTTL:           middleware.DefaultRateLimitConfig().IdleTTL,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 || rateLimitCfg.BurstSize <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	api.Use(middleware.RateLimit(rateLimitCfg))

	signalingHandler := telehealth.NewHandler(a.signaling, a.iceServers)
	signalingHandler.RegisterRoutes(api)
	signalingHandler.RegisterAdminRoutes(api.Group("/admin"))
	identity.NewHandler(a.identity).RegisterRoutes(api)

	return e
}
