package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/orchestrall/orchestrall/internal/config"
	"github.com/orchestrall/orchestrall/internal/domain/entity"
	"github.com/orchestrall/orchestrall/internal/domain/patientflow"
	"github.com/orchestrall/orchestrall/internal/platform/auth"
	"github.com/orchestrall/orchestrall/internal/platform/db"
	"github.com/orchestrall/orchestrall/internal/platform/middleware"
	"github.com/orchestrall/orchestrall/internal/platform/notification"
)

func main() {
	root := &cobra.Command{
		Use:   "orchestrall-server",
		Short: "Entity CRUD engine and appointment scheduling API",
	}

	root.AddCommand(serveCmd(), migrateCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setupLogging(cfg *config.Config) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.IsDev() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			setupLogging(cfg)
			return serve(cfg)
		},
	}
}

func serve(cfg *config.Config) error {
	ctx := context.Background()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	registry := entity.DefaultRegistry()
	engine := entity.NewEngine(registry, entity.NewPGStore(pool))

	notifier := notification.NewManager(logEmailSender{}, logSMSSender{}, notification.NewTemplateEngine())
	flow := patientflow.NewService(
		patientflow.NewPGScheduleRepository(pool),
		patientflow.NewPGAppointmentRepository(pool),
		notifier,
	)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomw.RequestID())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{AllowOrigins: cfg.CORSOrigins}))
	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recovery())
	e.Use(middleware.Timeout(cfg.RequestTimeout))

	e.GET("/healthz", db.HealthHandler(pool))

	authMW := auth.NewMiddleware(cfg.JWTSecret, cfg.DefaultOrg, cfg.IsDev())
	api := e.Group("/api", authMW.Authenticate())
	write := auth.RequireRole("staff")

	patientflow.NewHandler(flow).RegisterRoutes(api, write)
	notification.NewHandler(notifier).RegisterRoutes(api)
	// The generic :entity wildcard goes last so named routes win.
	entity.NewHandler(engine).RegisterRoutes(api, write)

	go func() {
		addr := ":" + cfg.Port
		log.Info().Str("addr", addr).Str("env", cfg.Env).Msg("server starting")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withMigrator(func(ctx context.Context, m *db.Migrator) error {
					n, err := m.Up(ctx)
					if err != nil {
						return err
					}
					log.Info().Int("applied", n).Msg("migrations complete")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show migration status",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withMigrator(func(ctx context.Context, m *db.Migrator) error {
					statuses, err := m.Status(ctx)
					if err != nil {
						return err
					}
					for _, s := range statuses {
						state := "pending"
						if s.Applied {
							state = "applied " + s.AppliedAt.Format(time.RFC3339)
						}
						fmt.Printf("%3d  %-40s %s\n", s.Version, s.Name, state)
					}
					return nil
				})
			},
		},
	)
	return cmd
}

func withMigrator(fn func(context.Context, *db.Migrator) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	setupLogging(cfg)

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	return fn(ctx, db.NewMigrator(pool, cfg.MigrationsDir))
}

// logEmailSender and logSMSSender are the default outbound senders: they
// log the message instead of talking to a provider. Real senders plug in
// through the notification interfaces.
type logEmailSender struct{}

func (logEmailSender) SendEmail(_ context.Context, to, subject, _ string) error {
	log.Info().Str("to", to).Str("subject", subject).Msg("email dispatched")
	return nil
}

type logSMSSender struct{}

func (logSMSSender) SendSMS(_ context.Context, to, _ string) error {
	log.Info().Str("to", to).Msg("sms dispatched")
	return nil
}
