package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/healiinn/consult/internal/config"
	"github.com/healiinn/consult/internal/domain/consultation"
	"github.com/healiinn/consult/internal/platform/db"
	"github.com/healiinn/consult/internal/platform/events"
	"github.com/healiinn/consult/internal/platform/middleware"
	"github.com/healiinn/consult/internal/platform/websocket"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "consult-server",
		Short: "Doctor consultation session service",
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
		Short: "Start the session service",
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

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	})

	return cmd
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	// Database
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Session state and its collaborators
	store := consultation.NewStore()
	tracker := consultation.NewActivityTracker()
	cache := consultation.NewCachePG(pool, cfg.DoctorID)
	backend := consultation.NewHTTPBackend(cfg.BackendBaseURL, cfg.DoctorID, 15*time.Second, logger)

	bridge := consultation.NewBridge(cache, store, tracker, backend, logger)
	bridge.VerifyDelay = cfg.RestoreVerifyDelay

	reconciler := consultation.NewReconciler(store, tracker, bridge, backend, logger)
	reconciler.PollInterval = cfg.QueuePollInterval
	reconciler.DebounceDelay = cfg.QueueDebounce

	svc := consultation.NewService(store, tracker, bridge, backend, cfg.DoctorID, logger)

	// Read-model push hub. Store mutations fan out as session.updated
	// events; the push runs on its own goroutine because store hooks fire
	// while callers may still hold their own locks.
	hub := websocket.NewHub(logger)
	store.SetOnChange(func() {
		go func() {
			data, err := json.Marshal(svc.ReadModel())
			if err != nil {
				return
			}
			hub.Broadcast(websocket.Event{
				Type:      "session.updated",
				Timestamp: time.Now(),
				Data:      data,
			})
		}()
	})

	// Restore any session persisted by a previous run before signals start
	// flowing.
	if restored, err := bridge.Restore(ctx); err != nil {
		logger.Warn().Err(err).Msg("session restore failed")
	} else if restored != nil {
		logger.Info().Str("consultation_id", restored.ID).Msg("restored persisted session")
	}

	// Background reconciliation: queue polling plus the push channel.
	go reconciler.Run(ctx)

	if cfg.BackendEventsURL != "" {
		listener := events.NewListener(cfg.BackendEventsURL, logger)
		consultation.WireEvents(listener, reconciler, logger)
		go listener.Run(ctx)
	} else {
		logger.Warn().Msg("BACKEND_EVENTS_URL not set, relying on queue polling only")
	}

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Routes
	apiV1 := e.Group("/api/v1")
	consultation.NewHandler(svc).RegisterRoutes(apiV1)
	websocket.NewWebSocketHandler(hub).RegisterRoutes(apiV1)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("doctor_id", cfg.DoctorID).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
