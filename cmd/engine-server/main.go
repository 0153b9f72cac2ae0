package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/clinical-engine/internal/config"
	"github.com/ehr/clinical-engine/internal/domain/assignment"
	"github.com/ehr/clinical-engine/internal/domain/clinsched"
	"github.com/ehr/clinical-engine/internal/domain/dailyplan"
	"github.com/ehr/clinical-engine/internal/domain/results"
	"github.com/ehr/clinical-engine/internal/domain/scheduling"
	"github.com/ehr/clinical-engine/internal/platform/auth"
	"github.com/ehr/clinical-engine/internal/platform/cache"
	"github.com/ehr/clinical-engine/internal/platform/civil"
	"github.com/ehr/clinical-engine/internal/platform/clinref"
	"github.com/ehr/clinical-engine/internal/platform/db"
	"github.com/ehr/clinical-engine/internal/platform/logging"
	"github.com/ehr/clinical-engine/internal/platform/metrics"
	"github.com/ehr/clinical-engine/internal/platform/middleware"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "engine-server",
		Short: "Clinical assignment and scheduling engine",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(slotsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the engine API server",
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

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			dir, _ := cmd.Flags().GetString("dir")
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, dir).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			dir, _ := cmd.Flags().GetString("dir")
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, dir).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
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
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

// slotsCmd prints free slots as JSON lines, one slot per line.
func slotsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "List free appointment slots",
		RunE: func(cmd *cobra.Command, args []string) error {
			start, _ := cmd.Flags().GetString("start")
			end, _ := cmd.Flags().GetString("end")
			doctor, _ := cmd.Flags().GetString("doctor")
			limit, _ := cmd.Flags().GetInt("limit")

			w, err := slotWindow(start, end)
			if err != nil {
				return err
			}
			doctorID, err := parseDoctor(doctor)
			if err != nil {
				return err
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			zone, err := civil.LoadZone(cfg.FacilityTimezone)
			if err != nil {
				return err
			}
			logger := logging.New(logging.Options{Env: cfg.Env, Level: cfg.LogLevel})

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			gen := scheduling.NewGenerator(
				scheduling.NewScheduleRepoPG(pool),
				scheduling.NewBookingRepoPG(pool),
				zone, logger, nil,
			)
			seq, err := gen.Generate(ctx, w, doctorID)
			if err != nil {
				return err
			}
			_, err = writeSlots(cmd.OutOrStdout(), seq, limit)
			return err
		},
	}
	cmd.Flags().String("start", "", "First facility date, YYYY-MM-DD")
	cmd.Flags().String("end", "", "Last facility date, YYYY-MM-DD (inclusive)")
	cmd.Flags().String("doctor", "", "Restrict to one doctor")
	cmd.Flags().Int("limit", 0, "Stop after this many slots (0 for all)")
	cmd.MarkFlagRequired("start")
	cmd.MarkFlagRequired("end")
	return cmd
}

func slotWindow(start, end string) (scheduling.Window, error) {
	var w scheduling.Window
	var err error
	if w.From, err = civil.ParseDate(start); err != nil {
		return w, fmt.Errorf("--start: %w", err)
	}
	if w.To, err = civil.ParseDate(end); err != nil {
		return w, fmt.Errorf("--end: %w", err)
	}
	return w, nil
}

func parseDoctor(s string) (*uuid.UUID, error) {
	if s == "" {
		return nil, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("--doctor: %w", err)
	}
	return &id, nil
}

func writeSlots(out io.Writer, seq iter.Seq[scheduling.Slot], limit int) (int, error) {
	enc := json.NewEncoder(out)
	n := 0
	for slot := range seq {
		if err := enc.Encode(slot); err != nil {
			return n, err
		}
		n++
		if limit > 0 && n >= limit {
			break
		}
	}
	return n, nil
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.New(logging.Options{
		Env:        cfg.Env,
		Level:      cfg.LogLevel,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogFileMaxSizeMB,
		MaxBackups: cfg.LogFileMaxBackups,
	})

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	if cfg.IsDev() {
		logger.Warn().Msg("running in development mode; every request acts as dev-user with admin role")
	}

	zone, err := civil.LoadZone(cfg.FacilityTimezone)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load facility timezone")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Str("timezone", zone.String()).Msg("connected to database")

	tx := db.NewTxRunner(pool)

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New()
	}

	// Daily plan cache
	var planCache dailyplan.Cache
	var healthChecks []db.Check
	if cfg.RedisURL != "" {
		rdb, err := cache.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer rdb.Close()
		store := cache.NewPlanStore(rdb, cfg.DailyPlanCacheTTL)
		planCache = store
		healthChecks = append(healthChecks, db.Check{Name: "plan_cache", Probe: store.Probe})
		logger.Info().Dur("ttl", cfg.DailyPlanCacheTTL).Msg("daily plan cache enabled")
	}

	// Assignments and lifecycle
	registry := clinref.NewRegistry()
	assignSvc := assignment.NewService(assignment.NewRepoPG(pool), tx, logger, m)
	assignSvc.RegisterResolvers(registry)

	// Clinical schedule
	apptRepo := clinsched.NewRepoPG(pool)
	sync := clinsched.NewSynchronizer(apptRepo, registry, logger, m)
	assignSvc.Subscribe(sync)
	schedSvc := clinsched.NewService(apptRepo, registry, tx, zone, logger)

	// Results
	resultSvc := results.NewService(results.NewRepoPG(pool), registry, tx, sync, logger)
	resultSvc.OnCompleted(func(ctx context.Context, ref clinref.Ref, actor, notes string) error {
		_, err := assignSvc.Transition(ctx, ref, assignment.ActionComplete, actor, notes)
		return err
	})

	// Doctor schedules and bookings
	scheduleRepo := scheduling.NewScheduleRepoPG(pool)
	bookingRepo := scheduling.NewBookingRepoPG(pool)
	slotGen := scheduling.NewGenerator(scheduleRepo, bookingRepo, zone, logger, m)
	bookingSvc := scheduling.NewService(scheduleRepo, bookingRepo, slotGen, tx, zone, logger)

	// Daily plan
	planSvc := dailyplan.NewService(assignSvc, schedSvc, planCache, zone, logger, m)
	assignSvc.Subscribe(planSvc.LifecycleListener())
	assignSvc.OnCreated(planSvc.CreatedHook())
	sync.OnChange(planSvc.Invalidate)
	schedSvc.OnChange(planSvc.Invalidate)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Actor"},
	}))
	if m != nil {
		e.Use(m.Middleware())
		e.GET("/metrics", m.Handler())
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(pool, healthChecks...))

	apiV1 := e.Group("/api/v1", authMiddleware(cfg, logger))
	assignment.NewHandler(assignSvc).RegisterRoutes(apiV1)
	clinsched.NewHandler(schedSvc).RegisterRoutes(apiV1)
	results.NewHandler(resultSvc).RegisterRoutes(apiV1)
	scheduling.NewHandler(bookingSvc, slotGen).RegisterRoutes(apiV1)
	dailyplan.NewHandler(planSvc).RegisterRoutes(apiV1)

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

func authMiddleware(cfg *config.Config, logger zerolog.Logger) echo.MiddlewareFunc {
	if cfg.IsDev() {
		return auth.DevAuthMiddleware()
	}
	jwtCfg := auth.JWTConfig{
		Issuer:   cfg.AuthIssuer,
		Audience: cfg.AuthAudience,
		JWKSURL:  cfg.AuthJWKSURL,
	}
	if cfg.AuthSigningKey != "" {
		jwtCfg.SigningKey = []byte(cfg.AuthSigningKey)
		logger.Info().Msg("validating tokens with a shared signing key")
	}
	return auth.JWTMiddleware(jwtCfg)
}
