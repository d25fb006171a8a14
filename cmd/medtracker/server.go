package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/medtracker/medtracker/internal/config"
	"github.com/medtracker/medtracker/internal/domain/access"
	"github.com/medtracker/medtracker/internal/domain/identity"
	"github.com/medtracker/medtracker/internal/domain/medication"
	"github.com/medtracker/medtracker/internal/platform/auth"
	"github.com/medtracker/medtracker/internal/platform/blobstore"
	"github.com/medtracker/medtracker/internal/platform/db"
	"github.com/medtracker/medtracker/internal/platform/metrics"
	"github.com/medtracker/medtracker/internal/platform/middleware"
)

const maxJSONBody = 1 << 20

type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	pool    *pgxpool.Pool
	metrics *metrics.Collector
	photos  blobstore.BlobStore
	tokens  *auth.TokenManager
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(os.Stdout, cfg.Env, cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, poolOptions(cfg, logger))
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		return err
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	photos, err := newPhotoStore(cfg)
	if err != nil {
		logger.Error().Err(err).Msg("failed to open photo store")
		return err
	}
	if cfg.PhotoDir == "" {
		logger.Warn().Msg("PHOTO_DIR is not set, intake photos are kept in memory")
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		pool:    pool,
		metrics: metrics.NewCollector(),
		photos:  photos,
		tokens:  auth.NewTokenManager([]byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.TokenTTL),
	}
	e := newRouter(a)

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newPhotoStore picks the filesystem store when PHOTO_DIR is set.
func newPhotoStore(cfg *config.Config) (blobstore.BlobStore, error) {
	if cfg.PhotoDir == "" {
		return blobstore.NewInMemoryBlobStore(cfg.MaxPhotoBytes), nil
	}
	return blobstore.NewFileSystemBlobStore(cfg.PhotoDir, cfg.MaxPhotoBytes)
}

func newRouter(a *app) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadHeaderTimeout = 10 * time.Second

	// Global middleware
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	e.Use(a.metrics.Middleware())
	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: a.cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.BodyLimit(maxJSONBody, a.cfg.MaxPhotoBytes+maxJSONBody))
	e.Use(middleware.RequestTimeout(a.cfg.RequestTimeout))

	// Operations
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(a.pool))
	e.GET("/metrics", echo.WrapHandler(a.metrics.Handler()))

	// API
	apiV1 := e.Group("/api/v1")
	apiV1.Use(auth.JWTMiddleware(a.tokens))

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: a.cfg.RateLimitRPS,
		BurstSize:         a.cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	// Identity domain
	userRepo := identity.NewUserRepo(a.pool)
	mappingRepo := identity.NewMappingRepo(a.pool)
	identitySvc := identity.NewService(userRepo, mappingRepo)
	identity.NewHandler(identitySvc).RegisterRoutes(apiV1)

	// Medication domain
	checker := access.NewChecker(mappingRepo, a.metrics)
	medSvc := medication.NewService(
		medication.NewScheduleRepo(a.pool),
		medication.NewLogRepo(a.pool),
		medication.NewTabletRepo(a.pool),
		userRepo,
		checker,
		db.NewTransactor(a.pool),
		medication.WithRecorder(a.metrics),
		medication.WithPhotoStore(a.photos),
		medication.WithStrictLogWindow(a.cfg.LogWindowStrict),
	)
	medication.NewHandler(medSvc).RegisterRoutes(apiV1)

	return e
}
