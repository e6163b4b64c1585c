package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lgulliver/chunkup/cmd/api-gateway/routes"
	apitypes "github.com/lgulliver/chunkup/cmd/api-gateway/types"
	"github.com/lgulliver/chunkup/internal/auth"
	"github.com/lgulliver/chunkup/internal/common"
	"github.com/lgulliver/chunkup/internal/files"
	"github.com/lgulliver/chunkup/internal/session"
	"github.com/lgulliver/chunkup/internal/storage"
	"github.com/lgulliver/chunkup/internal/sweeper"
	"github.com/lgulliver/chunkup/internal/upload"
	"github.com/lgulliver/chunkup/pkg/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "", "Path to an optional YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	cfg.Logging.SetupLogging()

	log.Info().Msg("starting chunkup API gateway")

	db, err := common.NewDatabase(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	// Redis is optional; without it locks are process-local
	var cache *common.Cache
	if cfg.Redis.Enabled() {
		cache, err = common.NewCache(&cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to Redis")
		}
		defer cache.Close()
	}
	locker := common.NewLocker(cache, cfg.Upload.LockTTL)

	blobStorage, err := storage.NewStorageFactory(&cfg.Storage).CreateStorage()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}

	opts, err := upload.OptionsFromConfig(&cfg.Upload)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid upload configuration")
	}
	allowAnonymous := cfg.Upload.AllowAnonymous
	opts.Permission = func(ctx context.Context, owner *uuid.UUID) bool {
		return owner != nil || allowAnonymous
	}
	registrar := files.NewRegistrar(db, blobStorage)
	opts.OnCompletion = registrar

	store := session.NewGormStore(db)
	authService := auth.NewService(db, cache, &cfg.Auth)
	uploadService := upload.NewService(store, blobStorage, locker, opts)
	expirer := sweeper.New(store, blobStorage, locker, cfg.Upload.ExpirationDelta).
		WithGracePeriod(cfg.Upload.LockTTL).
		WithOrphans(upload.BlobRoot(cfg.Upload.UploadPath))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Upload.SweepInterval > 0 {
		go expirer.Run(ctx, cfg.Upload.SweepInterval)
	}

	router := setupRouter(&services{
		auth:               authService,
		uploads:            uploadService,
		files:              registrar,
		sweeper:            expirer,
		health:             databaseHealth(db),
		protocolConstraint: cfg.Upload.ProtocolConstraint,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down server")

	// Give outstanding chunk writes 30 seconds to finish
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	} else {
		log.Info().Msg("server shutdown complete")
	}
}

// services are the dependencies the router dispatches to
type services struct {
	auth               routes.AuthServiceInterface
	uploads            routes.UploadServiceInterface
	files              routes.FileServiceInterface
	sweeper            routes.SweeperInterface
	health             func(ctx context.Context) error
	protocolConstraint string
}

func databaseHealth(db *common.Database) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		sqlDB, err := db.DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}
}

func setupRouter(svc *services) *gin.Engine {
	if zerolog.GlobalLevel() <= zerolog.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(requestLogger())
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	router.GET("/health", func(c *gin.Context) {
		status := apitypes.HealthStatus{
			Status:    "healthy",
			Service:   "chunkup-api-gateway",
			Timestamp: time.Now().UTC(),
			Services:  map[string]string{"database": "ok"},
		}
		code := http.StatusOK
		if svc.health != nil {
			if err := svc.health(c.Request.Context()); err != nil {
				status.Status = "unhealthy"
				status.Services["database"] = err.Error()
				code = http.StatusServiceUnavailable
			}
		}
		c.JSON(code, status)
	})

	api := router.Group("/api/v1")
	routes.AuthRoutes(api, svc.auth)
	routes.UploadRoutes(api, svc.uploads, svc.auth, svc.protocolConstraint)
	routes.FileRoutes(api, svc.files, svc.auth)
	routes.AdminRoutes(api, svc.uploads, svc.sweeper, svc.auth)

	return router
}

// requestLogger logs every request through zerolog
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("request handled")
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Content-Range, Authorization, X-API-Key, X-Upload-Protocol, X-Requested-With")
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS, GET, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
