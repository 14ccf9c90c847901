package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/slidecraft/server/internal/config"
	"github.com/slidecraft/server/internal/database"
	"github.com/slidecraft/server/internal/middleware"
	"github.com/slidecraft/server/internal/modules/generation/images"
	"github.com/slidecraft/server/internal/modules/generation/pipeline"
	"github.com/slidecraft/server/internal/modules/generation/slides"
	"github.com/slidecraft/server/internal/modules/presentation"
	"github.com/slidecraft/server/internal/modules/storage/imagestore"
	pkgcron "github.com/slidecraft/server/internal/pkg/cron"
	pkgredis "github.com/slidecraft/server/internal/pkg/redis"
	"github.com/slidecraft/server/internal/pkg/taskqueue"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// App holds all application dependencies.
type App struct {
	cfg    *config.AppConfig
	router *gin.Engine
	db     *gorm.DB
	rc     *pkgredis.Client
	logger *zap.Logger
	cancel context.CancelFunc
	sched  *pkgcron.Scheduler

	tasks         *taskqueue.Service
	presentations *presentation.Service
	slides        *slides.Service
	images        *images.Service
	pipeline      *pipeline.Service
}

// New initializes the application: config → DB → Redis → services → routes.
func New(logger *zap.Logger, cfg *config.AppConfig) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	applyRuntimeSettings(cfg, logger)

	db, err := database.Connect(cfg, true)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	rc, err := pkgredis.Connect(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}

	a := &App{cfg: cfg, db: db, rc: rc, logger: logger}
	if err := a.buildServices(); err != nil {
		_ = rc.Close()
		return nil, err
	}

	if cfg.IsDev() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))
	router.Use(cors.New(corsConfig(cfg)))
	a.router = router

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.sched = pkgcron.New(logger.Named("CronService"))
	a.registerCronJobs()
	a.sched.Start(ctx)

	a.registerRoutes()
	return a, nil
}

func (a *App) buildServices() error {
	cfg := a.cfg
	a.tasks = taskqueue.NewService(a.rc, cfg.Generation.TaskTTL)
	a.presentations = presentation.NewService(a.db)

	llm, err := slides.NewCompleter(cfg.LLM)
	if err != nil {
		return fmt.Errorf("llm: %w", err)
	}
	a.slides = slides.NewService(llm, a.presentations, cfg.LLM,
		slides.WithLogger(a.logger),
		slides.WithTimeout(cfg.Generation.TextTimeout),
	)

	gen, err := images.NewInferenceClient(cfg.Image.Endpoint, cfg.Image.APIKey)
	if err != nil {
		return fmt.Errorf("image: %w", err)
	}
	var cache images.Cache
	if cfg.Image.Cache == "redis" {
		cache = images.NewRedisCache(a.rc, cfg.Image.CacheTTL)
	} else {
		cache = images.NewMemoryCache(cfg.Image.CacheTTL)
	}
	imageOpts := []images.Option{images.WithLogger(a.logger)}
	if cfg.Storage.Enable {
		uploader, err := imagestore.New(cfg.Storage)
		if err != nil {
			return fmt.Errorf("storage: %w", err)
		}
		imageOpts = append(imageOpts, images.WithObjectStore(uploader))
	}
	a.images = images.NewService(gen, cfg.Image, cache, imageOpts...)

	a.pipeline = pipeline.NewService(a.tasks, a.rc, a.slides, a.images, a.presentations,
		pipeline.WithLogger(a.logger),
		pipeline.WithTextTimeout(cfg.Generation.TextTimeout),
		pipeline.WithImageDelay(cfg.Image.RequestDelay),
	)
	return nil
}

func corsConfig(cfg *config.AppConfig) cors.Config {
	c := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Idempotency-Key", "x-idempotence"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) > 0 && !cfg.IsDev() {
		patterns := cfg.AllowedOrigins
		c.AllowOriginFunc = func(origin string) bool {
			host := extractOriginHost(origin)
			for _, pattern := range patterns {
				if matchOriginPattern(pattern, host) {
					return true
				}
			}
			return false
		}
	} else {
		c.AllowOriginFunc = func(origin string) bool { return true }
	}
	return c
}

// Addr returns the listen address.
func (a *App) Addr() string { return a.cfg.Addr() }

// Router returns the HTTP handler.
func (a *App) Router() http.Handler { return a.router }

// Shutdown stops background work. In-flight generations are cancelled and
// keep their partial decks.
// StopRuns cancels in-flight generations so their event streams close.
func (a *App) StopRuns() { a.pipeline.Shutdown() }

func (a *App) Shutdown() {
	a.cancel()
	a.pipeline.Shutdown()
	a.sched.Wait()
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	_ = a.rc.Close()
}

var processStart = time.Now()
