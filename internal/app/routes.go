package app

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/slidecraft/server/internal/middleware"
	"github.com/slidecraft/server/internal/modules/auth/user"
	"github.com/slidecraft/server/internal/modules/export"
	"github.com/slidecraft/server/internal/modules/generation/images"
	"github.com/slidecraft/server/internal/modules/generation/pipeline"
	"github.com/slidecraft/server/internal/modules/generation/slides"
	"github.com/slidecraft/server/internal/modules/presentation"
	"github.com/slidecraft/server/internal/pkg/response"
)

const (
	apiPrefix  = "/api/v1"
	appName    = "slidecraft-server"
	appVersion = "1.0.0"
)

func (a *App) registerRoutes() {
	r := a.router
	authMW := middleware.Auth(a.db)

	r.NoRoute(func(c *gin.Context) {
		response.NotFound(c)
	})
	r.NoMethod(func(c *gin.Context) {
		response.Error(c, http.StatusMethodNotAllowed, "method not allowed")
	})

	api := r.Group(apiPrefix)
	api.GET("/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"data": "pong"}) })
	api.GET("/info", a.info)

	limit := middleware.RateLimit(a.rc, a.cfg.RateLimit.Max, a.cfg.RateLimit.Window, a.logger)
	idem := middleware.Idempotence(a.rc)

	user.NewHandler(user.NewService(a.db)).RegisterRoutes(api, authMW)
	slides.NewHandler(a.slides).RegisterRoutes(api, authMW, limit)
	images.NewHandler(a.images).RegisterRoutes(api, authMW, limit)
	pipeline.NewHandler(a.pipeline).RegisterRoutes(api, authMW, limit, idem)
	presentation.NewHandler(a.presentations).RegisterRoutes(api, authMW)

	exportSvc := export.NewService(a.presentations, a.images.Placeholder(), export.WithLogger(a.logger))
	export.NewHandler(exportSvc).RegisterRoutes(api, authMW)
}

func (a *App) info(c *gin.Context) {
	uptime := time.Since(processStart)
	c.JSON(http.StatusOK, gin.H{
		"name":    appName,
		"version": appVersion,
		"uptime": gin.H{
			"seconds":  int64(uptime.Seconds()),
			"humanize": humanizeDuration(uptime),
		},
		"llm": gin.H{
			"provider": a.cfg.LLM.Type,
			"model":    a.slides.Model(),
		},
		"image_models": a.images.Models(),
		"cron":         a.sched.List(),
	})
}
