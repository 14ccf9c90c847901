package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/slidecraft/server/internal/middleware"
	"github.com/slidecraft/server/internal/modules/generation/slides"
	"github.com/slidecraft/server/internal/pkg/pagination"
	"github.com/slidecraft/server/internal/pkg/response"
	"github.com/slidecraft/server/internal/pkg/taskqueue"
)

const keepAliveInterval = 15 * time.Second

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the run endpoints. startMW guards the endpoints
// that begin new work (rate limiting, idempotence).
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc, startMW ...gin.HandlerFunc) {
	starting := func(handler gin.HandlerFunc) []gin.HandlerFunc {
		out := append([]gin.HandlerFunc{}, startMW...)
		return append(out, handler)
	}

	g := rg.Group("/generations", authMW)
	g.POST("", starting(h.start)...)
	g.GET("", h.list)
	g.GET("/:id", h.get)
	g.GET("/:id/events", h.events)
	g.POST("/:id/cancel", h.cancel)
	g.POST("/:id/retry", starting(h.retry)...)

	rg.POST("/presentations/:id/fill-images", append([]gin.HandlerFunc{authMW}, starting(h.fillImages)...)...)
}

type startRequest struct {
	Prompt        string `json:"prompt"`
	ReuseExisting *bool  `json:"reuse_existing"`
}

func (h *Handler) start(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Prompt is required")
		return
	}
	reuse := true
	if req.ReuseExisting != nil {
		reuse = *req.ReuseExisting
	}
	res, err := h.svc.Start(c.Request.Context(), middleware.CurrentUserID(c), req.Prompt, reuse)
	if err != nil {
		if errors.Is(err, slides.ErrPromptRequired) {
			response.BadRequest(c, "Prompt is required")
			return
		}
		response.InternalError(c, err)
		return
	}
	h.respondStarted(c, res)
}

func (h *Handler) respondStarted(c *gin.Context, res *StartResult) {
	if res.Presentation != nil {
		response.OK(c, gin.H{"presentation": res.Presentation})
		return
	}
	response.Accepted(c, gin.H{"task": res.Task, "created": res.Created})
}

func (h *Handler) list(c *gin.Context) {
	q := pagination.FromContext(c)
	items, pag, err := h.svc.List(c.Request.Context(), middleware.CurrentUserID(c), q, taskqueue.TaskStatus(c.Query("status")))
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Paged(c, items, pag)
}

func (h *Handler) get(c *gin.Context) {
	task, err := h.svc.Get(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id"))
	if err != nil {
		response.InternalError(c, err)
		return
	}
	if task == nil {
		response.NotFoundMsg(c, "Generation not found")
		return
	}
	response.OK(c, task)
}

func (h *Handler) cancel(c *gin.Context) {
	task, err := h.svc.Cancel(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, taskqueue.ErrTaskNotFound):
			response.NotFoundMsg(c, "Generation not found")
		case errors.Is(err, taskqueue.ErrNotCancellable):
			response.BadRequest(c, "Generation already finished")
		default:
			response.InternalError(c, err)
		}
		return
	}
	response.OK(c, task)
}

func (h *Handler) retry(c *gin.Context) {
	res, err := h.svc.Retry(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, taskqueue.ErrTaskNotFound):
			response.NotFoundMsg(c, "Generation not found")
		case errors.Is(err, ErrRateLimited):
			response.TooManyRequests(c, msgRateLimited)
		case errors.Is(err, ErrNotRetryable):
			response.BadRequest(c, "Only failed or cancelled generations can be retried")
		case errors.Is(err, ErrPresentationNotFound):
			response.NotFoundMsg(c, "Presentation not found")
		case errors.Is(err, ErrNoMissingImages):
			response.Conflict(c, "All slides already have images")
		default:
			response.InternalError(c, err)
		}
		return
	}
	h.respondStarted(c, res)
}

func (h *Handler) fillImages(c *gin.Context) {
	res, err := h.svc.FillImages(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, ErrPresentationNotFound):
			response.NotFoundMsg(c, "Presentation not found")
		case errors.Is(err, ErrNoMissingImages):
			response.Conflict(c, "All slides already have images")
		default:
			response.InternalError(c, err)
		}
		return
	}
	h.respondStarted(c, res)
}

// events streams a run's progress as Server-Sent Events. The first event is
// a snapshot of the task; the stream ends after the final event.
func (h *Handler) events(c *gin.Context) {
	ctx := c.Request.Context()
	userID := middleware.CurrentUserID(c)
	taskID := c.Param("id")

	task, err := h.svc.Get(ctx, userID, taskID)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	if task == nil {
		response.NotFoundMsg(c, "Generation not found")
		return
	}

	sub, err := h.svc.Subscribe(ctx, taskID)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	defer sub.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	// Re-read after subscribing so a run that finished in between is seen.
	if latest, err := h.svc.Get(ctx, userID, taskID); err == nil && latest != nil {
		task = latest
	}
	writeSSE(c, "snapshot", task)
	if task.Status.Terminal() {
		return
	}

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.svc.Done():
			return
		case <-ticker.C:
			_, _ = c.Writer.WriteString(": ping\n\n")
			c.Writer.Flush()
		case ev, ok := <-sub.Events:
			if !ok {
				return
			}
			writeSSE(c, ev.Type, ev)
			if ev.Final() {
				return
			}
		}
	}
}

func writeSSE(c *gin.Context, event string, data interface{}) {
	b, err := json.Marshal(data)
	if err != nil {
		return
	}
	_, _ = fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, b)
	c.Writer.Flush()
}
