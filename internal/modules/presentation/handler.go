package presentation

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/slidecraft/server/internal/middleware"
	"github.com/slidecraft/server/internal/pkg/pagination"
	"github.com/slidecraft/server/internal/pkg/response"
	"gorm.io/gorm"
)

type Handler struct{ svc *Service }

func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc) {
	g := rg.Group("/presentations", authMW)
	g.GET("", h.list)
	g.GET("/lookup", h.lookup)
	g.GET("/:id", h.get)
	g.DELETE("/:id", h.delete)

	rg.GET("/history", authMW, h.history)
}

func (h *Handler) list(c *gin.Context) {
	q := pagination.FromContext(c)
	items, pag, err := h.svc.List(middleware.CurrentUserID(c), q)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	out := make([]presentationResponse, len(items))
	for i := range items {
		out[i] = toResponse(&items[i])
	}
	response.Paged(c, out, pag)
}

func (h *Handler) lookup(c *gin.Context) {
	prompt := c.Query("prompt")
	if prompt == "" {
		response.BadRequest(c, "Prompt is required")
		return
	}
	p, err := h.svc.FindByPrompt(middleware.CurrentUserID(c), prompt)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	if p == nil {
		response.NotFoundMsg(c, "Presentation not found")
		return
	}
	response.OK(c, toResponse(p))
}

func (h *Handler) get(c *gin.Context) {
	p, err := h.svc.Get(middleware.CurrentUserID(c), c.Param("id"))
	if err != nil {
		response.InternalError(c, err)
		return
	}
	if p == nil {
		response.NotFoundMsg(c, "Presentation not found")
		return
	}
	response.OK(c, toResponse(p))
}

func (h *Handler) delete(c *gin.Context) {
	if err := h.svc.Delete(middleware.CurrentUserID(c), c.Param("id")); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFoundMsg(c, "Presentation not found")
			return
		}
		response.InternalError(c, err)
		return
	}
	response.NoContent(c)
}

func (h *Handler) history(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	items, err := h.svc.History(middleware.CurrentUserID(c), limit)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	out := make([]historyResponse, len(items))
	for i, item := range items {
		prompts := []string(item.ImagePrompts)
		if prompts == nil {
			prompts = []string{}
		}
		out[i] = historyResponse{
			ID:            item.ID,
			UserPrompt:    item.UserPrompt,
			ModelResponse: item.ModelResponse,
			ImagePrompts:  prompts,
			Created:       item.CreatedAt,
		}
	}
	response.OK(c, out)
}
