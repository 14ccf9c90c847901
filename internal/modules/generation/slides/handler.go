package slides

import (
	"github.com/gin-gonic/gin"
	"github.com/slidecraft/server/internal/middleware"
	"github.com/slidecraft/server/internal/pkg/response"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc, extra ...gin.HandlerFunc) {
	handlers := append([]gin.HandlerFunc{authMW}, extra...)
	handlers = append(handlers, h.generate)
	rg.POST("/generate", handlers...)
}

type generateRequest struct {
	Prompt        string `json:"prompt"`
	CheckExisting *bool  `json:"check_existing"`
}

func (h *Handler) generate(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Prompt is required")
		return
	}
	checkExisting := true
	if req.CheckExisting != nil {
		checkExisting = *req.CheckExisting
	}

	result, err := h.svc.Generate(c.Request.Context(), middleware.CurrentUserID(c), req.Prompt, checkExisting)
	if err != nil {
		status, msg := UserMessage(err)
		response.Error(c, status, msg)
		return
	}
	response.OK(c, result)
}
