package images

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
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
	rg.POST("/generate-image", handlers...)
}

type generateRequest struct {
	Prompt string `json:"prompt"`
}

// Failures keep the standard error envelope but always carry image_url so
// clients can render the placeholder directly.
func (h *Handler) fail(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"ok":        0,
		"code":      status,
		"message":   message,
		"image_url": h.svc.Placeholder(),
	})
}

func (h *Handler) generate(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, http.StatusBadRequest, "Prompt is required")
		return
	}
	result, err := h.svc.Generate(c.Request.Context(), req.Prompt)
	if err != nil {
		if errors.Is(err, ErrPromptRequired) {
			h.fail(c, http.StatusBadRequest, "Prompt is required")
			return
		}
		h.fail(c, http.StatusInternalServerError, "Failed to generate image")
		return
	}
	c.JSON(http.StatusOK, result)
}
