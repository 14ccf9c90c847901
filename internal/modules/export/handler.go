package export

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/slidecraft/server/internal/middleware"
	"github.com/slidecraft/server/internal/pkg/response"
)

type Handler struct{ svc *Service }

func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc) {
	rg.GET("/presentations/:id/export", authMW, h.export)
}

// GET /presentations/:id/export?format=pptx|pdf|md
func (h *Handler) export(c *gin.Context) {
	format, err := ParseFormat(c.Query("format"))
	if err != nil {
		response.BadRequest(c, "format must be pptx, pdf or md")
		return
	}

	file, err := h.svc.Export(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id"), format)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFoundMsg(c, "Presentation not found")
			return
		}
		response.InternalError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, file.Name))
	c.Data(http.StatusOK, file.ContentType, file.Data)
}
