package user

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/slidecraft/server/internal/middleware"
	"github.com/slidecraft/server/internal/pkg/response"
	sessionpkg "github.com/slidecraft/server/internal/pkg/session"
	"gorm.io/gorm"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc) {
	g := rg.Group("/auth")
	g.POST("/register", h.register)
	g.POST("/login", h.login)

	a := g.Group("", authMW)
	a.POST("/logout", h.logout)
	a.GET("/me", h.me)
	a.PATCH("/password", h.changePassword)
	a.GET("/sessions", h.listSessions)
	a.DELETE("/sessions", h.deleteOtherSessions)
	a.DELETE("/sessions/:id", h.deleteSession)
}

func (h *Handler) register(c *gin.Context) {
	var dto RegisterDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	u, err := h.svc.Register(&dto)
	if err != nil {
		var verr *ValidationError
		switch {
		case errors.As(err, &verr):
			response.FieldError(c, verr.Field, verr.Message)
		case errors.Is(err, errEmailTaken):
			response.Conflict(c, "An account with this email already exists")
		default:
			response.InternalError(c, err)
		}
		return
	}
	response.Created(c, toResponse(u))
}

func (h *Handler) login(c *gin.Context) {
	var dto LoginDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, "Email and password are required")
		return
	}
	token, u, err := h.svc.Login(dto.Email, dto.Password, c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		if errors.Is(err, errInvalidCredentials) {
			response.ForbiddenMsg(c, "Invalid email or password")
			return
		}
		response.InternalError(c, err)
		return
	}
	response.OK(c, loginResponse{Token: token, User: toResponse(u)})
}

func (h *Handler) logout(c *gin.Context) {
	if sessionID := middleware.CurrentSessionID(c); sessionID != "" {
		_ = sessionpkg.Revoke(h.svc.db, middleware.CurrentUserID(c), sessionID)
	}
	response.NoContent(c)
}

func (h *Handler) me(c *gin.Context) {
	u, err := h.svc.GetByID(middleware.CurrentUserID(c))
	if err != nil {
		response.InternalError(c, err)
		return
	}
	if u == nil {
		response.NotFound(c)
		return
	}
	response.OK(c, toResponse(u))
}

func (h *Handler) changePassword(c *gin.Context) {
	var dto ChangePasswordDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	err := h.svc.ChangePassword(middleware.CurrentUserID(c), middleware.CurrentSessionID(c), dto.OldPassword, dto.NewPassword)
	if err != nil {
		var verr *ValidationError
		switch {
		case errors.As(err, &verr):
			response.FieldError(c, verr.Field, verr.Message)
		case errors.Is(err, errInvalidCredentials):
			response.BadRequest(c, "Current password is incorrect")
		case errors.Is(err, errPasswordSameAsOld):
			response.UnprocessableEntity(c, "New password must differ from the current one")
		default:
			response.InternalError(c, err)
		}
		return
	}
	response.NoContent(c)
}

func (h *Handler) listSessions(c *gin.Context) {
	current := middleware.CurrentSessionID(c)
	sessions, err := sessionpkg.ListActive(h.svc.db, middleware.CurrentUserID(c))
	if err != nil {
		response.InternalError(c, err)
		return
	}

	data := make([]sessionResponse, 0, len(sessions))
	for _, s := range sessions {
		data = append(data, sessionResponse{
			ID:        s.ID,
			UA:        s.UA,
			IP:        s.IP,
			Date:      s.UpdatedAt,
			ExpiresAt: s.ExpiresAt,
			Current:   s.ID == current,
		})
	}
	response.OK(c, data)
}

func (h *Handler) deleteSession(c *gin.Context) {
	err := sessionpkg.Revoke(h.svc.db, middleware.CurrentUserID(c), c.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFoundMsg(c, "Session not found")
			return
		}
		response.InternalError(c, err)
		return
	}
	response.NoContent(c)
}

func (h *Handler) deleteOtherSessions(c *gin.Context) {
	if _, err := sessionpkg.RevokeAllExcept(h.svc.db, middleware.CurrentUserID(c), middleware.CurrentSessionID(c)); err != nil {
		response.InternalError(c, err)
		return
	}
	response.NoContent(c)
}
