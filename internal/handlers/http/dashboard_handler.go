package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"coordinator/internal/core/domain"
	"coordinator/internal/core/ports"
	"coordinator/internal/core/services"
	apperrors "coordinator/pkg/errors"
	"coordinator/pkg/logger"
	"coordinator/pkg/validation"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type DashboardHandler struct {
	admin        ports.AdminService
	auth         services.AuthService
	cookieName   string
	secureCookie bool
	logger       *zap.SugaredLogger
}

func NewDashboardHandler(
	admin ports.AdminService,
	auth services.AuthService,
	cookieName string,
	secureCookie bool,
	logger *zap.SugaredLogger,
) *DashboardHandler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &DashboardHandler{
		admin:        admin,
		auth:         auth,
		cookieName:   cookieName,
		secureCookie: secureCookie,
		logger:       logger,
	}
}

// SetupRoutes registers login/logout on router and the admin routes on
// protected, which is expected to carry the auth middleware.
func (h *DashboardHandler) SetupRoutes(router gin.IRoutes, protected gin.IRoutes) {
	router.POST("/login", h.Login)
	router.POST("/logout", h.Logout)

	protected.GET("/api/connections", h.ListConnections)
	protected.GET("/api/connections/:id", h.GetConnection)
	protected.POST("/connection/:id/close", h.CloseConnection)
	protected.POST("/connection/:id/force-pair", h.ForcePair)
	protected.POST("/connection/:id/unpair", h.Unpair)
}

type LoginRequest struct {
	Password string `form:"password" json:"password"`
}

type ForcePairRequest struct {
	PairWith string `form:"pair_with" json:"pair_with"`
}

func (h *DashboardHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBind(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError("invalid request format"))
		return
	}
	if err := validation.ValidatePassword(req.Password); err != nil {
		c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}

	token, expiresAt, err := h.auth.Login(req.Password)
	if err != nil {
		if errors.Is(err, services.ErrInvalidPassword) {
			h.logger.Warnw("dashboard login rejected", "remote_addr", c.ClientIP())
			c.Error(apperrors.NewUnauthorizedError("invalid password"))
			return
		}
		c.Error(apperrors.WrapError(err, apperrors.ErrCodeInternal, "failed to create session", http.StatusInternalServerError))
		return
	}

	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(h.cookieName, token, int(h.auth.SessionTTL()/time.Second), "/", "", h.secureCookie, true)
	h.logger.Infow("dashboard login", "remote_addr", c.ClientIP())
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"expires_at": expiresAt,
	})
}

func (h *DashboardHandler) Logout(c *gin.Context) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(h.cookieName, "", -1, "/", "", h.secureCookie, true)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *DashboardHandler) ListConnections(c *gin.Context) {
	c.JSON(http.StatusOK, h.admin.Dashboard(c.Request.Context()))
}

func (h *DashboardHandler) GetConnection(c *gin.Context) {
	id, ok := h.clientParam(c)
	if !ok {
		return
	}

	details, err := h.admin.Details(c.Request.Context(), id)
	if err != nil {
		c.Error(toAppError(err, id))
		return
	}
	c.JSON(http.StatusOK, details)
}

func (h *DashboardHandler) CloseConnection(c *gin.Context) {
	id, ok := h.clientParam(c)
	if !ok {
		return
	}

	if err := h.admin.Close(c.Request.Context(), id); err != nil {
		c.Error(toAppError(err, id))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "closed", "client_id": id})
}

func (h *DashboardHandler) ForcePair(c *gin.Context) {
	id, ok := h.clientParam(c)
	if !ok {
		return
	}

	var req ForcePairRequest
	if err := c.ShouldBind(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError("invalid request format"))
		return
	}
	req.PairWith = strings.TrimSpace(req.PairWith)
	if err := validation.ValidateClientID(req.PairWith); err != nil {
		c.Error(apperrors.NewInvalidInputError("pair_with: " + err.Error()))
		return
	}
	target := domain.ClientID(req.PairWith)

	result, err := h.admin.ForcePair(c.Request.Context(), id, target)
	if err != nil {
		c.Error(toAppError(err, id))
		return
	}

	displaced := result.Displaced
	if displaced == nil {
		displaced = []domain.ClientID{}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":         "paired",
		"client_id":      id,
		"paired_with":    target,
		"already_paired": result.AlreadyPaired,
		"displaced":      displaced,
	})
}

func (h *DashboardHandler) Unpair(c *gin.Context) {
	id, ok := h.clientParam(c)
	if !ok {
		return
	}

	result, err := h.admin.Unpair(c.Request.Context(), id)
	if err != nil {
		c.Error(toAppError(err, id))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      "unpaired",
		"client_id":   id,
		"former_peer": result.FormerPeer,
	})
}

func (h *DashboardHandler) clientParam(c *gin.Context) (domain.ClientID, bool) {
	id := c.Param("id")
	if err := validation.ValidateClientID(id); err != nil {
		c.Error(apperrors.NewInvalidInputError(err.Error()))
		return "", false
	}
	c.Request = c.Request.WithContext(logger.WithClientID(c.Request.Context(), id))
	return domain.ClientID(id), true
}

func toAppError(err error, id domain.ClientID) *apperrors.AppError {
	var appErr *apperrors.AppError
	switch {
	case errors.Is(err, domain.ErrClientNotFound):
		appErr = apperrors.NewNotFoundError("client")
	case errors.Is(err, domain.ErrSelfPair), errors.Is(err, domain.ErrInvalidRole):
		appErr = apperrors.NewInvalidInputError(err.Error())
	case errors.Is(err, domain.ErrNotPaired):
		appErr = apperrors.NewConflictError(err.Error())
	default:
		return apperrors.WrapError(err, apperrors.ErrCodeInternal, "admin action failed", http.StatusInternalServerError).
			WithContext("client_id", id)
	}
	return appErr.WithContext("client_id", id)
}
