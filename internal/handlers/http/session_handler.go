package http

import (
	"net/http"

	"livebid/internal/core/domain"
	"livebid/internal/core/ports"
	apperrors "livebid/pkg/errors"

	"github.com/gin-gonic/gin"
)

// CameraSwitcher flips a live session's video feed between its cameras.
type CameraSwitcher interface {
	SwitchCamera(id domain.SessionID) error
}

type SessionHandler struct {
	sessionService ports.SessionService
	presence       ports.Presence
	cameras        CameraSwitcher
}

func NewSessionHandler(sessionService ports.SessionService, presence ports.Presence, cameras CameraSwitcher) *SessionHandler {
	return &SessionHandler{
		sessionService: sessionService,
		presence:       presence,
		cameras:        cameras,
	}
}

func (h *SessionHandler) SetupRoutes(api *gin.RouterGroup) {
	api.POST("/sessions", h.CreateSession)
	api.GET("/sessions/:id", h.GetSession)
	api.POST("/sessions/:id/start", h.StartPublishing)
	api.POST("/sessions/:id/stop", h.StopPublishing)
	api.POST("/sessions/:id/camera/switch", h.SwitchCamera)
}

func (h *SessionHandler) CreateSession(c *gin.Context) {
	var req struct {
		Orientation domain.Orientation `json:"orientation"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	publisherID, ok := userIDFromContext(c)
	if !ok {
		return
	}

	session, err := h.sessionService.CreateSession(c.Request.Context(), publisherID, req.Orientation)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"session": session,
	})
}

func (h *SessionHandler) GetSession(c *gin.Context) {
	sessionID := domain.SessionID(c.Param("id"))

	session, err := h.sessionService.GetSession(c.Request.Context(), sessionID)
	if err != nil {
		respondError(c, err)
		return
	}

	viewers, err := h.presence.Count(c.Request.Context(), sessionID)
	if err != nil {
		// Presence is display-only; the session itself is still served.
		viewers = 0
	}

	c.JSON(http.StatusOK, gin.H{
		"session": session,
		"viewers": viewers,
	})
}

func (h *SessionHandler) StartPublishing(c *gin.Context) {
	sessionID := domain.SessionID(c.Param("id"))

	publisherID, ok := userIDFromContext(c)
	if !ok {
		return
	}

	session, err := h.sessionService.StartPublishing(c.Request.Context(), sessionID, publisherID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session": session,
	})
}

func (h *SessionHandler) StopPublishing(c *gin.Context) {
	sessionID := domain.SessionID(c.Param("id"))

	publisherID, ok := userIDFromContext(c)
	if !ok {
		return
	}

	if err := h.sessionService.StopPublishing(c.Request.Context(), sessionID, publisherID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "stopped",
	})
}

func (h *SessionHandler) SwitchCamera(c *gin.Context) {
	sessionID := domain.SessionID(c.Param("id"))

	publisherID, ok := userIDFromContext(c)
	if !ok {
		return
	}

	session, err := h.sessionService.GetSession(c.Request.Context(), sessionID)
	if err != nil {
		respondError(c, err)
		return
	}
	if session.PublisherID != publisherID {
		respondError(c, domain.ErrNotSessionOwner)
		return
	}

	if err := h.cameras.SwitchCamera(sessionID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "switched",
	})
}

// userIDFromContext pulls the authenticated user set by the auth middleware.
func userIDFromContext(c *gin.Context) (domain.UserID, bool) {
	value, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return "", false
	}
	userID, ok := value.(domain.UserID)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid user context"})
		return "", false
	}
	return userID, true
}

func respondError(c *gin.Context, err error) {
	appErr := apperrors.FromDomain(err)
	c.JSON(appErr.HTTPStatus, gin.H{
		"error":   string(appErr.Code),
		"message": appErr.Message,
	})
}
