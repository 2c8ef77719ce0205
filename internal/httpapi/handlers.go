package httpapi

import (
	"errors"
	"net/http"
	"time"

	"call-platform/internal/auth"
	"call-platform/internal/calls"
	"call-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth    *auth.Manager
	Calls   *calls.Service
	Watcher calls.Watcher
}

// writeError maps the signaling error taxonomy onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	switch {
	case err == nil:
		return
	case errors.Is(err, calls.ErrUnauthenticated):
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, calls.ErrNotAuthorized):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, calls.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, calls.ErrInvalidState) || calls.IsBusy(err):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, calls.ErrInvalidArgument) || errors.Is(err, calls.ErrSelfCall):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		logger.FromGin(c).Error("internal error", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// --- Auth ---

type loginRequest struct {
	UserID string `json:"user_id"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Calls ---

type initiateRequest struct {
	CalleeID string                   `json:"callee_id"`
	Offer    calls.SessionDescription `json:"offer"`
}

func (h Handlers) InitiateCall(c *gin.Context) {
	var req initiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	id, err := h.Calls.Initiate(c.Request.Context(), req.CalleeID, req.Offer)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"call_id": id})
}

type answerRequest struct {
	Answer calls.SessionDescription `json:"answer"`
}

func (h Handlers) AnswerCall(c *gin.Context) {
	var req answerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if err := h.Calls.Answer(c.Request.Context(), c.Param("call_id"), req.Answer); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h Handlers) MarkConnected(c *gin.Context) {
	transitioned, err := h.Calls.MarkConnected(c.Request.Context(), c.Param("call_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transitioned": transitioned})
}

type candidateRequest struct {
	Role      string             `json:"role"`
	Candidate calls.ICECandidate `json:"candidate"`
}

func (h Handlers) SendCandidate(c *gin.Context) {
	var req candidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	role, err := calls.ParseRole(req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.Calls.SendCandidate(c.Request.Context(), c.Param("call_id"), role, req.Candidate); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (h Handlers) DeclineCall(c *gin.Context) {
	if err := h.Calls.Decline(c.Request.Context(), c.Param("call_id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h Handlers) EndCall(c *gin.Context) {
	if err := h.Calls.End(c.Request.Context(), c.Param("call_id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h Handlers) GetCall(c *gin.Context) {
	call, err := h.Calls.GetCallDetails(c.Request.Context(), c.Param("call_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, call)
}

func (h Handlers) GetActiveCall(c *gin.Context) {
	call, err := h.Calls.GetMyActiveCall(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if call == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, call)
}
