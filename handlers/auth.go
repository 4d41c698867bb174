package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"crt-reports-server/db"
	"crt-reports-server/models"
	"crt-reports-server/upstream"
)

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login handles POST /api/login
func (h *APIHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request body: " + err.Error()})
		return
	}

	acct, err := h.Upstream.Authenticate(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, upstream.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"success": false})
			return
		}
		h.upstreamError(c, "Failed to verify login", err)
		return
	}

	sess := models.Session{
		Token:     uuid.NewString(),
		Username:  req.Username,
		Usertype:  string(acct.Record.Usertype),
		City:      string(acct.Record.Centercity),
		Course:    string(acct.Record.Batchcode),
		Payload:   acct.Payload,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.Store.SaveSession(c.Request.Context(), sess, h.SessionTTL); err != nil {
		h.log.Error("save session failed", zap.String("user", req.Username), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to create session"})
		return
	}
	h.log.Info("user logged in", zap.String("user", req.Username), zap.String("usertype", sess.Usertype))

	c.JSON(http.StatusOK, gin.H{"success": true, "token": sess.Token, "user": acct.Payload})
}

// Logout handles POST /api/logout. With ?all=true every session of the user ends.
func (h *APIHandler) Logout(c *gin.Context) {
	tok := sessionToken(c)
	if tok == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Session token is required"})
		return
	}
	if c.Query("all") != "true" {
		if err := h.Store.DeleteSession(c.Request.Context(), tok); err != nil && !errors.Is(err, db.ErrSessionNotFound) {
			h.log.Error("delete session failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to end session"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
		return
	}

	sess, ok := h.resolveSession(c)
	if !ok {
		return
	}
	n, err := h.Store.DeleteUserSessions(c.Request.Context(), sess.Username)
	if err != nil {
		h.log.Error("delete user sessions failed", zap.String("user", sess.Username), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to end sessions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "ended": n})
}

// GetSession handles GET /api/session
func (h *APIHandler) GetSession(c *gin.Context) {
	tok := sessionToken(c)
	if tok == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Session token is required"})
		return
	}
	sess, ok := h.resolveSession(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sess)
}
