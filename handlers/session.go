package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"crt-reports-server/db"
	"crt-reports-server/logging"
	"crt-reports-server/models"
)

// Headers that carry the caller's identity.
const (
	SessionTokenHeader = "X-Session-Token"
	UsertypeHeader     = "x-usertype"
	CityHeader         = "x-city"
	CourseHeader       = "x-course"
)

func sessionToken(c *gin.Context) string {
	if tok := strings.TrimSpace(c.GetHeader(SessionTokenHeader)); tok != "" {
		return tok
	}
	auth := c.GetHeader("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// headerOrQuery reads a scope field from its header, falling back to the query.
func headerOrQuery(c *gin.Context, header, query string) string {
	if v := strings.TrimSpace(c.GetHeader(header)); v != "" {
		return v
	}
	return strings.TrimSpace(c.Query(query))
}

// resolveSession builds the identity snapshot of a request: the stored session
// when a token is sent, otherwise the scope headers. It writes the error
// response and returns false when a token is unknown.
func (h *APIHandler) resolveSession(c *gin.Context) (models.Session, bool) {
	if tok := sessionToken(c); tok != "" {
		sess, err := h.Store.GetSession(c.Request.Context(), tok)
		if err != nil {
			if errors.Is(err, db.ErrSessionNotFound) {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Session expired or not found"})
				return models.Session{}, false
			}
			h.log.Error("load session failed", zap.String("request_id", logging.RequestID(c)), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load session"})
			return models.Session{}, false
		}
		return *sess, true
	}
	return models.Session{
		Usertype: headerOrQuery(c, UsertypeHeader, models.FieldUsertype),
		City:     headerOrQuery(c, CityHeader, models.FieldCity),
		Course:   headerOrQuery(c, CourseHeader, models.FieldCourse),
	}, true
}
