package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"crt-reports-server/db"
	"crt-reports-server/reports"
	"crt-reports-server/upstream"
)

// APIHandler holds the dependencies of the API handlers.
type APIHandler struct {
	Upstream   *upstream.Client
	Store      *db.Store
	Reports    *reports.Service
	SessionTTL time.Duration

	log     *zap.Logger
	started time.Time
}

// NewAPIHandler creates a new APIHandler.
func NewAPIHandler(up *upstream.Client, store *db.Store, svc *reports.Service, sessionTTL time.Duration, log *zap.Logger) *APIHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &APIHandler{
		Upstream:   up,
		Store:      store,
		Reports:    svc,
		SessionTTL: sessionTTL,
		log:        log,
		started:    time.Now(),
	}
}

// RegisterRoutes mounts every route on the engine.
func (h *APIHandler) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)

	api := router.Group("/api")
	{
		api.GET("/ping", PingHandler)

		// Legacy proxy routes
		for _, rt := range proxyRoutes {
			api.GET(rt.path, h.Proxy(rt))
		}

		// Session routes
		api.POST("/login", h.Login)
		api.POST("/logout", h.Logout)
		api.GET("/session", h.GetSession)

		// Settings routes
		api.GET("/settings", h.GetSettings)
		api.PUT("/settings", h.UpdateSettings)

		// Report views, each with an xlsx twin
		rep := api.Group("/reports")
		rep.GET("/dashboard", h.Dashboard)
		rep.GET("/batches", h.BatchList)
		rep.GET("/batches/export", h.ExportBatchList)
		rep.GET("/batches/:batchId", h.BatchMembers)
		rep.GET("/batches/:batchId/export", h.ExportBatchMembers)
		rep.GET("/students", h.StudentList)
		rep.GET("/students/export", h.ExportStudentList)
		rep.GET("/students/:studentId", h.StudentReport)
		rep.GET("/students/:studentId/export", h.ExportStudentTests)
		rep.GET("/tests", h.TestList)
		rep.GET("/tests/export", h.ExportTestList)
		rep.GET("/tests/:testno", h.TestReport)
		rep.GET("/tests/:testno/attempted", h.AttemptedStudents)
		rep.GET("/tests/:testno/attempted/export", h.ExportAttemptedStudents)
		rep.GET("/tests/:testno/missed", h.MissedStudents)
		rep.GET("/tests/:testno/missed/export", h.ExportMissedStudents)
		rep.GET("/tests/:testno/roster", h.TestRoster)
		rep.GET("/tests/:testno/roster/export", h.ExportTestRoster)
	}
}

// PingHandler handles GET /api/ping
func PingHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "pong"})
}

// Health handles GET /health
func (h *APIHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status, code := "ok", http.StatusOK
	redisStatus := "ok"
	if err := h.Store.Ping(ctx); err != nil {
		h.log.Warn("health check: redis unreachable", zap.Error(err))
		status, code = "degraded", http.StatusServiceUnavailable
		redisStatus = err.Error()
	}
	c.JSON(code, gin.H{
		"status": status,
		"uptime": time.Since(h.started).Round(time.Second).String(),
		"redis":  redisStatus,
	})
}
