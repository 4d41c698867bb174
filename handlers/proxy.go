package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"crt-reports-server/logging"
	"crt-reports-server/models"
	"crt-reports-server/upstream"
)

// UpstreamResultHeader reports whether a relayed body was the upstream JSON
// ("ok") or an empty array standing in for a blank or malformed body.
const UpstreamResultHeader = "X-Upstream-Result"

// idParam is an entity id read from the query and sent upstream under another name.
type idParam struct {
	query    string
	upstream string
}

type proxyRoute struct {
	path     string
	resource upstream.Resource
	label    string
	scope    []string
	ids      []idParam
}

var (
	userFields   = []string{models.FieldUsertype, models.FieldCity, models.FieldCourse}
	courseFields = []string{models.FieldCourse}
	testnoParam  = idParam{query: "testno", upstream: "testno"}
)

var proxyRoutes = []proxyRoute{
	{path: "/batches", resource: upstream.Batches, label: "batches", scope: userFields},
	{path: "/batchwise-details", resource: upstream.BatchDetails, label: "batchwise details", scope: userFields,
		ids: []idParam{{query: "batchId", upstream: "batch"}}},
	{path: "/studentwise", resource: upstream.Students, label: "studentwise data", scope: userFields},
	{path: "/studentwise-details", resource: upstream.StudentDetails, label: "studentwise details", scope: courseFields,
		ids: []idParam{{query: "studentId", upstream: "userid"}}},
	{path: "/testwise", resource: upstream.Tests, label: "testwise data", scope: courseFields},
	{path: "/testwise-details", resource: upstream.TestDetails, label: "testwise detail data", scope: courseFields,
		ids: []idParam{testnoParam}},
	{path: "/testwise-missing-details", resource: upstream.TestMissing, label: "testwise missing data", scope: courseFields,
		ids: []idParam{testnoParam}},
	{path: "/testwise-avg-details", resource: upstream.TestAverage, label: "testwise average data", scope: courseFields,
		ids: []idParam{testnoParam}},
	{path: "/testwise-attempted-missed", resource: upstream.TestRoster, label: "testwise attempted and missed data", scope: courseFields,
		ids: []idParam{testnoParam}},
	{path: "/dashboard", resource: upstream.DashboardSummary, label: "dashboard data", scope: courseFields},
	{path: "/areas", resource: upstream.Areas, label: "areas", scope: courseFields},
}

// Proxy relays one legacy endpoint. Required fields are checked before the
// upstream is called; a blank or non-JSON upstream body is relayed as [].
func (h *APIHandler) Proxy(rt proxyRoute) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := h.resolveSession(c)
		if !ok {
			return
		}

		missing := sess.Missing(rt.scope...)
		params := url.Values{}
		for _, f := range rt.scope {
			params.Set(f, sess.Field(f))
		}
		for _, id := range rt.ids {
			v := strings.TrimSpace(c.Query(id.query))
			if v == "" {
				missing = append(missing, id.query)
			}
			params.Set(id.upstream, v)
		}
		if len(missing) > 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Missing " + strings.Join(missing, ", ")})
			return
		}

		res, err := h.Upstream.Fetch(c.Request.Context(), rt.resource, params)
		if err != nil {
			h.upstreamError(c, "Failed to fetch "+rt.label, err)
			return
		}
		c.Header(UpstreamResultHeader, string(res.Outcome))
		c.Data(http.StatusOK, "application/json; charset=utf-8", res.JSON())
	}
}

// upstreamError writes the 500 envelope: the upstream status for an HTTP
// failure, the error text otherwise.
func (h *APIHandler) upstreamError(c *gin.Context, msg string, err error) {
	h.log.Error(msg, zap.String("request_id", logging.RequestID(c)), zap.Error(err))
	var se *upstream.StatusError
	if errors.As(err, &se) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg, "status": se.Status})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg, "details": err.Error()})
}
