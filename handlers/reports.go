package handlers

import (
	"bytes"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"crt-reports-server/export"
	"crt-reports-server/logging"
	"crt-reports-server/models"
	"crt-reports-server/reports"
)

// listOptions reads the filter and sort query parameters of a list view.
func listOptions(c *gin.Context) reports.ListOptions {
	opts := reports.ListOptions{
		Filters: map[string]string{},
		Sort:    c.Query("sort"),
		Desc:    strings.EqualFold(c.Query("order"), "desc"),
	}
	for _, name := range []string{reports.FilterQuery, reports.FilterID, reports.FilterEmail, reports.FilterName} {
		if v := c.Query(name); v != "" {
			opts.Filters[name] = v
		}
	}
	return opts
}

// reportError maps a report failure to its status and error envelope.
func (h *APIHandler) reportError(c *gin.Context, msg string, err error) {
	var (
		missing *reports.MissingFieldsError
		badSort *reports.InvalidSortError
	)
	switch {
	case errors.As(err, &missing):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing " + strings.Join(missing.Fields, ", ")})
	case errors.As(err, &badSort):
		c.JSON(http.StatusBadRequest, gin.H{"error": badSort.Error()})
	case errors.Is(err, reports.ErrTestNotFound), errors.Is(err, reports.ErrStudentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case c.Request.Context().Err() != nil:
		// client went away; nobody reads the response
		h.log.Debug("report abandoned", zap.String("request_id", logging.RequestID(c)), zap.Error(err))
		c.Status(499)
	default:
		h.upstreamError(c, msg, err)
	}
}

// sendSheet writes a sheet as an xlsx attachment.
func (h *APIHandler) sendSheet(c *gin.Context, sheet export.Sheet) {
	var buf bytes.Buffer
	if err := export.Write(&buf, sheet); err != nil {
		h.log.Error("export failed", zap.String("file", sheet.Filename), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to export report", "details": err.Error()})
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+sheet.Filename+`"`)
	c.Data(http.StatusOK, export.ContentType, buf.Bytes())
}

// --- Dashboard ---

// Dashboard handles GET /api/reports/dashboard
func (h *APIHandler) Dashboard(c *gin.Context) {
	sess, ok := h.resolveSession(c)
	if !ok {
		return
	}
	d, err := h.Reports.Dashboard(c.Request.Context(), sess)
	if err != nil {
		h.reportError(c, "Failed to fetch dashboard data", err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// --- Batch views ---

func (h *APIHandler) batchList(c *gin.Context, sess models.Session) (reports.View[models.Batch], bool) {
	v, err := h.Reports.BatchList(c.Request.Context(), sess, listOptions(c))
	if err != nil {
		h.reportError(c, "Failed to fetch batches", err)
		return v, false
	}
	return v, true
}

// BatchList handles GET /api/reports/batches
func (h *APIHandler) BatchList(c *gin.Context) {
	sess, ok := h.resolveSession(c)
	if !ok {
		return
	}
	if v, ok := h.batchList(c, sess); ok {
		c.JSON(http.StatusOK, v)
	}
}

// ExportBatchList handles GET /api/reports/batches/export
func (h *APIHandler) ExportBatchList(c *gin.Context) {
	sess, ok := h.resolveSession(c)
	if !ok {
		return
	}
	if v, ok := h.batchList(c, sess); ok {
		h.sendSheet(c, reports.BatchListSheet(v))
	}
}

func (h *APIHandler) batchMembers(c *gin.Context, sess models.Session) (reports.View[models.BatchMember], bool) {
	v, err := h.Reports.BatchMembers(c.Request.Context(), sess, c.Param("batchId"), listOptions(c))
	if err != nil {
		h.reportError(c, "Failed to fetch batchwise details", err)
		return v, false
	}
	return v, true
}

// BatchMembers handles GET /api/reports/batches/:batchId
func (h *APIHandler) BatchMembers(c *gin.Context) {
	sess, ok := h.resolveSession(c)
	if !ok {
		return
	}
	if v, ok := h.batchMembers(c, sess); ok {
		c.JSON(http.StatusOK, v)
	}
}

// ExportBatchMembers handles GET /api/reports/batches/:batchId/export
func (h *APIHandler) ExportBatchMembers(c *gin.Context) {
	sess, ok := h.resolveSession(c)
	if !ok {
		return
	}
	if v, ok := h.batchMembers(c, sess); ok {
		h.sendSheet(c, reports.BatchMembersSheet(c.Param("batchId"), v))
	}
}

// --- Student views ---

func (h *APIHandler) studentList(c *gin.Context, sess models.Session) (reports.StudentListView, bool) {
	v, err := h.Reports.StudentList(c.Request.Context(), sess, listOptions(c))
	if err != nil {
		h.reportError(c, "Failed to fetch studentwise data", err)
		return v, false
	}
	return v, true
}

// StudentList handles GET /api/reports/students
func (h *APIHandler) StudentList(c *gin.Context) {
	sess, ok := h.resolveSession(c)
	if !ok {
		return
	}
	if v, ok := h.studentList(c, sess); ok {
		c.JSON(http.StatusOK, v)
	}
}

// ExportStudentList handles GET /api/reports/students/export
func (h *APIHandler) ExportStudentList(c *gin.Context) {
	sess, ok := h.resolveSession(c)
	if !ok {
		return
	}
	if v, ok := h.studentList(c, sess); ok {
		h.sendSheet(c, reports.StudentListSheet(v))
	}
}

func (h *APIHandler) studentReport(c *gin.Context, sess models.Session) (*reports.StudentReport, bool) {
	rep, err := h.Reports.StudentReport(c.Request.Context(), sess, c.Param("studentId"))
	if err != nil {
		h.reportError(c, "Failed to fetch student report", err)
		return nil, false
	}
	return rep, true
}

// StudentReport handles GET /api/reports/students/:studentId
func (h *APIHandler) StudentReport(c *gin.Context) {
	sess, ok := h.resolveSession(c)
	if !ok {
		return
	}
	if rep, ok := h.studentReport(c, sess); ok {
		c.JSON(http.StatusOK, rep)
	}
}

// ExportStudentTests handles GET /api/reports/students/:studentId/export
func (h *APIHandler) ExportStudentTests(c *gin.Context) {
	sess, ok := h.resolveSession(c)
	if !ok {
		return
	}
	if rep, ok := h.studentReport(c, sess); ok {
		h.sendSheet(c, reports.StudentTestsSheet(rep))
	}
}

// --- Test views ---

func (h *APIHandler) testList(c *gin.Context, sess models.Session) (reports.View[models.Test], bool) {
	v, err := h.Reports.TestList(c.Request.Context(), sess, listOptions(c))
	if err != nil {
		h.reportError(c, "Failed to fetch testwise data", err)
		return v, false
	}
	return v, true
}

// TestList handles GET /api/reports/tests
func (h *APIHandler) TestList(c *gin.Context) {
	sess, ok := h.resolveSession(c)
	if !ok {
		return
	}
	if v, ok := h.testList(c, sess); ok {
		c.JSON(http.StatusOK, v)
	}
}

// ExportTestList handles GET /api/reports/tests/export
func (h *APIHandler) ExportTestList(c *gin.Context) {
	sess, ok := h.resolveSession(c)
	if !ok {
		return
	}
	if v, ok := h.testList(c, sess); ok {
		h.sendSheet(c, reports.TestListSheet(v))
	}
}

// TestReport handles GET /api/reports/tests/:testno
func (h *APIHandler) TestReport(c *gin.Context) {
	sess, ok := h.resolveSession(c)
	if !ok {
		return
	}
	rep, err := h.Reports.TestReport(c.Request.Context(), sess, c.Param("testno"))
	if err != nil {
		h.reportError(c, "Failed to fetch test report", err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

func (h *APIHandler) attempted(c *gin.Context, sess models.Session) (reports.View[models.Attempt], bool) {
	v, err := h.Reports.AttemptedStudents(c.Request.Context(), sess, c.Param("testno"), listOptions(c))
	if err != nil {
		h.reportError(c, "Failed to fetch testwise detail data", err)
		return v, false
	}
	return v, true
}

// AttemptedStudents handles GET /api/reports/tests/:testno/attempted
func (h *APIHandler) AttemptedStudents(c *gin.Context) {
	sess, ok := h.resolveSession(c)
	if !ok {
		return
	}
	if v, ok := h.attempted(c, sess); ok {
		c.JSON(http.StatusOK, v)
	}
}

// ExportAttemptedStudents handles GET /api/reports/tests/:testno/attempted/export
func (h *APIHandler) ExportAttemptedStudents(c *gin.Context) {
	sess, ok := h.resolveSession(c)
	if !ok {
		return
	}
	if v, ok := h.attempted(c, sess); ok {
		h.sendSheet(c, reports.AttemptedSheet(c.Param("testno"), v))
	}
}

func (h *APIHandler) missed(c *gin.Context, sess models.Session) (reports.View[models.MissedStudent], bool) {
	v, err := h.Reports.MissedStudents(c.Request.Context(), sess, c.Param("testno"), listOptions(c))
	if err != nil {
		h.reportError(c, "Failed to fetch testwise missing data", err)
		return v, false
	}
	return v, true
}

// MissedStudents handles GET /api/reports/tests/:testno/missed
func (h *APIHandler) MissedStudents(c *gin.Context) {
	sess, ok := h.resolveSession(c)
	if !ok {
		return
	}
	if v, ok := h.missed(c, sess); ok {
		c.JSON(http.StatusOK, v)
	}
}

// ExportMissedStudents handles GET /api/reports/tests/:testno/missed/export
func (h *APIHandler) ExportMissedStudents(c *gin.Context) {
	sess, ok := h.resolveSession(c)
	if !ok {
		return
	}
	if v, ok := h.missed(c, sess); ok {
		h.sendSheet(c, reports.MissedSheet(c.Param("testno"), v))
	}
}

func (h *APIHandler) roster(c *gin.Context, sess models.Session) (reports.View[models.RosterEntry], bool) {
	v, err := h.Reports.TestRoster(c.Request.Context(), sess, c.Param("testno"))
	if err != nil {
		h.reportError(c, "Failed to fetch testwise attempted and missed data", err)
		return v, false
	}
	return v, true
}

// TestRoster handles GET /api/reports/tests/:testno/roster
func (h *APIHandler) TestRoster(c *gin.Context) {
	sess, ok := h.resolveSession(c)
	if !ok {
		return
	}
	if v, ok := h.roster(c, sess); ok {
		c.JSON(http.StatusOK, v)
	}
}

// ExportTestRoster handles GET /api/reports/tests/:testno/roster/export
func (h *APIHandler) ExportTestRoster(c *gin.Context) {
	sess, ok := h.resolveSession(c)
	if !ok {
		return
	}
	if v, ok := h.roster(c, sess); ok {
		h.sendSheet(c, reports.RosterSheet(c.Param("testno"), v))
	}
}
