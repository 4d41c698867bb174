package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crt-reports-server/db"
	"crt-reports-server/export"
	"crt-reports-server/logging"
	"crt-reports-server/models"
	"crt-reports-server/reports"
	"crt-reports-server/upstream"
)

// legacyServer fakes the results service: path -> handler, recording every hit.
type legacyServer struct {
	mu     sync.Mutex
	hits   map[string][]url.Values
	routes map[string]http.HandlerFunc
}

func (l *legacyServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/results_sync/")
	l.mu.Lock()
	l.hits[path] = append(l.hits[path], r.URL.Query())
	l.mu.Unlock()
	h, ok := l.routes[path]
	if !ok {
		http.NotFound(w, r)
		return
	}
	h(w, r)
}

func (l *legacyServer) calls(path string) []url.Values {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.hits[path]
}

func (l *legacyServer) total() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, v := range l.hits {
		n += len(v)
	}
	return n
}

func body(s string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(s))
	}
}

func status(code int) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(code) }
}

type testEnv struct {
	router *gin.Engine
	legacy *legacyServer
	store  *db.Store
}

func newTestEnv(t *testing.T, routes map[string]http.HandlerFunc) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	legacy := &legacyServer{hits: map[string][]url.Values{}, routes: routes}
	ts := httptest.NewServer(legacy)
	t.Cleanup(ts.Close)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	up := upstream.NewClient(ts.URL, 5*time.Second, nil, nil)
	store := db.NewStore(client, nil)
	h := NewAPIHandler(up, store, reports.NewService(up, 4, nil), 0, nil)

	router := gin.New()
	router.Use(logging.RequestLogger(h.log))
	h.RegisterRoutes(router)
	return &testEnv{router: router, legacy: legacy, store: store}
}

func (e *testEnv) do(method, target string, payload any, headers map[string]string) *httptest.ResponseRecorder {
	var rd *bytes.Reader
	if payload != nil {
		b, _ := json.Marshal(payload)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, rd)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

var scopeHeaders = map[string]string{
	UsertypeHeader: "coordinator",
	CityHeader:     "Pune",
	CourseHeader:   "B1",
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestPing(t *testing.T) {
	e := newTestEnv(t, nil)
	w := e.do(http.MethodGet, "/api/ping", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"pong"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get(logging.RequestIDHeader))
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t, nil)
	w := e.do(http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["redis"])
}

func TestProxy_MissingFieldsNoUpstreamCall(t *testing.T) {
	e := newTestEnv(t, map[string]http.HandlerFunc{
		"get_crt_batch.aspx":           body(`[]`),
		"get_crt_testwise_detail.aspx": body(`[]`),
	})

	w := e.do(http.MethodGet, "/api/batches", nil, map[string]string{UsertypeHeader: "coordinator"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode(t, w)["error"], "city")

	w = e.do(http.MethodGet, "/api/testwise-details", nil, map[string]string{CourseHeader: "B1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode(t, w)["error"], "testno")

	assert.Zero(t, e.legacy.total())
}

func TestProxy_RelaysBody(t *testing.T) {
	e := newTestEnv(t, map[string]http.HandlerFunc{
		"get_crt_batch.aspx": body(`[{"batchcode":"B1","batchname":"Morning"}]`),
	})
	w := e.do(http.MethodGet, "/api/batches", nil, scopeHeaders)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[{"batchcode":"B1","batchname":"Morning"}]`, w.Body.String())
	assert.Equal(t, "ok", w.Header().Get(UpstreamResultHeader))

	calls := e.legacy.calls("get_crt_batch.aspx")
	require.Len(t, calls, 1)
	assert.Equal(t, "coordinator", calls[0].Get("usertype"))
	assert.Equal(t, "Pune", calls[0].Get("city"))
	assert.Equal(t, "B1", calls[0].Get("course"))
}

func TestProxy_QueryFallbackAndIDMapping(t *testing.T) {
	e := newTestEnv(t, map[string]http.HandlerFunc{
		"get_crt_studwise_detail.aspx": body(`[]`),
	})
	w := e.do(http.MethodGet, "/api/studentwise-details?course=B1&studentId=S100", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	calls := e.legacy.calls("get_crt_studwise_detail.aspx")
	require.Len(t, calls, 1)
	assert.Equal(t, "B1", calls[0].Get("course"))
	assert.Equal(t, "S100", calls[0].Get("userid"))
}

func TestProxy_BlankAndMalformed(t *testing.T) {
	e := newTestEnv(t, map[string]http.HandlerFunc{
		"get_crt_testwise.aspx":  body("   "),
		"get_crt_dashboard.aspx": body("<html>oops</html>"),
	})

	w := e.do(http.MethodGet, "/api/testwise", nil, scopeHeaders)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
	assert.Equal(t, "empty", w.Header().Get(UpstreamResultHeader))

	w = e.do(http.MethodGet, "/api/dashboard", nil, scopeHeaders)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
	assert.Equal(t, "malformed", w.Header().Get(UpstreamResultHeader))
}

func TestProxy_UpstreamStatus(t *testing.T) {
	e := newTestEnv(t, map[string]http.HandlerFunc{
		"get_crt_batch.aspx": status(http.StatusBadGateway),
	})
	w := e.do(http.MethodGet, "/api/batches", nil, scopeHeaders)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	out := decode(t, w)
	assert.Equal(t, "Failed to fetch batches", out["error"])
	assert.Equal(t, float64(http.StatusBadGateway), out["status"])
}

func login(t *testing.T, e *testEnv) string {
	t.Helper()
	w := e.do(http.MethodPost, "/api/login", gin.H{"username": "admin", "password": "pass123"}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	out := decode(t, w)
	assert.Equal(t, true, out["success"])
	tok, _ := out["token"].(string)
	require.NotEmpty(t, tok)
	return tok
}

const loginRow = `[{"Username":"admin","Password":"pass123","Usertype":"coordinator","centercity":"Pune","batchcode":"B1"}]`

func TestLogin_SessionScopesReports(t *testing.T) {
	e := newTestEnv(t, map[string]http.HandlerFunc{
		"get_crt_login.aspx":      body(loginRow),
		"get_crt_batch.aspx":      body(`[{"batchcode":"B1","batchname":"Morning"}]`),
		"get_crt_batch_data.aspx": body(`[{"idcardno":"S1","Batchname":"Morning"},{"idcardno":"S2","Batchname":"Morning"}]`),
	})
	tok := login(t, e)

	w := e.do(http.MethodPost, "/api/login", gin.H{"username": "admin", "password": "pass123"}, nil)
	user := decode(t, w)["user"].(map[string]any)
	assert.NotContains(t, user, "Password")
	assert.Equal(t, "coordinator", user["Usertype"])

	w = e.do(http.MethodGet, "/api/session", nil, map[string]string{SessionTokenHeader: tok})
	require.Equal(t, http.StatusOK, w.Code)
	var sess models.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sess))
	assert.Equal(t, "coordinator", sess.Usertype)
	assert.Equal(t, "Pune", sess.City)
	assert.Equal(t, "B1", sess.Course)

	w = e.do(http.MethodGet, "/api/reports/batches", nil, map[string]string{"Authorization": "Bearer " + tok})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var view reports.View[models.Batch]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	require.Len(t, view.Rows, 1)
	assert.Equal(t, 2, view.Rows[0].StudentCount)

	calls := e.legacy.calls("get_crt_batch.aspx")
	require.Len(t, calls, 1)
	assert.Equal(t, "coordinator", calls[0].Get("usertype"))
	assert.Equal(t, "Pune", calls[0].Get("city"))
	assert.Equal(t, "B1", calls[0].Get("course"))

	w = e.do(http.MethodPost, "/api/logout", nil, map[string]string{SessionTokenHeader: tok})
	assert.Equal(t, http.StatusOK, w.Code)
	w = e.do(http.MethodGet, "/api/session", nil, map[string]string{SessionTokenHeader: tok})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLogout_AllSessions(t *testing.T) {
	e := newTestEnv(t, map[string]http.HandlerFunc{
		"get_crt_login.aspx": body(loginRow),
	})
	first, second := login(t, e), login(t, e)

	w := e.do(http.MethodPost, "/api/logout?all=true", nil, map[string]string{SessionTokenHeader: first})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(2), decode(t, w)["ended"])

	for _, tok := range []string{first, second} {
		w = e.do(http.MethodGet, "/api/session", nil, map[string]string{SessionTokenHeader: tok})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	}
}

func TestLogin_Rejected(t *testing.T) {
	e := newTestEnv(t, map[string]http.HandlerFunc{
		"get_crt_login.aspx": body(loginRow),
	})
	w := e.do(http.MethodPost, "/api/login", gin.H{"username": "admin", "password": "wrong"}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"success":false}`, w.Body.String())

	w = e.do(http.MethodPost, "/api/login", gin.H{"username": "admin"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReports_UnknownToken(t *testing.T) {
	e := newTestEnv(t, nil)
	w := e.do(http.MethodGet, "/api/reports/tests", nil, map[string]string{SessionTokenHeader: "nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Zero(t, e.legacy.total())
}

func TestSettings(t *testing.T) {
	e := newTestEnv(t, nil)

	w := e.do(http.MethodGet, "/api/settings", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "CRT Reports Dashboard", decode(t, w)["companyName"])

	w = e.do(http.MethodPut, "/api/settings", gin.H{"companyName": "A", "contactDetails": "not-an-email"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	st := models.Settings{CompanyName: "Acme Academy", LogoURL: "https://acme.example/logo.png", ContactDetails: "hi@acme.example"}
	w = e.do(http.MethodPut, "/api/settings", st, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = e.do(http.MethodGet, "/api/settings", nil, nil)
	var got models.Settings
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, st, got)
}

func TestReports_TestListDefaultsMissed(t *testing.T) {
	e := newTestEnv(t, map[string]http.HandlerFunc{
		"get_crt_testwise.aspx": body(`[{"testno":"T1","total":30},{"testno":"T2","total":20}]`),
		"get_crt_studentwise_not.aspx": func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("testno") == "T2" {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			body(`[{"idcardno":"S9"}]`)(w, r)
		},
	})
	w := e.do(http.MethodGet, "/api/reports/tests?sort=missed&order=desc", nil, scopeHeaders)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var view reports.View[models.Test]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	require.Len(t, view.Rows, 2)
	assert.Equal(t, "T1", view.Rows[0].TestNo)
	assert.Equal(t, 1, view.Rows[0].Missed)
	assert.Equal(t, 0, view.Rows[1].Missed)
}

func TestReports_ErrorMapping(t *testing.T) {
	e := newTestEnv(t, map[string]http.HandlerFunc{
		"get_crt_testwise.aspx":     body(`[{"testno":"T1"}]`),
		"get_crt_testwise_avg.aspx": body(`[]`),
		"get_crt_batch.aspx":        status(http.StatusServiceUnavailable),
	})

	w := e.do(http.MethodGet, "/api/reports/tests/T9", nil, scopeHeaders)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(http.MethodGet, "/api/reports/tests?sort=bogus", nil, scopeHeaders)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(http.MethodGet, "/api/reports/students", nil, map[string]string{CourseHeader: "B1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(http.MethodGet, "/api/reports/batches", nil, scopeHeaders)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, float64(http.StatusServiceUnavailable), decode(t, w)["status"])
}

func TestReports_ExportMatchesFilteredView(t *testing.T) {
	e := newTestEnv(t, map[string]http.HandlerFunc{
		"get_crt_testwise_detail.aspx": body(`[
			{"studname":"Asha","studentid":"S1","emailid":"a@x.in","section1cor":7,"section1wro":3,"section1sco":70,"Testdate":"2024-01-05T00:00:00"},
			{"studname":"Ravi","studentid":"S2","emailid":"r@x.in","section1cor":5,"section1wro":5,"section1sco":50,"Testdate":"2024-01-05T00:00:00"},
			{"studname":"Ashok","studentid":"S3","emailid":"k@x.in","section1cor":6,"section1wro":4,"section1sco":60,"Testdate":"2024-01-05T00:00:00"}
		]`),
	})

	w := e.do(http.MethodGet, "/api/reports/tests/T1/attempted?q=ash", nil, scopeHeaders)
	require.Equal(t, http.StatusOK, w.Code)
	var view reports.View[models.Attempt]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, 2, view.Count)

	w = e.do(http.MethodGet, "/api/reports/tests/T1/attempted/export?q=ash", nil, scopeHeaders)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, export.ContentType, w.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="attempted-students-T1.xlsx"`, w.Header().Get("Content-Disposition"))

	headers, rows, err := export.ReadRows(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, "Student ID", headers[0])
	assert.Len(t, rows, view.Count)
	assert.Equal(t, "05-01-2024", rows[0][6])
}
