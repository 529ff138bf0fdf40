package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"volcal/internal/config"
	"volcal/internal/model"
	"volcal/internal/repository"
	"volcal/internal/source"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestServer(t *testing.T, mutate func(*config.Config)) (*Server, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2025, 12, 2, 9, 0, 0, 0, time.UTC)}
	cfg := config.DefaultConfig()
	cfg.Timezone = "UTC"
	if mutate != nil {
		mutate(cfg)
	}
	cfg.Normalize()

	src := &source.Static{Records: []model.Record{
		{ID: "101", Date: "2025-12-06", SessionType: "saturday", TimeStart: "10:00", TimeEnd: "12:00", MaxCapacity: 50, RegisteredCount: 45, IsActive: true},
		{ID: "103", Date: "2025-12-16", SessionType: "tuesday", TimeStart: "18:30", TimeEnd: "20:00", MaxCapacity: 50, RegisteredCount: 50, IsActive: true},
	}}
	repo := repository.New(repository.Options{Location: time.UTC, MonthsAhead: cfg.MonthsAhead}, src, clock.Now)
	require.NoError(t, repo.Load(context.Background()))

	s := NewServer(Options{
		Config:         cfg,
		Repo:           repo,
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("# metrics")) }),
		Clock:          clock.Now,
	})
	return s, clock
}

// visitor replays the widget cookie like a browser would.
type visitor struct {
	t      *testing.T
	h      http.Handler
	cookie *http.Cookie
}

func (v *visitor) do(method, path string, jsonAccept bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if jsonAccept {
		req.Header.Set("Accept", "application/json")
	}
	if v.cookie != nil {
		req.AddCookie(v.cookie)
	}
	rec := httptest.NewRecorder()
	v.h.ServeHTTP(rec, req)
	for _, c := range rec.Result().Cookies() {
		if c.Name == widgetCookie {
			v.cookie = c
		}
	}
	return rec
}

func (v *visitor) selection(method, path string) selectionResponse {
	rec := v.do(method, path, true)
	require.Equal(v.t, http.StatusOK, rec.Code, rec.Body.String())
	var resp selectionResponse
	require.NoError(v.t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestToggleFlow(t *testing.T) {
	s, _ := newTestServer(t, nil)
	v := &visitor{t: t, h: s.Handler()}

	rec := v.do(http.MethodGet, "/widget", false)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, v.cookie)
	assert.Contains(t, rec.Body.String(), "5 left")

	resp := v.selection(http.MethodPost, "/widget/toggle/2025-12-06")
	require.NotNil(t, resp.Accepted)
	assert.True(t, *resp.Accepted)
	assert.Equal(t, []string{"Saturday, December 6, 2025 (First Saturday - 10am - 12pm)"}, resp.Dates)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "101", *resp.Data[0].SessionID)

	resp = v.selection(http.MethodPost, "/widget/toggle/2025-12-16")
	assert.False(t, *resp.Accepted, "full dates cannot be selected")
	assert.Len(t, resp.Dates, 1)

	resp = v.selection(http.MethodPost, "/widget/remove/2025-12-06")
	assert.True(t, *resp.Accepted)
	assert.Empty(t, resp.Dates)
	assert.Equal(t, 1, s.widgets.len())
}

func TestFormPostRedirects(t *testing.T) {
	s, _ := newTestServer(t, nil)
	v := &visitor{t: t, h: s.Handler()}
	v.do(http.MethodGet, "/", false)

	rec := v.do(http.MethodPost, "/widget/next", false)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))

	page := v.do(http.MethodGet, "/", false)
	assert.Contains(t, page.Body.String(), "January 2026")
	assert.Contains(t, page.Body.String(), "<title>Volunteer Sign-Up</title>")
}

func TestValidateShowsError(t *testing.T) {
	s, _ := newTestServer(t, nil)
	v := &visitor{t: t, h: s.Handler()}

	resp := v.selection(http.MethodPost, "/widget/validate")
	assert.False(t, resp.Valid)
	assert.True(t, resp.ErrorVisible)
	assert.Contains(t, v.do(http.MethodGet, "/widget", false).Body.String(), "error-message visible")

	v.selection(http.MethodPost, "/widget/toggle/2025-12-06")
	resp = v.selection(http.MethodPost, "/widget/validate")
	assert.True(t, resp.Valid)
	assert.False(t, resp.ErrorVisible)
}

func TestInvalidDate(t *testing.T) {
	s, _ := newTestServer(t, nil)
	v := &visitor{t: t, h: s.Handler()}
	rec := v.do(http.MethodPost, "/widget/toggle/not-a-date", true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSelectionAPIStartsEmpty(t *testing.T) {
	s, _ := newTestServer(t, nil)
	v := &visitor{t: t, h: s.Handler()}
	resp := v.selection(http.MethodGet, "/api/selection")
	assert.Empty(t, resp.Dates)
	assert.False(t, resp.Valid)
	assert.Nil(t, resp.Accepted)
}

func TestSessionsAPI(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp sessionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, repository.OriginRemote, resp.Origin)
	assert.Equal(t, "2025-12-02", resp.Today)
	require.Len(t, resp.Sessions, 2)

	first := resp.Sessions[0]
	assert.Equal(t, "2025-12-06", first.Date)
	assert.Equal(t, 5, first.Capacity.Available)
	assert.True(t, first.Capacity.IsLimited)
	assert.True(t, first.Selectable)
	assert.False(t, resp.Sessions[1].Selectable)
}

func TestCalendarExport(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/calendar.ics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/calendar"))
	body := rec.Body.String()
	assert.Contains(t, body, "BEGIN:VCALENDAR")
	assert.Contains(t, body, "session-101@volcal")
}

func TestBasicAuth(t *testing.T) {
	s, _ := newTestServer(t, func(c *config.Config) {
		c.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "pw"}
	})
	h := s.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	req.SetBasicAuth("admin", "pw")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSweepIdleWidgets(t *testing.T) {
	s, clock := newTestServer(t, func(c *config.Config) { c.WidgetIdleTTL = "10m" })
	v := &visitor{t: t, h: s.Handler()}
	v.selection(http.MethodPost, "/widget/toggle/2025-12-06")
	require.Equal(t, 1, s.widgets.len())

	clock.Advance(5 * time.Minute)
	assert.Zero(t, s.SweepIdle())

	clock.Advance(6 * time.Minute)
	assert.Equal(t, 1, s.SweepIdle())
	assert.Zero(t, s.widgets.len())

	// The stale cookie gets a fresh, empty widget.
	resp := v.selection(http.MethodGet, "/api/selection")
	assert.Empty(t, resp.Dates)
}

func TestMetricsRoute(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "# metrics", rec.Body.String())
}

func TestStaticCSS(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/static/widget.css", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), ".error-message.visible")
}
