package web

import (
	"context"
	"crypto/subtle"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"volcal/internal/config"
	appLog "volcal/internal/log"
	"volcal/internal/metrics"
	"volcal/internal/render"
	"volcal/internal/repository"
	"volcal/internal/widget"
)

// Server hosts per-visitor widgets and the JSON/ICS views of the
// repository.
type Server struct {
	cfg     *config.Config
	repo    *repository.Repository
	metrics *metrics.WidgetMetrics
	// metricsHandler serves /metrics; nil disables the route.
	metricsHandler http.Handler
	clock          func() time.Time

	widgets *widgetStore
	router  chi.Router
}

// Options wires a Server. Repo and Config are required.
type Options struct {
	Config         *config.Config
	Repo           *repository.Repository
	Metrics        *metrics.WidgetMetrics
	MetricsHandler http.Handler
	Clock          func() time.Time
}

//go:embed static
var embeddedStatic embed.FS

var pageTemplate = template.Must(template.ParseFS(embeddedStatic, "static/page.html.tmpl"))

const actionBase = "/widget"

// NewServer constructs a new Server.
func NewServer(opts Options) *Server {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	s := &Server{
		cfg:            opts.Config,
		repo:           opts.Repo,
		metrics:        opts.Metrics,
		metricsHandler: opts.MetricsHandler,
		clock:          clock,
	}
	s.widgets = newWidgetStore(s.newWidget, opts.Config.WidgetIdleTTLDuration(), clock, opts.Metrics)
	s.router = s.routes()
	return s
}

func (s *Server) newWidget() *widget.Widget {
	return widget.New(s.repo, widget.Options{
		Mode:        render.ParseMode(s.cfg.RenderMode),
		MonthsAhead: s.cfg.MonthsAhead,
		WeekStart:   s.cfg.Weekday(),
		ActionBase:  actionBase,
		Observer:    s.metrics,
	})
}

// Handler returns the router, wrapped in basic auth when configured.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.router)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// SweepIdle destroys widgets untouched for longer than the idle TTL. The
// serve command schedules it on cron.
func (s *Server) SweepIdle() int {
	return s.widgets.sweep()
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	if s.metricsHandler != nil {
		r.Handle("/metrics", s.metricsHandler)
	}

	r.Get("/", s.handlePage)
	r.Get("/static/*", s.handleStatic)
	r.Get("/preview.png", s.handlePreview)
	r.Get("/calendar.ics", s.handleCalendar)

	r.Route(actionBase, func(r chi.Router) {
		r.Get("/", s.handleFragment)
		r.Post("/toggle/{date}", s.handleEvent(widget.EventToggle))
		r.Post("/remove/{date}", s.handleEvent(widget.EventRemove))
		r.Post("/prev", s.handleEvent(widget.EventPrev))
		r.Post("/next", s.handleEvent(widget.EventNext))
		r.Post("/refresh", s.handleRefresh)
		r.Post("/validate", s.handleValidate)
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/selection", s.handleSelection)
		r.Get("/sessions", s.handleSessions)
	})
	return r
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="volcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// ListenAndServe serves until ctx is canceled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.widgets.closeAll()
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type pageData struct {
	Title  string
	Widget template.HTML
}

// handlePage renders a standalone page around the visitor's widget. The
// widget markup comes from html/template already escaped.
func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	e := s.widgets.forRequest(w, r)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	data := pageData{
		Title:  "Volunteer Sign-Up",
		Widget: template.HTML(e.container.Markup()),
	}
	if err := pageTemplate.Execute(w, data); err != nil {
		appLog.Error("page render failed", err)
	}
}

func (s *Server) handleFragment(w http.ResponseWriter, r *http.Request) {
	e := s.widgets.forRequest(w, r)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(e.container.Markup()))
}

func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	sub, err := fs.Sub(embeddedStatic, "static")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "static assets unavailable")
		return
	}
	http.StripPrefix("/static/", http.FileServer(http.FS(sub))).ServeHTTP(w, r)
}

// handlePreview serves the last snapshot written by the snapshot command.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	http.ServeFile(w, r, s.cfg.PreviewPath)
}

// wantsJSON distinguishes API callers from plain form posts, which get a
// redirect back to the page.
func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
