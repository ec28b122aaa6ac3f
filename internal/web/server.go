package web

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vbonduro/docustitch/internal/domain"
	"github.com/vbonduro/docustitch/internal/service"
)

const sessionCookie = "docustitch_session"

type Server struct {
	service      *service.SessionService
	templates    *template.Template
	mux          *http.ServeMux
	logger       *slog.Logger
	cookieSecure bool
}

type Option func(*Server)

// WithSecureCookie marks the session cookie Secure, for deployments behind TLS.
func WithSecureCookie(secure bool) Option {
	return func(s *Server) {
		s.cookieSecure = secure
	}
}

// NewServer parses every template in tmpl up front and registers the routes.
func NewServer(svc *service.SessionService, tmpl embed.FS, logger *slog.Logger, opts ...Option) (*Server, error) {
	t, err := template.New("").Funcs(template.FuncMap{
		"isError": func(st domain.Status) bool { return st == domain.StatusError },
	}).ParseFS(tmpl, "*.html", "pages/*.html", "partials/*.html")
	if err != nil {
		return nil, err
	}

	s := &Server{
		service:   svc,
		templates: t,
		mux:       http.NewServeMux(),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("POST /screenshot", s.handleUploadScreenshot)
	s.mux.HandleFunc("DELETE /screenshot", s.handleClearScreenshot)
	s.mux.HandleFunc("GET /screenshot", s.handleGetScreenshot)
	s.mux.HandleFunc("PUT /form", s.handleUpdateForm)
	s.mux.HandleFunc("POST /generate", s.handleGenerate)
	s.mux.HandleFunc("GET /status", s.handleStatus)
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	s.mux.Handle("GET /metrics", promhttp.Handler())
}

// securityHeaders sets browser hardening headers on every response.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Content-Security-Policy",
			"default-src 'self'; "+
				"script-src 'self' 'unsafe-inline' https://unpkg.com; "+
				"style-src 'self' 'unsafe-inline'; "+
				"img-src 'self' data:; "+
				"connect-src 'self'")
		next.ServeHTTP(w, r)
	})
}

// statusRecorder wraps http.ResponseWriter to capture the written status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func requestLogger(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		level := slog.LevelInfo
		// Status polling is frequent and uninteresting.
		if r.URL.Path == "/status" || r.URL.Path == "/metrics" {
			level = slog.LevelDebug
		}
		logger.Log(r.Context(), level, "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestLogger(s.logger, securityHeaders(s.mux)).ServeHTTP(w, r)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.logger.Info("starting server", "addr", addr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// currentSession loads the session named by the cookie, creating one (and
// setting the cookie) when it is missing or has expired. It must run before
// anything is written to w.
func (s *Server) currentSession(w http.ResponseWriter, r *http.Request) (*domain.Session, error) {
	var id string
	if c, err := r.Cookie(sessionCookie); err == nil {
		id = c.Value
	}
	sess, err := s.service.GetOrCreate(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if sess.ID != id {
		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookie,
			Value:    sess.ID,
			Path:     "/",
			HttpOnly: true,
			Secure:   s.cookieSecure,
			SameSite: http.SameSiteLaxMode,
		})
	}
	return sess, nil
}

// render executes the named template with a 200 status.
func (s *Server) render(w http.ResponseWriter, name string, data any) {
	s.renderStatus(w, http.StatusOK, name, data)
}

func (s *Server) renderStatus(w http.ResponseWriter, status int, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := s.templates.ExecuteTemplate(w, name, data); err != nil {
		s.logger.Error("render template failed", "template", name, "error", err)
	}
}

// serviceError maps a service error to an HTTP status and writes it.
func (s *Server) serviceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, service.ErrIncomplete):
		http.Error(w, "url and screenshot are required", http.StatusBadRequest)
	case errors.Is(err, service.ErrUnsupportedImage):
		http.Error(w, "unsupported image format", http.StatusBadRequest)
	case errors.Is(err, service.ErrImageTooLarge):
		http.Error(w, "screenshot dimensions too large", http.StatusBadRequest)
	case errors.Is(err, service.ErrSessionNotFound):
		http.Error(w, "session not found", http.StatusBadRequest)
	case errors.Is(err, service.ErrNoImage):
		http.Error(w, "no screenshot", http.StatusNotFound)
	case errors.Is(err, service.ErrInFlight):
		http.Error(w, "generation already in progress", http.StatusConflict)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
		s.logger.Error(op+" failed", "error", err)
	}
}
