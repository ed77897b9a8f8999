package api

import (
	"bufio"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/tagfeed/internal/config"
	"github.com/JakeFAU/tagfeed/internal/feed"
	"github.com/JakeFAU/tagfeed/internal/metrics"
	"github.com/JakeFAU/tagfeed/internal/proximity"
	"github.com/JakeFAU/tagfeed/internal/session"
)

// SessionFactory builds an unstarted session for mount.
type SessionFactory func(mount session.Mount) (*session.Session, error)

// Server wires HTTP handlers to live feed sessions.
type Server struct {
	router   chi.Router
	sessions *registry
	factory  SessionFactory
	cfg      config.Config
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(factory SessionFactory, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		sessions: newRegistry(cfg.Server.MaxSessions),
		factory:  factory,
		cfg:      cfg,
		logger:   logger.Named("api"),
	}
	timeout := time.Duration(cfg.Server.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(timeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", s.listSessions)
			r.Post("/", s.createSession)
			r.Route("/{session_id}", func(r chi.Router) {
				r.Get("/", s.getSession)
				r.Delete("/", s.deleteSession)
				r.Post("/viewport", s.scrollSession)
				r.Get("/render", s.renderSession)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close closes every live session.
func (s *Server) Close() {
	s.sessions.closeAll()
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type createSessionRequest struct {
	Attributes     map[string]string   `json:"attributes"`
	Tag            *string             `json:"tag"`
	BatchSize      *int                `json:"batch_size"`
	MaxConcurrency *int                `json:"max_concurrency"`
	ShowStatus     *bool               `json:"show_status"`
	DisplayName    *string             `json:"display_name"`
	Viewport       *proximity.Viewport `json:"viewport"`
}

type sessionResponse struct {
	Session session.Snapshot `json:"session"`
	Error   string           `json:"error,omitempty"`
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	sess, err := s.factory(s.mountFor(req))
	if err != nil {
		s.logger.Error("session build failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to build session")
		return
	}
	if err := s.sessions.add(sess); err != nil {
		sess.Close()
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	resp := sessionResponse{}
	if err := sess.Start(r.Context()); err != nil {
		// Start failures are already rendered into the session; report them alongside it.
		resp.Error = err.Error()
		if !isPresentationError(err) {
			s.logger.Warn("session start failed", zap.String("session_id", sess.ID()), zap.Error(err))
		}
	}
	if req.Viewport != nil {
		sess.Scroll(*req.Viewport)
	}
	resp.Session = sess.Snapshot()
	w.Header().Set("Location", "/v1/sessions/"+sess.ID())
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) listSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"sessions": s.sessions.ids()})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Session: sess.Snapshot()})
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.remove(chi.URLParam(r, "session_id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	sess.Close()
	w.WriteHeader(http.StatusNoContent)
}

// scrollSession moves the viewport. With ?wait=true the response is sent once
// every triggered load has settled.
func (s *Server) scrollSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var v proximity.Viewport
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if v.Height <= 0 {
		writeError(w, http.StatusBadRequest, "viewport height must be > 0")
		return
	}
	sess.Scroll(v)
	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		if err := sess.Drain(r.Context()); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				status = http.StatusRequestTimeout
			}
			writeError(w, status, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, sessionResponse{Session: sess.Snapshot()})
}

func (s *Server) renderSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if raw := r.URL.Query().Get("width"); raw != "" {
		width, err := strconv.Atoi(raw)
		if err != nil || width <= 0 {
			writeError(w, http.StatusBadRequest, "width must be a positive integer")
			return
		}
		sess.Resize(width)
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if _, err := w.Write([]byte(sess.Render() + "\n")); err != nil {
		s.logger.Error("render write failed", zap.Error(err))
	}
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.sessions.get(chi.URLParam(r, "session_id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	return sess, true
}

// mountFor layers container attributes, then explicit fields, over the
// configured defaults.
func (s *Server) mountFor(req createSessionRequest) session.Mount {
	mount := s.cfg.Mount()
	if len(req.Attributes) > 0 {
		mount = session.ParseAttributes(req.Attributes)
	}
	mount.Tag = valueOrDefault(req.Tag, mount.Tag)
	mount.BatchSize = valueOrDefault(req.BatchSize, mount.BatchSize)
	mount.MaxConcurrency = valueOrDefault(req.MaxConcurrency, mount.MaxConcurrency)
	mount.ShowStatus = valueOrDefault(req.ShowStatus, mount.ShowStatus)
	mount.DisplayName = valueOrDefault(req.DisplayName, mount.DisplayName)
	return mount.Normalize()
}

func isPresentationError(err error) bool {
	var cfgErr *feed.ConfigError
	return errors.Is(err, feed.ErrNoItems) || errors.As(err, &cfgErr)
}

func valueOrDefault[T any](ptr *T, def T) T {
	if ptr == nil {
		return def
	}
	return *ptr
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Info("request completed",
				zap.String("request_id", reqID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("panic", rec), zap.String("path", r.URL.Path))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

// apiKeyMiddleware accepts the key from the X-API-Key header only, so it never
// shows up in logged URLs.
func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	want := []byte(expected)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(r.Header.Get("X-API-Key"))
			if subtle.ConstantTimeCompare(got, want) != 1 {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
