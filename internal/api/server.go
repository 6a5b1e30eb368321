package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/repcount/internal/db"
	"github.com/banshee-data/repcount/internal/monitoring"
	"github.com/banshee-data/repcount/internal/pipeline"
	"github.com/banshee-data/repcount/internal/posemux"
	"github.com/banshee-data/repcount/internal/session"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// SessionStore is the read side of session history. *db.DB satisfies it.
type SessionStore interface {
	Sessions(ctx context.Context, limit int) ([]session.Summary, error)
	Session(ctx context.Context, id string) (session.Summary, error)
	DeleteSession(ctx context.Context, id string) error
	TotalsSince(ctx context.Context, since time.Time) ([]db.DailyTotal, error)
}

type Server struct {
	ctrl  *pipeline.Controller
	store SessionStore
}

// NewServer serves ctrl. store may be nil, in which case history routes
// answer 503.
func NewServer(ctrl *pipeline.Controller, store SessionStore) *Server {
	return &Server{ctrl: ctrl, store: store}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/session/start", s.startSession)
	mux.HandleFunc("/api/session/stop", s.stopSession)
	mux.HandleFunc("/api/session/toggle", s.toggleCamera)
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/exercises", s.listExercises)
	mux.HandleFunc("/api/counter/stream", s.streamCounter)
	mux.HandleFunc("/api/frame/latest", s.showLatestFrame)
	mux.HandleFunc("/api/sessions", s.listSessions)
	mux.HandleFunc("/api/sessions/{id}", s.sessionByID)
	mux.HandleFunc("/api/sessions/{id}/{artifact}", s.exportSession)
	mux.HandleFunc("/api/totals", s.showTotals)
	mux.HandleFunc("/api/totals/chart", s.showTotalsChart)

	posemux.AttachAdminRoutes(mux, s.ctrl.Mux)
	return mux
}
