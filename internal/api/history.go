package api

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/banshee-data/repcount/internal/db"
	"github.com/banshee-data/repcount/internal/export"
	"github.com/banshee-data/repcount/internal/httputil"
	"github.com/banshee-data/repcount/internal/session"
)

// sessionDetail adds derived cadence to a stored session.
type sessionDetail struct {
	session.Summary
	DurationSeconds float64         `json:"duration_seconds"`
	Cadence         session.Cadence `json:"cadence"`
}

func (s *Server) requireStore(w http.ResponseWriter) bool {
	if s.store == nil {
		httputil.ServiceUnavailable(w, "session history is not configured")
		return false
	}
	return true
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if !s.requireStore(w) {
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			httputil.BadRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	list, err := s.store.Sessions(r.Context(), limit)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if list == nil {
		list = []session.Summary{}
	}
	httputil.WriteJSONOK(w, list)
}

func (s *Server) loadSession(w http.ResponseWriter, r *http.Request) (session.Summary, bool) {
	sum, err := s.store.Session(r.Context(), r.PathValue("id"))
	if errors.Is(err, db.ErrSessionNotFound) {
		httputil.NotFound(w, err.Error())
		return sum, false
	}
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return sum, false
	}
	return sum, true
}

func (s *Server) sessionByID(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	switch r.Method {
	case http.MethodGet:
		sum, ok := s.loadSession(w, r)
		if !ok {
			return
		}
		httputil.WriteJSONOK(w, sessionDetail{
			Summary:         sum,
			DurationSeconds: sum.Duration().Seconds(),
			Cadence:         session.CadenceOf(sum.Events),
		})
	case http.MethodDelete:
		err := s.store.DeleteSession(r.Context(), r.PathValue("id"))
		if errors.Is(err, db.ErrSessionNotFound) {
			httputil.NotFound(w, err.Error())
			return
		}
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		httputil.MethodNotAllowed(w)
	}
}

// exportSession serves events.parquet, chart.html or chart.png for a stored
// session.
func (s *Server) exportSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if !s.requireStore(w) {
		return
	}
	artifact := r.PathValue("artifact")
	if !slices.Contains(export.Artifacts, artifact) {
		httputil.NotFound(w, "unknown export "+artifact)
		return
	}

	sum, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := export.Render(&buf, sum, artifact); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render %s: %v", artifact, err))
		return
	}
	w.Header().Set("Content-Type", export.ContentType(artifact))
	if artifact == "events.parquet" {
		w.Header().Set("Content-Disposition", "attachment; filename="+export.FileName(sum, artifact))
	}
	_, _ = w.Write(buf.Bytes())
}

// totalsWindow parses ?days= (default 7, at most 366) into a UTC midnight.
func totalsWindow(r *http.Request, now time.Time) (time.Time, error) {
	days := 7
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 366 {
			return time.Time{}, errors.New("days must be between 1 and 366")
		}
		days = n
	}
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1-days), nil
}

func (s *Server) loadTotals(w http.ResponseWriter, r *http.Request) ([]db.DailyTotal, bool) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return nil, false
	}
	if !s.requireStore(w) {
		return nil, false
	}
	since, err := totalsWindow(r, time.Now())
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return nil, false
	}
	totals, err := s.store.TotalsSince(r.Context(), since)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return nil, false
	}
	if totals == nil {
		totals = []db.DailyTotal{}
	}
	return totals, true
}

func (s *Server) showTotals(w http.ResponseWriter, r *http.Request) {
	if totals, ok := s.loadTotals(w, r); ok {
		httputil.WriteJSONOK(w, totals)
	}
}

func (s *Server) showTotalsChart(w http.ResponseWriter, r *http.Request) {
	totals, ok := s.loadTotals(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := export.TotalsHTML(&buf, totals); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
