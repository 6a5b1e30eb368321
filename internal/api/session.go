package api

import (
	"errors"
	"net/http"

	"github.com/banshee-data/repcount/internal/exercise"
	"github.com/banshee-data/repcount/internal/httputil"
	"github.com/banshee-data/repcount/internal/pipeline"
)

func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var cfg pipeline.SessionConfig
	if err := httputil.DecodeJSON(r, &cfg); err != nil {
		httputil.BadRequest(w, "invalid session config: "+err.Error())
		return
	}
	if cfg.Exercise == "" {
		httputil.BadRequest(w, "exercise is required")
		return
	}
	if cfg.CalorieIncrement < 0 {
		httputil.BadRequest(w, "calorie_increment must not be negative")
		return
	}

	if err := s.ctrl.Start(r.Context(), cfg); err != nil {
		if errors.Is(err, pipeline.ErrInvalidFacing) {
			httputil.BadRequest(w, err.Error())
			return
		}
		httputil.ServiceUnavailable(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, s.ctrl.Status())
}

func (s *Server) stopSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	err := s.ctrl.Stop()
	switch {
	case errors.Is(err, pipeline.ErrNotRunning):
		httputil.Conflict(w, err.Error())
		return
	case err != nil:
		// The session had already failed; Status carries the error.
		httputil.WriteJSON(w, http.StatusOK, s.ctrl.Status())
		return
	}
	httputil.WriteJSONOK(w, s.ctrl.Status())
}

func (s *Server) toggleCamera(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if err := s.ctrl.ToggleCamera(r.Context()); err != nil {
		if errors.Is(err, pipeline.ErrNotRunning) {
			httputil.Conflict(w, "no session to toggle")
			return
		}
		httputil.ServiceUnavailable(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, s.ctrl.Status())
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.ctrl.Status())
}

// listExercises returns the catalog, optionally filtered by ?catalog=.
func (s *Server) listExercises(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	table := s.ctrl.Catalog()
	if c := r.URL.Query().Get("catalog"); c != "" {
		list := table.Catalog(exercise.Catalog(c))
		if len(list) == 0 {
			httputil.NotFound(w, "unknown catalog "+c)
			return
		}
		httputil.WriteJSONOK(w, list)
		return
	}
	httputil.WriteJSONOK(w, table.All())
}

// streamCounter pushes a counter snapshot on every change until the client
// disconnects.
func (s *Server) streamCounter(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	acc := s.ctrl.Accumulator()
	id, ch := acc.Subscribe()
	defer acc.Unsubscribe(id)

	sse, ok := httputil.StartSSE(w)
	if !ok {
		return
	}
	if err := sse.Send(acc.Snapshot()); err != nil {
		return
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case snap, ok := <-ch:
			if !ok {
				return
			}
			if err := sse.Send(snap); err != nil {
				return
			}
		}
	}
}

func (s *Server) showLatestFrame(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	frame, ok := s.ctrl.LatestFrame()
	if !ok {
		httputil.NotFound(w, "no frame displayed yet")
		return
	}
	httputil.WriteJSONOK(w, frame)
}
