package posemux

import (
	"net/http"

	"tailscale.com/tsweb"

	"github.com/banshee-data/repcount/internal/httputil"
)

// AttachAdminRoutes mounts this mux's debugging endpoints on mux.
func (m *PoseMux) AttachAdminRoutes(mux *http.ServeMux) {
	AttachAdminRoutes(mux, func() *PoseMux { return m })
}

// AttachAdminRoutes mounts fan-out debugging endpoints on the /debug/ tree of
// mux: a live Server-Sent Events tail of frames and subscriber stats. current
// is called per request so the routes follow whichever fan-out is active; it
// may return nil between sessions.
func AttachAdminRoutes(mux *http.ServeMux, current func() *PoseMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("posemux-stats", "pose fan-out subscriber stats", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httputil.MethodNotAllowed(w)
			return
		}
		m := current()
		if m == nil {
			httputil.NotFound(w, "no active pose stream")
			return
		}
		httputil.WriteJSONOK(w, map[string]any{
			"published":     m.Published(),
			"last_frame_id": m.LastFrameID(),
			"subscribers":   m.Stats(),
		})
	})

	// Live tail of frames as JSON, one SSE message per frame.
	debug.HandleSilentFunc("poses", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		m := current()
		if m == nil {
			http.Error(w, "no active pose stream", http.StatusNotFound)
			return
		}
		sse, ok := httputil.StartSSE(w)
		if !ok {
			return
		}

		id, c := m.Subscribe(WithName("debug-tail"), WithBuffer(4))
		defer m.Unsubscribe(id)

		for {
			select {
			case frame, ok := <-c:
				if !ok {
					return
				}
				if err := sse.Send(frame); err != nil {
					return
				}
			case <-r.Context().Done():
				return
			}
		}
	})
}
