// Package api implements the loopback control-plane HTTP surface
// (spec.md §6.1), built on http.ServeMux the way the teacher's initMux
// wires dms.go's routes.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/anacrolix/log"

	"github.com/castbridge/castd/internal/directory"
	"github.com/castbridge/castd/internal/session"
)

// Version is reported by /health. Overridable for tests/builds that stamp
// a real release version.
var Version = "dev"

// Discoverer is the subset of discovery control the API exposes via
// /devices/refresh.
type Discoverer interface {
	Refresh()
}

type Server struct {
	dir         *directory.Directory
	coordinator *session.Coordinator
	discoverer  Discoverer
	logger      log.Logger
	shutdown    func()
}

func New(logger log.Logger, dir *directory.Directory, coordinator *session.Coordinator, discoverer Discoverer, shutdown func()) *Server {
	return &Server{
		dir:         dir,
		coordinator: coordinator,
		discoverer:  discoverer,
		logger:      logger.WithNames("api"),
		shutdown:    shutdown,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/devices", s.handleDevices)
	mux.HandleFunc("/devices/", s.handleDeviceByID)
	mux.HandleFunc("/devices/refresh", s.handleDevicesRefresh)
	mux.HandleFunc("/cast", s.handleCast)
	mux.HandleFunc("/control", s.handleControl)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/stop", s.handleStop)
	mux.HandleFunc("/shutdown", s.handleShutdown)
	return withCORS(mux)
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": Version})
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.dir.Snapshot())
}

func (s *Server) handleDeviceByID(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Path[len("/devices/"):]
	if id == "" || id == "refresh" {
		http.NotFound(w, r)
		return
	}
	dev, ok := s.dir.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown device: "+id)
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

func (s *Server) handleDevicesRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusBadRequest, "method not allowed")
		return
	}
	if s.discoverer != nil {
		s.discoverer.Refresh()
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "refreshing"})
}

type castRequest struct {
	DeviceID string   `json:"deviceId"`
	MediaURL string   `json:"mediaUrl"`
	Position *float64 `json:"position,omitempty"`
}

func (s *Server) handleCast(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusBadRequest, "method not allowed")
		return
	}
	var req castRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	position := 0.0
	if req.Position != nil {
		position = *req.Position
	}
	if err := s.coordinator.Start(r.Context(), req.DeviceID, req.MediaURL, position); err != nil {
		writeError(w, http.StatusBadRequest, errorMessage(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "casting"})
}

type controlRequest struct {
	Action string   `json:"action"`
	Value  *float64 `json:"value,omitempty"`
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusBadRequest, "method not allowed")
		return
	}
	var req controlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	value := 0.0
	hasValue := req.Value != nil
	if hasValue {
		value = *req.Value
	}
	if err := s.coordinator.Control(r.Context(), session.Action(req.Action), value, hasValue); err != nil {
		writeError(w, http.StatusBadRequest, errorMessage(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// CastStatus is the JSON shape returned by GET /status, per spec.md §3.
type CastStatus struct {
	Casting    bool    `json:"casting"`
	DeviceID   string  `json:"deviceId,omitempty"`
	DeviceName string  `json:"deviceName,omitempty"`
	Position   float64 `json:"position"`
	Duration   float64 `json:"duration"`
	Paused     bool    `json:"paused"`
	State      string  `json:"state"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.coordinator.Status()
	writeJSON(w, http.StatusOK, CastStatus{
		Casting:    st.Casting,
		DeviceID:   st.DeviceID,
		DeviceName: st.DeviceName,
		Position:   st.Position,
		Duration:   st.Duration,
		Paused:     st.Paused,
		State:      string(st.State),
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusBadRequest, "method not allowed")
		return
	}
	s.coordinator.Stop(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusBadRequest, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "shutting_down"})
	if s.shutdown != nil {
		go func() {
			time.Sleep(100 * time.Millisecond)
			s.shutdown()
		}()
	}
}

// errorMessage renders a coordinator error for the HTTP body. The
// *castderr.Error Error() method already includes the kind prefix (e.g.
// "notCasting: ..."), matching the scenario S2 expectation of a
// human-readable message in the 400 body.
func errorMessage(err error) string {
	return err.Error()
}
