package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/autopeer-io/transitlive/internal/transit/core"
	"github.com/autopeer-io/transitlive/internal/transit/lifecycle"
	"github.com/autopeer-io/transitlive/internal/transit/model"
)

type errorResponse struct {
	Error string `json:"error"`
}

type connectionResponse struct {
	State       model.ConnectionState `json:"state"`
	Transitions []model.Transition    `json:"transitions"`
}

type startTrackingRequest struct {
	DriverID  string `json:"driverId" validate:"required"`
	VehicleID string `json:"vehicleId" validate:"required"`
	RouteID   string `json:"routeId" validate:"required"`
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// readyz reports ready while the live-update connection is up.
func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if phase := s.deps.Connection.State().Phase; phase != model.PhaseConnected {
		http.Error(w, string(phase), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// listVehicles returns the canonical view. ?refresh=true polls first.
func (s *Server) listVehicles(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("refresh") == "true" {
		if err := s.deps.Fleet.Refresh(r.Context()); err != nil {
			s.logger.Warn("On-demand refresh failed, serving current view", "error", err)
		}
	}
	writeJSON(w, http.StatusOK, s.deps.Fleet.Vehicles())
}

func (s *Server) getVehicle(w http.ResponseWriter, r *http.Request) {
	v, err := s.deps.Fleet.Vehicle(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) getConnection(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, connectionResponse{
		State:       s.deps.Connection.State(),
		Transitions: s.deps.Connection.Transitions(),
	})
}

func (s *Server) reconnect(w http.ResponseWriter, _ *http.Request) {
	if err := s.deps.Connection.ForceReconnect(); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.deps.Connection.State())
}

func (s *Server) getTracking(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Tracker == nil {
		s.writeError(w, errTrackingDisabled)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Tracker.Status())
}

func (s *Server) startTracking(w http.ResponseWriter, r *http.Request) {
	if s.deps.Tracker == nil {
		s.writeError(w, errTrackingDisabled)
		return
	}

	req := startTrackingRequest{VehicleID: s.deps.VehicleID}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body: " + err.Error()})
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.writeError(w, err)
		return
	}

	sess, err := s.deps.Tracker.StartTracking(r.Context(), req.DriverID, req.VehicleID, req.RouteID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) stopTracking(w http.ResponseWriter, r *http.Request) {
	if s.deps.Tracker == nil {
		s.writeError(w, errTrackingDisabled)
		return
	}
	if err := s.deps.Tracker.StopTracking(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Tracker.Status())
}

// foreground reconnects the live channel and drains the offline queue.
func (s *Server) foreground(w http.ResponseWriter, r *http.Request) {
	s.deps.Connection.OnForeground()
	if s.deps.Tracker != nil {
		s.deps.Tracker.OnForeground(r.Context())
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) background(w http.ResponseWriter, _ *http.Request) {
	s.deps.Connection.OnBackground()
	w.WriteHeader(http.StatusNoContent)
}

var errTrackingDisabled = errors.New("tracking is not enabled on this device")

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors

	code := http.StatusInternalServerError
	switch {
	case errors.As(err, &verrs):
		code = http.StatusBadRequest
	case errors.Is(err, core.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, core.ErrNotTracking):
		code = http.StatusConflict
	case errors.Is(err, errTrackingDisabled), errors.Is(err, lifecycle.ErrNotRunning):
		code = http.StatusServiceUnavailable
	case errors.Is(err, core.ErrRejected):
		code = http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrTransient), errors.Is(err, core.ErrSessionInvalid):
		code = http.StatusBadGateway
	}
	if code >= http.StatusInternalServerError {
		s.logger.Error(err, "Request failed", "status", code)
	}
	writeJSON(w, code, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
