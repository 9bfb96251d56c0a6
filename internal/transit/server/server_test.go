package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/autopeer-io/transitlive/internal/transit/core"
	"github.com/autopeer-io/transitlive/internal/transit/model"
	"github.com/autopeer-io/transitlive/internal/transit/uplink"
	"github.com/autopeer-io/transitlive/pkg/options"
)

type fakeFleet struct {
	views     []model.VehicleView
	refreshes int
}

func (f *fakeFleet) Vehicles() []model.VehicleView { return f.views }

func (f *fakeFleet) Vehicle(id string) (model.VehicleView, error) {
	for _, v := range f.views {
		if v.VehicleID == id {
			return v, nil
		}
	}
	return model.VehicleView{}, fmt.Errorf("vehicle %s: %w", id, core.ErrNotFound)
}

func (f *fakeFleet) Refresh(context.Context) error {
	f.refreshes++
	return nil
}

type fakeConnection struct {
	state       model.ConnectionState
	forced      int
	foregrounds int
	forceErr    error
}

func (c *fakeConnection) State() model.ConnectionState { return c.state }
func (c *fakeConnection) Transitions() []model.Transition {
	return []model.Transition{{From: model.PhaseDisconnected, To: model.PhaseConnecting, Event: "connect"}}
}
func (c *fakeConnection) ForceReconnect() error {
	c.forced++
	return c.forceErr
}
func (c *fakeConnection) OnForeground() { c.foregrounds++ }
func (c *fakeConnection) OnBackground() {}

type fakeTracker struct {
	started  []string
	tracking bool
	drains   int
	startErr error
}

func (t *fakeTracker) StartTracking(_ context.Context, driverID, vehicleID, routeID string) (model.TripSession, error) {
	if t.startErr != nil {
		return model.TripSession{}, t.startErr
	}
	t.started = append(t.started, driverID+"/"+vehicleID+"/"+routeID)
	t.tracking = true
	return model.TripSession{SessionID: "s1", DriverID: driverID, VehicleID: vehicleID, RouteID: routeID, Status: model.SessionActive}, nil
}

func (t *fakeTracker) StopTracking(context.Context) error {
	if !t.tracking {
		return core.ErrNotTracking
	}
	t.tracking = false
	return nil
}

func (t *fakeTracker) OnForeground(context.Context) { t.drains++ }
func (t *fakeTracker) Status() uplink.Status       { return uplink.Status{Tracking: t.tracking} }

type harness struct {
	fleet   *fakeFleet
	conn    *fakeConnection
	tracker *fakeTracker
	handler http.Handler
}

func newHarness(withTracker bool) *harness {
	h := &harness{
		fleet: &fakeFleet{views: []model.VehicleView{
			{VehicleState: model.VehicleState{VehicleID: "v1", RouteID: "r1"}, TrackingStatus: model.TrackingMoving},
		}},
		conn:    &fakeConnection{state: model.ConnectionState{Phase: model.PhaseConnected}},
		tracker: &fakeTracker{},
	}
	deps := Deps{Fleet: h.fleet, Connection: h.conn, VehicleID: "bus-7"}
	if withTracker {
		deps.Tracker = h.tracker
	}
	h.handler = NewServer(options.NewHttpOptions(), deps).Router()
	return h
}

func (h *harness) do(method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func TestProbes(t *testing.T) {
	h := newHarness(false)

	if rec := h.do(http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Errorf("healthz = %d", rec.Code)
	}
	if rec := h.do(http.MethodGet, "/readyz", ""); rec.Code != http.StatusOK {
		t.Errorf("readyz while connected = %d", rec.Code)
	}
	h.conn.state.Phase = model.PhaseReconnecting
	if rec := h.do(http.MethodGet, "/readyz", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz while reconnecting = %d", rec.Code)
	}
	if rec := h.do(http.MethodGet, "/metrics", ""); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Errorf("metrics = %d", rec.Code)
	}
}

func TestVehicles(t *testing.T) {
	h := newHarness(false)

	rec := h.do(http.MethodGet, "/api/v1/vehicles?refresh=true", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list = %d", rec.Code)
	}
	var got []model.VehicleView
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(h.fleet.views, got); diff != "" {
		t.Errorf("list mismatch (-want +got):\n%s", diff)
	}
	if h.fleet.refreshes != 1 {
		t.Errorf("refreshes = %d, want 1", h.fleet.refreshes)
	}

	tests := []struct {
		target string
		code   int
	}{
		{"/api/v1/vehicles/v1", http.StatusOK},
		{"/api/v1/vehicles/v9", http.StatusNotFound},
	}
	for _, tt := range tests {
		if rec := h.do(http.MethodGet, tt.target, ""); rec.Code != tt.code {
			t.Errorf("GET %s = %d, want %d", tt.target, rec.Code, tt.code)
		}
	}
}

func TestConnectionEndpoints(t *testing.T) {
	h := newHarness(false)

	rec := h.do(http.MethodGet, "/api/v1/connection", "")
	var got connectionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.State.Phase != model.PhaseConnected || len(got.Transitions) != 1 {
		t.Errorf("connection = %+v", got)
	}

	if rec := h.do(http.MethodPost, "/api/v1/connection/reconnect", ""); rec.Code != http.StatusAccepted || h.conn.forced != 1 {
		t.Errorf("reconnect = %d, forced %d", rec.Code, h.conn.forced)
	}
	for _, req := range []struct{ method, target string }{
		{http.MethodGet, "/api/v1/connection/reconnect"},
		{http.MethodDelete, "/api/v1/connection"},
		{http.MethodGet, "/api/v1/tracking/start"},
	} {
		if rec := h.do(req.method, req.target, ""); rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s = %d, want 405", req.method, req.target, rec.Code)
		}
	}
	if rec := h.do(http.MethodGet, "/api/v1/nothing", ""); rec.Code != http.StatusNotFound {
		t.Errorf("GET unknown = %d, want 404", rec.Code)
	}

	if rec := h.do(http.MethodPost, "/api/v1/app/foreground", ""); rec.Code != http.StatusNoContent || h.conn.foregrounds != 1 {
		t.Errorf("foreground = %d", rec.Code)
	}
	if rec := h.do(http.MethodPost, "/api/v1/app/background", ""); rec.Code != http.StatusNoContent {
		t.Errorf("background = %d", rec.Code)
	}
}

func TestTracking(t *testing.T) {
	h := newHarness(true)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"missing route", `{"driverId":"d1"}`, http.StatusBadRequest},
		{"malformed", `{"driverId":`, http.StatusBadRequest},
		{"default vehicle", `{"driverId":"d1","routeId":"r1"}`, http.StatusCreated},
	}
	for _, tt := range tests {
		if rec := h.do(http.MethodPost, "/api/v1/tracking/start", tt.body); rec.Code != tt.code {
			t.Errorf("%s: start = %d, want %d (%s)", tt.name, rec.Code, tt.code, rec.Body.String())
		}
	}
	if diff := cmp.Diff([]string{"d1/bus-7/r1"}, h.tracker.started); diff != "" {
		t.Errorf("started mismatch (-want +got):\n%s", diff)
	}

	if rec := h.do(http.MethodPost, "/api/v1/app/foreground", ""); rec.Code != http.StatusNoContent || h.tracker.drains != 1 {
		t.Errorf("foreground did not drain: %d", h.tracker.drains)
	}

	if rec := h.do(http.MethodPost, "/api/v1/tracking/stop", ""); rec.Code != http.StatusOK {
		t.Errorf("stop = %d", rec.Code)
	}
	if rec := h.do(http.MethodPost, "/api/v1/tracking/stop", ""); rec.Code != http.StatusConflict {
		t.Errorf("second stop = %d, want 409", rec.Code)
	}
}

func TestTrackingStartBackendErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"rejected", fmt.Errorf("StartSession: %w: FailedPrecondition: driver unassigned", core.ErrRejected), http.StatusUnprocessableEntity},
		{"unavailable", fmt.Errorf("StartSession: %w: down", core.ErrTransient), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(true)
			h.tracker.startErr = tt.err
			if rec := h.do(http.MethodPost, "/api/v1/tracking/start", `{"driverId":"d1","routeId":"r1"}`); rec.Code != tt.code {
				t.Errorf("start = %d, want %d", rec.Code, tt.code)
			}
		})
	}
}

func TestTrackingDisabled(t *testing.T) {
	h := newHarness(false)
	for _, target := range []string{"/api/v1/tracking/start", "/api/v1/tracking/stop"} {
		if rec := h.do(http.MethodPost, target, `{}`); rec.Code != http.StatusServiceUnavailable {
			t.Errorf("POST %s = %d, want 503", target, rec.Code)
		}
	}
	if rec := h.do(http.MethodGet, "/api/v1/tracking", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("GET tracking = %d, want 503", rec.Code)
	}
}
