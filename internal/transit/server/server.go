package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/autopeer-io/transitlive/internal/pkg/metrics"
	"github.com/autopeer-io/transitlive/internal/transit/model"
	"github.com/autopeer-io/transitlive/internal/transit/uplink"
	"github.com/autopeer-io/transitlive/pkg/log"
	"github.com/autopeer-io/transitlive/pkg/options"
)

// Fleet is the read side of the canonical vehicle view.
type Fleet interface {
	Vehicles() []model.VehicleView
	Vehicle(id string) (model.VehicleView, error)
	Refresh(ctx context.Context) error
}

// Connection controls the live-update connection.
type Connection interface {
	State() model.ConnectionState
	Transitions() []model.Transition
	ForceReconnect() error
	OnForeground()
	OnBackground()
}

// Tracker controls the telemetry uplink of a driver device.
type Tracker interface {
	StartTracking(ctx context.Context, driverID, vehicleID, routeID string) (model.TripSession, error)
	StopTracking(ctx context.Context) error
	OnForeground(ctx context.Context)
	Status() uplink.Status
}

// Deps are the components behind the HTTP surface. Tracker is nil on
// passenger devices.
type Deps struct {
	Fleet      Fleet
	Connection Connection
	Tracker    Tracker

	// VehicleID is used when a start request names no vehicle.
	VehicleID string
}

// Server is the local HTTP surface consumed by the UI.
type Server struct {
	deps     Deps
	opts     *options.HttpOptions
	validate *validator.Validate
	logger   log.Logger
	server   *http.Server
}

func NewServer(opts *options.HttpOptions, deps Deps) *Server {
	s := &Server{
		deps:     deps,
		opts:     opts,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   log.WithName("http"),
	}
	s.server = &http.Server{
		Addr:         opts.Addr,
		Handler:      s.Router(),
		ReadTimeout:  opts.Timeout,
		WriteTimeout: opts.Timeout,
	}
	return s
}

const apiPrefix = "/api/v1"

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	r.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.readyz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	// API routes sit on the root router so a method mismatch answers 405.
	r.HandleFunc(apiPrefix+"/vehicles", s.listVehicles).Methods(http.MethodGet)
	r.HandleFunc(apiPrefix+"/vehicles/{id}", s.getVehicle).Methods(http.MethodGet)

	r.HandleFunc(apiPrefix+"/connection", s.getConnection).Methods(http.MethodGet)
	r.HandleFunc(apiPrefix+"/connection/reconnect", s.reconnect).Methods(http.MethodPost)

	r.HandleFunc(apiPrefix+"/tracking", s.getTracking).Methods(http.MethodGet)
	r.HandleFunc(apiPrefix+"/tracking/start", s.startTracking).Methods(http.MethodPost)
	r.HandleFunc(apiPrefix+"/tracking/stop", s.stopTracking).Methods(http.MethodPost)

	r.HandleFunc(apiPrefix+"/app/foreground", s.foreground).Methods(http.MethodPost)
	r.HandleFunc(apiPrefix+"/app/background", s.background).Methods(http.MethodPost)

	return r
}

// Start serves until ctx ends and then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen(s.opts.Network, s.opts.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("Starting HTTP server", "addr", lis.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "elapsed", time.Since(start))
	})
}
