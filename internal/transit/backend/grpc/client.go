package grpc

import (
	"context"
	"crypto/tls"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/autopeer-io/transitlive/internal/pkg/metrics"
	grpcmiddleware "github.com/autopeer-io/transitlive/internal/pkg/middleware/grpc"
	"github.com/autopeer-io/transitlive/internal/transit/core"
	"github.com/autopeer-io/transitlive/internal/transit/model"
	"github.com/autopeer-io/transitlive/pkg/log"
	"github.com/autopeer-io/transitlive/pkg/options"
)

// Client talks to the backend over gRPC with the JSON codec.
type Client struct {
	conn   *grpc.ClientConn
	logger log.Logger
}

var (
	_ core.LocationWriter = (*Client)(nil)
	_ core.SessionService = (*Client)(nil)
	_ core.Registrar      = (*Client)(nil)
	_ core.VehicleLister  = (*Client)(nil)
)

// NewClient creates the channel. It does not connect until the first call.
func NewClient(opts *options.GrpcOptions, extra ...grpc.DialOption) (*Client, error) {
	creds := insecure.NewCredentials()
	if !opts.Insecure {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithChainUnaryInterceptor(
			grpcmiddleware.NewUnaryTimeoutInterceptor(opts.Timeout),
			grpcmiddleware.UnaryMetricsInterceptor,
		),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	}, extra...)

	conn, err := grpc.NewClient(opts.Addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize gRPC client for backend addr '%s': %w", opts.Addr, err)
	}

	return &Client{conn: conn, logger: log.WithName("backend")}, nil
}

// Monitor mirrors the channel state into the connectivity gauge until ctx ends.
func (c *Client) Monitor(ctx context.Context) error {
	logger := c.logger.WithName("grpc-monitor")

	lastState := c.conn.GetState()
	updateMetric(lastState)

	for {
		if !c.conn.WaitForStateChange(ctx, lastState) {
			return nil
		}
		newState := c.conn.GetState()
		logger.Info("Backend connection state changed", "from", lastState, "to", newState)
		updateMetric(newState)
		lastState = newState
	}
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func updateMetric(state connectivity.State) {
	if state == connectivity.Ready {
		metrics.BackendConnectivityStatus.Set(1)
		return
	}
	metrics.BackendConnectivityStatus.Set(0)
}

func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	return mapError(method, c.conn.Invoke(ctx, fullMethod(method), req, resp))
}

func (c *Client) WriteVehicleLocation(ctx context.Context, w core.LocationWrite) (core.WriteResult, error) {
	req := &WriteVehicleLocationRequest{
		SessionID:  w.SessionID,
		VehicleID:  w.VehicleID,
		DriverID:   w.DriverID,
		Accuracy:   w.Accuracy,
		SpeedKmh:   w.SpeedKmh,
		Heading:    w.Heading,
		CapturedAt: w.CapturedAt,
	}
	if !w.Clear {
		lat, lng := w.Latitude, w.Longitude
		req.Latitude, req.Longitude = &lat, &lng
	}

	resp := &WriteVehicleLocationResponse{}
	if err := c.invoke(ctx, MethodWriteVehicleLocation, req, resp); err != nil {
		return core.WriteResult{}, err
	}
	if resp.Code == ResultSessionInvalid {
		return core.WriteResult{Message: resp.Message}, fmt.Errorf("%s: %w: %s", MethodWriteVehicleLocation, core.ErrSessionInvalid, resp.Message)
	}
	return core.WriteResult{Success: resp.Success, Message: resp.Message}, nil
}

func (c *Client) StartSession(ctx context.Context, driverID, vehicleID, routeID string) (model.TripSession, error) {
	resp := &SessionResponse{}
	req := &StartSessionRequest{DriverID: driverID, VehicleID: vehicleID, RouteID: routeID}
	if err := c.invoke(ctx, MethodStartSession, req, resp); err != nil {
		return model.TripSession{}, err
	}
	return toSession(resp.Session), nil
}

func (c *Client) RefreshSession(ctx context.Context, driverID, vehicleID string) (model.TripSession, error) {
	resp := &SessionResponse{}
	req := &RefreshSessionRequest{DriverID: driverID, VehicleID: vehicleID}
	if err := c.invoke(ctx, MethodRefreshSession, req, resp); err != nil {
		return model.TripSession{}, err
	}
	return toSession(resp.Session), nil
}

func (c *Client) EndSession(ctx context.Context, sessionID string) error {
	return c.invoke(ctx, MethodEndSession, &EndSessionRequest{SessionID: sessionID}, &Empty{})
}

func (c *Client) RegisterConnection(ctx context.Context, md core.ConnectionMetadata) error {
	req := &RegisterConnectionRequest{
		ConnectionID: md.ConnectionID,
		DeviceID:     md.DeviceID,
		Role:         md.Role,
		Version:      md.Version,
		Platform:     md.Platform,
	}
	return c.invoke(ctx, MethodRegisterConnection, req, &Empty{})
}

func (c *Client) Heartbeat(ctx context.Context, connectionID string) (bool, error) {
	resp := &HeartbeatResponse{}
	if err := c.invoke(ctx, MethodHeartbeat, &ConnectionRequest{ConnectionID: connectionID}, resp); err != nil {
		return false, err
	}
	return resp.Alive, nil
}

func (c *Client) UnregisterConnection(ctx context.Context, connectionID string) error {
	return c.invoke(ctx, MethodUnregisterConnection, &ConnectionRequest{ConnectionID: connectionID}, &Empty{})
}

func (c *Client) ListVehicles(ctx context.Context, f core.VehicleFilter) ([]model.VehicleRow, error) {
	resp := &ListVehiclesResponse{}
	req := &ListVehiclesRequest{RouteID: f.RouteID, ActiveOnly: f.ActiveOnly}
	if err := c.invoke(ctx, MethodListVehicles, req, resp); err != nil {
		return nil, err
	}

	rows := make([]model.VehicleRow, 0, len(resp.Vehicles))
	for _, v := range resp.Vehicles {
		rows = append(rows, model.VehicleRow{
			VehicleID:           v.VehicleID,
			DriverID:            v.DriverID,
			RouteID:             v.RouteID,
			PlateNumber:         v.PlateNumber,
			Status:              v.Status,
			IsActive:            v.IsActive,
			Latitude:            v.Latitude,
			Longitude:           v.Longitude,
			OccupancyPercentage: v.OccupancyPercentage,
			LastUpdateAt:        v.LastUpdateAt,
		})
	}
	return rows, nil
}

func toSession(s Session) model.TripSession {
	status := model.SessionStatus(s.Status)
	if status == "" {
		status = model.SessionActive
	}
	return model.TripSession{
		SessionID: s.SessionID,
		DriverID:  s.DriverID,
		VehicleID: s.VehicleID,
		RouteID:   s.RouteID,
		Status:    status,
	}
}
