package core

import (
	"context"
	"time"

	"github.com/autopeer-io/transitlive/internal/transit/model"
)

// LocationWrite is the payload of one vehicle-location write.
type LocationWrite struct {
	SessionID string
	VehicleID string
	DriverID  string
	// Clear asks the backend to forget the position; the coordinates are ignored.
	Clear      bool
	Latitude   float64
	Longitude  float64
	Accuracy   float64
	SpeedKmh   float64
	Heading    float64
	CapturedAt time.Time
}

// WriteResult is the backend acknowledgement of a write.
type WriteResult struct {
	Success bool
	Message string
}

// LocationWriter is the remote write primitive used by the uplink.
// Implementations return ErrSessionInvalid for stale sessions and wrap
// ErrTransient for network failures.
type LocationWriter interface {
	WriteVehicleLocation(ctx context.Context, w LocationWrite) (WriteResult, error)
}

// SessionService issues, refreshes and ends trip sessions.
type SessionService interface {
	StartSession(ctx context.Context, driverID, vehicleID, routeID string) (model.TripSession, error)
	RefreshSession(ctx context.Context, driverID, vehicleID string) (model.TripSession, error)
	EndSession(ctx context.Context, sessionID string) error
}

// ConnectionMetadata describes the device when it registers a live-update connection.
type ConnectionMetadata struct {
	ConnectionID string
	DeviceID     string
	Role         string
	Version      string
	Platform     string
}

// Registrar holds the liveness primitives of the live-update connection.
type Registrar interface {
	RegisterConnection(ctx context.Context, md ConnectionMetadata) error
	// Heartbeat refreshes the connection liveness. A false result with a nil
	// error means the backend no longer knows the connection.
	Heartbeat(ctx context.Context, connectionID string) (bool, error)
	UnregisterConnection(ctx context.Context, connectionID string) error
}

// TableFilter selects row-change events of one table. An empty Column
// subscribes to every row.
type TableFilter struct {
	Table  string
	Column string
	Value  string
}

// EventHandler receives change events. It must not block for long.
type EventHandler func(ev model.ChangeEvent)

// Subscription is an open push subscription.
type Subscription interface {
	Filter() TableFilter
	Unsubscribe(ctx context.Context) error
}

// Subscriber is the remote subscribe primitive. Delivery is at-least-once
// and may silently stop.
type Subscriber interface {
	Subscribe(ctx context.Context, filter TableFilter, handler EventHandler) (Subscription, error)
}

// VehicleFilter narrows a full-state poll.
type VehicleFilter struct {
	RouteID string
	// ActiveOnly requests rows with an assigned driver and an active flag.
	ActiveOnly bool
}

// VehicleLister is the full-state poll source.
type VehicleLister interface {
	ListVehicles(ctx context.Context, filter VehicleFilter) ([]model.VehicleRow, error)
}

// PositionSource yields one position fix per call.
type PositionSource interface {
	CurrentPosition(ctx context.Context) (model.LocationSample, error)
}

// RouteLookup resolves route display fields from a local cache.
type RouteLookup interface {
	Route(routeID string) (model.Route, bool)
}
