package grpc

import "time"

// Service is the fully qualified backend service name.
const Service = "transitlive.backend.v1.Backend"

const (
	MethodWriteVehicleLocation = "WriteVehicleLocation"
	MethodStartSession         = "StartSession"
	MethodRefreshSession       = "RefreshSession"
	MethodEndSession           = "EndSession"
	MethodRegisterConnection   = "RegisterConnection"
	MethodHeartbeat            = "Heartbeat"
	MethodUnregisterConnection = "UnregisterConnection"
	MethodListVehicles         = "ListVehicles"
)

// ResultSessionInvalid is the result code of a write under a stale session.
const ResultSessionInvalid = "SESSION_INVALID"

func fullMethod(m string) string {
	return "/" + Service + "/" + m
}

type WriteVehicleLocationRequest struct {
	SessionID string `json:"sessionId"`
	VehicleID string `json:"vehicleId"`
	DriverID  string `json:"driverId,omitempty"`
	// Latitude and Longitude are null for a clear request.
	Latitude   *float64  `json:"latitude"`
	Longitude  *float64  `json:"longitude"`
	Accuracy   float64   `json:"accuracy,omitempty"`
	SpeedKmh   float64   `json:"speedKmh"`
	Heading    float64   `json:"heading,omitempty"`
	CapturedAt time.Time `json:"capturedAt"`
}

type WriteVehicleLocationResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

type StartSessionRequest struct {
	DriverID  string `json:"driverId"`
	VehicleID string `json:"vehicleId"`
	RouteID   string `json:"routeId"`
}

type RefreshSessionRequest struct {
	DriverID  string `json:"driverId"`
	VehicleID string `json:"vehicleId"`
}

type EndSessionRequest struct {
	SessionID string `json:"sessionId"`
}

type Session struct {
	SessionID string `json:"sessionId"`
	DriverID  string `json:"driverId"`
	VehicleID string `json:"vehicleId"`
	RouteID   string `json:"routeId"`
	Status    string `json:"status"`
}

type SessionResponse struct {
	Session Session `json:"session"`
}

type RegisterConnectionRequest struct {
	ConnectionID string `json:"connectionId"`
	DeviceID     string `json:"deviceId"`
	Role         string `json:"role,omitempty"`
	Version      string `json:"version,omitempty"`
	Platform     string `json:"platform,omitempty"`
}

type ConnectionRequest struct {
	ConnectionID string `json:"connectionId"`
}

type HeartbeatResponse struct {
	Alive bool `json:"alive"`
}

type ListVehiclesRequest struct {
	RouteID    string `json:"routeId,omitempty"`
	ActiveOnly bool   `json:"activeOnly,omitempty"`
}

type Vehicle struct {
	VehicleID           string    `json:"vehicleId"`
	DriverID            string    `json:"driverId,omitempty"`
	RouteID             string    `json:"routeId,omitempty"`
	PlateNumber         string    `json:"plateNumber,omitempty"`
	Status              string    `json:"status"`
	IsActive            bool      `json:"isActive"`
	Latitude            float64   `json:"latitude"`
	Longitude           float64   `json:"longitude"`
	OccupancyPercentage float64   `json:"occupancyPercentage"`
	LastUpdateAt        time.Time `json:"lastUpdateAt"`
}

type ListVehiclesResponse struct {
	Vehicles []Vehicle `json:"vehicles"`
}

type Empty struct{}
