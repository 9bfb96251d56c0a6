package model

// SessionStatus is the lifecycle state of a TripSession.
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionStale  SessionStatus = "stale"
	SessionEnded  SessionStatus = "ended"
)

// TripSession scopes a driver, vehicle and route for the duration of a trip.
type TripSession struct {
	SessionID string        `json:"sessionId"`
	DriverID  string        `json:"driverId"`
	VehicleID string        `json:"vehicleId"`
	RouteID   string        `json:"routeId"`
	Status    SessionStatus `json:"status"`
}
