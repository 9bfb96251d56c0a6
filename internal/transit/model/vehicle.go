package model

import "time"

// Vehicle status values carried by rows and change events.
const (
	StatusMoving  = "moving"
	StatusStopped = "stopped"
	StatusOffline = "offline"
)

// Source records where the freshest write of a VehicleState came from.
type Source string

const (
	SourcePush Source = "push"
	SourcePoll Source = "poll"
)

// VehicleRow is a full vehicle record as returned by the polling source.
type VehicleRow struct {
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

// VehiclePatch is a partial vehicle record from a change event. Nil fields were
// absent from the event and must not overwrite known values.
type VehiclePatch struct {
	VehicleID           string
	DriverID            *string
	RouteID             *string
	PlateNumber         *string
	Status              *string
	IsActive            *bool
	Latitude            *float64
	Longitude           *float64
	OccupancyPercentage *float64
	LastUpdateAt        *time.Time
}

// EventType is the kind of row change.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// ChangeEvent is one row-level change delivered by the live-update channel.
type ChangeEvent struct {
	Table      string
	Type       EventType
	Patch      VehiclePatch
	ReceivedAt time.Time
}

// VehicleState is the canonical, deduplicated record of one vehicle.
type VehicleState struct {
	VehicleID           string    `json:"vehicleId"`
	DriverID            string    `json:"driverId,omitempty"`
	RouteID             string    `json:"routeId,omitempty"`
	RouteName           string    `json:"routeName,omitempty"`
	RouteColor          string    `json:"routeColor,omitempty"`
	PlateNumber         string    `json:"plateNumber,omitempty"`
	Latitude            float64   `json:"latitude"`
	Longitude           float64   `json:"longitude"`
	Status              string    `json:"status"`
	IsActive            bool      `json:"isActive"`
	OccupancyPercentage float64   `json:"occupancyPercentage"`
	LastUpdateAt        time.Time `json:"lastUpdateAt"`
	SourceOfTruth       Source    `json:"sourceOfTruth"`
}

// TrackingStatus is the movement classification shown to passengers.
type TrackingStatus string

const (
	TrackingMoving  TrackingStatus = "moving"
	TrackingStopped TrackingStatus = "stopped"
)

// OccupancyTier buckets the occupancy percentage for colour and icon selection.
type OccupancyTier string

const (
	OccupancyLight    OccupancyTier = "light"
	OccupancyModerate OccupancyTier = "moderate"
	OccupancyCrowded  OccupancyTier = "crowded"
	OccupancyFull     OccupancyTier = "full"
)

// Freshness buckets the age of the last position update.
type Freshness string

const (
	FreshnessLive    Freshness = "live"
	FreshnessRecent  Freshness = "recent"
	FreshnessStale   Freshness = "stale"
	FreshnessOffline Freshness = "offline"
)

// VehicleView is a VehicleState with its derived fields, computed at read time.
type VehicleView struct {
	VehicleState
	TrackingStatus TrackingStatus `json:"trackingStatus"`
	OccupancyTier  OccupancyTier  `json:"occupancyTier"`
	Freshness      Freshness      `json:"freshness"`
}

// Route holds the display fields joined into vehicle state.
type Route struct {
	ID    string `json:"id"`
	Code  string `json:"code"`
	Name  string `json:"name"`
	Color string `json:"color"`
}
