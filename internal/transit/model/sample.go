package model

import (
	"math"
	"time"
)

// LocationSample is one position fix from the device. A NaN coordinate means the
// source reported it as null.
type LocationSample struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	// Accuracy is the horizontal accuracy radius in metres.
	Accuracy float64 `json:"accuracy"`
	// Speed is in metres per second.
	Speed float64 `json:"speed"`
	// Heading is degrees clockwise from true north.
	Heading    float64   `json:"heading"`
	CapturedAt time.Time `json:"capturedAt"`
}

// SampleKind classifies a LocationSample before it is uplinked.
type SampleKind int

const (
	// SampleValid carries a usable position.
	SampleValid SampleKind = iota
	// SampleClear has both coordinates null: the driver is clearing the vehicle position.
	SampleClear
	// SampleMalformed has exactly one null coordinate or a coordinate out of range.
	SampleMalformed
)

func (k SampleKind) String() string {
	switch k {
	case SampleValid:
		return "valid"
	case SampleClear:
		return "clear"
	default:
		return "malformed"
	}
}

// ClearSample returns the sample that asks the backend to forget the vehicle position.
func ClearSample(at time.Time) LocationSample {
	return LocationSample{
		Latitude:   math.NaN(),
		Longitude:  math.NaN(),
		CapturedAt: at,
	}
}

// Classify reports whether the sample is valid, a clear request, or malformed.
func (s LocationSample) Classify() SampleKind {
	latNull, lngNull := math.IsNaN(s.Latitude), math.IsNaN(s.Longitude)
	switch {
	case latNull && lngNull:
		return SampleClear
	case latNull || lngNull:
		return SampleMalformed
	case math.IsInf(s.Latitude, 0) || math.IsInf(s.Longitude, 0):
		return SampleMalformed
	case s.Latitude < -90 || s.Latitude > 90:
		return SampleMalformed
	case s.Longitude < -180 || s.Longitude > 180:
		return SampleMalformed
	}
	return SampleValid
}

// SpeedKmh converts Speed to kilometres per hour. Negative or NaN speeds (unknown) become 0.
func (s LocationSample) SpeedKmh() float64 {
	if math.IsNaN(s.Speed) || s.Speed < 0 {
		return 0
	}
	return s.Speed * 3.6
}

// UplinkTask is a sample bound to the trip session it is reported under.
type UplinkTask struct {
	// Seq is assigned by the offline queue; zero for a task that was never queued.
	Seq       uint64         `json:"seq,omitempty"`
	Sample    LocationSample `json:"sample"`
	SessionID string         `json:"sessionId"`
	VehicleID string         `json:"vehicleId"`
	DriverID  string         `json:"driverId"`
	Attempts  int            `json:"attempts"`
}
