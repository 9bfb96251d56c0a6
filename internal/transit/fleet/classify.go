package fleet

import (
	"math"
	"time"

	"github.com/autopeer-io/transitlive/internal/transit/model"
)

// Occupancy tier lower bounds, in percent.
const (
	FullThreshold     = 90
	CrowdedThreshold  = 70
	ModerateThreshold = 40
)

// Freshness upper bounds.
const (
	LiveWithin   = 2 * time.Minute
	RecentWithin = 5 * time.Minute
	StaleWithin  = 15 * time.Minute
)

// OccupancyTierOf buckets an occupancy percentage. Boundary values fall into
// the higher tier.
func OccupancyTierOf(p float64) model.OccupancyTier {
	switch {
	case math.IsNaN(p):
		return model.OccupancyLight
	case p >= FullThreshold:
		return model.OccupancyFull
	case p >= CrowdedThreshold:
		return model.OccupancyCrowded
	case p >= ModerateThreshold:
		return model.OccupancyModerate
	default:
		return model.OccupancyLight
	}
}

// FreshnessOf buckets the age of the last position update.
func FreshnessOf(age time.Duration) model.Freshness {
	switch {
	case age < LiveWithin:
		return model.FreshnessLive
	case age < RecentWithin:
		return model.FreshnessRecent
	case age < StaleWithin:
		return model.FreshnessStale
	default:
		return model.FreshnessOffline
	}
}

// TrackingStatusOf maps the row status to the passenger-facing classification.
// Anything that is not moving is shown as stopped.
func TrackingStatusOf(status string) model.TrackingStatus {
	if status == model.StatusMoving {
		return model.TrackingMoving
	}
	return model.TrackingStopped
}

// View derives the read-time fields of v.
func View(v model.VehicleState, now time.Time) model.VehicleView {
	return model.VehicleView{
		VehicleState:   v,
		TrackingStatus: TrackingStatusOf(v.Status),
		OccupancyTier:  OccupancyTierOf(v.OccupancyPercentage),
		Freshness:      FreshnessOf(now.Sub(v.LastUpdateAt)),
	}
}
