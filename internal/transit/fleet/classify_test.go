package fleet

import (
	"math"
	"testing"
	"time"

	"github.com/autopeer-io/transitlive/internal/transit/model"
)

func TestOccupancyTierOf(t *testing.T) {
	tests := []struct {
		p    float64
		want model.OccupancyTier
	}{
		{0, model.OccupancyLight},
		{39.99, model.OccupancyLight},
		{40, model.OccupancyModerate},
		{69.9, model.OccupancyModerate},
		{70, model.OccupancyCrowded},
		{89.99, model.OccupancyCrowded},
		{90, model.OccupancyFull},
		{100, model.OccupancyFull},
		{120, model.OccupancyFull},
		{math.NaN(), model.OccupancyLight},
	}
	for _, tt := range tests {
		got := OccupancyTierOf(tt.p)
		if got != tt.want {
			t.Errorf("OccupancyTierOf(%v) = %s, want %s", tt.p, got, tt.want)
		}
		if again := OccupancyTierOf(tt.p); again != got {
			t.Errorf("OccupancyTierOf(%v) not stable: %s then %s", tt.p, got, again)
		}
	}
}

func TestFreshnessOf(t *testing.T) {
	tests := []struct {
		age  time.Duration
		want model.Freshness
	}{
		{-time.Minute, model.FreshnessLive},
		{0, model.FreshnessLive},
		{2*time.Minute - time.Second, model.FreshnessLive},
		{2 * time.Minute, model.FreshnessRecent},
		{5 * time.Minute, model.FreshnessStale},
		{15*time.Minute - time.Second, model.FreshnessStale},
		{15 * time.Minute, model.FreshnessOffline},
		{24 * time.Hour, model.FreshnessOffline},
	}
	for _, tt := range tests {
		if got := FreshnessOf(tt.age); got != tt.want {
			t.Errorf("FreshnessOf(%v) = %s, want %s", tt.age, got, tt.want)
		}
	}
}

func TestTrackingStatusOf(t *testing.T) {
	for status, want := range map[string]model.TrackingStatus{
		"moving":  model.TrackingMoving,
		"stopped": model.TrackingStopped,
		"":        model.TrackingStopped,
		"idle":    model.TrackingStopped,
	} {
		if got := TrackingStatusOf(status); got != want {
			t.Errorf("TrackingStatusOf(%q) = %s, want %s", status, got, want)
		}
	}
}

func TestEligibility(t *testing.T) {
	now := time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)
	ok := model.VehicleState{DriverID: "d-1", IsActive: true, LastUpdateAt: now.Add(-time.Minute)}

	tests := []struct {
		name       string
		mutate     func(v *model.VehicleState)
		want       Eligibility
		wantReason string
	}{
		{"eligible", func(v *model.VehicleState) {}, Eligibility{true, true, true}, ""},
		{"no driver", func(v *model.VehicleState) { v.DriverID = "" }, Eligibility{false, true, true}, "no driver assigned"},
		{"inactive", func(v *model.VehicleState) { v.IsActive = false }, Eligibility{true, false, true}, "inactive"},
		{"six minutes old", func(v *model.VehicleState) { v.LastUpdateAt = now.Add(-6 * time.Minute) }, Eligibility{true, true, false}, "position not recent"},
		{"four minutes old", func(v *model.VehicleState) { v.LastUpdateAt = now.Add(-4 * time.Minute) }, Eligibility{true, true, true}, ""},
		{"never updated", func(v *model.VehicleState) { v.LastUpdateAt = time.Time{} }, Eligibility{true, true, false}, "position not recent"},
		{"all failed", func(v *model.VehicleState) { *v = model.VehicleState{} }, Eligibility{}, "no driver assigned, inactive, position not recent"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := ok
			tt.mutate(&v)
			got := EligibilityOf(v, now, DefaultRecencyWindow)
			if got != tt.want {
				t.Errorf("EligibilityOf() = %+v, want %+v", got, tt.want)
			}
			if got.Eligible() != (tt.wantReason == "") {
				t.Errorf("Eligible() = %v with reason %q", got.Eligible(), got.Reason())
			}
			if got.Reason() != tt.wantReason {
				t.Errorf("Reason() = %q, want %q", got.Reason(), tt.wantReason)
			}
		})
	}
}
