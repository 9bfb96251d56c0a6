package hal

import (
	"context"
	"errors"
	"math"
	"time"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/transitlive/internal/transit/core"
	"github.com/autopeer-io/transitlive/internal/transit/model"
)

const earthRadiusMetres = 6371000.0

// Waypoint is one vertex of a simulated route.
type Waypoint struct {
	Latitude  float64 `json:"latitude" mapstructure:"latitude"`
	Longitude float64 `json:"longitude" mapstructure:"longitude"`
}

// Simulator drives along a closed polyline at constant speed. It stands in
// for a receiver on development machines.
type Simulator struct {
	points  []Waypoint
	cumDist []float64
	total   float64
	speed   float64
	start   time.Time
	clock   clock.PassiveClock
}

var _ core.PositionSource = (*Simulator)(nil)

// DemoRoute is a short loop used when no waypoints are configured.
var DemoRoute = []Waypoint{
	{Latitude: 14.5995, Longitude: 120.9842},
	{Latitude: 14.6042, Longitude: 120.9822},
	{Latitude: 14.6091, Longitude: 120.9890},
	{Latitude: 14.6037, Longitude: 120.9941},
}

// NewSimulator walks points at speed metres per second, starting now.
func NewSimulator(points []Waypoint, speed float64, clk clock.PassiveClock) (*Simulator, error) {
	if len(points) < 2 {
		return nil, errors.New("simulator needs at least two waypoints")
	}
	if speed < 0 {
		return nil, errors.New("simulator speed must not be negative")
	}

	s := &Simulator{points: points, speed: speed, start: clk.Now(), clock: clk}
	s.cumDist = make([]float64, len(points)+1)
	for i := range points {
		next := points[(i+1)%len(points)]
		s.cumDist[i+1] = s.cumDist[i] + distance(points[i], next)
	}
	s.total = s.cumDist[len(points)]
	if s.total == 0 {
		return nil, errors.New("simulator waypoints are all identical")
	}
	return s, nil
}

func (s *Simulator) CurrentPosition(ctx context.Context) (model.LocationSample, error) {
	if err := ctx.Err(); err != nil {
		return model.LocationSample{}, err
	}
	now := s.clock.Now()
	travelled := math.Mod(now.Sub(s.start).Seconds()*s.speed, s.total)

	i := 0
	for i < len(s.points)-1 && s.cumDist[i+1] <= travelled {
		i++
	}
	from, to := s.points[i], s.points[(i+1)%len(s.points)]

	frac := 0.0
	if seg := s.cumDist[i+1] - s.cumDist[i]; seg > 0 {
		frac = (travelled - s.cumDist[i]) / seg
	}

	return model.LocationSample{
		Latitude:   from.Latitude + (to.Latitude-from.Latitude)*frac,
		Longitude:  from.Longitude + (to.Longitude-from.Longitude)*frac,
		Accuracy:   5,
		Speed:      s.speed,
		Heading:    bearing(from, to),
		CapturedAt: now,
	}, nil
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

// distance is the haversine great-circle distance in metres.
func distance(a, b Waypoint) float64 {
	dLat := radians(b.Latitude - a.Latitude)
	dLng := radians(b.Longitude - a.Longitude)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(radians(a.Latitude))*math.Cos(radians(b.Latitude))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMetres * math.Asin(math.Sqrt(h))
}

// bearing is the initial course from a to b in degrees clockwise from north.
func bearing(a, b Waypoint) float64 {
	lat1, lat2 := radians(a.Latitude), radians(b.Latitude)
	dLng := radians(b.Longitude - a.Longitude)
	y := math.Sin(dLng) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLng)
	return math.Mod(math.Atan2(y, x)*180/math.Pi+360, 360)
}
