package hal

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/transitlive/internal/transit/core"
	"github.com/autopeer-io/transitlive/internal/transit/model"
	"github.com/autopeer-io/transitlive/pkg/log"
)

// DefaultGpsdAddr is where gpsd listens on a stock install.
const DefaultGpsdAddr = "localhost:2947"

const watchCommand = `?WATCH={"enable":true,"json":true};` + "\n"

// ErrNoFix is returned while the receiver has no 2D or 3D fix.
var ErrNoFix = errors.New("no position fix")

// tpv is the subset of a gpsd TPV report the source reads.
type tpv struct {
	Class string   `json:"class"`
	Mode  int      `json:"mode"`
	Time  string   `json:"time"`
	Lat   *float64 `json:"lat"`
	Lon   *float64 `json:"lon"`
	Speed float64  `json:"speed"`
	Track float64  `json:"track"`
	Epx   float64  `json:"epx"`
	Epy   float64  `json:"epy"`
}

// Gpsd keeps the latest fix reported by a gpsd daemon.
type Gpsd struct {
	addr   string
	maxAge time.Duration
	clock  clock.Clock
	logger log.Logger

	mu     sync.Mutex
	latest model.LocationSample
	seenAt time.Time
}

var _ core.PositionSource = (*Gpsd)(nil)

// NewGpsd returns a source for the daemon at addr. Fixes older than maxAge
// are not served.
func NewGpsd(addr string, maxAge time.Duration, clk clock.Clock) *Gpsd {
	if addr == "" {
		addr = DefaultGpsdAddr
	}
	return &Gpsd{addr: addr, maxAge: maxAge, clock: clk, logger: log.WithName("gpsd")}
}

// CurrentPosition returns the latest fix if it is fresh enough.
func (g *Gpsd) CurrentPosition(ctx context.Context) (model.LocationSample, error) {
	if err := ctx.Err(); err != nil {
		return model.LocationSample{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.seenAt.IsZero() {
		return model.LocationSample{}, ErrNoFix
	}
	if age := g.clock.Since(g.seenAt); g.maxAge > 0 && age > g.maxAge {
		return model.LocationSample{}, fmt.Errorf("%w: last fix %s old", ErrNoFix, age)
	}
	return g.latest, nil
}

// Run reads reports until ctx ends, redialing after retryDelay on failure.
func (g *Gpsd) Run(ctx context.Context, retryDelay time.Duration) error {
	for {
		err := g.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		g.logger.Error(err, "gpsd session ended, retrying", "addr", g.addr, "delay", retryDelay)

		select {
		case <-ctx.Done():
			return nil
		case <-g.clock.After(retryDelay):
		}
	}
}

func (g *Gpsd) session(ctx context.Context) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", g.addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if _, err := conn.Write([]byte(watchCommand)); err != nil {
		return fmt.Errorf("failed to send WATCH: %w", err)
	}
	g.logger.Info("Watching gpsd", "addr", g.addr)
	return g.read(conn)
}

func (g *Gpsd) read(conn net.Conn) error {
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		var report tpv
		if err := json.Unmarshal(scanner.Bytes(), &report); err != nil || report.Class != "TPV" {
			continue
		}
		sample, ok := sampleFromTPV(report)
		if !ok {
			continue
		}
		g.mu.Lock()
		g.latest, g.seenAt = sample, g.clock.Now()
		g.mu.Unlock()
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return errors.New("gpsd closed the connection")
}

func sampleFromTPV(r tpv) (model.LocationSample, bool) {
	if r.Mode < 2 || r.Lat == nil || r.Lon == nil {
		return model.LocationSample{}, false
	}
	s := model.LocationSample{
		Latitude:  *r.Lat,
		Longitude: *r.Lon,
		Accuracy:  math.Max(r.Epx, r.Epy),
		Speed:     r.Speed,
		Heading:   r.Track,
	}
	if ts, err := time.Parse(time.RFC3339Nano, r.Time); err == nil {
		s.CapturedAt = ts
	}
	return s, true
}
