package uplink

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/transitlive/internal/pkg/metrics"
	"github.com/autopeer-io/transitlive/internal/transit/core"
	"github.com/autopeer-io/transitlive/internal/transit/model"
	"github.com/autopeer-io/transitlive/internal/transit/queue"
	"github.com/autopeer-io/transitlive/pkg/log"
)

// Status is a snapshot of the uplink for diagnostics.
type Status struct {
	Tracking   bool               `json:"tracking"`
	Queueing   bool               `json:"queueing"`
	Session    *model.TripSession `json:"session,omitempty"`
	QueueDepth int                `json:"queueDepth"`
	Delivered  uint64             `json:"delivered"`
	Queued     uint64             `json:"queued"`
	Dropped    uint64             `json:"dropped"`
	Rejected   uint64             `json:"rejected"`
	LastFatal  string             `json:"lastFatal,omitempty"`
}

// Uplink turns position fixes from one driver device into delivered
// vehicle-location writes.
type Uplink struct {
	cfg      Config
	source   core.PositionSource
	writer   core.LocationWriter
	sessions core.SessionService
	queue    queue.Queue
	clock    clock.WithTicker
	logger   log.Logger

	// flight is held for every write and every drain, so at most one write
	// is outstanding and queued tasks go out in order.
	flight sync.Mutex

	mu        sync.Mutex
	baseCtx   context.Context
	session   *model.TripSession
	aliases   map[string]string
	tracking  bool
	queueing  bool
	cancel    context.CancelFunc
	loopDone  chan struct{}
	delivered uint64
	queued    uint64
	dropped   uint64
	rejected  uint64
	lastFatal error
}

func New(cfg Config, source core.PositionSource, writer core.LocationWriter, sessions core.SessionService, q queue.Queue, clk clock.WithTicker) *Uplink {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Uplink{
		cfg:      cfg.withDefaults(),
		source:   source,
		writer:   writer,
		sessions: sessions,
		queue:    q,
		clock:    clk,
		logger:   log.WithName("uplink"),
		baseCtx:  context.Background(),
		aliases:  make(map[string]string),
	}
}

// Run binds the tick loop to ctx and blocks until ctx ends. The trip is not
// ended on shutdown: queued tasks stay on disk for the next process.
func (u *Uplink) Run(ctx context.Context) error {
	u.mu.Lock()
	u.baseCtx = ctx
	u.mu.Unlock()

	<-ctx.Done()
	u.stopLoop()
	u.logger.Info("Uplink stopped")
	return nil
}

// StartTracking opens a trip session and starts the capture loop. A running
// loop is cancelled first.
func (u *Uplink) StartTracking(ctx context.Context, driverID, vehicleID, routeID string) (model.TripSession, error) {
	u.stopLoop()

	sess, err := u.sessions.StartSession(ctx, driverID, vehicleID, routeID)
	if err != nil {
		return model.TripSession{}, fmt.Errorf("start trip session: %w", err)
	}

	// Aliases only serve queued tasks of earlier sessions.
	pending, _ := u.queue.Len()

	u.mu.Lock()
	if pending == 0 {
		clear(u.aliases)
	}
	prev := u.session
	u.session = &sess
	u.tracking = true
	u.queueing = true
	u.lastFatal = nil
	loopCtx, cancel := context.WithCancel(u.baseCtx)
	done := make(chan struct{})
	u.cancel, u.loopDone = cancel, done
	u.mu.Unlock()

	if prev != nil && prev.SessionID != sess.SessionID {
		if err := u.sessions.EndSession(ctx, prev.SessionID); err != nil {
			u.logger.Warn("Failed to end previous trip session", "session", prev.SessionID, "error", err)
		}
	}

	u.logger.Info("Tracking started", "session", sess.SessionID, "vehicle", vehicleID, "driver", driverID, "route", routeID)
	go u.loop(loopCtx, done)
	return sess, nil
}

// StopTracking cancels the capture loop, turns queueing off, clears the
// vehicle position and ends the session. An in-flight write completes.
func (u *Uplink) StopTracking(ctx context.Context) error {
	u.mu.Lock()
	if !u.tracking {
		u.mu.Unlock()
		return core.ErrNotTracking
	}
	u.queueing = false
	sess := u.session
	u.mu.Unlock()

	u.stopLoop()

	u.mu.Lock()
	u.tracking = false
	u.session = nil
	u.mu.Unlock()

	var errs []error
	u.flight.Lock()
	err := u.writeClear(ctx, *sess)
	u.flight.Unlock()
	if err != nil {
		errs = append(errs, fmt.Errorf("clear location: %w", err))
	}
	if err := u.sessions.EndSession(ctx, sess.SessionID); err != nil {
		errs = append(errs, fmt.Errorf("end trip session: %w", err))
	}

	u.logger.Info("Tracking stopped", "session", sess.SessionID)
	return errors.Join(errs...)
}

// OnForeground drains the offline queue; connectivity may have returned.
func (u *Uplink) OnForeground(ctx context.Context) {
	n, err := u.DrainQueue(ctx)
	if err != nil {
		u.logger.Debug("Foreground drain stopped", "delivered", n, "error", err)
		return
	}
	if n > 0 {
		u.logger.Info("Foreground drain delivered queued tasks", "delivered", n)
	}
}

// Status returns a snapshot of the uplink.
func (u *Uplink) Status() Status {
	depth, _ := u.queue.Len()

	u.mu.Lock()
	defer u.mu.Unlock()
	st := Status{
		Tracking:   u.tracking,
		Queueing:   u.queueing,
		QueueDepth: depth,
		Delivered:  u.delivered,
		Queued:     u.queued,
		Dropped:    u.dropped,
		Rejected:   u.rejected,
	}
	if u.session != nil {
		s := *u.session
		st.Session = &s
	}
	if u.lastFatal != nil {
		st.LastFatal = u.lastFatal.Error()
	}
	return st
}

func (u *Uplink) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	if _, err := u.DrainQueue(ctx); err != nil && !errors.Is(err, core.ErrTripFatal) {
		u.logger.Debug("Startup drain stopped", "error", err)
	}

	ticker := u.clock.NewTicker(u.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			if err := u.Tick(ctx); errors.Is(err, core.ErrTripFatal) {
				u.logger.Error(err, "Trip stopped, restart required")
				return
			}
		}
	}
}

// stopLoop cancels the capture loop and waits for it to return.
func (u *Uplink) stopLoop() {
	u.mu.Lock()
	cancel, done := u.cancel, u.loopDone
	u.cancel, u.loopDone = nil, nil
	u.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// halt ends tracking after a fatal session failure without touching the
// backend: the session can no longer be written to.
func (u *Uplink) halt(cause error) error {
	err := fmt.Errorf("%w: %w", core.ErrTripFatal, cause)

	u.mu.Lock()
	u.tracking = false
	u.queueing = false
	u.session = nil
	u.lastFatal = err
	if u.cancel != nil {
		u.cancel()
	}
	u.mu.Unlock()

	metrics.UplinkWritesTotal.WithLabelValues("fatal").Inc()
	return err
}

func (u *Uplink) activeSession() (model.TripSession, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.tracking || u.session == nil {
		return model.TripSession{}, false
	}
	return *u.session, true
}

func (u *Uplink) count(field *uint64, result string) {
	u.mu.Lock()
	*field++
	u.mu.Unlock()
	metrics.UplinkWritesTotal.WithLabelValues(result).Inc()
}

func (u *Uplink) updateDepth() {
	if n, err := u.queue.Len(); err == nil {
		metrics.QueueDepth.Set(float64(n))
	}
}
