package fleet

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/transitlive/internal/pkg/metrics"
	"github.com/autopeer-io/transitlive/internal/transit/core"
	"github.com/autopeer-io/transitlive/internal/transit/model"
	"github.com/autopeer-io/transitlive/pkg/log"
)

const (
	DefaultPollInterval = 30 * time.Second
	DefaultTable        = "vehicles"
)

// Config tunes the reconciler. Zero values take the defaults.
type Config struct {
	PollInterval  time.Duration
	RecencyWindow time.Duration
	// Table is the change-event table carrying vehicle rows.
	Table  string
	Filter core.VehicleFilter
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.RecencyWindow <= 0 {
		c.RecencyWindow = DefaultRecencyWindow
	}
	if c.Table == "" {
		c.Table = DefaultTable
	}
	return c
}

// Reconciler holds the canonical vehicleID -> VehicleState map, fed by push
// events and periodic full polls.
type Reconciler struct {
	cfg    Config
	lister core.VehicleLister
	routes core.RouteLookup
	clock  clock.WithTicker
	logger log.Logger

	// pollMu keeps polls from interleaving with each other.
	pollMu sync.Mutex

	mu       sync.RWMutex
	vehicles map[string]model.VehicleState
	// pushedAt is when a push last changed a vehicle, by local clock.
	pushedAt map[string]time.Time
	// tombstones hold the timestamp of an offline or delete event. Poll rows
	// not newer than it are ignored.
	tombstones map[string]time.Time

	loopMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	watchMu  sync.Mutex
	watchers map[chan []model.VehicleView]struct{}
}

func New(cfg Config, lister core.VehicleLister, routes core.RouteLookup, clk clock.WithTicker) *Reconciler {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Reconciler{
		cfg:        cfg.withDefaults(),
		lister:     lister,
		routes:     routes,
		clock:      clk,
		logger:     log.WithName("fleet"),
		vehicles:   make(map[string]model.VehicleState),
		pushedAt:   make(map[string]time.Time),
		tombstones: make(map[string]time.Time),
		watchers:   make(map[chan []model.VehicleView]struct{}),
	}
}

// Handler returns the event handler to subscribe with.
func (r *Reconciler) Handler() core.EventHandler {
	return r.Apply
}

// Run starts polling and blocks until ctx ends.
func (r *Reconciler) Run(ctx context.Context) error {
	r.Start(ctx)
	<-ctx.Done()
	r.Stop()
	return nil
}

// Start polls immediately and then every PollInterval. A running loop is
// stopped first.
func (r *Reconciler) Start(ctx context.Context) {
	r.loopMu.Lock()
	defer r.loopMu.Unlock()
	r.stopLocked()

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.cancel, r.done = cancel, done
	go r.loop(loopCtx, done)
}

// Stop cancels the polling loop and waits for it.
func (r *Reconciler) Stop() {
	r.loopMu.Lock()
	defer r.loopMu.Unlock()
	r.stopLocked()
}

func (r *Reconciler) stopLocked() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
	r.cancel, r.done = nil, nil
}

func (r *Reconciler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := r.clock.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := r.Poll(ctx); err != nil && ctx.Err() == nil {
			r.logger.Warn("Fleet poll failed, keeping current view", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
		}
	}
}

// Refresh is the on-demand poll requested by the UI.
func (r *Reconciler) Refresh(ctx context.Context) error {
	r.logger.Debug("On-demand refresh")
	return r.Poll(ctx)
}

// Poll fetches the full vehicle list and replaces the canonical map with the
// eligible rows. A row never replaces a record with a newer LastUpdateAt, and
// records pushed while the poll ran are kept.
func (r *Reconciler) Poll(ctx context.Context) error {
	r.pollMu.Lock()
	defer r.pollMu.Unlock()

	started := r.clock.Now()
	rows, err := r.lister.ListVehicles(ctx, r.cfg.Filter)
	if err != nil {
		metrics.FleetPollsTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("list vehicles: %w", err)
	}
	now := r.clock.Now()

	r.mu.Lock()
	next := make(map[string]model.VehicleState, len(rows))
	skipped := 0
	for _, row := range rows {
		if row.VehicleID == "" {
			continue
		}
		if tomb, ok := r.tombstones[row.VehicleID]; ok {
			if !row.LastUpdateAt.After(tomb) {
				continue
			}
			delete(r.tombstones, row.VehicleID)
		}
		if cur, ok := r.vehicles[row.VehicleID]; ok && cur.LastUpdateAt.After(row.LastUpdateAt) {
			next[row.VehicleID] = cur
			continue
		}
		state := r.fromRow(row)
		if e := EligibilityOf(state, now, r.cfg.RecencyWindow); !e.Eligible() {
			skipped++
			continue
		}
		next[row.VehicleID] = state
	}

	for id, cur := range r.vehicles {
		if _, ok := next[id]; ok {
			continue
		}
		if at, ok := r.pushedAt[id]; ok && !at.Before(started) {
			next[id] = cur
		}
	}
	r.vehicles = next

	for id := range r.pushedAt {
		if _, ok := next[id]; !ok {
			delete(r.pushedAt, id)
		}
	}
	for id, tomb := range r.tombstones {
		if now.Sub(tomb) > r.cfg.RecencyWindow {
			delete(r.tombstones, id)
		}
	}
	size := len(next)
	r.mu.Unlock()

	metrics.FleetPollsTotal.WithLabelValues("success").Inc()
	metrics.FleetVehicles.Set(float64(size))
	r.logger.Debug("Fleet poll applied", "rows", len(rows), "ineligible", skipped, "vehicles", size)
	r.notify()
	return nil
}

// Apply ingests one change event.
func (r *Reconciler) Apply(ev model.ChangeEvent) {
	if ev.Table != r.cfg.Table || ev.Patch.VehicleID == "" {
		metrics.FleetEventsTotal.WithLabelValues("ignored").Inc()
		return
	}

	p := ev.Patch
	received := ev.ReceivedAt
	if received.IsZero() {
		received = r.clock.Now()
	}
	ts := received
	if p.LastUpdateAt != nil {
		ts = *p.LastUpdateAt
	}

	result := r.apply(ev.Type, p, ts)
	metrics.FleetEventsTotal.WithLabelValues(result).Inc()
	if result == "ignored" {
		return
	}

	r.logger.Debug("Change event applied", "vehicle", p.VehicleID, "type", ev.Type, "result", result)
	r.notify()
}

func (r *Reconciler) apply(typ model.EventType, p model.VehiclePatch, ts time.Time) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := p.VehicleID
	cur, known := r.vehicles[id]

	if typ == model.EventDelete || (p.Status != nil && *p.Status == model.StatusOffline) {
		if tomb, ok := r.tombstones[id]; !ok || ts.After(tomb) {
			r.tombstones[id] = ts
		}
		delete(r.vehicles, id)
		delete(r.pushedAt, id)
		metrics.FleetVehicles.Set(float64(len(r.vehicles)))
		if !known {
			return "ignored"
		}
		return "removed"
	}

	if tomb, ok := r.tombstones[id]; ok {
		if !ts.After(tomb) {
			return "ignored"
		}
		delete(r.tombstones, id)
	}

	if !known {
		state := model.VehicleState{VehicleID: id, LastUpdateAt: ts}
		mergePatch(&state, p)
		state.LastUpdateAt = ts
		state.SourceOfTruth = model.SourcePush
		r.joinRoute(&state)
		r.vehicles[id] = state
		r.pushedAt[id] = r.clock.Now()
		metrics.FleetVehicles.Set(float64(len(r.vehicles)))
		return "synthesized"
	}

	// At-least-once delivery: an older event must not roll the record back.
	if p.LastUpdateAt != nil && p.LastUpdateAt.Before(cur.LastUpdateAt) {
		return "ignored"
	}

	routeBefore := cur.RouteID
	mergePatch(&cur, p)
	if ts.After(cur.LastUpdateAt) {
		cur.LastUpdateAt = ts
	}
	cur.SourceOfTruth = model.SourcePush
	if cur.RouteID != routeBefore || cur.RouteName == "" {
		r.joinRoute(&cur)
	}
	r.vehicles[id] = cur
	r.pushedAt[id] = r.clock.Now()
	return "merged"
}

// mergePatch copies the fields present in p onto s.
func mergePatch(s *model.VehicleState, p model.VehiclePatch) {
	if p.DriverID != nil {
		s.DriverID = *p.DriverID
	}
	if p.RouteID != nil {
		s.RouteID = *p.RouteID
	}
	if p.PlateNumber != nil {
		s.PlateNumber = *p.PlateNumber
	}
	if p.Status != nil {
		s.Status = *p.Status
	}
	if p.IsActive != nil {
		s.IsActive = *p.IsActive
	}
	if p.Latitude != nil {
		s.Latitude = *p.Latitude
	}
	if p.Longitude != nil {
		s.Longitude = *p.Longitude
	}
	if p.OccupancyPercentage != nil {
		s.OccupancyPercentage = *p.OccupancyPercentage
	}
	if p.LastUpdateAt != nil {
		s.LastUpdateAt = *p.LastUpdateAt
	}
}

func (r *Reconciler) fromRow(row model.VehicleRow) model.VehicleState {
	s := model.VehicleState{
		VehicleID:           row.VehicleID,
		DriverID:            row.DriverID,
		RouteID:             row.RouteID,
		PlateNumber:         row.PlateNumber,
		Latitude:            row.Latitude,
		Longitude:           row.Longitude,
		Status:              row.Status,
		IsActive:            row.IsActive,
		OccupancyPercentage: row.OccupancyPercentage,
		LastUpdateAt:        row.LastUpdateAt,
		SourceOfTruth:       model.SourcePoll,
	}
	r.joinRoute(&s)
	return s
}

func (r *Reconciler) joinRoute(s *model.VehicleState) {
	s.RouteName, s.RouteColor = "", ""
	if r.routes == nil || s.RouteID == "" {
		return
	}
	if route, ok := r.routes.Route(s.RouteID); ok {
		s.RouteName, s.RouteColor = route.Name, route.Color
	}
}

// Vehicles returns the canonical view sorted by vehicle id. Eligibility is
// evaluated again at read time, so a vehicle that went quiet drops out
// without waiting for the next poll.
func (r *Reconciler) Vehicles() []model.VehicleView {
	now := r.clock.Now()

	r.mu.RLock()
	out := make([]model.VehicleView, 0, len(r.vehicles))
	for _, v := range r.vehicles {
		if EligibilityOf(v, now, r.cfg.RecencyWindow).Eligible() {
			out = append(out, View(v, now))
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].VehicleID < out[j].VehicleID })
	return out
}

// Vehicle returns one vehicle of the canonical view.
func (r *Reconciler) Vehicle(id string) (model.VehicleView, error) {
	now := r.clock.Now()

	r.mu.RLock()
	v, ok := r.vehicles[id]
	r.mu.RUnlock()

	if !ok {
		return model.VehicleView{}, fmt.Errorf("vehicle %s: %w", id, core.ErrNotFound)
	}
	if e := EligibilityOf(v, now, r.cfg.RecencyWindow); !e.Eligible() {
		return model.VehicleView{}, fmt.Errorf("vehicle %s (%s): %w", id, e.Reason(), core.ErrNotFound)
	}
	return View(v, now), nil
}

// Watch streams the canonical view after every change. Slow readers only
// see the latest view. The channel is closed when ctx ends.
func (r *Reconciler) Watch(ctx context.Context) <-chan []model.VehicleView {
	ch := make(chan []model.VehicleView, 1)
	ch <- r.Vehicles()

	r.watchMu.Lock()
	r.watchers[ch] = struct{}{}
	r.watchMu.Unlock()

	go func() {
		<-ctx.Done()
		r.watchMu.Lock()
		delete(r.watchers, ch)
		r.watchMu.Unlock()
		close(ch)
	}()
	return ch
}

func (r *Reconciler) notify() {
	r.watchMu.Lock()
	defer r.watchMu.Unlock()
	if len(r.watchers) == 0 {
		return
	}

	view := r.Vehicles()
	for ch := range r.watchers {
		select {
		case ch <- view:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- view:
			default:
			}
		}
	}
}
