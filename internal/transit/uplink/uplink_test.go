package uplink

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/autopeer-io/transitlive/internal/transit/core"
	"github.com/autopeer-io/transitlive/internal/transit/model"
	"github.com/autopeer-io/transitlive/internal/transit/queue"
)

type fakeSource struct {
	mu   sync.Mutex
	next float64
	err  error
	// override, when set, is returned instead of the incrementing fix.
	override *model.LocationSample
}

func (s *fakeSource) CurrentPosition(ctx context.Context) (model.LocationSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return model.LocationSample{}, s.err
	}
	if s.override != nil {
		return *s.override, nil
	}
	s.next++
	return model.LocationSample{Latitude: s.next, Longitude: 121, Speed: 10}, nil
}

type fakeWriter struct {
	mu          sync.Mutex
	down        bool
	failOn      int // fail the n-th attempt (1-based) transiently; 0 disables
	allInvalid  bool
	invalid     map[string]bool
	delay       time.Duration
	rejectLat   float64 // reject writes at this latitude; 0 disables
	rejectErr   error   // returned for rejected writes; nil answers Success=false
	afterWrite  func(attempt int)
	attempts    int
	writes      []core.LocationWrite
	inflight    int
	maxInflight int
}

func (w *fakeWriter) WriteVehicleLocation(ctx context.Context, lw core.LocationWrite) (core.WriteResult, error) {
	w.mu.Lock()
	w.inflight++
	if w.inflight > w.maxInflight {
		w.maxInflight = w.inflight
	}
	delay := w.delay
	w.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.inflight--
	w.attempts++
	if w.afterWrite != nil {
		defer w.afterWrite(w.attempts)
	}

	if w.down || w.attempts == w.failOn {
		return core.WriteResult{}, fmt.Errorf("%w: network down", core.ErrTransient)
	}
	if w.allInvalid || w.invalid[lw.SessionID] {
		return core.WriteResult{Message: "SESSION_INVALID"}, core.ErrSessionInvalid
	}
	if w.rejectLat != 0 && lw.Latitude == w.rejectLat && !lw.Clear {
		if w.rejectErr != nil {
			return core.WriteResult{}, w.rejectErr
		}
		return core.WriteResult{Message: "VEHICLE_NOT_ASSIGNED"}, nil
	}
	w.writes = append(w.writes, lw)
	return core.WriteResult{Success: true}, nil
}

func (w *fakeWriter) setDown(down bool) {
	w.mu.Lock()
	w.down = down
	w.mu.Unlock()
}

func (w *fakeWriter) latitudes() []float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []float64
	for _, lw := range w.writes {
		if !lw.Clear {
			out = append(out, lw.Latitude)
		}
	}
	return out
}

type fakeSessions struct {
	mu         sync.Mutex
	seq        int
	refreshes  int
	refreshErr error
	ended      []string
}

func (s *fakeSessions) StartSession(ctx context.Context, driverID, vehicleID, routeID string) (model.TripSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return model.TripSession{SessionID: fmt.Sprintf("s-%d", s.seq), DriverID: driverID, VehicleID: vehicleID, RouteID: routeID, Status: model.SessionActive}, nil
}

func (s *fakeSessions) RefreshSession(ctx context.Context, driverID, vehicleID string) (model.TripSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshes++
	if s.refreshErr != nil {
		return model.TripSession{}, s.refreshErr
	}
	s.seq++
	return model.TripSession{SessionID: fmt.Sprintf("s-%d", s.seq), DriverID: driverID, VehicleID: vehicleID, Status: model.SessionActive}, nil
}

func (s *fakeSessions) EndSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = append(s.ended, sessionID)
	return nil
}

type harness struct {
	u        *Uplink
	source   *fakeSource
	writer   *fakeWriter
	sessions *fakeSessions
	queue    queue.Queue
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		source:   &fakeSource{},
		writer:   &fakeWriter{invalid: map[string]bool{}},
		sessions: &fakeSessions{},
		queue:    queue.NewMemoryQueue(),
	}
	clk := testingclock.NewFakeClock(time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC))
	h.u = New(Config{}, h.source, h.writer, h.sessions, h.queue, clk)

	// Activate the trip without the tick loop so tests drive Tick themselves.
	sess, _ := h.sessions.StartSession(context.Background(), "d-1", "bus-7", "r-1")
	h.u.mu.Lock()
	h.u.session = &sess
	h.u.tracking = true
	h.u.queueing = true
	h.u.mu.Unlock()
	return h
}

func (h *harness) depth(t *testing.T) int {
	t.Helper()
	n, err := h.queue.Len()
	if err != nil {
		t.Fatalf("Len() error = %v", err)
	}
	return n
}

func TestOfflineTicksThenRestore(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.writer.setDown(true)
	for i := 0; i < 5; i++ {
		if err := h.u.Tick(ctx); err != nil {
			t.Fatalf("Tick() error = %v", err)
		}
	}
	if got := h.depth(t); got != 5 {
		t.Fatalf("queued = %d, want 5", got)
	}
	if got := len(h.writer.latitudes()); got != 0 {
		t.Fatalf("delivered = %d, want 0", got)
	}

	h.writer.setDown(false)
	n, err := h.u.DrainQueue(ctx)
	if err != nil {
		t.Fatalf("DrainQueue() error = %v", err)
	}
	if n != 5 {
		t.Errorf("DrainQueue() delivered %d, want 5", n)
	}
	if got := h.depth(t); got != 0 {
		t.Errorf("queue depth = %d, want 0", got)
	}
	if diff := cmp.Diff([]float64{1, 2, 3, 4, 5}, h.writer.latitudes()); diff != "" {
		t.Errorf("delivery order (-want +got):\n%s", diff)
	}

	st := h.u.Status()
	if st.Delivered != 5 || st.Queued != 5 {
		t.Errorf("Status() delivered=%d queued=%d, want 5/5", st.Delivered, st.Queued)
	}
}

func TestTickAfterOutageKeepsOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.writer.setDown(true)
	for i := 0; i < 3; i++ {
		_ = h.u.Tick(ctx)
	}
	h.writer.setDown(false)

	// The next fix goes out after the backlog, never ahead of it.
	if err := h.u.Tick(ctx); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if diff := cmp.Diff([]float64{1, 2, 3, 4}, h.writer.latitudes()); diff != "" {
		t.Errorf("delivery order (-want +got):\n%s", diff)
	}
	if got := h.depth(t); got != 0 {
		t.Errorf("queue depth = %d, want 0", got)
	}
}

func TestDrainStopsAtFirstFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.writer.setDown(true)
	for i := 0; i < 3; i++ {
		_ = h.u.Tick(ctx)
	}

	h.writer.mu.Lock()
	h.writer.down = false
	h.writer.failOn = h.writer.attempts + 2
	h.writer.mu.Unlock()

	n, err := h.u.DrainQueue(ctx)
	if !errors.Is(err, core.ErrTransient) {
		t.Fatalf("DrainQueue() error = %v, want transient", err)
	}
	if n != 1 {
		t.Errorf("delivered = %d, want 1", n)
	}
	if got := h.depth(t); got != 2 {
		t.Errorf("queue depth = %d, want 2", got)
	}

	// The failed task is back at the head.
	head, _, _ := h.queue.Pop()
	if head.Sample.Latitude != 2 {
		t.Errorf("head latitude = %v, want 2", head.Sample.Latitude)
	}
}

func TestDrainStopsWhenCancelled(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.writer.setDown(true)
	for i := 0; i < 40; i++ {
		_ = h.u.Tick(ctx)
	}
	h.writer.mu.Lock()
	h.writer.down = false
	// Cancel while the second queued write is in flight.
	stopAt := h.writer.attempts + 2
	h.writer.afterWrite = func(attempt int) {
		if attempt == stopAt {
			cancel()
		}
	}
	h.writer.mu.Unlock()

	n, err := h.u.DrainQueue(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("DrainQueue() error = %v, want context.Canceled", err)
	}
	// The in-flight write completes; nothing after it is sent.
	if n != 2 {
		t.Errorf("delivered = %d, want 2", n)
	}
	if diff := cmp.Diff([]float64{1, 2}, h.writer.latitudes()); diff != "" {
		t.Errorf("delivered (-want +got):\n%s", diff)
	}
	if got := h.depth(t); got != 38 {
		t.Errorf("queue depth = %d, want 38", got)
	}
	head, _, _ := h.queue.Pop()
	if head.Sample.Latitude != 3 {
		t.Errorf("head latitude = %v, want 3", head.Sample.Latitude)
	}
}

func TestRejectedWritesAreDropped(t *testing.T) {
	tests := []struct {
		name      string
		rejectErr error
	}{
		{name: "unsuccessful result"},
		{name: "rejected call", rejectErr: fmt.Errorf("WriteVehicleLocation: %w: InvalidArgument: bad heading", core.ErrRejected)},
	}

	for _, tt := range tests {
		t.Run(tt.name+" while online", func(t *testing.T) {
			h := newHarness(t)
			h.writer.rejectLat, h.writer.rejectErr = 2, tt.rejectErr

			for i := 0; i < 10; i++ {
				if err := h.u.Tick(context.Background()); err != nil {
					t.Fatalf("Tick() error = %v", err)
				}
			}
			if diff := cmp.Diff([]float64{1, 3, 4, 5, 6, 7, 8, 9, 10}, h.writer.latitudes()); diff != "" {
				t.Errorf("delivered (-want +got):\n%s", diff)
			}
			if got := h.depth(t); got != 0 {
				t.Errorf("queue depth = %d, want 0", got)
			}
			if st := h.u.Status(); st.Rejected != 1 || st.Queued != 0 || !st.Tracking {
				t.Errorf("Status() = %+v, want one rejected, none queued, still tracking", st)
			}
		})

		t.Run(tt.name+" from the queue", func(t *testing.T) {
			h := newHarness(t)
			h.writer.rejectLat, h.writer.rejectErr = 2, tt.rejectErr

			h.writer.setDown(true)
			for i := 0; i < 4; i++ {
				_ = h.u.Tick(context.Background())
			}
			h.writer.setDown(false)

			n, err := h.u.DrainQueue(context.Background())
			if err != nil {
				t.Fatalf("DrainQueue() error = %v", err)
			}
			if n != 3 {
				t.Errorf("delivered = %d, want 3", n)
			}
			if diff := cmp.Diff([]float64{1, 3, 4}, h.writer.latitudes()); diff != "" {
				t.Errorf("delivered (-want +got):\n%s", diff)
			}
			if got := h.depth(t); got != 0 {
				t.Errorf("queue depth = %d, want 0", got)
			}
		})
	}
}

func TestStartTrackingPrunesAliases(t *testing.T) {
	h := newHarness(t)
	h.u.mu.Lock()
	h.u.aliases["s-0"] = "s-1"
	h.u.mu.Unlock()

	if _, err := h.u.StartTracking(context.Background(), "d-1", "bus-7", "r-1"); err != nil {
		t.Fatalf("StartTracking() error = %v", err)
	}
	defer h.u.stopLoop()

	h.u.mu.Lock()
	n := len(h.u.aliases)
	h.u.mu.Unlock()
	if n != 0 {
		t.Errorf("aliases = %d after a trip with an empty queue, want 0", n)
	}
}

func TestStartTrackingKeepsAliasesOfQueuedTasks(t *testing.T) {
	q := queue.NewMemoryQueue()
	_, _ = q.Push(model.UplinkTask{
		Sample:    model.LocationSample{Latitude: 1, Longitude: 121},
		SessionID: "s-old", VehicleID: "bus-7", DriverID: "d-1",
	})
	writer := &fakeWriter{invalid: map[string]bool{}}
	clk := testingclock.NewFakeClock(time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC))
	u := New(Config{}, &fakeSource{}, writer, &fakeSessions{}, q, clk)
	u.aliases["s-old"] = "s-refreshed"

	if _, err := u.StartTracking(context.Background(), "d-1", "bus-7", "r-1"); err != nil {
		t.Fatalf("StartTracking() error = %v", err)
	}
	defer u.stopLoop()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if n, _ := q.Len(); n == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("queued task was not drained")
		}
		time.Sleep(5 * time.Millisecond)
	}

	writer.mu.Lock()
	defer writer.mu.Unlock()
	if len(writer.writes) != 1 || writer.writes[0].SessionID != "s-refreshed" {
		t.Errorf("writes = %+v, want one write under s-refreshed", writer.writes)
	}
}

func TestSendRefreshesSessionOnce(t *testing.T) {
	h := newHarness(t)
	h.writer.invalid["s-1"] = true

	task := model.UplinkTask{
		Sample:    model.LocationSample{Latitude: 14.6, Longitude: 121},
		SessionID: "s-1", VehicleID: "bus-7", DriverID: "d-1",
	}
	if err := h.u.Send(context.Background(), task); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if h.sessions.refreshes != 1 {
		t.Errorf("refreshes = %d, want 1", h.sessions.refreshes)
	}
	if got := h.writer.writes[0].SessionID; got != "s-2" {
		t.Errorf("written session = %s, want s-2", got)
	}
	st := h.u.Status()
	if !st.Tracking || st.Session.SessionID != "s-2" {
		t.Errorf("Status() = %+v, want tracking under s-2", st)
	}
}

func TestSendSecondSessionFailureIsFatal(t *testing.T) {
	h := newHarness(t)
	h.writer.allInvalid = true

	task := model.UplinkTask{
		Sample:    model.LocationSample{Latitude: 14.6, Longitude: 121},
		SessionID: "s-1", VehicleID: "bus-7", DriverID: "d-1",
	}
	err := h.u.Send(context.Background(), task)
	if !errors.Is(err, core.ErrTripFatal) {
		t.Fatalf("Send() error = %v, want ErrTripFatal", err)
	}
	if h.sessions.refreshes != 1 {
		t.Errorf("refreshes = %d, want exactly 1", h.sessions.refreshes)
	}
	if h.writer.attempts != 2 {
		t.Errorf("write attempts = %d, want 2", h.writer.attempts)
	}
	if got := h.depth(t); got != 0 {
		t.Errorf("fatal task was queued, depth = %d", got)
	}
	st := h.u.Status()
	if st.Tracking || st.LastFatal == "" {
		t.Errorf("Status() = %+v, want stopped with a fatal error", st)
	}
	if err := h.u.Tick(context.Background()); !errors.Is(err, core.ErrNotTracking) {
		t.Errorf("Tick() after fatal = %v, want ErrNotTracking", err)
	}
}

func TestRefreshFailureIsFatal(t *testing.T) {
	h := newHarness(t)
	h.writer.allInvalid = true
	h.sessions.refreshErr = errors.New("driver unassigned")

	err := h.u.Tick(context.Background())
	if !errors.Is(err, core.ErrTripFatal) {
		t.Fatalf("Tick() error = %v, want ErrTripFatal", err)
	}
	if h.writer.attempts != 1 {
		t.Errorf("write attempts = %d, want 1", h.writer.attempts)
	}
}

func TestTickSkipsAndDrops(t *testing.T) {
	nan := math.NaN()
	tests := []struct {
		name       string
		sourceErr  error
		sample     *model.LocationSample
		wantWrites int
		wantClear  bool
	}{
		{name: "capture timeout skips", sourceErr: context.DeadlineExceeded},
		{name: "one null coordinate is dropped", sample: &model.LocationSample{Latitude: nan, Longitude: 121}},
		{name: "both null clears", sample: &model.LocationSample{Latitude: nan, Longitude: nan}, wantWrites: 1, wantClear: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.source.err = tt.sourceErr
			h.source.override = tt.sample

			if err := h.u.Tick(context.Background()); err != nil {
				t.Fatalf("Tick() error = %v", err)
			}
			if got := len(h.writer.writes); got != tt.wantWrites {
				t.Fatalf("writes = %d, want %d", got, tt.wantWrites)
			}
			if tt.wantClear && !h.writer.writes[0].Clear {
				t.Errorf("write is not a clear request: %+v", h.writer.writes[0])
			}
			if got := h.depth(t); got != 0 {
				t.Errorf("queue depth = %d, want 0", got)
			}
		})
	}
}

func TestClearIsNeverQueued(t *testing.T) {
	h := newHarness(t)
	h.writer.setDown(true)
	nan := math.NaN()
	h.source.override = &model.LocationSample{Latitude: nan, Longitude: nan}

	if err := h.u.Tick(context.Background()); !errors.Is(err, core.ErrTransient) {
		t.Fatalf("Tick() error = %v, want transient", err)
	}
	if got := h.depth(t); got != 0 {
		t.Errorf("queue depth = %d, want 0", got)
	}
}

func TestStopTracking(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.u.StopTracking(ctx); err != nil {
		t.Fatalf("StopTracking() error = %v", err)
	}
	if len(h.writer.writes) != 1 || !h.writer.writes[0].Clear {
		t.Errorf("writes = %+v, want one clear request", h.writer.writes)
	}
	if diff := cmp.Diff([]string{"s-1"}, h.sessions.ended); diff != "" {
		t.Errorf("ended sessions (-want +got):\n%s", diff)
	}

	// Queueing is off: a late transient failure is dropped.
	h.writer.setDown(true)
	task := model.UplinkTask{Sample: model.LocationSample{Latitude: 1, Longitude: 1}, SessionID: "s-1", VehicleID: "bus-7"}
	if err := h.u.Send(ctx, task); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if got := h.depth(t); got != 0 {
		t.Errorf("queue depth = %d, want 0", got)
	}
	if st := h.u.Status(); st.Dropped != 1 || st.Queueing {
		t.Errorf("Status() = %+v, want one dropped and queueing off", st)
	}

	if err := h.u.StopTracking(ctx); !errors.Is(err, core.ErrNotTracking) {
		t.Errorf("second StopTracking() = %v, want ErrNotTracking", err)
	}
}

func TestAtMostOneWriteInFlight(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.writer.setDown(true)
	for i := 0; i < 4; i++ {
		_ = h.u.Tick(ctx)
	}
	h.writer.mu.Lock()
	h.writer.down = false
	h.writer.delay = 5 * time.Millisecond
	h.writer.mu.Unlock()

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = h.u.DrainQueue(ctx)
		}()
		go func() {
			defer wg.Done()
			_ = h.u.Tick(ctx)
		}()
	}
	wg.Wait()

	if h.writer.maxInflight != 1 {
		t.Errorf("max concurrent writes = %d, want 1", h.writer.maxInflight)
	}
	if got := len(h.writer.latitudes()); got != 7 {
		t.Errorf("delivered = %d, want 7", got)
	}
	seen := map[float64]bool{}
	for _, lat := range h.writer.latitudes() {
		if seen[lat] {
			t.Errorf("duplicate delivery of %v", lat)
		}
		seen[lat] = true
	}
}

func TestStartTrackingDrainsLeftovers(t *testing.T) {
	q := queue.NewMemoryQueue()
	for i := 1; i <= 3; i++ {
		_, _ = q.Push(model.UplinkTask{
			Sample:    model.LocationSample{Latitude: float64(i), Longitude: 121},
			SessionID: "s-old", VehicleID: "bus-7", DriverID: "d-1",
		})
	}
	writer := &fakeWriter{invalid: map[string]bool{}}
	clk := testingclock.NewFakeClock(time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC))
	u := New(Config{}, &fakeSource{}, writer, &fakeSessions{}, q, clk)
	defer u.stopLoop()

	sess, err := u.StartTracking(context.Background(), "d-1", "bus-7", "r-1")
	if err != nil {
		t.Fatalf("StartTracking() error = %v", err)
	}
	if sess.SessionID != "s-1" {
		t.Errorf("session = %s, want s-1", sess.SessionID)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if n, _ := q.Len(); n == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("leftover queue was not drained")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if diff := cmp.Diff([]float64{1, 2, 3}, writer.latitudes()); diff != "" {
		t.Errorf("delivery order (-want +got):\n%s", diff)
	}
}
