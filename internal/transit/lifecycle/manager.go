package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"k8s.io/utils/clock"

	fsmutil "github.com/autopeer-io/transitlive/internal/pkg/util/fsm"
	"github.com/autopeer-io/transitlive/internal/pkg/metrics"
	"github.com/autopeer-io/transitlive/internal/transit/core"
	"github.com/autopeer-io/transitlive/internal/transit/model"
	"github.com/autopeer-io/transitlive/pkg/log"
)

// ErrNotRunning is returned by triggers used before Connect or after Teardown.
var ErrNotRunning = errors.New("lifecycle manager not running")

type desiredSubscription struct {
	filter  core.TableFilter
	handler core.EventHandler
}

// Manager owns the single live-update connection of the process.
type Manager struct {
	cfg        Config
	registrar  core.Registrar
	subscriber core.Subscriber
	clock      Clock
	logger     log.Logger

	mu  sync.Mutex
	fsm *fsm.FSM
	// next is an event raised by an enter callback; fireLocked runs it after
	// the current transition completes.
	next string
	// epoch changes on every transition. Timers and connect attempts carry
	// the epoch they were started in and are ignored once it moves on.
	epoch uint64

	baseCtx       context.Context
	running       bool
	attemptCancel context.CancelFunc
	// attemptDone is closed when the latest connect attempt has returned.
	attemptDone chan struct{}
	heartbeat     clock.Timer
	retry         clock.Timer
	hbFailures    int

	attempts     int
	lastError    error
	connectionID string
	since        time.Time
	handles      []core.Subscription
	desired      []desiredSubscription
	history      []model.Transition
	watchers     map[chan model.ConnectionState]struct{}
}

func New(cfg Config, registrar core.Registrar, subscriber core.Subscriber, clk Clock) *Manager {
	if clk == nil {
		clk = clock.RealClock{}
	}
	m := &Manager{
		cfg:        cfg.withDefaults(),
		registrar:  registrar,
		subscriber: subscriber,
		clock:      clk,
		logger:     log.WithName("lifecycle"),
		baseCtx:    context.Background(),
		since:      clk.Now(),
		watchers:   make(map[chan model.ConnectionState]struct{}),
	}
	m.fsm = m.newStateMachine()
	metrics.SetPhase(phaseDisconnected, allPhases)
	return m
}

// AddSubscription declares a subscription opened on every connect.
func (m *Manager) AddSubscription(filter core.TableFilter, handler core.EventHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.desired = append(m.desired, desiredSubscription{filter: filter, handler: handler})
}

// Connect starts the first connection attempt. ctx bounds all background work.
func (m *Manager) Connect(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.baseCtx = ctx
	m.running = true
	m.fireLocked(EventConnect, nil)
}

// Run connects and blocks until ctx ends, then tears the connection down.
func (m *Manager) Run(ctx context.Context) error {
	m.Connect(ctx)
	<-ctx.Done()

	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.CallTimeout)
	defer cancel()
	return m.Teardown(tctx)
}

// OnForeground reconnects immediately unless connected or connecting.
func (m *Manager) OnForeground() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	switch m.fsm.Current() {
	case phaseConnected, phaseConnecting:
		m.logger.Debug("Foreground while live, nothing to do", "phase", m.fsm.Current())
		return
	}
	m.fireLocked(EventForeground, nil)
}

// OnBackground keeps the connection; background does not tear it down.
func (m *Manager) OnBackground() {
	m.logger.Debug("App moved to background, keeping connection", "phase", m.State().Phase)
}

// ForceReconnect starts a fresh attempt from any state but connecting.
func (m *Manager) ForceReconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return ErrNotRunning
	}
	if m.fsm.Current() == phaseConnecting {
		m.logger.Info("Reconnect requested while already connecting")
		return nil
	}
	m.fireLocked(EventForce, nil)
	return nil
}

// ReportSubscriptionFailure drops the connection like a lost heartbeat.
func (m *Manager) ReportSubscriptionFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fsm.Current() != phaseConnected {
		return
	}
	m.fireLocked(EventDrop, fmt.Errorf("subscription: %w", err))
}

// Teardown stops all timers, closes every subscription, unregisters the
// connection and then releases its identifier.
func (m *Manager) Teardown(ctx context.Context) error {
	m.mu.Lock()
	m.running = false
	// An attempt in flight owns its connection id and releases it itself.
	var inflight chan struct{}
	if m.fsm.Current() == phaseConnecting {
		inflight = m.attemptDone
	}
	if m.fsm.Current() != phaseDisconnected {
		m.fireLocked(EventTeardown, nil)
	} else {
		m.stopTimersLocked()
	}
	handles := m.handles
	m.handles = nil
	id := m.connectionID
	m.mu.Unlock()

	var errs []error
	if inflight != nil {
		select {
		case <-inflight:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("wait for connect attempt %s: %w", id, ctx.Err()))
		}
	}
	for _, h := range handles {
		if err := h.Unsubscribe(ctx); err != nil {
			errs = append(errs, fmt.Errorf("unsubscribe %s: %w", h.Filter().Table, err))
		}
	}
	if id != "" && inflight == nil {
		if err := m.registrar.UnregisterConnection(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("unregister %s: %w", id, err))
		}
	}

	m.mu.Lock()
	if m.connectionID == id {
		m.connectionID = ""
	}
	m.mu.Unlock()

	m.logger.Info("Connection torn down", "connectionID", id, "subscriptions", len(handles))
	return errors.Join(errs...)
}

// State returns a copy of the connection state.
func (m *Manager) State() model.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

// Transitions returns the recent transition history, oldest first.
func (m *Manager) Transitions() []model.Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Transition, len(m.history))
	copy(out, m.history)
	return out
}

// Watch streams state snapshots. Slow readers only see the latest one.
// The channel is closed when ctx ends.
func (m *Manager) Watch(ctx context.Context) <-chan model.ConnectionState {
	ch := make(chan model.ConnectionState, 1)

	m.mu.Lock()
	m.watchers[ch] = struct{}{}
	ch <- m.stateLocked()
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.watchers, ch)
		m.mu.Unlock()
		close(ch)
	}()
	return ch
}

func (m *Manager) stateLocked() model.ConnectionState {
	st := model.ConnectionState{
		Phase:        model.Phase(m.fsm.Current()),
		AttemptCount: m.attempts,
		ConnectionID: m.connectionID,
		Since:        m.since,
	}
	if m.lastError != nil {
		st.LastError = m.lastError.Error()
	}
	return st
}

// fireLocked runs event and any follow-up event raised by its callbacks.
func (m *Manager) fireLocked(event string, cause error) {
	for event != "" {
		m.next = ""
		var args []any
		if cause != nil {
			args = append(args, cause)
		}

		err := m.fsm.Event(context.Background(), event, args...)
		switch {
		case err == nil:
		case fsmutil.Ignorable(err):
			m.logger.Debug("Event ignored", "event", event, "phase", m.fsm.Current(), "reason", err)
		default:
			m.logger.Error(err, "Transition callback failed", "event", event, "phase", m.fsm.Current())
		}

		event, cause = m.next, nil
		if event == EventExhaust {
			cause = core.ErrReconnectExhausted
		}
	}
}

func (m *Manager) stopTimersLocked() {
	if m.heartbeat != nil {
		m.heartbeat.Stop()
		m.heartbeat = nil
	}
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
	if m.attemptCancel != nil {
		m.attemptCancel()
		m.attemptCancel = nil
	}
}

func (m *Manager) notifyLocked() {
	st := m.stateLocked()
	for ch := range m.watchers {
		select {
		case ch <- st:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- st:
			default:
			}
		}
	}
}
