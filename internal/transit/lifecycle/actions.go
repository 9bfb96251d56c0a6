package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/looplab/fsm"

	fsmutil "github.com/autopeer-io/transitlive/internal/pkg/util/fsm"
	"github.com/autopeer-io/transitlive/internal/pkg/metrics"
	"github.com/autopeer-io/transitlive/internal/transit/core"
	"github.com/autopeer-io/transitlive/internal/transit/model"
)

// actionLeaveState cancels everything the old state started.
func (m *Manager) actionLeaveState(ctx context.Context, e *fsm.Event) error {
	m.stopTimersLocked()
	m.epoch++
	return nil
}

// actionEnterConnecting registers a fresh connection id and opens the
// subscriptions in the background.
func (m *Manager) actionEnterConnecting(ctx context.Context, e *fsm.Event) error {
	id, err := uuid.NewRandom()
	if err != nil {
		m.next = EventDrop
		return fmt.Errorf("generate connection id: %w", err)
	}

	prevID := m.connectionID
	stale := m.handles
	m.handles = nil
	m.connectionID = id.String()

	desired := make([]desiredSubscription, len(m.desired))
	copy(desired, m.desired)

	attemptCtx, cancel := context.WithCancel(m.baseCtx)
	done := make(chan struct{})
	m.attemptCancel, m.attemptDone = cancel, done

	epoch, connID := m.epoch, m.connectionID
	go func() {
		defer close(done)
		m.connect(attemptCtx, epoch, connID, prevID, stale, desired)
	}()
	return nil
}

func (m *Manager) actionEnterConnected(ctx context.Context, e *fsm.Event) error {
	m.attempts = 0
	m.hbFailures = 0
	m.lastError = nil
	m.scheduleHeartbeatLocked()
	return nil
}

// actionEnterReconnecting schedules the next attempt with exponential
// backoff, or gives up after MaxAttempts.
func (m *Manager) actionEnterReconnecting(ctx context.Context, e *fsm.Event) error {
	if m.attempts >= m.cfg.MaxAttempts {
		m.next = EventExhaust
		return nil
	}

	delay := Backoff(m.cfg.BackoffBase, m.cfg.BackoffCap, m.attempts)
	m.attempts++

	epoch := m.epoch
	m.retry = m.clock.AfterFunc(delay, func() { m.onRetry(epoch) })
	m.logger.Info("Reconnect scheduled", "attempt", m.attempts, "delay", delay)
	return nil
}

func (m *Manager) actionEnterFailed(ctx context.Context, e *fsm.Event) error {
	m.logger.Error(core.ErrReconnectExhausted, "Live updates stopped, manual reconnect required", "attempts", m.attempts)
	return nil
}

// actionRecordTransition keeps the history, metrics and watchers current.
func (m *Manager) actionRecordTransition(ctx context.Context, e *fsm.Event) error {
	now := m.clock.Now()
	cause := fsmutil.ArgError(e)
	if cause != nil {
		m.lastError = cause
	}
	m.since = now

	t := model.Transition{From: model.Phase(e.Src), To: model.Phase(e.Dst), Event: e.Event, At: now}
	if cause != nil {
		t.Err = cause.Error()
	}
	m.history = append(m.history, t)
	if over := len(m.history) - m.cfg.HistorySize; over > 0 {
		m.history = append(m.history[:0:0], m.history[over:]...)
	}

	metrics.SetPhase(e.Dst, allPhases)
	metrics.ConnectionTransitionsTotal.WithLabelValues(e.Event).Inc()
	metrics.ReconnectAttempts.Set(float64(m.attempts))

	kv := []any{"from", e.Src, "to", e.Dst, "event", e.Event, "attempt", m.attempts}
	if cause != nil {
		kv = append(kv, "error", cause.Error())
	}
	m.logger.Info("Connection state changed", kv...)

	m.notifyLocked()
	return nil
}

// connect runs one connecting attempt. Once ctx is cancelled it opens
// nothing more, and its outcome is dropped if the manager moved on while it ran.
func (m *Manager) connect(ctx context.Context, epoch uint64, id, prevID string, stale []core.Subscription, desired []desiredSubscription) {
	// Releasing the previous connection finishes even when the attempt is cancelled.
	cleanupCtx := context.WithoutCancel(ctx)
	for _, h := range stale {
		if err := m.call(cleanupCtx, h.Unsubscribe); err != nil {
			m.logger.Debug("Failed to close previous subscription", "table", h.Filter().Table, "error", err)
		}
	}
	if prevID != "" && prevID != id {
		if err := m.call(cleanupCtx, func(ctx context.Context) error { return m.registrar.UnregisterConnection(ctx, prevID) }); err != nil {
			m.logger.Debug("Failed to unregister previous connection", "connectionID", prevID, "error", err)
		}
	}

	md := m.cfg.Metadata
	md.ConnectionID = id
	err := m.call(ctx, func(ctx context.Context) error { return m.registrar.RegisterConnection(ctx, md) })
	registered := err == nil
	if err != nil {
		err = fmt.Errorf("register connection: %w", err)
	}

	var handles []core.Subscription
	if registered {
		for _, d := range desired {
			if cerr := ctx.Err(); cerr != nil {
				err = fmt.Errorf("connect attempt cancelled: %w", cerr)
				break
			}
			var h core.Subscription
			serr := m.call(ctx, func(ctx context.Context) error {
				var err error
				h, err = m.subscriber.Subscribe(ctx, d.filter, d.handler)
				return err
			})
			if serr != nil {
				err = fmt.Errorf("subscribe %s: %w", d.filter.Table, serr)
				break
			}
			handles = append(handles, h)
		}
	}

	m.mu.Lock()
	if epoch != m.epoch {
		m.mu.Unlock()
		m.discard(id, registered, handles)
		return
	}
	// Partial handles are kept so the next attempt closes them first.
	m.handles = handles
	if err != nil {
		m.fireLocked(EventDrop, err)
	} else {
		m.fireLocked(EventUp, nil)
	}
	m.mu.Unlock()
}

// discard releases what a superseded attempt opened, including its
// registration; nothing else unregisters an id whose attempt was in flight.
func (m *Manager) discard(id string, registered bool, handles []core.Subscription) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.CallTimeout)
	defer cancel()

	for _, h := range handles {
		_ = h.Unsubscribe(ctx)
	}
	if registered {
		_ = m.registrar.UnregisterConnection(ctx, id)
	}
	m.logger.Debug("Discarded superseded connect attempt", "connectionID", id)
}

func (m *Manager) onRetry(epoch uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if epoch != m.epoch {
		return
	}
	m.fireLocked(EventRetry, nil)
}

func (m *Manager) scheduleHeartbeatLocked() {
	epoch := m.epoch
	m.heartbeat = m.clock.AfterFunc(m.cfg.HeartbeatInterval, func() { m.beat(epoch) })
}

// beat sends one heartbeat. heartbeatFailureThreshold consecutive failures drop
// the connection.
func (m *Manager) beat(epoch uint64) {
	m.mu.Lock()
	if epoch != m.epoch {
		m.mu.Unlock()
		return
	}
	id, ctx := m.connectionID, m.baseCtx
	m.mu.Unlock()

	var alive bool
	err := m.call(ctx, func(ctx context.Context) error {
		var err error
		alive, err = m.registrar.Heartbeat(ctx, id)
		return err
	})
	if err == nil && !alive {
		err = errors.New("connection not recognized by backend")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if epoch != m.epoch {
		return
	}
	if err == nil {
		m.hbFailures = 0
		m.scheduleHeartbeatLocked()
		return
	}

	m.hbFailures++
	metrics.HeartbeatFailuresTotal.Inc()
	m.logger.Warn("Heartbeat failed", "connectionID", id, "consecutive", m.hbFailures, "error", err)
	if m.hbFailures >= heartbeatFailureThreshold {
		m.fireLocked(EventDrop, fmt.Errorf("heartbeat: %w", err))
		return
	}
	m.scheduleHeartbeatLocked()
}

// call bounds fn with CallTimeout.
func (m *Manager) call(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	defer cancel()
	return fn(ctx)
}
