package uplink

import (
	"context"
	"errors"
	"fmt"

	"github.com/autopeer-io/transitlive/internal/pkg/metrics"
	"github.com/autopeer-io/transitlive/internal/transit/core"
	"github.com/autopeer-io/transitlive/internal/transit/model"
)

// sendState is the state of one delivery. A session-invalid reply moves
// normalSend to refreshAndRetry; refreshAndRetry has no way back.
type sendState int

const (
	normalSend sendState = iota
	refreshAndRetry
)

// Tick captures one position fix and sends it. Capture failures skip the tick.
func (u *Uplink) Tick(ctx context.Context) error {
	sess, ok := u.activeSession()
	if !ok {
		return core.ErrNotTracking
	}

	captureCtx, cancel := context.WithTimeout(ctx, u.cfg.CaptureTimeout)
	sample, err := u.source.CurrentPosition(captureCtx)
	cancel()
	if err != nil {
		metrics.UplinkSamplesTotal.WithLabelValues("skipped").Inc()
		u.logger.Debug("Position capture skipped", "error", err)
		return nil
	}
	if sample.CapturedAt.IsZero() {
		sample.CapturedAt = u.clock.Now()
	}

	switch sample.Classify() {
	case model.SampleMalformed:
		metrics.UplinkSamplesTotal.WithLabelValues("malformed").Inc()
		u.logger.Debug("Dropping malformed sample", "lat", sample.Latitude, "lng", sample.Longitude)
		return nil
	case model.SampleClear:
		metrics.UplinkSamplesTotal.WithLabelValues("clear").Inc()
		u.flight.Lock()
		defer u.flight.Unlock()
		return u.writeClear(ctx, sess)
	}
	metrics.UplinkSamplesTotal.WithLabelValues("captured").Inc()

	task := model.UplinkTask{
		Sample:    sample,
		SessionID: sess.SessionID,
		VehicleID: sess.VehicleID,
		DriverID:  sess.DriverID,
	}

	u.flight.Lock()
	defer u.flight.Unlock()

	// A fresh fix must not overtake older queued ones.
	if depth, _ := u.queue.Len(); depth > 0 {
		if _, err := u.drainLocked(ctx); err != nil {
			if errors.Is(err, core.ErrTripFatal) {
				return err
			}
			return u.enqueue(task)
		}
	}
	return u.sendLocked(ctx, task)
}

// Send delivers task. A transient failure queues the task and returns nil;
// a second session failure stops tracking and returns ErrTripFatal.
func (u *Uplink) Send(ctx context.Context, task model.UplinkTask) error {
	u.flight.Lock()
	defer u.flight.Unlock()
	return u.sendLocked(ctx, task)
}

func (u *Uplink) sendLocked(ctx context.Context, task model.UplinkTask) error {
	switch task.Sample.Classify() {
	case model.SampleMalformed:
		return core.ErrMalformedSample
	case model.SampleClear:
		return u.writeClear(ctx, model.TripSession{SessionID: task.SessionID, VehicleID: task.VehicleID, DriverID: task.DriverID})
	}

	err := u.deliver(ctx, &task)
	switch {
	case err == nil:
		u.count(&u.delivered, "delivered")
	case errors.Is(err, core.ErrTripFatal):
		return err
	case !retryable(err):
		u.reject(task, err)
		return nil
	default:
		u.logger.Debug("Write failed", "vehicle", task.VehicleID, "error", err)
		return u.enqueue(task)
	}

	if depth, _ := u.queue.Len(); depth > 0 {
		if _, err := u.drainLocked(ctx); errors.Is(err, core.ErrTripFatal) {
			return err
		}
	}
	return nil
}

// DrainQueue sends queued tasks oldest first and stops at the first transient
// failure or when ctx ends. Tasks the backend rejects are dropped. It returns
// the number of tasks delivered.
func (u *Uplink) DrainQueue(ctx context.Context) (int, error) {
	u.flight.Lock()
	defer u.flight.Unlock()
	return u.drainLocked(ctx)
}

func (u *Uplink) drainLocked(ctx context.Context) (int, error) {
	defer u.updateDepth()

	delivered := 0
	for {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}

		task, ok, err := u.queue.Pop()
		if err != nil {
			return delivered, fmt.Errorf("drain: %w", err)
		}
		if !ok {
			return delivered, nil
		}

		err = u.deliver(ctx, &task)
		switch {
		case err == nil:
			delivered++
			u.count(&u.delivered, "delivered")
		case errors.Is(err, core.ErrTripFatal):
			return delivered, err
		case !retryable(err):
			u.reject(task, err)
		default:
			task.Attempts++
			if qerr := u.queue.Requeue(task); qerr != nil {
				u.logger.Error(qerr, "Failed to requeue task, dropping it", "seq", task.Seq)
				u.count(&u.dropped, "dropped")
			}
			return delivered, err
		}
	}
}

// deliver writes task, refreshing the session once if the backend rejects it.
func (u *Uplink) deliver(ctx context.Context, task *model.UplinkTask) error {
	task.SessionID = u.resolveSession(task.SessionID)

	state := normalSend
	for {
		err := u.write(ctx, *task)
		switch {
		case err == nil:
			return nil
		case state == normalSend && core.IsSessionInvalid(err):
			u.logger.Info("Trip session rejected, refreshing", "session", task.SessionID, "vehicle", task.VehicleID)
			sess, rerr := u.refreshSession(ctx, task)
			if rerr != nil {
				return u.halt(fmt.Errorf("refresh session: %w", rerr))
			}
			task.SessionID = sess.SessionID
			state = refreshAndRetry
			metrics.UplinkWritesTotal.WithLabelValues("refreshed").Inc()
		case state == refreshAndRetry:
			return u.halt(fmt.Errorf("retry after session refresh: %w", err))
		default:
			return err
		}
	}
}

// retryable reports whether a failed write may succeed later. Only those
// failures are queued.
func retryable(err error) bool {
	return errors.Is(err, core.ErrTransient) || errors.Is(err, context.DeadlineExceeded)
}

// reject drops a task the backend refused.
func (u *Uplink) reject(task model.UplinkTask, err error) {
	u.count(&u.rejected, "rejected")
	u.logger.Warn("Location write rejected, dropping it", "vehicle", task.VehicleID, "attempts", task.Attempts, "error", err)
}

func (u *Uplink) enqueue(task model.UplinkTask) error {
	u.mu.Lock()
	queueing := u.queueing
	u.mu.Unlock()

	if !queueing {
		u.count(&u.dropped, "dropped")
		u.logger.Debug("Queueing is off, dropping task", "vehicle", task.VehicleID)
		return nil
	}

	task.Attempts++
	if _, err := u.queue.Push(task); err != nil {
		u.count(&u.dropped, "dropped")
		u.logger.Error(err, "Failed to queue task", "vehicle", task.VehicleID)
		return nil
	}
	u.count(&u.queued, "queued")
	u.updateDepth()
	return nil
}

func (u *Uplink) refreshSession(ctx context.Context, task *model.UplinkTask) (model.TripSession, error) {
	sess, err := u.sessions.RefreshSession(ctx, task.DriverID, task.VehicleID)
	if err != nil {
		return model.TripSession{}, err
	}

	u.mu.Lock()
	u.aliases[task.SessionID] = sess.SessionID
	if u.session != nil && u.session.VehicleID == sess.VehicleID {
		old := u.session.SessionID
		u.session = &sess
		if old != task.SessionID {
			u.aliases[old] = sess.SessionID
		}
	}
	u.mu.Unlock()

	u.logger.Info("Trip session refreshed", "old", task.SessionID, "new", sess.SessionID)
	return sess, nil
}

// resolveSession follows refreshes so queued tasks use the current session.
func (u *Uplink) resolveSession(id string) string {
	u.mu.Lock()
	defer u.mu.Unlock()
	for i := 0; i < len(u.aliases); i++ {
		next, ok := u.aliases[id]
		if !ok {
			break
		}
		id = next
	}
	return id
}

func (u *Uplink) write(ctx context.Context, task model.UplinkTask) error {
	s := task.Sample
	return u.writeLocation(ctx, core.LocationWrite{
		SessionID:  task.SessionID,
		VehicleID:  task.VehicleID,
		DriverID:   task.DriverID,
		Latitude:   s.Latitude,
		Longitude:  s.Longitude,
		Accuracy:   s.Accuracy,
		SpeedKmh:   s.SpeedKmh(),
		Heading:    s.Heading,
		CapturedAt: s.CapturedAt,
	})
}

// writeClear sends the clear-my-location signal directly; it is never queued.
func (u *Uplink) writeClear(ctx context.Context, sess model.TripSession) error {
	err := u.writeLocation(ctx, core.LocationWrite{
		SessionID:  u.resolveSession(sess.SessionID),
		VehicleID:  sess.VehicleID,
		DriverID:   sess.DriverID,
		Clear:      true,
		CapturedAt: u.clock.Now(),
	})
	if err != nil {
		u.logger.Warn("Clear location write failed", "vehicle", sess.VehicleID, "error", err)
		return err
	}
	return nil
}

// writeLocation detaches the write from caller cancellation so a stopped
// trip lets its in-flight write finish.
func (u *Uplink) writeLocation(ctx context.Context, w core.LocationWrite) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), u.cfg.WriteTimeout)
	defer cancel()

	res, err := u.writer.WriteVehicleLocation(ctx, w)
	if err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("%w: %s", core.ErrRejected, res.Message)
	}
	return nil
}
