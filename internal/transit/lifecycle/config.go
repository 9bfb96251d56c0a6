package lifecycle

import (
	"time"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/transitlive/internal/transit/core"
)

const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultCallTimeout       = 10 * time.Second
	DefaultBackoffBase       = time.Second
	DefaultBackoffCap        = time.Minute
	DefaultMaxAttempts       = 8
	DefaultHistorySize       = 64

	// heartbeatFailureThreshold consecutive heartbeat failures drop the connection.
	heartbeatFailureThreshold = 2
)

// Config tunes the lifecycle manager. Zero values take the defaults.
type Config struct {
	HeartbeatInterval time.Duration
	// CallTimeout bounds each register, subscribe and heartbeat call.
	CallTimeout time.Duration
	BackoffBase time.Duration
	BackoffCap  time.Duration
	// MaxAttempts is the number of automatic reconnects before giving up.
	MaxAttempts int
	HistorySize int
	// Metadata is sent on every registration; ConnectionID is filled in per attempt.
	Metadata core.ConnectionMetadata
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = DefaultBackoffCap
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.HistorySize <= 0 {
		c.HistorySize = DefaultHistorySize
	}
	return c
}

// Clock is the part of k8s.io/utils/clock the manager schedules with.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) clock.Timer
}

// Backoff returns min(base * 2^attempt, cap).
func Backoff(base, max time.Duration, attempt int) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		if d >= max/2 {
			return max
		}
		d *= 2
	}
	if d > max {
		return max
	}
	return d
}
