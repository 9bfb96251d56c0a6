package uplink

import "time"

const (
	DefaultTickInterval   = 3 * time.Second
	DefaultCaptureTimeout = 2 * time.Second
	DefaultWriteTimeout   = 10 * time.Second
)

// Config tunes the uplink timers. Zero values take the defaults.
type Config struct {
	// TickInterval is the capture cadence while a trip is active.
	TickInterval time.Duration
	// CaptureTimeout bounds one position fix.
	CaptureTimeout time.Duration
	// WriteTimeout bounds one remote write.
	WriteTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.CaptureTimeout <= 0 {
		c.CaptureTimeout = DefaultCaptureTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	return c
}
