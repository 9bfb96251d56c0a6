package options

import (
	"time"

	"github.com/spf13/pflag"
)

var (
	_ IOptions = (*UplinkOptions)(nil)
	_ IOptions = (*LifecycleOptions)(nil)
	_ IOptions = (*FleetOptions)(nil)
)

// UplinkOptions tunes the telemetry uplink of a driver device.
type UplinkOptions struct {
	TickInterval   time.Duration `json:"tick-interval" mapstructure:"tick-interval" validate:"gt=0"`
	CaptureTimeout time.Duration `json:"capture-timeout" mapstructure:"capture-timeout" validate:"gt=0"`
	WriteTimeout   time.Duration `json:"write-timeout" mapstructure:"write-timeout" validate:"gt=0"`
}

func NewUplinkOptions() *UplinkOptions {
	return &UplinkOptions{
		TickInterval:   3 * time.Second,
		CaptureTimeout: 2 * time.Second,
		WriteTimeout:   10 * time.Second,
	}
}

func (o *UplinkOptions) Validate() []error {
	return validateStruct(o)
}

func (o *UplinkOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.DurationVar(&o.TickInterval, "uplink.tick-interval", o.TickInterval, "Position capture cadence while a trip is active.")
	fs.DurationVar(&o.CaptureTimeout, "uplink.capture-timeout", o.CaptureTimeout, "Deadline of one position fix.")
	fs.DurationVar(&o.WriteTimeout, "uplink.write-timeout", o.WriteTimeout, "Deadline of one location write.")
}

// LifecycleOptions tunes the live-update connection.
type LifecycleOptions struct {
	HeartbeatInterval time.Duration `json:"heartbeat-interval" mapstructure:"heartbeat-interval" validate:"gt=0"`
	CallTimeout       time.Duration `json:"call-timeout" mapstructure:"call-timeout" validate:"gt=0"`
	BackoffBase       time.Duration `json:"backoff-base" mapstructure:"backoff-base" validate:"gt=0"`
	BackoffCap        time.Duration `json:"backoff-cap" mapstructure:"backoff-cap" validate:"gtefield=BackoffBase"`
	MaxAttempts       int           `json:"max-attempts" mapstructure:"max-attempts" validate:"gt=0"`
}

func NewLifecycleOptions() *LifecycleOptions {
	return &LifecycleOptions{
		HeartbeatInterval: 30 * time.Second,
		CallTimeout:       10 * time.Second,
		BackoffBase:       time.Second,
		BackoffCap:        time.Minute,
		MaxAttempts:       8,
	}
}

func (o *LifecycleOptions) Validate() []error {
	return validateStruct(o)
}

func (o *LifecycleOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.DurationVar(&o.HeartbeatInterval, "lifecycle.heartbeat-interval", o.HeartbeatInterval, "Interval between connection heartbeats.")
	fs.DurationVar(&o.CallTimeout, "lifecycle.call-timeout", o.CallTimeout, "Deadline of register, subscribe and heartbeat calls.")
	fs.DurationVar(&o.BackoffBase, "lifecycle.backoff-base", o.BackoffBase, "First reconnect delay; doubled per attempt.")
	fs.DurationVar(&o.BackoffCap, "lifecycle.backoff-cap", o.BackoffCap, "Longest reconnect delay.")
	fs.IntVar(&o.MaxAttempts, "lifecycle.max-attempts", o.MaxAttempts, "Automatic reconnects before the connection is marked failed.")
}

// FleetOptions tunes the fleet reconciler and its route catalog.
type FleetOptions struct {
	PollInterval  time.Duration `json:"poll-interval" mapstructure:"poll-interval" validate:"gt=0"`
	RecencyWindow time.Duration `json:"recency-window" mapstructure:"recency-window" validate:"gt=0"`

	// RouteID narrows the fleet to one route; empty follows every route.
	RouteID string `json:"route-id" mapstructure:"route-id"`

	// RoutesReloadInterval reloads the route catalog; zero loads it once.
	RoutesReloadInterval time.Duration `json:"routes-reload-interval" mapstructure:"routes-reload-interval" validate:"gte=0"`
}

func NewFleetOptions() *FleetOptions {
	return &FleetOptions{
		PollInterval:         30 * time.Second,
		RecencyWindow:        5 * time.Minute,
		RoutesReloadInterval: time.Hour,
	}
}

func (o *FleetOptions) Validate() []error {
	return validateStruct(o)
}

func (o *FleetOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.DurationVar(&o.PollInterval, "fleet.poll-interval", o.PollInterval, "Interval between full fleet polls.")
	fs.DurationVar(&o.RecencyWindow, "fleet.recency-window", o.RecencyWindow, "Vehicles silent for longer are hidden.")
	fs.StringVar(&o.RouteID, "fleet.route-id", o.RouteID, "Follow only the vehicles of this route.")
	fs.DurationVar(&o.RoutesReloadInterval, "fleet.routes-reload-interval", o.RoutesReloadInterval, "Interval between route catalog reloads (0 loads once).")
}
