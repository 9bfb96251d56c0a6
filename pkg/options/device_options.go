package options

import (
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*DeviceOptions)(nil)

// Device roles.
const (
	RoleDriver    = "driver"
	RolePassenger = "passenger"
)

// Position sources.
const (
	PositionGpsd      = "gpsd"
	PositionSimulator = "simulator"
)

// DeviceOptions describes the device the agent runs on.
type DeviceOptions struct {
	// Role selects the components: drivers uplink positions, both see the fleet.
	Role string `json:"role" mapstructure:"role" validate:"oneof=driver passenger"`

	// VehicleID is the vehicle this driver device is mounted in.
	VehicleID string `json:"vehicle-id" mapstructure:"vehicle-id"`

	PositionSource string        `json:"position-source" mapstructure:"position-source" validate:"oneof=gpsd simulator"`
	GpsdAddr       string        `json:"gpsd-addr" mapstructure:"gpsd-addr"`
	GpsdMaxAge     time.Duration `json:"gpsd-max-age" mapstructure:"gpsd-max-age" validate:"gte=0"`
	GpsdRetryDelay time.Duration `json:"gpsd-retry-delay" mapstructure:"gpsd-retry-delay" validate:"gt=0"`

	// SimulatorSpeed is the simulated ground speed in metres per second.
	SimulatorSpeed float64 `json:"simulator-speed" mapstructure:"simulator-speed" validate:"gte=0"`
}

func NewDeviceOptions() *DeviceOptions {
	return &DeviceOptions{
		Role:           RolePassenger,
		PositionSource: PositionGpsd,
		GpsdAddr:       "localhost:2947",
		GpsdMaxAge:     10 * time.Second,
		GpsdRetryDelay: 5 * time.Second,
		SimulatorSpeed: 8,
	}
}

func (o *DeviceOptions) Validate() []error {
	errs := validateStruct(o)
	if o.Role == RoleDriver && o.PositionSource == PositionGpsd {
		if err := ValidateAddress(o.GpsdAddr); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func (o *DeviceOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Role, "device.role", o.Role, "Device role: 'driver' uplinks positions, 'passenger' only follows the fleet.")
	fs.StringVar(&o.VehicleID, "device.vehicle-id", o.VehicleID, "Vehicle this driver device is mounted in (default: discovered).")
	fs.StringVar(&o.PositionSource, "device.position-source", o.PositionSource, "Where fixes come from: 'gpsd' or 'simulator'.")
	fs.StringVar(&o.GpsdAddr, "device.gpsd-addr", o.GpsdAddr, "Address of the gpsd daemon.")
	fs.DurationVar(&o.GpsdMaxAge, "device.gpsd-max-age", o.GpsdMaxAge, "Oldest gpsd fix that is still served.")
	fs.DurationVar(&o.GpsdRetryDelay, "device.gpsd-retry-delay", o.GpsdRetryDelay, "Delay before redialing gpsd.")
	fs.Float64Var(&o.SimulatorSpeed, "device.simulator-speed", o.SimulatorSpeed, "Simulated speed in metres per second.")
}
