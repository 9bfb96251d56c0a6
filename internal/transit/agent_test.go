package transit

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/autopeer-io/transitlive/internal/transit/core"
	"github.com/autopeer-io/transitlive/pkg/options"
)

func testConfig(role string) *Config {
	device := options.NewDeviceOptions()
	device.Role = role
	device.PositionSource = options.PositionSimulator
	device.VehicleID = "bus-7"

	queueOpts := options.NewQueueOptions()
	queueOpts.Path = ""

	return &Config{
		Version:          "test",
		DeviceOptions:    device,
		UplinkOptions:    options.NewUplinkOptions(),
		LifecycleOptions: options.NewLifecycleOptions(),
		FleetOptions:     options.NewFleetOptions(),
		GrpcOptions:      options.NewGrpcOptions(),
		MqttOptions:      options.NewMqttOptions(),
		HttpOptions:      options.NewHttpOptions(),
		S3Options:        options.NewS3Options(),
		QueueOptions:     queueOpts,
	}
}

func TestNewAgentRoles(t *testing.T) {
	t.Setenv("TRANSITLIVE_DEVICE_ID", "dev-1")

	tests := []struct {
		role       string
		wantUplink bool
	}{
		{options.RolePassenger, false},
		{options.RoleDriver, true},
	}
	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			a, err := testConfig(tt.role).NewAgent()
			if err != nil {
				t.Fatal(err)
			}
			defer a.close()

			if (a.uplink != nil) != tt.wantUplink {
				t.Errorf("uplink built = %v, want %v", a.uplink != nil, tt.wantUplink)
			}
			if a.deviceID != "dev-1" {
				t.Errorf("deviceID = %q", a.deviceID)
			}
			if tt.wantUplink && a.vehicleID != "bus-7" {
				t.Errorf("vehicleID = %q", a.vehicleID)
			}
			// A dead broker before the manager exists must not panic.
			a.onBrokerChange(false)
		})
	}
}

func TestNewAgentBoltQueue(t *testing.T) {
	t.Setenv("TRANSITLIVE_DEVICE_ID", "dev-1")
	cfg := testConfig(options.RoleDriver)
	cfg.QueueOptions.Path = filepath.Join(t.TempDir(), "q", "uplink.db")

	a, err := cfg.NewAgent()
	if err != nil {
		t.Fatal(err)
	}
	a.close()

	if _, err := os.Stat(cfg.QueueOptions.Path); err != nil {
		t.Errorf("queue file not created: %v", err)
	}
}

func TestVehicleFilter(t *testing.T) {
	if got := vehicleFilter(""); got != (core.TableFilter{Table: "vehicles"}) {
		t.Errorf("vehicleFilter(\"\") = %+v", got)
	}
	want := core.TableFilter{Table: "vehicles", Column: "route_id", Value: "r1"}
	if got := vehicleFilter("r1"); got != want {
		t.Errorf("vehicleFilter(r1) = %+v, want %+v", got, want)
	}
}

func TestDiscoverVehicleID(t *testing.T) {
	old := VehicleIDFile
	t.Cleanup(func() { VehicleIDFile = old })
	VehicleIDFile = filepath.Join(t.TempDir(), "vehicle-id")

	t.Setenv(EnvVehicleID, "")
	if got := DiscoverVehicleID(); got != "" {
		t.Errorf("DiscoverVehicleID() = %q, want empty", got)
	}

	if err := os.WriteFile(VehicleIDFile, []byte("bus-9\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := DiscoverVehicleID(); got != "bus-9" {
		t.Errorf("DiscoverVehicleID() = %q, want file value", got)
	}

	t.Setenv(EnvVehicleID, "bus-3")
	if got := DiscoverVehicleID(); got != "bus-3" {
		t.Errorf("DiscoverVehicleID() = %q, want env value", got)
	}
}
