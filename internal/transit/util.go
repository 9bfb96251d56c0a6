package transit

import (
	"os"
	"strings"

	"github.com/autopeer-io/transitlive/pkg/log"
)

// EnvVehicleID injects the vehicle of a driver device.
const EnvVehicleID = "TRANSITLIVE_VEHICLE_ID"

// VehicleIDFile is written by the provisioning step of a mounted device.
var VehicleIDFile = "/etc/transitlive/vehicle-id"

// DiscoverVehicleID finds the vehicle this device is mounted in: the
// environment first, then VehicleIDFile. It returns "" when neither is set;
// start requests must then name the vehicle.
func DiscoverVehicleID() string {
	if envID := strings.TrimSpace(os.Getenv(EnvVehicleID)); envID != "" {
		log.Info("VehicleID detected from env", "id", envID)
		return envID
	}

	if content, err := os.ReadFile(VehicleIDFile); err == nil {
		if id := strings.TrimSpace(string(content)); id != "" {
			log.Info("VehicleID detected from file", "id", id)
			return id
		}
	}

	return ""
}
