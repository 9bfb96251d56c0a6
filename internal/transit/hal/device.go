package hal

import (
	"os"
	"runtime"
	"strings"
)

// EnvDeviceID overrides the detected device identity.
const EnvDeviceID = "TRANSITLIVE_DEVICE_ID"

// DeviceIDFile is read when the environment carries no device identity.
var DeviceIDFile = "/etc/machine-id"

// DeviceID returns a stable identity for this device: the environment
// override, then DeviceIDFile, then the hostname.
func DeviceID() string {
	if id := strings.TrimSpace(os.Getenv(EnvDeviceID)); id != "" {
		return id
	}
	if data, err := os.ReadFile(DeviceIDFile); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id
		}
	}
	host, _ := os.Hostname()
	return host
}

// Platform names the OS and architecture, e.g. "linux/arm64".
func Platform() string {
	return runtime.GOOS + "/" + runtime.GOARCH
}
