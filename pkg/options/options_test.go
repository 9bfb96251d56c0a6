package options

import (
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	for name, o := range map[string]IOptions{
		"device":    NewDeviceOptions(),
		"uplink":    NewUplinkOptions(),
		"lifecycle": NewLifecycleOptions(),
		"fleet":     NewFleetOptions(),
		"queue":     NewQueueOptions(),
	} {
		if errs := o.Validate(); len(errs) != 0 {
			t.Errorf("%s defaults: Validate() = %v, want no errors", name, errs)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		opts    IOptions
		wantErr int
	}{
		{
			name:    "unknown role",
			opts:    func() IOptions { o := NewDeviceOptions(); o.Role = "conductor"; return o }(),
			wantErr: 1,
		},
		{
			name: "driver with bad gpsd address",
			opts: func() IOptions {
				o := NewDeviceOptions()
				o.Role, o.GpsdAddr = RoleDriver, "gpsd"
				return o
			}(),
			wantErr: 1,
		},
		{
			name: "passenger ignores gpsd address",
			opts: func() IOptions {
				o := NewDeviceOptions()
				o.GpsdAddr = "gpsd"
				return o
			}(),
		},
		{
			name:    "zero tick",
			opts:    func() IOptions { o := NewUplinkOptions(); o.TickInterval = 0; return o }(),
			wantErr: 1,
		},
		{
			name: "backoff cap below base",
			opts: func() IOptions {
				o := NewLifecycleOptions()
				o.BackoffBase, o.BackoffCap = time.Minute, time.Second
				return o
			}(),
			wantErr: 1,
		},
		{
			name: "no attempts and no heartbeat",
			opts: func() IOptions {
				o := NewLifecycleOptions()
				o.MaxAttempts, o.HeartbeatInterval = 0, 0
				return o
			}(),
			wantErr: 2,
		},
		{
			name:    "negative reload",
			opts:    func() IOptions { o := NewFleetOptions(); o.RoutesReloadInterval = -time.Second; return o }(),
			wantErr: 1,
		},
		{
			name:    "load routes once",
			opts:    func() IOptions { o := NewFleetOptions(); o.RoutesReloadInterval = 0; return o }(),
			wantErr: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if errs := tt.opts.Validate(); len(errs) != tt.wantErr {
				t.Errorf("Validate() = %v, want %d errors", errs, tt.wantErr)
			}
		})
	}
}

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		addr    string
		wantErr bool
	}{
		{"localhost:2947", false},
		{":8080", false},
		{"localhost", true},
		{"localhost:http", true},
		{"localhost:70000", true},
	}
	for _, tt := range tests {
		if err := ValidateAddress(tt.addr); (err != nil) != tt.wantErr {
			t.Errorf("ValidateAddress(%q) error = %v, wantErr %v", tt.addr, err, tt.wantErr)
		}
	}
}
