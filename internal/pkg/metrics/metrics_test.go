package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSetPhase(t *testing.T) {
	all := []string{"disconnected", "connecting", "connected"}

	SetPhase("connecting", all)
	SetPhase("connected", all)

	for _, tt := range []struct {
		phase string
		want  float64
	}{
		{"disconnected", 0},
		{"connecting", 0},
		{"connected", 1},
	} {
		if got := testutil.ToFloat64(ConnectionPhase.WithLabelValues(tt.phase)); got != tt.want {
			t.Errorf("phase %s = %v, want %v", tt.phase, got, tt.want)
		}
	}
}

func TestRegistryGathers(t *testing.T) {
	UplinkWritesTotal.WithLabelValues("delivered").Inc()
	mfs, err := Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	found := false
	for _, mf := range mfs {
		if mf.GetName() == "transitlive_uplink_writes_total" {
			found = true
		}
	}
	if !found {
		t.Error("transitlive_uplink_writes_total not gathered")
	}
}
