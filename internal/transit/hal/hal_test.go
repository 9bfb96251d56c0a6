package hal

import (
	"bufio"
	"context"
	"errors"
	"math"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	clocktesting "k8s.io/utils/clock/testing"
)

func near(a, b, tol float64) bool { return math.Abs(a-b) <= tol }

func TestSimulatorWalksAndLoops(t *testing.T) {
	// Two points on the equator 0.01 degrees apart, about 1112 m.
	points := []Waypoint{{0, 0}, {0, 0.01}}
	clk := clocktesting.NewFakePassiveClock(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))
	sim, err := NewSimulator(points, 10, clk)
	if err != nil {
		t.Fatal(err)
	}
	leg := distance(points[0], points[1])

	s, _ := sim.CurrentPosition(context.Background())
	if s.Latitude != 0 || s.Longitude != 0 || !near(s.Heading, 90, 0.01) {
		t.Errorf("start sample = %+v", s)
	}

	clk.SetTime(clk.Now().Add(time.Duration(leg/2/10*float64(time.Second))))
	s, _ = sim.CurrentPosition(context.Background())
	if !near(s.Longitude, 0.005, 1e-6) || s.Speed != 10 {
		t.Errorf("half way sample = %+v", s)
	}

	clk.SetTime(clk.Now().Add(time.Duration(leg/10*float64(time.Second))))
	s, _ = sim.CurrentPosition(context.Background())
	if !near(s.Longitude, 0.005, 1e-6) || !near(s.Heading, 270, 0.01) {
		t.Errorf("return leg sample = %+v", s)
	}
	if !s.CapturedAt.Equal(clk.Now()) {
		t.Errorf("CapturedAt = %v, want %v", s.CapturedAt, clk.Now())
	}
}

func TestNewSimulatorRejects(t *testing.T) {
	clk := clocktesting.NewFakePassiveClock(time.Now())
	tests := []struct {
		name   string
		points []Waypoint
		speed  float64
	}{
		{"one point", []Waypoint{{1, 1}}, 5},
		{"same points", []Waypoint{{1, 1}, {1, 1}}, 5},
		{"negative speed", DemoRoute, -1},
	}
	for _, tt := range tests {
		if _, err := NewSimulator(tt.points, tt.speed, clk); err == nil {
			t.Errorf("%s: NewSimulator() succeeded", tt.name)
		}
	}
}

func TestSampleFromTPV(t *testing.T) {
	lat, lon := 14.5, 121.0
	tests := []struct {
		name string
		in   tpv
		ok   bool
	}{
		{"3d fix", tpv{Class: "TPV", Mode: 3, Lat: &lat, Lon: &lon, Speed: 4, Track: 180, Epx: 3, Epy: 6, Time: "2026-03-01T08:00:00.000Z"}, true},
		{"no fix", tpv{Class: "TPV", Mode: 1, Lat: &lat, Lon: &lon}, false},
		{"missing lon", tpv{Class: "TPV", Mode: 2, Lat: &lat}, false},
	}
	for _, tt := range tests {
		s, ok := sampleFromTPV(tt.in)
		if ok != tt.ok {
			t.Errorf("%s: ok = %v, want %v", tt.name, ok, tt.ok)
			continue
		}
		if ok && (s.Accuracy != 6 || s.Heading != 180 || s.CapturedAt.IsZero()) {
			t.Errorf("%s: sample = %+v", tt.name, s)
		}
	}
}

func TestGpsdReadsReports(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot listen: %v", err)
	}
	defer lis.Close()

	go func() {
		conn, err := lis.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		line, _ := bufio.NewReader(conn).ReadString('\n')
		if !strings.HasPrefix(line, "?WATCH=") {
			return
		}
		_, _ = conn.Write([]byte(`{"class":"VERSION","release":"3.25"}` + "\n" +
			`{"class":"TPV","mode":3,"lat":14.6,"lon":120.98,"speed":8.5,"track":45}` + "\n"))
		time.Sleep(time.Second)
	}()

	clk := clocktesting.NewFakeClock(time.Now())
	g := NewGpsd(lis.Addr().String(), time.Minute, clk)

	if _, err := g.CurrentPosition(context.Background()); !errors.Is(err, ErrNoFix) {
		t.Fatalf("CurrentPosition() before fix = %v, want ErrNoFix", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx, time.Second) }()

	deadline := time.Now().Add(5 * time.Second)
	for {
		s, err := g.CurrentPosition(context.Background())
		if err == nil {
			if s.Latitude != 14.6 || s.Speed != 8.5 {
				t.Errorf("sample = %+v", s)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no fix received")
		}
		time.Sleep(5 * time.Millisecond)
	}

	clk.Step(2 * time.Minute)
	if _, err := g.CurrentPosition(context.Background()); !errors.Is(err, ErrNoFix) {
		t.Errorf("CurrentPosition() with stale fix = %v, want ErrNoFix", err)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() = %v", err)
	}
}

func TestDeviceID(t *testing.T) {
	t.Setenv(EnvDeviceID, " kiosk-7 ")
	if got := DeviceID(); got != "kiosk-7" {
		t.Errorf("DeviceID() = %q, want env override", got)
	}

	t.Setenv(EnvDeviceID, "")
	file := filepath.Join(t.TempDir(), "machine-id")
	if err := os.WriteFile(file, []byte("abc123\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	old := DeviceIDFile
	DeviceIDFile = file
	t.Cleanup(func() { DeviceIDFile = old })

	if got := DeviceID(); got != "abc123" {
		t.Errorf("DeviceID() = %q, want file contents", got)
	}
}
