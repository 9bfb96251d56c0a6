package transit

import (
	"context"
	"encoding/json"
	"fmt"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/transitlive/internal/transit/backend/grpc"
	changes "github.com/autopeer-io/transitlive/internal/transit/backend/mqtt"
	"github.com/autopeer-io/transitlive/internal/transit/core"
	"github.com/autopeer-io/transitlive/internal/transit/fleet"
	"github.com/autopeer-io/transitlive/internal/transit/hal"
	"github.com/autopeer-io/transitlive/internal/transit/lifecycle"
	"github.com/autopeer-io/transitlive/internal/transit/model"
	"github.com/autopeer-io/transitlive/internal/transit/queue"
	"github.com/autopeer-io/transitlive/internal/transit/routes"
	"github.com/autopeer-io/transitlive/internal/transit/server"
	"github.com/autopeer-io/transitlive/internal/transit/uplink"
	"github.com/autopeer-io/transitlive/pkg/log"
	"github.com/autopeer-io/transitlive/pkg/mqtt"
	mqtttopic "github.com/autopeer-io/transitlive/pkg/mqtt/topic"
	"github.com/autopeer-io/transitlive/pkg/options"
)

// Config is everything needed to assemble an Agent.
type Config struct {
	Version string

	DeviceOptions    *options.DeviceOptions
	UplinkOptions    *options.UplinkOptions
	LifecycleOptions *options.LifecycleOptions
	FleetOptions     *options.FleetOptions
	GrpcOptions      *options.GrpcOptions
	MqttOptions      *options.MqttOptions
	HttpOptions      *options.HttpOptions
	S3Options        *options.S3Options
	QueueOptions     *options.QueueOptions
}

func (cfg *Config) NewAgent() (*Agent, error) {
	deviceID := hal.DeviceID()
	if deviceID == "" {
		return nil, fmt.Errorf("unable to determine the device identity")
	}

	backend, err := grpc.NewClient(cfg.GrpcOptions)
	if err != nil {
		return nil, err
	}

	a := &Agent{
		deviceID: deviceID,
		role:     cfg.DeviceOptions.Role,
		backend:  backend,
	}
	// Every later failure must release what was opened so far.
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	topicBuilder := mqtttopic.NewBuilder(cfg.MqttOptions.TopicRoot)
	a.presenceTopic = topicBuilder.Presence(deviceID)
	a.mqtt, err = cfg.newMqttClient(deviceID, a.presenceTopic, a.onBrokerChange)
	if err != nil {
		return nil, fmt.Errorf("failed to init mqtt client: %w", err)
	}
	subscriber := changes.NewSubscriber(a.mqtt, topicBuilder, clock.RealClock{})

	a.catalog, err = cfg.newCatalog()
	if err != nil {
		return nil, err
	}
	a.routesReload = cfg.FleetOptions.RoutesReloadInterval

	a.fleet = fleet.New(fleet.Config{
		PollInterval:  cfg.FleetOptions.PollInterval,
		RecencyWindow: cfg.FleetOptions.RecencyWindow,
		Filter:        core.VehicleFilter{RouteID: cfg.FleetOptions.RouteID},
	}, backend, a.catalog, clock.RealClock{})

	a.lifecycle = lifecycle.New(lifecycle.Config{
		HeartbeatInterval: cfg.LifecycleOptions.HeartbeatInterval,
		CallTimeout:       cfg.LifecycleOptions.CallTimeout,
		BackoffBase:       cfg.LifecycleOptions.BackoffBase,
		BackoffCap:        cfg.LifecycleOptions.BackoffCap,
		MaxAttempts:       cfg.LifecycleOptions.MaxAttempts,
		Metadata: core.ConnectionMetadata{
			DeviceID: deviceID,
			Role:     cfg.DeviceOptions.Role,
			Version:  cfg.Version,
			Platform: hal.Platform(),
		},
	}, backend, subscriber, clock.RealClock{})
	a.lifecycle.AddSubscription(vehicleFilter(cfg.FleetOptions.RouteID), a.fleet.Handler())

	deps := server.Deps{Fleet: a.fleet, Connection: a.lifecycle}
	if cfg.DeviceOptions.Role == options.RoleDriver {
		if err := cfg.buildUplink(a, backend); err != nil {
			return nil, err
		}
		deps.Tracker = a.uplink
		deps.VehicleID = a.vehicleID
	}
	a.server = server.NewServer(cfg.HttpOptions, deps)

	ok = true
	return a, nil
}

// vehicleFilter narrows the change subscription to one route when configured.
func vehicleFilter(routeID string) core.TableFilter {
	f := core.TableFilter{Table: fleet.DefaultTable}
	if routeID != "" {
		f.Column, f.Value = "route_id", routeID
	}
	return f
}

func (cfg *Config) newMqttClient(deviceID, presenceTopic string, onChange func(bool)) (mqtt.Client, error) {
	mqttConfig := cfg.MqttOptions.ToClientConfig()
	if mqttConfig.ClientID == "" {
		mqttConfig.ClientID = fmt.Sprintf("transitlive-%s", deviceID)
	}

	// The broker's receive time stamps the will, so the payload carries none.
	offlinePayload, _ := json.Marshal(presence{DeviceID: deviceID, Role: cfg.DeviceOptions.Role, Online: false, Reason: "UnexpectedDisconnect"})
	mqttConfig.WillTopic = presenceTopic
	mqttConfig.WillPayload = offlinePayload
	mqttConfig.WillQoS = 1
	mqttConfig.WillRetain = true
	mqttConfig.OnConnectionChange = onChange

	return mqtt.NewClient(mqttConfig)
}

func (cfg *Config) newCatalog() (*routes.Catalog, error) {
	if !cfg.S3Options.Enabled() {
		log.Info("No route catalog store configured, route display fields stay empty")
		return routes.NewCatalog(nil, "", clock.RealClock{}), nil
	}
	store, err := routes.NewMinIO(cfg.S3Options)
	if err != nil {
		return nil, err
	}
	return routes.NewCatalog(store, cfg.S3Options.RoutesObject, clock.RealClock{}), nil
}

func (cfg *Config) buildUplink(a *Agent, backend *grpc.Client) error {
	a.vehicleID = cfg.DeviceOptions.VehicleID
	if a.vehicleID == "" {
		a.vehicleID = DiscoverVehicleID()
	}

	var source core.PositionSource
	switch cfg.DeviceOptions.PositionSource {
	case options.PositionSimulator:
		sim, err := hal.NewSimulator(hal.DemoRoute, cfg.DeviceOptions.SimulatorSpeed, clock.RealClock{})
		if err != nil {
			return err
		}
		source = sim
	default:
		a.gpsd = hal.NewGpsd(cfg.DeviceOptions.GpsdAddr, cfg.DeviceOptions.GpsdMaxAge, clock.RealClock{})
		a.gpsdRetry = cfg.DeviceOptions.GpsdRetryDelay
		source = a.gpsd
	}

	q, err := cfg.openQueue()
	if err != nil {
		return err
	}
	a.queue = q

	a.uplink = uplink.New(uplink.Config{
		TickInterval:   cfg.UplinkOptions.TickInterval,
		CaptureTimeout: cfg.UplinkOptions.CaptureTimeout,
		WriteTimeout:   cfg.UplinkOptions.WriteTimeout,
	}, source, backend, backend, q, clock.RealClock{})
	return nil
}

func (cfg *Config) openQueue() (queue.Queue, error) {
	if cfg.QueueOptions.Path == "" {
		log.Warn("Offline queue is memory only, undelivered fixes are lost on exit")
		return queue.NewMemoryQueue(), nil
	}
	q, err := queue.OpenBolt(cfg.QueueOptions.Path, cfg.QueueOptions.OpenTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to open offline queue: %w", err)
	}
	return q, nil
}

// PollOnce lists the fleet a single time and returns the canonical view. It
// backs the fleet command.
func (cfg *Config) PollOnce(ctx context.Context) ([]model.VehicleView, error) {
	backend, err := grpc.NewClient(cfg.GrpcOptions)
	if err != nil {
		return nil, err
	}
	defer backend.Close()

	catalog, err := cfg.newCatalog()
	if err != nil {
		return nil, err
	}
	if err := catalog.Load(ctx); err != nil {
		log.Warn("Route catalog unavailable", "error", err)
	}

	r := fleet.New(fleet.Config{
		RecencyWindow: cfg.FleetOptions.RecencyWindow,
		Filter:        core.VehicleFilter{RouteID: cfg.FleetOptions.RouteID},
	}, backend, catalog, clock.RealClock{})
	if err := r.Poll(ctx); err != nil {
		return nil, err
	}
	return r.Vehicles(), nil
}
