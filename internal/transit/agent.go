package transit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/autopeer-io/transitlive/internal/transit/backend/grpc"
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
)

var errBrokerLost = errors.New("broker link lost")

// Agent runs the transit components of one device.
type Agent struct {
	deviceID  string
	vehicleID string
	role      string

	backend   *grpc.Client
	mqtt      mqtt.Client
	lifecycle *lifecycle.Manager
	fleet     *fleet.Reconciler
	catalog   *routes.Catalog
	server    *server.Server

	routesReload  time.Duration
	presenceTopic string

	// Driver devices only.
	uplink    *uplink.Uplink
	queue     queue.Queue
	gpsd      *hal.Gpsd
	gpsdRetry time.Duration
}

func (a *Agent) Run(ctx context.Context) error {
	log.Info("Starting transitlive agent", "deviceID", a.deviceID, "role", a.role, "vehicleID", a.vehicleID)
	defer a.close()

	// The broker link outlives ctx so teardown can still unsubscribe; Disconnect ends it.
	if err := a.mqtt.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	defer func() {
		a.publishPresence(presence{DeviceID: a.deviceID, Role: a.role, Online: false, Reason: "Shutdown"})
		dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.mqtt.Disconnect(dctx)
	}()

	if err := a.catalog.Load(ctx); err != nil {
		log.Warn("Route catalog unavailable, vehicles keep empty route names", "error", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.backend.Monitor(ctx) })
	g.Go(func() error { return a.catalog.Run(ctx, a.routesReload) })
	g.Go(func() error { return a.fleet.Run(ctx) })
	g.Go(func() error { return a.lifecycle.Run(ctx) })
	g.Go(func() error { return a.resyncOnReconnect(ctx) })
	g.Go(func() error { return a.server.Start(ctx) })

	if a.uplink != nil {
		g.Go(func() error { return a.uplink.Run(ctx) })
	}
	if a.gpsd != nil {
		g.Go(func() error { return a.gpsd.Run(ctx, a.gpsdRetry) })
	}

	err := g.Wait()
	log.Info("Agent shutting down...")
	return err
}

// resyncOnReconnect polls the fleet after every reconnect; change events
// published during the outage were never delivered. Snapshots coalesce, so a
// reconnect is detected by a new connection id.
func (a *Agent) resyncOnReconnect(ctx context.Context) error {
	lastID := ""
	for st := range a.lifecycle.Watch(ctx) {
		if st.Phase != model.PhaseConnected || st.ConnectionID == lastID {
			continue
		}
		if lastID != "" {
			if err := a.fleet.Refresh(ctx); err != nil {
				log.Warn("Fleet resync after reconnect failed", "error", err)
			}
		}
		lastID = st.ConnectionID
	}
	return nil
}

// presence is the retained message on the presence topic of a device.
type presence struct {
	DeviceID string `json:"deviceId"`
	Role     string `json:"role"`
	Online   bool   `json:"online"`
	Reason   string `json:"reason,omitempty"`
}

// onBrokerChange announces the device when the broker link comes up and
// reports a dead link to the lifecycle manager, which reconnects and
// resubscribes.
func (a *Agent) onBrokerChange(up bool) {
	if up {
		// Called from the client's connection handler; publishing must not block it.
		go a.publishPresence(presence{DeviceID: a.deviceID, Role: a.role, Online: true})
		return
	}
	if a.lifecycle != nil {
		a.lifecycle.ReportSubscriptionFailure(errBrokerLost)
	}
}

func (a *Agent) publishPresence(p presence) {
	payload, err := json.Marshal(p)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.mqtt.Publish(ctx, a.presenceTopic, 1, true, payload); err != nil {
		log.Warn("Failed to publish presence", "topic", a.presenceTopic, "error", err)
	}
}

// close releases the queue file and the backend channel.
func (a *Agent) close() {
	if a.queue != nil {
		if err := a.queue.Close(); err != nil {
			log.Error(err, "Failed to close offline queue")
		}
	}
	if a.backend != nil {
		if err := a.backend.Close(); err != nil {
			log.Error(err, "Failed to close backend connection")
		}
	}
}
