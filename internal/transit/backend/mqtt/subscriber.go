package mqtt

import (
	"context"
	"fmt"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/transitlive/internal/pkg/metrics"
	"github.com/autopeer-io/transitlive/internal/transit/core"
	"github.com/autopeer-io/transitlive/pkg/log"
	"github.com/autopeer-io/transitlive/pkg/mqtt"
	"github.com/autopeer-io/transitlive/pkg/mqtt/topic"
)

// changeQoS is at-least-once; the reconciler tolerates duplicates.
const changeQoS = 1

// Subscriber maps table filters to change topics on an MQTT broker.
type Subscriber struct {
	client  mqtt.Client
	builder *topic.Builder
	clock   clock.PassiveClock
	logger  log.Logger
}

var _ core.Subscriber = (*Subscriber)(nil)

func NewSubscriber(client mqtt.Client, builder *topic.Builder, clk clock.PassiveClock) *Subscriber {
	return &Subscriber{
		client:  client,
		builder: builder,
		clock:   clk,
		logger:  log.WithName("changes"),
	}
}

// Topic returns the topic filter for f: {root}/changes/{table}/{value|+}.
func (s *Subscriber) Topic(f core.TableFilter) string {
	if f.Column == "" || f.Value == "" {
		return s.builder.ChangesWildcard(f.Table)
	}
	return s.builder.Changes(f.Table, f.Value)
}

func (s *Subscriber) Subscribe(ctx context.Context, f core.TableFilter, handler core.EventHandler) (core.Subscription, error) {
	if f.Table == "" {
		return nil, fmt.Errorf("subscribe: table is required")
	}
	t := s.Topic(f)
	logger := s.logger.WithValues("table", f.Table, "topic", t)

	onMessage := func(_ context.Context, msgTopic string, payload []byte) {
		ev, err := DecodeChange(payload)
		if err != nil {
			metrics.FleetEventsTotal.WithLabelValues("malformed").Inc()
			logger.Warn("Dropping malformed change message", "msgTopic", msgTopic, "error", err)
			return
		}
		if ev.Table == "" {
			ev.Table, _ = s.builder.Table(msgTopic)
		}
		ev.ReceivedAt = s.clock.Now()
		handler(ev)
	}

	if err := s.client.Subscribe(ctx, t, changeQoS, onMessage); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", t, err)
	}
	return &subscription{client: s.client, filter: f, topic: t}, nil
}

type subscription struct {
	client mqtt.Client
	filter core.TableFilter
	topic  string
}

func (s *subscription) Filter() core.TableFilter { return s.filter }

func (s *subscription) Unsubscribe(ctx context.Context) error {
	if err := s.client.Unsubscribe(ctx, s.topic); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", s.topic, err)
	}
	return nil
}
