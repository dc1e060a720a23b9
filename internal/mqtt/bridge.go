package mqtt

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tphakala/eqroute/internal/errors"
	"github.com/tphakala/eqroute/internal/events"
	"github.com/tphakala/eqroute/internal/logger"
	"github.com/tphakala/eqroute/internal/observability/metrics"
)

// bridgedKinds are the notifications forwarded to the broker.
var bridgedKinds = map[events.Kind]bool{
	events.KindEngineCreated:   true,
	events.KindPipelineRunning: true,
	events.KindEnabledChanged:  true,
	events.KindError:           true,
	events.KindProfilesChanged: true,
	events.KindOutputSelected:  true,
	events.KindGainChanged:     true,
}

// Bridge is an events.Consumer that publishes notifications as JSON to
// <topic>/<kind>.
type Bridge struct {
	client  Client
	topic   string
	timeout time.Duration
	metrics *metrics.MQTTMetrics
}

var _ events.Consumer = (*Bridge)(nil)

// NewBridge creates a bridge publishing through client. m may be nil.
func NewBridge(client Client, cfg Config, m *metrics.MQTTMetrics) *Bridge {
	timeout := cfg.PublishTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().PublishTimeout
	}
	topic := cfg.Topic
	if topic == "" {
		topic = DefaultConfig().Topic
	}
	return &Bridge{client: client, topic: topic, timeout: timeout, metrics: m}
}

// Name implements events.Consumer.
func (b *Bridge) Name() string { return "mqtt" }

// Topic returns the topic a notification kind is published to.
func (b *Bridge) Topic(kind events.Kind) string {
	return b.topic + "/" + string(kind)
}

// ProcessEvent implements events.Consumer. Unbridged kinds are skipped and
// a disconnected client drops the notification without an error. Errors
// raised by this package are not forwarded, or a failing broker would feed
// its own error stream.
func (b *Bridge) ProcessEvent(n events.Notification) error {
	if !bridgedKinds[n.Kind] {
		return nil
	}
	if n.Kind == events.KindError && n.Component == "mqtt" {
		return nil
	}
	if !b.client.IsConnected() {
		log.Debug("not connected, dropping notification", logger.String("kind", string(n.Kind)))
		return nil
	}

	payload, err := json.Marshal(NewNotificationDTO(n))
	if err != nil {
		if b.metrics != nil {
			b.metrics.IncrementErrors("marshal")
		}
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryMQTTPublish).
			Context("kind", string(n.Kind)).
			Build()
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	if err := b.client.Publish(ctx, b.Topic(n.Kind), string(payload)); err != nil {
		if b.metrics != nil {
			b.metrics.IncrementErrors("publish")
		}
		return err
	}
	if b.metrics != nil {
		b.metrics.IncrementMessagesDelivered(string(n.Kind))
	}
	return nil
}
