package mqtt

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/eqroute/internal/conf"
	"github.com/tphakala/eqroute/internal/errors"
	"github.com/tphakala/eqroute/internal/events"
	"github.com/tphakala/eqroute/internal/observability/metrics"
)

type published struct {
	topic   string
	payload string
}

type fakeClient struct {
	mu        sync.Mutex
	connected bool
	fail      error
	messages  []published
}

func (f *fakeClient) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	return nil
}

func (f *fakeClient) Publish(_ context.Context, topic, payload string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.messages = append(f.messages, published{topic, payload})
	return nil
}

func (f *fakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeClient) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
}

func (f *fakeClient) Messages() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.messages...)
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func newMQTTMetrics(t *testing.T) *metrics.MQTTMetrics {
	t.Helper()
	m, err := metrics.NewMQTTMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	return m
}

func TestBridgePublishesNotifications(t *testing.T) {
	client := &fakeClient{connected: true}
	m := newMQTTMetrics(t)
	b := NewBridge(client, Config{Topic: "home/eq"}, m)
	assert.Equal(t, "mqtt", b.Name())

	require.NoError(t, b.ProcessEvent(events.PipelineRunning(7, "USB DAC", 48000)))
	require.NoError(t, b.ProcessEvent(events.EnabledChanged(false)))
	require.NoError(t, b.ProcessEvent(events.OutputCreated()), "unbridged kinds are skipped")

	msgs := client.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "home/eq/pipeline-running", msgs[0].topic)
	assert.Equal(t, "home/eq/enabled-changed", msgs[1].topic)

	var running NotificationDTO
	require.NoError(t, json.Unmarshal([]byte(msgs[0].payload), &running))
	assert.Equal(t, "pipeline-running", running.Kind)
	assert.Equal(t, uint32(7), running.DeviceID)
	assert.Equal(t, "USB DAC", running.DeviceName)
	assert.InDelta(t, 48000, running.SampleRate, 0)
	assert.Nil(t, running.Enabled)

	var enabled map[string]any
	require.NoError(t, json.Unmarshal([]byte(msgs[1].payload), &enabled))
	assert.Equal(t, false, enabled["enabled"], "false survives omitempty")

	assert.InDelta(t, 1, counterValue(t, m.MessagesDelivered.WithLabelValues("pipeline-running")), 0)
}

func TestBridgeDisconnectedDrops(t *testing.T) {
	client := &fakeClient{}
	b := NewBridge(client, Config{}, nil)
	require.NoError(t, b.ProcessEvent(events.EngineCreated()))
	assert.Empty(t, client.Messages())
	assert.Equal(t, "eqroute/engine-created", b.Topic(events.KindEngineCreated), "default topic")
}

func TestBridgePublishError(t *testing.T) {
	client := &fakeClient{connected: true, fail: errors.NewStd("broker gone")}
	m := newMQTTMetrics(t)
	b := NewBridge(client, Config{}, m)

	require.Error(t, b.ProcessEvent(events.ErrorMessage("sink failed")))
	assert.InDelta(t, 1, counterValue(t, m.Errors.WithLabelValues("publish")), 0)

	own := events.ErrorMessage("publish timeout")
	own.Component = "mqtt"
	require.NoError(t, b.ProcessEvent(own), "own errors are not forwarded")
}

func TestConfigFromSettings(t *testing.T) {
	settings := &conf.Settings{}
	settings.Main.Name = "studio"
	settings.MQTT.Broker = "tcp://broker:1883"
	settings.MQTT.Retain = true

	cfg := ConfigFromSettings(settings)
	assert.Equal(t, "studio", cfg.ClientID)
	assert.Equal(t, "eqroute", cfg.Topic)
	assert.True(t, cfg.Retain)
	assert.Equal(t, 10*time.Second, cfg.PublishTimeout)
}

func TestClientOffline(t *testing.T) {
	_, err := NewClient(Config{}, nil)
	require.Error(t, err, "broker is required")

	cfg := DefaultConfig()
	cfg.Broker = "tcp://127.0.0.1:1"
	cfg.ConnectTimeout = 2 * time.Second
	c, err := NewClient(cfg, newMQTTMetrics(t))
	require.NoError(t, err)
	t.Cleanup(c.Disconnect)

	assert.False(t, c.IsConnected())
	err = c.Publish(context.Background(), "eqroute/test", "x")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryMQTTConnection))

	cfg.Broker = "://bad"
	c2, err := NewClient(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(c2.Disconnect)
	require.Error(t, c2.Connect(context.Background()))
	require.Error(t, c2.Connect(context.Background()), "second attempt inside the cooldown")
}
