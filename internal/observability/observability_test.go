package observability

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/eqroute/internal/conf"
	"github.com/tphakala/eqroute/internal/errors"
	"github.com/tphakala/eqroute/internal/events"
	"github.com/tphakala/eqroute/internal/observability/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fixedStats events.Stats

func (s fixedStats) GetStats() events.Stats { return events.Stats(s) }

func TestNotificationConsumerCountsKinds(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)

	c := m.NotificationConsumer()
	assert.Equal(t, "metrics", c.Name())
	require.NoError(t, c.ProcessEvent(events.EngineCreated()))
	require.NoError(t, c.ProcessEvent(events.EngineCreated()))
	require.NoError(t, c.ProcessEvent(events.EnabledChanged(true)))

	assert.InDelta(t, 2, testutil.ToFloat64(m.notifications.WithLabelValues(string(events.KindEngineCreated))), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.notifications.WithLabelValues(string(events.KindEnabledChanged))), 0)
}

func TestErrorHookCountsBuiltErrors(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)

	errors.AddErrorHook(m.ErrorHook())
	t.Cleanup(errors.ClearErrorHooks)

	for range 2 {
		_ = errors.Newf("device vanished").
			Component("device").
			Category(errors.CategoryDevice).
			Build()
	}

	assert.InDelta(t, 2, testutil.ToFloat64(m.errors.WithLabelValues("device", string(errors.CategoryDevice))), 0)
}

func TestRegisterBusStats(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)
	require.NoError(t, m.RegisterBusStats(fixedStats{EventsReceived: 7, EventsDropped: 2}))

	expected := `
# HELP eqroute_events_dropped_total Notifications dropped on a full queue
# TYPE eqroute_events_dropped_total counter
eqroute_events_dropped_total 2
# HELP eqroute_events_received_total Notifications accepted by the bus
# TYPE eqroute_events_received_total counter
eqroute_events_received_total 7
`
	require.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected),
		"eqroute_events_received_total", "eqroute_events_dropped_total"))

	require.Error(t, m.RegisterBusStats(fixedStats{}), "second registration collides")
}

func TestNewEndpointDisabled(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)
	_, err = NewEndpoint(&conf.Settings{}, m)
	require.Error(t, err)
}

func TestEndpointServesMetrics(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)
	m.Session.SetEnabled(true)
	m.Pipeline.SetSource(func() metrics.PipelineSnapshot {
		return metrics.PipelineSnapshot{Running: true, BufferCapacity: 2048}
	})

	settings := &conf.Settings{}
	settings.Metrics.Enabled = true
	settings.Metrics.Listen = "127.0.0.1:0"
	ep, err := NewEndpoint(settings, m)
	require.NoError(t, err)
	assert.Same(t, m, ep.GetMetrics())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ep.Serve(ctx, ln) }()

	client := &http.Client{Timeout: 2 * time.Second}
	var body string
	require.Eventually(t, func() bool {
		resp, err := client.Get("http://" + ln.Addr().String() + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil || resp.StatusCode != http.StatusOK {
			return false
		}
		body = string(data)
		return true
	}, 2*time.Second, 20*time.Millisecond)

	assert.Contains(t, body, "eqroute_session_enabled 1")
	assert.Contains(t, body, "eqroute_pipeline_buffer_capacity_frames 2048")
	assert.Contains(t, body, "go_goroutines")

	client.CloseIdleConnections()
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("endpoint did not stop")
	}
}
