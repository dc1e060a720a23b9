package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlogLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	log := NewSlogLogger(&buf, LogLevelInfo, time.UTC)

	log.Debug("hidden")
	log.Info("visible", String("device", "Speakers"), Float64("gain", 0.12345))

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "visible")
	assert.Contains(t, out, "device=Speakers")
	assert.Contains(t, out, "gain=0.123")
	assert.NotContains(t, out, "time=", "console output drops timestamps")
}

func TestTraceLevelRendersName(t *testing.T) {
	var buf bytes.Buffer
	log := NewSlogLogger(&buf, LogLevelTrace, nil)

	log.Trace("sample time", Int64("start", 512))

	assert.Contains(t, buf.String(), "level=TRACE")
	assert.Contains(t, buf.String(), "start=512")
}

func TestModuleNestingAndFields(t *testing.T) {
	var buf bytes.Buffer
	base := NewSlogLogger(&buf, LogLevelDebug, nil)

	log := base.Module("pipeline").Module("output").With(Uint64("device_id", 7))
	log.Warn("underrun")

	out := buf.String()
	assert.Contains(t, out, "module=pipeline.output")
	assert.Contains(t, out, "device_id=7")
	assert.Contains(t, out, "level=WARN")
}

func TestWithDoesNotShareFields(t *testing.T) {
	var buf bytes.Buffer
	base := NewSlogLogger(&buf, LogLevelInfo, nil).With(String("a", "1"))

	left := base.With(String("b", "2"))
	right := base.With(String("c", "3"))

	right.Info("right")
	assert.NotContains(t, buf.String(), "b=2")

	buf.Reset()
	left.Info("left")
	assert.NotContains(t, buf.String(), "c=3")
}

func TestWithContextAddsTraceID(t *testing.T) {
	var buf bytes.Buffer
	log := NewSlogLogger(&buf, LogLevelInfo, nil)

	log.WithContext(WithTraceID(context.Background(), "abc123")).Info("traced")
	assert.Contains(t, buf.String(), "trace_id=abc123")

	assert.Same(t, log, log.WithContext(context.Background()))
}

func TestCentralLoggerModuleFile(t *testing.T) {
	dir := t.TempDir()
	modulePath := filepath.Join(dir, "session.log")
	var console bytes.Buffer

	cl, err := NewCentralLogger(&LoggingConfig{
		DefaultLevel: "info",
		Console:      &ConsoleOutput{Enabled: true, Level: "info"},
		ModuleOutputs: map[string]ModuleOutput{
			"session": {Enabled: true, FilePath: modulePath, Level: "debug"},
		},
	}, WithConsoleWriter(&console))
	require.NoError(t, err)

	cl.Module("session").Debug("output selected", String("device", "Headphones"))
	cl.Module("profile").Info("profile saved")

	require.NoError(t, cl.Close())

	data, err := os.ReadFile(modulePath)
	require.NoError(t, err)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(string(data))), &rec))
	assert.Equal(t, "output selected", rec["msg"])
	assert.Equal(t, "session", rec["module"])
	assert.Equal(t, "Headphones", rec["device"])

	assert.Contains(t, console.String(), "profile saved")
	assert.NotContains(t, console.String(), "output selected")
}

func TestCentralLoggerRejectsBadTimezone(t *testing.T) {
	_, err := NewCentralLogger(&LoggingConfig{Timezone: "Mars/Olympus"})
	require.Error(t, err)

	_, err = NewCentralLogger(nil)
	require.Error(t, err)
}

func TestModuleLevelOverride(t *testing.T) {
	var console bytes.Buffer
	cl, err := NewCentralLogger(&LoggingConfig{
		DefaultLevel: "warn",
		Console:      &ConsoleOutput{Enabled: true, Level: "trace"},
		ModuleLevels: map[string]string{"ringbuffer": "debug"},
	}, WithConsoleWriter(&console))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cl.Close() })

	cl.Module("ringbuffer").Debug("overrun")
	cl.Module("session").Info("quiet")

	assert.Contains(t, console.String(), "overrun")
	assert.NotContains(t, console.String(), "quiet")
}

func TestBufferedFileWriterFlushAndClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "buffered.log")
	w, err := NewBufferedFileWriter(path, WithFlushInterval(0), WithBufferSize(1024))
	require.NoError(t, err)

	_, err = w.Write([]byte("hello\n"))
	require.NoError(t, err)
	assert.Equal(t, 6, w.Buffered())

	require.NoError(t, w.Flush())
	assert.Zero(t, w.Buffered())

	require.NoError(t, w.Close())
	require.NoError(t, w.Close(), "close is idempotent")

	_, err = w.Write([]byte("late"))
	require.Error(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))
	assert.Equal(t, path, w.FilePath())
}
