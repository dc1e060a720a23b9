package metrics

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineSnapshot is a point-in-time view of the running pipeline. The
// audio path keeps plain atomic counters; they are read here on scrape.
type PipelineSnapshot struct {
	Running bool

	EngineBlocks   uint64
	EngineOverruns uint64
	EngineRejected uint64
	LastSampleTime int64

	OutputFrames    uint64
	OutputUnderruns uint64
	OutputOverruns  uint64

	BufferCapacity int
	BufferFill     int

	RecorderWritten uint64
	RecorderDropped uint64
}

// PipelineSource returns the current snapshot.
type PipelineSource func() PipelineSnapshot

// PipelineMetrics exports pipeline counters collected from a PipelineSource.
// Counters restart with every rebuild, so they are exported as gauges of
// the current epoch.
type PipelineMetrics struct {
	mu     sync.RWMutex
	source PipelineSource

	running         *prometheus.Desc
	engineBlocks    *prometheus.Desc
	engineOverruns  *prometheus.Desc
	engineRejected  *prometheus.Desc
	lastSampleTime  *prometheus.Desc
	outputFrames    *prometheus.Desc
	outputUnderruns *prometheus.Desc
	outputOverruns  *prometheus.Desc
	bufferCapacity  *prometheus.Desc
	bufferFill      *prometheus.Desc
	recorderWritten *prometheus.Desc
	recorderDropped *prometheus.Desc
}

// NewPipelineMetrics creates and registers the pipeline collector. It
// reports nothing until SetSource is called.
func NewPipelineMetrics(registry prometheus.Registerer) (*PipelineMetrics, error) {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc("eqroute_pipeline_"+name, help, nil, nil)
	}
	m := &PipelineMetrics{
		running:         desc("running", "Whether the capture engine is attached"),
		engineBlocks:    desc("engine_blocks", "Render blocks seen by the capture hook in this epoch"),
		engineOverruns:  desc("engine_overruns", "Ring buffer writes that overwrote unread frames in this epoch"),
		engineRejected:  desc("engine_rejected", "Ring buffer writes rejected in this epoch"),
		lastSampleTime:  desc("last_sample_time", "End sample time of the last block written to the ring buffer"),
		outputFrames:    desc("output_frames", "Frames delivered to the output device in this epoch"),
		outputUnderruns: desc("output_underruns", "Output reads that were zero-filled in this epoch"),
		outputOverruns:  desc("output_overruns", "Output reads that skipped overwritten frames in this epoch"),
		bufferCapacity:  desc("buffer_capacity_frames", "Ring buffer capacity per channel"),
		bufferFill:      desc("buffer_fill_frames", "Frames written but not yet read"),
		recorderWritten: desc("recorder_written_frames", "Frames written by the recorder tap"),
		recorderDropped: desc("recorder_dropped_blocks", "Blocks the recorder tap dropped on a full FIFO"),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register pipeline metrics: %w", err)
	}
	return m, nil
}

// SetSource installs the snapshot function.
func (m *PipelineMetrics) SetSource(src PipelineSource) {
	m.mu.Lock()
	m.source = src
	m.mu.Unlock()
}

// Describe implements the prometheus.Collector interface.
func (m *PipelineMetrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.running
	ch <- m.engineBlocks
	ch <- m.engineOverruns
	ch <- m.engineRejected
	ch <- m.lastSampleTime
	ch <- m.outputFrames
	ch <- m.outputUnderruns
	ch <- m.outputOverruns
	ch <- m.bufferCapacity
	ch <- m.bufferFill
	ch <- m.recorderWritten
	ch <- m.recorderDropped
}

// Collect implements the prometheus.Collector interface.
func (m *PipelineMetrics) Collect(ch chan<- prometheus.Metric) {
	m.mu.RLock()
	src := m.source
	m.mu.RUnlock()
	if src == nil {
		return
	}
	s := src()

	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v)
	}
	gauge(m.running, boolToFloat(s.Running))
	gauge(m.engineBlocks, float64(s.EngineBlocks))
	gauge(m.engineOverruns, float64(s.EngineOverruns))
	gauge(m.engineRejected, float64(s.EngineRejected))
	gauge(m.lastSampleTime, float64(s.LastSampleTime))
	gauge(m.outputFrames, float64(s.OutputFrames))
	gauge(m.outputUnderruns, float64(s.OutputUnderruns))
	gauge(m.outputOverruns, float64(s.OutputOverruns))
	gauge(m.bufferCapacity, float64(s.BufferCapacity))
	gauge(m.bufferFill, float64(s.BufferFill))
	gauge(m.recorderWritten, float64(s.RecorderWritten))
	gauge(m.recorderDropped, float64(s.RecorderDropped))
}
