package pipeline

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/smallnest/ringbuffer"

	"github.com/tphakala/eqroute/internal/errors"
	"github.com/tphakala/eqroute/internal/logger"
)

const (
	recorderBitDepth  = 16
	recorderPCMFormat = 1
	recorderInterval  = 50 * time.Millisecond
	recorderFrames    = 4096
)

// RecorderConfig configures the output recorder tap.
type RecorderConfig struct {
	Path          string
	SampleRate    int
	Channels      int
	FrameSize     int // frames converted per FIFO write; larger blocks are split
	BufferSeconds int
	Logger        logger.Logger
}

// Recorder copies played audio into a 16-bit WAV file. Tap is called from
// the output callback and never allocates; a writer goroutine drains the
// FIFO into the encoder. The FIFO mutex is shared with that goroutine, which
// holds it only for the copy of one chunk.
type Recorder struct {
	path       string
	channels   int
	frameBytes int

	fifo    *ringbuffer.RingBuffer
	scratch []byte

	file *os.File
	enc  *wav.Encoder
	log  logger.Logger

	dropped atomic.Uint64
	written atomic.Uint64

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// NewRecorder creates the WAV file and its encoder.
func NewRecorder(cfg RecorderConfig) (*Recorder, error) {
	if cfg.Path == "" || cfg.SampleRate <= 0 || cfg.Channels <= 0 {
		return nil, errors.Newf("recorder requires a path, sample rate and channel count").
			Component("pipeline").
			Category(errors.CategoryValidation).
			Context("path", cfg.Path).
			Build()
	}
	if cfg.BufferSeconds <= 0 {
		cfg.BufferSeconds = 2
	}
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = recorderFrames
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Global().Module("pipeline.recorder")
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, errors.New(err).
			Component("pipeline").
			Category(errors.CategoryFileIO).
			Context("path", cfg.Path).
			Context("operation", "create_directory").
			Build()
	}
	file, err := os.Create(cfg.Path)
	if err != nil {
		return nil, errors.New(err).
			Component("pipeline").
			Category(errors.CategoryFileIO).
			Context("path", cfg.Path).
			Context("operation", "create_file").
			Build()
	}

	frameBytes := cfg.Channels * recorderBitDepth / 8
	return &Recorder{
		path:       cfg.Path,
		channels:   cfg.Channels,
		frameBytes: frameBytes,
		fifo:       ringbuffer.New(cfg.SampleRate * cfg.BufferSeconds * frameBytes),
		scratch:    make([]byte, cfg.FrameSize*frameBytes),
		file:       file,
		enc:        wav.NewEncoder(file, cfg.SampleRate, recorderBitDepth, cfg.Channels, recorderPCMFormat),
		log:        log,
	}, nil
}

// Start launches the writer goroutine.
func (r *Recorder) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go r.drainLoop(ctx)
}

// Tap queues the first n frames of frames. Blocks that do not fit are
// dropped whole and counted.
func (r *Recorder) Tap(frames [][]float32, n int) {
	if len(frames) < r.channels || n <= 0 {
		return
	}
	if r.fifo.Free() < n*r.frameBytes {
		r.dropped.Add(1)
		return
	}
	// only Tap writes, so the space checked above stays free
	chunk := len(r.scratch) / r.frameBytes
	for from := 0; from < n; from += chunk {
		to := min(from+chunk, n)
		buf := r.scratch[:(to-from)*r.frameBytes]
		for i := from; i < to; i++ {
			for ch := range r.channels {
				off := ((i-from)*r.channels + ch) * 2
				binary.LittleEndian.PutUint16(buf[off:], uint16(FloatToInt16(frames[ch][i])))
			}
		}
		if _, err := r.fifo.Write(buf); err != nil {
			r.dropped.Add(1)
			return
		}
	}
}

func (r *Recorder) drainLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(recorderInterval)
	defer ticker.Stop()

	chunk := make([]byte, 64*1024-(64*1024)%r.frameBytes)
	samples := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: r.channels},
		SourceBitDepth: recorderBitDepth,
	}
	for {
		select {
		case <-ctx.Done():
			// final drain
			for r.drainOnce(chunk, samples) > 0 {
			}
			return
		case <-ticker.C:
			for r.drainOnce(chunk, samples) == len(chunk) {
			}
		}
	}
}

// drainOnce moves whole frames from the FIFO to the encoder and returns
// the number of bytes moved.
func (r *Recorder) drainOnce(chunk []byte, samples *audio.IntBuffer) int {
	avail := r.fifo.Length()
	avail -= avail % r.frameBytes
	if avail == 0 {
		return 0
	}
	n, err := r.fifo.Read(chunk[:min(avail, len(chunk))])
	if err != nil || n == 0 {
		return 0
	}

	count := n / 2
	if cap(samples.Data) < count {
		samples.Data = make([]int, count)
	}
	samples.Data = samples.Data[:count]
	for i := range count {
		samples.Data[i] = int(int16(binary.LittleEndian.Uint16(chunk[i*2:])))
	}
	if err := r.enc.Write(samples); err != nil {
		r.log.Warn("failed to write recorder samples",
			logger.String("path", r.path),
			logger.Error(err))
		return 0
	}
	r.written.Add(uint64(n / r.frameBytes))
	return n
}

// Close stops the writer, flushes pending frames and finalizes the file.
func (r *Recorder) Close() error {
	r.closeOnce.Do(func() {
		if r.cancel != nil {
			r.cancel()
		}
		r.wg.Wait()

		if err := r.enc.Close(); err != nil {
			r.closeErr = errors.New(err).
				Component("pipeline").
				Category(errors.CategoryFileIO).
				Context("path", r.path).
				Context("operation", "finalize_wav").
				Build()
		}
		if err := r.file.Close(); err != nil && r.closeErr == nil {
			r.closeErr = errors.New(err).
				Component("pipeline").
				Category(errors.CategoryFileIO).
				Context("path", r.path).
				Build()
		}
		r.log.Info("output recording closed",
			logger.String("path", r.path),
			logger.Uint64("frames", r.written.Load()),
			logger.Uint64("dropped_blocks", r.dropped.Load()))
	})
	return r.closeErr
}

// Dropped returns the number of blocks that did not fit in the FIFO.
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

// Written returns the number of frames written to the file.
func (r *Recorder) Written() uint64 { return r.written.Load() }
