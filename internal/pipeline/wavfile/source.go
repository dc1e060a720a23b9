// Package wavfile provides WAV file implementations of the pipeline's
// Source and Sink, used to render files offline through the same graph
// that serves live devices.
package wavfile

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/tphakala/eqroute/internal/errors"
	"github.com/tphakala/eqroute/internal/pipeline"
)

// DefaultFrameSize is the block size used when none is given.
const DefaultFrameSize = 512

// Source renders a WAV file block by block as fast as the graph accepts it.
type Source struct {
	path     string
	file     *os.File
	dec      *wav.Decoder
	format   pipeline.Format
	divisor  float32
	afterFn  func(frames int)
	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	err      error
	finished bool
}

// OpenSource opens path and reads its header. Supported files are PCM
// with 16, 24 or 32 bits per sample.
func OpenSource(path string, frameSize int) (*Source, error) {
	if frameSize <= 0 {
		frameSize = DefaultFrameSize
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.New(err).
			Component("pipeline").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}

	dec := wav.NewDecoder(file)
	dec.ReadInfo()
	if !dec.IsValidFile() {
		_ = file.Close()
		return nil, errors.Newf("input is not a valid WAV audio file").
			Component("pipeline").
			Category(errors.CategoryFileParsing).
			Context("path", path).
			Build()
	}
	switch dec.BitDepth {
	case 16, 24, 32:
	default:
		_ = file.Close()
		return nil, errors.Newf("unsupported bit depth: %d", dec.BitDepth).
			Component("pipeline").
			Category(errors.CategoryFileParsing).
			Context("path", path).
			Build()
	}
	if err := dec.FwdToPCM(); err != nil {
		_ = file.Close()
		return nil, errors.New(err).
			Component("pipeline").
			Category(errors.CategoryFileParsing).
			Context("path", path).
			Context("operation", "seek_pcm").
			Build()
	}

	return &Source{
		path: path,
		file: file,
		dec:  dec,
		format: pipeline.Format{
			SampleRate: float64(dec.SampleRate),
			Channels:   int(dec.NumChans),
			FrameSize:  frameSize,
		},
		divisor: float32(int(1) << (dec.BitDepth - 1)),
		done:    make(chan struct{}),
	}, nil
}

// Name implements pipeline.Source.
func (s *Source) Name() string { return s.path }

// Format implements pipeline.Source.
func (s *Source) Format() pipeline.Format { return s.format }

// AfterBlock registers fn to run after every rendered block on the
// source goroutine. Offline rendering uses it to pull the output in
// lockstep.
func (s *Source) AfterBlock(fn func(frames int)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.afterFn = fn
}

// Done is closed when the file is exhausted, fails, or the source stops.
func (s *Source) Done() <-chan struct{} { return s.done }

// Err returns the read error that ended rendering, if any.
func (s *Source) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Start implements pipeline.Source.
func (s *Source) Start(ctx context.Context, render pipeline.RenderFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return errors.Newf("wav source already started").
			Component("pipeline").
			Category(errors.CategoryState).
			Build()
	}
	ctx, s.cancel = context.WithCancel(ctx)
	go s.run(ctx, render, s.afterFn)
	return nil
}

func (s *Source) run(ctx context.Context, render pipeline.RenderFunc, after func(int)) {
	defer close(s.done)

	channels := s.format.Channels
	frames := make([][]float32, channels)
	for ch := range frames {
		frames[ch] = make([]float32, s.format.FrameSize)
	}
	buf := &audio.IntBuffer{
		Data:   make([]int, s.format.FrameSize*channels),
		Format: &audio.Format{SampleRate: int(s.format.SampleRate), NumChannels: channels},
	}

	var sampleTime int64
	for ctx.Err() == nil {
		n, err := s.dec.PCMBuffer(buf)
		if err != nil && err != io.EOF {
			s.fail(err)
			return
		}
		count := n / channels
		if count == 0 {
			return
		}
		for i := range count {
			for ch := range channels {
				frames[ch][i] = float32(buf.Data[i*channels+ch]) / s.divisor
			}
		}
		block := frames
		if count < s.format.FrameSize {
			block = make([][]float32, channels)
			for ch := range channels {
				block[ch] = frames[ch][:count]
			}
		}

		render(block, sampleTime)
		sampleTime += int64(count)
		if after != nil {
			after(count)
		}
	}
}

func (s *Source) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = errors.New(err).
		Component("pipeline").
		Category(errors.CategoryFileParsing).
		Context("path", s.path).
		Context("operation", "read_pcm").
		Build()
}

// Stop implements pipeline.Source. It waits for the render goroutine.
func (s *Source) Stop() error {
	s.mu.Lock()
	cancel := s.cancel
	finished := s.finished
	s.finished = true
	s.mu.Unlock()

	if finished {
		return nil
	}
	if cancel != nil {
		cancel()
		<-s.done
	}
	return s.file.Close()
}
