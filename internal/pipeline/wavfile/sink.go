package wavfile

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/tphakala/eqroute/internal/errors"
	"github.com/tphakala/eqroute/internal/pipeline"
)

const (
	sinkBitDepth  = 16
	sinkPCMFormat = 1
)

// Sink writes pulled blocks to a 16-bit WAV file. It has no clock of its
// own: each Pump pulls and encodes one block.
type Sink struct {
	path   string
	format pipeline.Format
	file   *os.File
	enc    *wav.Encoder

	mu      sync.Mutex
	pull    pipeline.PullFunc
	frames  [][]float32
	ints    *audio.IntBuffer
	written int64
	closed  bool
}

// CreateSink creates path for writing blocks of format.
func CreateSink(path string, format pipeline.Format) (*Sink, error) {
	if err := format.Validate(); err != nil {
		return nil, errors.New(err).
			Component("pipeline").
			Category(errors.CategoryValidation).
			Context("path", path).
			Build()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.New(err).
			Component("pipeline").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, errors.New(err).
			Component("pipeline").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}

	frames := make([][]float32, format.Channels)
	for ch := range frames {
		frames[ch] = make([]float32, format.FrameSize)
	}
	return &Sink{
		path:   path,
		format: format,
		file:   file,
		enc:    wav.NewEncoder(file, int(format.SampleRate), sinkBitDepth, format.Channels, sinkPCMFormat),
		frames: frames,
		ints: &audio.IntBuffer{
			Data:           make([]int, format.FrameSize*format.Channels),
			Format:         &audio.Format{SampleRate: int(format.SampleRate), NumChannels: format.Channels},
			SourceBitDepth: sinkBitDepth,
		},
	}, nil
}

// Name implements pipeline.Sink.
func (s *Sink) Name() string { return s.path }

// Format implements pipeline.Sink.
func (s *Sink) Format() pipeline.Format { return s.format }

// Start implements pipeline.Sink.
func (s *Sink) Start(_ context.Context, pull pipeline.PullFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.Newf("wav sink closed").
			Component("pipeline").
			Category(errors.CategoryState).
			Build()
	}
	s.pull = pull
	return nil
}

// Pump pulls n frames and appends them to the file.
func (s *Sink) Pump(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pull == nil || s.closed || n <= 0 {
		return nil
	}
	n = min(n, s.format.FrameSize)

	block := make([][]float32, len(s.frames))
	for ch := range s.frames {
		block[ch] = s.frames[ch][:n]
	}
	s.pull(block)

	channels := s.format.Channels
	s.ints.Data = s.ints.Data[:n*channels]
	for i := range n {
		for ch := range channels {
			s.ints.Data[i*channels+ch] = int(pipeline.FloatToInt16(block[ch][i]))
		}
	}
	if err := s.enc.Write(s.ints); err != nil {
		return errors.New(err).
			Component("pipeline").
			Category(errors.CategoryFileIO).
			Context("path", s.path).
			Context("operation", "write_pcm").
			Build()
	}
	s.written += int64(n)
	return nil
}

// Written returns the number of frames written.
func (s *Sink) Written() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

// Stop implements pipeline.Sink. It finalizes the WAV header and closes
// the file.
func (s *Sink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.pull = nil

	if err := s.enc.Close(); err != nil {
		_ = s.file.Close()
		return errors.New(err).
			Component("pipeline").
			Category(errors.CategoryFileIO).
			Context("path", s.path).
			Context("operation", "finalize_wav").
			Build()
	}
	return s.file.Close()
}
