// Package replay provides pose sources that do not need a camera or a pose
// model: an in-memory slice source, a JSONL file replayer and a synthetic
// generator. They back the dev mode of cmd/repcount and the package tests.
package replay

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/banshee-data/repcount/internal/pose"
	"github.com/banshee-data/repcount/internal/timeutil"
)

// SliceSource replays a fixed list of frames as fast as they are read. Once
// exhausted it returns io.EOF, or blocks until the context ends when Hold is
// set, which mimics a live camera that simply stops producing poses.
type SliceSource struct {
	mu     sync.Mutex
	frames []pose.Frame
	next   int
	closed bool
	done   chan struct{}

	// Hold keeps the source open after the last frame.
	Hold bool
	// Err, if set, is returned instead of io.EOF after the last frame.
	Err error
}

// NewSliceSource returns a source over frames.
func NewSliceSource(frames ...pose.Frame) *SliceSource {
	return &SliceSource{frames: frames, done: make(chan struct{})}
}

// Next returns the next frame.
func (s *SliceSource) Next(ctx context.Context) (pose.Frame, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return pose.Frame{}, io.ErrClosedPipe
	}
	if s.next < len(s.frames) {
		f := s.frames[s.next]
		s.next++
		s.mu.Unlock()
		return f, nil
	}
	hold, err := s.Hold, s.Err
	s.mu.Unlock()

	if err != nil {
		return pose.Frame{}, err
	}
	if !hold {
		return pose.Frame{}, io.EOF
	}
	select {
	case <-ctx.Done():
		return pose.Frame{}, ctx.Err()
	case <-s.done:
		return pose.Frame{}, io.ErrClosedPipe
	}
}

// Close releases any reader blocked in Next.
func (s *SliceSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	return nil
}

// Remaining reports how many frames have not been read yet.
func (s *SliceSource) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames) - s.next
}

// FileSource replays a JSONL recording, one pose.Frame per line. Frames are
// paced by the gaps between their recorded timestamps, scaled by Rate, and
// restamped with the clock's time so downstream debounce sees live time.
type FileSource struct {
	f     *os.File
	dec   *json.Decoder
	clock timeutil.Clock

	// Rate scales playback speed; 2 plays twice as fast. Zero or negative
	// disables pacing.
	Rate float64

	nextID   int64
	lastRec  time.Time
	hasFirst bool
}

// OpenFile opens a JSONL recording for replay.
func OpenFile(path string, clock timeutil.Clock) (*FileSource, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("open replay file: %w", err)
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &FileSource{
		f:     f,
		dec:   json.NewDecoder(bufio.NewReader(f)),
		clock: clock,
		Rate:  1,
	}, nil
}

// Next decodes the next recorded frame, waiting out the recorded inter-frame
// gap first.
func (s *FileSource) Next(ctx context.Context) (pose.Frame, error) {
	var frame pose.Frame
	if err := s.dec.Decode(&frame); err != nil {
		if err == io.EOF {
			return pose.Frame{}, io.EOF
		}
		return pose.Frame{}, fmt.Errorf("decode frame %d: %w", s.nextID, err)
	}

	if s.hasFirst && s.Rate > 0 {
		gap := time.Duration(float64(frame.Time.Sub(s.lastRec)) / s.Rate)
		if err := s.wait(ctx, gap); err != nil {
			return pose.Frame{}, err
		}
	}
	s.lastRec = frame.Time
	s.hasFirst = true

	s.nextID++
	frame.ID = s.nextID
	frame.Time = s.clock.Now()
	return frame, nil
}

func (s *FileSource) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	ticker := s.clock.NewTicker(d)
	defer ticker.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ticker.C():
		return nil
	}
}

// Close closes the underlying file.
func (s *FileSource) Close() error {
	return s.f.Close()
}

// Recorder writes displayed frames as JSONL so a session can be replayed
// later with FileSource. It satisfies the pipeline's display interface.
type Recorder struct {
	mu  sync.Mutex
	w   *bufio.Writer
	c   io.Closer
	enc *json.Encoder
	n   int
}

// NewRecorder writes frames to w. If w is an io.Closer it is closed by Close.
func NewRecorder(w io.Writer) *Recorder {
	bw := bufio.NewWriter(w)
	r := &Recorder{w: bw, enc: json.NewEncoder(bw)}
	if c, ok := w.(io.Closer); ok {
		r.c = c
	}
	return r
}

// CreateRecorder creates (or truncates) path and records into it.
func CreateRecorder(path string) (*Recorder, error) {
	f, err := os.Create(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("create recording: %w", err)
	}
	return NewRecorder(f), nil
}

// Display appends the frame to the recording.
func (r *Recorder) Display(_ context.Context, frame pose.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enc.Encode(frame); err != nil {
		return fmt.Errorf("record frame %d: %w", frame.ID, err)
	}
	r.n++
	return nil
}

// Frames returns the number of frames recorded so far.
func (r *Recorder) Frames() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

// Close flushes buffered frames and closes the destination.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.w.Flush(); err != nil {
		return err
	}
	if r.c != nil {
		return r.c.Close()
	}
	return nil
}
