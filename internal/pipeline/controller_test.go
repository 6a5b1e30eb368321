package pipeline

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/repcount/internal/config"
	"github.com/banshee-data/repcount/internal/pose"
	"github.com/banshee-data/repcount/internal/posemux"
	"github.com/banshee-data/repcount/internal/replay"
	"github.com/banshee-data/repcount/internal/session"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// deepBuffers keeps every frame on the lossy display path as well, so
// display counts do not depend on goroutine scheduling.
func deepBuffers() *config.TuningConfig {
	n := 10000
	return &config.TuningConfig{DisplayBuffer: &n, ClassificationBuffer: &n}
}

type memStore struct {
	mu       sync.Mutex
	sessions []session.Summary
}

func (s *memStore) SaveSession(_ context.Context, sum session.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = append(s.sessions, sum)
	return nil
}

func (s *memStore) all() []session.Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]session.Summary(nil), s.sessions...)
}

type recordingDisplay struct {
	mu     sync.Mutex
	frames int
	err    error
}

func (d *recordingDisplay) Display(_ context.Context, _ pose.Frame) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.frames++
	return d.err
}

func (d *recordingDisplay) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frames
}

// sources hands out a fresh source per Start and remembers the facings asked
// for.
type sources struct {
	mu      sync.Mutex
	facings []Facing
	make    func() pose.Source
	err     error
}

func (s *sources) factory(_ context.Context, f Facing) (pose.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.facings = append(s.facings, f)
	if s.err != nil {
		return nil, s.err
	}
	return s.make(), nil
}

func (s *sources) asked() []Facing {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Facing(nil), s.facings...)
}

func finite(frames []pose.Frame) func() pose.Source {
	return func() pose.Source { return replay.NewSliceSource(frames...) }
}

func held(frames []pose.Frame) func() pose.Source {
	return func() pose.Source {
		src := replay.NewSliceSource(frames...)
		src.Hold = true
		return src
	}
}

func newController(t *testing.T, src *sources, store *memStore, display Display) *Controller {
	t.Helper()
	return newTunedController(t, src, store, display, deepBuffers())
}

func newTunedController(t *testing.T, src *sources, store *memStore, display Display, tuning *config.TuningConfig) *Controller {
	t.Helper()
	opts := Options{Sources: src.factory, Tuning: tuning, Display: display}
	if store != nil {
		opts.Store = store
	}
	c, err := NewController(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Stop() })
	return c
}

func waitDone(t *testing.T, c *Controller) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not finish")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestNewController_RequiresSources(t *testing.T) {
	_, err := NewController(Options{})
	assert.Error(t, err)
}

func TestFlamingoSession_EndsWithSource(t *testing.T) {
	frames := replay.Sequence(epoch, 30, 90, func(time.Duration) pose.Pose { return replay.FlamingoHold() })
	src := &sources{make: finite(frames)}
	store := &memStore{}
	display := &recordingDisplay{}
	c := newController(t, src, store, display)

	require.NoError(t, c.Start(context.Background(), SessionConfig{Exercise: "Flamingo", CalorieIncrement: 0.5}))
	waitDone(t, c)

	assert.ErrorIs(t, c.Err(), posemux.ErrSourceEnded)
	st := c.Status()
	assert.Equal(t, StateIdle, st.State)
	assert.Contains(t, st.LastError, "ended")

	snap := c.Accumulator().Snapshot()
	assert.Equal(t, 3.0, snap.Count)
	assert.Equal(t, 1.5, snap.Calories)
	assert.Equal(t, 90, display.count())

	saved := store.all()
	require.Len(t, saved, 1)
	assert.Equal(t, "Flamingo", saved[0].Exercise)
	assert.Equal(t, "warmup", saved[0].Catalog)
	assert.Equal(t, "front", saved[0].Facing)
	assert.Equal(t, 3.0, saved[0].Count)
	assert.Len(t, saved[0].Events, 3)
	assert.NotEmpty(t, saved[0].Error)

	_, ok := c.LatestFrame()
	assert.False(t, ok, "latest frame is released when the session ends")
	assert.ErrorIs(t, c.Stop(), ErrNotRunning)
}

func TestLearnedSession_JumpingJacks(t *testing.T) {
	frames := replay.Sequence(epoch, 30, 160, replay.PatternFor("Jumping Jacks"))
	src := &sources{make: finite(frames)}
	c := newController(t, src, nil, nil)

	require.NoError(t, c.Start(context.Background(), SessionConfig{Exercise: "jumping jacks"}))
	waitDone(t, c)

	snap := c.Accumulator().Snapshot()
	assert.Equal(t, 4.0, snap.Count)
	assert.Greater(t, snap.CalorieIncrement, 0.0, "increment derived from the catalog")
	assert.InDelta(t, snap.Count*snap.CalorieIncrement, snap.Calories, 1e-9)
	assert.Equal(t, 4.0, snap.LastCumulativeCount)
}

func TestSquatSession_StopKeepsCounters(t *testing.T) {
	var ps []pose.Pose
	for i := 0; i < 2; i++ {
		ps = append(ps, replay.SquatUp(), replay.SquatDown())
	}
	frames := make([]pose.Frame, len(ps))
	for i, p := range ps {
		frames[i] = pose.Frame{ID: int64(i + 1), Time: epoch.Add(time.Duration(i) * 100 * time.Millisecond), Poses: []pose.Pose{p}}
	}

	src := &sources{make: held(frames)}
	c := newController(t, src, nil, nil)
	require.NoError(t, c.Start(context.Background(), SessionConfig{Exercise: "Squat", CalorieIncrement: 1}))

	waitFor(t, func() bool { return c.Accumulator().Snapshot().Count == 2 })
	assert.Equal(t, StateRunning, c.Status().State)
	waitFor(t, func() bool { _, ok := c.LatestFrame(); return ok })

	require.NoError(t, c.Stop(), "cancellation is not a failure")
	assert.NoError(t, c.Err())
	assert.Equal(t, StateIdle, c.Status().State)
	assert.Equal(t, 2.0, c.Accumulator().Snapshot().Count)
	assert.Equal(t, 2.0, c.Accumulator().Snapshot().Calories)
	_, ok := c.LatestFrame()
	assert.False(t, ok)
}

func TestRestartResetsCountersAndDebounce(t *testing.T) {
	frames := replay.Sequence(epoch, 30, 5, func(time.Duration) pose.Pose { return replay.FlamingoHold() })
	src := &sources{make: held(frames)}
	store := &memStore{}
	c := newController(t, src, store, nil)
	cfg := SessionConfig{Exercise: "Flamingo", CalorieIncrement: 2}

	require.NoError(t, c.Start(context.Background(), cfg))
	waitFor(t, func() bool { return c.Accumulator().Snapshot().Count == 1 })

	// Start while running stops the first session implicitly. The replayed
	// frames carry the same timestamps, so the new session only counts if
	// its debounce timer starts fresh.
	require.NoError(t, c.Start(context.Background(), cfg))
	waitFor(t, func() bool { return c.Accumulator().Snapshot().Count == 1 })
	snap := c.Accumulator().Snapshot()
	assert.Equal(t, 1.0, snap.Count)
	assert.Equal(t, 2.0, snap.Calories)
	assert.Len(t, c.Accumulator().Events(), 1)

	require.NoError(t, c.Stop())
	assert.Len(t, store.all(), 2)
}

func TestToggleCamera(t *testing.T) {
	frames := replay.Sequence(epoch, 30, 3, func(time.Duration) pose.Pose { return replay.PlankHold() })
	src := &sources{make: held(frames)}
	c := newController(t, src, nil, nil)

	assert.ErrorIs(t, c.ToggleCamera(context.Background()), ErrNotRunning)

	require.NoError(t, c.Start(context.Background(), SessionConfig{Exercise: "Planks", CalorieIncrement: 1, Facing: FacingBack}))
	waitFor(t, func() bool { return c.Accumulator().Snapshot().Count == 1 })

	require.NoError(t, c.ToggleCamera(context.Background()))
	st := c.Status()
	assert.Equal(t, StateRunning, st.State)
	require.NotNil(t, st.Session)
	assert.Equal(t, FacingFront, st.Session.Facing)
	assert.Equal(t, "Planks", st.Session.Exercise)
	assert.Equal(t, []Facing{FacingBack, FacingFront}, src.asked())

	waitFor(t, func() bool { return c.Accumulator().Snapshot().Count == 1 })
	assert.Len(t, c.Accumulator().Events(), 1, "pre-toggle events discarded")
}

func TestSourceFailureEndsSession(t *testing.T) {
	boom := errors.New("camera permission revoked")
	src := &sources{make: func() pose.Source {
		s := replay.NewSliceSource(replay.Sequence(epoch, 30, 3, replay.PatternFor("squat"))...)
		s.Err = boom
		return s
	}}
	store := &memStore{}
	c := newController(t, src, store, nil)

	require.NoError(t, c.Start(context.Background(), SessionConfig{Exercise: "Squat"}))
	waitDone(t, c)

	assert.ErrorIs(t, c.Err(), boom)
	assert.Equal(t, StateIdle, c.Status().State)
	assert.ErrorIs(t, c.Stop(), ErrNotRunning)
	require.Len(t, store.all(), 1)
	assert.Contains(t, store.all()[0].Error, "camera permission revoked")

	// a failed session can be resumed on the other camera
	src.make = held(nil)
	require.NoError(t, c.ToggleCamera(context.Background()))
	assert.Equal(t, StateRunning, c.Status().State)
	assert.NoError(t, c.Err())
}

func TestDisplayFailureEndsSession(t *testing.T) {
	src := &sources{make: held(replay.Sequence(epoch, 30, 3, replay.PatternFor("squat")))}
	display := &recordingDisplay{err: errors.New("surface lost")}
	c := newController(t, src, nil, display)

	require.NoError(t, c.Start(context.Background(), SessionConfig{Exercise: "Squat"}))
	waitDone(t, c)
	require.Error(t, c.Err())
	assert.Contains(t, c.Err().Error(), "surface lost")
}

func TestSourceFactoryError(t *testing.T) {
	src := &sources{err: errors.New("no camera")}
	c := newController(t, src, nil, nil)

	err := c.Start(context.Background(), SessionConfig{Exercise: "Squat"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no camera")
	assert.Equal(t, StateIdle, c.Status().State)
}

func TestInvalidFacing(t *testing.T) {
	c := newController(t, &sources{make: held(nil)}, nil, nil)
	assert.ErrorIs(t, c.Start(context.Background(), SessionConfig{Exercise: "Squat", Facing: "sideways"}), ErrInvalidFacing)
}

func TestUnknownExerciseCountsNothing(t *testing.T) {
	frames := replay.Sequence(epoch, 30, 60, func(time.Duration) pose.Pose { return replay.FlamingoHold() })
	src := &sources{make: finite(frames)}
	c := newController(t, src, nil, nil)

	require.NoError(t, c.Start(context.Background(), SessionConfig{Exercise: "Handstand", CalorieIncrement: 1}))
	waitDone(t, c)
	assert.Zero(t, c.Accumulator().Snapshot().Count)
	assert.Equal(t, "Handstand", c.Accumulator().Snapshot().Exercise)
}

func TestConcurrentStartStop(t *testing.T) {
	src := &sources{make: held(replay.Sequence(epoch, 30, 10, replay.PatternFor("flamingo")))}
	c := newController(t, src, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				if (i+j)%2 == 0 {
					_ = c.Start(context.Background(), SessionConfig{Exercise: "Flamingo"})
				} else {
					_ = c.Stop()
				}
				_ = c.Status()
			}
		}(i)
	}
	wg.Wait()

	_ = c.Stop()
	assert.Equal(t, StateIdle, c.Status().State)
	assert.Nil(t, c.Mux())
}

func TestStatusWhileRunning(t *testing.T) {
	src := &sources{make: held(replay.Sequence(epoch, 30, 4, replay.PatternFor("squat")))}
	c := newController(t, src, nil, nil)
	require.NoError(t, c.Start(context.Background(), SessionConfig{Exercise: "Squat"}))

	waitFor(t, func() bool { return c.Status().FramesPublished == 4 })
	st := c.Status()
	assert.NotEmpty(t, st.SessionID)
	assert.Equal(t, "geometric", string(st.Method))
	assert.Len(t, st.Fanout, 2)
	assert.NotNil(t, c.Mux())
}

func TestFacing(t *testing.T) {
	assert.Equal(t, FacingBack, FacingFront.Flip())
	assert.Equal(t, FacingFront, FacingBack.Flip())
	assert.False(t, Facing("up").Valid())
}

// squatFrames renders n alternating up/down squats, 100ms apart.
func squatFrames(n int) []pose.Frame {
	frames := make([]pose.Frame, 0, 2*n)
	for i := 0; i < 2*n; i++ {
		p := replay.SquatUp()
		if i%2 == 1 {
			p = replay.SquatDown()
		}
		frames = append(frames, pose.Frame{ID: int64(i + 1), Time: epoch.Add(time.Duration(i) * 100 * time.Millisecond), Poses: []pose.Pose{p}})
	}
	return frames
}

func TestUnpacedSource_DefaultTuningCountsEverySquat(t *testing.T) {
	const reps = 2000
	src := &sources{make: finite(squatFrames(reps))}
	c := newTunedController(t, src, nil, &recordingDisplay{}, nil)

	require.NoError(t, c.Start(context.Background(), SessionConfig{Exercise: "Squat", CalorieIncrement: 1}))
	waitDone(t, c)

	assert.ErrorIs(t, c.Err(), posemux.ErrSourceEnded)
	assert.Equal(t, float64(reps), c.Accumulator().Snapshot().Count)
	assert.Len(t, c.Accumulator().Events(), reps)
}

func TestUnpacedSource_DefaultTuningCountsEveryLearnedCycle(t *testing.T) {
	// 36 frames per 1.2s jumping jack at 30 fps, plus part of a cycle so
	// the last one completes.
	const cycles = 200
	frames := replay.Sequence(epoch, 30, cycles*36+16, replay.PatternFor("Jumping Jacks"))
	src := &sources{make: finite(frames)}
	c := newTunedController(t, src, nil, &recordingDisplay{}, nil)

	require.NoError(t, c.Start(context.Background(), SessionConfig{Exercise: "Jumping Jacks", CalorieIncrement: 0.1}))
	waitDone(t, c)

	assert.ErrorIs(t, c.Err(), posemux.ErrSourceEnded)
	snap := c.Accumulator().Snapshot()
	assert.Equal(t, float64(cycles), snap.Count)
	assert.Equal(t, float64(cycles), snap.LastCumulativeCount)
}

func TestUnpacedSource_SlowDisplayDoesNotStallCounting(t *testing.T) {
	const reps = 300
	src := &sources{make: finite(squatFrames(reps))}
	display := &slowDisplay{delay: 5 * time.Millisecond}
	c := newTunedController(t, src, nil, display, nil)

	require.NoError(t, c.Start(context.Background(), SessionConfig{Exercise: "Squat", CalorieIncrement: 1}))
	waitDone(t, c)

	assert.Equal(t, float64(reps), c.Accumulator().Snapshot().Count)
	assert.Less(t, display.count(), 2*reps, "display skips frames rather than slowing the source")
}

type slowDisplay struct {
	delay time.Duration
	mu    sync.Mutex
	n     int
}

func (d *slowDisplay) Display(ctx context.Context, _ pose.Frame) error {
	d.mu.Lock()
	d.n++
	d.mu.Unlock()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d.delay):
		return nil
	}
}

func (d *slowDisplay) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.n
}

// endSignal closes ended once the wrapped source has reported io.EOF.
type endSignal struct {
	pose.Source
	ended chan struct{}
	once  sync.Once
}

func (s *endSignal) Next(ctx context.Context) (pose.Frame, error) {
	f, err := s.Source.Next(ctx)
	if errors.Is(err, io.EOF) {
		s.once.Do(func() { close(s.ended) })
	}
	return f, err
}

// stuckDisplay blocks on every frame until the session is cancelled.
type stuckDisplay struct {
	entered chan struct{}
	once    sync.Once
}

func (d *stuckDisplay) Display(ctx context.Context, _ pose.Frame) error {
	d.once.Do(func() { close(d.entered) })
	<-ctx.Done()
	return ctx.Err()
}

func TestStopWhileDraining_ReportsSourceEnd(t *testing.T) {
	frames := replay.Sequence(epoch, 30, 5, func(time.Duration) pose.Pose { return replay.Standing() })
	sig := &endSignal{Source: replay.NewSliceSource(frames...), ended: make(chan struct{})}
	src := &sources{make: func() pose.Source { return sig }}
	display := &stuckDisplay{entered: make(chan struct{})}
	c := newController(t, src, nil, display)

	require.NoError(t, c.Start(context.Background(), SessionConfig{Exercise: "Squat"}))
	for _, ch := range []chan struct{}{display.entered, sig.ended} {
		select {
		case <-ch:
		case <-time.After(5 * time.Second):
			t.Fatal("session did not reach the draining state")
		}
	}
	assert.Equal(t, StateRunning, c.Status().State, "display is still draining")

	err := c.Stop()
	assert.ErrorIs(t, err, posemux.ErrSourceEnded)
	assert.ErrorIs(t, c.Err(), posemux.ErrSourceEnded)
	assert.Equal(t, StateIdle, c.Status().State)
}
