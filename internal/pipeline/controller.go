// Package pipeline runs a counting session. A Controller owns the pose
// source, the fan-out, and the display and classification loops for the
// active session, and moves through Idle, Running and Cancelling as
// sessions start, stop or fail.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/repcount/internal/accumulator"
	"github.com/banshee-data/repcount/internal/classify"
	"github.com/banshee-data/repcount/internal/config"
	"github.com/banshee-data/repcount/internal/exercise"
	"github.com/banshee-data/repcount/internal/monitoring"
	"github.com/banshee-data/repcount/internal/pose"
	"github.com/banshee-data/repcount/internal/posemux"
	"github.com/banshee-data/repcount/internal/session"
	"github.com/banshee-data/repcount/internal/timeutil"
)

// ErrNotRunning is returned by Stop and ToggleCamera when there is no
// session to act on.
var ErrNotRunning = errors.New("pipeline not running")

// ErrInvalidFacing is returned by Start for an unknown camera.
var ErrInvalidFacing = errors.New("invalid camera facing")

// State is the controller lifecycle state.
type State string

const (
	StateIdle       State = "idle"
	StateRunning    State = "running"
	StateCancelling State = "cancelling"
)

// Facing selects the camera.
type Facing string

const (
	FacingFront Facing = "front"
	FacingBack  Facing = "back"
)

// Flip returns the other camera.
func (f Facing) Flip() Facing {
	if f == FacingBack {
		return FacingFront
	}
	return FacingBack
}

// Valid reports whether f names a known camera.
func (f Facing) Valid() bool {
	return f == FacingFront || f == FacingBack
}

// SessionConfig is fixed for the life of a session.
type SessionConfig struct {
	Exercise string `json:"exercise"`
	// CalorieIncrement is added per repetition. Zero derives it from the
	// exercise's MET and nominal length at the default body weight.
	CalorieIncrement float64 `json:"calorie_increment"`
	Facing           Facing  `json:"facing"`
}

// SourceFactory opens a fresh pose source for the given camera.
type SourceFactory func(ctx context.Context, facing Facing) (pose.Source, error)

// Display renders frames for the user. It is optional.
type Display interface {
	Display(ctx context.Context, frame pose.Frame) error
}

// SessionStore persists a summary when a session ends. It is optional.
type SessionStore interface {
	SaveSession(ctx context.Context, s session.Summary) error
}

// Options configures a Controller. Sources is required.
type Options struct {
	Sources     SourceFactory
	Accumulator *accumulator.Accumulator
	Catalog     *exercise.Table
	Tuning      *config.TuningConfig
	// Counter drives learned exercises; nil uses classify.OscillationCounter.
	Counter classify.RepetitionCounter
	Display Display
	Store   SessionStore
	Clock   timeutil.Clock
}

// run is the state of one session.
type run struct {
	id        string
	cfg       SessionConfig
	desc      exercise.Descriptor
	startedAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}
	mux       *posemux.PoseMux
	stopping  atomic.Bool
	err       error // set before done is closed
}

// Controller is the session state machine. Start, Stop and ToggleCamera are
// serialized; Status, Err and LatestFrame may be called at any time.
type Controller struct {
	sources SourceFactory
	acc     *accumulator.Accumulator
	catalog *exercise.Table
	tuning  *config.TuningConfig
	counter classify.RepetitionCounter
	display Display
	store   SessionStore
	clock   timeutil.Clock

	opMu sync.Mutex // serializes lifecycle operations

	mu      sync.Mutex
	state   State
	current *run
	last    *SessionConfig
	lastErr error
	latest  *pose.Frame
}

// NewController builds an idle controller.
func NewController(opts Options) (*Controller, error) {
	if opts.Sources == nil {
		return nil, errors.New("pipeline: source factory is required")
	}
	c := &Controller{
		sources: opts.Sources,
		acc:     opts.Accumulator,
		catalog: opts.Catalog,
		tuning:  opts.Tuning,
		counter: opts.Counter,
		display: opts.Display,
		store:   opts.Store,
		clock:   opts.Clock,
		state:   StateIdle,
	}
	if c.acc == nil {
		c.acc = accumulator.New()
	}
	if c.catalog == nil {
		c.catalog = exercise.Builtin()
	}
	if c.tuning == nil {
		c.tuning = config.EmptyTuningConfig()
	}
	if c.counter == nil {
		c.counter = classify.NewOscillationCounter(c.tuning)
	}
	if c.clock == nil {
		c.clock = timeutil.RealClock{}
	}
	return c, nil
}

// Accumulator returns the counter state shared with observers.
func (c *Controller) Accumulator() *accumulator.Accumulator { return c.acc }

// Catalog returns the exercise table sessions are resolved against.
func (c *Controller) Catalog() *exercise.Table { return c.catalog }

// Start begins a session, stopping any running one first. Counters are
// reset before the new source is opened. ctx bounds only the opening of the
// source; the session runs until Stop or a terminal failure.
func (c *Controller) Start(ctx context.Context, cfg SessionConfig) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.startLocked(ctx, cfg)
}

func (c *Controller) startLocked(ctx context.Context, cfg SessionConfig) error {
	if cfg.Facing == "" {
		cfg.Facing = FacingFront
	}
	if !cfg.Facing.Valid() {
		return fmt.Errorf("%w %q", ErrInvalidFacing, cfg.Facing)
	}

	if err := c.stopLocked(); err != nil && !errors.Is(err, ErrNotRunning) {
		monitoring.Logf("pipeline: previous session ended with error: %v", err)
	}

	desc, err := c.catalog.Lookup(cfg.Exercise)
	if err != nil {
		// permissive: the session runs but nothing is ever counted
		monitoring.Logf("pipeline: %v; session will not count repetitions", err)
		desc = exercise.Descriptor{Name: cfg.Exercise}
	}
	if cfg.CalorieIncrement <= 0 && desc.ID != 0 {
		cfg.CalorieIncrement = desc.CalorieIncrement(0, 0)
	}

	c.acc.Reset(cfg.Exercise, cfg.CalorieIncrement)
	c.mu.Lock()
	saved := cfg
	c.last = &saved
	c.lastErr = nil
	c.latest = nil
	c.mu.Unlock()

	src, err := c.sources(ctx, cfg.Facing)
	if err != nil {
		return fmt.Errorf("open pose source: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &run{
		id:        uuid.NewString(),
		cfg:       cfg,
		desc:      desc,
		startedAt: c.clock.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
		mux:       posemux.New(src),
	}

	_, displayCh := r.mux.Subscribe(posemux.WithName("display"), posemux.WithBuffer(c.tuning.GetDisplayBuffer()))
	// Counting needs every frame; only the display may skip.
	_, classifyCh := r.mux.Subscribe(posemux.WithName("classification"), posemux.WithBuffer(c.tuning.GetClassificationBuffer()), posemux.WithLossless())

	c.mu.Lock()
	c.current = r
	c.state = StateRunning
	c.mu.Unlock()

	monitoring.Logf("pipeline: session %s started: exercise=%q method=%s facing=%s increment=%.4f",
		r.id, cfg.Exercise, desc.Method, cfg.Facing, cfg.CalorieIncrement)

	go c.execute(runCtx, r, displayCh, classifyCh)
	return nil
}

// execute runs the session's goroutines and records the outcome.
func (c *Controller) execute(ctx context.Context, r *run, displayCh, classifyCh <-chan pose.Frame) {
	g, gctx := errgroup.WithContext(ctx)

	// The monitor's own error is held back from the group so that the loops
	// drain their buffered frames after the source ends.
	var sourceErr error
	g.Go(func() error {
		sourceErr = r.mux.Monitor(gctx)
		return nil
	})

	g.Go(func() error { return c.displayLoop(gctx, r, displayCh) })

	var learned chan pose.Feature[[]pose.Pose]
	if r.desc.Method == exercise.MethodLearned {
		learned = make(chan pose.Feature[[]pose.Pose], c.tuning.GetClassificationBuffer())
		counts := c.counter.Count(gctx, learned)
		consumer := classify.NewLearnedConsumer(c.acc, c.tuning)
		g.Go(func() error { return consumer.Run(gctx, counts) })
	}

	geo := classify.NewGeometric(r.desc, c.tuning)
	g.Go(func() error { return c.classificationLoop(gctx, classifyCh, geo, learned) })

	err := g.Wait()
	// A source failure outranks the cancellation of loops that were still
	// draining when Stop arrived.
	if err == nil || errors.Is(err, context.Canceled) {
		if sourceErr != nil && !errors.Is(sourceErr, context.Canceled) {
			err = sourceErr
		} else if err == nil {
			err = sourceErr
		}
	}
	if errors.Is(err, context.Canceled) && r.stopping.Load() {
		err = nil
	}
	if cerr := r.mux.Close(); cerr != nil {
		monitoring.Logf("pipeline: closing pose source: %v", cerr)
	}
	c.finish(r, err)
}

func (c *Controller) displayLoop(ctx context.Context, r *run, frames <-chan pose.Frame) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-frames:
			if !ok {
				return nil
			}
			c.setLatest(r, frame)
			if c.display == nil {
				continue
			}
			if err := c.display.Display(ctx, frame); err != nil {
				return fmt.Errorf("display frame %d: %w", frame.ID, err)
			}
		}
	}
}

// classificationLoop runs the geometric classifier inline and forwards every
// frame to the learned counter when one is active.
func (c *Controller) classificationLoop(ctx context.Context, frames <-chan pose.Frame, geo *classify.Geometric, learned chan<- pose.Feature[[]pose.Pose]) error {
	if learned != nil {
		defer close(learned)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-frames:
			if !ok {
				return nil
			}
			feat := frame.Feature()
			if geo.Observe(feat) {
				ev := c.acc.RecordRepetition(feat.Time, accumulator.SourceGeometric)
				monitoring.Debugf("pipeline: repetition %d at frame %d", ev.Seq, frame.ID)
			}
			if learned == nil {
				continue
			}
			select {
			case learned <- feat:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (c *Controller) setLatest(r *run, frame pose.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == r {
		c.latest = &frame
	}
}

// finish moves the controller to Idle if r is still current and persists
// the session summary.
func (c *Controller) finish(r *run, err error) {
	r.err = err
	snap := c.acc.Snapshot()
	events := c.acc.Events()

	c.mu.Lock()
	if c.current == r {
		c.state = StateIdle
		c.current = nil
		c.latest = nil
		c.lastErr = err
	}
	c.mu.Unlock()

	if err != nil {
		monitoring.Logf("pipeline: session %s failed: %v", r.id, err)
	} else {
		monitoring.Logf("pipeline: session %s ended: count=%.0f calories=%.2f", r.id, snap.Count, snap.Calories)
	}

	if c.store != nil {
		summary := session.Summary{
			ID:               r.id,
			Exercise:         r.cfg.Exercise,
			Catalog:          string(r.desc.Catalog),
			Facing:           string(r.cfg.Facing),
			StartedAt:        r.startedAt,
			EndedAt:          c.clock.Now(),
			Count:            snap.Count,
			Calories:         snap.Calories,
			CalorieIncrement: snap.CalorieIncrement,
			Events:           events,
		}
		if err != nil {
			summary.Error = err.Error()
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if serr := c.store.SaveSession(ctx, summary); serr != nil {
			monitoring.Logf("pipeline: saving session %s: %v", r.id, serr)
		}
		cancel()
	}
	close(r.done)
}

// Stop cancels the running session and waits for its loops to exit. The
// counters keep their final values until the next Start. It returns the
// session's failure if it failed before it could be stopped, and
// ErrNotRunning if no session is running.
func (c *Controller) Stop() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.stopLocked()
}

func (c *Controller) stopLocked() error {
	c.mu.Lock()
	r := c.current
	if r == nil {
		c.mu.Unlock()
		return ErrNotRunning
	}
	c.state = StateCancelling
	c.mu.Unlock()

	r.stopping.Store(true)
	r.cancel()
	<-r.done
	return r.err
}

// ToggleCamera restarts the last session on the other camera. Counts from
// before the toggle are discarded.
func (c *Controller) ToggleCamera(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	last := c.last
	c.mu.Unlock()
	if last == nil {
		return ErrNotRunning
	}
	cfg := *last
	cfg.Facing = cfg.Facing.Flip()
	return c.startLocked(ctx, cfg)
}

// Err returns the failure that ended the most recent session, or nil if it
// is still running, was stopped, or ended cleanly.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Done returns a channel closed when the current session ends. With no
// session running the channel is already closed.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil {
		return c.current.done
	}
	closed := make(chan struct{})
	close(closed)
	return closed
}

// LatestFrame returns the most recently displayed frame of the running
// session. It is cleared when the session ends.
func (c *Controller) LatestFrame() (pose.Frame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.latest == nil {
		return pose.Frame{}, false
	}
	return *c.latest, true
}

// Status is a point-in-time view of the controller.
type Status struct {
	State           State                     `json:"state"`
	SessionID       string                    `json:"session_id,omitempty"`
	Session         *SessionConfig            `json:"session,omitempty"`
	Method          exercise.Method           `json:"method,omitempty"`
	StartedAt       time.Time                 `json:"started_at,omitempty"`
	Counter         accumulator.Snapshot      `json:"counter"`
	FramesPublished uint64                    `json:"frames_published"`
	Fanout          []posemux.SubscriberStats `json:"fanout,omitempty"`
	LastError       string                    `json:"last_error,omitempty"`
}

// Status reports the current state, session and counters.
func (c *Controller) Status() Status {
	c.mu.Lock()
	st := Status{State: c.state}
	if c.last != nil {
		cfg := *c.last
		st.Session = &cfg
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	r := c.current
	c.mu.Unlock()

	if r != nil {
		st.SessionID = r.id
		st.Method = r.desc.Method
		st.StartedAt = r.startedAt
		st.FramesPublished = r.mux.Published()
		st.Fanout = r.mux.Stats()
	}
	st.Counter = c.acc.Snapshot()
	return st
}

// Mux returns the fan-out of the running session, or nil.
func (c *Controller) Mux() *posemux.PoseMux {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	return c.current.mux
}
