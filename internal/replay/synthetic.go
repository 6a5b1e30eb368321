package replay

import (
	"context"
	"io"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/banshee-data/repcount/internal/pose"
	"github.com/banshee-data/repcount/internal/timeutil"
)

// Coordinates below are normalized image coordinates with y growing upward,
// matching what the pose estimator reports.

// Standing is an upright neutral pose with every keypoint present. It
// satisfies none of the geometric rules.
func Standing() pose.Pose {
	return pose.NewPose(
		pose.At(pose.Neck, 0.50, 0.80),
		pose.At(pose.Root, 0.50, 0.50),
		pose.At(pose.RightShoulder, 0.42, 0.78),
		pose.At(pose.LeftShoulder, 0.58, 0.78),
		pose.At(pose.RightElbow, 0.40, 0.65),
		pose.At(pose.LeftElbow, 0.60, 0.65),
		pose.At(pose.RightWrist, 0.39, 0.52),
		pose.At(pose.LeftWrist, 0.61, 0.52),
		pose.At(pose.RightHip, 0.45, 0.50),
		pose.At(pose.LeftHip, 0.55, 0.50),
		pose.At(pose.RightKnee, 0.45, 0.28),
		pose.At(pose.LeftKnee, 0.55, 0.28),
		pose.At(pose.RightAnkle, 0.45, 0.08),
		pose.At(pose.LeftAnkle, 0.55, 0.08),
	)
}

// FlamingoHold folds the right arm at the elbow and lifts the right foot
// behind the knee, both to about 14 degrees.
func FlamingoHold() pose.Pose {
	return Standing().With(
		pose.At(pose.RightShoulder, 0.40, 0.75),
		pose.At(pose.RightElbow, 0.40, 0.65),
		pose.At(pose.RightWrist, 0.42, 0.73),
		pose.At(pose.RightHip, 0.45, 0.50),
		pose.At(pose.RightKnee, 0.45, 0.40),
		pose.At(pose.RightAnkle, 0.47, 0.48),
	)
}

// ChairHold bends both knees to about 79 degrees with straight arms raised
// overhead.
func ChairHold() pose.Pose {
	return Standing().With(
		pose.At(pose.Neck, 0.50, 0.68),
		pose.At(pose.Root, 0.50, 0.45),
		pose.At(pose.RightShoulder, 0.42, 0.70),
		pose.At(pose.LeftShoulder, 0.58, 0.70),
		pose.At(pose.RightElbow, 0.42, 0.80),
		pose.At(pose.LeftElbow, 0.58, 0.80),
		pose.At(pose.RightWrist, 0.42, 0.90),
		pose.At(pose.LeftWrist, 0.58, 0.90),
		pose.At(pose.RightHip, 0.35, 0.45),
		pose.At(pose.LeftHip, 0.65, 0.45),
		pose.At(pose.RightKnee, 0.45, 0.45),
		pose.At(pose.LeftKnee, 0.55, 0.45),
		pose.At(pose.RightAnkle, 0.42, 0.30),
		pose.At(pose.LeftAnkle, 0.58, 0.30),
	)
}

// PlankHold lays the body out horizontally.
func PlankHold() pose.Pose {
	return pose.NewPose(
		pose.At(pose.Neck, 0.80, 0.52),
		pose.At(pose.Root, 0.50, 0.50),
		pose.At(pose.RightShoulder, 0.78, 0.51),
		pose.At(pose.LeftShoulder, 0.78, 0.53),
		pose.At(pose.RightElbow, 0.78, 0.40),
		pose.At(pose.LeftElbow, 0.78, 0.42),
		pose.At(pose.RightWrist, 0.85, 0.40),
		pose.At(pose.LeftWrist, 0.85, 0.42),
		pose.At(pose.RightHip, 0.50, 0.49),
		pose.At(pose.LeftHip, 0.50, 0.51),
		pose.At(pose.RightKnee, 0.30, 0.49),
		pose.At(pose.LeftKnee, 0.30, 0.50),
		pose.At(pose.RightAnkle, 0.10, 0.48),
		pose.At(pose.LeftAnkle, 0.10, 0.49),
	)
}

// SquatUp is the standing phase of a squat: knee-to-root and root-to-neck
// gaps of 0.15 with straight legs.
func SquatUp() pose.Pose {
	return Standing().With(
		pose.At(pose.Neck, 0.50, 0.75),
		pose.At(pose.Root, 0.50, 0.60),
		pose.At(pose.RightHip, 0.45, 0.60),
		pose.At(pose.LeftHip, 0.55, 0.60),
		pose.At(pose.RightKnee, 0.45, 0.45),
		pose.At(pose.LeftKnee, 0.55, 0.45),
		pose.At(pose.RightAnkle, 0.45, 0.30),
		pose.At(pose.LeftAnkle, 0.55, 0.30),
	)
}

// SquatDown is the bottom of a squat: hips level with the knees and the right
// knee bent to about 51 degrees.
func SquatDown() pose.Pose {
	return Standing().With(
		pose.At(pose.Neck, 0.50, 0.60),
		pose.At(pose.Root, 0.50, 0.40),
		pose.At(pose.RightHip, 0.40, 0.40),
		pose.At(pose.LeftHip, 0.60, 0.40),
		pose.At(pose.RightKnee, 0.50, 0.42),
		pose.At(pose.LeftKnee, 0.70, 0.42),
		pose.At(pose.RightAnkle, 0.42, 0.27),
		pose.At(pose.LeftAnkle, 0.62, 0.27),
	)
}

// JumpingJack interpolates between arms down (phase 0) and arms overhead
// (phase 0.5) and back (phase 1).
func JumpingJack(phase float64) pose.Pose {
	lift := (1 - math.Cos(2*math.Pi*phase)) / 2
	return Standing().With(
		pose.At(pose.RightElbow, 0.40-0.08*lift, 0.65+0.20*lift),
		pose.At(pose.LeftElbow, 0.60+0.08*lift, 0.65+0.20*lift),
		pose.At(pose.RightWrist, 0.39-0.10*lift, 0.52+0.43*lift),
		pose.At(pose.LeftWrist, 0.61+0.10*lift, 0.52+0.43*lift),
		pose.At(pose.RightAnkle, 0.45-0.05*lift, 0.08),
		pose.At(pose.LeftAnkle, 0.55+0.05*lift, 0.08),
	)
}

// Pattern returns the pose to show at elapsed time t into a session.
type Pattern func(t time.Duration) pose.Pose

// PatternFor returns a motion pattern that performs the named exercise at a
// steady pace. Unknown names stand still.
func PatternFor(exercise string) Pattern {
	switch strings.ToLower(strings.TrimSpace(exercise)) {
	case "flamingo":
		return alternate(2*time.Second, FlamingoHold(), time.Second, Standing())
	case "chair pose":
		return alternate(3*time.Second, ChairHold(), time.Second, Standing())
	case "planks":
		return func(time.Duration) pose.Pose { return PlankHold() }
	case "squat":
		return alternate(time.Second, SquatUp(), time.Second, SquatDown())
	case "jumping jacks", "russian twist", "weight lifting":
		const period = 1200 * time.Millisecond
		return func(t time.Duration) pose.Pose {
			return JumpingJack(float64(t%period) / float64(period))
		}
	default:
		return func(time.Duration) pose.Pose { return Standing() }
	}
}

func alternate(da time.Duration, a pose.Pose, db time.Duration, b pose.Pose) Pattern {
	return func(t time.Duration) pose.Pose {
		if t%(da+db) < da {
			return a
		}
		return b
	}
}

// Sequence renders n frames of pattern at fps starting at start. IDs start
// at 1.
func Sequence(start time.Time, fps float64, n int, pattern Pattern) []pose.Frame {
	step := time.Duration(float64(time.Second) / fps)
	frames := make([]pose.Frame, n)
	for i := range frames {
		elapsed := time.Duration(i) * step
		frames[i] = pose.Frame{
			ID:    int64(i + 1),
			Time:  start.Add(elapsed),
			Poses: []pose.Pose{pattern(elapsed)},
		}
	}
	return frames
}

// SyntheticSource is a live pose.Source that renders a Pattern at FrameRate
// against a clock. It never ends on its own.
type SyntheticSource struct {
	clock   timeutil.Clock
	pattern Pattern
	start   time.Time
	ticker  timeutil.Ticker
	frameID atomic.Int64
	closed  chan struct{}
	once    atomic.Bool
}

// NewSyntheticSource starts a synthetic source for pattern at fps.
func NewSyntheticSource(clock timeutil.Clock, fps float64, pattern Pattern) *SyntheticSource {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if fps <= 0 {
		fps = 30
	}
	return &SyntheticSource{
		clock:   clock,
		pattern: pattern,
		start:   clock.Now(),
		ticker:  clock.NewTicker(time.Duration(float64(time.Second) / fps)),
		closed:  make(chan struct{}),
	}
}

// Next waits for the next tick and renders the pattern at that instant.
func (s *SyntheticSource) Next(ctx context.Context) (pose.Frame, error) {
	select {
	case <-ctx.Done():
		return pose.Frame{}, ctx.Err()
	case <-s.closed:
		return pose.Frame{}, io.ErrClosedPipe
	case now := <-s.ticker.C():
		return pose.Frame{
			ID:    s.frameID.Add(1),
			Time:  now,
			Poses: []pose.Pose{s.pattern(now.Sub(s.start))},
		}, nil
	}
}

// Close stops the ticker.
func (s *SyntheticSource) Close() error {
	if s.once.CompareAndSwap(false, true) {
		s.ticker.Stop()
		close(s.closed)
	}
	return nil
}
