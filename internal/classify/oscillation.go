package classify

import (
	"context"
	"math"

	"github.com/banshee-data/repcount/internal/config"
	"github.com/banshee-data/repcount/internal/pose"
)

// DefaultOscillationKeypoints track arm swing, which dominates the motion of
// every learned exercise in the catalog.
var DefaultOscillationKeypoints = []pose.KeypointName{
	pose.LeftWrist, pose.RightWrist, pose.LeftElbow, pose.RightElbow,
}

// OscillationCounter is a model-free RepetitionCounter. It follows the mean
// height of a set of keypoints and counts direction reversals that travel
// further than Hysteresis. Two reversals make one repetition, and only whole
// repetitions are reported.
type OscillationCounter struct {
	Keypoints  []pose.KeypointName
	Hysteresis float64
}

// NewOscillationCounter uses the default keypoints and the configured
// hysteresis band.
func NewOscillationCounter(cfg *config.TuningConfig) *OscillationCounter {
	if cfg == nil {
		cfg = config.EmptyTuningConfig()
	}
	return &OscillationCounter{
		Keypoints:  DefaultOscillationKeypoints,
		Hysteresis: cfg.GetOscillationHysteresis(),
	}
}

type swingTracker struct {
	hysteresis float64
	started    bool
	dir        int // +1 rising, -1 falling, 0 not yet known
	extreme    float64
	reversals  int
}

func (t *swingTracker) add(y float64) {
	if !t.started {
		t.started = true
		t.extreme = y
		return
	}
	switch t.dir {
	case 0:
		if y-t.extreme > t.hysteresis {
			t.dir, t.extreme = 1, y
		} else if t.extreme-y > t.hysteresis {
			t.dir, t.extreme = -1, y
		}
	case 1:
		if y > t.extreme {
			t.extreme = y
		} else if t.extreme-y > t.hysteresis {
			t.dir, t.extreme = -1, y
			t.reversals++
		}
	case -1:
		if y < t.extreme {
			t.extreme = y
		} else if y-t.extreme > t.hysteresis {
			t.dir, t.extreme = 1, y
			t.reversals++
		}
	}
}

func (t *swingTracker) count() float64 {
	return math.Floor(float64(t.reversals) / 2)
}

func (c *OscillationCounter) height(poses []pose.Pose) (float64, bool) {
	if len(poses) == 0 {
		return 0, false
	}
	loc, ok := poses[0].Locations(c.Keypoints...)
	if !ok || len(loc) == 0 {
		return 0, false
	}
	var sum float64
	for _, v := range loc {
		sum += v.Y
	}
	return sum / float64(len(loc)), true
}

// Count emits one cumulative count per input item, in input order. Items
// without the tracked keypoints repeat the previous count.
func (c *OscillationCounter) Count(ctx context.Context, in <-chan pose.Feature[[]pose.Pose]) <-chan pose.Feature[float64] {
	out := make(chan pose.Feature[float64])
	go func() {
		defer close(out)
		t := &swingTracker{hysteresis: c.Hysteresis}
		for {
			var item pose.Feature[[]pose.Pose]
			var ok bool
			select {
			case <-ctx.Done():
				return
			case item, ok = <-in:
				if !ok {
					return
				}
			}
			if y, ok := c.height(item.Value); ok {
				t.add(y)
			}
			select {
			case <-ctx.Done():
				return
			case out <- pose.Feature[float64]{ID: item.ID, Time: item.Time, Value: t.count()}:
			}
		}
	}()
	return out
}
