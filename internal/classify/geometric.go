package classify

import (
	"time"

	"github.com/banshee-data/repcount/internal/config"
	"github.com/banshee-data/repcount/internal/exercise"
	"github.com/banshee-data/repcount/internal/pose"
)

// Debouncer admits at most one event per Interval, measured on the event's
// own timestamp. The first event after construction or Reset always passes.
type Debouncer struct {
	Interval time.Duration

	last  time.Time
	fired bool
}

// Allow reports whether an event at ts passes and, if so, records ts as the
// last accepted event.
func (d *Debouncer) Allow(ts time.Time) bool {
	if d.fired && ts.Sub(d.last) < d.Interval {
		return false
	}
	d.last = ts
	d.fired = true
	return true
}

// Last returns the time of the last accepted event.
func (d *Debouncer) Last() (time.Time, bool) {
	return d.last, d.fired
}

// Reset forgets the last accepted event.
func (d *Debouncer) Reset() {
	d.last = time.Time{}
	d.fired = false
}

// Geometric applies a Rule to the first pose of each frame and filters hits
// through a Debouncer. A nil debouncer means the rule is edge-triggered and
// every hit is an event.
type Geometric struct {
	rule     Rule
	debounce *Debouncer
}

// NewGeometric returns the classifier for an exercise, or nil if the
// exercise has no geometric rule. A nil classifier produces no events.
func NewGeometric(desc exercise.Descriptor, cfg *config.TuningConfig) *Geometric {
	if cfg == nil {
		cfg = config.EmptyTuningConfig()
	}
	debounced := func(r Rule) *Geometric {
		return &Geometric{rule: r, debounce: &Debouncer{Interval: cfg.GetPoseDebounce()}}
	}

	switch desc.ID {
	case exercise.Flamingo:
		return debounced(NewFlamingoRule(cfg))
	case exercise.ChairPose:
		return debounced(NewChairPoseRule(cfg))
	case exercise.Planks:
		return debounced(NewPlankRule(cfg))
	case exercise.Squat:
		return &Geometric{rule: NewSquatRule(cfg)}
	default:
		return nil
	}
}

// NewGeometricRule wraps an arbitrary rule. interval <= 0 disables debounce.
func NewGeometricRule(rule Rule, interval time.Duration) *Geometric {
	g := &Geometric{rule: rule}
	if interval > 0 {
		g.debounce = &Debouncer{Interval: interval}
	}
	return g
}

// Rule returns the underlying rule.
func (g *Geometric) Rule() Rule { return g.rule }

// Observe evaluates one frame and reports whether it is an accepted
// repetition. Frames without a pose or with missing keypoints are skipped
// and leave the debounce timer untouched.
func (g *Geometric) Observe(f pose.Feature[[]pose.Pose]) bool {
	if g == nil || len(f.Value) == 0 {
		return false
	}
	hit, ok := g.rule.Evaluate(f.Value[0])
	if !ok || !hit {
		return false
	}
	if g.debounce == nil {
		return true
	}
	return g.debounce.Allow(f.Time)
}

// Reset clears debounce and rule phase state.
func (g *Geometric) Reset() {
	if g == nil {
		return
	}
	if g.debounce != nil {
		g.debounce.Reset()
	}
	if r, ok := g.rule.(interface{ Reset() }); ok {
		r.Reset()
	}
}
