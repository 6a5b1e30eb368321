package classify

import (
	"context"
	"time"

	"github.com/banshee-data/repcount/internal/accumulator"
	"github.com/banshee-data/repcount/internal/config"
	"github.com/banshee-data/repcount/internal/pose"
)

// RepetitionCounter turns a pose sequence into a cumulative repetition
// count. Output items keep input order, the count never decreases, and the
// output channel is closed once the input closes or ctx ends.
type RepetitionCounter interface {
	Count(ctx context.Context, in <-chan pose.Feature[[]pose.Pose]) <-chan pose.Feature[float64]
}

// Recorder is the part of the accumulator the learned path writes to.
type Recorder interface {
	SwapCumulative(v float64) float64
	RecordRepetition(ts time.Time, source accumulator.Source) accumulator.Event
}

// LearnedConsumer converts cumulative counts into repetition events: an
// event fires when the count rose by more than Epsilon since the previous
// item and the cooldown since this path's last event has elapsed.
type LearnedConsumer struct {
	rec      Recorder
	epsilon  float64
	cooldown Debouncer
}

// NewLearnedConsumer reads epsilon and cooldown from cfg.
func NewLearnedConsumer(rec Recorder, cfg *config.TuningConfig) *LearnedConsumer {
	if cfg == nil {
		cfg = config.EmptyTuningConfig()
	}
	return &LearnedConsumer{
		rec:      rec,
		epsilon:  cfg.GetLearnedEpsilon(),
		cooldown: Debouncer{Interval: cfg.GetLearnedCooldown()},
	}
}

// Observe handles one cumulative-count item. The baseline is replaced on
// every item, whether or not an event fires.
func (c *LearnedConsumer) Observe(item pose.Feature[float64]) bool {
	prev := c.rec.SwapCumulative(item.Value)
	if item.Value-prev <= c.epsilon {
		return false
	}
	if !c.cooldown.Allow(item.Time) {
		return false
	}
	c.rec.RecordRepetition(item.Time, accumulator.SourceLearned)
	return true
}

// Run consumes counts until in is closed or ctx ends. It returns ctx.Err()
// on cancellation and nil when the counter finished.
func (c *LearnedConsumer) Run(ctx context.Context, in <-chan pose.Feature[float64]) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case item, ok := <-in:
			if !ok {
				return nil
			}
			c.Observe(item)
		}
	}
}
