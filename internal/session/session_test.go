package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/banshee-data/repcount/internal/accumulator"
)

func eventsAt(start time.Time, offsets ...time.Duration) []accumulator.Event {
	out := make([]accumulator.Event, len(offsets))
	for i, off := range offsets {
		out[i] = accumulator.Event{Seq: i + 1, Time: start.Add(off), Count: float64(i + 1)}
	}
	return out
}

func TestCadenceOf(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	assert.Equal(t, Cadence{}, CadenceOf(nil))
	assert.Equal(t, Cadence{}, CadenceOf(eventsAt(start, 0)))

	single := CadenceOf(eventsAt(start, 0, 2*time.Second))
	assert.Equal(t, 1, single.Intervals)
	assert.InDelta(t, 2.0, single.MeanSeconds, 1e-9)
	assert.Zero(t, single.StdDevSeconds)
	assert.InDelta(t, 30.0, single.PerMinute, 1e-9)

	c := CadenceOf(eventsAt(start, 0, time.Second, 3*time.Second, 4*time.Second))
	assert.Equal(t, 3, c.Intervals)
	assert.InDelta(t, 4.0/3.0, c.MeanSeconds, 1e-9)
	assert.Greater(t, c.StdDevSeconds, 0.0)
	assert.InDelta(t, 45.0, c.PerMinute, 1e-9)
}

func TestSummaryDuration(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s := Summary{StartedAt: start, EndedAt: start.Add(90 * time.Second)}
	assert.Equal(t, 90*time.Second, s.Duration())

	s.EndedAt = start.Add(-time.Second)
	assert.Zero(t, s.Duration())
}
