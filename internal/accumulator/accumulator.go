// Package accumulator owns the user-visible repetition count and calorie
// total for a session. Every writer goes through RecordRepetition, which is
// serialized, so the geometric and learned paths can both report events
// without losing updates.
package accumulator

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Source names the classifier path that produced an event.
type Source string

const (
	SourceGeometric Source = "geometric"
	SourceLearned   Source = "learned"
)

// Event is one accepted repetition.
type Event struct {
	Seq      int       `json:"seq"`
	Time     time.Time `json:"time"`
	Source   Source    `json:"source"`
	Count    float64   `json:"count"`
	Calories float64   `json:"calories"`
}

// Snapshot is a copy of the counter state.
type Snapshot struct {
	Exercise            string    `json:"exercise"`
	Count               float64   `json:"count"`
	Calories            float64   `json:"calories"`
	CalorieIncrement    float64   `json:"calorie_increment"`
	LastEventAt         time.Time `json:"last_event_at"`
	LastCumulativeCount float64   `json:"last_cumulative_count"`
}

// Accumulator is the single authority for Count and Calories.
type Accumulator struct {
	mu    sync.Mutex
	state Snapshot
	// events are appended under mu, in acceptance order
	events []Event

	subscribers  map[string]chan Snapshot
	subscriberMu sync.Mutex
}

// New returns an empty accumulator.
func New() *Accumulator {
	return &Accumulator{
		subscribers: make(map[string]chan Snapshot),
	}
}

// Reset zeroes the counters and event log and sets the increment applied by
// subsequent repetitions. Called at every session start.
func (a *Accumulator) Reset(exercise string, calorieIncrement float64) {
	a.mu.Lock()
	a.state = Snapshot{
		Exercise:         exercise,
		CalorieIncrement: calorieIncrement,
	}
	a.events = nil
	a.publish(a.state)
	a.mu.Unlock()
}

// RecordRepetition increments Count by one and Calories by the session's
// increment, both under the same lock, and returns the accepted event.
func (a *Accumulator) RecordRepetition(ts time.Time, source Source) Event {
	a.mu.Lock()
	a.state.Count++
	a.state.Calories = a.state.Count * a.state.CalorieIncrement
	a.state.LastEventAt = ts
	ev := Event{
		Seq:      len(a.events) + 1,
		Time:     ts,
		Source:   source,
		Count:    a.state.Count,
		Calories: a.state.Calories,
	}
	a.events = append(a.events, ev)
	// publish under mu so observers never see the count go backwards
	a.publish(a.state)
	a.mu.Unlock()

	return ev
}

// SwapCumulative stores v as the latest cumulative count from the learned
// counter and returns the previous baseline.
func (a *Accumulator) SwapCumulative(v float64) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	prev := a.state.LastCumulativeCount
	a.state.LastCumulativeCount = v
	return prev
}

// Snapshot returns a copy of the current state.
func (a *Accumulator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Events returns a copy of the accepted events for the current session.
func (a *Accumulator) Events() []Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Event, len(a.events))
	copy(out, a.events)
	return out
}

// Subscribe creates a channel receiving a snapshot after every change. Slow
// subscribers miss intermediate snapshots rather than blocking writers.
func (a *Accumulator) Subscribe() (string, <-chan Snapshot) {
	id := uuid.NewString()
	ch := make(chan Snapshot, 1)
	a.subscriberMu.Lock()
	defer a.subscriberMu.Unlock()
	a.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes and closes a subscriber channel.
func (a *Accumulator) Unsubscribe(id string) {
	a.subscriberMu.Lock()
	defer a.subscriberMu.Unlock()
	if ch, ok := a.subscribers[id]; ok {
		close(ch)
		delete(a.subscribers, id)
	}
}

func (a *Accumulator) publish(snap Snapshot) {
	a.subscriberMu.Lock()
	defer a.subscriberMu.Unlock()
	for _, ch := range a.subscribers {
		select {
		case ch <- snap:
		default:
			// replace the stale pending snapshot with the newest one
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}
