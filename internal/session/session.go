// Package session describes a finished counting session: what was
// exercised, how many repetitions were accepted and when. Summaries are
// produced by the pipeline controller and consumed by storage and export.
package session

import (
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/repcount/internal/accumulator"
)

// Summary is the record kept for one session.
type Summary struct {
	ID               string              `json:"id"`
	Exercise         string              `json:"exercise"`
	Catalog          string              `json:"catalog,omitempty"`
	Facing           string              `json:"facing"`
	StartedAt        time.Time           `json:"started_at"`
	EndedAt          time.Time           `json:"ended_at"`
	Count            float64             `json:"count"`
	Calories         float64             `json:"calories"`
	CalorieIncrement float64             `json:"calorie_increment"`
	Error            string              `json:"error,omitempty"`
	Events           []accumulator.Event `json:"events,omitempty"`
}

// Duration is the wall-clock length of the session.
func (s Summary) Duration() time.Duration {
	if s.EndedAt.Before(s.StartedAt) {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt)
}

// Cadence summarises the spacing of accepted repetitions.
type Cadence struct {
	Intervals     int     `json:"intervals"`
	MeanSeconds   float64 `json:"mean_seconds"`
	StdDevSeconds float64 `json:"stddev_seconds"`
	PerMinute     float64 `json:"per_minute"`
}

// CadenceOf computes the mean and spread of the gaps between consecutive
// events. Fewer than two events yield a zero Cadence.
func CadenceOf(events []accumulator.Event) Cadence {
	if len(events) < 2 {
		return Cadence{}
	}
	gaps := make([]float64, 0, len(events)-1)
	for i := 1; i < len(events); i++ {
		gaps = append(gaps, events[i].Time.Sub(events[i-1].Time).Seconds())
	}
	mean, std := stat.MeanStdDev(gaps, nil)
	c := Cadence{Intervals: len(gaps), MeanSeconds: mean, StdDevSeconds: std}
	if len(gaps) == 1 {
		c.StdDevSeconds = 0
	}
	if mean > 0 {
		c.PerMinute = 60 / mean
	}
	return c
}
