package export

import (
	"fmt"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/repcount/internal/session"
)

// ProgressPNG draws the cumulative count of a session as a step plot.
func ProgressPNG(w io.Writer, s session.Summary) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s: %.0f reps, %.2f kcal", s.Exercise, s.Count, s.Calories)
	p.X.Label.Text = "elapsed (s)"
	p.Y.Label.Text = "repetitions"
	p.Add(plotter.NewGrid())

	pts := make(plotter.XYs, 0, len(s.Events)+2)
	pts = append(pts, plotter.XY{X: 0, Y: 0})
	for _, ev := range s.Events {
		pts = append(pts, plotter.XY{X: ev.Time.Sub(s.StartedAt).Seconds(), Y: ev.Count})
	}
	if end := s.Duration().Seconds(); end > pts[len(pts)-1].X {
		pts = append(pts, plotter.XY{X: end, Y: pts[len(pts)-1].Y})
	}

	line, err := plotter.NewLine(pts)
	if err != nil {
		return fmt.Errorf("count line: %w", err)
	}
	line.StepStyle = plotter.PostStep
	line.Width = vg.Points(1.5)
	p.Add(line)

	wt, err := p.WriterTo(8*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("render png: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}
