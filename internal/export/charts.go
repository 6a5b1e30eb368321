package export

import (
	"fmt"
	"io"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/repcount/internal/db"
	"github.com/banshee-data/repcount/internal/session"
)

// ProgressHTML renders the cumulative repetition count of a session against
// elapsed seconds as a standalone HTML page.
func ProgressHTML(w io.Writer, s session.Summary) error {
	x := make([]string, 0, len(s.Events)+1)
	y := make([]opts.LineData, 0, len(s.Events)+1)
	x = append(x, "0.0")
	y = append(y, opts.LineData{Value: 0})
	for _, ev := range s.Events {
		x = append(x, fmt.Sprintf("%.1f", ev.Time.Sub(s.StartedAt).Seconds()))
		y = append(y, opts.LineData{Value: ev.Count})
	}

	cad := session.CadenceOf(s.Events)
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "repcount: " + s.Exercise, Width: "900px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    s.Exercise,
			Subtitle: fmt.Sprintf("%s reps=%.0f kcal=%.2f cadence=%.1f/min", s.StartedAt.Format(time.RFC3339), s.Count, s.Calories, cad.PerMinute),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "elapsed (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "repetitions", NameLocation: "middle", NameGap: 30}),
	)
	line.SetXAxis(x).
		AddSeries("count", y)
	return line.Render(w)
}

// TotalsHTML renders daily repetition and calorie totals as a bar chart.
func TotalsHTML(w io.Writer, totals []db.DailyTotal) error {
	days := make([]string, 0, len(totals))
	reps := make([]opts.BarData, 0, len(totals))
	kcal := make([]opts.BarData, 0, len(totals))
	for _, d := range totals {
		days = append(days, d.Day)
		reps = append(reps, opts.BarData{Value: d.Repetitions})
		kcal = append(kcal, opts.BarData{Value: d.Calories})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "repcount: daily totals", Width: "100%", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{Title: "Daily totals", Subtitle: fmt.Sprintf("days=%d", len(totals))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(days).
		AddSeries("repetitions", reps).
		AddSeries("calories", kcal)
	return bar.Render(w)
}
