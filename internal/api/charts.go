package api

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/posture.report/internal/stats"
	"github.com/banshee-data/posture.report/internal/units"
)

// handleDailyChart renders a bar chart of screen and bad-posture minutes per
// day over the last 30 days. Debugging-only endpoint (no auth) to eyeball
// trends without a frontend.
func (s *Server) handleDailyChart(w http.ResponseWriter, r *http.Request) {
	since := s.clock.Now().AddDate(0, 0, -29).Format(stats.DateKeyFormat)
	rows, err := s.db.DailyMetrics(since)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to load metrics: %v", err))
		return
	}
	if len(rows) == 0 {
		s.writeJSONError(w, http.StatusNotFound, "no daily metrics recorded yet")
		return
	}

	dates := make([]string, 0, len(rows))
	screen := make([]opts.BarData, 0, len(rows))
	posture := make([]opts.BarData, 0, len(rows))
	for _, row := range rows {
		dates = append(dates, row.Date)
		screen = append(screen, opts.BarData{Value: float64(row.ScreenSec) / 60.0})
		posture = append(posture, opts.BarData{Value: float64(row.PostureSec) / 60.0})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Daily Screen Time", Width: "100%", Height: "720px"}),
		charts.WithTitleOpts(opts.Title{Title: "Daily Screen Time", Subtitle: fmt.Sprintf("minutes per day, %d days", len(rows))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(dates).
		AddSeries("screen minutes", screen,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		).
		AddSeries("bad posture minutes", posture)

	page := components.NewPage()
	page.AddCharts(bar)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleHourlyChart renders one date's hour buckets: screen minutes,
// bad-posture minutes and average distance per hour.
// Query params:
//   - date (optional; defaults to today, format 2006-01-02)
func (s *Server) handleHourlyChart(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		date = s.clock.Now().Format(stats.DateKeyFormat)
	}

	rows, err := s.db.HourlyMetrics(date)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to load hourly metrics: %v", err))
		return
	}
	if len(rows) == 0 {
		s.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("no hourly metrics for %s", date))
		return
	}

	hours := make([]string, 0, len(rows))
	screen := make([]opts.BarData, 0, len(rows))
	posture := make([]opts.BarData, 0, len(rows))
	distance := make([]opts.BarData, 0, len(rows))
	for _, row := range rows {
		// "2006-01-02 15" -> "15:00"
		label := row.DateHour
		if len(label) > len(date)+1 {
			label = label[len(date)+1:] + ":00"
		}
		hours = append(hours, label)
		screen = append(screen, opts.BarData{Value: float64(row.ScreenSec) / 60.0})
		posture = append(posture, opts.BarData{Value: float64(row.PostureSec) / 60.0})
		distance = append(distance, opts.BarData{Value: row.AvgDistanceCM})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Hourly Breakdown", Width: "100%", Height: "720px"}),
		charts.WithTitleOpts(opts.Title{Title: "Hourly Breakdown", Subtitle: date}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(hours).
		AddSeries("screen minutes", screen).
		AddSeries("bad posture minutes", posture)

	dist := charts.NewBar()
	dist.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: fmt.Sprintf("Average Distance (%s)", units.CM), Subtitle: date}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	dist.SetXAxis(hours).
		AddSeries("avg distance", distance,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	page := components.NewPage()
	page.AddCharts(bar, dist)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
