package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"strings"

	"github.com/wlkla/iPredict/internal/model"
	"github.com/wlkla/iPredict/internal/predict"
	"github.com/wlkla/iPredict/internal/theme"
)

//go:embed templates/chart.html
var templateFS embed.FS

var chartTemplate = template.Must(template.ParseFS(templateFS, "templates/chart.html"))

// Plot area of both SVG charts, in viewBox units.
const (
	plotWidth   = 960
	plotHeight  = 360
	plotPadding = 40
)

type barView struct {
	X, Y, W, H float64
	Label      string
	Count      int
}

type chartView struct {
	Category  model.Category
	Theme     theme.Theme
	Dark      bool
	Status    predict.Status
	Headline  string
	Predicted string
	Average   int

	// LinePoints is an SVG polyline "points" attribute.
	LinePoints string
	Bars       []barView
	MaxLine    int

	Width, Height, Padding int
}

func headline(snap predict.Snapshot) string {
	switch {
	case !snap.HasPrediction():
		return "No records yet"
	case snap.Phase == predict.PhaseDueToday:
		return "Expected today"
	case snap.Overdue:
		return fmt.Sprintf("%d days overdue", snap.DaysLeft())
	case snap.DaysRemaining == 1:
		return "1 day left"
	default:
		return fmt.Sprintf("%d days left", snap.DaysRemaining)
	}
}

// buildChartView lays out the interval line and the frequency bars.
func buildChartView(cat model.Category, t theme.Theme, snap predict.Snapshot) chartView {
	v := chartView{
		Category: cat,
		Theme:    t,
		Status:   snap.Status,
		Headline: headline(snap),
		Average:  snap.AverageIntervalDays,
		Width:    plotWidth,
		Height:   plotHeight,
		Padding:  plotPadding,
	}
	if snap.HasPrediction() {
		v.Predicted = snap.PredictedNextDate.Format(model.DateLayout)
	}

	innerW := float64(plotWidth - 2*plotPadding)
	innerH := float64(plotHeight - 2*plotPadding)

	for _, d := range snap.Intervals {
		if d > v.MaxLine {
			v.MaxLine = d
		}
	}
	if n := len(snap.Intervals); n > 0 && v.MaxLine > 0 {
		pts := make([]string, 0, n)
		for i, d := range snap.Intervals {
			x := float64(plotPadding) + innerW/2
			if n > 1 {
				x = float64(plotPadding) + innerW*float64(i)/float64(n-1)
			}
			y := float64(plotPadding) + innerH*(1-float64(d)/float64(v.MaxLine))
			pts = append(pts, fmt.Sprintf("%.1f,%.1f", x, y))
		}
		v.LinePoints = strings.Join(pts, " ")
	}

	buckets := predict.SortedHistogram(snap.IntervalFrequency)
	maxCount := 0
	for _, b := range buckets {
		if b.Count > maxCount {
			maxCount = b.Count
		}
	}
	if len(buckets) > 0 {
		slot := innerW / float64(len(buckets))
		for i, b := range buckets {
			h := innerH * float64(b.Count) / float64(maxCount)
			v.Bars = append(v.Bars, barView{
				X:     float64(plotPadding) + slot*float64(i) + slot*0.1,
				Y:     float64(plotPadding) + innerH - h,
				W:     slot * 0.8,
				H:     h,
				Label: fmt.Sprintf("%dd", b.IntervalDays),
				Count: b.Count,
			})
		}
	}
	return v
}

// handleChart renders a static analytics page for the capture command.
// The root element carries data-ready="true" once the page is rendered.
func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	cat, err := s.category(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	snap, _, err := s.snapshot(cat.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	_, t := s.themes.Current()
	v := buildChartView(cat, t, snap)
	v.Dark = r.URL.Query().Get("dark") == "1"

	var buf bytes.Buffer
	if err := chartTemplate.Execute(&buf, v); err != nil {
		writeDomainError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
