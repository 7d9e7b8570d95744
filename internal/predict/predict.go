// Package predict derives countdown and interval statistics from a history
// of event records. Every function here is pure: callers pass a snapshot of
// the history and get a fresh result back.
package predict

import (
	"math"
	"sort"
	"time"

	"github.com/wlkla/iPredict/internal/model"
)

// DefaultIntervalDays is the average interval assumed when a history has
// fewer than two records. It is a policy value, not a derived one; callers
// override it through Options.DefaultIntervalDays.
const DefaultIntervalDays = 30

// Options controls snapshot computation.
type Options struct {
	// DefaultIntervalDays replaces the package default when positive.
	DefaultIntervalDays int
}

func (o Options) fallback() int {
	if o.DefaultIntervalDays > 0 {
		return o.DefaultIntervalDays
	}
	return DefaultIntervalDays
}

// Day truncates t to midnight of its calendar day in t's location.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// DaysBetween returns the number of calendar days from a to b, negative
// when b is earlier. Only the calendar dates matter, so a 23h or 25h day
// around a DST switch still counts as one day.
func DaysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	ua := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	ub := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua) / (24 * time.Hour))
}

// SortAscending returns a copy of records ordered oldest first.
func SortAscending(records []model.Record) []model.Record {
	out := make([]model.Record, len(records))
	copy(out, records)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Date.Before(out[j].Date)
	})
	return out
}

// ComputeIntervals returns the day gaps between chronologically adjacent
// records. The earliest record contributes no interval, so the result has
// len(records)-1 entries, or none for fewer than two records.
func ComputeIntervals(records []model.Record) []int {
	if len(records) < 2 {
		return []int{}
	}
	sorted := SortAscending(records)
	out := make([]int, 0, len(sorted)-1)
	for i := 1; i < len(sorted); i++ {
		out = append(out, DaysBetween(sorted[i-1].Date, sorted[i].Date))
	}
	return out
}

// AverageInterval returns the rounded mean of intervals. With no intervals
// it returns fallback and usedDefault=true.
func AverageInterval(intervals []int, fallback int) (avg int, usedDefault bool) {
	if len(intervals) == 0 {
		return fallback, true
	}
	total := 0
	for _, v := range intervals {
		total += v
	}
	return int(math.Round(float64(total) / float64(len(intervals)))), false
}

// PredictNext adds avgDays calendar days to last. Month and year rollover
// follow time.AddDate, e.g. 2024-01-31 + 30 = 2024-03-01.
func PredictNext(last time.Time, avgDays int) time.Time {
	return Day(last).AddDate(0, 0, avgDays)
}

// Phase classifies a countdown relative to the predicted day.
type Phase string

const (
	PhaseUpcoming Phase = "upcoming"
	PhaseDueToday Phase = "due_today"
	PhaseOverdue  Phase = "overdue"
)

// Countdown is the signed distance from today to the predicted day.
type Countdown struct {
	// DaysRemaining is negative once the predicted day has passed.
	DaysRemaining int   `json:"days_remaining"`
	Overdue       bool  `json:"overdue"`
	Phase         Phase `json:"phase"`
}

// DaysLeft is the display value: |DaysRemaining|.
func (c Countdown) DaysLeft() int {
	if c.DaysRemaining < 0 {
		return -c.DaysRemaining
	}
	return c.DaysRemaining
}

// CountdownState compares the predicted day with today. The predicted day
// itself is due today (0 days remaining), not overdue.
func CountdownState(predicted, today time.Time) Countdown {
	days := DaysBetween(today, predicted)
	c := Countdown{DaysRemaining: days, Overdue: days < 0}
	switch {
	case days > 0:
		c.Phase = PhaseUpcoming
	case days == 0:
		c.Phase = PhaseDueToday
	default:
		c.Phase = PhaseOverdue
	}
	return c
}

// FrequencyHistogram counts how often each interval length occurs.
func FrequencyHistogram(intervals []int) map[int]int {
	out := make(map[int]int)
	for _, v := range intervals {
		out[v]++
	}
	return out
}

// Bucket is one histogram entry.
type Bucket struct {
	IntervalDays int `json:"interval_days"`
	Count        int `json:"count"`
}

// SortedHistogram flattens a histogram ordered by interval length, for
// stable chart rendering.
func SortedHistogram(h map[int]int) []Bucket {
	out := make([]Bucket, 0, len(h))
	for k, v := range h {
		out = append(out, Bucket{IntervalDays: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].IntervalDays < out[j].IntervalDays
	})
	return out
}
