package ics

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"

	appLog "github.com/wlkla/iPredict/internal/log"
	"github.com/wlkla/iPredict/internal/predict"
)

const defaultMaxOccurrencesPerEvent = 5000

// Forecast returns the next count predicted days of snap: the predicted
// date, then every averageIntervalDays after it.
func Forecast(snap predict.Snapshot, count int) ([]time.Time, error) {
	if !snap.HasPrediction() || count <= 0 {
		return nil, nil
	}
	if snap.AverageIntervalDays <= 0 {
		return nil, errors.New("forecast: average interval must be positive")
	}
	r, err := rrule.NewRRule(rrule.ROption{
		Freq:     rrule.DAILY,
		Interval: snap.AverageIntervalDays,
		Count:    count,
		Dtstart:  predict.Day(snap.PredictedNextDate),
	})
	if err != nil {
		return nil, err
	}
	out := r.All()
	for i := range out {
		out[i] = predict.Day(out[i])
	}
	return out, nil
}

// expandDays turns one parsed event into the calendar days it occurs on,
// up to and including until. Non-recurring events yield their start day.
func expandDays(ev parsedEvent, until time.Time, loc *time.Location) ([]time.Time, bool) {
	if ev.Start.After(until) {
		return nil, false
	}
	if ev.RawRRule == "" {
		return []time.Time{predict.Day(ev.Start.In(loc))}, false
	}

	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("ics: failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return nil, false
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	times := set.Between(ev.Start, until.In(ev.Start.Location()), true)
	hitCap := false
	if len(times) > defaultMaxOccurrencesPerEvent {
		times = times[:defaultMaxOccurrencesPerEvent]
		hitCap = true
	}

	out := make([]time.Time, 0, len(times))
	for _, t := range times {
		out = append(out, predict.Day(t.In(loc)))
	}
	return out, hitCap
}
