// Package ics converts a category's history and forecast to and from
// iCalendar.
package ics

import (
	"fmt"
	"io"
	"time"

	ical "github.com/arran4/golang-ical"

	"github.com/wlkla/iPredict/internal/history"
	"github.com/wlkla/iPredict/internal/model"
	"github.com/wlkla/iPredict/internal/predict"
)

const (
	productID = "-//iPredict//Event Forecast//EN"

	kindProperty ical.ComponentProperty = "X-IPREDICT-KIND"
	kindRecord                          = "record"
	kindForecast                        = "forecast"
)

// ExportOptions controls Export.
type ExportOptions struct {
	// ForecastCount is the number of predicted occurrences to include.
	ForecastCount int

	// AlarmDaysBefore, when positive, adds a display alarm that many days
	// before each predicted occurrence. Zero fires on the day itself.
	AlarmDaysBefore int

	// AlarmHour is the local hour the alarm fires at.
	AlarmHour int

	// Now stamps DTSTAMP; zero means time.Now.
	Now time.Time
}

// Export writes cat's recorded days as all-day events followed by
// opts.ForecastCount predicted days.
func Export(w io.Writer, cat model.Category, set *history.Set, snap predict.Snapshot, opts ExportOptions) error {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	cal.SetXWRCalName("iPredict: " + cat.Name)

	for _, r := range set.Ascending() {
		ev := cal.AddEvent(r.ID + "@ipredict")
		ev.SetDtStampTime(now)
		ev.SetSummary(cat.Name)
		if r.IntervalDays != nil {
			ev.SetDescription(fmt.Sprintf("%d days after the previous record", *r.IntervalDays))
		}
		setAllDay(ev, r.Date)
		ev.SetProperty(kindProperty, kindRecord)
	}

	days, err := Forecast(snap, opts.ForecastCount)
	if err != nil {
		return err
	}
	for i, d := range days {
		ev := cal.AddEvent(fmt.Sprintf("%s-forecast-%s@ipredict", cat.ID, d.Format("20060102")))
		ev.SetDtStampTime(now)
		ev.SetSummary(cat.Name + " (predicted)")
		ev.SetDescription(fmt.Sprintf("Prediction %d of %d, average interval %d days",
			i+1, len(days), snap.AverageIntervalDays))
		setAllDay(ev, d)
		ev.SetProperty(kindProperty, kindForecast)

		alarm := ev.AddAlarm()
		alarm.SetAction(ical.ActionDisplay)
		alarm.SetTrigger(alarmTrigger(opts.AlarmDaysBefore, opts.AlarmHour))
		alarm.SetProperty(ical.ComponentPropertyDescription, cat.Name+" is expected")
	}

	_, err = io.WriteString(w, cal.Serialize())
	return err
}

func setAllDay(ev *ical.VEvent, day time.Time) {
	day = predict.Day(day)
	ev.SetAllDayStartAt(day)
	ev.SetAllDayEndAt(day.AddDate(0, 0, 1))
}

// alarmTrigger is relative to midnight of the all-day start.
func alarmTrigger(daysBefore, hour int) string {
	if hour < 0 || hour > 23 {
		hour = 0
	}
	if daysBefore <= 0 {
		return fmt.Sprintf("PT%dH", hour)
	}
	return fmt.Sprintf("-PT%dH", daysBefore*24-hour)
}
