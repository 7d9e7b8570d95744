// Package reminder decides when to remind about a predicted occurrence and
// dispatches due reminders on a cron schedule.
package reminder

import (
	"fmt"
	"time"

	"github.com/wlkla/iPredict/internal/model"
	"github.com/wlkla/iPredict/internal/predict"
)

// Kind names which of the two reminders this is.
type Kind string

const (
	KindDayBefore Kind = "day_before"
	KindDayOf     Kind = "day_of"
)

// Settings are the reminder knobs from config.
type Settings struct {
	Hour       int
	DaysBefore int
}

// Reminder is one planned notification.
type Reminder struct {
	CategoryID   string    `json:"category_id"`
	CategoryName string    `json:"category_name"`
	Kind         Kind      `json:"kind"`
	Target       time.Time `json:"target"`
	FireAt       time.Time `json:"fire_at"`
}

// Key identifies a reminder for a given prediction. A new prediction date
// yields a new key, so reminders for stale predictions never match.
func (r Reminder) Key() string {
	return fmt.Sprintf("%s_%s_%s", r.CategoryID, r.Kind, r.Target.Format(model.DateLayout))
}

// Message is the human text of the reminder.
func (r Reminder) Message() string {
	switch r.Kind {
	case KindDayBefore:
		return fmt.Sprintf("%s is expected on %s.", r.CategoryName, r.Target.Format(model.DateLayout))
	default:
		return fmt.Sprintf("%s is expected today.", r.CategoryName)
	}
}

// Plan returns the reminders for snap's predicted date as seen at now:
//
//   - day_before fires at Hour on (predicted - DaysBefore), planned only
//     while today is not past that day.
//   - day_of fires at Hour on the predicted day, planned while today is
//     before it, or on it and before Hour.
//
// When a reminder's day is today and Hour has passed, it moves to the
// next day at Hour.
func Plan(cat model.Category, snap predict.Snapshot, now time.Time, s Settings) []Reminder {
	if !snap.HasPrediction() {
		return nil
	}
	loc := now.Location()
	today := predict.Day(now)
	y, m, d := snap.PredictedNextDate.Date()
	target := time.Date(y, m, d, 0, 0, 0, 0, loc)
	hour := s.Hour
	if hour < 0 || hour > 23 {
		hour = 8
	}

	fireTime := func(base time.Time) time.Time {
		t := time.Date(base.Year(), base.Month(), base.Day(), hour, 0, 0, 0, loc)
		if base.Equal(today) && now.Hour() >= hour {
			t = t.AddDate(0, 0, 1)
		}
		return t
	}

	var out []Reminder
	if s.DaysBefore > 0 {
		dayBefore := target.AddDate(0, 0, -s.DaysBefore)
		if !today.After(dayBefore) {
			out = append(out, Reminder{
				CategoryID:   cat.ID,
				CategoryName: cat.Name,
				Kind:         KindDayBefore,
				Target:       target,
				FireAt:       fireTime(dayBefore),
			})
		}
	}
	if today.Before(target) || (today.Equal(target) && now.Hour() < hour) {
		out = append(out, Reminder{
			CategoryID:   cat.ID,
			CategoryName: cat.Name,
			Kind:         KindDayOf,
			Target:       target,
			FireAt:       fireTime(target),
		})
	}
	return out
}
