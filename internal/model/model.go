package model

import "time"

// Category is a tracked event type. Records, predictions and reminders are
// always scoped to one category.
type Category struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Color  string `json:"color"` // #RRGGBB
	Active bool   `json:"active"`

	CreatedAt time.Time `json:"created_at"`
}

// Record is a single logged occurrence of a category's event.
type Record struct {
	// ID is a time-ordered UUID assigned at creation.
	ID string `json:"id"`

	// Date is the calendar day of the occurrence, at midnight in the
	// configured timezone.
	Date time.Time `json:"date"`

	// IntervalDays is the whole-day gap to the nearest earlier record.
	// nil marks the earliest record of a history.
	IntervalDays *int `json:"interval_days"`
}

// HasInterval reports whether the record has an earlier neighbour.
func (r Record) HasInterval() bool {
	return r.IntervalDays != nil
}

// DateKey returns the record's day as YYYY-MM-DD.
func (r Record) DateKey() string {
	return r.Date.Format(DateLayout)
}

// DateLayout is the on-disk and wire format for calendar days.
const DateLayout = "2006-01-02"

// Palette is the set of colours offered for categories.
var Palette = []string{
	"#000000",
	"#FF5252",
	"#FF4081",
	"#E040FB",
	"#7C4DFF",
	"#536DFE",
	"#448AFF",
	"#40C4FF",
	"#18FFFF",
	"#64FFDA",
	"#69F0AE",
	"#B2FF59",
	"#EEFF41",
	"#FFFF00",
	"#FFD740",
	"#FFAB40",
	"#FF6E40",
}
