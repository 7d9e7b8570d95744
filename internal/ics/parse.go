package ics

import (
	"bytes"
	"errors"
	"sort"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "github.com/wlkla/iPredict/internal/log"
	"github.com/wlkla/iPredict/internal/model"
)

// parsedEvent is the part of a VEVENT that matters for turning it into
// records.
type parsedEvent struct {
	UID      string
	Summary  string
	Start    time.Time
	AllDay   bool
	Forecast bool

	RawRRule string
	ExDates  []time.Time
}

// ImportOptions controls ParseDays.
type ImportOptions struct {
	// Location is the zone of floating times and the day boundary.
	// nil means time.Local.
	Location *time.Location

	// Until bounds the import; occurrences after it are dropped so no
	// future day becomes a record. Zero means time.Now.
	Until time.Time

	// IncludeForecast keeps events this app exported as predictions.
	IncludeForecast bool
}

// ParseDays reads an ICS payload and returns the distinct calendar days its
// events occur on, oldest first. Recurring events are expanded up to
// opts.Until. Events that fail to parse are logged and skipped.
func ParseDays(body []byte, opts ImportOptions) ([]time.Time, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Until.IsZero() {
		opts.Until = time.Now()
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err)
		return nil, err
	}

	seen := make(map[string]bool)
	var days []time.Time
	for _, comp := range cal.Events() {
		ev, perr := parseVEvent(comp, opts.Location)
		if perr != nil {
			appLog.Error("ics vevent parse failed", perr)
			continue
		}
		if ev.Forecast && !opts.IncludeForecast {
			continue
		}
		occ, truncated := expandDays(ev, opts.Until, opts.Location)
		if truncated {
			appLog.Warn("ics: recurrence truncated", "uid", ev.UID, "cap", defaultMaxOccurrencesPerEvent)
		}
		for _, d := range occ {
			k := d.Format(model.DateLayout)
			if seen[k] {
				continue
			}
			seen[k] = true
			days = append(days, d)
		}
	}

	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	appLog.Info("ics parse completed", "event_count", len(cal.Events()), "day_count", len(days))
	return days, nil
}

func parseVEvent(ve *ical.VEvent, loc *time.Location) (parsedEvent, error) {
	var out parsedEvent

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uidProp.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}
	if p := ve.GetProperty(kindProperty); p != nil {
		out.Forecast = strings.EqualFold(p.Value, kindForecast)
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil || dtStart.Value == "" {
		return out, errors.New("missing DTSTART")
	}
	startLoc := loc
	if params := dtStart.ICalParameters; params != nil {
		if vs, ok := params["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
			out.AllDay = true
		}
		if tzs, ok := params["TZID"]; ok && len(tzs) > 0 {
			if l, err := time.LoadLocation(tzs[0]); err == nil {
				startLoc = l
			}
		}
	}
	if !strings.Contains(dtStart.Value, "T") {
		out.AllDay = true
	}
	start, err := parseICSTime(dtStart.Value, startLoc)
	if err != nil {
		return out, err
	}
	out.Start = start

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RawRRule = p.Value
	}

	// EXDATE may repeat and may hold a comma-separated list.
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, err := parseICSTime(part, startLoc); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}

	return out, nil
}

// parseICSTime parses DATE, floating DATE-TIME and UTC DATE-TIME values.
// Floating values are read in loc.
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}

	// UTC form, e.g., 20250101T090000Z
	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}

	// Local date-time, e.g., 20250101T090000
	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, loc)
	}

	// Date-only (all-day), e.g., 20250101
	return time.ParseInLocation("20060102", v, loc)
}
