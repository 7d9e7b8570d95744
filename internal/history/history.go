// Package history keeps the ordered record list of one category and the
// per-record interval to the previous occurrence.
package history

import (
	"errors"
	"sort"
	"time"

	"github.com/wlkla/iPredict/internal/model"
	"github.com/wlkla/iPredict/internal/predict"
)

var (
	// ErrAlreadyRecorded is returned when a record for the same calendar
	// day already exists.
	ErrAlreadyRecorded = errors.New("history: date already recorded")
	// ErrNotFound is returned when an ID is not part of the set.
	ErrNotFound = errors.New("history: record not found")
	// ErrDuplicateID is returned when a record with the same ID is already
	// part of the set.
	ErrDuplicateID = errors.New("history: record id already exists")
)

// Set is the history of one category, newest first. A Set is not safe for
// concurrent mutation; the store builds a fresh one per operation.
type Set struct {
	records []model.Record
}

// New builds a Set from records in any order and recomputes every
// interval. Same-day duplicates are kept as-is; the store never writes them.
func New(records []model.Record) *Set {
	s := &Set{records: make([]model.Record, len(records))}
	copy(s.records, records)
	for i := range s.records {
		s.records[i].Date = predict.Day(s.records[i].Date)
	}
	sort.SliceStable(s.records, func(i, j int) bool {
		return s.records[i].Date.After(s.records[j].Date)
	})
	for i := range s.records {
		s.recompute(i)
	}
	return s
}

func (s *Set) Len() int {
	return len(s.records)
}

// Records returns a copy, newest first.
func (s *Set) Records() []model.Record {
	out := make([]model.Record, len(s.records))
	copy(out, s.records)
	return out
}

// Ascending returns a copy, oldest first.
func (s *Set) Ascending() []model.Record {
	out := make([]model.Record, len(s.records))
	for i, r := range s.records {
		out[len(out)-1-i] = r
	}
	return out
}

// Latest returns the newest record.
func (s *Set) Latest() (model.Record, bool) {
	if len(s.records) == 0 {
		return model.Record{}, false
	}
	return s.records[0], true
}

// Has reports whether day (any time of day) is already recorded.
func (s *Set) Has(day time.Time) bool {
	_, ok := s.indexOfDay(predict.Day(day))
	return ok
}

// Get returns the record with the given ID.
func (s *Set) Get(id string) (model.Record, bool) {
	i := s.indexOfID(id)
	if i < 0 {
		return model.Record{}, false
	}
	return s.records[i], true
}

// Insert adds r, normalizing its date to midnight. It returns the records
// whose interval changed: r itself and, if any, its later neighbour.
// An ID already in the set fails with ErrDuplicateID.
func (s *Set) Insert(r model.Record) ([]model.Record, error) {
	r.Date = predict.Day(r.Date)
	if r.ID != "" && s.indexOfID(r.ID) >= 0 {
		return nil, ErrDuplicateID
	}
	if _, ok := s.indexOfDay(r.Date); ok {
		return nil, ErrAlreadyRecorded
	}

	// First index whose date is earlier than r.
	pos := sort.Search(len(s.records), func(i int) bool {
		return s.records[i].Date.Before(r.Date)
	})
	s.records = append(s.records, model.Record{})
	copy(s.records[pos+1:], s.records[pos:])
	s.records[pos] = r

	s.recompute(pos)
	changed := []model.Record{s.records[pos]}
	if pos > 0 {
		s.recompute(pos - 1)
		changed = append(changed, s.records[pos-1])
	}
	return changed, nil
}

// Removal is a removed record that can still be put back.
type Removal struct {
	Record model.Record
	// Changed holds the later neighbour whose interval was recomputed.
	Changed []model.Record

	set *Set
}

// Undo re-inserts the removed record with its original ID.
func (r Removal) Undo() ([]model.Record, error) {
	if r.set == nil {
		return nil, ErrNotFound
	}
	return r.set.Insert(r.Record)
}

// Remove deletes the record with id. Only the next later record has its
// interval recomputed; every other record is untouched.
func (s *Set) Remove(id string) (Removal, error) {
	i := s.indexOfID(id)
	if i < 0 {
		return Removal{}, ErrNotFound
	}
	removed := s.records[i]
	s.records = append(s.records[:i], s.records[i+1:]...)

	rm := Removal{Record: removed, set: s}
	if i > 0 {
		s.recompute(i - 1)
		rm.Changed = []model.Record{s.records[i-1]}
	}
	return rm, nil
}

// Snapshot computes the prediction for this set.
func (s *Set) Snapshot(today time.Time, opts predict.Options) predict.Snapshot {
	return predict.Compute(s.records, today, opts)
}

// recompute sets the interval of records[i] against records[i+1].
func (s *Set) recompute(i int) {
	if i+1 >= len(s.records) {
		s.records[i].IntervalDays = nil
		return
	}
	d := predict.DaysBetween(s.records[i+1].Date, s.records[i].Date)
	s.records[i].IntervalDays = &d
}

func (s *Set) indexOfID(id string) int {
	for i, r := range s.records {
		if r.ID == id {
			return i
		}
	}
	return -1
}

func (s *Set) indexOfDay(day time.Time) (int, bool) {
	for i, r := range s.records {
		if predict.DaysBetween(r.Date, day) == 0 {
			return i, true
		}
	}
	return -1, false
}
