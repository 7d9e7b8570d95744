// Package store persists categories, records, settings and reminder state
// in a single bbolt file.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/wlkla/iPredict/internal/history"
	appLog "github.com/wlkla/iPredict/internal/log"
	"github.com/wlkla/iPredict/internal/model"
	"github.com/wlkla/iPredict/internal/predict"
)

// Bucket names. Records live in one nested bucket per category, keyed by
// YYYY-MM-DD so a calendar day can only be stored once.
const (
	categoriesBucket = "categories"
	recordsBucket    = "records"
	settingsBucket   = "settings"
	remindersBucket  = "reminders"
)

const (
	defaultCategoryName  = "Default"
	defaultCategoryColor = "#000000"
)

var (
	// ErrCategoryNotFound is returned for an unknown category ID.
	ErrCategoryNotFound = errors.New("store: category not found")
	// ErrLastCategory is returned when deleting the only category.
	ErrLastCategory = errors.New("store: cannot delete the last category")
)

// Store is safe for concurrent use; bbolt serializes writers.
type Store struct {
	db  *bolt.DB
	loc *time.Location
}

// storedRecord keeps the day as a plain date so records survive a
// timezone change in config.
type storedRecord struct {
	ID           string `json:"id"`
	Date         string `json:"date"`
	IntervalDays *int   `json:"interval_days"`
}

// Open opens (or creates) the database at path. loc decides which calendar
// day an instant belongs to; nil means time.Local. A "Default" category is
// created on first open.
func Open(path string, loc *time.Location) (*Store, error) {
	if path == "" {
		return nil, errors.New("store: path is empty")
	}
	if loc == nil {
		loc = time.Local
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db, loc: loc}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{categoriesBucket, recordsBucket, settingsBucket, remindersBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		cats := tx.Bucket([]byte(categoriesBucket))
		if k, _ := cats.Cursor().First(); k != nil {
			return nil
		}
		c, err := newCategory(defaultCategoryName, defaultCategoryColor)
		if err != nil {
			return err
		}
		c.Active = true
		appLog.Info("store: created default category", "id", c.ID)
		return putJSON(cats, c.ID, c)
	})
}

// Close releases the database file lock.
func (s *Store) Close() error {
	return s.db.Close()
}

// Location is the zone used to derive calendar days.
func (s *Store) Location() *time.Location {
	return s.loc
}

// Today is the current calendar day in the store's zone.
func (s *Store) Today() time.Time {
	return predict.Day(time.Now().In(s.loc))
}

// ParseDay parses YYYY-MM-DD in the store's zone.
func (s *Store) ParseDay(v string) (time.Time, error) {
	return time.ParseInLocation(model.DateLayout, v, s.loc)
}

func newCategory(name, color string) (model.Category, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return model.Category{}, fmt.Errorf("generate category id: %w", err)
	}
	return model.Category{
		ID:        id.String(),
		Name:      name,
		Color:     color,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Categories returns all categories sorted by name.
func (s *Store) Categories() ([]model.Category, error) {
	var out []model.Category
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(categoriesBucket)).ForEach(func(_, v []byte) error {
			var c model.Category
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			out = append(out, c)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Category returns one category by ID.
func (s *Store) Category(id string) (model.Category, error) {
	var c model.Category
	err := s.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket([]byte(categoriesBucket)), id, &c)
	})
	return c, err
}

// ActiveCategory returns the active category, or the first one by name if
// none is flagged.
func (s *Store) ActiveCategory() (model.Category, error) {
	cats, err := s.Categories()
	if err != nil {
		return model.Category{}, err
	}
	if len(cats) == 0 {
		return model.Category{}, ErrCategoryNotFound
	}
	for _, c := range cats {
		if c.Active {
			return c, nil
		}
	}
	return cats[0], nil
}

// CategoryByName finds a category by exact name.
func (s *Store) CategoryByName(name string) (model.Category, bool, error) {
	cats, err := s.Categories()
	if err != nil {
		return model.Category{}, false, err
	}
	for _, c := range cats {
		if c.Name == name {
			return c, true, nil
		}
	}
	return model.Category{}, false, nil
}

// CreateCategory adds an inactive category.
func (s *Store) CreateCategory(name, color string) (model.Category, error) {
	if name == "" {
		return model.Category{}, errors.New("store: category name is empty")
	}
	if color == "" {
		color = defaultCategoryColor
	}
	c, err := newCategory(name, color)
	if err != nil {
		return model.Category{}, err
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket([]byte(categoriesBucket)), c.ID, c)
	})
	if err != nil {
		return model.Category{}, fmt.Errorf("create category: %w", err)
	}
	appLog.Info("store: category created", "id", c.ID, "name", name)
	return c, nil
}

// SetActiveCategory makes id the only active category.
func (s *Store) SetActiveCategory(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(categoriesBucket))
		if b.Get([]byte(id)) == nil {
			return ErrCategoryNotFound
		}
		var cats []model.Category
		if err := b.ForEach(func(_, v []byte) error {
			var c model.Category
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			cats = append(cats, c)
			return nil
		}); err != nil {
			return err
		}
		for _, c := range cats {
			c.Active = c.ID == id
			if err := putJSON(b, c.ID, c); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteCategory removes a category and all of its records. The last
// remaining category cannot be deleted.
func (s *Store) DeleteCategory(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(categoriesBucket))
		if b.Get([]byte(id)) == nil {
			return ErrCategoryNotFound
		}
		n := 0
		c := b.Cursor()
		for k, _ := c.First(); k != nil && n < 2; k, _ = c.Next() {
			n++
		}
		if n <= 1 {
			return ErrLastCategory
		}
		if err := b.Delete([]byte(id)); err != nil {
			return err
		}
		recs := tx.Bucket([]byte(recordsBucket))
		if recs.Bucket([]byte(id)) != nil {
			if err := recs.DeleteBucket([]byte(id)); err != nil {
				return err
			}
		}
		appLog.Info("store: category deleted", "id", id)
		return nil
	})
}

// History loads the full record set of a category.
func (s *Store) History(categoryID string) (*history.Set, error) {
	var set *history.Set
	err := s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket([]byte(categoriesBucket)).Get([]byte(categoryID)) == nil {
			return ErrCategoryNotFound
		}
		var err error
		set, err = s.loadSet(tx, categoryID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return set, nil
}

// AddRecord records date (reduced to its calendar day) for a category.
// A second record on the same day fails with history.ErrAlreadyRecorded.
func (s *Store) AddRecord(categoryID string, date time.Time) (model.Record, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return model.Record{}, fmt.Errorf("generate record id: %w", err)
	}
	r := model.Record{ID: id.String(), Date: predict.Day(date.In(s.loc))}
	if err := s.insert(categoryID, r); err != nil {
		return model.Record{}, err
	}
	appLog.Info("store: record added", "category", categoryID, "date", r.DateKey())
	return r, nil
}

// RestoreRecord puts back a record removed by DeleteRecord, keeping its ID.
func (s *Store) RestoreRecord(categoryID string, r model.Record) error {
	if r.ID == "" {
		return errors.New("store: record id is empty")
	}
	r.Date = predict.Day(r.Date.In(s.loc))
	return s.insert(categoryID, r)
}

func (s *Store) insert(categoryID string, r model.Record) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := s.recordBucket(tx, categoryID)
		if err != nil {
			return err
		}
		set, err := s.loadSet(tx, categoryID)
		if err != nil {
			return err
		}
		changed, err := set.Insert(r)
		if err != nil {
			return err
		}
		return putRecords(b, changed)
	})
}

// DeleteRecord removes a record by ID and rewrites the interval of the
// record that followed it. The removed record is returned for undo.
func (s *Store) DeleteRecord(categoryID, id string) (model.Record, error) {
	var removed model.Record
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := s.recordBucket(tx, categoryID)
		if err != nil {
			return err
		}
		set, err := s.loadSet(tx, categoryID)
		if err != nil {
			return err
		}
		rm, err := set.Remove(id)
		if err != nil {
			return err
		}
		removed = rm.Record
		if err := b.Delete([]byte(rm.Record.DateKey())); err != nil {
			return err
		}
		return putRecords(b, rm.Changed)
	})
	if err != nil {
		return model.Record{}, err
	}
	appLog.Info("store: record deleted", "category", categoryID, "id", id, "date", removed.DateKey())
	return removed, nil
}

func (s *Store) recordBucket(tx *bolt.Tx, categoryID string) (*bolt.Bucket, error) {
	if tx.Bucket([]byte(categoriesBucket)).Get([]byte(categoryID)) == nil {
		return nil, ErrCategoryNotFound
	}
	return tx.Bucket([]byte(recordsBucket)).CreateBucketIfNotExists([]byte(categoryID))
}

func (s *Store) loadSet(tx *bolt.Tx, categoryID string) (*history.Set, error) {
	b := tx.Bucket([]byte(recordsBucket)).Bucket([]byte(categoryID))
	if b == nil {
		return history.New(nil), nil
	}
	var recs []model.Record
	err := b.ForEach(func(_, v []byte) error {
		var sr storedRecord
		if err := json.Unmarshal(v, &sr); err != nil {
			return err
		}
		d, err := s.ParseDay(sr.Date)
		if err != nil {
			return fmt.Errorf("record %s: %w", sr.ID, err)
		}
		recs = append(recs, model.Record{ID: sr.ID, Date: d, IntervalDays: sr.IntervalDays})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return history.New(recs), nil
}

func putRecords(b *bolt.Bucket, recs []model.Record) error {
	for _, r := range recs {
		sr := storedRecord{ID: r.ID, Date: r.DateKey(), IntervalDays: r.IntervalDays}
		if err := putJSON(b, sr.Date, sr); err != nil {
			return err
		}
	}
	return nil
}

// Setting returns a raw settings value.
func (s *Store) Setting(key string) ([]byte, bool, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket([]byte(settingsBucket)).Get([]byte(key)); v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	return out, out != nil, err
}

// PutSetting stores a raw settings value.
func (s *Store) PutSetting(key string, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(settingsBucket)).Put([]byte(key), value)
	})
}

// MarkSent records that the reminder with key fired at at.
func (s *Store) MarkSent(key string, at time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(remindersBucket)).Put([]byte(key), []byte(at.UTC().Format(time.RFC3339)))
	})
}

// WasSent reports whether the reminder with key already fired.
func (s *Store) WasSent(key string) (bool, error) {
	var sent bool
	err := s.db.View(func(tx *bolt.Tx) error {
		sent = tx.Bucket([]byte(remindersBucket)).Get([]byte(key)) != nil
		return nil
	})
	return sent, err
}

// PruneSent drops reminder marks older than cutoff.
func (s *Store) PruneSent(cutoff time.Time) (int, error) {
	pruned := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(remindersBucket))
		var stale [][]byte
		if err := b.ForEach(func(k, v []byte) error {
			at, err := time.Parse(time.RFC3339, string(v))
			if err != nil || at.Before(cutoff) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		pruned = len(stale)
		return nil
	})
	return pruned, err
}

func putJSON(b *bolt.Bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put([]byte(key), data)
}

func getJSON(b *bolt.Bucket, key string, v any) error {
	data := b.Get([]byte(key))
	if data == nil {
		return ErrCategoryNotFound
	}
	return json.Unmarshal(data, v)
}
