// Package exchange moves records in and out of the app as CSV, optionally
// wrapped in a passphrase-encrypted envelope.
package exchange

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/wlkla/iPredict/internal/history"
	appLog "github.com/wlkla/iPredict/internal/log"
	"github.com/wlkla/iPredict/internal/model"
	"github.com/wlkla/iPredict/internal/predict"
)

var (
	categoryHeader = []string{"index", "date", "interval_days", "category_id"}
	allHeader      = []string{"category_id", "category_name", "date", "interval_days"}
)

// Repository is the slice of the store used by import and export.
type Repository interface {
	Categories() ([]model.Category, error)
	History(categoryID string) (*history.Set, error)
	CreateCategory(name, color string) (model.Category, error)
	AddRecord(categoryID string, date time.Time) (model.Record, error)
	ParseDay(v string) (time.Time, error)
}

// ImportResult summarizes an import run.
type ImportResult struct {
	Imported      int `json:"imported"`
	Duplicates    int `json:"duplicates"`
	Errors        int `json:"errors"`
	NewCategories int `json:"new_categories"`
}

// ErrNoData is returned when there is nothing to export.
var ErrNoData = errors.New("exchange: no records to export")

// ExportCategory writes one category's records, oldest first. The first row
// carries interval 0.
func ExportCategory(w io.Writer, repo Repository, categoryID string) error {
	set, err := repo.History(categoryID)
	if err != nil {
		return err
	}
	if set.Len() == 0 {
		return ErrNoData
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(categoryHeader); err != nil {
		return err
	}
	for i, r := range set.Ascending() {
		row := []string{strconv.Itoa(i + 1), r.DateKey(), intervalField(r), categoryID}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ExportAll writes every category's records, grouped by category.
func ExportAll(w io.Writer, repo Repository) error {
	cats, err := repo.Categories()
	if err != nil {
		return err
	}
	if len(cats) == 0 {
		return ErrNoData
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(allHeader); err != nil {
		return err
	}
	for _, c := range cats {
		set, err := repo.History(c.ID)
		if err != nil {
			return fmt.Errorf("export %s: %w", c.Name, err)
		}
		for _, r := range set.Ascending() {
			if err := cw.Write([]string{c.ID, c.Name, r.DateKey(), intervalField(r)}); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

func intervalField(r model.Record) string {
	if r.IntervalDays == nil {
		return "0"
	}
	return strconv.Itoa(*r.IntervalDays)
}

func newReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	return cr
}

// ImportCategory reads the single-category format into categoryID. The date
// is taken from the second column; other columns are ignored.
func ImportCategory(r io.Reader, repo Repository, categoryID string) (ImportResult, error) {
	var res ImportResult
	set, err := repo.History(categoryID)
	if err != nil {
		return res, err
	}
	seen := existingDays(set)

	err = eachRow(r, func(row []string) {
		if len(row) < 2 {
			res.Errors++
			return
		}
		res.add(repo, categoryID, strings.TrimSpace(row[1]), seen)
	})
	appLog.Info("exchange: category import done", "category", categoryID,
		"imported", res.Imported, "duplicates", res.Duplicates, "errors", res.Errors)
	return res, err
}

// ImportAll reads the all-categories format. Categories are matched by name;
// unknown names become new inactive categories.
func ImportAll(r io.Reader, repo Repository) (ImportResult, error) {
	var res ImportResult
	cats, err := repo.Categories()
	if err != nil {
		return res, err
	}
	byName := make(map[string]string, len(cats))
	for _, c := range cats {
		byName[c.Name] = c.ID
	}
	seenByCat := make(map[string]map[string]bool)
	var opErr error

	err = eachRow(r, func(row []string) {
		if opErr != nil {
			return
		}
		if len(row) < 3 {
			res.Errors++
			return
		}
		name := strings.TrimSpace(row[1])
		if name == "" {
			res.Errors++
			return
		}
		id, ok := byName[name]
		if !ok {
			color := model.Palette[len(byName)%len(model.Palette)]
			c, err := repo.CreateCategory(name, color)
			if err != nil {
				opErr = err
				return
			}
			id = c.ID
			byName[name] = id
			res.NewCategories++
		}
		seen, ok := seenByCat[id]
		if !ok {
			set, err := repo.History(id)
			if err != nil {
				opErr = err
				return
			}
			seen = existingDays(set)
			seenByCat[id] = seen
		}
		res.add(repo, id, strings.TrimSpace(row[2]), seen)
	})
	if err == nil {
		err = opErr
	}
	appLog.Info("exchange: full import done", "imported", res.Imported,
		"duplicates", res.Duplicates, "errors", res.Errors, "new_categories", res.NewCategories)
	return res, err
}

// ImportDays adds already-parsed days to categoryID with the same duplicate
// accounting as the CSV importers.
func ImportDays(repo Repository, categoryID string, days []time.Time) (ImportResult, error) {
	var res ImportResult
	set, err := repo.History(categoryID)
	if err != nil {
		return res, err
	}
	seen := existingDays(set)
	for _, d := range days {
		res.add(repo, categoryID, d.Format(model.DateLayout), seen)
	}
	return res, nil
}

func (res *ImportResult) add(repo Repository, categoryID, date string, seen map[string]bool) {
	if seen[date] {
		res.Duplicates++
		return
	}
	day, err := repo.ParseDay(date)
	if err != nil {
		res.Errors++
		return
	}
	if _, err := repo.AddRecord(categoryID, day); err != nil {
		if errors.Is(err, history.ErrAlreadyRecorded) {
			res.Duplicates++
		} else {
			appLog.Error("exchange: add record failed", err, "category", categoryID, "date", date)
			res.Errors++
		}
		seen[date] = true
		return
	}
	seen[date] = true
	res.Imported++
}

// eachRow calls fn for every row after the header. Malformed CSV stops
// the read.
func eachRow(r io.Reader, fn func([]string)) error {
	cr := newReader(r)
	first := true
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("exchange: read csv: %w", err)
		}
		if first {
			first = false
			continue
		}
		fn(row)
	}
}

func existingDays(set *history.Set) map[string]bool {
	out := make(map[string]bool, set.Len())
	for _, r := range set.Records() {
		out[predict.Day(r.Date).Format(model.DateLayout)] = true
	}
	return out
}
