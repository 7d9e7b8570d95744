package web

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/wlkla/iPredict/internal/exchange"
	"github.com/wlkla/iPredict/internal/ics"
	appLog "github.com/wlkla/iPredict/internal/log"
)

const (
	passphraseHeader = "X-Export-Passphrase"
	maxImportBytes   = 10 << 20
	maxForecastCount = 52
)

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	all := r.URL.Query().Get("all") == "1"

	var buf bytes.Buffer
	name := "ipredict-all"
	if all {
		if err := exchange.ExportAll(&buf, s.store); err != nil {
			writeDomainError(w, err)
			return
		}
	} else {
		cat, err := s.category(r)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if err := exchange.ExportCategory(&buf, s.store, cat.ID); err != nil {
			writeDomainError(w, err)
			return
		}
		name = "ipredict-" + cat.ID
	}
	name += "-" + s.store.Today().Format("20060102") + ".csv"

	body := buf.Bytes()
	contentType := "text/csv; charset=utf-8"
	if pass := r.Header.Get(passphraseHeader); pass != "" {
		sealed, err := exchange.Seal(pass, body)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		body = sealed
		contentType = "application/octet-stream"
		name += ".enc"
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// readImportBody returns the request body, decrypting it when it is an
// export envelope.
func readImportBody(r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, maxImportBytes))
	if err != nil {
		return nil, err
	}
	if !exchange.IsEncrypted(data) {
		return data, nil
	}
	pass := r.Header.Get(passphraseHeader)
	if pass == "" {
		return nil, exchange.ErrBadPassphrase
	}
	return exchange.Open(pass, data)
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	data, err := readImportBody(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "import too large")
			return
		}
		writeDomainError(w, err)
		return
	}

	var res exchange.ImportResult
	if r.URL.Query().Get("all") == "1" {
		res, err = exchange.ImportAll(bytes.NewReader(data), s.store)
		s.invalidateAll()
	} else {
		cat, cerr := s.category(r)
		if cerr != nil {
			writeDomainError(w, cerr)
			return
		}
		res, err = exchange.ImportCategory(bytes.NewReader(data), s.store, cat.ID)
		s.invalidate(cat.ID)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.metrics.RecordChanged("import", res.Imported)
	appLog.Info("csv imported", "imported", res.Imported, "duplicates", res.Duplicates,
		"errors", res.Errors, "new_categories", res.NewCategories)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleImportICS(w http.ResponseWriter, r *http.Request) {
	cat, err := s.category(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, maxImportBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "import too large")
		return
	}

	days, err := ics.ParseDays(body, ics.ImportOptions{
		Location:        s.store.Location(),
		Until:           time.Now(),
		IncludeForecast: r.URL.Query().Get("forecast") == "1",
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := exchange.ImportDays(s.store, cat.ID, days)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.invalidate(cat.ID)
	s.metrics.RecordChanged("import", res.Imported)
	appLog.Info("ics imported", "category", cat.Name, "imported", res.Imported, "duplicates", res.Duplicates)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	cat, err := s.category(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	snap, set, err := s.snapshot(cat.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	opts := ics.ExportOptions{ForecastCount: parseIntDefault(r.URL.Query().Get("count"), 3)}
	if s.cfg != nil {
		opts.ForecastCount = parseIntDefault(r.URL.Query().Get("count"), s.cfg.ForecastCount)
		opts.AlarmDaysBefore = s.cfg.Reminder.DaysBefore
		opts.AlarmHour = s.cfg.Reminder.Hour
	}
	if opts.ForecastCount > maxForecastCount {
		opts.ForecastCount = maxForecastCount
	}

	var buf bytes.Buffer
	if err := ics.Export(&buf, cat, set, snap, opts); err != nil {
		writeDomainError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="ipredict.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
