package web

import (
	"net/http"

	"github.com/wlkla/iPredict/internal/model"
	"github.com/wlkla/iPredict/internal/predict"
	"github.com/wlkla/iPredict/internal/theme"
)

func (s *Server) handleListCategories(w http.ResponseWriter, _ *http.Request) {
	cats, err := s.store.Categories()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": cats})
}

type createCategoryRequest struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var req createCategoryRequest
	if err := decodeJSON(r, &req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.Color != "" && !isHexColor(req.Color) {
		writeError(w, http.StatusBadRequest, "color must be #RRGGBB")
		return
	}
	if _, exists, err := s.store.CategoryByName(req.Name); err != nil {
		writeDomainError(w, err)
		return
	} else if exists {
		writeError(w, http.StatusConflict, "category already exists")
		return
	}
	c, err := s.store.CreateCategory(req.Name, req.Color)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleActivateCategory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.SetActiveCategory(id); err != nil {
		writeDomainError(w, err)
		return
	}
	c, err := s.store.Category(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.DeleteCategory(id); err != nil {
		writeDomainError(w, err)
		return
	}
	s.invalidate(id)
	w.WriteHeader(http.StatusNoContent)
}

type recordsResponse struct {
	Category model.Category `json:"category"`
	Records  []recordDTO    `json:"records"`
}

// recordDTO renders the day as YYYY-MM-DD so clients never see a zone.
type recordDTO struct {
	ID           string `json:"id"`
	Date         string `json:"date"`
	IntervalDays *int   `json:"interval_days"`
}

func toDTO(r model.Record) recordDTO {
	return recordDTO{ID: r.ID, Date: r.DateKey(), IntervalDays: r.IntervalDays}
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	cat, err := s.category(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	set, err := s.store.History(cat.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	recs := set.Records()
	out := make([]recordDTO, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toDTO(rec))
	}
	writeJSON(w, http.StatusOK, recordsResponse{Category: cat, Records: out})
}

type addRecordRequest struct {
	Date     string `json:"date,omitempty"`
	Category string `json:"category,omitempty"`
}

func (s *Server) handleAddRecord(w http.ResponseWriter, r *http.Request) {
	var req addRecordRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	if req.Category != "" {
		q := r.URL.Query()
		q.Set("category", req.Category)
		r.URL.RawQuery = q.Encode()
	}
	cat, err := s.category(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	day := s.store.Today()
	if req.Date != "" {
		day, err = s.store.ParseDay(req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
	}

	rec, err := s.store.AddRecord(cat.ID, day)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.invalidate(cat.ID)
	s.metrics.RecordChanged("add", 1)
	writeJSON(w, http.StatusCreated, toDTO(rec))
}

func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	cat, err := s.category(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	removed, err := s.store.DeleteRecord(cat.ID, r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.invalidate(cat.ID)
	s.metrics.RecordChanged("delete", 1)
	writeJSON(w, http.StatusOK, toDTO(removed))
}

type restoreRequest struct {
	ID   string `json:"id"`
	Date string `json:"date"`
}

// handleRestoreRecord undoes a delete: the client sends back the record it
// received from DELETE.
func (s *Server) handleRestoreRecord(w http.ResponseWriter, r *http.Request) {
	var req restoreRequest
	if err := decodeJSON(r, &req); err != nil || req.ID == "" || req.Date == "" {
		writeError(w, http.StatusBadRequest, "id and date are required")
		return
	}
	cat, err := s.category(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	day, err := s.store.ParseDay(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	if err := s.store.RestoreRecord(cat.ID, model.Record{ID: req.ID, Date: day}); err != nil {
		writeDomainError(w, err)
		return
	}
	s.invalidate(cat.ID)
	s.metrics.RecordChanged("restore", 1)

	set, err := s.store.History(cat.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	rec, _ := set.Get(req.ID)
	writeJSON(w, http.StatusCreated, toDTO(rec))
}

type predictionResponse struct {
	Category model.Category   `json:"category"`
	Today    string           `json:"today"`
	Snapshot predict.Snapshot `json:"snapshot"`
	DaysLeft *int             `json:"days_left,omitempty"`
}

func (s *Server) handlePrediction(w http.ResponseWriter, r *http.Request) {
	cat, err := s.category(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	snap, _, err := s.snapshot(cat.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	resp := predictionResponse{
		Category: cat,
		Today:    s.store.Today().Format(model.DateLayout),
		Snapshot: snap,
	}
	if snap.HasPrediction() {
		s.metrics.SetDaysRemaining(cat.Name, snap.DaysRemaining)
		left := snap.DaysLeft()
		resp.DaysLeft = &left
	}
	writeJSON(w, http.StatusOK, resp)
}

type linePoint struct {
	Index        int    `json:"index"`
	Date         string `json:"date"`
	IntervalDays int    `json:"interval_days"`
}

type pieSlice struct {
	IntervalDays int     `json:"interval_days"`
	Count        int     `json:"count"`
	Share        float64 `json:"share"`
}

type analyticsResponse struct {
	Category            model.Category   `json:"category"`
	Status              predict.Status   `json:"status"`
	AverageIntervalDays *int             `json:"average_interval_days,omitempty"`
	Line                []linePoint      `json:"line"`
	Histogram           []predict.Bucket `json:"histogram"`
	Pie                 []pieSlice       `json:"pie"`
}

// analytics derives the chart series of a snapshot. Line points are
// labelled with the date of the later record of each interval.
func analytics(cat model.Category, snap predict.Snapshot, asc []model.Record) analyticsResponse {
	resp := analyticsResponse{
		Category:  cat,
		Status:    snap.Status,
		Line:      make([]linePoint, 0, len(snap.Intervals)),
		Histogram: predict.SortedHistogram(snap.IntervalFrequency),
	}
	if snap.HasPrediction() {
		avg := snap.AverageIntervalDays
		resp.AverageIntervalDays = &avg
	}
	for i, d := range snap.Intervals {
		resp.Line = append(resp.Line, linePoint{Index: i + 1, Date: asc[i+1].DateKey(), IntervalDays: d})
	}
	total := len(snap.Intervals)
	resp.Pie = make([]pieSlice, 0, len(resp.Histogram))
	for _, b := range resp.Histogram {
		resp.Pie = append(resp.Pie, pieSlice{
			IntervalDays: b.IntervalDays,
			Count:        b.Count,
			Share:        float64(b.Count) / float64(total),
		})
	}
	return resp
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
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
	writeJSON(w, http.StatusOK, analytics(cat, snap, set.Ascending()))
}

func (s *Server) handleReminders(w http.ResponseWriter, _ *http.Request) {
	if s.reminders == nil {
		writeJSON(w, http.StatusOK, map[string]any{"enabled": false, "reminders": []any{}})
		return
	}
	plan, err := s.reminders.Pending()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"enabled": true, "reminders": plan})
}

type themeResponse struct {
	Preset  string      `json:"preset"`
	Theme   theme.Theme `json:"theme"`
	Presets []string    `json:"presets"`
}

func (s *Server) currentTheme() themeResponse {
	name, t := s.themes.Current()
	return themeResponse{Preset: name, Theme: t, Presets: theme.PresetNames()}
}

func (s *Server) handleGetTheme(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.currentTheme())
}

type putThemeRequest struct {
	Preset string       `json:"preset,omitempty"`
	Custom *theme.Theme `json:"custom,omitempty"`
}

func (s *Server) handlePutTheme(w http.ResponseWriter, r *http.Request) {
	var req putThemeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	switch {
	case req.Custom != nil:
		if err := s.themes.SaveCustom(*req.Custom); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	case req.Preset != "":
		if _, err := s.themes.Set(req.Preset); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	default:
		writeError(w, http.StatusBadRequest, "preset or custom is required")
		return
	}
	writeJSON(w, http.StatusOK, s.currentTheme())
}

func isHexColor(c string) bool {
	if len(c) != 7 || c[0] != '#' {
		return false
	}
	for _, r := range c[1:] {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
