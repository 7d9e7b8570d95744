package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/wlkla/iPredict/internal/config"
	"github.com/wlkla/iPredict/internal/exchange"
	"github.com/wlkla/iPredict/internal/history"
	appLog "github.com/wlkla/iPredict/internal/log"
	"github.com/wlkla/iPredict/internal/metrics"
	"github.com/wlkla/iPredict/internal/model"
	"github.com/wlkla/iPredict/internal/predict"
	"github.com/wlkla/iPredict/internal/reminder"
	"github.com/wlkla/iPredict/internal/store"
	"github.com/wlkla/iPredict/internal/theme"
)

// Deps are the collaborators the HTTP layer serves.
type Deps struct {
	Config    *config.Config
	Store     *store.Store
	Themes    *theme.Store
	Metrics   *metrics.Metrics
	Reminders *reminder.Dispatcher // optional
}

// Server provides the JSON API, the ICS feed and the chart page.
type Server struct {
	cfg       *config.Config
	store     *store.Store
	themes    *theme.Store
	metrics   *metrics.Metrics
	reminders *reminder.Dispatcher
	mux       *http.ServeMux

	// Per-category snapshot cache. Entries expire after snapshotCacheTTL,
	// at midnight, and on every write to the category.
	snapMu    sync.RWMutex
	snapCache map[string]snapshotCache
}

type snapshotCache struct {
	snap      predict.Snapshot
	set       *history.Set
	today     time.Time
	updatedAt time.Time
}

const snapshotCacheTTL = 30 * time.Second

// NewServer constructs a new Server.
func NewServer(d Deps) *Server {
	s := &Server{
		cfg:       d.Config,
		store:     d.Store,
		themes:    d.Themes,
		metrics:   d.Metrics,
		reminders: d.Reminders,
		mux:       http.NewServeMux(),
		snapCache: make(map[string]snapshotCache),
	}
	if s.themes != nil {
		s.themes.Subscribe(s.onThemeChange)
	}
	s.registerRoutes()
	return s
}

// onThemeChange runs after every theme selection, from the API or elsewhere.
func (s *Server) onThemeChange(name string, _ theme.Theme) {
	s.metrics.ThemeChanged(name)
	appLog.Debug("chart theme updated", "preset", name)
}

// Handler returns the root handler with metrics and optional basic auth.
func (s *Server) Handler() http.Handler {
	h := s.instrument(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("GET /api/categories", s.handleListCategories)
	s.mux.HandleFunc("POST /api/categories", s.handleCreateCategory)
	s.mux.HandleFunc("POST /api/categories/{id}/activate", s.handleActivateCategory)
	s.mux.HandleFunc("DELETE /api/categories/{id}", s.handleDeleteCategory)

	s.mux.HandleFunc("GET /api/records", s.handleListRecords)
	s.mux.HandleFunc("POST /api/records", s.handleAddRecord)
	s.mux.HandleFunc("POST /api/records/restore", s.handleRestoreRecord)
	s.mux.HandleFunc("DELETE /api/records/{id}", s.handleDeleteRecord)

	s.mux.HandleFunc("GET /api/prediction", s.handlePrediction)
	s.mux.HandleFunc("GET /api/analytics", s.handleAnalytics)
	s.mux.HandleFunc("GET /api/reminders", s.handleReminders)

	s.mux.HandleFunc("GET /api/export.csv", s.handleExport)
	s.mux.HandleFunc("POST /api/import", s.handleImport)
	s.mux.HandleFunc("POST /api/import/ics", s.handleImportICS)
	s.mux.HandleFunc("GET /calendar.ics", s.handleCalendar)

	s.mux.HandleFunc("GET /api/theme", s.handleGetTheme)
	s.mux.HandleFunc("PUT /api/theme", s.handlePutTheme)

	s.mux.HandleFunc("GET /chart", s.handleChart)
	s.mux.Handle("GET /metrics", s.metrics.Handler())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// 빈 사용자명 또는 비밀번호가 설정된 경우에는 비활성화로 취급한다.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="iPredict", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument records request count and latency by matched route pattern.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		s.metrics.ObserveRequest(r.Method, route, rec.status, time.Since(start))
		appLog.Debug("http request", "method", r.Method, "path", r.URL.Path,
			"status", rec.status, "elapsed_ms", time.Since(start).Milliseconds())
	})
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, listen string) error {
	srv := &http.Server{
		Addr:              listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		appLog.Info("shutting down HTTP server")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

// category resolves ?category= (ID or name) or falls back to the active one.
func (s *Server) category(r *http.Request) (model.Category, error) {
	ref := r.URL.Query().Get("category")
	if ref == "" {
		return s.store.ActiveCategory()
	}
	c, err := s.store.Category(ref)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, store.ErrCategoryNotFound) {
		return model.Category{}, err
	}
	c, ok, err := s.store.CategoryByName(ref)
	if err != nil {
		return model.Category{}, err
	}
	if !ok {
		return model.Category{}, store.ErrCategoryNotFound
	}
	return c, nil
}

func (s *Server) predictOptions() predict.Options {
	if s.cfg == nil {
		return predict.Options{}
	}
	return predict.Options{DefaultIntervalDays: s.cfg.DefaultIntervalDays}
}

// snapshot returns the cached or freshly computed snapshot of categoryID
// together with the history it was computed from.
func (s *Server) snapshot(categoryID string) (predict.Snapshot, *history.Set, error) {
	today := s.store.Today()
	now := time.Now()

	s.snapMu.RLock()
	c, ok := s.snapCache[categoryID]
	s.snapMu.RUnlock()
	if ok && c.today.Equal(today) && now.Sub(c.updatedAt) < snapshotCacheTTL {
		return c.snap, c.set, nil
	}

	set, err := s.store.History(categoryID)
	if err != nil {
		return predict.Snapshot{}, nil, err
	}
	snap := set.Snapshot(today, s.predictOptions())
	s.snapMu.Lock()
	s.snapCache[categoryID] = snapshotCache{snap: snap, set: set, today: today, updatedAt: now}
	s.snapMu.Unlock()
	return snap, set, nil
}

func (s *Server) invalidate(categoryID string) {
	s.snapMu.Lock()
	delete(s.snapCache, categoryID)
	s.snapMu.Unlock()
}

func (s *Server) invalidateAll() {
	s.snapMu.Lock()
	s.snapCache = make(map[string]snapshotCache)
	s.snapMu.Unlock()
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}

// writeDomainError maps package sentinels to HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, history.ErrAlreadyRecorded):
		writeError(w, http.StatusConflict, "already recorded for this day")
	case errors.Is(err, history.ErrDuplicateID):
		writeError(w, http.StatusConflict, "record id already exists")
	case errors.Is(err, store.ErrLastCategory):
		writeError(w, http.StatusConflict, "cannot delete the last category")
	case errors.Is(err, history.ErrNotFound):
		writeError(w, http.StatusNotFound, "record not found")
	case errors.Is(err, store.ErrCategoryNotFound):
		writeError(w, http.StatusNotFound, "category not found")
	case errors.Is(err, exchange.ErrNoData):
		writeError(w, http.StatusNotFound, "no records to export")
	case errors.Is(err, exchange.ErrBadPassphrase), errors.Is(err, exchange.ErrNotEncrypted),
		errors.Is(err, exchange.ErrUnsupportedVersion):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		appLog.Error("request failed", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
