// Package statsapi serves pool statistics over HTTP: JSON snapshots for
// operators, Prometheus metrics for scrapers, and a manual trim hook.
package statsapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"imagepipeline/db"
	"imagepipeline/memory"
	"imagepipeline/metrics"
)

// History is the queryable part of the stats journal.
type History interface {
	Events(ctx context.Context, q db.EventQuery) ([]metrics.PoolEvent, error)
	Totals(ctx context.Context, pool string) (map[metrics.EventKind]db.KindTotal, error)
}

// Trimmer delivers a trim signal to every registered trimmable.
type Trimmer interface {
	Dispatch(trimType memory.TrimType)
}

// CacheInfo reports the size of the decoded bitmap cache.
type CacheInfo interface {
	Len() int
	SizeInBytes() int
}

// Config limits list endpoints.
type Config struct {
	DefaultLimit int
	MaxLimit     int
	Version      string
}

// DefaultConfig returns limits of 50 and 500.
func DefaultConfig() Config {
	return Config{DefaultLimit: 50, MaxLimit: 500, Version: "dev"}
}

// API holds the JSON handlers.
//
// Endpoints:
//   - GET  /healthz        liveness
//   - GET  /stats          counters, pool snapshots and cache size
//   - GET  /stats/events   recent in-memory events (limit, pool)
//   - GET  /stats/history  journaled events (limit, pool, kind, since)
//   - GET  /stats/totals   journaled per-kind totals (pool)
//   - POST /trim           dispatch a trim (level=moderate|all)
type API struct {
	collector metrics.Collector
	pools     []metrics.StatsSource
	cache     CacheInfo
	history   History
	trimmer   Trimmer
	cfg       Config
	started   time.Time
}

// Option configures an API.
type Option func(*API)

// WithPools adds pools whose live snapshots appear in /stats.
func WithPools(pools ...metrics.StatsSource) Option {
	return func(a *API) { a.pools = append(a.pools, pools...) }
}

// WithCache reports the memory cache size in /stats.
func WithCache(c CacheInfo) Option {
	return func(a *API) { a.cache = c }
}

// WithHistory enables /stats/history and /stats/totals.
func WithHistory(h History) Option {
	return func(a *API) { a.history = h }
}

// WithTrimmer enables POST /trim.
func WithTrimmer(t Trimmer) Option {
	return func(a *API) { a.trimmer = t }
}

// NewAPI creates the handlers over collector.
func NewAPI(collector metrics.Collector, cfg Config, opts ...Option) *API {
	if cfg.DefaultLimit < 1 {
		cfg.DefaultLimit = 50
	}
	if cfg.MaxLimit < cfg.DefaultLimit {
		cfg.MaxLimit = cfg.DefaultLimit
	}
	a := &API{collector: collector, cfg: cfg, started: time.Now()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Register adds the handlers to mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", a.HandleHealth)
	mux.HandleFunc("GET /stats", a.HandleStats)
	mux.HandleFunc("GET /stats/events", a.HandleEvents)
	mux.HandleFunc("GET /stats/history", a.HandleHistory)
	mux.HandleFunc("GET /stats/totals", a.HandleTotals)
	mux.HandleFunc("POST /trim", a.HandleTrim)
}

// HealthResponse is the body of /healthz.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

// HandleHealth handles GET /healthz.
func (a *API) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: a.cfg.Version,
		Uptime:  time.Since(a.started).Round(time.Second).String(),
	})
}

// StatsResponse is the body of /stats.
type StatsResponse struct {
	metrics.Summary
	CacheEntries int `json:"cache_entries"`
	CacheBytes   int `json:"cache_bytes"`
}

// HandleStats handles GET /stats.
func (a *API) HandleStats(w http.ResponseWriter, _ *http.Request) {
	resp := StatsResponse{Summary: a.collector.Summary()}
	for _, p := range a.pools {
		resp.Pools = append(resp.Pools, p.Stats())
	}
	if a.cache != nil {
		resp.CacheEntries = a.cache.Len()
		resp.CacheBytes = a.cache.SizeInBytes()
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleEvents handles GET /stats/events.
func (a *API) HandleEvents(w http.ResponseWriter, r *http.Request) {
	limit, ok := a.limit(w, r)
	if !ok {
		return
	}
	pool := r.URL.Query().Get("pool")
	events := a.collector.RecentEvents(a.cfg.MaxLimit)
	out := make([]metrics.PoolEvent, 0, limit)
	for i := len(events) - 1; i >= 0 && len(out) < limit; i-- {
		if pool == "" || events[i].Pool == pool {
			out = append(out, events[i])
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleHistory handles GET /stats/history.
func (a *API) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if a.history == nil {
		writeError(w, http.StatusNotFound, "stats journal is disabled")
		return
	}
	limit, ok := a.limit(w, r)
	if !ok {
		return
	}
	q := db.EventQuery{
		Pool:  r.URL.Query().Get("pool"),
		Kind:  metrics.EventKind(r.URL.Query().Get("kind")),
		Limit: limit,
	}
	if s := r.URL.Query().Get("since"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "since must be a positive duration such as 15m")
			return
		}
		q.Since = time.Now().Add(-d)
	}
	events, err := a.history.Events(r.Context(), q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// HandleTotals handles GET /stats/totals.
func (a *API) HandleTotals(w http.ResponseWriter, r *http.Request) {
	if a.history == nil {
		writeError(w, http.StatusNotFound, "stats journal is disabled")
		return
	}
	pool := r.URL.Query().Get("pool")
	if pool == "" {
		writeError(w, http.StatusBadRequest, "pool is required")
		return
	}
	totals, err := a.history.Totals(r.Context(), pool)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, totals)
}

// TrimResponse is the body of a successful /trim.
type TrimResponse struct {
	Level string `json:"level"`
}

// HandleTrim handles POST /trim.
func (a *API) HandleTrim(w http.ResponseWriter, r *http.Request) {
	if a.trimmer == nil {
		writeError(w, http.StatusNotFound, "trimming is not available")
		return
	}
	var level memory.TrimType
	switch strings.ToLower(r.URL.Query().Get("level")) {
	case "", "moderate":
		level = memory.TrimModerate
	case "all":
		level = memory.TrimAll
	default:
		writeError(w, http.StatusBadRequest, "level must be moderate or all")
		return
	}
	a.trimmer.Dispatch(level)
	writeJSON(w, http.StatusOK, TrimResponse{Level: level.String()})
}

func (a *API) limit(w http.ResponseWriter, r *http.Request) (int, bool) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return a.cfg.DefaultLimit, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return 0, false
	}
	return min(n, a.cfg.MaxLimit), true
}

// ErrorResponse is the body of every error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: http.StatusText(status), Message: message})
}
