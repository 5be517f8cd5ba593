// Package api exposes the replication engine over HTTP: audit queries,
// manual cycle triggers, a health probe, and a websocket stream of
// terminal run summaries. Errors are reported as RFC 7807 problem
// documents.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/rowmark/rowmark/internal/sync"
)

// Query parameter bounds. Caps keep a single request from dragging the
// whole audit table over the wire.
const (
	maxRunsLimit = 500
	maxStatsDays = 365
)

// Engine is the replication surface the API serves. *sync.Engine
// satisfies it.
type Engine interface {
	Tables() []string
	RunCycle(ctx context.Context, table string) (*sync.RunSummary, error)
	LastWatermark(ctx context.Context, table string) (int64, error)
	RecentRuns(ctx context.Context, table string, limit int) ([]sync.SyncRun, error)
	RunsByStatus(ctx context.Context, table string, status sync.RunStatus, limit int) ([]sync.SyncRun, error)
	GetRun(ctx context.Context, runID int64) (*sync.SyncRun, error)
	LastRun(ctx context.Context, table string) (*sync.SyncRun, error)
	DailyStats(ctx context.Context, table string, days int) ([]sync.DailyStat, error)
	Events() *sync.Broadcaster
}

// Handler implements the API handlers.
type Handler struct {
	engine  Engine
	logger  *slog.Logger
	token   string
	version string
}

// NewHandler creates a Handler. An empty token disables the bearer
// check on the protected routes.
func NewHandler(engine Engine, logger *slog.Logger, token, version string) *Handler {
	return &Handler{
		engine:  engine,
		logger:  logger,
		token:   token,
		version: version,
	}
}

// Health handles GET /healthz. Reachable without auth so probes work
// with no credentials.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.logger, Health{
		Status:  "ok",
		Version: h.version,
		Tables:  len(h.engine.Tables()),
	})
}

// ListTables handles GET /api/v1/tables: every configured pair with its
// derived watermark and most recent run.
func (h *Handler) ListTables(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tables := h.engine.Tables()
	infos := make([]TableInfo, 0, len(tables))

	for _, name := range tables {
		wm, err := h.engine.LastWatermark(ctx, name)
		if err != nil {
			h.logger.Error("deriving watermark", slog.String("table", name), slog.String("error", err.Error()))
			WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")

			return
		}

		last, err := h.engine.LastRun(ctx, name)
		if err != nil {
			h.logger.Error("loading last run", slog.String("table", name), slog.String("error", err.Error()))
			WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")

			return
		}

		info := TableInfo{Name: name, Watermark: wm}
		if last != nil {
			run := runFromRecord(last)
			info.LastRun = &run
		}

		infos = append(infos, info)
	}

	writeJSON(w, h.logger, TablesResponse{Tables: infos})
}

// ListRuns handles GET /api/v1/runs?table=&status=&limit=.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	table := r.URL.Query().Get("table")
	if err := h.checkTableParam(table); err != nil {
		WriteProblem(w, r, http.StatusNotFound, err.Error())

		return
	}

	limit, err := parseLimit(r, maxRunsLimit)
	if err != nil {
		WriteProblem(w, r, http.StatusBadRequest, err.Error())

		return
	}

	var records []sync.SyncRun

	if statusStr := r.URL.Query().Get("status"); statusStr != "" {
		status, parseErr := sync.ParseRunStatus(statusStr)
		if parseErr != nil {
			WriteProblem(w, r, http.StatusBadRequest,
				fmt.Sprintf("invalid status parameter: must be running, success, or failed, got %q", statusStr))

			return
		}

		records, err = h.engine.RunsByStatus(r.Context(), table, status, limit)
	} else {
		records, err = h.engine.RecentRuns(r.Context(), table, limit)
	}

	if err != nil {
		h.logger.Error("listing runs", slog.String("error", err.Error()))
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")

		return
	}

	runs := make([]Run, 0, len(records))
	for i := range records {
		runs = append(runs, runFromRecord(&records[i]))
	}

	writeJSON(w, h.logger, RunsResponse{Runs: runs})
}

// GetRun handles GET /api/v1/runs/{id}.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		WriteProblem(w, r, http.StatusBadRequest, "invalid run id: must be an integer")

		return
	}

	record, err := h.engine.GetRun(r.Context(), id)
	if err != nil {
		h.logger.Error("loading run", slog.Int64("run_id", id), slog.String("error", err.Error()))
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")

		return
	}

	if record == nil {
		WriteProblem(w, r, http.StatusNotFound, fmt.Sprintf("run %d not found", id))

		return
	}

	writeJSON(w, h.logger, runFromRecord(record))
}

// GetStats handles GET /api/v1/stats?table=&days=.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	table := r.URL.Query().Get("table")
	if err := h.checkTableParam(table); err != nil {
		WriteProblem(w, r, http.StatusNotFound, err.Error())

		return
	}

	days, err := parseDays(r)
	if err != nil {
		WriteProblem(w, r, http.StatusBadRequest, err.Error())

		return
	}

	daily, err := h.engine.DailyStats(r.Context(), table, days)
	if err != nil {
		h.logger.Error("aggregating stats", slog.String("error", err.Error()))
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")

		return
	}

	stats := make([]Stat, 0, len(daily))
	for _, d := range daily {
		stats = append(stats, Stat{
			Day:           d.Day,
			Succeeded:     d.Succeeded,
			Failed:        d.Failed,
			AvgDurationMS: d.AvgDuration.Milliseconds(),
		})
	}

	writeJSON(w, h.logger, StatsResponse{Stats: stats})
}

// TriggerCycle handles POST /api/v1/tables/{name}/cycle: one replication
// cycle, sharing the per-table singleflight with every other trigger. A
// failed cycle is still a recorded run, so the response carries the
// summary with a 200 regardless of outcome; only pre-run failures (no
// audit row written) map to problem responses.
func (h *Handler) TriggerCycle(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "name")

	summary, err := h.engine.RunCycle(r.Context(), table)
	if err != nil && summary == nil {
		if errors.Is(err, sync.ErrUnknownTable) {
			WriteProblem(w, r, http.StatusNotFound, fmt.Sprintf("table %q not found", table))

			return
		}

		h.logger.Error("cycle trigger failed",
			slog.String("table", table), slog.String("error", err.Error()))
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")

		return
	}

	writeJSON(w, h.logger, EventFromSummary(summary))
}

// checkTableParam validates an optional ?table= filter against the
// configured pairs. Empty means no filter.
func (h *Handler) checkTableParam(table string) error {
	if table == "" {
		return nil
	}

	for _, name := range h.engine.Tables() {
		if name == table {
			return nil
		}
	}

	return fmt.Errorf("table %q not found", table)
}

// parseLimit reads the optional ?limit= parameter. Zero means "use the
// engine default"; values above the cap are clamped.
func parseLimit(r *http.Request, maxLimit int) (int, error) {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		return 0, nil
	}

	limit, err := strconv.Atoi(limitStr)
	if err != nil {
		return 0, errors.New("invalid limit parameter: must be an integer")
	}

	if limit < 1 {
		return 0, errors.New("invalid limit parameter: must be >= 1")
	}

	if limit > maxLimit {
		limit = maxLimit
	}

	return limit, nil
}

// parseDays reads the optional ?days= parameter for stats aggregation.
func parseDays(r *http.Request) (int, error) {
	daysStr := r.URL.Query().Get("days")
	if daysStr == "" {
		return 0, nil
	}

	days, err := strconv.Atoi(daysStr)
	if err != nil {
		return 0, errors.New("invalid days parameter: must be an integer")
	}

	if days < 1 {
		return 0, errors.New("invalid days parameter: must be >= 1")
	}

	if days > maxStatsDays {
		days = maxStatsDays
	}

	return days, nil
}

// writeJSON writes a 200 application/json response.
func writeJSON(w http.ResponseWriter, logger *slog.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("encoding response", slog.String("error", err.Error()))
	}
}
