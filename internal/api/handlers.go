package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"sensoretl/internal/alert"
	"sensoretl/internal/engine"
	"sensoretl/internal/pipeline"
	"sensoretl/internal/store"
)

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Store         store.Store
	Runner        *pipeline.Runner
	Broadcaster   *alert.Broadcaster
	BaseOptions   pipeline.Options // input paths for API-triggered runs
	Logger        *slog.Logger
	StartTime     time.Time
	StorageDriver string
	StoragePath   string
	Version       string
}

// apiError is a JSON error response.
type apiError struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, apiError{Error: msg, Code: status})
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (expected YYYY-MM-DD)", s)
	}
	return t.UTC(), nil
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}

// summaryResponse is the JSON form of one daily summary row.
type summaryResponse struct {
	Location         string   `json:"location"`
	Date             string   `json:"date"`
	AvgTemp          float64  `json:"avg_temp"`
	MinTemp          float64  `json:"min_temp"`
	MaxTemp          float64  `json:"max_temp"`
	MovingAvg3Day    float64  `json:"moving_avg_3day"`
	ReadingCount     int      `json:"reading_count"`
	WeatherCondition *string  `json:"weather_condition"`
	WeatherAvgTemp   *float64 `json:"weather_avg_temp"`
	QualityFlag      string   `json:"quality_flag"`
	CreatedAt        string   `json:"created_at"`
}

func toSummaryResponse(d engine.DailySummary) summaryResponse {
	return summaryResponse{
		Location:         d.Location,
		Date:             d.Date.Format(time.DateOnly),
		AvgTemp:          d.AvgTemp,
		MinTemp:          d.MinTemp,
		MaxTemp:          d.MaxTemp,
		MovingAvg3Day:    d.MovingAvg3Day,
		ReadingCount:     d.ReadingCount,
		WeatherCondition: d.WeatherCondition,
		WeatherAvgTemp:   d.WeatherAvgTemp,
		QualityFlag:      d.QualityFlag,
		CreatedAt:        d.CreatedAt.Format(time.RFC3339),
	}
}

// querySummaries shares the listing logic between the filtered and
// per-location endpoints.
func (h *Handlers) querySummaries(w http.ResponseWriter, r *http.Request, location string) {
	q := r.URL.Query()
	var from, to time.Time
	var err error
	if v := q.Get("from"); v != "" {
		if from, err = parseDate(v); err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'from' parameter (YYYY-MM-DD)")
			return
		}
	}
	if v := q.Get("to"); v != "" {
		if to, err = parseDate(v); err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'to' parameter (YYYY-MM-DD)")
			return
		}
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		writeError(w, http.StatusBadRequest, "'from' must not be after 'to'")
		return
	}

	rows, err := h.Store.GetSummaries(r.Context(), location, from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to query summaries")
		return
	}
	if location != "" && len(rows) == 0 {
		writeError(w, http.StatusNotFound, "no summaries for this location")
		return
	}

	if flag := q.Get("quality_flag"); flag != "" {
		filtered := rows[:0]
		for _, row := range rows {
			if row.QualityFlag == flag {
				filtered = append(filtered, row)
			}
		}
		rows = filtered
	}

	result := make([]summaryResponse, len(rows))
	for i, row := range rows {
		result[i] = toSummaryResponse(row)
	}

	type envelope struct {
		Total     int               `json:"total"`
		Summaries []summaryResponse `json:"summaries"`
	}
	writeJSON(w, http.StatusOK, envelope{Total: len(result), Summaries: result})
}

// ListSummaries handles GET /api/v1/summaries
func (h *Handlers) ListSummaries(w http.ResponseWriter, r *http.Request) {
	h.querySummaries(w, r, r.URL.Query().Get("location"))
}

// GetLocationSummaries handles GET /api/v1/summaries/{location}
func (h *Handlers) GetLocationSummaries(w http.ResponseWriter, r *http.Request) {
	location := r.PathValue("location")
	if location == "" {
		writeError(w, http.StatusBadRequest, "missing location")
		return
	}
	h.querySummaries(w, r, location)
}

// ListLocations handles GET /api/v1/locations
func (h *Handlers) ListLocations(w http.ResponseWriter, r *http.Request) {
	locations, err := h.Store.GetLocations(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list locations")
		return
	}
	if locations == nil {
		locations = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"locations": locations})
}

// ListRuns handles GET /api/v1/runs
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs := h.Runner.History()
	if runs == nil {
		runs = []*pipeline.Report{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// GetLatestRun handles GET /api/v1/runs/latest
func (h *Handlers) GetLatestRun(w http.ResponseWriter, r *http.Request) {
	rep := h.Runner.LastReport()
	if rep == nil {
		writeError(w, http.StatusNotFound, "no runs recorded")
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// triggerRequest is the body of POST /api/v1/runs.
type triggerRequest struct {
	Mode  string `json:"mode"`
	Start string `json:"start,omitempty"` // YYYY-MM-DD, incremental only
	End   string `json:"end,omitempty"`   // YYYY-MM-DD, exclusive
}

// TriggerRun handles POST /api/v1/runs. The run executes synchronously;
// input files are small enough that callers can wait for the report.
func (h *Handlers) TriggerRun(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	mode, err := engine.ParseMode(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	opts := h.BaseOptions
	opts.Mode = mode
	if mode == engine.Incremental {
		start, err := parseDate(req.Start)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'start' (YYYY-MM-DD)")
			return
		}
		end := start.AddDate(0, 0, 1)
		if req.End != "" {
			if end, err = parseDate(req.End); err != nil {
				writeError(w, http.StatusBadRequest, "invalid 'end' (YYYY-MM-DD)")
				return
			}
		}
		opts.Window = engine.Window{Start: start, End: end}
	}

	rep, err := h.Runner.Run(r.Context(), opts)
	if err != nil {
		if errors.Is(err, pipeline.ErrRunInProgress) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		// The run failed but produced a report; return it with a 422 so
		// callers can inspect the failed stage.
		writeJSON(w, http.StatusUnprocessableEntity, rep)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// WatchAlerts handles GET /api/v1/alerts/watch, streaming abnormal
// temperature alerts over a websocket as runs publish them.
func (h *Handlers) WatchAlerts(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.Logger.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "closing") //nolint:errcheck

	ch, cancel := h.Broadcaster.Subscribe()
	defer cancel()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "server shutting down") //nolint:errcheck
			return
		case a, ok := <-ch:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "subscription closed") //nolint:errcheck
				return
			}
			writeCtx, cancelWrite := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, map[string]any{
				"location": a.Location,
				"date":     a.Date.Format(time.DateOnly),
				"max_temp": a.MaxTemp,
			})
			cancelWrite()
			if err != nil {
				return
			}
		}
	}
}

// Health handles GET /api/v1/health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	type dbHealth struct {
		Driver    string `json:"driver"`
		Status    string `json:"status"`
		SizeBytes int64  `json:"size_bytes,omitempty"`
		Sensors   int    `json:"sensors"`
		Readings  int    `json:"readings"`
		Summaries int    `json:"summaries"`
	}
	type lastRun struct {
		RunID      string `json:"run_id"`
		State      string `json:"state"`
		Mode       string `json:"mode"`
		FinishedAt string `json:"finished_at,omitempty"`
	}
	type healthResponse struct {
		Status        string   `json:"status"`
		Version       string   `json:"version"`
		Uptime        string   `json:"uptime"`
		SummaryOldest string   `json:"summary_oldest,omitempty"`
		SummaryNewest string   `json:"summary_newest,omitempty"`
		LastRun       *lastRun `json:"last_run,omitempty"`
		Database      dbHealth `json:"database"`
		AlertWatchers int      `json:"alert_watchers"`
	}

	resp := healthResponse{
		Status:  "healthy",
		Version: h.Version,
		Uptime:  formatUptime(time.Since(h.StartTime)),
	}
	if h.Broadcaster != nil {
		resp.AlertWatchers = h.Broadcaster.Subscribers()
	}

	resp.Database = dbHealth{Driver: h.StorageDriver, Status: "ok"}
	counts, err := h.Store.Counts(r.Context())
	if err != nil {
		resp.Status = "degraded"
		resp.Database.Status = "error"
	} else {
		resp.Database.Sensors = counts.Sensors
		resp.Database.Readings = counts.Readings
		resp.Database.Summaries = counts.Summaries
	}
	if h.StorageDriver == "sqlite" && h.StoragePath != "" {
		if info, err := os.Stat(h.StoragePath); err == nil {
			resp.Database.SizeBytes = info.Size()
		}
	}

	if oldest, newest, err := h.Store.SummaryDateRange(r.Context()); err == nil && !oldest.IsZero() {
		resp.SummaryOldest = oldest.Format(time.DateOnly)
		resp.SummaryNewest = newest.Format(time.DateOnly)
	}

	if rep := h.Runner.LastReport(); rep != nil {
		lr := &lastRun{RunID: rep.RunID, State: rep.State, Mode: rep.Mode}
		if !rep.FinishedAt.IsZero() {
			lr.FinishedAt = rep.FinishedAt.Format(time.RFC3339)
		}
		resp.LastRun = lr
	}

	writeJSON(w, http.StatusOK, resp)
}
