package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"motion-event-backend/internal/db"
	"motion-event-backend/internal/metrics"
)

type repository interface {
	InsertEvent(ctx context.Context, event db.MotionEvent) (bool, error)
	LoadRecent(ctx context.Context, sensorID string, limit int) ([]db.MotionEvent, error)
	Ready(ctx context.Context) error
}

type dispatcher interface {
	Dispatch(ctx context.Context, event db.MotionEvent)
	QueueUtilization() float64
}

type sensorStates interface {
	Get(sensorID string) (db.SensorState, bool)
	Observe(sensorID, eventType string, ts int64)
}

type API struct {
	DB           repository
	Dispatcher   dispatcher
	States       sensorStates
	DefaultLimit int
	MaxLimit     int
	ClockSkew    time.Duration
	Now          func() time.Time
}

type Config struct {
	DB           repository
	Dispatcher   dispatcher
	States       sensorStates
	DefaultLimit int
	MaxLimit     int
	ClockSkew    time.Duration
	Now          func() time.Time
}

func New(cfg Config) *API {
	a := &API{
		DB:           cfg.DB,
		Dispatcher:   cfg.Dispatcher,
		States:       cfg.States,
		DefaultLimit: cfg.DefaultLimit,
		MaxLimit:     cfg.MaxLimit,
		ClockSkew:    cfg.ClockSkew,
		Now:          cfg.Now,
	}
	if a.Now == nil {
		a.Now = func() time.Time { return time.Now().UTC() }
	}
	if a.DefaultLimit <= 0 {
		a.DefaultLimit = 20
	}
	if a.MaxLimit <= 0 {
		a.MaxLimit = 100
	}
	return a
}

func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Post("/motion", a.SubmitMotion)
	r.Get("/motion", a.GetRecentMotion)
	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Readyz)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// SubmitMotion accepts one sensor observation. Validation never leaves
// partial state; a duplicate key is an idempotent success that triggers no
// fan-out; only a brand new insert is dispatched, exactly once.
func (a *API) SubmitMotion(w http.ResponseWriter, r *http.Request) {
	var req SubmitMotionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		metrics.EventsInvalid.Inc()
		writeError(w, http.StatusBadRequest, ErrorInvalidRequest)
		return
	}
	if err := validateSubmit(&req); err != nil {
		metrics.EventsInvalid.Inc()
		slog.InfoContext(r.Context(), "Rejected submission", "error", err, "sensor_id", req.Sensor)
		writeError(w, http.StatusBadRequest, ErrorInvalidRequest)
		return
	}

	now := a.Now().UnixMilli()
	event := db.MotionEvent{
		SensorID:   req.Sensor,
		EventType:  req.Type,
		Timestamp:  a.plausibleTimestamp(req.Sensor, req.Timestamp, now),
		ReceivedAt: now,
	}

	inserted, err := a.DB.InsertEvent(r.Context(), event)
	if err != nil {
		slog.ErrorContext(r.Context(), "Insert failed", "sensor_id", event.SensorID, "error", err)
		writeError(w, http.StatusServiceUnavailable, ErrorStoreUnavailable)
		return
	}
	if !inserted {
		metrics.EventsDuplicate.Inc()
		writeJSON(w, http.StatusOK, SubmitMotionResponse{Status: StatusDuplicate})
		return
	}

	metrics.EventsIngested.Inc()
	if a.States != nil {
		a.States.Observe(event.SensorID, event.EventType, event.Timestamp)
	}
	a.Dispatcher.Dispatch(r.Context(), event)
	writeJSON(w, http.StatusOK, SubmitMotionResponse{Status: StatusOK})
}

// GetRecentMotion serves the dashboard's recency window: newest-first, bounded
// by the configured maximum, read-only.
func (a *API) GetRecentMotion(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := a.DefaultLimit
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, ErrorInvalidRequest)
			return
		}
		limit = n
	}
	if limit > a.MaxLimit {
		limit = a.MaxLimit
	}

	events, err := a.DB.LoadRecent(r.Context(), q.Get("sensor"), limit)
	if err != nil {
		slog.ErrorContext(r.Context(), "Query failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, ErrorStoreUnavailable)
		return
	}

	resp := make([]MotionEventResponse, 0, len(events))
	for _, event := range events {
		resp = append(resp, MotionEventResponse{
			Sensor:     event.SensorID,
			Timestamp:  event.Timestamp,
			ReceivedAt: event.ReceivedAt,
			Type:       event.EventType,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz reports 503 when the store is unreachable or the fan-out queue is
// close to saturation.
func (a *API) Readyz(w http.ResponseWriter, r *http.Request) {
	if err := a.DB.Ready(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "store unreachable"})
		return
	}
	util := a.Dispatcher.QueueUtilization()
	metrics.FanoutQueueUtilization.Set(util)
	if util > 0.8 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":            "overloaded",
			"queue_utilization": util,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ready",
		"queue_utilization": util,
	})
}

func validateSubmit(req *SubmitMotionRequest) error {
	if strings.TrimSpace(req.Sensor) == "" {
		return errMissingSensor
	}
	if !db.KnownEventType(req.Type) {
		return errUnknownType
	}
	return nil
}

var (
	errMissingSensor = validationError("sensor is required")
	errUnknownType   = validationError("unknown event type")
)

type validationError string

func (e validationError) Error() string { return string(e) }

// plausibleTimestamp keeps the client timestamp only when it is present, not
// future-dated beyond the allowed clock skew, and not behind the sensor's
// last accepted event. Anything implausible gets the server receipt time.
// In-order replays from a buffering relay keep their own keys, so edge
// retries still deduplicate.
func (a *API) plausibleTimestamp(sensorID string, ts, now int64) int64 {
	if ts <= 0 {
		return now
	}
	if ts > now+a.ClockSkew.Milliseconds() {
		return now
	}
	if a.States != nil {
		if state, exists := a.States.Get(sensorID); exists && ts < state.LastTimestamp {
			return now
		}
	}
	return ts
}
