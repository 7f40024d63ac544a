package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/miradorstack/mirador-anomaly/internal/engine"
	"github.com/miradorstack/mirador-anomaly/internal/models"
	"github.com/miradorstack/mirador-anomaly/internal/utils"
)

const maxBodyBytes = 8 << 20

// Engine is the subset of *engine.Engine the HTTP API drives.
type Engine interface {
	Detect(ctx context.Context, batch []models.MetricSnapshot) []models.AnomalyAlert
	Predict(batch []models.MetricSnapshot, horizon time.Duration) []models.AnomalyAlert
	Statistics() models.AnomalyStatistics
	Patterns() []models.AnomalyPattern
	SetPatternEnabled(id string, enabled bool) bool
	SetLearningMode(enabled bool)
	LearningMode() bool
	RecordFeedback(alertID string, confirmed bool) error
	Stats() engine.Stats
}

// Handlers serves the JSON API over an Engine.
type Handlers struct {
	engine Engine
	logger *slog.Logger
}

// NewHandlers constructs the HTTP handlers.
func NewHandlers(eng Engine, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{engine: eng, logger: logger}
}

type snapshotsRequest struct {
	Snapshots []models.MetricSnapshot `json:"snapshots"`
	Horizon   string                  `json:"horizon,omitempty"`
}

type toggleRequest struct {
	Enabled *bool `json:"enabled"`
}

type feedbackRequest struct {
	AlertID   string `json:"alertId"`
	Confirmed *bool  `json:"confirmed"`
	Notes     string `json:"notes,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
	Op    string `json:"op,omitempty"`
}

// Detect handles POST /api/v1/detect.
func (h *Handlers) Detect(w http.ResponseWriter, r *http.Request) {
	var req snapshotsRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, http.StatusBadRequest, utils.NewAppError("detect", "invalid request body", err))
		return
	}
	alerts := h.engine.Detect(r.Context(), req.Snapshots)
	if alerts == nil {
		alerts = []models.AnomalyAlert{}
	}
	respond(w, http.StatusOK, map[string]any{"alerts": alerts})
}

// Predict handles POST /api/v1/predict.
func (h *Handlers) Predict(w http.ResponseWriter, r *http.Request) {
	var req snapshotsRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, http.StatusBadRequest, utils.NewAppError("predict", "invalid request body", err))
		return
	}
	var horizon time.Duration
	if req.Horizon != "" {
		d, err := time.ParseDuration(req.Horizon)
		if err != nil || d <= 0 {
			h.fail(w, http.StatusBadRequest, utils.NewAppError("predict", "horizon must be a positive duration", err))
			return
		}
		horizon = d
	}
	predictions := h.engine.Predict(req.Snapshots, horizon)
	respond(w, http.StatusOK, map[string]any{"predictions": predictions})
}

// Statistics handles GET /api/v1/statistics.
func (h *Handlers) Statistics(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, h.engine.Statistics())
}

// Stats handles GET /api/v1/stats.
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, h.engine.Stats())
}

// Patterns handles GET /api/v1/patterns.
func (h *Handlers) Patterns(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, map[string]any{"patterns": h.engine.Patterns()})
}

// SetPattern handles PUT /api/v1/patterns/{id}.
func (h *Handlers) SetPattern(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req toggleRequest
	if err := decode(w, r, &req); err != nil || req.Enabled == nil {
		h.fail(w, http.StatusBadRequest, utils.NewAppError("set_pattern", "body must carry enabled", err))
		return
	}
	if !h.engine.SetPatternEnabled(id, *req.Enabled) {
		h.fail(w, http.StatusNotFound, utils.NewAppError("set_pattern", "unknown pattern "+id, nil))
		return
	}
	respond(w, http.StatusOK, map[string]any{"id": id, "enabled": *req.Enabled})
}

// Learning handles GET /api/v1/learning.
func (h *Handlers) Learning(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, map[string]any{"enabled": h.engine.LearningMode()})
}

// SetLearning handles PUT /api/v1/learning.
func (h *Handlers) SetLearning(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if err := decode(w, r, &req); err != nil || req.Enabled == nil {
		h.fail(w, http.StatusBadRequest, utils.NewAppError("set_learning", "body must carry enabled", err))
		return
	}
	h.engine.SetLearningMode(*req.Enabled)
	respond(w, http.StatusOK, map[string]any{"enabled": *req.Enabled})
}

// Feedback handles POST /api/v1/feedback.
func (h *Handlers) Feedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := decode(w, r, &req); err != nil || req.AlertID == "" || req.Confirmed == nil {
		h.fail(w, http.StatusBadRequest, utils.NewAppError("feedback", "body must carry alertId and confirmed", err))
		return
	}
	if err := h.engine.RecordFeedback(req.AlertID, *req.Confirmed); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, engine.ErrUnknownAlert) {
			status = http.StatusNotFound
		}
		h.fail(w, status, utils.NewAppError("feedback", "feedback rejected", err))
		return
	}
	respond(w, http.StatusAccepted, models.Feedback{
		AlertID:     req.AlertID,
		Confirmed:   *req.Confirmed,
		Notes:       req.Notes,
		SubmittedAt: time.Now().UTC(),
	})
}

// Health handles GET /healthz.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) fail(w http.ResponseWriter, status int, err error) {
	body := errorResponse{Error: err.Error(), Op: utils.OpOf(err)}
	if status >= http.StatusInternalServerError {
		h.logger.Error("api request failed", slog.Any("error", err))
	} else {
		h.logger.Debug("api request rejected", slog.Int("status", status), slog.Any("error", err))
	}
	respond(w, status, body)
}

func decode(w http.ResponseWriter, r *http.Request, out any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(out)
}

func respond(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
