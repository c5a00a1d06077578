package api

import (
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shortstudio/studio-agent/internal/logging"
	"github.com/shortstudio/studio-agent/internal/studio"
)

const (
	maxBatchUpload  = 10<<20 + 1<<16
	defaultJobLimit = 50
	maxJobLimit     = 500
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	h := &handlers{cfg: cfg, validate: newRequestValidator(), logger: logging.WithComponent(cfg.Logger, "api")}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(CORSAllowlist())

	r.Get("/health", h.health)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Tokens, cfg.Logger))

		r.Get("/state", h.state)
		r.Post("/analyze", h.analyze)
		r.Put("/selections", h.selections)
		r.Post("/export", h.export)
		r.Post("/batch", h.batch)
		r.Get("/progress", h.progress)
		r.Delete("/progress", h.cancel)
		r.Get("/preview", h.preview)
		r.Get("/jobs", h.listJobs)
		r.Get("/jobs/{id}", h.getJob)
		r.Get("/settings", h.getSettings)
		r.Put("/settings", h.putSettings)
		r.Post("/timeline", h.timeline)
		if cfg.Outputs != nil {
			r.Get("/outputs/{name}", cfg.Outputs.Handler(func(r *http.Request) string {
				return chi.URLParam(r, "name")
			}))
		}
	})

	return r
}

type handlers struct {
	cfg      ServerConfig
	validate *requestValidator
	logger   *slog.Logger
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	version := h.cfg.Version
	if version == "" {
		version = "dev"
	}
	WriteJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: version,
		UptimeS: int64(time.Since(h.cfg.StartTime).Seconds()),
	})
}

func (h *handlers) state(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.cfg.Studio.State())
}

func (h *handlers) analyze(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if !h.validate.decodeBody(w, r, &req) {
		return
	}
	if err := h.cfg.Studio.Analyze(r.Context(), req.Script); err != nil {
		h.writeOpError(w, err, http.StatusBadGateway, CodeUpstream)
		return
	}
	WriteJSON(w, http.StatusOK, h.cfg.Studio.State())
}

func (h *handlers) selections(w http.ResponseWriter, r *http.Request) {
	var req SelectionsRequest
	if !h.validate.decodeBody(w, r, &req) {
		return
	}
	if err := h.cfg.Studio.SelectMany(req.Selections); err != nil {
		h.writeOpError(w, err, http.StatusInternalServerError, CodeInternal)
		return
	}
	WriteJSON(w, http.StatusOK, h.cfg.Studio.State())
}

func (h *handlers) export(w http.ResponseWriter, r *http.Request) {
	if err := h.cfg.Studio.Export(r.Context()); err != nil {
		h.writeOpError(w, err, http.StatusBadGateway, CodeUpstream)
		return
	}
	WriteJSON(w, http.StatusAccepted, AcceptedResponse{
		Status: "accepted",
		JobID:  h.cfg.Studio.State().JobID,
	})
}

func (h *handlers) batch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBatchUpload)
	file, header, err := r.FormFile("file")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "multipart field \"file\" is required", CodeValidation)
		return
	}
	defer file.Close()

	resp, err := h.cfg.Studio.Batch(r.Context(), header.Filename, file)
	if err != nil {
		h.writeOpError(w, err, http.StatusBadGateway, CodeUpstream)
		return
	}
	WriteJSON(w, http.StatusAccepted, AcceptedResponse{
		Status: "accepted",
		JobID:  resp.JobID,
		Rows:   resp.Rows,
	})
}

func (h *handlers) progress(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.cfg.Studio.Progress())
}

func (h *handlers) cancel(w http.ResponseWriter, r *http.Request) {
	h.cfg.Studio.Cancel()
	WriteJSON(w, http.StatusOK, h.cfg.Studio.Progress())
}

func (h *handlers) preview(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	t, err := floatParam(q.Get("t"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "t must be a finite number", CodeValidation)
		return
	}
	duration, err := floatParam(q.Get("duration"))
	if err != nil || duration < 0 {
		WriteError(w, http.StatusBadRequest, "duration must be a finite, non-negative number", CodeValidation)
		return
	}
	paused := false
	if raw := q.Get("paused"); raw != "" {
		if paused, err = strconv.ParseBool(raw); err != nil {
			WriteError(w, http.StatusBadRequest, "paused must be a boolean", CodeValidation)
			return
		}
	}
	WriteJSON(w, http.StatusOK, h.cfg.Studio.Preview(t, duration, paused))
}

var errNotFinite = errors.New("not a finite number")

// floatParam parses an optional query number. NaN and infinities are rejected
// since they cannot be encoded in the JSON response.
func floatParam(raw string) (float64, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errNotFinite
	}
	return v, nil
}

func (h *handlers) listJobs(w http.ResponseWriter, r *http.Request) {
	limit := defaultJobLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxJobLimit {
			WriteError(w, http.StatusBadRequest, "limit must be between 1 and 500", CodeValidation)
			return
		}
		limit = n
	}

	list, err := h.cfg.Studio.Jobs(r.Context(), limit)
	if err != nil {
		h.writeOpError(w, err, http.StatusInternalServerError, CodeInternal)
		return
	}

	resp := JobsResponse{Jobs: make([]JobResponse, len(list))}
	for i, j := range list {
		resp.Jobs[i] = JobToResponse(j)
	}
	WriteJSON(w, http.StatusOK, resp)
}

func (h *handlers) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.cfg.Studio.Job(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeOpError(w, err, http.StatusInternalServerError, CodeInternal)
		return
	}
	WriteJSON(w, http.StatusOK, JobToResponse(job))
}

func (h *handlers) getSettings(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.cfg.Studio.Settings())
}

func (h *handlers) putSettings(w http.ResponseWriter, r *http.Request) {
	var req studio.Settings
	if !h.validate.decodeBody(w, r, &req) {
		return
	}
	saved, err := h.cfg.Studio.UpdateSettings(r.Context(), req)
	if err != nil {
		h.writeOpError(w, err, http.StatusInternalServerError, CodeInternal)
		return
	}
	WriteJSON(w, http.StatusOK, saved)
}

func (h *handlers) timeline(w http.ResponseWriter, r *http.Request) {
	var req TimelineRequest
	if !h.validate.decodeBody(w, r, &req) {
		return
	}
	res, err := h.cfg.Studio.Timeline(req.toExport())
	if err != nil {
		h.writeOpError(w, err, http.StatusInternalServerError, CodeInternal)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

// writeOpError maps a session error onto the error body. Errors that are
// neither validation nor lookup failures use the handler's fallback.
func (h *handlers) writeOpError(w http.ResponseWriter, err error, status int, code string) {
	switch {
	case studio.IsValidation(err):
		WriteError(w, http.StatusBadRequest, err.Error(), CodeValidation)
	case errors.Is(err, studio.ErrJobNotFound):
		WriteError(w, http.StatusNotFound, err.Error(), CodeNotFound)
	default:
		if status >= http.StatusInternalServerError {
			h.logger.Error("request failed", "code", code, "error", err)
		}
		WriteError(w, status, err.Error(), code)
	}
}
