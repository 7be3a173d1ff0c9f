package approval

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/lawnet-hq/accessd/internal/access"
	"github.com/lawnet-hq/accessd/internal/platform/httpx"
)

// Handler exposes the request/decide endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
	admin    func(http.Handler) http.Handler
}

// NewHandler constructs a Handler. admin guards the decision routes.
func NewHandler(logger *slog.Logger, service *Service, admin func(http.Handler) http.Handler) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validate: validator.New(), admin: admin}
}

// MountRoutes attaches approval routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.submit)
	r.Get("/status", h.status)
	r.Group(func(r chi.Router) {
		if h.admin != nil {
			r.Use(h.admin)
		}
		r.Get("/pending", h.listPending)
		r.Post("/{id}/approve", h.approve)
		r.Post("/{id}/reject", h.reject)
	})
}

type submitRequest struct {
	Feature   string `json:"feature" validate:"required"`
	FeatureID string `json:"featureId" validate:"required"`
	Email     string `json:"email" validate:"required,email"`
	Note      string `json:"note" validate:"max=500"`
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	feature, err := access.ParseFeature(req.Feature)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	created, err := h.service.Submit(r.Context(), SubmitInput{
		Feature:   feature,
		FeatureID: req.FeatureID,
		Email:     req.Email,
		Note:      req.Note,
	})
	if err != nil {
		h.logger.Warn("submit request", slog.Any("error", err))
		httpx.Problem(w, http.StatusUnprocessableEntity, "Submit Failed", err.Error())
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	key, err := access.KeyFromQuery(r.URL.Query())
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Query", err.Error())
		return
	}
	req, err := h.service.PendingFor(r.Context(), key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httpx.JSON(w, http.StatusOK, map[string]any{"pending": false})
			return
		}
		h.logger.Warn("request status", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"pending": true, "request": req})
}

func (h *Handler) listPending(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.service.ListPending(r.Context(), 100)
	if err != nil {
		h.logger.Warn("list pending", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"requests": reqs})
}

type decisionRequest struct {
	DurationMinutes int    `json:"durationMinutes" validate:"omitempty,gt=0"`
	DecidedBy       string `json:"decidedBy" validate:"omitempty,email"`
	Note            string `json:"note" validate:"max=500"`
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, func(id uuid.UUID, in DecisionInput) (*Request, error) {
		return h.service.Approve(r.Context(), id, in)
	})
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, func(id uuid.UUID, in DecisionInput) (*Request, error) {
		return h.service.Reject(r.Context(), id, in)
	})
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request, apply func(uuid.UUID, DecisionInput) (*Request, error)) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request ID", err.Error())
		return
	}
	var req decisionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	decided, err := apply(id, DecisionInput{
		DecidedBy: req.DecidedBy,
		Note:      req.Note,
		Duration:  time.Duration(req.DurationMinutes) * time.Minute,
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
			return
		}
		h.logger.Warn("decide request", slog.String("id", id.String()), slog.Any("error", err))
		httpx.Problem(w, http.StatusUnprocessableEntity, "Decision Failed", err.Error())
		return
	}
	httpx.JSON(w, http.StatusOK, decided)
}
