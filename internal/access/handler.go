package access

import (
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/lawnet-hq/accessd/internal/events"
	"github.com/lawnet-hq/accessd/internal/observability"
	"github.com/lawnet-hq/accessd/internal/platform/httpx"
)

// Handler exposes the access check and admin grant endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	bus      Publisher
	metrics  *observability.Metrics
	validate *validator.Validate
	admin    func(http.Handler) http.Handler
}

// NewHandler constructs a Handler. admin guards the mutating routes;
// metrics may be nil.
func NewHandler(logger *slog.Logger, service *Service, bus Publisher, metrics *observability.Metrics, admin func(http.Handler) http.Handler) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:   logger,
		service:  service,
		bus:      bus,
		metrics:  metrics,
		validate: validator.New(),
		admin:    admin,
	}
}

// MountRoutes attaches access routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/check", h.check)
	r.Group(func(r chi.Router) {
		if h.admin != nil {
			r.Use(h.admin)
		}
		r.Post("/grants", h.grant)
		r.Delete("/grants", h.revoke)
		r.Post("/refresh", h.softRefresh)
	})
}

// KeyFromQuery extracts an access key from query parameters, accepting the
// legacy aliases (type, playlist, subject, gmail) still used by older pages.
func KeyFromQuery(q url.Values) (Key, error) {
	feature := q.Get("feature")
	if feature == "" {
		feature = q.Get("type")
	}
	f, err := ParseFeature(feature)
	if err != nil {
		return Key{}, err
	}
	id := q.Get("id")
	if id == "" {
		id = q.Get("playlist")
	}
	if id == "" {
		id = q.Get("subject")
	}
	email := q.Get("email")
	if email == "" {
		email = q.Get("gmail")
	}
	key := Key{Feature: f, FeatureID: id, Email: email}
	if err := key.Validate(); err != nil {
		return Key{}, err
	}
	return key, nil
}

type checkResponse struct {
	Approved    bool   `json:"approved"`
	ExpireAt    *int64 `json:"expireAt,omitempty"`
	RemainingMs int64  `json:"remainingMs"`
}

func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	key, err := KeyFromQuery(r.URL.Query())
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Query", err.Error())
		return
	}

	rec := h.service.Check(r.Context(), key)
	now := time.Now()
	resp := checkResponse{
		Approved:    rec.Active(now),
		RemainingMs: rec.Remaining(now).Milliseconds(),
	}
	h.metrics.RecordCheck(string(key.Feature), resp.Approved)
	if resp.Approved {
		ms := rec.ExpiresAt.UnixMilli()
		resp.ExpireAt = &ms
	}
	httpx.JSON(w, http.StatusOK, resp)
}

type grantRequest struct {
	Feature         string `json:"feature" validate:"required"`
	FeatureID       string `json:"featureId" validate:"required"`
	Email           string `json:"email" validate:"required,email"`
	DurationMinutes int    `json:"durationMinutes" validate:"omitempty,gt=0"`
	ExpiresAt       *int64 `json:"expireAt" validate:"omitempty,gt=0"`
}

func (h *Handler) grant(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	feature, err := ParseFeature(req.Feature)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	var expiresAt time.Time
	switch {
	case req.ExpiresAt != nil:
		expiresAt = time.UnixMilli(*req.ExpiresAt)
	case req.DurationMinutes > 0:
		expiresAt = time.Now().Add(time.Duration(req.DurationMinutes) * time.Minute)
	default:
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "either expireAt or durationMinutes is required")
		return
	}

	key := Key{Feature: feature, FeatureID: req.FeatureID, Email: req.Email}
	rec, err := h.service.Grant(r.Context(), key, expiresAt, SourceDirect)
	if err != nil {
		h.logger.Warn("grant access", slog.Any("error", err))
		httpx.Problem(w, http.StatusUnprocessableEntity, "Grant Failed", err.Error())
		return
	}
	httpx.JSON(w, http.StatusCreated, rec)
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	key, err := KeyFromQuery(r.URL.Query())
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Query", err.Error())
		return
	}
	if key.Anonymous() {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Query", "email is required")
		return
	}
	if err := h.service.Revoke(r.Context(), key); err != nil {
		h.logger.Warn("revoke access", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

func (h *Handler) softRefresh(w http.ResponseWriter, r *http.Request) {
	if h.bus != nil {
		h.bus.Publish(events.Event{Type: events.TypeSoftRefresh, At: time.Now()})
	}
	httpx.JSON(w, http.StatusAccepted, map[string]string{"status": "refreshing"})
}
