package identity

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/lawnet-hq/accessd/internal/platform/httpx"
)

// Handler exposes viewer token endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes attaches identity routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/viewer", h.issue)
	r.Get("/viewer", h.resolve)
	r.Delete("/viewer", h.revoke)
}

type issueRequest struct {
	Email string `json:"email" validate:"required,email"`
}

func (h *Handler) issue(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	token, err := h.service.Issue(r.Context(), req.Email)
	if err != nil {
		h.logger.Error("issue viewer token", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]string{"token": token})
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) {
	email, err := h.service.Resolve(r.Context(), bearerToken(r))
	if err != nil {
		if errors.Is(err, ErrUnknownToken) {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "unknown viewer token")
			return
		}
		h.logger.Error("resolve viewer token", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"email": email})
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Revoke(r.Context(), bearerToken(r)); err != nil {
		h.logger.Error("revoke viewer token", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}
