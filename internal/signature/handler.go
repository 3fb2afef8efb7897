package signature

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/wasteflow/wasteflow/internal/platform/httpx"
	"github.com/wasteflow/wasteflow/internal/shared"
)

// Handler exposes signature endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers signature routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/transports/{id}/signatures", func(r chi.Router) {
		r.Post("/", h.create)
		r.Get("/", h.show)
		r.Get("/status", h.status)
		r.Post("/{role}", h.sign)
	})
}

type signRequest struct {
	Payload string `json:"payload" validate:"required"`
	Email   string `json:"email" validate:"required,email"`
}

type statusResponse struct {
	Status
	FullySigned bool `json:"fully_signed"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	id, err := transportID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	set, err := h.service.Create(r.Context(), id)
	if err != nil {
		h.fail(w, "create signature set", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, set)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, err := transportID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	set, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "get signature set", err)
		return
	}
	httpx.JSON(w, http.StatusOK, set)
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	id, err := transportID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	status, err := h.service.GetStatus(r.Context(), id)
	if err != nil {
		h.fail(w, "get signature status", err)
		return
	}
	httpx.JSON(w, http.StatusOK, statusResponse{Status: status, FullySigned: status.FullySigned()})
}

func (h *Handler) sign(w http.ResponseWriter, r *http.Request) {
	id, err := transportID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	role, err := ParseRole(chi.URLParam(r, "role"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req signRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	set, err := h.service.RecordSignature(r.Context(), id, role, req.Payload, req.Email)
	if err != nil {
		h.fail(w, "record signature", err)
		return
	}
	httpx.JSON(w, http.StatusOK, set)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if !shared.IsBusinessError(err) {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func transportID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid transport id: %w", shared.ErrValidation)
	}
	return id, nil
}
