package declaration

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/wasteflow/wasteflow/internal/platform/httpx"
	"github.com/wasteflow/wasteflow/internal/shared"
)

// Handler exposes declaration endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers declaration routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/declarations", func(r chi.Router) {
		r.Get("/cutoff", h.cutoff)
		r.Get("/undeclared", h.undeclared)
		r.Post("/weight-tickets/{ticketID}/lines/{index}", h.markDeclared)
	})
}

func (h *Handler) cutoff(w http.ResponseWriter, _ *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]any{"cutoff": h.service.Cutoff()})
}

func (h *Handler) undeclared(w http.ResponseWriter, r *http.Request) {
	lines, err := h.service.Undeclared(r.Context())
	if err != nil {
		h.logger.Error("list undeclared lines", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if lines == nil {
		lines = []UndeclaredLine{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"cutoff": h.service.Cutoff(), "lines": lines})
}

func (h *Handler) markDeclared(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	ticketID, err := strconv.ParseInt(chi.URLParam(r, "ticketID"), 10, 64)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("invalid ticket id: %w", shared.ErrValidation))
		return
	}
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		httpx.RespondError(w, fmt.Errorf("invalid line index: %w", shared.ErrValidation))
		return
	}
	state, err := h.service.MarkDeclared(r.Context(), ticketID, index, actor)
	if err != nil {
		if !shared.IsBusinessError(err) {
			h.logger.Error("mark declared", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, state)
}
