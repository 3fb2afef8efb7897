package lmaimport

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wasteflow/wasteflow/internal/platform/httpx"
	"github.com/wasteflow/wasteflow/internal/shared"
)

const maxUploadBytes = 32 << 20

// Handler exposes import endpoints.
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

// MountRoutes registers import routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/lma", func(r chi.Router) {
		r.Post("/imports", h.upload)
		r.Get("/imports/{batchID}/errors", h.batchErrors)
		r.Get("/errors", h.unresolved)
		r.Post("/errors/{id}/resolve", h.resolve)
		r.Delete("/errors", h.clear)
	})
}

// upload accepts a multipart "file" field holding a CSV or XLSX export.
func (h *Handler) upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("multipart field \"file\" required: %w", shared.ErrValidation))
		return
	}
	defer file.Close()

	rows, err := ReadFile(header.Filename, file)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.RunBatch(r.Context(), rows)
	if err != nil {
		h.logger.Error("lma import", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) batchErrors(w http.ResponseWriter, r *http.Request) {
	batchID, err := uuid.Parse(chi.URLParam(r, "batchID"))
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("invalid batch id: %w", shared.ErrValidation))
		return
	}
	errs, err := h.service.ListErrors(r.Context(), batchID)
	if err != nil {
		h.logger.Error("list import errors", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, errs)
}

func (h *Handler) unresolved(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	errs, err := h.service.ListUnresolved(r.Context(), limit)
	if err != nil {
		h.logger.Error("list unresolved import errors", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, errs)
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("invalid error id: %w", shared.ErrValidation))
		return
	}
	resolved, err := h.service.ResolveError(r.Context(), id, actor)
	if err != nil {
		if !shared.IsBusinessError(err) {
			h.logger.Error("resolve import error", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, resolved)
}

func (h *Handler) clear(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	n, err := h.service.ClearAll(r.Context())
	if err != nil {
		h.logger.Error("clear import errors", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("import error ledger cleared", slog.String("actor", actor), slog.Int64("deleted", n))
	httpx.JSON(w, http.StatusOK, map[string]int64{"deleted": n})
}
