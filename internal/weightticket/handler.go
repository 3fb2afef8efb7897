package weightticket

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/wasteflow/wasteflow/internal/platform/httpx"
	"github.com/wasteflow/wasteflow/internal/shared"
	"github.com/wasteflow/wasteflow/internal/values"
)

// Handler exposes weight ticket endpoints.
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

// MountRoutes registers weight ticket routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/weight-tickets", func(r chi.Router) {
		r.Post("/", h.create)
		r.Get("/{id}", h.show)
		r.Post("/{id}/lines", h.addLine)
		r.Post("/{id}/complete", h.complete)
		r.Post("/{id}/cancel", h.cancel)
		r.Post("/{id}/invoice", h.invoice)
	})
}

type lineRequest struct {
	WasteStreamNumber values.WasteStreamNumber `json:"waste_stream_number"`
	Weight            values.Weight            `json:"weight"`
}

type createRequest struct {
	ConsignorPartyID  string        `json:"consignor_party_id" validate:"required,uuid"`
	CarrierPartyID    *string       `json:"carrier_party_id" validate:"omitempty,uuid"`
	TruckLicensePlate *string       `json:"truck_license_plate" validate:"omitempty,max=16"`
	Reclamation       *string       `json:"reclamation"`
	Note              *string       `json:"note"`
	Lines             []lineRequest `json:"lines"`
}

type completeRequest struct {
	Lines []lineRequest `json:"lines"`
}

type invoiceRequest struct {
	Amount *values.Money `json:"amount"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in := DraftInput{
		ConsignorPartyID:  uuid.MustParse(req.ConsignorPartyID),
		TruckLicensePlate: req.TruckLicensePlate,
		Reclamation:       req.Reclamation,
		Note:              req.Note,
		Lines:             toLines(req.Lines),
	}
	if req.CarrierPartyID != nil {
		carrier := uuid.MustParse(*req.CarrierPartyID)
		in.CarrierPartyID = &carrier
	}
	ticket, err := h.service.Create(r.Context(), in, actor)
	if err != nil {
		h.fail(w, "create weight ticket", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, ticket)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, err := ticketID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	ticket, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "get weight ticket", err)
		return
	}
	httpx.JSON(w, http.StatusOK, ticket)
}

func (h *Handler) addLine(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(id int64, actor string) (*WeightTicket, error) {
		var req lineRequest
		if err := httpx.DecodeJSON(r, &req); err != nil {
			return nil, err
		}
		return h.service.AddLine(r.Context(), id, Line(req), actor)
	})
}

func (h *Handler) complete(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(id int64, actor string) (*WeightTicket, error) {
		var req completeRequest
		if r.ContentLength != 0 {
			if err := httpx.DecodeJSON(r, &req); err != nil {
				return nil, err
			}
		}
		return h.service.Complete(r.Context(), id, toLines(req.Lines), actor)
	})
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(id int64, actor string) (*WeightTicket, error) {
		return h.service.Cancel(r.Context(), id, actor)
	})
}

func (h *Handler) invoice(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(id int64, actor string) (*WeightTicket, error) {
		var req invoiceRequest
		if r.ContentLength != 0 {
			if err := httpx.DecodeJSON(r, &req); err != nil {
				return nil, err
			}
		}
		return h.service.Invoice(r.Context(), id, actor, req.Amount)
	})
}

func (h *Handler) mutate(w http.ResponseWriter, r *http.Request, fn func(id int64, actor string) (*WeightTicket, error)) {
	id, err := ticketID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, err := httpx.Actor(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	ticket, err := fn(id, actor)
	if err != nil {
		h.fail(w, "weight ticket transition", err)
		return
	}
	httpx.JSON(w, http.StatusOK, ticket)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if !shared.IsBusinessError(err) {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func ticketID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid ticket id: %w", shared.ErrValidation)
	}
	return id, nil
}

func toLines(in []lineRequest) []Line {
	if len(in) == 0 {
		return nil
	}
	out := make([]Line, len(in))
	for i, l := range in {
		out[i] = Line(l)
	}
	return out
}
