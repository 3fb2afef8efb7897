// Package weightticket owns the weight ticket aggregate and its lifecycle.
package weightticket

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wasteflow/wasteflow/internal/values"
)

// Status represents the lifecycle of a weight ticket.
type Status string

const (
	StatusDraft     Status = "DRAFT"     // Created by an operator, lines editable
	StatusCompleted Status = "COMPLETED" // Weighing finished
	StatusInvoiced  Status = "INVOICED"  // Billed, terminal
	StatusCancelled Status = "CANCELLED" // Voided, terminal
)

// IsValid checks if the status is known.
func (s Status) IsValid() bool {
	switch s {
	case StatusDraft, StatusCompleted, StatusInvoiced, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusInvoiced || s == StatusCancelled
}

// CanEditLines checks if lines may be attached or replaced.
func (s Status) CanEditLines() bool {
	return s == StatusDraft
}

// CanComplete checks if the ticket can be completed.
func (s Status) CanComplete() bool {
	return s == StatusDraft
}

// CanInvoice checks if the ticket can be invoiced.
func (s Status) CanInvoice() bool {
	return s == StatusCompleted
}

// CancelPolicy tunes which states allow cancellation.
type CancelPolicy struct {
	// AllowCancelCompleted permits COMPLETED -> CANCELLED for correction workflows.
	AllowCancelCompleted bool
}

// Line is one waste-stream/weight pair recorded against a weighing.
type Line struct {
	WasteStreamNumber values.WasteStreamNumber `json:"waste_stream_number"`
	Weight            values.Weight            `json:"weight"`
}

func validateLines(lines []Line) error {
	for i, l := range lines {
		if l.WasteStreamNumber.String() == "" {
			return fmt.Errorf("line %d: %w", i, ErrLineWasteStream)
		}
	}
	return nil
}

// DraftInput carries the data an operator supplies when opening a ticket.
type DraftInput struct {
	ConsignorPartyID  uuid.UUID
	CarrierPartyID    *uuid.UUID
	TruckLicensePlate *string
	Reclamation       *string
	Note              *string
	Lines             []Line
}

// WeightTicket is the aggregate root. Status and lines are only changed
// through the transition methods.
type WeightTicket struct {
	ID                int64
	ConsignorPartyID  uuid.UUID
	CarrierPartyID    *uuid.UUID
	TruckLicensePlate *string
	Reclamation       *string
	Note              *string
	CreatedAt         time.Time
	WeightedAt        *time.Time
	CancelledAt       *time.Time
	InvoicedAt        *time.Time
	UpdatedBy         string
	UpdatedAt         time.Time
	Version           int64

	status       Status
	lines        []Line
	linesChanged bool
}

// NewDraft opens a ticket in DRAFT.
func NewDraft(in DraftInput, actor string, at time.Time) (*WeightTicket, error) {
	if strings.TrimSpace(actor) == "" {
		return nil, ErrActorRequired
	}
	if in.ConsignorPartyID == uuid.Nil {
		return nil, ErrConsignorRequired
	}
	if err := validateLines(in.Lines); err != nil {
		return nil, err
	}
	t := &WeightTicket{
		ConsignorPartyID:  in.ConsignorPartyID,
		CarrierPartyID:    in.CarrierPartyID,
		TruckLicensePlate: in.TruckLicensePlate,
		Reclamation:       in.Reclamation,
		Note:              in.Note,
		CreatedAt:         at,
		UpdatedBy:         actor,
		UpdatedAt:         at,
		status:            StatusDraft,
		lines:             append([]Line(nil), in.Lines...),
	}
	return t, nil
}

// Status returns the current lifecycle state.
func (t *WeightTicket) Status() Status { return t.status }

// LinesChanged reports whether lines were modified since the ticket was loaded.
func (t *WeightTicket) LinesChanged() bool { return t.linesChanged }

// Lines returns a copy of the ticket lines.
func (t *WeightTicket) Lines() []Line {
	return append([]Line(nil), t.lines...)
}

// AddLine appends a line while the ticket is DRAFT.
func (t *WeightTicket) AddLine(line Line, actor string, at time.Time) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	if !t.status.CanEditLines() {
		return ErrNotDraft
	}
	if err := validateLines([]Line{line}); err != nil {
		return err
	}
	t.lines = append(t.lines, line)
	t.linesChanged = true
	t.touch(actor, at)
	return nil
}

// ReplaceLines swaps all lines while the ticket is DRAFT.
func (t *WeightTicket) ReplaceLines(lines []Line, actor string, at time.Time) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	if !t.status.CanEditLines() {
		return ErrNotDraft
	}
	if err := validateLines(lines); err != nil {
		return err
	}
	t.lines = append([]Line(nil), lines...)
	t.linesChanged = true
	t.touch(actor, at)
	return nil
}

// Complete finishes weighing. When lines is empty the lines already attached
// are used; a ticket without any line cannot be completed.
func (t *WeightTicket) Complete(lines []Line, actor string, at time.Time) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	if !t.status.CanComplete() {
		return ErrCannotComplete
	}
	if len(lines) == 0 && len(t.lines) == 0 {
		return ErrNoLines
	}
	if err := validateLines(lines); err != nil {
		return err
	}
	if len(lines) > 0 {
		t.lines = append([]Line(nil), lines...)
		t.linesChanged = true
	}
	t.status = StatusCompleted
	weightedAt := at
	t.WeightedAt = &weightedAt
	t.touch(actor, at)
	return nil
}

// Cancel voids the ticket. Lines are left untouched.
func (t *WeightTicket) Cancel(policy CancelPolicy, actor string, at time.Time) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	switch t.status {
	case StatusCancelled:
		return ErrAlreadyCancelled
	case StatusInvoiced:
		return ErrAlreadyInvoiced
	case StatusCompleted:
		if !policy.AllowCancelCompleted {
			return ErrCompletedNoCancel
		}
	}
	t.status = StatusCancelled
	cancelledAt := at
	t.CancelledAt = &cancelledAt
	t.touch(actor, at)
	return nil
}

// Invoice marks a completed ticket as billed.
func (t *WeightTicket) Invoice(actor string, at time.Time) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	if !t.status.CanInvoice() {
		return ErrCannotInvoice
	}
	t.status = StatusInvoiced
	invoicedAt := at
	t.InvoicedAt = &invoicedAt
	t.touch(actor, at)
	return nil
}

func (t *WeightTicket) touch(actor string, at time.Time) {
	t.UpdatedBy = actor
	t.UpdatedAt = at
}

func requireActor(actor string) error {
	if strings.TrimSpace(actor) == "" {
		return ErrActorRequired
	}
	return nil
}

type ticketJSON struct {
	ID                int64      `json:"id"`
	ConsignorPartyID  uuid.UUID  `json:"consignor_party_id"`
	CarrierPartyID    *uuid.UUID `json:"carrier_party_id,omitempty"`
	TruckLicensePlate *string    `json:"truck_license_plate,omitempty"`
	Status            Status     `json:"status"`
	Reclamation       *string    `json:"reclamation,omitempty"`
	Note              *string    `json:"note,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	WeightedAt        *time.Time `json:"weighted_at,omitempty"`
	CancelledAt       *time.Time `json:"cancelled_at,omitempty"`
	InvoicedAt        *time.Time `json:"invoiced_at,omitempty"`
	UpdatedBy         string     `json:"updated_by"`
	UpdatedAt         time.Time  `json:"updated_at"`
	Version           int64      `json:"version"`
	Lines             []Line     `json:"lines"`
}

// MarshalJSON exposes the read-only status and lines.
func (t *WeightTicket) MarshalJSON() ([]byte, error) {
	lines := t.Lines()
	if lines == nil {
		lines = []Line{}
	}
	return json.Marshal(ticketJSON{
		ID:                t.ID,
		ConsignorPartyID:  t.ConsignorPartyID,
		CarrierPartyID:    t.CarrierPartyID,
		TruckLicensePlate: t.TruckLicensePlate,
		Status:            t.status,
		Reclamation:       t.Reclamation,
		Note:              t.Note,
		CreatedAt:         t.CreatedAt,
		WeightedAt:        t.WeightedAt,
		CancelledAt:       t.CancelledAt,
		InvoicedAt:        t.InvoicedAt,
		UpdatedBy:         t.UpdatedBy,
		UpdatedAt:         t.UpdatedAt,
		Version:           t.Version,
		Lines:             lines,
	})
}
