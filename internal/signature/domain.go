// Package signature collects the four party signatures a waste transport
// needs before its waybill is legally complete.
package signature

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wasteflow/wasteflow/internal/shared"
)

var (
	ErrNotFound       = fmt.Errorf("signature set: %w", shared.ErrNotFound)
	ErrAlreadySigned  = fmt.Errorf("signature: role already signed: %w", shared.ErrInvalidState)
	ErrUnknownRole    = fmt.Errorf("signature: unknown role: %w", shared.ErrValidation)
	ErrPayloadMissing = fmt.Errorf("signature: payload required: %w", shared.ErrValidation)
	ErrInvalidEmail   = fmt.Errorf("signature: signer email invalid: %w", shared.ErrValidation)
	ErrAlreadyExists  = fmt.Errorf("signature set: already exists: %w", shared.ErrInvalidState)
)

// Role identifies one party on the waybill.
type Role string

const (
	RoleConsignor Role = "consignor"
	RolePickup    Role = "pickup"
	RoleCarrier   Role = "carrier"
	RoleConsignee Role = "consignee"
)

// Roles lists every role in waybill order.
var Roles = []Role{RoleConsignor, RolePickup, RoleCarrier, RoleConsignee}

// ParseRole normalises and validates a role name.
func ParseRole(raw string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(raw)))
	if !role.IsValid() {
		return "", fmt.Errorf("%q: %w", raw, ErrUnknownRole)
	}
	return role, nil
}

// IsValid checks if the role is known.
func (r Role) IsValid() bool {
	switch r {
	case RoleConsignor, RolePickup, RoleCarrier, RoleConsignee:
		return true
	default:
		return false
	}
}

// Slot holds one party's signature. An unsigned slot has a nil SignedAt.
type Slot struct {
	Payload  string     `json:"payload,omitempty"`
	Email    string     `json:"email,omitempty"`
	SignedAt *time.Time `json:"signed_at,omitempty"`
}

// Signed reports whether the slot has been filled.
func (s Slot) Signed() bool { return s.SignedAt != nil }

// Status is the signed/unsigned view of a set.
type Status struct {
	ConsignorSigned bool `json:"consignor_signed"`
	PickupSigned    bool `json:"pickup_signed"`
	CarrierSigned   bool `json:"carrier_signed"`
	ConsigneeSigned bool `json:"consignee_signed"`
}

// FullySigned is true when all four parties signed.
func (s Status) FullySigned() bool {
	return s.ConsignorSigned && s.PickupSigned && s.CarrierSigned && s.ConsigneeSigned
}

// Set is the signature state of one transport.
type Set struct {
	TransportID uuid.UUID `json:"transport_id"`
	Consignor   Slot      `json:"consignor"`
	Pickup      Slot      `json:"pickup"`
	Carrier     Slot      `json:"carrier"`
	Consignee   Slot      `json:"consignee"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewSet returns an unsigned set for the transport.
func NewSet(transportID uuid.UUID, at time.Time) Set {
	return Set{TransportID: transportID, CreatedAt: at}
}

// Slot returns the slot for role.
func (s Set) Slot(role Role) Slot {
	switch role {
	case RoleConsignor:
		return s.Consignor
	case RolePickup:
		return s.Pickup
	case RoleCarrier:
		return s.Carrier
	case RoleConsignee:
		return s.Consignee
	}
	return Slot{}
}

// Status derives the signed flags from the slots.
func (s Set) Status() Status {
	return Status{
		ConsignorSigned: s.Consignor.Signed(),
		PickupSigned:    s.Pickup.Signed(),
		CarrierSigned:   s.Carrier.Signed(),
		ConsigneeSigned: s.Consignee.Signed(),
	}
}

// FullySigned is derived, never stored.
func (s Set) FullySigned() bool { return s.Status().FullySigned() }

// Sign fills the slot for role. Other slots are untouched.
func (s *Set) Sign(role Role, slot Slot) error {
	if !role.IsValid() {
		return ErrUnknownRole
	}
	if s.Slot(role).Signed() {
		return fmt.Errorf("%s: %w", role, ErrAlreadySigned)
	}
	switch role {
	case RoleConsignor:
		s.Consignor = slot
	case RolePickup:
		s.Pickup = slot
	case RoleCarrier:
		s.Carrier = slot
	case RoleConsignee:
		s.Consignee = slot
	}
	return nil
}
