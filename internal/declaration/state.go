// Package declaration tracks which weight ticket lines still have to be
// reported to the national waste reporting authority (LMA).
package declaration

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wasteflow/wasteflow/internal/shared"
	"github.com/wasteflow/wasteflow/internal/values"
	"github.com/wasteflow/wasteflow/internal/weightticket"
)

var (
	ErrLineNotFound    = fmt.Errorf("declaration: weight ticket line: %w", shared.ErrNotFound)
	ErrActorRequired   = fmt.Errorf("declaration: actor required: %w", shared.ErrValidation)
	// ErrTicketCancelled marks a line whose ticket was cancelled after selection.
	ErrTicketCancelled = fmt.Errorf("declaration: weight ticket cancelled: %w", shared.ErrInvalidState)
)

// LineDeclarationState is the last declaration made for a line. Both fields
// are nil when the line was never declared. Values are replaced, never mutated.
type LineDeclarationState struct {
	DeclaredWeight *decimal.Decimal `json:"declared_weight,omitempty"`
	LastDeclaredAt *time.Time       `json:"last_declared_at,omitempty"`
}

// Declared reports whether any declaration has been made.
func (s LineDeclarationState) Declared() bool { return s.DeclaredWeight != nil }

// NeedsDeclaration is true when the line was never declared or its weight
// changed numerically since the last declaration.
func NeedsDeclaration(line weightticket.Line, state LineDeclarationState) bool {
	if state.DeclaredWeight == nil {
		return true
	}
	return !state.DeclaredWeight.Equal(line.Weight.Kilograms())
}

// RecordDeclaration returns the state after declaring line at the given instant.
func RecordDeclaration(line weightticket.Line, at time.Time) LineDeclarationState {
	weight := line.Weight.Kilograms()
	declaredAt := at
	return LineDeclarationState{DeclaredWeight: &weight, LastDeclaredAt: &declaredAt}
}

// UndeclaredLine is a weight ticket line together with its weighing instant
// and declaration state.
type UndeclaredLine struct {
	TicketID          int64                    `json:"weight_ticket_id"`
	LineIndex         int                      `json:"line_index"`
	WasteStreamNumber values.WasteStreamNumber `json:"waste_stream_number"`
	Weight            values.Weight            `json:"weight"`
	WeighedAt         time.Time                `json:"weighed_at"`
	State             LineDeclarationState     `json:"state"`
	TicketCancelled   bool                     `json:"-"`
}

// Line returns the ticket line view used by the declaration rules.
func (u UndeclaredLine) Line() weightticket.Line {
	return weightticket.Line{WasteStreamNumber: u.WasteStreamNumber, Weight: u.Weight}
}
