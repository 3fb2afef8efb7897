package weightticket

import (
	"fmt"

	"github.com/wasteflow/wasteflow/internal/shared"
)

// Domain errors for weight tickets. Each wraps a shared taxonomy error.
var (
	ErrNotFound = fmt.Errorf("weight ticket: %w", shared.ErrNotFound)

	ErrNotDraft          = fmt.Errorf("weight ticket: lines can only change while DRAFT: %w", shared.ErrInvalidState)
	ErrCannotComplete    = fmt.Errorf("weight ticket: only DRAFT tickets can be completed: %w", shared.ErrInvalidState)
	ErrNoLines           = fmt.Errorf("weight ticket: cannot complete without lines: %w", shared.ErrInvalidState)
	ErrAlreadyCancelled  = fmt.Errorf("weight ticket: already cancelled: %w", shared.ErrInvalidState)
	ErrAlreadyInvoiced   = fmt.Errorf("weight ticket: already invoiced: %w", shared.ErrInvalidState)
	ErrCompletedNoCancel = fmt.Errorf("weight ticket: completed tickets cannot be cancelled: %w", shared.ErrInvalidState)
	ErrCannotInvoice     = fmt.Errorf("weight ticket: only COMPLETED tickets can be invoiced: %w", shared.ErrInvalidState)

	ErrVersionConflict = fmt.Errorf("weight ticket: modified concurrently: %w", shared.ErrConcurrencyConflict)

	ErrActorRequired     = fmt.Errorf("weight ticket: actor required: %w", shared.ErrValidation)
	ErrConsignorRequired = fmt.Errorf("weight ticket: consignor party required: %w", shared.ErrValidation)
	ErrLineWasteStream   = fmt.Errorf("weight ticket: line requires a waste stream number: %w", shared.ErrValidation)
)
