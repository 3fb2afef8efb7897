package lmaimport

import (
	"context"
	"errors"
	"fmt"

	"github.com/wasteflow/wasteflow/internal/companies"
	"github.com/wasteflow/wasteflow/internal/shared"
	"github.com/wasteflow/wasteflow/internal/values"
)

// rowFailure is the first rule a row broke.
type rowFailure struct {
	code    ErrorCode
	message string
}

func fail(code ErrorCode, format string, args ...any) *rowFailure {
	return &rowFailure{code: code, message: fmt.Sprintf(format, args...)}
}

// checkedRow is a row after the independent checks (structure, references,
// formats). Order-dependent checks run afterwards.
type checkedRow struct {
	row       Row
	skip      bool
	failure   *rowFailure
	number    string
	eural     values.EuralCode
	method    values.ProcessingMethod
	consignor *companies.Company
	processor *companies.Company
}

// checkIndependent runs the checks that do not depend on other rows, in the
// fixed order structure, references, formats. A non-nil error is an outage of
// the lookup collaborator, never a row problem.
func checkIndependent(ctx context.Context, lookup companies.Lookup, row Row) (checkedRow, error) {
	c := checkedRow{row: row, number: row.Get(ColWasteStreamNumber)}

	if row.Malformed != "" {
		c.failure = fail(CodeInvalidCSVFormat, "row %d: %s", row.Number, row.Malformed)
		return c, nil
	}
	if row.Blank() {
		c.skip = true
		return c, nil
	}
	for _, col := range RequiredColumns {
		if row.Get(col) == "" {
			c.failure = fail(CodeMissingRequiredField, "row %d: missing required field %s", row.Number, col)
			return c, nil
		}
	}

	kvk := row.Get(ColConsignorKvK)
	consignor, err := lookup.FindByRegistrationID(ctx, kvk)
	switch {
	case errors.Is(err, shared.ErrNotFound):
		c.failure = fail(CodeCompanyNotFound, "row %d: no company with KvK number %s", row.Number, kvk)
		return c, nil
	case err != nil:
		return c, fmt.Errorf("lookup company %s: %w", kvk, err)
	}
	c.consignor = consignor

	processorNumber := row.Get(ColProcessorNumber)
	processor, err := lookup.FindProcessorParty(ctx, processorNumber)
	switch {
	case errors.Is(err, shared.ErrNotFound):
		c.failure = fail(CodeProcessorNotFound, "row %d: no processor with number %s", row.Number, processorNumber)
		return c, nil
	case err != nil:
		return c, fmt.Errorf("lookup processor %s: %w", processorNumber, err)
	}
	c.processor = processor

	eural, err := values.NewEuralCode(row.Get(ColEuralCode))
	if err != nil {
		c.failure = fail(CodeInvalidEuralCode, "row %d: %v", row.Number, err)
		return c, nil
	}
	c.eural = eural

	method, err := values.NewProcessingMethod(row.Get(ColProcessingMethod))
	if err != nil {
		c.failure = fail(CodeInvalidProcessingMethod, "row %d: %v", row.Number, err)
		return c, nil
	}
	c.method = method
	return c, nil
}

// checkBusinessRules runs the remaining rules on a row that passed every
// earlier check.
func checkBusinessRules(c checkedRow) (values.WasteStreamNumber, *rowFailure) {
	number, err := values.NewWasteStreamNumber(c.number)
	if err != nil {
		return values.WasteStreamNumber{}, fail(CodeValidationError, "row %d: %v", c.row.Number, err)
	}
	if number.ProcessorNumber() != c.processor.ProcessorNumber {
		return values.WasteStreamNumber{}, fail(CodeValidationError,
			"row %d: waste stream number %s does not belong to processor %s",
			c.row.Number, number, c.processor.ProcessorNumber)
	}
	return number, nil
}
