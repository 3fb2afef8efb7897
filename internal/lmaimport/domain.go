// Package lmaimport ingests waste-stream registrations exported from the
// national waste reporting authority (LMA) and keeps a ledger of rejected rows.
package lmaimport

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wasteflow/wasteflow/internal/shared"
	"github.com/wasteflow/wasteflow/internal/values"
)

var (
	ErrErrorNotFound        = fmt.Errorf("lma import error: %w", shared.ErrNotFound)
	ErrResolverRequired     = fmt.Errorf("lma import: resolved_by required: %w", shared.ErrValidation)
	ErrUnreadableBatch      = fmt.Errorf("lma import: unreadable batch: %w", shared.ErrValidation)
	ErrDuplicateWasteStream = fmt.Errorf("lma import: waste stream already registered: %w", shared.ErrInvalidState)
)

// ErrorCode classifies why a row was rejected.
type ErrorCode string

const (
	CodeInvalidCSVFormat        ErrorCode = "INVALID_CSV_FORMAT"
	CodeMissingRequiredField    ErrorCode = "MISSING_REQUIRED_FIELD"
	CodeCompanyNotFound         ErrorCode = "COMPANY_NOT_FOUND"
	CodeProcessorNotFound       ErrorCode = "PROCESSOR_NOT_FOUND"
	CodeInvalidEuralCode        ErrorCode = "INVALID_EURAL_CODE"
	CodeInvalidProcessingMethod ErrorCode = "INVALID_PROCESSING_METHOD"
	CodeDuplicateWasteStream    ErrorCode = "DUPLICATE_WASTE_STREAM"
	CodeValidationError         ErrorCode = "VALIDATION_ERROR"
)

// Column names of an LMA export row.
const (
	ColWasteStreamNumber = "waste_stream_number"
	ColEuralCode         = "eural_code"
	ColProcessingMethod  = "processing_method"
	ColConsignorKvK      = "consignor_kvk"
	ColProcessorNumber   = "processor_number"
	ColWasteName         = "waste_name"
)

// RequiredColumns must hold a non-blank value on every row.
var RequiredColumns = []string{
	ColWasteStreamNumber,
	ColEuralCode,
	ColProcessingMethod,
	ColConsignorKvK,
	ColProcessorNumber,
}

// Row is one parsed record. Malformed is set by readers when the record
// itself could not be split into the expected columns.
type Row struct {
	Number    int
	Fields    map[string]string
	Malformed string
}

// Get returns the trimmed value of a column.
func (r Row) Get(col string) string {
	return strings.TrimSpace(r.Fields[col])
}

// Blank reports whether every field is empty.
func (r Row) Blank() bool {
	if r.Malformed != "" {
		return false
	}
	for _, v := range r.Fields {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// WasteStream is the record an accepted row becomes.
type WasteStream struct {
	Number             values.WasteStreamNumber
	EuralCode          values.EuralCode
	ProcessingMethod   values.ProcessingMethod
	WasteName          string
	ConsignorCompanyID uuid.UUID
	ProcessorCompanyID uuid.UUID
	BatchID            uuid.UUID
	ImportedAt         time.Time
}

// ImportError is a rejected row in the error ledger. Resolution is one-way.
type ImportError struct {
	ID                uuid.UUID         `json:"id"`
	BatchID           uuid.UUID         `json:"batch_id"`
	RowNumber         int               `json:"row_number"`
	WasteStreamNumber *string           `json:"waste_stream_number,omitempty"`
	Code              ErrorCode         `json:"error_code"`
	Message           string            `json:"message"`
	RawRow            map[string]string `json:"raw_row,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	ResolvedAt        *time.Time        `json:"resolved_at,omitempty"`
	ResolvedBy        *string           `json:"resolved_by,omitempty"`
}

// Resolved reports whether the error has been resolved.
func (e ImportError) Resolved() bool { return e.ResolvedAt != nil }

// Resolve marks the error resolved. It returns false and changes nothing when
// the error was already resolved.
func (e *ImportError) Resolve(by string, at time.Time) bool {
	if e.Resolved() {
		return false
	}
	resolvedAt := at
	resolvedBy := by
	e.ResolvedAt = &resolvedAt
	e.ResolvedBy = &resolvedBy
	return true
}

// Result summarises one batch. Counts only cover rows that were processed,
// so an aborted batch has SuccessfulImports+SkippedRows+ErrorCount < TotalRows.
type Result struct {
	BatchID           uuid.UUID     `json:"batch_id"`
	TotalRows         int           `json:"total_rows"`
	SuccessfulImports int           `json:"successful_imports"`
	SkippedRows       int           `json:"skipped_rows"`
	ErrorCount        int           `json:"error_count"`
	Errors            []ImportError `json:"errors"`
}

// Processed is the number of rows that reached an outcome.
func (r Result) Processed() int {
	return r.SuccessfulImports + r.SkippedRows + r.ErrorCount
}

// Complete reports whether every row reached an outcome.
func (r Result) Complete() bool { return r.Processed() == r.TotalRows }
