// Package companies resolves the parties referenced by imports and tickets.
package companies

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/wasteflow/wasteflow/internal/shared"
	"github.com/wasteflow/wasteflow/internal/values"
)

var (
	ErrCompanyNotFound   = fmt.Errorf("company: %w", shared.ErrNotFound)
	ErrProcessorNotFound = fmt.Errorf("processor party: %w", shared.ErrNotFound)
	ErrInvalidProcessor  = fmt.Errorf("company: processor number must be 5 digits: %w", shared.ErrValidation)
)

var processorPattern = regexp.MustCompile(`^[0-9]{5}$`)

// Lookup resolves companies. Absent companies yield an error wrapping
// shared.ErrNotFound; any other error is an outage.
type Lookup interface {
	FindByRegistrationID(ctx context.Context, kvk string) (*Company, error)
	FindProcessorParty(ctx context.Context, processorNumber string) (*Company, error)
}

// Company is a party known to the system.
type Company struct {
	ID              uuid.UUID
	Name            string
	KvK             values.KvKNumber
	ProcessorNumber string
	VIHB            values.VIHBNumber
	Address         *values.Address
}

// IsProcessor reports whether the company may receive waste.
func (c Company) IsProcessor() bool { return c.ProcessorNumber != "" }

// ValidateProcessorNumber checks the five digit processor number format.
func ValidateProcessorNumber(raw string) (string, error) {
	n := strings.TrimSpace(raw)
	if !processorPattern.MatchString(n) {
		return "", fmt.Errorf("%q: %w", raw, ErrInvalidProcessor)
	}
	return n, nil
}

type addressRecord struct {
	Street         string `json:"street"`
	BuildingNumber string `json:"building_number"`
	PostalCode     string `json:"postal_code"`
	City           string `json:"city"`
	Country        string `json:"country"`
}

type companyRecord struct {
	ID              uuid.UUID      `json:"id"`
	Name            string         `json:"name"`
	KvK             string         `json:"kvk"`
	ProcessorNumber string         `json:"processor_number,omitempty"`
	VIHB            string         `json:"vihb,omitempty"`
	Address         *addressRecord `json:"address,omitempty"`
}

// MarshalJSON flattens the value objects to strings.
func (c Company) MarshalJSON() ([]byte, error) {
	rec := companyRecord{
		ID:              c.ID,
		Name:            c.Name,
		KvK:             c.KvK.String(),
		ProcessorNumber: c.ProcessorNumber,
		VIHB:            c.VIHB.String(),
	}
	if c.Address != nil {
		rec.Address = &addressRecord{
			Street:         c.Address.Street,
			BuildingNumber: c.Address.BuildingNumber,
			PostalCode:     c.Address.PostalCode.String(),
			City:           c.Address.City,
			Country:        c.Address.Country,
		}
	}
	return json.Marshal(rec)
}

// UnmarshalJSON rebuilds the value objects through their constructors.
func (c *Company) UnmarshalJSON(data []byte) error {
	var rec companyRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	built, err := build(rec)
	if err != nil {
		return err
	}
	*c = built
	return nil
}

func build(rec companyRecord) (Company, error) {
	kvk, err := values.NewKvKNumber(rec.KvK)
	if err != nil {
		return Company{}, err
	}
	c := Company{ID: rec.ID, Name: rec.Name, KvK: kvk}
	if rec.ProcessorNumber != "" {
		if c.ProcessorNumber, err = ValidateProcessorNumber(rec.ProcessorNumber); err != nil {
			return Company{}, err
		}
	}
	if rec.VIHB != "" {
		if c.VIHB, err = values.NewVIHBNumber(rec.VIHB); err != nil {
			return Company{}, err
		}
	}
	if a := rec.Address; a != nil {
		addr, err := values.NewAddress(a.Street, a.BuildingNumber, a.PostalCode, a.City, a.Country)
		if err != nil {
			return Company{}, err
		}
		c.Address = &addr
	}
	return c, nil
}
