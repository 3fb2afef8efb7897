// Package values holds the self-validating primitives of the compliance
// domain. Constructors are the only way to obtain a value; they either return
// a valid value or an error wrapping shared.ErrValidation.
package values

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/wasteflow/wasteflow/internal/shared"
)

func invalid(kind, raw, reason string) error {
	return fmt.Errorf("%w: %s %q %s", shared.ErrValidation, kind, raw, reason)
}

var postalCodePattern = regexp.MustCompile(`^[1-9][0-9]{3} ?[A-Z]{2}$`)

// PostalCode is a Dutch postal code stored without the separating space.
type PostalCode struct {
	value string
}

// NewPostalCode validates a Dutch postal code such as "1234 AB".
func NewPostalCode(raw string) (PostalCode, error) {
	trimmed := strings.TrimSpace(raw)
	if !postalCodePattern.MatchString(trimmed) {
		return PostalCode{}, invalid("postal code", raw, "must look like 1234 AB")
	}
	return PostalCode{value: strings.ReplaceAll(trimmed, " ", "")}, nil
}

// String returns the canonical form, e.g. 1234AB.
func (p PostalCode) String() string { return p.value }

// Formatted returns the display form with a space, e.g. 1234 AB.
func (p PostalCode) Formatted() string {
	if len(p.value) != 6 {
		return p.value
	}
	return p.value[:4] + " " + p.value[4:]
}

// IsZero reports whether the postal code was never constructed.
func (p PostalCode) IsZero() bool { return p.value == "" }

var vihbPattern = regexp.MustCompile(`^[0-9]{6}[VIHBX]{4}$`)

// VIHBNumber is the Dutch waste-transport license identifier: six digits
// followed by four letters out of V, I, H, B and X, with at most three X's.
type VIHBNumber struct {
	value string
}

// NewVIHBNumber validates a VIHB number. Lowercase input is rejected.
func NewVIHBNumber(raw string) (VIHBNumber, error) {
	if !vihbPattern.MatchString(raw) {
		return VIHBNumber{}, invalid("VIHB number", raw, "must be 6 digits followed by 4 of V, I, H, B, X")
	}
	if strings.Count(raw[6:], "X") > 3 {
		return VIHBNumber{}, invalid("VIHB number", raw, "may contain at most 3 X's")
	}
	return VIHBNumber{value: raw}, nil
}

func (v VIHBNumber) String() string { return v.value }

// IsZero reports whether the number was never constructed.
func (v VIHBNumber) IsZero() bool { return v.value == "" }

var kvkPattern = regexp.MustCompile(`^[0-9]{8}$`)

// KvKNumber is a chamber-of-commerce registration number.
type KvKNumber struct {
	value string
}

// NewKvKNumber validates an eight digit chamber-of-commerce number.
func NewKvKNumber(raw string) (KvKNumber, error) {
	trimmed := strings.TrimSpace(raw)
	if !kvkPattern.MatchString(trimmed) {
		return KvKNumber{}, invalid("KvK number", raw, "must be 8 digits")
	}
	return KvKNumber{value: trimmed}, nil
}

func (k KvKNumber) String() string { return k.value }

// Address is a postal address of a party or pickup location.
type Address struct {
	Street         string
	BuildingNumber string
	PostalCode     PostalCode
	City           string
	Country        string
}

// NewAddress validates all address parts. Country defaults to NL.
func NewAddress(street, buildingNumber, postalCode, city, country string) (Address, error) {
	street = strings.TrimSpace(street)
	buildingNumber = strings.TrimSpace(buildingNumber)
	city = strings.TrimSpace(city)
	country = strings.ToUpper(strings.TrimSpace(country))
	if street == "" {
		return Address{}, fmt.Errorf("%w: address street is required", shared.ErrValidation)
	}
	if buildingNumber == "" {
		return Address{}, fmt.Errorf("%w: address building number is required", shared.ErrValidation)
	}
	if city == "" {
		return Address{}, fmt.Errorf("%w: address city is required", shared.ErrValidation)
	}
	if country == "" {
		country = "NL"
	}
	if len(country) != 2 {
		return Address{}, invalid("country code", country, "must be ISO 3166 alpha-2")
	}
	pc, err := NewPostalCode(postalCode)
	if err != nil {
		return Address{}, err
	}
	return Address{
		Street:         street,
		BuildingNumber: buildingNumber,
		PostalCode:     pc,
		City:           city,
		Country:        country,
	}, nil
}

// String renders a single-line address.
func (a Address) String() string {
	return fmt.Sprintf("%s %s, %s %s, %s", a.Street, a.BuildingNumber, a.PostalCode.Formatted(), a.City, a.Country)
}
