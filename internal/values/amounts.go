package values

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/shopspring/decimal"

	"github.com/wasteflow/wasteflow/internal/shared"
)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// Money is a non-negative amount in a single currency, rounded to cents.
type Money struct {
	amount   decimal.Decimal
	currency string
}

// NewMoney validates amount and currency.
func NewMoney(amount decimal.Decimal, currency string) (Money, error) {
	if !currencyPattern.MatchString(currency) {
		return Money{}, invalid("currency", currency, "must be an ISO 4217 code")
	}
	if amount.IsNegative() {
		return Money{}, invalid("amount", amount.String(), "must not be negative")
	}
	return Money{amount: amount.Round(2), currency: currency}, nil
}

// EUR is a shorthand for NewMoney(amount, "EUR").
func EUR(amount decimal.Decimal) (Money, error) {
	return NewMoney(amount, "EUR")
}

// Amount returns the rounded amount.
func (m Money) Amount() decimal.Decimal { return m.amount }

// Currency returns the ISO currency code.
func (m Money) Currency() string { return m.currency }

// Add sums two amounts of the same currency.
func (m Money) Add(other Money) (Money, error) {
	if m.currency != other.currency {
		return Money{}, fmt.Errorf("%w: cannot add %s to %s", shared.ErrValidation, other.currency, m.currency)
	}
	return Money{amount: m.amount.Add(other.amount), currency: m.currency}, nil
}

func (m Money) String() string {
	return m.amount.StringFixed(2) + " " + m.currency
}

type moneyJSON struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// MarshalJSON encodes the amount with two decimals.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Amount   string `json:"amount"`
		Currency string `json:"currency"`
	}{m.amount.StringFixed(2), m.currency})
}

// UnmarshalJSON validates while decoding. A missing currency means EUR.
func (m *Money) UnmarshalJSON(data []byte) error {
	var raw moneyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return invalid("money", string(data), "is not an amount")
	}
	if raw.Currency == "" {
		raw.Currency = "EUR"
	}
	parsed, err := NewMoney(raw.Amount, raw.Currency)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Weight is a non-negative quantity in kilograms.
type Weight struct {
	kg decimal.Decimal
}

// NewWeight validates a weight in kilograms.
func NewWeight(kg decimal.Decimal) (Weight, error) {
	if kg.IsNegative() {
		return Weight{}, invalid("weight", kg.String(), "must not be negative")
	}
	return Weight{kg: kg}, nil
}

// ParseWeight parses a decimal string in kilograms.
func ParseWeight(raw string) (Weight, error) {
	kg, err := decimal.NewFromString(raw)
	if err != nil {
		return Weight{}, invalid("weight", raw, "is not a number")
	}
	return NewWeight(kg)
}

// MustWeight panics on invalid input. Intended for literals in tests and fixtures.
func MustWeight(raw string) Weight {
	w, err := ParseWeight(raw)
	if err != nil {
		panic(err)
	}
	return w
}

// Kilograms returns the decimal value.
func (w Weight) Kilograms() decimal.Decimal { return w.kg }

// Equal compares numerically, so 10.0 equals 10.
func (w Weight) Equal(other Weight) bool { return w.kg.Equal(other.kg) }

// IsZero reports a zero weight.
func (w Weight) IsZero() bool { return w.kg.IsZero() }

func (w Weight) String() string { return w.kg.String() }
