package values

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"
)

var euralPattern = regexp.MustCompile(`^[0-9]{6}\*?$`)

// EuralCode is a European waste catalogue code. A trailing asterisk marks
// hazardous waste.
type EuralCode struct {
	value string
}

// NewEuralCode accepts "170904", "17 09 04" and "16 05 06*".
func NewEuralCode(raw string) (EuralCode, error) {
	compact := strings.ReplaceAll(strings.TrimSpace(raw), " ", "")
	if !euralPattern.MatchString(compact) {
		return EuralCode{}, invalid("Eural code", raw, "must be 6 digits with an optional *")
	}
	return EuralCode{value: compact}, nil
}

func (e EuralCode) String() string { return e.value }

// Hazardous reports whether the code carries the hazardous marker.
func (e EuralCode) Hazardous() bool { return strings.HasSuffix(e.value, "*") }

// ProcessingMethod is an LMA processing-method code.
type ProcessingMethod struct {
	code string
}

var processingMethods = map[string]string{
	"A01": "Overslag / opbulken",
	"A02": "Sorteren / scheiden",
	"B01": "Inzet als brandstof",
	"B02": "Terugwinning van oplosmiddelen",
	"B03": "Recycling van organische stoffen",
	"B04": "Recycling van metalen",
	"B05": "Recycling van anorganische stoffen",
	"C01": "Composteren",
	"C02": "Vergisten",
	"C03": "Biologische behandeling",
	"C04": "Fysisch-chemische behandeling",
	"D01": "Storten",
	"D02": "Verbranden op land",
	"D03": "Injectie in de bodem",
	"D04": "Opslag",
	"E01": "Reinigen van grond",
	"E02": "Reinigen van baggerspecie",
	"E03": "Breken van puin",
	"E04": "Immobiliseren",
	"E05": "Thermisch reinigen",
	"F01": "Shredderen",
	"F02": "Demonteren",
	"F03": "Ontwateren",
	"F04": "Indampen",
	"F05": "Drogen",
	"F06": "Scheiden van olie en water",
	"F07": "Ontgiften",
	"G01": "Hergebruik",
}

// NewProcessingMethod validates membership in the LMA code list.
func NewProcessingMethod(raw string) (ProcessingMethod, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if _, ok := processingMethods[code]; !ok {
		return ProcessingMethod{}, invalid("processing method", raw, "is not a known LMA code")
	}
	return ProcessingMethod{code: code}, nil
}

func (p ProcessingMethod) String() string { return p.code }

// Description returns the Dutch description of the method.
func (p ProcessingMethod) Description() string { return processingMethods[p.code] }

// ProcessingMethodCodes lists the known codes in sorted order.
func ProcessingMethodCodes() []string {
	codes := make([]string, 0, len(processingMethods))
	for code := range processingMethods {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

var wasteStreamPattern = regexp.MustCompile(`^[0-9]{12}$`)

// WasteStreamNumber identifies a registered waste stream. The first five
// digits are the processor number of the receiving party.
type WasteStreamNumber struct {
	value string
}

// NewWasteStreamNumber validates a twelve digit waste-stream number.
func NewWasteStreamNumber(raw string) (WasteStreamNumber, error) {
	trimmed := strings.TrimSpace(raw)
	if !wasteStreamPattern.MatchString(trimmed) {
		return WasteStreamNumber{}, invalid("waste stream number", raw, "must be 12 digits")
	}
	return WasteStreamNumber{value: trimmed}, nil
}

// MustWasteStreamNumber panics on invalid input. Intended for tests and fixtures.
func MustWasteStreamNumber(raw string) WasteStreamNumber {
	n, err := NewWasteStreamNumber(raw)
	if err != nil {
		panic(err)
	}
	return n
}

func (w WasteStreamNumber) String() string { return w.value }

// ProcessorNumber returns the five digit processor prefix.
func (w WasteStreamNumber) ProcessorNumber() string {
	if len(w.value) < 5 {
		return ""
	}
	return w.value[:5]
}

// MarshalJSON encodes the number as a JSON string.
func (w WasteStreamNumber) MarshalJSON() ([]byte, error) { return json.Marshal(w.value) }

// UnmarshalJSON validates while decoding.
func (w *WasteStreamNumber) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := NewWasteStreamNumber(raw)
	if err != nil {
		return err
	}
	*w = parsed
	return nil
}

// MarshalJSON encodes the weight as a JSON number string in kilograms.
func (w Weight) MarshalJSON() ([]byte, error) { return json.Marshal(w.kg.String()) }

// UnmarshalJSON accepts a JSON string or number and validates it.
func (w *Weight) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	parsed, err := ParseWeight(raw)
	if err != nil {
		return err
	}
	*w = parsed
	return nil
}
