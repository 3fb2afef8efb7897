package lmaimport

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

var byteOrderMark = []byte{0xEF, 0xBB, 0xBF}

// headerAliases maps the Dutch column labels of LMA exports to column names.
var headerAliases = map[string]string{
	"afvalstroomnummer":      ColWasteStreamNumber,
	"euralcode":              ColEuralCode,
	"verwerkingsmethode":     ColProcessingMethod,
	"verwerkingsmethodecode": ColProcessingMethod,
	"kvk_ontdoener":          ColConsignorKvK,
	"kvk_nummer_ontdoener":   ColConsignorKvK,
	"verwerkersnummer":       ColProcessorNumber,
	"gebruikelijke_benaming": ColWasteName,
	"benaming_afvalstof":     ColWasteName,
}

// ReadFile picks the reader by file extension.
func ReadFile(name string, r io.Reader) ([]Row, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".txt":
		return ReadCSV(r)
	case ".xlsx":
		return ReadXLSX(r)
	default:
		return nil, fmt.Errorf("%w: unsupported file type %q", ErrUnreadableBatch, filepath.Ext(name))
	}
}

// ReadCSV parses an LMA CSV export. Both ';' and ',' separated files are
// accepted and a leading UTF-8 byte order mark is ignored. Records that cannot
// be parsed become malformed rows instead of failing the whole file.
func ReadCSV(r io.Reader) ([]Row, error) {
	br := bufio.NewReader(r)
	if prefix, err := br.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = br.Discard(len(byteOrderMark))
	}
	_, _ = br.Peek(1)
	head, _ := br.Peek(br.Buffered())

	reader := csv.NewReader(br)
	reader.Comma = detectDelimiter(head)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty file", ErrUnreadableBatch)
		}
		return nil, fmt.Errorf("%w: header: %v", ErrUnreadableBatch, err)
	}
	columns, err := normaliseHeader(header)
	if err != nil {
		return nil, err
	}

	var rows []Row
	for number := 1; ; number++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			rows = append(rows, Row{Number: number, Malformed: parseErr.Err.Error()})
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", ErrUnreadableBatch, number, err)
		}
		rows = append(rows, toRow(number, columns, record, true))
	}
	return rows, nil
}

// ReadXLSX parses the first sheet of an LMA Excel export.
func ReadXLSX(r io.Reader) ([]Row, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: open xlsx: %v", ErrUnreadableBatch, err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook has no sheets", ErrUnreadableBatch)
	}
	records, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("%w: read rows: %v", ErrUnreadableBatch, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: empty sheet", ErrUnreadableBatch)
	}
	columns, err := normaliseHeader(records[0])
	if err != nil {
		return nil, err
	}
	rows := make([]Row, 0, len(records)-1)
	for i, record := range records[1:] {
		// Excel drops trailing empty cells, so short rows are not malformed.
		rows = append(rows, toRow(i+1, columns, record, false))
	}
	return rows, nil
}

func detectDelimiter(head []byte) rune {
	line := head
	if i := bytes.IndexByte(head, '\n'); i >= 0 {
		line = head[:i]
	}
	if bytes.Count(line, []byte{';'}) > bytes.Count(line, []byte{','}) {
		return ';'
	}
	return ','
}

func normaliseHeader(header []string) ([]string, error) {
	columns := make([]string, len(header))
	present := make(map[string]bool, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(h))
		name = strings.NewReplacer(" ", "_", "-", "_").Replace(name)
		if alias, ok := headerAliases[name]; ok {
			name = alias
		}
		columns[i] = name
		present[name] = true
	}
	var missing []string
	for _, col := range RequiredColumns {
		if !present[col] {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: header lacks columns %s", ErrUnreadableBatch, strings.Join(missing, ", "))
	}
	return columns, nil
}

func toRow(number int, columns, record []string, strict bool) Row {
	row := Row{Number: number, Fields: make(map[string]string, len(columns))}
	for i, col := range columns {
		if i < len(record) {
			row.Fields[col] = strings.TrimSpace(record[i])
		}
	}
	if !strict {
		return row
	}
	if len(record) < len(columns) && !allBlank(record) {
		row.Malformed = fmt.Sprintf("expected %d fields, got %d", len(columns), len(record))
		return row
	}
	if len(record) > len(columns) && !allBlank(record[len(columns):]) {
		row.Malformed = fmt.Sprintf("expected %d fields, got %d", len(columns), len(record))
	}
	return row
}

func allBlank(fields []string) bool {
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
