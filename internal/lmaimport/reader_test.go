package lmaimport

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestReadCSVSemicolonWithBOMAndDutchHeader(t *testing.T) {
	input := "\xEF\xBB\xBFAfvalstroomnummer;Euralcode;Verwerkingsmethode;KvK ontdoener;Verwerkersnummer;Gebruikelijke benaming\n" +
		"087970000001;17 09 04;A02;12345678;08797;Bouw- en sloopafval\n" +
		";;;;;\n" +
		"087970000002;170101;R05;12345678;08797\n"

	rows, err := ReadCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, 1, rows[0].Number)
	assert.Equal(t, "087970000001", rows[0].Get(ColWasteStreamNumber))
	assert.Equal(t, "17 09 04", rows[0].Get(ColEuralCode))
	assert.Equal(t, "Bouw- en sloopafval", rows[0].Get(ColWasteName))
	assert.Empty(t, rows[0].Malformed)

	assert.True(t, rows[1].Blank())

	assert.Equal(t, 3, rows[2].Number)
	assert.NotEmpty(t, rows[2].Malformed)
}

func TestReadCSVCommaSeparated(t *testing.T) {
	input := "waste_stream_number,eural_code,processing_method,consignor_kvk,processor_number\n" +
		"087970000001,170904,A02,12345678,08797\n" +
		"\"087970000002,170904,A02,12345678,08797\n"

	rows, err := ReadCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	assert.Equal(t, "08797", rows[0].Get(ColProcessorNumber))
	assert.Empty(t, rows[0].Malformed)
	for _, r := range rows[1:] {
		assert.NotEmpty(t, r.Malformed)
	}
}

func TestReadCSVRejectsIncompleteHeader(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("waste_stream_number;eural_code\n087970000001;170904\n"))
	require.ErrorIs(t, err, ErrUnreadableBatch)
	assert.Contains(t, err.Error(), ColProcessingMethod)

	_, err = ReadCSV(strings.NewReader(""))
	require.ErrorIs(t, err, ErrUnreadableBatch)
}

func TestReadXLSX(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	records := [][]any{
		{"Afvalstroomnummer", "Euralcode", "Verwerkingsmethode", "KvK ontdoener", "Verwerkersnummer", "Gebruikelijke benaming"},
		{"087970000001", "17 09 04", "A02", "12345678", "08797", "Puin"},
		{"087970000002", "170101", "R05", "12345678", "08797"},
	}
	for i, record := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &record))
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	require.NoError(t, f.Close())

	rows, err := ReadFile("export.XLSX", &buf)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Puin", rows[0].Get(ColWasteName))
	assert.Equal(t, "087970000002", rows[1].Get(ColWasteStreamNumber))
	assert.Empty(t, rows[1].Malformed, "short excel rows are not malformed")
	assert.Empty(t, rows[1].Get(ColWasteName))
}

func TestReadFileRejectsUnknownExtension(t *testing.T) {
	_, err := ReadFile("export.pdf", strings.NewReader("x"))
	require.ErrorIs(t, err, ErrUnreadableBatch)
}
