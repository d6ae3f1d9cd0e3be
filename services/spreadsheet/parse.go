// Package spreadsheet turns uploaded CSV and XLSX attendance sheets into attendance tables.
package spreadsheet

import (
	"bytes"
	"encoding/csv"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/trezcool/proxyguard/core"
	"github.com/trezcool/proxyguard/core/attendance"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported file format, please use CSV or Excel files")
	ErrLegacyExcel       = errors.New("legacy .xls files are not supported, please save the sheet as .xlsx or .csv")
	ErrNoData            = errors.New("no data found in the file")

	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}

	delimiters = []rune{',', ';', '\t'}
)

// Format is a supported upload format, derived from the file extension.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// DetectFormat returns the format of filename from its extension (case insensitive).
func DetectFormat(filename string) (Format, error) {
	switch strings.ToLower(filepath.Ext(strings.TrimSpace(filename))) {
	case ".csv":
		return FormatCSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	case ".xls":
		return "", ErrLegacyExcel
	default:
		return "", ErrUnsupportedFormat
	}
}

// Parse reads the first sheet of a CSV or XLSX file. The first record holds the headers;
// headers are trimmed & made unique, blank rows are dropped.
// Format errors and empty sheets are returned as *core.ValidationError.
func Parse(filename string, data []byte) (attendance.Table, error) {
	format, err := DetectFormat(filename)
	if err != nil {
		return attendance.Table{}, core.NewFieldValidationError("file", err.Error())
	}

	var records [][]string
	switch format {
	case FormatCSV:
		records, err = readCSV(data)
	case FormatXLSX:
		records, err = readXLSX(data)
	}
	if err != nil {
		return attendance.Table{}, core.NewValidationError(
			errors.Wrap(err, "reading "+string(format)),
			core.FieldError{Field: "file", Error: "failed to read the " + strings.ToUpper(string(format)) + " file"},
		)
	}

	if len(records) == 0 {
		return attendance.Table{}, core.NewFieldValidationError("file", ErrNoData.Error())
	}
	t := attendance.NewTable(uniqueHeaders(records[0]), records[1:])
	if len(t.Rows) == 0 {
		return attendance.Table{}, core.NewFieldValidationError("file", ErrNoData.Error())
	}
	return t, nil
}

// Decode converts CSV bytes to UTF-8: BOMs are stripped, UTF-16 is transcoded and
// invalid UTF-8 is read as Latin-1.
func Decode(data []byte) ([]byte, error) {
	switch {
	case bytes.HasPrefix(data, bomUTF8):
		return data[len(bomUTF8):], nil
	case bytes.HasPrefix(data, bomUTF16LE), bytes.HasPrefix(data, bomUTF16BE):
		decoded, _, err := transform.Bytes(unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder(), data)
		return decoded, errors.Wrap(err, "decoding UTF-16")
	case utf8.Valid(data):
		return data, nil
	default:
		decoded, _, err := transform.Bytes(charmap.ISO8859_1.NewDecoder(), data)
		return decoded, errors.Wrap(err, "decoding Latin-1")
	}
}

func readCSV(data []byte) ([][]string, error) {
	decoded, err := Decode(data)
	if err != nil {
		return nil, err
	}

	r := csv.NewReader(bytes.NewReader(decoded))
	r.Comma = sniffDelimiter(decoded)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var records [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		// skip blank lines before the header line
		if len(records) == 0 && isBlankRecord(rec) {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// sniffDelimiter picks the most frequent delimiter of the first line (comma on ties).
func sniffDelimiter(data []byte) rune {
	line := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		line = data[:i]
	}
	best, bestCount := delimiters[0], 0
	for _, d := range delimiters {
		if n := bytes.Count(line, []byte(string(d))); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best
}

func readXLSX(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "opening workbook")
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil
	}
	// formatted values, as displayed
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, errors.Wrap(err, "reading rows of "+sheets[0])
	}

	records := make([][]string, 0, len(rows))
	for _, row := range rows {
		if len(records) == 0 && isBlankRecord(row) {
			continue
		}
		records = append(records, row)
	}
	return records, nil
}

func isBlankRecord(rec []string) bool {
	for _, v := range rec {
		if !core.IsBlank(v) {
			return false
		}
	}
	return true
}

// uniqueHeaders trims headers, names blank ones after their position and suffixes
// duplicates ("Name", "Name_1", ...).
func uniqueHeaders(raw []string) []string {
	used := make(map[string]bool, len(raw))
	counts := make(map[string]int, len(raw))
	headers := make([]string, len(raw))
	for i, h := range raw {
		h = core.CleanString(h)
		if h == "" {
			h = "Column " + strconv.Itoa(i+1)
		}
		name := h
		for used[name] {
			counts[h]++
			name = h + "_" + strconv.Itoa(counts[h])
		}
		used[name] = true
		headers[i] = name
	}
	return headers
}
