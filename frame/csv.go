package frame

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// sniffSize is how much of the input is inspected for encoding and separator
const sniffSize = 64 * 1024

// ErrEmptyCSV is returned for input without a header row
var ErrEmptyCSV = errors.New("csv has no header row")

// ReadCSV reads delimited text into a DataFrame.
//
// The input may be UTF-8 or Windows-1252. The separator is ';' when the
// sample holds more semicolons than commas, otherwise ','. Header names are
// trimmed, malformed lines are skipped, and rows and columns whose cells are
// all empty are dropped.
func ReadCSV(r io.Reader) (*DataFrame, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}
	return ParseCSV(content)
}

// ParseCSV is ReadCSV over an in-memory buffer
func ParseCSV(content []byte) (*DataFrame, error) {
	text, err := decode(content)
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(strings.NewReader(text))
	reader.Comma = DetectSeparator(text)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	var records [][]string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse csv: %w", err)
		}
		records = append(records, record)
	}
	if len(records) == 0 {
		return nil, ErrEmptyCSV
	}

	return build(records[0], records[1:])
}

// DetectSeparator picks ';' or ',' from a sample of the text
func DetectSeparator(text string) rune {
	sample := text
	if len(sample) > sniffSize {
		sample = sample[:sniffSize]
	}
	sample = strings.TrimSpace(sample)
	if strings.Count(sample, ";") > strings.Count(sample, ",") {
		return ';'
	}
	return ','
}

func decode(content []byte) (string, error) {
	content = bytes.TrimPrefix(content, []byte("\xef\xbb\xbf"))

	sample := content
	if len(sample) > sniffSize {
		sample = sample[:sniffSize]
		// A multi-byte rune may straddle the cut.
		for i := 0; i < utf8.UTFMax && !utf8.Valid(sample) && len(sample) > 0; i++ {
			sample = sample[:len(sample)-1]
		}
	}
	if utf8.Valid(sample) {
		return string(content), nil
	}

	decoded, err := charmap.Windows1252.NewDecoder().Bytes(content)
	if err != nil {
		return "", fmt.Errorf("failed to decode csv as windows-1252: %w", err)
	}
	return string(decoded), nil
}

func build(header []string, rows [][]string) (*DataFrame, error) {
	width := len(header)
	var kept [][]string
	for _, row := range rows {
		if blank(row) {
			continue
		}
		if len(row) > width {
			width = len(row)
		}
		kept = append(kept, row)
	}

	names := columnNames(header, width)
	cells := make([][]string, width)
	for j := range cells {
		cells[j] = make([]string, len(kept))
	}
	for i, row := range kept {
		for j := 0; j < width && j < len(row); j++ {
			cells[j][i] = row[j]
		}
	}

	var cols []*Column
	for j, name := range names {
		c := NewColumn(name, cells[j])
		if len(kept) > 0 && c.MissingCount() == c.Len() {
			continue
		}
		cols = append(cols, c)
	}
	return New(cols...)
}

// columnNames trims header names, names unlabeled columns and makes
// duplicates unique
func columnNames(header []string, width int) []string {
	names := make([]string, width)
	used := make(map[string]bool, width)
	for j := range names {
		base := ""
		if j < len(header) {
			base = strings.TrimSpace(header[j])
		}
		if base == "" {
			base = fmt.Sprintf("Unnamed: %d", j)
		}
		name := base
		for n := 1; used[name]; n++ {
			name = fmt.Sprintf("%s.%d", base, n)
		}
		used[name] = true
		names[j] = name
	}
	return names
}

func blank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
