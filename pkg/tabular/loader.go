// Package tabular reads keyword spreadsheets exported as CSV and writes the
// annotated records back out as CSV or as a rendered table.
package tabular

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

const bom = "\uFEFF"

var (
	// ErrEmptyInput is returned when the input has no header row.
	ErrEmptyInput = errors.New("input has no header row")

	// ErrNoKeywords is returned when no row yields a keyword.
	ErrNoKeywords = errors.New("no keywords found; make sure the CSV has a keyword column")
)

// Row is one data row keyed by the header. Rows from the same Load share
// their header slice.
type Row struct {
	header []string
	cells  []string
}

// NewRow builds a row from parallel header and cell slices.
func NewRow(header, cells []string) Row {
	return Row{header: header, cells: cells}
}

// Get returns the cell under column name. Lookup is exact.
func (r Row) Get(name string) (string, bool) {
	for i, h := range r.header {
		if h == name {
			if i < len(r.cells) {
				return r.cells[i], true
			}
			return "", true
		}
	}
	return "", false
}

// Header returns the column names in file order.
func (r Row) Header() []string {
	return r.header
}

// Cells returns the values in header order.
func (r Row) Cells() []string {
	return r.cells
}

// Map returns the row as column -> value. Later duplicate columns win.
func (r Row) Map() map[string]string {
	m := make(map[string]string, len(r.header))
	for i, h := range r.header {
		if i < len(r.cells) {
			m[h] = r.cells[i]
		} else {
			m[h] = ""
		}
	}
	return m
}

func (r Row) blank() bool {
	for _, c := range r.cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// Load parses header-driven CSV. A UTF-8 byte order mark is stripped, rows
// with only blank cells are skipped, short rows are padded and extra cells
// beyond the header are dropped.
func Load(r io.Reader) ([]Row, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyInput
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], bom)
	}

	var rows []Row
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}

		cells := make([]string, len(header))
		copy(cells, record)

		row := Row{header: header, cells: cells}
		if row.blank() {
			continue
		}
		rows = append(rows, row)
	}

	return rows, nil
}
