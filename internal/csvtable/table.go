// Package csvtable reads delimited tables into memory restricted to a set of
// columns and writes them back out.
//
// Reading follows a two step flow. DiscoverColumns parses only the header
// and a few rows so the caller can offer the columns for selection, then
// LoadFiltered re-reads the source from the start keeping only the chosen
// columns. Values are kept as the strings found in the file.
package csvtable

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrEmptyFile is returned when the source has no header row.
	ErrEmptyFile = errors.New("empty file")

	// ErrInvalidCSV wraps every parse failure.
	ErrInvalidCSV = errors.New("invalid csv")

	// ErrColumnNotFound is returned when a selected column is not in the header.
	ErrColumnNotFound = errors.New("column not found")
)

// Table is a fully loaded table. Every row has len(Columns) values.
type Table struct {
	Columns []string
	Rows    [][]string
}

// Len returns the number of data rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// WriteCSV writes the header followed by every row using comma as the
// field separator.
func (t *Table) WriteCSV(w io.Writer, comma rune) error {
	cw := csv.NewWriter(w)
	cw.Comma = comma

	if err := cw.Write(t.Columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return fmt.Errorf("write rows: %w", err)
	}
	return nil
}

// Options control parsing of the source table.
type Options struct {
	// Comma is the input field separator.
	Comma rune

	// SniffRows is how many data rows DiscoverColumns parses after the header.
	SniffRows int

	// BatchRows is how many rows LoadFiltered reads before appending them
	// to the table and reporting progress.
	BatchRows int

	// TotalBytes is the source size used for progress, 0 if unknown.
	TotalBytes int64
}

// DefaultOptions mirror the fixed constants of the upload form.
func DefaultOptions() Options {
	return Options{
		Comma:     ';',
		SniffRows: 5,
		BatchRows: 100_000,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Comma == 0 {
		o.Comma = d.Comma
	}
	if o.SniffRows < 0 {
		o.SniffRows = d.SniffRows
	}
	if o.BatchRows <= 0 {
		o.BatchRows = d.BatchRows
	}
	return o
}

func newReader(r io.Reader, comma rune) *csv.Reader {
	cr := csv.NewReader(r)
	cr.Comma = comma
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	return cr
}

// readHeader reads the first record and returns it normalized.
func readHeader(cr *csv.Reader) ([]string, error) {
	header, err := cr.Read()
	if err == io.EOF {
		return nil, ErrEmptyFile
	}
	if err != nil {
		return nil, parseError(err)
	}
	return normalizeHeader(header), nil
}

// readRecord reads one data record and checks it against the header width.
// Short rows are accepted; long rows are a parse error.
func readRecord(cr *csv.Reader, width int) ([]string, error) {
	rec, err := cr.Read()
	if err != nil {
		if err == io.EOF {
			return nil, err
		}
		return nil, parseError(err)
	}
	if len(rec) > width {
		line, _ := cr.FieldPos(0)
		return nil, fmt.Errorf("%w: line %d: expected %d fields, saw %d", ErrInvalidCSV, line, width, len(rec))
	}
	return rec, nil
}

func parseError(err error) error {
	return fmt.Errorf("%w: %v", ErrInvalidCSV, err)
}
