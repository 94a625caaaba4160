package csvtable

import (
	"context"
	"io"

	"github.com/samber/lo"
)

// DiscoverColumns reads the header and up to opts.SniffRows data rows and
// returns the trimmed column names. The sniffed rows are parsed only so
// that an obviously malformed file fails here rather than after the user
// has picked columns.
func DiscoverColumns(r io.Reader, opts Options) ([]string, error) {
	opts = opts.withDefaults()
	src, _ := Wrap(r, opts.TotalBytes)
	cr := newReader(src, opts.Comma)

	header, err := readHeader(cr)
	if err != nil {
		return nil, err
	}

	for i := 0; i < opts.SniffRows; i++ {
		if _, err := readRecord(cr, len(header)); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
	}

	return header, nil
}

// LoadProgress is reported after every batch of LoadFiltered.
type LoadProgress struct {
	Rows       int
	BytesRead  int64
	BytesTotal int64
}

// LoadFiltered parses the whole source keeping only the selected columns,
// in the order given. Repeated names in selected are kept once. An empty
// selection yields a table with no columns and one empty row per data row.
//
// Rows are read in batches of opts.BatchRows; ctx is checked between
// batches and progress, if non-nil, is called after each one.
func LoadFiltered(ctx context.Context, r io.Reader, selected []string, opts Options, progress func(LoadProgress)) (*Table, error) {
	opts = opts.withDefaults()
	src, counter := Wrap(r, opts.TotalBytes)
	cr := newReader(src, opts.Comma)

	header, err := readHeader(cr)
	if err != nil {
		return nil, err
	}

	columns := lo.Uniq(lo.Map(selected, func(c string, _ int) string { return normalizeName(c) }))
	idx, err := projection(header, columns)
	if err != nil {
		return nil, err
	}

	table := &Table{Columns: columns}
	batch := make([][]string, 0, opts.BatchRows)

	for done := false; !done; {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		batch = batch[:0]
		for len(batch) < opts.BatchRows {
			rec, err := readRecord(cr, len(header))
			if err == io.EOF {
				done = true
				break
			}
			if err != nil {
				return nil, err
			}
			batch = append(batch, project(rec, idx))
		}

		table.Rows = append(table.Rows, batch...)
		if progress != nil {
			progress(LoadProgress{
				Rows:       len(table.Rows),
				BytesRead:  counter.BytesRead,
				BytesTotal: counter.Total,
			})
		}
	}

	return table, nil
}
