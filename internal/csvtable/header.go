package csvtable

import (
	"strconv"
	"strings"
)

// normalizeHeader trims every name and renames repeats to name.1, name.2, ...
// so that each column can be selected unambiguously.
func normalizeHeader(raw []string) []string {
	out := make([]string, len(raw))
	seen := make(map[string]int, len(raw))
	taken := make(map[string]bool, len(raw))

	for i, name := range raw {
		name = normalizeName(name)
		candidate := name
		for taken[candidate] {
			seen[name]++
			candidate = name + "." + strconv.Itoa(seen[name])
		}
		taken[candidate] = true
		out[i] = candidate
	}
	return out
}

// normalizeName trims a requested column name the same way header names are.
func normalizeName(name string) string {
	return strings.TrimSpace(name)
}

// projection maps every selected column to its index in header.
func projection(header, selected []string) ([]int, error) {
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[name] = i
	}

	idx := make([]int, len(selected))
	for i, name := range selected {
		pos, ok := index[name]
		if !ok {
			return nil, &ColumnError{Column: name}
		}
		idx[i] = pos
	}
	return idx, nil
}

// project copies the selected cells of rec. Cells past the end of a short
// row are empty.
func project(rec []string, idx []int) []string {
	out := make([]string, len(idx))
	for i, pos := range idx {
		if pos < len(rec) {
			out[i] = rec[pos]
		}
	}
	return out
}

// ColumnError reports a selected column that the header does not contain.
type ColumnError struct {
	Column string
}

func (e *ColumnError) Error() string {
	return ErrColumnNotFound.Error() + ": " + strconv.Quote(e.Column)
}

func (e *ColumnError) Unwrap() error {
	return ErrColumnNotFound
}
