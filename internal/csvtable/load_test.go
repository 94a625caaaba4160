package csvtable

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = " id ; name ;city;amount\n" +
	"1;Ana;Recife;10,5\n" +
	"2;Bruno;Natal;7\n" +
	"3;Carla;Olinda;3\n"

func TestDiscoverColumns_TrimsHeader(t *testing.T) {
	cols, err := DiscoverColumns(strings.NewReader(sample), DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name", "city", "amount"}, cols)
}

func TestDiscoverColumns_RenamesRepeatedNames(t *testing.T) {
	cols, err := DiscoverColumns(strings.NewReader("a;b;a;a\n1;2;3;4\n"), DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "a.1", "a.2"}, cols)
}

func TestDiscoverColumns_EmptyFile(t *testing.T) {
	_, err := DiscoverColumns(strings.NewReader(""), DefaultOptions())
	assert.ErrorIs(t, err, ErrEmptyFile)
}

func TestDiscoverColumns_MalformedWithinSniffDepth(t *testing.T) {
	input := "a;b\n1;2\n1;2;3\n"
	_, err := DiscoverColumns(strings.NewReader(input), DefaultOptions())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidCSV)
	assert.Contains(t, err.Error(), "expected 2 fields")
}

func TestDiscoverColumns_OnlySniffsPrefix(t *testing.T) {
	var b strings.Builder
	b.WriteString("a;b\n")
	for i := 0; i < 5; i++ {
		b.WriteString("1;2\n")
	}
	b.WriteString("broken;row;here\n")

	cols, err := DiscoverColumns(strings.NewReader(b.String()), DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, cols)
}

func TestDiscoverColumns_SkipsBOM(t *testing.T) {
	input := append([]byte{0xEF, 0xBB, 0xBF}, []byte("col1;col2\nx;y\n")...)
	cols, err := DiscoverColumns(bytes.NewReader(input), DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, []string{"col1", "col2"}, cols)
}

func TestLoadFiltered_RequestedOrder(t *testing.T) {
	table, err := LoadFiltered(context.Background(), strings.NewReader(sample),
		[]string{"city", "id"}, DefaultOptions(), nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"city", "id"}, table.Columns)
	assert.Equal(t, [][]string{
		{"Recife", "1"},
		{"Natal", "2"},
		{"Olinda", "3"},
	}, table.Rows)
}

func TestLoadFiltered_CollapsesRepeatedSelection(t *testing.T) {
	table, err := LoadFiltered(context.Background(), strings.NewReader(sample),
		[]string{"name", " name ", "id"}, DefaultOptions(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "id"}, table.Columns)
	assert.Equal(t, []string{"Ana", "1"}, table.Rows[0])
}

func TestLoadFiltered_UnknownColumn(t *testing.T) {
	_, err := LoadFiltered(context.Background(), strings.NewReader(sample),
		[]string{"id", "missing"}, DefaultOptions(), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrColumnNotFound))

	var colErr *ColumnError
	require.ErrorAs(t, err, &colErr)
	assert.Equal(t, "missing", colErr.Column)
}

func TestLoadFiltered_EmptySelection(t *testing.T) {
	table, err := LoadFiltered(context.Background(), strings.NewReader(sample),
		nil, DefaultOptions(), nil)
	require.NoError(t, err)
	assert.Empty(t, table.Columns)
	assert.Equal(t, 3, table.Len())
	for _, row := range table.Rows {
		assert.Empty(t, row)
	}
}

func TestLoadFiltered_ShortRowsArePadded(t *testing.T) {
	input := "a;b;c\n1;2;3\n4\n"
	table, err := LoadFiltered(context.Background(), strings.NewReader(input),
		[]string{"c", "a"}, DefaultOptions(), nil)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"3", "1"}, {"", "4"}}, table.Rows)
}

func TestLoadFiltered_LongRowFails(t *testing.T) {
	input := "a;b\n1;2\n3;4;5\n"
	_, err := LoadFiltered(context.Background(), strings.NewReader(input),
		[]string{"a"}, DefaultOptions(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidCSV)
	assert.Contains(t, err.Error(), "line 3")
}

func TestLoadFiltered_QuotedDelimiter(t *testing.T) {
	input := "a;b\n\"x;y\";2\n"
	table, err := LoadFiltered(context.Background(), strings.NewReader(input),
		[]string{"a", "b"}, DefaultOptions(), nil)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"x;y", "2"}}, table.Rows)
}

func TestLoadFiltered_ReportsEveryBatch(t *testing.T) {
	var b strings.Builder
	b.WriteString("n\n")
	for i := 0; i < 5; i++ {
		b.WriteString("v\n")
	}
	input := b.String()

	opts := DefaultOptions()
	opts.BatchRows = 2
	opts.TotalBytes = int64(len(input))

	var reports []LoadProgress
	table, err := LoadFiltered(context.Background(), strings.NewReader(input),
		[]string{"n"}, opts, func(p LoadProgress) { reports = append(reports, p) })
	require.NoError(t, err)

	assert.Equal(t, 5, table.Len())
	require.Len(t, reports, 3)
	assert.Equal(t, []int{2, 4, 5}, []int{reports[0].Rows, reports[1].Rows, reports[2].Rows})
	assert.Equal(t, int64(len(input)), reports[2].BytesRead)
	assert.Equal(t, int64(len(input)), reports[2].BytesTotal)
}

func TestLoadFiltered_CancelledBetweenBatches(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	opts := DefaultOptions()
	opts.BatchRows = 1

	_, err := LoadFiltered(ctx, strings.NewReader(sample), []string{"id"}, opts,
		func(LoadProgress) { cancel() })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadFiltered_Latin1AccentsSurvive(t *testing.T) {
	input := []byte("id;Descri\xe7\xe3o\n1;Jo\xe3o\n")

	cols, err := DiscoverColumns(bytes.NewReader(input), DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "Descrição"}, cols)

	table, err := LoadFiltered(context.Background(), bytes.NewReader(input),
		[]string{"id", "Descrição"}, DefaultOptions(), nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, table.WriteCSV(&buf, ','))
	assert.Equal(t, "id,Descrição\n1,João\n", buf.String())
}

func TestTable_WriteCSV(t *testing.T) {
	table := &Table{
		Columns: []string{"name", "amount"},
		Rows: [][]string{
			{"Ana", "10,5"},
			{`say "hi"`, "7"},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, table.WriteCSV(&buf, ','))
	assert.Equal(t, "name,amount\nAna,\"10,5\"\n\"say \"\"hi\"\"\",7\n", buf.String())
}
