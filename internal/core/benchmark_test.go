package core

import (
	"context"
	"strconv"
	"testing"

	"github.com/JonMunkholm/csvsplit/internal/csvtable"
)

// ============================================================================
// Pipeline Benchmarks
// ============================================================================

// BenchmarkEmit_Single writes a table that stays under the threshold.
func BenchmarkEmit_Single(b *testing.B) {
	table := benchTable(50_000, 4)
	p := Pipeline{Threshold: 1 << 40, RowsPerPart: 100_000, Comma: ','}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := p.Emit(context.Background(), table, b.TempDir(), "bench", nil); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkEmit_Split forces a split so the cost of the parts and the zip
// shows up next to the single-file case.
func BenchmarkEmit_Split(b *testing.B) {
	table := benchTable(50_000, 4)
	p := Pipeline{Threshold: 1, RowsPerPart: 10_000, Comma: ','}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := p.Emit(context.Background(), table, b.TempDir(), "bench", nil); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkSanitizeBaseName(b *testing.B) {
	names := []string{"vendas", "  ../relatório 2024.CSV ", "", "a\\b/c"}

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		SanitizeBaseName(names[i%len(names)], DefaultBaseName)
	}
}

// ============================================================================
// Helper Functions
// ============================================================================

func benchTable(rows, cols int) *csvtable.Table {
	t := &csvtable.Table{Columns: make([]string, cols), Rows: make([][]string, rows)}
	for c := range t.Columns {
		t.Columns[c] = "col" + strconv.Itoa(c)
	}
	for r := range t.Rows {
		rec := make([]string, cols)
		for c := range rec {
			rec[c] = strconv.Itoa(r*cols + c)
		}
		t.Rows[r] = rec
	}
	return t
}
