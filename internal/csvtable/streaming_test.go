package csvtable

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"testing/iotest"
)

func TestBOMReader(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected string
	}{
		{
			name:     "file with BOM",
			input:    append([]byte{0xEF, 0xBB, 0xBF}, []byte("a;b")...),
			expected: "a;b",
		},
		{
			name:     "file without BOM",
			input:    []byte("a;b"),
			expected: "a;b",
		},
		{
			name:     "empty file",
			input:    []byte{},
			expected: "",
		},
		{
			name:     "only BOM",
			input:    []byte{0xEF, 0xBB, 0xBF},
			expected: "",
		},
		{
			name:     "shorter than BOM",
			input:    []byte{'a'},
			expected: "a",
		},
		{
			name:     "partial BOM at start",
			input:    []byte{0xEF, 0xBB, 'a', 'b', 'c'},
			expected: string([]byte{0xEF, 0xBB, 'a', 'b', 'c'}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := io.ReadAll(newBOMReader(bytes.NewReader(tt.input)))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(result) != tt.expected {
				t.Errorf("got %q, want %q", string(result), tt.expected)
			}
		})
	}
}

func TestLegacyFallback(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected string
	}{
		{
			name:     "valid ASCII",
			input:    []byte("a;b"),
			expected: "a;b",
		},
		{
			name:     "valid multibyte",
			input:    []byte("São;João"),
			expected: "São;João",
		},
		{
			name:     "latin1 accents decoded",
			input:    []byte("Descri\xe7\xe3o;Jo\xe3o"),
			expected: "Descrição;João",
		},
		{
			name:     "windows-1252 euro sign",
			input:    []byte{'h', 'e', 0x80, 'l', 'o'},
			expected: "he€lo",
		},
		{
			name:     "latin1 byte at EOF",
			input:    []byte("S\xe3"),
			expected: "Sã",
		},
		{
			name:     "mixed utf8 and latin1",
			input:    []byte("ação;a\xe7\xe3o"),
			expected: "ação;ação",
		},
		{
			name:     "empty input",
			input:    []byte{},
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := io.ReadAll(newLegacyFallback(bytes.NewReader(tt.input)))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(result) != tt.expected {
				t.Errorf("got %q, want %q", string(result), tt.expected)
			}
		})
	}
}

func TestLegacyFallback_RuneSplitAcrossReads(t *testing.T) {
	// OneByteReader forces every multibyte rune to straddle reads.
	input := []byte("ção;€")
	result, err := io.ReadAll(newLegacyFallback(iotest.OneByteReader(bytes.NewReader(input))))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(result) != string(input) {
		t.Errorf("got %q, want %q", string(result), string(input))
	}
}

func TestLegacyFallback_LongLatin1Input(t *testing.T) {
	// Every byte doubles in size, so the output outgrows one buffer.
	input := bytes.Repeat([]byte{0xe7}, 10000)
	result, err := io.ReadAll(newLegacyFallback(bytes.NewReader(input)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := strings.Repeat("ç", 10000); string(result) != want {
		t.Errorf("got %d bytes, want %d", len(result), len(want))
	}
}

func TestCountingReader(t *testing.T) {
	data := []byte("0123456789")
	r := NewCountingReader(bytes.NewReader(data), int64(len(data)))

	buf := make([]byte, 4)
	if _, err := r.Read(buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.BytesRead != 4 {
		t.Errorf("BytesRead = %d, want 4", r.BytesRead)
	}
	if got := r.Progress(); got != 40 {
		t.Errorf("Progress() = %d, want 40", got)
	}

	unknown := NewCountingReader(bytes.NewReader(data), 0)
	io.ReadAll(unknown)
	if got := unknown.Progress(); got != 0 {
		t.Errorf("Progress() with unknown total = %d, want 0", got)
	}
}

func TestWrap_CountsRawBytes(t *testing.T) {
	input := append([]byte{0xEF, 0xBB, 0xBF}, []byte("a;b\n")...)
	r, counter := Wrap(bytes.NewReader(input), int64(len(input)))

	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != "a;b\n" {
		t.Errorf("got %q, want %q", out, "a;b\n")
	}
	if counter.BytesRead != int64(len(input)) {
		t.Errorf("BytesRead = %d, want %d", counter.BytesRead, len(input))
	}
	if counter.Progress() != 100 {
		t.Errorf("Progress() = %d, want 100", counter.Progress())
	}
}
