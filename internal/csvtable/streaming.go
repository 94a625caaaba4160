package csvtable

// streaming.go wraps upload readers so spreadsheet exports parse cleanly:
//
//   - bomReader drops a leading UTF-8 BOM (0xEF 0xBB 0xBF)
//   - legacyFallback decodes bytes that are not valid UTF-8 as Windows-1252
//   - CountingReader tracks bytes consumed for progress reporting
//
// Wrap applies all three in the right order.

import (
	"io"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// legacyFallback passes valid UTF-8 through and decodes every other byte
// as Windows-1252, a superset of Latin-1. Spreadsheet exports on Windows
// are usually in that code page, so accented names survive either way.
type legacyFallback struct {
	transform.NopResetter
}

// Transform implements transform.Transformer.
func (legacyFallback) Transform(dst, src []byte, atEOF bool) (nDst, nSrc int, err error) {
	for nSrc < len(src) {
		b := src[nSrc]
		if b < utf8.RuneSelf {
			if nDst >= len(dst) {
				return nDst, nSrc, transform.ErrShortDst
			}
			dst[nDst] = b
			nDst++
			nSrc++
			continue
		}

		if !atEOF && !utf8.FullRune(src[nSrc:]) {
			return nDst, nSrc, transform.ErrShortSrc
		}

		r, size := utf8.DecodeRune(src[nSrc:])
		if r == utf8.RuneError && size == 1 {
			r = charmap.Windows1252.DecodeByte(b)
			if nDst+utf8.RuneLen(r) > len(dst) {
				return nDst, nSrc, transform.ErrShortDst
			}
			nDst += utf8.EncodeRune(dst[nDst:], r)
			nSrc++
			continue
		}

		if nDst+size > len(dst) {
			return nDst, nSrc, transform.ErrShortDst
		}
		nDst += copy(dst[nDst:], src[nSrc:nSrc+size])
		nSrc += size
	}
	return nDst, nSrc, nil
}

func newLegacyFallback(r io.Reader) io.Reader {
	return transform.NewReader(r, legacyFallback{})
}

// bomReader skips a UTF-8 byte order mark at the start of the stream.
type bomReader struct {
	reader  io.Reader
	checked bool
	head    []byte
}

func newBOMReader(r io.Reader) *bomReader {
	return &bomReader{reader: r}
}

func (r *bomReader) Read(p []byte) (int, error) {
	if !r.checked {
		r.checked = true

		buf := make([]byte, 3)
		n, err := io.ReadFull(r.reader, buf)
		switch {
		case n == 3 && buf[0] == 0xEF && buf[1] == 0xBB && buf[2] == 0xBF:
			r.head = nil
		default:
			r.head = buf[:n]
		}
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			return 0, err
		}
		if err != nil && len(r.head) == 0 {
			return 0, io.EOF
		}
	}

	if len(r.head) > 0 {
		n := copy(p, r.head)
		r.head = r.head[n:]
		return n, nil
	}

	return r.reader.Read(p)
}

// CountingReader tracks bytes read for progress reporting.
type CountingReader struct {
	reader    io.Reader
	BytesRead int64
	Total     int64 // 0 when unknown
}

// NewCountingReader wraps r; total may be 0 when the size is unknown.
func NewCountingReader(r io.Reader, total int64) *CountingReader {
	return &CountingReader{reader: r, Total: total}
}

// Read implements io.Reader.
func (r *CountingReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.BytesRead += int64(n)
	return n, err
}

// Progress returns the read progress as a percentage (0-100).
// Returns 0 if total is unknown.
func (r *CountingReader) Progress() int {
	if r.Total <= 0 {
		return 0
	}
	return int(r.BytesRead * 100 / r.Total)
}

// Wrap strips the BOM, decodes legacy bytes and counts the raw bytes
// consumed. Counting sits closest to the source so BytesRead compares with
// Total.
func Wrap(r io.Reader, totalSize int64) (io.Reader, *CountingReader) {
	counter := NewCountingReader(r, totalSize)
	return newLegacyFallback(newBOMReader(counter)), counter
}
