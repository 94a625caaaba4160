// Package archive reads table members out of uploaded zip files and bundles
// produced part files into a single zip.
package archive

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
)

var (
	// ErrNoTableMember is returned when an archive holds no eligible table.
	ErrNoTableMember = errors.New("no table found in archive")

	// ErrMemberNotFound is returned when the requested member is not an
	// eligible table in the archive.
	ErrMemberNotFound = errors.New("archive member not found")

	// ErrInvalidArchive wraps errors from a corrupt or truncated zip.
	ErrInvalidArchive = errors.New("invalid archive")
)

// TableExt is the extension of eligible members.
const TableExt = ".csv"

// Member describes one eligible table inside an archive.
type Member struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

var zipMagic = [][]byte{
	[]byte("PK\x03\x04"),
	[]byte("PK\x05\x06"), // empty archive
}

// IsArchive reports whether the file at p starts with a zip signature.
func IsArchive(p string) (bool, error) {
	f, err := os.Open(p)
	if err != nil {
		return false, err
	}
	defer f.Close()

	head := make([]byte, 4)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return false, err
	}
	for _, magic := range zipMagic {
		if n == len(magic) && bytes.Equal(head, magic) {
			return true, nil
		}
	}
	return false, nil
}

// eligible reports whether a zip entry is a table the user may choose.
// Directories, macOS resource forks and hidden files are skipped.
func eligible(f *zip.File) bool {
	if f.FileInfo().IsDir() {
		return false
	}
	name := f.Name
	if strings.HasPrefix(name, "__MACOSX/") {
		return false
	}
	base := path.Base(name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return strings.EqualFold(path.Ext(base), TableExt)
}

// Members lists the eligible tables in the archive at p, in archive order.
// It returns ErrNoTableMember when there are none.
func Members(p string) ([]Member, error) {
	zr, err := zip.OpenReader(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	defer zr.Close()

	var members []Member
	for _, f := range zr.File {
		if eligible(f) {
			members = append(members, Member{Name: f.Name, Size: int64(f.UncompressedSize64)})
		}
	}
	if len(members) == 0 {
		return nil, ErrNoTableMember
	}
	return members, nil
}

// memberReader closes the member stream and the archive together.
type memberReader struct {
	io.ReadCloser
	archive *zip.ReadCloser
}

func (m *memberReader) Close() error {
	err := m.ReadCloser.Close()
	if cerr := m.archive.Close(); err == nil {
		err = cerr
	}
	return err
}

// OpenMember opens the named eligible member of the archive at p. No other
// member is decompressed. The returned size is the uncompressed length.
func OpenMember(p, name string) (io.ReadCloser, int64, error) {
	zr, err := zip.OpenReader(p)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}

	for _, f := range zr.File {
		if f.Name != name || !eligible(f) {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			zr.Close()
			return nil, 0, fmt.Errorf("%w: open %s: %v", ErrInvalidArchive, name, err)
		}
		return &memberReader{ReadCloser: rc, archive: zr}, int64(f.UncompressedSize64), nil
	}

	zr.Close()
	return nil, 0, fmt.Errorf("%w: %s", ErrMemberNotFound, name)
}

// Bundle writes a zip at zipPath holding every file in files under its base
// name, deflated, in the given order. A partially written zip is removed on
// failure.
func Bundle(zipPath string, files []string) (err error) {
	out, err := os.Create(zipPath)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer func() {
		if cerr := out.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close archive: %w", cerr)
		}
		if err != nil {
			os.Remove(zipPath)
		}
	}()

	zw := zip.NewWriter(out)
	for _, file := range files {
		if err := addFile(zw, file); err != nil {
			zw.Close()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finish archive: %w", err)
	}
	return nil
}

func addFile(zw *zip.Writer, file string) error {
	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("open %s: %w", filepath.Base(file), err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", filepath.Base(file), err)
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("zip header %s: %w", info.Name(), err)
	}
	header.Name = filepath.Base(file)
	header.Method = zip.Deflate

	w, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("add %s: %w", header.Name, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("write %s: %w", header.Name, err)
	}
	return nil
}
