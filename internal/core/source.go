package core

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/JonMunkholm/csvsplit/internal/archive"
)

// Source locates the table to read: a plain file, or one member of a zip.
type Source struct {
	Path   string
	Kind   SourceKind
	Member string
}

// DetectSource inspects the stored upload at path. An upload is an archive
// when it starts with a zip signature or its original name ends in .zip.
func DetectSource(path, fileName string) (Source, error) {
	isZip, err := archive.IsArchive(path)
	if err != nil {
		return Source{}, fmt.Errorf("detect kind: %w", err)
	}
	if isZip || strings.EqualFold(filepath.Ext(fileName), ".zip") {
		return Source{Path: path, Kind: KindArchive}, nil
	}
	return Source{Path: path, Kind: KindTable}, nil
}

// Name is how the source is shown to users.
func (s Source) Name(fileName string) string {
	if s.Kind == KindArchive && s.Member != "" {
		return fileName + "/" + s.Member
	}
	return fileName
}

// Open returns a fresh reader positioned at the start of the table and the
// table's size in bytes. Archives must have a member chosen.
func (s Source) Open() (io.ReadCloser, int64, error) {
	if s.Kind == KindArchive {
		if s.Member == "" {
			return nil, 0, ErrMemberNotSelected
		}
		return archive.OpenMember(s.Path, s.Member)
	}

	f, err := os.Open(s.Path)
	if err != nil {
		return nil, 0, fmt.Errorf("open upload: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("stat upload: %w", err)
	}
	return f, info.Size(), nil
}
