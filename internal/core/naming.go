package core

import (
	"fmt"
	"strings"
	"unicode"
)

// DefaultBaseName is used when the submitted name is empty after cleaning.
const DefaultBaseName = "saida"

// SanitizeBaseName turns free text into a safe file stem. Path separators
// and control characters are dropped, surrounding spaces and leading dots
// are trimmed and a trailing .csv is removed. An empty result falls back
// to fallback, or DefaultBaseName when that is empty too.
func SanitizeBaseName(name, fallback string) string {
	cleaned := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)

	cleaned = strings.TrimSpace(cleaned)
	if len(cleaned) >= 4 && strings.EqualFold(cleaned[len(cleaned)-4:], ".csv") {
		cleaned = strings.TrimSpace(cleaned[:len(cleaned)-4])
	}
	cleaned = strings.TrimLeft(cleaned, ".")

	if cleaned == "" {
		if fallback == "" {
			return DefaultBaseName
		}
		return SanitizeBaseName(fallback, "")
	}
	return cleaned
}

// FullName is the unsplit output file name.
func FullName(base string) string {
	return base + ".csv"
}

// PartName is the name of the n-th part, counting from 1.
func PartName(base string, n int) string {
	return fmt.Sprintf("%s_parte%d.csv", base, n)
}

// ArchiveName is the name of the zip bundling every part.
func ArchiveName(base string) string {
	return base + "_partes.zip"
}

// IsOutputName reports whether name is one of the files a run with base
// can produce: the unsplit file, any part or the parts archive.
func IsOutputName(base, name string) bool {
	if name == FullName(base) || name == ArchiveName(base) {
		return true
	}
	n, ok := strings.CutPrefix(name, base+"_parte")
	if !ok {
		return false
	}
	n, ok = strings.CutSuffix(n, ".csv")
	if !ok || n == "" {
		return false
	}
	for _, r := range n {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
