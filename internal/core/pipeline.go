package core

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/samber/lo"

	"github.com/JonMunkholm/csvsplit/internal/archive"
	"github.com/JonMunkholm/csvsplit/internal/config"
	"github.com/JonMunkholm/csvsplit/internal/csvtable"
)

const writeBufferSize = 1 << 20

// Pipeline writes a filtered table to disk, splitting it into parts when
// the serialized table is larger than Threshold.
type Pipeline struct {
	Threshold   int64
	RowsPerPart int
	Comma       rune
}

// NewPipeline builds a pipeline from the split settings.
func NewPipeline(cfg config.SplitConfig) Pipeline {
	p := Pipeline{
		Threshold:   cfg.ThresholdBytes,
		RowsPerPart: cfg.RowsPerPart,
		Comma:       cfg.OutputComma(),
	}
	if p.RowsPerPart <= 0 {
		p.RowsPerPart = 100_000
	}
	if p.Comma == 0 {
		p.Comma = ','
	}
	return p
}

// Output lists what Emit produced.
type Output struct {
	Download Artifact
	Parts    []Artifact
	FullSize int64
	Split    bool
}

// PartProgress is called after each part with the parts written so far.
type PartProgress func(done, total int)

// Emit serializes table once as <base>.csv and measures it. At or under the
// threshold that file is the output. Over it, the rows are cut into
// contiguous slices of RowsPerPart, each written with its own header as
// <base>_parte<N>.csv, the unsplit file is removed and the parts are
// bundled into <base>_partes.zip. A table without rows is never split.
//
// Files written before a failure are removed.
func (p Pipeline) Emit(ctx context.Context, table *csvtable.Table, dir, base string, progress PartProgress) (out *Output, err error) {
	var created []string
	defer func() {
		if err != nil {
			for _, path := range created {
				os.Remove(path)
			}
		}
	}()

	fullPath := filepath.Join(dir, FullName(base))
	created = append(created, fullPath)
	size, err := p.writeTable(fullPath, table)
	if err != nil {
		return nil, err
	}

	out = &Output{FullSize: size}
	if size <= p.Threshold || table.Len() == 0 {
		out.Download = Artifact{
			Name: FullName(base),
			Kind: ArtifactFull,
			Size: size,
			Rows: table.Len(),
			Path: fullPath,
		}
		return out, nil
	}

	chunks := lo.Chunk(table.Rows, p.RowsPerPart)
	paths := make([]string, 0, len(chunks))
	for i, rows := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		name := PartName(base, i+1)
		path := filepath.Join(dir, name)
		created = append(created, path)

		n, err := p.writeTable(path, &csvtable.Table{Columns: table.Columns, Rows: rows})
		if err != nil {
			return nil, err
		}
		out.Parts = append(out.Parts, Artifact{Name: name, Kind: ArtifactPart, Size: n, Rows: len(rows), Path: path})
		paths = append(paths, path)

		if progress != nil {
			progress(i+1, len(chunks))
		}
	}

	if err := os.Remove(fullPath); err != nil {
		return nil, fmt.Errorf("remove unsplit output: %w", err)
	}

	zipName := ArchiveName(base)
	zipPath := filepath.Join(dir, zipName)
	created = append(created, zipPath)
	if err := archive.Bundle(zipPath, paths); err != nil {
		return nil, fmt.Errorf("bundle parts: %w", err)
	}
	info, err := os.Stat(zipPath)
	if err != nil {
		return nil, fmt.Errorf("stat archive: %w", err)
	}

	out.Split = true
	out.Download = Artifact{Name: zipName, Kind: ArtifactArchive, Size: info.Size(), Rows: table.Len(), Path: zipPath}
	return out, nil
}

// writeTable writes t to path and returns the file size.
func (p Pipeline) writeTable(path string, t *csvtable.Table) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}

	bw := bufio.NewWriterSize(f, writeBufferSize)
	if err := t.WriteCSV(bw, p.Comma); err != nil {
		f.Close()
		return 0, fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return 0, fmt.Errorf("flush %s: %w", filepath.Base(path), err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", filepath.Base(path), err)
	}
	return info.Size(), nil
}
