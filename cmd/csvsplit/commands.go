package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/csvsplit/internal/archive"
	"github.com/JonMunkholm/csvsplit/internal/config"
	"github.com/JonMunkholm/csvsplit/internal/core"
	"github.com/JonMunkholm/csvsplit/internal/csvtable"
	"github.com/JonMunkholm/csvsplit/internal/metrics"
)

func newMembersCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "members FILE",
		Short: "List the tables inside a zip",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := core.DetectSource(args[0], args[0])
			if err != nil {
				return err
			}
			if src.Kind != core.KindArchive {
				return fmt.Errorf("%s: %w", args[0], core.ErrNotArchive)
			}
			members, err := archive.Members(args[0])
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			out := cmd.OutOrStdout()
			for _, m := range members {
				fmt.Fprintf(out, "%s\t%s\n", m.Name, humanize.IBytes(uint64(m.Size)))
			}
			return nil
		},
	}
}

func newColumnsCmd(a *app) *cobra.Command {
	var member string

	cmd := &cobra.Command{
		Use:   "columns FILE",
		Short: "Print the header of a table, one column per line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := openSource(args[0], member)
			if err != nil {
				return err
			}
			cols, err := discover(src, a.cfg.Split)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, c := range cols {
				fmt.Fprintln(out, c)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&member, "member", "m", "", "Table inside the zip (required when it holds several)")
	return cmd
}

type splitOptions struct {
	member      string
	columns     []string
	name        string
	outDir      string
	threshold   string
	rowsPerPart int
}

func newSplitCmd(a *app) *cobra.Command {
	var opts splitOptions

	cmd := &cobra.Command{
		Use:   "split FILE",
		Short: "Write the chosen columns, splitting large outputs",
		Long: `Write the chosen columns of FILE to OUT/NAME.csv. When that file is over the
threshold it is replaced by OUT/NAME_parte<N>.csv parts of --rows-per-part
rows each, bundled in OUT/NAME_partes.zip.

Without --columns every column is kept; --columns "" keeps none.

Example:
  csvsplit split vendas.zip --member 2024.csv --columns id,cidade --name vendas --out ./saida`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			split := a.cfg.Split
			if opts.threshold != "" {
				n, err := config.ParseByteSize(opts.threshold)
				if err != nil {
					return fmt.Errorf("--threshold: %w", err)
				}
				split.ThresholdBytes = n
			}
			if cmd.Flags().Changed("rows-per-part") {
				split.RowsPerPart = opts.rowsPerPart
			}
			if err := split.Validate(); err != nil {
				return err
			}
			if !cmd.Flags().Changed("columns") {
				opts.columns = nil
			}
			return runSplit(cmd, args[0], opts, split)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.member, "member", "m", "", "Table inside the zip (required when it holds several)")
	f.StringSliceVarP(&opts.columns, "columns", "c", nil, "Columns to keep, in output order (default all)")
	f.StringVarP(&opts.name, "name", "n", "", "Output base name (default SPLIT_DEFAULT_BASE_NAME)")
	f.StringVarP(&opts.outDir, "out", "o", ".", "Output directory")
	f.StringVar(&opts.threshold, "threshold", "", "Split outputs larger than this, e.g. 100MiB (default SPLIT_THRESHOLD_BYTES)")
	f.IntVar(&opts.rowsPerPart, "rows-per-part", 0, "Data rows per part (default SPLIT_ROWS_PER_PART)")
	return cmd
}

func runSplit(cmd *cobra.Command, path string, opts splitOptions, split config.SplitConfig) error {
	ctx := cmd.Context()
	start := time.Now()

	src, err := openSource(path, opts.member)
	if err != nil {
		return err
	}

	columns := opts.columns
	if columns == nil {
		if columns, err = discover(src, split); err != nil {
			return err
		}
	}
	base := core.SanitizeBaseName(opts.name, split.DefaultBaseName)

	if err := os.MkdirAll(opts.outDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	rc, size, err := src.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	table, err := csvtable.LoadFiltered(ctx, rc, columns, tableOptions(split, size), func(p csvtable.LoadProgress) {
		slog.Debug("loading", "rows", p.Rows, "bytes_read", p.BytesRead, "bytes_total", p.BytesTotal)
	})
	if err != nil {
		return fmt.Errorf("load %s: %w", src.Name(path), err)
	}

	if err := removeStaleOutputs(opts.outDir, base); err != nil {
		return err
	}

	out, err := core.NewPipeline(split).Emit(ctx, table, opts.outDir, base, func(done, total int) {
		slog.Debug("part written", "done", done, "total", total)
	})
	if err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	outcome := metrics.OutcomeSingle
	if out.Split {
		outcome = metrics.OutcomeSplit
	}
	slog.Info("done",
		"source", src.Name(path),
		"outcome", outcome,
		"rows", table.Len(),
		"columns", len(table.Columns),
		"parts", len(out.Parts),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	printOutput(cmd.OutOrStdout(), opts.outDir, table.Len(), out)
	return nil
}

func printOutput(w io.Writer, dir string, rows int, out *core.Output) {
	if !out.Split {
		fmt.Fprintf(w, "%s\t%s rows\t%s\n",
			filepath.Join(dir, out.Download.Name), humanize.Comma(int64(rows)), humanize.IBytes(uint64(out.Download.Size)))
		return
	}
	fmt.Fprintf(w, "%s\t%s rows in %d parts\t%s (unsplit %s)\n",
		filepath.Join(dir, out.Download.Name),
		humanize.Comma(int64(rows)),
		len(out.Parts),
		humanize.IBytes(uint64(out.Download.Size)),
		humanize.IBytes(uint64(out.FullSize)),
	)
	for _, p := range out.Parts {
		fmt.Fprintf(w, "  %s\t%s rows\t%s\n", filepath.Join(dir, p.Name), humanize.Comma(int64(p.Rows)), humanize.IBytes(uint64(p.Size)))
	}
}

// removeStaleOutputs deletes files an earlier run with the same base left in
// dir, so a run with fewer parts leaves no extra parts behind.
func removeStaleOutputs(dir, base string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read output dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !core.IsOutputName(base, e.Name()) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			return fmt.Errorf("remove stale output: %w", err)
		}
		slog.Debug("removed stale output", "file", e.Name())
	}
	return nil
}

// openSource resolves FILE and, for zips, the member to read. A zip with a
// single table needs no --member.
func openSource(path, member string) (core.Source, error) {
	if _, err := os.Stat(path); err != nil {
		return core.Source{}, err
	}
	src, err := core.DetectSource(path, path)
	if err != nil {
		return core.Source{}, err
	}
	if src.Kind != core.KindArchive {
		if member != "" {
			return core.Source{}, fmt.Errorf("--member: %s: %w", path, core.ErrNotArchive)
		}
		return src, nil
	}

	members, err := archive.Members(path)
	if err != nil {
		return core.Source{}, fmt.Errorf("%s: %w", path, err)
	}
	names := lo.Map(members, func(m archive.Member, _ int) string { return m.Name })

	switch {
	case member != "":
		if !lo.Contains(names, member) {
			return core.Source{}, fmt.Errorf("%w: %s (have %s)", archive.ErrMemberNotFound, member, strings.Join(names, ", "))
		}
		src.Member = member
	case len(names) == 1:
		src.Member = names[0]
	default:
		return core.Source{}, fmt.Errorf("%w: choose one of %s with --member", core.ErrMemberNotSelected, strings.Join(names, ", "))
	}
	return src, nil
}

func discover(src core.Source, split config.SplitConfig) ([]string, error) {
	rc, size, err := src.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	cols, err := csvtable.DiscoverColumns(rc, tableOptions(split, size))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", src.Path, err)
	}
	return cols, nil
}

func tableOptions(split config.SplitConfig, size int64) csvtable.Options {
	return csvtable.Options{
		Comma:      split.InputComma(),
		SniffRows:  split.SniffRows,
		BatchRows:  split.BatchRows,
		TotalBytes: size,
	}
}
