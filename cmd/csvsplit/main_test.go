package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/csvsplit/internal/archive"
	"github.com/JonMunkholm/csvsplit/internal/core"
)

const people = "id;name;city\n" +
	"1;Ana;Recife\n" +
	"2;Bruno;Natal\n" +
	"3;Carla;Olinda\n" +
	"4;Davi;Recife\n" +
	"5;Eva;Natal\n"

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, data, 0o600))
	return p
}

func writeZip(t *testing.T, dir, name string, files map[string]string, order ...string) string {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, n := range order {
		w, err := zw.Create(n)
		require.NoError(t, err)
		_, err = io.WriteString(w, files[n])
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return writeFile(t, dir, name, buf.Bytes())
}

func readFile(t *testing.T, p string) string {
	t.Helper()
	data, err := os.ReadFile(p)
	require.NoError(t, err)
	return string(data)
}

func TestColumns(t *testing.T) {
	dir := t.TempDir()
	table := writeFile(t, dir, "people.csv", []byte(people))

	out, err := execute(t, "columns", table)
	require.NoError(t, err)
	assert.Equal(t, "id\nname\ncity\n", out)
}

func TestMembers(t *testing.T) {
	dir := t.TempDir()
	bundle := writeZip(t, dir, "bundle.zip", map[string]string{"a.csv": people, "notes.txt": "x", "b.csv": "x;y\n"}, "a.csv", "notes.txt", "b.csv")

	out, err := execute(t, "members", bundle)
	require.NoError(t, err)
	assert.Equal(t, "a.csv\t81 B\nb.csv\t4 B\n", out)

	table := writeFile(t, dir, "people.csv", []byte(people))
	_, err = execute(t, "members", table)
	assert.ErrorIs(t, err, core.ErrNotArchive)
}

func TestSplit_SingleFile(t *testing.T) {
	dir := t.TempDir()
	table := writeFile(t, dir, "people.csv", []byte(people))
	outDir := filepath.Join(dir, "out")

	out, err := execute(t, "split", table, "--columns", "city,id", "--name", "cidades", "--out", outDir)
	require.NoError(t, err)
	assert.Contains(t, out, filepath.Join(outDir, "cidades.csv"))
	assert.Contains(t, out, "5 rows")
	assert.Equal(t, "city,id\nRecife,1\nNatal,2\nOlinda,3\nRecife,4\nNatal,5\n", readFile(t, filepath.Join(outDir, "cidades.csv")))
}

func TestSplit_AllColumnsByDefault(t *testing.T) {
	dir := t.TempDir()
	table := writeFile(t, dir, "people.csv", []byte(people))

	_, err := execute(t, "split", table, "--out", dir)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(readFile(t, filepath.Join(dir, "saida.csv")), "id,name,city\n1,Ana,Recife\n"))
}

func TestSplit_OverThreshold(t *testing.T) {
	dir := t.TempDir()
	table := writeFile(t, dir, "people.csv", []byte(people))
	outDir := filepath.Join(dir, "out")

	out, err := execute(t, "split", table, "-c", "name", "-n", "nomes", "-o", outDir, "--threshold", "1", "--rows-per-part", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "in 3 parts")

	assert.NoFileExists(t, filepath.Join(outDir, "nomes.csv"))
	assert.Equal(t, "name\nAna\nBruno\n", readFile(t, filepath.Join(outDir, "nomes_parte1.csv")))
	assert.Equal(t, "name\nCarla\nDavi\n", readFile(t, filepath.Join(outDir, "nomes_parte2.csv")))
	assert.Equal(t, "name\nEva\n", readFile(t, filepath.Join(outDir, "nomes_parte3.csv")))

	zr, err := zip.OpenReader(filepath.Join(outDir, "nomes_partes.zip"))
	require.NoError(t, err)
	defer zr.Close()
	require.Len(t, zr.File, 3)
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		assert.Equal(t, readFile(t, filepath.Join(outDir, f.Name)), string(data), f.Name)
	}
}

func TestSplit_RerunRemovesStaleParts(t *testing.T) {
	dir := t.TempDir()
	table := writeFile(t, dir, "people.csv", []byte(people))
	outDir := filepath.Join(dir, "out")
	other := writeFile(t, dir, "keep.csv", []byte("x\n"))
	require.NoError(t, os.MkdirAll(outDir, 0o755))
	keep := writeFile(t, outDir, "nomes2.csv", []byte("x\n"))

	_, err := execute(t, "split", table, "-c", "name", "-n", "nomes", "-o", outDir, "--threshold", "1", "--rows-per-part", "1")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(outDir, "nomes_parte5.csv"))

	_, err = execute(t, "split", table, "-c", "name", "-n", "nomes", "-o", outDir, "--threshold", "1", "--rows-per-part", "2")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(outDir, "nomes_parte3.csv"))
	assert.NoFileExists(t, filepath.Join(outDir, "nomes_parte4.csv"))
	assert.NoFileExists(t, filepath.Join(outDir, "nomes_parte5.csv"))

	_, err = execute(t, "split", table, "-c", "name", "-n", "nomes", "-o", outDir)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(outDir, "nomes.csv"))
	assert.NoFileExists(t, filepath.Join(outDir, "nomes_parte1.csv"))
	assert.NoFileExists(t, filepath.Join(outDir, "nomes_partes.zip"))

	assert.FileExists(t, keep)
	assert.FileExists(t, other)
}

func TestSplit_ArchiveMembers(t *testing.T) {
	dir := t.TempDir()
	bundle := writeZip(t, dir, "bundle.zip", map[string]string{"a.csv": people, "b.csv": "x;y\n1;2\n"}, "a.csv", "b.csv")

	_, err := execute(t, "split", bundle, "--out", dir)
	assert.ErrorIs(t, err, core.ErrMemberNotSelected)

	_, err = execute(t, "split", bundle, "--member", "c.csv", "--out", dir)
	assert.ErrorIs(t, err, archive.ErrMemberNotFound)

	_, err = execute(t, "split", bundle, "--member", "b.csv", "--columns", "y", "--out", dir)
	require.NoError(t, err)
	assert.Equal(t, "y\n2\n", readFile(t, filepath.Join(dir, "saida.csv")))
}

func TestSplit_Errors(t *testing.T) {
	dir := t.TempDir()
	table := writeFile(t, dir, "people.csv", []byte(people))

	_, err := execute(t, "split", table, "--columns", "age", "--out", dir)
	assert.ErrorContains(t, err, "column not found")
	assert.NoFileExists(t, filepath.Join(dir, "saida.csv"))

	_, err = execute(t, "split", table, "--threshold", "lots", "--out", dir)
	assert.ErrorContains(t, err, "--threshold")

	_, err = execute(t, "split", table, "--member", "a.csv", "--out", dir)
	assert.ErrorIs(t, err, core.ErrNotArchive)

	_, err = execute(t, "split", filepath.Join(dir, "missing.csv"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
