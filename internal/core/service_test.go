package core

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/csvsplit/internal/archive"
	"github.com/JonMunkholm/csvsplit/internal/config"
	"github.com/JonMunkholm/csvsplit/internal/csvtable"
)

const people = "id;name;city\n" +
	"1;Ana;Recife\n" +
	"2;Bruno;Natal\n" +
	"3;Carla;Olinda\n" +
	"4;Davi;Recife\n" +
	"5;Eva;Natal\n"

type memHistory struct {
	mu   sync.Mutex
	runs []Run
}

func (h *memHistory) Record(_ context.Context, run Run) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.runs = append(h.runs, run)
	return nil
}

func (h *memHistory) Recent(_ context.Context, limit int) ([]Run, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if limit > len(h.runs) {
		limit = len(h.runs)
	}
	return h.runs[len(h.runs)-limit:], nil
}

func (h *memHistory) Purge(context.Context, time.Duration) (int64, error) { return 0, nil }

func (h *memHistory) all() []Run {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Run(nil), h.runs...)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Session.TempDir = t.TempDir()
	cfg.Upload.MaxWaitTime = 100 * time.Millisecond
	return cfg
}

func newTestService(t *testing.T, cfg *config.Config) (*Service, *memHistory) {
	t.Helper()
	hist := &memHistory{}
	svc, err := NewService(cfg, hist)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Shutdown(context.Background()) })
	return svc, hist
}

func zipBytes(t *testing.T, files map[string]string, order ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range order {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = io.WriteString(w, files[name])
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func readArtifact(t *testing.T, svc *Service, id, name string) string {
	t.Helper()
	f, _, err := svc.OpenArtifact(id, name)
	require.NoError(t, err)
	defer f.Close()
	body, err := io.ReadAll(f)
	require.NoError(t, err)
	return string(body)
}

func TestService_PlainTableFlow(t *testing.T) {
	svc, hist := newTestService(t, testConfig(t))
	ctx := ContextWithIPAddress(context.Background(), "203.0.113.7")

	info, err := svc.OpenSession(ctx, "people.csv", strings.NewReader(people))
	require.NoError(t, err)
	assert.Equal(t, KindTable, info.Kind)
	assert.False(t, info.NeedsMember())
	assert.Equal(t, []string{"id", "name", "city"}, info.Columns)
	assert.Equal(t, PhaseReady, info.Progress.Phase)

	res, err := svc.Process(ctx, info.ID, ProcessRequest{Columns: []string{"city", "id"}, BaseName: "cidades.csv"})
	require.NoError(t, err)
	assert.False(t, res.Split)
	assert.Equal(t, 5, res.Rows)
	assert.Equal(t, "cidades.csv", res.Download.Name)
	assert.NotEmpty(t, res.RunID)
	require.Len(t, res.Preview, 5)
	assert.Equal(t, []string{"Recife", "1"}, res.Preview[0])

	assert.Equal(t, "city,id\nRecife,1\nNatal,2\nOlinda,3\nRecife,4\nNatal,5\n",
		readArtifact(t, svc, info.ID, "cidades.csv"))

	runs := hist.all()
	require.Len(t, runs, 1)
	assert.Equal(t, "single", runs[0].Outcome)
	assert.Equal(t, "cidades", runs[0].BaseName)
	assert.Equal(t, "203.0.113.7", runs[0].ClientIP)
	assert.Equal(t, 5, runs[0].Rows)

	got, err := svc.Session(info.ID)
	require.NoError(t, err)
	assert.Equal(t, PhaseComplete, got.Progress.Phase)
	require.NotNil(t, got.Result)
}

func TestService_SplitsOverThreshold(t *testing.T) {
	cfg := testConfig(t)
	cfg.Split.ThresholdBytes = 1
	cfg.Split.RowsPerPart = 2
	svc, hist := newTestService(t, cfg)

	info, err := svc.OpenSession(context.Background(), "people.csv", strings.NewReader(people))
	require.NoError(t, err)

	res, err := svc.Process(context.Background(), info.ID, ProcessRequest{Columns: []string{"name"}})
	require.NoError(t, err)

	require.True(t, res.Split)
	assert.Equal(t, "saida_partes.zip", res.Download.Name)
	require.Len(t, res.Parts, 3)
	assert.Equal(t, []int{2, 2, 1}, []int{res.Parts[0].Rows, res.Parts[1].Rows, res.Parts[2].Rows})

	assert.Equal(t, "name\nAna\nBruno\n", readArtifact(t, svc, info.ID, "saida_parte1.csv"))
	assert.Equal(t, "name\nEva\n", readArtifact(t, svc, info.ID, "saida_parte3.csv"))

	_, _, err = svc.OpenArtifact(info.ID, "saida.csv")
	assert.ErrorIs(t, err, ErrArtifactNotFound)

	runs := hist.all()
	require.Len(t, runs, 1)
	assert.Equal(t, "split", runs[0].Outcome)
	assert.Equal(t, 3, runs[0].Parts)
}

func TestService_ArchiveWithSeveralMembersNeedsChoice(t *testing.T) {
	svc, _ := newTestService(t, testConfig(t))
	data := zipBytes(t, map[string]string{
		"a.csv":     people,
		"b.csv":     "x;y\n1;2\n",
		"notes.txt": "ignored",
	}, "a.csv", "notes.txt", "b.csv")

	info, err := svc.OpenSession(context.Background(), "bundle.zip", bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, KindArchive, info.Kind)
	assert.True(t, info.NeedsMember())
	assert.Equal(t, []archive.Member{{Name: "a.csv", Size: int64(len(people))}, {Name: "b.csv", Size: 8}}, info.Members)
	assert.Empty(t, info.Columns)
	assert.Equal(t, PhaseAwaitingMember, info.Progress.Phase)

	_, err = svc.Process(context.Background(), info.ID, ProcessRequest{Columns: []string{"x"}})
	assert.ErrorIs(t, err, ErrMemberNotSelected)

	_, err = svc.SelectMember(context.Background(), info.ID, "notes.txt")
	assert.ErrorIs(t, err, archive.ErrMemberNotFound)

	info, err = svc.SelectMember(context.Background(), info.ID, "b.csv")
	require.NoError(t, err)
	assert.Equal(t, "b.csv", info.Member)
	assert.Equal(t, []string{"x", "y"}, info.Columns)

	res, err := svc.Process(context.Background(), info.ID, ProcessRequest{Columns: []string{"y"}, BaseName: "out"})
	require.NoError(t, err)
	assert.Equal(t, "y\n2\n", readArtifact(t, svc, info.ID, res.Download.Name))
}

func TestService_ArchiveWithOneMemberIsChosen(t *testing.T) {
	svc, _ := newTestService(t, testConfig(t))
	data := zipBytes(t, map[string]string{"dir/only.csv": people}, "dir/only.csv")

	info, err := svc.OpenSession(context.Background(), "upload.bin", bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, KindArchive, info.Kind)
	assert.Equal(t, "dir/only.csv", info.Member)
	assert.Equal(t, []string{"id", "name", "city"}, info.Columns)

	_, err = svc.SelectMember(context.Background(), info.ID, "dir/only.csv")
	require.NoError(t, err)
}

func TestService_OpenSessionErrorsKeepNothing(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		body    []byte
		maxSize int64
		wantErr error
	}{
		{
			name:    "archive without table",
			file:    "x.zip",
			body:    zipBytes(t, map[string]string{"readme.txt": "hi"}, "readme.txt"),
			wantErr: archive.ErrNoTableMember,
		},
		{
			name:    "empty upload",
			file:    "x.csv",
			body:    nil,
			wantErr: csvtable.ErrEmptyFile,
		},
		{
			name:    "too large",
			file:    "x.csv",
			body:    []byte(people),
			maxSize: 10,
			wantErr: ErrFileTooLarge,
		},
		{
			name:    "malformed header rows",
			file:    "x.csv",
			body:    []byte("a;b\n1;2;3\n"),
			wantErr: csvtable.ErrInvalidCSV,
		},
		{
			name:    "corrupt zip",
			file:    "x.zip",
			body:    []byte("PK\x03\x04not really"),
			wantErr: archive.ErrInvalidArchive,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			if tt.maxSize > 0 {
				cfg.Upload.MaxFileSize = tt.maxSize
			}
			svc, _ := newTestService(t, cfg)

			_, err := svc.OpenSession(context.Background(), tt.file, bytes.NewReader(tt.body))
			require.ErrorIs(t, err, tt.wantErr)

			entries, err := os.ReadDir(cfg.Session.TempDir)
			require.NoError(t, err)
			assert.Empty(t, entries)
			assert.Equal(t, 0, svc.Status().Sessions)
		})
	}
}

func TestService_NilReader(t *testing.T) {
	svc, _ := newTestService(t, testConfig(t))
	_, err := svc.OpenSession(context.Background(), "x.csv", nil)
	assert.ErrorIs(t, err, ErrNoFile)
}

func TestService_FailedRunLeavesSessionUsable(t *testing.T) {
	svc, hist := newTestService(t, testConfig(t))
	info, err := svc.OpenSession(context.Background(), "people.csv", strings.NewReader(people))
	require.NoError(t, err)

	_, err = svc.Process(context.Background(), info.ID, ProcessRequest{Columns: []string{"id", "nope"}})
	require.ErrorIs(t, err, csvtable.ErrColumnNotFound)

	sess, err := svc.get(info.ID)
	require.NoError(t, err)
	entries, err := os.ReadDir(sess.outDir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	got, err := svc.Session(info.ID)
	require.NoError(t, err)
	assert.Equal(t, PhaseFailed, got.Progress.Phase)
	assert.NotEmpty(t, got.Progress.Error)

	_, err = svc.Process(context.Background(), info.ID, ProcessRequest{Columns: []string{"id"}})
	require.NoError(t, err)

	runs := hist.all()
	require.Len(t, runs, 2)
	assert.Equal(t, "failed", runs[0].Outcome)
	assert.Contains(t, runs[0].Error, "nope")
	assert.Equal(t, "single", runs[1].Outcome)
}

func TestService_ResubmitReplacesOutputs(t *testing.T) {
	svc, _ := newTestService(t, testConfig(t))
	info, err := svc.OpenSession(context.Background(), "people.csv", strings.NewReader(people))
	require.NoError(t, err)

	_, err = svc.Process(context.Background(), info.ID, ProcessRequest{Columns: []string{"id"}, BaseName: "first"})
	require.NoError(t, err)
	_, err = svc.Process(context.Background(), info.ID, ProcessRequest{Columns: []string{"name"}, BaseName: "second"})
	require.NoError(t, err)

	_, _, err = svc.OpenArtifact(info.ID, "first.csv")
	assert.ErrorIs(t, err, ErrArtifactNotFound)

	sess, err := svc.get(info.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"second.csv"}, dirNames(t, sess.outDir))
}

func TestService_ProcessWaitsForSlot(t *testing.T) {
	svc, _ := newTestService(t, testConfig(t))
	info, err := svc.OpenSession(context.Background(), "people.csv", strings.NewReader(people))
	require.NoError(t, err)

	require.True(t, svc.limiter.TryAcquire())
	_, err = svc.Process(context.Background(), info.ID, ProcessRequest{Columns: []string{"id"}})
	svc.limiter.Release()

	assert.ErrorIs(t, err, ErrTooManyUploads)
}

func TestService_ProgressIsPublished(t *testing.T) {
	svc, _ := newTestService(t, testConfig(t))
	info, err := svc.OpenSession(context.Background(), "people.csv", strings.NewReader(people))
	require.NoError(t, err)

	ch, unsubscribe, err := svc.SubscribeProgress(info.ID)
	require.NoError(t, err)
	defer unsubscribe()

	first := <-ch
	assert.Equal(t, PhaseReady, first.Phase)
	assert.Equal(t, info.ID, first.SessionID)

	_, err = svc.Process(context.Background(), info.ID, ProcessRequest{Columns: []string{"id"}})
	require.NoError(t, err)

	var phases []Phase
	timeout := time.After(time.Second)
	for done := false; !done; {
		select {
		case p := <-ch:
			phases = append(phases, p.Phase)
			if p.Phase == PhaseComplete {
				assert.Equal(t, 1.0, p.Fraction())
				done = true
			}
		case <-timeout:
			t.Fatalf("no completion, saw %v", phases)
		}
	}
	assert.Contains(t, phases, PhaseLoading)
	assert.Contains(t, phases, PhaseWriting)
}

func TestService_CloseSession(t *testing.T) {
	svc, _ := newTestService(t, testConfig(t))
	info, err := svc.OpenSession(context.Background(), "people.csv", strings.NewReader(people))
	require.NoError(t, err)

	ch, _, err := svc.SubscribeProgress(info.ID)
	require.NoError(t, err)
	<-ch

	sess, err := svc.get(info.ID)
	require.NoError(t, err)

	require.NoError(t, svc.CloseSession(info.ID))

	_, ok := <-ch
	assert.False(t, ok, "listener channel should be closed")

	_, err = os.Stat(sess.dir)
	assert.True(t, os.IsNotExist(err))

	_, err = svc.Session(info.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, svc.CloseSession(info.ID), ErrSessionNotFound)
}

func TestService_SubscribeRacingClose(t *testing.T) {
	svc, _ := newTestService(t, testConfig(t))
	info, err := svc.OpenSession(context.Background(), "people.csv", strings.NewReader(people))
	require.NoError(t, err)
	sess, err := svc.get(info.ID)
	require.NoError(t, err)

	// Listeners are closed before the session is marked closed, as when
	// CloseSession interleaves with a subscriber.
	sess.closeListeners()

	ch, unsubscribe := sess.subscribe()
	defer unsubscribe()

	first, ok := <-ch
	require.True(t, ok)
	assert.Equal(t, PhaseReady, first.Phase)

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "late subscriber should see a closed channel")
	case <-time.After(time.Second):
		t.Fatal("late subscriber channel was never closed")
	}
}

func TestService_ProcessDuringMemberSelectionIsBusy(t *testing.T) {
	svc, _ := newTestService(t, testConfig(t))
	data := zipBytes(t, map[string]string{
		"a.csv": people,
		"b.csv": "x;y\n1;2\n",
	}, "a.csv", "b.csv")

	ctx := context.Background()
	info, err := svc.OpenSession(ctx, "bundle.zip", bytes.NewReader(data))
	require.NoError(t, err)
	_, err = svc.SelectMember(ctx, info.ID, "a.csv")
	require.NoError(t, err)
	first, err := svc.Process(ctx, info.ID, ProcessRequest{Columns: []string{"id"}, BaseName: "first"})
	require.NoError(t, err)

	reading := make(chan struct{})
	proceed := make(chan struct{})
	svc.columnsOf = func(src Source) ([]string, error) {
		close(reading)
		<-proceed
		return svc.discover(src)
	}

	done := make(chan error, 1)
	go func() {
		_, err := svc.SelectMember(ctx, info.ID, "b.csv")
		done <- err
	}()
	<-reading

	_, err = svc.Process(ctx, info.ID, ProcessRequest{Columns: []string{"id"}, BaseName: "second"})
	assert.ErrorIs(t, err, ErrSessionBusy)
	assert.Equal(t, "id\n1\n2\n3\n4\n5\n", readArtifact(t, svc, info.ID, first.Download.Name))

	close(proceed)
	require.NoError(t, <-done)

	got, err := svc.Session(info.ID)
	require.NoError(t, err)
	assert.Equal(t, "b.csv", got.Member)
	assert.Equal(t, []string{"x", "y"}, got.Columns)
	assert.Nil(t, got.Result)

	res, err := svc.Process(ctx, info.ID, ProcessRequest{Columns: []string{"x"}, BaseName: "second"})
	require.NoError(t, err)
	assert.Equal(t, "x\n1\n", readArtifact(t, svc, info.ID, res.Download.Name))
}

func TestService_CloseDuringMemberSelection(t *testing.T) {
	svc, _ := newTestService(t, testConfig(t))
	data := zipBytes(t, map[string]string{"a.csv": people, "b.csv": "x;y\n1;2\n"}, "a.csv", "b.csv")

	ctx := context.Background()
	info, err := svc.OpenSession(ctx, "bundle.zip", bytes.NewReader(data))
	require.NoError(t, err)
	sess, err := svc.get(info.ID)
	require.NoError(t, err)

	reading := make(chan struct{})
	proceed := make(chan struct{})
	svc.columnsOf = func(src Source) ([]string, error) {
		close(reading)
		<-proceed
		return svc.discover(src)
	}

	done := make(chan error, 1)
	go func() {
		_, err := svc.SelectMember(ctx, info.ID, "b.csv")
		done <- err
	}()
	<-reading

	require.NoError(t, svc.CloseSession(info.ID))
	close(proceed)
	assert.ErrorIs(t, <-done, ErrSessionNotFound)

	_, err = os.Stat(sess.dir)
	assert.True(t, os.IsNotExist(err), "session dir should be removed once selection unwinds")
}

func TestService_ShutdownRemovesEverything(t *testing.T) {
	cfg := testConfig(t)
	svc, err := NewService(cfg, nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := svc.OpenSession(context.Background(), "people.csv", strings.NewReader(people))
		require.NoError(t, err)
	}
	require.NoError(t, svc.Shutdown(context.Background()))

	entries, err := os.ReadDir(cfg.Session.TempDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Equal(t, 0, svc.Status().Sessions)
}

func TestService_FileNameIsReducedToBase(t *testing.T) {
	svc, _ := newTestService(t, testConfig(t))
	info, err := svc.OpenSession(context.Background(), `C:\Users\ana\people.csv`, strings.NewReader(people))
	require.NoError(t, err)
	assert.Equal(t, "people.csv", info.FileName)

	sess, err := svc.get(info.ID)
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(sess.dir, "upload.csv"))
	assert.NoError(t, err)
}
