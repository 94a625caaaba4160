package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/JonMunkholm/csvsplit/internal/archive"
	"github.com/JonMunkholm/csvsplit/internal/config"
	"github.com/JonMunkholm/csvsplit/internal/csvtable"
	"github.com/JonMunkholm/csvsplit/internal/logging"
	"github.com/JonMunkholm/csvsplit/internal/metrics"
)

const (
	// recordTimeout bounds how long storing a run may delay the response.
	recordTimeout = 5 * time.Second

	// previewRows is how many filtered rows a result carries for display.
	previewRows = 5
)

// Service owns upload sessions and runs submissions through the pipeline.
type Service struct {
	cfg      *config.Config
	pipeline Pipeline
	limiter  *UploadLimiter
	history  HistoryRecorder
	tempRoot string
	now      func() time.Time

	// columnsOf reads the header of a chosen table.
	columnsOf func(Source) ([]string, error)

	mu       sync.RWMutex
	sessions map[string]*session
}

// NewService creates the service. A nil history discards runs.
func NewService(cfg *config.Config, history HistoryRecorder) (*Service, error) {
	if history == nil {
		history = NopHistory{}
	}

	root := cfg.Session.TempDir
	if root == "" {
		root = os.TempDir()
	}
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("create temp root: %w", err)
	}

	svc := &Service{
		cfg:      cfg,
		pipeline: NewPipeline(cfg.Split),
		limiter:  NewUploadLimiter(cfg.Upload.MaxConcurrent, cfg.Upload.MaxWaitTime),
		history:  history,
		tempRoot: root,
		now:      time.Now,
		sessions: make(map[string]*session),
	}
	svc.columnsOf = svc.discover
	return svc, nil
}

// ServiceStatus is reported by the status endpoint.
type ServiceStatus struct {
	Sessions int                 `json:"sessions"`
	Limiter  UploadLimiterStatus `json:"limiter"`
}

// Status returns the number of open sessions and the limiter state.
func (s *Service) Status() ServiceStatus {
	s.mu.RLock()
	n := len(s.sessions)
	s.mu.RUnlock()
	return ServiceStatus{Sessions: n, Limiter: s.limiter.Status()}
}

// RecentRuns lists the latest recorded runs, newest first.
func (s *Service) RecentRuns(ctx context.Context) ([]Run, error) {
	return s.history.Recent(ctx, s.cfg.History.RecentLimit)
}

// OpenSession stores an upload in a new session directory and inspects it.
// Archives are listed; one eligible member is chosen automatically, several
// leave the session waiting for SelectMember. Once a table is known its
// columns are discovered. On any error nothing is kept.
func (s *Service) OpenSession(ctx context.Context, fileName string, r io.Reader) (SessionInfo, error) {
	if r == nil {
		return SessionInfo{}, ErrNoFile
	}
	fileName = filepath.Base(strings.ReplaceAll(fileName, "\\", "/"))

	dir, err := os.MkdirTemp(s.tempRoot, sessionDirPrefix)
	if err != nil {
		return SessionInfo{}, fmt.Errorf("create session dir: %w", err)
	}
	kept := false
	defer func() {
		if !kept {
			os.RemoveAll(dir)
		}
	}()

	uploadPath := filepath.Join(dir, "upload"+strings.ToLower(filepath.Ext(fileName)))
	n, err := storeUpload(uploadPath, r, s.cfg.Upload.MaxFileSize)
	if err != nil {
		return SessionInfo{}, err
	}
	if n == 0 {
		return SessionInfo{}, csvtable.ErrEmptyFile
	}
	if err := ctx.Err(); err != nil {
		return SessionInfo{}, err
	}

	src, err := DetectSource(uploadPath, fileName)
	if err != nil {
		return SessionInfo{}, err
	}

	now := s.now()
	sess := &session{
		id:        uuid.NewString(),
		fileName:  fileName,
		dir:       dir,
		outDir:    filepath.Join(dir, "out"),
		createdAt: now,
		lastSeen:  now,
	}

	if src.Kind == KindArchive {
		members, err := archive.Members(uploadPath)
		if err != nil {
			return SessionInfo{}, err
		}
		sess.members = members
		if len(members) == 1 {
			src.Member = members[0].Name
		}
	}
	sess.source = src

	if src.Kind == KindArchive && src.Member == "" {
		sess.progress = Progress{SessionID: sess.id, Phase: PhaseAwaitingMember}
	} else {
		cols, err := s.columnsOf(src)
		if err != nil {
			return SessionInfo{}, fmt.Errorf("read %s: %w", src.Name(fileName), err)
		}
		sess.columns = cols
		sess.progress = Progress{SessionID: sess.id, Phase: PhaseReady}
	}

	if err := os.MkdirAll(sess.outDir, 0o700); err != nil {
		return SessionInfo{}, fmt.Errorf("create output dir: %w", err)
	}

	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	kept = true
	metrics.SessionsActive.Inc()

	logging.FromContext(ctx).Info("session opened",
		"session_id", sess.id,
		"file", fileName,
		"kind", src.Kind,
		"bytes", n,
		"members", len(sess.members),
		"columns", len(sess.columns),
	)
	return sess.info(s.cfg.Session.TTL), nil
}

// storeUpload copies r to path, failing once more than maxSize bytes arrive.
func storeUpload(path string, r io.Reader, maxSize int64) (int64, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return 0, fmt.Errorf("store upload: %w", err)
	}
	defer f.Close()

	src := r
	if maxSize > 0 {
		src = io.LimitReader(r, maxSize+1)
	}
	n, err := io.Copy(f, src)
	if err != nil {
		return n, fmt.Errorf("store upload: %w", err)
	}
	if maxSize > 0 && n > maxSize {
		return n, fmt.Errorf("%w: limit is %d bytes", ErrFileTooLarge, maxSize)
	}
	return n, f.Sync()
}

func (s *Service) tableOptions(total int64) csvtable.Options {
	return csvtable.Options{
		Comma:      s.cfg.Split.InputComma(),
		SniffRows:  s.cfg.Split.SniffRows,
		BatchRows:  s.cfg.Split.BatchRows,
		TotalBytes: total,
	}
}

func (s *Service) discover(src Source) ([]string, error) {
	rc, size, err := src.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return csvtable.DiscoverColumns(rc, s.tableOptions(size))
}

func (s *Service) get(id string) (*session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	sess.touch(s.now())
	return sess, nil
}

// Session returns a snapshot of the session.
func (s *Service) Session(id string) (SessionInfo, error) {
	sess, err := s.get(id)
	if err != nil {
		return SessionInfo{}, err
	}
	return sess.info(s.cfg.Session.TTL), nil
}

// SelectMember chooses the archive member to process and discovers its
// columns. Choosing again replaces the earlier choice and its outputs.
func (s *Service) SelectMember(ctx context.Context, id, member string) (SessionInfo, error) {
	sess, err := s.get(id)
	if err != nil {
		return SessionInfo{}, err
	}

	sess.mu.Lock()
	switch {
	case sess.closed:
		sess.mu.Unlock()
		return SessionInfo{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	case sess.cancel != nil:
		sess.mu.Unlock()
		return SessionInfo{}, ErrSessionBusy
	case sess.source.Kind != KindArchive:
		sess.mu.Unlock()
		return SessionInfo{}, ErrNotArchive
	case !lo.ContainsBy(sess.members, func(m archive.Member) bool { return m.Name == member }):
		sess.mu.Unlock()
		return SessionInfo{}, fmt.Errorf("%w: %s", archive.ErrMemberNotFound, member)
	}
	src := sess.source
	src.Member = member
	// Hold the session until the new columns and cleared outputs are in
	// place; Process reports ErrSessionBusy meanwhile.
	sess.cancel = func() {}
	sess.mu.Unlock()
	defer sess.release()

	cols, err := s.columnsOf(src)
	if err != nil {
		return SessionInfo{}, fmt.Errorf("read %s: %w", src.Name(sess.fileName), err)
	}

	sess.mu.Lock()
	if sess.closed {
		sess.mu.Unlock()
		return SessionInfo{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	sess.source = src
	sess.columns = cols
	sess.result = nil
	sess.mu.Unlock()
	if err := sess.clearOutputs(); err != nil {
		return SessionInfo{}, fmt.Errorf("clear outputs: %w", err)
	}
	sess.publish(Progress{Phase: PhaseReady})

	logging.FromContext(ctx).Info("archive member selected",
		"session_id", id,
		"member", member,
		"columns", len(cols),
	)
	return sess.info(s.cfg.Session.TTL), nil
}

// Process loads the selected columns of the session's table and writes the
// output, split into parts when it is over the size threshold. It waits for
// a processing slot first. A failed run leaves no outputs behind; the
// session stays open so the user can submit again.
func (s *Service) Process(ctx context.Context, id string, req ProcessRequest) (*Result, error) {
	sess, err := s.get(id)
	if err != nil {
		return nil, err
	}

	timeout := s.cfg.Upload.Timeout
	var runCtx context.Context
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}

	sess.mu.Lock()
	switch {
	case sess.closed:
		sess.mu.Unlock()
		cancel()
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	case sess.cancel != nil:
		sess.mu.Unlock()
		cancel()
		return nil, ErrSessionBusy
	case sess.source.Kind == KindArchive && sess.source.Member == "":
		sess.mu.Unlock()
		cancel()
		return nil, ErrMemberNotSelected
	}
	src := sess.source
	sess.cancel = cancel
	sess.result = nil
	sess.mu.Unlock()

	defer func() {
		cancel()
		sess.release()
	}()

	log := logging.WithFields(ctx, "session_id", id)

	if err := s.limiter.Acquire(runCtx); err != nil {
		log.Warn("no processing slot", "error", err)
		return nil, err
	}
	defer s.limiter.Release()

	base := SanitizeBaseName(req.BaseName, s.cfg.Split.DefaultBaseName)
	run := Run{
		ID:        uuid.NewString(),
		SessionID: id,
		FileName:  sess.fileName,
		Member:    src.Member,
		BaseName:  base,
		Columns:   req.Columns,
		ClientIP:  GetIPAddressFromContext(ctx),
		UserAgent: GetUserAgentFromContext(ctx),
		StartedAt: s.now(),
	}

	result, err := s.run(runCtx, sess, src, base, req.Columns)
	run.Duration = time.Since(run.StartedAt)

	if err != nil {
		if cerr := sess.clearOutputs(); cerr != nil {
			log.Error("clear outputs after failure", "error", cerr)
		}
		run.Outcome = metrics.OutcomeFailed
		phase := PhaseFailed
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			run.Outcome = metrics.OutcomeCancelled
			phase = PhaseCancelled
		}
		run.Error = err.Error()
		sess.publish(Progress{Phase: phase, Error: MapError(err).Message})
		metrics.ObserveRun(run.Outcome, 0, 0, run.Duration)
		s.record(ctx, run)

		log.Warn("processing failed",
			"source", src.Name(sess.fileName),
			"error", err,
			"duration_ms", run.Duration.Milliseconds(),
		)
		return nil, err
	}

	result.RunID = run.ID
	result.Duration = run.Duration
	run.Rows = result.Rows
	run.Parts = len(result.Parts)
	run.OutputBytes = result.Download.Size
	run.Outcome = metrics.OutcomeSingle
	if result.Split {
		run.Outcome = metrics.OutcomeSplit
	}

	sess.mu.Lock()
	sess.result = result
	sess.mu.Unlock()
	sess.publish(Progress{Phase: PhaseComplete, Rows: result.Rows, PartsDone: len(result.Parts), PartsTotal: len(result.Parts)})

	metrics.ObserveRun(run.Outcome, run.Rows, run.Parts, run.Duration)
	s.record(ctx, run)

	log.Info("processing complete",
		"source", src.Name(sess.fileName),
		"rows", result.Rows,
		"columns", len(result.Columns),
		"split", result.Split,
		"parts", len(result.Parts),
		"output", result.Download.Name,
		"duration_ms", run.Duration.Milliseconds(),
	)
	return result, nil
}

func (s *Service) run(ctx context.Context, sess *session, src Source, base string, columns []string) (*Result, error) {
	if err := sess.clearOutputs(); err != nil {
		return nil, fmt.Errorf("clear outputs: %w", err)
	}

	rc, size, err := src.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	sess.publish(Progress{Phase: PhaseLoading, BytesTotal: size})
	table, err := csvtable.LoadFiltered(ctx, rc, columns, s.tableOptions(size), func(p csvtable.LoadProgress) {
		sess.publish(Progress{
			Phase:      PhaseLoading,
			Rows:       p.Rows,
			BytesRead:  p.BytesRead,
			BytesTotal: p.BytesTotal,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", src.Name(sess.fileName), err)
	}

	sess.publish(Progress{Phase: PhaseWriting, Rows: table.Len()})
	out, err := s.pipeline.Emit(ctx, table, sess.outDir, base, func(done, total int) {
		phase := PhaseWriting
		if done == total {
			phase = PhaseArchiving
		}
		sess.publish(Progress{Phase: phase, Rows: table.Len(), PartsDone: done, PartsTotal: total})
	})
	if err != nil {
		return nil, fmt.Errorf("write output: %w", err)
	}

	return &Result{
		BaseName: base,
		Columns:  table.Columns,
		Rows:     table.Len(),
		Split:    out.Split,
		FullSize: out.FullSize,
		Download: out.Download,
		Parts:    out.Parts,
		Preview:  append([][]string(nil), table.Rows[:min(previewRows, table.Len())]...),
	}, nil
}

// record stores a run without letting a slow or failing store affect the
// caller.
func (s *Service) record(ctx context.Context, run Run) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := s.history.Record(ctx, run); err != nil {
		logging.FromContext(ctx).Error("record run", "run_id", run.ID, "error", err)
	}
}

// SubscribeProgress returns a channel that receives the current progress
// and every later update. The channel is closed when the session closes or
// the returned function is called.
func (s *Service) SubscribeProgress(id string) (<-chan Progress, func(), error) {
	sess, err := s.get(id)
	if err != nil {
		return nil, nil, err
	}
	ch, unsubscribe := sess.subscribe()
	return ch, unsubscribe, nil
}

// OpenArtifact opens a file produced by the session's last successful run.
func (s *Service) OpenArtifact(id, name string) (*os.File, Artifact, error) {
	sess, err := s.get(id)
	if err != nil {
		return nil, Artifact{}, err
	}

	sess.mu.Lock()
	result := sess.result
	sess.mu.Unlock()
	if result == nil {
		return nil, Artifact{}, fmt.Errorf("%w: %s", ErrArtifactNotFound, name)
	}

	a, ok := lo.Find(result.Artifacts(), func(a Artifact) bool { return a.Name == name })
	if !ok {
		return nil, Artifact{}, fmt.Errorf("%w: %s", ErrArtifactNotFound, name)
	}
	f, err := os.Open(a.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, Artifact{}, fmt.Errorf("%w: %s", ErrArtifactNotFound, name)
		}
		return nil, Artifact{}, fmt.Errorf("open %s: %w", name, err)
	}
	return f, a, nil
}

// CloseSession removes the session and its files. A running submission is
// cancelled and its directory is removed once it unwinds.
func (s *Service) CloseSession(id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	metrics.SessionsActive.Dec()

	sess.mu.Lock()
	sess.closed = true
	cancel := sess.cancel
	sess.mu.Unlock()

	sess.closeListeners()
	if cancel != nil {
		cancel()
		return nil
	}
	if err := os.RemoveAll(sess.dir); err != nil {
		return fmt.Errorf("remove session dir: %w", err)
	}
	return nil
}

// Shutdown waits for running submissions, up to ctx, then closes every
// session.
func (s *Service) Shutdown(ctx context.Context) error {
	drainErr := s.limiter.WaitForDrain(ctx)

	s.mu.RLock()
	ids := lo.Keys(s.sessions)
	s.mu.RUnlock()

	for _, id := range ids {
		if err := s.CloseSession(id); err != nil && !errors.Is(err, ErrSessionNotFound) {
			logging.FromContext(ctx).Error("close session", "session_id", id, "error", err)
		}
	}
	return drainErr
}
