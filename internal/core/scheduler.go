package core

// scheduler.go runs the periodic janitor.
//
// Each pass closes sessions idle for longer than the session TTL, removes
// session directories left under the temp root by a process that did not
// shut down cleanly, and purges run history past its retention. Failures
// are logged and the next pass tries again.

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// StartJanitor runs one pass immediately and then one every sweep
// interval until ctx is cancelled.
func (s *Service) StartJanitor(ctx context.Context) {
	interval := s.cfg.Session.SweepInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	slog.Info("janitor started",
		"interval", interval,
		"session_ttl", s.cfg.Session.TTL,
		"temp_root", s.tempRoot,
	)

	s.runJanitor(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("janitor stopped")
			return
		case <-ticker.C:
			s.runJanitor(ctx)
		}
	}
}

func (s *Service) runJanitor(ctx context.Context) {
	start := time.Now()
	now := s.now()

	expired := s.ExpireSessions(now)

	orphans, err := s.RemoveOrphans(now)
	if err != nil {
		slog.Error("remove orphaned session dirs failed", "error", err)
	}

	var purged int64
	if days := s.cfg.History.RetentionDays; days > 0 {
		purged, err = s.history.Purge(ctx, time.Duration(days)*24*time.Hour)
		if err != nil {
			slog.Error("purge run history failed", "error", err)
		}
	}

	slog.Info("janitor pass completed",
		"sessions_expired", expired,
		"orphans_removed", orphans,
		"runs_purged", purged,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// ExpireSessions closes every idle session whose TTL has passed and returns
// how many were closed. Sessions that are processing are left alone.
func (s *Service) ExpireSessions(now time.Time) int {
	ttl := s.cfg.Session.TTL
	if ttl <= 0 {
		return 0
	}

	s.mu.RLock()
	var stale []string
	for id, sess := range s.sessions {
		if sess.expired(now, ttl) {
			stale = append(stale, id)
		}
	}
	s.mu.RUnlock()

	closed := 0
	for _, id := range stale {
		if err := s.CloseSession(id); err != nil {
			slog.Warn("expire session", "session_id", id, "error", err)
			continue
		}
		closed++
	}
	return closed
}

// RemoveOrphans deletes session directories under the temp root that no
// live session owns and that have not been modified for a full TTL.
func (s *Service) RemoveOrphans(now time.Time) (int, error) {
	entries, err := os.ReadDir(s.tempRoot)
	if err != nil {
		return 0, err
	}

	s.mu.RLock()
	owned := make(map[string]bool, len(s.sessions))
	for _, sess := range s.sessions {
		owned[sess.dir] = true
	}
	s.mu.RUnlock()

	removed := 0
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), sessionDirPrefix) {
			continue
		}
		path := filepath.Join(s.tempRoot, e.Name())
		if owned[path] {
			continue
		}
		info, err := e.Info()
		if err != nil || now.Sub(info.ModTime()) < s.cfg.Session.TTL {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			slog.Warn("remove orphaned session dir", "path", path, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}
