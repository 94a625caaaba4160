package core

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/JonMunkholm/csvsplit/internal/archive"
)

// sessionDirPrefix marks directories owned by this service under the temp
// root so orphans from a crashed process can be found.
const sessionDirPrefix = "csvsplit-"

// listenerBuffer is the per-subscriber channel capacity. Slow subscribers
// miss intermediate updates rather than block processing.
const listenerBuffer = 16

type session struct {
	id        string
	fileName  string
	dir       string
	outDir    string
	createdAt time.Time

	mu       sync.Mutex
	source   Source
	members  []archive.Member
	columns  []string
	progress Progress
	result   *Result
	lastSeen time.Time
	cancel   context.CancelFunc // non-nil while processing
	closed   bool

	listenerMu sync.Mutex
	listeners  []chan Progress
	silenced   bool // listeners closed; guarded by listenerMu
}

func (s *session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *session) processing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// release ends the job that set cancel. A session closed while the job ran
// has its directory removed here.
func (s *session) release() {
	s.mu.Lock()
	s.cancel = nil
	closed := s.closed
	s.mu.Unlock()
	if closed {
		os.RemoveAll(s.dir)
	}
}

func (s *session) expired(now time.Time, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel == nil && now.After(s.lastSeen.Add(ttl))
}

func (s *session) info(ttl time.Duration) SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	return SessionInfo{
		ID:        s.id,
		FileName:  s.fileName,
		Kind:      s.source.Kind,
		Members:   s.members,
		Member:    s.source.Member,
		Columns:   s.columns,
		Progress:  s.progress,
		Result:    s.result,
		CreatedAt: s.createdAt,
		ExpiresAt: s.lastSeen.Add(ttl),
	}
}

// publish stores p as the current progress and fans it out.
func (s *session) publish(p Progress) {
	p.SessionID = s.id
	s.mu.Lock()
	s.progress = p
	s.mu.Unlock()
	s.notifyProgress(p)
}

func (s *session) notifyProgress(p Progress) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()

	for _, ch := range s.listeners {
		select {
		case ch <- p:
		default:
			// Listener is slow, skip this update
		}
	}
}

func (s *session) subscribe() (<-chan Progress, func()) {
	ch := make(chan Progress, listenerBuffer)

	s.mu.Lock()
	current := s.progress
	s.mu.Unlock()

	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()

	ch <- current
	if s.silenced {
		close(ch)
		return ch, func() {}
	}
	s.listeners = append(s.listeners, ch)

	unsubscribe := func() {
		s.listenerMu.Lock()
		defer s.listenerMu.Unlock()
		for i, l := range s.listeners {
			if l == ch {
				s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, unsubscribe
}

func (s *session) closeListeners() {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()

	for _, ch := range s.listeners {
		close(ch)
	}
	s.listeners = nil
	s.silenced = true
}

// clearOutputs empties the output directory.
func (s *session) clearOutputs() error {
	if err := os.RemoveAll(s.outDir); err != nil {
		return err
	}
	return os.MkdirAll(s.outDir, 0o700)
}
