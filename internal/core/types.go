package core

import (
	"errors"
	"time"

	"github.com/JonMunkholm/csvsplit/internal/archive"
)

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionBusy       = errors.New("session is already processing")
	ErrMemberNotSelected = errors.New("archive member not selected")
	ErrNotArchive        = errors.New("upload is not an archive")
	ErrFileTooLarge      = errors.New("file too large")
	ErrNoFile            = errors.New("no file provided")
	ErrArtifactNotFound  = errors.New("output file not found")
)

// Phase is the stage a session is in.
type Phase string

const (
	PhaseAwaitingMember Phase = "awaiting_member"
	PhaseReady          Phase = "ready"
	PhaseLoading        Phase = "loading"
	PhaseWriting        Phase = "writing"
	PhaseArchiving      Phase = "archiving"
	PhaseComplete       Phase = "complete"
	PhaseFailed         Phase = "failed"
	PhaseCancelled      Phase = "cancelled"
)

// Running reports whether a submission is being processed in this phase.
func (p Phase) Running() bool {
	return p == PhaseLoading || p == PhaseWriting || p == PhaseArchiving
}

// Progress is published to subscribers while a submission runs.
type Progress struct {
	SessionID  string `json:"session_id"`
	Phase      Phase  `json:"phase"`
	Rows       int    `json:"rows"`
	BytesRead  int64  `json:"bytes_read"`
	BytesTotal int64  `json:"bytes_total"`
	PartsDone  int    `json:"parts_done"`
	PartsTotal int    `json:"parts_total"`
	Error      string `json:"error,omitempty"`
}

// Fraction returns completed work in [0, 1]. While parts are written it is
// completed_parts / total_parts; while loading it is the share of source
// bytes consumed.
func (p Progress) Fraction() float64 {
	switch {
	case p.Phase == PhaseComplete:
		return 1
	case p.PartsTotal > 0:
		return float64(p.PartsDone) / float64(p.PartsTotal)
	case p.BytesTotal > 0:
		f := float64(p.BytesRead) / float64(p.BytesTotal)
		if f > 1 {
			f = 1
		}
		return f
	}
	return 0
}

// Percent returns Fraction as a whole percentage.
func (p Progress) Percent() int {
	return int(p.Fraction() * 100)
}

// ArtifactKind tells the single output, a part and the parts archive apart.
type ArtifactKind string

const (
	ArtifactFull    ArtifactKind = "csv"
	ArtifactPart    ArtifactKind = "part"
	ArtifactArchive ArtifactKind = "zip"
)

// Artifact is one file produced by a run.
type Artifact struct {
	Name string       `json:"name"`
	Kind ArtifactKind `json:"kind"`
	Size int64        `json:"size"`
	Rows int          `json:"rows,omitempty"`
	Path string       `json:"-"`
}

// Result describes a successful run.
type Result struct {
	RunID    string        `json:"run_id"`
	BaseName string        `json:"base_name"`
	Columns  []string      `json:"columns"`
	Rows     int           `json:"rows"`
	Split    bool          `json:"split"`
	FullSize int64         `json:"full_size"`
	Download Artifact      `json:"download"`
	Parts    []Artifact    `json:"parts,omitempty"`
	Preview  [][]string    `json:"preview"`
	Duration time.Duration `json:"duration"`
}

// Artifacts returns every downloadable file of the result.
func (r *Result) Artifacts() []Artifact {
	out := make([]Artifact, 0, len(r.Parts)+1)
	out = append(out, r.Download)
	return append(out, r.Parts...)
}

// ProcessRequest is the form a user submits for a session.
type ProcessRequest struct {
	Columns  []string `json:"columns"`
	BaseName string   `json:"base_name"`
}

// SourceKind is what was uploaded.
type SourceKind string

const (
	KindTable   SourceKind = "table"
	KindArchive SourceKind = "archive"
)

// SessionInfo is a snapshot of a session safe to hand to callers.
type SessionInfo struct {
	ID        string           `json:"id"`
	FileName  string           `json:"file_name"`
	Kind      SourceKind       `json:"kind"`
	Members   []archive.Member `json:"members,omitempty"`
	Member    string           `json:"member,omitempty"`
	Columns   []string         `json:"columns,omitempty"`
	Progress  Progress         `json:"progress"`
	Result    *Result          `json:"result,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	ExpiresAt time.Time        `json:"expires_at"`
}

// NeedsMember reports whether the user still has to choose a table from
// the archive.
func (i SessionInfo) NeedsMember() bool {
	return i.Kind == KindArchive && i.Member == ""
}
