package core

import (
	"context"
	"time"
)

// Run is the record kept for every processed submission.
type Run struct {
	ID          string        `json:"id"`
	SessionID   string        `json:"session_id"`
	FileName    string        `json:"file_name"`
	Member      string        `json:"member,omitempty"`
	BaseName    string        `json:"base_name"`
	Columns     []string      `json:"columns"`
	Rows        int           `json:"rows"`
	Parts       int           `json:"parts"`
	OutputBytes int64         `json:"output_bytes"`
	Outcome     string        `json:"outcome"`
	Error       string        `json:"error,omitempty"`
	ClientIP    string        `json:"client_ip,omitempty"`
	UserAgent   string        `json:"user_agent,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
}

// HistoryRecorder stores runs. Recording failures never fail a run.
type HistoryRecorder interface {
	Record(ctx context.Context, run Run) error
	Recent(ctx context.Context, limit int) ([]Run, error)
	Purge(ctx context.Context, olderThan time.Duration) (int64, error)
}

// NopHistory discards runs. It is used when no database is configured.
type NopHistory struct{}

func (NopHistory) Record(context.Context, Run) error                   { return nil }
func (NopHistory) Recent(context.Context, int) ([]Run, error)          { return nil, nil }
func (NopHistory) Purge(context.Context, time.Duration) (int64, error) { return 0, nil }
