// Package notify announces finished collector runs to downstream consumers.
package notify

import (
	"context"
	"time"
)

// RunSummary describes one pipeline run.
type RunSummary struct {
	RunID          string        `json:"run_id"`
	StartedAt      time.Time     `json:"started_at"`
	FinishedAt     time.Time     `json:"finished_at"`
	Sources        int           `json:"sources"`
	SourcesFailed  int           `json:"sources_failed"`
	Entries        int           `json:"entries"`
	SkippedLines   int           `json:"skipped_lines"`
	CacheHits      int           `json:"cache_hits"`
	Checked        int           `json:"checked"`
	Passed         int           `json:"passed"`
	Failed         int           `json:"failed"`
	Abandoned      int           `json:"abandoned"`
	BudgetExceeded bool          `json:"budget_exceeded"`
	Channels       int           `json:"channels"`
	Fallback       bool          `json:"fallback"`
	PlaylistPath   string        `json:"playlist_path,omitempty"`
	Elapsed        time.Duration `json:"elapsed_ns"`
	Error          string        `json:"error,omitempty"`
}

// OK reports whether the run finished without an error.
func (s RunSummary) OK() bool { return s.Error == "" }

// Notifier receives a summary after every run.
type Notifier interface {
	Notify(ctx context.Context, s RunSummary) error
	Close() error
}

// Nop discards summaries. Used when no broker is configured.
type Nop struct{}

func (Nop) Notify(context.Context, RunSummary) error { return nil }
func (Nop) Close() error                             { return nil }
