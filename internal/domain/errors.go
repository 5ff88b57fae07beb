package domain

import "errors"

var (
	// ErrStateUnavailable means the state database does not exist yet or is
	// momentarily locked. Readers treat it as "no data", not as a failure.
	ErrStateUnavailable = errors.New("workflow state unavailable")

	// ErrNotRunning means no live supervisor owns the worktree.
	ErrNotRunning = errors.New("supervisor not running")

	// ErrAlreadyRunning means another live supervisor owns the worktree.
	ErrAlreadyRunning = errors.New("supervisor already running")

	// ErrNotPaused is returned when resuming a worktree that is not paused.
	ErrNotPaused = errors.New("workflow is not paused")
)
