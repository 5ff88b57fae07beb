// Package app implements the supervisor use cases and defines ports
// (store, launcher, notifier interfaces) for the adapters to implement.
package app

import (
	"context"

	"github.com/jaakkos/takopi-smithers/internal/domain"
)

// StateStore reads and writes one worktree's key/value state database.
// Reads return domain.ErrStateUnavailable (wrapped) when the database is
// missing or locked. Implementation: internal/repository/sqlite.
type StateStore interface {
	WorkflowState(ctx context.Context, heartbeatKey string) (domain.WorkflowState, error)
	Pause(ctx context.Context) (domain.PauseState, error)
	SetPause(ctx context.Context, ps domain.PauseState) error
	Progress(ctx context.Context) (domain.Progress, error)
	SetProgress(ctx context.Context, p domain.Progress) error
	// Resume clears the pause fields and zeroes the restart counter in one write.
	Resume(ctx context.Context) error
	Close() error
}
