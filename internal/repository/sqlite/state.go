package sqlite

import (
	"context"
	"strconv"

	"github.com/jaakkos/takopi-smithers/internal/domain"
)

// WorkflowState implements app.StateStore.
func (s *Store) WorkflowState(ctx context.Context, heartbeatKey string) (domain.WorkflowState, error) {
	if heartbeatKey == "" {
		heartbeatKey = domain.KeyHeartbeat
	}
	values, err := s.Values(ctx, domain.KeyStatus, domain.KeySummary, domain.KeyLastError, heartbeatKey)
	if err != nil {
		return domain.WorkflowState{Status: domain.StatusUnknown}, err
	}
	return domain.StateFromValues(values, heartbeatKey), nil
}

// Pause implements app.StateStore.
func (s *Store) Pause(ctx context.Context) (domain.PauseState, error) {
	values, err := s.Values(ctx, domain.KeyPaused, domain.KeyPausedAt)
	if err != nil {
		return domain.PauseState{}, err
	}
	return domain.PauseFromValues(values), nil
}

// SetPause implements app.StateStore.
func (s *Store) SetPause(ctx context.Context, ps domain.PauseState) error {
	if !ps.Paused {
		return s.apply(ctx, map[string]string{domain.KeyPaused: "false"}, []string{domain.KeyPausedAt})
	}
	kv := map[string]string{domain.KeyPaused: "true"}
	if ps.PausedAt != nil {
		kv[domain.KeyPausedAt] = domain.FormatTimestamp(*ps.PausedAt)
	}
	return s.Set(ctx, kv)
}

// Progress implements app.StateStore.
func (s *Store) Progress(ctx context.Context) (domain.Progress, error) {
	values, err := s.Values(ctx, domain.KeyRestartCount, domain.KeyAutoHealCount, domain.KeyPhase, domain.KeyChildPID)
	if err != nil {
		return domain.Progress{}, err
	}
	return domain.ProgressFromValues(values), nil
}

// SetProgress implements app.StateStore.
func (s *Store) SetProgress(ctx context.Context, p domain.Progress) error {
	return s.Set(ctx, map[string]string{
		domain.KeyRestartCount:  strconv.Itoa(p.Restarts),
		domain.KeyAutoHealCount: strconv.Itoa(p.AutoHeals),
		domain.KeyPhase:         p.Phase,
		domain.KeyChildPID:      strconv.Itoa(p.ChildPID),
	})
}

// Resume implements app.StateStore.
func (s *Store) Resume(ctx context.Context) error {
	return s.apply(ctx, map[string]string{
		domain.KeyPaused:       "false",
		domain.KeyRestartCount: "0",
	}, []string{domain.KeyPausedAt})
}
