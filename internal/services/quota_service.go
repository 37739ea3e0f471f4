package services

import (
	"context"
	"fmt"
	"time"

	"github.com/markdave123-py/Cardify/internal/models"
	apperrors "github.com/markdave123-py/Cardify/internal/pkg/errors"
)

// QuotaStore is the slice of persistence the tracker needs.
type QuotaStore interface {
	GetQuotaState(ctx context.Context, userID string) (*models.QuotaState, error)
	ResetQuota(ctx context.Context, userID string, at time.Time) error
	IncrementQuota(ctx context.Context, userID string) error
}

type QuotaConfig struct {
	DailyLimit int
	Window     time.Duration
}

// QuotaStatus is the generation-limit view returned to clients.
type QuotaStatus struct {
	Used            int `json:"used"`
	Remaining       int `json:"remaining"`
	Limit           int `json:"limit"`
	HoursUntilReset int `json:"hours_until_reset"`
}

// QuotaTracker enforces a per-user sliding window of generations. The window is
// re-anchored at the moment a reset happens, not at calendar midnight.
type QuotaTracker struct {
	store QuotaStore
	cfg   QuotaConfig
	now   func() time.Time
}

func NewQuotaTracker(store QuotaStore, cfg QuotaConfig) *QuotaTracker {
	if cfg.DailyLimit <= 0 {
		cfg.DailyLimit = 10
	}
	if cfg.Window <= 0 {
		cfg.Window = 24 * time.Hour
	}
	return &QuotaTracker{store: store, cfg: cfg, now: time.Now}
}

// WithClock replaces the time source. Intended for tests.
func (t *QuotaTracker) WithClock(now func() time.Time) *QuotaTracker {
	t.now = now
	return t
}

// refresh lazily initialises or resets the window and returns the current state.
func (t *QuotaTracker) refresh(ctx context.Context, userID string) (*models.QuotaState, error) {
	st, err := t.store.GetQuotaState(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load quota: %w", err)
	}
	if st == nil {
		return nil, fmt.Errorf("user %s: %w", userID, apperrors.ErrNotFound)
	}

	now := t.now().UTC()
	if st.LastReset == nil || now.Sub(*st.LastReset) >= t.cfg.Window {
		if err := t.store.ResetQuota(ctx, userID, now); err != nil {
			return nil, fmt.Errorf("reset quota: %w", err)
		}
		return &models.QuotaState{Count: 0, LastReset: &now}, nil
	}
	return st, nil
}

// CanGenerate reports whether the user may start another generation and how many remain.
func (t *QuotaTracker) CanGenerate(ctx context.Context, userID string) (bool, int, error) {
	st, err := t.refresh(ctx, userID)
	if err != nil {
		return false, 0, err
	}
	return st.Count < t.cfg.DailyLimit, max(0, t.cfg.DailyLimit-st.Count), nil
}

// Increment records one successful generation.
func (t *QuotaTracker) Increment(ctx context.Context, userID string) error {
	return t.store.IncrementQuota(ctx, userID)
}

func (t *QuotaTracker) Status(ctx context.Context, userID string) (QuotaStatus, error) {
	st, err := t.refresh(ctx, userID)
	if err != nil {
		return QuotaStatus{}, err
	}
	hours := 24
	if st.LastReset != nil {
		hours = int(st.LastReset.Add(t.cfg.Window).Sub(t.now().UTC()).Hours())
	}
	return QuotaStatus{
		Used:            st.Count,
		Remaining:       max(0, t.cfg.DailyLimit-st.Count),
		Limit:           t.cfg.DailyLimit,
		HoursUntilReset: hours,
	}, nil
}
