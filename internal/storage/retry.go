package storage

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/gpresearch2025/ai-voice-agent/internal/logger"
	"github.com/gpresearch2025/ai-voice-agent/internal/models"
)

// DefaultRetryBackoff is the pause before the single retry of a failed write
const DefaultRetryBackoff = 250 * time.Millisecond

// RetryingStore retries transcript and status writes once with backoff.
// Domain errors (not found, duplicate, invalid transition) are returned immediately.
type RetryingStore struct {
	Store
	backoff time.Duration
}

// NewRetryingStore wraps inner. A zero backoff uses DefaultRetryBackoff.
func NewRetryingStore(inner Store, backoff time.Duration) *RetryingStore {
	if backoff <= 0 {
		backoff = DefaultRetryBackoff
	}
	return &RetryingStore{Store: inner, backoff: backoff}
}

func (r *RetryingStore) AppendTurn(ctx context.Context, callSID string, turn models.Turn) error {
	return r.do(ctx, "append_turn", callSID, func(ctx context.Context) error {
		return r.Store.AppendTurn(ctx, callSID, turn)
	})
}

func (r *RetryingStore) SetStatus(ctx context.Context, callSID string, status models.CallStatus, endedAt *time.Time) error {
	return r.do(ctx, "set_status", callSID, func(ctx context.Context) error {
		return r.Store.SetStatus(ctx, callSID, status, endedAt)
	})
}

func (r *RetryingStore) CloseSession(ctx context.Context, callSID string, status models.CallStatus, endedAt time.Time, closedBy string) error {
	return r.do(ctx, "close_session", callSID, func(ctx context.Context) error {
		return r.Store.CloseSession(ctx, callSID, status, endedAt, closedBy)
	})
}

func (r *RetryingStore) do(ctx context.Context, op, callSID string, fn func(context.Context) error) error {
	attempt := 0
	backoff := retry.WithMaxRetries(1, retry.NewConstant(r.backoff))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err == nil || IsDomainError(err) {
			return err
		}
		logger.Base().Warn("store write failed",
			zap.String("op", op),
			zap.String("call_sid", callSID),
			zap.Int("attempt", attempt),
			zap.Error(err))
		return retry.RetryableError(err)
	})
}
