package storage

import (
	"context"
	"errors"
	"time"

	"github.com/gpresearch2025/ai-voice-agent/internal/models"
)

var (
	ErrNotFound          = errors.New("call session not found")
	ErrDuplicateSession  = errors.New("call session already exists")
	ErrInvalidTransition = errors.New("invalid call status transition")
)

// IsDomainError reports whether err is a state error rather than a backend failure.
// Domain errors are never retried.
func IsDomainError(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrDuplicateSession) ||
		errors.Is(err, ErrInvalidTransition)
}

// Store defines the interface for call session persistence
type Store interface {
	CreateSession(ctx context.Context, session *models.CallSession) error
	GetSession(ctx context.Context, callSID string) (*models.CallSession, error)
	AppendTurn(ctx context.Context, callSID string, turn models.Turn) error
	SetStatus(ctx context.Context, callSID string, status models.CallStatus, endedAt *time.Time) error
	CloseSession(ctx context.Context, callSID string, status models.CallStatus, endedAt time.Time, closedBy string) error
	SetTransfer(ctx context.Context, callSID string, department string) error
	SetVoicemail(ctx context.Context, callSID string, recordingURL string, durationSeconds int) error
	FlagAttention(ctx context.Context, callSID string, reason string) error
	FindActiveOlderThan(ctx context.Context, deadline time.Time) ([]*models.CallSession, error)

	// Operator API
	ListSessions(ctx context.Context, filter models.SessionFilter, page models.Page) ([]*models.CallSession, error)
	CountSessions(ctx context.Context, filter models.SessionFilter) (int64, error)
}

// resolveTransition validates from -> to and returns the ended-at value to persist.
// Terminal statuses always carry an ended-at; live ones never do.
func resolveTransition(from, to models.CallStatus, endedAt *time.Time) (*time.Time, error) {
	if !models.CanTransition(from, to) {
		return nil, ErrInvalidTransition
	}
	if !to.IsTerminal() {
		return nil, nil
	}
	if endedAt == nil {
		now := time.Now().UTC()
		return &now, nil
	}
	at := endedAt.UTC()
	return &at, nil
}

// normalizePage clamps a page to sane bounds
func normalizePage(page models.Page) models.Page {
	if page.Limit <= 0 {
		page.Limit = 50
	}
	if page.Limit > 200 {
		page.Limit = 200
	}
	if page.Offset < 0 {
		page.Offset = 0
	}
	return page
}
