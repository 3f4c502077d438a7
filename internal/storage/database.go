package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/gpresearch2025/ai-voice-agent/internal/models"
)

// DatabaseStore persists call sessions in PostgreSQL through GORM
type DatabaseStore struct {
	db *gorm.DB
}

// NewDatabaseStore creates a store backed by db. The connection should be opened
// with TranslateError enabled so duplicate keys surface as gorm.ErrDuplicatedKey.
func NewDatabaseStore(db *gorm.DB) *DatabaseStore {
	return &DatabaseStore{db: db}
}

// Migrate creates or updates the call tables
func (d *DatabaseStore) Migrate() error {
	return d.db.AutoMigrate(&models.CallSession{}, &models.Turn{})
}

func (d *DatabaseStore) CreateSession(ctx context.Context, session *models.CallSession) error {
	if session.Status == "" {
		session.Status = models.CallStatusIncoming
	}
	if session.StartedAt.IsZero() {
		session.StartedAt = time.Now().UTC()
	}
	for i := range session.Transcript {
		session.Transcript[i].CallSID = session.CallSID
		session.Transcript[i].Seq = i + 1
		if session.Transcript[i].ID == "" {
			session.Transcript[i].ID = uuid.NewString()
		}
	}

	err := d.db.WithContext(ctx).Create(session).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("create %s: %w", session.CallSID, ErrDuplicateSession)
	}
	if err != nil {
		return fmt.Errorf("create %s: %w", session.CallSID, err)
	}
	return nil
}

func (d *DatabaseStore) GetSession(ctx context.Context, callSID string) (*models.CallSession, error) {
	var session models.CallSession
	err := d.db.WithContext(ctx).
		Preload("Transcript", func(db *gorm.DB) *gorm.DB { return db.Order("seq ASC") }).
		First(&session, "call_sid = ?", callSID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("get %s: %w", callSID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", callSID, err)
	}
	return &session, nil
}

func (d *DatabaseStore) AppendTurn(ctx context.Context, callSID string, turn models.Turn) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := lockSession(tx, callSID); err != nil {
			return fmt.Errorf("append turn: %w", err)
		}

		var lastSeq int
		if err := tx.Model(&models.Turn{}).
			Where("call_sid = ?", callSID).
			Select("COALESCE(MAX(seq), 0)").
			Scan(&lastSeq).Error; err != nil {
			return fmt.Errorf("append turn %s: %w", callSID, err)
		}

		if turn.ID == "" {
			turn.ID = uuid.NewString()
		}
		if turn.Timestamp.IsZero() {
			turn.Timestamp = time.Now().UTC()
		}
		turn.CallSID = callSID
		turn.Seq = lastSeq + 1

		if err := tx.Create(&turn).Error; err != nil {
			return fmt.Errorf("append turn %s: %w", callSID, err)
		}
		return tx.Model(&models.CallSession{}).
			Where("call_sid = ?", callSID).
			Update("updated_at", time.Now().UTC()).Error
	})
}

func (d *DatabaseStore) SetStatus(ctx context.Context, callSID string, status models.CallStatus, endedAt *time.Time) error {
	return d.updateStatus(ctx, callSID, status, endedAt, "")
}

func (d *DatabaseStore) CloseSession(ctx context.Context, callSID string, status models.CallStatus, endedAt time.Time, closedBy string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("close %s as %s: %w", callSID, status, ErrInvalidTransition)
	}
	return d.updateStatus(ctx, callSID, status, &endedAt, closedBy)
}

func (d *DatabaseStore) updateStatus(ctx context.Context, callSID string, status models.CallStatus, endedAt *time.Time, closedBy string) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := lockSession(tx, callSID)
		if err != nil {
			return fmt.Errorf("set status: %w", err)
		}

		resolved, err := resolveTransition(current.Status, status, endedAt)
		if err != nil {
			return fmt.Errorf("set status %s %s -> %s: %w", callSID, current.Status, status, err)
		}

		updates := map[string]interface{}{
			"status":     status,
			"ended_at":   resolved,
			"updated_at": time.Now().UTC(),
		}
		if closedBy != "" {
			updates["closed_by"] = closedBy
		}
		return tx.Model(&models.CallSession{}).Where("call_sid = ?", callSID).Updates(updates).Error
	})
}

func (d *DatabaseStore) SetTransfer(ctx context.Context, callSID string, department string) error {
	return d.updateColumns(ctx, callSID, "set transfer", map[string]interface{}{
		"transferred_to": department,
	})
}

func (d *DatabaseStore) SetVoicemail(ctx context.Context, callSID string, recordingURL string, durationSeconds int) error {
	return d.updateColumns(ctx, callSID, "set voicemail", map[string]interface{}{
		"voicemail_url":      recordingURL,
		"voicemail_duration": durationSeconds,
	})
}

func (d *DatabaseStore) FlagAttention(ctx context.Context, callSID string, reason string) error {
	return d.updateColumns(ctx, callSID, "flag attention", map[string]interface{}{
		"needs_attention":  true,
		"attention_reason": reason,
	})
}

func (d *DatabaseStore) updateColumns(ctx context.Context, callSID, op string, updates map[string]interface{}) error {
	updates["updated_at"] = time.Now().UTC()
	result := d.db.WithContext(ctx).Model(&models.CallSession{}).Where("call_sid = ?", callSID).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("%s %s: %w", op, callSID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%s %s: %w", op, callSID, ErrNotFound)
	}
	return nil
}

func (d *DatabaseStore) FindActiveOlderThan(ctx context.Context, deadline time.Time) ([]*models.CallSession, error) {
	var sessions []*models.CallSession
	err := d.db.WithContext(ctx).
		Where("status IN ? AND started_at < ?", models.ActiveCallStatuses(), deadline.UTC()).
		Order("started_at ASC").
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("find stale sessions: %w", err)
	}
	return sessions, nil
}

func (d *DatabaseStore) ListSessions(ctx context.Context, filter models.SessionFilter, page models.Page) ([]*models.CallSession, error) {
	page = normalizePage(page)

	var sessions []*models.CallSession
	err := d.filtered(ctx, filter).
		Preload("Transcript", func(db *gorm.DB) *gorm.DB { return db.Order("seq ASC") }).
		Order("started_at DESC").
		Limit(page.Limit).
		Offset(page.Offset).
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

func (d *DatabaseStore) CountSessions(ctx context.Context, filter models.SessionFilter) (int64, error) {
	var count int64
	if err := d.filtered(ctx, filter).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return count, nil
}

func (d *DatabaseStore) filtered(ctx context.Context, filter models.SessionFilter) *gorm.DB {
	q := d.db.WithContext(ctx).Model(&models.CallSession{})
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Search != "" {
		q = q.Where("from_number LIKE ?", "%"+filter.Search+"%")
	}
	return q
}

// lockSession loads the session row FOR UPDATE inside tx
func lockSession(tx *gorm.DB, callSID string) (*models.CallSession, error) {
	var session models.CallSession
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&session, "call_sid = ?", callSID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%s: %w", callSID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", callSID, err)
	}
	return &session, nil
}
