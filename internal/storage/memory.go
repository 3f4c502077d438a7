package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/gpresearch2025/ai-voice-agent/internal/models"
)

// MemoryStore holds all call sessions in memory (tests and local runs)
type MemoryStore struct {
	sessions map[string]*models.CallSession
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory storage
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*models.CallSession),
	}
}

func (m *MemoryStore) CreateSession(ctx context.Context, session *models.CallSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[session.CallSID]; exists {
		return fmt.Errorf("create %s: %w", session.CallSID, ErrDuplicateSession)
	}

	now := time.Now().UTC()
	stored := cloneSession(session)
	if stored.Status == "" {
		stored.Status = models.CallStatusIncoming
	}
	if stored.StartedAt.IsZero() {
		stored.StartedAt = now
	}
	stored.CreatedAt = now
	stored.UpdatedAt = now
	for i := range stored.Transcript {
		stored.Transcript[i].CallSID = stored.CallSID
		stored.Transcript[i].Seq = i + 1
		if stored.Transcript[i].ID == "" {
			stored.Transcript[i].ID = uuid.NewString()
		}
	}

	m.sessions[stored.CallSID] = stored
	return nil
}

func (m *MemoryStore) GetSession(ctx context.Context, callSID string) (*models.CallSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[callSID]
	if !exists {
		return nil, fmt.Errorf("get %s: %w", callSID, ErrNotFound)
	}
	return cloneSession(session), nil
}

func (m *MemoryStore) AppendTurn(ctx context.Context, callSID string, turn models.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, exists := m.sessions[callSID]
	if !exists {
		return fmt.Errorf("append turn %s: %w", callSID, ErrNotFound)
	}

	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}
	turn.CallSID = callSID
	turn.Seq = len(session.Transcript) + 1

	session.Transcript = append(session.Transcript, turn)
	session.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) SetStatus(ctx context.Context, callSID string, status models.CallStatus, endedAt *time.Time) error {
	return m.updateStatus(callSID, status, endedAt, "")
}

func (m *MemoryStore) CloseSession(ctx context.Context, callSID string, status models.CallStatus, endedAt time.Time, closedBy string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("close %s as %s: %w", callSID, status, ErrInvalidTransition)
	}
	return m.updateStatus(callSID, status, &endedAt, closedBy)
}

func (m *MemoryStore) updateStatus(callSID string, status models.CallStatus, endedAt *time.Time, closedBy string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, exists := m.sessions[callSID]
	if !exists {
		return fmt.Errorf("set status %s: %w", callSID, ErrNotFound)
	}

	resolved, err := resolveTransition(session.Status, status, endedAt)
	if err != nil {
		return fmt.Errorf("set status %s %s -> %s: %w", callSID, session.Status, status, err)
	}

	session.Status = status
	session.EndedAt = resolved
	if closedBy != "" {
		session.ClosedBy = closedBy
	}
	session.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) SetTransfer(ctx context.Context, callSID string, department string) error {
	return m.mutate(callSID, "set transfer", func(s *models.CallSession) {
		s.TransferredTo = &department
	})
}

func (m *MemoryStore) SetVoicemail(ctx context.Context, callSID string, recordingURL string, durationSeconds int) error {
	return m.mutate(callSID, "set voicemail", func(s *models.CallSession) {
		s.VoicemailURL = &recordingURL
		s.VoicemailDuration = durationSeconds
	})
}

func (m *MemoryStore) FlagAttention(ctx context.Context, callSID string, reason string) error {
	return m.mutate(callSID, "flag attention", func(s *models.CallSession) {
		s.NeedsAttention = true
		s.AttentionReason = reason
	})
}

func (m *MemoryStore) mutate(callSID, op string, fn func(*models.CallSession)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, exists := m.sessions[callSID]
	if !exists {
		return fmt.Errorf("%s %s: %w", op, callSID, ErrNotFound)
	}
	fn(session)
	session.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) FindActiveOlderThan(ctx context.Context, deadline time.Time) ([]*models.CallSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stale []*models.CallSession
	for _, session := range m.sessions {
		if session.Status.IsActive() && session.StartedAt.Before(deadline) {
			stale = append(stale, cloneSession(session))
		}
	}
	sort.Slice(stale, func(i, j int) bool {
		return stale[i].StartedAt.Before(stale[j].StartedAt)
	})
	return stale, nil
}

func (m *MemoryStore) ListSessions(ctx context.Context, filter models.SessionFilter, page models.Page) ([]*models.CallSession, error) {
	page = normalizePage(page)

	m.mu.RLock()
	matched := m.filter(filter)
	m.mu.RUnlock()

	// Newest first
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].StartedAt.After(matched[j].StartedAt)
	})

	if page.Offset >= len(matched) {
		return []*models.CallSession{}, nil
	}
	end := page.Offset + page.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[page.Offset:end], nil
}

func (m *MemoryStore) CountSessions(ctx context.Context, filter models.SessionFilter) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.filter(filter))), nil
}

// filter must be called with mu held
func (m *MemoryStore) filter(filter models.SessionFilter) []*models.CallSession {
	var results []*models.CallSession
	for _, session := range m.sessions {
		if filter.Status != "" && session.Status != filter.Status {
			continue
		}
		if filter.Search != "" && !strings.Contains(session.FromNumber, filter.Search) {
			continue
		}
		results = append(results, cloneSession(session))
	}
	return results
}

func cloneSession(s *models.CallSession) *models.CallSession {
	c := *s
	if s.EndedAt != nil {
		endedAt := *s.EndedAt
		c.EndedAt = &endedAt
	}
	if s.TransferredTo != nil {
		to := *s.TransferredTo
		c.TransferredTo = &to
	}
	if s.VoicemailURL != nil {
		url := *s.VoicemailURL
		c.VoicemailURL = &url
	}
	if s.CallerInfo != nil {
		c.CallerInfo = make(datatypes.JSONMap, len(s.CallerInfo))
		for k, v := range s.CallerInfo {
			c.CallerInfo[k] = v
		}
	}
	c.Transcript = append([]models.Turn(nil), s.Transcript...)
	return &c
}
