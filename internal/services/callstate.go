package services

import (
	"sync"
	"time"

	"github.com/gpresearch2025/ai-voice-agent/internal/models"
)

// Message is one entry of model context
type Message struct {
	Role    models.TurnRole
	Content string
}

// LiveCallState is the in-memory state of a call in progress.
// Fields must only be touched while holding the call's lock.
type LiveCallState struct {
	CallSID           string
	History           []Message
	PendingDepartment models.Department
	Digits            string
	MenuRetries       int
	StartedAt         time.Time
	LastActivity      time.Time
}

// AddExchange appends a caller utterance and the assistant reply to history
func (l *LiveCallState) AddExchange(utterance, reply string) {
	l.History = append(l.History,
		Message{Role: models.RoleCaller, Content: utterance},
		Message{Role: models.RoleAssistant, Content: reply},
	)
}

// callLock is a refcounted mutex for one call id
type callLock struct {
	mu   sync.Mutex
	refs int
}

// CallStateManager owns live state and per-call serialization.
// The map lock is held only for lookups; handling a call holds that call's lock alone.
type CallStateManager struct {
	mu     sync.Mutex
	locks  map[string]*callLock
	states map[string]*LiveCallState
	now    func() time.Time
}

// NewCallStateManager creates an empty manager
func NewCallStateManager() *CallStateManager {
	return &CallStateManager{
		locks:  make(map[string]*callLock),
		states: make(map[string]*LiveCallState),
		now:    time.Now,
	}
}

// Lock serializes work on callSID and returns the matching unlock
func (m *CallStateManager) Lock(callSID string) (unlock func()) {
	m.mu.Lock()
	l, ok := m.locks[callSID]
	if !ok {
		l = &callLock{}
		m.locks[callSID] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Unlock()

			m.mu.Lock()
			l.refs--
			if l.refs == 0 {
				delete(m.locks, callSID)
			}
			m.mu.Unlock()
		})
	}
}

// Start creates fresh live state for callSID, replacing any existing state
func (m *CallStateManager) Start(callSID string) *LiveCallState {
	now := m.now()
	state := &LiveCallState{
		CallSID:      callSID,
		StartedAt:    now,
		LastActivity: now,
	}

	m.mu.Lock()
	m.states[callSID] = state
	m.mu.Unlock()
	return state
}

// Get returns the live state for callSID
func (m *CallStateManager) Get(callSID string) (*LiveCallState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.states[callSID]
	return state, ok
}

// Restore rebuilds live state from a persisted session, e.g. after a restart.
// Exchanges answered with the fallback reply never entered history, so they are
// left out again.
func (m *CallStateManager) Restore(session *models.CallSession) *LiveCallState {
	state := m.Start(session.CallSID)
	state.StartedAt = session.StartedAt
	for _, turn := range session.Transcript {
		if turn.Role == models.RoleAssistant && turn.Content == FallbackReply {
			if n := len(state.History); n > 0 && state.History[n-1].Role == models.RoleCaller {
				state.History = state.History[:n-1]
			}
			continue
		}
		state.History = append(state.History, Message{Role: turn.Role, Content: turn.Content})
	}
	return state
}

// End discards the live state for callSID. It reports whether state existed.
func (m *CallStateManager) End(callSID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.states[callSID]
	delete(m.states, callSID)
	return ok
}

// Count returns the number of calls with live state
func (m *CallStateManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.states)
}

// ActiveCallSIDs lists calls with live state
func (m *CallStateManager) ActiveCallSIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	sids := make([]string, 0, len(m.states))
	for sid := range m.states {
		sids = append(sids, sid)
	}
	return sids
}
