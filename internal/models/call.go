package models

import (
	"time"

	"gorm.io/datatypes"
)

// CallStatus is the lifecycle state of a call session
type CallStatus string

const (
	CallStatusIncoming     CallStatus = "incoming"
	CallStatusGreeting     CallStatus = "greeting"
	CallStatusConversing   CallStatus = "conversing"
	CallStatusTransferMenu CallStatus = "transfer_menu"
	CallStatusTransferring CallStatus = "transferring"
	CallStatusVoicemail    CallStatus = "voicemail"
	CallStatusCompleted    CallStatus = "completed"
	CallStatusFailed       CallStatus = "failed"
)

// Who closed a session
const (
	ClosedByCarrier      = "carrier"
	ClosedByReaper       = "reaper"
	ClosedByOrchestrator = "orchestrator"
	ClosedByVoicemail    = "voicemail"
)

// AllCallStatuses lists every status in declaration order.
var AllCallStatuses = []CallStatus{
	CallStatusIncoming,
	CallStatusGreeting,
	CallStatusConversing,
	CallStatusTransferMenu,
	CallStatusTransferring,
	CallStatusVoicemail,
	CallStatusCompleted,
	CallStatusFailed,
}

// transitions is the call state machine. Terminal states have no entry.
var transitions = map[CallStatus][]CallStatus{
	CallStatusIncoming:     {CallStatusGreeting, CallStatusConversing, CallStatusVoicemail, CallStatusCompleted, CallStatusFailed},
	CallStatusGreeting:     {CallStatusConversing, CallStatusCompleted, CallStatusFailed},
	CallStatusConversing:   {CallStatusConversing, CallStatusTransferMenu, CallStatusTransferring, CallStatusVoicemail, CallStatusCompleted, CallStatusFailed},
	CallStatusTransferMenu: {CallStatusTransferMenu, CallStatusTransferring, CallStatusCompleted, CallStatusFailed},
	CallStatusTransferring: {CallStatusCompleted, CallStatusFailed},
	CallStatusVoicemail:    {CallStatusCompleted, CallStatusFailed},
}

// IsTerminal reports whether no further transitions are possible
func (s CallStatus) IsTerminal() bool {
	return s == CallStatusCompleted || s == CallStatusFailed
}

// IsActive reports whether the call is still in progress
func (s CallStatus) IsActive() bool {
	return s.Valid() && !s.IsTerminal()
}

// Valid reports whether s is a known status
func (s CallStatus) Valid() bool {
	for _, known := range AllCallStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// CanTransition reports whether the state machine allows from -> to
func CanTransition(from, to CallStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ActiveCallStatuses returns every non-terminal status
func ActiveCallStatuses() []CallStatus {
	active := make([]CallStatus, 0, len(AllCallStatuses))
	for _, s := range AllCallStatuses {
		if !s.IsTerminal() {
			active = append(active, s)
		}
	}
	return active
}

// TurnRole identifies who spoke a turn
type TurnRole string

const (
	RoleCaller    TurnRole = "caller"
	RoleAssistant TurnRole = "assistant"
)

// CallSession is the durable record of one telephone call
type CallSession struct {
	CallSID           string            `json:"call_sid" gorm:"primaryKey;size:64"`
	FromNumber        string            `json:"from_number" gorm:"size:32;index;not null"`
	ToNumber          string            `json:"to_number" gorm:"size:32;not null"`
	Status            CallStatus        `json:"status" gorm:"size:20;index;not null;default:'incoming'"`
	StartedAt         time.Time         `json:"started_at" gorm:"index;not null"`
	EndedAt           *time.Time        `json:"ended_at"`
	TransferredTo     *string           `json:"transferred_to" gorm:"size:20"`
	VoicemailURL      *string           `json:"voicemail_url" gorm:"type:text"`
	VoicemailDuration int               `json:"voicemail_duration_seconds"`
	ClosedBy          string            `json:"closed_by,omitempty" gorm:"size:20"`
	NeedsAttention    bool              `json:"needs_attention" gorm:"default:false"`
	AttentionReason   string            `json:"attention_reason,omitempty" gorm:"type:text"`
	CallerInfo        datatypes.JSONMap `json:"caller_info,omitempty" gorm:"type:jsonb"`
	Transcript        []Turn            `json:"transcript" gorm:"foreignKey:CallSID;references:CallSID;constraint:OnDelete:CASCADE"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

func (CallSession) TableName() string {
	return "call_sessions"
}

// Duration returns how long the call lasted, or zero while it is live
func (c *CallSession) Duration() time.Duration {
	if c.EndedAt == nil {
		return 0
	}
	return c.EndedAt.Sub(c.StartedAt)
}

// Turn is one utterance in a call transcript. Immutable once appended.
type Turn struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	CallSID   string    `json:"call_sid" gorm:"size:64;not null;uniqueIndex:idx_call_turn_seq"`
	Seq       int       `json:"seq" gorm:"not null;uniqueIndex:idx_call_turn_seq"`
	Role      TurnRole  `json:"role" gorm:"size:16;not null"`
	Content   string    `json:"content" gorm:"type:text"`
	Timestamp time.Time `json:"timestamp" gorm:"not null"`
}

func (Turn) TableName() string {
	return "call_turns"
}

// SessionFilter narrows ListSessions results
type SessionFilter struct {
	Status CallStatus `query:"status"`
	Search string     `query:"search"` // matched against the caller number
}

// Page is a limit/offset window
type Page struct {
	Limit  int `query:"limit"`
	Offset int `query:"offset"`
}
