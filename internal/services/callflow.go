package services

import (
	"github.com/gpresearch2025/ai-voice-agent/internal/models"
)

// Event is one inbound signaling event
type Event string

const (
	EventCallStart     Event = "call_start"
	EventTurn          Event = "turn"
	EventMenuDigit     Event = "menu_digit"
	EventVoicemailDone Event = "voicemail_done"
	EventCarrierStatus Event = "carrier_status"
)

// ActionKind is the instruction the carrier receives
type ActionKind string

const (
	ActionGreet       ActionKind = "greet"
	ActionReprompt    ActionKind = "reprompt"
	ActionReply       ActionKind = "reply"
	ActionMenu        ActionKind = "menu"
	ActionReplayMenu  ActionKind = "replay_menu"
	ActionDial        ActionKind = "dial"
	ActionRecord      ActionKind = "record"
	ActionThankYou    ActionKind = "thank_you"
	ActionNoRoute     ActionKind = "no_route"
	ActionApology     ActionKind = "apology"
	ActionAcknowledge ActionKind = "acknowledge"
)

// Facts are the inputs to a decision gathered by the orchestrator
type Facts struct {
	Open              bool // business hours, for call start
	Utterance         string
	Department        models.Department // classifier verdict, for turns
	Digits            string
	MenuRetries       int
	PendingDepartment models.Department
	SalesConfigured   bool
	SupportConfigured bool
	CarrierStatus     string
}

// Decision is the outcome of one event. Path lists the statuses to apply in
// order; an empty Path leaves the session unchanged.
type Decision struct {
	Path       []models.CallStatus
	Action     ActionKind
	Department models.Department // department to dial or pend
	Reason     string            // why an apology was chosen
}

// Next returns the status the session ends in
func (d Decision) Next(current models.CallStatus) models.CallStatus {
	if len(d.Path) == 0 {
		return current
	}
	return d.Path[len(d.Path)-1]
}

// Apology reasons
const (
	ReasonUnknownCall       = "unknown_call"
	ReasonInvalidTransition = "invalid_transition"
	ReasonCallEnded         = "call_ended"
)

// Decide is the call state machine. state is empty when no session exists.
func Decide(state models.CallStatus, ev Event, f Facts) Decision {
	if ev == EventCallStart {
		return decideCallStart(state, f)
	}
	if state == "" {
		if ev == EventCarrierStatus {
			return Decision{Action: ActionAcknowledge, Reason: ReasonUnknownCall}
		}
		return Decision{Action: ActionApology, Reason: ReasonUnknownCall}
	}

	switch ev {
	case EventTurn:
		return decideTurn(state, f)
	case EventMenuDigit:
		return decideDigit(state, f)
	case EventVoicemailDone:
		if state != models.CallStatusVoicemail {
			return rejected(state)
		}
		return Decision{Path: []models.CallStatus{models.CallStatusCompleted}, Action: ActionThankYou}
	case EventCarrierStatus:
		return decideCarrierStatus(state, f.CarrierStatus)
	}
	return Decision{Action: ActionApology, Reason: ReasonInvalidTransition}
}

func rejected(state models.CallStatus) Decision {
	if state.IsTerminal() {
		return Decision{Action: ActionApology, Reason: ReasonCallEnded}
	}
	return Decision{Action: ActionApology, Reason: ReasonInvalidTransition}
}

func decideCallStart(state models.CallStatus, f Facts) Decision {
	switch state {
	case "":
		if f.Open {
			return Decision{Path: []models.CallStatus{models.CallStatusGreeting}, Action: ActionGreet}
		}
		return Decision{Path: []models.CallStatus{models.CallStatusVoicemail}, Action: ActionRecord}
	case models.CallStatusIncoming, models.CallStatusGreeting, models.CallStatusConversing:
		return Decision{Action: ActionReprompt}
	case models.CallStatusVoicemail:
		return Decision{Action: ActionRecord}
	case models.CallStatusTransferMenu:
		return Decision{Action: ActionMenu, Department: f.PendingDepartment}
	}
	return rejected(state)
}

func decideTurn(state models.CallStatus, f Facts) Decision {
	if state != models.CallStatusGreeting && state != models.CallStatusConversing {
		return rejected(state)
	}
	if f.Utterance == "" {
		return Decision{Action: ActionReprompt}
	}

	var path []models.CallStatus
	if state == models.CallStatusGreeting {
		path = append(path, models.CallStatusConversing)
	}

	if f.Department == models.DepartmentNone {
		if len(path) == 0 {
			path = append(path, models.CallStatusConversing)
		}
		return Decision{Path: path, Action: ActionReply}
	}

	switch {
	case f.SalesConfigured && f.SupportConfigured:
		return Decision{
			Path:       append(path, models.CallStatusTransferMenu),
			Action:     ActionMenu,
			Department: f.Department,
		}
	case f.SalesConfigured || f.SupportConfigured:
		return Decision{
			Path:       append(path, models.CallStatusTransferring),
			Action:     ActionDial,
			Department: routeTo(f.Department, f),
		}
	}
	return Decision{Path: append(path, models.CallStatusCompleted), Action: ActionNoRoute}
}

// MenuDepartment maps a keypad digit to a department
func MenuDepartment(digits string) (models.Department, bool) {
	switch digits {
	case "1":
		return models.DepartmentSales, true
	case "2":
		return models.DepartmentSupport, true
	}
	return models.DepartmentNone, false
}

func decideDigit(state models.CallStatus, f Facts) Decision {
	if state != models.CallStatusTransferMenu {
		return rejected(state)
	}

	dept, valid := MenuDepartment(f.Digits)
	if !valid {
		// No digit at all is treated as the gather timing out.
		if f.Digits != "" && f.MenuRetries == 0 {
			return Decision{
				Path:       []models.CallStatus{models.CallStatusTransferMenu},
				Action:     ActionReplayMenu,
				Department: f.PendingDepartment,
			}
		}
		dept = f.PendingDepartment
		if dept == models.DepartmentNone {
			dept = models.DepartmentSales
		}
	}

	target := routeTo(dept, f)
	if target == models.DepartmentNone {
		return Decision{Path: []models.CallStatus{models.CallStatusCompleted}, Action: ActionNoRoute}
	}
	return Decision{
		Path:       []models.CallStatus{models.CallStatusTransferring},
		Action:     ActionDial,
		Department: target,
	}
}

// routeTo picks dept when it has a number, otherwise the other configured department
func routeTo(dept models.Department, f Facts) models.Department {
	configured := func(d models.Department) bool {
		switch d {
		case models.DepartmentSales:
			return f.SalesConfigured
		case models.DepartmentSupport:
			return f.SupportConfigured
		}
		return false
	}
	if dept == models.DepartmentNone {
		dept = models.DepartmentSales
	}
	if configured(dept) {
		return dept
	}
	if configured(dept.Other()) {
		return dept.Other()
	}
	return models.DepartmentNone
}

// CarrierOutcome maps a carrier call status to the terminal status it implies.
// ok is false for statuses that do not end the call.
func CarrierOutcome(carrierStatus string) (models.CallStatus, bool) {
	switch carrierStatus {
	case "completed", "busy", "no-answer", "canceled":
		return models.CallStatusCompleted, true
	case "failed":
		return models.CallStatusFailed, true
	}
	return "", false
}

func decideCarrierStatus(state models.CallStatus, carrierStatus string) Decision {
	outcome, ends := CarrierOutcome(carrierStatus)
	if !ends || state.IsTerminal() {
		return Decision{Action: ActionAcknowledge}
	}
	return Decision{Path: []models.CallStatus{outcome}, Action: ActionAcknowledge}
}
