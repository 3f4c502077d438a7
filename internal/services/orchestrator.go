package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gpresearch2025/ai-voice-agent/internal/config"
	"github.com/gpresearch2025/ai-voice-agent/internal/logger"
	"github.com/gpresearch2025/ai-voice-agent/internal/metrics"
	"github.com/gpresearch2025/ai-voice-agent/internal/models"
	"github.com/gpresearch2025/ai-voice-agent/internal/storage"
)

// RepromptText is spoken when a gather returned no speech
const RepromptText = "Sorry, I didn't catch that. Could you say that again?"

// CallStart is the call-start webhook payload
type CallStart struct {
	CallSID    string
	From       string
	To         string
	CallerInfo map[string]interface{}
}

// TurnInput is a gathered caller utterance
type TurnInput struct {
	CallSID      string
	SpeechResult string
	Confidence   float64
}

// DigitInput is a gathered keypad entry; empty Digits means the gather timed out
type DigitInput struct {
	CallSID string
	Digits  string
}

// VoicemailInput is a finished recording
type VoicemailInput struct {
	CallSID           string
	RecordingURL      string
	RecordingDuration int
}

// StatusInput is a carrier status callback
type StatusInput struct {
	CallSID    string
	CallStatus string
}

// Orchestrator handles carrier webhooks for every call. Events for one call are
// serialized by the call's lock; events for different calls run in parallel.
// Every handler returns a valid TwiML document.
type Orchestrator struct {
	store   storage.Store
	calls   *CallStateManager
	engine  *ConversationEngine
	config  *config.Provider
	metrics *metrics.Metrics
	now     func() time.Time
}

// OrchestratorOption configures an Orchestrator
type OrchestratorOption func(*Orchestrator)

// WithClock overrides the clock used for business hours and timestamps
func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// NewOrchestrator wires the call flow
func NewOrchestrator(store storage.Store, calls *CallStateManager, engine *ConversationEngine,
	provider *config.Provider, m *metrics.Metrics, opts ...OrchestratorOption) *Orchestrator {
	if m == nil {
		m = metrics.New("")
	}
	o := &Orchestrator{
		store:   store,
		calls:   calls,
		engine:  engine,
		config:  provider,
		metrics: m,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Calls exposes live call state for the reaper and the operator API
func (o *Orchestrator) Calls() *CallStateManager {
	return o.calls
}

// GreetingFor is the opening line for company
func GreetingFor(company string) string {
	if company == "" || company == "our company" {
		return GreetingText
	}
	return fmt.Sprintf("Hello! Thank you for calling %s. How can I help you today?", company)
}

// HandleIncoming handles the call-start event
func (o *Orchestrator) HandleIncoming(ctx context.Context, in CallStart) string {
	unlock := o.calls.Lock(in.CallSID)
	defer unlock()

	settings := o.config.Snapshot()
	b := TwiMLBuilder{Voice: settings.VoiceName}
	log := logger.Call(in.CallSID)

	var state models.CallStatus
	session, err := o.store.GetSession(ctx, in.CallSID)
	switch {
	case err == nil:
		state = session.Status
	case errors.Is(err, storage.ErrNotFound):
	default:
		log.Error("failed to load session on call start", zap.Error(err))
		o.metrics.SignalingErrors.WithLabelValues(string(EventCallStart), "store").Inc()
		return o.render(b.Hangup(ApologyText))
	}

	open := IsOpen(settings.Hours, o.now())
	var pending models.Department
	if live, ok := o.calls.Get(in.CallSID); ok {
		pending = live.PendingDepartment
	}
	d := Decide(state, EventCallStart, Facts{Open: open, PendingDepartment: pending})

	if state != "" {
		log.Info("replayed call start", zap.String("status", string(state)), zap.String("action", string(d.Action)))
		switch d.Action {
		case ActionReprompt:
			o.ensureLive(session)
			return o.render(b.Greeting(RepromptText))
		case ActionRecord:
			return o.render(b.Voicemail(ClosedMessage(settings)))
		case ActionMenu:
			return o.render(b.Menu("", o.menuPrompt(settings)))
		}
		return o.reject(b, EventCallStart, in.CallSID, d)
	}

	hours := "open"
	if !open {
		hours = "closed"
	}
	log.Info("call started",
		zap.String("from", in.From),
		zap.String("to", in.To),
		zap.String("hours", hours))
	o.metrics.CallsStarted.WithLabelValues(hours).Inc()

	err = o.store.CreateSession(ctx, &models.CallSession{
		CallSID:    in.CallSID,
		FromNumber: in.From,
		ToNumber:   in.To,
		Status:     models.CallStatusIncoming,
		StartedAt:  o.now().UTC(),
		CallerInfo: in.CallerInfo,
	})
	if err != nil {
		// The caller still gets a normal answer; later events for this call will
		// find no session and end politely. No live state is kept for it.
		log.Error("failed to create call session", zap.Error(err))
		o.metrics.SignalingErrors.WithLabelValues(string(EventCallStart), "store").Inc()
		if d.Action == ActionRecord {
			return o.render(b.Voicemail(ClosedMessage(settings)))
		}
		return o.render(b.Greeting(GreetingFor(settings.CompanyName)))
	}

	live := o.calls.Start(in.CallSID)
	o.metrics.LiveCalls.Set(float64(o.calls.Count()))

	if failed := o.applyPath(ctx, in.CallSID, models.CallStatusIncoming, d.Path, ""); failed != nil {
		return o.reject(b, EventCallStart, in.CallSID, *failed)
	}

	if d.Action == ActionRecord {
		return o.render(b.Voicemail(ClosedMessage(settings)))
	}

	greeting := GreetingFor(settings.CompanyName)
	live.History = append(live.History, Message{Role: models.RoleAssistant, Content: greeting})
	o.appendTurn(ctx, in.CallSID, models.RoleAssistant, greeting)
	return o.render(b.Greeting(greeting))
}

// HandleTurn handles a gathered caller utterance
func (o *Orchestrator) HandleTurn(ctx context.Context, in TurnInput) string {
	unlock := o.calls.Lock(in.CallSID)
	defer unlock()

	settings := o.config.Snapshot()
	b := TwiMLBuilder{Voice: settings.VoiceName}
	log := logger.Call(in.CallSID)

	session, failure, ok := o.loadSession(ctx, b, EventTurn, in.CallSID)
	if !ok {
		return failure
	}

	utterance := strings.TrimSpace(in.SpeechResult)
	facts := Facts{
		Utterance:         utterance,
		SalesConfigured:   settings.Sales.Configured(),
		SupportConfigured: settings.Support.Configured(),
	}
	if pre := Decide(session.Status, EventTurn, facts); pre.Action == ActionApology {
		return o.reject(b, EventTurn, in.CallSID, pre)
	} else if pre.Action == ActionReprompt {
		log.Debug("empty speech result, re-prompting")
		return o.render(b.Reply(RepromptText))
	}

	live := o.ensureLive(session)
	live.LastActivity = o.now()

	log.Info("caller said", zap.String("text", utterance), zap.Float64("confidence", in.Confidence))
	o.appendTurn(ctx, in.CallSID, models.RoleCaller, utterance)

	reply := o.engine.Respond(ctx, live, utterance)
	o.appendTurn(ctx, in.CallSID, models.RoleAssistant, reply.Text)

	facts.Department = reply.Department
	d := Decide(session.Status, EventTurn, facts)
	if failed := o.applyPath(ctx, in.CallSID, session.Status, d.Path, models.ClosedByOrchestrator); failed != nil {
		return o.reject(b, EventTurn, in.CallSID, *failed)
	}

	switch d.Action {
	case ActionReply:
		return o.render(b.Reply(reply.Text))
	case ActionMenu:
		live.PendingDepartment = d.Department
		live.MenuRetries = 0
		log.Info("offering department menu", zap.String("detected", d.Department.String()))
		return o.render(b.Menu(reply.Text, o.menuPrompt(settings)))
	case ActionDial:
		live.PendingDepartment = reply.Department
		return o.dial(ctx, b, settings, in.CallSID, d.Department, reply.Text, string(reply.Source))
	case ActionNoRoute:
		return o.noRoute(b, in.CallSID, reply.Text)
	}
	return o.reject(b, EventTurn, in.CallSID, d)
}

// HandleDigits handles the department menu result
func (o *Orchestrator) HandleDigits(ctx context.Context, in DigitInput) string {
	unlock := o.calls.Lock(in.CallSID)
	defer unlock()

	settings := o.config.Snapshot()
	b := TwiMLBuilder{Voice: settings.VoiceName}
	log := logger.Call(in.CallSID)

	session, failure, ok := o.loadSession(ctx, b, EventMenuDigit, in.CallSID)
	if !ok {
		return failure
	}

	live := o.ensureLive(session)
	live.LastActivity = o.now()
	live.Digits = in.Digits

	d := Decide(session.Status, EventMenuDigit, Facts{
		Digits:            in.Digits,
		MenuRetries:       live.MenuRetries,
		PendingDepartment: live.PendingDepartment,
		SalesConfigured:   settings.Sales.Configured(),
		SupportConfigured: settings.Support.Configured(),
	})
	if d.Action == ActionApology {
		return o.reject(b, EventMenuDigit, in.CallSID, d)
	}
	if failed := o.applyPath(ctx, in.CallSID, session.Status, d.Path, models.ClosedByOrchestrator); failed != nil {
		return o.reject(b, EventMenuDigit, in.CallSID, *failed)
	}

	switch d.Action {
	case ActionReplayMenu:
		live.MenuRetries++
		log.Info("invalid menu option, replaying", zap.String("digits", in.Digits))
		return o.render(b.Menu(InvalidOptionText, o.menuPrompt(settings)))
	case ActionDial:
		via := "menu"
		if _, valid := MenuDepartment(in.Digits); !valid {
			via = "default"
			log.Info("menu fell back to default department",
				zap.String("digits", in.Digits),
				zap.Int("retries", live.MenuRetries),
				zap.String("department", d.Department.String()))
		}
		text := fmt.Sprintf("Connecting you to %s now. Please hold.", settings.ContactName(d.Department))
		return o.dial(ctx, b, settings, in.CallSID, d.Department, text, via)
	case ActionNoRoute:
		return o.noRoute(b, in.CallSID, "")
	}
	return o.reject(b, EventMenuDigit, in.CallSID, d)
}

// HandleVoicemail stores a finished recording and ends the call
func (o *Orchestrator) HandleVoicemail(ctx context.Context, in VoicemailInput) string {
	unlock := o.calls.Lock(in.CallSID)
	defer unlock()

	settings := o.config.Snapshot()
	b := TwiMLBuilder{Voice: settings.VoiceName}
	log := logger.Call(in.CallSID)

	session, failure, ok := o.loadSession(ctx, b, EventVoicemailDone, in.CallSID)
	if !ok {
		return failure
	}

	d := Decide(session.Status, EventVoicemailDone, Facts{})
	if d.Action != ActionThankYou {
		return o.reject(b, EventVoicemailDone, in.CallSID, d)
	}

	log.Info("voicemail received",
		zap.String("recording_url", in.RecordingURL),
		zap.Int("duration_seconds", in.RecordingDuration))
	if err := o.store.SetVoicemail(ctx, in.CallSID, in.RecordingURL, in.RecordingDuration); err != nil {
		o.persistFailed(ctx, in.CallSID, "set_voicemail", err)
	}
	if failed := o.applyPath(ctx, in.CallSID, session.Status, d.Path, models.ClosedByVoicemail); failed != nil {
		return o.reject(b, EventVoicemailDone, in.CallSID, *failed)
	}
	o.endLive(in.CallSID)
	return o.render(b.Hangup(VoicemailThanks))
}

// HandleStatus applies a carrier status callback. It always acknowledges.
func (o *Orchestrator) HandleStatus(ctx context.Context, in StatusInput) string {
	unlock := o.calls.Lock(in.CallSID)
	defer unlock()

	settings := o.config.Snapshot()
	b := TwiMLBuilder{Voice: settings.VoiceName}
	log := logger.Call(in.CallSID)

	session, err := o.store.GetSession(ctx, in.CallSID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			log.Warn("status callback for unknown call", zap.String("call_status", in.CallStatus))
		} else {
			log.Error("failed to load session for status callback", zap.Error(err))
		}
		o.metrics.SignalingErrors.WithLabelValues(string(EventCarrierStatus), errorKind(err)).Inc()
		if _, ends := CarrierOutcome(in.CallStatus); ends {
			o.endLive(in.CallSID)
		}
		return o.render(b.Empty())
	}

	d := Decide(session.Status, EventCarrierStatus, Facts{CarrierStatus: in.CallStatus})
	if len(d.Path) == 0 {
		log.Debug("status callback acknowledged",
			zap.String("call_status", in.CallStatus),
			zap.String("status", string(session.Status)))
		if session.Status.IsTerminal() {
			o.endLive(in.CallSID)
		}
		return o.render(b.Empty())
	}

	if failed := o.applyPath(ctx, in.CallSID, session.Status, d.Path, models.ClosedByCarrier); failed != nil {
		log.Error("carrier status rejected by state machine", zap.String("call_status", in.CallStatus))
	}
	log.Info("call ended",
		zap.String("call_status", in.CallStatus),
		zap.String("status", string(d.Next(session.Status))),
		zap.Duration("duration", o.now().Sub(session.StartedAt)))
	o.endLive(in.CallSID)
	return o.render(b.Empty())
}

func (o *Orchestrator) dial(ctx context.Context, b TwiMLBuilder, settings config.Settings, callSID string,
	dept models.Department, text, via string) string {
	dest := settings.Destination(dept)
	if !dest.Configured() {
		// Decide only routes to configured departments.
		logger.Call(callSID).Error("dial resolved to an unconfigured department", zap.String("department", dept.String()))
		return o.noRoute(b, callSID, "")
	}

	if err := o.store.SetTransfer(ctx, callSID, string(dept)); err != nil {
		o.persistFailed(ctx, callSID, "set_transfer", err)
	}
	o.metrics.Transfers.WithLabelValues(dept.String(), via).Inc()
	logger.Call(callSID).Info("transferring call",
		zap.String("department", dept.String()),
		zap.String("via", via),
		zap.String("number", dest.Number))
	return o.render(b.Dial(text, dest.Number))
}

func (o *Orchestrator) noRoute(b TwiMLBuilder, callSID, leadIn string) string {
	logger.Call(callSID).Warn("no transfer destination configured")
	o.endLive(callSID)
	text := NoDestinationText
	if leadIn != "" {
		text = leadIn + " " + NoDestinationText
	}
	return o.render(b.Hangup(text))
}

func (o *Orchestrator) menuPrompt(s config.Settings) string {
	return MenuPrompt(s.ContactName(models.DepartmentSales), s.ContactName(models.DepartmentSupport))
}

// loadSession fetches the session for a mid-call event. When it fails the
// returned TwiML ends the call and ok is false.
func (o *Orchestrator) loadSession(ctx context.Context, b TwiMLBuilder, ev Event, callSID string) (*models.CallSession, string, bool) {
	session, err := o.store.GetSession(ctx, callSID)
	if err == nil {
		return session, "", true
	}

	log := logger.Call(callSID)
	o.metrics.SignalingErrors.WithLabelValues(string(ev), errorKind(err)).Inc()
	if errors.Is(err, storage.ErrNotFound) {
		log.Warn("event for unknown call", zap.String("event", string(ev)))
		return nil, o.render(b.Hangup(ApologyText)), false
	}

	log.Error("failed to load session", zap.String("event", string(ev)), zap.Error(err))
	if ev == EventTurn {
		// Keep the conversation going; the next turn may find the store healthy.
		return nil, o.render(b.Reply(FallbackReply)), false
	}
	return nil, o.render(b.Hangup(ApologyText)), false
}

// ensureLive returns live state for session, rebuilding it from the transcript
// when it was lost to a restart
func (o *Orchestrator) ensureLive(session *models.CallSession) *LiveCallState {
	if live, ok := o.calls.Get(session.CallSID); ok {
		return live
	}
	live := o.calls.Restore(session)
	o.metrics.LiveCalls.Set(float64(o.calls.Count()))
	logger.Call(session.CallSID).Info("restored live call state from transcript",
		zap.Int("turns", len(session.Transcript)),
		zap.String("status", string(session.Status)))
	return live
}

func (o *Orchestrator) endLive(callSID string) {
	if o.calls.End(callSID) {
		o.metrics.LiveCalls.Set(float64(o.calls.Count()))
	}
}

// applyPath walks the session through path. Terminal statuses close the session
// as closedBy and drop live state. On a state machine violation it returns the
// apology decision to send; backend failures are flagged and do not stop the call.
func (o *Orchestrator) applyPath(ctx context.Context, callSID string, from models.CallStatus,
	path []models.CallStatus, closedBy string) *Decision {
	for _, next := range path {
		var err error
		if next.IsTerminal() {
			err = o.store.CloseSession(ctx, callSID, next, o.now().UTC(), closedBy)
		} else {
			err = o.store.SetStatus(ctx, callSID, next, nil)
		}

		if err != nil {
			if errors.Is(err, storage.ErrInvalidTransition) || errors.Is(err, storage.ErrNotFound) {
				logger.Call(callSID).Error("status change rejected",
					zap.String("from", string(from)),
					zap.String("to", string(next)),
					zap.Error(err))
				return &Decision{Action: ActionApology, Reason: ReasonInvalidTransition}
			}
			o.persistFailed(ctx, callSID, "set_status", err)
			continue
		}

		if next.IsTerminal() {
			o.metrics.RecordClosed(string(next), closedBy)
			o.endLive(callSID)
		}
		from = next
	}
	return nil
}

func (o *Orchestrator) appendTurn(ctx context.Context, callSID string, role models.TurnRole, content string) {
	err := o.store.AppendTurn(ctx, callSID, models.Turn{
		Role:      role,
		Content:   content,
		Timestamp: o.now().UTC(),
	})
	if err != nil {
		o.persistFailed(ctx, callSID, "append_turn", err)
	}
}

// persistFailed flags a session whose write failed after retries. The call continues.
func (o *Orchestrator) persistFailed(ctx context.Context, callSID, op string, err error) {
	log := logger.Call(callSID)
	log.Error("persistence failed, flagging session for attention", zap.String("op", op), zap.Error(err))
	o.metrics.AttentionFlags.WithLabelValues(op).Inc()

	reason := fmt.Sprintf("%s failed: %v", op, err)
	if ferr := o.store.FlagAttention(context.WithoutCancel(ctx), callSID, reason); ferr != nil {
		log.Error("failed to flag session", zap.Error(ferr))
	}
}

func (o *Orchestrator) reject(b TwiMLBuilder, ev Event, callSID string, d Decision) string {
	reason := d.Reason
	if reason == "" {
		reason = ReasonInvalidTransition
	}
	logger.Call(callSID).Warn("event rejected, ending call",
		zap.String("event", string(ev)),
		zap.String("reason", reason))
	o.metrics.SignalingErrors.WithLabelValues(string(ev), reason).Inc()
	return o.render(b.Hangup(ApologyText))
}

// render falls back to a static apology if a document cannot be built
func (o *Orchestrator) render(doc string, err error) string {
	if err != nil {
		logger.Base().Error("failed to render twiml", zap.Error(err))
		return StaticApology(o.config.Snapshot().VoiceName)
	}
	return doc
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return ReasonUnknownCall
	case errors.Is(err, storage.ErrInvalidTransition):
		return ReasonInvalidTransition
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	}
	return "store"
}
