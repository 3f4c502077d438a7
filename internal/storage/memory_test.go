package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gpresearch2025/ai-voice-agent/internal/models"
)

func newSession(sid string, startedAt time.Time) *models.CallSession {
	return &models.CallSession{
		CallSID:    sid,
		FromNumber: "+15557654321",
		ToNumber:   "+15550000000",
		StartedAt:  startedAt,
	}
}

func TestCreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if err := store.CreateSession(ctx, newSession("CA1", time.Now())); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := store.CreateSession(ctx, newSession("CA1", time.Now()))
	if !errors.Is(err, ErrDuplicateSession) {
		t.Fatalf("expected ErrDuplicateSession, got %v", err)
	}

	s, err := store.GetSession(ctx, "CA1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Status != models.CallStatusIncoming {
		t.Fatalf("expected incoming, got %s", s.Status)
	}

	if _, err := store.GetSession(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_ = store.CreateSession(ctx, newSession("CA1", time.Now()))
	_ = store.AppendTurn(ctx, "CA1", models.Turn{Role: models.RoleCaller, Content: "hi"})

	s, _ := store.GetSession(ctx, "CA1")
	s.Status = models.CallStatusFailed
	s.Transcript[0].Content = "changed"

	again, _ := store.GetSession(ctx, "CA1")
	if again.Status != models.CallStatusIncoming || again.Transcript[0].Content != "hi" {
		t.Fatalf("expected stored session unaffected by caller mutation, got %+v", again)
	}
}

func TestAppendTurnAssignsSequence(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_ = store.CreateSession(ctx, newSession("CA1", time.Now()))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = store.AppendTurn(ctx, "CA1", models.Turn{Role: models.RoleCaller, Content: fmt.Sprint(i)})
		}(i)
	}
	wg.Wait()

	s, _ := store.GetSession(ctx, "CA1")
	if len(s.Transcript) != 20 {
		t.Fatalf("expected 20 turns, got %d", len(s.Transcript))
	}
	seen := map[string]bool{}
	for i, turn := range s.Transcript {
		if turn.Seq != i+1 {
			t.Fatalf("expected seq %d, got %d", i+1, turn.Seq)
		}
		if turn.ID == "" || seen[turn.ID] {
			t.Fatalf("expected unique turn id, got %q", turn.ID)
		}
		seen[turn.ID] = true
		if turn.Timestamp.IsZero() {
			t.Fatal("expected timestamp to be set")
		}
	}

	if err := store.AppendTurn(ctx, "missing", models.Turn{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSetStatusEnforcesTransitions(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_ = store.CreateSession(ctx, newSession("CA1", time.Now()))

	if err := store.SetStatus(ctx, "CA1", models.CallStatusTransferring, nil); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if err := store.SetStatus(ctx, "CA1", models.CallStatusGreeting, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s, _ := store.GetSession(ctx, "CA1")
	if s.EndedAt != nil {
		t.Fatal("expected no ended-at on a live status")
	}

	if err := store.SetStatus(ctx, "CA1", models.CallStatusCompleted, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s, _ = store.GetSession(ctx, "CA1")
	if s.EndedAt == nil {
		t.Fatal("expected ended-at to default to now on a terminal status")
	}

	if err := store.SetStatus(ctx, "CA1", models.CallStatusConversing, nil); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected no transition out of completed, got %v", err)
	}
	if err := store.SetStatus(ctx, "missing", models.CallStatusGreeting, nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCloseSession(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_ = store.CreateSession(ctx, newSession("CA1", time.Now()))

	if err := store.CloseSession(ctx, "CA1", models.CallStatusConversing, time.Now(), models.ClosedByReaper); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected non-terminal close to fail, got %v", err)
	}

	ended := time.Date(2024, 6, 5, 12, 0, 0, 0, time.UTC)
	if err := store.CloseSession(ctx, "CA1", models.CallStatusFailed, ended, models.ClosedByCarrier); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s, _ := store.GetSession(ctx, "CA1")
	if s.Status != models.CallStatusFailed || s.ClosedBy != models.ClosedByCarrier || !s.EndedAt.Equal(ended) {
		t.Fatalf("unexpected closed session %+v", s)
	}
}

func TestSetTransferVoicemailAndFlag(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_ = store.CreateSession(ctx, newSession("CA1", time.Now()))

	_ = store.SetTransfer(ctx, "CA1", "sales")
	_ = store.SetVoicemail(ctx, "CA1", "https://example.com/r.mp3", 12)
	_ = store.FlagAttention(ctx, "CA1", "append_turn failed")

	s, _ := store.GetSession(ctx, "CA1")
	if s.TransferredTo == nil || *s.TransferredTo != "sales" {
		t.Fatalf("expected transfer recorded, got %v", s.TransferredTo)
	}
	if s.VoicemailURL == nil || s.VoicemailDuration != 12 {
		t.Fatalf("expected voicemail recorded, got %v %d", s.VoicemailURL, s.VoicemailDuration)
	}
	if !s.NeedsAttention || s.AttentionReason != "append_turn failed" {
		t.Fatalf("expected attention flag, got %v %q", s.NeedsAttention, s.AttentionReason)
	}

	for _, err := range []error{
		store.SetTransfer(ctx, "missing", "sales"),
		store.SetVoicemail(ctx, "missing", "", 0),
		store.FlagAttention(ctx, "missing", ""),
	} {
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	}
}

func TestFindActiveOlderThan(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Date(2024, 6, 5, 12, 0, 0, 0, time.UTC)

	_ = store.CreateSession(ctx, newSession("old", now.Add(-20*time.Minute)))
	_ = store.CreateSession(ctx, newSession("older", now.Add(-40*time.Minute)))
	_ = store.CreateSession(ctx, newSession("fresh", now.Add(-5*time.Minute)))
	_ = store.CreateSession(ctx, newSession("done", now.Add(-30*time.Minute)))
	_ = store.CloseSession(ctx, "done", models.CallStatusCompleted, now, models.ClosedByCarrier)

	stale, err := store.FindActiveOlderThan(ctx, now.Add(-15*time.Minute))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stale) != 2 || stale[0].CallSID != "older" || stale[1].CallSID != "old" {
		t.Fatalf("expected older then old, got %v", sids(stale))
	}
}

func TestListAndCountSessions(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Date(2024, 6, 5, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		s := newSession(fmt.Sprintf("CA%d", i), base.Add(time.Duration(i)*time.Minute))
		if i == 4 {
			s.FromNumber = "+14155550000"
		}
		_ = store.CreateSession(ctx, s)
	}
	_ = store.CloseSession(ctx, "CA0", models.CallStatusCompleted, base, models.ClosedByCarrier)

	page, _ := store.ListSessions(ctx, models.SessionFilter{}, models.Page{Limit: 2})
	if len(page) != 2 || page[0].CallSID != "CA4" || page[1].CallSID != "CA3" {
		t.Fatalf("expected newest first, got %v", sids(page))
	}

	page, _ = store.ListSessions(ctx, models.SessionFilter{}, models.Page{Limit: 2, Offset: 4})
	if len(page) != 1 || page[0].CallSID != "CA0" {
		t.Fatalf("expected last page with CA0, got %v", sids(page))
	}

	page, _ = store.ListSessions(ctx, models.SessionFilter{}, models.Page{Offset: 10})
	if len(page) != 0 {
		t.Fatalf("expected empty page, got %v", sids(page))
	}

	n, _ := store.CountSessions(ctx, models.SessionFilter{Status: models.CallStatusCompleted})
	if n != 1 {
		t.Fatalf("expected 1 completed, got %d", n)
	}
	n, _ = store.CountSessions(ctx, models.SessionFilter{Search: "415"})
	if n != 1 {
		t.Fatalf("expected 1 match for 415, got %d", n)
	}
}

func sids(sessions []*models.CallSession) []string {
	out := make([]string, len(sessions))
	for i, s := range sessions {
		out[i] = s.CallSID
	}
	return out
}
