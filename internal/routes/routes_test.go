package routes

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/gpresearch2025/ai-voice-agent/internal/config"
	"github.com/gpresearch2025/ai-voice-agent/internal/handlers"
	"github.com/gpresearch2025/ai-voice-agent/internal/metrics"
	"github.com/gpresearch2025/ai-voice-agent/internal/models"
	"github.com/gpresearch2025/ai-voice-agent/internal/services"
	"github.com/gpresearch2025/ai-voice-agent/internal/storage"
)

type cannedGenerator struct{}

func (cannedGenerator) Name() string { return "canned" }

func (cannedGenerator) Generate(ctx context.Context, req services.GenerationRequest) (string, error) {
	if strings.Contains(strings.ToLower(req.Utterance), "price") {
		return "[TRANSFER_SALES] Let me connect you with our sales team.", nil
	}
	return "Happy to help with that.", nil
}

func newTestApp(t *testing.T, environment string) (*fiber.App, *storage.MemoryStore) {
	t.Helper()

	settings := config.Settings{
		Environment:     environment,
		TwilioAuthToken: "secret",
		PublicBaseURL:   "https://voice.example.com",
		CompanyName:     "Acme",
		VoiceName:       "Polly.Joanna",
		Hours:           config.BusinessHours{Start: "09:00", End: "17:00", Timezone: "UTC"},
		Sales:           config.Destination{Number: "+15550001111", ContactName: "Dana"},
		Support:         config.Destination{Number: "+15550002222", ContactName: "Sam"},
	}

	store := storage.NewMemoryStore()
	calls := services.NewCallStateManager()
	m := metrics.New("")
	engine := services.NewConversationEngine(cannedGenerator{}, m, services.EngineConfig{CompanyName: "Acme"})
	wednesdayNoon := time.Date(2024, 6, 5, 12, 0, 0, 0, time.UTC)
	orch := services.NewOrchestrator(store, calls, engine, config.NewProvider(settings), m,
		services.WithClock(func() time.Time { return wednesdayNoon }))

	app := fiber.New()
	SetupRoutes(app, settings, Handlers{
		Voice:   handlers.NewVoiceHandler(orch, 0, settings.VoiceName),
		Calls:   handlers.NewCallsHandler(store, calls),
		Health:  handlers.NewHealthHandler("test", nil, calls),
		Metrics: m,
	})
	return app, store
}

func post(t *testing.T, app *fiber.App, path string, form url.Values) (int, string, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return do(t, app, req)
}

func get(t *testing.T, app *fiber.App, path string) (int, string) {
	t.Helper()
	status, body, _ := do(t, app, httptest.NewRequest(http.MethodGet, path, nil))
	return status, body
}

func do(t *testing.T, app *fiber.App, req *http.Request) (int, string, string) {
	t.Helper()
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request %s failed: %v", req.URL.Path, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body), resp.Header.Get("Content-Type")
}

func TestVoiceFlowOverHTTP(t *testing.T) {
	app, store := newTestApp(t, "development")

	status, body, contentType := post(t, app, "/voice/incoming", url.Values{
		"CallSid":  {"CA100"},
		"From":     {"+15557654321"},
		"To":       {"+15550000000"},
		"FromCity": {"Denver"},
	})
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if !strings.HasPrefix(contentType, "application/xml") {
		t.Fatalf("expected xml content type, got %q", contentType)
	}
	if !strings.Contains(body, "Thank you for calling Acme") || !strings.Contains(body, "/voice/respond") {
		t.Fatalf("expected greeting gather, got %s", body)
	}

	_, body, _ = post(t, app, "/voice/respond", url.Values{
		"CallSid":      {"CA100"},
		"SpeechResult": {"What is the price of the premium plan?"},
		"Confidence":   {"0.92"},
	})
	if !strings.Contains(body, "Press 1") || !strings.Contains(body, "/voice/transfer") {
		t.Fatalf("expected department menu, got %s", body)
	}
	if strings.Contains(body, "TRANSFER_SALES") {
		t.Fatalf("expected routing marker stripped from speech, got %s", body)
	}

	_, body, _ = post(t, app, "/voice/transfer", url.Values{"CallSid": {"CA100"}, "Digits": {"1"}})
	if !strings.Contains(body, "<Dial") || !strings.Contains(body, "+15550001111") {
		t.Fatalf("expected dial to sales, got %s", body)
	}

	_, body, _ = post(t, app, "/voice/status", url.Values{"CallSid": {"CA100"}, "CallStatus": {"completed"}})
	if !strings.Contains(body, "<Response") {
		t.Fatalf("expected empty TwiML, got %s", body)
	}

	s, err := store.GetSession(context.Background(), "CA100")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if s.Status != models.CallStatusCompleted {
		t.Fatalf("expected completed, got %s", s.Status)
	}
	if s.TransferredTo == nil || *s.TransferredTo != "sales" {
		t.Fatalf("expected transfer to sales, got %v", s.TransferredTo)
	}
}

func TestVoiceMenuOverHTTP(t *testing.T) {
	app, _ := newTestApp(t, "development")
	post(t, app, "/voice/incoming", url.Values{"CallSid": {"CA200"}, "From": {"+15557654321"}})

	_, body, _ := post(t, app, "/voice/respond", url.Values{
		"CallSid":      {"CA200"},
		"SpeechResult": {"Do you have a price list?"},
	})
	if !strings.Contains(body, "Press 2") {
		t.Fatalf("expected transfer menu, got %s", body)
	}

	_, body, _ = post(t, app, "/voice/transfer", url.Values{"CallSid": {"CA200"}, "Digits": {"2"}})
	if !strings.Contains(body, "+15550002222") {
		t.Fatalf("expected dial to support, got %s", body)
	}
}

func TestVoiceConversationTurn(t *testing.T) {
	app, _ := newTestApp(t, "development")
	post(t, app, "/voice/incoming", url.Values{"CallSid": {"CA250"}})

	_, body, _ := post(t, app, "/voice/respond", url.Values{"CallSid": {"CA250"}, "SpeechResult": {"What are your hours?"}})
	if !strings.Contains(body, "Happy to help with that.") || !strings.Contains(body, "/voice/respond") {
		t.Fatalf("expected reply with a new gather, got %s", body)
	}
}

func TestVoiceWebhookWithoutCallSid(t *testing.T) {
	app, _ := newTestApp(t, "development")

	for _, path := range []string{"/voice/incoming", "/voice/respond", "/voice/transfer", "/voice/voicemail"} {
		status, body, _ := post(t, app, path, url.Values{"From": {"+15557654321"}})
		if status != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, status)
		}
		if !strings.Contains(body, "<Say") || !strings.Contains(body, "<Hangup") {
			t.Fatalf("%s: expected apology TwiML, got %s", path, body)
		}
	}
}

func TestVoiceUnknownCall(t *testing.T) {
	app, _ := newTestApp(t, "development")

	status, body, _ := post(t, app, "/voice/respond", url.Values{"CallSid": {"CA404"}, "SpeechResult": {"hello"}})
	if status != http.StatusOK || !strings.Contains(body, "<Hangup") {
		t.Fatalf("expected apology and hangup, got %d %s", status, body)
	}
}

func TestVoiceRequiresSignatureOutsideDevelopment(t *testing.T) {
	app, _ := newTestApp(t, "production")

	status, _, _ := post(t, app, "/voice/incoming", url.Values{"CallSid": {"CA300"}})
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401 without signature, got %d", status)
	}

	// Operator API is not behind the webhook signature
	status, _ = get(t, app, "/health")
	if status != http.StatusOK {
		t.Fatalf("expected health 200, got %d", status)
	}
}

func TestCallsAPI(t *testing.T) {
	app, _ := newTestApp(t, "development")
	post(t, app, "/voice/incoming", url.Values{"CallSid": {"CA1"}, "From": {"+15557654321"}})
	post(t, app, "/voice/incoming", url.Values{"CallSid": {"CA2"}, "From": {"+14155550000"}})
	post(t, app, "/voice/status", url.Values{"CallSid": {"CA1"}, "CallStatus": {"completed"}})

	status, body := get(t, app, "/api/calls?limit=10")
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	var list struct {
		Calls []models.CallSession `json:"calls"`
		Total int64                `json:"total"`
	}
	if err := json.Unmarshal([]byte(body), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if list.Total != 2 || len(list.Calls) != 2 {
		t.Fatalf("expected 2 calls, got %d/%d", list.Total, len(list.Calls))
	}

	_, body = get(t, app, "/api/calls?status=completed")
	if err := json.Unmarshal([]byte(body), &list); err != nil {
		t.Fatalf("decode filtered list: %v", err)
	}
	if list.Total != 1 || list.Calls[0].CallSID != "CA1" {
		t.Fatalf("expected only CA1 completed, got %+v", list)
	}

	status, _ = get(t, app, "/api/calls?status=ringing")
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", status)
	}

	status, body = get(t, app, "/api/calls/active")
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	var active struct {
		Count int `json:"count"`
		Calls []struct {
			CallSID string `json:"call_sid"`
			Live    bool   `json:"live"`
		} `json:"calls"`
	}
	if err := json.Unmarshal([]byte(body), &active); err != nil {
		t.Fatalf("decode active: %v", err)
	}
	if active.Count != 1 || active.Calls[0].CallSID != "CA2" || !active.Calls[0].Live {
		t.Fatalf("expected CA2 live, got %+v", active)
	}

	status, body = get(t, app, "/api/calls/CA1")
	if status != http.StatusOK || !strings.Contains(body, `"duration_seconds"`) {
		t.Fatalf("expected call detail, got %d %s", status, body)
	}

	status, _ = get(t, app, "/api/calls/CA999")
	if status != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", status)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	app, _ := newTestApp(t, "development")
	post(t, app, "/voice/incoming", url.Values{"CallSid": {"CA1"}})

	status, body := get(t, app, "/health")
	if status != http.StatusOK || !strings.Contains(body, `"storage":"memory"`) {
		t.Fatalf("expected healthy memory store, got %d %s", status, body)
	}

	status, body = get(t, app, "/metrics")
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if !strings.Contains(body, "calls_started_total") {
		t.Fatalf("expected call metrics exposed, got %s", body)
	}
}
