package services

import (
	"testing"

	"github.com/gpresearch2025/ai-voice-agent/internal/models"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		output     string
		caller     string
		wantDept   models.Department
		wantSource ClassificationSource
		wantReply  string
	}{
		{
			name:       "sales marker wins regardless of caller text",
			output:     "[TRANSFER_SALES] Sure, connecting you.",
			caller:     "I have a billing issue",
			wantDept:   models.DepartmentSales,
			wantSource: SourceMarker,
			wantReply:  "Sure, connecting you.",
		},
		{
			name:       "support marker after whitespace",
			output:     "  [TRANSFER_SUPPORT] Let me get you to support.",
			wantDept:   models.DepartmentSupport,
			wantSource: SourceMarker,
			wantReply:  "Let me get you to support.",
		},
		{
			name:       "marker is case-insensitive",
			output:     "[transfer_sales] One moment.",
			wantDept:   models.DepartmentSales,
			wantSource: SourceMarker,
			wantReply:  "One moment.",
		},
		{
			name:       "caller phrase with no marker",
			output:     "I'm sorry to hear that.",
			caller:     "I have a billing issue",
			wantDept:   models.DepartmentSupport,
			wantSource: SourceCallerPhrase,
			wantReply:  "I'm sorry to hear that.",
		},
		{
			name:       "nothing to route",
			output:     "Thanks for calling!",
			wantDept:   models.DepartmentNone,
			wantSource: SourceNone,
			wantReply:  "Thanks for calling!",
		},
		{
			name:       "reply phrase names sales",
			output:     "Let me connect you with our sales team.",
			wantDept:   models.DepartmentSales,
			wantSource: SourceReplyPhrase,
			wantReply:  "Let me connect you with our sales team.",
		},
		{
			name:       "reply phrase names support",
			output:     "I'll transfer you to technical support now.",
			wantDept:   models.DepartmentSupport,
			wantSource: SourceReplyPhrase,
			wantReply:  "I'll transfer you to technical support now.",
		},
		{
			name:       "generic transfer defaults to sales",
			output:     "Let me transfer you to someone who can help.",
			wantDept:   models.DepartmentSales,
			wantSource: SourceReplyPhrase,
			wantReply:  "Let me transfer you to someone who can help.",
		},
		{
			name:       "reply phrase beats caller phrase",
			output:     "Let me connect you with our sales team.",
			caller:     "my order has a problem with my account",
			wantDept:   models.DepartmentSales,
			wantSource: SourceReplyPhrase,
			wantReply:  "Let me connect you with our sales team.",
		},
		{
			name:       "both departments in caller text resolve to sales",
			output:     "Okay.",
			caller:     "I want a quote and I also have a billing problem",
			wantDept:   models.DepartmentSales,
			wantSource: SourceCallerPhrase,
			wantReply:  "Okay.",
		},
		{
			name:       "general question about pricing is not a transfer",
			output:     "Our pricing starts at ten dollars a month.",
			caller:     "how much does it cost",
			wantDept:   models.DepartmentNone,
			wantSource: SourceNone,
			wantReply:  "Our pricing starts at ten dollars a month.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.output, tt.caller)
			if got.Department != tt.wantDept {
				t.Fatalf("expected department %s, got %s", tt.wantDept, got.Department)
			}
			if got.Source != tt.wantSource {
				t.Fatalf("expected source %s, got %s", tt.wantSource, got.Source)
			}
			if got.Reply != tt.wantReply {
				t.Fatalf("expected reply %q, got %q", tt.wantReply, got.Reply)
			}
		})
	}
}

func TestClassifyMarkerOnly(t *testing.T) {
	got := Classify("[TRANSFER_SUPPORT]", "")
	if got.Department != models.DepartmentSupport || got.Reply != "" {
		t.Fatalf("expected support with empty reply, got %+v", got)
	}
}

func TestStripMarkers(t *testing.T) {
	got := StripMarkers("Sure thing. [TRANSFER_SALES]  Connecting  you.")
	if got != "Sure thing. Connecting you." {
		t.Fatalf("expected markers removed, got %q", got)
	}
}
