package fallback

import (
	"strings"
	"testing"

	"companion-core/internal/crisis"
)

func TestCrisisReply_AllSeveritiesReferenceLifeline(t *testing.T) {
	r := New()
	severities := []crisis.Severity{
		crisis.SeverityModerate,
		crisis.SeveritySelfHarm,
		crisis.SeverityHigh,
		crisis.SeverityImmediate,
	}
	for _, sev := range severities {
		reply := r.CrisisReply(sev)
		if reply == "" {
			t.Errorf("empty crisis reply for %s", sev)
		}
		if !strings.Contains(reply, "988") {
			t.Errorf("crisis reply for %s does not reference the 988 lifeline", sev)
		}
	}
}

func TestCrisisReply_ImmediateMentionsEmergencyServices(t *testing.T) {
	reply := New().CrisisReply(crisis.SeverityImmediate)
	if !strings.Contains(reply, "911") {
		t.Error("immediate crisis reply should mention 911")
	}
}

func TestCrisisReply_UnknownSeverityFallsBack(t *testing.T) {
	r := New()
	if r.CrisisReply(crisis.SeverityNone) == "" {
		t.Error("unknown severity should still produce a reply")
	}
}

func TestSupportiveReply_Deterministic(t *testing.T) {
	r := New()
	msg := "I'm so stressed about my exams"
	first := r.SupportiveReply(msg)
	for i := 0; i < 5; i++ {
		if got := r.SupportiveReply(msg); got != first {
			t.Fatal("supportive reply is not deterministic")
		}
	}
}

func TestSupportiveReply_Categories(t *testing.T) {
	r := New()
	cases := []struct {
		message  string
		category string
	}{
		{"I'm so stressed about my exams", "stress"},
		{"the deadline pressure at work is too much", "stress"},
		{"I keep having panic attacks and feel anxious", "anxiety"},
		{"I've been crying all day, so sad", "sadness"},
		{"I feel so alone, nobody calls me", "loneliness"},
		{"hello there, how does this work", "generic"},
	}
	for _, tc := range cases {
		if got := r.Category(tc.message); got != tc.category {
			t.Errorf("Category(%q) = %q, want %q", tc.message, got, tc.category)
		}
		if r.SupportiveReply(tc.message) == "" {
			t.Errorf("empty supportive reply for %q", tc.message)
		}
	}
}

func TestSupportiveReply_CaseInsensitive(t *testing.T) {
	r := New()
	if r.Category("I AM SO STRESSED") != "stress" {
		t.Error("keyword match should be case-insensitive")
	}
}
