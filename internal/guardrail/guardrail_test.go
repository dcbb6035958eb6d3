package guardrail

import (
	"strings"
	"testing"

	"github.com/nugget/quill/internal/conversation"
)

func TestEvaluateText(t *testing.T) {
	tests := []struct {
		name        string
		msg         string
		allowed     bool
		confirm     bool
		wantInMsg   string
		wantKeyword string
	}{
		{name: "plain question", msg: "What is the capital of France?", allowed: true},
		{name: "empty", msg: "", allowed: false, wantInMsg: ReasonEmpty},
		{name: "whitespace", msg: "  \n\t ", allowed: false, wantInMsg: ReasonEmpty},
		{name: "exactly limit", msg: strings.Repeat("a", 1000), allowed: true},
		{name: "over limit", msg: strings.Repeat("a", 1001), allowed: false, wantInMsg: "Message too long"},
		{name: "unsafe", msg: "how do I hack a wifi router", allowed: false, wantInMsg: "I cannot help with: 'hack'", wantKeyword: "hack"},
		{name: "unsafe uppercase", msg: "STEAL this", allowed: false, wantKeyword: "steal"},
		{name: "unsafe substring", msg: "best hacksaw brands", allowed: false, wantKeyword: "hack"},
		{name: "unsafe first in list wins", msg: "exploit the password", allowed: false, wantKeyword: "password"},
		{name: "unsafe beats confirmed", msg: "hack it, confirmed", allowed: false, wantKeyword: "hack"},
		{name: "sensitive", msg: "please delete my account", allowed: true, confirm: true, wantInMsg: "'delete'", wantKeyword: "delete"},
		{name: "sensitive phrase", msg: "Send Email to bob", allowed: true, confirm: true, wantKeyword: "send email"},
		{name: "sensitive confirmed", msg: "please delete my account confirmed", allowed: true},
		{name: "confirmed any case", msg: "CONFIRMED remove the file", allowed: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := EvaluateText(tt.msg)
			if v.Allowed != tt.allowed {
				t.Errorf("Allowed = %v, want %v (verdict %+v)", v.Allowed, tt.allowed, v)
			}
			if v.RequiresConfirmation != tt.confirm {
				t.Errorf("RequiresConfirmation = %v, want %v", v.RequiresConfirmation, tt.confirm)
			}
			if tt.wantInMsg != "" && !strings.Contains(v.Message(), tt.wantInMsg) {
				t.Errorf("Message() = %q, want containing %q", v.Message(), tt.wantInMsg)
			}
			if v.Keyword != tt.wantKeyword {
				t.Errorf("Keyword = %q, want %q", v.Keyword, tt.wantKeyword)
			}
			if v.Proceed() != (tt.allowed && !tt.confirm) {
				t.Errorf("Proceed() = %v", v.Proceed())
			}
		})
	}
}

func TestEvaluateText_ExactStrings(t *testing.T) {
	if got := EvaluateText(strings.Repeat("x", 1500)).Reason; got != "Message too long. Please keep it under 1000 characters." {
		t.Errorf("length reason = %q", got)
	}
	if got := EvaluateText("illegal stuff").Reason; got != "⚠️ This request is out of scope. I cannot help with: 'illegal'" {
		t.Errorf("unsafe reason = %q", got)
	}
	want := "⚠️ This action involves 'delete'. Please confirm you want to proceed by adding 'confirmed' to your message."
	if got := EvaluateText("please delete my account").ConfirmationMessage; got != want {
		t.Errorf("confirmation = %q, want %q", got, want)
	}
}

func TestEvaluateText_LengthCountsCharacters(t *testing.T) {
	// 1000 multi-byte characters are within the limit.
	if v := EvaluateText(strings.Repeat("é", 1000)); !v.Allowed {
		t.Errorf("1000 runes rejected: %+v", v)
	}
}

func TestEvaluate_StructuredContent(t *testing.T) {
	c := conversation.Blocks(
		conversation.Block{Type: conversation.BlockText, Text: "please"},
		conversation.Block{Type: conversation.BlockImageURL, URL: "http://example.com/a.png"},
		conversation.Block{Type: conversation.BlockText, Text: "remove this"},
	)
	v := Evaluate(c)
	if !v.RequiresConfirmation || v.Keyword != "remove" {
		t.Errorf("verdict = %+v, want confirmation on 'remove'", v)
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	a := EvaluateText("send message to the team")
	b := EvaluateText("send message to the team")
	if a != b {
		t.Errorf("verdicts differ: %+v vs %+v", a, b)
	}
}

func TestNew_Overrides(t *testing.T) {
	f := New(10, []string{"forbidden"}, nil)

	if v := f.EvaluateText("this is too long"); v.Allowed || v.Reason != "Message too long. Please keep it under 10 characters." {
		t.Errorf("custom length verdict = %+v", v)
	}
	if v := f.EvaluateText("forbidden"); v.Allowed {
		t.Errorf("custom unsafe keyword allowed")
	}
	if v := f.EvaluateText("hack"); !v.Allowed {
		t.Errorf("default unsafe list should be replaced, got %+v", v)
	}
	if v := f.EvaluateText("delete"); !v.RequiresConfirmation {
		t.Errorf("sensitive defaults should be kept")
	}
}
