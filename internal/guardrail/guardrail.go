// Package guardrail screens the latest user message before any model
// call. It is a pure function of its keyword lists: no I/O and no state.
//
// Keyword matching is a case-insensitive substring test, not a word
// match. "hacksaw" trips "hack". Callers and tests rely on that.
package guardrail

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/nugget/quill/internal/conversation"
)

// DefaultMaxLength is the longest accepted message, in characters.
const DefaultMaxLength = 1000

// ConfirmToken is the literal a user adds to a message to proceed with
// a sensitive action.
const ConfirmToken = "confirmed"

// Default keyword sets. Order matters: the first match is reported.
var (
	DefaultUnsafeKeywords    = []string{"hack", "illegal", "steal", "password", "exploit"}
	DefaultSensitiveKeywords = []string{"delete", "remove", "send email", "send message"}
)

// Rejection reasons.
const (
	ReasonEmpty   = "Please provide a valid message."
	ReasonTooLong = "Message too long. Please keep it under 1000 characters."
)

// Verdict is the outcome of evaluating one message.
type Verdict struct {
	Allowed              bool   `json:"allowed"`
	Reason               string `json:"reason,omitempty"`
	RequiresConfirmation bool   `json:"requires_confirmation"`
	ConfirmationMessage  string `json:"confirmation_message,omitempty"`
	// Keyword is the keyword that produced a rejection or confirmation.
	Keyword string `json:"keyword,omitempty"`
}

// Proceed reports whether the message may go on to the model.
func (v Verdict) Proceed() bool {
	return v.Allowed && !v.RequiresConfirmation
}

// Message returns the text to show the user when the message may not
// proceed, or "" when it may.
func (v Verdict) Message() string {
	switch {
	case !v.Allowed:
		return v.Reason
	case v.RequiresConfirmation:
		return v.ConfirmationMessage
	default:
		return ""
	}
}

// Filter holds the limits a message is checked against.
type Filter struct {
	MaxLength         int
	UnsafeKeywords    []string
	SensitiveKeywords []string
}

// Default returns the standard filter.
func Default() *Filter {
	return &Filter{
		MaxLength:         DefaultMaxLength,
		UnsafeKeywords:    DefaultUnsafeKeywords,
		SensitiveKeywords: DefaultSensitiveKeywords,
	}
}

// New returns a filter with overrides applied. Zero or empty arguments
// keep the defaults.
func New(maxLength int, unsafe, sensitive []string) *Filter {
	f := Default()
	if maxLength > 0 {
		f.MaxLength = maxLength
	}
	if len(unsafe) > 0 {
		f.UnsafeKeywords = unsafe
	}
	if len(sensitive) > 0 {
		f.SensitiveKeywords = sensitive
	}
	return f
}

// Evaluate checks content with the default filter.
func Evaluate(c conversation.Content) Verdict {
	return Default().Evaluate(c)
}

// EvaluateText checks plain text with the default filter.
func EvaluateText(s string) Verdict {
	return Default().EvaluateText(s)
}

// Evaluate normalizes structured content to text and checks it.
func (f *Filter) Evaluate(c conversation.Content) Verdict {
	return f.EvaluateText(c.Text())
}

// EvaluateText checks s. Rejections are tested in order: empty, too
// long, unsafe keyword. Only an otherwise allowed message is checked
// for sensitive keywords.
func (f *Filter) EvaluateText(s string) Verdict {
	if strings.TrimSpace(s) == "" {
		return Verdict{Allowed: false, Reason: ReasonEmpty}
	}

	if utf8.RuneCountInString(s) > f.MaxLength {
		return Verdict{Allowed: false, Reason: f.tooLongReason()}
	}

	lower := strings.ToLower(s)

	if kw, ok := firstMatch(lower, f.UnsafeKeywords); ok {
		return Verdict{
			Allowed: false,
			Reason:  fmt.Sprintf("⚠️ This request is out of scope. I cannot help with: '%s'", kw),
			Keyword: kw,
		}
	}

	if strings.Contains(lower, ConfirmToken) {
		return Verdict{Allowed: true}
	}

	if kw, ok := firstMatch(lower, f.SensitiveKeywords); ok {
		return Verdict{
			Allowed:              true,
			RequiresConfirmation: true,
			ConfirmationMessage: fmt.Sprintf(
				"⚠️ This action involves '%s'. Please confirm you want to proceed by adding '%s' to your message.",
				kw, ConfirmToken),
			Keyword: kw,
		}
	}

	return Verdict{Allowed: true}
}

func (f *Filter) tooLongReason() string {
	if f.MaxLength == DefaultMaxLength {
		return ReasonTooLong
	}
	return fmt.Sprintf("Message too long. Please keep it under %d characters.", f.MaxLength)
}

func firstMatch(lower string, keywords []string) (string, bool) {
	for _, kw := range keywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return kw, true
		}
	}
	return "", false
}
