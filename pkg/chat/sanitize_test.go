package chat

import (
	"errors"
	"strings"
	"testing"

	"github.com/nestbay/realtime/pkg/errs"
)

func TestSanitizeNeutralizesMarkup(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			"script block stripped",
			"hi <script>alert(1)</script> there",
			"hi  there",
		},
		{
			"style block stripped",
			"a<style>p{color:red}</style>b",
			"ab",
		},
		{
			"event handler removed",
			`<img src="x" onerror="steal()">ok`,
			`<img src="x">ok`,
		},
		{
			"script uri neutralized",
			"click javascript:doEvil() now",
			"click doEvil() now",
		},
		{
			"blank runs capped",
			"a\n\n\n\n\nb",
			"a\n\nb",
		},
		{
			"plain text untouched",
			"hello, is the flat on Elm St still available?",
			"hello, is the flat on Elm St still available?",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := sanitize(tt.in)
			if err != nil {
				t.Fatalf("sanitize(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Fatalf("sanitize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSanitizeValidation(t *testing.T) {
	tests := []struct {
		name string
		in   string
		kind errs.Kind
	}{
		{"empty", "   ", errs.KindInvalid},
		{"only markup", "<script>x</script>", errs.KindInvalid},
		{"oversized", strings.Repeat("a", maxMessageLen+1), errs.KindInvalid},
		{"too many urls", strings.Repeat("see http://spam.example/x ", 6), errs.KindSpam},
		{"repeated tokens", strings.Repeat("BUY ", 12), errs.KindSpam},
		{"all caps rant", "THIS LISTING IS A TOTAL SCAM AND EVERYONE MUST KNOW", errs.KindSpam},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := sanitize(tt.in)
			var e *errs.Error
			if !errors.As(err, &e) || e.Kind != tt.kind {
				t.Fatalf("sanitize(%s) = %v, want kind %q", tt.name, err, tt.kind)
			}
		})
	}
}

func TestSpamChecksRunOnSanitizedContent(t *testing.T) {
	// Under ten tokens the repetition heuristic stays quiet.
	if _, err := sanitize("ok ok ok"); err != nil {
		t.Fatalf("short repetition should pass: %v", err)
	}
	// Five links are fine, the heuristic fires above that.
	if _, err := sanitize("a http://a.example http://b.example http://c.example http://d.example http://e.example"); err != nil {
		t.Fatalf("five links should pass: %v", err)
	}
}
