package policy

import (
	"slices"
	"strings"
	"testing"
)

func TestRedactPII(t *testing.T) {
	input := "Email me at sam@example.com or +1 (555) 123-9876 and use 4242 4242 4242 4242."
	out, hit := Redact(input, PIIRules)
	if !slices.Equal(hit, []string{"email", "card", "phone"}) {
		t.Fatalf("rules hit = %v", hit)
	}
	for _, marker := range []string{"[REDACTED_EMAIL]", "[REDACTED_PHONE]", "[REDACTED_CARD]"} {
		if !strings.Contains(out, marker) {
			t.Fatalf("output missing marker %q: %q", marker, out)
		}
	}
	if strings.Contains(out, "4242") || strings.Contains(out, "sam@") {
		t.Fatalf("output still carries PII: %q", out)
	}
}

func TestRedactLeavesPlainTextAlone(t *testing.T) {
	in := "The lamp was lit at 9 tonight."
	if got := RedactPII(in); got != in {
		t.Fatalf("RedactPII(%q) = %q", in, got)
	}
}
