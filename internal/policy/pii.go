// Package policy masks personal data before conversation text is stored.
package policy

import "regexp"

// Rule replaces every match of Pattern with Marker.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
	Marker  string
}

// PIIRules mask common personal identifiers. Cards run before phones so a
// long digit run is never tagged as a phone number.
var PIIRules = []Rule{
	{Name: "email", Pattern: regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), Marker: "[REDACTED_EMAIL]"},
	{Name: "card", Pattern: regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`), Marker: "[REDACTED_CARD]"},
	{Name: "phone", Pattern: regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`), Marker: "[REDACTED_PHONE]"},
}

// Redact applies rules in order and returns the masked text with the names
// of the rules that matched.
func Redact(input string, rules []Rule) (string, []string) {
	out := input
	var hit []string
	for _, r := range rules {
		next := r.Pattern.ReplaceAllString(out, r.Marker)
		if next != out {
			hit = append(hit, r.Name)
			out = next
		}
	}
	return out, hit
}

// RedactPII masks with PIIRules.
func RedactPII(input string) string {
	out, _ := Redact(input, PIIRules)
	return out
}
