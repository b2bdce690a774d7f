package pipeline

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	urlPattern        = regexp.MustCompile(`https?://\S+`)
	fencedCodePattern = regexp.MustCompile("(?s)```.*?```")
	inlineCodePattern = regexp.MustCompile("`[^`]*`")
	linkPattern       = regexp.MustCompile(`\[(.*?)\]\((.*?)\)`)
	markupReplacer    = strings.NewReplacer("*", " ", "_", " ", "\\", " ", "/", " ", "|", " ", "#", " ", "~", " ", "<", " ", ">", " ")
)

// speakable strips markdown, links, code and symbols a character would not
// say out loud, and collapses whitespace.
func speakable(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	raw = fencedCodePattern.ReplaceAllString(raw, " ")
	raw = inlineCodePattern.ReplaceAllString(raw, " ")
	raw = linkPattern.ReplaceAllString(raw, "$1")
	raw = urlPattern.ReplaceAllString(raw, " ")
	raw = markupReplacer.Replace(raw)

	var b strings.Builder
	b.Grow(len(raw))
	space := true
	writeSpace := func() {
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	for _, r := range raw {
		switch {
		case r == '\u200d' || r == '\ufe0f' || r == '\u20e3':
		case unicode.IsSpace(r):
			writeSpace()
		case unicode.IsControl(r), unicode.In(r, unicode.So, unicode.Sm, unicode.Sk):
		case strings.ContainsRune(".,!?:;'\"-()", r):
			b.WriteRune(r)
			space = false
		case unicode.IsPunct(r):
			writeSpace()
		default:
			b.WriteRune(r)
			space = false
		}
	}
	return strings.TrimSpace(b.String())
}
