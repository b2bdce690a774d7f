package pipeline

import "strings"

// phraseChunker coalesces generated tokens into phrases short enough to
// start synthesis early but long enough to sound natural.
type phraseChunker struct {
	pending string
	emitted bool
}

const (
	firstPhraseMin = 24
	phraseMin      = 42
	phraseWindow   = 44
)

// Push adds a token and returns any phrases that became complete.
func (c *phraseChunker) Push(token string) []string {
	if token == "" {
		return nil
	}
	c.pending += token
	return c.drain(false)
}

// Flush returns whatever is left as a final phrase.
func (c *phraseChunker) Flush() []string {
	return c.drain(true)
}

func (c *phraseChunker) drain(force bool) []string {
	var phrases []string
	for {
		minLen := phraseMin
		if !c.emitted {
			minLen = firstPhraseMin
		}
		head, tail, ok := splitPhrase(c.pending, minLen, force)
		if !ok {
			return phrases
		}
		c.pending = tail
		if head = strings.Join(strings.Fields(head), " "); head == "" {
			continue
		}
		c.emitted = true
		phrases = append(phrases, head)
	}
}

// splitPhrase cuts input at the first sentence boundary at or after minLen
// bytes, preferring a comma, then terminal punctuation, then whitespace
// within the window. Input with no boundary inside the window is cut hard.
func splitPhrase(input string, minLen int, force bool) (head, tail string, ok bool) {
	switch {
	case input == "":
		return "", "", false
	case force:
		return input, "", true
	case len(input) < minLen:
		return "", input, false
	}

	if i := indexFrom(input, minLen-1, ","); i >= 0 {
		return input[:i+1], input[i+1:], true
	}
	if i := indexFrom(input, minLen-1, ".!?;:\n"); i >= 0 {
		return input[:i+1], input[i+1:], true
	}

	limit := min(minLen+phraseWindow, len(input))
	if i := indexFrom(input[:limit], minLen, " \t\r\n"); i >= 0 {
		return input[:i], input[i:], true
	}
	// The last word may still be arriving.
	if len(input) < minLen+phraseWindow {
		return "", input, false
	}
	return input[:minLen], input[minLen:], true
}

func indexFrom(s string, from int, chars string) int {
	if from >= len(s) {
		return -1
	}
	if i := strings.IndexAny(s[from:], chars); i >= 0 {
		return from + i
	}
	return -1
}
