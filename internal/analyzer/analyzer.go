package analyzer

import (
	"strings"
	"unicode"
)

// Outcome result of keyword analysis over a transcript
type Outcome int

const (
	// Unknown neither trigger found; consult the distress classifier
	Unknown Outcome = iota
	Safe
	Escalate
)

func (o Outcome) String() string {
	switch o {
	case Safe:
		return "safe"
	case Escalate:
		return "escalate"
	default:
		return "unknown"
	}
}

// minCompactLen shortest trigger eligible for the space-insensitive match
const minCompactLen = 4

// Analyze decides escalate / safe / unknown for a transcript.
// The escalation word is checked first, so a transcript containing both words escalates.
func Analyze(transcript, safeWord, escalationWord string) Outcome {
	text := Normalize(transcript)
	if text == "" {
		return Unknown
	}
	if Contains(text, Normalize(escalationWord)) {
		return Escalate
	}
	if Contains(text, Normalize(safeWord)) {
		return Safe
	}
	return Unknown
}

// Contains reports whether the normalized word occurs in the normalized text, either as a
// whole-word sequence or as a plain substring. Transcribers often split or join short words
// ("pine apple"), so the substring check also runs with spaces removed.
func Contains(text, word string) bool {
	if word == "" || text == "" {
		return false
	}
	if containsWords(strings.Fields(text), strings.Fields(word)) {
		return true
	}
	if strings.Contains(text, word) {
		return true
	}
	compactWord := strings.ReplaceAll(word, " ", "")
	if len(compactWord) < minCompactLen {
		return false
	}
	return strings.Contains(strings.ReplaceAll(text, " ", ""), compactWord)
}

// Normalize lowercases, drops apostrophes, turns other punctuation and symbols into spaces,
// and collapses whitespace.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case r == '\'' || r == '’' || r == '`':
			continue
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			b.WriteRune(' ')
		default:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func containsWords(tokens, words []string) bool {
	if len(words) == 0 || len(words) > len(tokens) {
		return false
	}
	for i := 0; i+len(words) <= len(tokens); i++ {
		match := true
		for j := range words {
			if tokens[i+j] != words[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
