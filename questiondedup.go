package quizapp

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

var (
	nonAlnumSpace = regexp.MustCompile(`[^a-z0-9 ]+`)
	whitespaceRun = regexp.MustCompile(`\s+`)
)

// NormalizeQuestionText lower-cases the text, drops everything outside [a-z0-9 ] and
// collapses whitespace, so phrasing that only differs in case or punctuation compares equal.
func NormalizeQuestionText(text string) string {
	text = strings.ToLower(text)
	text = nonAlnumSpace.ReplaceAllString(text, "")
	text = whitespaceRun.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// Fingerprint is the SHA-256 of the normalized question text, hex encoded
func Fingerprint(text string) string {
	sum := sha256.Sum256([]byte(NormalizeQuestionText(text)))
	return hex.EncodeToString(sum[:])
}

// QuestionDedup guards one sourcing run against repeats. Raw texts the user saw recently
// are rejected, as is any fingerprint already accepted in this run.
type QuestionDedup struct {
	seen     map[string]struct{}
	accepted map[string]struct{}
}

// NewQuestionDedup creates a guard seeded with the user's recently seen question texts
func NewQuestionDedup(seenTexts []string) *QuestionDedup {
	qd := &QuestionDedup{
		seen:     make(map[string]struct{}, len(seenTexts)),
		accepted: make(map[string]struct{}),
	}
	for _, t := range seenTexts {
		qd.seen[t] = struct{}{}
	}
	return qd
}

// SeenTexts returns the recently seen texts as a slice
func (qd *QuestionDedup) SeenTexts() []string {
	out := make([]string, 0, len(qd.seen))
	for t := range qd.seen {
		out = append(out, t)
	}
	return out
}

// WasSeen reports whether the exact text appeared in the user's recent attempts
func (qd *QuestionDedup) WasSeen(text string) bool {
	_, ok := qd.seen[text]
	return ok
}

// Accept records the question for this run. It returns false if the text was seen
// recently or its fingerprint was already accepted.
func (qd *QuestionDedup) Accept(text string) bool {
	if qd.WasSeen(text) {
		return false
	}
	fp := Fingerprint(text)
	if _, ok := qd.accepted[fp]; ok {
		return false
	}
	qd.accepted[fp] = struct{}{}
	return true
}
