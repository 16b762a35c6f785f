// Package classifier turns noisy speech, keypad or transcript text into a yes/no answer.
//
// Classification is deterministic keyword matching. YES keywords are checked before NO
// keywords, so "no, yes I think" classifies as yes.
package classifier

import (
	"math"
	"strings"

	"survey-caller/internal/calls"
)

// Channel selects the confidence assigned to a keyword match.
type Channel int

const (
	ChannelSpeech Channel = iota
	ChannelTranscript
)

const (
	speechConfidence     = 0.9
	transcriptConfidence = 0.8
	unclearConfidence    = 0.3
	keypadConfidence     = 1.0
)

var (
	yesKeywords = []string{"yes", "yeah", "yep", "correct", "right", "sure", "okay", "ok", "yup", "affirmative"}
	noKeywords  = []string{"no", "nope", "nah", "incorrect", "wrong", "negative"}
)

// Classify maps free text to an answer and confidence.
// Empty or whitespace-only input is (unclear, 0).
func Classify(text string, ch Channel) (calls.Answer, float64) {
	v := strings.ToLower(strings.TrimSpace(text))
	if v == "" {
		return calls.AnswerUnclear, 0
	}
	if containsAny(v, yesKeywords) {
		return calls.AnswerYes, ch.confidence()
	}
	if containsAny(v, noKeywords) {
		return calls.AnswerNo, ch.confidence()
	}
	return calls.AnswerUnclear, unclearConfidence
}

// ClassifySpeech classifies a speech result, preferring the provider's own confidence
// for yes/no matches when one was reported. NaN or infinite values count as not reported.
func ClassifySpeech(text string, providerConfidence *float64) (calls.Answer, float64) {
	ans, conf := Classify(text, ChannelSpeech)
	if providerConfidence != nil && finite(*providerConfidence) && (ans == calls.AnswerYes || ans == calls.AnswerNo) {
		conf = clamp(*providerConfidence)
	}
	return ans, conf
}

// FromDigits maps keypad input: 1 is yes, 2 is no.
func FromDigits(digits string) (calls.Answer, float64) {
	switch strings.TrimSpace(digits) {
	case "":
		return calls.AnswerUnclear, 0
	case "1":
		return calls.AnswerYes, keypadConfidence
	case "2":
		return calls.AnswerNo, keypadConfidence
	default:
		return calls.AnswerUnclear, unclearConfidence
	}
}

func (c Channel) confidence() float64 {
	if c == ChannelTranscript {
		return transcriptConfidence
	}
	return speechConfidence
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// clamp bounds v to [0, 1]; NaN becomes 0.
func clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
