// Package transcript extracts ordered (question, answer) pairs from a full two-party
// voice-agent conversation.
package transcript

import (
	"regexp"
	"strings"

	"survey-caller/internal/calls"
	"survey-caller/internal/classifier"
)

// Pair is one survey question and the caller's reply. Number is 1-based.
type Pair struct {
	Number     int          `json:"question_number"`
	Question   string       `json:"question"`
	Answer     calls.Answer `json:"answer"`
	Confidence float64      `json:"confidence"`
	Raw        string       `json:"raw_answer"`
}

type Result struct {
	Pairs []Pair
	// Log is the role-prefixed, newline-joined transcript.
	Log string
}

var (
	confirmationPhrases = []string{"is that correct", "you said", "did i hear", "confirm"}
	greetingPhrases     = []string{"how can i help", "calling for", "may i proceed", "can i help"}

	// Longest first; order matters because shorter phrases are suffixes of longer ones.
	instructionPhrases = []string{
		"please answer yes or no only",
		"please answer yes or no",
		"answer yes or no only",
		"answer yes or no",
		"yes or no only",
		"yes or no",
	}
	instructionPatterns = compileFold(instructionPhrases)
	multiSpace          = regexp.MustCompile(`\s+`)
)

// Segment walks the turns in order and emits a pair for each user reply that follows a
// survey question. Greetings and confirmation prompts are never treated as questions, and a
// second user turn without a new question in between is not attributed.
func Segment(turns []Turn) Result {
	var (
		res     Result
		log     []string
		pending string
		counter int
	)
	for _, t := range turns {
		text := strings.TrimSpace(t.Text)
		if text == "" {
			continue
		}
		log = append(log, strings.ToUpper(string(t.Role))+": "+text)

		switch t.Role {
		case RoleAgent:
			if IsSurveyQuestion(text) {
				pending = CleanQuestion(text)
				counter++
			}
		case RoleUser:
			if pending == "" {
				continue
			}
			ans, conf := classifier.Classify(text, classifier.ChannelTranscript)
			res.Pairs = append(res.Pairs, Pair{
				Number:     counter,
				Question:   pending,
				Answer:     ans,
				Confidence: conf,
				Raw:        text,
			})
			pending = ""
		}
	}
	res.Log = strings.Join(log, "\n")
	return res
}

// IsSurveyQuestion reports whether an agent utterance asks a survey question.
func IsSurveyQuestion(text string) bool {
	v := strings.ToLower(text)
	if !strings.Contains(v, "?") && !strings.Contains(v, "yes or no") {
		return false
	}
	return !containsAny(v, confirmationPhrases) && !containsAny(v, greetingPhrases)
}

// CleanQuestion strips answer instructions such as "please answer yes or no only",
// keeping a trailing question mark.
func CleanQuestion(text string) string {
	q := strings.TrimSpace(text)
	for i, phrase := range instructionPhrases {
		lower := strings.ToLower(q)
		switch {
		case strings.HasSuffix(lower, phrase):
			q = strings.TrimSpace(q[:len(q)-len(phrase)])
			q = trimTrailing(q, ".,")
		case strings.Contains(lower, phrase):
			q = instructionPatterns[i].ReplaceAllString(q, "")
			q = strings.TrimSpace(multiSpace.ReplaceAllString(q, " "))
			q = strings.TrimLeft(q, ":;,.- ")
			q = trimTrailing(q, ".,")
		}
	}
	return q
}

func trimTrailing(s, cutset string) string {
	for s != "" && strings.ContainsRune(cutset, rune(s[len(s)-1])) {
		s = strings.TrimSpace(s[:len(s)-1])
	}
	return s
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

func compileFold(phrases []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(phrases))
	for i, p := range phrases {
		out[i] = regexp.MustCompile(`(?i)` + regexp.QuoteMeta(p))
	}
	return out
}
