package questions

import (
	"fmt"
	"strings"

	"survey-caller/internal/transcript"
)

// Normalize trims each question, strips answer instructions and drops empty entries.
func Normalize(in []string) []string {
	out := make([]string, 0, len(in))
	for _, q := range in {
		q = transcript.CleanQuestion(q)
		if q == "" {
			continue
		}
		out = append(out, q)
	}
	return out
}

const contextPreamble = "You are conducting a survey call. Ask the following questions one by one and wait for yes/no answers:"

const contextClosing = "After each answer, acknowledge it and move to the next question. " +
	"When all questions are answered, thank the caller and end the call."

// RenderContext builds the instruction text handed to a voice-agent backend.
func RenderContext(qs []string) string {
	var b strings.Builder
	b.WriteString(contextPreamble)
	b.WriteString("\n\n")
	for i, q := range qs {
		fmt.Fprintf(&b, "Question %d: %s\n", i+1, q)
	}
	b.WriteString("\n")
	b.WriteString(contextClosing)
	return b.String()
}
