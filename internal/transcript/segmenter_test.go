package transcript

import (
	"strings"
	"testing"

	"survey-caller/internal/calls"
)

func TestSegment_SkipsGreetingAndConfirmation(t *testing.T) {
	turns := []Turn{
		{Role: RoleAgent, Text: "Hello, how can I help?"},
		{Role: RoleAgent, Text: "Do you have insurance? Yes or no."},
		{Role: RoleUser, Text: "yes"},
		{Role: RoleAgent, Text: "Is that correct?"},
		{Role: RoleUser, Text: "yes"},
		{Role: RoleAgent, Text: "Are you on medication?"},
		{Role: RoleUser, Text: "no"},
	}

	res := Segment(turns)
	if len(res.Pairs) != 2 {
		t.Fatalf("expected 2 pairs, got %d: %+v", len(res.Pairs), res.Pairs)
	}
	first, second := res.Pairs[0], res.Pairs[1]
	if first.Number != 1 || first.Question != "Do you have insurance?" || first.Answer != calls.AnswerYes {
		t.Fatalf("unexpected first pair: %+v", first)
	}
	if second.Number != 2 || second.Question != "Are you on medication?" || second.Answer != calls.AnswerNo {
		t.Fatalf("unexpected second pair: %+v", second)
	}
	if first.Confidence != 0.8 {
		t.Fatalf("expected transcript confidence, got %v", first.Confidence)
	}

	lines := strings.Split(res.Log, "\n")
	if len(lines) != len(turns) {
		t.Fatalf("expected every turn in the log, got %d lines", len(lines))
	}
	if lines[0] != "AGENT: Hello, how can I help?" || lines[2] != "USER: yes" {
		t.Fatalf("unexpected log prefixing: %q", res.Log)
	}
}

func TestSegment_SecondUserTurnNotAttributed(t *testing.T) {
	res := Segment([]Turn{
		{Role: RoleAgent, Text: "Do you smoke?"},
		{Role: RoleUser, Text: "no"},
		{Role: RoleUser, Text: "yes actually"},
	})
	if len(res.Pairs) != 1 || res.Pairs[0].Answer != calls.AnswerNo {
		t.Fatalf("expected only the first reply attributed, got %+v", res.Pairs)
	}
}

func TestCleanQuestion(t *testing.T) {
	cases := map[string]string{
		"Do you have insurance? Yes or no.":              "Do you have insurance?",
		"Do you smoke, yes or no":                        "Do you smoke",
		"Are you over 18? Please answer yes or no only.": "Are you over 18?",
		"Please answer yes or no: do you own a car?":     "do you own a car?",
		"Is this your first visit?":                      "Is this your first visit?",
	}
	for in, want := range cases {
		if got := CleanQuestion(in); got != want {
			t.Fatalf("%q: expected %q, got %q", in, want, got)
		}
	}
}

func TestDecodeTurns_Synonyms(t *testing.T) {
	raw := []byte(`[
		{"speaker": "agent", "content": "Do you drive?"},
		"yep",
		{"role": "assistant", "text": "Do you cycle?"},
		{"role": "user", "message": "nope"},
		42
	]`)
	turns := DecodeTurns(raw)
	if len(turns) != 4 {
		t.Fatalf("expected 4 turns, got %d", len(turns))
	}
	if turns[1].Role != RoleUser || turns[2].Role != RoleAgent {
		t.Fatalf("unexpected roles: %+v", turns)
	}

	res := Segment(turns)
	if len(res.Pairs) != 2 || res.Pairs[0].Answer != calls.AnswerYes || res.Pairs[1].Answer != calls.AnswerNo {
		t.Fatalf("unexpected pairs: %+v", res.Pairs)
	}
}

func TestDecodeTurns_MalformedYieldsEmpty(t *testing.T) {
	if turns := DecodeTurns([]byte(`{"not": "a list"}`)); len(turns) != 0 {
		t.Fatalf("expected no turns")
	}
	if turns := DecodeTurns([]byte(`garbage`)); len(turns) != 0 {
		t.Fatalf("expected no turns")
	}
	if res := Segment(nil); len(res.Pairs) != 0 || res.Log != "" {
		t.Fatalf("expected empty result")
	}
}
