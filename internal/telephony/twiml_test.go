package telephony

import (
	"strings"
	"testing"

	"survey-caller/internal/callflow"
	"survey-caller/internal/calls"
)

func TestQuestionTwiML_FirstQuestionGreets(t *testing.T) {
	xml, err := QuestionTwiML(callflow.Prompt{CallID: 1, Sequence: 0, Total: 2, Text: "Do you own a car?", Greeting: true}, IVRConfig{}, "/webhooks/twilio/answer?call_id=1&q=0")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	for _, want := range []string{
		"automated survey call",
		"Question 1. Do you own a car?",
		"<Gather",
		`input="speech dtmf"`,
		`numDigits="1"`,
		`finishOnKey="#"`,
		`timeout="15"`,
		"press 1 for yes",
		"<Redirect",
	} {
		if !strings.Contains(xml, want) {
			t.Fatalf("expected %q in xml: %s", want, xml)
		}
	}
}

func TestQuestionTwiML_LaterQuestionSkipsGreeting(t *testing.T) {
	xml, err := QuestionTwiML(callflow.Prompt{Sequence: 1, Total: 2, Text: "Do you rent?"}, IVRConfig{GatherTimeout: 8}, "/a")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if strings.Contains(xml, "automated survey call") || !strings.Contains(xml, "Question 2. Do you rent?") || !strings.Contains(xml, `timeout="8"`) {
		t.Fatalf("unexpected xml: %s", xml)
	}
}

func TestTerminalTwiML(t *testing.T) {
	cases := map[string]callflow.Prompt{
		"Thank you for answering all questions": {Terminal: true, Total: 2, Sequence: 2},
		"no valid questions were found":         {Terminal: true},
		"unable to continue":                    {Terminal: true, Failed: true, Total: 1},
	}
	for want, p := range cases {
		xml, err := QuestionTwiML(p, IVRConfig{}, "/a")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !strings.Contains(xml, want) || !strings.Contains(xml, "<Hangup") {
			t.Fatalf("expected %q and hangup in xml: %s", want, xml)
		}
	}

	// Completed by the provider with questions left.
	xml, err := QuestionTwiML(callflow.Prompt{Terminal: true, Total: 3, Sequence: 1}, IVRConfig{}, "/a")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(xml, "unable to continue") || strings.Contains(xml, "<Gather") {
		t.Fatalf("expected ended message without gather: %s", xml)
	}
}

func TestParseFloat_RejectsNonFinite(t *testing.T) {
	for _, s := range []string{"NaN", "nan", "Inf", "-Inf", "+Infinity", "abc", ""} {
		if v := parseFloat(s); v != nil {
			t.Fatalf("%q: expected nil, got %v", s, *v)
		}
	}
	if v := parseFloat(" 0.75 "); v == nil || *v != 0.75 {
		t.Fatalf("expected 0.75, got %v", v)
	}
}

func TestFeedbackTwiML(t *testing.T) {
	xml, err := FeedbackTwiML(calls.AnswerNo, IVRConfig{}, "/webhooks/twilio/voice?call_id=1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(xml, "You said no. Thank you.") || !strings.Contains(xml, "/webhooks/twilio/voice?call_id=1") {
		t.Fatalf("unexpected xml: %s", xml)
	}
	if FeedbackText(calls.AnswerTimeout) == FeedbackText(calls.AnswerUnclear) {
		t.Fatalf("timeout and unclear feedback should differ")
	}
}

func TestStreamTwiML(t *testing.T) {
	xml, err := StreamTwiML(WebsocketURL("https://calls.example.com/", "/media/9"), 9, IVRConfig{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(xml, "<Connect") || !strings.Contains(xml, "wss://calls.example.com/media/9") {
		t.Fatalf("unexpected xml: %s", xml)
	}
}
