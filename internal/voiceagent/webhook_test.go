package voiceagent

import (
	"errors"
	"net/url"
	"testing"
	"time"

	"survey-caller/internal/transcript"
)

func TestParseJSON_PostCallTranscription(t *testing.T) {
	body := []byte(`{
		"type": "post_call_transcription",
		"data": {
			"conversation_id": "conv_abc",
			"transcript": [
				{"role": "agent", "message": "Do you own a car?"},
				{"role": "user", "message": "yes"}
			],
			"metadata": {"call_duration_secs": 42.4},
			"conversation_initiation_client_data": {"dynamic_variables": {"call_id": "17"}}
		}
	}`)

	w, err := ParseJSON(body)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if w.Kind != KindTranscript || w.CallID != "17" || w.ConversationID != "conv_abc" {
		t.Fatalf("unexpected webhook %+v", w)
	}
	if w.DurationSeconds == nil || *w.DurationSeconds != 42 {
		t.Fatalf("expected rounded duration, got %v", w.DurationSeconds)
	}
	if len(w.Turns) != 2 || w.Turns[1].Role != transcript.RoleUser || w.Turns[1].Text != "yes" {
		t.Fatalf("unexpected turns %+v", w.Turns)
	}
	if w.Identifier() != "17" {
		t.Fatalf("expected call id preferred, got %q", w.Identifier())
	}
}

func TestParseJSON_Synonyms(t *testing.T) {
	cases := []struct {
		body   string
		kind   Kind
		callID string
		turns  int
	}{
		{`{"event_type": "call.started", "metadata": {"callId": 5}}`, KindStarted, "5", 0},
		{`{"eventType": "call_ended", "call_id": "6", "duration": "12"}`, KindEnded, "6", 0},
		{`{"type": "transcription", "callId": "7", "messages": ["yes"]}`, KindTranscript, "7", 1},
		{`{"type": "transcription", "data": {"data": {"messages": [{"speaker": "bot", "text": "Q?"}]}}}`, KindTranscript, "", 1},
		{`{"type": "something_else"}`, KindUnknown, "", 0},
	}
	for _, tc := range cases {
		w, err := ParseJSON([]byte(tc.body))
		if err != nil {
			t.Fatalf("%s: %v", tc.body, err)
		}
		if w.Kind != tc.kind || w.CallID != tc.callID || len(w.Turns) != tc.turns {
			t.Fatalf("%s: unexpected webhook %+v", tc.body, w)
		}
	}
}

func TestParseJSON_Malformed(t *testing.T) {
	if _, err := ParseJSON([]byte(`{"type": `)); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestParseForm_SingleUtterance(t *testing.T) {
	w := ParseForm(url.Values{
		"event_type":   {"transcription"},
		"call_id":      {"9"},
		"text":         {"yeah sure"},
		"question_num": {"1"},
	})
	if w.Kind != KindTranscript || len(w.Turns) != 0 || w.Text != "yeah sure" {
		t.Fatalf("unexpected webhook %+v", w)
	}
	if w.Sequence == nil || *w.Sequence != 1 {
		t.Fatalf("expected sequence 1, got %v", w.Sequence)
	}
	ev := w.AnswerEvent()
	if ev.Identifier != "9" || ev.FreeText != "yeah sure" {
		t.Fatalf("unexpected answer event %+v", ev)
	}
}

func TestParseForm_TranscriptAsJSONString(t *testing.T) {
	w := ParseForm(url.Values{
		"type":       {"post_call_transcription"},
		"transcript": {`[{"role":"agent","message":"Do you rent?"},{"role":"user","message":"no"}]`},
	})
	if len(w.Turns) != 2 {
		t.Fatalf("expected decoded turns, got %+v", w.Turns)
	}
}

func TestStatusEvent(t *testing.T) {
	w := Webhook{Kind: KindEnded, CallID: "3", ConversationID: "conv_3"}
	ev := w.StatusEvent()
	if ev.Status != "completed" || len(ev.Identifiers) != 2 || ev.ConversationRef != "conv_3" {
		t.Fatalf("unexpected status event %+v", ev)
	}
	if (Webhook{Kind: KindStarted}).StatusEvent().Status != "in_progress" {
		t.Fatalf("expected in_progress for started")
	}
}

func TestVerifySignature(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	body := []byte(`{"type":"call_started"}`)
	header := SignatureHeader("s3cret", now, body)

	if err := VerifySignature("s3cret", header, body, now.Add(time.Minute), 0); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
	if err := VerifySignature("other", header, body, now, 0); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}
	if err := VerifySignature("s3cret", header, []byte(`{}`), now, 0); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature for altered body, got %v", err)
	}
	if err := VerifySignature("s3cret", header, body, now.Add(time.Hour), 0); !errors.Is(err, ErrStaleSignature) {
		t.Fatalf("expected ErrStaleSignature, got %v", err)
	}
	if err := VerifySignature("s3cret", "", body, now, 0); !errors.Is(err, ErrMissingSignature) {
		t.Fatalf("expected ErrMissingSignature, got %v", err)
	}
	if err := VerifySignature("s3cret", "t=abc,v0=zz", body, now, 0); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature for garbage header, got %v", err)
	}
}
