package voiceagent

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"

	"survey-caller/internal/callflow"
	"survey-caller/internal/transcript"
)

// Kind is the normalized webhook event type.
type Kind string

const (
	KindStarted    Kind = "started"
	KindEnded      Kind = "ended"
	KindTranscript Kind = "transcript"
	KindUnknown    Kind = "unknown"
)

var ErrMalformed = errors.New("malformed voice agent webhook")

// Webhook is a voice agent event after synonym resolution.
type Webhook struct {
	Type            string
	Kind            Kind
	CallID          string
	ConversationID  string
	DurationSeconds *int
	Turns           []transcript.Turn

	// Text and Sequence carry a single-utterance transcription.
	Text     string
	Sequence *int
}

var (
	typePaths = [][]string{{"type"}, {"event_type"}, {"eventType"}, {"event"}}

	callIDPaths = [][]string{
		{"metadata", "call_id"}, {"metadata", "callId"},
		{"meta", "call_id"}, {"meta", "callId"},
		{"call_id"}, {"callId"},
		{"data", "metadata", "call_id"},
		{"data", "conversation_initiation_client_data", "dynamic_variables", "call_id"},
		{"conversation_initiation_client_data", "dynamic_variables", "call_id"},
		{"data", "dynamic_variables", "call_id"},
		{"dynamic_variables", "call_id"},
	}

	conversationPaths = [][]string{
		{"conversation_id"}, {"conversationId"},
		{"data", "conversation_id"}, {"data", "conversationId"},
		{"metadata", "conversation_id"},
	}

	durationPaths = [][]string{
		{"data", "metadata", "call_duration_secs"},
		{"metadata", "call_duration_secs"},
		{"data", "call_duration_secs"},
		{"call_duration_secs"},
		{"duration_seconds"}, {"duration"},
	}

	turnPaths = [][]string{
		{"data", "data", "messages"}, {"data", "data", "transcript"},
		{"data", "messages"}, {"data", "transcript"},
		{"messages"}, {"transcript"}, {"transcription"},
	}

	textPaths = [][]string{
		{"transcription", "text"}, {"transcription", "transcript"},
		{"data", "text"}, {"data", "transcript"}, {"text"},
	}

	sequencePaths = [][]string{
		{"metadata", "question_num"}, {"metadata", "questionNum"}, {"question_num"},
	}
)

// ParseJSON decodes a JSON webhook body.
func ParseJSON(body []byte) (Webhook, error) {
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil {
		return Webhook{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return FromMap(m), nil
}

// ParseForm accepts the same fields posted as a form. Nested values may be JSON strings.
func ParseForm(values url.Values) Webhook {
	m := make(map[string]any, len(values))
	for k, v := range values {
		if len(v) == 0 {
			continue
		}
		m[k] = decodeMaybeJSON(v[0])
	}
	return FromMap(m)
}

// FromMap resolves every known synonym in a decoded payload.
func FromMap(m map[string]any) Webhook {
	w := Webhook{
		Type:           stringAt(m, typePaths),
		CallID:         stringAt(m, callIDPaths),
		ConversationID: stringAt(m, conversationPaths),
	}
	w.Kind = kindOf(w.Type)
	if d, ok := numberAt(m, durationPaths); ok {
		n := int(math.Round(d))
		w.DurationSeconds = &n
	}
	for _, p := range turnPaths {
		v, ok := lookup(m, p)
		if !ok {
			continue
		}
		if s, ok := v.(string); ok {
			v = decodeMaybeJSON(s)
		}
		if turns := transcript.FromValue(v); len(turns) > 0 {
			w.Turns = turns
			break
		}
	}
	if len(w.Turns) == 0 {
		w.Text = stringAt(m, textPaths)
		if n, ok := numberAt(m, sequencePaths); ok {
			seq := int(n)
			w.Sequence = &seq
		}
	}
	return w
}

func kindOf(t string) Kind {
	v := strings.ToLower(strings.TrimSpace(t))
	v = strings.ReplaceAll(v, ".", "_")
	switch v {
	case "call_started", "started", "conversation_started":
		return KindStarted
	case "call_ended", "ended", "conversation_ended":
		return KindEnded
	case "transcription", "transcription_completed", "post_call_transcription", "transcript":
		return KindTranscript
	}
	return KindUnknown
}

// Identifier is the best handle for correlation: the internal id when present.
func (w Webhook) Identifier() string {
	if w.CallID != "" {
		return w.CallID
	}
	return w.ConversationID
}

func (w Webhook) identifiers() []string {
	var out []string
	for _, s := range []string{w.CallID, w.ConversationID} {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (w Webhook) StatusEvent() callflow.StatusEvent {
	status := "in_progress"
	if w.Kind == KindEnded {
		status = "completed"
	}
	return callflow.StatusEvent{
		Identifiers:     w.identifiers(),
		Status:          status,
		DurationSeconds: w.DurationSeconds,
		ConversationRef: w.ConversationID,
	}
}

func (w Webhook) TranscriptEvent() callflow.TranscriptEvent {
	return callflow.TranscriptEvent{
		Identifier:      w.Identifier(),
		Turns:           w.Turns,
		DurationSeconds: w.DurationSeconds,
	}
}

func (w Webhook) AnswerEvent() callflow.AnswerEvent {
	return callflow.AnswerEvent{Identifier: w.Identifier(), Sequence: w.Sequence, FreeText: w.Text}
}

func lookup(m map[string]any, path []string) (any, bool) {
	var cur any = m
	for _, k := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = obj[k]; !ok || cur == nil {
			return nil, false
		}
	}
	return cur, true
}

func stringAt(m map[string]any, paths [][]string) string {
	for _, p := range paths {
		v, ok := lookup(m, p)
		if !ok {
			continue
		}
		switch x := v.(type) {
		case string:
			if s := strings.TrimSpace(x); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(x, 'f', -1, 64)
		}
	}
	return ""
}

func numberAt(m map[string]any, paths [][]string) (float64, bool) {
	for _, p := range paths {
		v, ok := lookup(m, p)
		if !ok {
			continue
		}
		switch x := v.(type) {
		case float64:
			return x, true
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

func decodeMaybeJSON(s string) any {
	t := strings.TrimSpace(s)
	if strings.HasPrefix(t, "{") || strings.HasPrefix(t, "[") {
		var v any
		if err := json.Unmarshal([]byte(t), &v); err == nil {
			return v
		}
	}
	return s
}
