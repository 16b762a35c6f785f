package telephony

import (
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"survey-caller/internal/callflow"
)

// VoiceForm is the union of the Twilio voice, gather and status callback fields we use.
// Twilio posts application/x-www-form-urlencoded; call_id and q come from our own query string.
type VoiceForm struct {
	CallID     string
	CallSid    string
	CallStatus string
	// CallDuration is only present on the final status callback.
	CallDuration *int
	Sequence     *int

	SpeechResult string
	Confidence   *float64
	Digits       string

	// Params are the POST parameters, as the request validator expects them.
	Params map[string]string
	raw    url.Values
}

// ParseVoiceForm reads query and body. Missing or malformed optional fields are left unset.
func ParseVoiceForm(r *http.Request) (VoiceForm, error) {
	if err := r.ParseForm(); err != nil {
		return VoiceForm{}, err
	}
	f := VoiceForm{
		CallID:       first(r.Form, "call_id", "callId"),
		CallSid:      strings.TrimSpace(r.Form.Get("CallSid")),
		CallStatus:   strings.TrimSpace(r.Form.Get("CallStatus")),
		CallDuration: parseInt(first(r.Form, "CallDuration", "Duration")),
		Sequence:     parseInt(first(r.Form, "q", "q_num", "question")),
		SpeechResult: strings.TrimSpace(r.Form.Get("SpeechResult")),
		Confidence:   parseFloat(r.Form.Get("Confidence")),
		Digits:       strings.TrimSpace(r.Form.Get("Digits")),
		Params:       flatten(r.PostForm),
		raw:          r.Form,
	}
	return f, nil
}

// Identifier prefers our own call id over the Twilio CallSid.
func (f VoiceForm) Identifier() string {
	if f.CallID != "" {
		return f.CallID
	}
	return f.CallSid
}

// Payload is the raw form, kept for the webhook log.
func (f VoiceForm) Payload() string { return f.raw.Encode() }

func (f VoiceForm) AskEvent() callflow.AskEvent {
	return callflow.AskEvent{Identifier: f.Identifier(), Sequence: f.Sequence}
}

func (f VoiceForm) AnswerEvent() callflow.AnswerEvent {
	return callflow.AnswerEvent{
		Identifier:         f.Identifier(),
		Sequence:           f.Sequence,
		FreeText:           f.SpeechResult,
		Digits:             f.Digits,
		ProviderConfidence: f.Confidence,
	}
}

func (f VoiceForm) StatusEvent() callflow.StatusEvent {
	return callflow.StatusEvent{
		Identifiers:     []string{f.CallID, f.CallSid},
		Status:          f.CallStatus,
		DurationSeconds: f.CallDuration,
		ProviderRef:     f.CallSid,
	}
}

func first(v url.Values, keys ...string) string {
	for _, k := range keys {
		if s := strings.TrimSpace(v.Get(k)); s != "" {
			return s
		}
	}
	return ""
}

func parseInt(s string) *int {
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &n
}

func parseFloat(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func flatten(v url.Values) map[string]string {
	out := make(map[string]string, len(v))
	for k, vals := range v {
		if len(vals) > 0 {
			out[k] = vals[0]
		}
	}
	return out
}
