package telephony

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"survey-caller/internal/audit"
	"survey-caller/internal/callflow"
	"survey-caller/internal/calls"
	"survey-caller/internal/correlation"
	"survey-caller/internal/dispatch"
	"survey-caller/internal/records"
	"survey-caller/pkg/logger"

	"github.com/gin-gonic/gin"
)

func TestParseVoiceForm(t *testing.T) {
	body := strings.NewReader("CallSid=CA123&CallStatus=completed&CallDuration=37&SpeechResult=+Yes+please&Confidence=0.72")
	r := httptest.NewRequest(http.MethodPost, "/webhooks/twilio/answer?call_id=55&q_num=1", body)
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	f, err := ParseVoiceForm(r)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if f.Identifier() != "55" || f.CallSid != "CA123" {
		t.Fatalf("unexpected identifiers: %q %q", f.CallID, f.CallSid)
	}
	if f.Sequence == nil || *f.Sequence != 1 {
		t.Fatalf("expected sequence from q_num")
	}
	if f.CallDuration == nil || *f.CallDuration != 37 {
		t.Fatalf("expected duration")
	}
	ev := f.AnswerEvent()
	if ev.FreeText != "Yes please" || ev.ProviderConfidence == nil || *ev.ProviderConfidence != 0.72 {
		t.Fatalf("unexpected answer event %+v", ev)
	}
	st := f.StatusEvent()
	if len(st.Identifiers) != 2 || st.ProviderRef != "CA123" {
		t.Fatalf("unexpected status event %+v", st)
	}
	if f.Params["CallSid"] != "CA123" {
		t.Fatalf("expected POST params kept for signature validation")
	}
}

func TestParseVoiceForm_FallsBackToCallSid(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/webhooks/twilio/voice", strings.NewReader("CallSid=CA9&Confidence=abc"))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	f, _ := ParseVoiceForm(r)
	if f.Identifier() != "CA9" || f.Confidence != nil || f.Sequence != nil {
		t.Fatalf("unexpected form %+v", f)
	}
}

type webhookFixture struct {
	router *gin.Engine
	engine *callflow.Engine
	log    *audit.MemoryRepo
}

func newWebhookFixture(t *testing.T) webhookFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	repo := records.NewMemoryRepo()
	e := callflow.New(callflow.Options{
		Cache:          correlation.NewCache(correlation.NewMemoryStore(), repo, time.Minute),
		Records:        repo,
		Dispatchers:    dispatch.NewRegistry(dispatch.DemoDispatcher{}),
		IDs:            calls.NewSequence(0),
		DefaultBackend: calls.BackendDemo,
		Logger:         logger.Discard(),
	})
	logRepo := audit.NewMemoryRepo()
	h := TwilioWebhookHandler{Flow: e, Log: audit.NewService(logRepo, logger.Discard())}

	r := gin.New()
	r.POST("/webhooks/twilio/voice", h.HandleVoice)
	r.POST("/webhooks/twilio/answer", h.HandleAnswer)
	r.POST("/webhooks/twilio/status", h.HandleStatus)
	r.POST("/webhooks/twilio/stream", h.HandleStream)
	return webhookFixture{router: r, engine: e, log: logRepo}
}

func (f webhookFixture) post(t *testing.T, target string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 from %s, got %d", target, w.Code)
	}
	return w
}

func TestTwilioWebhooks_FullSurvey(t *testing.T) {
	f := newWebhookFixture(t)
	st, err := f.engine.Start(context.Background(), callflow.StartRequest{PhoneNumber: "+15550000001", Questions: []string{"Q one?", "Q two?"}})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	w := f.post(t, "/webhooks/twilio/voice?call_id=1", url.Values{"CallSid": {"DEMO-1"}})
	if !strings.Contains(w.Body.String(), "Question 1. Q one?") || !strings.Contains(w.Body.String(), "call_id=1&amp;q=0") {
		t.Fatalf("unexpected first prompt: %s", w.Body.String())
	}

	w = f.post(t, "/webhooks/twilio/answer?call_id=1&q=0", url.Values{"Digits": {"2"}})
	if !strings.Contains(w.Body.String(), "You said no") {
		t.Fatalf("unexpected feedback: %s", w.Body.String())
	}

	w = f.post(t, "/webhooks/twilio/voice?call_id=1", nil)
	if !strings.Contains(w.Body.String(), "Question 2. Q two?") {
		t.Fatalf("unexpected second prompt: %s", w.Body.String())
	}

	// Gather fallback: no input at all.
	w = f.post(t, "/webhooks/twilio/answer?call_id=1&q=1", nil)
	if !strings.Contains(w.Body.String(), "did not receive a response") {
		t.Fatalf("expected timeout feedback: %s", w.Body.String())
	}

	w = f.post(t, "/webhooks/twilio/voice?call_id=1", nil)
	if !strings.Contains(w.Body.String(), "Thank you for answering all questions") {
		t.Fatalf("expected completion: %s", w.Body.String())
	}

	w = f.post(t, "/webhooks/twilio/status?call_id=1", url.Values{"CallSid": {"DEMO-1"}, "CallStatus": {"completed"}, "CallDuration": {"30"}})
	if !strings.Contains(w.Body.String(), `"success":true`) {
		t.Fatalf("unexpected status response: %s", w.Body.String())
	}

	snap, _ := f.engine.Snapshot(context.Background(), st.Call.ID)
	if snap.Call.Status != calls.StatusCompleted || *snap.Call.DurationSeconds != 30 {
		t.Fatalf("unexpected final call %+v", snap.Call)
	}
	if snap.Answers[0].Answer != calls.AnswerNo || snap.Answers[1].Answer != calls.AnswerTimeout {
		t.Fatalf("unexpected answers %+v", snap.Answers)
	}
}

func TestTwilioWebhooks_UnknownCallStillReturns200(t *testing.T) {
	f := newWebhookFixture(t)

	w := f.post(t, "/webhooks/twilio/status", url.Values{"CallSid": {"CA-nope"}, "CallStatus": {"ringing"}})
	if !strings.Contains(w.Body.String(), `"success":false`) {
		t.Fatalf("expected success:false, got %s", w.Body.String())
	}
	w = f.post(t, "/webhooks/twilio/voice", url.Values{"CallSid": {"CA-nope"}})
	if !strings.Contains(w.Body.String(), "<Hangup") {
		t.Fatalf("expected apology and hangup, got %s", w.Body.String())
	}

	evs := f.log.Events()
	if len(evs) != 2 || evs[0].Outcome != audit.OutcomeUnknownCall || !strings.Contains(evs[0].Payload, "CA-nope") {
		t.Fatalf("expected unknown-call entries with payload, got %+v", evs)
	}
}

func TestTwilioWebhooks_UnrecognizedStatusIgnored(t *testing.T) {
	f := newWebhookFixture(t)
	_, _ = f.engine.Start(context.Background(), callflow.StartRequest{PhoneNumber: "+15550000001", Questions: []string{"Q?"}})

	w := f.post(t, "/webhooks/twilio/status", url.Values{"CallSid": {"DEMO-1"}, "CallStatus": {"teleporting"}})
	if !strings.Contains(w.Body.String(), `"ignored":true`) {
		t.Fatalf("expected ignored, got %s", w.Body.String())
	}
}

func TestTwilioWebhooks_Stream(t *testing.T) {
	f := newWebhookFixture(t)
	_, _ = f.engine.Start(context.Background(), callflow.StartRequest{PhoneNumber: "+15550000001", Questions: []string{"Q?"}})

	w := f.post(t, "/webhooks/twilio/stream?call_id=1", nil)
	if !strings.Contains(w.Body.String(), "/media/1") {
		t.Fatalf("expected media stream url, got %s", w.Body.String())
	}
}

type stubValidator struct{ ok bool }

func (s stubValidator) Validate(string, map[string]string, string) bool { return s.ok }

func TestRequireSignature(t *testing.T) {
	gin.SetMode(gin.TestMode)
	for _, tc := range []struct {
		sig  string
		ok   bool
		want int
	}{
		{"", true, http.StatusForbidden},
		{"abc", false, http.StatusForbidden},
		{"abc", true, http.StatusOK},
	} {
		r := gin.New()
		r.POST("/hook", RequireSignature(stubValidator{ok: tc.ok}, "https://calls.example.com"), func(c *gin.Context) { c.Status(http.StatusOK) })
		req := httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader("CallSid=CA1"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		if tc.sig != "" {
			req.Header.Set(headerTwilioSignature, tc.sig)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != tc.want {
			t.Fatalf("sig=%q ok=%v: expected %d, got %d", tc.sig, tc.ok, tc.want, w.Code)
		}
	}
}
