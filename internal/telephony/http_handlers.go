package telephony

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"survey-caller/internal/audit"
	"survey-caller/internal/callflow"
	"survey-caller/internal/calls"
	"survey-caller/internal/voiceagent"
	"survey-caller/pkg/logger"

	"github.com/gin-gonic/gin"
)

// CallFlow is the part of the call engine the Twilio webhooks drive.
type CallFlow interface {
	AskCurrentQuestion(ctx context.Context, ev callflow.AskEvent) (callflow.Prompt, error)
	RecordAnswer(ctx context.Context, ev callflow.AnswerEvent) (calls.AnswerRecord, error)
	OnStatusEvent(ctx context.Context, ev callflow.StatusEvent) (calls.State, error)
	Resolve(ctx context.Context, identifier string) (int64, error)
}

// WebhookLog receives one entry per webhook. Failures stay inside the log.
type WebhookLog interface {
	Record(ctx context.Context, e audit.Event)
}

// TwilioWebhookHandler translates Twilio webhooks into call flow events and writes TwiML.
//
// Twilio always gets a 200. A failure inside the flow produces an apology and a hangup
// rather than an HTTP error, which Twilio would read to the callee as "an application error".
type TwilioWebhookHandler struct {
	Flow CallFlow
	Log  WebhookLog
	IVR  IVRConfig

	// PublicBaseURL makes callback URLs absolute. Empty keeps them relative.
	PublicBaseURL string
}

func (h TwilioWebhookHandler) HandleVoice(c *gin.Context) {
	log := logger.FromGin(c)
	form, err := ParseVoiceForm(c.Request)
	if err != nil {
		h.record(c, "voice", "", 0, audit.OutcomeMalformed, err.Error(), "")
		h.twiml(c, ApologyTwiML(h.IVR))
		return
	}

	p, err := h.Flow.AskCurrentQuestion(c.Request.Context(), form.AskEvent())
	if err != nil {
		log.Warn("voice webhook not applied", "identifier", form.Identifier(), "err", err)
		h.record(c, "voice", form.Identifier(), 0, outcomeOf(err), err.Error(), form.Payload())
		h.twiml(c, ApologyTwiML(h.IVR))
		return
	}

	seq := p.Sequence
	out, err := QuestionTwiML(p, h.IVR, h.url("/webhooks/twilio/answer", p.CallID, &seq))
	if err != nil {
		logger.ForCall(c.Request.Context(), p.CallID).Error("twiml render failed", "err", err)
		h.twiml(c, ApologyTwiML(h.IVR))
		return
	}
	h.record(c, "voice", form.Identifier(), p.CallID, audit.OutcomeApplied, promptSummary(p), form.Payload())
	h.twiml(c, out)
}

func (h TwilioWebhookHandler) HandleAnswer(c *gin.Context) {
	log := logger.FromGin(c)
	form, err := ParseVoiceForm(c.Request)
	if err != nil {
		h.record(c, "answer", "", 0, audit.OutcomeMalformed, err.Error(), "")
		h.twiml(c, ApologyTwiML(h.IVR))
		return
	}
	ctx := c.Request.Context()

	rec, err := h.Flow.RecordAnswer(ctx, form.AnswerEvent())
	switch {
	case errors.Is(err, callflow.ErrSlotOutOfRange):
		// Stale gather; let the voice endpoint pick the current question.
		id, rerr := h.Flow.Resolve(ctx, form.Identifier())
		if rerr != nil {
			h.record(c, "answer", form.Identifier(), 0, audit.OutcomeUnknownCall, rerr.Error(), form.Payload())
			h.twiml(c, ApologyTwiML(h.IVR))
			return
		}
		h.record(c, "answer", form.Identifier(), id, audit.OutcomeIgnored, err.Error(), form.Payload())
		h.twiml(c, RedirectTwiML(h.url("/webhooks/twilio/voice", id, nil)))
		return
	case err != nil:
		log.Warn("answer webhook not applied", "identifier", form.Identifier(), "err", err)
		h.record(c, "answer", form.Identifier(), 0, outcomeOf(err), err.Error(), form.Payload())
		h.twiml(c, ApologyTwiML(h.IVR))
		return
	}

	out, err := FeedbackTwiML(rec.Answer, h.IVR, h.url("/webhooks/twilio/voice", rec.CallID, nil))
	if err != nil {
		logger.ForCall(ctx, rec.CallID).Error("twiml render failed", "err", err)
		h.twiml(c, ApologyTwiML(h.IVR))
		return
	}
	h.record(c, "answer", form.Identifier(), rec.CallID, audit.OutcomeApplied, string(rec.Answer), form.Payload())
	h.twiml(c, out)
}

func (h TwilioWebhookHandler) HandleStatus(c *gin.Context) {
	form, err := ParseVoiceForm(c.Request)
	if err != nil {
		h.record(c, "status", "", 0, audit.OutcomeMalformed, err.Error(), "")
		c.JSON(http.StatusOK, gin.H{"success": false, "error": "invalid form"})
		return
	}

	st, err := h.Flow.OnStatusEvent(c.Request.Context(), form.StatusEvent())
	switch {
	case errors.Is(err, callflow.ErrUnrecognizedStatus):
		h.record(c, "status", form.Identifier(), st.Call.ID, audit.OutcomeIgnored, "unrecognized status "+form.CallStatus, form.Payload())
		c.JSON(http.StatusOK, gin.H{"success": true, "ignored": true, "call_id": st.Call.ID})
	case err != nil:
		logger.FromGin(c).Warn("status webhook dropped", "identifier", form.Identifier(), "status", form.CallStatus, "err", err)
		h.record(c, "status", form.Identifier(), 0, outcomeOf(err), err.Error(), form.Payload())
		c.JSON(http.StatusOK, gin.H{"success": false, "error": err.Error()})
	default:
		h.record(c, "status", form.Identifier(), st.Call.ID, audit.OutcomeApplied, form.CallStatus, form.Payload())
		c.JSON(http.StatusOK, gin.H{"success": true, "call_id": st.Call.ID, "status": st.Call.Status})
	}
}

// HandleStream answers an agent_stream call with a media stream to our bridge.
func (h TwilioWebhookHandler) HandleStream(c *gin.Context) {
	form, err := ParseVoiceForm(c.Request)
	if err != nil {
		h.record(c, "stream", "", 0, audit.OutcomeMalformed, err.Error(), "")
		h.twiml(c, ApologyTwiML(h.IVR))
		return
	}
	id, err := h.Flow.Resolve(c.Request.Context(), form.Identifier())
	if err != nil {
		h.record(c, "stream", form.Identifier(), 0, audit.OutcomeUnknownCall, err.Error(), form.Payload())
		h.twiml(c, ApologyTwiML(h.IVR))
		return
	}
	out, err := StreamTwiML(WebsocketURL(h.streamBase(c), voiceagent.MediaPath(id)), id, h.IVR)
	if err != nil {
		h.twiml(c, ApologyTwiML(h.IVR))
		return
	}
	h.record(c, "stream", form.Identifier(), id, audit.OutcomeApplied, "", form.Payload())
	h.twiml(c, out)
}

func (h TwilioWebhookHandler) twiml(c *gin.Context, body string) {
	c.Header("Content-Type", "text/xml")
	c.String(http.StatusOK, body)
}

func (h TwilioWebhookHandler) record(c *gin.Context, kind, ident string, callID int64, outcome audit.Outcome, msg, payload string) {
	if h.Log == nil {
		return
	}
	h.Log.Record(c.Request.Context(), audit.Event{
		Source:     audit.SourceTwilio,
		Kind:       kind,
		Identifier: ident,
		CallID:     callID,
		Outcome:    outcome,
		Message:    msg,
		Payload:    payload,
	})
}

func (h TwilioWebhookHandler) url(path string, callID int64, seq *int) string {
	u := strings.TrimRight(h.PublicBaseURL, "/") + path + "?call_id=" + strconv.FormatInt(callID, 10)
	if seq != nil {
		u += "&q=" + strconv.Itoa(*seq)
	}
	return u
}

func (h TwilioWebhookHandler) streamBase(c *gin.Context) string {
	if h.PublicBaseURL != "" {
		return h.PublicBaseURL
	}
	return "wss://" + c.Request.Host
}

func outcomeOf(err error) audit.Outcome {
	if errors.Is(err, callflow.ErrUnknownCall) {
		return audit.OutcomeUnknownCall
	}
	return audit.OutcomeError
}

func promptSummary(p callflow.Prompt) string {
	switch {
	case p.Failed:
		return "call failed"
	case p.Terminal:
		return "completed"
	}
	return "question " + strconv.Itoa(p.Sequence+1) + "/" + strconv.Itoa(p.Total)
}
