package voiceagent

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"survey-caller/internal/audit"
	"survey-caller/internal/callflow"
	"survey-caller/internal/calls"
	"survey-caller/pkg/logger"

	"github.com/gin-gonic/gin"
)

const maxWebhookBody = 4 << 20

// CallFlow is the part of the call engine the voice agent drives.
type CallFlow interface {
	OnStatusEvent(ctx context.Context, ev callflow.StatusEvent) (calls.State, error)
	IngestTranscript(ctx context.Context, ev callflow.TranscriptEvent) ([]calls.AnswerRecord, error)
	RecordAnswer(ctx context.Context, ev callflow.AnswerEvent) (calls.AnswerRecord, error)
	Resolve(ctx context.Context, identifier string) (int64, error)
	LinkConversation(ctx context.Context, id int64, ref string) error
	ContextText(ctx context.Context, identifier string) (callflow.AgentContext, error)
}

type WebhookLog interface {
	Record(ctx context.Context, e audit.Event)
}

// Handler serves the voice agent webhook and context lookups.
// Secret enables signature checks; a bad signature is the only non-200 answer.
type Handler struct {
	Flow   CallFlow
	Log    WebhookLog
	Secret string
	Now    func() time.Time
}

func (h Handler) HandleWebhook(c *gin.Context) {
	log := logger.FromGin(c)
	ctx := c.Request.Context()

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		h.record(ctx, "", "", 0, audit.OutcomeMalformed, err.Error(), "")
		c.JSON(http.StatusOK, gin.H{"success": false, "error": "unreadable body"})
		return
	}

	if h.Secret != "" {
		if err := VerifySignature(h.Secret, c.GetHeader(HeaderSignature), body, h.now(), 0); err != nil {
			log.Warn("voice agent webhook rejected", "err", err)
			h.record(ctx, "", "", 0, audit.OutcomeRejected, err.Error(), string(body))
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": err.Error()})
			return
		}
	}

	w, err := parseBody(c.ContentType(), body)
	if err != nil {
		log.Warn("voice agent webhook malformed", "err", err)
		h.record(ctx, "", "", 0, audit.OutcomeMalformed, err.Error(), string(body))
		c.JSON(http.StatusOK, gin.H{"success": false, "error": "malformed payload"})
		return
	}
	payload := string(body)

	switch w.Kind {
	case KindStarted, KindEnded:
		st, err := h.Flow.OnStatusEvent(ctx, w.StatusEvent())
		if err != nil {
			h.fail(c, w, err, payload)
			return
		}
		h.record(ctx, w.Type, w.Identifier(), st.Call.ID, audit.OutcomeApplied, string(st.Call.Status), payload)
		c.JSON(http.StatusOK, gin.H{"success": true, "call_id": st.Call.ID, "status": st.Call.Status})

	case KindTranscript:
		h.linkConversation(ctx, w)
		if len(w.Turns) == 0 && w.Text != "" {
			rec, err := h.Flow.RecordAnswer(ctx, w.AnswerEvent())
			if err != nil {
				h.fail(c, w, err, payload)
				return
			}
			h.record(ctx, w.Type, w.Identifier(), rec.CallID, audit.OutcomeApplied, string(rec.Answer), payload)
			c.JSON(http.StatusOK, gin.H{"success": true, "call_id": rec.CallID, "answer": rec.Answer})
			return
		}
		recs, err := h.Flow.IngestTranscript(ctx, w.TranscriptEvent())
		if err != nil {
			h.fail(c, w, err, payload)
			return
		}
		var id int64
		if len(recs) > 0 {
			id = recs[0].CallID
		} else {
			id, _ = h.Flow.Resolve(ctx, w.Identifier())
		}
		h.record(ctx, w.Type, w.Identifier(), id, audit.OutcomeApplied, answerSummary(recs), payload)
		c.JSON(http.StatusOK, gin.H{"success": true, "call_id": id, "answers": len(recs)})

	default:
		log.Info("voice agent event ignored", "type", w.Type)
		h.record(ctx, w.Type, w.Identifier(), 0, audit.OutcomeIgnored, "unhandled event type", payload)
		c.JSON(http.StatusOK, gin.H{"success": true, "ignored": true})
	}
}

// HandleContext returns the question context for a call, looked up by any reference.
func (h Handler) HandleContext(c *gin.Context) {
	ref := c.Param("ref")
	ac, err := h.Flow.ContextText(c.Request.Context(), ref)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, callflow.ErrUnknownCall) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "call_id": ac.CallID, "context": ac.ContextText, "questions": ac.Questions})
}

// linkConversation teaches the engine the conversation id when the payload carries both handles.
func (h Handler) linkConversation(ctx context.Context, w Webhook) {
	if w.CallID == "" || w.ConversationID == "" {
		return
	}
	id, err := h.Flow.Resolve(ctx, w.CallID)
	if err != nil {
		return
	}
	if err := h.Flow.LinkConversation(ctx, id, w.ConversationID); err != nil {
		logger.ForCall(ctx, id).Warn("link conversation failed", "err", err)
	}
}

func (h Handler) fail(c *gin.Context, w Webhook, err error, payload string) {
	ctx := c.Request.Context()
	outcome := audit.OutcomeError
	switch {
	case errors.Is(err, callflow.ErrUnknownCall):
		outcome = audit.OutcomeUnknownCall
	case errors.Is(err, callflow.ErrUnrecognizedStatus), errors.Is(err, callflow.ErrSlotOutOfRange):
		outcome = audit.OutcomeIgnored
	}
	logger.FromGin(c).Warn("voice agent webhook not applied", "type", w.Type, "identifier", w.Identifier(), "err", err)
	h.record(ctx, w.Type, w.Identifier(), 0, outcome, err.Error(), payload)
	c.JSON(http.StatusOK, gin.H{"success": false, "error": err.Error()})
}

func (h Handler) record(ctx context.Context, kind, ident string, callID int64, outcome audit.Outcome, msg, payload string) {
	if h.Log == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	h.Log.Record(ctx, audit.Event{
		Source:     audit.SourceVoiceAgent,
		Kind:       kind,
		Identifier: ident,
		CallID:     callID,
		Outcome:    outcome,
		Message:    msg,
		Payload:    payload,
	})
}

func (h Handler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func parseBody(contentType string, body []byte) (Webhook, error) {
	trimmed := strings.TrimSpace(string(body))
	if strings.Contains(contentType, "json") || strings.HasPrefix(trimmed, "{") {
		return ParseJSON(body)
	}
	values, err := url.ParseQuery(trimmed)
	if err != nil {
		return Webhook{}, errors.Join(ErrMalformed, err)
	}
	return ParseForm(values), nil
}

func answerSummary(recs []calls.AnswerRecord) string {
	if len(recs) == 0 {
		return "no answers"
	}
	parts := make([]string, 0, len(recs))
	for _, r := range recs {
		parts = append(parts, string(r.Answer))
	}
	return strings.Join(parts, ",")
}
