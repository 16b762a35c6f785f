package voiceagent

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"survey-caller/internal/audit"
	"survey-caller/internal/callflow"
	"survey-caller/internal/dispatch"
	"survey-caller/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// BridgeFlow is what the media bridge needs from the call engine.
type BridgeFlow interface {
	SessionArtifact(ctx context.Context, identifier string) (string, error)
	ContextText(ctx context.Context, identifier string) (callflow.AgentContext, error)
	LinkConversation(ctx context.Context, id int64, ref string) error
}

// Bridge relays a Twilio media stream to the voice agent websocket and back.
type Bridge struct {
	Flow     BridgeFlow
	Log      WebhookLog
	Dialer   *websocket.Dialer
	Upgrader websocket.Upgrader
}

// twilioFrame is an inbound Twilio media stream message.
type twilioFrame struct {
	Event string `json:"event"`
	Start struct {
		StreamSid        string            `json:"streamSid"`
		CallSid          string            `json:"callSid"`
		CustomParameters map[string]string `json:"customParameters"`
	} `json:"start"`
	Media struct {
		Payload string `json:"payload"`
	} `json:"media"`
}

// agentFrame is an inbound voice agent message.
type agentFrame struct {
	Type       string `json:"type"`
	AudioEvent struct {
		Audio string `json:"audio_base_64"`
	} `json:"audio_event"`
	PingEvent struct {
		EventID int64 `json:"event_id"`
	} `json:"ping_event"`
	Metadata struct {
		ConversationID string `json:"conversation_id"`
	} `json:"conversation_initiation_metadata_event"`
}

// HandleMedia upgrades GET /media/:call_id and runs the relay until either side hangs up.
func (b *Bridge) HandleMedia(c *gin.Context) {
	ctx := c.Request.Context()
	ref := c.Param("call_id")

	agentURL, err := b.Flow.SessionArtifact(ctx, ref)
	if err != nil || agentURL == "" {
		if err == nil {
			err = errors.New("call has no agent session")
		}
		status := http.StatusBadGateway
		if errors.Is(err, callflow.ErrUnknownCall) {
			status = http.StatusNotFound
		}
		b.record(ctx, ref, 0, audit.OutcomeUnknownCall, err.Error())
		c.JSON(status, gin.H{"success": false, "error": err.Error()})
		return
	}
	ac, err := b.Flow.ContextText(ctx, ref)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": err.Error()})
		return
	}
	log := logger.ForCall(ctx, ac.CallID)

	twilioConn, err := b.Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn("media upgrade failed", "err", err)
		return
	}

	dialer := b.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	dialCtx, cancelDial := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	agentConn, _, err := dialer.DialContext(dialCtx, agentURL, nil)
	cancelDial()
	if err != nil {
		log.Error("agent dial failed", "err", err)
		b.record(ctx, ref, ac.CallID, audit.OutcomeError, "agent dial failed: "+err.Error())
		_ = twilioConn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "agent unavailable"))
		_ = twilioConn.Close()
		return
	}

	s := &session{
		callID: ac.CallID,
		flow:   b.Flow,
		twilio: &wsConn{conn: twilioConn},
		agent:  &wsConn{conn: agentConn},
		log:    log,
	}
	b.record(ctx, ref, ac.CallID, audit.OutcomeApplied, "media bridge opened")
	s.run(context.WithoutCancel(ctx), ac)
	b.record(ctx, ref, ac.CallID, audit.OutcomeApplied, "media bridge closed")
}

func (b *Bridge) record(ctx context.Context, ident string, callID int64, outcome audit.Outcome, msg string) {
	if b.Log == nil {
		return
	}
	b.Log.Record(ctx, audit.Event{
		Source:     audit.SourceMedia,
		Kind:       "media",
		Identifier: ident,
		CallID:     callID,
		Outcome:    outcome,
		Message:    msg,
	})
}

// wsConn serializes writes; gorilla allows one concurrent writer per connection.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsConn) writeJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteJSON(v)
}

func (w *wsConn) close() {
	w.mu.Lock()
	_ = w.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	w.mu.Unlock()
	_ = w.conn.Close()
}

type session struct {
	callID int64
	flow   BridgeFlow
	twilio *wsConn
	agent  *wsConn
	log    *slog.Logger

	mu        sync.Mutex
	streamSid string
}

func (s *session) run(ctx context.Context, ac callflow.AgentContext) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	vars := dispatch.DynamicVariables(dispatch.Request{CallID: ac.CallID, Questions: ac.Questions, ContextText: ac.ContextText})
	if err := s.agent.writeJSON(map[string]any{
		"type":              "conversation_initiation_client_data",
		"dynamic_variables": vars,
	}); err != nil {
		s.log.Error("agent init failed", "err", err)
		s.twilio.close()
		s.agent.close()
		return
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer cancel()
		s.fromTwilio(ctx)
	}()
	go func() {
		defer wg.Done()
		defer cancel()
		s.fromAgent(ctx)
	}()

	<-ctx.Done()
	s.twilio.close()
	s.agent.close()
	wg.Wait()
	s.log.Info("media bridge finished")
}

func (s *session) fromTwilio(ctx context.Context) {
	for {
		_, msg, err := s.twilio.conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Warn("twilio stream read failed", "err", err)
			}
			return
		}
		var f twilioFrame
		if err := json.Unmarshal(msg, &f); err != nil {
			s.log.Debug("twilio frame unreadable", "err", err)
			continue
		}
		switch f.Event {
		case "start":
			s.mu.Lock()
			s.streamSid = f.Start.StreamSid
			s.mu.Unlock()
			s.log.Info("twilio stream started", "stream_sid", f.Start.StreamSid, "call_sid", f.Start.CallSid)
		case "media":
			if f.Media.Payload == "" {
				continue
			}
			if err := s.agent.writeJSON(map[string]string{"user_audio_chunk": f.Media.Payload}); err != nil {
				s.log.Warn("agent write failed", "err", err)
				return
			}
		case "stop":
			s.log.Info("twilio stream stopped")
			return
		}
	}
}

func (s *session) fromAgent(ctx context.Context) {
	for {
		_, msg, err := s.agent.conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Warn("agent read failed", "err", err)
			}
			return
		}
		var f agentFrame
		if err := json.Unmarshal(msg, &f); err != nil {
			s.log.Debug("agent frame unreadable", "err", err)
			continue
		}
		switch f.Type {
		case "conversation_initiation_metadata":
			if err := s.flow.LinkConversation(ctx, s.callID, f.Metadata.ConversationID); err != nil {
				s.log.Warn("link conversation failed", "conversation_id", f.Metadata.ConversationID, "err", err)
			}
		case "audio":
			if f.AudioEvent.Audio == "" {
				continue
			}
			if err := s.twilio.writeJSON(map[string]any{
				"event":     "media",
				"streamSid": s.sid(),
				"media":     map[string]string{"payload": f.AudioEvent.Audio},
			}); err != nil {
				s.log.Warn("twilio write failed", "err", err)
				return
			}
		case "interruption":
			_ = s.twilio.writeJSON(map[string]string{"event": "clear", "streamSid": s.sid()})
		case "ping":
			if err := s.agent.writeJSON(map[string]any{"type": "pong", "event_id": f.PingEvent.EventID}); err != nil {
				return
			}
		}
	}
}

func (s *session) sid() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamSid
}

// MediaPath is the bridge route for a call.
func MediaPath(callID int64) string {
	return "/media/" + strconv.FormatInt(callID, 10)
}
