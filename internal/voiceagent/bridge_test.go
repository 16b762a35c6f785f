package voiceagent

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"survey-caller/internal/callflow"
	"survey-caller/internal/calls"
	"survey-caller/internal/dispatch"

	"github.com/gorilla/websocket"
)

type agentStreamDispatcher struct{ url string }

func (agentStreamDispatcher) Backend() calls.Backend { return calls.BackendAgentStream }

func (d agentStreamDispatcher) StartCall(_ context.Context, req dispatch.Request) (dispatch.Result, error) {
	return dispatch.Result{ProviderRef: "CA-stream", SessionArtifact: d.url}, nil
}

// fakeAgent plays the agent side: it checks the init message, announces the
// conversation, pings, and answers the first user audio chunk with audio of its own.
func fakeAgent(t *testing.T, got chan<- map[string]any) *httptest.Server {
	up := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var init map[string]any
		if err := conn.ReadJSON(&init); err != nil {
			return
		}
		got <- init
		_ = conn.WriteJSON(map[string]any{
			"type":                                   "conversation_initiation_metadata",
			"conversation_initiation_metadata_event": map[string]any{"conversation_id": "conv_ws"},
		})
		_ = conn.WriteJSON(map[string]any{"type": "ping", "ping_event": map[string]any{"event_id": 7}})

		var sawPong, sawAudio bool
		for !sawPong || !sawAudio {
			var msg map[string]any
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			switch {
			case msg["type"] == "pong":
				sawPong = msg["event_id"] == float64(7)
			case msg["user_audio_chunk"] != nil:
				sawAudio = msg["user_audio_chunk"] == "BBBB"
			}
		}
		got <- map[string]any{"pong": sawPong, "audio": sawAudio}
		_ = conn.WriteJSON(map[string]any{"type": "audio", "audio_event": map[string]any{"audio_base_64": "AAAA"}})

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func TestBridge_RelaysAudioAndLinksConversation(t *testing.T) {
	got := make(chan map[string]any, 4)
	agent := fakeAgent(t, got)
	defer agent.Close()

	f := newFixture(t, "", agentStreamDispatcher{url: "ws" + strings.TrimPrefix(agent.URL, "http")})
	ctx := context.Background()
	st, err := f.engine.Start(ctx, callflow.StartRequest{PhoneNumber: "+15550000001", Questions: []string{"Do you own a car?"}, Backend: calls.BackendAgentStream})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	srv := httptest.NewServer(f.router)
	defer srv.Close()
	twilio, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+MediaPath(st.Call.ID), nil)
	if err != nil {
		t.Fatalf("dial bridge: %v", err)
	}
	defer twilio.Close()

	select {
	case init := <-got:
		vars, _ := init["dynamic_variables"].(map[string]any)
		if init["type"] != "conversation_initiation_client_data" || vars["call_id"] != "1" || vars["question_1"] != "Do you own a car?" {
			t.Fatalf("unexpected init %v", init)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("agent never received init")
	}

	_ = twilio.WriteJSON(map[string]any{"event": "start", "start": map[string]any{"streamSid": "MZ1"}})
	_ = twilio.WriteJSON(map[string]any{"event": "media", "media": map[string]any{"payload": "BBBB"}})

	select {
	case seen := <-got:
		if seen["pong"] != true || seen["audio"] != true {
			t.Fatalf("agent did not see pong and audio: %v", seen)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("agent never received user audio")
	}

	_ = twilio.SetReadDeadline(time.Now().Add(2 * time.Second))
	var out map[string]any
	if err := twilio.ReadJSON(&out); err != nil {
		t.Fatalf("read from bridge: %v", err)
	}
	media, _ := out["media"].(map[string]any)
	if out["event"] != "media" || out["streamSid"] != "MZ1" || media["payload"] != "AAAA" {
		t.Fatalf("unexpected media frame %v", out)
	}

	if id, err := f.engine.Resolve(ctx, "conv_ws"); err != nil || id != st.Call.ID {
		t.Fatalf("expected conversation linked, got %d %v", id, err)
	}
	_ = twilio.WriteJSON(map[string]any{"event": "stop"})
}

func TestBridge_UnknownCall(t *testing.T) {
	f := newFixture(t, "")
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/media/999", nil)
	if err == nil {
		t.Fatalf("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %+v", resp)
	}
}
