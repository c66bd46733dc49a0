package widget

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/smartguard/internal/model/chat"
	model "github.com/zhouzirui/smartguard/internal/model/language"
	speechmodel "github.com/zhouzirui/smartguard/internal/model/speech"
	"github.com/zhouzirui/smartguard/internal/service/speech"
	widgetService "github.com/zhouzirui/smartguard/internal/service/widget"
)

type replyFunc func(ctx context.Context, message, lang string) (string, error)

func (f replyFunc) Reply(ctx context.Context, message, lang string) (string, error) {
	return f(ctx, message, lang)
}

type recognizerFunc func(ctx context.Context, req *speechmodel.ASRRequest) (*speechmodel.ASRResponse, error)

func (f recognizerFunc) Recognize(ctx context.Context, req *speechmodel.ASRRequest) (*speechmodel.ASRResponse, error) {
	return f(ctx, req)
}

type received struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data"`
}

func echoReplier() replyFunc {
	return func(_ context.Context, message, lang string) (string, error) {
		return "[" + lang + "] answer to " + message, nil
	}
}

func setupServer(t *testing.T, deps widgetService.Deps) (*httptest.Server, *widgetService.Registry) {
	t.Helper()
	registry := widgetService.NewRegistry(context.Background(), deps, model.English)
	t.Cleanup(registry.CloseAll)

	r := chi.NewRouter()
	New(registry, nil).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, registry
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, kind string, data any) {
	t.Helper()
	raw, _ := json.Marshal(data)
	if err := conn.WriteJSON(map[string]any{"type": kind, "data": json.RawMessage(raw)}); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// readUntil reads messages until one of the given type satisfies match.
func readUntil(t *testing.T, conn *websocket.Conn, kind string, match func(json.RawMessage) bool) received {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var msg received
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %q: %v", kind, err)
		}
		if msg.Type == kind && (match == nil || match(msg.Data)) {
			return msg
		}
	}
}

func messageText(want string) func(json.RawMessage) bool {
	return func(raw json.RawMessage) bool {
		var m chat.Message
		return json.Unmarshal(raw, &m) == nil && m.Text == want
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWebSocketTurn(t *testing.T) {
	srv, registry := setupServer(t, widgetService.Deps{Replier: echoReplier()})
	conn := dial(t, srv, "")

	connected := readUntil(t, conn, "connected", nil)
	if connected.SessionID == "" {
		t.Fatalf("connected message must carry the session id")
	}
	readUntil(t, conn, "message", messageText(model.Greeting(model.English)))
	mic := readUntil(t, conn, "mic", nil)
	var state widgetService.MicState
	json.Unmarshal(mic.Data, &state)
	if state.Enabled || state.Tooltip != speech.UnavailableTooltip {
		t.Fatalf("mic must be disabled without recognition, got %+v", state)
	}

	send(t, conn, "input", map[string]string{"text": "What is photosynthesis?"})
	send(t, conn, "submit", map[string]string{})

	readUntil(t, conn, "message", messageText("What is photosynthesis?"))
	readUntil(t, conn, "input", func(raw json.RawMessage) bool { return string(raw) == `{"text":""}` })
	readUntil(t, conn, "message", messageText(chat.PlaceholderText))
	replaced := readUntil(t, conn, "replace", nil)

	var body struct {
		ID      string       `json:"id"`
		Message chat.Message `json:"message"`
	}
	json.Unmarshal(replaced.Data, &body)
	if body.Message.Text != "[en] answer to What is photosynthesis?" {
		t.Fatalf("unexpected reply %+v", body.Message)
	}

	if registry.Len() != 1 {
		t.Fatalf("expected one live session")
	}
	conn.Close()
	waitFor(t, func() bool { return registry.Len() == 0 })
}

func TestWebSocketLanguageChange(t *testing.T) {
	srv, _ := setupServer(t, widgetService.Deps{Replier: echoReplier()})
	conn := dial(t, srv, "?language=en")
	readUntil(t, conn, "mic", nil)

	send(t, conn, "language", map[string]string{"language": "es"})
	readUntil(t, conn, "message", messageText(model.Greeting(model.Spanish)))

	send(t, conn, "submit", map[string]string{"text": "hola"})
	readUntil(t, conn, "replace", func(raw json.RawMessage) bool {
		return strings.Contains(string(raw), "[es] answer to hola")
	})

	send(t, conn, "language", map[string]string{"language": "pt"})
	readUntil(t, conn, "error", nil)
}

func TestWebSocketAttachesExistingSession(t *testing.T) {
	srv, registry := setupServer(t, widgetService.Deps{Replier: echoReplier()})
	s := registry.Create(model.German, nil)

	conn := dial(t, srv, "?sessionId="+s.ID())
	connected := readUntil(t, conn, "connected", nil)
	if connected.SessionID != s.ID() {
		t.Fatalf("expected session %s, got %s", s.ID(), connected.SessionID)
	}
	readUntil(t, conn, "message", messageText(model.Greeting(model.German)))

	conn.Close()
	time.Sleep(50 * time.Millisecond)
	if _, err := registry.Get(s.ID()); err != nil {
		t.Fatalf("attached session must outlive the connection: %v", err)
	}
}

func TestWebSocketRejectsUnknownSession(t *testing.T) {
	srv, _ := setupServer(t, widgetService.Deps{})
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?sessionId=missing"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatalf("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", resp)
	}
}

func TestWebSocketMicUnavailable(t *testing.T) {
	srv, _ := setupServer(t, widgetService.Deps{Replier: echoReplier()})
	conn := dial(t, srv, "")
	readUntil(t, conn, "mic", nil)

	send(t, conn, "mic", map[string]string{"format": "pcm"})
	alert := readUntil(t, conn, "alert", nil)
	if !strings.Contains(string(alert.Data), "Voice input failed: not-allowed") {
		t.Fatalf("unexpected alert %s", alert.Data)
	}

	send(t, conn, "audio", map[string]any{"audioData": []byte("pcm"), "isFinal": true})
	readUntil(t, conn, "error", nil)
}

func TestWebSocketVoiceInput(t *testing.T) {
	recognizer := recognizerFunc(func(_ context.Context, req *speechmodel.ASRRequest) (*speechmodel.ASRResponse, error) {
		if string(req.AudioData) != "pcm-audio" {
			t.Errorf("unexpected audio %q", req.AudioData)
		}
		return &speechmodel.ASRResponse{Text: "what is gravity", Alternatives: []string{"what is gravity"}}, nil
	})
	srv, _ := setupServer(t, widgetService.Deps{
		Replier: echoReplier(),
		Input:   speech.NewInputAdapter(recognizer, nil),
	})
	conn := dial(t, srv, "")
	readUntil(t, conn, "mic", nil)

	send(t, conn, "mic", map[string]string{"format": "pcm"})
	readUntil(t, conn, "mic", func(raw json.RawMessage) bool {
		var s widgetService.MicState
		return json.Unmarshal(raw, &s) == nil && s.Listening && s.Label == widgetService.MicListeningLabel
	})

	send(t, conn, "audio", map[string]any{"audioData": []byte("pcm-"), "isFinal": false})
	send(t, conn, "audio", map[string]any{"audioData": []byte("audio"), "isFinal": true})

	readUntil(t, conn, "mic", func(raw json.RawMessage) bool {
		var s widgetService.MicState
		return json.Unmarshal(raw, &s) == nil && !s.Listening && s.Label == widgetService.MicIdleLabel
	})
	readUntil(t, conn, "input", func(raw json.RawMessage) bool { return string(raw) == `{"text":"what is gravity"}` })
	readUntil(t, conn, "replace", func(raw json.RawMessage) bool {
		return strings.Contains(string(raw), "[en] answer to what is gravity")
	})
}
