package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/smartguard/internal/model/chat"
	model "github.com/zhouzirui/smartguard/internal/model/language"
	speechmodel "github.com/zhouzirui/smartguard/internal/model/speech"
	"github.com/zhouzirui/smartguard/internal/service/speech"
	"github.com/zhouzirui/smartguard/internal/service/widget"
)

type replyFunc func(ctx context.Context, message, lang string) (string, error)

func (f replyFunc) Reply(ctx context.Context, message, lang string) (string, error) {
	return f(ctx, message, lang)
}

type recognizerFunc func(ctx context.Context, req *speechmodel.ASRRequest) (*speechmodel.ASRResponse, error)

func (f recognizerFunc) Recognize(ctx context.Context, req *speechmodel.ASRRequest) (*speechmodel.ASRResponse, error) {
	return f(ctx, req)
}

func setupRouter(t *testing.T, replier replyFunc) (*chi.Mux, *widget.Registry) {
	t.Helper()
	return setupRouterWithDeps(t, widget.Deps{Replier: replier})
}

func setupRouterWithDeps(t *testing.T, deps widget.Deps) (*chi.Mux, *widget.Registry) {
	t.Helper()
	registry := widget.NewRegistry(context.Background(), deps, model.English)
	t.Cleanup(registry.CloseAll)

	r := chi.NewRouter()
	New(registry, nil).RegisterRoutes(r)
	return r, registry
}

func do(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var payload []byte
	if body != nil {
		payload, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func createSession(t *testing.T, r http.Handler, lang string) widget.Snapshot {
	t.Helper()
	resp := do(r, http.MethodPost, "/sessions", map[string]string{"language": lang})
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var snap widget.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return snap
}

func TestCreateSession(t *testing.T) {
	r, registry := setupRouter(t, nil)

	snap := createSession(t, r, "fr")
	if snap.Language != model.French {
		t.Fatalf("expected fr, got %s", snap.Language)
	}
	if len(snap.Transcript) != 1 || snap.Transcript[0].Text != model.Greeting(model.French) {
		t.Fatalf("expected french greeting, got %+v", snap.Transcript)
	}
	if snap.State != chat.TurnIdle {
		t.Fatalf("new session must be idle, got %s", snap.State)
	}
	if registry.Len() != 1 {
		t.Fatalf("expected session to be registered")
	}

	resp := do(r, http.MethodPost, "/sessions", nil)
	if resp.Code != http.StatusCreated {
		t.Fatalf("empty body must use the default language, got %d", resp.Code)
	}
}

func TestCreateSessionUnsupportedLanguage(t *testing.T) {
	r, _ := setupRouter(t, nil)
	resp := do(r, http.MethodPost, "/sessions", map[string]string{"language": "pt"})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestRunTurn(t *testing.T) {
	var got chat.Request
	r, _ := setupRouter(t, func(_ context.Context, message, lang string) (string, error) {
		got = chat.Request{Message: message, Language: lang}
		return "Photosynthesis is how plants make food from sunlight.", nil
	})
	snap := createSession(t, r, "en")

	resp := do(r, http.MethodPost, "/sessions/"+snap.ID+"/turns", map[string]string{"message": "What is photosynthesis?"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var out turnResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if got.Message != "What is photosynthesis?" || got.Language != "en" {
		t.Fatalf("unexpected endpoint request %+v", got)
	}
	if out.Turn.Reply != "Photosynthesis is how plants make food from sunlight." || out.Turn.Fallback {
		t.Fatalf("unexpected turn %+v", out.Turn)
	}
	if len(out.Transcript) != 3 || out.Transcript[2].Placeholder {
		t.Fatalf("expected greeting, question and reply, got %+v", out.Transcript)
	}
}

func TestRunTurnFallback(t *testing.T) {
	r, _ := setupRouter(t, func(context.Context, string, string) (string, error) {
		return "", errors.New("status 500")
	})
	snap := createSession(t, r, "en")

	resp := do(r, http.MethodPost, "/sessions/"+snap.ID+"/turns", map[string]string{"message": "hi"})
	if resp.Code != http.StatusOK {
		t.Fatalf("endpoint failure must not surface, got %d", resp.Code)
	}
	var out turnResponse
	json.NewDecoder(resp.Body).Decode(&out)
	if !out.Turn.Fallback || out.Transcript[2].Text != chat.FallbackReply {
		t.Fatalf("expected fallback, got %+v", out)
	}
}

func TestRunTurnValidation(t *testing.T) {
	r, _ := setupRouter(t, func(context.Context, string, string) (string, error) {
		t.Fatalf("endpoint must not be called")
		return "", nil
	})
	snap := createSession(t, r, "en")

	if resp := do(r, http.MethodPost, "/sessions/"+snap.ID+"/turns", map[string]string{"message": "   "}); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank message, got %d", resp.Code)
	}
	if resp := do(r, http.MethodPost, "/sessions/missing/turns", map[string]string{"message": "hi"}); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown session, got %d", resp.Code)
	}
}

func TestChangeLanguage(t *testing.T) {
	r, _ := setupRouter(t, nil)
	snap := createSession(t, r, "en")
	path := "/sessions/" + snap.ID + "/language"

	resp := do(r, http.MethodPut, path, map[string]string{"language": "es"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var updated widget.Snapshot
	json.NewDecoder(resp.Body).Decode(&updated)
	if updated.Language != model.Spanish {
		t.Fatalf("expected es, got %s", updated.Language)
	}
	last := updated.Transcript[len(updated.Transcript)-1]
	if last.Text != model.Greeting(model.Spanish) {
		t.Fatalf("expected spanish greeting, got %q", last.Text)
	}

	if resp := do(r, http.MethodPut, path, map[string]string{"language": "klingon"}); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestTranscriptAndDelete(t *testing.T) {
	r, registry := setupRouter(t, nil)
	snap := createSession(t, r, "de")

	resp := do(r, http.MethodGet, "/sessions/"+snap.ID+"/transcript", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var body struct {
		SessionID string         `json:"sessionId"`
		Messages  []chat.Message `json:"messages"`
	}
	json.NewDecoder(resp.Body).Decode(&body)
	if body.SessionID != snap.ID || len(body.Messages) != 1 {
		t.Fatalf("unexpected transcript %+v", body)
	}

	if resp := do(r, http.MethodDelete, "/sessions/"+snap.ID, nil); resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.Code)
	}
	if registry.Len() != 0 {
		t.Fatalf("session must be removed")
	}
	if resp := do(r, http.MethodGet, "/sessions/"+snap.ID+"/transcript", nil); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", resp.Code)
	}
}

func voiceRequest(t *testing.T, path, filename string, audio []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("audio", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	part.Write(audio)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestVoiceTurn(t *testing.T) {
	var gotReq *speechmodel.ASRRequest
	recognizer := recognizerFunc(func(_ context.Context, req *speechmodel.ASRRequest) (*speechmodel.ASRResponse, error) {
		gotReq = req
		return &speechmodel.ASRResponse{Text: "was ist Photosynthese"}, nil
	})
	r, _ := setupRouterWithDeps(t, widget.Deps{
		Replier: replyFunc(func(_ context.Context, message, lang string) (string, error) {
			return lang + ": " + message, nil
		}),
		Input: speech.NewInputAdapter(recognizer, nil),
	})
	snap := createSession(t, r, "de")

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, voiceRequest(t, "/sessions/"+snap.ID+"/voice", "question.webm", []byte("webm-audio")))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var out voiceResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Text != "was ist Photosynthese" || out.Turn.Reply != "de: was ist Photosynthese" {
		t.Fatalf("unexpected response %+v", out)
	}
	if gotReq.Format != "webm" || gotReq.Language != "de-DE" || string(gotReq.AudioData) != "webm-audio" {
		t.Fatalf("unexpected recognition request %+v", gotReq)
	}
}

func TestVoiceTurnErrors(t *testing.T) {
	r, _ := setupRouter(t, nil)
	snap := createSession(t, r, "en")
	path := "/sessions/" + snap.ID + "/voice"

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, voiceRequest(t, path, "a.wav", []byte("audio")))
	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 without recognizer, got %d", resp.Code)
	}
	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	if body["code"] != speech.CodeNotAllowed {
		t.Fatalf("expected not-allowed, got %v", body)
	}

	if resp := do(r, http.MethodPost, path, map[string]string{"audio": "x"}); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-multipart body, got %d", resp.Code)
	}
}

func TestInferAudioFormat(t *testing.T) {
	cases := map[string]string{
		"a.MP3":  "mp3",
		"b.webm": "webm",
		"c":      "wav",
		"d.flac": "wav",
		"e.ogg":  "ogg",
	}
	for name, want := range cases {
		if got := inferAudioFormat(name); got != want {
			t.Fatalf("inferAudioFormat(%q) = %q, want %q", name, got, want)
		}
	}
}
