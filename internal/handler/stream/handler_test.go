package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/studydesk/internal/config"
	"github.com/zhouzirui/studydesk/internal/model/chat"
	aiservice "github.com/zhouzirui/studydesk/internal/service/ai"
	chatservice "github.com/zhouzirui/studydesk/internal/service/chat"
)

func setupServer(t *testing.T, aiCfg config.AIConfig, withAI bool) (*httptest.Server, *chatservice.Service) {
	t.Helper()
	chatSvc := chatservice.NewService(chatservice.NewMemoryStore())

	var aiSvc *aiservice.Service
	if withAI {
		aiCfg.Mock = true
		var err error
		aiSvc, err = aiservice.NewService(context.Background(), aiCfg)
		if err != nil {
			t.Fatalf("NewService err: %v", err)
		}
	}

	r := chi.NewRouter()
	New(aiSvc, chatSvc, config.StreamConfig{}).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, chatSvc
}

func createSession(t *testing.T, svc *chatservice.Service) string {
	t.Helper()
	conv, err := svc.CreateConversation(context.Background(), chat.CreateConversationRequest{})
	if err != nil {
		t.Fatalf("CreateConversation err: %v", err)
	}
	return conv.SessionID
}

func postInit(t *testing.T, srv *httptest.Server, sessionID string, req chat.StreamRequest) int {
	t.Helper()
	payload, _ := json.Marshal(req)
	resp, err := http.Post(srv.URL+"/chat/"+sessionID+"/stream", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST err: %v", err)
	}
	defer resp.Body.Close()
	return resp.StatusCode
}

func readSSEFrames(t *testing.T, srv *httptest.Server, sessionID string) []chat.Frame {
	t.Helper()
	return readSSEFramesFor(t, srv, sessionID, "")
}

func readSSEFramesFor(t *testing.T, srv *httptest.Server, sessionID, messageID string) []chat.Frame {
	t.Helper()
	target := srv.URL + "/chat/" + sessionID + "/stream"
	if messageID != "" {
		target += "?message_id=" + messageID
	}
	resp, err := http.Get(target)
	if err != nil {
		t.Fatalf("GET err: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}

	var frames []chat.Frame
	for _, block := range strings.Split(string(body), "\n\n") {
		data, ok := strings.CutPrefix(strings.TrimSpace(block), "data: ")
		if !ok {
			continue
		}
		var frame chat.Frame
		if err := json.Unmarshal([]byte(data), &frame); err != nil {
			t.Fatalf("decode frame %q: %v", data, err)
		}
		frames = append(frames, frame)
	}
	return frames
}

func assembled(t *testing.T, frames []chat.Frame) string {
	t.Helper()
	var text strings.Builder
	for _, frame := range frames {
		if frame.Type != chat.FrameChunk {
			continue
		}
		var data chat.ChunkData
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			t.Fatalf("decode chunk: %v", err)
		}
		text.WriteString(data.Content)
	}
	return text.String()
}

func TestEventStreamDeliversReply(t *testing.T) {
	srv, chatSvc := setupServer(t, config.AIConfig{StreamResponse: true, HistoryLimit: 10}, true)
	sessionID := createSession(t, chatSvc)

	if code := postInit(t, srv, sessionID, chat.StreamRequest{Message: "什么是熵", MessageID: "u-1"}); code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", code)
	}

	frames := readSSEFrames(t, srv, sessionID)
	if len(frames) < 3 {
		t.Fatalf("expected start, chunks and end, got %d frames", len(frames))
	}
	if frames[0].Type != chat.FrameStart || frames[len(frames)-1].Type != chat.FrameEnd {
		t.Fatalf("unexpected frame order: %+v", frames)
	}
	if got := assembled(t, frames); got != "收到：什么是熵" {
		t.Fatalf("unexpected reply: %q", got)
	}

	var end chat.EndData
	if err := json.Unmarshal(frames[len(frames)-1].Data, &end); err != nil {
		t.Fatalf("decode end: %v", err)
	}
	if end.FullText != "收到：什么是熵" || end.SessionID != sessionID {
		t.Fatalf("unexpected end data: %+v", end)
	}

	transcript, err := chatSvc.LoadTranscript(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("LoadTranscript err: %v", err)
	}
	if len(transcript) != 2 {
		t.Fatalf("expected user and assistant messages, got %d", len(transcript))
	}
	if transcript[1].Role != chat.RoleAssistant || transcript[1].ParentMessageID != "u-1" {
		t.Fatalf("unexpected assistant message: %+v", transcript[1])
	}
}

func TestEventStreamPicksTurnByMessageID(t *testing.T) {
	srv, chatSvc := setupServer(t, config.AIConfig{StreamResponse: true, HistoryLimit: 10}, true)
	sessionID := createSession(t, chatSvc)

	postInit(t, srv, sessionID, chat.StreamRequest{Message: "alpha", MessageID: "u-a"})
	postInit(t, srv, sessionID, chat.StreamRequest{Message: "bravo", MessageID: "u-b"})

	if got := assembled(t, readSSEFramesFor(t, srv, sessionID, "u-b")); got != "收到：bravo" {
		t.Fatalf("expected reply to bravo, got %q", got)
	}
	if got := assembled(t, readSSEFramesFor(t, srv, sessionID, "u-a")); got != "收到：alpha" {
		t.Fatalf("expected reply to alpha, got %q", got)
	}

	frames := readSSEFramesFor(t, srv, sessionID, "u-a")
	if len(frames) != 1 || frames[0].Type != chat.FrameError {
		t.Fatalf("expected a taken turn to yield one error frame, got %+v", frames)
	}
}

func TestEventStreamWithoutPendingTurn(t *testing.T) {
	srv, chatSvc := setupServer(t, config.AIConfig{StreamResponse: true}, true)
	sessionID := createSession(t, chatSvc)

	frames := readSSEFrames(t, srv, sessionID)
	if len(frames) != 1 || frames[0].Type != chat.FrameError {
		t.Fatalf("expected a single error frame, got %+v", frames)
	}
	var data chat.ErrorData
	if err := json.Unmarshal(frames[0].Data, &data); err != nil {
		t.Fatalf("decode error frame: %v", err)
	}
	if data.Message == "" {
		t.Fatal("expected error message")
	}
}

func TestEventStreamWithoutAIService(t *testing.T) {
	srv, chatSvc := setupServer(t, config.AIConfig{}, false)
	sessionID := createSession(t, chatSvc)

	if code := postInit(t, srv, sessionID, chat.StreamRequest{Message: "hi"}); code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", code)
	}
	frames := readSSEFrames(t, srv, sessionID)
	if len(frames) != 1 || frames[0].Type != chat.FrameError {
		t.Fatalf("expected a single error frame, got %+v", frames)
	}
}

func TestNonStreamingModelSendsSingleChunk(t *testing.T) {
	srv, chatSvc := setupServer(t, config.AIConfig{StreamResponse: false, HistoryLimit: 10}, true)
	sessionID := createSession(t, chatSvc)

	postInit(t, srv, sessionID, chat.StreamRequest{Message: "hello"})
	frames := readSSEFrames(t, srv, sessionID)

	if len(frames) != 3 || frames[1].Type != chat.FrameChunk {
		t.Fatalf("expected start, one chunk, end; got %+v", frames)
	}
	if got := assembled(t, frames); got != "收到：hello" {
		t.Fatalf("unexpected reply: %q", got)
	}
}

func TestInitValidation(t *testing.T) {
	srv, chatSvc := setupServer(t, config.AIConfig{StreamResponse: true}, true)
	sessionID := createSession(t, chatSvc)

	if code := postInit(t, srv, sessionID, chat.StreamRequest{Message: ""}); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty message, got %d", code)
	}
	if code := postInit(t, srv, "missing", chat.StreamRequest{Message: "hi"}); code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown session, got %d", code)
	}

	resp, err := http.Post(srv.URL+"/chat/"+sessionID+"/stream", "application/json", strings.NewReader("{"))
	if err != nil {
		t.Fatalf("POST err: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", resp.StatusCode)
	}
}

func TestWebSocketDeliversReply(t *testing.T) {
	srv, chatSvc := setupServer(t, config.AIConfig{StreamResponse: true, HistoryLimit: 10}, true)
	sessionID := createSession(t, chatSvc)
	postInit(t, srv, sessionID, chat.StreamRequest{Message: "ws please"})

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/chat/" + sessionID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial err: %v", err)
	}
	defer conn.Close()

	var frames []chat.Frame
	for {
		var frame chat.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				t.Fatalf("read err: %v", err)
			}
			break
		}
		frames = append(frames, frame)
	}

	if frames[0].Type != chat.FrameStart || frames[len(frames)-1].Type != chat.FrameEnd {
		t.Fatalf("unexpected frame order: %+v", frames)
	}
	if got := assembled(t, frames); got != "收到：ws please" {
		t.Fatalf("unexpected reply: %q", got)
	}
}

func TestLimiterDisabledWithoutRate(t *testing.T) {
	h := New(nil, nil, config.StreamConfig{})
	if h.newLimiter() != nil {
		t.Fatal("expected no limiter when rate is zero")
	}

	h = New(nil, nil, config.StreamConfig{ChunkRate: 50})
	limiter := h.newLimiter()
	if limiter == nil || limiter.Burst() != 1 {
		t.Fatalf("expected limiter with burst 1, got %+v", limiter)
	}
}
