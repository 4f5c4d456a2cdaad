package conversation

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/studydesk/internal/model/chat"
	chatservice "github.com/zhouzirui/studydesk/internal/service/chat"
)

func setupRouter() (*chi.Mux, *chatservice.Service) {
	chatSvc := chatservice.NewService(chatservice.NewMemoryStore())
	handler := New(chatSvc)

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r, chatSvc
}

func doRequest(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
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

func decode[T any](t *testing.T, resp *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v (%s)", err, resp.Body.String())
	}
	return out
}

func TestCreateConversation(t *testing.T) {
	r, _ := setupRouter()

	resp := doRequest(r, http.MethodPost, "/context/conversations", map[string]string{"name": "Geometry"})
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.Code)
	}
	conv := decode[chat.ConversationResponse](t, resp)
	if conv.SessionID == "" || conv.Name != "Geometry" {
		t.Fatalf("unexpected conversation: %+v", conv)
	}
}

func TestCreateConversationEmptyBody(t *testing.T) {
	r, _ := setupRouter()

	resp := doRequest(r, http.MethodPost, "/context/conversations", nil)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.Code)
	}
	if conv := decode[chat.ConversationResponse](t, resp); conv.Name != chatservice.DefaultName {
		t.Fatalf("expected default name, got %q", conv.Name)
	}
}

func TestCreateConversationInvalidBody(t *testing.T) {
	r, _ := setupRouter()

	req := httptest.NewRequest(http.MethodPost, "/context/conversations", bytes.NewReader([]byte(`{`)))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestCreateConversationDuplicateID(t *testing.T) {
	r, _ := setupRouter()

	body := map[string]string{"session_id": "fixed"}
	if resp := doRequest(r, http.MethodPost, "/context/conversations", body); resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.Code)
	}
	if resp := doRequest(r, http.MethodPost, "/context/conversations", body); resp.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.Code)
	}
}

func TestGetRenameDeleteConversation(t *testing.T) {
	r, _ := setupRouter()
	conv := decode[chat.ConversationResponse](t, doRequest(r, http.MethodPost, "/context/conversations", nil))
	path := "/context/conversations/" + conv.SessionID

	if resp := doRequest(r, http.MethodGet, path, nil); resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	resp := doRequest(r, http.MethodPatch, path, map[string]string{"name": "Statistics"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if renamed := decode[chat.ConversationResponse](t, resp); renamed.Name != "Statistics" {
		t.Fatalf("unexpected name: %s", renamed.Name)
	}

	if resp := doRequest(r, http.MethodDelete, path, nil); resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if resp := doRequest(r, http.MethodGet, path, nil); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", resp.Code)
	}
	if resp := doRequest(r, http.MethodDelete, path, nil); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", resp.Code)
	}
}

func TestRenameMissingConversation(t *testing.T) {
	r, _ := setupRouter()

	resp := doRequest(r, http.MethodPatch, "/context/conversations/missing", map[string]string{"name": "x"})
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
	if body := decode[map[string]string](t, resp); body["error"] == "" {
		t.Fatal("expected error message in body")
	}
}

func TestClearContextKeepsConversation(t *testing.T) {
	r, svc := setupRouter()
	conv := decode[chat.ConversationResponse](t, doRequest(r, http.MethodPost, "/context/conversations", nil))

	if _, err := svc.SubmitTurn(t.Context(), conv.SessionID, chat.StreamRequest{Message: "hi"}); err != nil {
		t.Fatalf("SubmitTurn err: %v", err)
	}

	if resp := doRequest(r, http.MethodDelete, "/context/conversations/"+conv.SessionID+"/context", nil); resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	got := decode[chat.ConversationResponse](t, doRequest(r, http.MethodGet, "/context/conversations/"+conv.SessionID, nil))
	if len(got.Messages) != 0 {
		t.Fatalf("expected empty transcript, got %d", len(got.Messages))
	}
	if resp := doRequest(r, http.MethodDelete, "/context/conversations/missing/context", nil); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestListConversations(t *testing.T) {
	r, _ := setupRouter()
	doRequest(r, http.MethodPost, "/context/conversations", map[string]string{"name": "a"})
	doRequest(r, http.MethodPost, "/context/conversations", map[string]string{"name": "b"})

	resp := doRequest(r, http.MethodGet, "/context/conversations", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if list := decode[[]chat.ConversationResponse](t, resp); len(list) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(list))
	}
}
