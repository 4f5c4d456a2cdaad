package utils

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}

	tests := []struct {
		name       string
		body       string
		allowEmpty bool
		want       string
		wantErr    error
		anyErr     bool
	}{
		{name: "valid", body: `{"name":"物理"}`, want: "物理"},
		{name: "empty allowed", body: "", allowEmpty: true},
		{name: "empty rejected", body: "", wantErr: ErrEmptyBody},
		{name: "malformed", body: "{", anyErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var got payload
			err := DecodeJSON(httptest.NewRecorder(), req, &got, tt.allowEmpty)
			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
			case tt.anyErr:
				if err == nil {
					t.Fatal("expected an error")
				}
			default:
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if got.Name != tt.want {
					t.Fatalf("expected %q, got %q", tt.want, got.Name)
				}
			}
		})
	}
}

func TestRespondHelpers(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, http.StatusNotFound, "session not found")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "session not found" {
		t.Fatalf("unexpected body %v", body)
	}

	rec = httptest.NewRecorder()
	RespondMessage(rec, http.StatusOK, "context cleared")
	body = nil
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["message"] != "context cleared" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestSendSSEChunk(t *testing.T) {
	rec := httptest.NewRecorder()
	SetupSSEHeaders(rec)
	if err := SendSSEChunk(rec, rec, map[string]string{"type": "start"}); err != nil {
		t.Fatalf("SendSSEChunk err: %v", err)
	}
	if got := rec.Body.String(); got != "data: {\"type\":\"start\"}\n\n" {
		t.Fatalf("unexpected frame %q", got)
	}
	if !rec.Flushed {
		t.Fatal("expected flush after each frame")
	}
	if rec.Header().Get("Content-Type") != "text/event-stream" {
		t.Fatal("missing event-stream content type")
	}
}
