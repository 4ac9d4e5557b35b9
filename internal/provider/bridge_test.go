package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPChatBridge_StreamForwardsSSELines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"choices":[{"delta":{"content":"hi"}}]}`+"\n")
		fmt.Fprint(w, `data: [DONE]`+"\n")
	}))
	defer srv.Close()

	b := NewHTTPChatBridge()
	b.RegisterEndpoint("planner", srv.URL, "key", "gpt-test", false)

	var lines [][]byte
	err := b.Stream(context.Background(), "planner", nil, func(raw []byte) error {
		lines = append(lines, raw)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
}

func TestHTTPChatBridge_UnknownProfileErrors(t *testing.T) {
	b := NewHTTPChatBridge()
	err := b.Stream(context.Background(), "missing", nil, func([]byte) error { return nil })
	if err == nil {
		t.Fatal("expected an error for an unregistered profile")
	}
}

func TestHTTPChatBridge_NonOKStatusErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	b := NewHTTPChatBridge()
	b.RegisterEndpoint("planner", srv.URL, "bad-key", "gpt-test", false)
	if err := b.Stream(context.Background(), "planner", nil, func([]byte) error { return nil }); err == nil {
		t.Fatal("expected an error for a 401 response")
	}
}
