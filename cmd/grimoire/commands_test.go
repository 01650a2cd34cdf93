package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"Chat not found","type":"not_found_error"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

func TestAskRequest(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /chats/message": `{"message":"Roll a d20.","id":"chat-1"}`,
	})

	client := ts.client()
	resp, err := client.post(ctx, "/chats/message", map[string]string{"message": "How do I attack?"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]string
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if result["message"] != "Roll a d20." {
		t.Errorf("message = %q", result["message"])
	}
	if result["id"] != "chat-1" {
		t.Errorf("id = %q", result["id"])
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}

	r := ts.requests[0]
	if r.Method != "POST" || r.Path != "/chats/message" {
		t.Errorf("request = %s %s", r.Method, r.Path)
	}

	var body map[string]string
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["message"] != "How do I attack?" {
		t.Errorf("body.message = %q", body["message"])
	}
	if _, ok := body["id"]; ok {
		t.Error("body.id present for a new chat")
	}
}

func TestAskCommand_MissingQuestion(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"ask"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for missing question")
	}
}

func TestChatsListRequest(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /chats": `[{"id":"a","title":"first","created_at":"2025-06-01T12:00:00Z"}]`,
	})

	client := ts.client()
	resp, err := client.get(ctx, "/chats")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var chats []map[string]string
	if err := decodeJSON(resp, &chats); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(chats) != 1 || chats[0]["title"] != "first" {
		t.Errorf("chats = %+v", chats)
	}
}

func TestDeleteRequest_NotFound(t *testing.T) {
	ts := newTestServer(t, map[string]string{})

	client := ts.client()
	resp, err := client.delete(ctx, "/chats/nope")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 404 {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestDecodeJSON_ErrorBody(t *testing.T) {
	ts := newTestServer(t, map[string]string{})

	client := ts.client()
	resp, err := client.get(ctx, "/chats/nope/messages")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var v any
	decodeErr := decodeJSON(resp, &v)
	if decodeErr == nil {
		t.Fatal("expected error for 404 response")
	}
	if !strings.Contains(decodeErr.Error(), "404") {
		t.Errorf("error = %q, want status code in message", decodeErr)
	}
}

func TestColorize(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	if got := colorize(colorGreen, "ok"); got != "ok" {
		t.Errorf("colorize with noColor=true = %q", got)
	}

	noColor = false
	if got := colorize(colorGreen, "ok"); !strings.Contains(got, "\033[") {
		t.Errorf("colorize with noColor=false = %q, want ANSI codes", got)
	}
}
