package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"grimoire/internal/chatstore"
	"grimoire/internal/embedding"
	"grimoire/internal/generation"
	"grimoire/internal/pipeline"
	"grimoire/internal/retrieval"
)

// --- mocks ---

type mockAnswerer struct {
	answer    pipeline.Answer
	err       error
	chunks    []generation.Chunk
	streamErr error
	lastChat  string
	lastQ     string
}

func (m *mockAnswerer) Answer(_ context.Context, chatID, question string) (pipeline.Answer, error) {
	m.lastChat, m.lastQ = chatID, question
	return m.answer, m.err
}

func (m *mockAnswerer) AnswerStream(_ context.Context, chatID, question string) (*pipeline.Stream, error) {
	m.lastChat, m.lastQ = chatID, question
	if m.streamErr != nil {
		return nil, m.streamErr
	}
	ch := make(chan generation.Chunk, len(m.chunks))
	for _, c := range m.chunks {
		ch <- c
	}
	close(ch)
	return &pipeline.Stream{ChatID: "chat-1", Chunks: ch}, nil
}

type mockChatReader struct {
	chats     []chatstore.Chat
	messages  []chatstore.Message
	err       error
	deletedID string
}

func (m *mockChatReader) ListChats(_ int) ([]chatstore.Chat, error) {
	return m.chats, m.err
}

func (m *mockChatReader) ListMessages(_ string) ([]chatstore.Message, error) {
	return m.messages, m.err
}

func (m *mockChatReader) DeleteChat(id string) error {
	m.deletedID = id
	return m.err
}

// --- helpers ---

func doRequest(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func errType(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding error body %q: %v", rec.Body.String(), err)
	}
	return body.Error.Type
}

// --- tests ---

func TestHealth(t *testing.T) {
	h := NewHandler(&mockAnswerer{}, &mockChatReader{})
	rec := doRequest(t, h, http.MethodGet, "/health", "")

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestMessage(t *testing.T) {
	answerer := &mockAnswerer{answer: pipeline.Answer{Message: "Fire damage.", ChatID: "chat-1"}}
	h := NewHandler(answerer, &mockChatReader{})

	rec := doRequest(t, h, http.MethodPost, "/chats/message", `{"message":"What does Fireball do?"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp messageResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Message != "Fire damage." || resp.ID != "chat-1" {
		t.Errorf("response = %+v", resp)
	}
	if answerer.lastQ != "What does Fireball do?" {
		t.Errorf("question = %q", answerer.lastQ)
	}
}

func TestMessage_ForwardsChatID(t *testing.T) {
	answerer := &mockAnswerer{answer: pipeline.Answer{Message: "ok", ChatID: "existing"}}
	h := NewHandler(answerer, &mockChatReader{})

	doRequest(t, h, http.MethodPost, "/chats/message", `{"id":"existing","message":"follow-up"}`)
	if answerer.lastChat != "existing" {
		t.Errorf("chat id = %q", answerer.lastChat)
	}
}

func TestMessage_EmptyMessage(t *testing.T) {
	h := NewHandler(&mockAnswerer{}, &mockChatReader{})

	rec := doRequest(t, h, http.MethodPost, "/chats/message", `{"message":""}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
	if got := errType(t, rec); got != "invalid_request_error" {
		t.Errorf("error type = %q", got)
	}
}

func TestMessage_InvalidJSON(t *testing.T) {
	h := NewHandler(&mockAnswerer{}, &mockChatReader{})

	rec := doRequest(t, h, http.MethodPost, "/chats/message", `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestMessage_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unknown chat", chatstore.ErrNotFound, http.StatusNotFound},
		{"embedder down", embedding.ErrUnavailable, http.StatusServiceUnavailable},
		{"generation failed", generation.ErrGenerationFailed, http.StatusBadGateway},
		{"empty corpus", retrieval.ErrEmptyCorpus, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(&mockAnswerer{err: tt.err}, &mockChatReader{})
			rec := doRequest(t, h, http.MethodPost, "/chats/message", `{"message":"q"}`)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestMessage_NotFoundBody(t *testing.T) {
	h := NewHandler(&mockAnswerer{err: chatstore.ErrNotFound}, &mockChatReader{})

	rec := doRequest(t, h, http.MethodPost, "/chats/message", `{"id":"gone","message":"q"}`)
	if !strings.Contains(rec.Body.String(), "Chat not found") {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestMessageStreaming(t *testing.T) {
	answerer := &mockAnswerer{chunks: []generation.Chunk{
		{Content: "It deals"},
		{Content: " fire damage."},
	}}
	h := NewHandler(answerer, &mockChatReader{})

	rec := doRequest(t, h, http.MethodPost, "/chats/message/streaming", `{"message":"fire?"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q", ct)
	}
	if got := rec.Header().Get("X-Chat-ID"); got != "chat-1" {
		t.Errorf("X-Chat-ID = %q", got)
	}

	body := rec.Body.String()
	if body != "It deals fire damage.[FINISHED]" {
		t.Errorf("body = %q", body)
	}
	if strings.Count(body, streamTerminator) != 1 {
		t.Errorf("terminator appears %d times", strings.Count(body, streamTerminator))
	}
}

func TestMessageStreaming_ErrorMidStream(t *testing.T) {
	answerer := &mockAnswerer{chunks: []generation.Chunk{
		{Content: "partial"},
		{Err: generation.ErrGenerationFailed},
	}}
	h := NewHandler(answerer, &mockChatReader{})

	rec := doRequest(t, h, http.MethodPost, "/chats/message/streaming", `{"message":"q"}`)
	// Headers are already out; the error is reported in-band and the
	// terminator still closes the stream.
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}

	body := rec.Body.String()
	if !strings.Contains(body, "partial") || !strings.Contains(body, "error:") {
		t.Errorf("body = %q", body)
	}
	if !strings.HasSuffix(body, streamTerminator) {
		t.Errorf("body does not end with terminator: %q", body)
	}
	if strings.Count(body, streamTerminator) != 1 {
		t.Errorf("terminator appears %d times", strings.Count(body, streamTerminator))
	}
}

func TestMessageStreaming_StartError(t *testing.T) {
	answerer := &mockAnswerer{streamErr: chatstore.ErrNotFound}
	h := NewHandler(answerer, &mockChatReader{})

	rec := doRequest(t, h, http.MethodPost, "/chats/message/streaming", `{"id":"gone","message":"q"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), streamTerminator) {
		t.Errorf("terminator written on a failed start: %q", rec.Body.String())
	}
}

func TestListChats(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	reader := &mockChatReader{chats: []chatstore.Chat{
		{ID: "a", Title: "first", CreatedAt: now},
		{ID: "b", Title: "second", CreatedAt: now},
	}}
	h := NewHandler(&mockAnswerer{}, reader)

	rec := doRequest(t, h, http.MethodGet, "/chats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var got []chatSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(got) != 2 || got[0].ID != "a" || got[0].CreatedAt != "2025-06-01T12:00:00Z" {
		t.Errorf("got %+v", got)
	}
}

func TestListMessages(t *testing.T) {
	reader := &mockChatReader{messages: []chatstore.Message{
		{ID: "m1", Role: "user", Content: "q"},
		{ID: "m2", Role: "assistant", Content: "a"},
	}}
	h := NewHandler(&mockAnswerer{}, reader)

	rec := doRequest(t, h, http.MethodGet, "/chats/chat-1/messages", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var got []messageSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(got) != 2 || got[0].Role != "user" || got[1].Content != "a" {
		t.Errorf("got %+v", got)
	}
}

func TestListMessages_UnknownChat(t *testing.T) {
	h := NewHandler(&mockAnswerer{}, &mockChatReader{err: chatstore.ErrNotFound})

	rec := doRequest(t, h, http.MethodGet, "/chats/nope/messages", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestDeleteChat(t *testing.T) {
	reader := &mockChatReader{}
	h := NewHandler(&mockAnswerer{}, reader)

	rec := doRequest(t, h, http.MethodDelete, "/chats/chat-1", "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d", rec.Code)
	}
	if reader.deletedID != "chat-1" {
		t.Errorf("deleted id = %q", reader.deletedID)
	}
}

func TestDeleteChat_NotFound(t *testing.T) {
	h := NewHandler(&mockAnswerer{}, &mockChatReader{err: chatstore.ErrNotFound})

	rec := doRequest(t, h, http.MethodDelete, "/chats/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d", rec.Code)
	}
}
