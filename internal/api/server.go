// Package api exposes the question-answering pipeline over HTTP and MCP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"grimoire/internal/chatstore"
	"grimoire/internal/embedding"
	"grimoire/internal/generation"
	"grimoire/internal/pipeline"
	"grimoire/internal/retrieval"
)

const maxRequestBodySize = 1 << 20 // 1MB

// streamTerminator is the last line written on the streaming endpoint,
// emitted exactly once whether the stream succeeds or fails.
const streamTerminator = "[FINISHED]"

// Answerer runs one question through the pipeline. Satisfied by
// *pipeline.Coordinator.
type Answerer interface {
	Answer(ctx context.Context, chatID, question string) (pipeline.Answer, error)
	AnswerStream(ctx context.Context, chatID, question string) (*pipeline.Stream, error)
}

// ChatReader serves the chat history endpoints.
type ChatReader interface {
	ListChats(limit int) ([]chatstore.Chat, error)
	ListMessages(chatID string) ([]chatstore.Message, error)
	DeleteChat(id string) error
}

// NewHandler returns the REST API handler.
func NewHandler(answerer Answerer, chats ChatReader) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Post("/chats/message", handleMessage(answerer))
	r.Post("/chats/message/streaming", handleMessageStreaming(answerer))
	r.Get("/chats", handleListChats(chats))
	r.Get("/chats/{id}/messages", handleListMessages(chats))
	r.Delete("/chats/{id}", handleDeleteChat(chats))

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type messageRequest struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

type messageResponse struct {
	Message string `json:"message"`
	ID      string `json:"id"`
}

func decodeMessageRequest(w http.ResponseWriter, r *http.Request) (messageRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return messageRequest{}, false
	}
	if req.Message == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "message is required and must not be empty")
		return messageRequest{}, false
	}
	return req, true
}

func handleMessage(answerer Answerer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeMessageRequest(w, r)
		if !ok {
			return
		}

		started := time.Now()
		answer, err := answerer.Answer(r.Context(), req.ID, req.Message)
		if err != nil {
			pipelineError(w, err)
			return
		}
		slog.Debug("answered message", "chat_id", answer.ChatID, "duration_ms", time.Since(started).Milliseconds())

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(messageResponse{
			Message: answer.Message,
			ID:      answer.ChatID,
		})
	}
}

func handleMessageStreaming(answerer Answerer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeMessageRequest(w, r)
		if !ok {
			return
		}

		flusher, flusherOK := w.(http.Flusher)
		if !flusherOK {
			httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
			return
		}

		stream, err := answerer.AnswerStream(r.Context(), req.ID, req.Message)
		if err != nil {
			pipelineError(w, err)
			return
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("X-Chat-ID", stream.ChatID)
		w.WriteHeader(http.StatusOK)

		for chunk := range stream.Chunks {
			if chunk.Err != nil {
				slog.Error("stream failed mid-flight", "chat_id", stream.ChatID, "error", chunk.Err)
				fmt.Fprintf(w, "\nerror: %v\n", chunk.Err)
				flusher.Flush()
				break
			}
			fmt.Fprint(w, chunk.Content)
			flusher.Flush()
		}

		fmt.Fprint(w, streamTerminator)
		flusher.Flush()
	}
}

type chatSummary struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CreatedAt string `json:"created_at"`
}

func handleListChats(chats ChatReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := chats.ListChats(0)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing chats: %v", err)
			return
		}

		out := make([]chatSummary, len(list))
		for i, c := range list {
			out[i] = chatSummary{
				ID:        c.ID,
				Title:     c.Title,
				CreatedAt: c.CreatedAt.Format(time.RFC3339),
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	}
}

type messageSummary struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

func handleListMessages(chats ChatReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		messages, err := chats.ListMessages(id)
		if err != nil {
			pipelineError(w, err)
			return
		}

		out := make([]messageSummary, len(messages))
		for i, m := range messages {
			out[i] = messageSummary{
				ID:        m.ID,
				Role:      m.Role,
				Content:   m.Content,
				CreatedAt: m.CreatedAt.Format(time.RFC3339),
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	}
}

func handleDeleteChat(chats ChatReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		if err := chats.DeleteChat(id); err != nil {
			pipelineError(w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// pipelineError maps domain errors to HTTP status codes.
func pipelineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chatstore.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found_error", "Chat not found")
	case errors.Is(err, embedding.ErrUnavailable):
		httpError(w, http.StatusServiceUnavailable, "api_error", "embedding backend unavailable: %v", err)
	case errors.Is(err, generation.ErrGenerationFailed):
		httpError(w, http.StatusBadGateway, "api_error", "generation failed: %v", err)
	case errors.Is(err, retrieval.ErrEmptyCorpus):
		httpError(w, http.StatusInternalServerError, "api_error", "no corpus loaded")
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "internal error: %v", err)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
