// Package pipeline ties a query to a persisted chat and runs it through
// the retrieval-augmented generation stages: embed, rank, assemble,
// generate, persist.
package pipeline

import (
	"context"
	"log/slog"
	"strings"

	"grimoire/internal/chatstore"
	"grimoire/internal/composer"
	"grimoire/internal/generation"
	"grimoire/internal/retrieval"
)

// titleRunes is how much of the first question becomes the chat title.
const titleRunes = 20

// ContextRetriever finds the corpus records most relevant to a query.
type ContextRetriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]retrieval.Result, error)
}

// Generator produces answers from the completion backend.
type Generator interface {
	Generate(ctx context.Context, system, user string) (string, error)
	GenerateStream(ctx context.Context, system, user string) (<-chan generation.Chunk, error)
}

// SessionStore is the durable chat session collaborator.
type SessionStore interface {
	CreateChat(title string) (chatstore.Chat, error)
	GetChat(id string) (chatstore.Chat, error)
	AppendMessage(chatID, role, content string) (chatstore.Message, error)
}

// Coordinator runs one query end to end. It holds no per-request state;
// concurrent requests share only the read-only corpus vector cache inside
// the retriever.
type Coordinator struct {
	retriever       ContextRetriever
	generator       Generator
	store           SessionStore
	maxContextChars int
	logger          *slog.Logger
}

// New creates a Coordinator. maxContextChars bounds the assembled context
// block (composer default if <= 0).
func New(retriever ContextRetriever, generator Generator, store SessionStore, maxContextChars int) *Coordinator {
	return &Coordinator{
		retriever:       retriever,
		generator:       generator,
		store:           store,
		maxContextChars: maxContextChars,
		logger:          slog.Default(),
	}
}

// Answer is a completed batch exchange.
type Answer struct {
	Message string
	ChatID  string
}

// Stream is an in-flight streaming exchange. Chunks arrive in generation
// order; the channel closes after the final element. The full exchange is
// persisted only if the stream finishes cleanly.
type Stream struct {
	ChatID string
	Chunks <-chan generation.Chunk
}

// resolveChat returns the existing chat or creates a new one titled with
// the truncated question. An unknown id fails with chatstore.ErrNotFound
// before any side effect.
func (c *Coordinator) resolveChat(chatID, question string) (chatstore.Chat, error) {
	if chatID != "" {
		return c.store.GetChat(chatID)
	}
	return c.store.CreateChat(truncateTitle(question))
}

func truncateTitle(question string) string {
	runes := []rune(strings.TrimSpace(question))
	if len(runes) > titleRunes {
		runes = runes[:titleRunes]
	}
	return string(runes)
}

// buildPrompt runs retrieval and context assembly for the question.
func (c *Coordinator) buildPrompt(ctx context.Context, question string) (string, error) {
	results, err := c.retriever.Retrieve(ctx, question, 0)
	if err != nil {
		return "", err
	}
	contextBlock := composer.AssembleContext(results, c.maxContextChars)
	return composer.UserPrompt(contextBlock, question), nil
}

// Answer runs the full pipeline in batch mode and persists the exchange.
// Pass an empty chatID to start a new conversation.
func (c *Coordinator) Answer(ctx context.Context, chatID, question string) (Answer, error) {
	chat, err := c.resolveChat(chatID, question)
	if err != nil {
		return Answer{}, err
	}

	prompt, err := c.buildPrompt(ctx, question)
	if err != nil {
		return Answer{}, err
	}

	answer, err := c.generator.Generate(ctx, composer.SystemPrompt, prompt)
	if err != nil {
		return Answer{}, err
	}

	c.persistExchange(chat.ID, question, answer)
	return Answer{Message: answer, ChatID: chat.ID}, nil
}

// AnswerStream runs the pipeline in streaming mode. The returned stream's
// chunks mirror the generator's output; the accumulated answer is
// persisted only after a clean finish, so a failed stream never stores a
// truncated assistant turn.
func (c *Coordinator) AnswerStream(ctx context.Context, chatID, question string) (*Stream, error) {
	chat, err := c.resolveChat(chatID, question)
	if err != nil {
		return nil, err
	}

	prompt, err := c.buildPrompt(ctx, question)
	if err != nil {
		return nil, err
	}

	upstream, err := c.generator.GenerateStream(ctx, composer.SystemPrompt, prompt)
	if err != nil {
		return nil, err
	}

	out := make(chan generation.Chunk, 16)
	go func() {
		defer close(out)

		var full strings.Builder
		failed := false
		for chunk := range upstream {
			if chunk.Err != nil {
				failed = true
			} else {
				full.WriteString(chunk.Content)
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				// Consumer is gone; stop pulling so the upstream call
				// gets abandoned.
				return
			}
		}

		if failed {
			c.logger.Warn("discarding partial answer after stream failure", "chat_id", chat.ID)
			return
		}
		c.persistExchange(chat.ID, question, full.String())
	}()

	return &Stream{ChatID: chat.ID, Chunks: out}, nil
}

// persistExchange appends the user question and the assistant answer.
// Store failures are logged, not surfaced: the caller already has the
// answer in hand.
func (c *Coordinator) persistExchange(chatID, question, answer string) {
	if _, err := c.store.AppendMessage(chatID, "user", question); err != nil {
		c.logger.Error("persisting user message", "chat_id", chatID, "error", err)
		return
	}
	if _, err := c.store.AppendMessage(chatID, "assistant", answer); err != nil {
		c.logger.Error("persisting assistant message", "chat_id", chatID, "error", err)
	}
}
