// Package generation wraps an OpenAI-compatible chat-completions backend,
// producing either a full answer or an incremental chunk stream.
package generation

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrGenerationFailed wraps any upstream generation failure. No retries
// happen at this layer; retry policy belongs to whoever invokes the
// backend repeatedly.
var ErrGenerationFailed = errors.New("generation failed")

const (
	defaultBaseURL   = "https://api.openai.com/v1"
	defaultTimeout   = 60 * time.Second
	streamingTimeout = 300 * time.Second

	// temperature keeps rules answers close to the retrieved text.
	temperature = 0.1
)

// Chunk is one element of a generation stream. A Chunk with a non-nil Err
// is terminal; the channel is closed right after the final element either
// way, so consumers can always detect completion.
type Chunk struct {
	Content string
	Err     error
}

// Client communicates with an OpenAI-compatible chat-completions API.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewClient creates a Client for the given API key and model.
func NewClient(apiKey, model string) *Client {
	return &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		model:      model,
		httpClient: &http.Client{},
	}
}

// NewClientWithBaseURL creates a Client pointing at a custom base URL
// (self-hosted gateways, tests).
func NewClientWithBaseURL(apiKey, model, baseURL string) *Client {
	c := NewClient(apiKey, model)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

// Message is a chat message in the completions API format.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	Stream      bool      `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Generate sends the system instruction and user turn in one round-trip
// and returns the full answer text.
func (c *Client) Generate(ctx context.Context, system, user string) (string, error) {
	body, err := c.post(ctx, system, user, false, defaultTimeout)
	if err != nil {
		return "", err
	}
	defer body.Close()

	var result chatResponse
	if err := json.NewDecoder(body).Decode(&result); err != nil {
		return "", fmt.Errorf("%w: decoding response: %v", ErrGenerationFailed, err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("%w: response has no choices", ErrGenerationFailed)
	}
	return result.Choices[0].Message.Content, nil
}

type streamEvent struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// GenerateStream sends the same request in streaming mode and returns a
// channel of chunks in generation order. The channel always closes, also
// after upstream failure (the last element then carries the error), so
// consumers never hang waiting for completion. Cancelling ctx abandons the
// upstream call; chunks already emitted are not retracted.
func (c *Client) GenerateStream(ctx context.Context, system, user string) (<-chan Chunk, error) {
	body, err := c.post(ctx, system, user, true, streamingTimeout)
	if err != nil {
		return nil, err
	}

	ch := make(chan Chunk, 16)
	go func() {
		defer close(ch)
		defer body.Close()

		emit := func(chunk Chunk) bool {
			select {
			case ch <- chunk:
				return true
			case <-ctx.Done():
				return false
			}
		}

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "[DONE]" {
				return
			}

			var event streamEvent
			if err := json.Unmarshal([]byte(payload), &event); err != nil {
				emit(Chunk{Err: fmt.Errorf("%w: malformed stream event: %v", ErrGenerationFailed, err)})
				return
			}
			if len(event.Choices) == 0 || event.Choices[0].Delta.Content == "" {
				continue
			}
			if !emit(Chunk{Content: event.Choices[0].Delta.Content}) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			emit(Chunk{Err: fmt.Errorf("%w: reading stream: %v", ErrGenerationFailed, err)})
		}
	}()

	return ch, nil
}

func (c *Client) post(ctx context.Context, system, user string, stream bool, timeout time.Duration) (io.ReadCloser, error) {
	payload, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: temperature,
		Stream:      stream,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: marshaling request: %v", ErrGenerationFailed, err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: creating request: %v", ErrGenerationFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: executing request: %v", ErrGenerationFailed, err)
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("%w: unexpected status %d: %s", ErrGenerationFailed, resp.StatusCode, string(respBody))
	}

	// The timeout context must outlive this call for streaming reads;
	// cancel fires when the caller closes the body.
	return &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}, nil
}

// cancelOnClose wraps a ReadCloser and cancels a context on Close.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
