package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Message is one entry of the model context sent to the LLM service.
type Message struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is a model-requested tool invocation carried in a stream frame.
type ToolCall struct {
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

type GenerateRequest struct {
	SessionID   string    `json:"session_id"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type GenerateResponse struct {
	Text       string `json:"text"`
	TokensUsed int    `json:"tokens_used,omitempty"`
}

// Chunk is one SSE data frame of a streaming generation.
type Chunk struct {
	Chunk        string     `json:"chunk"`
	Done         bool       `json:"done"`
	FullResponse string     `json:"full_response,omitempty"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
}

type LLMClient struct {
	client  *http.Client
	timeout time.Duration
}

// NewLLMClient builds a generation client. timeout bounds a single call,
// streaming included; zero means 60s.
func NewLLMClient(client *http.Client, timeout time.Duration) *LLMClient {
	if client == nil {
		client = &http.Client{}
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &LLMClient{client: client, timeout: timeout}
}

// Generate runs a one-shot, non-streaming generation.
func (c *LLMClient) Generate(ctx context.Context, baseURL string, genReq GenerateRequest) (GenerateResponse, error) {
	genReq.Stream = false

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.post(ctx, baseURL, genReq)
	if err != nil {
		return GenerateResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return GenerateResponse{}, statusError("llm", resp)
	}

	var out GenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return GenerateResponse{}, fmt.Errorf("llm: decode response: %w", err)
	}
	return out, nil
}

// GenerateStream runs a streaming generation and calls onChunk for every
// decoded SSE data frame, terminal frame included. onChunk returning an
// error stops the stream and surfaces that error. The reader stops after
// the first frame with done set.
func (c *LLMClient) GenerateStream(ctx context.Context, baseURL string, genReq GenerateRequest, onChunk func(Chunk) error) error {
	genReq.Stream = true

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.post(ctx, baseURL, genReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError("llm", resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var chunk Chunk
		if err := json.Unmarshal([]byte(line[len("data: "):]), &chunk); err != nil {
			return fmt.Errorf("llm: decode stream frame: %w", err)
		}
		if err := onChunk(chunk); err != nil {
			return err
		}
		if chunk.Done {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		// The deadline firing mid-stream shows up as a read error here.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("llm: read stream: %w", err)
	}
	return errors.New("llm: stream ended without done frame")
}

func (c *LLMClient) post(ctx context.Context, baseURL string, genReq GenerateRequest) (*http.Response, error) {
	payload, err := json.Marshal(genReq)
	if err != nil {
		return nil, fmt.Errorf("llm: marshal request: %w", err)
	}
	url := strings.TrimRight(baseURL, "/") + "/generate/"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("llm: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llm: request failed: %w", err)
	}
	return resp, nil
}
