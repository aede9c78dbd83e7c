package adapters

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/af-corp/meridian-gateway/internal/config"
	"github.com/af-corp/meridian-gateway/internal/types"
)

// anthropicDefaultMaxTokens is applied when the caller leaves MaxTokens
// unset; the Messages API requires it.
const anthropicDefaultMaxTokens = 4096

// AnthropicAdapter talks to the Anthropic Messages API.
type AnthropicAdapter struct {
	name   string
	cfg    config.ProviderConfig
	client *http.Client
}

func NewAnthropicAdapter(name string, cfg config.ProviderConfig, client *http.Client) *AnthropicAdapter {
	return &AnthropicAdapter{name: name, cfg: cfg, client: client}
}

func (a *AnthropicAdapter) Name() string { return a.name }

func (a *AnthropicAdapter) SupportsStreaming() bool { return true }

func (a *AnthropicAdapter) Complete(ctx context.Context, req *types.Request) (*types.Response, error) {
	started := time.Now()

	httpReq, err := a.buildRequest(ctx, req, false)
	if err != nil {
		return nil, types.NewGatewayError(types.ErrInvalidRequest, a.name, "build request: "+err.Error(), err)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(a.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportError(a.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatusError(a.name, resp, body)
	}

	var antResp anthropicResponseBody
	if err := json.Unmarshal(body, &antResp); err != nil {
		return nil, types.NewGatewayError(types.ErrAPI, a.name, "unmarshal response: "+err.Error(), err)
	}

	var content strings.Builder
	for _, block := range antResp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	finishReason := mapStopReason(antResp.StopReason)
	return &types.Response{
		RequestID: req.RequestID,
		Text:      content.String(),
		Provider:  a.name,
		Model:     antResp.Model,
		Usage: types.Usage{
			PromptTokens:     antResp.Usage.InputTokens,
			CompletionTokens: antResp.Usage.OutputTokens,
			TotalTokens:      antResp.Usage.InputTokens + antResp.Usage.OutputTokens,
		},
		Confidence:   confidenceFor(finishReason),
		ProcessingMs: time.Since(started).Milliseconds(),
		Metadata:     map[string]string{"finish_reason": finishReason},
	}, nil
}

func (a *AnthropicAdapter) Stream(ctx context.Context, req *types.Request) (<-chan Chunk, error) {
	httpReq, err := a.buildRequest(ctx, req, true)
	if err != nil {
		return nil, types.NewGatewayError(types.ErrInvalidRequest, a.name, "build request: "+err.Error(), err)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(a.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, classifyStatusError(a.name, resp, body)
	}

	out := make(chan Chunk)
	go a.pumpSSE(resp, out)
	return out, nil
}

// pumpSSE converts Anthropic streaming events (message_start,
// content_block_delta, message_delta, message_stop) into uniform chunks.
func (a *AnthropicAdapter) pumpSSE(resp *http.Response, out chan<- Chunk) {
	defer close(out)
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var finishReason string
	usage := &types.Usage{}

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		var event anthropicStreamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue
		}

		switch event.Type {
		case "message_start":
			usage.PromptTokens = event.Message.Usage.InputTokens
		case "content_block_delta":
			if event.Delta.Type == "text_delta" && event.Delta.Text != "" {
				out <- Chunk{Kind: ChunkTextDelta, Text: event.Delta.Text}
			}
		case "message_delta":
			if event.Delta.StopReason != "" {
				finishReason = mapStopReason(event.Delta.StopReason)
			}
			if event.Usage.OutputTokens > 0 {
				usage.CompletionTokens = event.Usage.OutputTokens
			}
		case "message_stop":
			usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
			out <- Chunk{Kind: ChunkCompletion, FinishReason: finishReason, Usage: usage}
			return
		case "error":
			out <- Chunk{Kind: ChunkError, Err: types.NewGatewayError(types.ErrAPI, a.name,
				"stream error: "+event.Error.Message, nil)}
			return
		}
		// content_block_start, content_block_stop and ping carry nothing we need
	}

	if err := scanner.Err(); err != nil {
		out <- Chunk{Kind: ChunkError, Err: classifyTransportError(a.name, err)}
		return
	}
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	out <- Chunk{Kind: ChunkCompletion, FinishReason: finishReason, Usage: usage}
}

func (a *AnthropicAdapter) buildRequest(ctx context.Context, req *types.Request, stream bool) (*http.Request, error) {
	// System messages ride in a dedicated field on the Messages API.
	var system string
	var messages []anthropicMessage
	for _, m := range req.Messages {
		if m.Role == types.RoleSystem {
			system = m.Content
			continue
		}
		messages = append(messages, anthropicMessage{Role: m.Role, Content: m.Content})
	}

	maxTokens := req.Config.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}

	body := anthropicRequestBody{
		Model:       req.Config.Model,
		Messages:    messages,
		System:      system,
		MaxTokens:   maxTokens,
		Stream:      stream,
		Temperature: req.Config.Temperature,
		TopP:        req.Config.TopP,
		Stop:        req.Config.Stop,
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := a.cfg.BaseURL + "/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.cfg.APIKey)
	if a.cfg.APIVersion != "" {
		httpReq.Header.Set("anthropic-version", a.cfg.APIVersion)
	}
	for k, v := range a.cfg.Headers {
		if v != "" {
			httpReq.Header.Set(k, v)
		}
	}

	return httpReq, nil
}

func mapStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	default:
		return reason
	}
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequestBody struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Stream      bool               `json:"stream,omitempty"`
	Temperature *float64           `json:"temperature,omitempty"`
	TopP        *float64           `json:"top_p,omitempty"`
	Stop        []string           `json:"stop_sequences,omitempty"`
}

type anthropicResponseBody struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Role    string `json:"role"`
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type anthropicStreamEvent struct {
	Type    string `json:"type"`
	Index   int    `json:"index"`
	Message struct {
		Usage struct {
			InputTokens int `json:"input_tokens"`
		} `json:"usage"`
	} `json:"message"`
	Delta struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Usage struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}
