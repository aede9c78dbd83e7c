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

// OpenAIAdapter talks to OpenAI-compatible chat completion APIs.
type OpenAIAdapter struct {
	name   string
	cfg    config.ProviderConfig
	client *http.Client
}

func NewOpenAIAdapter(name string, cfg config.ProviderConfig, client *http.Client) *OpenAIAdapter {
	return &OpenAIAdapter{name: name, cfg: cfg, client: client}
}

func (a *OpenAIAdapter) Name() string { return a.name }

func (a *OpenAIAdapter) SupportsStreaming() bool { return true }

func (a *OpenAIAdapter) Complete(ctx context.Context, req *types.Request) (*types.Response, error) {
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

	var oaiResp openAIResponseBody
	if err := json.Unmarshal(body, &oaiResp); err != nil {
		return nil, types.NewGatewayError(types.ErrAPI, a.name, "unmarshal response: "+err.Error(), err)
	}
	if len(oaiResp.Choices) == 0 {
		return nil, types.NewGatewayError(types.ErrAPI, a.name, "response contains no choices", nil)
	}

	choice := oaiResp.Choices[0]
	return &types.Response{
		RequestID: req.RequestID,
		Text:      choice.Message.Content,
		Provider:  a.name,
		Model:     oaiResp.Model,
		Usage: types.Usage{
			PromptTokens:     oaiResp.Usage.PromptTokens,
			CompletionTokens: oaiResp.Usage.CompletionTokens,
			TotalTokens:      oaiResp.Usage.TotalTokens,
		},
		Confidence:   confidenceFor(choice.FinishReason),
		ProcessingMs: time.Since(started).Milliseconds(),
		Metadata:     map[string]string{"finish_reason": choice.FinishReason},
	}, nil
}

func (a *OpenAIAdapter) Stream(ctx context.Context, req *types.Request) (<-chan Chunk, error) {
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

// pumpSSE reads SSE events from the provider and emits uniform chunks. The
// channel is closed after the terminal chunk.
func (a *OpenAIAdapter) pumpSSE(resp *http.Response, out chan<- Chunk) {
	defer close(out)
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	// Increase scanner buffer for large chunks
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var finishReason string
	var usage *types.Usage

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		if data == "[DONE]" {
			out <- Chunk{Kind: ChunkCompletion, FinishReason: finishReason, Usage: usage}
			return
		}

		var event openAIStreamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue // skip unparseable keep-alives
		}

		if event.Usage != nil {
			usage = &types.Usage{
				PromptTokens:     event.Usage.PromptTokens,
				CompletionTokens: event.Usage.CompletionTokens,
				TotalTokens:      event.Usage.TotalTokens,
			}
		}
		if len(event.Choices) == 0 {
			continue
		}
		choice := event.Choices[0]
		if choice.FinishReason != nil && *choice.FinishReason != "" {
			finishReason = *choice.FinishReason
		}
		if choice.Delta.Content != "" {
			out <- Chunk{Kind: ChunkTextDelta, Text: choice.Delta.Content}
		}
	}

	if err := scanner.Err(); err != nil {
		out <- Chunk{Kind: ChunkError, Err: classifyTransportError(a.name, err)}
		return
	}
	// Stream ended without [DONE]; treat whatever we know as completion.
	out <- Chunk{Kind: ChunkCompletion, FinishReason: finishReason, Usage: usage}
}

func (a *OpenAIAdapter) buildRequest(ctx context.Context, req *types.Request, stream bool) (*http.Request, error) {
	messages := make([]openAIMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openAIMessage{Role: m.Role, Content: m.Content})
	}

	body := openAIRequestBody{
		Model:            req.Config.Model,
		Messages:         messages,
		Stream:           stream,
		Temperature:      req.Config.Temperature,
		TopP:             req.Config.TopP,
		PresencePenalty:  req.Config.PresencePenalty,
		FrequencyPenalty: req.Config.FrequencyPenalty,
		Stop:             req.Config.Stop,
	}
	if req.Config.MaxTokens > 0 {
		body.MaxTokens = &req.Config.MaxTokens
	}
	if stream {
		body.StreamOptions = &openAIStreamOptions{IncludeUsage: true}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := a.cfg.BaseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	for k, v := range a.cfg.Headers {
		if v != "" {
			httpReq.Header.Set(k, v)
		}
	}

	return httpReq, nil
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequestBody struct {
	Model            string               `json:"model"`
	Messages         []openAIMessage      `json:"messages"`
	Stream           bool                 `json:"stream,omitempty"`
	StreamOptions    *openAIStreamOptions `json:"stream_options,omitempty"`
	Temperature      *float64             `json:"temperature,omitempty"`
	MaxTokens        *int                 `json:"max_tokens,omitempty"`
	TopP             *float64             `json:"top_p,omitempty"`
	PresencePenalty  *float64             `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64             `json:"frequency_penalty,omitempty"`
	Stop             []string             `json:"stop,omitempty"`
}

type openAIStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type openAIResponseBody struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int           `json:"index"`
		Message      openAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type openAIStreamEvent struct {
	Choices []struct {
		Index int `json:"index"`
		Delta struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}
