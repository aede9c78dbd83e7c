package types

// Response is the canonical result of a completed (non-streaming) generation.
// Responses are immutable.
type Response struct {
	RequestID string `json:"request_id"`
	Text      string `json:"text"`
	Usage     Usage  `json:"usage"`
	Provider  string `json:"provider"`
	Model     string `json:"model"`

	// Confidence is the gateway's estimate of response quality in [0,1].
	// Providers do not report this directly; adapters derive it from the
	// finish reason.
	Confidence float64 `json:"confidence"`

	ProcessingMs int64             `json:"processing_ms"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
