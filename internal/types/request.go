package types

import "time"

// Request is the canonical internal representation of a generation request.
// All provider-specific formats are derived from this type. Requests are
// immutable once handed to the orchestrator.
type Request struct {
	// Identity (set by auth middleware / request-id middleware)
	RequestID      string `json:"request_id"`
	OrganizationID string `json:"organization_id"`
	TeamID         string `json:"team_id"`
	UserID         string `json:"user_id"`

	// AgentID is an optional caller-supplied correlation id. Used for logging
	// only, never for control flow.
	AgentID string `json:"agent_id,omitempty"`

	Messages []Message        `json:"messages"`
	Config   GenerationConfig `json:"config"`

	// Internal tracking
	ReceivedAt time.Time `json:"-"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// GenerationConfig selects the provider/model pair and sampling parameters.
type GenerationConfig struct {
	Provider         string   `json:"provider"`
	Model            string   `json:"model"`
	MaxTokens        int      `json:"max_tokens,omitempty"`
	Temperature      *float64 `json:"temperature,omitempty"`
	TopP             *float64 `json:"top_p,omitempty"`
	PresencePenalty  *float64 `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64 `json:"frequency_penalty,omitempty"`
	Stop             []string `json:"stop,omitempty"`
}
