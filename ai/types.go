package ai

import (
	openai "github.com/sashabaranov/go-openai"
)

// Message is one turn sent to the provider. Role is forwarded verbatim.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider identifies an OpenAI-compatible endpoint.
type Provider struct {
	Name    string
	BaseURL string
	APIKey  string
}

// ModelSpec carries the per-request model parameters.
type ModelSpec struct {
	Identifier  string
	Temperature float32
	MaxTokens   int
}

// TokenKind tells reasoning text apart from reply text.
type TokenKind string

const (
	TokenThinking TokenKind = "thinking"
	TokenContent  TokenKind = "content"
)

// Token is a fragment forwarded to the caller while a stream is read.
type Token struct {
	Kind TokenKind
	Text string
}

// chatRequest is the wire body. Temperature and max_tokens are always sent.
type chatRequest struct {
	Model          string                         `json:"model"`
	Messages       []openai.ChatCompletionMessage `json:"messages"`
	Temperature    float32                        `json:"temperature"`
	MaxTokens      int                            `json:"max_tokens"`
	Stream         bool                           `json:"stream"`
	EnableThinking bool                           `json:"enable_thinking,omitempty"`
}

func newChatRequest(m ModelSpec, msgs []Message, stream bool) chatRequest {
	wire := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, msg := range msgs {
		wire = append(wire, openai.ChatCompletionMessage{Role: msg.Role, Content: msg.Content})
	}
	return chatRequest{
		Model:          m.Identifier,
		Messages:       wire,
		Temperature:    m.Temperature,
		MaxTokens:      m.MaxTokens,
		Stream:         stream,
		EnableThinking: wantsThinking(m.Identifier),
	}
}
