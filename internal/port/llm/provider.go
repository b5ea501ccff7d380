// Package llm defines the text-generation backend port: a uniform
// text-in/text-out contract over providers with different request shapes.
package llm

import (
	"context"
	"time"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversation turn. The system prompt is passed separately.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// User returns a user message.
func User(content string) Message { return Message{Role: RoleUser, Content: content} }

// Assistant returns an assistant message.
func Assistant(content string) Message { return Message{Role: RoleAssistant, Content: content} }

// Provider completes a conversation and returns the raw response text.
// Implementations honour ctx for the per-call timeout.
type Provider interface {
	Name() string
	Complete(ctx context.Context, system string, messages []Message) (string, error)
}

// Config is the connection block handed to a provider factory.
type Config struct {
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}
