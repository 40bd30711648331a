package ai

import (
	"context"

	"google.golang.org/genai"
)

// Backend is one authenticated connection to the generative model API.
type Backend interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	StartConversation(ctx context.Context, model string, config *genai.GenerateContentConfig) (Conversation, error)
}

// Conversation is a stateful multi-turn exchange; history accumulates inside.
type Conversation interface {
	Send(ctx context.Context, message string) (*genai.GenerateContentResponse, error)
}

// Connector hands out a Backend for a resolved credential.
type Connector interface {
	Connect(ctx context.Context, credential string) (Backend, error)
}

// ConnectorFunc adapts a function to Connector
type ConnectorFunc func(ctx context.Context, credential string) (Backend, error)

func (f ConnectorFunc) Connect(ctx context.Context, credential string) (Backend, error) {
	return f(ctx, credential)
}
