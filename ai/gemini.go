package ai

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/samber/lo"
	"google.golang.org/genai"
)

// maxClients bounds the per-credential client map; the least recently used
// client is dropped first.
const maxClients = 32

// GeminiConnector opens Gemini API clients, one per distinct credential.
type GeminiConnector struct {
	baseURL    string
	httpClient *http.Client

	mu      sync.Mutex
	clients map[string]*geminiBackend
	// credentials in use order, most recent last
	order []string
}

// NewGeminiConnector creates a connector. baseURL may be empty to use the
// public endpoint; httpClient may be nil.
func NewGeminiConnector(baseURL string, httpClient *http.Client) *GeminiConnector {
	return &GeminiConnector{
		baseURL:    baseURL,
		httpClient: httpClient,
		clients:    make(map[string]*geminiBackend),
	}
}

// Connect returns the backend for credential, creating the client on first use.
func (c *GeminiConnector) Connect(ctx context.Context, credential string) (Backend, error) {
	if credential == "" {
		return nil, newError(KindMissingCredential, "connect", nil)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if b, ok := c.clients[credential]; ok {
		c.touch(credential)
		return b, nil
	}

	cfg := &genai.ClientConfig{
		APIKey:     credential,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: c.httpClient,
	}
	if c.baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: c.baseURL}
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	b := &geminiBackend{client: client}
	c.clients[credential] = b
	c.touch(credential)
	for len(c.order) > maxClients {
		delete(c.clients, c.order[0])
		c.order = c.order[1:]
	}
	return b, nil
}

// Forget drops the client of a credential, e.g. one the API rejected.
func (c *GeminiConnector) Forget(credential string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.clients, credential)
	c.order = lo.Without(c.order, credential)
}

// Len reports how many clients are held.
func (c *GeminiConnector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.clients)
}

func (c *GeminiConnector) touch(credential string) {
	c.order = append(lo.Without(c.order, credential), credential)
}

type geminiBackend struct {
	client *genai.Client
}

func (b *geminiBackend) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	return b.client.Models.GenerateContent(ctx, model, contents, config)
}

func (b *geminiBackend) StartConversation(ctx context.Context, model string, config *genai.GenerateContentConfig) (Conversation, error) {
	chat, err := b.client.Chats.Create(ctx, model, config, nil)
	if err != nil {
		return nil, err
	}
	return &geminiConversation{chat: chat}, nil
}

// geminiConversation serializes turns; genai.Chat appends history without locking.
type geminiConversation struct {
	mu   sync.Mutex
	chat *genai.Chat
}

func (c *geminiConversation) Send(ctx context.Context, message string) (*genai.GenerateContentResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chat.SendMessage(ctx, genai.Part{Text: message})
}

// inlineAudio returns the first inline audio blob of the response.
func inlineAudio(resp *genai.GenerateContentResponse) []byte {
	if resp == nil {
		return nil
	}
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return part.InlineData.Data
			}
		}
	}
	return nil
}

// responseText is resp.Text() tolerant of a nil response.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	return resp.Text()
}
