package ai

import (
	"context"
	"errors"
	"sync"

	"google.golang.org/genai"
)

// call records one GenerateContent invocation.
type call struct {
	Model  string
	Prompt string
	Config *genai.GenerateContentConfig
}

// reply is a scripted response for one model.
type reply struct {
	Text  string
	Audio []byte
	Err   error
}

// fakeBackend answers GenerateContent from per-model queues. The last reply
// of a queue repeats once the queue is drained.
type fakeBackend struct {
	mu      sync.Mutex
	replies map[string][]reply
	calls   []call

	chatReplies []reply
	chatErr     error
	chats       int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{replies: make(map[string][]reply)}
}

func (f *fakeBackend) script(model string, r ...reply) *fakeBackend {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[model] = append(f.replies[model], r...)
	return f
}

func (f *fakeBackend) GenerateContent(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	prompt := ""
	if len(contents) > 0 && len(contents[0].Parts) > 0 {
		prompt = contents[0].Parts[0].Text
	}
	f.calls = append(f.calls, call{Model: model, Prompt: prompt, Config: config})

	queue := f.replies[model]
	if len(queue) == 0 {
		return nil, errors.New("no scripted reply for " + model)
	}
	r := queue[0]
	if len(queue) > 1 {
		f.replies[model] = queue[1:]
	}
	if r.Err != nil {
		return nil, r.Err
	}
	return response(r), nil
}

func (f *fakeBackend) StartConversation(_ context.Context, _ string, _ *genai.GenerateContentConfig) (Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.chatErr != nil {
		return nil, f.chatErr
	}
	f.chats++
	return &fakeConversation{backend: f}, nil
}

func (f *fakeBackend) callsTo(model string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Model == model {
			n++
		}
	}
	return n
}

func (f *fakeBackend) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeConversation struct {
	backend *fakeBackend
	history []string
}

func (c *fakeConversation) Send(_ context.Context, message string) (*genai.GenerateContentResponse, error) {
	c.history = append(c.history, message)

	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	if len(c.backend.chatReplies) == 0 {
		return nil, errors.New("no scripted chat reply")
	}
	r := c.backend.chatReplies[0]
	c.backend.chatReplies = c.backend.chatReplies[1:]
	if r.Err != nil {
		return nil, r.Err
	}
	return response(r), nil
}

func response(r reply) *genai.GenerateContentResponse {
	part := &genai.Part{Text: r.Text}
	if r.Audio != nil {
		part = &genai.Part{InlineData: &genai.Blob{Data: r.Audio, MIMEType: "audio/L16;codec=pcm;rate=24000"}}
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{part}},
		}},
	}
}

// connectorFor hands out the same fake backend for every credential and
// counts connections.
func connectorFor(b *fakeBackend) (Connector, *int) {
	n := 0
	return ConnectorFunc(func(_ context.Context, _ string) (Backend, error) {
		n++
		return b, nil
	}), &n
}
