// Package ai builds model requests for exam questions and orchestrates the
// calls to the Gemini API: the explanation model chain, the two-stage audio
// pipeline, quizzes, video suggestions and tutoring chats.
package ai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/korjavin/physprepbot/logger"
	"github.com/korjavin/physprepbot/models"
	"google.golang.org/genai"
)

// Models names the remote models used by the service.
type Models struct {
	Primary                string
	Fallback               string
	Fast                   string
	TTS                    string
	Voice                  string
	FallbackThinkingBudget int32
}

// Attempt is one step of a model chain.
type Attempt struct {
	Model  string
	Config *genai.GenerateContentConfig
}

// ExplanationChain is the ordered list of attempts for explanations: the
// primary model with default settings, then the fallback model with a
// reduced thinking budget.
func (m Models) ExplanationChain() []Attempt {
	chain := []Attempt{{Model: m.Primary}}
	if m.Fallback != "" {
		budget := m.FallbackThinkingBudget
		chain = append(chain, Attempt{
			Model: m.Fallback,
			Config: &genai.GenerateContentConfig{
				ThinkingConfig: &genai.ThinkingConfig{ThinkingBudget: &budget},
			},
		})
	}
	return chain
}

// ChatSession is a tutoring conversation bound to one question.
type ChatSession interface {
	ID() string
	QuestionID() int
	Send(ctx context.Context, message string) (string, error)
}

// Service orchestrates model calls and owns the explanation and audio caches.
type Service struct {
	connector    Connector
	models       Models
	explanations Cache
	audio        Cache
	log          *logger.Logger
	timeout      time.Duration
}

// NewService wires the service. Nil caches default to MemoryCache.
func NewService(connector Connector, m Models, explanations, audio Cache, log *logger.Logger, timeout time.Duration) *Service {
	if explanations == nil {
		explanations = NewMemoryCache()
	}
	if audio == nil {
		audio = NewMemoryCache()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		connector:    connector,
		models:       m,
		explanations: explanations,
		audio:        audio,
		log:          log,
		timeout:      timeout,
	}
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Service) backend(ctx context.Context, op, credential string) (Backend, error) {
	if credential == "" {
		return nil, newError(KindMissingCredential, op, nil)
	}
	b, err := s.connector.Connect(ctx, credential)
	if err != nil {
		return nil, Classify(op, err)
	}
	return b, nil
}

// GenerateExplanation returns the explanation for q, from cache unless force
// is set. The cache is written only on success.
func (s *Service) GenerateExplanation(ctx context.Context, credential string, q models.Question, force bool) (string, error) {
	const op = "explanation"

	if !force {
		cached, ok, err := s.explanations.Get(ctx, q.ID)
		if err != nil {
			s.log.Warn("Explanation cache read failed", "question_id", q.ID, "error", err)
		} else if ok {
			s.log.Debug("Explanation cache hit", "question_id", q.ID)
			return cached, nil
		}
	}

	b, err := s.backend(ctx, op, credential)
	if err != nil {
		return "", err
	}

	prompt := ExplanationPrompt(q)
	var lastErr error
	for i, attempt := range s.models.ExplanationChain() {
		text, err := s.generateText(ctx, b, attempt.Model, prompt.Text, attempt.Config)
		if err != nil {
			lastErr = err
			s.log.Warn("Explanation attempt failed", "question_id", q.ID, "model", attempt.Model, "attempt", i+1, "error", err)
			continue
		}

		if err := s.explanations.Put(ctx, q.ID, text); err != nil {
			s.log.Warn("Explanation cache write failed", "question_id", q.ID, "error", err)
		}
		s.log.Info("Explanation generated", "question_id", q.ID, "model", attempt.Model, "chars", len(text))
		return text, nil
	}

	if lastErr == nil {
		lastErr = errors.New("no models configured")
	}
	err = Classify(op, lastErr)
	s.forgetRejected(credential, err)
	return "", err
}

// forgetRejected lets a connector that caches clients drop one whose
// credential the API refused.
func (s *Service) forgetRejected(credential string, err error) {
	if KindOf(err) != KindAccessDenied {
		return
	}
	if f, ok := s.connector.(interface{ Forget(credential string) }); ok {
		f.Forget(credential)
	}
}

// generateText issues one call and treats a blank reply as a failure.
func (s *Service) generateText(ctx context.Context, b Backend, model, prompt string, config *genai.GenerateContentConfig) (string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	resp, err := b.GenerateContent(ctx, model, genai.Text(prompt), config)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(responseText(resp))
	if text == "" {
		return "", newError(KindEmptyUpstream, model, nil)
	}
	return text, nil
}

// GenerateAudioExplanation returns a base64 S16LE 24 kHz PCM narration for q.
// A short script is written by the fast model first and then spoken by the
// TTS model; a failed script stage never reaches the speech call.
func (s *Service) GenerateAudioExplanation(ctx context.Context, credential string, q models.Question) (string, error) {
	const op = "audio"

	cached, ok, err := s.audio.Get(ctx, q.ID)
	if err != nil {
		s.log.Warn("Audio cache read failed", "question_id", q.ID, "error", err)
	} else if ok {
		s.log.Debug("Audio cache hit", "question_id", q.ID)
		return cached, nil
	}

	b, err := s.backend(ctx, op, credential)
	if err != nil {
		return "", err
	}

	scriptPrompt := AudioScriptPrompt(q)
	script, err := s.generateText(ctx, b, s.models.Fast, scriptPrompt.Text, scriptPrompt.Config)
	if err != nil {
		return "", Classify(op+" script", err)
	}

	speech := SpeechPrompt(script, s.models.Voice)
	speechCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	resp, err := b.GenerateContent(speechCtx, s.models.TTS, genai.Text(speech.Text), speech.Config)
	if err != nil {
		return "", Classify(op+" speech", err)
	}

	pcm := inlineAudio(resp)
	if len(pcm) == 0 {
		return "", newError(KindEmptyUpstream, op+" speech", errors.New("response carries no audio data"))
	}

	payload := base64.StdEncoding.EncodeToString(pcm)
	if err := s.audio.Put(ctx, q.ID, payload); err != nil {
		s.log.Warn("Audio cache write failed", "question_id", q.ID, "error", err)
	}
	s.log.Info("Audio generated", "question_id", q.ID, "bytes", len(pcm))
	return payload, nil
}

// GetVideoRecommendations is best effort: every failure yields an empty slice.
func (s *Service) GetVideoRecommendations(ctx context.Context, credential string, q models.Question) []models.VideoRecommendation {
	recs, err := s.videoRecommendations(ctx, credential, q)
	if err != nil {
		s.log.Warn("Video recommendations unavailable", "question_id", q.ID, "error", err)
		return []models.VideoRecommendation{}
	}
	return recs
}

func (s *Service) videoRecommendations(ctx context.Context, credential string, q models.Question) ([]models.VideoRecommendation, error) {
	const op = "videos"

	b, err := s.backend(ctx, op, credential)
	if err != nil {
		return nil, err
	}

	prompt := VideoPrompt(q)
	text, err := s.generateText(ctx, b, s.models.Fast, prompt.Text, prompt.Config)
	if err != nil {
		return nil, Classify(op, err)
	}

	var recs []models.VideoRecommendation
	if err := json.Unmarshal([]byte(stripCodeFence(text)), &recs); err != nil {
		return nil, newError(KindMalformedResponse, op, err)
	}

	out := make([]models.VideoRecommendation, 0, len(recs))
	for _, r := range recs {
		if strings.TrimSpace(r.Query) == "" {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// GenerateQuiz creates a fresh quiz for q. Quizzes are never cached.
func (s *Service) GenerateQuiz(ctx context.Context, credential string, q models.Question) ([]models.QuizQuestion, error) {
	const op = "quiz"

	b, err := s.backend(ctx, op, credential)
	if err != nil {
		return nil, err
	}

	prompt := QuizPrompt(q)
	text, err := s.generateText(ctx, b, s.models.Fast, prompt.Text, prompt.Config)
	if err != nil {
		if KindOf(err) == KindEmptyUpstream {
			return nil, newError(KindMalformedResponse, op, err)
		}
		return nil, Classify(op, err)
	}

	var items []models.QuizQuestion
	if err := json.Unmarshal([]byte(stripCodeFence(text)), &items); err != nil {
		return nil, newError(KindMalformedResponse, op, err)
	}
	for i, item := range items {
		if !item.Valid() {
			return nil, newError(KindMalformedResponse, op, fmt.Errorf("quiz item %d is invalid", i+1))
		}
	}
	if len(items) < QuizLength {
		return nil, newError(KindMalformedResponse, op, fmt.Errorf("quiz has %d items, want %d", len(items), QuizLength))
	}
	if len(items) > QuizLength {
		items = items[:QuizLength]
	}

	s.log.Info("Quiz generated", "question_id", q.ID, "items", len(items))
	return items, nil
}

// CreateChatSession opens a tutoring conversation for q. It fails immediately
// without a credential.
func (s *Service) CreateChatSession(ctx context.Context, credential string, q models.Question) (ChatSession, error) {
	const op = "chat"

	b, err := s.backend(ctx, op, credential)
	if err != nil {
		return nil, err
	}

	conv, err := b.StartConversation(ctx, s.models.Fast, ChatConfig(q))
	if err != nil {
		return nil, Classify(op, err)
	}

	return &chatSession{
		id:         uuid.NewString(),
		questionID: q.ID,
		conv:       conv,
		service:    s,
	}, nil
}

type chatSession struct {
	id         string
	questionID int
	conv       Conversation
	service    *Service
}

func (c *chatSession) ID() string      { return c.id }
func (c *chatSession) QuestionID() int { return c.questionID }

func (c *chatSession) Send(ctx context.Context, message string) (string, error) {
	ctx, cancel := c.service.withTimeout(ctx)
	defer cancel()

	resp, err := c.conv.Send(ctx, message)
	if err != nil {
		return "", Classify("chat", err)
	}
	reply := strings.TrimSpace(responseText(resp))
	if reply == "" {
		return "", newError(KindEmptyUpstream, "chat", nil)
	}
	return reply, nil
}

// stripCodeFence removes a Markdown code fence some models wrap JSON in.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
