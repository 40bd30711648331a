package ai

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/korjavin/physprepbot/models"
	"google.golang.org/genai"
)

var testModels = Models{
	Primary:                "primary",
	Fallback:               "fallback",
	Fast:                   "fast",
	TTS:                    "tts",
	Voice:                  "Kore",
	FallbackThinkingBudget: 0,
}

func newTestService(b *fakeBackend) (*Service, *MemoryCache, *MemoryCache) {
	conn, _ := connectorFor(b)
	explanations, audio := NewMemoryCache(), NewMemoryCache()
	return NewService(conn, testModels, explanations, audio, nil, 0), explanations, audio
}

func question(id int) models.Question {
	return models.Question{ID: id, Text: "Question text " + string(rune('A'+id)), Category: models.Mechanics}
}

func TestExplanationFallsBackAfterPrimaryFailure(t *testing.T) {
	b := newFakeBackend().
		script("primary", reply{Err: genai.APIError{Code: 500, Status: "INTERNAL", Message: "boom"}}).
		script("fallback", reply{Text: "T"})
	svc, explanations, _ := newTestService(b)

	text, err := svc.GenerateExplanation(context.Background(), "key", question(7), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "T" {
		t.Errorf("text = %q, want T", text)
	}
	if got, ok, _ := explanations.Get(context.Background(), 7); !ok || got != "T" {
		t.Errorf("cache[7] = %q, %v; want T, true", got, ok)
	}
	if b.callsTo("primary") != 1 || b.callsTo("fallback") != 1 {
		t.Errorf("calls primary=%d fallback=%d, want 1 each", b.callsTo("primary"), b.callsTo("fallback"))
	}

	fallbackCall := b.calls[1]
	if fallbackCall.Config == nil || fallbackCall.Config.ThinkingConfig == nil ||
		fallbackCall.Config.ThinkingConfig.ThinkingBudget == nil || *fallbackCall.Config.ThinkingConfig.ThinkingBudget != 0 {
		t.Errorf("fallback attempt should carry a zero thinking budget, got %+v", fallbackCall.Config)
	}
}

func TestExplanationBothModelsFail(t *testing.T) {
	b := newFakeBackend().
		script("primary", reply{Err: genai.APIError{Code: 500, Message: "boom"}}).
		script("fallback", reply{Err: genai.APIError{Code: 429, Status: "RESOURCE_EXHAUSTED", Message: "quota"}})
	svc, explanations, _ := newTestService(b)

	_, err := svc.GenerateExplanation(context.Background(), "key", question(7), false)
	if KindOf(err) != KindRateLimited {
		t.Fatalf("kind = %q, want %q (err %v)", KindOf(err), KindRateLimited, err)
	}
	if explanations.Len() != 0 {
		t.Errorf("cache should stay empty on failure, has %d entries", explanations.Len())
	}
}

func TestExplanationEmptyPrimaryTriesFallback(t *testing.T) {
	b := newFakeBackend().
		script("primary", reply{Text: "   "}).
		script("fallback", reply{Text: "from fallback"})
	svc, _, _ := newTestService(b)

	text, err := svc.GenerateExplanation(context.Background(), "key", question(2), false)
	if err != nil || text != "from fallback" {
		t.Fatalf("got %q, %v", text, err)
	}
}

func TestExplanationCachedSecondCall(t *testing.T) {
	b := newFakeBackend().script("primary", reply{Text: "first"}, reply{Text: "second"})
	svc, _, _ := newTestService(b)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		text, err := svc.GenerateExplanation(ctx, "key", question(4), false)
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if text != "first" {
			t.Errorf("call %d: text = %q, want first", i, text)
		}
	}
	if n := b.totalCalls(); n != 1 {
		t.Errorf("remote calls = %d, want 1", n)
	}
}

func TestExplanationCacheIsPerQuestion(t *testing.T) {
	b := newFakeBackend().script("primary", reply{Text: "one"}, reply{Text: "two"})
	svc, _, _ := newTestService(b)
	ctx := context.Background()

	a, _ := svc.GenerateExplanation(ctx, "key", question(1), false)
	c, _ := svc.GenerateExplanation(ctx, "key", question(2), false)
	if a == c {
		t.Errorf("question 2 got question 1's explanation %q", c)
	}
}

func TestExplanationForceRefreshOverwrites(t *testing.T) {
	b := newFakeBackend().script("primary", reply{Text: "old"}, reply{Text: "new"})
	svc, explanations, _ := newTestService(b)
	ctx := context.Background()

	if _, err := svc.GenerateExplanation(ctx, "key", question(5), false); err != nil {
		t.Fatal(err)
	}
	text, err := svc.GenerateExplanation(ctx, "key", question(5), true)
	if err != nil {
		t.Fatal(err)
	}
	if text != "new" {
		t.Errorf("refreshed text = %q, want new", text)
	}
	if got, _, _ := explanations.Get(ctx, 5); got != "new" {
		t.Errorf("cache[5] = %q, want new", got)
	}
	if n := b.totalCalls(); n != 2 {
		t.Errorf("remote calls = %d, want 2", n)
	}
}

func TestExplanationCacheHitNeedsNoCredential(t *testing.T) {
	b := newFakeBackend()
	svc, explanations, _ := newTestService(b)
	_ = explanations.Put(context.Background(), 9, "cached")

	text, err := svc.GenerateExplanation(context.Background(), "", question(9), false)
	if err != nil || text != "cached" {
		t.Fatalf("got %q, %v", text, err)
	}
}

func TestMissingCredential(t *testing.T) {
	b := newFakeBackend()
	conn, connects := connectorFor(b)
	svc := NewService(conn, testModels, nil, nil, nil, 0)
	ctx := context.Background()
	q := question(1)

	if _, err := svc.GenerateExplanation(ctx, "", q, false); KindOf(err) != KindMissingCredential {
		t.Errorf("explanation: kind = %q", KindOf(err))
	}
	if _, err := svc.GenerateQuiz(ctx, "", q); KindOf(err) != KindMissingCredential {
		t.Errorf("quiz: kind = %q", KindOf(err))
	}
	if _, err := svc.CreateChatSession(ctx, "", q); KindOf(err) != KindMissingCredential {
		t.Errorf("chat: kind = %q", KindOf(err))
	}
	if _, err := svc.GenerateAudioExplanation(ctx, "", q); KindOf(err) != KindMissingCredential {
		t.Errorf("audio: kind = %q", KindOf(err))
	}
	recs := svc.GetVideoRecommendations(ctx, "", q)
	if recs == nil || len(recs) != 0 {
		t.Errorf("videos = %#v, want empty non-nil slice", recs)
	}
	if *connects != 0 {
		t.Errorf("connector used %d times without a credential", *connects)
	}
}

func TestAudioEmptyScriptSkipsSpeech(t *testing.T) {
	b := newFakeBackend().
		script("fast", reply{Text: ""}).
		script("tts", reply{Audio: []byte{1, 0}})
	svc, _, audio := newTestService(b)

	_, err := svc.GenerateAudioExplanation(context.Background(), "key", question(3))
	if KindOf(err) != KindEmptyUpstream {
		t.Fatalf("kind = %q, want %q (err %v)", KindOf(err), KindEmptyUpstream, err)
	}
	if n := b.callsTo("tts"); n != 0 {
		t.Errorf("speech calls = %d, want 0", n)
	}
	if _, ok, _ := audio.Get(context.Background(), 3); ok {
		t.Error("audio cache for 3 should remain unset")
	}
}

func TestAudioPipeline(t *testing.T) {
	pcm := []byte{0x00, 0x00, 0xff, 0x7f, 0x00, 0x80}
	b := newFakeBackend().
		script("fast", reply{Text: "Momentum is conserved."}).
		script("tts", reply{Audio: pcm})
	svc, _, audio := newTestService(b)
	ctx := context.Background()

	payload, err := svc.GenerateAudioExplanation(ctx, "key", question(3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payload != base64.StdEncoding.EncodeToString(pcm) {
		t.Errorf("payload = %q", payload)
	}

	speech := b.calls[1]
	if speech.Prompt != "Momentum is conserved." {
		t.Errorf("speech prompt = %q, want the script", speech.Prompt)
	}
	if speech.Config == nil || speech.Config.SpeechConfig == nil ||
		speech.Config.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName != "Kore" {
		t.Errorf("speech call missing voice config: %+v", speech.Config)
	}

	// cached
	if _, err := svc.GenerateAudioExplanation(ctx, "key", question(3)); err != nil {
		t.Fatal(err)
	}
	if n := b.totalCalls(); n != 2 {
		t.Errorf("remote calls = %d, want 2", n)
	}
	if got, ok, _ := audio.Get(ctx, 3); !ok || got != payload {
		t.Error("audio cache not written")
	}
}

func TestAudioNoInlineData(t *testing.T) {
	b := newFakeBackend().
		script("fast", reply{Text: "script"}).
		script("tts", reply{Text: "I am not audio"})
	svc, _, audio := newTestService(b)

	_, err := svc.GenerateAudioExplanation(context.Background(), "key", question(3))
	if KindOf(err) != KindEmptyUpstream {
		t.Fatalf("kind = %q, want %q", KindOf(err), KindEmptyUpstream)
	}
	if audio.Len() != 0 {
		t.Error("audio cache should stay empty")
	}
}

const validQuiz = `[
 {"question":"Q1","options":["a","b","c","d"],"correctAnswer":1,"explanation":"e1"},
 {"question":"Q2","options":["a","b","c","d"],"correctAnswer":0,"explanation":"e2"},
 {"question":"Q3","options":["a","b","c","d"],"correctAnswer":3,"explanation":"e3"},
 {"question":"Q4","options":["a","b","c","d"],"correctAnswer":2,"explanation":"e4"},
 {"question":"Q5","options":["a","b","c","d"],"correctAnswer":1,"explanation":"e5"}
]`

var (
	fourItemQuiz = validQuiz[:strings.LastIndex(validQuiz, ",\n")] + "\n]"
	sixItemQuiz  = strings.TrimSuffix(validQuiz, "\n]") +
		`,\n {"question":"Q6","options":["a","b","c","d"],"correctAnswer":0,"explanation":"e6"}\n]`
)

func TestGenerateQuiz(t *testing.T) {
	tests := []struct {
		name     string
		reply    reply
		wantKind Kind
		wantLen  int
	}{
		{name: "valid", reply: reply{Text: validQuiz}, wantLen: 5},
		{name: "fenced", reply: reply{Text: "```json\n" + validQuiz + "\n```"}, wantLen: 5},
		{name: "empty", reply: reply{Text: ""}, wantKind: KindMalformedResponse},
		{name: "not json", reply: reply{Text: "here is your quiz"}, wantKind: KindMalformedResponse},
		{name: "empty array", reply: reply{Text: "[]"}, wantKind: KindMalformedResponse},
		{name: "four items", reply: reply{Text: fourItemQuiz}, wantKind: KindMalformedResponse},
		{name: "six items", reply: reply{Text: sixItemQuiz}, wantLen: 5},
		{
			name:     "three options",
			reply:    reply{Text: `[{"question":"Q","options":["a","b","c"],"correctAnswer":0,"explanation":"e"}]`},
			wantKind: KindMalformedResponse,
		},
		{
			name:     "answer out of range",
			reply:    reply{Text: `[{"question":"Q","options":["a","b","c","d"],"correctAnswer":4,"explanation":"e"}]`},
			wantKind: KindMalformedResponse,
		},
		{name: "denied", reply: reply{Err: genai.APIError{Code: 403, Status: "PERMISSION_DENIED"}}, wantKind: KindAccessDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newFakeBackend().script("fast", tt.reply)
			svc, _, _ := newTestService(b)

			quiz, err := svc.GenerateQuiz(context.Background(), "key", question(1))
			if tt.wantKind != "" {
				if KindOf(err) != tt.wantKind {
					t.Fatalf("kind = %q, want %q (err %v)", KindOf(err), tt.wantKind, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(quiz) != tt.wantLen {
				t.Errorf("len = %d, want %d", len(quiz), tt.wantLen)
			}
		})
	}
}

func TestGenerateQuizIsNotCached(t *testing.T) {
	b := newFakeBackend().script("fast", reply{Text: validQuiz})
	svc, _, _ := newTestService(b)
	for i := 0; i < 2; i++ {
		if _, err := svc.GenerateQuiz(context.Background(), "key", question(1)); err != nil {
			t.Fatal(err)
		}
	}
	if n := b.totalCalls(); n != 2 {
		t.Errorf("remote calls = %d, want 2", n)
	}
}

func TestVideoRecommendations(t *testing.T) {
	tests := []struct {
		name    string
		reply   reply
		wantLen int
	}{
		{
			name: "valid",
			reply: reply{Text: `[
				{"query":"carnot cycle lecture","description":"d","type":"lecture"},
				{"query":"carnot efficiency problems","description":"d","type":"problem_solving"},
				{"query":"stirling engine demo","description":"d","type":"experiment"}]`},
			wantLen: 3,
		},
		{name: "malformed", reply: reply{Text: "{not json"}, wantLen: 0},
		{name: "upstream failure", reply: reply{Err: genai.APIError{Code: 503, Message: "unavailable"}}, wantLen: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newFakeBackend().script("fast", tt.reply)
			svc, _, _ := newTestService(b)

			recs := svc.GetVideoRecommendations(context.Background(), "key", question(7))
			if recs == nil {
				t.Fatal("recommendations must never be nil")
			}
			if len(recs) != tt.wantLen {
				t.Errorf("len = %d, want %d", len(recs), tt.wantLen)
			}
		})
	}
}

func TestChatSession(t *testing.T) {
	b := newFakeBackend()
	b.chatReplies = []reply{{Text: "Because energy is conserved."}, {Text: ""}}
	svc, _, _ := newTestService(b)
	ctx := context.Background()

	first, err := svc.CreateChatSession(ctx, "key", question(7))
	if err != nil {
		t.Fatal(err)
	}
	second, err := svc.CreateChatSession(ctx, "key", question(8))
	if err != nil {
		t.Fatal(err)
	}
	if first.ID() == second.ID() {
		t.Error("sessions must not share an id")
	}
	if first.QuestionID() != 7 || second.QuestionID() != 8 {
		t.Errorf("question ids = %d, %d", first.QuestionID(), second.QuestionID())
	}

	answer, err := first.Send(ctx, "why?")
	if err != nil || !strings.Contains(answer, "energy") {
		t.Fatalf("got %q, %v", answer, err)
	}
	if _, err := first.Send(ctx, "and?"); KindOf(err) != KindEmptyUpstream {
		t.Errorf("empty reply kind = %q", KindOf(err))
	}
}

func TestCreateChatSessionFailure(t *testing.T) {
	b := newFakeBackend()
	b.chatErr = genai.APIError{Code: 401, Status: "UNAUTHENTICATED"}
	svc, _, _ := newTestService(b)

	if _, err := svc.CreateChatSession(context.Background(), "key", question(1)); KindOf(err) != KindAccessDenied {
		t.Errorf("kind = %q, want %q", KindOf(err), KindAccessDenied)
	}
}

func TestExplanationChain(t *testing.T) {
	chain := Models{Primary: "p"}.ExplanationChain()
	if len(chain) != 1 || chain[0].Model != "p" || chain[0].Config != nil {
		t.Errorf("single-model chain = %+v", chain)
	}

	chain = Models{Primary: "p", Fallback: "f", FallbackThinkingBudget: 128}.ExplanationChain()
	if len(chain) != 2 || chain[1].Model != "f" || *chain[1].Config.ThinkingConfig.ThinkingBudget != 128 {
		t.Errorf("two-model chain = %+v", chain)
	}
}
