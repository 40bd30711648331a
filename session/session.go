// Package session keeps per-user study state: the selected question, its
// explanation, the tutoring chat, and the completed/bookmarked sets.
package session

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/korjavin/physprepbot/ai"
	"github.com/korjavin/physprepbot/audio"
	"github.com/korjavin/physprepbot/logger"
	"github.com/korjavin/physprepbot/models"
	"github.com/samber/lo"
)

var (
	// ErrNoSelection is returned by operations that need a selected question.
	ErrNoSelection = errors.New("no question selected")
	// ErrStale means the user selected another question while the result was
	// being produced; the result was not applied.
	ErrStale = errors.New("selection changed while the request was running")
)

// Generator is the orchestration surface the coordinator drives.
type Generator interface {
	GenerateExplanation(ctx context.Context, credential string, q models.Question, force bool) (string, error)
	GenerateAudioExplanation(ctx context.Context, credential string, q models.Question) (string, error)
	GetVideoRecommendations(ctx context.Context, credential string, q models.Question) []models.VideoRecommendation
	GenerateQuiz(ctx context.Context, credential string, q models.Question) ([]models.QuizQuestion, error)
	CreateChatSession(ctx context.Context, credential string, q models.Question) (ai.ChatSession, error)
}

// Credentials resolves and stores the per-user API key.
type Credentials interface {
	Get(ctx context.Context, userID int64) string
	Set(ctx context.Context, userID int64, value string) error
}

// ProgressStore persists completed and bookmarked sets.
type ProgressStore interface {
	LoadProgress(ctx context.Context, userID int64, kind models.ProgressKind) ([]int, error)
	SaveProgress(ctx context.Context, userID int64, kind models.ProgressKind, ids []int) error
}

// Manager hands out one Session per user.
type Manager struct {
	gen      Generator
	creds    Credentials
	progress ProgressStore
	log      *logger.Logger

	mu       sync.Mutex
	sessions map[int64]*Session
}

func NewManager(gen Generator, creds Credentials, progress ProgressStore, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Nop()
	}
	return &Manager{
		gen:      gen,
		creds:    creds,
		progress: progress,
		log:      log,
		sessions: make(map[int64]*Session),
	}
}

// For returns the user's session, creating it on first use.
func (m *Manager) For(userID int64) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[userID]
	if !ok {
		s = &Session{
			userID:   userID,
			gen:      m.gen,
			creds:    m.creds,
			progress: m.progress,
			log:      m.log.With("user_id", userID),
			sets:     make(map[models.ProgressKind][]int),
		}
		m.sessions[userID] = s
	}
	return s
}

// Session is one user's view state.
type Session struct {
	userID   int64
	gen      Generator
	creds    Credentials
	progress ProgressStore
	log      *logger.Logger

	mu          sync.Mutex
	current     *models.Question
	generation  uint64
	selection   uint64
	explanation models.ExplanationState
	chat        ai.ChatSession
	setsLoaded  bool
	sets        map[models.ProgressKind][]int
}

// Current returns the selected question.
func (s *Session) Current() (models.Question, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return models.Question{}, false
	}
	return *s.current, true
}

// Explanation returns the explanation state of the selected question.
func (s *Session) Explanation() models.ExplanationState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.explanation
}

// Chat returns the active tutoring session, nil if none could be created.
func (s *Session) Chat() ai.ChatSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chat
}

// Select makes q the current question: the chat session is replaced and the
// explanation is fetched (cache aware). A failure to open the chat is logged
// and does not stop the selection. The returned state is also stored unless
// the user moved on in the meantime, in which case ErrStale is returned.
func (s *Session) Select(ctx context.Context, q models.Question) (models.ExplanationState, error) {
	return s.Open(q)(ctx)
}

// Open switches to q immediately and returns the slow half of Select, so
// callers can run it in the background.
func (s *Session) Open(q models.Question) func(context.Context) (models.ExplanationState, error) {
	s.mu.Lock()
	s.generation++
	s.selection++
	gen, sel := s.generation, s.selection
	s.current = &q
	s.chat = nil
	s.explanation = models.ExplanationState{Loading: true}
	s.mu.Unlock()

	s.log.Debug("Question selected", "question_id", q.ID)

	return func(ctx context.Context) (models.ExplanationState, error) {
		cred := s.creds.Get(ctx, s.userID)
		s.replaceChat(ctx, cred, q, sel)
		return s.fetch(ctx, gen, cred, q, false)
	}
}

// Refresh regenerates the current explanation, bypassing the cache.
func (s *Session) Refresh(ctx context.Context) (models.ExplanationState, error) {
	q, gen, err := s.beginFetch()
	if err != nil {
		return models.ExplanationState{}, err
	}
	return s.fetch(ctx, gen, s.creds.Get(ctx, s.userID), q, true)
}

// Retry repeats the explanation fetch for the current question.
func (s *Session) Retry(ctx context.Context) (models.ExplanationState, error) {
	q, gen, err := s.beginFetch()
	if err != nil {
		return models.ExplanationState{}, err
	}
	return s.fetch(ctx, gen, s.creds.Get(ctx, s.userID), q, false)
}

func (s *Session) beginFetch() (models.Question, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return models.Question{}, 0, ErrNoSelection
	}
	s.generation++
	s.explanation = models.ExplanationState{Loading: true}
	return *s.current, s.generation, nil
}

func (s *Session) fetch(ctx context.Context, gen uint64, cred string, q models.Question, force bool) (models.ExplanationState, error) {
	text, err := s.gen.GenerateExplanation(ctx, cred, q, force)

	state := models.ExplanationState{Content: text}
	if err != nil {
		state = models.ExplanationState{Err: err}
		s.log.Warn("Explanation failed", "question_id", q.ID, "kind", ai.KindOf(err), "error", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		s.log.Debug("Dropping stale explanation", "question_id", q.ID)
		return state, ErrStale
	}
	s.explanation = state
	return state, nil
}

// replaceChat opens a chat for q and installs it only if no newer selection
// happened meanwhile, even one of the same question.
func (s *Session) replaceChat(ctx context.Context, cred string, q models.Question, sel uint64) {
	chat, err := s.gen.CreateChatSession(ctx, cred, q)
	if err != nil {
		s.log.Info("Chat session unavailable", "question_id", q.ID, "kind", ai.KindOf(err))
		return
	}
	if !s.installChat(chat, sel) {
		s.log.Debug("Dropping chat of an older selection", "question_id", q.ID)
	}
}

func (s *Session) installChat(chat ai.ChatSession, sel uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selection != sel {
		return false
	}
	s.chat = chat
	return true
}

// SaveCredential stores the user's key. When the visible explanation failed
// for lack of a valid credential, the fetch is retried and the chat session
// rebuilt; retried reports whether that happened.
func (s *Session) SaveCredential(ctx context.Context, value string) (state models.ExplanationState, retried bool, err error) {
	if err := s.creds.Set(ctx, s.userID, value); err != nil {
		return models.ExplanationState{}, false, err
	}

	s.mu.Lock()
	if s.current == nil || !needsCredentialRetry(s.explanation) {
		state = s.explanation
		s.mu.Unlock()
		return state, false, nil
	}
	q := *s.current
	s.generation++
	s.selection++
	gen, sel := s.generation, s.selection
	s.chat = nil
	s.explanation = models.ExplanationState{Loading: true}
	s.mu.Unlock()

	s.log.Info("Credential saved, retrying explanation", "question_id", q.ID)
	cred := s.creds.Get(ctx, s.userID)
	s.replaceChat(ctx, cred, q, sel)
	state, err = s.fetch(ctx, gen, cred, q, false)
	return state, true, err
}

func needsCredentialRetry(st models.ExplanationState) bool {
	if st.Loading || st.Err == nil {
		return false
	}
	switch ai.KindOf(st.Err) {
	case ai.KindAccessDenied, ai.KindMissingCredential:
		return true
	}
	return false
}

// Ask sends one message to the tutor for the current question. A chat that
// could not be opened at selection time is opened now.
func (s *Session) Ask(ctx context.Context, message string) (string, error) {
	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return "", ErrNoSelection
	}
	q, chat, sel := *s.current, s.chat, s.selection
	s.mu.Unlock()

	if chat == nil {
		var err error
		chat, err = s.gen.CreateChatSession(ctx, s.creds.Get(ctx, s.userID), q)
		if err != nil {
			return "", err
		}
		s.installChat(chat, sel)
	}

	return chat.Send(ctx, message)
}

// Audio returns the decoded narration of the current question.
func (s *Session) Audio(ctx context.Context) (*audio.Buffer, error) {
	q, ok := s.Current()
	if !ok {
		return nil, ErrNoSelection
	}
	payload, err := s.gen.GenerateAudioExplanation(ctx, s.creds.Get(ctx, s.userID), q)
	if err != nil {
		return nil, err
	}
	return audio.Decode(payload)
}

// Quiz generates a fresh quiz for the current question.
func (s *Session) Quiz(ctx context.Context) ([]models.QuizQuestion, error) {
	q, ok := s.Current()
	if !ok {
		return nil, ErrNoSelection
	}
	return s.gen.GenerateQuiz(ctx, s.creds.Get(ctx, s.userID), q)
}

// Videos returns video suggestions for the current question, possibly none.
func (s *Session) Videos(ctx context.Context) ([]models.VideoRecommendation, error) {
	q, ok := s.Current()
	if !ok {
		return nil, ErrNoSelection
	}
	return s.gen.GetVideoRecommendations(ctx, s.creds.Get(ctx, s.userID), q), nil
}

// ToggleCompleted flips the completed flag of id and reports the new value.
func (s *Session) ToggleCompleted(ctx context.Context, id int) (bool, error) {
	return s.toggle(ctx, models.Completed, id)
}

// ToggleBookmark flips the bookmark flag of id and reports the new value.
func (s *Session) ToggleBookmark(ctx context.Context, id int) (bool, error) {
	return s.toggle(ctx, models.Bookmarked, id)
}

func (s *Session) toggle(ctx context.Context, kind models.ProgressKind, id int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadSetsLocked(ctx); err != nil {
		return false, err
	}

	prev := s.sets[kind]
	var next []int
	var added bool
	if lo.Contains(prev, id) {
		next = lo.Without(prev, id)
	} else {
		next = append(slices.Clone(prev), id)
		slices.Sort(next)
		added = true
	}

	if err := s.progress.SaveProgress(ctx, s.userID, kind, next); err != nil {
		return !added, err
	}
	s.sets[kind] = next
	return added, nil
}

// IDs returns the ids in the set of the given kind, ascending.
func (s *Session) IDs(ctx context.Context, kind models.ProgressKind) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadSetsLocked(ctx); err != nil {
		return nil, err
	}
	return slices.Clone(s.sets[kind]), nil
}

// Has reports whether id is in the set of the given kind.
func (s *Session) Has(ctx context.Context, kind models.ProgressKind, id int) bool {
	ids, err := s.IDs(ctx, kind)
	if err != nil {
		s.log.Warn("Failed to load progress", "kind", kind, "error", err)
		return false
	}
	return lo.Contains(ids, id)
}

// loadSetsLocked reads both sets once per session.
func (s *Session) loadSetsLocked(ctx context.Context) error {
	if s.setsLoaded {
		return nil
	}
	for _, kind := range []models.ProgressKind{models.Completed, models.Bookmarked} {
		ids, err := s.progress.LoadProgress(ctx, s.userID, kind)
		if err != nil {
			return err
		}
		ids = lo.Uniq(ids)
		slices.Sort(ids)
		s.sets[kind] = ids
	}
	s.setsLoaded = true
	return nil
}
