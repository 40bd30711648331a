package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/korjavin/physprepbot/ai"
	"github.com/korjavin/physprepbot/audio"
	"github.com/korjavin/physprepbot/credential"
	"github.com/korjavin/physprepbot/database"
	"github.com/korjavin/physprepbot/logger"
	"github.com/korjavin/physprepbot/models"
	"github.com/korjavin/physprepbot/session"
	"github.com/samber/lo"
)

// StatsSource reports totals for the /stat footer
type StatsSource interface {
	GetStats(ctx context.Context) (database.Stats, error)
}

// Bot represents the Telegram bot
type Bot struct {
	api      *tgbotapi.BotAPI
	bank     *models.Bank
	sessions *session.Manager
	stats    StatsSource
	log      *logger.Logger
	timeout  time.Duration

	decksMu sync.Mutex
	decks   map[int64]*audio.Deck

	// in-flight handler goroutines, drained on shutdown
	wg sync.WaitGroup
}

const (
	cmdStart    = "start"
	cmdHelp     = "help"
	cmdList     = "list"
	cmdQuestion = "q"
	cmdExplain  = "explain"
	cmdRefresh  = "refresh"
	cmdAudio    = "audio"
	cmdQuiz     = "quiz"
	cmdVideos   = "videos"
	cmdAsk      = "ask"
	cmdDone     = "done"
	cmdBookmark = "bookmark"
	cmdStat     = "stat"
	cmdKey      = "key"

	callbackPrefix = "q:"

	actionSelect   = "select"
	actionExplain  = "explain"
	actionRefresh  = "refresh"
	actionAudio    = "audio"
	actionQuiz     = "quiz"
	actionVideos   = "videos"
	actionDone     = "done"
	actionBookmark = "bookmark"
)

const helpText = `Commands:
/list [category] - Show the exam questions
/q <number> - Open a question and its explanation
/explain - Show the explanation again
/refresh - Generate a fresh explanation
/audio - Listen to a short spoken summary
/quiz - Take a five-question quiz
/videos - Get video suggestions
/ask <question> - Ask the tutor (or just type your question)
/done - Mark the question as completed
/bookmark - Bookmark the question
/stat - Your progress
/key <api key> - Use your own Gemini API key
/help - This message`

// New creates a new bot instance talking to the Telegram API
func New(token string, debug bool, bank *models.Bank, sessions *session.Manager, stats StatsSource, log *logger.Logger, timeout time.Duration) (*Bot, error) {
	botAPI, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot API: %w", err)
	}
	botAPI.Debug = debug

	return NewWithAPI(botAPI, bank, sessions, stats, log, timeout), nil
}

// NewWithAPI wraps an already authorised API client
func NewWithAPI(api *tgbotapi.BotAPI, bank *models.Bank, sessions *session.Manager, stats StatsSource, log *logger.Logger, timeout time.Duration) *Bot {
	if log == nil {
		log = logger.Nop()
	}
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	return &Bot{
		api:      api,
		bank:     bank,
		sessions: sessions,
		stats:    stats,
		log:      log,
		timeout:  timeout,
		decks:    make(map[int64]*audio.Deck),
	}
}

// Start polls for updates until ctx is cancelled, then waits for running
// handlers to finish.
func (b *Bot) Start(ctx context.Context) error {
	b.log.Info("Starting bot polling", "username", b.api.Self.UserName)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.stopDecks()
			b.wg.Wait()
			b.log.Info("Bot polling stopped")
			return nil
		case update, ok := <-updates:
			if !ok {
				b.wg.Wait()
				return errors.New("update channel closed")
			}
			b.HandleUpdate(ctx, update)
		}
	}
}

// HandleUpdate dispatches one update. Slow work continues in goroutines.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	}
}

// Wait blocks until all in-flight handlers are done
func (b *Bot) Wait() {
	b.wg.Wait()
}

// handleMessage processes incoming messages
func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID
	b.log.Debug("Received message", "chat_id", chatID, "command", message.Command())

	args := strings.TrimSpace(message.CommandArguments())

	switch message.Command() {
	case cmdStart:
		b.handleStartCommand(message)
	case cmdHelp:
		b.sendMessage(chatID, helpText)
	case cmdList:
		b.handleListCommand(ctx, chatID, args)
	case cmdQuestion:
		id, err := strconv.Atoi(strings.TrimPrefix(args, "#"))
		if err != nil {
			b.sendMessage(chatID, "Usage: /q <number>, for example /q 7")
			return
		}
		b.selectQuestion(ctx, chatID, id)
	case cmdExplain:
		b.handleExplain(ctx, chatID)
	case cmdRefresh:
		b.handleRefresh(ctx, chatID)
	case cmdAudio:
		b.handleAudio(ctx, chatID)
	case cmdQuiz:
		b.handleQuiz(ctx, chatID)
	case cmdVideos:
		b.handleVideos(ctx, chatID)
	case cmdAsk:
		if args == "" {
			b.sendMessage(chatID, "Usage: /ask <your question>")
			return
		}
		b.handleAsk(ctx, chatID, args)
	case cmdDone:
		b.handleToggle(ctx, chatID, models.Completed, 0)
	case cmdBookmark:
		b.handleToggle(ctx, chatID, models.Bookmarked, 0)
	case cmdStat:
		b.handleStatCommand(ctx, chatID)
	case cmdKey:
		b.handleKeyCommand(ctx, message, args)
	case "":
		if strings.TrimSpace(message.Text) == "" {
			return
		}
		b.handleAsk(ctx, chatID, message.Text)
	default:
		b.sendMessage(chatID, "Unknown command. Use /list to see the questions or /help for assistance.")
	}
}

// handleStartCommand handles the /start command
func (b *Bot) handleStartCommand(message *tgbotapi.Message) {
	categories := lo.Map(models.Categories, func(c models.Category, _ int) string {
		return "• " + c.Title()
	})

	welcomeText := fmt.Sprintf(`Welcome to PhysPrep!

This bot helps you prepare for your physics exam. Pick a question and get an explanation with intuition, theory and a worked example, a short audio summary, a quiz and a tutor to ask follow-up questions.

There are %d questions in these topics:
%s

%s`, b.bank.Len(), strings.Join(categories, "\n"), helpText)

	b.sendMessage(message.Chat.ID, welcomeText)
}

func (b *Bot) handleListCommand(ctx context.Context, chatID int64, arg string) {
	questions := b.bank.All()
	title := "All questions"
	if arg != "" {
		cat, err := models.ParseCategory(arg)
		if err != nil {
			names := lo.Map(models.Categories, func(c models.Category, _ int) string { return string(c) })
			b.sendMessage(chatID, "Unknown topic. Try one of: "+strings.Join(names, ", "))
			return
		}
		questions = lo.Filter(questions, func(q models.Question, _ int) bool { return q.Category == cat })
		title = cat.Title()
	}

	sess := b.sessions.For(chatID)
	completed, _ := sess.IDs(ctx, models.Completed)
	bookmarked, _ := sess.IDs(ctx, models.Bookmarked)

	var sb strings.Builder
	sb.WriteString(title + ":\n")
	for _, q := range questions {
		mark := "•"
		if lo.Contains(completed, q.ID) {
			mark = "✅"
		}
		if lo.Contains(bookmarked, q.ID) {
			mark += "🔖"
		}
		fmt.Fprintf(&sb, "\n%s #%d %s", mark, q.ID, truncate(q.Text, 70))
	}

	b.sendWithKeyboard(chatID, sb.String(), listKeyboard(questions))
}

// selectQuestion shows the question and fills a placeholder with its
// explanation once it is ready
func (b *Bot) selectQuestion(ctx context.Context, chatID int64, id int) {
	q, ok := b.bank.Get(id)
	if !ok {
		b.sendMessage(chatID, fmt.Sprintf("There is no question #%d. Use /list to see them all.", id))
		return
	}

	sess := b.sessions.For(chatID)
	b.stopDeck(chatID)
	b.sendWithKeyboard(chatID,
		questionHeader(q, sess.Has(ctx, models.Completed, id), sess.Has(ctx, models.Bookmarked, id)),
		questionKeyboard(id))

	b.runExplanation(ctx, chatID, "Preparing the explanation...", sess.Open(q))
}

func (b *Bot) handleExplain(ctx context.Context, chatID int64) {
	sess := b.sessions.For(chatID)
	if _, ok := sess.Current(); !ok {
		b.sendMessage(chatID, "Pick a question first with /q <number> or /list.")
		return
	}

	state := sess.Explanation()
	switch {
	case state.Loading:
		b.sendMessage(chatID, "The explanation is still being prepared, hang on.")
	case state.Err != nil:
		b.runExplanation(ctx, chatID, "Trying again...", sess.Retry)
	default:
		for _, c := range splitMessage(state.Content, messageChunk) {
			b.sendMessage(chatID, c)
		}
	}
}

func (b *Bot) handleRefresh(ctx context.Context, chatID int64) {
	sess := b.sessions.For(chatID)
	if _, ok := sess.Current(); !ok {
		b.sendMessage(chatID, "Pick a question first with /q <number> or /list.")
		return
	}
	b.runExplanation(ctx, chatID, "Generating a fresh explanation...", sess.Refresh)
}

// runExplanation sends a placeholder and edits it from a goroutine. The fetch
// runs even when the placeholder could not be sent; the result is then sent
// as new messages.
func (b *Bot) runExplanation(ctx context.Context, chatID int64, placeholder string, fetch func(context.Context) (models.ExplanationState, error)) {
	placeholderID := 0
	if sent, err := b.sendMessage(chatID, "⏳ "+placeholder); err == nil {
		placeholderID = sent.MessageID
	}

	b.async(ctx, chatID, func(ctx context.Context) {
		state, err := fetch(ctx)
		switch {
		case errors.Is(err, session.ErrStale):
			b.show(chatID, placeholderID, "Skipped, you opened another question.")
		case errors.Is(err, session.ErrNoSelection):
			b.show(chatID, placeholderID, "Pick a question first with /q <number> or /list.")
		case state.Err != nil:
			b.show(chatID, placeholderID, "⚠️ "+ai.UserMessage(state.Err))
		default:
			b.show(chatID, placeholderID, state.Content)
		}
	})
}

func (b *Bot) handleAudio(ctx context.Context, chatID int64) {
	sess := b.sessions.For(chatID)
	q, ok := sess.Current()
	if !ok {
		b.sendMessage(chatID, "Pick a question first with /q <number> or /list.")
		return
	}

	sent, err := b.sendMessage(chatID, "⏳ Recording a short summary...")
	if err != nil {
		return
	}

	b.async(ctx, chatID, func(ctx context.Context) {
		b.sendChatAction(chatID, tgbotapi.ChatUploadVoice)
		buf, err := sess.Audio(ctx)
		if err != nil {
			b.editMessage(chatID, sent.MessageID, "⚠️ "+userMessage(err))
			return
		}

		b.editMessage(chatID, sent.MessageID, fmt.Sprintf("🎧 Question #%d, %.0f seconds", q.ID, buf.Duration().Seconds()))
		if err := <-b.deck(chatID).Start(ctx, buf); err != nil && !errors.Is(err, context.Canceled) {
			b.log.Error("Failed to send audio", "chat_id", chatID, "question_id", q.ID, "error", err)
			b.sendMessage(chatID, "Sorry, I couldn't send the audio. Please try again.")
		}
	})
}

func (b *Bot) handleQuiz(ctx context.Context, chatID int64) {
	sess := b.sessions.For(chatID)
	if _, ok := sess.Current(); !ok {
		b.sendMessage(chatID, "Pick a question first with /q <number> or /list.")
		return
	}

	sent, err := b.sendMessage(chatID, "⏳ Writing a quiz for you...")
	if err != nil {
		return
	}

	b.async(ctx, chatID, func(ctx context.Context) {
		quiz, err := sess.Quiz(ctx)
		if err != nil {
			b.editMessage(chatID, sent.MessageID, "⚠️ "+userMessage(err))
			return
		}

		b.editMessage(chatID, sent.MessageID, fmt.Sprintf("📝 Quiz: %d questions", len(quiz)))
		for i, item := range quiz {
			if _, err := b.api.Send(quizPoll(chatID, i, item)); err != nil {
				b.log.Error("Error sending quiz poll", "chat_id", chatID, "item", i, "error", err)
			}
		}
	})
}

func (b *Bot) handleVideos(ctx context.Context, chatID int64) {
	sess := b.sessions.For(chatID)
	if _, ok := sess.Current(); !ok {
		b.sendMessage(chatID, "Pick a question first with /q <number> or /list.")
		return
	}

	b.async(ctx, chatID, func(ctx context.Context) {
		b.sendChatAction(chatID, tgbotapi.ChatTyping)
		recs, _ := sess.Videos(ctx)
		b.sendMessage(chatID, videoList(recs))
	})
}

func (b *Bot) handleAsk(ctx context.Context, chatID int64, text string) {
	sess := b.sessions.For(chatID)
	if _, ok := sess.Current(); !ok {
		b.sendMessage(chatID, "Pick a question first with /q <number> or /list, then ask me anything about it.")
		return
	}

	b.async(ctx, chatID, func(ctx context.Context) {
		b.sendChatAction(chatID, tgbotapi.ChatTyping)
		reply, err := sess.Ask(ctx, text)
		if err != nil {
			b.sendMessage(chatID, "⚠️ "+userMessage(err))
			return
		}
		for _, c := range splitMessage(reply, messageChunk) {
			b.sendMessage(chatID, c)
		}
	})
}

// handleToggle flips a progress flag; id 0 means the current question
func (b *Bot) handleToggle(ctx context.Context, chatID int64, kind models.ProgressKind, id int) {
	sess := b.sessions.For(chatID)
	if id == 0 {
		q, ok := sess.Current()
		if !ok {
			b.sendMessage(chatID, "Pick a question first with /q <number> or /list.")
			return
		}
		id = q.ID
	}

	var on bool
	var err error
	if kind == models.Completed {
		on, err = sess.ToggleCompleted(ctx, id)
	} else {
		on, err = sess.ToggleBookmark(ctx, id)
	}
	if err != nil {
		b.log.Error("Failed to save progress", "chat_id", chatID, "kind", kind, "error", err)
		b.sendMessage(chatID, "Sorry, I couldn't save that. Please try again later.")
		return
	}

	b.sendMessage(chatID, toggleText(kind, id, on))
}

func toggleText(kind models.ProgressKind, id int, on bool) string {
	switch {
	case kind == models.Completed && on:
		return fmt.Sprintf("✅ Question #%d marked as completed.", id)
	case kind == models.Completed:
		return fmt.Sprintf("Question #%d is no longer marked as completed.", id)
	case on:
		return fmt.Sprintf("🔖 Question #%d bookmarked.", id)
	default:
		return fmt.Sprintf("Bookmark removed from question #%d.", id)
	}
}

// handleStatCommand handles the /stat command
func (b *Bot) handleStatCommand(ctx context.Context, chatID int64) {
	sess := b.sessions.For(chatID)
	completed, err := sess.IDs(ctx, models.Completed)
	if err != nil {
		b.log.Error("Error getting progress", "chat_id", chatID, "error", err)
		b.sendMessage(chatID, "Sorry, I couldn't retrieve your statistics. Please try again later.")
		return
	}
	bookmarked, _ := sess.IDs(ctx, models.Bookmarked)

	total := b.bank.Len()
	var percent float64
	if total > 0 {
		percent = float64(len(completed)) / float64(total) * 100
	}

	statMessage := fmt.Sprintf(`📊 Your Progress:

Completed: %d of %d (%.0f%%)
Bookmarked: %d`, len(completed), total, percent, len(bookmarked))

	byCategory := lo.GroupBy(lo.FilterMap(completed, func(id int, _ int) (models.Question, bool) {
		return b.bank.Get(id)
	}), func(q models.Question) models.Category { return q.Category })
	if len(byCategory) > 0 {
		statMessage += "\n"
		for _, c := range models.Categories {
			if n := len(byCategory[c]); n > 0 {
				statMessage += fmt.Sprintf("\n%s: %d", c.Title(), n)
			}
		}
	}

	if len(bookmarked) > 0 {
		ids := lo.Map(bookmarked, func(id int, _ int) string { return "#" + strconv.Itoa(id) })
		statMessage += "\n\nBookmarks: " + strings.Join(ids, ", ")
	}

	if b.stats != nil {
		if s, err := b.stats.GetStats(ctx); err == nil {
			statMessage += fmt.Sprintf("\n\n%d explanations and %d audio summaries are ready to serve instantly.", s.Explanations, s.Narrations)
		}
	}

	b.sendMessage(chatID, statMessage)
}

func (b *Bot) handleKeyCommand(ctx context.Context, message *tgbotapi.Message, value string) {
	chatID := message.Chat.ID

	// the key should not linger in the chat history
	if _, err := b.api.Request(tgbotapi.NewDeleteMessage(chatID, message.MessageID)); err != nil {
		b.log.Debug("Could not delete key message", "chat_id", chatID, "error", err)
	}

	sess := b.sessions.For(chatID)
	b.async(ctx, chatID, func(ctx context.Context) {
		state, retried, err := sess.SaveCredential(ctx, value)
		if err != nil {
			b.log.Error("Failed to save credential", "chat_id", chatID, "error", err)
			b.sendMessage(chatID, "Sorry, I couldn't save your key. Please try again.")
			return
		}

		if value == "" {
			b.sendMessage(chatID, "Your key was removed, the default key is used again.")
		} else {
			b.sendMessage(chatID, "🔑 Key "+credential.Mask(strings.TrimSpace(value))+" saved.")
		}

		if !retried {
			return
		}
		switch {
		case state.Err != nil:
			b.sendMessage(chatID, "⚠️ "+ai.UserMessage(state.Err))
		case state.Content != "":
			for _, c := range splitMessage(state.Content, messageChunk) {
				b.sendMessage(chatID, c)
			}
		}
	})
}

// handleCallback processes callback queries from inline buttons
func (b *Bot) handleCallback(ctx context.Context, callback *tgbotapi.CallbackQuery) {
	if callback.Message == nil {
		return
	}
	chatID := callback.Message.Chat.ID
	b.log.Debug("Handling callback", "chat_id", chatID, "data", callback.Data)

	action, id, err := parseCallback(callback.Data)
	if err != nil {
		b.log.Warn("Invalid callback", "data", callback.Data, "error", err)
		b.sendCallbackResponse(callback.ID, "")
		return
	}

	// Always acknowledge the callback immediately to prevent "query is too old" errors
	b.sendCallbackResponse(callback.ID, "")

	switch action {
	case actionDone:
		b.handleToggle(ctx, chatID, models.Completed, id)
		return
	case actionBookmark:
		b.handleToggle(ctx, chatID, models.Bookmarked, id)
		return
	case actionSelect:
		b.selectQuestion(ctx, chatID, id)
		return
	}

	// other actions work on the current question; buttons under an older
	// question select it again first
	if q, ok := b.sessions.For(chatID).Current(); !ok || q.ID != id {
		b.selectQuestion(ctx, chatID, id)
		if action == actionExplain {
			return
		}
	}

	switch action {
	case actionExplain:
		b.handleExplain(ctx, chatID)
	case actionRefresh:
		b.handleRefresh(ctx, chatID)
	case actionAudio:
		b.handleAudio(ctx, chatID)
	case actionQuiz:
		b.handleQuiz(ctx, chatID)
	case actionVideos:
		b.handleVideos(ctx, chatID)
	}
}

func parseCallback(data string) (string, int, error) {
	if !strings.HasPrefix(data, callbackPrefix) {
		return "", 0, fmt.Errorf("unknown prefix")
	}
	action, idText, ok := strings.Cut(strings.TrimPrefix(data, callbackPrefix), ":")
	if !ok {
		return "", 0, fmt.Errorf("missing question number")
	}
	id, err := strconv.Atoi(idText)
	if err != nil {
		return "", 0, fmt.Errorf("invalid question number: %w", err)
	}
	return action, id, nil
}

// async runs fn in a tracked goroutine with the per-request timeout
func (b *Bot) async(ctx context.Context, chatID int64, fn func(ctx context.Context)) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				b.log.Error("Recovered from panic in handler", "chat_id", chatID, "panic", r)
			}
		}()

		ctx, cancel := context.WithTimeout(ctx, b.timeout)
		defer cancel()
		fn(ctx)
	}()
}

func (b *Bot) deck(chatID int64) *audio.Deck {
	b.decksMu.Lock()
	defer b.decksMu.Unlock()
	d, ok := b.decks[chatID]
	if !ok {
		d = audio.NewDeck(&telegramPlayer{api: b.api, chatID: chatID})
		b.decks[chatID] = d
	}
	return d
}

func (b *Bot) stopDeck(chatID int64) {
	b.decksMu.Lock()
	d, ok := b.decks[chatID]
	b.decksMu.Unlock()
	if ok {
		d.Stop()
	}
}

func (b *Bot) stopDecks() {
	b.decksMu.Lock()
	decks := lo.Values(b.decks)
	b.decksMu.Unlock()
	for _, d := range decks {
		d.Stop()
	}
}

// userMessage maps session and AI errors to chat text
func userMessage(err error) string {
	if errors.Is(err, session.ErrNoSelection) {
		return "Pick a question first with /q <number> or /list."
	}
	return ai.UserMessage(err)
}
