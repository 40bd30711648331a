package bot

import (
	"fmt"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/korjavin/physprepbot/models"
)

const (
	// Telegram rejects texts over 4096 characters
	messageChunk = 4000

	maxPollQuestion    = 300
	maxPollOption      = 100
	maxPollExplanation = 200
)

// sendMessage sends a text message, trying Markdown first and falling back
// to plain text when Telegram rejects the entities.
func (b *Bot) sendMessage(chatID int64, text string) (tgbotapi.Message, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	if looksLikeMarkdown(text) {
		msg.ParseMode = tgbotapi.ModeMarkdown
	}

	sent, err := b.api.Send(msg)
	if err != nil && msg.ParseMode != "" {
		b.log.Debug("Markdown rendering failed, falling back to plain text", "chat_id", chatID, "error", err)
		msg.ParseMode = ""
		sent, err = b.api.Send(msg)
	}
	if err != nil {
		b.log.Error("Error sending message", "chat_id", chatID, "error", err)
	}
	return sent, err
}

// sendWithKeyboard sends plain text with an inline keyboard attached
func (b *Bot) sendWithKeyboard(chatID int64, text string, keyboard tgbotapi.InlineKeyboardMarkup) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = keyboard
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("Error sending keyboard message", "chat_id", chatID, "error", err)
	}
}

// editMessage edits an existing message with the same Markdown fallback
func (b *Bot) editMessage(chatID int64, messageID int, text string) {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	if looksLikeMarkdown(text) {
		edit.ParseMode = tgbotapi.ModeMarkdown
	}

	_, err := b.api.Send(edit)
	if err != nil && edit.ParseMode != "" {
		b.log.Debug("Markdown editing failed, falling back to plain text", "chat_id", chatID, "error", err)
		edit.ParseMode = ""
		_, err = b.api.Send(edit)
	}
	if err != nil {
		b.log.Error("Error editing message", "chat_id", chatID, "message_id", messageID, "error", err)
	}
}

// deliver puts a long text into the placeholder message and sends whatever
// does not fit as follow-up messages.
func (b *Bot) deliver(chatID int64, placeholderID int, text string) {
	chunks := splitMessage(text, messageChunk)
	b.editMessage(chatID, placeholderID, chunks[0])
	for _, c := range chunks[1:] {
		b.sendMessage(chatID, c)
	}
}

// show delivers text into the placeholder, or as new messages when there is
// no placeholder (id 0)
func (b *Bot) show(chatID int64, placeholderID int, text string) {
	if placeholderID != 0 {
		b.deliver(chatID, placeholderID, text)
		return
	}
	for _, c := range splitMessage(text, messageChunk) {
		b.sendMessage(chatID, c)
	}
}

// sendCallbackResponse answers a callback query so the button stops spinning
func (b *Bot) sendCallbackResponse(callbackID, text string) {
	callback := tgbotapi.NewCallback(callbackID, text)
	if _, err := b.api.Request(callback); err != nil {
		b.log.Warn("Error sending callback response", "error", err)
	}
}

func (b *Bot) sendChatAction(chatID int64, action string) {
	if _, err := b.api.Request(tgbotapi.NewChatAction(chatID, action)); err != nil {
		b.log.Debug("Error sending chat action", "chat_id", chatID, "error", err)
	}
}

func looksLikeMarkdown(text string) bool {
	return strings.Contains(text, "**") ||
		strings.Contains(text, "##") ||
		strings.Contains(text, "`") ||
		strings.Contains(text, "*")
}

// splitMessage cuts text into pieces of at most limit bytes, preferring
// paragraph and line boundaries.
func splitMessage(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(text) > limit {
		cut := strings.LastIndex(text[:limit], "\n\n")
		if cut <= 0 {
			cut = strings.LastIndex(text[:limit], "\n")
		}
		if cut <= 0 {
			cut = limit
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
		}
		chunks = append(chunks, strings.TrimRight(text[:cut], "\n"))
		text = strings.TrimLeft(text[cut:], "\n")
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

// truncate shortens s to at most n runes, marking the cut with an ellipsis
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}

// quizPoll turns a generated item into a native Telegram quiz poll
func quizPoll(chatID int64, index int, item models.QuizQuestion) tgbotapi.SendPollConfig {
	options := make([]string, len(item.Options))
	for i, o := range item.Options {
		options[i] = truncate(o, maxPollOption)
	}

	poll := tgbotapi.NewPoll(chatID, truncate(fmt.Sprintf("%d. %s", index+1, item.Question), maxPollQuestion), options...)
	poll.Type = "quiz"
	poll.IsAnonymous = false
	poll.CorrectOptionID = int64(item.CorrectAnswer)
	poll.Explanation = truncate(item.Explanation, maxPollExplanation)
	return poll
}

func questionHeader(q models.Question, completed, bookmarked bool) string {
	var marks string
	if completed {
		marks += " ✅"
	}
	if bookmarked {
		marks += " 🔖"
	}
	header := fmt.Sprintf("Question #%d · %s%s\n\n%s", q.ID, q.Category.Title(), marks, q.Text)
	if q.HasWorkedProblem {
		header += "\n\n(examined with a worked problem)"
	}
	return header
}

func questionKeyboard(id int) tgbotapi.InlineKeyboardMarkup {
	button := func(label, action string) tgbotapi.InlineKeyboardButton {
		return tgbotapi.NewInlineKeyboardButtonData(label, fmt.Sprintf("%s%s:%d", callbackPrefix, action, id))
	}
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			button("📖 Explain", actionExplain),
			button("🔄 Refresh", actionRefresh),
			button("🎧 Listen", actionAudio),
		),
		tgbotapi.NewInlineKeyboardRow(
			button("📝 Quiz", actionQuiz),
			button("🎬 Videos", actionVideos),
		),
		tgbotapi.NewInlineKeyboardRow(
			button("✅ Done", actionDone),
			button("🔖 Bookmark", actionBookmark),
		),
	)
}

// listKeyboard has one select button per question, four per row
func listKeyboard(questions []models.Question) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton
	for _, q := range questions {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(
			fmt.Sprintf("#%d", q.ID),
			fmt.Sprintf("%s%s:%d", callbackPrefix, actionSelect, q.ID)))
		if len(row) == 4 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func videoList(recs []models.VideoRecommendation) string {
	if len(recs) == 0 {
		return "No video suggestions right now. Try again later."
	}
	var sb strings.Builder
	sb.WriteString("🎬 Videos worth searching for:\n")
	for i, r := range recs {
		fmt.Fprintf(&sb, "\n%d. %s [%s]\n%s\n%s\n", i+1, r.Query, strings.ReplaceAll(string(r.Type), "_", " "), r.Description, r.SearchURL())
	}
	return sb.String()
}
