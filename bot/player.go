package bot

import (
	"context"
	"fmt"
	"math"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/korjavin/physprepbot/audio"
)

// telegramPlayer "plays" a buffer by uploading it to the chat as a WAV file.
type telegramPlayer struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

func (p *telegramPlayer) Play(ctx context.Context, buf *audio.Buffer) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	wav := audio.EncodeWAV(buf)
	msg := tgbotapi.NewAudio(p.chatID, tgbotapi.FileBytes{Name: "explanation.wav", Bytes: wav})
	msg.Title = "Spoken summary"
	msg.Performer = "PhysPrep"
	msg.Duration = int(math.Ceil(buf.Duration().Seconds()))

	if _, err := p.api.Send(msg); err != nil {
		return fmt.Errorf("failed to upload audio: %w", err)
	}
	return nil
}
