package notify

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"vidqueue/internal/infra"
)

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram delivers notifications through the Bot API. Chat id 0 means the
// job came from a channel without a chat and is skipped.
type Telegram struct {
	bot    sender
	texts  *Texts
	logger *infra.Logger
}

// NewTelegram logs in with token.
func NewTelegram(token string, texts *Texts, logger *infra.Logger) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(strings.TrimSpace(token))
	if err != nil {
		return nil, fmt.Errorf("notify: telegram login: %w", err)
	}
	return newTelegram(bot, texts, logger), nil
}

func newTelegram(bot sender, texts *Texts, logger *infra.Logger) *Telegram {
	if logger == nil {
		logger = infra.NopLogger()
	}
	if texts == nil {
		texts = NewTexts("id")
	}
	return &Telegram{bot: bot, texts: texts, logger: logger}
}

func (t *Telegram) Send(ctx context.Context, chatID int64, text string) (int, error) {
	if chatID == 0 {
		return 0, nil
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	sent, err := t.bot.Send(msg)
	if err != nil {
		return 0, fmt.Errorf("notify: send to %d: %w", chatID, err)
	}
	return sent.MessageID, nil
}

// Edit replaces the text of an earlier message. Edits that do not change the
// text are not errors.
func (t *Telegram) Edit(ctx context.Context, chatID int64, messageID int, text string) error {
	if chatID == 0 || messageID == 0 {
		return nil
	}
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	edit.ParseMode = tgbotapi.ModeMarkdown
	if _, err := t.bot.Send(edit); err != nil {
		if strings.Contains(err.Error(), "message is not modified") {
			return nil
		}
		return fmt.Errorf("notify: edit %d/%d: %w", chatID, messageID, err)
	}
	return nil
}

func (t *Telegram) SendVideo(ctx context.Context, chatID int64, video VideoMessage) error {
	if chatID == 0 {
		return nil
	}
	v := tgbotapi.NewVideo(chatID, tgbotapi.FileURL(video.URL))
	v.Caption = video.Caption
	v.ParseMode = tgbotapi.ModeMarkdown
	v.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(t.texts.buttonAgain(), "menu_create")),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(t.texts.buttonDownload(), "dl_"+video.JobID)),
	)
	if _, err := t.bot.Send(v); err != nil {
		t.logger.Warn().Err(err).Int64("chat_id", chatID).Str("job_id", video.JobID).Msg("notify: video upload failed, sending link")
		_, lerr := t.Send(ctx, chatID, video.Caption+"\n"+escape(video.URL))
		return lerr
	}
	return nil
}
