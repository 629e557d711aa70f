package notify

import (
	"context"
	"errors"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type fakeBot struct {
	sent []tgbotapi.Chattable
	errs []error
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return tgbotapi.Message{}, err
		}
	}
	return tgbotapi.Message{MessageID: len(f.sent)}, nil
}

func TestProgressBar(t *testing.T) {
	tests := map[int]string{
		0:   "░░░░░░░░░░",
		14:  "▓░░░░░░░░░",
		98:  "▓▓▓▓▓▓▓▓▓░",
		100: "▓▓▓▓▓▓▓▓▓▓",
		-5:  "░░░░░░░░░░",
	}
	for pct, want := range tests {
		if got := ProgressBar(pct); got != want {
			t.Fatalf("ProgressBar(%d) = %q, want %q", pct, got, want)
		}
	}
}

func TestTextsIndonesianDefault(t *testing.T) {
	tx := NewTexts("")
	if got := tx.InsufficientCredits(); got != "❌ Gagal: Kredit tidak mencukupi saat giliran Anda tiba." {
		t.Fatalf("got %q", got)
	}
	if got := tx.Progress(20, 10); !strings.Contains(got, "`[▓▓░░░░░░░░] 20%`") || !strings.Contains(got, "10 detik") {
		t.Fatalf("progress = %q", got)
	}
	if got := tx.Cooldown(3, 5, 7); !strings.Contains(got, "batas 3 generate") || !strings.Contains(got, "5 menit 7 detik") {
		t.Fatalf("cooldown = %q", got)
	}
	if got := tx.Failed("boom"); got != "❌ Gagal: boom" {
		t.Fatalf("failed = %q", got)
	}
}

func TestTextsEnglish(t *testing.T) {
	tx := NewTexts("en-US")
	if got := tx.Failed("boom"); got != "❌ Failed: boom" {
		t.Fatalf("failed = %q", got)
	}
}

func TestCaption(t *testing.T) {
	tx := NewTexts("id")
	long := strings.Repeat("a", 60)
	c := tx.Caption(CaptionData{Model: "kling-v2-1-std", Prompt: long, Cost: 4, Balance: 9})
	if !strings.Contains(c, strings.Repeat("a", 50)+"...") {
		t.Fatalf("prompt not truncated: %q", c)
	}
	if !strings.Contains(c, "**Biaya:** 4") || !strings.Contains(c, "**Sisa Saldo:** 9") {
		t.Fatalf("cost lines missing: %q", c)
	}
	free := tx.Caption(CaptionData{Model: "m", Prompt: "short", Free: true})
	if !strings.Contains(free, "Gratis") || strings.Contains(free, "Sisa Saldo") {
		t.Fatalf("free caption = %q", free)
	}
}

func TestTelegramSendAndEdit(t *testing.T) {
	bot := &fakeBot{}
	tg := newTelegram(bot, nil, nil)

	id, err := tg.Send(context.Background(), 42, "hi")
	if err != nil || id != 1 {
		t.Fatalf("Send = %d, %v", id, err)
	}
	bot.errs = []error{errors.New("Bad Request: message is not modified")}
	if err := tg.Edit(context.Background(), 42, id, "hi"); err != nil {
		t.Fatalf("unchanged edit should be ignored: %v", err)
	}
	bot.errs = []error{errors.New("Forbidden: bot was blocked")}
	if err := tg.Edit(context.Background(), 42, id, "x"); err == nil {
		t.Fatal("expected edit error")
	}
}

func TestTelegramSkipsMissingChat(t *testing.T) {
	bot := &fakeBot{}
	tg := newTelegram(bot, nil, nil)
	if _, err := tg.Send(context.Background(), 0, "x"); err != nil {
		t.Fatal(err)
	}
	if err := tg.SendVideo(context.Background(), 0, VideoMessage{URL: "u"}); err != nil {
		t.Fatal(err)
	}
	if len(bot.sent) != 0 {
		t.Fatalf("sent %d messages", len(bot.sent))
	}
}

func TestTelegramSendVideoFallsBackToLink(t *testing.T) {
	bot := &fakeBot{errs: []error{errors.New("file too big")}}
	tg := newTelegram(bot, nil, nil)
	if err := tg.SendVideo(context.Background(), 7, VideoMessage{URL: "https://v/1.mp4", Caption: "c", JobID: "j"}); err != nil {
		t.Fatalf("SendVideo: %v", err)
	}
	if len(bot.sent) != 2 {
		t.Fatalf("sent %d", len(bot.sent))
	}
	video, ok := bot.sent[0].(tgbotapi.VideoConfig)
	if !ok {
		t.Fatalf("first send is %T", bot.sent[0])
	}
	markup, ok := video.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	if !ok || len(markup.InlineKeyboard) != 2 || *markup.InlineKeyboard[1][0].CallbackData != "dl_j" {
		t.Fatalf("unexpected keyboard %#v", video.ReplyMarkup)
	}
	msg, ok := bot.sent[1].(tgbotapi.MessageConfig)
	if !ok || !strings.Contains(msg.Text, "https://v/1.mp4") {
		t.Fatalf("fallback = %#v", bot.sent[1])
	}
}

func TestFailureTextsEscapeMarkdown(t *testing.T) {
	tx := NewTexts("en")
	if got := tx.SubmitFailed("Validation error: image_url must be https"); got != `❌ Could not process the request: Validation error: image\_url must be https` {
		t.Fatalf("submit failed = %q", got)
	}
	if got := tx.Failed("bad *input* in `cfg` [x]"); got != "❌ Failed: bad \\*input\\* in \\`cfg\\` \\[x]" {
		t.Fatalf("failed = %q", got)
	}
	c := tx.Caption(CaptionData{Model: "m", Prompt: "snake_case prompt", Free: true})
	if !strings.Contains(c, `snake\_case prompt`) {
		t.Fatalf("caption prompt not escaped: %q", c)
	}

	bot := &fakeBot{}
	tg := newTelegram(bot, tx, nil)
	if _, err := tg.Send(context.Background(), 42, tx.Failed("missing image_url")); err != nil {
		t.Fatal(err)
	}
	msg := bot.sent[0].(tgbotapi.MessageConfig)
	if msg.ParseMode != tgbotapi.ModeMarkdown || strings.Count(msg.Text, "_") != strings.Count(msg.Text, `\_`) {
		t.Fatalf("unescaped markdown sent: %q", msg.Text)
	}
}
