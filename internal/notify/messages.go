package notify

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Message keys. The English text doubles as the key.
const (
	msgInsufficient   = "❌ Failed: not enough credits when your turn came."
	msgProcessing     = "🚀 **Request Accepted!**\nConnecting to the server..."
	msgSubmitFailed   = "❌ Could not process the request: %s"
	msgFailed         = "❌ Failed: %s"
	msgProgress       = "🎬 **Generating video...**\n\n`[%s] %d%%`\nElapsed: %d seconds"
	msgCooldown       = "⏳ **Cooldown Mode**\n\nYou reached the limit of %d generations in a row.\nTake a break! Come back in:\n⏳ **%d minutes %d seconds**"
	msgCompleted      = "✅ **Video Done!** (%ds)\nPreparing the final file..."
	msgCaptionHeader  = "🎬 **Your Video**\nModel: `%s`\nPrompt: \"%s\"\n\n"
	msgCaptionFree    = "💰 **Cost:** Free (Unlimited)\n"
	msgCaptionCost    = "💰 **Cost:** %d 🪙\n💎 **Balance left:** %d 🪙\n"
	msgButtonAgain    = "🎬 Make Another Video"
	msgButtonDownload = "📥 Download File"
)

const captionRule = "─────────────────"

var indonesian = map[string]string{
	msgInsufficient:   "❌ Gagal: Kredit tidak mencukupi saat giliran Anda tiba.",
	msgProcessing:     "🚀 **Permintaan Diproses!**\nSedang menghubungkan ke server...",
	msgSubmitFailed:   "❌ Gagal memproses permintaan: %s",
	msgFailed:         "❌ Gagal: %s",
	msgProgress:       "🎬 **Video sedang di-generate...**\n\n`[%s] %d%%`\nWaktu berjalan: %d detik",
	msgCooldown:       "⏳ **Cooldown Mode**\n\nAnda telah mencapai batas %d generate berturut-turut.\nIstirahat dulu ya! Silakan kembali dalam:\n⏳ **%d menit %d detik**",
	msgCompleted:      "✅ **Video Selesai!** (%ds)\nSedang memproses file akhir...",
	msgCaptionHeader:  "🎬 **Video Anda**\nModel: `%s`\nPrompt: \"%s\"\n\n",
	msgCaptionFree:    "💰 **Biaya:** Gratis (Unlimited)\n",
	msgCaptionCost:    "💰 **Biaya:** %d 🪙\n💎 **Sisa Saldo:** %d 🪙\n",
	msgButtonAgain:    "🎬 Buat Video Lagi",
	msgButtonDownload: "📥 Download File",
}

var messages = buildCatalog()

func buildCatalog() catalog.Catalog {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for key, text := range indonesian {
		if err := b.SetString(language.Indonesian, key, text); err != nil {
			panic(err)
		}
		if err := b.SetString(language.English, key, key); err != nil {
			panic(err)
		}
	}
	return b
}

// Texts renders user-facing notification texts in one locale.
type Texts struct {
	p *message.Printer
}

// NewTexts picks the locale by BCP 47 tag; unknown tags fall back to
// Indonesian.
func NewTexts(locale string) *Texts {
	tag, err := language.Parse(strings.TrimSpace(locale))
	if err != nil {
		tag = language.Indonesian
	}
	matcher := language.NewMatcher([]language.Tag{language.Indonesian, language.English})
	_, idx, _ := matcher.Match(tag)
	chosen := []language.Tag{language.Indonesian, language.English}[idx]
	return &Texts{p: message.NewPrinter(chosen, message.Catalog(messages))}
}

func (t *Texts) InsufficientCredits() string { return t.p.Sprintf(msgInsufficient) }

func (t *Texts) Processing() string { return t.p.Sprintf(msgProcessing) }

// SubmitFailed and Failed embed provider or store error text, which is
// escaped so the Markdown parse mode accepts it.
func (t *Texts) SubmitFailed(reason string) string {
	return t.p.Sprintf(msgSubmitFailed, escape(reason))
}

func (t *Texts) Failed(reason string) string { return t.p.Sprintf(msgFailed, escape(reason)) }

func (t *Texts) Completed(elapsedSeconds int) string {
	return t.p.Sprintf(msgCompleted, elapsedSeconds)
}

// Cooldown renders the refusal text for a throttled user.
func (t *Texts) Cooldown(limit, minutes, seconds int) string {
	return t.p.Sprintf(msgCooldown, limit, minutes, seconds)
}

// Progress renders the in-flight status with a 10-cell bar.
func (t *Texts) Progress(percent, elapsedSeconds int) string {
	return t.p.Sprintf(msgProgress, ProgressBar(percent), percent, elapsedSeconds)
}

// ProgressBar draws percent as ten cells.
func ProgressBar(percent int) string {
	filled := percent / 10
	if filled < 0 {
		filled = 0
	}
	if filled > 10 {
		filled = 10
	}
	return strings.Repeat("▓", filled) + strings.Repeat("░", 10-filled)
}

// CaptionData feeds the completed video caption.
type CaptionData struct {
	Model   string
	Prompt  string
	Free    bool
	Cost    int
	Balance int
}

// Caption renders the summary sent with a finished video.
func (t *Texts) Caption(d CaptionData) string {
	var sb strings.Builder
	sb.WriteString(t.p.Sprintf(msgCaptionHeader, d.Model, escape(truncate(d.Prompt, 50))))
	sb.WriteString(captionRule + "\n")
	if d.Free {
		sb.WriteString(t.p.Sprintf(msgCaptionFree))
	} else {
		sb.WriteString(t.p.Sprintf(msgCaptionCost, d.Cost, d.Balance))
	}
	sb.WriteString(captionRule)
	return sb.String()
}

func (t *Texts) buttonAgain() string { return t.p.Sprintf(msgButtonAgain) }

func (t *Texts) buttonDownload() string { return t.p.Sprintf(msgButtonDownload) }

// escape makes user or provider text literal under tgbotapi.ModeMarkdown.
func escape(s string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeMarkdown, s)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return fmt.Sprintf("%s...", string(r[:n]))
}
