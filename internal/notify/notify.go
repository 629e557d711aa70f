// Package notify delivers job progress to the requesting chat.
package notify

import (
	"context"

	"vidqueue/internal/infra"
)

// VideoMessage is the final delivery of a job.
type VideoMessage struct {
	URL     string
	Caption string
	JobID   string
}

// Notifier sends and edits chat messages. Send returns the id of the new
// message, 0 when the channel has none.
type Notifier interface {
	Send(ctx context.Context, chatID int64, text string) (int, error)
	Edit(ctx context.Context, chatID int64, messageID int, text string) error
	SendVideo(ctx context.Context, chatID int64, video VideoMessage) error
}

// LogNotifier writes notifications to the log. It is used when no bot token
// is configured.
type LogNotifier struct {
	logger *infra.Logger
}

func NewLogNotifier(logger *infra.Logger) *LogNotifier {
	if logger == nil {
		logger = infra.NopLogger()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Send(ctx context.Context, chatID int64, text string) (int, error) {
	n.logger.Info().Int64("chat_id", chatID).Str("text", text).Msg("notify: send")
	return 0, nil
}

func (n *LogNotifier) Edit(ctx context.Context, chatID int64, messageID int, text string) error {
	n.logger.Debug().Int64("chat_id", chatID).Int("message_id", messageID).Str("text", text).Msg("notify: edit")
	return nil
}

func (n *LogNotifier) SendVideo(ctx context.Context, chatID int64, video VideoMessage) error {
	n.logger.Info().Int64("chat_id", chatID).Str("job_id", video.JobID).Str("url", video.URL).Msg("notify: video")
	return nil
}
