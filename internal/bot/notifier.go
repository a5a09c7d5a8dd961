package bot

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/bobarin/captionreel/internal/errs"
	"github.com/bobarin/captionreel/internal/pipeline"
)

// StatusNotifier reports pipeline progress by editing the chat's status
// message in place.
type StatusNotifier struct {
	front  FrontEnd
	logger zerolog.Logger
}

func NewStatusNotifier(front FrontEnd, logger zerolog.Logger) *StatusNotifier {
	return &StatusNotifier{
		front:  front,
		logger: logger.With().Str("component", "notifier").Logger(),
	}
}

func stageText(stage pipeline.Stage) string {
	switch stage {
	case pipeline.StageQueued:
		return textQueued
	case pipeline.StageProcessing:
		return textProcessing
	case pipeline.StageUploading:
		return textUploading
	case pipeline.StageDone:
		return textDone
	default:
		return ""
	}
}

func (n *StatusNotifier) Status(ctx context.Context, chatID int64, statusMessageID int, stage pipeline.Stage) {
	if text := stageText(stage); text != "" {
		n.show(ctx, chatID, statusMessageID, text, false)
	}
}

// Failed shows the short user message for err. Render failures carry the
// compositor's diagnostic tail in a code block.
func (n *StatusNotifier) Failed(ctx context.Context, chatID int64, statusMessageID int, err error) {
	markdown := errs.IsKind(err, errs.KindRender) && errs.DetailOf(err) != ""
	n.show(ctx, chatID, statusMessageID, errs.UserMessage(err), markdown)
}

func (n *StatusNotifier) show(ctx context.Context, chatID int64, messageID int, text string, markdown bool) {
	if messageID == 0 {
		if _, err := n.front.Send(ctx, chatID, text); err != nil {
			n.logger.Warn().Err(err).Int64("chat_id", chatID).Msg("failed to send status")
		}
		return
	}
	err := n.front.Edit(ctx, chatID, messageID, text, markdown)
	if err != nil && markdown {
		// Diagnostics can contain characters the markup parser rejects.
		err = n.front.Edit(ctx, chatID, messageID, text, false)
	}
	if err != nil {
		n.logger.Warn().Err(err).Int64("chat_id", chatID).Int("message_id", messageID).Msg("failed to update status")
	}
}
