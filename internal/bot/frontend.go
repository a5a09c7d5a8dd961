// Package bot turns chat events into session transitions and dispatched
// renders. The conversation logic is independent of the messaging
// platform; telegram.go adapts it to the Telegram Bot API.
package bot

import "context"

// FrontEnd is what the conversation needs from a messaging platform.
// Methods returning an int return the id of the message they created.
type FrontEnd interface {
	Reply(ctx context.Context, chatID int64, replyTo int, text string) (int, error)
	Send(ctx context.Context, chatID int64, text string) (int, error)
	SendChoice(ctx context.Context, chatID int64, text string, options []Option) (int, error)
	Edit(ctx context.Context, chatID int64, messageID int, text string, markdown bool) error
	AnswerChoice(ctx context.Context, callbackID, text string, alert bool) error
}

// Option is one inline button.
type Option struct {
	Label string
	Data  string
}

// MediaEvent is an incoming photo, video or media document.
type MediaEvent struct {
	ChatID    int64
	MessageID int
	FileID    string
	Kind      string // "image" or "video"
}

// TextEvent is a plain text message or a command.
type TextEvent struct {
	ChatID    int64
	MessageID int
	Text      string
	Command   string // without the leading slash; "" for plain text
}

// ChoiceEvent is a pressed inline button.
type ChoiceEvent struct {
	ChatID     int64
	MessageID  int
	CallbackID string
	Data       string
}

// Callback data for the fade prompt.
const (
	ChoiceFadeYes = "fade_yes"
	ChoiceFadeNo  = "fade_no"
)

// User-facing texts.
const (
	textStart          = "👋 Send me an image or a video, then the caption text, and I'll turn it into a captioned vertical video."
	textDownloading    = "⬇️ Media detected. Starting download..."
	textMediaReceived  = "✅ Media received! Now, please send the top caption text."
	textDownloadFailed = "❌ An error occurred while processing your media."
	textBusy           = "I'm currently busy. Please wait until the current process is finished."
	textNeedMedia      = "Please start by sending an image or a video."
	textChooseFade     = "Please choose whether you want a fade-in effect using the buttons above."
	textFadePrompt     = "Want a fade-in effect?"
	textExpiredAlert   = "This choice is no longer valid or has expired."
	textExpired        = "This choice has expired. Please start over by sending media."
	textQueued         = "⚙️ Your request is in the queue..."
	textProcessing     = "⚙️ Processing your video..."
	textUploading      = "⬆️ Uploading to our servers..."
	textDone           = "✅ Done! Your video will be sent by our other systems shortly."
	textCancelled      = "Cancelled. Send new media whenever you're ready."
	textNothingCancel  = "There is nothing to cancel."
	textSuggestOff     = "Caption suggestions are not enabled."
	textSuggestNoMedia = "Send an image or a video first, then ask for a suggestion."
	textSuggestFailed  = "❌ Could not come up with a caption right now. Please write your own."
	textDispatchFailed = "❌ Could not start your render. Please try again."
)
