// Package errs defines the failure taxonomy shared by the render pipeline,
// the queue consumer and the conversational front end.
package errs

import (
	"errors"
	"strings"
)

// Kind categorizes a failure by the pipeline stage that produced it.
type Kind string

const (
	KindDownload    Kind = "download"
	KindProbe       Kind = "probe"
	KindPlan        Kind = "plan"
	KindRender      Kind = "render"
	KindSubmission  Kind = "submission"
	KindQueueDecode Kind = "queue_decode"
	KindInternal    Kind = "internal"
)

// Error carries a Kind, the failing operation and an optional diagnostic
// (for render failures, the tail of the compositor's error stream).
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Detail  string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString("[")
	b.WriteString(string(e.Kind))
	b.WriteString("] ")
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same Kind.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// New creates an error with no underlying cause.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap wraps err with a kind and operation. A nil err returns nil.
func Wrap(kind Kind, op, message string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// WithDetail returns a render-style error carrying a diagnostic string.
func WithDetail(kind Kind, op, message, detail string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Detail: detail, Err: err}
}

// KindOf returns the Kind of the outermost *Error in err's chain,
// or KindInternal when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// DetailOf returns the diagnostic attached to err, if any.
func DetailOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Detail
	}
	return ""
}

// UserMessage renders err as a short message suitable for the chat.
func UserMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return "❌ Something went wrong. Please try again."
	}
	switch e.Kind {
	case KindDownload:
		return "❌ Could not download your media. Please send it again."
	case KindProbe:
		return "❌ Could not read your media. Is it a valid image or video?"
	case KindPlan:
		return "❌ Could not lay out your video: " + e.Message
	case KindRender:
		if e.Detail != "" {
			return "FFmpeg Error:\n`" + e.Detail + "`"
		}
		return "❌ Rendering failed."
	case KindSubmission:
		return "❌ Your video was rendered but could not be delivered."
	case KindQueueDecode:
		return "❌ The job was malformed and has been dropped."
	default:
		return "❌ Something went wrong. Please try again."
	}
}
