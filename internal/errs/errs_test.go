package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(KindDownload, "op", "msg", nil))
}

func TestKindOfThroughFmtWrap(t *testing.T) {
	base := Wrap(KindProbe, "ffprobe", "no streams", errors.New("exit status 1"))
	wrapped := fmt.Errorf("pipeline: %w", base)

	assert.Equal(t, KindProbe, KindOf(wrapped))
	assert.True(t, IsKind(wrapped, KindProbe))
	assert.False(t, IsKind(wrapped, KindRender))
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
}

func TestErrorsIsMatchesKind(t *testing.T) {
	err := Wrap(KindSubmission, "submit", "status 502", errors.New("bad gateway"))
	assert.True(t, errors.Is(err, &Error{Kind: KindSubmission}))
	assert.False(t, errors.Is(err, &Error{Kind: KindRender}))
}

func TestErrorString(t *testing.T) {
	err := Wrap(KindRender, "ffmpeg.render", "compositor failed", errors.New("exit status 1"))
	assert.Equal(t, "ffmpeg.render: [render] compositor failed: exit status 1", err.Error())
}

func TestUserMessageRenderIncludesTail(t *testing.T) {
	err := WithDetail(KindRender, "ffmpeg.render", "compositor failed", "Invalid argument", nil)
	msg := UserMessage(err)
	assert.Contains(t, msg, "FFmpeg Error:")
	assert.Contains(t, msg, "Invalid argument")
	assert.Equal(t, "Invalid argument", DetailOf(fmt.Errorf("x: %w", err)))
}

func TestUserMessageUnknown(t *testing.T) {
	assert.Contains(t, UserMessage(errors.New("boom")), "Something went wrong")
}
