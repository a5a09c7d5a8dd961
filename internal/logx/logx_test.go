package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTailBufferKeepsLastBytes(t *testing.T) {
	tb := NewTailBuffer(5)
	_, _ = tb.Write([]byte("abc"))
	assert.Equal(t, "abc", tb.String())

	_, _ = tb.Write([]byte("defg"))
	assert.Equal(t, "cdefg", tb.String())

	_, _ = tb.Write([]byte("0123456789"))
	assert.Equal(t, "56789", tb.String())
}

func TestTailBufferStartsOnCharacterBoundary(t *testing.T) {
	tb := NewTailBuffer(1000)
	_, _ = tb.Write([]byte(strings.Repeat("title : Привет мир\n", 80)))
	_, _ = tb.Write([]byte("Error initializing filter 'overlay'\n"))

	got := tb.String()
	assert.True(t, utf8.ValidString(got))
	assert.LessOrEqual(t, len(got), 1000)
	assert.True(t, strings.HasSuffix(got, "Error initializing filter 'overlay'\n"))
	assert.False(t, strings.HasPrefix(got, "\uFFFD"))
}

func TestValidTail(t *testing.T) {
	assert.Equal(t, "ет", ValidTail("\xb2ет"))
	assert.Equal(t, "abc", ValidTail("abc"))
	assert.Equal(t, "a\uFFFDb", ValidTail("a\xffb"))
}

func TestLineWriterSplitsLines(t *testing.T) {
	var out bytes.Buffer
	logger := zerolog.New(&out)
	lw := NewLineWriter(logger, zerolog.InfoLevel)

	_, _ = lw.Write([]byte("frame=1\nfra"))
	_, _ = lw.Write([]byte("me=2\r\n\n"))
	_, _ = lw.Write([]byte("partial"))
	lw.Flush()

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)

	var msgs []string
	for _, l := range lines {
		var ev map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(l), &ev))
		msgs = append(msgs, ev["message"].(string))
	}
	assert.Equal(t, []string{"frame=1", "frame=2", "partial"}, msgs)
}

func TestSetupAddsServiceField(t *testing.T) {
	var out bytes.Buffer
	logger := setup(Config{Service: "worker", Level: "debug"}, &out)
	logger.Debug().Msg("hello")

	var ev map[string]interface{}
	require.NoError(t, json.Unmarshal(out.Bytes(), &ev))
	assert.Equal(t, "worker", ev["svc"])
	assert.Equal(t, "debug", ev["level"])
}

func TestFromCtx(t *testing.T) {
	var out bytes.Buffer
	base := zerolog.New(&out)
	ctx := WithJob(WithChat(context.Background(), 42), "job-1")

	l := FromCtx(ctx, base)
	l.Info().Msg("x")

	var ev map[string]interface{}
	require.NoError(t, json.Unmarshal(out.Bytes(), &ev))
	assert.Equal(t, float64(42), ev["chat_id"])
	assert.Equal(t, "job-1", ev["job_id"])
}
